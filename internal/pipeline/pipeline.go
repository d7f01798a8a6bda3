// Package pipeline orchestrates one collector request end to end: auth
// and channel resolution, session and ack bookkeeping, record building,
// syslog conversion, and blocking delivery to the downstream relay.
package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"hecrelay/internal/acks"
	"hecrelay/internal/hec"
	"hecrelay/internal/logging"
	"hecrelay/internal/relay"
	"hecrelay/internal/session"
	"hecrelay/internal/syslogfmt"
)

// DefaultChannel is the sentinel used when a request names no channel.
// Events on it are delivered but never ack-tracked, and the sentinel is
// not added to the session's channel set.
const DefaultChannel = "defaultchannel"

// Sender delivers one batch, blocking until fully verified downstream.
type Sender interface {
	Send(ctx context.Context, b *relay.Batch) error
}

// Config holds pipeline collaborators.
type Config struct {
	Acks     *acks.Tracker
	Sessions *session.Registry
	Relay    Sender
	Logger   *slog.Logger
}

// Pipeline wires the collector request flow together.
type Pipeline struct {
	builder  *hec.Builder
	acks     *acks.Tracker
	sessions *session.Registry
	relay    Sender
	logger   *slog.Logger
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	logger := logging.Default(cfg.Logger).With("component", "pipeline")
	return &Pipeline{
		builder:  hec.NewBuilder(logger),
		acks:     cfg.Acks,
		sessions: cfg.Sessions,
		relay:    cfg.Relay,
		logger:   logger,
	}
}

// Request is one ingest call's identity: who is sending, on which channel,
// and the forwarded-header metadata stamped onto every record.
type Request struct {
	Token   string
	Channel string
	Origin  hec.Origin
}

// Result reports a completed ingest. AckID is meaningful only when
// Tracked: default-channel requests carry no acknowledgement.
type Result struct {
	AckID   int
	Tracked bool
	Events  int
}

// Ingest processes one event batch: validates identity, allocates an ack
// id (tracked channels only), builds and converts the records, and blocks
// on delivery. On success the ack id is already acknowledged and ready
// for the client to poll.
func (p *Pipeline) Ingest(ctx context.Context, body io.Reader, req Request) (Result, error) {
	if req.Token == "" {
		return Result{}, FaultTokenMissing
	}

	channel := req.Channel
	tracked := channel != ""
	if !tracked {
		channel = DefaultChannel
	}

	sess := p.sessions.GetOrCreate(req.Token)
	if tracked {
		sess.AddChannel(channel)
	}

	var ackID int
	if tracked {
		p.acks.Register(req.Token, channel)
		id, err := p.acks.Allocate(req.Token, channel)
		if errors.Is(err, acks.ErrServerBusy) {
			return Result{}, FaultBusy
		}
		if err != nil {
			p.logger.Error("ack allocation failed", "error", err)
			return Result{}, FaultInternal
		}
		ackID = id
	}

	results := p.builder.Build(body, hec.Request{
		Token:   req.Token,
		Channel: channel,
		AckID:   ackID,
		Tracked: tracked,
		Origin:  req.Origin,
	})
	if len(results) == 0 {
		return Result{}, FaultNoData
	}

	batch := relay.NewBatch()
	for _, r := range results {
		if r.OK() {
			batch.Add(syslogfmt.Convert(r.Record))
			continue
		}
		switch {
		case errors.Is(r.Err, hec.ErrEventFieldMissing):
			return Result{}, FaultEventRequired
		case errors.Is(r.Err, hec.ErrEventFieldBlank):
			return Result{}, FaultEventBlank
		case errors.Is(r.Err, hec.ErrMalformed):
			// A syntax error truncates the batch. Records decoded before
			// it are kept; a batch with nothing decodable is rejected.
			if batch.Len() == 0 {
				return Result{}, FaultInvalidFormat
			}
		default:
			p.logger.Error("unexpected build fault", "error", r.Err)
			return Result{}, FaultInternal
		}
	}
	if batch.Len() == 0 {
		return Result{}, FaultNoData
	}

	if tracked {
		if err := p.acks.Record(req.Token, channel, ackID); err != nil {
			p.logger.Error("ack record failed", "error", err)
			return Result{}, FaultInternal
		}
	}

	if err := p.relay.Send(ctx, batch); err != nil {
		// Only cancellation or shutdown gets here; transport failures are
		// absorbed by the delivery retry loop.
		return Result{}, err
	}

	if tracked {
		if err := p.acks.Acknowledge(req.Token, channel, ackID); err != nil {
			p.logger.Error("acknowledge failed", "error", err)
			return Result{}, FaultInternal
		}
	}

	return Result{AckID: ackID, Tracked: tracked, Events: batch.Len()}, nil
}

// AckStatus answers an acknowledgement poll. The token must have an
// active session and the channel must have been used within it; ids never
// recorded (or already read once) report false.
func (p *Pipeline) AckStatus(token, channel string, ids []int) (map[int]bool, error) {
	if token == "" {
		return nil, FaultTokenMissing
	}
	if channel == "" {
		return nil, FaultChannelMissing
	}

	sess := p.sessions.Get(token)
	if sess == nil {
		return nil, FaultSessionNotFound
	}
	if !sess.HasChannel(channel) {
		return nil, FaultChannelNotFound
	}

	out := make(map[int]bool, len(ids))
	for _, id := range ids {
		done, err := p.acks.Status(token, channel, id)
		if errors.Is(err, acks.ErrUnknownChannel) {
			// The ack state was swept while the session survived. Every
			// id the client still asks about is simply not acknowledged.
			done = false
		} else if err != nil {
			return nil, FaultInternal
		}
		out[id] = done
	}
	return out, nil
}
