// Package hec builds validated event records from collector request bodies.
//
// A request body is a concatenation of JSON objects (not an array): each
// object carries a required "event" and an optional "time". Records are
// built in order, with event-time carry-forward from the previous
// successfully built record in the same batch.
package hec

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/goccy/go-json"

	"hecrelay/internal/hectime"
	"hecrelay/internal/logging"
)

// Validation faults surfaced by the builder.
var (
	// ErrEventFieldMissing means an element had no "event" key.
	ErrEventFieldMissing = errors.New("event field is required")
	// ErrEventFieldBlank means the "event" value was empty or whitespace.
	ErrEventFieldBlank = errors.New("event field cannot be blank")
	// ErrMalformed means an element was not valid JSON. The remainder of
	// the body cannot be resynchronized past a syntax error.
	ErrMalformed = errors.New("invalid data format")
)

// Origin carries forwarded-header metadata attached to every record
// built from one request. Empty fields were not present on the request.
type Origin struct {
	ForwardedFor   string
	ForwardedHost  string
	ForwardedProto string
}

// Record is one validated event extracted from a collector request.
// Immutable once built.
type Record struct {
	Token   string
	Channel string
	AckID   int  // meaningful only when Tracked
	Tracked bool // false for the default channel: no ack bookkeeping
	Event   string
	Time    hectime.Resolved
	Origin  Origin
}

// BuildResult is either a record or the fault that prevented building one.
type BuildResult struct {
	Record Record
	Err    error
}

// OK reports whether the result holds a usable record.
func (r BuildResult) OK() bool { return r.Err == nil }

// Request holds the per-request values stamped onto every record.
type Request struct {
	Token   string
	Channel string
	AckID   int
	Tracked bool
	Origin  Origin
}

// Builder splits request bodies into event records.
type Builder struct {
	logger *slog.Logger
}

// NewBuilder creates a Builder.
func NewBuilder(logger *slog.Logger) *Builder {
	return &Builder{logger: logging.Default(logger).With("component", "builder")}
}

// envelope is the subset of an event element the gateway consumes.
// Other keys (sourcetype, host, fields, ...) pass through untouched
// inside the event text and are otherwise ignored.
type envelope struct {
	Event json.RawMessage `json:"event"`
	Time  json.RawMessage `json:"time"`
}

// Build reads concatenated JSON objects from body and returns one result
// per element. A syntax error ends the batch: records decoded before the
// error are kept, the error itself is the final result.
func (b *Builder) Build(body io.Reader, req Request) []BuildResult {
	dec := json.NewDecoder(body)
	dec.UseNumber()

	var results []BuildResult
	var prev *hectime.Resolved

	for {
		var env envelope
		err := dec.Decode(&env)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			b.logger.Warn("malformed event element, dropping remainder of batch", "error", err)
			results = append(results, BuildResult{Err: fmt.Errorf("%w: %v", ErrMalformed, err)})
			break
		}

		rec, err := b.buildOne(env, req, prev)
		if err != nil {
			results = append(results, BuildResult{Err: err})
			continue
		}

		resolved := rec.Time
		prev = &resolved
		results = append(results, BuildResult{Record: rec})
	}

	return results
}

// buildOne validates a single element and resolves its time.
func (b *Builder) buildOne(env envelope, req Request, prev *hectime.Resolved) (Record, error) {
	event, err := eventText(env.Event)
	if err != nil {
		return Record{}, err
	}

	return Record{
		Token:   req.Token,
		Channel: req.Channel,
		AckID:   req.AckID,
		Tracked: req.Tracked,
		Event:   event,
		Time:    hectime.Resolve(timeLiteral(env.Time), prev),
		Origin:  req.Origin,
	}, nil
}

// eventText extracts the event message. Strings must be non-blank; any
// other non-empty JSON value is carried as its serialized form.
func eventText(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", ErrEventFieldMissing
	}

	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", fmt.Errorf("%w: %v", ErrMalformed, err)
		}
		if strings.TrimSpace(s) == "" {
			return "", ErrEventFieldBlank
		}
		return s, nil
	}

	text := strings.TrimSpace(string(raw))
	switch text {
	case "null", "{}", "[]":
		return "", ErrEventFieldBlank
	}
	return text, nil
}

// timeLiteral returns the literal text of the time value: number tokens
// verbatim, string contents unquoted, everything else passed through for
// the resolver to reject as textual.
func timeLiteral(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return string(raw)
		}
		return s
	}
	return string(raw)
}
