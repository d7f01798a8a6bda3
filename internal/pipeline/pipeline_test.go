package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"hecrelay/internal/acks"
	"hecrelay/internal/logging"
	"hecrelay/internal/relay"
	"hecrelay/internal/session"
)

// captureSender records delivered batches instead of hitting a network.
type captureSender struct {
	mu      sync.Mutex
	batches []*relay.Batch
	err     error
}

func (c *captureSender) Send(ctx context.Context, b *relay.Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.batches = append(c.batches, b)
	return nil
}

func (c *captureSender) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.batches)
}

func newTestPipeline(t *testing.T) (*Pipeline, *captureSender) {
	t.Helper()
	sender := &captureSender{}
	p := New(Config{
		Acks: acks.New(acks.Config{
			MaxAckValue: 100,
			MaxAckAge:   time.Minute,
			Logger:      logging.Discard(),
		}),
		Sessions: session.NewRegistry(session.Config{
			MaxSessionAge: time.Minute,
			Logger:        logging.Discard(),
		}),
		Relay:  sender,
		Logger: logging.Discard(),
	})
	return p, sender
}

func ingest(t *testing.T, p *Pipeline, body string, req Request) (Result, error) {
	t.Helper()
	return p.Ingest(context.Background(), strings.NewReader(body), req)
}

func TestIngestTrackedChannel(t *testing.T) {
	p, sender := newTestPipeline(t)

	res, err := ingest(t, p, `{"event":"hello"}`, Request{Token: "tok", Channel: "CHANNEL_1"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !res.Tracked || res.AckID != 0 {
		t.Errorf("result = %+v, want tracked ackID 0", res)
	}

	// Second batch on the same channel gets the next id.
	res, err = ingest(t, p, `{"event":"again"}`, Request{Token: "tok", Channel: "CHANNEL_1"})
	if err != nil {
		t.Fatalf("second Ingest: %v", err)
	}
	if res.AckID != 1 {
		t.Errorf("second ackID = %d, want 1", res.AckID)
	}

	if sender.count() != 2 {
		t.Errorf("delivered batches = %d, want 2", sender.count())
	}

	// Delivery completed, so the ids poll as acknowledged.
	status, err := p.AckStatus("tok", "CHANNEL_1", []int{0, 1, 2})
	if err != nil {
		t.Fatalf("AckStatus: %v", err)
	}
	if !status[0] || !status[1] || status[2] {
		t.Errorf("status = %v, want 0,1 true and 2 false", status)
	}
}

func TestIngestDefaultChannel(t *testing.T) {
	p, sender := newTestPipeline(t)

	res, err := ingest(t, p, `{"event":"hello"}`, Request{Token: "tok"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Tracked {
		t.Error("default-channel ingest reported tracked")
	}
	if sender.count() != 1 {
		t.Errorf("delivered batches = %d, want 1", sender.count())
	}

	// The sentinel never joins the session's channel set.
	if _, err := p.AckStatus("tok", DefaultChannel, []int{0}); !errors.Is(err, FaultChannelNotFound) {
		t.Errorf("AckStatus on sentinel err = %v, want FaultChannelNotFound", err)
	}
}

func TestIngestMultiEventBatch(t *testing.T) {
	p, sender := newTestPipeline(t)

	body := `{"event":"one","time":1433188255253}{"event":"two"}{"event":"three"}`
	res, err := ingest(t, p, body, Request{Token: "tok", Channel: "c"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Events != 3 {
		t.Errorf("events = %d, want 3", res.Events)
	}
	if sender.count() != 1 {
		t.Errorf("batches = %d, want one batch for the whole request", sender.count())
	}
}

func TestIngestFaults(t *testing.T) {
	tests := []struct {
		name string
		body string
		req  Request
		want *Fault
	}{
		{"missing token", `{"event":"x"}`, Request{Channel: "c"}, FaultTokenMissing},
		{"empty body", ``, Request{Token: "tok", Channel: "c"}, FaultNoData},
		{"missing event", `{"time":123}`, Request{Token: "tok", Channel: "c"}, FaultEventRequired},
		{"blank event", `{"event":"   "}`, Request{Token: "tok", Channel: "c"}, FaultEventBlank},
		{"null event", `{"event":null}`, Request{Token: "tok", Channel: "c"}, FaultEventBlank},
		{"garbage body", `not json at all`, Request{Token: "tok", Channel: "c"}, FaultInvalidFormat},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, sender := newTestPipeline(t)
			_, err := ingest(t, p, tt.body, tt.req)
			if !errors.Is(err, tt.want) {
				t.Errorf("Ingest err = %v, want %v", err, tt.want)
			}
			if sender.count() != 0 {
				t.Error("faulted request still delivered a batch")
			}
		})
	}
}

func TestIngestKeepsPrefixBeforeSyntaxError(t *testing.T) {
	p, sender := newTestPipeline(t)

	body := `{"event":"good"}{"event": broken`
	res, err := ingest(t, p, body, Request{Token: "tok", Channel: "c"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Events != 1 {
		t.Errorf("events = %d, want the one decodable record", res.Events)
	}
	if sender.count() != 1 {
		t.Errorf("batches = %d, want 1", sender.count())
	}
}

func TestIngestServerBusy(t *testing.T) {
	sender := &captureSender{}
	p := New(Config{
		Acks: acks.New(acks.Config{
			MaxAckValue: 0, // id space {0}: one pending ack fills it
			MaxAckAge:   time.Minute,
			Logger:      logging.Discard(),
		}),
		Sessions: session.NewRegistry(session.Config{
			MaxSessionAge: time.Minute,
			Logger:        logging.Discard(),
		}),
		Relay:  sender,
		Logger: logging.Discard(),
	})

	// Fill the pending set: deliver but leave the ack unread, then
	// occupy the remaining capacity by hand.
	if _, err := ingest(t, p, `{"event":"x"}`, Request{Token: "tok", Channel: "c"}); err != nil {
		t.Fatalf("first Ingest: %v", err)
	}

	// The first ack is acknowledged but unread, so pending size is 1 > 0.
	_, err := ingest(t, p, `{"event":"y"}`, Request{Token: "tok", Channel: "c"})
	if !errors.Is(err, FaultBusy) {
		t.Fatalf("Ingest err = %v, want FaultBusy", err)
	}
}

func TestIngestSendFailureSurfaces(t *testing.T) {
	p, sender := newTestPipeline(t)
	sender.err = context.Canceled

	_, err := ingest(t, p, `{"event":"x"}`, Request{Token: "tok", Channel: "c"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Ingest err = %v, want context.Canceled", err)
	}
}

func TestAckStatusGating(t *testing.T) {
	p, _ := newTestPipeline(t)

	if _, err := p.AckStatus("", "c", nil); !errors.Is(err, FaultTokenMissing) {
		t.Errorf("missing token err = %v", err)
	}
	if _, err := p.AckStatus("tok", "", nil); !errors.Is(err, FaultChannelMissing) {
		t.Errorf("missing channel err = %v", err)
	}
	if _, err := p.AckStatus("tok", "c", nil); !errors.Is(err, FaultSessionNotFound) {
		t.Errorf("unknown token err = %v", err)
	}

	if _, err := ingest(t, p, `{"event":"x"}`, Request{Token: "tok", Channel: "used"}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if _, err := p.AckStatus("tok", "never-used", nil); !errors.Is(err, FaultChannelNotFound) {
		t.Errorf("unused channel err = %v", err)
	}
}

func TestAckStatusReadOnce(t *testing.T) {
	p, _ := newTestPipeline(t)

	if _, err := ingest(t, p, `{"event":"x"}`, Request{Token: "tok", Channel: "c"}); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	status, err := p.AckStatus("tok", "c", []int{0})
	if err != nil {
		t.Fatalf("AckStatus: %v", err)
	}
	if !status[0] {
		t.Fatal("first poll reported unacknowledged")
	}

	status, err = p.AckStatus("tok", "c", []int{0})
	if err != nil {
		t.Fatalf("second AckStatus: %v", err)
	}
	if status[0] {
		t.Error("second poll reported acknowledged; status reads are one-shot")
	}
}
