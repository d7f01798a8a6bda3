// Package relay delivers syslog batches to the downstream log relay.
//
// Delivery is at-least-once and never gives up: a failed or partially
// verified commit tears the link down, reconnects after a flat interval,
// and recommits the unverified frames, looping until the whole batch
// verifies or the context is cancelled. Callers therefore block for as
// long as the downstream is unreachable. That is the intended operational
// property of the gateway, not a bug: an accepted batch is never dropped.
package relay

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"hecrelay/internal/logging"
)

// ErrClosed is returned by Send after Close.
var ErrClosed = errors.New("relay connection closed")

// Transport is the wire protocol under a delivery connection.
type Transport interface {
	// Connect establishes the downstream link.
	Connect(ctx context.Context) error

	// Commit attempts delivery of the batch's unverified frames, marking
	// each frame verified once the downstream accepted it. A nil return
	// with unverified frames left means the downstream rejected them.
	Commit(ctx context.Context, b *Batch) error

	// Close tears down the link. Idempotent.
	Close() error
}

// Config holds delivery connection configuration.
type Config struct {
	// Transport is the downstream wire protocol.
	Transport Transport

	// ReconnectWait is the flat interval between reconnect attempts.
	ReconnectWait time.Duration

	// Logger for structured logging.
	Logger *slog.Logger
}

// Conn is the single shared delivery connection. All public methods are
// mutually exclusive: one in-flight batch process-wide, which bounds
// downstream concurrency to 1 and keeps the transport free of
// interleaved-frame hazards.
type Conn struct {
	transport     Transport
	reconnectWait time.Duration
	logger        *slog.Logger

	mu        sync.Mutex
	connected bool
	closed    bool
}

// New creates a delivery connection. The transport link is established
// lazily on the first Send.
func New(cfg Config) *Conn {
	wait := cfg.ReconnectWait
	if wait <= 0 {
		wait = 500 * time.Millisecond
	}
	return &Conn{
		transport:     cfg.Transport,
		reconnectWait: wait,
		logger:        logging.Default(cfg.Logger).With("component", "relay"),
	}
}

// Send delivers the batch, blocking until every frame is verified by the
// downstream or ctx is cancelled. Transport failures are absorbed by the
// reconnect/retry loop and never surface to the caller as errors.
func (c *Conn) Send(ctx context.Context, b *Batch) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if b.Len() == 0 {
		return nil
	}

	for {
		if c.closed {
			return ErrClosed
		}
		if !c.connected {
			if err := c.connectLocked(ctx); err != nil {
				return err
			}
		}

		err := c.transport.Commit(ctx, b)
		if err == nil && b.Verified() {
			return nil
		}

		remaining := len(b.unverified())
		if err != nil {
			c.logger.Warn("commit failed, reconnecting",
				"error", err, "unverified", remaining)
		} else {
			c.logger.Warn("batch partially verified, retrying",
				"unverified", remaining)
		}

		_ = c.transport.Close()
		c.connected = false

		if err := sleep(ctx, c.reconnectWait); err != nil {
			return err
		}
	}
}

// connectLocked retries the transport connect until it succeeds or ctx is
// cancelled. The interval is flat: no backoff growth, no giving up.
func (c *Conn) connectLocked(ctx context.Context) error {
	for {
		err := c.transport.Connect(ctx)
		if err == nil {
			c.connected = true
			c.logger.Info("connected to relay")
			return nil
		}

		c.logger.Warn("relay connect failed, retrying",
			"error", err, "wait", c.reconnectWait)

		if err := sleep(ctx, c.reconnectWait); err != nil {
			return err
		}
	}
}

// Close tears down the transport link. Idempotent. Blocks until any
// in-flight Send has returned.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	c.connected = false
	return c.transport.Close()
}

// sleep waits for d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
