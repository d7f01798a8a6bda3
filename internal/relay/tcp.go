package relay

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"net"
	"strconv"
	"time"

	"hecrelay/internal/logging"
)

const tcpIOTimeout = 30 * time.Second

// TCPTransport streams syslog messages over plain TCP or TLS using
// octet-counted framing (RFC 6587): "MSG-LEN SP MSG". The stream has no
// per-frame acknowledgements, so a frame counts as verified once it has
// been written and flushed; a connection-level failure still forces a
// reconnect-and-retry of the unverified remainder.
type TCPTransport struct {
	addr        string
	tlsConfig   *tls.Config // nil means plaintext
	dialTimeout time.Duration
	logger      *slog.Logger

	conn   net.Conn
	writer *bufio.Writer
}

// NewTCP creates a streaming transport. A non-nil tlsConfig enables TLS.
func NewTCP(addr string, tlsConfig *tls.Config, logger *slog.Logger) *TCPTransport {
	return &TCPTransport{
		addr:        addr,
		tlsConfig:   tlsConfig,
		dialTimeout: 10 * time.Second,
		logger:      logging.Default(logger).With("component", "relay", "transport", "tcp"),
	}
}

// Connect dials the relay, wrapping the stream in TLS when configured.
func (t *TCPTransport) Connect(ctx context.Context) error {
	d := net.Dialer{Timeout: t.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return err
	}

	if t.tlsConfig != nil {
		tlsConn := tls.Client(conn, t.tlsConfig)
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return err
		}
		conn = tlsConn
	}

	t.conn = conn
	t.writer = bufio.NewWriter(conn)
	t.logger.Debug("stream open", "addr", t.addr, "tls", t.tlsConfig != nil)
	return nil
}

// Commit writes every unverified frame and flushes the stream.
func (t *TCPTransport) Commit(ctx context.Context, b *Batch) error {
	if t.conn == nil {
		return errors.New("tcp transport not connected")
	}

	for _, f := range b.unverified() {
		if err := ctx.Err(); err != nil {
			return err
		}

		_ = t.conn.SetWriteDeadline(time.Now().Add(tcpIOTimeout))

		var hdr []byte
		hdr = strconv.AppendInt(hdr, int64(len(f.payload)), 10)
		hdr = append(hdr, ' ')
		if _, err := t.writer.Write(hdr); err != nil {
			return err
		}
		if _, err := t.writer.Write(f.payload); err != nil {
			return err
		}
		if err := t.writer.Flush(); err != nil {
			return err
		}
		f.verified = true
	}

	return nil
}

// Close tears down the stream. Idempotent.
func (t *TCPTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	t.writer = nil
	return err
}
