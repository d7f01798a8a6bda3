package relay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"hecrelay/internal/logging"
)

// RELP frames: "TXNR SP COMMAND SP DATALEN [SP DATA] LF".
// Each syslog frame is answered by an "rsp" frame whose data starts with a
// numeric status; 200 means the relay committed the message.
const relpOffer = "relp_version=0\nrelp_software=hecrelay\ncommands=syslog"

const relpIOTimeout = 30 * time.Second

// RELPTransport speaks the RELP client side: open handshake, one syslog
// frame per message, per-frame commit verification.
type RELPTransport struct {
	addr        string
	dialTimeout time.Duration
	logger      *slog.Logger

	conn   net.Conn
	reader *bufio.Reader
	txnr   uint64
}

// NewRELP creates a RELP transport for the given downstream address.
func NewRELP(addr string, logger *slog.Logger) *RELPTransport {
	return &RELPTransport{
		addr:        addr,
		dialTimeout: 10 * time.Second,
		logger:      logging.Default(logger).With("component", "relay", "transport", "relp"),
	}
}

// Connect dials the relay and performs the RELP open handshake.
func (t *RELPTransport) Connect(ctx context.Context) error {
	d := net.Dialer{Timeout: t.dialTimeout}
	conn, err := d.DialContext(ctx, "tcp", t.addr)
	if err != nil {
		return err
	}

	t.conn = conn
	t.reader = bufio.NewReader(conn)
	t.txnr = 1

	if err := t.writeFrame(t.txnr, "open", []byte(relpOffer)); err != nil {
		t.Close()
		return fmt.Errorf("relp open: %w", err)
	}

	txnr, cmd, data, err := t.readResponse()
	if err != nil {
		t.Close()
		return fmt.Errorf("relp open response: %w", err)
	}
	if txnr != 1 || cmd != "rsp" || !statusOK(data) {
		t.Close()
		return fmt.Errorf("relp open rejected: txnr=%d cmd=%s data=%q", txnr, cmd, data)
	}

	t.logger.Debug("relp session open", "addr", t.addr)
	return nil
}

// Commit submits every unverified frame as a syslog command and matches
// the relay's responses back by transaction number. Frames answered 200
// are marked verified; anything else is left for the caller to retry.
func (t *RELPTransport) Commit(ctx context.Context, b *Batch) error {
	if t.conn == nil {
		return errors.New("relp transport not connected")
	}

	pending := b.unverified()
	if len(pending) == 0 {
		return nil
	}

	inFlight := make(map[uint64]*frame, len(pending))
	for _, f := range pending {
		t.txnr++
		if err := t.writeFrame(t.txnr, "syslog", f.payload); err != nil {
			return fmt.Errorf("relp submit: %w", err)
		}
		inFlight[t.txnr] = f
	}

	for range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		txnr, cmd, data, err := t.readResponse()
		if err != nil {
			return fmt.Errorf("relp verify: %w", err)
		}
		f, ok := inFlight[txnr]
		if !ok || cmd != "rsp" {
			return fmt.Errorf("relp verify: unexpected frame txnr=%d cmd=%s", txnr, cmd)
		}
		if statusOK(data) {
			f.verified = true
		}
	}

	return nil
}

// Close sends a best-effort close frame and tears down the link. Idempotent.
func (t *RELPTransport) Close() error {
	if t.conn == nil {
		return nil
	}
	t.txnr++
	_ = t.writeFrame(t.txnr, "close", nil)
	err := t.conn.Close()
	t.conn = nil
	t.reader = nil
	return err
}

// writeFrame emits one RELP frame with a write deadline.
func (t *RELPTransport) writeFrame(txnr uint64, command string, data []byte) error {
	_ = t.conn.SetWriteDeadline(time.Now().Add(relpIOTimeout))

	var buf []byte
	buf = strconv.AppendUint(buf, txnr, 10)
	buf = append(buf, ' ')
	buf = append(buf, command...)
	buf = append(buf, ' ')
	buf = strconv.AppendInt(buf, int64(len(data)), 10)
	if len(data) > 0 {
		buf = append(buf, ' ')
		buf = append(buf, data...)
	}
	buf = append(buf, '\n')

	_, err := t.conn.Write(buf)
	return err
}

// readResponse parses one response frame. DATA may contain newlines, so it
// is read by DATALEN rather than by line.
func (t *RELPTransport) readResponse() (txnr uint64, command string, data string, err error) {
	_ = t.conn.SetReadDeadline(time.Now().Add(relpIOTimeout))

	txnrStr, err := t.readToken()
	if err != nil {
		return 0, "", "", fmt.Errorf("read txnr: %w", err)
	}
	txnr, err = strconv.ParseUint(txnrStr, 10, 64)
	if err != nil {
		return 0, "", "", fmt.Errorf("invalid txnr %q: %w", txnrStr, err)
	}

	command, err = t.readToken()
	if err != nil {
		return 0, "", "", fmt.Errorf("read command: %w", err)
	}

	datalenStr, err := t.readToken()
	if err != nil {
		return 0, "", "", fmt.Errorf("read datalen: %w", err)
	}
	datalen, err := strconv.Atoi(datalenStr)
	if err != nil || datalen < 0 {
		return 0, "", "", fmt.Errorf("invalid datalen %q", datalenStr)
	}

	if datalen > 0 {
		buf := make([]byte, datalen)
		n := 0
		for n < datalen {
			nn, err := t.reader.Read(buf[n:])
			if err != nil {
				return 0, "", "", fmt.Errorf("read data: %w", err)
			}
			n += nn
		}
		data = string(buf)
	}

	// Consume the trailing LF if present.
	if b, err := t.reader.ReadByte(); err == nil && b != '\n' {
		_ = t.reader.UnreadByte()
	}

	return txnr, command, data, nil
}

// readToken reads a space-delimited token. A newline also terminates a
// token, covering zero-data frames like "2 rsp 0\n".
func (t *RELPTransport) readToken() (string, error) {
	var token []byte
	for {
		b, err := t.reader.ReadByte()
		if err != nil {
			return string(token), err
		}
		if b == ' ' {
			return string(token), nil
		}
		if b == '\n' {
			_ = t.reader.UnreadByte()
			return string(token), nil
		}
		token = append(token, b)
	}
}

// statusOK reports whether a response's data carries RELP status 200.
func statusOK(data string) bool {
	return len(data) >= 3 && data[:3] == "200"
}
