package relay

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeTransport scripts connect and commit outcomes for Conn tests.
type fakeTransport struct {
	mu          sync.Mutex
	connectErrs int // fail this many connects before succeeding
	commitPlan  []func(b *Batch) error
	connects    int
	commits     int
	closes      int
}

func (f *fakeTransport) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	if f.connectErrs > 0 {
		f.connectErrs--
		return errors.New("connection refused")
	}
	return nil
}

func (f *fakeTransport) Commit(ctx context.Context, b *Batch) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits++
	if len(f.commitPlan) == 0 {
		// Default: verify everything.
		for _, fr := range b.unverified() {
			fr.verified = true
		}
		return nil
	}
	plan := f.commitPlan[0]
	f.commitPlan = f.commitPlan[1:]
	return plan(b)
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	return nil
}

func (f *fakeTransport) counts() (connects, commits, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connects, f.commits, f.closes
}

func newBatch(msgs ...string) *Batch {
	b := NewBatch()
	for _, m := range msgs {
		b.Add([]byte(m))
	}
	return b
}

func TestSendVerifiesAll(t *testing.T) {
	ft := &fakeTransport{}
	c := New(Config{Transport: ft, ReconnectWait: time.Millisecond})

	b := newBatch("one", "two", "three")
	if err := c.Send(context.Background(), b); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !b.Verified() {
		t.Error("batch not fully verified")
	}
	if connects, commits, _ := ft.counts(); connects != 1 || commits != 1 {
		t.Errorf("connects=%d commits=%d, want 1/1", connects, commits)
	}
}

func TestSendRetriesUnverifiedFrames(t *testing.T) {
	ft := &fakeTransport{
		commitPlan: []func(b *Batch) error{
			func(b *Batch) error {
				// Downstream accepts only the first frame.
				b.unverified()[0].verified = true
				return nil
			},
			func(b *Batch) error {
				for _, fr := range b.unverified() {
					fr.verified = true
				}
				return nil
			},
		},
	}
	c := New(Config{Transport: ft, ReconnectWait: time.Millisecond})

	b := newBatch("one", "two", "three")
	if err := c.Send(context.Background(), b); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !b.Verified() {
		t.Error("batch not fully verified after retry")
	}

	connects, commits, closes := ft.counts()
	if commits != 2 {
		t.Errorf("commits = %d, want 2", commits)
	}
	// Partial verification must tear the link down before retrying.
	if closes < 1 || connects != 2 {
		t.Errorf("connects=%d closes=%d, want reconnect between commits", connects, closes)
	}
}

func TestSendRetriesCommitError(t *testing.T) {
	ft := &fakeTransport{
		commitPlan: []func(b *Batch) error{
			func(b *Batch) error { return errors.New("broken pipe") },
		},
	}
	c := New(Config{Transport: ft, ReconnectWait: time.Millisecond})

	b := newBatch("one")
	if err := c.Send(context.Background(), b); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, commits, _ := ft.counts(); commits != 2 {
		t.Errorf("commits = %d, want 2", commits)
	}
}

func TestConnectRetriesUntilSuccess(t *testing.T) {
	ft := &fakeTransport{connectErrs: 2}
	c := New(Config{Transport: ft, ReconnectWait: time.Millisecond})

	if err := c.Send(context.Background(), newBatch("one")); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if connects, _, _ := ft.counts(); connects != 3 {
		t.Errorf("connects = %d, want 3", connects)
	}
}

func TestSendContextCancelled(t *testing.T) {
	ft := &fakeTransport{connectErrs: 1 << 30} // never connects
	c := New(Config{Transport: ft, ReconnectWait: 5 * time.Millisecond})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := c.Send(ctx, newBatch("one"))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Send err = %v, want deadline exceeded", err)
	}
}

func TestEmptyBatchIsNoop(t *testing.T) {
	ft := &fakeTransport{}
	c := New(Config{Transport: ft, ReconnectWait: time.Millisecond})

	if err := c.Send(context.Background(), NewBatch()); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if connects, commits, _ := ft.counts(); connects != 0 || commits != 0 {
		t.Errorf("empty batch touched the transport: connects=%d commits=%d", connects, commits)
	}
}

func TestCloseIdempotent(t *testing.T) {
	ft := &fakeTransport{}
	c := New(Config{Transport: ft, ReconnectWait: time.Millisecond})

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, _, closes := ft.counts(); closes != 1 {
		t.Errorf("transport closes = %d, want 1", closes)
	}

	if err := c.Send(context.Background(), newBatch("one")); !errors.Is(err, ErrClosed) {
		t.Errorf("Send after Close err = %v, want ErrClosed", err)
	}
}
