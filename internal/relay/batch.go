package relay

// frame is one syslog message queued for delivery.
type frame struct {
	payload  []byte
	verified bool
}

// Batch collects syslog messages for one transactional send. A batch is
// built once, then handed to Conn.Send, which retries its unverified
// frames until the whole batch verifies.
type Batch struct {
	frames []frame
}

// NewBatch creates an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Add appends a message to the batch.
func (b *Batch) Add(msg []byte) {
	b.frames = append(b.frames, frame{payload: msg})
}

// Len returns the number of messages in the batch.
func (b *Batch) Len() int {
	return len(b.frames)
}

// Verified reports whether every frame has been accepted downstream.
func (b *Batch) Verified() bool {
	for i := range b.frames {
		if !b.frames[i].verified {
			return false
		}
	}
	return true
}

// unverified returns pointers to the frames still awaiting acceptance.
func (b *Batch) unverified() []*frame {
	var out []*frame
	for i := range b.frames {
		if !b.frames[i].verified {
			out = append(out, &b.frames[i])
		}
	}
	return out
}
