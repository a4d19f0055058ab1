package chat

// Ring holds the most recent messages of a room, oldest first.
// It is not safe for concurrent use; Room guards it.
type Ring struct {
	buf   []*ChatMessage
	start int
	size  int
}

func NewRing(capacity int) *Ring {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring{buf: make([]*ChatMessage, capacity)}
}

func (r *Ring) Cap() int { return len(r.buf) }

func (r *Ring) Len() int { return r.size }

// Push appends msg and returns the evicted message, if any.
func (r *Ring) Push(msg *ChatMessage) *ChatMessage {
	if r.size < len(r.buf) {
		r.buf[(r.start+r.size)%len(r.buf)] = msg
		r.size++
		return nil
	}
	evicted := r.buf[r.start]
	r.buf[r.start] = msg
	r.start = (r.start + 1) % len(r.buf)
	return evicted
}

// Remove deletes the message with id and reports whether it was present.
func (r *Ring) Remove(id string) bool {
	for i := 0; i < r.size; i++ {
		if r.buf[(r.start+i)%len(r.buf)].ID != id {
			continue
		}
		for j := i; j < r.size-1; j++ {
			r.buf[(r.start+j)%len(r.buf)] = r.buf[(r.start+j+1)%len(r.buf)]
		}
		r.buf[(r.start+r.size-1)%len(r.buf)] = nil
		r.size--
		return true
	}
	return false
}

// Snapshot returns the held messages oldest first.
func (r *Ring) Snapshot() []*ChatMessage {
	out := make([]*ChatMessage, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.buf[(r.start+i)%len(r.buf)]
	}
	return out
}
