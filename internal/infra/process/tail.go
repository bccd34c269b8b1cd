package process

import "sync"

// TailBuffer keeps the last Limit bytes written to it. It is safe for
// concurrent use; exec copies stderr from its own goroutine.
type TailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
	total int64
}

// NewTailBuffer creates a buffer retaining at most limit bytes.
func NewTailBuffer(limit int) *TailBuffer {
	return &TailBuffer{limit: limit}
}

// Write appends p, discarding the oldest bytes beyond the limit.
func (b *TailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.total += int64(len(p))
	if b.limit <= 0 {
		return len(p), nil
	}

	if len(p) >= b.limit {
		b.buf = append(b.buf[:0], p[len(p)-b.limit:]...)
		return len(p), nil
	}

	b.buf = append(b.buf, p...)
	if over := len(b.buf) - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	return len(p), nil
}

// WriteLine appends line and a newline.
func (b *TailBuffer) WriteLine(line string) {
	_, _ = b.Write([]byte(line + "\n"))
}

// String returns the retained bytes.
func (b *TailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(b.buf)
}

// Total returns the number of bytes ever written.
func (b *TailBuffer) Total() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}
