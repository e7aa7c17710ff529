package logging

import (
	"bytes"
	"os"
	"sync"
)

// RingBuffer keeps the most recent bytes written to it. It backs crash dumps,
// so Snapshot drops the partial record at the start of a wrapped buffer.
type RingBuffer struct {
	mu      sync.Mutex
	data    []byte
	next    int
	wrapped bool
}

// NewRingBuffer allocates a buffer of size bytes (1MB when size <= 0).
func NewRingBuffer(size int) *RingBuffer {
	if size <= 0 {
		size = 1 << 20
	}
	return &RingBuffer{data: make([]byte, size)}
}

// Write implements io.Writer and never fails.
func (rb *RingBuffer) Write(p []byte) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	n := len(p)
	if n >= len(rb.data) {
		copy(rb.data, p[n-len(rb.data):])
		rb.next = 0
		rb.wrapped = true
		return n, nil
	}
	for len(p) > 0 {
		c := copy(rb.data[rb.next:], p)
		p = p[c:]
		rb.next += c
		if rb.next == len(rb.data) {
			rb.next = 0
			rb.wrapped = true
		}
	}
	return n, nil
}

// Snapshot returns the buffered bytes oldest first.
func (rb *RingBuffer) Snapshot() []byte {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if !rb.wrapped {
		return append([]byte(nil), rb.data[:rb.next]...)
	}
	out := make([]byte, 0, len(rb.data))
	out = append(out, rb.data[rb.next:]...)
	out = append(out, rb.data[:rb.next]...)
	if i := bytes.IndexByte(out, '\n'); i >= 0 && i+1 < len(out) {
		out = out[i+1:]
	}
	return out
}

// DumpToFile writes Snapshot to path.
func (rb *RingBuffer) DumpToFile(path string) error {
	return os.WriteFile(path, rb.Snapshot(), 0o600)
}
