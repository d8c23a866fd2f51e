package process

import (
	"bytes"
	"sync"
	"unicode/utf8"
)

// DefaultOutputLimitBytes caps each captured stream.
const DefaultOutputLimitBytes = 1 << 20

// OutputBuffer captures a stream up to a byte limit. Writes beyond the limit
// are accepted and discarded so the child never blocks on a full pipe.
type OutputBuffer struct {
	mu        sync.Mutex
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func NewOutputBuffer(limit int) *OutputBuffer {
	if limit <= 0 {
		limit = DefaultOutputLimitBytes
	}
	return &OutputBuffer{limit: limit}
}

func (b *OutputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	remaining := b.limit - b.buf.Len()
	if remaining <= 0 || b.truncated {
		if len(p) > 0 {
			b.truncated = true
		}
		return len(p), nil
	}
	if len(p) > remaining {
		b.buf.Write(p[:runeBoundary(p, remaining)])
		b.truncated = true
		return len(p), nil
	}
	b.buf.Write(p)
	return len(p), nil
}

// runeBoundary moves cut back to the start of the UTF-8 sequence it would
// split. Bytes that are not valid UTF-8 are cut as is.
func runeBoundary(p []byte, cut int) int {
	if cut <= 0 || cut >= len(p) || utf8.RuneStart(p[cut]) {
		return cut
	}
	start := cut - 1
	for start > 0 && cut-start < utf8.UTFMax && !utf8.RuneStart(p[start]) {
		start--
	}
	if r, size := utf8.DecodeRune(p[start:]); r != utf8.RuneError && start+size > cut {
		return start
	}
	return cut
}

func (b *OutputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *OutputBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}

// Truncated reports whether any bytes were discarded
func (b *OutputBuffer) Truncated() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.truncated
}
