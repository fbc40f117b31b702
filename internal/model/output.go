package model

import (
	"bytes"
	"sync"
)

// OutputBuffer is a thread-safe buffer for capturing command output
// incrementally. The executing command writes while API readers and the
// history store take snapshots, so every access is serialized.
type OutputBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

// Write implements the io.Writer interface.
func (b *OutputBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Write(p)
}

// String returns a copy of the output captured so far.
func (b *OutputBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.String()
}

// Len returns the number of bytes captured so far.
func (b *OutputBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.b.Len()
}
