package transport

import (
	"bytes"
	"io"
	"sync"
)

// Sink receives playable media bytes. Ready fires once enough data is
// attached for playback to begin; Fail fires on terminal errors (an
// integrity mismatch among them) so the caller can offer a retry.
type Sink interface {
	io.Writer
	Ready(totalSize int64)
	Fail(err error)
}

// BufferSink is an in-memory Sink for callers that just want the whole
// payload, and for tests.
type BufferSink struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	ready bool
	size  int64
	err   error
}

func (b *BufferSink) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *BufferSink) Ready(totalSize int64) {
	b.mu.Lock()
	b.ready = true
	b.size = totalSize
	b.mu.Unlock()
}

func (b *BufferSink) Fail(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

// Bytes returns everything written so far.
func (b *BufferSink) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.buf.Bytes()...)
}

// IsReady reports whether playback was signaled.
func (b *BufferSink) IsReady() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ready
}

// Err returns the failure signaled to the sink, if any.
func (b *BufferSink) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}
