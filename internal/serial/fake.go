package serial

import (
	"bytes"
	"sync"
)

// FakeLink is an in-memory Link for tests: writes go to Written,
// reads are served from a preloaded buffer via Feed.
type FakeLink struct {
	mu      sync.Mutex
	in      bytes.Buffer
	Written bytes.Buffer
	closed  bool
}

// NewFakeLink creates an empty FakeLink.
func NewFakeLink() *FakeLink {
	return &FakeLink{}
}

// Feed appends bytes that a subsequent Read will return.
func (f *FakeLink) Feed(b []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.in.Write(b)
}

func (f *FakeLink) Read(buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.in.Len() == 0 {
		return 0, nil
	}
	return f.in.Read(buf)
}

func (f *FakeLink) Write(buf []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Written.Write(buf)
}

func (f *FakeLink) Clear() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.in.Reset()
	return nil
}

func (f *FakeLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
