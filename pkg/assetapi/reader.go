package assetapi

import (
	"bytes"
	"hash"
	"io"
	"sync"
)

func newByteReader(b []byte) io.Reader {
	return bytes.NewReader(b)
}

// hashingReader incrementally updates hasher as bytes are read through
// it, guarded by mu so the chunk-copy goroutine and the finalizing read
// after the storage write returns can never race on the same hash.Hash
// (spec §5, §9's hasher-sharing rule).
type hashingReader struct {
	r      io.Reader
	hasher hash.Hash
	mu     *sync.Mutex
}

func (h *hashingReader) Read(p []byte) (int, error) {
	n, err := h.r.Read(p)
	if n > 0 {
		h.mu.Lock()
		h.hasher.Write(p[:n])
		h.mu.Unlock()
	}
	return n, err
}
