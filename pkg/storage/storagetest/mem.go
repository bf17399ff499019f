// Package storagetest provides an in-memory storage.Driver for handler
// and gateway tests that exercise the storage port contract without a
// live MinIO/Redis backend.
package storagetest

import (
	"bytes"
	"context"
	"io"
	"sync"
	"time"

	"github.com/NicoZweifel/aquila/pkg/storage"
	"github.com/NicoZweifel/aquila/pkg/storeerr"
)

type MemDriver struct {
	mu       sync.Mutex
	objects  map[string][]byte
	redirect map[string]string
}

func New() *MemDriver {
	return &MemDriver{objects: map[string][]byte{}, redirect: map[string]string{}}
}

func (d *MemDriver) Write(_ context.Context, path string, r io.Reader, _ int64) (storage.WriteOutcome, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, storeerr.Wrap(storeerr.Io, "read upload body", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.objects[path]; ok {
		return storage.Existed, nil
	}
	d.objects[path] = data
	return storage.Created, nil
}

func (d *MemDriver) Read(_ context.Context, path string) (io.ReadCloser, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.objects[path]
	if !ok {
		return nil, storeerr.New(storeerr.NotFound, "object not found: "+path)
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (d *MemDriver) Exists(_ context.Context, path string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.objects[path]
	return ok, nil
}

func (d *MemDriver) Delete(_ context.Context, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.objects, path)
	return nil
}

func (d *MemDriver) RedirectURL(_ context.Context, path string, _ time.Duration) (string, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	url, ok := d.redirect[path]
	return url, ok, nil
}

// SetRedirect configures path to report a redirect URL, simulating a
// driver with CDN-backed pre-signed downloads.
func (d *MemDriver) SetRedirect(path, url string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.redirect[path] = url
}
