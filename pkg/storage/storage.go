// Package storage defines the content-addressed storage port (C1) and
// its S3/MinIO-backed implementation.
package storage

import (
	"context"
	"io"
	"time"
)

// WriteOutcome distinguishes "I created it" from "it already existed" so
// that callers never need to treat dedup as an exceptional control path
// (spec §9 open question (c)).
type WriteOutcome int

const (
	Created WriteOutcome = iota
	Existed
)

// Driver abstracts blob and manifest I/O. A single implementation backs
// both: manifests are just blobs at well-known paths (manifests/<version>).
type Driver interface {
	// Write streams r to path, reporting whether a new object was
	// created or an identical one already existed at that path. sizeHint
	// may be -1 when the size is unknown ahead of time. Write is
	// idempotent per path: writing identical bytes to an existing path
	// is a no-op that reports Existed.
	Write(ctx context.Context, path string, r io.Reader, sizeHint int64) (WriteOutcome, error)

	// Read opens a reader for path. Returns a storeerr NotFound if
	// nothing is stored there.
	Read(ctx context.Context, path string) (io.ReadCloser, error)

	// Exists reports whether path has an object, without opening it.
	Exists(ctx context.Context, path string) (bool, error)

	// Delete removes the object at path. Deleting a missing path is not
	// an error.
	Delete(ctx context.Context, path string) error

	// RedirectURL returns a pre-signed URL a client can be redirected to
	// for GET access to path, or ok=false if this driver has no such
	// capability (e.g. a local filesystem driver).
	RedirectURL(ctx context.Context, path string, expiry time.Duration) (url string, ok bool, err error)
}

// BlobPath returns the canonical storage path for a content-addressed
// blob, per spec §6's persistent layout.
func BlobPath(hexSHA256 string) string {
	return hexSHA256
}

// ManifestPath returns the canonical storage path for a manifest version.
func ManifestPath(version string) string {
	return "manifests/" + version
}

// ManifestLatestPath is the alias path written when a publish sets
// latest=true.
const ManifestLatestPath = "manifests/latest"
