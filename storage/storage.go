package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/imrenagi/webdropper/config"
)

// ErrInvalidName is returned for names that cannot be stored as a single
// entry directly under the target.
var ErrInvalidName = errors.New("storage: invalid file name")

// Staged is content that has been written to a backend but is not visible
// under its name yet. Exactly one of Commit or Discard must be called.
// Neither leaves anything behind when it fails.
type Staged interface {
	Size() int64
	Commit(ctx context.Context) error
	Discard(ctx context.Context) error
}

// Store stages the content of r for name. A failed Stage must not leave a
// partial entry behind.
type Store interface {
	Stage(ctx context.Context, name string, r io.Reader) (Staged, error)
}

// Open returns the backend selected by cfg.
func Open(ctx context.Context, cfg config.Storage) (Store, error) {
	switch cfg.Backend {
	case config.DiskBackend, "":
		return NewDiskStore(cfg.Dir)
	case config.GCSBackend:
		return NewGCSStore(ctx, cfg.Bucket, cfg.Prefix)
	case config.S3Backend:
		return NewS3Store(ctx, cfg.Bucket, cfg.Prefix)
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
}

// ValidName reports whether name can be used verbatim as a single file name.
func ValidName(name string) bool {
	if strings.TrimSpace(name) == "" || name == "." || name == ".." {
		return false
	}
	return !strings.ContainsAny(name, "/\\\x00")
}

func objectName(prefix, name string) string {
	return prefix + name
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
