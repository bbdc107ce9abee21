package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

const copyBufferSize = 32 << 10

// DiskStore writes files directly into a single directory. Each file is
// first written to a hidden temp file next to its destination and renamed
// into place on Commit, so readers never observe a partial file.
//
// Concurrent writes of the same name are not coordinated; the last rename
// wins.
type DiskStore struct {
	dir string
}

func NewDiskStore(dir string) (*DiskStore, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("stat storage dir: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage dir %q is not a directory", dir)
	}
	return &DiskStore{dir: dir}, nil
}

func (s *DiskStore) Dir() string {
	return s.dir
}

func (s *DiskStore) Stage(ctx context.Context, name string, r io.Reader) (Staged, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	staged := false
	defer func() {
		if !staged {
			os.Remove(tmpName)
		}
	}()

	buf := make([]byte, copyBufferSize)
	n, err := io.CopyBuffer(tmp, ctxReader{ctx: ctx, r: r}, buf)
	if err != nil {
		tmp.Close()
		return nil, fmt.Errorf("write %q: %w", name, err)
	}
	if err := tmp.Close(); err != nil {
		return nil, fmt.Errorf("close %q: %w", name, err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return nil, fmt.Errorf("chmod %q: %w", name, err)
	}
	staged = true
	return &diskFile{
		tmp:  tmpName,
		dst:  filepath.Join(s.dir, name),
		size: n,
	}, nil
}

// diskFile is a complete temp file waiting to be renamed over dst.
type diskFile struct {
	tmp  string
	dst  string
	size int64
}

func (f *diskFile) Size() int64 {
	return f.size
}

func (f *diskFile) Commit(context.Context) error {
	if err := os.Rename(f.tmp, f.dst); err != nil {
		os.Remove(f.tmp)
		return fmt.Errorf("rename %q: %w", filepath.Base(f.dst), err)
	}
	return nil
}

func (f *diskFile) Discard(context.Context) error {
	if err := os.Remove(f.tmp); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %q: %w", f.tmp, err)
	}
	return nil
}

// ctxReader stops a copy once ctx is done.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
