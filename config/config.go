package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

const (
	DefaultBind      = "127.0.0.1:3000"
	DefaultBodyLimit = int64(250 << 20) // 250MiB
	DefaultLogLevel  = "info"

	DefaultReadTimeout  = 10 * time.Minute
	DefaultWriteTimeout = time.Minute
)

type Backend string

const (
	DiskBackend Backend = "disk"
	GCSBackend  Backend = "gcs"
	S3Backend   Backend = "s3"
)

// Storage selects where uploaded files end up.
type Storage struct {
	Backend Backend
	// Dir is the target directory for the disk backend.
	Dir    string
	Bucket string
	Prefix string
}

// Config is built once at startup and passed by value afterwards.
type Config struct {
	Bind      string
	BodyLimit int64
	LogLevel  string
	Storage   Storage

	// SkipUnnamedParts skips parts without a filename instead of failing the request.
	SkipUnnamedParts bool
	OTLPEndpoint     string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

func Default() Config {
	return Config{
		Bind:         DefaultBind,
		BodyLimit:    DefaultBodyLimit,
		LogLevel:     DefaultLogLevel,
		Storage:      Storage{Backend: DiskBackend},
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
	}
}

var (
	ErrNoTargetDir   = errors.New("target dir is required")
	ErrNotADirectory = errors.New("not a directory")
	ErrNoBucket      = errors.New("bucket is required")
)

// Validate checks the configuration and resolves the target dir to an
// absolute path.
func (c Config) Validate() (Config, error) {
	if c.Bind == "" {
		return c, errors.New("bind address is required")
	}
	if c.BodyLimit <= 0 {
		return c, fmt.Errorf("body limit must be positive, got %d", c.BodyLimit)
	}

	switch c.Storage.Backend {
	case DiskBackend:
		if c.Storage.Dir == "" {
			return c, ErrNoTargetDir
		}
		dir, err := filepath.Abs(c.Storage.Dir)
		if err != nil {
			return c, fmt.Errorf("resolve target dir: %w", err)
		}
		info, err := os.Stat(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return c, fmt.Errorf("target dir %q does not exist", dir)
			}
			return c, fmt.Errorf("stat target dir: %w", err)
		}
		if !info.IsDir() {
			return c, fmt.Errorf("path %q: %w", dir, ErrNotADirectory)
		}
		c.Storage.Dir = dir
	case GCSBackend, S3Backend:
		if c.Storage.Bucket == "" {
			return c, fmt.Errorf("%s backend: %w", c.Storage.Backend, ErrNoBucket)
		}
	default:
		return c, fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	return c, nil
}
