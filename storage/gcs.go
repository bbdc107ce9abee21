package storage

import (
	"context"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
)

// Staged writers stay open until the request ends, so keep their upload
// buffers small. Must be a multiple of 256 KiB.
const gcsChunkSize = 1 << 20

type objectWriterFactory interface {
	NewWriter(ctx context.Context, object string) io.WriteCloser
	Name() string
}

type bucketHandle struct {
	b *gcs.BucketHandle
}

func (h bucketHandle) NewWriter(ctx context.Context, object string) io.WriteCloser {
	w := h.b.Object(object).NewWriter(ctx)
	w.ChunkSize = gcsChunkSize
	return w
}

func (h bucketHandle) Name() string {
	return h.b.BucketName()
}

// GCSStore writes each file as an object in a Google Cloud Storage bucket.
// The object is only finalised when its writer is closed, so a staged file
// is an open writer and Discard cancels it.
type GCSStore struct {
	client *gcs.Client
	bucket objectWriterFactory
	prefix string
}

// NewGCSStore uses application default credentials.
func NewGCSStore(ctx context.Context, bucket, prefix string) (*GCSStore, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	s := newGCSStore(bucketHandle{b: client.Bucket(bucket)}, prefix)
	s.client = client
	return s, nil
}

func newGCSStore(bucket objectWriterFactory, prefix string) *GCSStore {
	return &GCSStore{
		bucket: bucket,
		prefix: prefix,
	}
}

func (s *GCSStore) Stage(ctx context.Context, name string, r io.Reader) (Staged, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	// canceling the writer's context before Close discards the object
	ctx, cancel := context.WithCancel(ctx)

	obj := &gcsObject{
		uri:    fmt.Sprintf("gs://%s/%s", s.bucket.Name(), objectName(s.prefix, name)),
		cancel: cancel,
	}
	obj.w = s.bucket.NewWriter(ctx, objectName(s.prefix, name))
	n, err := io.Copy(obj.w, r)
	if err != nil {
		obj.Discard(ctx)
		return nil, fmt.Errorf("write %s: %w", obj.uri, err)
	}
	obj.size = n
	return obj, nil
}

func (s *GCSStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}

type gcsObject struct {
	uri    string
	w      io.WriteCloser
	cancel context.CancelFunc
	size   int64
}

func (o *gcsObject) Size() int64 {
	return o.size
}

func (o *gcsObject) Commit(context.Context) error {
	defer o.cancel()
	if err := o.w.Close(); err != nil {
		return fmt.Errorf("finalize %s: %w", o.uri, err)
	}
	return nil
}

func (o *gcsObject) Discard(context.Context) error {
	o.cancel()
	// the writer reports the cancellation; the object is not created
	o.w.Close()
	return nil
}
