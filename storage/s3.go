package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const stagingPrefix = ".upload-"

type s3Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

type s3ObjectAPI interface {
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Store streams each file into an S3 bucket with the multipart upload
// manager, so bodies of unknown length are never buffered in full. Parts
// of a failed upload are aborted by the manager.
//
// Files are staged under a hidden key next to their final one and copied
// into place on Commit.
type S3Store struct {
	uploader s3Uploader
	objects  s3ObjectAPI
	bucket   string
	prefix   string
}

// NewS3Store loads region and credentials from the default AWS config chain.
func NewS3Store(ctx context.Context, bucket, prefix string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return newS3Store(manager.NewUploader(client), client, bucket, prefix), nil
}

func newS3Store(u s3Uploader, objects s3ObjectAPI, bucket, prefix string) *S3Store {
	return &S3Store{
		uploader: u,
		objects:  objects,
		bucket:   bucket,
		prefix:   prefix,
	}
}

func (s *S3Store) Stage(ctx context.Context, name string, r io.Reader) (Staged, error) {
	if !ValidName(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}

	obj := &s3Object{
		store:      s,
		key:        objectName(s.prefix, name),
		stagingKey: objectName(s.prefix, stagingPrefix+uuid.NewString()),
	}
	body := &countingReader{r: r}
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(obj.stagingKey),
		Body:   body,
	})
	if err != nil {
		return nil, fmt.Errorf("upload s3://%s/%s: %w", s.bucket, obj.key, err)
	}
	obj.size = body.n
	return obj, nil
}

type s3Object struct {
	store      *S3Store
	key        string
	stagingKey string
	size       int64
}

func (o *s3Object) Size() int64 {
	return o.size
}

func (o *s3Object) Commit(ctx context.Context) error {
	_, err := o.store.objects.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(o.store.bucket),
		Key:        aws.String(o.key),
		CopySource: aws.String(copySource(o.store.bucket, o.stagingKey)),
	})
	if err != nil {
		o.Discard(ctx)
		return fmt.Errorf("copy s3://%s/%s: %w", o.store.bucket, o.key, err)
	}
	// the file is in place; a leftover staging key is only logged
	if err := o.Discard(ctx); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("key", o.stagingKey).Msg("failed to remove staged object")
	}
	return nil
}

func (o *s3Object) Discard(ctx context.Context) error {
	_, err := o.store.objects.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(o.store.bucket),
		Key:    aws.String(o.stagingKey),
	})
	if err != nil {
		return fmt.Errorf("delete s3://%s/%s: %w", o.store.bucket, o.stagingKey, err)
	}
	return nil
}

// copySource is the URL-encoded "bucket/key" form CopyObject expects.
func copySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return bucket + "/" + strings.Join(segments, "/")
}
