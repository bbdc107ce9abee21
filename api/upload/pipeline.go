package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"

	"github.com/imrenagi/webdropper/storage"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	meter  = otel.Meter("github.com/imrenagi/webdropper/api/upload")
	tracer = otel.Tracer("github.com/imrenagi/webdropper/api/upload")
)

var (
	ErrMissingFilename = errors.New("upload: part has no filename")
	ErrInvalidFilename = errors.New("upload: invalid filename")
)

const (
	failureMissingName = "missing_name"
	failureInvalidName = "invalid_name"
	failureStorage     = "storage"
)

// Storage stages the content of one part under a file name. Nothing staged
// is visible until the whole body has been read and the part is committed.
type Storage interface {
	Stage(ctx context.Context, name string, r io.Reader) (storage.Staged, error)
}

// Outcome is one stored part.
type Outcome struct {
	Filename string
	Size     int64
}

type pipelineMetrics struct {
	files    metric.Int64Counter
	bytes    metric.Int64Counter
	failures metric.Int64Counter
}

func newPipelineMetrics() pipelineMetrics {
	var m pipelineMetrics
	var err error
	if m.files, err = meter.Int64Counter("webdropper.upload.files",
		metric.WithDescription("Uploaded files written to storage")); err != nil {
		otel.Handle(err)
	}
	if m.bytes, err = meter.Int64Counter("webdropper.upload.bytes",
		metric.WithDescription("Bytes written to storage"),
		metric.WithUnit("By")); err != nil {
		otel.Handle(err)
	}
	if m.failures, err = meter.Int64Counter("webdropper.upload.failures",
		metric.WithDescription("Parts that could not be stored")); err != nil {
		otel.Handle(err)
	}
	return m
}

// Pipeline stores every part of a multipart body, one after the other.
type Pipeline struct {
	store       Storage
	skipUnnamed bool
	metrics     pipelineMetrics
}

func NewPipeline(s Storage, skipUnnamed bool) *Pipeline {
	return &Pipeline{
		store:       s,
		skipUnnamed: skipUnnamed,
		metrics:     newPipelineMetrics(),
	}
}

// Run consumes mr until the closing boundary and only then commits the
// staged parts, in submission order. Parts that fail to stage or commit are
// logged and left out of the result. The returned error is non-nil when the
// body itself could not be read, a part has no filename and unnamed parts
// are not skipped, or ctx is done; every staged part is discarded then, so
// the request leaves storage untouched.
func (p *Pipeline) Run(ctx context.Context, mr *multipart.Reader) ([]Outcome, error) {
	log := zerolog.Ctx(ctx)
	var staged []stagedPart
	for {
		if err := ctx.Err(); err != nil {
			p.discard(ctx, staged)
			return nil, err
		}

		part, err := mr.NextPart()
		// a bare io.EOF is the closing boundary; a wrapped one is a truncated body
		if err == io.EOF {
			return p.commit(ctx, staged), nil
		}
		if err != nil {
			p.discard(ctx, staged)
			return nil, fmt.Errorf("read next part: %w", err)
		}

		sp, err := p.stagePart(ctx, part)
		part.Close()
		var partErr *partError
		switch {
		case err == nil:
			staged = append(staged, sp)
		case errors.As(err, &partErr):
			log.Error().Err(partErr.err).Str("file_name", partErr.name).Msg("failed to store file")
		case errors.Is(err, ErrMissingFilename) && p.skipUnnamed:
			log.Warn().Str("form_name", part.FormName()).Msg("skipping part without filename")
		default:
			p.discard(ctx, staged)
			return nil, err
		}
	}
}

type stagedPart struct {
	name   string
	staged storage.Staged
}

func (p *Pipeline) commit(ctx context.Context, staged []stagedPart) []Outcome {
	ctx, span := tracer.Start(ctx, "upload.commit", trace.WithAttributes(attribute.Int("file.count", len(staged))))
	defer span.End()

	log := zerolog.Ctx(ctx)
	outcomes := []Outcome{}
	for _, sp := range staged {
		if err := sp.staged.Commit(ctx); err != nil {
			span.RecordError(err)
			p.fail(ctx, failureStorage)
			log.Error().Err(err).Str("file_name", sp.name).Msg("failed to store file")
			continue
		}
		n := sp.staged.Size()
		p.metrics.files.Add(ctx, 1)
		p.metrics.bytes.Add(ctx, n)
		log.Info().
			Str("file_name", sp.name).
			Int64("written_size", n).
			Msg("File Uploaded")
		outcomes = append(outcomes, Outcome{Filename: sp.name, Size: n})
	}
	return outcomes
}

// discard drops staged parts of a failed request. It runs after the
// request may have been canceled, so it does not inherit cancellation.
func (p *Pipeline) discard(ctx context.Context, staged []stagedPart) {
	if len(staged) == 0 {
		return
	}
	log := zerolog.Ctx(ctx)
	ctx = context.WithoutCancel(ctx)
	for _, sp := range staged {
		if err := sp.staged.Discard(ctx); err != nil {
			log.Error().Err(err).Str("file_name", sp.name).Msg("failed to discard staged file")
		}
	}
	log.Warn().Int("discarded_files", len(staged)).Msg("request failed, staged files discarded")
}

// partError is a failure confined to a single part.
type partError struct {
	name string
	err  error
}

func (e *partError) Error() string {
	return fmt.Sprintf("store %q: %v", e.name, e.err)
}

func (e *partError) Unwrap() error {
	return e.err
}

func (p *Pipeline) stagePart(ctx context.Context, part *multipart.Part) (stagedPart, error) {
	name, ok := rawFilename(part)
	if !ok {
		p.fail(ctx, failureMissingName)
		return stagedPart{}, fmt.Errorf("%w (form field %q)", ErrMissingFilename, part.FormName())
	}
	if !storage.ValidName(name) {
		p.fail(ctx, failureInvalidName)
		return stagedPart{}, &partError{name: name, err: ErrInvalidFilename}
	}

	ctx, span := tracer.Start(ctx, "upload.store", trace.WithAttributes(attribute.String("file.name", name)))
	defer span.End()

	src := &sourceReader{r: part}
	staged, err := p.store.Stage(ctx, name, src)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "store failed")
		if src.err != nil {
			return stagedPart{}, fmt.Errorf("read part %q: %w", name, src.err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return stagedPart{}, ctxErr
		}
		p.fail(ctx, failureStorage)
		return stagedPart{}, &partError{name: name, err: err}
	}

	span.SetAttributes(attribute.Int64("file.size", staged.Size()))
	zerolog.Ctx(ctx).Debug().
		Str("file_name", name).
		Int64("written_size", staged.Size()).
		Msg("file staged")
	return stagedPart{name: name, staged: staged}, nil
}

func (p *Pipeline) fail(ctx context.Context, reason string) {
	p.metrics.failures.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// rawFilename returns the filename parameter as sent by the client.
// multipart.Part.FileName reduces it to its base name, which would hide
// names that try to leave the target directory.
func rawFilename(part *multipart.Part) (string, bool) {
	_, params, err := mime.ParseMediaType(part.Header.Get("Content-Disposition"))
	if err != nil {
		return "", false
	}
	name := params["filename"]
	return name, name != ""
}

// sourceReader remembers the first error from the request body so that a
// failed store can be told apart from a failed read.
type sourceReader struct {
	r   io.Reader
	err error
}

func (s *sourceReader) Read(b []byte) (int, error) {
	n, err := s.r.Read(b)
	if err != nil && err != io.EOF && s.err == nil {
		s.err = err
	}
	return n, err
}
