package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/imrenagi/webdropper/api/ingress"
	"github.com/rs/zerolog"
)

const htmlContentType = "text/html; charset=utf-8"

// Renderer writes the confirmation page around a summary message.
type Renderer interface {
	Render(w io.Writer, message string) error
}

type Options struct {
	SkipUnnamedParts bool
	// TooLarge answers requests whose body crossed the size limit mid-stream.
	TooLarge http.HandlerFunc
}

type Option func(*Options)

func WithSkipUnnamedParts(skip bool) Option {
	return func(o *Options) {
		o.SkipUnnamedParts = skip
	}
}

func WithTooLargeHandler(h http.HandlerFunc) Option {
	return func(o *Options) {
		o.TooLarge = h
	}
}

func NewController(s Storage, r Renderer, opts ...Option) Controller {
	o := Options{
		TooLarge: func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
		},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return Controller{
		pipeline: NewPipeline(s, o.SkipUnnamedParts),
		renderer: r,
		tooLarge: o.TooLarge,
	}
}

type Controller struct {
	pipeline *Pipeline
	renderer Renderer
	tooLarge http.HandlerFunc
}

// Upload stores every file of a multipart/form-data body and answers with
// the page showing what was stored.
func (c *Controller) Upload() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := zerolog.Ctx(r.Context())
		log.Debug().Str("content_type", r.Header.Get("Content-Type")).Msg("Request Content Type")

		mr, err := r.MultipartReader()
		if err != nil {
			log.Debug().Err(err).Msg("not a multipart request")
			writeError(w, http.StatusBadRequest, err)
			return
		}

		outcomes, err := c.pipeline.Run(r.Context(), mr)
		if err != nil {
			c.fail(w, r, err)
			return
		}

		var page bytes.Buffer
		if err := c.renderer.Render(&page, Summary(outcomes)); err != nil {
			log.Error().Err(err).Msg("failed to render upload summary")
			writeError(w, http.StatusInternalServerError, errors.New("failed to render page"))
			return
		}
		w.Header().Set("Content-Type", htmlContentType)
		w.WriteHeader(http.StatusOK)
		w.Write(page.Bytes())
	}
}

func (c *Controller) fail(w http.ResponseWriter, r *http.Request, err error) {
	log := zerolog.Ctx(r.Context())
	switch {
	case ingress.IsTooLarge(err):
		c.tooLarge(w, r)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		log.Warn().Err(err).Msg("upload canceled")
	case errors.Is(err, ErrMissingFilename):
		log.Error().Err(err).Msg("part without filename")
		writeError(w, http.StatusBadRequest, err)
	default:
		log.Error().Err(err).Msg("malformed multipart body")
		writeError(w, http.StatusBadRequest, errors.New("malformed multipart body"))
	}
}

type cError struct {
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, code int, err error) {
	b, _ := json.Marshal(cError{Message: err.Error()})
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	w.Write(b)
}
