package ingress

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("github.com/imrenagi/webdropper/api/ingress")

const (
	reasonDeclared = "declared_length"
	reasonStreamed = "streamed_length"
)

// Gate rejects request bodies larger than a fixed number of bytes.
type Gate struct {
	limit    int64
	rejected metric.Int64Counter
}

func New(limit int64) Gate {
	rejected, err := meter.Int64Counter("webdropper.ingress.rejected",
		metric.WithDescription("Requests rejected because the body exceeded the size limit"))
	if err != nil {
		otel.Handle(err)
	}
	return Gate{
		limit:    limit,
		rejected: rejected,
	}
}

func (g Gate) Limit() int64 {
	return g.limit
}

// Middleware answers 413 without calling next when the declared
// Content-Length is over the limit. Otherwise the body is wrapped so that
// reading past the limit fails with *http.MaxBytesError, which covers
// chunked bodies and clients that under-declare their length.
func (g Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ContentLength > g.limit {
			zerolog.Ctx(r.Context()).Warn().
				Int64("content_length", r.ContentLength).
				Int64("limit", g.limit).
				Msg("request body too large")
			g.reject(w, r, reasonDeclared)
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, g.limit)
		next.ServeHTTP(w, r)
	})
}

func (g Gate) reject(w http.ResponseWriter, r *http.Request, reason string) {
	if g.rejected != nil {
		g.rejected.Add(r.Context(), 1, metric.WithAttributes(attribute.String("reason", reason)))
	}
	w.Header().Set("Connection", "close")
	http.Error(w, "payload too large", http.StatusRequestEntityTooLarge)
}

// RejectStreamed writes the payload too large response. Handlers call it
// when a read through the gate fails with IsTooLarge.
func (g Gate) RejectStreamed(w http.ResponseWriter, r *http.Request) {
	zerolog.Ctx(r.Context()).Warn().
		Int64("limit", g.limit).
		Msg("request body exceeded the limit while streaming")
	g.reject(w, r, reasonStreamed)
}

// IsTooLarge reports whether err came from reading past the limit.
func IsTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
