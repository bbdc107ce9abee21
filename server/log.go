package server

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func InitializeLogger(lvl string) error {
	level, err := zerolog.ParseLevel(lvl)
	if err != nil {
		return fmt.Errorf("unable to parse log level %q: %w", lvl, err)
	}
	zerolog.SetGlobalLevel(level)

	stdOut := zerolog.ConsoleWriter{Out: os.Stdout}

	writers := []io.Writer{stdOut}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	multi := zerolog.MultiLevelWriter(writers...)
	log.Logger = zerolog.New(multi).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &log.Logger

	return nil
}

// LogInterceptor puts a logger tagged with a fresh request id into the
// request context and logs the outcome of every request with it.
func LogInterceptor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {

		log := log.With().Str("request_id", uuid.New().String()).Logger()

		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remote", r.RemoteAddr).
			Int64("content_length", r.ContentLength).
			Msg("request started")

		m := httpsnoop.CaptureMetrics(next, w, r.WithContext(log.WithContext(r.Context())))

		log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", m.Code).
			Int64("response_size", m.Written).
			Dur("latency", m.Duration).
			Msg("request finished")
	})
}
