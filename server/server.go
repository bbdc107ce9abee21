package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/imrenagi/webdropper/api/ingress"
	"github.com/imrenagi/webdropper/api/upload"
	"github.com/imrenagi/webdropper/config"
	"github.com/imrenagi/webdropper/web"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const serviceName = "webdropper"

func New(cfg config.Config, store upload.Storage) Server {
	s := Server{
		cfg:   cfg,
		store: store,
	}
	return s
}

type Server struct {
	cfg   config.Config
	store upload.Storage
}

// Run serves until ctx is done and then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	log.Info().
		Str("bind", s.cfg.Bind).
		Str("backend", string(s.cfg.Storage.Backend)).
		Str("target_dir", s.cfg.Storage.Dir).
		Str("bucket", s.cfg.Storage.Bucket).
		Int64("body_limit", s.cfg.BodyLimit).
		Msg("starting server")

	telemetryShutdownFn, err := initTelemetry(ctx, serviceName, s.cfg.OTLPEndpoint)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    s.cfg.Bind,
		Handler: s.newHTTPHandler(),
		// ReadTimeout is the maximum duration for reading the entire request, including the body.
		// It bounds how long a single upload may take.
		ReadTimeout: s.cfg.ReadTimeout,
		// WriteTimeout is the maximum duration before timing out writes of the response.
		// It starts once the request headers are read, so it has to cover the body too.
		WriteTimeout: s.cfg.ReadTimeout + s.cfg.WriteTimeout,
		// ReadHeaderTimeout is necessary here to prevent slowloris attacks.
		// https://www.cloudflare.com/learning/ddos/ddos-attack-tools/slowloris/
		ReadHeaderTimeout: 5 * time.Second,
		// IdleTimeout is the maximum amount of time to wait for the next request when keep-alives are enabled.
		IdleTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("Starting http server on %s", s.cfg.Bind)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("listen on %s: %w", s.cfg.Bind, err)
		}
		close(errCh)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}

	gracefulShutdownPeriod := 30 * time.Second
	log.Warn().Msg("shutting down http server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), gracefulShutdownPeriod)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to shutdown http server gracefully")
	}
	log.Warn().Msg("http server gracefully stopped")

	if err := telemetryShutdownFn(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("failed to shutdown telemetry providers")
	}
	return runErr
}

func (s *Server) newHTTPHandler() http.Handler {
	page := web.NewPage()
	gate := ingress.New(s.cfg.BodyLimit)
	uploadController := upload.NewController(s.store, page,
		upload.WithSkipUnnamedParts(s.cfg.SkipUnnamedParts),
		upload.WithTooLargeHandler(gate.RejectStreamed))

	mux := mux.NewRouter()
	mux.Use(
		otelhttp.NewMiddleware("webdropper"),
		LogInterceptor)
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/", otelhttp.WithRouteTag("/", web.Index(page))).Methods(http.MethodGet)
	mux.Handle("/", otelhttp.WithRouteTag("/", gate.Middleware(uploadController.Upload()))).Methods(http.MethodPost)
	mux.Handle("/scripts.js", otelhttp.WithRouteTag("/scripts.js", web.Scripts())).Methods(http.MethodGet)

	return mux
}
