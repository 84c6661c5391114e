package watch

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	ferrors "git.home.luguber.info/inful/imbed/internal/foundation/errors"
)

// ServeMetrics serves h at /metrics on addr until ctx is done.
func ServeMetrics(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", h)
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("Serving metrics", slog.String("addr", addr))

	select {
	case err := <-errCh:
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "metrics server failed").
			WithContext("addr", addr).
			Build()
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return ferrors.WrapError(err, ferrors.CategoryNetwork, "metrics server shutdown failed").Build()
	}
	return nil
}
