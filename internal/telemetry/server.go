package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"reflect"
	"time"

	"github.com/rs/zerolog"
)

const defaultShutdownTimeout = 5 * time.Second

// Check reports whether one dependency is ready.
type Check func() bool

// NewHandler builds the /metrics and /healthz routes. Health is 200 only when
// every check passes.
func NewHandler(metrics *Metrics, checks map[string]Check) http.Handler {
	mux := http.NewServeMux()
	if metrics != nil {
		mux.Handle("/metrics", metrics.Handler())
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		status := http.StatusOK
		body := map[string]string{}
		for name, check := range checks {
			if check != nil && check() {
				body[name] = "ok"
				continue
			}
			body[name] = "unavailable"
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	})
	return mux
}

// Serve runs the telemetry server on port until ctx is cancelled.
func Serve(ctx context.Context, port int, handler http.Handler, logger zerolog.Logger) error {
	if reflect.ValueOf(logger).IsZero() {
		logger = zerolog.Nop()
	}
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErrCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("telemetry: serving metrics and health")
		serveErrCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-serveErrCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("telemetry: listen and serve: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("telemetry: shutdown: %w", err)
		}
		<-serveErrCh
		return nil
	}
}
