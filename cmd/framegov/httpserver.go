package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

// ============================================================================
// Telemetry HTTP Server
// ============================================================================
// Serves the telemetry websocket (/ws), Prometheus metrics (/metrics) and a
// liveness probe (/healthz).
// ============================================================================

// newTelemetryMux wires the HTTP endpoints.
func newTelemetryMux(ws *StateServer, metrics *Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	if ws != nil {
		ws.Register(mux, "/ws")
	}
	if metrics != nil {
		mux.Handle("/metrics", metrics.Handler())
	}
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// runHTTPServer serves handler on address:port and shuts it down gracefully
// when ctx is canceled.
func runHTTPServer(ctx context.Context, address string, port int, handler http.Handler, logger *slog.Logger) error {
	listenAddr := net.JoinHostPort(address, strconv.Itoa(port))
	logger.Info("telemetry server listening", "addr", listenAddr)

	srv := &http.Server{
		Addr:              listenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)

	go func() {
		// ListenAndServe returns http.ErrServerClosed on Shutdown; treat that as clean exit.
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown: %w", err)
		}
		<-errCh
		return nil

	case err := <-errCh:
		return err
	}
}
