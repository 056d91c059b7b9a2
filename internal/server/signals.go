// Package server provides the graceful-shutdown wrapper around
// cmd/digest-api's HTTP listener.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// SignalHandler drives graceful shutdown of an http.Server on SIGINT/SIGTERM.
type SignalHandler struct {
	server          *http.Server
	shutdownTimeout time.Duration
}

// NewSignalHandler constructs a SignalHandler for server.
func NewSignalHandler(server *http.Server, shutdownTimeout time.Duration) *SignalHandler {
	return &SignalHandler{server: server, shutdownTimeout: shutdownTimeout}
}

// WaitForShutdown blocks until SIGINT or SIGTERM, then drains in-flight
// requests within shutdownTimeout before returning.
func (sh *SignalHandler) WaitForShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	slog.Info("received shutdown signal", "signal", sig.String())

	ctx, cancel := context.WithTimeout(context.Background(), sh.shutdownTimeout)
	defer cancel()

	if err := sh.server.Shutdown(ctx); err != nil {
		slog.Error("server forced to shut down past its timeout", "error", err)
	} else {
		slog.Info("server shut down gracefully")
	}
}

// HandleSignals starts server in the background and blocks until a
// shutdown signal arrives and is handled.
func HandleSignals(server *http.Server, shutdownTimeout time.Duration) error {
	go func() {
		slog.Info("listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	NewSignalHandler(server, shutdownTimeout).WaitForShutdown()
	return nil
}
