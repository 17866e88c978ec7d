package commands

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/opd-ai/callcore/config"
	"github.com/opd-ai/callcore/wsignal"
)

const shutdownTimeout = 5 * time.Second

// NewRunCmd returns the command that serves the relay.
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run the signaling relay",
		PreRunE: loadConfig,
		RunE:    runRelay,
	}
	cmd.Flags().StringP("signal-addr", "l", _config.SignalAddr, "Listen IP:Port for the relay")
	return cmd
}

// NewRelayServer returns an http.Server serving relay under /signal.
func NewRelayServer(addr string, relay *wsignal.Relay) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/signal", relay)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func runRelay(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return serveRelay(ctx, _config, wsignal.NewRelay())
}

// serveRelay serves relay on cfg.SignalAddr until ctx is done, then shuts
// down gracefully.
func serveRelay(ctx context.Context, cfg *config.Config, relay *wsignal.Relay) error {
	logger := cfg.Logger("signal")
	srv := NewRelayServer(cfg.SignalAddr, relay)

	logger.WithFields(logrus.Fields{
		"function":    "serveRelay",
		"signal_addr": cfg.SignalAddr,
		"log":         cfg.LogLevel,
	}).Info("Signaling relay listening")

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		logger.WithFields(logrus.Fields{
			"function": "serveRelay",
			"error":    err.Error(),
		}).Error("Signaling relay failed")
		return err
	case <-ctx.Done():
	}

	logger.WithFields(logrus.Fields{
		"function": "serveRelay",
		"peers":    relay.Peers(),
	}).Info("Shutting down signaling relay")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
