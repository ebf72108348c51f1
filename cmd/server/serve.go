package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"paper-mimic/internal/generation"
	"paper-mimic/internal/history"
	"paper-mimic/internal/realtime"
	"paper-mimic/internal/session"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}
}

func runServe(cmd *cobra.Command, opts *rootOptions) error {
	cfg, logger, err := opts.load()
	if err != nil {
		return err
	}

	store := newStore(cfg, logger)
	if cfg.Storage.WatchHistory {
		w, err := history.Watch(store, func() { logger.Debug("history changed on disk") })
		if err != nil {
			logger.Warn("history watcher disabled", "error", err)
		} else {
			defer w.Close()
		}
	}

	coord := newCoordinator(cfg, logger)
	var parser generation.Parser
	if cfg.Parser.Command != "" {
		parser = &generation.CommandParser{Command: cfg.Parser.Command, Logger: logger}
	}
	workflow := generation.NewWorkflow(coord, parser, store, logger)

	sessMgr := session.NewManager(cfg.Session.MaxSessions)
	rtServer := realtime.New(sessMgr, store, workflow, coord, realtime.OptionsFromConfig(cfg, logger))

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           rtServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown on signals.
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		logger.Info("shutting down")
		sessMgr.Shutdown()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			httpServer.Close()
		}
	}()

	logger.Info("Paper Mimic server running",
		"addr", cfg.Addr(),
		"mimic_dir", cfg.Storage.MimicDir,
		"model", cfg.LLM.Model,
		"interception", cfg.Session.Interception)
	if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
