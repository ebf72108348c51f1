package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"paper-mimic/internal/config"
	"paper-mimic/internal/generation"
	"paper-mimic/internal/history"
	"paper-mimic/internal/llm"
	"paper-mimic/internal/logging"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "paper-mimic",
		Short: "Generate exam questions that mimic a reference paper",
		Long: `Paper Mimic serves a streaming API that turns an exam paper into new,
similar questions, and keeps a browsable history of every run.

Quick Start:
  paper-mimic                         # serve on 0.0.0.0:8000
  paper-mimic history list            # list past runs
  paper-mimic generate -r "..." -n 3  # one-off batch generation`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, opts)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "config.yaml", "Path to the YAML config file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newHistoryCmd(opts))
	cmd.AddCommand(newGenerateCmd(opts))
	return cmd
}

// load reads the configuration and builds the operator logger.
func (o *rootOptions) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if o.logLevel != "" {
		cfg.Log.Level = o.logLevel
	}
	return cfg, logging.New(cfg.Log.Level, cfg.Log.Format, nil), nil
}

func newStore(cfg *config.Config, logger *slog.Logger) *history.Store {
	return history.NewStore(cfg.Storage.MimicDir, logger)
}

// newCoordinator builds the LLM-backed coordinator. A missing key does
// not prevent startup; every generation then fails with the reason.
func newCoordinator(cfg *config.Config, logger *slog.Logger) *generation.Coordinator {
	var client llm.Client
	c, err := llm.NewOpenAI(llm.Options{
		APIKey:  cfg.LLM.APIKey,
		BaseURL: cfg.LLM.BaseURL,
		Timeout: cfg.LLM.Timeout,
	})
	if err != nil {
		logger.Warn("LLM client unavailable", "error", err)
		client = llm.Unavailable{Err: err}
	} else {
		client = c
	}

	return generation.NewCoordinator(client, generation.Options{
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}, logger)
}
