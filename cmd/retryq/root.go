package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/glimte/retryq"
	"github.com/glimte/retryq/config"
	"github.com/spf13/cobra"
)

// app carries what every command needs once flags are parsed
type app struct {
	configPath string
	logLevel   string
	logFormat  string
	logOutput  io.Writer

	cfg    *config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{logOutput: os.Stderr}

	rootCmd := &cobra.Command{
		Use:   "retryq",
		Short: "Run a RabbitMQ retry and dead-letter pipeline",
		Long: `retryq publishes work items to a RabbitMQ queue, processes them with
bounded retries and drains exhausted items from the dead-letter queue
into an audit store.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildTime),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVarP(&a.configPath, "config", "c", "", "Path to a YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "Log format (text, json)")

	rootCmd.AddCommand(
		newProduceCmd(a),
		newConsumeCmd(a),
		newDrainCmd(a),
		newDLQCmd(a),
		newTopologyCmd(a),
		newCheckCmd(a),
		newConfigCmd(a),
	)

	return rootCmd
}

// init loads configuration and applies flag overrides before building the logger
func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}

	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = newLogger(a.logOutput, cfg.Log)
	slog.SetDefault(a.logger)
	return nil
}

func newLogger(w io.Writer, cfg config.LogConfig) *slog.Logger {
	logLevel := slog.LevelInfo
	switch strings.ToLower(cfg.Level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel})
	}
	return slog.New(handler)
}

// connect returns a connected client with the pipeline topology declared
func (a *app) connect(ctx context.Context) (*retryq.Client, error) {
	client, err := retryq.New(a.cfg, retryq.WithLogger(a.logger))
	if err != nil {
		return nil, err
	}

	if err := client.Connect(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	if err := client.EnsureTopology(ctx); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to declare topology: %w", err)
	}

	return client, nil
}
