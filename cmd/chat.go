package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	tea "charm.land/bubbletea/v2"
	"github.com/spf13/cobra"

	"github.com/parley0/parley/db"
	"github.com/parley0/parley/internal/backend"
	"github.com/parley0/parley/internal/config"
	"github.com/parley0/parley/internal/log"
	"github.com/parley0/parley/internal/observability"
	"github.com/parley0/parley/internal/orchestrator"
	"github.com/parley0/parley/internal/realtime"
	"github.com/parley0/parley/internal/store"
	"github.com/parley0/parley/internal/toolserver"
	"github.com/parley0/parley/internal/tui"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Open the interactive chat interface (default)",
	RunE:  runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	logger := newLogger(cfg)

	shutdownTracing, err := observability.Setup(ctx, cfg.Tracing, logger)
	if err != nil {
		return fmt.Errorf("set up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("trace shutdown failed", "error", err)
		}
	}()

	if err := db.Migrate(cfg.PostgresURL()); err != nil {
		return fmt.Errorf("migrate database: %w", err)
	}

	pool, err := store.Connect(ctx, cfg.PostgresConnectionString(), logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()

	st := store.New(pool, logger)
	notifier := realtime.New(pool, logger)

	client, err := backend.New(backend.Options{
		URL:            cfg.BackendURL,
		SendTimeout:    cfg.SendTimeout,
		SendsPerMinute: cfg.SendsPerMinute,
	}, logger)
	if err != nil {
		return fmt.Errorf("create backend client: %w", err)
	}

	tools, err := newToolRunner(cfg, logger)
	if err != nil {
		return err
	}

	agentSlug := cfg.AgentSlug
	if agentFlag != "" {
		agentSlug = agentFlag
	}

	sink := tui.NewChannelSink()
	conductor := orchestrator.New(
		orchestrator.BackendFunc(func(ctx context.Context, req backend.SendRequest) (io.ReadCloser, error) {
			stream, err := client.Send(ctx, req)
			if err != nil {
				return nil, err
			}
			return stream, nil
		}),
		st,
		notifier,
		tools,
		sink,
		orchestrator.Config{
			UserID:               cfg.UserID,
			CreditErrorSubstring: cfg.CreditErrorHint,
		},
		logger,
	)

	model, err := tui.New(ctx, conductor, sink, agentSlug, logger)
	if err != nil {
		return fmt.Errorf("create interface: %w", err)
	}

	program := tea.NewProgram(model, tea.WithContext(ctx))
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("run interface: %w", err)
	}
	return nil
}

// newToolRunner wires the local automation client. A missing tool server URL
// disables local tool execution rather than failing startup.
func newToolRunner(cfg *config.Config, logger log.Logger) (orchestrator.ToolRunner, error) {
	if cfg.ToolServerURL == "" {
		return nil, nil
	}
	dir, err := config.Dir()
	if err != nil {
		return nil, fmt.Errorf("resolve state directory: %w", err)
	}
	slot, err := toolserver.NewSlot(dir)
	if err != nil {
		return nil, fmt.Errorf("open tool session slot: %w", err)
	}
	client, err := toolserver.NewClient(cfg.ToolServerURL, cfg.ToolServerTimeout, slot, logger)
	if err != nil {
		return nil, fmt.Errorf("create tool server client: %w", err)
	}
	return client, nil
}

// newLogger builds the process logger from config. Unknown levels fall back
// to info rather than failing startup.
func newLogger(cfg *config.Config) log.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	return log.New(log.Config{Level: level, JSON: cfg.LogJSON})
}
