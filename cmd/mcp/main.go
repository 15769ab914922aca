package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	mcpadapter "github.com/kirillkom/tax-law-assistant/internal/adapters/mcp"
	"github.com/kirillkom/tax-law-assistant/internal/bootstrap"
	"github.com/kirillkom/tax-law-assistant/internal/config"
	"github.com/kirillkom/tax-law-assistant/internal/observability/logging"
)

var Version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "tax-law-mcp",
		Short:         "Expose tax-law question answering as MCP tools over stdio",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd.Flags())
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func run(parent context.Context, flags *pflag.FlagSet) error {
	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return err
	}
	// stdout carries the protocol.
	slog.SetDefault(logging.NewJSONLoggerTo(os.Stderr, "mcp", cfg.LogLevel))

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, nil)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		return err
	}
	defer app.Close()

	server := mcpadapter.NewServer(mcpadapter.ServerConfig{Name: "tax-law-assistant", Version: Version}, app.Answerer, app.Summarizer)
	slog.Info("mcp_serving", "transport", "stdio", "version", Version)
	if err := server.ServeStdio(ctx, os.Stdin, os.Stdout, os.Stderr); err != nil && ctx.Err() == nil {
		slog.Error("mcp_server_failed", "error", err)
		return err
	}
	return nil
}
