package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/kirillkom/tax-law-assistant/internal/bootstrap"
	"github.com/kirillkom/tax-law-assistant/internal/config"
	"github.com/kirillkom/tax-law-assistant/internal/core/domain"
	"github.com/kirillkom/tax-law-assistant/internal/observability/logging"
	"github.com/kirillkom/tax-law-assistant/internal/observability/metrics"
)

var Version = "dev"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tax-law-indexer",
		Short: "Rebuild the dense and lexical indexes of statute partitions",
		Long: "Reads <source-dir>/<partition>/ for PDF and text statutes, splits them into " +
			"article-aware chunks and replaces the partition's Qdrant collection and bleve index.",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			partitions, _ := cmd.Flags().GetStringSlice("partitions")
			return run(cmd.Context(), cmd.Flags(), partitions)
		},
	}
	config.RegisterFlags(cmd.Flags())
	cmd.Flags().String("source-dir", "", "directory with one sub-directory per partition")
	cmd.Flags().String("metrics-textfile", "", "write indexer metrics to this node-exporter textfile")
	cmd.Flags().StringSlice("partitions", nil, "partitions to rebuild (default: every partition directory found)")
	return cmd
}

func run(parent context.Context, flags *pflag.FlagSet, requested []string) error {
	cfg, err := config.Load(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		return err
	}
	slog.SetDefault(logging.NewJSONLogger("indexer", cfg.LogLevel))

	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	indexerMetrics := metrics.NewIndexerMetrics()
	indexer, err := bootstrap.NewIndexer(cfg, indexerMetrics)
	if err != nil {
		slog.Error("bootstrap_failed", "error", err)
		return err
	}
	defer indexer.Close()

	partitions, err := selectPartitions(ctx, indexer, requested)
	if err != nil {
		return err
	}
	if len(partitions) == 0 {
		slog.Warn("no_partitions_to_index", "source_dir", cfg.SourceDir)
		return nil
	}

	var failed []error
	for _, partition := range partitions {
		if ctx.Err() != nil {
			failed = append(failed, ctx.Err())
			break
		}
		started := time.Now()
		report, err := indexer.UseCase.IndexPartition(ctx, partition)
		indexerMetrics.RecordPartition(partition.String(), report.Chunks, len(report.Failed), time.Since(started), err)
		if err != nil {
			slog.Error("partition_index_failed", "partition", partition, "error", err)
			failed = append(failed, fmt.Errorf("%s: %w", partition, err))
			continue
		}
		slog.Info("partition_index_finished",
			"partition", partition,
			"failed_files", report.Failed,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	}

	if cfg.MetricsTextfile != "" {
		if err := indexerMetrics.WriteTextfile(cfg.MetricsTextfile); err != nil {
			slog.Warn("metrics_textfile_write_failed", "path", cfg.MetricsTextfile, "error", err)
		}
	}
	return errors.Join(failed...)
}

// selectPartitions validates explicit names, or discovers partition
// directories and skips the ones that do not name a known partition.
func selectPartitions(ctx context.Context, indexer *bootstrap.Indexer, requested []string) ([]domain.Partition, error) {
	if len(requested) > 0 {
		out := make([]domain.Partition, 0, len(requested))
		for _, name := range requested {
			partition, ok := domain.ParsePartition(name)
			if !ok {
				return nil, fmt.Errorf("unknown partition %q", name)
			}
			out = append(out, partition)
		}
		return out, nil
	}

	known, unknown, err := indexer.Storage.Partitions(ctx)
	if err != nil {
		return nil, err
	}
	for _, name := range unknown {
		slog.Warn("unknown_partition_dir_skipped", "dir", name)
	}
	return known, nil
}
