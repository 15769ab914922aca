package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/kirillkom/tax-law-assistant/internal/core/domain"
	"github.com/kirillkom/tax-law-assistant/internal/core/ports"
)

const defaultEmbedBatchSize = 32

// PartitionIndexUseCase rebuilds both indexes of one partition from its
// statute files. It runs offline and never during request handling.
type PartitionIndexUseCase struct {
	storage    ports.SourceStorage
	extractors []ports.TextExtractor
	chunker    ports.Chunker
	embedder   ports.Embedder
	dense      ports.DenseIndexWriter
	lexical    ports.LexicalIndexWriter
	batchSize  int
}

func NewPartitionIndexUseCase(
	storage ports.SourceStorage,
	extractors []ports.TextExtractor,
	chunker ports.Chunker,
	embedder ports.Embedder,
	dense ports.DenseIndexWriter,
	lexical ports.LexicalIndexWriter,
	batchSize int,
) *PartitionIndexUseCase {
	if batchSize <= 0 {
		batchSize = defaultEmbedBatchSize
	}
	return &PartitionIndexUseCase{
		storage:    storage,
		extractors: extractors,
		chunker:    chunker,
		embedder:   embedder,
		dense:      dense,
		lexical:    lexical,
		batchSize:  batchSize,
	}
}

func (uc *PartitionIndexUseCase) IndexPartition(ctx context.Context, partition domain.Partition) (domain.IndexReport, error) {
	report := domain.IndexReport{Partition: partition}
	if !partition.Valid() {
		return report, domain.WrapError(domain.ErrInvalidInput, "index partition", fmt.Errorf("unknown partition %q", partition))
	}

	pages, err := uc.extractPartition(ctx, partition, &report)
	if err != nil {
		return report, err
	}

	chunks, err := uc.chunk(partition, pages)
	if err != nil {
		return report, err
	}

	vectors, err := uc.embed(ctx, chunks)
	if err != nil {
		return report, err
	}

	if err := uc.index(ctx, partition, chunks, vectors); err != nil {
		return report, err
	}

	report.Chunks = len(chunks)
	slog.Info("partition_indexed",
		"partition", partition,
		"files", report.Files,
		"pages", report.Pages,
		"chunks", report.Chunks,
		"failed", len(report.Failed),
	)
	return report, nil
}

func (uc *PartitionIndexUseCase) extractPartition(
	ctx context.Context,
	partition domain.Partition,
	report *domain.IndexReport,
) ([]domain.SourceDocument, error) {
	keys, err := uc.storage.List(ctx, partition)
	if err != nil {
		return nil, fmt.Errorf("list partition sources: %w", err)
	}

	var pages []domain.SourceDocument
	for _, key := range keys {
		extractor := uc.extractorFor(key)
		if extractor == nil {
			slog.Debug("source_skipped", "partition", partition, "key", key)
			continue
		}
		extracted, err := extractor.Extract(ctx, partition, key)
		if err != nil {
			slog.Warn("source_extract_failed", "partition", partition, "key", key, "error", err)
			report.Failed = append(report.Failed, key)
			continue
		}
		report.Files++
		report.Pages += len(extracted)
		pages = append(pages, extracted...)
	}
	return pages, nil
}

func (uc *PartitionIndexUseCase) extractorFor(key string) ports.TextExtractor {
	for _, extractor := range uc.extractors {
		if extractor.Supports(key) {
			return extractor
		}
	}
	return nil
}

func (uc *PartitionIndexUseCase) chunk(partition domain.Partition, pages []domain.SourceDocument) ([]domain.IndexedChunk, error) {
	var chunks []domain.IndexedChunk
	for _, page := range pages {
		for i, text := range uc.chunker.Split(page.Text) {
			chunks = append(chunks, domain.IndexedChunk{
				ID:        fmt.Sprintf("%s/%s#%d/%d", partition, page.Path, page.Page, i),
				Partition: partition,
				Source:    page.Path,
				Page:      page.Page,
				Text:      text,
			})
		}
	}
	if len(chunks) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "chunk partition", errors.New("partition produced zero chunks"))
	}
	return chunks, nil
}

func (uc *PartitionIndexUseCase) embed(ctx context.Context, chunks []domain.IndexedChunk) ([][]float32, error) {
	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += uc.batchSize {
		end := min(start+uc.batchSize, len(chunks))
		texts := make([]string, 0, end-start)
		for _, chunk := range chunks[start:end] {
			texts = append(texts, chunk.Text)
		}
		batch, err := uc.embedder.Embed(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("embed chunks: %w", err)
		}
		vectors = append(vectors, batch...)
	}
	if len(vectors) != len(chunks) {
		return nil, domain.WrapError(
			domain.ErrInvalidInput,
			"embed chunks",
			fmt.Errorf("vectors/chunks mismatch: %d/%d", len(vectors), len(chunks)),
		)
	}
	return vectors, nil
}

func (uc *PartitionIndexUseCase) index(
	ctx context.Context,
	partition domain.Partition,
	chunks []domain.IndexedChunk,
	vectors [][]float32,
) error {
	if err := uc.dense.ResetPartition(ctx, partition); err != nil {
		return fmt.Errorf("reset dense partition: %w", err)
	}
	if err := uc.dense.IndexChunks(ctx, partition, chunks, vectors); err != nil {
		return fmt.Errorf("index chunks in vector db: %w", err)
	}
	if err := uc.lexical.RebuildPartition(ctx, partition, chunks); err != nil {
		return fmt.Errorf("rebuild lexical index: %w", err)
	}
	return nil
}
