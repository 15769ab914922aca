package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kirillkom/tax-law-assistant/internal/core/domain"
	"github.com/kirillkom/tax-law-assistant/internal/core/ports"
)

type RetrievalConfig struct {
	DenseTopK     int
	LexicalTopK   int
	DenseWeight   float64
	LexicalWeight float64
	FusionK       int
	MaxWorkers    int
	MaxDocuments  int
}

func (c RetrievalConfig) normalize() RetrievalConfig {
	out := c
	if out.DenseTopK <= 0 {
		out.DenseTopK = 2
	}
	if out.LexicalTopK <= 0 {
		out.LexicalTopK = 2
	}
	if out.DenseWeight < 0 {
		out.DenseWeight = 0
	}
	if out.LexicalWeight < 0 {
		out.LexicalWeight = 0
	}
	sum := out.DenseWeight + out.LexicalWeight
	if sum == 0 {
		out.DenseWeight, out.LexicalWeight = 0.6, 0.4
	} else {
		out.DenseWeight /= sum
		out.LexicalWeight /= sum
	}
	if out.FusionK <= 0 {
		out.FusionK = defaultFusionK
	}
	if out.MaxWorkers <= 0 {
		out.MaxWorkers = 3
	}
	if out.MaxDocuments <= 0 {
		out.MaxDocuments = 8
	}
	return out
}

// HybridRetriever fans a question out to the selected partitions and runs
// dense and lexical search side by side inside each of them.
type HybridRetriever struct {
	embedder ports.Embedder
	dense    ports.DenseIndex
	lexical  ports.LexicalIndex
	cfg      RetrievalConfig
}

func NewHybridRetriever(embedder ports.Embedder, dense ports.DenseIndex, lexical ports.LexicalIndex, cfg RetrievalConfig) *HybridRetriever {
	return &HybridRetriever{
		embedder: embedder,
		dense:    dense,
		lexical:  lexical,
		cfg:      cfg.normalize(),
	}
}

// Retrieve never fails: a partition that cannot be searched contributes no documents.
func (r *HybridRetriever) Retrieve(ctx context.Context, question string, partitions []domain.Partition) []domain.RetrievedDocument {
	usable := r.usablePartitions(partitions)
	if len(usable) == 0 {
		return nil
	}

	vector, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		slog.Warn("query_embedding_failed", "partitions", usable, "error", err)
		return nil
	}

	var (
		mu     sync.Mutex
		merged []domain.RetrievedDocument
		group  errgroup.Group
	)
	group.SetLimit(min(len(usable), r.cfg.MaxWorkers))
	for _, partition := range usable {
		group.Go(func() error {
			docs, err := r.retrievePartition(ctx, partition, question, vector)
			if err != nil {
				slog.Warn("partition_retrieval_failed", "partition", partition, "error", err)
				return nil
			}
			mu.Lock()
			merged = append(merged, docs...)
			mu.Unlock()
			return nil
		})
	}
	_ = group.Wait()

	out := trimDocuments(dedupeByContent(merged), r.cfg.MaxDocuments)
	slog.Info("hybrid_retrieval", "partitions", usable, "candidates", len(merged), "documents", len(out))
	return out
}

func (r *HybridRetriever) usablePartitions(partitions []domain.Partition) []domain.Partition {
	out := make([]domain.Partition, 0, len(partitions))
	for _, partition := range partitions {
		if !partition.Valid() || !r.dense.HasPartition(partition) || !r.lexical.HasPartition(partition) {
			slog.Warn("partition_index_missing", "partition", partition)
			continue
		}
		out = append(out, partition)
	}
	return out
}

func (r *HybridRetriever) retrievePartition(
	ctx context.Context,
	partition domain.Partition,
	question string,
	vector []float32,
) ([]domain.RetrievedDocument, error) {
	var dense, lexical []domain.RetrievedDocument

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		docs, err := r.dense.SearchDense(groupCtx, partition, vector, r.cfg.DenseTopK)
		if err != nil {
			return fmt.Errorf("dense search: %w", err)
		}
		dense = docs
		return nil
	})
	group.Go(func() error {
		docs, err := r.lexical.SearchLexical(groupCtx, partition, question, r.cfg.LexicalTopK)
		if err != nil {
			return fmt.Errorf("lexical search: %w", err)
		}
		lexical = docs
		return nil
	})
	if err := group.Wait(); err != nil {
		return nil, err
	}

	fused := fuseWeightedRRF([]rankedList{
		{documents: dense, weight: r.cfg.DenseWeight},
		{documents: lexical, weight: r.cfg.LexicalWeight},
	}, r.cfg.FusionK)
	for i := range fused {
		fused[i].Origin = domain.OriginCorpus
		if fused[i].Metadata == nil {
			fused[i].Metadata = map[string]string{}
		}
		if fused[i].Metadata[domain.MetaPartition] == "" {
			fused[i].Metadata[domain.MetaPartition] = partition.String()
		}
	}
	return fused, nil
}
