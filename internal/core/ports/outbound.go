package ports

import (
	"context"
	"io"

	"github.com/kirillkom/tax-law-assistant/internal/core/domain"
)

// LanguageModel runs chat completions in blocking, streaming and schema-constrained form.
type LanguageModel interface {
	Generate(ctx context.Context, req domain.ChatRequest) (string, error)
	GenerateStream(ctx context.Context, req domain.ChatRequest, onFragment func(string) error) error
	GenerateJSON(ctx context.Context, req domain.ChatRequest, schema []byte) ([]byte, error)
}

// PromptRenderer fills a named instruction template with structured fields.
type PromptRenderer interface {
	Render(name string, data any) ([]domain.ChatMessage, error)
}

// Embedder builds vectors for chunks and query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// DenseIndex performs vector similarity search inside one partition.
type DenseIndex interface {
	HasPartition(partition domain.Partition) bool
	SearchDense(ctx context.Context, partition domain.Partition, vector []float32, k int) ([]domain.RetrievedDocument, error)
}

// LexicalIndex performs ranked term search inside one partition.
type LexicalIndex interface {
	HasPartition(partition domain.Partition) bool
	SearchLexical(ctx context.Context, partition domain.Partition, query string, k int) ([]domain.RetrievedDocument, error)
}

// WebSearcher queries the public web and returns ranked snippets.
type WebSearcher interface {
	Search(ctx context.Context, query string) ([]domain.RetrievedDocument, error)
}

// DenseIndexWriter stores embedded chunks of a partition.
type DenseIndexWriter interface {
	ResetPartition(ctx context.Context, partition domain.Partition) error
	IndexChunks(ctx context.Context, partition domain.Partition, chunks []domain.IndexedChunk, vectors [][]float32) error
}

// LexicalIndexWriter replaces the lexical index of a partition.
type LexicalIndexWriter interface {
	RebuildPartition(ctx context.Context, partition domain.Partition, chunks []domain.IndexedChunk) error
}

// SourceStorage lists and opens statute files of a partition.
type SourceStorage interface {
	List(ctx context.Context, partition domain.Partition) ([]string, error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// TextExtractor turns a statute file into page-level text.
type TextExtractor interface {
	Supports(key string) bool
	Extract(ctx context.Context, partition domain.Partition, key string) ([]domain.SourceDocument, error)
}

// Chunker splits text into retrievable chunks.
type Chunker interface {
	Split(text string) []string
}
