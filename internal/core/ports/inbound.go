package ports

import (
	"context"

	"github.com/kirillkom/tax-law-assistant/internal/core/domain"
)

// QuestionAnswerer is the inbound contract for tax-law question answering.
type QuestionAnswerer interface {
	Answer(ctx context.Context, query domain.Query) (*domain.AnswerResult, error)
	AnswerStream(ctx context.Context, query domain.Query) (*domain.AnswerStream, error)
}

// ConversationSummarizer folds conversation turns into a running digest.
type ConversationSummarizer interface {
	Summarize(ctx context.Context, turns []domain.Turn, previous *domain.ConversationSummary) (*domain.ConversationSummary, error)
}

// PartitionIndexer rebuilds the dense and lexical indexes of a partition offline.
type PartitionIndexer interface {
	IndexPartition(ctx context.Context, partition domain.Partition) (domain.IndexReport, error)
}
