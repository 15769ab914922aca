package usecase

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/tax-law-assistant/internal/core/domain"
	"github.com/kirillkom/tax-law-assistant/internal/core/ports"
)

// WebFallback wraps the web search capability used when the corpus cannot
// ground an answer.
type WebFallback struct {
	searcher   ports.WebSearcher
	maxResults int
}

func NewWebFallback(searcher ports.WebSearcher, maxResults int) *WebFallback {
	if maxResults <= 0 {
		maxResults = 3
	}
	return &WebFallback{searcher: searcher, maxResults: maxResults}
}

func (w *WebFallback) Search(ctx context.Context, question string) ([]domain.RetrievedDocument, error) {
	docs, err := w.searcher.Search(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("web search: %w", err)
	}
	docs = trimDocuments(docs, w.maxResults)
	for i := range docs {
		docs[i].Origin = domain.OriginWeb
	}
	slog.Info("web_search_fallback", "results", len(docs))
	return docs, nil
}
