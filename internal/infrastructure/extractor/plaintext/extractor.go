package plaintext

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"unicode/utf8"

	"github.com/kirillkom/tax-law-assistant/internal/core/domain"
	"github.com/kirillkom/tax-law-assistant/internal/core/ports"
)

var _ ports.TextExtractor = (*Extractor)(nil)

// Extractor reads UTF-8 statute text. Form feeds separate pages.
type Extractor struct {
	storage ports.SourceStorage
}

func NewExtractor(storage ports.SourceStorage) *Extractor {
	return &Extractor{storage: storage}
}

func (e *Extractor) Supports(key string) bool {
	switch strings.ToLower(path.Ext(key)) {
	case ".txt", ".md":
		return true
	default:
		return false
	}
}

func (e *Extractor) Extract(ctx context.Context, partition domain.Partition, key string) ([]domain.SourceDocument, error) {
	reader, err := e.storage.Open(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("open source document: %w", err)
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("read source document: %w", err)
	}
	if !utf8.Valid(raw) {
		return nil, fmt.Errorf("source document %s is not valid UTF-8", key)
	}

	var pages []domain.SourceDocument
	for i, page := range strings.Split(string(raw), "\f") {
		text := strings.TrimSpace(page)
		if text == "" {
			continue
		}
		pages = append(pages, domain.SourceDocument{
			Partition: partition,
			Path:      key,
			Page:      i + 1,
			Text:      text,
		})
	}
	return pages, nil
}
