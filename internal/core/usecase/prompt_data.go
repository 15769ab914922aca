package usecase

import (
	"unicode/utf8"

	"github.com/kirillkom/tax-law-assistant/internal/core/domain"
)

// Template names resolved by the prompt renderer.
const (
	PromptPartitionRouter    = "partition_router"
	PromptRelevanceCheck     = "relevance_check"
	PromptLawAnswer          = "law_answer"
	PromptWebAnswer          = "web_answer"
	PromptSummaryInitial     = "summary_initial"
	PromptSummaryIncremental = "summary_incremental"
)

type promptDocument struct {
	Index     int
	Partition string
	Source    string
	Page      string
	Title     string
	Content   string
}

type routerPromptData struct {
	Question   string
	Partitions []domain.Partition
}

type relevancePromptData struct {
	Question  string
	Documents []promptDocument
}

type answerPromptData struct {
	Question  string
	Documents []promptDocument
	History   []domain.Turn
	Summary   string
}

type summaryPromptData struct {
	Turns           []domain.Turn
	PreviousSummary string
}

func toPromptDocuments(docs []domain.RetrievedDocument, maxDocs, charLimit int) []promptDocument {
	if maxDocs > 0 && len(docs) > maxDocs {
		docs = docs[:maxDocs]
	}
	out := make([]promptDocument, 0, len(docs))
	for i, doc := range docs {
		out = append(out, promptDocument{
			Index:     i + 1,
			Partition: doc.Metadata[domain.MetaPartition],
			Source:    doc.Source(),
			Page:      doc.Metadata[domain.MetaPage],
			Title:     doc.Metadata[domain.MetaTitle],
			Content:   truncateRunes(doc.Content, charLimit),
		})
	}
	return out
}

func truncateRunes(text string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(text) <= limit {
		return text
	}
	runes := []rune(text)
	return string(runes[:limit])
}
