package usecase

import (
	"sort"

	"github.com/kirillkom/tax-law-assistant/internal/core/domain"
)

const defaultFusionK = 60

// rankedList is one retriever's output together with its ensemble weight.
type rankedList struct {
	documents []domain.RetrievedDocument
	weight    float64
}

type fusedCandidate struct {
	document  domain.RetrievedDocument
	score     float64
	firstSeen int
}

// fuseWeightedRRF merges ranked lists with weighted reciprocal rank scoring.
// Documents are keyed by exact content; ties keep first-appearance order.
func fuseWeightedRRF(lists []rankedList, rrfK int) []domain.RetrievedDocument {
	if rrfK <= 0 {
		rrfK = defaultFusionK
	}

	total := 0
	for _, list := range lists {
		total += len(list.documents)
	}

	acc := make(map[string]*fusedCandidate, total)
	for _, list := range lists {
		for rank, doc := range list.documents {
			candidate, ok := acc[doc.Content]
			if !ok {
				candidate = &fusedCandidate{document: doc, firstSeen: len(acc)}
				acc[doc.Content] = candidate
			} else {
				candidate.document = preferRicherDocument(candidate.document, doc)
			}
			candidate.score += list.weight / float64(rrfK+rank+1)
		}
	}

	candidates := make([]*fusedCandidate, 0, len(acc))
	for _, c := range acc {
		candidates = append(candidates, c)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].firstSeen < candidates[j].firstSeen
	})

	out := make([]domain.RetrievedDocument, 0, len(candidates))
	for _, c := range candidates {
		doc := c.document
		doc.Score = c.score
		out = append(out, doc)
	}
	return out
}

// dedupeByContent keeps the first document for every distinct content value.
func dedupeByContent(docs []domain.RetrievedDocument) []domain.RetrievedDocument {
	seen := make(map[string]struct{}, len(docs))
	out := make([]domain.RetrievedDocument, 0, len(docs))
	for _, doc := range docs {
		if _, ok := seen[doc.Content]; ok {
			continue
		}
		seen[doc.Content] = struct{}{}
		out = append(out, doc)
	}
	return out
}

func trimDocuments(docs []domain.RetrievedDocument, limit int) []domain.RetrievedDocument {
	if limit <= 0 || len(docs) <= limit {
		return docs
	}
	return docs[:limit]
}

func preferRicherDocument(current, candidate domain.RetrievedDocument) domain.RetrievedDocument {
	if len(candidate.Metadata) == 0 {
		return current
	}
	merged := make(map[string]string, len(current.Metadata)+len(candidate.Metadata))
	for k, v := range candidate.Metadata {
		merged[k] = v
	}
	for k, v := range current.Metadata {
		if v != "" {
			merged[k] = v
		}
	}
	current.Metadata = merged
	return current
}
