package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kirillkom/tax-law-assistant/internal/core/domain"
	"github.com/kirillkom/tax-law-assistant/internal/core/ports"
)

const relevanceMaxDocuments = 3

// RelevanceGate decides whether retrieved statute text grounds the answer or
// the request has to fall back to web search.
type RelevanceGate struct {
	model     ports.LanguageModel
	prompts   ports.PromptRenderer
	profile   domain.ModelProfile
	charLimit int
	schema    []byte
}

func NewRelevanceGate(model ports.LanguageModel, prompts ports.PromptRenderer, profile domain.ModelProfile, charLimit int) *RelevanceGate {
	return &RelevanceGate{
		model:     model,
		prompts:   prompts,
		profile:   profile,
		charLimit: charLimit,
		schema:    relevanceVerdictSchema(),
	}
}

// Evaluate calls the classifier only when exactly one document was retrieved.
func (g *RelevanceGate) Evaluate(ctx context.Context, question string, docs []domain.RetrievedDocument) domain.GateDecision {
	var (
		verdict domain.RelevanceVerdict
		err     error
	)
	if len(docs) == 1 {
		verdict, err = g.judge(ctx, question, docs)
	}
	decision := decideGrounding(len(docs), verdict, err)

	attrs := []any{"documents", len(docs), "grounding", decision.Grounding, "reason", decision.Reason}
	if err != nil {
		attrs = append(attrs, "error", err)
		slog.Warn("relevance_gate", attrs...)
		return decision
	}
	slog.Info("relevance_gate", attrs...)
	return decision
}

// decideGrounding is the gate policy. The verdict is only consulted for a
// single document, and a classifier error fails open to the corpus.
func decideGrounding(documentCount int, verdict domain.RelevanceVerdict, verdictErr error) domain.GateDecision {
	switch {
	case documentCount == 0:
		return domain.GateDecision{Grounding: domain.GroundingWeb, Reason: domain.GateNoDocuments}
	case documentCount >= 2:
		return domain.GateDecision{Grounding: domain.GroundingCorpus, Reason: domain.GateVolume}
	case verdictErr != nil:
		return domain.GateDecision{Grounding: domain.GroundingCorpus, Reason: domain.GateClassifierFailed}
	case verdict == domain.VerdictUnanswerable:
		return domain.GateDecision{Grounding: domain.GroundingWeb, Reason: domain.GateClassifierRejected}
	default:
		return domain.GateDecision{Grounding: domain.GroundingCorpus, Reason: domain.GateClassifierGrounded}
	}
}

func (g *RelevanceGate) judge(ctx context.Context, question string, docs []domain.RetrievedDocument) (domain.RelevanceVerdict, error) {
	messages, err := g.prompts.Render(PromptRelevanceCheck, relevancePromptData{
		Question:  question,
		Documents: toPromptDocuments(docs, relevanceMaxDocuments, g.charLimit),
	})
	if err != nil {
		return 0, fmt.Errorf("render relevance prompt: %w", err)
	}

	raw, err := g.model.GenerateJSON(ctx, g.profile.Request(messages), g.schema)
	if err != nil {
		return 0, fmt.Errorf("classify relevance: %w", err)
	}
	return decodeRelevanceVerdict(raw)
}

type relevanceScore struct {
	Score *int `json:"score"`
}

func decodeRelevanceVerdict(raw []byte) (domain.RelevanceVerdict, error) {
	var score relevanceScore
	if err := json.Unmarshal(raw, &score); err != nil {
		return 0, domain.WrapError(domain.ErrMalformedOutput, "decode relevance verdict", err)
	}
	if score.Score == nil {
		return 0, domain.WrapError(domain.ErrMalformedOutput, "decode relevance verdict", fmt.Errorf("score is missing"))
	}
	verdict := domain.RelevanceVerdict(*score.Score)
	if !verdict.Valid() {
		return 0, domain.WrapError(domain.ErrMalformedOutput, "decode relevance verdict", fmt.Errorf("score %d is not 0 or 1", *score.Score))
	}
	return verdict, nil
}

func relevanceVerdictSchema() []byte {
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"score": map[string]any{
				"type": "integer",
				"enum": []int{int(domain.VerdictAnswerable), int(domain.VerdictUnanswerable)},
			},
		},
		"required":             []string{"score"},
		"additionalProperties": false,
	}
	raw, _ := json.Marshal(schema)
	return raw
}
