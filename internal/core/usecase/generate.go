package usecase

import (
	"context"
	"fmt"
	"strings"

	"github.com/kirillkom/tax-law-assistant/internal/core/domain"
	"github.com/kirillkom/tax-law-assistant/internal/core/ports"
)

const defaultNoInformationAnswer = "관련 정보를 찾을 수 없습니다."

type GeneratorConfig struct {
	// Primary answers from statute text, Secondary from web snippets.
	Primary   domain.ModelProfile
	Secondary domain.ModelProfile

	MaxContextDocs   int
	ContextCharLimit int
	HistoryTurns     int
	NoInfoAnswer     string
}

func (c GeneratorConfig) normalize() GeneratorConfig {
	out := c
	if out.MaxContextDocs <= 0 {
		out.MaxContextDocs = 4
	}
	if out.ContextCharLimit <= 0 {
		out.ContextCharLimit = 600
	}
	if out.HistoryTurns < 0 {
		out.HistoryTurns = 0
	}
	if strings.TrimSpace(out.NoInfoAnswer) == "" {
		out.NoInfoAnswer = defaultNoInformationAnswer
	}
	return out
}

// AnswerGenerator assembles the grounded prompt and calls the language model.
type AnswerGenerator struct {
	model   ports.LanguageModel
	prompts ports.PromptRenderer
	cfg     GeneratorConfig
}

func NewAnswerGenerator(model ports.LanguageModel, prompts ports.PromptRenderer, cfg GeneratorConfig) *AnswerGenerator {
	return &AnswerGenerator{model: model, prompts: prompts, cfg: cfg.normalize()}
}

func (g *AnswerGenerator) Generate(
	ctx context.Context,
	query domain.Query,
	docs []domain.RetrievedDocument,
	grounding domain.Grounding,
) (string, error) {
	if len(docs) == 0 {
		return g.cfg.NoInfoAnswer, nil
	}

	req, err := g.buildRequest(query, docs, grounding)
	if err != nil {
		return "", err
	}
	answer, err := g.model.Generate(ctx, req)
	if err != nil {
		return "", fmt.Errorf("generate answer: %w", err)
	}
	return answer, nil
}

// GenerateStream has the same inputs as Generate and hands model fragments to
// onFragment in emission order.
func (g *AnswerGenerator) GenerateStream(
	ctx context.Context,
	query domain.Query,
	docs []domain.RetrievedDocument,
	grounding domain.Grounding,
	onFragment func(string) error,
) error {
	if len(docs) == 0 {
		return onFragment(g.cfg.NoInfoAnswer)
	}

	req, err := g.buildRequest(query, docs, grounding)
	if err != nil {
		return err
	}
	if err := g.model.GenerateStream(ctx, req, onFragment); err != nil {
		return fmt.Errorf("stream answer: %w", err)
	}
	return nil
}

func (g *AnswerGenerator) buildRequest(
	query domain.Query,
	docs []domain.RetrievedDocument,
	grounding domain.Grounding,
) (domain.ChatRequest, error) {
	template, profile := PromptLawAnswer, g.cfg.Primary
	if grounding == domain.GroundingWeb {
		template, profile = PromptWebAnswer, g.cfg.Secondary
	}

	messages, err := g.prompts.Render(template, answerPromptData{
		Question:  query.Question,
		Documents: toPromptDocuments(docs, g.cfg.MaxContextDocs, g.cfg.ContextCharLimit),
		History:   query.RecentTurns(g.cfg.HistoryTurns),
		Summary:   query.Summary,
	})
	if err != nil {
		return domain.ChatRequest{}, fmt.Errorf("render answer prompt: %w", err)
	}
	return profile.Request(messages), nil
}
