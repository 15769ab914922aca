package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kirillkom/tax-law-assistant/internal/core/domain"
	"github.com/kirillkom/tax-law-assistant/internal/core/ports"
)

const defaultEmptyConversationText = "대화 내역이 없습니다."

type SummarizeConfig struct {
	Profile   domain.ModelProfile
	EmptyText string
}

// SummarizeUseCase folds conversation turns into a running digest. An empty
// previous summary selects the initial template, otherwise the incremental one.
type SummarizeUseCase struct {
	model   ports.LanguageModel
	prompts ports.PromptRenderer
	cfg     SummarizeConfig
}

func NewSummarizeUseCase(model ports.LanguageModel, prompts ports.PromptRenderer, cfg SummarizeConfig) *SummarizeUseCase {
	if strings.TrimSpace(cfg.EmptyText) == "" {
		cfg.EmptyText = defaultEmptyConversationText
	}
	return &SummarizeUseCase{model: model, prompts: prompts, cfg: cfg}
}

func (uc *SummarizeUseCase) Summarize(
	ctx context.Context,
	turns []domain.Turn,
	previous *domain.ConversationSummary,
) (*domain.ConversationSummary, error) {
	absorbed := 0
	if previous != nil && previous.TurnCount > 0 {
		absorbed = previous.TurnCount
	}

	turns = nonEmptyTurns(turns)
	if len(turns) == 0 {
		if !previous.Empty() {
			unchanged := *previous
			return &unchanged, nil
		}
		return &domain.ConversationSummary{Text: uc.cfg.EmptyText, TurnCount: absorbed}, nil
	}

	template := PromptSummaryInitial
	data := summaryPromptData{Turns: turns}
	if !previous.Empty() {
		template = PromptSummaryIncremental
		data.PreviousSummary = strings.TrimSpace(previous.Text)
	}

	messages, err := uc.prompts.Render(template, data)
	if err != nil {
		return nil, fmt.Errorf("render summary prompt: %w", err)
	}

	text, err := uc.model.Generate(ctx, uc.cfg.Profile.Request(messages))
	if err != nil {
		return nil, fmt.Errorf("generate summary: %w", err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.WrapError(domain.ErrMalformedOutput, "generate summary", errors.New("model returned an empty summary"))
	}

	return &domain.ConversationSummary{
		Text:      text,
		TurnCount: absorbed + len(turns),
	}, nil
}

func nonEmptyTurns(turns []domain.Turn) []domain.Turn {
	out := make([]domain.Turn, 0, len(turns))
	for _, turn := range turns {
		if strings.TrimSpace(turn.Content) == "" {
			continue
		}
		out = append(out, turn)
	}
	return out
}
