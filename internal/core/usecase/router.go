package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kirillkom/tax-law-assistant/internal/core/domain"
	"github.com/kirillkom/tax-law-assistant/internal/core/ports"
)

// CategoryRouter selects up to two statute partitions for a question.
type CategoryRouter struct {
	model   ports.LanguageModel
	prompts ports.PromptRenderer
	profile domain.ModelProfile
	schema  []byte
}

func NewCategoryRouter(model ports.LanguageModel, prompts ports.PromptRenderer, profile domain.ModelProfile) *CategoryRouter {
	return &CategoryRouter{
		model:   model,
		prompts: prompts,
		profile: profile,
		schema:  partitionSelectionSchema(),
	}
}

// Route returns the partitions chosen by the model, verbatim and in order. An
// empty result means the question is outside the corpus.
func (r *CategoryRouter) Route(ctx context.Context, question string) ([]domain.Partition, error) {
	messages, err := r.prompts.Render(PromptPartitionRouter, routerPromptData{
		Question:   question,
		Partitions: domain.Partitions(),
	})
	if err != nil {
		return nil, fmt.Errorf("render router prompt: %w", err)
	}

	raw, err := r.model.GenerateJSON(ctx, r.profile.Request(messages), r.schema)
	if err != nil {
		return nil, fmt.Errorf("classify partitions: %w", err)
	}

	selected, err := decodePartitionSelection(raw)
	if err != nil {
		return nil, err
	}
	slog.Info("partition_route", "partitions", selected)
	return selected, nil
}

type partitionSelection struct {
	Targets []string `json:"targets"`
}

func decodePartitionSelection(raw []byte) ([]domain.Partition, error) {
	var selection partitionSelection
	if err := json.Unmarshal(raw, &selection); err != nil {
		return nil, domain.WrapError(domain.ErrMalformedOutput, "decode partition selection", err)
	}
	if len(selection.Targets) > domain.MaxRoutedPartitions {
		return nil, domain.WrapError(
			domain.ErrMalformedOutput,
			"decode partition selection",
			fmt.Errorf("%d partitions selected, at most %d allowed", len(selection.Targets), domain.MaxRoutedPartitions),
		)
	}

	out := make([]domain.Partition, 0, len(selection.Targets))
	for _, target := range selection.Targets {
		partition, ok := domain.ParsePartition(target)
		if !ok {
			return nil, domain.WrapError(domain.ErrMalformedOutput, "decode partition selection", fmt.Errorf("unknown partition %q", target))
		}
		out = append(out, partition)
	}
	return out, nil
}

func partitionSelectionSchema() []byte {
	enum := make([]string, 0, len(domain.Partitions()))
	for _, partition := range domain.Partitions() {
		enum = append(enum, partition.String())
	}
	schema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"targets": map[string]any{
				"type":     "array",
				"maxItems": domain.MaxRoutedPartitions,
				"items": map[string]any{
					"type": "string",
					"enum": enum,
				},
			},
		},
		"required":             []string{"targets"},
		"additionalProperties": false,
	}
	raw, _ := json.Marshal(schema)
	return raw
}
