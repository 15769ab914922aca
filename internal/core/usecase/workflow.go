package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/tax-law-assistant/internal/core/domain"
)

type partitionRouter interface {
	Route(ctx context.Context, question string) ([]domain.Partition, error)
}

type documentRetriever interface {
	Retrieve(ctx context.Context, question string, partitions []domain.Partition) []domain.RetrievedDocument
}

type groundingGate interface {
	Evaluate(ctx context.Context, question string, docs []domain.RetrievedDocument) domain.GateDecision
}

type webSearchFallback interface {
	Search(ctx context.Context, question string) ([]domain.RetrievedDocument, error)
}

type answerGenerator interface {
	Generate(ctx context.Context, query domain.Query, docs []domain.RetrievedDocument, grounding domain.Grounding) (string, error)
	GenerateStream(ctx context.Context, query domain.Query, docs []domain.RetrievedDocument, grounding domain.Grounding, onFragment func(string) error) error
}

type WorkflowConfig struct {
	StreamMinChunkRunes int
	StreamBufferSize    int
}

// AnswerWorkflow sequences routing, retrieval, the relevance gate, the web
// fallback and generation for one request:
//
//	start -> retrieve -> [web_search] -> generate -> done
type AnswerWorkflow struct {
	router    partitionRouter
	retriever documentRetriever
	gate      groundingGate
	web       webSearchFallback
	generator answerGenerator
	cfg       WorkflowConfig
}

func NewAnswerWorkflow(
	router partitionRouter,
	retriever documentRetriever,
	gate groundingGate,
	web webSearchFallback,
	generator answerGenerator,
	cfg WorkflowConfig,
) *AnswerWorkflow {
	if cfg.StreamMinChunkRunes <= 0 {
		cfg.StreamMinChunkRunes = defaultStreamMinChunkRunes
	}
	if cfg.StreamBufferSize <= 0 {
		cfg.StreamBufferSize = 16
	}
	return &AnswerWorkflow{
		router:    router,
		retriever: retriever,
		gate:      gate,
		web:       web,
		generator: generator,
		cfg:       cfg,
	}
}

func (w *AnswerWorkflow) Answer(ctx context.Context, query domain.Query) (*domain.AnswerResult, error) {
	started := time.Now()
	state := &domain.WorkflowState{Query: query}
	if err := w.run(ctx, state, domain.StageDone); err != nil {
		return nil, err
	}

	return &domain.AnswerResult{
		Answer:           state.Answer,
		GroundedInCorpus: state.GroundedInCorpus(),
		Grounding:        state.Grounding,
		Partitions:       state.Partitions,
		DocumentCount:    len(state.Documents),
		GateReason:       state.GateReason,
		Elapsed:          time.Since(started),
	}, nil
}

// AnswerStream runs every stage up to generation synchronously, so routing and
// search failures are returned before any fragment is produced. Generation
// then runs in its own goroutine feeding the returned channel.
func (w *AnswerWorkflow) AnswerStream(ctx context.Context, query domain.Query) (*domain.AnswerStream, error) {
	state := &domain.WorkflowState{Query: query}
	if err := w.run(ctx, state, domain.StageGenerate); err != nil {
		return nil, err
	}

	events := make(chan domain.StreamEvent, w.cfg.StreamBufferSize)
	go w.streamAnswer(ctx, state, events)

	return &domain.AnswerStream{
		Grounding:     state.Grounding,
		Partitions:    state.Partitions,
		DocumentCount: len(state.Documents),
		GateReason:    state.GateReason,
		Events:        events,
	}, nil
}

// run advances the state machine from start until it reaches stop.
func (w *AnswerWorkflow) run(ctx context.Context, state *domain.WorkflowState, stop domain.Stage) error {
	stage := domain.StageStart
	for stage != stop {
		next, err := w.step(ctx, stage, state)
		if err != nil {
			return err
		}
		stage = next
	}
	return nil
}

func (w *AnswerWorkflow) step(ctx context.Context, stage domain.Stage, state *domain.WorkflowState) (domain.Stage, error) {
	switch stage {
	case domain.StageStart:
		return domain.StageRetrieve, nil
	case domain.StageRetrieve:
		decision := w.retrieve(ctx, state)
		if decision.Grounding == domain.GroundingWeb {
			return domain.StageWebSearch, nil
		}
		return domain.StageGenerate, nil
	case domain.StageWebSearch:
		docs, err := w.web.Search(ctx, state.Query.Question)
		if err != nil {
			return "", err
		}
		state.Documents = docs
		state.Grounding = domain.GroundingWeb
		return domain.StageGenerate, nil
	case domain.StageGenerate:
		answer, err := w.generator.Generate(ctx, state.Query, state.Documents, state.Grounding)
		if err != nil {
			return "", err
		}
		state.Answer = answer
		return domain.StageDone, nil
	default:
		return "", fmt.Errorf("unknown workflow stage %q", stage)
	}
}

// retrieve treats a routing failure like an empty route, which the gate
// sends to the web fallback.
func (w *AnswerWorkflow) retrieve(ctx context.Context, state *domain.WorkflowState) domain.GateDecision {
	partitions, err := w.router.Route(ctx, state.Query.Question)
	if err != nil {
		slog.Warn("partition_route_failed", "error", err)
		partitions = nil
	}
	state.Partitions = partitions

	if len(partitions) > 0 {
		state.Documents = w.retriever.Retrieve(ctx, state.Query.Question, partitions)
	}

	decision := w.gate.Evaluate(ctx, state.Query.Question, state.Documents)
	state.Grounding = decision.Grounding
	state.GateReason = decision.Reason
	return decision
}

func (w *AnswerWorkflow) streamAnswer(ctx context.Context, state *domain.WorkflowState, events chan<- domain.StreamEvent) {
	defer close(events)

	send := func(event domain.StreamEvent) error {
		select {
		case events <- event:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	chunker := NewRechunker(w.cfg.StreamMinChunkRunes)
	err := w.generator.GenerateStream(ctx, state.Query, state.Documents, state.Grounding, func(fragment string) error {
		if chunk, ok := chunker.Push(fragment); ok {
			return send(domain.StreamEvent{Text: chunk})
		}
		return nil
	})
	if err == nil {
		if rest, ok := chunker.Flush(); ok {
			err = send(domain.StreamEvent{Text: rest})
		}
	}
	if err != nil && ctx.Err() == nil {
		slog.Error("answer_stream_failed", "grounding", state.Grounding, "error", err)
		_ = send(domain.StreamEvent{Err: err})
	}
}
