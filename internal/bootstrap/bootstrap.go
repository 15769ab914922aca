package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kirillkom/tax-law-assistant/internal/config"
	"github.com/kirillkom/tax-law-assistant/internal/core/domain"
	"github.com/kirillkom/tax-law-assistant/internal/core/ports"
	"github.com/kirillkom/tax-law-assistant/internal/core/usecase"
	"github.com/kirillkom/tax-law-assistant/internal/infrastructure/chunking"
	"github.com/kirillkom/tax-law-assistant/internal/infrastructure/extractor/pdftext"
	"github.com/kirillkom/tax-law-assistant/internal/infrastructure/extractor/plaintext"
	"github.com/kirillkom/tax-law-assistant/internal/infrastructure/lexical"
	"github.com/kirillkom/tax-law-assistant/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/tax-law-assistant/internal/infrastructure/prompts"
	"github.com/kirillkom/tax-law-assistant/internal/infrastructure/resilience"
	"github.com/kirillkom/tax-law-assistant/internal/infrastructure/storage/localfs"
	"github.com/kirillkom/tax-law-assistant/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/tax-law-assistant/internal/infrastructure/websearch/tavily"
)

// App holds the request-time use cases. Everything in it is safe for
// concurrent requests; no state survives a request.
type App struct {
	Config config.Config

	Answerer   ports.QuestionAnswerer
	Summarizer ports.ConversationSummarizer

	closeFn func()
}

// New builds the answering pipeline. Partition indexes are discovered once
// here; a partition indexed later becomes visible after a restart.
func New(ctx context.Context, cfg config.Config, observer resilience.Observer) (*App, error) {
	// Model calls are never retried, so a failed generation surfaces at once.
	chatClient := ollama.New(ollama.Config{BaseURL: cfg.OllamaURL, Timeout: cfg.OllamaTimeout},
		resilience.NewExecutor(ResilienceConfig(cfg).SingleAttempt()).WithObserver(observer))
	embedClient := ollama.New(ollama.Config{BaseURL: cfg.OllamaURL, Timeout: cfg.OllamaTimeout},
		newExecutor(cfg, observer))
	model := ollama.NewChatModel(chatClient)
	embedder := ollama.NewEmbedder(embedClient, cfg.EmbedModel)

	dense := qdrant.New(qdrant.Config{
		BaseURL:          cfg.QdrantURL,
		CollectionPrefix: cfg.QdrantCollectionPrefix,
		Timeout:          cfg.QdrantTimeout,
	}, newExecutor(cfg, observer))
	if err := dense.Discover(ctx); err != nil {
		slog.Warn("dense_index_discovery_failed", "error", err)
	}

	lexicalStore := lexical.NewStore(cfg.LexicalIndexDir)
	opened, err := lexicalStore.OpenAll()
	if err != nil {
		return nil, fmt.Errorf("open lexical indexes: %w", err)
	}
	logPartitionCoverage(dense, lexicalStore, opened)

	renderer, err := prompts.NewDefault()
	if err != nil {
		return nil, fmt.Errorf("load prompt catalog: %w", err)
	}

	web := tavily.New(tavily.Config{
		BaseURL:     cfg.TavilyURL,
		APIKey:      cfg.TavilyAPIKey,
		MaxResults:  cfg.WebMaxResults,
		SearchDepth: cfg.WebSearchDepth,
		Timeout:     cfg.TavilyTimeout,
	}, newExecutor(cfg, observer))
	if cfg.TavilyAPIKey == "" {
		slog.Warn("web_search_disabled", "reason", "TAVILY_API_KEY is empty")
	}

	answerProfile := func(model string) domain.ModelProfile {
		return domain.ModelProfile{Model: model, Temperature: cfg.Temperature, MaxTokens: cfg.MaxTokens}
	}

	router := usecase.NewCategoryRouter(model, renderer, answerProfile(cfg.RouterModel))
	retriever := usecase.NewHybridRetriever(embedder, dense, lexicalStore, usecase.RetrievalConfig{
		DenseTopK:     cfg.TopKDense,
		LexicalTopK:   cfg.TopKLexical,
		DenseWeight:   cfg.DenseWeight,
		LexicalWeight: cfg.LexicalWeight,
		FusionK:       cfg.FusionK,
		MaxWorkers:    cfg.MaxWorkers,
		MaxDocuments:  cfg.MaxDocs,
	})
	gate := usecase.NewRelevanceGate(model, renderer, answerProfile(cfg.RouterModel), cfg.ContextCharLimit)
	fallback := usecase.NewWebFallback(web, cfg.WebMaxResults)
	generator := usecase.NewAnswerGenerator(model, renderer, usecase.GeneratorConfig{
		Primary:          answerProfile(cfg.PrimaryModel),
		Secondary:        answerProfile(cfg.SecondaryModel),
		MaxContextDocs:   cfg.MaxContextDocs,
		ContextCharLimit: cfg.ContextCharLimit,
		HistoryTurns:     cfg.HistoryTurns,
		NoInfoAnswer:     cfg.NoInfoAnswer,
	})
	workflow := usecase.NewAnswerWorkflow(router, retriever, gate, fallback, generator, usecase.WorkflowConfig{
		StreamMinChunkRunes: cfg.StreamMinChunkRunes,
		StreamBufferSize:    cfg.StreamBufferSize,
	})
	summarizer := usecase.NewSummarizeUseCase(model, renderer, usecase.SummarizeConfig{
		Profile: domain.ModelProfile{
			Model:       cfg.SummaryModel,
			Temperature: cfg.SummaryTemperature,
			MaxTokens:   cfg.SummaryMaxTokens,
		},
		EmptyText: cfg.EmptyChatSummary,
	})

	return &App{
		Config:     cfg,
		Answerer:   workflow,
		Summarizer: summarizer,
		closeFn: func() {
			if err := lexicalStore.Close(); err != nil {
				slog.Warn("lexical_index_close_failed", "error", err)
			}
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// Indexer builds partition indexes offline from the statute directory.
type Indexer struct {
	Config config.Config

	Storage *localfs.Storage
	UseCase ports.PartitionIndexer

	closeFn func()
}

func NewIndexer(cfg config.Config, observer resilience.Observer) (*Indexer, error) {
	storage, err := localfs.New(cfg.SourceDir)
	if err != nil {
		return nil, fmt.Errorf("init statute storage: %w", err)
	}

	embedClient := ollama.New(ollama.Config{BaseURL: cfg.OllamaURL, Timeout: cfg.OllamaTimeout},
		newExecutor(cfg, observer))
	embedder := ollama.NewEmbedder(embedClient, cfg.EmbedModel)

	dense := qdrant.New(qdrant.Config{
		BaseURL:          cfg.QdrantURL,
		CollectionPrefix: cfg.QdrantCollectionPrefix,
		Timeout:          cfg.QdrantTimeout,
	}, newExecutor(cfg, observer))
	lexicalStore := lexical.NewStore(cfg.LexicalIndexDir)

	extractors := []ports.TextExtractor{
		pdftext.NewExtractor(storage),
		plaintext.NewExtractor(storage),
	}
	uc := usecase.NewPartitionIndexUseCase(
		storage,
		extractors,
		chunking.NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		embedder,
		dense,
		lexicalStore,
		cfg.EmbedBatchSize,
	)

	return &Indexer{
		Config:  cfg,
		Storage: storage,
		UseCase: uc,
		closeFn: func() {
			_ = lexicalStore.Close()
		},
	}, nil
}

func (i *Indexer) Close() {
	if i.closeFn != nil {
		i.closeFn()
	}
}

func newExecutor(cfg config.Config, observer resilience.Observer) *resilience.Executor {
	return resilience.NewExecutor(ResilienceConfig(cfg)).WithObserver(observer)
}

func ResilienceConfig(cfg config.Config) resilience.Config {
	return resilience.Config{
		RetryMaxAttempts:        cfg.ResilienceRetryMaxAttempts,
		RetryInitialBackoff:     cfg.ResilienceRetryInitialBackoff,
		RetryMaxBackoff:         cfg.ResilienceRetryMaxBackoff,
		RetryMultiplier:         cfg.ResilienceRetryMultiplier,
		BreakerEnabled:          cfg.ResilienceBreakerEnabled,
		BreakerMinRequests:      cfg.ResilienceBreakerMinRequests,
		BreakerFailureRatio:     cfg.ResilienceBreakerFailureRatio,
		BreakerOpenTimeout:      cfg.ResilienceBreakerOpenTimeout,
		BreakerHalfOpenMaxCalls: cfg.ResilienceBreakerHalfOpenMax,
	}
}

func logPartitionCoverage(dense *qdrant.Client, lexicalStore *lexical.Store, lexicalOpened int) {
	var searchable, partial []string
	for _, partition := range domain.Partitions() {
		hasDense, hasLexical := dense.HasPartition(partition), lexicalStore.HasPartition(partition)
		switch {
		case hasDense && hasLexical:
			searchable = append(searchable, partition.String())
		case hasDense || hasLexical:
			partial = append(partial, partition.String())
		}
	}
	slog.Info("partition_indexes_loaded",
		"searchable", len(searchable),
		"lexical_opened", lexicalOpened,
		"partial", partial,
	)
}
