package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/finsight/docrag/internal/core/chunk"
	"github.com/finsight/docrag/internal/core/embedding"
	"github.com/finsight/docrag/internal/core/ingestion"
	"github.com/finsight/docrag/internal/core/query"
	"github.com/finsight/docrag/internal/core/rag"
	"github.com/finsight/docrag/internal/core/vectorstore"
	"github.com/finsight/docrag/internal/infra/extract"
	"github.com/finsight/docrag/internal/infra/openai"
	"github.com/finsight/docrag/internal/infra/postgres"
	"github.com/finsight/docrag/internal/platform/logger"
	"github.com/finsight/docrag/internal/platform/metrics"
	"github.com/finsight/docrag/pkg/config"
	"github.com/finsight/docrag/pkg/db"
)

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config    *config.Config
	Logger    *slog.Logger
	Database  *db.DB
	Registry  *prometheus.Registry
	Metrics   *metrics.Metrics
	Extractor *extract.Extractor
	Store     *vectorstore.Service
	Ingestion *ingestion.Service
	RAG       *rag.Service
}

// NewAppContext は設定を読み込み、DBに接続して全コンポーネントを組み立てる
func NewAppContext(ctx context.Context, envFile string) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}

	appLogger := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})

	database, err := db.New(ctx, db.ConnectionParams{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		SSLMode:  cfg.Database.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("DB接続に失敗: %w", err)
	}

	registry := prometheus.NewRegistry()
	appMetrics := metrics.New(registry)

	embedder, err := openai.NewEmbedder(cfg.OpenAI.APIKey,
		openai.WithEmbeddingModel(cfg.OpenAI.EmbeddingModel),
		openai.WithEmbeddingDimension(cfg.OpenAI.EmbeddingDimension),
	)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("Embedderの初期化に失敗: %w", err)
	}

	llmClient, err := openai.NewClient(cfg.OpenAI.APIKey,
		openai.WithChatModel(cfg.OpenAI.ChatModel),
	)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("LLMクライアントの初期化に失敗: %w", err)
	}

	chunker, err := chunk.NewChunker(
		chunk.WithChunkSize(cfg.Chunking.ChunkSize),
		chunk.WithOverlapFraction(cfg.Chunking.OverlapFraction),
	)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("Chunkerの初期化に失敗: %w", err)
	}

	batcher := embedding.NewBatcher(embedder, embedding.WithBatcherLogger(appLogger))

	repo := postgres.NewEmbeddingRepository(database.Pool, postgres.WithRepositoryLogger(appLogger))
	store := vectorstore.NewService(repo, vectorstore.WithServiceLogger(appLogger))

	ingestionService := ingestion.NewService(chunker, batcher, store,
		ingestion.WithServiceLogger(appLogger),
		ingestion.WithServiceMetrics(appMetrics),
	)

	classifier := query.NewClassifier(llmClient.QueryCompletion(), query.WithClassifierLogger(appLogger))
	decomposer := query.NewDecomposer(llmClient.QueryCompletion(), query.WithDecomposerLogger(appLogger))

	ragService := rag.NewService(classifier, decomposer, batcher, store, llmClient,
		rag.WithLogger(appLogger),
		rag.WithMetrics(appMetrics),
	)

	return &AppContext{
		Config:    cfg,
		Logger:    appLogger,
		Database:  database,
		Registry:  registry,
		Metrics:   appMetrics,
		Extractor: extract.NewExtractor(extract.WithExtractorLogger(appLogger)),
		Store:     store,
		Ingestion: ingestionService,
		RAG:       ragService,
	}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Database != nil {
		ac.Database.Close()
	}
}
