package ingestion

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/finsight/docrag/internal/core/chunk"
	"github.com/finsight/docrag/internal/core/vectorstore"
	"github.com/finsight/docrag/internal/platform/metrics"
)

// Embedder はチャンク群のEmbedding生成との契約を表す
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Store はEmbeddingの永続化との契約を表す
type Store interface {
	Upsert(ctx context.Context, records []*vectorstore.EmbeddingRecord) (int, error)
	DeleteByFileID(ctx context.Context, fileID uuid.UUID) (int64, error)
	DeleteBySource(ctx context.Context, sourceFile string) (int64, error)
}

// Service はファイルの取り込みと削除を提供する。
// 同一ファイルIDに対するupsertとdeleteはキー単位のロックで直列化され、
// 削除中に同じファイルの新しい行が混入しないことを保証する。
type Service struct {
	chunker  *chunk.Chunker
	embedder Embedder
	store    Store
	locks    *keyedMutex
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// ServiceOption は Service のオプション設定
type ServiceOption func(*Service)

// WithServiceLogger は Service にロガーを設定する
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithServiceMetrics は Service にメトリクスを設定する
func WithServiceMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService は新しいServiceを作成する
func NewService(chunker *chunk.Chunker, embedder Embedder, store Store, opts ...ServiceOption) *Service {
	s := &Service{
		chunker:  chunker,
		embedder: embedder,
		store:    store,
		locks:    newKeyedMutex(),
		metrics:  metrics.NewNop(),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.metrics == nil {
		s.metrics = metrics.NewNop()
	}
	return s
}

// Ingest はセグメント群をチャンク分割・Embedding化してストアへupsertする。
// 同じFileIDでの再実行は (file_id, chunk_index) のupsertにより冪等となる。
func (s *Service) Ingest(ctx context.Context, params IngestParams) (*IngestResult, error) {
	if params.SourceFile == "" {
		return nil, fmt.Errorf("sourceFile is required")
	}

	started := time.Now()
	fileID := params.FileID.OrElse(uuid.New())

	chunks := s.chunker.BuildChunksFromSegments(params.SourceFile, params.Segments)
	if len(chunks) == 0 {
		return nil, fmt.Errorf("no text content extracted from %s", params.SourceFile)
	}
	s.metrics.ChunksCreated.Add(float64(len(chunks)))

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}

	vectors, err := s.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}

	records := make([]*vectorstore.EmbeddingRecord, 0, len(chunks))
	degraded := 0
	now := time.Now().UTC()
	for i, c := range chunks {
		vector := vectors[i]
		if vector == nil {
			// チャンカーは空チャンクを落とすためここには通常到達しない
			s.logger.Warn("chunk has no embedding, skipping", "sourceFile", params.SourceFile, "chunkIndex", c.ChunkIndex)
			continue
		}
		if isZeroVector(vector) {
			degraded++
		}
		records = append(records, &vectorstore.EmbeddingRecord{
			ID:          uuid.New(),
			FileID:      mo.Some(fileID),
			Text:        c.Content,
			Vector:      vector,
			Category:    params.Category,
			SourceFile:  params.SourceFile,
			ChunkIndex:  c.ChunkIndex,
			TotalChunks: c.TotalChunks,
			TokenCount:  c.Tokens,
			CreatedAt:   now,
		})
	}
	s.metrics.EmbeddingsCreated.Add(float64(len(records) - degraded))
	s.metrics.EmbeddingsDegraded.Add(float64(degraded))

	lockKey := fileID.String()
	s.locks.Lock(lockKey)
	defer s.locks.Unlock(lockKey)

	upserted, err := s.store.Upsert(ctx, records)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert embeddings: %w", err)
	}
	if upserted < len(records) {
		s.metrics.UpsertFailures.Add(float64(len(records) - upserted))
		s.logger.Warn("some records failed to upsert",
			"sourceFile", params.SourceFile,
			"requested", len(records),
			"succeeded", upserted,
		)
	}

	result := &IngestResult{
		FileID:        fileID,
		SourceFile:    params.SourceFile,
		ChunkCount:    len(chunks),
		UpsertedCount: upserted,
		DegradedCount: degraded,
		Elapsed:       time.Since(started),
	}
	s.logger.Info("file ingested",
		"sourceFile", params.SourceFile,
		"fileID", fileID.String(),
		"chunks", result.ChunkCount,
		"upserted", result.UpsertedCount,
		"degraded", result.DegradedCount,
		"elapsedMs", result.Elapsed.Milliseconds(),
	)
	return result, nil
}

// DeleteFile はファイルIDに紐づく全Embeddingを削除する
func (s *Service) DeleteFile(ctx context.Context, fileID uuid.UUID) (int64, error) {
	lockKey := fileID.String()
	s.locks.Lock(lockKey)
	defer s.locks.Unlock(lockKey)

	count, err := s.store.DeleteByFileID(ctx, fileID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete file %s: %w", fileID.String(), err)
	}
	return count, nil
}

// DeleteSource はソースファイル名に紐づく全Embeddingを削除する
func (s *Service) DeleteSource(ctx context.Context, sourceFile string) (int64, error) {
	if sourceFile == "" {
		return 0, fmt.Errorf("sourceFile is required")
	}

	s.locks.Lock(sourceFile)
	defer s.locks.Unlock(sourceFile)

	count, err := s.store.DeleteBySource(ctx, sourceFile)
	if err != nil {
		return 0, fmt.Errorf("failed to delete source %s: %w", sourceFile, err)
	}
	return count, nil
}

func isZeroVector(vector []float32) bool {
	for _, v := range vector {
		if v != 0 {
			return false
		}
	}
	return true
}
