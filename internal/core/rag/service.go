package rag

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/finsight/docrag/internal/core/vectorstore"
	"github.com/finsight/docrag/internal/platform/metrics"
)

const (
	// answerMaxTokens は回答生成呼び出しのトークン上限
	answerMaxTokens = 512

	// sourceExcerptLength は返却するソース抜粋の最大文字数
	sourceExcerptLength = 200
)

// Service はRAG質問応答のオーケストレーションを提供する
type Service struct {
	classifier Classifier
	decomposer Decomposer
	embedder   QueryEmbedder
	retriever  Retriever
	llm        CompletionClient
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// ServiceOption は Service のオプション設定
type ServiceOption func(*Service)

// WithLogger は Service にロガーを設定する
func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithMetrics は Service にメトリクスを設定する
func WithMetrics(m *metrics.Metrics) ServiceOption {
	return func(s *Service) {
		s.metrics = m
	}
}

// NewService は新しいServiceを作成する
func NewService(
	classifier Classifier,
	decomposer Decomposer,
	embedder QueryEmbedder,
	retriever Retriever,
	llm CompletionClient,
	opts ...ServiceOption,
) *Service {
	s := &Service{
		classifier: classifier,
		decomposer: decomposer,
		embedder:   embedder,
		retriever:  retriever,
		llm:        llm,
		metrics:    metrics.NewNop(),
		logger:     slog.Default(),
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

// Ask は質問に対して同期で回答を生成する
func (s *Service) Ask(ctx context.Context, params AskParams) (*Response, error) {
	start := time.Now()

	if strings.TrimSpace(params.Query) == "" {
		return nil, fmt.Errorf("query is required")
	}

	classification := s.classifier.Classify(ctx, params.Query)
	s.logger.Info("query classified",
		"category", string(classification.Category),
		"complexity", classification.ComplexityScore,
		"strategy", string(classification.Strategy),
	)

	// メタデータで答えられるクエリは検索と生成を丸ごと飛ばす
	if classification.AnswerableFromMetadata {
		answer, err := s.answerFromMetadata(ctx)
		if err != nil {
			return nil, err
		}
		s.observe(start, "metadata")
		return &Response{
			Answer:    answer,
			Category:  classification.Category,
			ElapsedMs: time.Since(start).Milliseconds(),
		}, nil
	}

	// 分解はベストエフォート。サブクエリは透明性のため返却するが、
	// 検索は常に元クエリで行う。
	subQueries := s.decomposer.Decompose(ctx, params.Query, classification.ComplexityScore)

	queryVector, err := s.embedder.EmbedOne(ctx, params.Query)
	if err != nil {
		s.observe(start, "error")
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	results, err := s.retrieve(ctx, queryVector, params, classification.Category)
	if err != nil {
		s.observe(start, "error")
		return nil, err
	}

	valid := validateContext(results)
	if len(valid) == 0 {
		// 空コンテキストはエラーではない。プロバイダに空プロンプトを送らない。
		s.observe(start, "no_context")
		return &Response{
			Answer:    NoInformationAnswer,
			Category:  classification.Category,
			ElapsedMs: time.Since(start).Milliseconds(),
		}, nil
	}

	prompt := BuildAnswerPrompt(params.Query, BuildContext(valid))
	answer, err := s.llm.GenerateCompletion(ctx, CompletionRequest{
		System:      AnswerSystemPrompt,
		Prompt:      prompt,
		MaxTokens:   answerMaxTokens,
		Temperature: 0,
	})
	if err != nil {
		// 生成失敗だけは呼び出し元に伝播する。回答の捏造よりも失敗報告を選ぶ。
		s.observe(start, "error")
		return nil, fmt.Errorf("answer generation failed: %w", err)
	}

	s.observe(start, "ok")
	response := &Response{
		Answer:    strings.TrimSpace(answer),
		Sources:   buildSources(valid),
		Category:  classification.Category,
		ElapsedMs: time.Since(start).Milliseconds(),
	}
	if len(subQueries) > 1 {
		response.SubQueries = subQueries
	}
	return response, nil
}

// retrieve はファイル指定の有無に応じて検索を実行し、類似度降順に整える
func (s *Service) retrieve(ctx context.Context, queryVector []float32, params AskParams, category vectorstore.Category) ([]*vectorstore.SearchResult, error) {
	var results []*vectorstore.SearchResult
	var err error

	if len(params.FileIDs) > 0 {
		results, err = s.retriever.SearchByFiles(ctx, queryVector, params.FileIDs, vectorstore.FileSearchParams{TopK: params.TopK})
	} else {
		results, err = s.retriever.SearchMultiFile(ctx, queryVector, category, vectorstore.MultiFileSearchParams{TopK: params.TopK})
	}
	if err != nil {
		return nil, fmt.Errorf("retrieval failed: %w", err)
	}

	// ストアは距離順で返すが、シリアライズ境界を越えた順序を信用せず並べ直す
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	return results, nil
}

// answerFromMetadata はストア内ファイル一覧から静的な回答を組み立てる
func (s *Service) answerFromMetadata(ctx context.Context) (string, error) {
	files, err := s.retriever.ListSourceFiles(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to list source files: %w", err)
	}
	if len(files) == 0 {
		return "I don't have any files yet.", nil
	}

	var sb strings.Builder
	sb.WriteString("I have the following files:\n")
	for _, file := range files {
		sb.WriteString("- ")
		sb.WriteString(file.SourceFile)
		if category, ok := file.Category.Get(); ok {
			sb.WriteString(fmt.Sprintf(" (%s)", category))
		}
		sb.WriteString("\n")
	}
	return strings.TrimSpace(sb.String()), nil
}

func (s *Service) observe(start time.Time, outcome string) {
	s.metrics.QueryDuration.Observe(time.Since(start).Seconds())
	s.metrics.QueriesTotal.WithLabelValues(outcome).Inc()
}

// validateContext は空・空白のみのテキストを持つ結果を落とす
func validateContext(results []*vectorstore.SearchResult) []*vectorstore.SearchResult {
	valid := make([]*vectorstore.SearchResult, 0, len(results))
	for _, result := range results {
		if strings.TrimSpace(result.Text) == "" {
			continue
		}
		valid = append(valid, result)
	}
	return valid
}

// buildSources は検索結果を200文字抜粋付きのソース参照に変換する
func buildSources(results []*vectorstore.SearchResult) []Source {
	sources := make([]Source, 0, len(results))
	for _, result := range results {
		excerpt := result.Text
		if runes := []rune(excerpt); len(runes) > sourceExcerptLength {
			excerpt = string(runes[:sourceExcerptLength])
		}
		sources = append(sources, Source{
			SourceFile: result.SourceFile,
			ChunkIndex: result.ChunkIndex,
			Category:   result.Category,
			Similarity: result.Similarity,
			Excerpt:    excerpt,
		})
	}
	return sources
}
