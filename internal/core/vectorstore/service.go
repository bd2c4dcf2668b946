package vectorstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

const (
	// DefaultTopK は検索結果のデフォルト上限
	DefaultTopK = 10
	// DefaultSimilarityThreshold は類似度のデフォルト下限
	DefaultSimilarityThreshold = 0.3
	// FileScopedSimilarityThreshold はファイル指定検索の類似度下限。
	// 候補集合が既に絞られているため低めに設定する。
	FileScopedSimilarityThreshold = 0.2
	// UpsertBatchSize は1トランザクションで処理するレコード数の上限
	UpsertBatchSize = 100
	// dedupePrefixLength は重複排除に使うコンテンツ先頭の文字数
	dedupePrefixLength = 100
)

// Service はベクトルストアのビジネスロジックを提供する。
// 呼び出しごとに状態を持たず、全ての状態はバックエンドストアにある。
type Service struct {
	repo   Repository
	logger *slog.Logger
}

// ServiceOption は Service のオプション設定
type ServiceOption func(*Service)

// WithServiceLogger は Service にロガーを設定する
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService は新しいServiceを作成する
func NewService(repo Repository, opts ...ServiceOption) *Service {
	s := &Service{
		repo:   repo,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Upsert はレコード群をUpsertBatchSize件ずつのグループでupsertし、成功件数を返す。
// 部分的な成功は許容され、例外ではなく件数として報告される。
func (s *Service) Upsert(ctx context.Context, records []*EmbeddingRecord) (int, error) {
	total := 0
	for offset := 0; offset < len(records); offset += UpsertBatchSize {
		end := offset + UpsertBatchSize
		if end > len(records) {
			end = len(records)
		}

		count, err := s.repo.UpsertBatch(ctx, records[offset:end])
		if err != nil {
			return total, fmt.Errorf("failed to upsert batch: %w", err)
		}
		total += count
	}

	s.logger.Info("upsert completed", "requested", len(records), "succeeded", total)
	return total, nil
}

// SearchSimilar は単純な類似検索を実行する
func (s *Service) SearchSimilar(ctx context.Context, queryVector []float32, filter SearchFilter) ([]*SearchResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = DefaultTopK
	}
	if filter.SimilarityThreshold <= 0 {
		filter.SimilarityThreshold = DefaultSimilarityThreshold
	}

	results, err := s.repo.SearchSimilar(ctx, queryVector, filter)
	if err != nil {
		return nil, fmt.Errorf("similarity search failed: %w", err)
	}
	return results, nil
}

// MultiFileSearchParams はカテゴリ優先のマルチファイル検索パラメータ
type MultiFileSearchParams struct {
	TopK                int
	SimilarityThreshold float64
}

// SearchMultiFile はカテゴリ一致レッグとカテゴリ横断レッグの2段検索を実行する。
// カテゴリ一致は常にカテゴリ横断より優先され、横断レッグは
// 候補不足を埋める安全網としてのみ機能する。
func (s *Service) SearchMultiFile(ctx context.Context, queryVector []float32, category Category, params MultiFileSearchParams) ([]*SearchResult, error) {
	topK := params.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	threshold := params.SimilarityThreshold
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}

	// レッグ1: カテゴリ一致検索（topK/2件まで）
	categoryResults, err := s.repo.SearchSimilar(ctx, queryVector, SearchFilter{
		Category:            mo.Some(category),
		SimilarityThreshold: threshold,
		Limit:               topK / 2,
	})
	if err != nil {
		return nil, fmt.Errorf("category search failed: %w", err)
	}
	for _, result := range categoryResults {
		result.Relevance = RelevanceCategoryMatch
	}

	// レッグ2: カテゴリ横断検索（topK件まで）。
	// 分類違い・カテゴリ曖昧なクエリで結果が枯れるのを防ぐ。
	crossResults, err := s.repo.SearchSimilar(ctx, queryVector, SearchFilter{
		SimilarityThreshold: threshold,
		Limit:               topK,
	})
	if err != nil {
		return nil, fmt.Errorf("cross-category search failed: %w", err)
	}
	for _, result := range crossResults {
		result.Relevance = RelevanceCrossCategory
	}

	merged := dedupeByContentPrefix(append(categoryResults, crossResults...))

	// カテゴリ一致を優先し、同一優先度内では距離の昇順
	sort.SliceStable(merged, func(i, j int) bool {
		pi, pj := merged[i].Relevance.searchPriority(), merged[j].Relevance.searchPriority()
		if pi != pj {
			return pi < pj
		}
		return merged[i].Distance < merged[j].Distance
	})

	if len(merged) > topK {
		merged = merged[:topK]
	}

	s.logger.Info("multi-file search completed",
		"category", string(category),
		"categoryMatches", len(categoryResults),
		"crossCategory", len(crossResults),
		"returned", len(merged),
	)
	return merged, nil
}

// FileSearchParams はファイル指定検索のパラメータ
type FileSearchParams struct {
	TopK                int
	SimilarityThreshold float64
}

// SearchByFiles は明示的なファイル許可リストに限定して検索する。
// ユーザーが特定ドキュメントを固定した場合に使用する。
func (s *Service) SearchByFiles(ctx context.Context, queryVector []float32, fileIDs []uuid.UUID, params FileSearchParams) ([]*SearchResult, error) {
	if len(fileIDs) == 0 {
		return nil, fmt.Errorf("fileIDs is required")
	}

	topK := params.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}
	threshold := params.SimilarityThreshold
	if threshold <= 0 {
		threshold = FileScopedSimilarityThreshold
	}

	results, err := s.repo.SearchSimilar(ctx, queryVector, SearchFilter{
		FileIDs:             fileIDs,
		SimilarityThreshold: threshold,
		Limit:               topK,
	})
	if err != nil {
		return nil, fmt.Errorf("file-scoped search failed: %w", err)
	}
	return results, nil
}

// DeleteByFileID はファイルIDに紐づく行を削除する
func (s *Service) DeleteByFileID(ctx context.Context, fileID uuid.UUID) (int64, error) {
	count, err := s.repo.DeleteByFileID(ctx, fileID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete by file id: %w", err)
	}
	s.logger.Info("deleted embeddings by file id", "fileID", fileID.String(), "count", count)
	return count, nil
}

// DeleteBySource はソースファイル名に紐づく行を削除する
func (s *Service) DeleteBySource(ctx context.Context, sourceFile string) (int64, error) {
	count, err := s.repo.DeleteBySource(ctx, sourceFile)
	if err != nil {
		return 0, fmt.Errorf("failed to delete by source: %w", err)
	}
	s.logger.Info("deleted embeddings by source", "sourceFile", sourceFile, "count", count)
	return count, nil
}

// ListSourceFiles はストアに存在するソースファイルの一覧を返す
func (s *Service) ListSourceFiles(ctx context.Context) ([]*SourceFileInfo, error) {
	files, err := s.repo.ListSourceFiles(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list source files: %w", err)
	}
	return files, nil
}

// dedupeByContentPrefix はコンテンツ先頭100文字が一致する結果を重複排除する。
// 同一ないし近接チャンクが両レッグから現れるのを防ぐ。
// 先に出現した要素（= カテゴリ一致レッグ側）が生き残る。
func dedupeByContentPrefix(results []*SearchResult) []*SearchResult {
	seen := make(map[string]bool, len(results))
	deduped := make([]*SearchResult, 0, len(results))
	for _, result := range results {
		key := contentPrefix(result.Text)
		if seen[key] {
			continue
		}
		seen[key] = true
		deduped = append(deduped, result)
	}
	return deduped
}

func contentPrefix(text string) string {
	runes := []rune(text)
	if len(runes) > dedupePrefixLength {
		return string(runes[:dedupePrefixLength])
	}
	return text
}
