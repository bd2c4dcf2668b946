package embedding

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const (
	// MaxBatchSize はEmbedding APIの1回の呼び出しに渡せる最大テキスト数。
	// プロバイダ側の上限であり、チューニング対象の値ではない。
	MaxBatchSize = 2048

	// DefaultDimension はEmbeddingベクトルのデフォルト次元数
	DefaultDimension = 1536
)

// Provider はEmbedding生成の外部プロバイダとの契約を表す
type Provider interface {
	// CreateEmbeddings はテキスト群をバッチでベクトルに変換する
	CreateEmbeddings(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension はベクトル次元数を返す
	Dimension() int
}

// Batcher はチャンク群をプロバイダ上限以下のグループに分けてEmbedding化する。
// バッチ失敗時は個別呼び出しへフォールバックし、個別も失敗した場合は
// ゼロベクトルで位置合わせを維持する。
type Batcher struct {
	provider Provider
	logger   *slog.Logger
}

// BatcherOption は Batcher のオプション設定
type BatcherOption func(*Batcher)

// WithBatcherLogger は Batcher にロガーを設定する
func WithBatcherLogger(logger *slog.Logger) BatcherOption {
	return func(b *Batcher) {
		b.logger = logger
	}
}

// NewBatcher は新しいBatcherを作成する
func NewBatcher(provider Provider, opts ...BatcherOption) *Batcher {
	b := &Batcher{
		provider: provider,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// EmbedBatch はテキスト群をEmbedding化し、入力と位置の揃ったベクトル列を返す。
// 空白のみのテキストの位置は nil のまま残る。
func (b *Batcher) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, len(texts))

	// 空テキストを除いた位置を集める
	indexes := make([]int, 0, len(texts))
	inputs := make([]string, 0, len(texts))
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			continue
		}
		indexes = append(indexes, i)
		inputs = append(inputs, text)
	}

	for offset := 0; offset < len(inputs); offset += MaxBatchSize {
		end := offset + MaxBatchSize
		if end > len(inputs) {
			end = len(inputs)
		}
		group := inputs[offset:end]

		groupVectors, err := b.provider.CreateEmbeddings(ctx, group)
		if err != nil || len(groupVectors) != len(group) {
			if err != nil {
				b.logger.Warn("batch embedding failed, falling back to per-item calls",
					"batchSize", len(group),
					"error", err,
				)
			} else {
				b.logger.Warn("batch embedding returned mismatched count, falling back to per-item calls",
					"expected", len(group),
					"got", len(groupVectors),
				)
			}
			groupVectors = b.embedIndividually(ctx, group)
		}

		for i, vector := range groupVectors {
			vectors[indexes[offset+i]] = vector
		}
	}

	return vectors, nil
}

// EmbedOne は単一テキストのEmbeddingを生成する（クエリ用）
func (b *Batcher) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text is empty")
	}

	vectors, err := b.provider.CreateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, fmt.Errorf("failed to embed text: %w", err)
	}
	if len(vectors) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return vectors[0], nil
}

// embedIndividually はバッチ失敗時に1件ずつEmbedding化する。
// 個別呼び出しも失敗したテキストにはゼロベクトルを割り当て、
// 呼び出し側が「欠損Embedding」を分岐処理しなくて済むようにする。
func (b *Batcher) embedIndividually(ctx context.Context, texts []string) [][]float32 {
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		itemVectors, err := b.provider.CreateEmbeddings(ctx, []string{text})
		if err != nil || len(itemVectors) == 0 {
			b.logger.Warn("individual embedding failed, substituting zero vector",
				"index", i,
				"error", err,
			)
			vectors[i] = make([]float32, b.dimension())
			continue
		}
		vectors[i] = itemVectors[0]
	}
	return vectors
}

// Dimension は使用中のベクトル次元数を返す
func (b *Batcher) Dimension() int {
	return b.dimension()
}

func (b *Batcher) dimension() int {
	if d := b.provider.Dimension(); d > 0 {
		return d
	}
	return DefaultDimension
}
