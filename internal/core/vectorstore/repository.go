package vectorstore

import (
	"context"

	"github.com/google/uuid"
	"github.com/samber/mo"
)

// SearchFilter はベクトル検索の任意フィルタを表す
type SearchFilter struct {
	Category            mo.Option[Category]
	FileIDs             []uuid.UUID
	SimilarityThreshold float64
	Limit               int
}

// Repository はEmbedding行の永続化と近傍検索のデータアクセスを表す。
// 実装は infra 層が提供する（PostgreSQL + pgvector）。
type Repository interface {
	// UpsertBatch は1トランザクションでレコード群をupsertする。
	// (fileID, chunkIndex) が一致する既存行は更新、なければ挿入。
	// 個別レコードの失敗はログに残してスキップし、成功件数を返す。
	UpsertBatch(ctx context.Context, records []*EmbeddingRecord) (int, error)

	// SearchSimilar はコサイン距離の昇順で類似行を返す。
	// distance <= 1 - SimilarityThreshold の行のみが対象となる。
	SearchSimilar(ctx context.Context, queryVector []float32, filter SearchFilter) ([]*SearchResult, error)

	// DeleteByFileID はファイルIDに紐づく行を削除し、削除件数を返す。
	// 対象0件はエラーではない。
	DeleteByFileID(ctx context.Context, fileID uuid.UUID) (int64, error)

	// DeleteBySource はソースファイル名に紐づく行を削除し、削除件数を返す。
	DeleteBySource(ctx context.Context, sourceFile string) (int64, error)

	// ListSourceFiles はストアに存在するソースファイルの一覧を返す
	ListSourceFiles(ctx context.Context) ([]*SourceFileInfo, error)
}
