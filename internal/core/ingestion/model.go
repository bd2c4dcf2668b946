package ingestion

import (
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/finsight/docrag/internal/core/vectorstore"
)

// IngestParams はファイル取り込みの入力を表す
type IngestParams struct {
	// FileID が未指定の場合は新規に採番する
	FileID mo.Option[uuid.UUID]
	// SourceFile は取り込み元のファイル名(表示用)
	SourceFile string
	// Category が未指定の場合はカテゴリなしとして保存する
	Category mo.Option[vectorstore.Category]
	// Segments は抽出済みのテキストセグメント(ページや節など)
	Segments []string
}

// IngestResult はファイル取り込みの結果を表す
type IngestResult struct {
	FileID        uuid.UUID
	SourceFile    string
	ChunkCount    int
	UpsertedCount int
	// DegradedCount はゼロベクトルで代替されたチャンク数
	DegradedCount int
	Elapsed       time.Duration
}
