package postgres

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/finsight/docrag/internal/core/vectorstore"
)

// EmbeddingRepository は core/vectorstore.Repository を実装する PostgreSQL リポジトリ。
// 検索はpgvectorのコサイン距離演算子 <=> を使用する。
type EmbeddingRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// EmbeddingRepositoryOption は EmbeddingRepository のオプション設定
type EmbeddingRepositoryOption func(*EmbeddingRepository)

// WithRepositoryLogger は EmbeddingRepository にロガーを設定する
func WithRepositoryLogger(logger *slog.Logger) EmbeddingRepositoryOption {
	return func(r *EmbeddingRepository) {
		r.logger = logger
	}
}

// NewEmbeddingRepository は新しい EmbeddingRepository を返す
func NewEmbeddingRepository(pool *pgxpool.Pool, opts ...EmbeddingRepositoryOption) *EmbeddingRepository {
	r := &EmbeddingRepository{
		pool:   pool,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

var _ vectorstore.Repository = (*EmbeddingRepository)(nil)

const upsertByFileChunkSQL = `
INSERT INTO document_embeddings
	(id, file_id, content, embedding, category, source_file, chunk_index, total_chunks, token_count, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (file_id, chunk_index) WHERE file_id IS NOT NULL
DO UPDATE SET
	content = EXCLUDED.content,
	embedding = EXCLUDED.embedding,
	category = EXCLUDED.category,
	source_file = EXCLUDED.source_file,
	total_chunks = EXCLUDED.total_chunks,
	token_count = EXCLUDED.token_count,
	created_at = EXCLUDED.created_at
`

const insertWithoutFileSQL = `
INSERT INTO document_embeddings
	(id, file_id, content, embedding, category, source_file, chunk_index, total_chunks, token_count, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
`

// UpsertBatch は1トランザクションでレコード群をupsertし、成功件数を返す。
// 個別レコードの失敗はSAVEPOINTで巻き戻してスキップし、残りの処理を継続する。
func (r *EmbeddingRepository) UpsertBatch(ctx context.Context, records []*vectorstore.EmbeddingRecord) (int, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	count := 0
	for _, record := range records {
		if err := r.upsertOne(ctx, tx, record); err != nil {
			r.logger.Warn("failed to upsert record, skipping",
				"sourceFile", record.SourceFile,
				"chunkIndex", record.ChunkIndex,
				"error", err,
			)
			continue
		}
		count++
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return count, nil
}

func (r *EmbeddingRepository) upsertOne(ctx context.Context, tx pgx.Tx, record *vectorstore.EmbeddingRecord) error {
	// ネストされたトランザクション(SAVEPOINT)で個別失敗を隔離する
	nested, err := tx.Begin(ctx)
	if err != nil {
		return err
	}

	sql := insertWithoutFileSQL
	if record.FileID.IsPresent() {
		sql = upsertByFileChunkSQL
	}

	_, err = nested.Exec(ctx, sql,
		UUIDToPgtype(record.ID),
		UUIDOptionToPgtype(record.FileID),
		record.Text,
		pgvector.NewVector(record.Vector),
		CategoryOptionToPgtext(record.Category),
		record.SourceFile,
		int32(record.ChunkIndex),
		int32(record.TotalChunks),
		int32(record.TokenCount),
		TimeToPgtype(record.CreatedAt),
	)
	if err != nil {
		_ = nested.Rollback(ctx)
		return err
	}
	return nested.Commit(ctx)
}

// SearchSimilar はコサイン距離の昇順で類似行を返す
func (r *EmbeddingRepository) SearchSimilar(ctx context.Context, queryVector []float32, filter vectorstore.SearchFilter) ([]*vectorstore.SearchResult, error) {
	sql := `
SELECT id, file_id, content, category, source_file, chunk_index, embedding <=> $1 AS distance
FROM document_embeddings
WHERE (embedding <=> $1) <= $2`
	args := []any{pgvector.NewVector(queryVector), 1 - filter.SimilarityThreshold}

	if category, ok := filter.Category.Get(); ok {
		args = append(args, string(category))
		sql += fmt.Sprintf(" AND category = $%d", len(args))
	}
	if len(filter.FileIDs) > 0 {
		args = append(args, UUIDsToStrings(filter.FileIDs))
		sql += fmt.Sprintf(" AND file_id = ANY($%d::uuid[])", len(args))
	}

	args = append(args, filter.Limit)
	sql += fmt.Sprintf(" ORDER BY distance LIMIT $%d", len(args))

	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search embeddings: %w", err)
	}
	defer rows.Close()

	var results []*vectorstore.SearchResult
	for rows.Next() {
		var (
			id         pgtype.UUID
			fileID     pgtype.UUID
			content    string
			category   pgtype.Text
			sourceFile string
			chunkIndex int32
			distance   float64
		)
		if err := rows.Scan(&id, &fileID, &content, &category, &sourceFile, &chunkIndex, &distance); err != nil {
			return nil, fmt.Errorf("failed to scan search row: %w", err)
		}
		results = append(results, &vectorstore.SearchResult{
			ID:         uuid.UUID(id.Bytes),
			FileID:     PgtypeToUUIDOption(fileID),
			Text:       content,
			Category:   PgtextToCategoryOption(category),
			SourceFile: sourceFile,
			ChunkIndex: int(chunkIndex),
			Distance:   distance,
			Similarity: 1 - distance,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read search rows: %w", err)
	}
	return results, nil
}

// DeleteByFileID はファイルIDに紐づく行を削除し、削除件数を返す
func (r *EmbeddingRepository) DeleteByFileID(ctx context.Context, fileID uuid.UUID) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM document_embeddings WHERE file_id = $1`,
		UUIDToPgtype(fileID),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete by file id: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteBySource はソースファイル名に紐づく行を削除し、削除件数を返す
func (r *EmbeddingRepository) DeleteBySource(ctx context.Context, sourceFile string) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM document_embeddings WHERE source_file = $1`,
		sourceFile,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete by source: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListSourceFiles はストアに存在するソースファイルの一覧を返す
func (r *EmbeddingRepository) ListSourceFiles(ctx context.Context) ([]*vectorstore.SourceFileInfo, error) {
	rows, err := r.pool.Query(ctx, `
SELECT file_id, source_file, MIN(category) AS category, COUNT(*) AS chunk_count
FROM document_embeddings
GROUP BY file_id, source_file
ORDER BY source_file`)
	if err != nil {
		return nil, fmt.Errorf("failed to list source files: %w", err)
	}
	defer rows.Close()

	var files []*vectorstore.SourceFileInfo
	for rows.Next() {
		var (
			fileID     pgtype.UUID
			sourceFile string
			category   pgtype.Text
			chunkCount int64
		)
		if err := rows.Scan(&fileID, &sourceFile, &category, &chunkCount); err != nil {
			return nil, fmt.Errorf("failed to scan source file row: %w", err)
		}
		files = append(files, &vectorstore.SourceFileInfo{
			FileID:     PgtypeToUUIDOption(fileID),
			SourceFile: sourceFile,
			Category:   PgtextToCategoryOption(category),
			ChunkCount: int(chunkCount),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read source file rows: %w", err)
	}
	return files, nil
}
