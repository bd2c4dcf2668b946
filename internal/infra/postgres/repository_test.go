package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight/docrag/internal/core/vectorstore"
	"github.com/finsight/docrag/pkg/db"
)

//go:embed schema.sql
var schemaSQL string

const vectorDimension = 1536

// setupRepository はpgvector入りPostgreSQLコンテナを起動しリポジトリを返す。
// Dockerが利用できない環境ではテストをスキップする。
func setupRepository(t *testing.T) *EmbeddingRepository {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	pool, err := dockertest.NewPool("")
	if err != nil {
		t.Skipf("docker not available: %v", err)
	}
	if err := pool.Client.Ping(); err != nil {
		t.Skipf("docker not available: %v", err)
	}

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: "pgvector/pgvector",
		Tag:        "pg16",
		Env: []string{
			"POSTGRES_USER=docrag",
			"POSTGRES_PASSWORD=docrag",
			"POSTGRES_DB=docrag_test",
		},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = pool.Purge(resource)
	})
	_ = resource.Expire(300)

	connString := fmt.Sprintf(
		"host=localhost port=%s user=docrag password=docrag dbname=docrag_test sslmode=disable",
		resource.GetPort("5432/tcp"),
	)

	var database *db.DB
	pool.MaxWait = 60 * time.Second
	err = pool.Retry(func() error {
		var retryErr error
		database, retryErr = db.NewFromConnString(context.Background(), connString)
		return retryErr
	})
	require.NoError(t, err)
	t.Cleanup(database.Close)

	_, err = database.Pool.Exec(context.Background(), schemaSQL)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewEmbeddingRepository(database.Pool, WithRepositoryLogger(logger))
}

// testVector は先頭要素だけ異なる単位ベクトルを返す
func testVector(axis int) []float32 {
	v := make([]float32, vectorDimension)
	v[axis%vectorDimension] = 1
	return v
}

func testRecord(fileID uuid.UUID, chunkIndex int, axis int, category vectorstore.Category) *vectorstore.EmbeddingRecord {
	return &vectorstore.EmbeddingRecord{
		ID:          uuid.New(),
		FileID:      mo.Some(fileID),
		Text:        fmt.Sprintf("chunk %d of file %s", chunkIndex, fileID),
		Vector:      testVector(axis),
		Category:    mo.Some(category),
		SourceFile:  "ledger.pdf",
		ChunkIndex:  chunkIndex,
		TotalChunks: 3,
		TokenCount:  12,
		CreatedAt:   time.Now().UTC(),
	}
}

func TestEmbeddingRepositoryRoundTrip(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	fileID := uuid.New()
	records := []*vectorstore.EmbeddingRecord{
		testRecord(fileID, 0, 0, vectorstore.CategoryInvoices),
		testRecord(fileID, 1, 1, vectorstore.CategoryInvoices),
		testRecord(fileID, 2, 2, vectorstore.CategoryInvoices),
	}

	count, err := repo.UpsertBatch(ctx, records)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	// 同一クエリベクトルの行が距離0で先頭に来る
	results, err := repo.SearchSimilar(ctx, testVector(0), vectorstore.SearchFilter{
		SimilarityThreshold: 0.3,
		Limit:               10,
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, 0, results[0].ChunkIndex)
	assert.InDelta(t, 0, results[0].Distance, 1e-6)
	assert.InDelta(t, 1, results[0].Similarity, 1e-6)
	assert.Equal(t, vectorstore.CategoryInvoices, results[0].Category.MustGet())
	assert.Equal(t, fileID, results[0].FileID.MustGet())

	// 直交ベクトル(距離1)は閾値0.3で除外される
	for _, result := range results {
		assert.LessOrEqual(t, result.Distance, 0.7)
	}
}

func TestUpsertBatchIsIdempotentPerFileChunk(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	fileID := uuid.New()
	original := testRecord(fileID, 0, 0, vectorstore.CategoryContracts)
	count, err := repo.UpsertBatch(ctx, []*vectorstore.EmbeddingRecord{original})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	// 同じ (file_id, chunk_index) での再upsertは行を増やさず内容を置き換える
	updated := testRecord(fileID, 0, 0, vectorstore.CategoryContracts)
	updated.Text = "revised contract text"
	count, err = repo.UpsertBatch(ctx, []*vectorstore.EmbeddingRecord{updated})
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	results, err := repo.SearchSimilar(ctx, testVector(0), vectorstore.SearchFilter{
		SimilarityThreshold: 0.3,
		Limit:               10,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "revised contract text", results[0].Text)
}

func TestSearchSimilarFilters(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	invoiceFile := uuid.New()
	payrollFile := uuid.New()
	_, err := repo.UpsertBatch(ctx, []*vectorstore.EmbeddingRecord{
		testRecord(invoiceFile, 0, 0, vectorstore.CategoryInvoices),
		testRecord(payrollFile, 0, 0, vectorstore.CategoryPayroll),
	})
	require.NoError(t, err)

	// カテゴリフィルタ
	results, err := repo.SearchSimilar(ctx, testVector(0), vectorstore.SearchFilter{
		Category:            mo.Some(vectorstore.CategoryPayroll),
		SimilarityThreshold: 0.3,
		Limit:               10,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, payrollFile, results[0].FileID.MustGet())

	// ファイルID許可リスト
	results, err = repo.SearchSimilar(ctx, testVector(0), vectorstore.SearchFilter{
		FileIDs:             []uuid.UUID{invoiceFile},
		SimilarityThreshold: 0.2,
		Limit:               10,
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, invoiceFile, results[0].FileID.MustGet())
}

func TestDeleteByFileID(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	fileID := uuid.New()
	_, err := repo.UpsertBatch(ctx, []*vectorstore.EmbeddingRecord{
		testRecord(fileID, 0, 0, vectorstore.CategoryGeneral),
		testRecord(fileID, 1, 1, vectorstore.CategoryGeneral),
	})
	require.NoError(t, err)

	count, err := repo.DeleteByFileID(ctx, fileID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// 対象0件はエラーではない
	count, err = repo.DeleteByFileID(ctx, fileID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDeleteBySourceAndListSourceFiles(t *testing.T) {
	repo := setupRepository(t)
	ctx := context.Background()

	fileID := uuid.New()
	records := []*vectorstore.EmbeddingRecord{
		testRecord(fileID, 0, 0, vectorstore.CategoryInvoices),
		testRecord(fileID, 1, 1, vectorstore.CategoryInvoices),
	}
	_, err := repo.UpsertBatch(ctx, records)
	require.NoError(t, err)

	files, err := repo.ListSourceFiles(ctx)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, "ledger.pdf", files[0].SourceFile)
	assert.Equal(t, 2, files[0].ChunkCount)
	assert.Equal(t, vectorstore.CategoryInvoices, files[0].Category.MustGet())

	count, err := repo.DeleteBySource(ctx, "ledger.pdf")
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	files, err = repo.ListSourceFiles(ctx)
	require.NoError(t, err)
	assert.Empty(t, files)
}
