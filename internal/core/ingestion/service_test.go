package ingestion

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight/docrag/internal/core/chunk"
	"github.com/finsight/docrag/internal/core/vectorstore"
)

type stubEmbedder struct {
	dimension int
	zeroTexts map[string]bool
	err       error
	calls     int
}

func (s *stubEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vector := make([]float32, s.dimension)
		if !s.zeroTexts[text] {
			vector[0] = float32(i + 1)
		}
		vectors[i] = vector
	}
	return vectors, nil
}

func (s *stubEmbedder) Dimension() int {
	return s.dimension
}

type stubStore struct {
	mu             sync.Mutex
	upserted       []*vectorstore.EmbeddingRecord
	upsertErr      error
	upsertShort    int
	deletedFileIDs []uuid.UUID
	deletedSources []string
	deleteCount    int64
	deleteErr      error
}

func (s *stubStore) Upsert(_ context.Context, records []*vectorstore.EmbeddingRecord) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return 0, s.upsertErr
	}
	s.upserted = append(s.upserted, records...)
	if s.upsertShort > 0 {
		return len(records) - s.upsertShort, nil
	}
	return len(records), nil
}

func (s *stubStore) DeleteByFileID(_ context.Context, fileID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	s.deletedFileIDs = append(s.deletedFileIDs, fileID)
	return s.deleteCount, nil
}

func (s *stubStore) DeleteBySource(_ context.Context, sourceFile string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	s.deletedSources = append(s.deletedSources, sourceFile)
	return s.deleteCount, nil
}

var (
	_ Embedder = (*stubEmbedder)(nil)
	_ Store    = (*stubStore)(nil)
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, embedder *stubEmbedder, store *stubStore) *Service {
	t.Helper()
	chunker, err := chunk.NewChunker()
	require.NoError(t, err)
	return NewService(chunker, embedder, store, WithServiceLogger(testLogger()))
}

func segmentText(sentences int) string {
	var b strings.Builder
	for i := 0; i < sentences; i++ {
		fmt.Fprintf(&b, "Invoice line item %03d was approved by the controller. ", i)
	}
	return b.String()
}

func TestIngestBuildsAlignedRecords(t *testing.T) {
	embedder := &stubEmbedder{dimension: 8}
	store := &stubStore{}
	service := newTestService(t, embedder, store)

	result, err := service.Ingest(context.Background(), IngestParams{
		SourceFile: "invoices-q1.pdf",
		Category:   mo.Some(vectorstore.CategoryInvoices),
		Segments:   []string{segmentText(40), segmentText(40)},
	})
	require.NoError(t, err)

	assert.Greater(t, result.ChunkCount, 1)
	assert.Equal(t, result.ChunkCount, result.UpsertedCount)
	assert.Zero(t, result.DegradedCount)
	require.Len(t, store.upserted, result.ChunkCount)

	// チャンク位置はドキュメント全体で連番となる
	for i, record := range store.upserted {
		assert.Equal(t, i, record.ChunkIndex)
		assert.Equal(t, result.ChunkCount, record.TotalChunks)
		assert.Equal(t, "invoices-q1.pdf", record.SourceFile)
		assert.Equal(t, vectorstore.CategoryInvoices, record.Category.MustGet())
		assert.Equal(t, result.FileID, record.FileID.MustGet())
		assert.NotEmpty(t, record.Text)
		assert.Len(t, record.Vector, 8)
		assert.Positive(t, record.TokenCount)
	}
}

func TestIngestGeneratesFileIDWhenAbsent(t *testing.T) {
	service := newTestService(t, &stubEmbedder{dimension: 4}, &stubStore{})

	result, err := service.Ingest(context.Background(), IngestParams{
		SourceFile: "notes.txt",
		Segments:   []string{segmentText(5)},
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, result.FileID)
}

func TestIngestKeepsProvidedFileID(t *testing.T) {
	store := &stubStore{}
	service := newTestService(t, &stubEmbedder{dimension: 4}, store)

	fileID := uuid.New()
	result, err := service.Ingest(context.Background(), IngestParams{
		FileID:     mo.Some(fileID),
		SourceFile: "notes.txt",
		Segments:   []string{segmentText(5)},
	})
	require.NoError(t, err)
	assert.Equal(t, fileID, result.FileID)
	for _, record := range store.upserted {
		assert.Equal(t, fileID, record.FileID.MustGet())
	}
}

func TestIngestCountsDegradedEmbeddings(t *testing.T) {
	// ゼロベクトルはEmbedding失敗時のフォールバック。upsertは継続しつつ件数を報告する。
	text := segmentText(5)
	embedder := &stubEmbedder{
		dimension: 4,
		zeroTexts: map[string]bool{strings.TrimSpace(text): true},
	}
	store := &stubStore{}
	service := newTestService(t, embedder, store)

	result, err := service.Ingest(context.Background(), IngestParams{
		SourceFile: "payroll.txt",
		Segments:   []string{text},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, result.DegradedCount)
	assert.Equal(t, result.ChunkCount, result.UpsertedCount)
}

func TestIngestEmptyContentFails(t *testing.T) {
	service := newTestService(t, &stubEmbedder{dimension: 4}, &stubStore{})

	_, err := service.Ingest(context.Background(), IngestParams{
		SourceFile: "blank.txt",
		Segments:   []string{"   ", "\n\n"},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no text content")
}

func TestIngestSourceFileRequired(t *testing.T) {
	service := newTestService(t, &stubEmbedder{dimension: 4}, &stubStore{})

	_, err := service.Ingest(context.Background(), IngestParams{
		Segments: []string{segmentText(5)},
	})
	require.Error(t, err)
}

func TestIngestUpsertErrorSurfaces(t *testing.T) {
	store := &stubStore{upsertErr: fmt.Errorf("connection reset")}
	service := newTestService(t, &stubEmbedder{dimension: 4}, store)

	_, err := service.Ingest(context.Background(), IngestParams{
		SourceFile: "contract.txt",
		Segments:   []string{segmentText(5)},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to upsert")
}

func TestIngestReportsPartialUpsert(t *testing.T) {
	store := &stubStore{upsertShort: 1}
	service := newTestService(t, &stubEmbedder{dimension: 4}, store)

	result, err := service.Ingest(context.Background(), IngestParams{
		SourceFile: "ledger.txt",
		Segments:   []string{segmentText(60)},
	})
	require.NoError(t, err)
	assert.Equal(t, result.ChunkCount-1, result.UpsertedCount)
}

func TestDeleteFile(t *testing.T) {
	store := &stubStore{deleteCount: 12}
	service := newTestService(t, &stubEmbedder{dimension: 4}, store)

	fileID := uuid.New()
	count, err := service.DeleteFile(context.Background(), fileID)
	require.NoError(t, err)
	assert.Equal(t, int64(12), count)
	require.Len(t, store.deletedFileIDs, 1)
	assert.Equal(t, fileID, store.deletedFileIDs[0])
}

func TestDeleteSourceRequiresName(t *testing.T) {
	service := newTestService(t, &stubEmbedder{dimension: 4}, &stubStore{})

	_, err := service.DeleteSource(context.Background(), "")
	require.Error(t, err)
}

func TestConcurrentIngestAndDeleteSameFile(t *testing.T) {
	// 同一ファイルIDのupsertとdeleteが並行しても破綻しないこと
	store := &stubStore{deleteCount: 1}
	service := newTestService(t, &stubEmbedder{dimension: 4}, store)

	fileID := uuid.New()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.Ingest(context.Background(), IngestParams{
				FileID:     mo.Some(fileID),
				SourceFile: "shared.txt",
				Segments:   []string{segmentText(5)},
			})
			assert.NoError(t, err)
		}()
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := service.DeleteFile(context.Background(), fileID)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
}

func TestKeyedMutexIndependentKeys(t *testing.T) {
	locks := newKeyedMutex()
	locks.Lock("a")
	// 別キーはブロックされない
	done := make(chan struct{})
	go func() {
		locks.Lock("b")
		locks.Unlock("b")
		close(done)
	}()
	<-done
	locks.Unlock("a")
}
