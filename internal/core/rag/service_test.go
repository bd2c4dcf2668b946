package rag

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finsight/docrag/internal/core/query"
	"github.com/finsight/docrag/internal/core/vectorstore"
)

type stubClassifier struct {
	result query.Classification
}

func (c *stubClassifier) Classify(ctx context.Context, queryText string) query.Classification {
	return c.result
}

type stubDecomposer struct {
	result []string
}

func (d *stubDecomposer) Decompose(ctx context.Context, queryText string, complexityScore int) []string {
	if d.result != nil {
		return d.result
	}
	return []string{queryText}
}

type stubEmbedder struct {
	calls int
	err   error
}

func (e *stubEmbedder) EmbedOne(ctx context.Context, text string) ([]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	return []float32{0.1, 0.2}, nil
}

type stubRetriever struct {
	multiResults []*vectorstore.SearchResult
	fileResults  []*vectorstore.SearchResult
	files        []*vectorstore.SourceFileInfo

	multiCalls   int
	byFilesCalls int
	lastCategory vectorstore.Category
}

func (r *stubRetriever) SearchMultiFile(ctx context.Context, queryVector []float32, category vectorstore.Category, params vectorstore.MultiFileSearchParams) ([]*vectorstore.SearchResult, error) {
	r.multiCalls++
	r.lastCategory = category
	return r.multiResults, nil
}

func (r *stubRetriever) SearchByFiles(ctx context.Context, queryVector []float32, fileIDs []uuid.UUID, params vectorstore.FileSearchParams) ([]*vectorstore.SearchResult, error) {
	r.byFilesCalls++
	return r.fileResults, nil
}

func (r *stubRetriever) ListSourceFiles(ctx context.Context) ([]*vectorstore.SourceFileInfo, error) {
	return r.files, nil
}

type stubCompletion struct {
	answer        string
	err           error
	generateCalls int
	streamCalls   int
	streamTokens  []string
	streamErr     error
	producerDone  chan struct{}
	lastReq       CompletionRequest
}

func (c *stubCompletion) GenerateCompletion(ctx context.Context, req CompletionRequest) (string, error) {
	c.generateCalls++
	c.lastReq = req
	return c.answer, c.err
}

func (c *stubCompletion) StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error) {
	c.streamCalls++
	c.lastReq = req
	if c.err != nil {
		return nil, c.err
	}

	chunks := make(chan StreamChunk)
	c.producerDone = make(chan struct{})
	go func() {
		defer close(chunks)
		defer close(c.producerDone)
		// キャンセル時に送信でブロックしたまま残らないよう、
		// 本物のクライアントと同じくctxを見ながら送る
		for _, token := range c.streamTokens {
			select {
			case chunks <- StreamChunk{Token: token}:
			case <-ctx.Done():
				return
			}
		}
		if c.streamErr != nil {
			select {
			case chunks <- StreamChunk{Err: c.streamErr}:
			case <-ctx.Done():
			}
		}
	}()
	return chunks, nil
}

func searchResult(text, sourceFile string, similarity float64) *vectorstore.SearchResult {
	return &vectorstore.SearchResult{
		ID:         uuid.New(),
		Text:       text,
		SourceFile: sourceFile,
		Category:   mo.Some(vectorstore.CategoryInvoices),
		Similarity: similarity,
		Distance:   1 - similarity,
	}
}

type fixture struct {
	classifier *stubClassifier
	decomposer *stubDecomposer
	embedder   *stubEmbedder
	retriever  *stubRetriever
	llm        *stubCompletion
	svc        *Service
}

func newFixture() *fixture {
	f := &fixture{
		classifier: &stubClassifier{result: query.Classification{
			Category:        vectorstore.CategoryInvoices,
			ComplexityScore: 1,
			Strategy:        query.StrategySimple,
		}},
		decomposer: &stubDecomposer{},
		embedder:   &stubEmbedder{},
		retriever:  &stubRetriever{},
		llm:        &stubCompletion{answer: "The invoice total is 42."},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.svc = NewService(f.classifier, f.decomposer, f.embedder, f.retriever, f.llm, WithLogger(logger))
	return f
}

func TestAskReturnsGroundedAnswerWithSources(t *testing.T) {
	f := newFixture()
	f.retriever.multiResults = []*vectorstore.SearchResult{
		searchResult("Invoice 1001 totals 42 euro. "+strings.Repeat("detail ", 40), "invoices.pdf", 0.9),
		searchResult("Unrelated but similar chunk.", "misc.txt", 0.6),
	}

	response, err := f.svc.Ask(context.Background(), AskParams{Query: "What is the invoice total?"})
	require.NoError(t, err)

	assert.Equal(t, "The invoice total is 42.", response.Answer)
	assert.Equal(t, vectorstore.CategoryInvoices, response.Category)
	require.Len(t, response.Sources, 2)
	assert.Equal(t, "invoices.pdf", response.Sources[0].SourceFile)
	assert.LessOrEqual(t, len([]rune(response.Sources[0].Excerpt)), 200)
	assert.Empty(t, response.SubQueries, "single sub-query is not reported")
	assert.GreaterOrEqual(t, response.ElapsedMs, int64(0))

	assert.Equal(t, 1, f.embedder.calls)
	assert.Equal(t, 1, f.retriever.multiCalls)
	assert.Equal(t, 0, f.retriever.byFilesCalls)
	assert.Equal(t, vectorstore.CategoryInvoices, f.retriever.lastCategory)

	// 回答生成の予算が守られている
	assert.Equal(t, answerMaxTokens, f.llm.lastReq.MaxTokens)
	assert.Zero(t, f.llm.lastReq.Temperature)
	assert.Equal(t, AnswerSystemPrompt, f.llm.lastReq.System)
}

func TestAskEmptyContextShortCircuitsGeneration(t *testing.T) {
	f := newFixture()
	f.retriever.multiResults = []*vectorstore.SearchResult{
		searchResult("   ", "blank.txt", 0.8), // 空白のみは無効
	}

	response, err := f.svc.Ask(context.Background(), AskParams{Query: "Anything about blanks?"})
	require.NoError(t, err)

	assert.Equal(t, NoInformationAnswer, response.Answer)
	assert.Empty(t, response.Sources)
	assert.Equal(t, 0, f.llm.generateCalls, "generation must be skipped on empty context")
}

func TestAskMetadataQuerySkipsRetrievalAndGeneration(t *testing.T) {
	f := newFixture()
	f.classifier.result.AnswerableFromMetadata = true
	f.retriever.files = []*vectorstore.SourceFileInfo{
		{SourceFile: "invoices.pdf", Category: mo.Some(vectorstore.CategoryInvoices)},
		{SourceFile: "payroll.xlsx"},
	}

	response, err := f.svc.Ask(context.Background(), AskParams{Query: "what files do you have?"})
	require.NoError(t, err)

	assert.Contains(t, response.Answer, "invoices.pdf")
	assert.Contains(t, response.Answer, "payroll.xlsx")
	assert.Equal(t, 0, f.embedder.calls)
	assert.Equal(t, 0, f.retriever.multiCalls)
	assert.Equal(t, 0, f.llm.generateCalls)
}

func TestAskUsesFileScopedSearchWhenFilesPinned(t *testing.T) {
	f := newFixture()
	f.retriever.fileResults = []*vectorstore.SearchResult{
		searchResult("Pinned document content.", "pinned.pdf", 0.7),
	}

	_, err := f.svc.Ask(context.Background(), AskParams{
		Query:   "What does the pinned doc say?",
		FileIDs: []uuid.UUID{uuid.New()},
	})
	require.NoError(t, err)

	assert.Equal(t, 1, f.retriever.byFilesCalls)
	assert.Equal(t, 0, f.retriever.multiCalls)
}

func TestAskResortsResultsBySimilarity(t *testing.T) {
	f := newFixture()
	f.retriever.multiResults = []*vectorstore.SearchResult{
		searchResult("weaker match", "a.txt", 0.5),
		searchResult("stronger match", "b.txt", 0.9),
	}

	response, err := f.svc.Ask(context.Background(), AskParams{Query: "which is first?"})
	require.NoError(t, err)

	require.Len(t, response.Sources, 2)
	assert.Equal(t, "b.txt", response.Sources[0].SourceFile)
	assert.Equal(t, "a.txt", response.Sources[1].SourceFile)
}

func TestAskReportsSubQueriesWhenDecomposed(t *testing.T) {
	f := newFixture()
	f.classifier.result.ComplexityScore = 4
	f.decomposer.result = []string{"What was Q1 revenue?", "What was Q2 revenue?"}
	f.retriever.multiResults = []*vectorstore.SearchResult{
		searchResult("Q1 revenue was 10. Q2 revenue was 12.", "reports.pdf", 0.8),
	}

	response, err := f.svc.Ask(context.Background(), AskParams{Query: "Compare Q1 vs Q2 revenue"})
	require.NoError(t, err)

	assert.Equal(t, []string{"What was Q1 revenue?", "What was Q2 revenue?"}, response.SubQueries)
	// 検索自体は元クエリ1回分のEmbeddingのみ
	assert.Equal(t, 1, f.embedder.calls)
	assert.Equal(t, 1, f.retriever.multiCalls)
}

func TestAskGenerationFailureIsSurfaced(t *testing.T) {
	f := newFixture()
	f.retriever.multiResults = []*vectorstore.SearchResult{
		searchResult("Some relevant content.", "doc.txt", 0.8),
	}
	f.llm.err = errors.New("provider exploded")

	_, err := f.svc.Ask(context.Background(), AskParams{Query: "boom?"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "answer generation failed")
}

func TestAskRequiresQuery(t *testing.T) {
	f := newFixture()
	_, err := f.svc.Ask(context.Background(), AskParams{Query: "   "})
	assert.Error(t, err)
}

func TestTruncateContextEndsAtSentence(t *testing.T) {
	text := strings.Repeat("A full sentence about payroll. ", 200)
	truncated := TruncateContext(text, ContextBudget)

	assert.LessOrEqual(t, len([]rune(truncated)), ContextBudget)
	assert.True(t, strings.HasSuffix(truncated, "."), "truncation must not end mid-sentence")
}

func TestTruncateContextKeepsShortText(t *testing.T) {
	assert.Equal(t, "short text", TruncateContext("short text", ContextBudget))
}
