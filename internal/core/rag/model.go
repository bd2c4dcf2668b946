package rag

import (
	"context"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/finsight/docrag/internal/core/query"
	"github.com/finsight/docrag/internal/core/vectorstore"
)

// AskParams は質問応答のパラメータを表す
type AskParams struct {
	Query string
	// FileIDs が指定された場合、検索はこの許可リストに限定される
	FileIDs []uuid.UUID
	TopK    int
}

// Source は回答の根拠となったチャンクの参照を表す。
// Excerpt はペイロード削減のため200文字に切り詰められる。
type Source struct {
	SourceFile string
	ChunkIndex int
	Category   mo.Option[vectorstore.Category]
	Similarity float64
	Excerpt    string
}

// Response は質問応答の結果を表す。リクエストの間だけ生存する。
type Response struct {
	Answer     string
	Sources    []Source
	Category   vectorstore.Category
	SubQueries []string // 分解が行われた場合のみ（2件以上）
	ElapsedMs  int64
}

// StreamEventType はストリーミングイベントの種別を表す
type StreamEventType string

const (
	// StreamEventStatus は処理フェーズの通知（analyzing / searching / generating）
	StreamEventStatus StreamEventType = "status"
	// StreamEventToken は回答本文のトークン
	StreamEventToken StreamEventType = "token"
	// StreamEventDone は終端イベント。回答本文は含まない（既にトークンで配信済み）。
	StreamEventDone StreamEventType = "done"
	// StreamEventError は生成中のエラー通知。受信済みトークンは不完全として扱う。
	StreamEventError StreamEventType = "error"
)

// ストリーミングのフェーズ通知
const (
	StatusAnalyzing  = "analyzing"
	StatusSearching  = "searching"
	StatusGenerating = "generating"
)

// StreamEvent はストリーミング応答の1イベントを表す
type StreamEvent struct {
	Type   StreamEventType
	Status string
	Token  string
	Done   *Response
	Err    error
}

// Classifier はクエリ分類のインターフェース
type Classifier interface {
	Classify(ctx context.Context, queryText string) query.Classification
}

// Decomposer はクエリ分解のインターフェース
type Decomposer interface {
	Decompose(ctx context.Context, queryText string, complexityScore int) []string
}

// QueryEmbedder はクエリEmbedding生成のインターフェース
type QueryEmbedder interface {
	EmbedOne(ctx context.Context, text string) ([]float32, error)
}

// Retriever はベクトルストア検索のインターフェース
type Retriever interface {
	SearchMultiFile(ctx context.Context, queryVector []float32, category vectorstore.Category, params vectorstore.MultiFileSearchParams) ([]*vectorstore.SearchResult, error)
	SearchByFiles(ctx context.Context, queryVector []float32, fileIDs []uuid.UUID, params vectorstore.FileSearchParams) ([]*vectorstore.SearchResult, error)
	ListSourceFiles(ctx context.Context) ([]*vectorstore.SourceFileInfo, error)
}

// CompletionRequest はLLMへの回答生成要求を表す
type CompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// StreamChunk はストリーミング補完の1トークン分の受信単位
type StreamChunk struct {
	Token string
	Err   error
}

// CompletionClient は回答生成のLLMインターフェース
type CompletionClient interface {
	// GenerateCompletion は同期で回答を生成する
	GenerateCompletion(ctx context.Context, req CompletionRequest) (string, error)

	// StreamCompletion はトークン単位のストリームを返す。
	// チャネルは完了またはキャンセルで必ずクローズされる。
	StreamCompletion(ctx context.Context, req CompletionRequest) (<-chan StreamChunk, error)
}
