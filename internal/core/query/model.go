package query

import (
	"context"

	"github.com/finsight/docrag/internal/core/vectorstore"
)

// Strategy はクエリの複雑さに応じた処理戦略を表す
type Strategy string

const (
	StrategySimple   Strategy = "simple"
	StrategyModerate Strategy = "moderate"
	StrategyComplex  Strategy = "complex"
)

// Classification はクエリ分類の結果を表す。リクエストの間だけ生存する。
type Classification struct {
	Category               vectorstore.Category
	ComplexityScore        int
	Strategy               Strategy
	AnswerableFromMetadata bool
}

// CompletionRequest はLLMへの単発の補完要求を表す
type CompletionRequest struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// CompletionClient はLLM補完のインターフェース
type CompletionClient interface {
	GenerateCompletion(ctx context.Context, req CompletionRequest) (string, error)
}
