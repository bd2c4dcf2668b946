package query

import (
	"context"
	"log/slog"
	"strings"
)

const (
	// decompositionMaxTokens は分解呼び出しのトークン上限
	decompositionMaxTokens = 200

	// decompositionThreshold 以下の複雑度では分解を行わない
	decompositionThreshold = 2

	// minSubQueries / maxSubQueries は受理する分解結果の件数範囲。
	// 1件の言い換え（利益なし）や無制限のリスト（コンテキスト浪費）を弾く。
	minSubQueries = 2
	maxSubQueries = 3

	// minSubQueryLength 以下の行はノイズとして捨てる
	minSubQueryLength = 10
)

// Decomposer は複雑なクエリを2〜3個のサブクエリに分解する
type Decomposer struct {
	llm    CompletionClient
	logger *slog.Logger
}

// DecomposerOption は Decomposer のオプション設定
type DecomposerOption func(*Decomposer)

// WithDecomposerLogger は Decomposer にロガーを設定する
func WithDecomposerLogger(logger *slog.Logger) DecomposerOption {
	return func(d *Decomposer) {
		d.logger = logger
	}
}

// NewDecomposer は新しいDecomposerを作成する
func NewDecomposer(llm CompletionClient, opts ...DecomposerOption) *Decomposer {
	d := &Decomposer{
		llm:    llm,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

// Decompose はクエリをサブクエリ列に分解する。常に最低 [query] を返す。
// 分解できない・結果が使えない場合は元クエリにフォールバックし、エラーは返さない。
func (d *Decomposer) Decompose(ctx context.Context, queryText string, complexityScore int) []string {
	fallback := []string{queryText}

	if complexityScore <= decompositionThreshold {
		return fallback
	}

	raw, err := d.llm.GenerateCompletion(ctx, CompletionRequest{
		Prompt:      BuildDecompositionPrompt(queryText),
		MaxTokens:   decompositionMaxTokens,
		Temperature: 0,
	})
	if err != nil {
		d.logger.Warn("decomposition call failed, falling back to original query",
			"error", err,
		)
		return fallback
	}

	subQueries := parseSubQueries(raw)
	if len(subQueries) < minSubQueries || len(subQueries) > maxSubQueries {
		d.logger.Info("discarding unusable decomposition",
			"parsed", len(subQueries),
		)
		return fallback
	}

	return subQueries
}

// parseSubQueries はLLM応答を行ごとに解析してサブクエリを抽出する
func parseSubQueries(raw string) []string {
	seen := make(map[string]bool)
	var subQueries []string

	for _, line := range strings.Split(raw, "\n") {
		cleaned := stripEnumerationMarkers(strings.TrimSpace(line))
		if len(cleaned) <= minSubQueryLength {
			continue
		}
		if seen[cleaned] {
			continue
		}
		seen[cleaned] = true
		subQueries = append(subQueries, cleaned)
	}

	return subQueries
}

// stripEnumerationMarkers は行頭の列挙マーカー（数字・'.'・'-'・')'）を除去する
func stripEnumerationMarkers(line string) string {
	return strings.TrimSpace(strings.TrimLeft(line, "0123456789.-) "))
}
