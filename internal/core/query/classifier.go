package query

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"github.com/finsight/docrag/internal/core/vectorstore"
)

const (
	// classificationMaxTokens はカテゴリ分類呼び出しのトークン上限
	classificationMaxTokens = 30
)

var (
	comparisonPattern = regexp.MustCompile(`(?i)\b(compare|vs|versus|difference|between)\b`)
	timeRangePattern  = regexp.MustCompile(`(?i)\b(year|month|quarter|ytd|yoy|trend)\b`)
	// ファイル一覧要求のみに一致させる。疑問詞はファイル名詞の後に
	// 所持・存在を表す語が続く場合だけメタデータ扱いにする。
	// 「What do the documents say about X?」のような内容質問は検索に回す。
	metadataPattern = regexp.MustCompile(`(?i)\b(list|show)\s+(?:\w+\s+){0,2}(files?|documents?|docs)\b|\b(what|which)\b.*\b(files?|documents?|docs)\b.*\b(have|has|available|uploaded|stored|there)\b`)
)

// Classifier はクエリの複雑度スコアリングとカテゴリ分類を行う
type Classifier struct {
	llm    CompletionClient
	logger *slog.Logger
}

// ClassifierOption は Classifier のオプション設定
type ClassifierOption func(*Classifier)

// WithClassifierLogger は Classifier にロガーを設定する
func WithClassifierLogger(logger *slog.Logger) ClassifierOption {
	return func(c *Classifier) {
		c.logger = logger
	}
}

// NewClassifier は新しいClassifierを作成する
func NewClassifier(llm CompletionClient, opts ...ClassifierOption) *Classifier {
	c := &Classifier{
		llm:    llm,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Classify はクエリを分類する。
// カテゴリ判定のLLM呼び出しが失敗・不正応答でもエラーにはせず、
// デフォルトカテゴリに矯正して返す。分類の失敗で回答を止めない。
func (c *Classifier) Classify(ctx context.Context, queryText string) Classification {
	score := complexityScore(queryText)

	classification := Classification{
		ComplexityScore:        score,
		Strategy:               strategyForScore(score),
		AnswerableFromMetadata: metadataPattern.MatchString(queryText),
		Category:               vectorstore.DefaultCategory,
	}

	// メタデータで答えられるクエリは検索自体を飛ばすためカテゴリ判定も不要
	if classification.AnswerableFromMetadata {
		return classification
	}

	raw, err := c.llm.GenerateCompletion(ctx, CompletionRequest{
		Prompt:      BuildCategoryPrompt(queryText),
		MaxTokens:   classificationMaxTokens,
		Temperature: 0,
	})
	if err != nil {
		c.logger.Warn("category classification call failed, using default category",
			"error", err,
		)
		return classification
	}

	classification.Category = vectorstore.ParseCategory(strings.TrimSpace(raw))
	return classification
}

// complexityScore はヒューリスティクスでクエリの複雑度を採点する
func complexityScore(queryText string) int {
	score := 1

	if len(strings.Fields(queryText)) > 20 {
		score++
	}
	if comparisonPattern.MatchString(queryText) {
		score += 2
	}
	if strings.Count(queryText, "?") > 1 {
		score += 2
	}
	if timeRangePattern.MatchString(queryText) {
		score++
	}

	return score
}

func strategyForScore(score int) Strategy {
	switch {
	case score > 4:
		return StrategyComplex
	case score > 2:
		return StrategyModerate
	default:
		return StrategySimple
	}
}
