package rag

import (
	"strings"

	"github.com/finsight/docrag/internal/core/vectorstore"
)

const (
	// ContextBudget は回答生成に渡すコンテキストの最大文字数
	ContextBudget = 3000

	// AnswerSystemPrompt は回答生成のペルソナを定義する
	AnswerSystemPrompt = "You are an assistant for a private business document archive. " +
		"Answer questions using only the provided document excerpts. " +
		"If the excerpts do not contain the answer, say so instead of guessing."

	// NoInformationAnswer はコンテキストが空の場合の固定回答
	NoInformationAnswer = "I might not have the files containing that information."
)

// BuildAnswerPrompt は回答生成用のユーザープロンプトを構築する
func BuildAnswerPrompt(queryText, context string) string {
	var sb strings.Builder

	sb.WriteString("## Document excerpts\n")
	sb.WriteString(context)
	sb.WriteString("\n\n## Question\n")
	sb.WriteString(queryText)
	sb.WriteString("\n\n## Answer\n")

	return sb.String()
}

// BuildContext は検索結果のテキストを連結し、予算内に切り詰める
func BuildContext(results []*vectorstore.SearchResult) string {
	texts := make([]string, 0, len(results))
	for _, result := range results {
		texts = append(texts, result.Text)
	}
	return TruncateContext(strings.Join(texts, "\n\n"), ContextBudget)
}

// TruncateContext はコンテキストを予算内に切り詰める。
// 切断位置が文の途中に落ちた場合は直前の '.' まで戻し、壊れた文を渡さない。
func TruncateContext(text string, budget int) string {
	runes := []rune(text)
	if len(runes) <= budget {
		return text
	}

	truncated := runes[:budget]
	for i := len(truncated) - 1; i >= 0; i-- {
		if truncated[i] == '.' {
			return string(truncated[:i+1])
		}
	}
	return string(truncated)
}
