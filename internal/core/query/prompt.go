package query

import (
	"fmt"
	"strings"

	"github.com/finsight/docrag/internal/core/vectorstore"
)

// BuildCategoryPrompt はカテゴリ分類用のプロンプトを構築する
func BuildCategoryPrompt(queryText string) string {
	var sb strings.Builder

	sb.WriteString("Classify the following question about business documents into exactly one category.\n")
	sb.WriteString("Valid categories:\n")
	for _, category := range vectorstore.AllCategories() {
		sb.WriteString(fmt.Sprintf("- %s\n", category))
	}
	sb.WriteString("\nRespond with the category name only, nothing else.\n\n")
	sb.WriteString("Question: ")
	sb.WriteString(queryText)

	return sb.String()
}

// BuildDecompositionPrompt はサブクエリ分解用のプロンプトを構築する
func BuildDecompositionPrompt(queryText string) string {
	var sb strings.Builder

	sb.WriteString("Break the following complex question into 2-3 simpler sub-questions.\n")
	sb.WriteString("Each sub-question should be answerable on its own from document excerpts.\n")
	sb.WriteString("Return one sub-question per line, numbered.\n\n")
	sb.WriteString("Question: ")
	sb.WriteString(queryText)

	return sb.String()
}
