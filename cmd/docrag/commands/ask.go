package commands

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/finsight/docrag/internal/core/rag"
)

// AskAction は単発の質問応答を実行するコマンドのアクション
func AskAction(ctx context.Context, cmd *cli.Command) error {
	queryText := cmd.String("query")
	envFile := cmd.String("env")

	fileIDs, err := parseFileIDs(cmd.StringSlice("file-id"))
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	response, err := appCtx.RAG.Ask(ctx, rag.AskParams{
		Query:   queryText,
		FileIDs: fileIDs,
		TopK:    appCtx.Config.Retrieval.TopK,
	})
	if err != nil {
		return fmt.Errorf("質問応答に失敗: %w", err)
	}

	printResponse(response)
	return nil
}

func parseFileIDs(raw []string) ([]uuid.UUID, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	ids := make([]uuid.UUID, 0, len(raw))
	for _, s := range raw {
		id, err := uuid.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("不正なファイルID %q: %w", s, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func printResponse(response *rag.Response) {
	fmt.Println(response.Answer)
	fmt.Println()

	if len(response.SubQueries) > 0 {
		fmt.Printf("サブクエリ: %s\n", strings.Join(response.SubQueries, " / "))
	}
	fmt.Printf("カテゴリ: %s (%dms)\n", response.Category, response.ElapsedMs)

	if len(response.Sources) > 0 {
		fmt.Println("参照ソース:")
		for _, source := range response.Sources {
			fmt.Printf("  - %s #%d (類似度 %.2f)\n", source.SourceFile, source.ChunkIndex, source.Similarity)
		}
	}
}
