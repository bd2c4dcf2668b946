package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/finsight/docrag/internal/core/rag"
)

// ChatAction はストリーミングで質問応答を実行するコマンドのアクション。
// トークンを受信した順に標準出力へ書き出す。
func ChatAction(ctx context.Context, cmd *cli.Command) error {
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

	events, err := appCtx.RAG.AskStream(ctx, rag.AskParams{
		Query:   queryText,
		FileIDs: fileIDs,
		TopK:    appCtx.Config.Retrieval.TopK,
	})
	if err != nil {
		return fmt.Errorf("質問応答に失敗: %w", err)
	}

	for event := range events {
		switch event.Type {
		case rag.StreamEventStatus:
			fmt.Fprintf(os.Stderr, "[%s]\n", event.Status)
		case rag.StreamEventToken:
			fmt.Print(event.Token)
		case rag.StreamEventDone:
			fmt.Println()
			if event.Done != nil && len(event.Done.Sources) > 0 {
				fmt.Println("参照ソース:")
				for _, source := range event.Done.Sources {
					fmt.Printf("  - %s #%d (類似度 %.2f)\n", source.SourceFile, source.ChunkIndex, source.Similarity)
				}
			}
		case rag.StreamEventError:
			fmt.Println()
			return fmt.Errorf("ストリーミング中にエラー: %w", event.Err)
		}
	}
	return nil
}
