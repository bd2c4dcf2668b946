package commands

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"
)

// FileListAction は取り込み済みファイルの一覧を表示するコマンドのアクション
func FileListAction(ctx context.Context, cmd *cli.Command) error {
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	files, err := appCtx.Store.ListSourceFiles(ctx)
	if err != nil {
		return fmt.Errorf("ファイル一覧の取得に失敗: %w", err)
	}

	if len(files) == 0 {
		fmt.Println("取り込み済みファイルはありません")
		return nil
	}

	for _, file := range files {
		fileID := "-"
		if id, ok := file.FileID.Get(); ok {
			fileID = id.String()
		}
		category := "-"
		if c, ok := file.Category.Get(); ok {
			category = string(c)
		}
		fmt.Printf("%s\t%s\t%s\t%dチャンク\n", fileID, file.SourceFile, category, file.ChunkCount)
	}
	return nil
}

// FileDeleteAction はファイルの全Embeddingを削除するコマンドのアクション
func FileDeleteAction(ctx context.Context, cmd *cli.Command) error {
	fileIDStr := cmd.String("file-id")
	sourceFile := cmd.String("source")
	envFile := cmd.String("env")

	if fileIDStr == "" && sourceFile == "" {
		return fmt.Errorf("--file-id または --source のいずれかを指定してください")
	}

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	var count int64
	switch {
	case fileIDStr != "":
		fileID, err := uuid.Parse(fileIDStr)
		if err != nil {
			return fmt.Errorf("不正なファイルID %q: %w", fileIDStr, err)
		}
		count, err = appCtx.Ingestion.DeleteFile(ctx, fileID)
		if err != nil {
			return fmt.Errorf("削除に失敗: %w", err)
		}
	default:
		count, err = appCtx.Ingestion.DeleteSource(ctx, sourceFile)
		if err != nil {
			return fmt.Errorf("削除に失敗: %w", err)
		}
	}

	fmt.Printf("%d件のEmbeddingを削除しました\n", count)
	return nil
}
