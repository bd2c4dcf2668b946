package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"
	"github.com/urfave/cli/v3"

	"github.com/finsight/docrag/internal/core/ingestion"
	"github.com/finsight/docrag/internal/core/vectorstore"
)

const timePrecision = time.Millisecond

// IngestAction はファイルを取り込むコマンドのアクション
func IngestAction(ctx context.Context, cmd *cli.Command) error {
	path := cmd.String("file")
	category := cmd.String("category")
	fileIDStr := cmd.String("file-id")
	envFile := cmd.String("env")

	appCtx, err := NewAppContext(ctx, envFile)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	params := ingestion.IngestParams{
		SourceFile: filepath.Base(path),
	}

	if category != "" {
		params.Category = mo.Some(vectorstore.ParseCategory(category))
	}
	if fileIDStr != "" {
		fileID, err := uuid.Parse(fileIDStr)
		if err != nil {
			return fmt.Errorf("不正なファイルID %q: %w", fileIDStr, err)
		}
		params.FileID = mo.Some(fileID)
	}

	segments, err := appCtx.Extractor.Extract(path)
	if err != nil {
		return fmt.Errorf("テキスト抽出に失敗: %w", err)
	}
	params.Segments = segments

	result, err := appCtx.Ingestion.Ingest(ctx, params)
	if err != nil {
		return fmt.Errorf("取り込みに失敗: %w", err)
	}

	fmt.Printf("取り込み完了: %s\n", result.SourceFile)
	fmt.Printf("  ファイルID: %s\n", result.FileID)
	fmt.Printf("  チャンク数: %d (upsert成功: %d, 縮退: %d)\n",
		result.ChunkCount, result.UpsertedCount, result.DegradedCount)
	fmt.Printf("  所要時間: %s\n", result.Elapsed.Round(timePrecision))
	return nil
}
