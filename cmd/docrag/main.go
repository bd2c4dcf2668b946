package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/finsight/docrag/cmd/docrag/commands"
	"github.com/finsight/docrag/internal/platform/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 設定読み込み前のブートストラップロガー。各コマンドが
	// NewAppContext で設定値に従ったロガーに差し替える。
	logger.New(logger.DefaultConfig())

	app := &cli.Command{
		Name:  "docrag",
		Usage: "社内業務ドキュメント向けRAG質問応答システム",
		Commands: []*cli.Command{
			{
				Name:  "ingest",
				Usage: "ドキュメントを取り込む",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:     "file",
						Usage:    "取り込むファイルパス (.pdf / .txt / .md)",
						Required: true,
					},
					&cli.StringFlag{
						Name:  "category",
						Usage: "ドキュメントカテゴリ (例: Invoices, Payroll)",
					},
					&cli.StringFlag{
						Name:  "file-id",
						Usage: "ファイルID（再取り込み時に既存IDを指定）",
					},
				},
				Action: commands.IngestAction,
			},
			{
				Name:  "ask",
				Usage: "質問に回答する",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:     "query",
						Usage:    "質問文",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:  "file-id",
						Usage: "検索対象を指定ファイルに限定（複数指定可）",
					},
				},
				Action: commands.AskAction,
			},
			{
				Name:  "chat",
				Usage: "ストリーミングで質問に回答する",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "env",
						Usage: "環境変数ファイルパス",
						Value: ".env",
					},
					&cli.StringFlag{
						Name:     "query",
						Usage:    "質問文",
						Required: true,
					},
					&cli.StringSliceFlag{
						Name:  "file-id",
						Usage: "検索対象を指定ファイルに限定（複数指定可）",
					},
				},
				Action: commands.ChatAction,
			},
			{
				Name:  "file",
				Usage: "ファイル管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "list",
						Usage: "取り込み済みファイルの一覧を表示",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
						},
						Action: commands.FileListAction,
					},
					{
						Name:  "delete",
						Usage: "ファイルのEmbeddingを削除",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.StringFlag{
								Name:  "file-id",
								Usage: "削除対象のファイルID",
							},
							&cli.StringFlag{
								Name:  "source",
								Usage: "削除対象のソースファイル名",
							},
						},
						Action: commands.FileDeleteAction,
					},
				},
			},
			{
				Name:  "server",
				Usage: "サーバ関連コマンド",
				Commands: []*cli.Command{
					{
						Name:  "start",
						Usage: "HTTPサーバを起動",
						Flags: []cli.Flag{
							&cli.StringFlag{
								Name:  "env",
								Usage: "環境変数ファイルパス",
								Value: ".env",
							},
							&cli.IntFlag{
								Name:  "port",
								Usage: "HTTPポート",
								Value: 8080,
							},
						},
						Action: commands.ServerStartAction,
					},
				},
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
