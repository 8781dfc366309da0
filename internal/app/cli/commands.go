package cli

import (
	"github.com/urfave/cli/v3"
)

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
}

// Command はルートコマンドを返す
func (a *App) Command() *cli.Command {
	return &cli.Command{
		Name:  "recipe-lab",
		Usage: "レシピ開発向け RAG アシスタント",
		Commands: []*cli.Command{
			{
				Name:  "index",
				Usage: "インデックス管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "build",
						Usage: "データディレクトリからインデックスを構築",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:  "data-dir",
								Usage: "入力ディレクトリ（省略時は DATA_DIR）",
							},
							&cli.StringFlag{
								Name:  "index-dir",
								Usage: "出力ディレクトリ（省略時は INDEX_DIR）",
							},
							&cli.IntFlag{
								Name:  "chunk-size",
								Usage: "チャンクの最大文字数（省略時は CHUNK_SIZE）",
							},
							&cli.IntFlag{
								Name:  "overlap",
								Usage: "チャンク間の重複文字数（省略時は CHUNK_OVERLAP）",
							},
							&cli.BoolFlag{
								Name:  "publish-pgvector",
								Usage: "構築後に pgvector テーブルへ公開",
							},
						},
						Action: a.IndexBuildAction,
					},
					{
						Name:  "publish",
						Usage: "構築済みインデックスを pgvector テーブルへ公開",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:  "index-dir",
								Usage: "インデックスディレクトリ（省略時は INDEX_DIR）",
							},
						},
						Action: a.IndexPublishAction,
					},
					{
						Name:  "inspect",
						Usage: "インデックスのメタデータを表示",
						Flags: []cli.Flag{
							envFlag(),
							&cli.StringFlag{
								Name:  "index-dir",
								Usage: "インデックスディレクトリ（省略時は INDEX_DIR）",
							},
						},
						Action: a.IndexInspectAction,
					},
				},
			},
			{
				Name:      "ask",
				Usage:     "質問に回答",
				ArgsUsage: "<質問文>",
				Flags: []cli.Flag{
					envFlag(),
					&cli.BoolFlag{
						Name:  "show-contexts",
						Usage: "根拠として使用したチャンクを表示",
					},
					&cli.IntFlag{
						Name:  "top-k",
						Usage: "検索件数（省略時は TOP_K）",
					},
				},
				Action: a.AskAction,
			},
			{
				Name:  "serve",
				Usage: "HTTPサーバを起動",
				Flags: []cli.Flag{
					envFlag(),
					&cli.StringFlag{
						Name:  "addr",
						Usage: "待ち受けアドレス（省略時は HTTP_ADDR）",
					},
				},
				Action: a.ServeAction,
			},
		},
	}
}
