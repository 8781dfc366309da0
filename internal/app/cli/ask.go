package cli

import (
	"context"
	"fmt"

	"github.com/samber/mo"
	"github.com/urfave/cli/v3"

	coreask "github.com/jinford/recipe-lab/internal/core/ask"
)

// AskAction は質問応答コマンドのアクション
func (a *App) AskAction(ctx context.Context, cmd *cli.Command) error {
	showContexts := cmd.Bool("show-contexts")
	envFile := cmd.String("env")

	// 質問文の取得
	question := cmd.Args().First()
	if question == "" {
		return fmt.Errorf("質問文を指定してください")
	}

	params := coreask.AskParams{Query: question}
	if cmd.IsSet("top-k") {
		params.TopK = mo.Some(cmd.Int("top-k"))
	}

	appCtx, err := a.newAppContext(ctx, envFile, nil)
	if err != nil {
		return err
	}
	defer appCtx.Close()

	svc, err := coreask.Ready(appCtx.Container.NewAskService(ctx))
	if err != nil {
		return err
	}

	answer, err := svc.Ask(ctx, params)
	if err != nil {
		appCtx.Logger.Error("質問応答に失敗しました", "error", err)
		return fmt.Errorf("質問応答に失敗: %w", err)
	}

	fmt.Fprintln(a.stdout, answer.Text)

	if showContexts && len(answer.Chunks) > 0 {
		fmt.Fprintln(a.stdout, "\n--- 参照コンテキスト ---")
		for i, c := range answer.Chunks {
			fmt.Fprintf(a.stdout, "[%d] %s (%s #%d) スコア: %.4f\n%s\n",
				i+1,
				c.Title,
				c.Source,
				c.ChunkID,
				c.Score,
				c.Content,
			)
		}
	}

	return nil
}
