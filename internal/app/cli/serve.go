package cli

import (
	"context"

	"github.com/urfave/cli/v3"

	"github.com/jinford/recipe-lab/internal/interface/rest"
	"github.com/jinford/recipe-lab/internal/platform/config"
)

// ServeAction はHTTPサーバを起動するコマンドのアクション
// インデックスが未構築でも起動し、/chat は 503 を返す
func (a *App) ServeAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := a.newAppContext(ctx, cmd.String("env"), func(cfg *config.Config) {
		if v := cmd.String("addr"); v != "" {
			cfg.HTTP.Addr = v
		}
	})
	if err != nil {
		return err
	}
	defer appCtx.Close()

	result := appCtx.Container.NewAskService(ctx)
	if err := result.Error(); err != nil {
		appCtx.Logger.Warn("RAGの初期化に失敗しました。インデックスなしで起動します", "error", err)
	}

	server := rest.NewServer(result, appCtx.Config.OpenAI.Model, rest.WithServerLogger(appCtx.Logger))
	return server.ListenAndServe(ctx, appCtx.Config.HTTP.Addr)
}
