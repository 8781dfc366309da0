package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jinford/recipe-lab/internal/platform/config"
	"github.com/jinford/recipe-lab/internal/platform/container"
	"github.com/jinford/recipe-lab/internal/platform/logger"
)

// App はコマンドの実行環境を保持する
type App struct {
	stdout        io.Writer
	logOutput     io.Writer
	containerOpts []container.ContainerOption
}

// AppOption は App のオプション設定
type AppOption func(*App)

// WithStdout はコマンド結果の出力先を設定する
func WithStdout(w io.Writer) AppOption {
	return func(a *App) {
		a.stdout = w
	}
}

// WithLogOutput はログの出力先を設定する
func WithLogOutput(w io.Writer) AppOption {
	return func(a *App) {
		a.logOutput = w
	}
}

// WithContainerOptions はコンテナ構築時のオプションを追加する
func WithContainerOptions(opts ...container.ContainerOption) AppOption {
	return func(a *App) {
		a.containerOpts = append(a.containerOpts, opts...)
	}
}

// NewApp は新しい App を作成する
func NewApp(opts ...AppOption) *App {
	a := &App{stdout: os.Stdout}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AppContext はコマンド実行に必要な共通コンテキストを保持する
type AppContext struct {
	Config    *config.Config
	Logger    *slog.Logger
	Container *container.ServiceContainer
}

// newAppContext は設定ファイルを読み込み、AppContext を作成する
// override はフラグによる設定の上書きに使い、上書き後に再検証する
func (a *App) newAppContext(_ context.Context, envFile string, override func(*config.Config)) (*AppContext, error) {
	cfg, err := config.Load(envFile)
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
	}
	if override != nil {
		override(cfg)
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("設定の読み込みに失敗: %w", err)
		}
	}

	appLogger := logger.New(logger.Config{
		Level:  logger.ParseLevel(cfg.Log.Level),
		Format: cfg.Log.Format,
		Output: a.logOutput,
	})

	opts := append([]container.ContainerOption{container.WithContainerLogger(appLogger)}, a.containerOpts...)

	return &AppContext{
		Config:    cfg,
		Logger:    appLogger,
		Container: container.NewContainer(cfg, opts...),
	}, nil
}

// Close はAppContextが保持するリソースをクリーンアップする
func (ac *AppContext) Close() {
	if ac.Container != nil {
		ac.Container.Close()
	}
}
