package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/jinford/recipe-lab/internal/core/index"
	coreingestion "github.com/jinford/recipe-lab/internal/core/ingestion"
	"github.com/jinford/recipe-lab/internal/platform/config"
)

// IndexBuildAction はインデックス構築コマンドのアクション
func (a *App) IndexBuildAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := a.newAppContext(ctx, cmd.String("env"), func(cfg *config.Config) {
		if v := cmd.String("data-dir"); v != "" {
			cfg.Index.DataDir = v
		}
		if v := cmd.String("index-dir"); v != "" {
			cfg.Index.Dir = v
		}
		if cmd.IsSet("chunk-size") {
			cfg.Index.ChunkSize = cmd.Int("chunk-size")
		}
		if cmd.IsSet("overlap") {
			cfg.Index.ChunkOverlap = cmd.Int("overlap")
		}
		if cmd.Bool("publish-pgvector") {
			cfg.Index.PublishPGVector = true
		}
	})
	if err != nil {
		return err
	}
	defer appCtx.Close()

	cfg := appCtx.Config
	appCtx.Logger.Info("インデックス構築を開始",
		"dataDir", cfg.Index.DataDir,
		"indexDir", cfg.Index.Dir,
		"chunkSize", cfg.Index.ChunkSize,
		"overlap", cfg.Index.ChunkOverlap,
		"publishPGVector", cfg.Index.PublishPGVector,
	)

	builder, err := appCtx.Container.NewBuildService(ctx, cfg.Index.PublishPGVector)
	if err != nil {
		return fmt.Errorf("インデックス構築の準備に失敗: %w", err)
	}

	stats, err := builder.Build(ctx, coreingestion.BuildParams{
		SourceDir: cfg.Index.DataDir,
		OutputDir: cfg.Index.Dir,
	})
	if err != nil {
		return fmt.Errorf("インデックス構築に失敗: %w", err)
	}

	w := a.stdout
	fmt.Fprintln(w, "インデックスを構築しました")
	fmt.Fprintf(w, "  出力先: %s\n", cfg.Index.Dir)
	fmt.Fprintf(w, "  ビルドID: %s\n", stats.BuildID)
	fmt.Fprintf(w, "  ドキュメント数: %d (本文なし: %d)\n", stats.Documents, stats.EmptyDocuments)
	fmt.Fprintf(w, "  チャンク数: %d\n", stats.Chunks)
	fmt.Fprintf(w, "  次元数: %d\n", stats.Dimension)
	if stats.TotalTokens > 0 {
		fmt.Fprintf(w, "  トークン数: %d\n", stats.TotalTokens)
	}
	if len(stats.Published) > 0 {
		fmt.Fprintf(w, "  公開先: %s\n", strings.Join(stats.Published, ", "))
	}
	fmt.Fprintf(w, "  所要時間: %s\n", stats.Duration.Round(time.Millisecond))

	return nil
}

// IndexPublishAction は構築済みインデックスを pgvector へ公開するコマンドのアクション
func (a *App) IndexPublishAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := a.newAppContext(ctx, cmd.String("env"), func(cfg *config.Config) {
		if v := cmd.String("index-dir"); v != "" {
			cfg.Index.Dir = v
		}
	})
	if err != nil {
		return err
	}
	defer appCtx.Close()

	store, err := appCtx.Container.Publish(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "%d 件のチャンクを pgvector テーブル %s に公開しました (ビルドID: %s)\n",
		len(store.Chunks), appCtx.Config.Database.Table, store.Meta.BuildID)
	return nil
}

// IndexInspectAction はインデックスのメタデータを表示するコマンドのアクション
func (a *App) IndexInspectAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := a.newAppContext(ctx, cmd.String("env"), func(cfg *config.Config) {
		if v := cmd.String("index-dir"); v != "" {
			cfg.Index.Dir = v
		}
	})
	if err != nil {
		return err
	}
	defer appCtx.Close()

	dir := appCtx.Config.Index.Dir
	store, err := index.LoadStore(dir)
	if err != nil {
		return fmt.Errorf("インデックスの読み込みに失敗 (%s): %w", dir, err)
	}

	w := a.stdout
	fmt.Fprintf(w, "インデックス: %s\n", dir)
	fmt.Fprintf(w, "  ビルドID: %s\n", store.Meta.BuildID)
	fmt.Fprintf(w, "  Embeddingモデル: %s\n", store.Meta.EmbeddingModel)
	fmt.Fprintf(w, "  次元数: %d\n", store.Index.Dimension())
	fmt.Fprintf(w, "  ベクトル数: %d\n", store.Index.Len())
	fmt.Fprintf(w, "  チャンク数: %d\n", len(store.Chunks))

	sources := make(map[string]int)
	for _, c := range store.Chunks {
		sources[c.Source]++
	}
	fmt.Fprintf(w, "  ソース数: %d\n", len(sources))

	return nil
}
