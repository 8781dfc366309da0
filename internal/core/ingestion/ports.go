package ingestion

import (
	"context"

	"github.com/jinford/recipe-lab/internal/core/document"
	"github.com/jinford/recipe-lab/internal/core/index"
)

// Embedder はテキストをベクトルに変換するインターフェース
type Embedder interface {
	// Embed は入力と同じ順序・同じ件数のベクトルを返す
	// 1件でも失敗した場合は部分的な結果を返さずエラーにする
	Embed(ctx context.Context, texts []string, role document.Role) ([][]float32, error)

	// ModelName はモデル名を返す
	ModelName() string
}

// TokenCounter はトークン数をカウントするインターフェース
type TokenCounter interface {
	CountTokens(text string) int
}

// Publisher はローカルに保存したインデックスを外部バックエンドへ反映するインターフェース
type Publisher interface {
	// Name はログ出力用のバックエンド名を返す
	Name() string

	// Publish は store の内容で外部バックエンドを置き換える
	Publish(ctx context.Context, store *index.Store) error
}
