package ask

import (
	"github.com/samber/mo"

	"github.com/jinford/recipe-lab/internal/core/document"
)

// AskParams は質問応答のパラメータを表す
type AskParams struct {
	Query string         // ユーザーの質問文
	TopK  mo.Option[int] // 検索件数（未指定ならサービスの既定値）
}

// RetrievedChunk は検索でヒットしたチャンクとスコアを表す
type RetrievedChunk struct {
	document.Chunk
	Position int     `json:"position"` // インデックス内の位置
	Score    float32 `json:"score"`    // クエリとのコサイン類似度
}

// Answer は質問応答の結果を表す
type Answer struct {
	Text     string           // 生成された回答
	Contexts []string         // 根拠として渡したチャンク本文（スコア順）
	Chunks   []RetrievedChunk // 根拠チャンクの詳細
	Model    string           // 回答を生成したモデル名
}
