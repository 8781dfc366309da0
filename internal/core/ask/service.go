package ask

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/samber/mo"

	"github.com/jinford/recipe-lab/internal/core/document"
	"github.com/jinford/recipe-lab/internal/core/index"
)

// DefaultTopK は検索件数の既定値
const DefaultTopK = 5

var (
	// ErrInvalidQuery は質問文が空の場合などのエラー
	ErrInvalidQuery = errors.New("invalid query")
	// ErrRetrievalFailed はクエリの Embedding や検索に失敗した場合のエラー
	ErrRetrievalFailed = errors.New("retrieval failed")
	// ErrGenerationFailed は回答生成に失敗した場合のエラー
	ErrGenerationFailed = errors.New("generation failed")
	// ErrNotReady はインデックス未構築などでサービスを利用できない場合のエラー
	ErrNotReady = errors.New("ask service not ready")
)

// Embedder はクエリをベクトルに変換するインターフェース
type Embedder interface {
	Embed(ctx context.Context, texts []string, role document.Role) ([][]float32, error)
}

// Generator はプロンプトから回答を生成するインターフェース
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
	ModelName() string
}

// Searcher は正規化済みクエリベクトルで近傍検索を行うインターフェース
type Searcher interface {
	Search(ctx context.Context, query []float32, topK int) ([]index.Hit, error)
}

// SearcherFunc は関数を Searcher として扱うアダプタ
type SearcherFunc func(ctx context.Context, query []float32, topK int) ([]index.Hit, error)

// Search は f(ctx, query, topK) を呼び出す
func (f SearcherFunc) Search(ctx context.Context, query []float32, topK int) ([]index.Hit, error) {
	return f(ctx, query, topK)
}

// IndexSearcher はメモリ上の FlatIndex を Searcher として扱う
func IndexSearcher(idx *index.FlatIndex) Searcher {
	return SearcherFunc(func(_ context.Context, query []float32, topK int) ([]index.Hit, error) {
		return idx.Search(query, topK)
	})
}

// TokenCounter はプロンプトのトークン数をカウントするインターフェース
type TokenCounter interface {
	CountTokens(text string) int
}

// Service は検索拡張生成（RAG）による質問応答を提供する
// 構築後は不変であり、複数ゴルーチンから同時に利用してよい
type Service struct {
	searcher     Searcher
	chunks       []document.Chunk
	embedder     Embedder
	generator    Generator
	topK         int
	tokenCounter TokenCounter
	logger       *slog.Logger
}

// ServiceOption は Service のオプション設定
type ServiceOption func(*Service)

// WithAskLogger は Service にロガーを設定する
func WithAskLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithDefaultTopK は既定の検索件数を設定する
func WithDefaultTopK(k int) ServiceOption {
	return func(s *Service) {
		if k > 0 {
			s.topK = k
		}
	}
}

// WithTokenCounter はプロンプトのトークン数をログに出すための TokenCounter を設定する
func WithTokenCounter(counter TokenCounter) ServiceOption {
	return func(s *Service) {
		s.tokenCounter = counter
	}
}

// NewService は新しい Service を作成する
// chunks[i] は searcher が返す位置 i に対応していること
func NewService(
	searcher Searcher,
	chunks []document.Chunk,
	embedder Embedder,
	generator Generator,
	opts ...ServiceOption,
) *Service {
	svc := &Service{
		searcher:  searcher,
		chunks:    chunks,
		embedder:  embedder,
		generator: generator,
		topK:      DefaultTopK,
		logger:    slog.Default(),
	}

	for _, opt := range opts {
		opt(svc)
	}

	if svc.logger == nil {
		svc.logger = slog.Default()
	}

	return svc
}

// ModelName は回答生成に使用するモデル名を返す
func (s *Service) ModelName() string {
	return s.generator.ModelName()
}

// ChunkCount はインデックス済みのチャンク数を返す
func (s *Service) ChunkCount() int {
	return len(s.chunks)
}

// Retrieve はクエリに近いチャンクをスコアの降順で最大 topK 件返す
func (s *Service) Retrieve(ctx context.Context, query string, topK int) ([]RetrievedChunk, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query is required", ErrInvalidQuery)
	}
	if topK < 1 {
		return nil, fmt.Errorf("%w: top_k must be >= 1, got %d", ErrInvalidQuery, topK)
	}

	// 1. クエリの Embedding
	vectors, err := s.embedder.Embed(ctx, []string{query}, document.RoleQuery)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to embed query: %w", ErrRetrievalFailed, err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("%w: embedder returned %d vectors for 1 query", ErrRetrievalFailed, len(vectors))
	}

	// 2. インデックス側と同じく正規化して内積をコサイン類似度にする
	queryVector := index.Normalize(vectors[0])

	// 3. 近傍検索
	hits, err := s.searcher.Search(ctx, queryVector, topK)
	if err != nil {
		return nil, fmt.Errorf("%w: search failed: %w", ErrRetrievalFailed, err)
	}

	// 4. 位置をチャンクに対応付ける
	results := make([]RetrievedChunk, 0, len(hits))
	for _, hit := range hits {
		if hit.Position < 0 || hit.Position >= len(s.chunks) {
			s.logger.Debug("dropping out-of-range search hit", "position", hit.Position, "chunks", len(s.chunks))
			continue
		}
		results = append(results, RetrievedChunk{
			Chunk:    s.chunks[hit.Position],
			Position: hit.Position,
			Score:    hit.Score,
		})
	}

	return results, nil
}

// Generate は既定の検索件数で Ask を実行する
func (s *Service) Generate(ctx context.Context, query string) (*Answer, error) {
	return s.Ask(ctx, AskParams{Query: query})
}

// Ask は質問に対して RAG ベースで回答を生成する
func (s *Service) Ask(ctx context.Context, params AskParams) (*Answer, error) {
	topK := params.TopK.OrElse(s.topK)

	s.logger.Info("retrieving contexts", "query", params.Query, "topK", topK)

	retrieved, err := s.Retrieve(ctx, params.Query, topK)
	if err != nil {
		return nil, err
	}

	contexts := make([]string, 0, len(retrieved))
	for _, r := range retrieved {
		contexts = append(contexts, r.Content)
	}

	prompt := BuildAskPrompt(params.Query, contexts)
	if s.tokenCounter != nil {
		s.logger.Debug("prompt built", "contexts", len(contexts), "promptTokens", s.tokenCounter.CountTokens(prompt))
	}

	s.logger.Info("generating answer", "model", s.generator.ModelName(), "contexts", len(contexts))
	text, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	s.logger.Info("ask completed successfully", "answerLength", len(text), "contexts", len(contexts))

	return &Answer{
		Text:     text,
		Contexts: contexts,
		Chunks:   retrieved,
		Model:    s.generator.ModelName(),
	}, nil
}

// Ready は初期化結果から利用可能な Service を取り出す
// 初期化に失敗していた場合は ErrNotReady でラップした理由を返す
func Ready(result mo.Result[*Service]) (*Service, error) {
	svc, err := result.Get()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotReady, err)
	}
	return svc, nil
}
