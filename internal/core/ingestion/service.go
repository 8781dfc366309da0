package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jinford/recipe-lab/internal/core/document"
	"github.com/jinford/recipe-lab/internal/core/index"
	"github.com/jinford/recipe-lab/internal/core/ingestion/chunk"
)

// ErrNoDocuments はチャンクが1件も生成されなかった場合のエラー
var ErrNoDocuments = errors.New("no valid documents found")

// BuildParams はインデックス構築のパラメータ
type BuildParams struct {
	SourceDir string // 生データのディレクトリ
	OutputDir string // vectors.index / chunks.json の出力先
}

// BuildStats はインデックス構築の結果を表す
type BuildStats struct {
	BuildID        uuid.UUID
	Documents      int // 読み込んだドキュメント数
	EmptyDocuments int // チャンクを生成しなかったドキュメント数
	Chunks         int
	Dimension      int
	TotalTokens    int // TokenCounter 未設定の場合は 0
	Published      []string
	Duration       time.Duration
}

// BuildService はインデックス構築のユースケースを提供する
// 毎回全件を再構築し、既存のインデックスはリネームで置き換える
type BuildService struct {
	embedder     Embedder
	chunker      *chunk.Chunker
	tokenCounter TokenCounter
	publishers   []Publisher
	loaderOpts   []LoaderOption
	logger       *slog.Logger
}

type buildServiceOptions struct {
	tokenCounter TokenCounter
	publishers   []Publisher
	loaderOpts   []LoaderOption
	logger       *slog.Logger
}

// BuildServiceOption は BuildService のオプション設定
type BuildServiceOption func(*buildServiceOptions)

// WithBuildLogger は BuildService にロガーを設定する
func WithBuildLogger(logger *slog.Logger) BuildServiceOption {
	return func(o *buildServiceOptions) {
		o.logger = logger
	}
}

// WithBuildTokenCounter はトークン数の集計に使う TokenCounter を設定する
func WithBuildTokenCounter(counter TokenCounter) BuildServiceOption {
	return func(o *buildServiceOptions) {
		o.tokenCounter = counter
	}
}

// WithPublisher はローカル保存後に実行する Publisher を追加する
func WithPublisher(p Publisher) BuildServiceOption {
	return func(o *buildServiceOptions) {
		if p != nil {
			o.publishers = append(o.publishers, p)
		}
	}
}

// WithLoaderOptions は内部で作成する Loader にオプションを渡す
func WithLoaderOptions(opts ...LoaderOption) BuildServiceOption {
	return func(o *buildServiceOptions) {
		o.loaderOpts = append(o.loaderOpts, opts...)
	}
}

// NewBuildService は新しい BuildService を作成する
func NewBuildService(embedder Embedder, chunker *chunk.Chunker, opts ...BuildServiceOption) *BuildService {
	options := buildServiceOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	return &BuildService{
		embedder:     embedder,
		chunker:      chunker,
		tokenCounter: options.tokenCounter,
		publishers:   options.publishers,
		loaderOpts:   append([]LoaderOption{WithLoaderLogger(options.logger)}, options.loaderOpts...),
		logger:       options.logger,
	}
}

// Build はソースディレクトリからインデックスを構築して OutputDir に保存する
// Embedding やインデックス構築に失敗した場合はファイルを一切書き込まない
func (s *BuildService) Build(ctx context.Context, params BuildParams) (*BuildStats, error) {
	startTime := time.Now()
	stats := &BuildStats{}

	s.logger.Info("Starting index build",
		"sourceDir", params.SourceDir,
		"outputDir", params.OutputDir,
		"chunkSize", s.chunker.ChunkSize(),
		"overlap", s.chunker.Overlap(),
	)

	// 1. ドキュメントの読み込みとチャンク化
	var chunks []document.Chunk
	var texts []string
	loader := NewLoader(params.SourceDir, s.loaderOpts...)
	for doc, err := range loader.Documents(ctx) {
		if err != nil {
			return nil, fmt.Errorf("failed to load documents: %w", err)
		}
		stats.Documents++

		docChunks, err := s.chunker.Chunk(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to chunk %s: %w", doc.Source, err)
		}
		if len(docChunks) == 0 {
			stats.EmptyDocuments++
			s.logger.Debug("No chunks generated", "source", doc.Source, "title", doc.Title)
			continue
		}

		for _, c := range docChunks {
			chunks = append(chunks, c)
			texts = append(texts, c.Content)
			if s.tokenCounter != nil {
				stats.TotalTokens += s.tokenCounter.CountTokens(c.Content)
			}
		}
	}

	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w in %s", ErrNoDocuments, params.SourceDir)
	}
	stats.Chunks = len(chunks)

	s.logger.Info("Prepared chunks",
		"documents", stats.Documents,
		"chunks", stats.Chunks,
		"tokens", stats.TotalTokens,
	)

	// 2. Embedding 生成
	vectors, err := s.embedder.Embed(ctx, texts, document.RoleDocument)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(vectors) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks))
	}

	// 3. インデックス構築
	idx, err := index.Build(vectors)
	if err != nil {
		return nil, fmt.Errorf("failed to build index: %w", err)
	}
	stats.Dimension = idx.Dimension()

	store, err := index.NewStore(idx, chunks, index.Meta{EmbeddingModel: s.embedder.ModelName()})
	if err != nil {
		return nil, err
	}
	stats.BuildID = store.Meta.BuildID

	// 4. 保存
	if err := index.SaveStore(params.OutputDir, store); err != nil {
		return nil, fmt.Errorf("failed to save index: %w", err)
	}

	// 5. 外部バックエンドへの反映
	for _, p := range s.publishers {
		if err := p.Publish(ctx, store); err != nil {
			return nil, fmt.Errorf("failed to publish index to %s: %w", p.Name(), err)
		}
		stats.Published = append(stats.Published, p.Name())
		s.logger.Info("Published index", "backend", p.Name(), "chunks", stats.Chunks)
	}

	stats.Duration = time.Since(startTime)
	s.logger.Info("Index build completed",
		"buildID", stats.BuildID,
		"documents", stats.Documents,
		"chunks", stats.Chunks,
		"dimension", stats.Dimension,
		"duration", stats.Duration,
	)

	return stats, nil
}
