package container

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/mo"

	coreask "github.com/jinford/recipe-lab/internal/core/ask"
	"github.com/jinford/recipe-lab/internal/core/document"
	"github.com/jinford/recipe-lab/internal/core/index"
	coreingestion "github.com/jinford/recipe-lab/internal/core/ingestion"
	"github.com/jinford/recipe-lab/internal/core/ingestion/chunk"
	"github.com/jinford/recipe-lab/internal/infra/openai"
	"github.com/jinford/recipe-lab/internal/infra/postgres"
	"github.com/jinford/recipe-lab/internal/platform/config"
	"github.com/jinford/recipe-lab/internal/platform/database"
)

// Embedder は構築と検索の両方で使う埋め込みクライアント
type Embedder interface {
	coreingestion.Embedder
	coreask.Embedder
}

// TokenCounter は構築と回答生成の両方で使うトークンカウンター
type TokenCounter interface {
	CountTokens(text string) int
}

// ServiceContainer は設定から各サービスを組み立てる。
// データベース接続は必要になった時点で確立し、Close で解放する。
type ServiceContainer struct {
	cfg    *config.Config
	logger *slog.Logger

	embedder     Embedder
	generator    coreask.Generator
	tokenCounter TokenCounter
	database     *database.DB
	ownsDatabase bool
}

type containerOptions struct {
	logger       *slog.Logger
	embedder     Embedder
	generator    coreask.Generator
	tokenCounter TokenCounter
	database     *database.DB
}

// ContainerOption は ServiceContainer 構築時のオプション
type ContainerOption func(*containerOptions)

// WithContainerLogger はロガーを差し替える
func WithContainerLogger(logger *slog.Logger) ContainerOption {
	return func(opts *containerOptions) {
		opts.logger = logger
	}
}

// WithContainerEmbedder は埋め込みクライアントを差し替える
func WithContainerEmbedder(embedder Embedder) ContainerOption {
	return func(opts *containerOptions) {
		opts.embedder = embedder
	}
}

// WithContainerGenerator は回答生成クライアントを差し替える
func WithContainerGenerator(generator coreask.Generator) ContainerOption {
	return func(opts *containerOptions) {
		opts.generator = generator
	}
}

// WithContainerTokenCounter はトークンカウンターを差し替える
func WithContainerTokenCounter(counter TokenCounter) ContainerOption {
	return func(opts *containerOptions) {
		opts.tokenCounter = counter
	}
}

// WithContainerDatabase は確立済みのデータベース接続を使う
// 渡された接続は Close で閉じない
func WithContainerDatabase(db *database.DB) ContainerOption {
	return func(opts *containerOptions) {
		opts.database = db
	}
}

// NewContainer は設定からコンテナを生成する。
// この時点では外部への接続は行わない。
func NewContainer(cfg *config.Config, opts ...ContainerOption) *ServiceContainer {
	options := containerOptions{}
	for _, opt := range opts {
		opt(&options)
	}
	logger := options.logger
	if logger == nil {
		logger = slog.Default()
	}

	return &ServiceContainer{
		cfg:          cfg,
		logger:       logger,
		embedder:     options.embedder,
		generator:    options.generator,
		tokenCounter: options.tokenCounter,
		database:     options.database,
	}
}

// Close は保持しているリソースを解放する
func (c *ServiceContainer) Close() {
	if c.database != nil && c.ownsDatabase {
		c.database.Close()
		c.database = nil
		c.ownsDatabase = false
	}
}

// Config はコンテナが保持する設定を返す
func (c *ServiceContainer) Config() *config.Config {
	return c.cfg
}

// Embedder は埋め込みクライアントを返す
func (c *ServiceContainer) Embedder() (Embedder, error) {
	if c.embedder != nil {
		return c.embedder, nil
	}
	if err := c.cfg.RequireAPIKey(); err != nil {
		return nil, err
	}

	e := c.cfg.Embedding
	c.embedder = openai.NewEmbedder(c.cfg.OpenAI.APIKey,
		openai.WithEmbeddingModel(e.Model),
		openai.WithEmbeddingDimension(e.Dimension),
		openai.WithEmbeddingBaseURL(c.cfg.OpenAI.BaseURL),
		openai.WithRoleField(e.RoleField),
		openai.WithBatchSize(e.BatchSize),
		openai.WithConcurrency(e.Concurrency),
		openai.WithRateLimit(e.RateLimit),
		openai.WithEmbeddingRequestTimeout(c.cfg.OpenAI.RequestTimeout),
		openai.WithEmbeddingMaxRetries(c.cfg.OpenAI.MaxRetries),
		openai.WithEmbedderLogger(c.logger),
	)
	return c.embedder, nil
}

// Generator は回答生成クライアントを返す
func (c *ServiceContainer) Generator() (coreask.Generator, error) {
	if c.generator != nil {
		return c.generator, nil
	}
	if err := c.cfg.RequireAPIKey(); err != nil {
		return nil, err
	}

	o := c.cfg.OpenAI
	client, err := openai.NewClient(o.APIKey,
		openai.WithModel(o.Model),
		openai.WithBaseURL(o.BaseURL),
		openai.WithTemperature(o.Temperature),
		openai.WithMaxTokens(o.MaxTokens),
		openai.WithRequestTimeout(o.RequestTimeout),
		openai.WithMaxRetries(o.MaxRetries),
		openai.WithClientLogger(c.logger),
	)
	if err != nil {
		return nil, fmt.Errorf("LLMクライアントの初期化に失敗しました: %w", err)
	}
	c.generator = client
	return c.generator, nil
}

// TokenCounter はトークンカウンターを返す
// エンコーディングを読み込めない場合は nil を返し、トークン数の集計は省略される
func (c *ServiceContainer) TokenCounter() TokenCounter {
	if c.tokenCounter != nil {
		return c.tokenCounter
	}
	counter, err := openai.NewTokenCounter()
	if err != nil {
		c.logger.Warn("Token counter unavailable", "error", err)
		return nil
	}
	c.tokenCounter = counter
	return c.tokenCounter
}

// Database はデータベース接続を返す。未接続なら接続する。
func (c *ServiceContainer) Database(ctx context.Context) (*database.DB, error) {
	if c.database != nil {
		return c.database, nil
	}

	d := c.cfg.Database
	db, err := database.New(ctx, database.ConnectionParams{
		Host:     d.Host,
		Port:     d.Port,
		User:     d.User,
		Password: d.Password,
		DBName:   d.DBName,
		SSLMode:  d.SSLMode,
	})
	if err != nil {
		return nil, fmt.Errorf("データベース初期化に失敗しました: %w", err)
	}
	c.database = db
	c.ownsDatabase = true
	return c.database, nil
}

// VectorRepository は pgvector リポジトリを返す
func (c *ServiceContainer) VectorRepository(ctx context.Context) (*postgres.VectorRepository, error) {
	db, err := c.Database(ctx)
	if err != nil {
		return nil, err
	}
	return postgres.NewVectorRepository(db.Pool,
		postgres.WithTable(c.cfg.Database.Table),
		postgres.WithRepositoryLogger(c.logger),
	), nil
}

// NewBuildService はインデックス構築サービスを組み立てる。
// publishPGVector が true の場合、構築後に pgvector テーブルへミラーする。
func (c *ServiceContainer) NewBuildService(ctx context.Context, publishPGVector bool) (*coreingestion.BuildService, error) {
	embedder, err := c.Embedder()
	if err != nil {
		return nil, err
	}

	chunker, err := chunk.New(c.cfg.Index.ChunkSize, c.cfg.Index.ChunkOverlap)
	if err != nil {
		return nil, fmt.Errorf("チャンカーの初期化に失敗しました: %w", err)
	}

	opts := []coreingestion.BuildServiceOption{
		coreingestion.WithBuildLogger(c.logger),
	}
	if counter := c.TokenCounter(); counter != nil {
		opts = append(opts, coreingestion.WithBuildTokenCounter(counter))
	}
	if publishPGVector {
		repo, err := c.VectorRepository(ctx)
		if err != nil {
			return nil, err
		}
		opts = append(opts, coreingestion.WithPublisher(repo))
	}

	return coreingestion.NewBuildService(embedder, chunker, opts...), nil
}

// NewAskService は検索・回答生成サービスを組み立てる。
// Ok は利用可能、Err は利用できない理由を表す。
func (c *ServiceContainer) NewAskService(ctx context.Context) mo.Result[*coreask.Service] {
	generator, err := c.Generator()
	if err != nil {
		return mo.Err[*coreask.Service](err)
	}
	embedder, err := c.Embedder()
	if err != nil {
		return mo.Err[*coreask.Service](err)
	}

	searcher, chunks, err := c.loadIndex(ctx)
	if err != nil {
		return mo.Err[*coreask.Service](err)
	}

	opts := []coreask.ServiceOption{
		coreask.WithAskLogger(c.logger),
		coreask.WithDefaultTopK(c.cfg.Index.TopK),
	}
	if counter := c.TokenCounter(); counter != nil {
		opts = append(opts, coreask.WithTokenCounter(counter))
	}

	svc := coreask.NewService(searcher, chunks, embedder, generator, opts...)
	c.logger.Info("Ask service ready",
		"backend", c.cfg.Index.Backend,
		"chunks", svc.ChunkCount(),
		"model", svc.ModelName(),
	)
	return mo.Ok(svc)
}

// loadIndex は設定されたバックエンドから検索器とチャンクを読み込む
func (c *ServiceContainer) loadIndex(ctx context.Context) (coreask.Searcher, []document.Chunk, error) {
	if c.cfg.Index.Backend == config.BackendPGVector {
		repo, err := c.VectorRepository(ctx)
		if err != nil {
			return nil, nil, err
		}
		chunks, err := repo.LoadChunks(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("pgvector からのインデックス読み込みに失敗しました: %w", err)
		}
		return repo, chunks, nil
	}

	store, err := index.LoadStore(c.cfg.Index.Dir)
	if err != nil {
		return nil, nil, fmt.Errorf("インデックスの読み込みに失敗しました (%s): %w", c.cfg.Index.Dir, err)
	}
	return coreask.IndexSearcher(store.Index), store.Chunks, nil
}

// Publish は保存済みのローカルインデックスを pgvector テーブルへミラーする
func (c *ServiceContainer) Publish(ctx context.Context) (*index.Store, error) {
	store, err := index.LoadStore(c.cfg.Index.Dir)
	if err != nil {
		return nil, fmt.Errorf("インデックスの読み込みに失敗しました (%s): %w", c.cfg.Index.Dir, err)
	}
	repo, err := c.VectorRepository(ctx)
	if err != nil {
		return nil, err
	}
	if err := repo.Publish(ctx, store); err != nil {
		return nil, fmt.Errorf("pgvector への公開に失敗しました: %w", err)
	}
	return store, nil
}
