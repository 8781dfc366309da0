package openai

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/jinford/recipe-lab/internal/core/ask"
	"github.com/jinford/recipe-lab/internal/core/document"
	"github.com/jinford/recipe-lab/internal/core/ingestion"
)

const (
	// DefaultEmbeddingModel はモデル未指定時のデフォルトモデル
	DefaultEmbeddingModel = "text-embedding-3-small"
	// DefaultEmbeddingBatchSize は1リクエストあたりのテキスト数
	DefaultEmbeddingBatchSize = 1
	// DefaultEmbeddingConcurrency は同時に送信するリクエスト数
	DefaultEmbeddingConcurrency = 4
	// MaxEmbeddingBatchSize は OpenAI API が受け付ける最大入力数
	MaxEmbeddingBatchSize = 2048
)

// Embedder は OpenAI 互換の Embeddings API を使用してテキストをベクトルに変換する
type Embedder struct {
	client      openai.Client
	model       string
	dimension   int
	roleField   string
	batchSize   int
	concurrency int
	limiter     *rate.Limiter
	retry       retryPolicy
	logger      *slog.Logger

	progressInterval time.Duration
}

type embedderOptions struct {
	model       string
	dimension   int
	baseURL     string
	roleField   string
	batchSize   int
	concurrency int
	rateLimit   float64
	retry       retryPolicy
	logger      *slog.Logger

	progressInterval time.Duration
}

// EmbedderOption は Embedder のオプション設定
type EmbedderOption func(*embedderOptions)

// WithEmbeddingModel はモデル名を上書きする
func WithEmbeddingModel(model string) EmbedderOption {
	return func(o *embedderOptions) {
		if model != "" {
			o.model = model
		}
	}
}

// WithEmbeddingDimension はベクトル次元を指定する（0 の場合はサーバー既定）
func WithEmbeddingDimension(dimension int) EmbedderOption {
	return func(o *embedderOptions) {
		o.dimension = dimension
	}
}

// WithEmbeddingBaseURL は API のベース URL を上書きする
func WithEmbeddingBaseURL(baseURL string) EmbedderOption {
	return func(o *embedderOptions) {
		o.baseURL = baseURL
	}
}

// WithRoleField はロールを送信する追加の JSON フィールド名を設定する（例: task_type）
func WithRoleField(field string) EmbedderOption {
	return func(o *embedderOptions) {
		o.roleField = field
	}
}

// WithBatchSize は1リクエストにまとめるテキスト数を設定する
func WithBatchSize(size int) EmbedderOption {
	return func(o *embedderOptions) {
		o.batchSize = size
	}
}

// WithConcurrency は同時リクエスト数の上限を設定する
func WithConcurrency(n int) EmbedderOption {
	return func(o *embedderOptions) {
		o.concurrency = n
	}
}

// WithRateLimit は毎秒のリクエスト数の上限を設定する（0 以下は無制限）
func WithRateLimit(rps float64) EmbedderOption {
	return func(o *embedderOptions) {
		o.rateLimit = rps
	}
}

// WithEmbeddingRequestTimeout は1回のリクエストのタイムアウトを設定する
func WithEmbeddingRequestTimeout(timeout time.Duration) EmbedderOption {
	return func(o *embedderOptions) {
		if timeout > 0 {
			o.retry.timeout = timeout
		}
	}
}

// WithEmbeddingMaxRetries は一時的なエラー時の最大リトライ回数を設定する
func WithEmbeddingMaxRetries(n int) EmbedderOption {
	return func(o *embedderOptions) {
		if n >= 0 {
			o.retry.maxRetries = n
		}
	}
}

// WithEmbeddingBackoff はリトライ間隔の基底時間と上限を設定する
func WithEmbeddingBackoff(base, limit time.Duration) EmbedderOption {
	return func(o *embedderOptions) {
		o.retry.baseBackoff = base
		o.retry.maxBackoff = limit
	}
}

// WithEmbedderLogger は Embedder にロガーを設定する
func WithEmbedderLogger(logger *slog.Logger) EmbedderOption {
	return func(o *embedderOptions) {
		o.logger = logger
	}
}

// WithProgressInterval は進捗ログの出力間隔を設定する
func WithProgressInterval(interval time.Duration) EmbedderOption {
	return func(o *embedderOptions) {
		o.progressInterval = interval
	}
}

// NewEmbedder は新しい Embedder を作成する
func NewEmbedder(apiKey string, opts ...EmbedderOption) *Embedder {
	options := embedderOptions{
		model:       DefaultEmbeddingModel,
		batchSize:   DefaultEmbeddingBatchSize,
		concurrency: DefaultEmbeddingConcurrency,
		retry:       defaultRetryPolicy(),
		logger:      slog.Default(),

		progressInterval: DefaultProgressInterval,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}
	options.batchSize = min(max(options.batchSize, 1), MaxEmbeddingBatchSize)
	options.concurrency = max(options.concurrency, 1)

	// リトライは retryPolicy で行うため SDK 側のリトライは無効にする
	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if options.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(options.baseURL))
	}

	var limiter *rate.Limiter
	if options.rateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(options.rateLimit), max(1, int(options.rateLimit)))
	}

	return &Embedder{
		client:      openai.NewClient(clientOpts...),
		model:       options.model,
		dimension:   options.dimension,
		roleField:   options.roleField,
		batchSize:   options.batchSize,
		concurrency: options.concurrency,
		limiter:     limiter,
		retry:       options.retry,
		logger:      options.logger,

		progressInterval: options.progressInterval,
	}
}

// Embed はテキストごとに1つのベクトルを入力と同じ順序で返す
// バッチは並列に送信し、結果は入力位置のスロットに書き込む
// 1件でも失敗した場合は部分的な結果を返さない
func (e *Embedder) Embed(ctx context.Context, texts []string, role document.Role) ([][]float32, error) {
	if !role.Valid() {
		return nil, fmt.Errorf("unknown embedding role %q", role)
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, len(texts))

	var progress *progressLogger
	if len(texts) > e.batchSize {
		progress = newProgressLogger(e.logger, e.progressInterval, len(texts))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for start := 0; start < len(texts); start += e.batchSize {
		end := min(start+e.batchSize, len(texts))
		g.Go(func() error {
			vectors, err := e.embedBatch(gctx, texts[start:end], role)
			if err != nil {
				return err
			}
			copy(results[start:end], vectors)
			if progress != nil {
				progress.done(end - start)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}

	e.logger.Debug("Embedded texts", "count", len(texts), "role", role, "model", e.model)
	return results, nil
}

func (e *Embedder) embedBatch(ctx context.Context, texts []string, role document.Role) ([][]float32, error) {
	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
	}
	if len(texts) == 1 {
		params.Input = openai.EmbeddingNewParamsInputUnion{
			OfString: openai.String(texts[0]),
		}
	} else {
		params.Input = openai.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		}
	}
	if e.dimension > 0 {
		params.Dimensions = openai.Int(int64(e.dimension))
	}

	var reqOpts []option.RequestOption
	if e.roleField != "" {
		reqOpts = append(reqOpts, option.WithJSONSet(e.roleField, roleValue(role)))
	}

	var vectors [][]float32
	err := e.retry.do(ctx, e.logger, "embedding request", func(ctx context.Context) error {
		resp, err := e.client.Embeddings.New(ctx, params, reqOpts...)
		if err != nil {
			return err
		}
		vectors, err = decodeEmbeddings(resp, len(texts))
		return err
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

// decodeEmbeddings はレスポンスを index に従って並べ替える
func decodeEmbeddings(resp *openai.CreateEmbeddingResponse, want int) ([][]float32, error) {
	if resp == nil || len(resp.Data) != want {
		got := 0
		if resp != nil {
			got = len(resp.Data)
		}
		return nil, fmt.Errorf("%w: expected %d embeddings, got %d", ErrInvalidResponse, want, got)
	}

	vectors := make([][]float32, want)
	for _, data := range resp.Data {
		i := int(data.Index)
		if i < 0 || i >= want || vectors[i] != nil {
			return nil, fmt.Errorf("%w: unexpected embedding index %d", ErrInvalidResponse, data.Index)
		}
		if len(data.Embedding) == 0 {
			return nil, fmt.Errorf("%w: empty embedding at index %d", ErrInvalidResponse, data.Index)
		}

		vector := make([]float32, len(data.Embedding))
		for j, v := range data.Embedding {
			vector[j] = float32(v)
		}
		vectors[i] = vector
	}
	return vectors, nil
}

// roleValue はロールを Gemini 互換の task_type 値に変換する
func roleValue(role document.Role) string {
	if role == document.RoleQuery {
		return "RETRIEVAL_QUERY"
	}
	return "RETRIEVAL_DOCUMENT"
}

// ModelName はモデル名を返す
func (e *Embedder) ModelName() string {
	return e.model
}

// Dimension は要求するベクトル次元数を返す（0 はサーバー既定）
func (e *Embedder) Dimension() int {
	return e.dimension
}

// インターフェース実装の確認
var (
	_ ingestion.Embedder = (*Embedder)(nil)
	_ ask.Embedder       = (*Embedder)(nil)
)
