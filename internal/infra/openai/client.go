package openai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"

	"github.com/jinford/recipe-lab/internal/core/ask"
)

const (
	// DefaultModel はデフォルトで使用する生成モデル
	DefaultModel = "gpt-4o-mini"

	// DefaultTemperature は生成時のデフォルト温度
	DefaultTemperature = 0.3

	// DefaultMaxTokens は生成トークン数のデフォルト上限
	DefaultMaxTokens = 1024
)

// ErrAPIKeyNotSet はAPIキーが設定されていない場合のエラー
var ErrAPIKeyNotSet = errors.New("API key not set: please set OPENAI_API_KEY or GEMINI_API_KEY")

// Client は OpenAI 互換の Chat Completions API を使用した回答生成クライアント
type Client struct {
	client      openai.Client
	model       string
	temperature float64
	maxTokens   int
	retry       retryPolicy
	logger      *slog.Logger
}

type clientOptions struct {
	model       string
	baseURL     string
	temperature float64
	maxTokens   int
	retry       retryPolicy
	logger      *slog.Logger
}

// ClientOption は Client のオプション設定
type ClientOption func(*clientOptions)

// WithModel は生成モデルを上書きする
func WithModel(model string) ClientOption {
	return func(o *clientOptions) {
		if model != "" {
			o.model = model
		}
	}
}

// WithBaseURL は API のベース URL を上書きする
func WithBaseURL(baseURL string) ClientOption {
	return func(o *clientOptions) {
		o.baseURL = baseURL
	}
}

// WithTemperature は生成時の温度を設定する
func WithTemperature(t float64) ClientOption {
	return func(o *clientOptions) {
		o.temperature = t
	}
}

// WithMaxTokens は生成トークン数の上限を設定する（0 以下は指定なし）
func WithMaxTokens(n int) ClientOption {
	return func(o *clientOptions) {
		o.maxTokens = n
	}
}

// WithRequestTimeout は1回のリクエストのタイムアウトを設定する
func WithRequestTimeout(timeout time.Duration) ClientOption {
	return func(o *clientOptions) {
		if timeout > 0 {
			o.retry.timeout = timeout
		}
	}
}

// WithMaxRetries は一時的なエラー時の最大リトライ回数を設定する
func WithMaxRetries(n int) ClientOption {
	return func(o *clientOptions) {
		if n >= 0 {
			o.retry.maxRetries = n
		}
	}
}

// WithBackoff はリトライ間隔の基底時間と上限を設定する
func WithBackoff(base, limit time.Duration) ClientOption {
	return func(o *clientOptions) {
		o.retry.baseBackoff = base
		o.retry.maxBackoff = limit
	}
}

// WithClientLogger は Client にロガーを設定する
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// NewClient は新しい Client を作成する
func NewClient(apiKey string, opts ...ClientOption) (*Client, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyNotSet
	}

	options := clientOptions{
		model:       DefaultModel,
		temperature: DefaultTemperature,
		maxTokens:   DefaultMaxTokens,
		retry:       defaultRetryPolicy(),
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if options.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(options.baseURL))
	}

	return &Client{
		client:      openai.NewClient(clientOpts...),
		model:       options.model,
		temperature: options.temperature,
		maxTokens:   options.maxTokens,
		retry:       options.retry,
		logger:      options.logger,
	}, nil
}

// ModelName はモデル名を返す
func (c *Client) ModelName() string {
	return c.model
}

// Generate はプロンプトに対する回答テキストを生成する
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
		Temperature: openai.Float(c.temperature),
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}

	var content string
	err := c.retry.do(ctx, c.logger, "chat completion", func(ctx context.Context) error {
		completion, err := c.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return err
		}
		if len(completion.Choices) == 0 {
			return fmt.Errorf("%w: no completion choices returned", ErrInvalidResponse)
		}

		content = completion.Choices[0].Message.Content
		c.logger.Debug("Chat completion finished",
			"model", completion.Model,
			"promptTokens", completion.Usage.PromptTokens,
			"completionTokens", completion.Usage.CompletionTokens,
		)
		return nil
	})
	if err != nil {
		return "", err
	}

	return content, nil
}

// インターフェース実装の確認
var _ ask.Generator = (*Client)(nil)
