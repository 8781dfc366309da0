package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/jinford/recipe-lab/internal/core/ingestion/chunk"
)

// インデックスのバックエンド種別
const (
	BackendFile     = "file"
	BackendPGVector = "pgvector"
)

var (
	// ErrMissingAPIKey は OPENAI_API_KEY / GEMINI_API_KEY のどちらも設定されていない場合のエラー
	ErrMissingAPIKey = errors.New("API key is not set: please set OPENAI_API_KEY or GEMINI_API_KEY")
	// ErrInvalidConfig は設定値が不正な場合のエラー
	ErrInvalidConfig = errors.New("invalid config")
)

// Config はアプリケーション全体の設定を保持します
type Config struct {
	// OpenAI 互換 API 設定
	OpenAI OpenAIConfig

	// Embedding 設定
	Embedding EmbeddingConfig

	// インデックス構築・検索設定
	Index IndexConfig

	// Database設定（pgvector バックエンド用）
	Database DatabaseConfig

	// HTTP サーバー設定
	HTTP HTTPConfig

	// ログ設定
	Log LogConfig
}

// OpenAIConfig は API 接続と回答生成の設定
type OpenAIConfig struct {
	APIKey         string
	BaseURL        string // 空なら SDK 既定
	Model          string // 回答生成モデル
	Temperature    float64
	MaxTokens      int
	RequestTimeout time.Duration // 1リクエストあたりのタイムアウト
	MaxRetries     int
}

// EmbeddingConfig は Embedding API の設定
type EmbeddingConfig struct {
	Model       string
	Dimension   int    // 0 ならサーバー既定
	RoleField   string // ロールを送信する追加フィールド名（例: task_type）
	BatchSize   int
	Concurrency int
	RateLimit   float64 // 毎秒のリクエスト数上限（0 は無制限）
}

// IndexConfig はインデックスの構築・検索設定
type IndexConfig struct {
	DataDir         string
	Dir             string
	ChunkSize       int
	ChunkOverlap    int
	TopK            int
	Backend         string // "file" or "pgvector"
	PublishPGVector bool
}

// DatabaseConfig はデータベース接続設定
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	Table    string
}

// HTTPConfig は HTTP サーバー設定
type HTTPConfig struct {
	Addr string
}

// LogConfig はログ設定
type LogConfig struct {
	Level  string
	Format string
}

// Load は環境変数または.envファイルから設定を読み込みます
func Load(envFilePath string) (*Config, error) {
	// .envファイルが存在する場合は読み込む
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			// ファイルが存在しない場合はエラーとしない（環境変数のみで動作可能）
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to load .env file: %w", err)
			}
		}
	}

	cfg := &Config{
		OpenAI: OpenAIConfig{
			APIKey:         getEnv("OPENAI_API_KEY", os.Getenv("GEMINI_API_KEY")),
			BaseURL:        getEnv("OPENAI_BASE_URL", ""),
			Model:          getEnv("GENERATION_MODEL", getEnv("GEMINI_MODEL", "gpt-4o-mini")),
			Temperature:    getEnvAsFloat("GENERATION_TEMPERATURE", 0.3),
			MaxTokens:      getEnvAsInt("GENERATION_MAX_TOKENS", 1024),
			RequestTimeout: getEnvAsDuration("REQUEST_TIMEOUT", 60*time.Second),
			MaxRetries:     getEnvAsInt("MAX_RETRIES", 3),
		},
		Embedding: EmbeddingConfig{
			Model:       getEnv("EMBEDDING_MODEL", getEnv("EMBED_MODEL", "text-embedding-3-small")),
			Dimension:   getEnvAsInt("EMBEDDING_DIMENSION", 0),
			RoleField:   getEnv("EMBEDDING_ROLE_FIELD", ""),
			BatchSize:   getEnvAsInt("EMBEDDING_BATCH_SIZE", 1),
			Concurrency: getEnvAsInt("EMBEDDING_CONCURRENCY", 4),
			RateLimit:   getEnvAsFloat("EMBEDDING_RATE_LIMIT", 0),
		},
		Index: IndexConfig{
			DataDir:         getEnv("DATA_DIR", "./data/raw"),
			Dir:             getEnv("INDEX_DIR", "./data/index"),
			ChunkSize:       getEnvAsInt("CHUNK_SIZE", chunk.DefaultChunkSize),
			ChunkOverlap:    getEnvAsInt("CHUNK_OVERLAP", chunk.DefaultOverlap),
			TopK:            getEnvAsInt("TOP_K", 5),
			Backend:         strings.ToLower(getEnv("INDEX_BACKEND", BackendFile)),
			PublishPGVector: getEnvAsBool("PUBLISH_PGVECTOR", false),
		},
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvAsInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "recipelab"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "recipelab"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
			Table:    getEnv("DB_TABLE", "recipe_chunks"),
		},
		HTTP: HTTPConfig{
			Addr: getEnv("HTTP_ADDR", ":8000"),
		},
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate は設定値の整合性を検証します
// API キーの有無はここでは検証しない（RequireAPIKey を参照）
func (c *Config) Validate() error {
	var errs []error

	if err := chunk.Validate(c.Index.ChunkSize, c.Index.ChunkOverlap); err != nil {
		errs = append(errs, err)
	}
	if c.Index.TopK < 1 {
		errs = append(errs, fmt.Errorf("TOP_K must be >= 1, got %d", c.Index.TopK))
	}
	if c.Embedding.BatchSize < 1 {
		errs = append(errs, fmt.Errorf("EMBEDDING_BATCH_SIZE must be >= 1, got %d", c.Embedding.BatchSize))
	}
	if c.Embedding.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("EMBEDDING_CONCURRENCY must be >= 1, got %d", c.Embedding.Concurrency))
	}
	if c.Embedding.Dimension < 0 {
		errs = append(errs, fmt.Errorf("EMBEDDING_DIMENSION must be >= 0, got %d", c.Embedding.Dimension))
	}
	if c.OpenAI.MaxRetries < 0 {
		errs = append(errs, fmt.Errorf("MAX_RETRIES must be >= 0, got %d", c.OpenAI.MaxRetries))
	}
	if c.OpenAI.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("REQUEST_TIMEOUT must be positive, got %s", c.OpenAI.RequestTimeout))
	}
	switch c.Index.Backend {
	case BackendFile, BackendPGVector:
	default:
		errs = append(errs, fmt.Errorf("INDEX_BACKEND must be %q or %q, got %q", BackendFile, BackendPGVector, c.Index.Backend))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

// RequireAPIKey は API キーが設定されているかを検証します
func (c *Config) RequireAPIKey() error {
	if c.OpenAI.APIKey == "" {
		return ErrMissingAPIKey
	}
	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt は環境変数を整数として取得します
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsFloat は環境変数を浮動小数点数として取得します
func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration は環境変数を time.Duration として取得します
// 単位のない数値は秒として扱います
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	if secs, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
