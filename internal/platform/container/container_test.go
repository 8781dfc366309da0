package container

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	coreask "github.com/jinford/recipe-lab/internal/core/ask"
	"github.com/jinford/recipe-lab/internal/core/document"
	"github.com/jinford/recipe-lab/internal/core/index"
	coreingestion "github.com/jinford/recipe-lab/internal/core/ingestion"
	"github.com/jinford/recipe-lab/internal/platform/config"
)

// keywordEmbedder はキーワードの出現有無で 3 次元ベクトルを作る
type keywordEmbedder struct{}

var keywords = []string{"卵", "醤油", "砂糖"}

func (keywordEmbedder) Embed(_ context.Context, texts []string, _ document.Role) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, len(keywords))
		for j, kw := range keywords {
			if strings.Contains(text, kw) {
				v[j] = 1
			}
		}
		if text == "" {
			v[0] = 0.01
		}
		out[i] = v
	}
	return out, nil
}

func (keywordEmbedder) ModelName() string { return "keyword-embedding" }

type echoGenerator struct {
	prompt string
}

func (g *echoGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompt = prompt
	return "回答", nil
}

func (g *echoGenerator) ModelName() string { return "echo" }

type lenCounter struct{}

func (lenCounter) CountTokens(text string) int { return len([]rune(text)) }

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	root := t.TempDir()
	return &config.Config{
		OpenAI: config.OpenAIConfig{Model: "gpt-4o-mini"},
		Index: config.IndexConfig{
			DataDir:      filepath.Join(root, "raw"),
			Dir:          filepath.Join(root, "index"),
			ChunkSize:    800,
			ChunkOverlap: 120,
			TopK:         2,
			Backend:      config.BackendFile,
		},
	}
}

func newTestContainer(cfg *config.Config, generator coreask.Generator) *ServiceContainer {
	return NewContainer(cfg,
		WithContainerLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithContainerEmbedder(keywordEmbedder{}),
		WithContainerGenerator(generator),
		WithContainerTokenCounter(lenCounter{}),
	)
}

func TestServiceContainer_BuildThenAsk(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.MkdirAll(cfg.Index.DataDir, 0o755))
	files := map[string]string{
		"tamago.txt": "卵をよく溶いて弱火で焼く",
		"teri.md":    "醤油と砂糖を煮詰めてタレにする",
		"ame.txt":    "砂糖を焦がしてカラメルにする",
	}
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(cfg.Index.DataDir, name), []byte(body), 0o644))
	}

	generator := &echoGenerator{}
	c := newTestContainer(cfg, generator)
	defer c.Close()

	builder, err := c.NewBuildService(context.Background(), false)
	require.NoError(t, err)
	stats, err := builder.Build(context.Background(), coreingestion.BuildParams{
		SourceDir: cfg.Index.DataDir,
		OutputDir: cfg.Index.Dir,
	})
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Chunks)
	assert.Positive(t, stats.TotalTokens)

	svc, err := coreask.Ready(c.NewAskService(context.Background()))
	require.NoError(t, err)
	assert.Equal(t, 3, svc.ChunkCount())
	assert.Equal(t, "echo", svc.ModelName())

	answer, err := svc.Generate(context.Background(), "卵料理")
	require.NoError(t, err)
	assert.Equal(t, "回答", answer.Text)
	require.Len(t, answer.Contexts, 2)
	assert.Equal(t, files["tamago.txt"], answer.Contexts[0])
	assert.Contains(t, generator.prompt, "卵料理")
}

func TestServiceContainer_NewAskServiceErrors(t *testing.T) {
	t.Run("APIキー未設定", func(t *testing.T) {
		cfg := testConfig(t)
		c := NewContainer(cfg, WithContainerLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

		result := c.NewAskService(context.Background())
		require.True(t, result.IsError())
		assert.ErrorIs(t, result.Error(), config.ErrMissingAPIKey)

		_, err := coreask.Ready(result)
		assert.ErrorIs(t, err, coreask.ErrNotReady)
	})

	t.Run("インデックス未構築", func(t *testing.T) {
		cfg := testConfig(t)
		c := newTestContainer(cfg, &echoGenerator{})

		result := c.NewAskService(context.Background())
		require.True(t, result.IsError())
		assert.True(t, errors.Is(result.Error(), fs.ErrNotExist))
	})

	t.Run("インデックス破損", func(t *testing.T) {
		cfg := testConfig(t)
		require.NoError(t, os.MkdirAll(cfg.Index.Dir, 0o755))
		require.NoError(t, os.WriteFile(filepath.Join(cfg.Index.Dir, index.VectorsFile), []byte("broken"), 0o644))
		require.NoError(t, os.WriteFile(filepath.Join(cfg.Index.Dir, index.ChunksFile), []byte("[]"), 0o644))
		c := newTestContainer(cfg, &echoGenerator{})

		result := c.NewAskService(context.Background())
		require.True(t, result.IsError())
		assert.ErrorIs(t, result.Error(), index.ErrCorruptIndex)
	})
}

func TestServiceContainer_NewBuildServiceRequiresAPIKey(t *testing.T) {
	cfg := testConfig(t)
	c := NewContainer(cfg, WithContainerLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	_, err := c.NewBuildService(context.Background(), false)
	assert.ErrorIs(t, err, config.ErrMissingAPIKey)
}

func TestServiceContainer_EmbedderFromConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.OpenAI.APIKey = "test-key"
	cfg.Embedding.Model = "text-embedding-3-small"
	c := NewContainer(cfg, WithContainerLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))

	e1, err := c.Embedder()
	require.NoError(t, err)
	e2, err := c.Embedder()
	require.NoError(t, err)
	assert.Same(t, e1, e2)
	assert.Equal(t, "text-embedding-3-small", e1.ModelName())

	g, err := c.Generator()
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", g.ModelName())
}
