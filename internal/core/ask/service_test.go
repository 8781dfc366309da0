package ask

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/recipe-lab/internal/core/document"
	"github.com/jinford/recipe-lab/internal/core/index"
)

type stubEmbedder struct {
	vector []float32
	err    error
	roles  []document.Role
}

func (e *stubEmbedder) Embed(_ context.Context, texts []string, role document.Role) ([][]float32, error) {
	e.roles = append(e.roles, role)
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = e.vector
	}
	return out, nil
}

type stubGenerator struct {
	answer string
	err    error
	prompt string
}

func (g *stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	g.prompt = prompt
	return g.answer, g.err
}

func (g *stubGenerator) ModelName() string { return "stub-model" }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFixture は位置 i のベクトルが軸 i を向くインデックスを作る
// クエリ {4,3,2,1,0,...} に対するスコア順は位置 0,1,2,... になる
func newFixture(t *testing.T, n int) ([]document.Chunk, *index.FlatIndex, []float32) {
	t.Helper()

	vectors := make([][]float32, n)
	chunks := make([]document.Chunk, n)
	query := make([]float32, n)
	for i := 0; i < n; i++ {
		v := make([]float32, n)
		v[i] = 1
		vectors[i] = v
		query[i] = float32(n - i)
		chunks[i] = document.Chunk{
			Title:   fmt.Sprintf("recipe-%d", i),
			Content: fmt.Sprintf("snippet-%02d about emulsions", i),
			Source:  "data/raw/recipes.jsonl",
			ChunkID: i,
			Tags:    []string{},
		}
	}

	idx, err := index.Build(vectors)
	require.NoError(t, err)
	return chunks, idx, query
}

func TestService_Retrieve(t *testing.T) {
	chunks, idx, query := newFixture(t, 6)
	embedder := &stubEmbedder{vector: query}
	svc := NewService(IndexSearcher(idx), chunks, embedder, &stubGenerator{}, WithAskLogger(discardLogger()))

	results, err := svc.Retrieve(context.Background(), "how to fix a broken mayo", 3)
	require.NoError(t, err)
	require.Len(t, results, 3)

	for i, r := range results {
		assert.Equal(t, i, r.Position)
		assert.Equal(t, chunks[i], r.Chunk)
		if i > 0 {
			assert.Greater(t, results[i-1].Score, r.Score)
		}
	}
	assert.Equal(t, []document.Role{document.RoleQuery}, embedder.roles)
}

func TestService_RetrieveDropsOutOfRangePositions(t *testing.T) {
	chunks, _, query := newFixture(t, 3)
	searcher := SearcherFunc(func(context.Context, []float32, int) ([]index.Hit, error) {
		return []index.Hit{{Position: 2, Score: 0.9}, {Position: 7, Score: 0.8}, {Position: -1, Score: 0.7}, {Position: 0, Score: 0.1}}, nil
	})
	svc := NewService(searcher, chunks, &stubEmbedder{vector: query}, &stubGenerator{}, WithAskLogger(discardLogger()))

	results, err := svc.Retrieve(context.Background(), "query", 4)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, 2, results[0].Position)
	assert.Equal(t, 0, results[1].Position)
}

func TestService_RetrieveNormalizesQuery(t *testing.T) {
	chunks, _, _ := newFixture(t, 2)
	var got []float32
	searcher := SearcherFunc(func(_ context.Context, q []float32, _ int) ([]index.Hit, error) {
		got = q
		return nil, nil
	})
	svc := NewService(searcher, chunks, &stubEmbedder{vector: []float32{3, 4}}, &stubGenerator{}, WithAskLogger(discardLogger()))

	_, err := svc.Retrieve(context.Background(), "query", 1)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.InDelta(t, 0.6, got[0], 1e-6)
	assert.InDelta(t, 0.8, got[1], 1e-6)
}

func TestService_Generate(t *testing.T) {
	tests := []struct {
		name     string
		chunks   int
		topK     int
		override mo.Option[int]
		want     int
	}{
		{name: "チャンク数が topK より多い", chunks: 8, topK: 5, want: 5},
		{name: "チャンク数が topK より少ない", chunks: 3, topK: 5, want: 3},
		{name: "topK の上書き", chunks: 8, topK: 5, override: mo.Some(2), want: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, idx, query := newFixture(t, tt.chunks)
			generator := &stubGenerator{answer: "Whisk the yolk first."}
			svc := NewService(IndexSearcher(idx), chunks, &stubEmbedder{vector: query}, generator,
				WithDefaultTopK(tt.topK),
				WithAskLogger(discardLogger()),
			)

			const q = "my mayonnaise split, what now?"
			answer, err := svc.Ask(context.Background(), AskParams{Query: q, TopK: tt.override})
			require.NoError(t, err)

			assert.Equal(t, "Whisk the yolk first.", answer.Text)
			assert.Equal(t, "stub-model", answer.Model)
			require.Len(t, answer.Contexts, tt.want)
			require.Len(t, answer.Chunks, tt.want)

			// スコア順（位置 0 から）に並ぶ
			for i, c := range answer.Contexts {
				assert.Equal(t, chunks[i].Content, c)
			}

			// プロンプトには質問文と各スニペットがちょうど1回ずつ含まれる
			assert.Equal(t, 1, strings.Count(generator.prompt, q))
			for i, c := range answer.Contexts {
				assert.Equal(t, 1, strings.Count(generator.prompt, c))
				assert.Contains(t, generator.prompt, fmt.Sprintf("[%d] %s", i+1, c))
			}
			for i := tt.want; i < tt.chunks; i++ {
				assert.NotContains(t, generator.prompt, chunks[i].Content)
			}
		})
	}
}

func TestService_Errors(t *testing.T) {
	upstream := errors.New("upstream unavailable")

	tests := []struct {
		name      string
		params    AskParams
		embedder  *stubEmbedder
		generator *stubGenerator
		wantErr   []error
	}{
		{
			name:      "空の質問",
			params:    AskParams{Query: "   "},
			embedder:  &stubEmbedder{vector: []float32{1, 0}},
			generator: &stubGenerator{},
			wantErr:   []error{ErrInvalidQuery},
		},
		{
			name:      "topK が0",
			params:    AskParams{Query: "question", TopK: mo.Some(0)},
			embedder:  &stubEmbedder{vector: []float32{1, 0}},
			generator: &stubGenerator{},
			wantErr:   []error{ErrInvalidQuery},
		},
		{
			name:      "Embedding の失敗",
			params:    AskParams{Query: "question"},
			embedder:  &stubEmbedder{err: upstream},
			generator: &stubGenerator{},
			wantErr:   []error{ErrRetrievalFailed, upstream},
		},
		{
			name:      "次元の不一致",
			params:    AskParams{Query: "question"},
			embedder:  &stubEmbedder{vector: []float32{1, 0, 0}},
			generator: &stubGenerator{},
			wantErr:   []error{ErrRetrievalFailed, index.ErrDimensionMismatch},
		},
		{
			name:      "生成の失敗",
			params:    AskParams{Query: "question"},
			embedder:  &stubEmbedder{vector: []float32{1, 0}},
			generator: &stubGenerator{err: upstream},
			wantErr:   []error{ErrGenerationFailed, upstream},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, idx, _ := newFixture(t, 2)
			svc := NewService(IndexSearcher(idx), chunks, tt.embedder, tt.generator, WithAskLogger(discardLogger()))

			answer, err := svc.Ask(context.Background(), tt.params)
			require.Error(t, err)
			assert.Nil(t, answer)
			for _, want := range tt.wantErr {
				assert.ErrorIs(t, err, want)
			}
		})
	}
}

func TestReady(t *testing.T) {
	chunks, idx, query := newFixture(t, 2)
	svc := NewService(IndexSearcher(idx), chunks, &stubEmbedder{vector: query}, &stubGenerator{})

	got, err := Ready(mo.Ok(svc))
	require.NoError(t, err)
	assert.Same(t, svc, got)

	reason := errors.New("index not found")
	_, err = Ready(mo.Err[*Service](reason))
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, err, reason)
}
