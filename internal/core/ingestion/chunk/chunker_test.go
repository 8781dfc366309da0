package chunk

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/recipe-lab/internal/core/document"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		chunkSize int
		overlap   int
		wantErr   bool
	}{
		{name: "既定値", chunkSize: DefaultChunkSize, overlap: DefaultOverlap},
		{name: "オーバーラップなし", chunkSize: 1, overlap: 0},
		{name: "チャンクサイズ0", chunkSize: 0, overlap: 0, wantErr: true},
		{name: "負のオーバーラップ", chunkSize: 10, overlap: -1, wantErr: true},
		{name: "オーバーラップがサイズと同じ", chunkSize: 10, overlap: 10, wantErr: true},
		{name: "オーバーラップがサイズより大きい", chunkSize: 10, overlap: 20, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(tt.chunkSize, tt.overlap)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidWindow)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSplit_EmptyText(t *testing.T) {
	for _, text := range []string{"", "   ", "\n\t \r\n"} {
		chunks, err := Split(text, 10, 2)
		require.NoError(t, err)
		assert.Empty(t, chunks)
	}
}

func TestSplit_NormalizesWhitespace(t *testing.T) {
	chunks, err := Split("  whisk \n\n the   yolks\t slowly  ", 100, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"whisk the yolks slowly"}, chunks)
}

func TestSplit_BrineScenario(t *testing.T) {
	text := strings.Repeat("abcdefghij", 170)
	require.Len(t, text, 1700)

	chunks, err := Split(text, 800, 120)
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, text[0:800], chunks[0])
	assert.Equal(t, text[680:1480], chunks[1])
	assert.Equal(t, text[1360:1700], chunks[2])
}

func TestSplit_ExactMultipleDoesNotEmitTrailingChunk(t *testing.T) {
	text := strings.Repeat("x", 20)

	chunks, err := Split(text, 10, 0)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)

	chunks, err = Split(text, 20, 5)
	require.NoError(t, err)
	assert.Len(t, chunks, 1)
}

func TestSplit_CountsRunesNotBytes(t *testing.T) {
	text := strings.Repeat("卵黄", 10) // 20文字 / 60バイト

	chunks, err := Split(text, 8, 2)
	require.NoError(t, err)
	for _, c := range chunks[:len(chunks)-1] {
		assert.Len(t, []rune(c), 8)
	}
	assert.True(t, strings.HasSuffix(text, chunks[len(chunks)-1]))
}

func TestSplit_WindowProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	words := []string{"salt", "brine", "emulsion", "卵", "oil", "  ", "\n", "vinegar"}

	for i := 0; i < 200; i++ {
		var sb strings.Builder
		n := rng.Intn(400)
		for j := 0; j < n; j++ {
			sb.WriteString(words[rng.Intn(len(words))])
			sb.WriteByte(' ')
		}
		chunkSize := 1 + rng.Intn(60)
		overlap := rng.Intn(chunkSize)

		normalized := []rune(Normalize(sb.String()))
		chunks, err := Split(sb.String(), chunkSize, overlap)
		require.NoError(t, err)

		if len(normalized) == 0 {
			assert.Empty(t, chunks)
			continue
		}
		require.NotEmpty(t, chunks)

		// 各チャンクはサイズ以下、隣接チャンクはちょうど overlap 文字重なる
		rebuilt := []rune(chunks[0])
		for k, c := range chunks {
			runes := []rune(c)
			assert.LessOrEqual(t, len(runes), chunkSize)
			if k == 0 {
				continue
			}
			prev := []rune(chunks[k-1])
			assert.Equal(t, string(prev[len(prev)-overlap:]), string(runes[:overlap]))
			rebuilt = append(rebuilt, runes[overlap:]...)
		}

		// オーバーラップを除いて連結すると元の正規化テキストになり、末尾で終わる
		assert.Equal(t, string(normalized), string(rebuilt))
	}
}

func TestSplit_RejectsInvalidWindow(t *testing.T) {
	_, err := Split("some text", 5, 5)
	assert.ErrorIs(t, err, ErrInvalidWindow)
}

func TestChunker_Chunk(t *testing.T) {
	c, err := New(10, 2)
	require.NoError(t, err)

	doc := &document.Document{
		Title:   "brine",
		Content: "Dissolve salt in warm water before chilling it down.",
		Source:  "data/raw/brine.txt",
		Tags:    []string{"pdf"},
	}

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.ChunkID)
		assert.Equal(t, "brine", ch.Title)
		assert.Equal(t, "data/raw/brine.txt", ch.Source)
		assert.Equal(t, []string{"pdf"}, ch.Tags)
	}

	// タグはドキュメントとは独立したコピー
	chunks[0].Tags[0] = "changed"
	assert.Equal(t, "pdf", doc.Tags[0])
}

func TestChunker_EmptyDocumentProducesNoChunks(t *testing.T) {
	c, err := New(DefaultChunkSize, DefaultOverlap)
	require.NoError(t, err)

	chunks, err := c.Chunk(&document.Document{Title: "empty", Tags: []string{"pdf"}})
	require.NoError(t, err)
	assert.Empty(t, chunks)
}
