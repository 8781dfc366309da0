package index

import (
	"io/fs"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/recipe-lab/internal/core/document"
)

func newTestStore(t *testing.T, n, dim int) *Store {
	t.Helper()

	rng := rand.New(rand.NewSource(int64(n*31 + dim)))
	idx, err := Build(randomVectors(rng, n, dim))
	require.NoError(t, err)

	chunks := make([]document.Chunk, n)
	for i := range chunks {
		chunks[i] = document.Chunk{
			Title:   "ソース",
			Content: strings.Repeat("卵黄と油を乳化させる <whisk> ", i+1),
			Source:  "data/raw/mayo.md",
			ChunkID: i,
			Tags:    []string{},
		}
	}

	store, err := NewStore(idx, chunks, Meta{EmbeddingModel: "text-embedding-3-small"})
	require.NoError(t, err)
	return store
}

func TestNewStore_AssignsBuildID(t *testing.T) {
	store := newTestStore(t, 3, 4)
	assert.NotEqual(t, uuid.Nil, store.Meta.BuildID)
}

func TestNewStore_CountMismatch(t *testing.T) {
	idx, err := Build([][]float32{{1, 0}})
	require.NoError(t, err)

	_, err = NewStore(idx, nil, Meta{})
	assert.ErrorIs(t, err, ErrCorruptIndex)
}

func TestStore_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, 10, 6)

	require.NoError(t, SaveStore(dir, store))
	chunksBefore, err := os.ReadFile(filepath.Join(dir, ChunksFile))
	require.NoError(t, err)

	loaded, err := LoadStore(dir)
	require.NoError(t, err)

	assert.Equal(t, store.Meta, loaded.Meta)
	assert.Equal(t, store.Chunks, loaded.Chunks)
	assert.Equal(t, store.Index.Dimension(), loaded.Index.Dimension())
	assert.Equal(t, store.Index.Len(), loaded.Index.Len())

	// 再保存してもチャンクメタデータはバイト単位で一致する
	dir2 := t.TempDir()
	require.NoError(t, loaded.Save(dir2))
	chunksAfter, err := os.ReadFile(filepath.Join(dir2, ChunksFile))
	require.NoError(t, err)
	assert.Equal(t, chunksBefore, chunksAfter)

	rng := rand.New(rand.NewSource(99))
	for i := 0; i < 5; i++ {
		query := Normalize(randomVectors(rng, 1, 6)[0])
		want, err := store.Search(query, 4)
		require.NoError(t, err)
		got, err := loaded.Search(query, 4)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestStore_ChunksJSONIsReadable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, SaveStore(dir, newTestStore(t, 1, 3)))

	raw, err := os.ReadFile(filepath.Join(dir, ChunksFile))
	require.NoError(t, err)

	text := string(raw)
	assert.True(t, strings.HasPrefix(text, "[\n  {\n    \"title\""))
	assert.Contains(t, text, "卵黄と油を乳化させる <whisk>")
	assert.Contains(t, text, `"tags": []`)
}

func TestStore_SaveLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, SaveStore(dir, newTestStore(t, 2, 3)))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.ElementsMatch(t, []string{ChunksFile, VectorsFile}, names)
}

func TestLoadStore_Errors(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(t *testing.T, dir string)
		wantErr error
	}{
		{
			name: "ベクトルファイルなし",
			corrupt: func(t *testing.T, dir string) {
				require.NoError(t, os.Remove(filepath.Join(dir, VectorsFile)))
			},
			wantErr: fs.ErrNotExist,
		},
		{
			name: "チャンクファイルなし",
			corrupt: func(t *testing.T, dir string) {
				require.NoError(t, os.Remove(filepath.Join(dir, ChunksFile)))
			},
			wantErr: fs.ErrNotExist,
		},
		{
			name: "ベクトルファイルのビット反転",
			corrupt: func(t *testing.T, dir string) {
				path := filepath.Join(dir, VectorsFile)
				raw, err := os.ReadFile(path)
				require.NoError(t, err)
				raw[len(raw)/2] ^= 0xFF
				require.NoError(t, os.WriteFile(path, raw, 0o644))
			},
			wantErr: ErrCorruptIndex,
		},
		{
			name: "ベクトルファイルの切り詰め",
			corrupt: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, VectorsFile), []byte{1, 2}, 0o644))
			},
			wantErr: ErrCorruptIndex,
		},
		{
			name: "チャンクファイルが不正なJSON",
			corrupt: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, ChunksFile), []byte("{not json"), 0o644))
			},
			wantErr: ErrCorruptIndex,
		},
		{
			name: "件数の不一致",
			corrupt: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, ChunksFile), []byte("[]"), 0o644))
			},
			wantErr: ErrCorruptIndex,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			require.NoError(t, SaveStore(dir, newTestStore(t, 4, 5)))
			tt.corrupt(t, dir)

			store, err := LoadStore(dir)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Nil(t, store)
		})
	}
}

func TestLoadStore_MixedBuilds(t *testing.T) {
	dirA, dirB := t.TempDir(), t.TempDir()
	require.NoError(t, SaveStore(dirA, newTestStore(t, 2, 3)))

	storeB := newTestStore(t, 2, 3)
	storeB.Chunks[0].Content = "別ビルドの本文"
	require.NoError(t, SaveStore(dirB, storeB))

	tests := []struct {
		name string
		from string
		file string
	}{
		{name: "ベクトルファイルだけ別ビルド", from: dirB, file: VectorsFile},
		{name: "チャンクファイルだけ別ビルド", from: dirB, file: ChunksFile},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			for _, name := range []string{VectorsFile, ChunksFile} {
				src := dirA
				if name == tt.file {
					src = tt.from
				}
				raw, err := os.ReadFile(filepath.Join(src, name))
				require.NoError(t, err)
				require.NoError(t, os.WriteFile(filepath.Join(dir, name), raw, 0o644))
			}

			store, err := LoadStore(dir)
			assert.ErrorIs(t, err, ErrCorruptIndex)
			assert.Nil(t, store)
		})
	}
}

func TestReadMeta(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, 7, 9)
	require.NoError(t, SaveStore(dir, store))

	meta, dim, count, err := ReadMeta(dir)
	require.NoError(t, err)
	assert.Equal(t, store.Meta, meta)
	assert.Equal(t, 9, dim)
	assert.Equal(t, 7, count)
}
