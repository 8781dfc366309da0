package index

import (
	"cmp"
	"errors"
	"fmt"
	"math"
	"slices"
)

// minNorm はゼロベクトルでの除算を避けるためのノルム下限
const minNorm = 1e-12

var (
	// ErrDimensionMismatch はベクトル次元が揃っていない場合のエラー
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	// ErrEmptyIndex はベクトルが1件も登録されていないインデックスへの操作エラー
	ErrEmptyIndex = errors.New("index has no vectors")
	// ErrCorruptIndex は永続化ファイルが壊れている・整合しない場合のエラー
	ErrCorruptIndex = errors.New("corrupt index")
)

// Hit は検索結果1件（挿入位置とスコア）を表す
type Hit struct {
	Position int     `json:"position"`
	Score    float32 `json:"score"`
}

// FlatIndex は正規化済みベクトルを全件保持し、内積で厳密な近傍探索を行うインデックス
// 構築後は不変であり、複数ゴルーチンから同時に Search してよい
type FlatIndex struct {
	dim  int
	data []float32 // 行優先で count*dim 要素
}

// Normalize はベクトルを L2 正規化した新しいスライスを返す
// ノルムは minNorm で下限クリップする
func Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Max(math.Sqrt(sum), minNorm)

	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// Build はベクトル列を正規化して FlatIndex を構築する
// 位置 i は入力スライスの i 番目に対応する
func Build(vectors [][]float32) (*FlatIndex, error) {
	if len(vectors) == 0 {
		return nil, ErrEmptyIndex
	}

	dim := len(vectors[0])
	if dim == 0 {
		return nil, fmt.Errorf("%w: vector 0 is empty", ErrDimensionMismatch)
	}

	data := make([]float32, 0, dim*len(vectors))
	for i, v := range vectors {
		if len(v) != dim {
			return nil, fmt.Errorf("%w: vector %d has dimension %d, expected %d", ErrDimensionMismatch, i, len(v), dim)
		}
		data = append(data, Normalize(v)...)
	}

	return &FlatIndex{dim: dim, data: data}, nil
}

// Dimension はベクトル次元を返す
func (x *FlatIndex) Dimension() int {
	if x == nil {
		return 0
	}
	return x.dim
}

// Len は登録済みベクトル数を返す
func (x *FlatIndex) Len() int {
	if x == nil || x.dim == 0 {
		return 0
	}
	return len(x.data) / x.dim
}

// Vector は位置 i の正規化済みベクトルのコピーを返す
func (x *FlatIndex) Vector(i int) []float32 {
	row := x.data[i*x.dim : (i+1)*x.dim]
	return slices.Clone(row)
}

// Search はクエリとの内積が大きい順に最大 topK 件を返す
// クエリは呼び出し側で Normalize 済みであること（コサイン類似度として扱うための前提条件）
// 同スコアの場合は位置の小さい方を先に返す
func (x *FlatIndex) Search(query []float32, topK int) ([]Hit, error) {
	n := x.Len()
	if n == 0 {
		return nil, ErrEmptyIndex
	}
	if len(query) != x.dim {
		return nil, fmt.Errorf("%w: query has dimension %d, index has %d", ErrDimensionMismatch, len(query), x.dim)
	}
	if topK <= 0 {
		return []Hit{}, nil
	}

	hits := make([]Hit, n)
	for i := 0; i < n; i++ {
		hits[i] = Hit{Position: i, Score: x.dot(i, query)}
	}

	slices.SortFunc(hits, func(a, b Hit) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		return cmp.Compare(a.Position, b.Position)
	})

	if topK < n {
		hits = hits[:topK]
	}
	return hits, nil
}

func (x *FlatIndex) dot(i int, query []float32) float32 {
	row := x.data[i*x.dim : (i+1)*x.dim]
	var sum float64
	for j, v := range row {
		sum += float64(v) * float64(query[j])
	}
	return float32(sum)
}

// fromRaw は永続化済みの正規化ベクトルから FlatIndex を復元する（再正規化しない）
func fromRaw(dim int, data []float32) *FlatIndex {
	return &FlatIndex{dim: dim, data: data}
}
