package chunk

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jinford/recipe-lab/internal/core/document"
)

const (
	// DefaultChunkSize はチャンク1件あたりの既定文字数
	DefaultChunkSize = 800
	// DefaultOverlap は隣接チャンク間で重複させる既定文字数
	DefaultOverlap = 120
)

// ErrInvalidWindow はチャンクサイズとオーバーラップの組み合わせが不正な場合のエラー
var ErrInvalidWindow = errors.New("invalid chunk window")

// Validate はウィンドウ設定を検証する
// chunkSize >= 1 かつ 0 <= overlap < chunkSize でなければ前進しないためエラーにする
func Validate(chunkSize, overlap int) error {
	if chunkSize < 1 {
		return fmt.Errorf("%w: chunk size must be >= 1, got %d", ErrInvalidWindow, chunkSize)
	}
	if overlap < 0 {
		return fmt.Errorf("%w: overlap must be >= 0, got %d", ErrInvalidWindow, overlap)
	}
	if overlap >= chunkSize {
		return fmt.Errorf("%w: overlap (%d) must be smaller than chunk size (%d)", ErrInvalidWindow, overlap, chunkSize)
	}
	return nil
}

// Normalize は空白の連続を1つのスペースに畳み込み、前後をトリムする
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Split は正規化済みテキストを固定長・オーバーラップ付きのウィンドウに分割する
// 長さは文字（rune）単位で数える。最後のチャンクは必ずテキスト末尾で終わる
func Split(text string, chunkSize, overlap int) ([]string, error) {
	if err := Validate(chunkSize, overlap); err != nil {
		return nil, err
	}

	runes := []rune(Normalize(text))
	if len(runes) == 0 {
		return nil, nil
	}

	step := chunkSize - overlap
	chunks := make([]string, 0, len(runes)/step+1)

	start := 0
	for {
		end := min(start+chunkSize, len(runes))
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
		// end は毎回 step 以上増えるため必ず終了する
		start = end - overlap
	}

	return chunks, nil
}

// Chunker はドキュメントをチャンクレコード列に変換する
type Chunker struct {
	chunkSize int
	overlap   int
}

// New は検証済みのウィンドウ設定で Chunker を作成する
func New(chunkSize, overlap int) (*Chunker, error) {
	if err := Validate(chunkSize, overlap); err != nil {
		return nil, err
	}
	return &Chunker{chunkSize: chunkSize, overlap: overlap}, nil
}

// ChunkSize はチャンクサイズを返す
func (c *Chunker) ChunkSize() int { return c.chunkSize }

// Overlap はオーバーラップを返す
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk はドキュメントを分割し、chunk_id を 0 から連番で振ったチャンクを返す
// 本文が空のドキュメントはチャンクを生成しない
func (c *Chunker) Chunk(doc *document.Document) ([]document.Chunk, error) {
	if doc == nil {
		return nil, nil
	}

	texts, err := Split(doc.Content, c.chunkSize, c.overlap)
	if err != nil {
		return nil, err
	}

	chunks := make([]document.Chunk, 0, len(texts))
	for i, text := range texts {
		chunks = append(chunks, document.NewChunk(doc, i, text))
	}
	return chunks, nil
}
