package ingestion

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/jinford/recipe-lab/internal/core/document"
)

// ErrMalformedRecord は JSONL の行が JSON オブジェクトとして解釈できない場合のエラー
var ErrMalformedRecord = errors.New("malformed record")

// maxLineSize は JSONL 1行あたりの最大バイト数
const maxLineSize = 16 * 1024 * 1024

// FormatReader はファイル形式ごとにドキュメントを読み出すインターフェース
type FormatReader interface {
	// Read は path のファイルからドキュメントを読み出す
	// 1ファイルから複数のドキュメントを返してよい（JSONL）
	Read(ctx context.Context, path string) ([]*document.Document, error)
}

// FormatReaderFunc は関数を FormatReader として扱うアダプタ
type FormatReaderFunc func(ctx context.Context, path string) ([]*document.Document, error)

// Read は f(ctx, path) を呼び出す
func (f FormatReaderFunc) Read(ctx context.Context, path string) ([]*document.Document, error) {
	return f(ctx, path)
}

// DefaultReaders は拡張子（小文字、ドット付き）ごとの既定リーダーを返す
func DefaultReaders(logger *slog.Logger) map[string]FormatReader {
	if logger == nil {
		logger = slog.Default()
	}
	text := &TextReader{}
	return map[string]FormatReader{
		".txt":   text,
		".md":    text,
		".jsonl": &JSONLReader{},
		".pdf":   &PDFReader{logger: logger},
	}
}

// titleFromPath は拡張子を除いたベース名を返す
func titleFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// TextReader は .txt / .md をそのまま1ドキュメントとして読む
// 不正な UTF-8 バイト列は取り除く
type TextReader struct{}

var _ FormatReader = (*TextReader)(nil)

// Read はファイル全体を1件のドキュメントとして返す
func (r *TextReader) Read(_ context.Context, path string) ([]*document.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	return []*document.Document{{
		Title:   titleFromPath(path),
		Content: strings.ToValidUTF8(string(raw), ""),
		Source:  path,
		Tags:    []string{},
	}}, nil
}

// JSONLReader は空行以外の各行を1件のドキュメントとして読む
type JSONLReader struct{}

var _ FormatReader = (*JSONLReader)(nil)

type jsonlRecord struct {
	Title   *string  `json:"title"`
	Content *string  `json:"content"`
	Tags    []string `json:"tags"`
}

// Read は JSONL の各行をドキュメントに変換する
// 1行でも不正な行があればファイル全体をエラーにする
func (r *JSONLReader) Read(ctx context.Context, path string) ([]*document.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var docs []*document.Document
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(bytes.ToValidUTF8(scanner.Bytes(), nil))
		if len(line) == 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var rec jsonlRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			return nil, fmt.Errorf("%w: %s:%d: %v", ErrMalformedRecord, path, lineNo, err)
		}

		doc := &document.Document{
			Title:  titleFromPath(path),
			Source: path,
			Tags:   []string{},
		}
		if rec.Title != nil {
			doc.Title = *rec.Title
		}
		if rec.Content != nil {
			doc.Content = *rec.Content
		}
		if rec.Tags != nil {
			doc.Tags = rec.Tags
		}
		docs = append(docs, doc)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("%w: %s:%d: %v", ErrMalformedRecord, path, lineNo+1, err)
	}

	return docs, nil
}

// PDFReader はページごとにテキストを抽出し、空白のみのページを除いて改行で連結する
// 開けない・抽出できない PDF は本文が空のドキュメントとして扱う
type PDFReader struct {
	logger *slog.Logger
}

var _ FormatReader = (*PDFReader)(nil)

// NewPDFReader は PDFReader を作成する
func NewPDFReader(logger *slog.Logger) *PDFReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &PDFReader{logger: logger}
}

// Read は PDF 1ファイルを1件のドキュメントとして返す
func (r *PDFReader) Read(_ context.Context, path string) ([]*document.Document, error) {
	doc := &document.Document{
		Title:  titleFromPath(path),
		Source: path,
		Tags:   []string{"pdf"},
	}

	content, err := r.extractText(path)
	if err != nil {
		r.logger.Warn("Failed to extract PDF text, using empty content", "path", path, "error", err)
		return []*document.Document{doc}, nil
	}
	doc.Content = content
	return []*document.Document{doc}, nil
}

// extractText は抽出できたページだけを連結する
// 個々のページの失敗は WARN を出して読み飛ばす
func (r *PDFReader) extractText(path string) (text string, err error) {
	// 壊れた PDF ではライブラリ内部で panic することがある
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("pdf parser panic: %v", rec)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open pdf: %w", err)
	}
	defer f.Close()

	var pages []string
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			r.logger.Warn("Failed to extract PDF page, skipping", "path", path, "page", i, "error", err)
			continue
		}
		if strings.TrimSpace(pageText) == "" {
			continue
		}
		pages = append(pages, pageText)
	}

	return strings.Join(pages, "\n"), nil
}
