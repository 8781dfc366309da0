package ingestion

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"iter"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/jinford/recipe-lab/internal/core/document"
)

// ErrSourceNotFound はソースディレクトリが存在しない場合のエラー
var ErrSourceNotFound = errors.New("source directory not found")

// Loader はディレクトリ配下のファイルを再帰的に走査し、ドキュメント列を生成する
type Loader struct {
	root    string
	readers map[string]FormatReader
	logger  *slog.Logger
}

type loaderOptions struct {
	readers map[string]FormatReader
	logger  *slog.Logger
}

// LoaderOption は Loader のオプション設定
type LoaderOption func(*loaderOptions)

// WithLoaderLogger は Loader にロガーを設定する
func WithLoaderLogger(logger *slog.Logger) LoaderOption {
	return func(o *loaderOptions) {
		o.logger = logger
	}
}

// WithReader は拡張子に対応するリーダーを追加・上書きする
func WithReader(ext string, reader FormatReader) LoaderOption {
	return func(o *loaderOptions) {
		if o.readers == nil {
			o.readers = map[string]FormatReader{}
		}
		o.readers[strings.ToLower(ext)] = reader
	}
}

// NewLoader は root を走査する Loader を作成する
func NewLoader(root string, opts ...LoaderOption) *Loader {
	options := loaderOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&options)
	}
	if options.logger == nil {
		options.logger = slog.Default()
	}

	readers := DefaultReaders(options.logger)
	for ext, r := range options.readers {
		readers[ext] = r
	}

	return &Loader{
		root:    root,
		readers: readers,
		logger:  options.logger,
	}
}

// Documents はパスの辞書順にドキュメントを1件ずつ返すイテレータを返す
// ファイルの読み込みは要求されるまで遅延する。最初のエラーを返した時点で終了する
// 対応していない拡張子と .ragignore に一致するパスは読み飛ばす
func (l *Loader) Documents(ctx context.Context) iter.Seq2[*document.Document, error] {
	return func(yield func(*document.Document, error) bool) {
		paths, err := l.listFiles()
		if err != nil {
			yield(nil, err)
			return
		}

		for _, path := range paths {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}

			reader := l.readers[strings.ToLower(filepath.Ext(path))]
			docs, err := reader.Read(ctx, path)
			if err != nil {
				yield(nil, err)
				return
			}

			for _, doc := range docs {
				if !yield(doc, nil) {
					return
				}
			}
		}
	}
}

// listFiles は読み込み対象の通常ファイルをソートして返す
func (l *Loader) listFiles() ([]string, error) {
	info, err := os.Stat(l.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, l.root)
		}
		return nil, fmt.Errorf("failed to stat %s: %w", l.root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrSourceNotFound, l.root)
	}

	ignore, err := NewIgnoreFilter(l.root)
	if err != nil {
		return nil, err
	}

	var paths []string
	err = filepath.WalkDir(l.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == l.root {
			return nil
		}

		rel, err := filepath.Rel(l.root, path)
		if err != nil {
			return err
		}
		if d.IsDir() {
			if ignore.ShouldIgnore(rel + "/") {
				l.logger.Debug("Skipping ignored directory", "path", path)
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if _, ok := l.readers[strings.ToLower(filepath.Ext(path))]; !ok {
			return nil
		}
		if ignore.ShouldIgnore(rel) {
			l.logger.Debug("Skipping ignored document", "path", path)
			return nil
		}

		paths = append(paths, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk %s: %w", l.root, err)
	}

	slices.Sort(paths)
	return paths, nil
}
