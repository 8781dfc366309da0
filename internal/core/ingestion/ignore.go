package ingestion

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFileName はソースディレクトリ直下に置く除外パターンファイル名
const IgnoreFileName = ".ragignore"

// IgnoreFilter は .ragignore のパターンマッチングを提供します
type IgnoreFilter struct {
	patterns *gitignore.GitIgnore
}

// NewIgnoreFilter は root 直下の .ragignore を読み込んで IgnoreFilter を作成します
// ファイルが存在しない場合は何も除外しません
func NewIgnoreFilter(root string) (*IgnoreFilter, error) {
	path := filepath.Join(root, IgnoreFileName)
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return &IgnoreFilter{}, nil
		}
		return nil, fmt.Errorf("failed to stat %s: %w", IgnoreFileName, err)
	}

	patterns, err := readIgnoreFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", IgnoreFileName, err)
	}
	if len(patterns) == 0 {
		return &IgnoreFilter{}, nil
	}

	return &IgnoreFilter{
		patterns: gitignore.CompileIgnoreLines(patterns...),
	}, nil
}

// ShouldIgnore は root からの相対パスが除外対象かどうかを判定します
func (f *IgnoreFilter) ShouldIgnore(relPath string) bool {
	if f == nil || f.patterns == nil {
		return false
	}
	return f.patterns.MatchesPath(filepath.ToSlash(relPath))
}

// readIgnoreFile は空行とコメント行を除いたパターンを返します
func readIgnoreFile(path string) ([]string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var patterns []string
	for _, line := range strings.FieldsFunc(string(content), func(r rune) bool { return r == '\n' || r == '\r' }) {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns, nil
}
