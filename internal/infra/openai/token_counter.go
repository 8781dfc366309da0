package openai

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/jinford/recipe-lab/internal/core/ask"
	"github.com/jinford/recipe-lab/internal/core/ingestion"
)

// TokenEncoding はトークン数のカウントに使用するエンコーディング
const TokenEncoding = "cl100k_base"

// TokenCounter は tiktoken でトークン数をカウントする
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTokenCounter は新しいTokenCounterを作成する
func NewTokenCounter() (*TokenCounter, error) {
	encoding, err := tiktoken.GetEncoding(TokenEncoding)
	if err != nil {
		return nil, fmt.Errorf("failed to get tiktoken encoding: %w", err)
	}

	return &TokenCounter{
		encoding: encoding,
	}, nil
}

// CountTokens はテキストのトークン数をカウントする
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.encoding == nil {
		return 0
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

var (
	_ ingestion.TokenCounter = (*TokenCounter)(nil)
	_ ask.TokenCounter       = (*TokenCounter)(nil)
)
