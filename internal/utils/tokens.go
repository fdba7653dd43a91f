package utils

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
)

const defaultEncoding = "cl100k_base"

// TokenCounter estimates how many model tokens a prompt occupies.
// The BPE ranks are loaded lazily on first use; when they cannot be loaded
// the counter falls back to a characters/4 estimate.
type TokenCounter struct {
	encoding string

	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

func NewTokenCounter(encoding string) *TokenCounter {
	if encoding == "" {
		encoding = defaultEncoding
	}
	return &TokenCounter{encoding: encoding}
}

// Count returns the token count of text and whether it is exact.
func (c *TokenCounter) Count(text string) (int, bool) {
	if c == nil {
		return estimateTokens(text), false
	}

	c.once.Do(func() {
		c.enc, c.err = tiktoken.GetEncoding(c.encoding)
	})

	if c.err != nil || c.enc == nil {
		return estimateTokens(text), false
	}

	return len(c.enc.Encode(text, nil, nil)), true
}

// Err reports why exact counting is unavailable, if it is.
func (c *TokenCounter) Err() error {
	if c == nil {
		return nil
	}
	return c.err
}

func estimateTokens(text string) int {
	n := utf8.RuneCountInString(text)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
