package tools

import (
	"context"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
)

type cached struct {
	Tool
	store *cache.Cache
}

// Cached memoizes successful tool results per input for ttl.
// Errors are never cached.
func Cached(t Tool, ttl time.Duration) Tool {
	if t == nil || ttl <= 0 {
		return t
	}
	return &cached{Tool: t, store: cache.New(ttl, 2*ttl)}
}

func (c *cached) Run(ctx context.Context, input string) (string, error) {
	key := strings.TrimSpace(input)
	if v, ok := c.store.Get(key); ok {
		return v.(string), nil
	}

	out, err := c.Tool.Run(ctx, input)
	if err != nil {
		return "", err
	}

	c.store.SetDefault(key, out)
	return out, nil
}
