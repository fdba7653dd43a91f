package ai

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingProvider struct {
	active  atomic.Int32
	maxSeen atomic.Int32
}

func (c *countingProvider) Complete(_ context.Context, _, prompt string) (string, error) {
	n := c.active.Add(1)
	defer c.active.Add(-1)
	for {
		seen := c.maxSeen.Load()
		if n <= seen || c.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	return prompt, nil
}

func (c *countingProvider) Model() string { return "counting" }

func TestSerializedProviderDoesNotOverlapCalls(t *testing.T) {
	inner := &countingProvider{}
	p := Serialized(inner)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Complete(context.Background(), "sys", "msg"); err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := inner.maxSeen.Load(); got != 1 {
		t.Fatalf("expected at most one concurrent call, got %d", got)
	}

	if Serialized(p) != p {
		t.Fatalf("expected wrapping twice to be a no-op")
	}

	if p.Model() != "counting" {
		t.Fatalf("unexpected model: %s", p.Model())
	}
}

func TestSerializedProviderHonoursCancelledContext(t *testing.T) {
	p := Serialized(&countingProvider{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := p.Complete(ctx, "sys", "msg"); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}
