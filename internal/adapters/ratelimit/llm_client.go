package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/mikey/mail2cal/internal/core"
	"golang.org/x/time/rate"
)

// LLMClient throttles calls to another LLMClient
type LLMClient struct {
	next    core.LLMClient
	limiter *rate.Limiter

	mu       sync.Mutex
	reserved int
}

// NewLLMClient wraps next so that at most requestsPerMinute calls start
// per minute. A non-positive limit returns next unchanged.
func NewLLMClient(next core.LLMClient, requestsPerMinute int) core.LLMClient {
	if requestsPerMinute <= 0 {
		return next
	}
	return &LLMClient{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(requestsPerMinute)), 1),
	}
}

// Wait blocks until a call may start and holds that slot for the next
// Complete. ctx should not carry the provider call's timeout.
func (c *LLMClient) Wait(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &core.TransportError{Op: "llm.ratelimit", RateLimited: true, Err: err}
	}
	c.mu.Lock()
	c.reserved++
	c.mu.Unlock()
	return nil
}

// Complete uses a slot taken by Wait, or waits for one itself
func (c *LLMClient) Complete(ctx context.Context, prompt string) (string, error) {
	if !c.takeReserved() {
		if err := c.Wait(ctx); err != nil {
			return "", err
		}
		c.takeReserved()
	}
	return c.next.Complete(ctx, prompt)
}

func (c *LLMClient) takeReserved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.reserved == 0 {
		return false
	}
	c.reserved--
	return true
}

// ModelName returns the wrapped client's model
func (c *LLMClient) ModelName() string {
	return c.next.ModelName()
}

// Close closes the wrapped client when it holds resources
func (c *LLMClient) Close() error {
	if closer, ok := c.next.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
