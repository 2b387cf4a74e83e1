package journal

import (
	"context"
	"sync"
)

// MemoryCheckpoints is an in-process Checkpoints implementation.
type MemoryCheckpoints struct {
	mu sync.Mutex
	m  map[string]string
}

func NewMemoryCheckpoints() *MemoryCheckpoints {
	return &MemoryCheckpoints{m: make(map[string]string)}
}

func (c *MemoryCheckpoints) Load(_ context.Context, consumer string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	pos, ok := c.m[consumer]
	return pos, ok, nil
}

func (c *MemoryCheckpoints) Save(_ context.Context, consumer string, pos string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.m[consumer] = pos
	return nil
}
