package cache

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultLRUSize = 4096

// LRU is an in-process prediction cache.
type LRU struct {
	entries *lru.Cache[string, float64]
}

func NewLRU(size int) (*LRU, error) {
	if size <= 0 {
		size = defaultLRUSize
	}
	entries, err := lru.New[string, float64](size)
	if err != nil {
		return nil, err
	}
	return &LRU{entries: entries}, nil
}

func (c *LRU) Get(_ context.Context, key string) (float64, bool) {
	return c.entries.Get(key)
}

func (c *LRU) Set(_ context.Context, key string, value float64) {
	c.entries.Add(key, value)
}

func (c *LRU) Len() int {
	return c.entries.Len()
}
