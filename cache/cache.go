// Package cache holds the prediction result caches used by ml.Predictor.
package cache

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"salescast/ml"
)

const (
	BackendNone  = "none"
	BackendLRU   = "lru"
	BackendRedis = "redis"
)

type Options struct {
	Backend   string
	Size      int
	RedisAddr string
	Prefix    string
	TTL       time.Duration
	Logger    *zap.Logger
}

// New builds the configured cache. A nil cache with a nil error means caching is off.
func New(ctx context.Context, opts Options) (ml.ResultCache, func() error, error) {
	noop := func() error { return nil }
	switch opts.Backend {
	case "", BackendNone:
		return nil, noop, nil
	case BackendLRU:
		c, err := NewLRU(opts.Size)
		if err != nil {
			return nil, noop, err
		}
		return c, noop, nil
	case BackendRedis:
		c, err := NewRedis(ctx, opts.RedisAddr, opts.Prefix, opts.TTL, opts.Logger)
		if err != nil {
			return nil, noop, err
		}
		return c, c.Close, nil
	default:
		return nil, noop, fmt.Errorf("unknown cache backend %q", opts.Backend)
	}
}
