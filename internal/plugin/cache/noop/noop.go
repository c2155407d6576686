// Package noop is the default cache backend: every lookup misses.
package noop

import (
	"context"
	"time"

	registrycache "github.com/watzon/mnemo/internal/registry/cache"
)

func init() {
	registrycache.Register(registrycache.Plugin{
		Name: "noop",
		Loader: func(_ context.Context) (registrycache.ResultCache, error) {
			return &Cache{}, nil
		},
	})
}

type Cache struct{}

func (c *Cache) Get(_ context.Context, _ string) ([]byte, bool, error) { return nil, false, nil }

func (c *Cache) Set(_ context.Context, _ string, _ []byte, _ time.Duration) error { return nil }

func (c *Cache) Name() string { return "noop" }

var _ registrycache.ResultCache = (*Cache)(nil)
