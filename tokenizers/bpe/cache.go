package bpe

import (
	"slices"

	"github.com/gomlx/go-subword/tokenizers/api"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Cache holds the tokens of the most recently split units.
// It's safe for concurrent use. A nil *Cache is valid and caches nothing.
type Cache struct {
	lru *lru.Cache[string, []api.Token]
}

// NewCache creates a cache with the given capacity. A capacity <= 0 returns a nil (disabled) cache.
func NewCache(capacity int) (*Cache, error) {
	if capacity <= 0 {
		return nil, nil
	}
	c, err := lru.New[string, []api.Token](capacity)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to create BPE cache with capacity %d", capacity)
	}
	klog.V(2).Infof("bpe: cache with capacity %d", capacity)
	return &Cache{lru: c}, nil
}

// Get returns a copy of the tokens cached for unit.
func (c *Cache) Get(unit string) ([]api.Token, bool) {
	if c == nil {
		return nil, false
	}
	tokens, found := c.lru.Get(unit)
	if !found {
		return nil, false
	}
	return slices.Clone(tokens), true
}

// Add caches the tokens of unit. The cache keeps its own copy.
func (c *Cache) Add(unit string, tokens []api.Token) {
	if c == nil {
		return
	}
	c.lru.Add(unit, slices.Clone(tokens))
}

// Len returns the number of cached units.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.lru.Len()
}
