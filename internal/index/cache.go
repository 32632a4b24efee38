package index

import (
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/wesm/sessionwatch/internal/parser"
	"github.com/wesm/sessionwatch/internal/pathkey"
)

// DefaultCacheSize is used when NewDetailsCache is given a
// non-positive size.
const DefaultCacheSize = 32

type cachedDetails struct {
	sig     Signature
	details parser.Details
}

// DetailsCache is a bounded LRU of full session details, message
// bodies included. It is never persisted.
type DetailsCache struct {
	lru *lru.Cache[string, cachedDetails]
}

// NewDetailsCache returns a cache holding at most size entries.
func NewDetailsCache(size int) *DetailsCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	c, err := lru.New[string, cachedDetails](size)
	if err != nil {
		// Only returned for non-positive sizes.
		panic(err)
	}
	return &DetailsCache{lru: c}
}

// Get returns the cached details of path if they were parsed from a
// file with signature sig. A stale entry is evicted.
func (c *DetailsCache) Get(path string, sig Signature) (parser.Details, bool) {
	key := pathkey.Canonical(path)
	e, ok := c.lru.Get(key)
	if !ok {
		return parser.Details{}, false
	}
	if e.sig != sig {
		c.lru.Remove(key)
		return parser.Details{}, false
	}
	return e.details, true
}

// Add caches d as parsed from a file with signature sig.
func (c *DetailsCache) Add(sig Signature, d parser.Details) {
	c.lru.Add(pathkey.Canonical(d.Path), cachedDetails{sig: sig, details: d})
}

// Remove drops path from the cache.
func (c *DetailsCache) Remove(path string) {
	c.lru.Remove(pathkey.Canonical(path))
}

// Len returns the number of cached entries.
func (c *DetailsCache) Len() int {
	return c.lru.Len()
}

// Purge empties the cache.
func (c *DetailsCache) Purge() {
	c.lru.Purge()
}
