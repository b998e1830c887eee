package goals

import (
	"fmt"
	"os"
	"time"

	"github.com/patrickmn/go-cache"
)

// DefaultCacheTTL is how long a decoded goal table is kept.
const DefaultCacheTTL = 5 * time.Minute

// TableCache loads goal tables and keeps them keyed by path, size and
// modification time, so an edited file is decoded again on the next query.
type TableCache struct {
	cache *cache.Cache
}

// NewTableCache creates a cache whose entries expire after ttl.
func NewTableCache(ttl time.Duration) *TableCache {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &TableCache{cache: cache.New(ttl, 2*ttl)}
}

// Load returns the decoded table at path.
func (c *TableCache) Load(path string) (*Document, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("read goal table: %w", err)
	}
	key := fmt.Sprintf("%s|%d|%d", path, info.Size(), info.ModTime().UnixNano())
	if doc, found := c.cache.Get(key); found {
		return doc.(*Document), nil
	}

	doc, err := LoadDocument(path)
	if err != nil {
		return nil, err
	}
	c.cache.SetDefault(key, doc)
	return doc, nil
}

// Len is the number of cached tables, including stale versions not yet
// expired.
func (c *TableCache) Len() int {
	return c.cache.ItemCount()
}

// Flush drops every cached table.
func (c *TableCache) Flush() {
	c.cache.Flush()
}
