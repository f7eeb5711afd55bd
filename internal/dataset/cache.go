package dataset

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/planlens/planlens/internal/table"
)

type cacheKey struct {
	ownerID   string
	datasetID string
}

// gen advances on every removal so an older load cannot repopulate the cache.
type tableCache struct {
	lru *lru.Cache[cacheKey, *table.Table]

	mu  sync.Mutex
	gen uint64
}

func newTableCache(size int) (*tableCache, error) {
	if size <= 0 {
		return &tableCache{}, nil
	}
	c, err := lru.New[cacheKey, *table.Table](size)
	if err != nil {
		return nil, err
	}
	return &tableCache{lru: c}, nil
}

func (c *tableCache) get(ownerID, datasetID string) (*table.Table, bool) {
	if c.lru == nil {
		return nil, false
	}
	return c.lru.Get(cacheKey{ownerID: ownerID, datasetID: datasetID})
}

func (c *tableCache) add(ownerID, datasetID string, t *table.Table) {
	if c.lru == nil {
		return
	}
	c.lru.Add(cacheKey{ownerID: ownerID, datasetID: datasetID}, t)
}

func (c *tableCache) generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func (c *tableCache) addIfCurrent(ownerID, datasetID string, t *table.Table, gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen != gen {
		return false
	}
	c.add(ownerID, datasetID, t)
	return true
}

func (c *tableCache) remove(ownerID, datasetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	if c.lru == nil {
		return
	}
	c.lru.Remove(cacheKey{ownerID: ownerID, datasetID: datasetID})
}

func (c *tableCache) len() int {
	if c.lru == nil {
		return 0
	}
	return c.lru.Len()
}
