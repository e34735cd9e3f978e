package watcher

import (
	"fmt"
	"sync"

	"github.com/gridmind/gridnode/storage"
)

// BlockNumberCache remembers the highest fully processed block per watcher.
// Set never moves the value backwards, so a slow retry path cannot rewind a
// cursor another goroutine already advanced.
type BlockNumberCache interface {
	Get(key string) (uint64, error)
	Set(key string, value uint64) error
}

// MemoryBlockNumberCache keeps cursors in process memory. A restart rescans
// from the configured start block.
type MemoryBlockNumberCache struct {
	mu     sync.Mutex
	values map[string]uint64
}

func NewMemoryBlockNumberCache() *MemoryBlockNumberCache {
	return &MemoryBlockNumberCache{values: map[string]uint64{}}
}

func (c *MemoryBlockNumberCache) Get(key string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[key], nil
}

func (c *MemoryBlockNumberCache) Set(key string, value uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if value <= c.values[key] {
		return nil
	}
	c.values[key] = value
	return nil
}

const blockCachePrefix = "watcher:block:"

// BadgerBlockNumberCache persists cursors in the node database so a crash
// resumes the scan where the last completed poll left it.
type BadgerBlockNumberCache struct {
	mu sync.Mutex
	db storage.Storage
}

func NewBadgerBlockNumberCache(db storage.Storage) *BadgerBlockNumberCache {
	return &BadgerBlockNumberCache{db: db}
}

func (c *BadgerBlockNumberCache) Get(key string) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	value, err := c.db.GetCounter([]byte(blockCachePrefix+key), 0)
	if err != nil {
		return 0, fmt.Errorf("cannot read block cursor %s: %w", key, err)
	}
	return value, nil
}

func (c *BadgerBlockNumberCache) Set(key string, value uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	current, err := c.db.GetCounter([]byte(blockCachePrefix+key), 0)
	if err != nil {
		return fmt.Errorf("cannot read block cursor %s: %w", key, err)
	}
	if value <= current {
		return nil
	}
	if err := c.db.SetCounter([]byte(blockCachePrefix+key), value); err != nil {
		return fmt.Errorf("cannot persist block cursor %s: %w", key, err)
	}
	return nil
}
