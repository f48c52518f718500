package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	soltok "github.com/soltok-labs/soltok/go"
)

// FileCache is the local fallback cache: the whole order collection
// serialized as one JSON document on disk. It is created per session and
// passed into the order store explicitly; there is no process-global cache.
type FileCache struct {
	mu   sync.Mutex
	path string
}

// NewFileCache creates a cache handle at the given path. The file is
// created lazily on first save.
func NewFileCache(path string) *FileCache {
	return &FileCache{path: path}
}

// Load reads the cached collection. A missing file is an empty collection,
// not an error.
func (c *FileCache) Load() (map[string]soltok.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return map[string]soltok.Order{}, nil
		}
		return nil, fmt.Errorf("failed to read cache: %w", err)
	}

	orders := map[string]soltok.Order{}
	if len(data) == 0 {
		return orders, nil
	}
	if err := json.Unmarshal(data, &orders); err != nil {
		return nil, fmt.Errorf("corrupt cache file %s: %w", c.path, err)
	}
	return orders, nil
}

// Save atomically replaces the cached collection.
func (c *FileCache) Save(orders map[string]soltok.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := json.Marshal(orders)
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create cache dir: %w", err)
		}
	}

	tmp := c.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return os.Rename(tmp, c.path)
}

// MemoryCache is a Cache that lives only in process memory. Tests use it
// in place of the file-backed cache.
type MemoryCache struct {
	mu     sync.Mutex
	orders map[string]soltok.Order
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{orders: map[string]soltok.Order{}}
}

func (c *MemoryCache) Load() (map[string]soltok.Order, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]soltok.Order, len(c.orders))
	for id, o := range c.orders {
		out[id] = *o.Clone()
	}
	return out, nil
}

func (c *MemoryCache) Save(orders map[string]soltok.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orders = make(map[string]soltok.Order, len(orders))
	for id, o := range orders {
		c.orders[id] = *o.Clone()
	}
	return nil
}

var (
	_ Cache = (*FileCache)(nil)
	_ Cache = (*MemoryCache)(nil)
)
