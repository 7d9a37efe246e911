package bundlestore

import (
	"container/list"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/marmos91/dtnd/internal/logger"
)

// fdCache bounds the number of concurrently open payload file
// descriptors. On eviction the file itself is untouched on disk and is
// transparently reopened the next time it is accessed.
type fdCache struct {
	mu       sync.Mutex
	dir      string
	capacity int
	ll       *list.List // front = most recently used
	items    map[string]*list.Element
}

type fdEntry struct {
	name string
	f    *os.File
}

func newFDCache(dir string, capacity int) *fdCache {
	if capacity <= 0 {
		capacity = 256
	}
	return &fdCache{
		dir:      dir,
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

func (c *fdCache) path(name string) string {
	return filepath.Join(c.dir, name)
}

// open returns an *os.File for name, opening (and evicting the LRU
// handle if at capacity) as needed. The caller must not close the
// returned file; the cache owns its lifetime.
func (c *fdCache) open(name string) (*os.File, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[name]; ok {
		c.ll.MoveToFront(el)
		return el.Value.(*fdEntry).f, nil
	}

	f, err := os.OpenFile(c.path(name), os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, fmt.Errorf("bundlestore: open payload file %q: %w", name, err)
	}

	if c.ll.Len() >= c.capacity {
		c.evictOldest()
	}

	el := c.ll.PushFront(&fdEntry{name: name, f: f})
	c.items[name] = el
	return f, nil
}

// evictOldest closes (but does not delete) the least-recently-used file.
// Caller must hold c.mu.
func (c *fdCache) evictOldest() {
	el := c.ll.Back()
	if el == nil {
		return
	}
	entry := el.Value.(*fdEntry)
	c.ll.Remove(el)
	delete(c.items, entry.name)
	if err := entry.f.Close(); err != nil {
		logger.Warn("fd cache evict close failed", "filename", entry.name, "error", err)
	}
}

// remove closes (if open) and deletes name from disk entirely, used when
// a bundle is deleted from the store.
func (c *fdCache) remove(name string) error {
	c.mu.Lock()
	if el, ok := c.items[name]; ok {
		c.ll.Remove(el)
		delete(c.items, name)
		_ = el.Value.(*fdEntry).f.Close()
	}
	c.mu.Unlock()

	err := os.Remove(c.path(name))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("bundlestore: remove payload file %q: %w", name, err)
	}
	return nil
}

// closeAll closes every open handle, used on shutdown.
func (c *fdCache) closeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for name, el := range c.items {
		_ = el.Value.(*fdEntry).f.Close()
		delete(c.items, name)
	}
	c.ll.Init()
}

// payloadFilename derives the on-disk filename for a bundle's payload
// from its local bundle-id: "named by bundle-id".
func payloadFilename(localID uint64) string {
	return fmt.Sprintf("%020d.bundle", localID)
}
