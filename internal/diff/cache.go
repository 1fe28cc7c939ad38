package diff

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Cache memoizes parsed diffs content-addressed by (text, kind, line
// number flag). Re-applying the same file-change event reuses the
// previous Model instead of re-parsing.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Model
	max     int
}

// NewCache creates a cache bounded to max entries (0 means unbounded).
func NewCache(max int) *Cache {
	return &Cache{entries: map[string]Model{}, max: max}
}

func cacheKey(diffText string, kind ChangeKind, lineNumbersAvailable *bool) string {
	h := sha256.New()
	h.Write([]byte(diffText))
	h.Write([]byte{0})
	h.Write([]byte(kind.Type))
	h.Write([]byte{0})
	h.Write([]byte(kind.MovePath))
	h.Write([]byte{0})
	switch {
	case lineNumbersAvailable == nil:
		h.Write([]byte{2})
	case *lineNumbersAvailable:
		h.Write([]byte{1})
	default:
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// ParseForChange is the memoized form of the package-level ParseForChange.
func (c *Cache) ParseForChange(diffText string, kind ChangeKind, lineNumbersAvailable *bool) Model {
	key := cacheKey(diffText, kind, lineNumbersAvailable)

	c.mu.Lock()
	if m, ok := c.entries[key]; ok {
		c.mu.Unlock()
		return m
	}
	c.mu.Unlock()

	m := ParseForChange(diffText, kind, lineNumbersAvailable)

	c.mu.Lock()
	if c.max > 0 && len(c.entries) >= c.max {
		// full reset instead of per-entry LRU bookkeeping
		c.entries = map[string]Model{}
	}
	c.entries[key] = m
	c.mu.Unlock()
	return m
}

// Len returns the number of memoized models.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
