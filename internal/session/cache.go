// Package session holds in-memory state that outlives a single
// request: a read-through cache of skill files and the table of live
// browser capture sessions.
package session

import (
	"sync"
	"time"

	"apitap/internal/skill"
)

// Skill file sources, in order of authority.
const (
	SourceDisk       = "disk"
	SourceCaptured   = "captured"
	SourceDiscovered = "discovered"
)

// Entry is one cached skill file.
type Entry struct {
	Domain       string
	File         *skill.File
	Source       string
	DiscoveredAt time.Time
}

// Cache keys skill files by domain. Discovered skeletons live here
// until a real capture replaces them.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewCache creates an empty Cache.
func NewCache() *Cache {
	return &Cache{entries: map[string]*Entry{}}
}

// Get returns the cached entry for a domain, or nil.
func (c *Cache) Get(domain string) *Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.entries[domain]
}

// Put stores a skill file. A captured or disk-backed file replaces a
// discovered skeleton, never the other way around.
func (c *Cache) Put(domain string, f *skill.File, source string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.entries[domain]; ok {
		if source == SourceDiscovered && existing.Source != SourceDiscovered {
			return
		}
	}
	c.entries[domain] = &Entry{
		Domain:       domain,
		File:         f,
		Source:       source,
		DiscoveredAt: time.Now(),
	}
}

// Invalidate drops a domain from the cache.
func (c *Cache) Invalidate(domain string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, domain)
}

// Domains lists the cached domains.
func (c *Cache) Domains() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	domains := make([]string, 0, len(c.entries))
	for domain := range c.entries {
		domains = append(domains, domain)
	}
	return domains
}
