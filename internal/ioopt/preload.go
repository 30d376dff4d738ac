package ioopt

import (
	"os"
	"sync"
	"time"
)

// preloadEntry is one warmed file in the preload cache.
type preloadEntry struct {
	content     []byte
	modTime     time.Time
	size        int64
	accessCount int64
}

// PreloadStats tracks preload cache statistics
type PreloadStats struct {
	Hits          uint64 `json:"hits"`
	Misses        uint64 `json:"misses"`
	Invalidations uint64 `json:"invalidations"`
	Evictions     uint64 `json:"evictions"`
	Entries       int    `json:"entries"`
}

// PreloadCache is a fixed-size store of proactively read files. Every lookup
// stats the file and invalidates the entry when the on-disk mtime no longer
// matches. Eviction removes the entry with the lowest access count, breaking
// ties toward the oldest mtime.
type PreloadCache struct {
	mu         sync.Mutex
	maxEntries int
	entries    map[string]*preloadEntry

	stats PreloadStats
}

// NewPreloadCache creates a new preload cache
func NewPreloadCache(maxEntries int) *PreloadCache {
	if maxEntries <= 0 {
		maxEntries = 100
	}
	return &PreloadCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*preloadEntry),
	}
}

// Preload reads path from disk and inserts it into the cache.
func (p *PreloadCache) Preload(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	p.Put(path, content, info.ModTime())
	return nil
}

// Put inserts an already-read file, evicting if the cache is full.
func (p *PreloadCache) Put(path string, content []byte, modTime time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, exists := p.entries[path]; !exists && len(p.entries) >= p.maxEntries {
		p.evictLocked()
	}

	p.entries[path] = &preloadEntry{
		content: content,
		modTime: modTime,
		size:    int64(len(content)),
	}
}

// Get returns the cached content for path if it is still current. The file
// is stat'ed on every call; a missing file or an advanced mtime invalidates
// the entry and reports a miss.
func (p *PreloadCache) Get(path string) ([]byte, bool) {
	p.mu.Lock()
	entry, exists := p.entries[path]
	p.mu.Unlock()

	if !exists {
		p.mu.Lock()
		p.stats.Misses++
		p.mu.Unlock()
		return nil, false
	}

	info, err := os.Stat(path)

	p.mu.Lock()
	defer p.mu.Unlock()

	// Re-check: the entry may have been replaced while stat'ing.
	entry, exists = p.entries[path]
	if !exists {
		p.stats.Misses++
		return nil, false
	}

	if err != nil || !info.ModTime().Equal(entry.modTime) {
		delete(p.entries, path)
		p.stats.Invalidations++
		p.stats.Misses++
		return nil, false
	}

	entry.accessCount++
	p.stats.Hits++
	return entry.content, true
}

// Contains reports entry presence without validating against the disk.
func (p *PreloadCache) Contains(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, exists := p.entries[path]
	return exists
}

// Remove drops an entry.
func (p *PreloadCache) Remove(path string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entries, path)
}

// Len returns the current entry count.
func (p *PreloadCache) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Clear removes all entries.
func (p *PreloadCache) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = make(map[string]*preloadEntry)
}

// Stats returns current preload statistics
func (p *PreloadCache) Stats() PreloadStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := p.stats
	stats.Entries = len(p.entries)
	return stats
}

// evictLocked removes the least-accessed entry, tiebreaking to oldest mtime.
func (p *PreloadCache) evictLocked() {
	var victim string
	var victimEntry *preloadEntry

	for path, entry := range p.entries {
		if victimEntry == nil ||
			entry.accessCount < victimEntry.accessCount ||
			(entry.accessCount == victimEntry.accessCount && entry.modTime.Before(victimEntry.modTime)) {
			victim = path
			victimEntry = entry
		}
	}

	if victim != "" {
		delete(p.entries, victim)
		p.stats.Evictions++
	}
}
