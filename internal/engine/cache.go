package engine

import (
	"slices"
	"sync"
)

// CacheEntry is one chat in the materialized recency view.
type CacheEntry struct {
	ID                 string `json:"id"`
	Name               string `json:"name"`
	LastMessagePreview string `json:"lastMessagePreview"`
	LastMessageAt      int64  `json:"lastMessageAt"`
}

// ChatCache is the in-memory chat list, sorted by recency descending.
// It is a projection of the store: rebuilt on READY, patched after each
// committed message, cleared on disconnect. Only the actor goroutine
// mutates it.
type ChatCache struct {
	mu      sync.RWMutex
	entries []CacheEntry
}

// NewChatCache creates an empty cache.
func NewChatCache() *ChatCache {
	return &ChatCache{}
}

// Rebuild replaces the cache wholesale.
func (c *ChatCache) Rebuild(entries []CacheEntry) {
	sorted := slices.Clone(entries)
	sortByRecency(sorted)
	c.mu.Lock()
	c.entries = sorted
	c.mu.Unlock()
}

// Patch updates a chat's preview and recency, inserting a minimal entry
// if the chat is not cached yet. An empty name never overwrites a known
// one.
func (c *ChatCache) Patch(id, name, preview string, at int64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	idx := slices.IndexFunc(c.entries, func(e CacheEntry) bool { return e.ID == id })
	if idx < 0 {
		c.entries = append(c.entries, CacheEntry{ID: id, Name: name, LastMessagePreview: preview, LastMessageAt: at})
	} else {
		e := &c.entries[idx]
		if name != "" && e.Name == "" {
			e.Name = name
		}
		e.LastMessagePreview = preview
		if at > e.LastMessageAt {
			e.LastMessageAt = at
		}
	}
	sortByRecency(c.entries)
}

// Snapshot returns a copy of the current ordered list.
func (c *ChatCache) Snapshot() []CacheEntry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return slices.Clone(c.entries)
}

// Len returns the number of cached chats.
func (c *ChatCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Clear empties the cache.
func (c *ChatCache) Clear() {
	c.mu.Lock()
	c.entries = nil
	c.mu.Unlock()
}

func sortByRecency(entries []CacheEntry) {
	slices.SortStableFunc(entries, func(a, b CacheEntry) int {
		switch {
		case a.LastMessageAt > b.LastMessageAt:
			return -1
		case a.LastMessageAt < b.LastMessageAt:
			return 1
		default:
			return 0
		}
	})
}
