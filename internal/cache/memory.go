// Package cache holds the latest precipitation reading per project for the
// degraded compliance path. A reading is only served when it was observed
// within the caller's recency bound; entries are never trusted by age alone.
package cache

import (
	"context"
	"sync"
	"time"

	"braveforms/internal/types"
)

// DefaultMaxEntries bounds the in-memory cache when no size is configured.
const DefaultMaxEntries = 10000

// MemoryReadingCache is a thread-safe LRU keyed by project id. It is used
// when no Redis URL is configured and is local to one process.
type MemoryReadingCache struct {
	maxEntries int
	mu         sync.Mutex
	entries    map[string]*entry
	head       *entry // most recently used
	tail       *entry // least recently used
}

type entry struct {
	key   string
	value types.PrecipitationReading
	prev  *entry
	next  *entry
}

// NewMemoryReadingCache creates an LRU holding at most maxEntries projects.
func NewMemoryReadingCache(maxEntries int) *MemoryReadingCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &MemoryReadingCache{
		maxEntries: maxEntries,
		entries:    make(map[string]*entry),
	}
}

// Put stores the reading unless a newer one is already held for the project.
func (c *MemoryReadingCache) Put(_ context.Context, reading types.PrecipitationReading) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[reading.ProjectID]; ok {
		if !reading.ObservedAt.Before(e.value.ObservedAt) {
			e.value = reading
		}
		c.moveToFront(e)
		return nil
	}

	e := &entry{key: reading.ProjectID, value: reading}
	c.entries[reading.ProjectID] = e
	c.addToFront(e)

	if len(c.entries) > c.maxEntries {
		c.evictTail()
	}
	return nil
}

// Latest returns the project's reading if it was observed at or after since.
func (c *MemoryReadingCache) Latest(_ context.Context, projectID string, since time.Time) (*types.PrecipitationReading, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[projectID]
	if !ok || e.value.ObservedAt.Before(since) {
		return nil, nil
	}
	c.moveToFront(e)
	reading := e.value
	return &reading, nil
}

// Len returns the number of cached projects.
func (c *MemoryReadingCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *MemoryReadingCache) moveToFront(e *entry) {
	if e == c.head {
		return
	}
	c.remove(e)
	c.addToFront(e)
}

func (c *MemoryReadingCache) addToFront(e *entry) {
	e.next = c.head
	e.prev = nil
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *MemoryReadingCache) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
}

func (c *MemoryReadingCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.remove(c.tail)
}
