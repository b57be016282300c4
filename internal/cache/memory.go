package cache

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// DefaultMaxSize bounds the in-memory backend when no size is configured.
const DefaultMaxSize = 1000

type memoryEntry struct {
	value     []byte
	createdAt time.Time
	ttl       time.Duration
}

// MemoryStore is a process-local LRU. Entries carry their own TTL; the LRU's
// global TTL is left at zero and eviction happens on read or by size.
type MemoryStore struct {
	lru *expirable.LRU[string, memoryEntry]
	now func() time.Time
}

func NewMemory(maxSize int, now func() time.Time) *MemoryStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{
		lru: expirable.NewLRU[string, memoryEntry](maxSize, nil, 0),
		now: now,
	}
}

func (m *MemoryStore) Get(key string) (Entry, bool, error) {
	item, ok := m.lru.Get(key)
	if !ok {
		return Entry{}, false, nil
	}
	entry := Entry{Value: item.value, CreatedAt: item.createdAt, TTL: item.ttl}
	now := m.now()
	if entry.expired(now) {
		m.lru.Remove(key)
		return Entry{}, false, nil
	}
	entry.Age = max(now.Sub(entry.CreatedAt), 0)
	return entry, true, nil
}

func (m *MemoryStore) Set(key string, value []byte, ttl time.Duration) error {
	buf := make([]byte, len(value))
	copy(buf, value)
	m.lru.Add(key, memoryEntry{value: buf, createdAt: m.now(), ttl: ttl})
	return nil
}

func (m *MemoryStore) Delete(key string) error {
	m.lru.Remove(key)
	return nil
}

func (m *MemoryStore) Clear() error {
	m.lru.Purge()
	return nil
}

func (m *MemoryStore) Len() (int, error) { return m.lru.Len(), nil }

func (m *MemoryStore) Close() error { return nil }
