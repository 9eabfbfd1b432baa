// Package embedding implements the fixed-shape document embedding engine
// and its cosine-similarity primitives.
package embedding

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/fairyhunter13/resume-matcher/internal/adapter/observability"
)

// vectorCache is an LRU cache of embedding vectors keyed by content hash.
// Hits promote the entry; the least recently used entry is evicted when the
// cache is full. Safe for concurrent use.
type vectorCache struct {
	capacity int
	mu       sync.Mutex
	m        map[string]*list.Element
	ll       *list.List // front is most recently used
}

type cacheEntry struct {
	key string
	vec []float64
}

func newVectorCache(capacity int) *vectorCache {
	if capacity <= 0 {
		return nil
	}
	return &vectorCache{
		capacity: capacity,
		m:        make(map[string]*list.Element, capacity),
		ll:       list.New(),
	}
}

func (c *vectorCache) get(text string) ([]float64, bool) {
	if c == nil {
		return nil, false
	}
	k := keyFor(text)
	var vec []float64
	c.mu.Lock()
	if el, ok := c.m[k]; ok {
		c.ll.MoveToFront(el)
		vec = el.Value.(*cacheEntry).vec
	}
	c.mu.Unlock()
	if vec == nil {
		observability.EmbeddingCacheHitsTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	observability.EmbeddingCacheHitsTotal.WithLabelValues("hit").Inc()
	return vec, true
}

func (c *vectorCache) put(text string, vec []float64) {
	if c == nil {
		return
	}
	k := keyFor(text)
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.m[k]; ok {
		el.Value.(*cacheEntry).vec = vec
		c.ll.MoveToFront(el)
		return
	}
	if c.ll.Len() >= c.capacity {
		oldest := c.ll.Back()
		c.ll.Remove(oldest)
		delete(c.m, oldest.Value.(*cacheEntry).key)
	}
	c.m[k] = c.ll.PushFront(&cacheEntry{key: k, vec: vec})
}

func keyFor(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}
