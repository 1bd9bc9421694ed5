// Package cache is the content-addressed audit cache: a bounded LRU of past
// reviews keyed by a normalized hash of the submitted code plus the thought
// number, so formatting-only resubmissions hit and logic changes miss.
package cache

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Iron-Ham/gansauditor/internal/reviewer"
)

// Entry is one stored review plus the bookkeeping needed for eviction and
// stats.
type Entry struct {
	CodeHash         string          `json:"codeHash"`
	Review           reviewer.Review `json:"review"`
	CreatedAtMs      int64           `json:"createdAtMs"`
	LastAccessedAtMs int64           `json:"lastAccessedAtMs"`
	AccessCount      int             `json:"accessCount"`
	SizeBytes        int             `json:"sizeBytes"`
}

// Stats is a point-in-time snapshot of cache performance.
type Stats struct {
	Hits                int64
	Misses              int64
	Entries             int
	MemoryBytes         int64
	HitRate             float64
	AverageAccessTimeMs float64
}

// AuditCache is the in-memory LRU+TTL store of past reviews. Safe for
// concurrent use.
type AuditCache struct {
	mu             sync.Mutex
	entries        *lru.Cache[string, *Entry]
	maxMemoryBytes int64
	maxAgeMs       int64

	memoryBytes   int64
	hits          int64
	misses        int64
	totalAccessNs int64
	accessSamples int64
}

// New creates an AuditCache bounded by maxEntries and maxMemoryBytes, with
// entries expiring maxAgeMs after creation (0 disables expiry).
func New(maxEntries int, maxMemoryBytes, maxAgeMs int64) (*AuditCache, error) {
	if maxEntries < 1 {
		return nil, fmt.Errorf("maxEntries must be at least 1, got %d", maxEntries)
	}

	ac := &AuditCache{
		maxMemoryBytes: maxMemoryBytes,
		maxAgeMs:       maxAgeMs,
	}

	lruCache, err := lru.NewWithEvict[string, *Entry](maxEntries, ac.onEvicted)
	if err != nil {
		return nil, fmt.Errorf("failed to create lru cache: %w", err)
	}
	ac.entries = lruCache

	return ac, nil
}

// onEvicted keeps memoryBytes consistent whenever the underlying LRU drops
// an entry, whether from RemoveOldest or its own capacity eviction inside
// Add. Always called while ac.mu is held by the caller.
func (ac *AuditCache) onEvicted(_ string, entry *Entry) {
	ac.memoryBytes -= int64(entry.SizeBytes)
}

// Put stores review under the key derived from thought and thoughtNumber,
// evicting LRU entries until both the entry count and memory bound hold.
func (ac *AuditCache) Put(thought string, thoughtNumber int, review reviewer.Review) {
	key := Key(thought, thoughtNumber)
	size := estimateSize(review)
	now := time.Now().UnixMilli()

	ac.mu.Lock()
	defer ac.mu.Unlock()

	if old, ok := ac.entries.Peek(key); ok {
		ac.memoryBytes -= int64(old.SizeBytes)
	}

	ac.entries.Add(key, &Entry{
		CodeHash:         key,
		Review:           review,
		CreatedAtMs:      now,
		LastAccessedAtMs: now,
		SizeBytes:        size,
	})
	ac.memoryBytes += int64(size)

	ac.enforceMemoryBound()
}

// enforceMemoryBound evicts the oldest entries until memoryBytes is within
// maxMemoryBytes. Must be called with ac.mu held.
func (ac *AuditCache) enforceMemoryBound() {
	for ac.maxMemoryBytes > 0 && ac.memoryBytes > ac.maxMemoryBytes && ac.entries.Len() > 0 {
		if _, _, ok := ac.entries.RemoveOldest(); !ok {
			break
		}
	}
}

// Get looks up the review for thought and thoughtNumber. A hit bumps the
// entry's access stats and LRU order; an expired entry is lazily removed
// and reported as a miss.
func (ac *AuditCache) Get(thought string, thoughtNumber int) (reviewer.Review, bool) {
	key := Key(thought, thoughtNumber)
	start := time.Now()

	ac.mu.Lock()
	defer ac.mu.Unlock()

	entry, ok := ac.entries.Get(key)
	if !ok {
		ac.misses++
		return reviewer.Review{}, false
	}

	now := time.Now()
	if ac.maxAgeMs > 0 && now.UnixMilli()-entry.CreatedAtMs > ac.maxAgeMs {
		ac.entries.Remove(key)
		ac.misses++
		return reviewer.Review{}, false
	}

	entry.LastAccessedAtMs = now.UnixMilli()
	entry.AccessCount++
	ac.hits++
	ac.totalAccessNs += time.Since(start).Nanoseconds()
	ac.accessSamples++

	return entry.Review, true
}

// Stats returns a snapshot of cache performance.
func (ac *AuditCache) Stats() Stats {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	total := ac.hits + ac.misses
	var hitRate float64
	if total > 0 {
		hitRate = float64(ac.hits) / float64(total)
	}

	var avgMs float64
	if ac.accessSamples > 0 {
		avgMs = float64(ac.totalAccessNs) / float64(ac.accessSamples) / float64(time.Millisecond)
	}

	return Stats{
		Hits:                ac.hits,
		Misses:              ac.misses,
		Entries:             ac.entries.Len(),
		MemoryBytes:         ac.memoryBytes,
		HitRate:             hitRate,
		AverageAccessTimeMs: avgMs,
	}
}

// Purge clears every entry and resets byte accounting. Stats counters are
// left intact.
func (ac *AuditCache) Purge() {
	ac.mu.Lock()
	defer ac.mu.Unlock()

	ac.entries.Purge()
	ac.memoryBytes = 0
}

func estimateSize(review reviewer.Review) int {
	data, err := json.Marshal(review)
	if err != nil {
		return 0
	}
	return len(data)
}
