package core

import (
	"container/list"

	"github.com/prometheus/client_golang/prometheus"
)

// IdempotencyChecker implements two-tier deduplication keyed by transaction id
type IdempotencyChecker struct {
	// Tier 1: In-memory LRU
	lru *IdempotencyLRU

	// Tier 2: Postgres (injected via interface)
	dbChecker DBIdempotencyChecker

	metrics    *IdempotencyMetrics
	duplicates *prometheus.CounterVec // tx_type, tier; optional
}

// DBIdempotencyChecker is the interface for Postgres dedup lookup
type DBIdempotencyChecker interface {
	IsDuplicate(idempotencyKey string) (bool, error)
}

func NewIdempotencyChecker(capacity int, dbChecker DBIdempotencyChecker) *IdempotencyChecker {
	return &IdempotencyChecker{
		lru:       NewIdempotencyLRU(capacity),
		dbChecker: dbChecker,
		metrics:   NewIdempotencyMetrics(),
	}
}

// IsDuplicate checks if a transaction id has been sequenced (two-tier lookup).
// txType only labels metrics: an id is unique across all transaction types.
func (ic *IdempotencyChecker) IsDuplicate(txType string, idempotencyKey string) bool {
	if ic.lru.Contains(idempotencyKey) {
		ic.recordDuplicate(txType, "lru")
		return true
	}

	if ic.dbChecker != nil {
		isDup, err := ic.dbChecker.IsDuplicate(idempotencyKey)
		if err != nil {
			// Assume not duplicate so a DB outage does not stall the core
			ic.metrics.RecordTier2Error()
			return false
		}

		if isDup {
			ic.recordDuplicate(txType, "postgres")
			ic.lru.Add(idempotencyKey)
			return true
		}
	}

	return false
}

func (ic *IdempotencyChecker) recordDuplicate(txType, tier string) {
	ic.metrics.RecordDuplicate(txType, tier)
	if ic.duplicates != nil {
		ic.duplicates.WithLabelValues(txType, tier).Inc()
	}
}

// MarkProcessed adds key to LRU after the transaction is sequenced
func (ic *IdempotencyChecker) MarkProcessed(idempotencyKey string) {
	ic.lru.Add(idempotencyKey)
}

// WarmLRU loads recently sequenced ids, oldest first.
func (ic *IdempotencyChecker) WarmLRU(keys []string) {
	ic.lru.WarmFromKeys(keys)
}

// Keys returns the cached ids from least to most recently used.
func (ic *IdempotencyChecker) Keys() []string {
	return ic.lru.Keys()
}

func (ic *IdempotencyChecker) Size() int {
	return ic.lru.Size()
}

// GetMetrics returns metrics for monitoring
func (ic *IdempotencyChecker) GetMetrics() *IdempotencyMetrics {
	return ic.metrics
}

// --- LRU Implementation ---

// IdempotencyLRU is an LRU cache for idempotency keys.
// Not thread-safe: only the single-threaded core touches it.
type IdempotencyLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

type lruEntry struct {
	key string
}

func NewIdempotencyLRU(capacity int) *IdempotencyLRU {
	return &IdempotencyLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front)
func (lru *IdempotencyLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes if exists)
func (lru *IdempotencyLRU) Add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	elem := lru.lruList.PushFront(&lruEntry{key: key})
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *IdempotencyLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		entry := elem.Value.(*lruEntry)
		delete(lru.cache, entry.key)
		lru.evictions++
	}
}

// WarmFromKeys loads a batch of keys into the LRU. On restart the most recent
// ids come from Postgres so replays do not hit the cold path.
func (lru *IdempotencyLRU) WarmFromKeys(keys []string) {
	for _, key := range keys {
		lru.Add(key)
	}
}

// Keys lists entries from least to most recently used, so WarmFromKeys on the
// result rebuilds the same order.
func (lru *IdempotencyLRU) Keys() []string {
	keys := make([]string, 0, lru.lruList.Len())
	for e := lru.lruList.Back(); e != nil; e = e.Prev() {
		keys = append(keys, e.Value.(*lruEntry).key)
	}
	return keys
}

// Size returns current number of entries
func (lru *IdempotencyLRU) Size() int {
	return lru.lruList.Len()
}

// Evictions returns total evictions (for metrics)
func (lru *IdempotencyLRU) Evictions() int64 {
	return lru.evictions
}

// --- Metrics ---

// IdempotencyMetrics tracks dedup stats.
// Not thread-safe: only the single-threaded core touches it.
type IdempotencyMetrics struct {
	duplicatesLRU      map[string]int64 // tx_type -> count
	duplicatesPostgres map[string]int64
	tier2Errors        int64
}

func NewIdempotencyMetrics() *IdempotencyMetrics {
	return &IdempotencyMetrics{
		duplicatesLRU:      make(map[string]int64),
		duplicatesPostgres: make(map[string]int64),
	}
}

func (m *IdempotencyMetrics) RecordDuplicate(txType string, tier string) {
	if tier == "lru" {
		m.duplicatesLRU[txType]++
	} else {
		m.duplicatesPostgres[txType]++
	}
}

func (m *IdempotencyMetrics) RecordTier2Error() {
	m.tier2Errors++
}

func (m *IdempotencyMetrics) GetDuplicates(txType string) (lru int64, postgres int64) {
	return m.duplicatesLRU[txType], m.duplicatesPostgres[txType]
}

func (m *IdempotencyMetrics) GetTier2Errors() int64 {
	return m.tier2Errors
}
