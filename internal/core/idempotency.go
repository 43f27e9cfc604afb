package core

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// TradeDedup implements two-tier replay detection for trade IDs:
// an in-memory LRU on the hot path and the applied_trades table on miss.
//
// Unlike the challenge records themselves, the dedup cache is shared across
// all challenges (exclusive sections for different challenges run in
// parallel), so the LRU takes its own lock.
type TradeDedup struct {
	mu        sync.Mutex
	lru       *dedupLRU
	dbChecker DBTradeChecker
}

// DBTradeChecker is the Postgres-backed lookup for trades already applied.
type DBTradeChecker interface {
	IsTradeApplied(ctx context.Context, challengeID, tradeID uuid.UUID) (bool, error)
}

func NewTradeDedup(capacity int, dbChecker DBTradeChecker) *TradeDedup {
	return &TradeDedup{
		lru:       newDedupLRU(capacity),
		dbChecker: dbChecker,
	}
}

func dedupKey(challengeID, tradeID uuid.UUID) string {
	return fmt.Sprintf("%s:%s", challengeID, tradeID)
}

// IsDuplicate checks whether the trade was already applied to the challenge.
// Callers hold the challenge's exclusive section, so for a given challenge the
// answer cannot be raced by a concurrent apply of the same trade.
func (td *TradeDedup) IsDuplicate(ctx context.Context, challengeID, tradeID uuid.UUID) bool {
	key := dedupKey(challengeID, tradeID)

	td.mu.Lock()
	hit := td.lru.Contains(key)
	td.mu.Unlock()
	if hit {
		return true
	}

	if td.dbChecker != nil {
		applied, err := td.dbChecker.IsTradeApplied(ctx, challengeID, tradeID)
		if err != nil {
			// Conservative: assume not duplicate so a DB blip never blocks
			// processing. The commit's applied_trades insert still rejects a
			// true replay.
			return false
		}
		if applied {
			td.mu.Lock()
			td.lru.Add(key)
			td.mu.Unlock()
			return true
		}
	}

	return false
}

// MarkApplied records the trade after its mutation committed.
func (td *TradeDedup) MarkApplied(challengeID, tradeID uuid.UUID) {
	td.mu.Lock()
	td.lru.Add(dedupKey(challengeID, tradeID))
	td.mu.Unlock()
}

// --- LRU Implementation ---

type dedupLRU struct {
	capacity int
	cache    map[string]*list.Element
	lruList  *list.List

	evictions int64
}

type lruEntry struct {
	key string
}

func newDedupLRU(capacity int) *dedupLRU {
	return &dedupLRU{
		capacity: capacity,
		cache:    make(map[string]*list.Element, capacity),
		lruList:  list.New(),
	}
}

// Contains checks if key exists (promotes to front).
func (lru *dedupLRU) Contains(key string) bool {
	elem, exists := lru.cache[key]
	if exists {
		lru.lruList.MoveToFront(elem)
		return true
	}
	return false
}

// Add inserts a key (or promotes if exists).
func (lru *dedupLRU) Add(key string) {
	if elem, exists := lru.cache[key]; exists {
		lru.lruList.MoveToFront(elem)
		return
	}

	entry := &lruEntry{key: key}
	elem := lru.lruList.PushFront(entry)
	lru.cache[key] = elem

	if lru.lruList.Len() > lru.capacity {
		lru.evictOldest()
	}
}

func (lru *dedupLRU) evictOldest() {
	elem := lru.lruList.Back()
	if elem != nil {
		lru.lruList.Remove(elem)
		entry := elem.Value.(*lruEntry)
		delete(lru.cache, entry.key)
		lru.evictions++
	}
}

// Size returns current number of entries.
func (lru *dedupLRU) Size() int {
	return lru.lruList.Len()
}
