// Package translator implements the translator bridge: the upstream
// SV2 client that submits extended shares carrying the proxy's locking
// key, parses quote extension messages off the same connection, and
// drives the wallet to redeem quotes into proofs.
package translator

import (
	"sync"
	"time"

	"github.com/hashpool/hashpool/internal/ehash"
)

// QuoteRecord ties one share hash to its issued quote until the wallet
// has minted proofs for it.
type QuoteRecord struct {
	QuoteID    string
	Amount     uint64
	ReceivedAt time.Time
}

// QuoteTracker is the translator-side correlation table, a bounded
// FIFO map keyed by share hash. Past the cap the oldest entries are
// trimmed; redemption consumes entries, failed redemptions retain them
// for inspection.
type QuoteTracker struct {
	mu      sync.Mutex
	records map[[32]byte]*QuoteRecord
	order   [][32]byte
	stale   int
	cap     int
	trimTo  int
}

// NewQuoteTracker creates a tracker with the given cap, trimming to
// trimTo when exceeded.
func NewQuoteTracker(capacity, trimTo int) *QuoteTracker {
	if capacity <= 0 {
		capacity = 10000
	}
	if trimTo <= 0 || trimTo >= capacity {
		trimTo = capacity / 2
	}
	return &QuoteTracker{
		records: make(map[[32]byte]*QuoteRecord),
		cap:     capacity,
		trimTo:  trimTo,
	}
}

// Insert stores a quote record; FIFO trim runs inline when the cap is
// exceeded. Re-inserting a hash refreshes its record but not its
// position.
func (t *QuoteTracker) Insert(hash ehash.ShareHash, record QuoteRecord) {
	key := hash.Bytes()

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.records[key]; !exists {
		t.order = append(t.order, key)
	}
	stored := record
	t.records[key] = &stored

	if len(t.records) > t.cap {
		t.trim()
	}
}

// trim evicts oldest-first down to trimTo; caller holds the lock
func (t *QuoteTracker) trim() {
	for len(t.records) > t.trimTo && len(t.order) > 0 {
		key := t.order[0]
		t.order = t.order[1:]
		if _, ok := t.records[key]; ok {
			delete(t.records, key)
		} else if t.stale > 0 {
			t.stale--
		}
	}
}

// compact rebuilds order with only live keys; caller holds the lock.
// A fresh slice is allocated so the old backing array is released.
func (t *QuoteTracker) compact() {
	live := make([][32]byte, 0, len(t.records))
	for _, key := range t.order {
		if _, ok := t.records[key]; ok {
			live = append(live, key)
		}
	}
	t.order = live
	t.stale = 0
}

// Get fetches a record by share hash
func (t *QuoteTracker) Get(hash ehash.ShareHash) (QuoteRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, ok := t.records[hash.Bytes()]
	if !ok {
		return QuoteRecord{}, false
	}
	return *record, true
}

// Remove consumes a record, typically after a successful redemption.
// The key stays in the order slice until enough removals accumulate to
// warrant a compaction, so steady insert/remove traffic cannot grow
// the slice without bound.
func (t *QuoteTracker) Remove(hash ehash.ShareHash) {
	t.mu.Lock()
	defer t.mu.Unlock()

	key := hash.Bytes()
	if _, ok := t.records[key]; !ok {
		return
	}
	delete(t.records, key)

	t.stale++
	if t.stale > t.cap {
		t.compact()
	}
}

// Len reports the number of tracked quotes
func (t *QuoteTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.records)
}
