// Package pool implements the pool bridge: it accepts translator
// connections, validates extended shares, acknowledges them
// immediately, and drives the asynchronous quote flow through the
// mint-pool hub back to the originating downstream as extension
// messages.
package pool

import (
	"sync"
	"time"

	"github.com/hashpool/hashpool/internal/ehash"
)

// PendingShare is one accepted share awaiting its mint quote. Owned
// exclusively by the pending registry; at most one entry per share
// hash exists at a time.
type PendingShare struct {
	ChannelID      uint32
	SequenceNumber uint32
	ShareHash      ehash.ShareHash
	LockingPubKey  [33]byte
	Amount         uint64
	CreatedAt      time.Time
}

// PendingRegistry is the pool-side correlation table keyed by share
// hash. All operations are O(1) under one short-critical-section
// mutex; the sweep scans once per tick.
type PendingRegistry struct {
	mu     sync.Mutex
	shares map[[32]byte]*PendingShare
}

// NewPendingRegistry creates an empty registry
func NewPendingRegistry() *PendingRegistry {
	return &PendingRegistry{
		shares: make(map[[32]byte]*PendingShare),
	}
}

// Insert adds a pending share. Returns false if the hash is already
// in flight; the caller must not start a second quote attempt.
func (r *PendingRegistry) Insert(share *PendingShare) bool {
	key := share.ShareHash.Bytes()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.shares[key]; exists {
		return false
	}
	r.shares[key] = share
	return true
}

// Remove takes a pending share out by hash. The second call for the
// same hash returns false, which makes duplicate quote responses
// naturally idempotent.
func (r *PendingRegistry) Remove(hash ehash.ShareHash) (*PendingShare, bool) {
	key := hash.Bytes()

	r.mu.Lock()
	defer r.mu.Unlock()

	share, ok := r.shares[key]
	if ok {
		delete(r.shares, key)
	}
	return share, ok
}

// Sweep evicts and returns every entry older than the timeout
func (r *PendingRegistry) Sweep(now time.Time, timeout time.Duration) []*PendingShare {
	r.mu.Lock()
	defer r.mu.Unlock()

	var expired []*PendingShare
	for key, share := range r.shares {
		if now.Sub(share.CreatedAt) > timeout {
			expired = append(expired, share)
			delete(r.shares, key)
		}
	}
	return expired
}

// Len reports the number of in-flight shares
func (r *PendingRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.shares)
}
