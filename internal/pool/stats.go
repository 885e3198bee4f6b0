package pool

import (
	"sync/atomic"
	"time"
)

// DownstreamStats are per-downstream lock-free counters. Mining paths
// only ever touch atomics here; registration and snapshotting take the
// registry lock.
type DownstreamStats struct {
	sharesSubmitted atomic.Uint64
	quotesCreated   atomic.Uint64
	ehashMined      atomic.Uint64
	lastShareAt     atomic.Int64
}

// RecordShare counts one validated share
func (s *DownstreamStats) RecordShare(now time.Time) {
	s.sharesSubmitted.Add(1)
	s.lastShareAt.Store(now.UnixNano())
}

// RecordQuote counts one delivered quote and its ehash amount
func (s *DownstreamStats) RecordQuote(amount uint64) {
	s.quotesCreated.Add(1)
	s.ehashMined.Add(amount)
}

// SharesSubmitted returns the share counter
func (s *DownstreamStats) SharesSubmitted() uint64 {
	return s.sharesSubmitted.Load()
}

// QuotesCreated returns the quote counter
func (s *DownstreamStats) QuotesCreated() uint64 {
	return s.quotesCreated.Load()
}

// EhashMined returns the accumulated ehash amount
func (s *DownstreamStats) EhashMined() uint64 {
	return s.ehashMined.Load()
}

// LastShareAt returns the time of the most recent share, zero if none
func (s *DownstreamStats) LastShareAt() time.Time {
	nanos := s.lastShareAt.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}
