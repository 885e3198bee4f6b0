// Package stats implements the snapshot telemetry pipe: a provider
// contract the mining roles implement, a generic poller that pushes
// JSON snapshots over TCP, and a receiver that serves the last
// snapshot over HTTP. The pipe is fire-and-forget end to end; it never
// blocks or fails mining logic.
package stats

import "time"

// Provider is implemented by the pool and translator bridges. The
// returned value must be JSON-serializable and carry its own
// timestamp.
type Provider interface {
	GetSnapshot() any
}

// DownstreamSnapshot is one connected proxy as seen by the pool
type DownstreamSnapshot struct {
	DownstreamID    uint32    `json:"downstream_id"`
	RemoteAddr      string    `json:"remote_addr"`
	ChannelID       uint32    `json:"channel_id"`
	SharesSubmitted uint64    `json:"shares_submitted"`
	QuotesCreated   uint64    `json:"quotes_created"`
	EhashMined      uint64    `json:"ehash_mined"`
	LastShareAt     time.Time `json:"last_share_at"`
}

// HubSnapshot is the mint link's state and lifetime counters
type HubSnapshot struct {
	State             string `json:"state"`
	RequestsSent      uint64 `json:"requests_sent"`
	ResponsesReceived uint64 `json:"responses_received"`
	ErrorsReceived    uint64 `json:"errors_received"`
	Reconnects        uint64 `json:"reconnects"`
}

// PoolSnapshot is the pool's complete observable state at one instant
type PoolSnapshot struct {
	Service       string               `json:"service"`
	ListenAddress string               `json:"listen_address"`
	Downstreams   []DownstreamSnapshot `json:"downstreams"`
	PendingShares int                  `json:"pending_shares"`
	Hub           HubSnapshot          `json:"hub"`
	Timestamp     time.Time            `json:"timestamp"`
}

// UpstreamSnapshot is the translator's view of its pool link
type UpstreamSnapshot struct {
	Address   string `json:"address"`
	Connected bool   `json:"connected"`
	ChannelID uint32 `json:"channel_id"`
}

// ProxySnapshot is the translator's complete observable state
type ProxySnapshot struct {
	Service         string           `json:"service"`
	Upstream        UpstreamSnapshot `json:"upstream"`
	WalletBalance   uint64           `json:"wallet_balance"`
	QuotesTracked   int              `json:"quotes_tracked"`
	SharesSubmitted uint64           `json:"shares_submitted"`
	QuotesReceived  uint64           `json:"quotes_received"`
	QuoteFailures   uint64           `json:"quote_failures"`
	EhashMined      uint64           `json:"ehash_mined"`
	Timestamp       time.Time        `json:"timestamp"`
}
