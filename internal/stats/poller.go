package stats

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hashpool/hashpool/pkg/log"
)

// Poller periodically snapshots a provider and ships the result
// through the client. It owns no state of its own and exits with its
// context.
type Poller struct {
	provider Provider
	client   *Client
	interval time.Duration
	logger   *log.Logger
}

// NewPoller wires a provider to a push client
func NewPoller(provider Provider, client *Client, interval time.Duration, logger *log.Logger) *Poller {
	return &Poller{
		provider: provider,
		client:   client,
		interval: interval,
		logger:   logger.WithComponent("stats_poller"),
	}
}

// Run pushes one snapshot per interval until ctx is cancelled
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	defer p.client.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			snapshot := p.provider.GetSnapshot()
			data, err := json.Marshal(snapshot)
			if err != nil {
				p.logger.WithError(err).Error("failed to serialize snapshot")
				continue
			}
			p.client.Send(data)
		}
	}
}
