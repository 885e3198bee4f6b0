package pool

import (
	"sync"
	"sync/atomic"

	"github.com/hashpool/hashpool/internal/stats"
	"github.com/hashpool/hashpool/internal/sv2"
	"github.com/hashpool/hashpool/pkg/log"
)

// Downstream is one connected translator. It owns a buffered frame
// sender; share acks and extension messages go through the same sender
// so per-sequence ordering holds. Sends to a closed or saturated
// downstream are dropped.
type Downstream struct {
	ID         uint32
	ChannelID  uint32
	RemoteAddr string
	Stats      *DownstreamStats

	framer *sv2.Framer
	sendCh chan *sv2.Frame
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once
	logger *log.Logger
}

func newDownstream(id, channelID uint32, framer *sv2.Framer, buffer int, logger *log.Logger) *Downstream {
	d := &Downstream{
		ID:         id,
		ChannelID:  channelID,
		RemoteAddr: framer.RemoteAddr(),
		Stats:      &DownstreamStats{},
		framer:     framer,
		sendCh:     make(chan *sv2.Frame, buffer),
		done:       make(chan struct{}),
		logger:     logger.WithDownstream(id, framer.RemoteAddr()),
	}
	go d.writeLoop()
	return d
}

func (d *Downstream) writeLoop() {
	for {
		select {
		case <-d.done:
			return
		case frame := <-d.sendCh:
			if err := d.framer.Write(frame); err != nil {
				d.logger.WithError(err).Warn("downstream write failed")
				d.Close()
				return
			}
		}
	}
}

// Send queues a frame without blocking. Returns false if the
// downstream is gone or its sender is saturated; the frame is dropped.
func (d *Downstream) Send(frame *sv2.Frame) bool {
	if d.closed.Load() {
		return false
	}
	select {
	case d.sendCh <- frame:
		return true
	default:
		d.logger.Warn("downstream sender saturated, dropping frame",
			"msg_type", frame.MsgType,
		)
		return false
	}
}

// Close tears the downstream down; idempotent
func (d *Downstream) Close() {
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.framer.Close()
	})
}

// Closed reports whether the downstream is gone
func (d *Downstream) Closed() bool {
	return d.closed.Load()
}

// DownstreamRegistry maps channel ids to downstreams. Channel ids are
// allocated here at channel-open time.
type DownstreamRegistry struct {
	mu          sync.Mutex
	byChannel   map[uint32]*Downstream
	nextID      uint32
	nextChannel uint32
	sendBuffer  int
	logger      *log.Logger
}

// NewDownstreamRegistry creates an empty registry
func NewDownstreamRegistry(sendBuffer int, logger *log.Logger) *DownstreamRegistry {
	return &DownstreamRegistry{
		byChannel:  make(map[uint32]*Downstream),
		sendBuffer: sendBuffer,
		logger:     logger,
	}
}

// Register allocates a channel id and creates the downstream entry
func (r *DownstreamRegistry) Register(framer *sv2.Framer) *Downstream {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	r.nextChannel++
	d := newDownstream(r.nextID, r.nextChannel, framer, r.sendBuffer, r.logger)
	r.byChannel[d.ChannelID] = d
	return d
}

// Get resolves a downstream by channel id
func (r *DownstreamRegistry) Get(channelID uint32) (*Downstream, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.byChannel[channelID]
	return d, ok
}

// Unregister removes and closes a downstream
func (r *DownstreamRegistry) Unregister(channelID uint32) {
	r.mu.Lock()
	d, ok := r.byChannel[channelID]
	if ok {
		delete(r.byChannel, channelID)
	}
	r.mu.Unlock()

	if ok {
		d.Close()
	}
}

// Snapshot captures every downstream's stats for the telemetry pipe
func (r *DownstreamRegistry) Snapshot() []stats.DownstreamSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]stats.DownstreamSnapshot, 0, len(r.byChannel))
	for _, d := range r.byChannel {
		out = append(out, stats.DownstreamSnapshot{
			DownstreamID:    d.ID,
			RemoteAddr:      d.RemoteAddr,
			ChannelID:       d.ChannelID,
			SharesSubmitted: d.Stats.SharesSubmitted(),
			QuotesCreated:   d.Stats.QuotesCreated(),
			EhashMined:      d.Stats.EhashMined(),
			LastShareAt:     d.Stats.LastShareAt(),
		})
	}
	return out
}
