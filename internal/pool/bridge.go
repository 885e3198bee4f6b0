package pool

import (
	"context"
	"net"
	"time"

	"github.com/hashpool/hashpool/internal/ehash"
	"github.com/hashpool/hashpool/internal/hub"
	"github.com/hashpool/hashpool/internal/stats"
	"github.com/hashpool/hashpool/internal/sv2"
	"github.com/hashpool/hashpool/pkg/log"
)

// Share rejection codes sent in SubmitSharesError
const (
	errCodeInvalidChannel   = "invalid-channel-id"
	errCodeDifficultyTooLow = "difficulty-too-low"
)

// failureCodeMintTimeout is the MintQuoteFailure message for shares
// whose quote never arrived.
const failureCodeMintTimeout = "mint-timeout"

// Config holds the pool bridge configuration
type Config struct {
	ListenAddr        string
	MinimumDifficulty uint32
	NetworkDifficulty uint32
	ShareTimeout      time.Duration
	SweepInterval     time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	SendBuffer        int
	ExtranonceSize    uint16
}

// Bridge is the pool's ehash bridge. It accepts translator
// connections, acknowledges valid shares immediately, and runs the
// asynchronous quote flow: pending registry in, hub out, extension
// message back. Errors in the quote flow never propagate into the
// mining exchange.
type Bridge struct {
	cfg         Config
	hub         *hub.Hub
	validator   *Validator
	pending     *PendingRegistry
	downstreams *DownstreamRegistry
	logger      *log.Logger
}

// New creates the bridge around a running hub
func New(cfg Config, h *hub.Hub, logger *log.Logger) *Bridge {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 64
	}
	if cfg.ExtranonceSize == 0 {
		cfg.ExtranonceSize = 8
	}
	componentLogger := logger.WithComponent("pool_bridge")
	return &Bridge{
		cfg:         cfg,
		hub:         h,
		validator:   NewValidator(cfg.MinimumDifficulty, cfg.NetworkDifficulty),
		pending:     NewPendingRegistry(),
		downstreams: NewDownstreamRegistry(cfg.SendBuffer, componentLogger),
		logger:      componentLogger,
	}
}

// Serve accepts translator connections until ctx is cancelled. The
// response router and staleness sweeper must be started separately
// with RouteResponses and SweepStale.
func (b *Bridge) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		b.logger.LogConnection("downstream_connected", conn.RemoteAddr().String())
		go b.handleConn(conn)
	}
}

// handleConn runs one downstream's read loop. Share validation and the
// immediate ack happen here, synchronously; mint I/O never does.
func (b *Bridge) handleConn(conn net.Conn) {
	framer := sv2.NewFramer(conn, b.cfg.ReadTimeout, b.cfg.WriteTimeout)

	var downstream *Downstream
	defer func() {
		if downstream != nil {
			b.downstreams.Unregister(downstream.ChannelID)
			b.logger.LogConnection("downstream_disconnected", downstream.RemoteAddr)
		} else {
			framer.Close()
		}
	}()

	for {
		frame, err := framer.Read()
		if err != nil {
			return
		}

		switch frame.MsgType {
		case sv2.MsgTypeOpenExtendedMiningChannel:
			open, err := sv2.UnmarshalOpenExtendedMiningChannel(frame.Payload)
			if err != nil {
				b.logger.WithError(err).Warn("dropping malformed channel open")
				continue
			}
			if downstream != nil {
				b.logger.Warn("duplicate channel open on connection",
					"channel_id", downstream.ChannelID,
				)
				continue
			}
			downstream = b.openChannel(framer, open)

		case sv2.MsgTypeSubmitSharesExtended:
			submit, err := sv2.UnmarshalSubmitSharesExtended(frame.Payload)
			if err != nil {
				b.logger.WithError(err).Warn("dropping malformed share submission")
				continue
			}
			b.handleSubmit(downstream, submit)

		default:
			b.logger.Warn("dropping unexpected downstream frame",
				"msg_type", frame.MsgType,
			)
		}
	}
}

// openChannel registers the downstream and confirms the channel
func (b *Bridge) openChannel(framer *sv2.Framer, open *sv2.OpenExtendedMiningChannel) *Downstream {
	d := b.downstreams.Register(framer)

	success := &sv2.OpenExtendedMiningChannelSuccess{
		RequestID:      open.RequestID,
		ChannelID:      d.ChannelID,
		Target:         b.validator.Target(),
		ExtranonceSize: b.cfg.ExtranonceSize,
		ExtranoncePrefix: []byte{
			byte(d.ChannelID), byte(d.ChannelID >> 8),
			byte(d.ChannelID >> 16), byte(d.ChannelID >> 24),
		},
	}
	frame, err := success.Frame()
	if err != nil {
		b.logger.WithError(err).Error("failed to encode channel success")
		return d
	}
	d.Send(frame)

	b.logger.Info("channel opened",
		"channel_id", d.ChannelID,
		"user_identity", open.UserIdentity,
		"remote_addr", d.RemoteAddr,
	)
	return d
}

// handleSubmit runs the share state machine: validate, ack
// immediately, record the pending share, then hand the quote request
// to the hub off the hot path.
func (b *Bridge) handleSubmit(d *Downstream, submit *sv2.SubmitSharesExtended) {
	if d == nil || submit.ChannelID != d.ChannelID {
		b.rejectShare(d, submit, errCodeInvalidChannel)
		return
	}

	hash, err := ehash.ComputeShareHash(submit.Hash[:])
	if err != nil {
		b.rejectShare(d, submit, errCodeInvalidChannel)
		return
	}

	result := b.validator.Validate(hash)
	if result == ShareRejected {
		b.rejectShare(d, submit, errCodeDifficultyTooLow)
		return
	}

	amount := ehash.CalculateEhashAmount(hash, b.cfg.MinimumDifficulty)

	// The ack goes out before any mint traffic; miner liveness beats
	// ecash coverage.
	ack := &sv2.SubmitSharesSuccess{
		ChannelID:               d.ChannelID,
		LastSequenceNumber:      submit.SequenceNumber,
		NewSubmitsAcceptedCount: 1,
		NewSharesSum:            amount,
	}
	if frame, err := ack.Frame(); err == nil {
		d.Send(frame)
	}

	now := time.Now()
	d.Stats.RecordShare(now)
	b.logger.LogShareAccepted(d.ChannelID, submit.SequenceNumber, hash.String(), amount)

	if result == ShareMeetsBitcoinTarget {
		b.logger.WithShareHash(hash.String()).Info("share meets bitcoin target",
			"channel_id", d.ChannelID,
		)
	}

	share := &PendingShare{
		ChannelID:      d.ChannelID,
		SequenceNumber: submit.SequenceNumber,
		ShareHash:      hash,
		LockingPubKey:  submit.LockingPubKey,
		Amount:         amount,
		CreatedAt:      now,
	}
	if !b.pending.Insert(share) {
		// Same hash already in flight; the miner keeps its ack but no
		// second quote is started.
		b.logger.WithShareHash(hash.String()).Info("duplicate in-flight share hash")
		return
	}

	go b.requestQuote(share)
}

func (b *Bridge) rejectShare(d *Downstream, submit *sv2.SubmitSharesExtended, code string) {
	if d == nil {
		return
	}
	reject := &sv2.SubmitSharesError{
		ChannelID:      submit.ChannelID,
		SequenceNumber: submit.SequenceNumber,
		ErrorCode:      code,
	}
	if frame, err := reject.Frame(); err == nil {
		d.Send(frame)
	}
}

// requestQuote builds and submits the quote request. On any failure
// the pending entry is removed and nothing is sent; the share is
// already acked and its accounting stands.
func (b *Bridge) requestQuote(share *PendingShare) {
	req, err := ehash.BuildQuoteRequest(share.Amount, share.ShareHash[:], share.LockingPubKey[:], nil)
	if err != nil {
		b.logger.WithError(err).WithShareHash(share.ShareHash.String()).
			Warn("could not build quote request")
		b.pending.Remove(share.ShareHash)
		return
	}

	qc := hub.QuoteContext{ChannelID: share.ChannelID, SequenceNumber: share.SequenceNumber}
	if err := b.hub.SubmitQuoteRequest(req, qc); err != nil {
		b.logger.WithError(err).WithShareHash(share.ShareHash.String()).
			Warn("quote request dropped")
		b.pending.Remove(share.ShareHash)
	}
}

// RouteResponses consumes the hub's response stream and delivers
// extension messages to the originating downstreams until ctx ends.
func (b *Bridge) RouteResponses(ctx context.Context) {
	results := b.hub.SubscribeResponses()
	for {
		select {
		case <-ctx.Done():
			return
		case result := <-results:
			b.deliver(&result)
		}
	}
}

// deliver resolves one quote result against the pending registry
func (b *Bridge) deliver(result *hub.QuoteResult) {
	share, ok := b.pending.Remove(result.ShareHash)
	if !ok {
		// Late or duplicate; the first delivery already consumed the entry
		b.logger.WithShareHash(result.ShareHash.String()).Info("dropping unmatched quote result")
		return
	}

	d, ok := b.downstreams.Get(share.ChannelID)
	if !ok || d.Closed() {
		b.logger.WithShareHash(share.ShareHash.String()).Info("downstream gone, dropping quote result",
			"channel_id", share.ChannelID,
		)
		return
	}

	if result.Failed() {
		failure := &sv2.MintQuoteFailure{
			ChannelID:      share.ChannelID,
			SequenceNumber: share.SequenceNumber,
			ShareHash:      share.ShareHash.Bytes(),
			ErrorMessage:   result.ErrMessage,
		}
		if frame, err := failure.Frame(); err == nil {
			d.Send(frame)
		}
		return
	}

	notification := &sv2.MintQuoteNotification{
		ChannelID:      share.ChannelID,
		SequenceNumber: share.SequenceNumber,
		ShareHash:      share.ShareHash.Bytes(),
		QuoteID:        result.Response.QuoteID,
		Amount:         result.Response.Amount,
	}
	frame, err := notification.Frame()
	if err != nil {
		b.logger.WithError(err).Error("failed to encode quote notification")
		return
	}
	if d.Send(frame) {
		d.Stats.RecordQuote(result.Response.Amount)
		b.logger.LogQuoteIssued(share.ShareHash.String(), result.Response.QuoteID, result.Response.Amount)
	}
}

// SweepStale evicts pending shares past the share timeout and notifies
// their downstreams with a mint-timeout failure. Runs single-threaded.
func (b *Bridge) SweepStale(ctx context.Context) {
	ticker := time.NewTicker(b.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, share := range b.pending.Sweep(now, b.cfg.ShareTimeout) {
				b.logger.WithShareHash(share.ShareHash.String()).Warn("pending share expired",
					"channel_id", share.ChannelID,
					"age", now.Sub(share.CreatedAt).String(),
				)

				// The correlation entry goes with the pending share,
				// keeping the hub table bounded when the mint never
				// answers.
				b.hub.DropInflight(share.ShareHash)

				d, ok := b.downstreams.Get(share.ChannelID)
				if !ok || d.Closed() {
					continue
				}
				failure := &sv2.MintQuoteFailure{
					ChannelID:      share.ChannelID,
					SequenceNumber: share.SequenceNumber,
					ShareHash:      share.ShareHash.Bytes(),
					ErrorMessage:   failureCodeMintTimeout,
				}
				if frame, err := failure.Frame(); err == nil {
					d.Send(frame)
				}
			}
		}
	}
}

// GetSnapshot implements stats.Provider
func (b *Bridge) GetSnapshot() any {
	hubStats := b.hub.Stats()
	return stats.PoolSnapshot{
		Service:       "pool",
		ListenAddress: b.cfg.ListenAddr,
		Downstreams:   b.downstreams.Snapshot(),
		PendingShares: b.pending.Len(),
		Hub: stats.HubSnapshot{
			State:             b.hub.ConnectionState().String(),
			RequestsSent:      hubStats.RequestsSent,
			ResponsesReceived: hubStats.ResponsesReceived,
			ErrorsReceived:    hubStats.ErrorsReceived,
			Reconnects:        hubStats.Reconnects,
		},
		Timestamp: time.Now(),
	}
}
