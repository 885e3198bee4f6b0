package translator

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/hashpool/hashpool/internal/ehash"
	"github.com/hashpool/hashpool/internal/stats"
	"github.com/hashpool/hashpool/internal/sv2"
	"github.com/hashpool/hashpool/internal/wallet"
	"github.com/hashpool/hashpool/pkg/errors"
	"github.com/hashpool/hashpool/pkg/log"
	"github.com/hashpool/hashpool/pkg/retry"
)

// Config holds the translator bridge configuration
type Config struct {
	UpstreamAddr    string
	UserIdentity    string
	QuoteRecordCap  int
	QuoteRecordTrim int
	RedemptionQueue int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	Retry           *retry.Config
}

type redemption struct {
	shareHash ehash.ShareHash
	quoteID   string
	amount    uint64
}

// Bridge is the translator's upstream client plus the quote-redemption
// machinery. Shares enter through SubmitShare; quote notifications
// come back as extension messages on the same connection and flow into
// the wallet via a bounded redemption queue.
type Bridge struct {
	cfg     Config
	wallet  *wallet.Wallet
	tracker *QuoteTracker
	logger  *log.Logger

	lockingPubKey [33]byte

	mu        sync.Mutex
	framer    *sv2.Framer
	connected bool
	channelID uint32

	sequence atomic.Uint32
	redeemCh chan redemption

	sharesSubmitted atomic.Uint64
	quotesReceived  atomic.Uint64
	quoteFailures   atomic.Uint64
	ehashMined      atomic.Uint64
}

// New creates the bridge. lockingKey is the proxy's persistent NUT-20
// keypair; only its compressed public key is sent upstream.
func New(cfg Config, lockingKey *btcec.PrivateKey, w *wallet.Wallet, logger *log.Logger) *Bridge {
	if cfg.RedemptionQueue <= 0 {
		cfg.RedemptionQueue = 100
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.HubConfig()
	}

	b := &Bridge{
		cfg:      cfg,
		wallet:   w,
		tracker:  NewQuoteTracker(cfg.QuoteRecordCap, cfg.QuoteRecordTrim),
		logger:   logger.WithComponent("translator_bridge"),
		redeemCh: make(chan redemption, cfg.RedemptionQueue),
	}
	copy(b.lockingPubKey[:], lockingKey.PubKey().SerializeCompressed())
	return b
}

// Tracker exposes the quote-record table
func (b *Bridge) Tracker() *QuoteTracker {
	return b.tracker
}

// Connected reports whether the upstream channel is open
func (b *Bridge) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

// ChannelID returns the upstream-assigned channel id, 0 if none
func (b *Bridge) ChannelID() uint32 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.channelID
}

// Run owns the upstream connection until ctx is cancelled: dial with
// backoff, open an extended channel, then dispatch frames. A broken
// link reconnects indefinitely.
func (b *Bridge) Run(ctx context.Context) {
	attempt := 0
	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := net.Dial("tcp", b.cfg.UpstreamAddr)
		if err != nil {
			delay := b.cfg.Retry.Delay(attempt)
			attempt++
			b.logger.WithError(err).Warn("upstream dial failed",
				"upstream_addr", b.cfg.UpstreamAddr,
				"retry_in", delay.String(),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			continue
		}

		attempt = 0
		b.logger.LogConnection("upstream_connected", b.cfg.UpstreamAddr)
		b.serve(ctx, conn)
		b.logger.LogConnection("upstream_disconnected", b.cfg.UpstreamAddr)
	}
}

// serve opens the channel and runs the read loop on one connection
func (b *Bridge) serve(ctx context.Context, conn net.Conn) {
	framer := sv2.NewFramer(conn, b.cfg.ReadTimeout, b.cfg.WriteTimeout)

	b.mu.Lock()
	b.framer = framer
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.connected = false
		b.framer = nil
		b.mu.Unlock()
		framer.Close()
	}()

	open := &sv2.OpenExtendedMiningChannel{
		RequestID:    1,
		UserIdentity: b.cfg.UserIdentity,
	}
	frame, err := open.Frame()
	if err != nil {
		b.logger.WithError(err).Error("failed to encode channel open")
		return
	}
	if err := framer.Write(frame); err != nil {
		b.logger.WithError(err).Warn("failed to open channel")
		return
	}

	for {
		if ctx.Err() != nil {
			return
		}
		frame, err := framer.Read()
		if err != nil {
			return
		}
		b.dispatch(frame)
	}
}

// dispatch routes one upstream frame. Extension types and malformed
// payloads never tear down the loop.
func (b *Bridge) dispatch(frame *sv2.Frame) {
	if frame.MsgType >= sv2.ExtensionRangeStart {
		b.handleExtension(frame)
		return
	}

	switch frame.MsgType {
	case sv2.MsgTypeOpenExtendedMiningChannelSuccess:
		success, err := sv2.UnmarshalOpenExtendedMiningChannelSuccess(frame.Payload)
		if err != nil {
			b.logger.WithError(err).Warn("malformed channel success")
			return
		}
		b.mu.Lock()
		b.channelID = success.ChannelID
		b.connected = true
		b.mu.Unlock()
		b.logger.Info("upstream channel open", "channel_id", success.ChannelID)

	case sv2.MsgTypeSubmitSharesSuccess:
		ack, err := sv2.UnmarshalSubmitSharesSuccess(frame.Payload)
		if err != nil {
			b.logger.WithError(err).Warn("malformed share ack")
			return
		}
		b.logger.Debug("share accepted upstream",
			"last_sequence_number", ack.LastSequenceNumber,
			"shares_sum", ack.NewSharesSum,
		)

	case sv2.MsgTypeSubmitSharesError:
		reject, err := sv2.UnmarshalSubmitSharesError(frame.Payload)
		if err != nil {
			b.logger.WithError(err).Warn("malformed share error")
			return
		}
		b.logger.Warn("share rejected upstream",
			"sequence_number", reject.SequenceNumber,
			"error_code", reject.ErrorCode,
		)

	default:
		b.logger.Warn("dropping unexpected upstream frame", "msg_type", frame.MsgType)
	}
}

// handleExtension processes the 0xC0-0xFF range
func (b *Bridge) handleExtension(frame *sv2.Frame) {
	switch frame.MsgType {
	case sv2.MsgTypeMintQuoteNotification:
		note, err := sv2.UnmarshalMintQuoteNotification(frame.Payload)
		if err != nil {
			b.logger.WithError(err).Warn("malformed quote notification")
			return
		}
		b.quotesReceived.Add(1)

		hash := ehash.ShareHash(note.ShareHash)
		b.tracker.Insert(hash, QuoteRecord{
			QuoteID:    note.QuoteID,
			Amount:     note.Amount,
			ReceivedAt: time.Now(),
		})
		b.logger.WithShareHash(hash.String()).WithQuote(note.QuoteID, note.Amount).
			Info("quote notification received")

		select {
		case b.redeemCh <- redemption{shareHash: hash, quoteID: note.QuoteID, amount: note.Amount}:
		default:
			// Queue saturated: the record stays tracked, redemption is
			// skipped until an operator or restart picks it up.
			b.logger.WithQuote(note.QuoteID, note.Amount).Warn("redemption queue full")
		}

	case sv2.MsgTypeMintQuoteFailure:
		failure, err := sv2.UnmarshalMintQuoteFailure(frame.Payload)
		if err != nil {
			b.logger.WithError(err).Warn("malformed quote failure")
			return
		}
		b.quoteFailures.Add(1)
		hash := ehash.ShareHash(failure.ShareHash)
		b.logger.WithShareHash(hash.String()).Warn("quote failed upstream",
			"sequence_number", failure.SequenceNumber,
			"reason", failure.ErrorMessage,
		)

	default:
		b.logger.Warn("dropping unknown extension frame", "msg_type", frame.MsgType)
	}
}

// SubmitShare sends one extended share upstream. It refuses until the
// channel is open and the wallet knows a keyset, since a quote without
// a known keyset could not be redeemed.
func (b *Bridge) SubmitShare(headerHash [32]byte) error {
	if b.wallet.KeysetID() == "" {
		b.logger.Warn("refusing share, no keyset known")
		return errors.New(errors.ErrorTypeValidation, "submit_share", "no keyset known")
	}

	b.mu.Lock()
	framer := b.framer
	connected := b.connected
	channelID := b.channelID
	b.mu.Unlock()

	if !connected || framer == nil {
		return errors.New(errors.ErrorTypeNetwork, "submit_share", "upstream not connected")
	}

	submit := &sv2.SubmitSharesExtended{
		ChannelID:      channelID,
		SequenceNumber: b.sequence.Add(1),
		Hash:           headerHash,
		LockingPubKey:  b.lockingPubKey,
	}
	frame, err := submit.Frame()
	if err != nil {
		return err
	}
	if err := framer.Write(frame); err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "submit_share", "upstream write failed")
	}

	b.sharesSubmitted.Add(1)
	return nil
}

// RunRedemptions consumes the redemption queue until ctx ends. A
// successful mint consumes the quote record; a failure logs and keeps
// it for inspection.
func (b *Bridge) RunRedemptions(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-b.redeemCh:
			if err := b.wallet.RedeemQuote(ctx, r.quoteID, r.amount); err != nil {
				b.logger.WithError(err).WithQuote(r.quoteID, r.amount).
					Warn("quote redemption failed")
				continue
			}
			b.tracker.Remove(r.shareHash)
			b.ehashMined.Add(r.amount)
		}
	}
}

// GetSnapshot implements stats.Provider
func (b *Bridge) GetSnapshot() any {
	balance, err := b.wallet.Balance(context.Background())
	if err != nil {
		b.logger.WithError(err).Warn("failed to read wallet balance")
	}

	b.mu.Lock()
	connected := b.connected
	channelID := b.channelID
	b.mu.Unlock()

	return stats.ProxySnapshot{
		Service: "translator",
		Upstream: stats.UpstreamSnapshot{
			Address:   b.cfg.UpstreamAddr,
			Connected: connected,
			ChannelID: channelID,
		},
		WalletBalance:   balance,
		QuotesTracked:   b.tracker.Len(),
		SharesSubmitted: b.sharesSubmitted.Load(),
		QuotesReceived:  b.quotesReceived.Load(),
		QuoteFailures:   b.quoteFailures.Load(),
		EhashMined:      b.ehashMined.Load(),
		Timestamp:       time.Now(),
	}
}
