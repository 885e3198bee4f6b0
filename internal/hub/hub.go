// Package hub implements the mint-pool messaging hub: the process-wide
// coordinator that owns the pool's TCP link to the mint, serializes
// quote requests, correlates responses back to their requesters by
// share hash, and fans results out to subscribers.
package hub

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashpool/hashpool/internal/ehash"
	"github.com/hashpool/hashpool/internal/sv2"
	"github.com/hashpool/hashpool/pkg/errors"
	"github.com/hashpool/hashpool/pkg/log"
	"github.com/hashpool/hashpool/pkg/retry"
)

// ConnectionState describes the mint link
type ConnectionState int32

const (
	// StateReconnecting - the hub is dialing the mint
	StateReconnecting ConnectionState = iota
	// StateConnected - the mint link is up
	StateConnected
	// StateClosed - the hub has shut down
	StateClosed
)

// String returns string representation of the state
func (s ConnectionState) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// QuoteContext carries the downstream coordinates a quote result must
// be routed back to
type QuoteContext struct {
	ChannelID      uint32
	SequenceNumber uint32
}

// QuoteResult is either an issued quote or a mint error, always
// carrying the share hash and the submitting context
type QuoteResult struct {
	ShareHash ehash.ShareHash
	Context   QuoteContext

	// Response is set when the mint issued a quote
	Response *ehash.ParsedQuoteResponse
	// ErrCode/ErrMessage are set when the mint refused
	ErrCode    uint16
	ErrMessage string
}

// Failed reports whether the result is a mint error
func (r *QuoteResult) Failed() bool {
	return r.Response == nil
}

// Stats are the hub's lifetime counters
type Stats struct {
	RequestsSent      uint64
	ResponsesReceived uint64
	ErrorsReceived    uint64
	Reconnects        uint64
}

// Config holds hub configuration
type Config struct {
	MintAddr       string
	RequestBuffer  int
	ResponseBuffer int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	Retry          *retry.Config
}

type pendingRequest struct {
	req *ehash.ParsedQuoteRequest
}

// Hub is the mint-pool messaging hub. Create with New, run with Run,
// hand out via its cloneable handle (the *Hub itself).
type Hub struct {
	cfg    Config
	logger *log.Logger

	requests chan pendingRequest

	mu       sync.Mutex
	inflight map[[32]byte]QuoteContext
	subs     []chan QuoteResult

	state atomic.Int32

	requestsSent      atomic.Uint64
	responsesReceived atomic.Uint64
	errorsReceived    atomic.Uint64
	reconnects        atomic.Uint64
}

// New creates a hub. Run must be started for requests to flow.
func New(cfg Config, logger *log.Logger) *Hub {
	if cfg.RequestBuffer <= 0 {
		cfg.RequestBuffer = 100
	}
	if cfg.ResponseBuffer <= 0 {
		cfg.ResponseBuffer = 1000
	}
	if cfg.Retry == nil {
		cfg.Retry = retry.HubConfig()
	}
	return &Hub{
		cfg:      cfg,
		logger:   logger.WithComponent("mint_hub"),
		requests: make(chan pendingRequest, cfg.RequestBuffer),
		inflight: make(map[[32]byte]QuoteContext),
	}
}

// SubmitQuoteRequest queues a quote request for the mint. Fire and
// forget: the result arrives on the response stream. Returns a hub
// backpressure error synchronously when the request buffer is full;
// the caller drops the quote attempt (the share is already acked).
func (h *Hub) SubmitQuoteRequest(req *ehash.ParsedQuoteRequest, ctx QuoteContext) error {
	if ConnectionState(h.state.Load()) == StateClosed {
		return errors.New(errors.ErrorTypeHub, "submit_quote_request", "hub is closed")
	}

	key := req.ShareHash.Bytes()

	h.mu.Lock()
	h.inflight[key] = ctx
	h.mu.Unlock()

	select {
	case h.requests <- pendingRequest{req: req}:
		return nil
	default:
		h.mu.Lock()
		delete(h.inflight, key)
		h.mu.Unlock()
		return errors.New(errors.ErrorTypeHub, "submit_quote_request",
			"request buffer full").
			WithContext("buffer_size", h.cfg.RequestBuffer)
	}
}

// SubscribeResponses registers a response stream. Every live
// subscriber receives every result; a saturated subscriber loses its
// oldest buffered result first.
func (h *Hub) SubscribeResponses() <-chan QuoteResult {
	ch := make(chan QuoteResult, h.cfg.ResponseBuffer)
	h.mu.Lock()
	h.subs = append(h.subs, ch)
	h.mu.Unlock()
	return ch
}

// ConnectionState reports the mint link state
func (h *Hub) ConnectionState() ConnectionState {
	return ConnectionState(h.state.Load())
}

// Stats returns the hub's lifetime counters
func (h *Hub) Stats() Stats {
	return Stats{
		RequestsSent:      h.requestsSent.Load(),
		ResponsesReceived: h.responsesReceived.Load(),
		ErrorsReceived:    h.errorsReceived.Load(),
		Reconnects:        h.reconnects.Load(),
	}
}

// Run owns the mint connection until ctx is cancelled: dial with
// backoff, pump queued requests out, correlate incoming responses.
// Reconnection is indefinite; the backoff schedule resets on success.
func (h *Hub) Run(ctx context.Context) {
	defer h.state.Store(int32(StateClosed))

	attempt := 0
	established := false
	for {
		if ctx.Err() != nil {
			return
		}

		h.state.Store(int32(StateReconnecting))
		conn, err := net.Dial("tcp", h.cfg.MintAddr)
		if err != nil {
			delay := h.cfg.Retry.Delay(attempt)
			attempt++
			h.logger.WithError(err).Warn("mint dial failed",
				"mint_addr", h.cfg.MintAddr,
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
		if established {
			h.reconnects.Add(1)
		}
		established = true
		h.state.Store(int32(StateConnected))
		h.logger.LogConnection("connected", h.cfg.MintAddr)

		h.serve(ctx, conn)

		h.logger.LogConnection("disconnected", h.cfg.MintAddr)
	}
}

// serve pumps one live connection until it breaks or ctx ends
func (h *Hub) serve(ctx context.Context, conn net.Conn) {
	framer := sv2.NewFramer(conn, h.cfg.ReadTimeout, h.cfg.WriteTimeout)
	defer framer.Close()

	readErr := make(chan error, 1)
	go func() {
		readErr <- h.readLoop(framer)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-readErr:
			if err != nil {
				h.logger.WithError(err).Warn("mint link read failed")
			}
			return
		case pending := <-h.requests:
			if err := h.writeRequest(framer, pending.req); err != nil {
				h.logger.WithError(err).WithShareHash(pending.req.ShareHash.String()).
					Warn("mint link write failed, requeueing request")
				// Put the request back for the next connection; if the
				// buffer filled meanwhile the quote attempt is dropped.
				select {
				case h.requests <- pending:
				default:
					h.DropInflight(pending.req.ShareHash)
				}
				return
			}
			h.requestsSent.Add(1)
		}
	}
}

func (h *Hub) writeRequest(framer *sv2.Framer, req *ehash.ParsedQuoteRequest) error {
	msg := &sv2.MintQuoteRequest{
		Amount:    req.Amount,
		Unit:      req.Unit,
		ShareHash: req.ShareHash.Bytes(),
	}
	copy(msg.LockingPubKey[:], req.LockingPubKey[:])
	if req.KeysetID != nil {
		id := [8]byte(*req.KeysetID)
		msg.KeysetID = &id
	}

	frame, err := msg.Frame()
	if err != nil {
		return err
	}
	return framer.Write(frame)
}

// readLoop decodes mint frames and routes results until the link breaks
func (h *Hub) readLoop(framer *sv2.Framer) error {
	for {
		frame, err := framer.Read()
		if err != nil {
			return err
		}

		switch frame.MsgType {
		case sv2.MsgTypeMintQuoteResponse:
			resp, err := sv2.UnmarshalMintQuoteResponse(frame.Payload)
			if err != nil {
				h.logger.WithError(err).Warn("dropping malformed mint quote response")
				continue
			}
			h.responsesReceived.Add(1)
			hash := ehash.ShareHash(resp.ShareHash)
			keysetID, _ := ehash.ParseKeysetID(resp.KeysetID[:])
			h.route(hash, func(qc QuoteContext) QuoteResult {
				return QuoteResult{
					ShareHash: hash,
					Context:   qc,
					Response: &ehash.ParsedQuoteResponse{
						ShareHash: hash,
						QuoteID:   resp.QuoteID,
						Amount:    resp.Amount,
						KeysetID:  keysetID,
						ExpiresAt: resp.ExpiresAt,
					},
				}
			})

		case sv2.MsgTypeMintQuoteError:
			mintErr, err := sv2.UnmarshalMintQuoteError(frame.Payload)
			if err != nil {
				h.logger.WithError(err).Warn("dropping malformed mint quote error")
				continue
			}
			h.errorsReceived.Add(1)
			hash := ehash.ShareHash(mintErr.ShareHash)
			h.route(hash, func(qc QuoteContext) QuoteResult {
				return QuoteResult{
					ShareHash:  hash,
					Context:    qc,
					ErrCode:    mintErr.Code,
					ErrMessage: mintErr.Message,
				}
			})

		default:
			h.logger.Warn("dropping unexpected mint frame",
				"msg_type", frame.MsgType,
			)
		}
	}
}

// route resolves the in-flight context for a share hash and broadcasts
// the result. Responses with no matching request (crash-restart,
// duplicates) are logged and dropped.
func (h *Hub) route(hash ehash.ShareHash, build func(QuoteContext) QuoteResult) {
	key := hash.Bytes()

	h.mu.Lock()
	qc, ok := h.inflight[key]
	if ok {
		delete(h.inflight, key)
	}
	subs := make([]chan QuoteResult, len(h.subs))
	copy(subs, h.subs)
	h.mu.Unlock()

	if !ok {
		h.logger.WithShareHash(hash.String()).Info("dropping uncorrelated mint result")
		return
	}

	result := build(qc)
	for _, sub := range subs {
		select {
		case sub <- result:
		default:
			// Subscriber is saturated: shed its oldest result
			select {
			case <-sub:
			default:
			}
			select {
			case sub <- result:
			default:
			}
		}
	}
}

// DropInflight discards the correlation entry for a share hash. The
// pool's staleness sweep calls this when it evicts the matching
// pending share, so an unanswered request cannot pin table space; a
// reply arriving afterwards is treated as uncorrelated and dropped.
func (h *Hub) DropInflight(hash ehash.ShareHash) {
	h.mu.Lock()
	delete(h.inflight, hash.Bytes())
	h.mu.Unlock()
}

// InflightCount reports the number of requests awaiting a mint result
func (h *Hub) InflightCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.inflight)
}
