package hub

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/hashpool/hashpool/internal/ehash"
	"github.com/hashpool/hashpool/internal/sv2"
	"github.com/hashpool/hashpool/pkg/errors"
	"github.com/hashpool/hashpool/pkg/log"
)

func testLogger() *log.Logger {
	return log.New("hub-test", "test", "error", "json")
}

func testQuoteRequest(t *testing.T, seed byte) *ehash.ParsedQuoteRequest {
	t.Helper()

	priv, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	hash := make([]byte, 32)
	hash[0] = seed
	hash[31] = 0x00 // a leading zero byte, like a real accepted share

	req, err := ehash.BuildQuoteRequest(4, hash, priv.PubKey().SerializeCompressed(), nil)
	if err != nil {
		t.Fatalf("BuildQuoteRequest() error = %v", err)
	}
	return req
}

// fakeMint accepts one pool connection and answers quote requests with
// the given responder.
func fakeMint(t *testing.T, respond func(*sv2.MintQuoteRequest) *sv2.Frame) string {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				for {
					frame, err := sv2.ReadFrame(conn)
					if err != nil {
						return
					}
					if frame.MsgType != sv2.MsgTypeMintQuoteRequest {
						continue
					}
					req, err := sv2.UnmarshalMintQuoteRequest(frame.Payload)
					if err != nil {
						return
					}
					reply := respond(req)
					if reply == nil {
						continue
					}
					data, err := reply.Encode()
					if err != nil {
						return
					}
					if _, err := conn.Write(data); err != nil {
						return
					}
				}
			}(conn)
		}
	}()

	return ln.Addr().String()
}

func TestSubmitQuoteRequestBackpressure(t *testing.T) {
	// No Run loop: nothing drains the request buffer
	h := New(Config{MintAddr: "127.0.0.1:1", RequestBuffer: 2}, testLogger())

	for i := byte(0); i < 2; i++ {
		if err := h.SubmitQuoteRequest(testQuoteRequest(t, i), QuoteContext{ChannelID: 1}); err != nil {
			t.Fatalf("submit %d failed: %v", i, err)
		}
	}

	err := h.SubmitQuoteRequest(testQuoteRequest(t, 9), QuoteContext{ChannelID: 1})
	if err == nil {
		t.Fatal("expected backpressure error when buffer is full")
	}
	if !errors.IsType(err, errors.ErrorTypeHub) {
		t.Errorf("error type = %v, want hub", err)
	}

	// The rejected request must not linger in the correlation table
	if got := h.InflightCount(); got != 2 {
		t.Errorf("InflightCount() = %d, want 2", got)
	}
}

func TestQuoteRoundTrip(t *testing.T) {
	addr := fakeMint(t, func(req *sv2.MintQuoteRequest) *sv2.Frame {
		resp := &sv2.MintQuoteResponse{
			ShareHash: req.ShareHash,
			QuoteID:   "quote-1",
			Amount:    req.Amount,
		}
		frame, _ := resp.Frame()
		return frame
	})

	h := New(Config{MintAddr: addr}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	results := h.SubscribeResponses()

	req := testQuoteRequest(t, 1)
	wantCtx := QuoteContext{ChannelID: 7, SequenceNumber: 42}
	if err := h.SubmitQuoteRequest(req, wantCtx); err != nil {
		t.Fatalf("SubmitQuoteRequest() error = %v", err)
	}

	select {
	case result := <-results:
		if result.Failed() {
			t.Fatalf("result failed: %d %s", result.ErrCode, result.ErrMessage)
		}
		if result.ShareHash != req.ShareHash {
			t.Error("share hash mismatch")
		}
		if result.Context != wantCtx {
			t.Errorf("context = %+v, want %+v", result.Context, wantCtx)
		}
		if result.Response.QuoteID != "quote-1" {
			t.Errorf("quote id = %q, want %q", result.Response.QuoteID, "quote-1")
		}
		if result.Response.Amount != req.Amount {
			t.Errorf("amount = %d, want %d", result.Response.Amount, req.Amount)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for quote result")
	}

	if got := h.InflightCount(); got != 0 {
		t.Errorf("InflightCount() = %d, want 0 after correlation", got)
	}
	if stats := h.Stats(); stats.RequestsSent != 1 || stats.ResponsesReceived != 1 {
		t.Errorf("stats = %+v, want 1 sent / 1 received", stats)
	}
	if got := h.Stats().Reconnects; got != 0 {
		t.Errorf("Reconnects = %d, want 0 on an unbroken link", got)
	}
}

func TestQuoteErrorRoundTrip(t *testing.T) {
	addr := fakeMint(t, func(req *sv2.MintQuoteRequest) *sv2.Frame {
		mintErr := &sv2.MintQuoteError{
			ShareHash: req.ShareHash,
			Code:      3,
			Message:   "duplicate share hash",
		}
		frame, _ := mintErr.Frame()
		return frame
	})

	h := New(Config{MintAddr: addr}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	results := h.SubscribeResponses()

	req := testQuoteRequest(t, 2)
	if err := h.SubmitQuoteRequest(req, QuoteContext{ChannelID: 1, SequenceNumber: 1}); err != nil {
		t.Fatalf("SubmitQuoteRequest() error = %v", err)
	}

	select {
	case result := <-results:
		if !result.Failed() {
			t.Fatal("expected a failed result")
		}
		if result.ErrCode != 3 {
			t.Errorf("error code = %d, want 3", result.ErrCode)
		}
		if result.ErrMessage != "duplicate share hash" {
			t.Errorf("error message = %q", result.ErrMessage)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for quote error")
	}
}

func TestUncorrelatedResponseDropped(t *testing.T) {
	// The mint answers with a hash the hub never asked about
	addr := fakeMint(t, func(req *sv2.MintQuoteRequest) *sv2.Frame {
		resp := &sv2.MintQuoteResponse{
			QuoteID: "orphan",
			Amount:  1,
		}
		resp.ShareHash[0] = 0xFF
		frame, _ := resp.Frame()
		return frame
	})

	h := New(Config{MintAddr: addr}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	results := h.SubscribeResponses()

	if err := h.SubmitQuoteRequest(testQuoteRequest(t, 3), QuoteContext{}); err != nil {
		t.Fatalf("SubmitQuoteRequest() error = %v", err)
	}

	select {
	case result := <-results:
		t.Fatalf("unexpected result for uncorrelated response: %+v", result)
	case <-time.After(500 * time.Millisecond):
	}

	// The original request is still awaiting its real answer
	if got := h.InflightCount(); got != 1 {
		t.Errorf("InflightCount() = %d, want 1", got)
	}
}

func TestReconnectAfterMintRestart(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	// First connection is dropped immediately; the second one answers.
	conns := make(chan net.Conn, 2)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conns <- conn
		}
	}()

	h := New(Config{MintAddr: ln.Addr().String()}, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go h.Run(ctx)

	select {
	case conn := <-conns:
		conn.Close()
	case <-time.After(5 * time.Second):
		t.Fatal("hub never connected")
	}

	var second net.Conn
	select {
	case second = <-conns:
	case <-time.After(5 * time.Second):
		t.Fatal("hub never reconnected")
	}
	defer second.Close()

	results := h.SubscribeResponses()
	req := testQuoteRequest(t, 4)
	if err := h.SubmitQuoteRequest(req, QuoteContext{ChannelID: 2}); err != nil {
		t.Fatalf("SubmitQuoteRequest() error = %v", err)
	}

	frame, err := sv2.ReadFrame(second)
	if err != nil {
		t.Fatalf("failed to read request on reconnected link: %v", err)
	}
	parsed, err := sv2.UnmarshalMintQuoteRequest(frame.Payload)
	if err != nil {
		t.Fatalf("failed to decode request: %v", err)
	}

	resp := &sv2.MintQuoteResponse{ShareHash: parsed.ShareHash, QuoteID: "after-restart", Amount: parsed.Amount}
	respFrame, _ := resp.Frame()
	data, _ := respFrame.Encode()
	if _, err := second.Write(data); err != nil {
		t.Fatalf("failed to write response: %v", err)
	}

	select {
	case result := <-results:
		if result.Failed() || result.Response.QuoteID != "after-restart" {
			t.Errorf("unexpected result: %+v", result)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for result after reconnect")
	}

	// The first connect is not a reconnect; only the recovery after the
	// dropped link counts.
	if got := h.Stats().Reconnects; got != 1 {
		t.Errorf("Reconnects = %d, want 1", got)
	}
}
