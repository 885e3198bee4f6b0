package translator

import (
	"context"
	"encoding/hex"
	"net"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/hashpool/hashpool/internal/cashu"
	"github.com/hashpool/hashpool/internal/ehash"
	"github.com/hashpool/hashpool/internal/mint"
	"github.com/hashpool/hashpool/internal/stats"
	"github.com/hashpool/hashpool/internal/sv2"
	"github.com/hashpool/hashpool/internal/wallet"
	"github.com/hashpool/hashpool/pkg/log"
)

func testLogger() *log.Logger {
	return log.New("translator-test", "test", "error", "json")
}

func TestQuoteTrackerFIFOTrim(t *testing.T) {
	tracker := NewQuoteTracker(4, 2)

	hashAt := func(i byte) ehash.ShareHash {
		var raw [32]byte
		raw[0] = i
		hash, _ := ehash.ComputeShareHash(raw[:])
		return hash
	}

	for i := byte(0); i < 5; i++ {
		tracker.Insert(hashAt(i), QuoteRecord{QuoteID: "q", Amount: 1, ReceivedAt: time.Now()})
	}

	// Cap 4 exceeded on the fifth insert: trimmed to 2
	if tracker.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", tracker.Len())
	}

	// Oldest entries went first
	if _, ok := tracker.Get(hashAt(0)); ok {
		t.Error("oldest entry survived the trim")
	}
	if _, ok := tracker.Get(hashAt(4)); !ok {
		t.Error("newest entry was trimmed")
	}
}

func TestQuoteTrackerRemove(t *testing.T) {
	tracker := NewQuoteTracker(10, 5)

	var raw [32]byte
	raw[0] = 0xAB
	hash, _ := ehash.ComputeShareHash(raw[:])

	tracker.Insert(hash, QuoteRecord{QuoteID: "q-1", Amount: 2})
	record, ok := tracker.Get(hash)
	if !ok || record.QuoteID != "q-1" {
		t.Fatalf("Get() = %+v, %v", record, ok)
	}

	tracker.Remove(hash)
	if _, ok := tracker.Get(hash); ok {
		t.Error("record survived Remove")
	}
	if tracker.Len() != 0 {
		t.Errorf("Len() = %d, want 0", tracker.Len())
	}
}

func TestQuoteTrackerRemoveBoundsOrder(t *testing.T) {
	// Steady insert/remove traffic, the happy redemption path, must not
	// grow the order slice without bound.
	const capacity = 100
	tracker := NewQuoteTracker(capacity, capacity/2)

	for i := 0; i < 50_000; i++ {
		var raw [32]byte
		raw[0] = byte(i)
		raw[1] = byte(i >> 8)
		raw[2] = byte(i >> 16)
		hash, _ := ehash.ComputeShareHash(raw[:])

		tracker.Insert(hash, QuoteRecord{QuoteID: "q", Amount: 1, ReceivedAt: time.Now()})
		tracker.Remove(hash)
	}

	if tracker.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", tracker.Len())
	}
	if got := len(tracker.order); got > 2*capacity {
		t.Errorf("order slice holds %d keys, want <= %d", got, 2*capacity)
	}

	// Live entries survive the compactions around them
	var raw [32]byte
	raw[5] = 0xEE
	hash, _ := ehash.ComputeShareHash(raw[:])
	tracker.Insert(hash, QuoteRecord{QuoteID: "q-live", Amount: 3})
	if record, ok := tracker.Get(hash); !ok || record.QuoteID != "q-live" {
		t.Fatalf("Get() after compaction = %+v, %v", record, ok)
	}
}

func TestLoadOrGenerateLockingKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locking.key")

	first, err := LoadOrGenerateLockingKey(path)
	if err != nil {
		t.Fatalf("generate error = %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("key file missing: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("key file mode = %v, want 0600", info.Mode().Perm())
	}

	second, err := LoadOrGenerateLockingKey(path)
	if err != nil {
		t.Fatalf("reload error = %v", err)
	}
	if !first.PubKey().IsEqual(second.PubKey()) {
		t.Error("reload produced a different key")
	}

	// A corrupt file is refused rather than silently regenerated
	if err := os.WriteFile(path, []byte("not-hex"), 0o600); err != nil {
		t.Fatalf("failed to corrupt file: %v", err)
	}
	if _, err := LoadOrGenerateLockingKey(path); err == nil {
		t.Error("corrupt key file was accepted")
	}
}

// fakePool accepts one translator connection, confirms the channel,
// and hands incoming share submissions to the callback, which may
// return frames to push back.
func fakePool(t *testing.T, onSubmit func(*sv2.SubmitSharesExtended) []*sv2.Frame) string {
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
					switch frame.MsgType {
					case sv2.MsgTypeOpenExtendedMiningChannel:
						open, err := sv2.UnmarshalOpenExtendedMiningChannel(frame.Payload)
						if err != nil {
							return
						}
						success := &sv2.OpenExtendedMiningChannelSuccess{
							RequestID:      open.RequestID,
							ChannelID:      42,
							ExtranonceSize: 8,
						}
						reply, _ := success.Frame()
						data, _ := reply.Encode()
						if _, err := conn.Write(data); err != nil {
							return
						}
					case sv2.MsgTypeSubmitSharesExtended:
						submit, err := sv2.UnmarshalSubmitSharesExtended(frame.Payload)
						if err != nil {
							return
						}
						for _, reply := range onSubmit(submit) {
							data, err := reply.Encode()
							if err != nil {
								return
							}
							if _, err := conn.Write(data); err != nil {
								return
							}
						}
					}
				}
			}(conn)
		}
	}()

	return ln.Addr().String()
}

type fixture struct {
	bridge  *Bridge
	wallet  *wallet.Wallet
	mintSvc *mint.Service
}

func startBridge(t *testing.T, onSubmit func(*sv2.SubmitSharesExtended) []*sv2.Frame) *fixture {
	t.Helper()

	keyset := cashu.DeriveKeyset([]byte("translator-test-seed"))
	mintSvc := mint.NewService(keyset, mint.NewMemoryStore(), 0, time.Hour, testLogger())
	mintSrv := httptest.NewServer(mint.NewHTTPServer(mintSvc, testLogger()).Router())
	t.Cleanup(mintSrv.Close)

	lockingKey, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("failed to generate locking key: %v", err)
	}

	w, err := wallet.Open(filepath.Join(t.TempDir(), "wallet.db"), lockingKey, mintSrv.URL, 5*time.Second, testLogger())
	if err != nil {
		t.Fatalf("failed to open wallet: %v", err)
	}
	t.Cleanup(func() { w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	if err := w.FetchKeyset(ctx); err != nil {
		t.Fatalf("FetchKeyset() error = %v", err)
	}

	poolAddr := fakePool(t, onSubmit)
	b := New(Config{
		UpstreamAddr: poolAddr,
		UserIdentity: "test-proxy",
	}, lockingKey, w, testLogger())

	go b.Run(ctx)
	go b.RunRedemptions(ctx)

	deadline := time.Now().Add(5 * time.Second)
	for !b.Connected() {
		if time.Now().After(deadline) {
			t.Fatal("bridge never connected upstream")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if b.ChannelID() != 42 {
		t.Fatalf("channel id = %d, want 42", b.ChannelID())
	}

	return &fixture{bridge: b, wallet: w, mintSvc: mintSvc}
}

func TestShareToProofsEndToEnd(t *testing.T) {
	var fx *fixture

	onSubmit := func(submit *sv2.SubmitSharesExtended) []*sv2.Frame {
		// The pool side: ack, seed the quote at the mint, notify
		hash, err := ehash.ComputeShareHash(submit.Hash[:])
		if err != nil {
			t.Errorf("pool could not canonicalize hash: %v", err)
			return nil
		}

		keysetHex := ehash.KeysetID(fx.mintSvc.Keyset().ID).String()
		quote := &mint.Quote{
			ID:            "q-e2e",
			ShareHash:     hash.String(),
			Amount:        3,
			Unit:          ehash.Unit,
			LockingPubKey: submit.LockingPubKey[:],
			KeysetID:      keysetHex,
			State:         mint.QuoteStatePending,
			CreatedAt:     time.Now(),
			ExpiresAt:     time.Now().Add(time.Hour),
		}
		if err := fx.mintSvc.Store().PutQuote(context.Background(), quote); err != nil {
			t.Errorf("failed to seed quote: %v", err)
			return nil
		}

		ack := &sv2.SubmitSharesSuccess{
			ChannelID:               submit.ChannelID,
			LastSequenceNumber:      submit.SequenceNumber,
			NewSubmitsAcceptedCount: 1,
			NewSharesSum:            3,
		}
		ackFrame, _ := ack.Frame()

		note := &sv2.MintQuoteNotification{
			ChannelID:      submit.ChannelID,
			SequenceNumber: submit.SequenceNumber,
			ShareHash:      hash.Bytes(),
			QuoteID:        "q-e2e",
			Amount:         3,
		}
		noteFrame, _ := note.Frame()
		return []*sv2.Frame{ackFrame, noteFrame}
	}

	fx = startBridge(t, onSubmit)

	var header [32]byte
	header[0] = 0x01
	if err := fx.bridge.SubmitShare(header); err != nil {
		t.Fatalf("SubmitShare() error = %v", err)
	}

	// The wallet ends up holding proofs worth the quoted amount
	deadline := time.Now().Add(5 * time.Second)
	for {
		balance, err := fx.wallet.Balance(context.Background())
		if err != nil {
			t.Fatalf("Balance() error = %v", err)
		}
		if balance == 3 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("balance = %d, want 3", balance)
		}
		time.Sleep(20 * time.Millisecond)
	}

	// Redemption consumed the quote record
	deadline = time.Now().Add(2 * time.Second)
	for fx.bridge.Tracker().Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("tracker size = %d, want 0", fx.bridge.Tracker().Len())
		}
		time.Sleep(20 * time.Millisecond)
	}

	snapshot := fx.bridge.GetSnapshot().(stats.ProxySnapshot)
	if snapshot.SharesSubmitted != 1 {
		t.Errorf("shares_submitted = %d, want 1", snapshot.SharesSubmitted)
	}
	if snapshot.QuotesReceived != 1 {
		t.Errorf("quotes_received = %d, want 1", snapshot.QuotesReceived)
	}
	if snapshot.EhashMined != 3 {
		t.Errorf("ehash_mined = %d, want 3", snapshot.EhashMined)
	}
	if snapshot.WalletBalance != 3 {
		t.Errorf("wallet_balance = %d, want 3", snapshot.WalletBalance)
	}
}

func TestMalformedExtensionFramesAreDropped(t *testing.T) {
	onSubmit := func(submit *sv2.SubmitSharesExtended) []*sv2.Frame {
		// Garbage in the extension range, then a malformed notification,
		// then a valid failure: the loop must survive all three.
		unknown := &sv2.Frame{ExtensionType: sv2.ExtTypeMining | sv2.ChannelBit, MsgType: 0xC5, Payload: []byte{1, 2, 3}}
		malformed := &sv2.Frame{ExtensionType: sv2.ExtTypeMining | sv2.ChannelBit, MsgType: sv2.MsgTypeMintQuoteNotification, Payload: []byte{0xFF}}

		hash, _ := ehash.ComputeShareHash(submit.Hash[:])
		failure := &sv2.MintQuoteFailure{
			ChannelID:      submit.ChannelID,
			SequenceNumber: submit.SequenceNumber,
			ShareHash:      hash.Bytes(),
			ErrorMessage:   "mint-timeout",
		}
		failureFrame, _ := failure.Frame()
		return []*sv2.Frame{unknown, malformed, failureFrame}
	}

	fx := startBridge(t, onSubmit)

	var header [32]byte
	header[0] = 0x02
	if err := fx.bridge.SubmitShare(header); err != nil {
		t.Fatalf("SubmitShare() error = %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for fx.bridge.quoteFailures.Load() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("failure frame never processed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// The connection survived the garbage
	if !fx.bridge.Connected() {
		t.Error("upstream loop tore down on malformed frames")
	}
	if fx.bridge.Tracker().Len() != 0 {
		t.Errorf("tracker size = %d, want 0", fx.bridge.Tracker().Len())
	}
}

func TestSubmitShareRefusedWithoutKeyset(t *testing.T) {
	lockingKey, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	// Wallet pointed at a dead mint: no keyset can be fetched
	w, err := wallet.Open(filepath.Join(t.TempDir(), "wallet.db"), lockingKey, "http://127.0.0.1:1", time.Second, testLogger())
	if err != nil {
		t.Fatalf("failed to open wallet: %v", err)
	}
	defer w.Close()

	b := New(Config{UpstreamAddr: "127.0.0.1:1"}, lockingKey, w, testLogger())

	var header [32]byte
	if err := b.SubmitShare(header); err == nil {
		t.Error("share submitted without a keyset")
	}
}

func TestLockingKeyHexRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locking.key")
	key, err := LoadOrGenerateLockingKey(path)
	if err != nil {
		t.Fatalf("generate error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read error = %v", err)
	}
	raw, err := hex.DecodeString(string(data[:64]))
	if err != nil || len(raw) != 32 {
		t.Fatalf("file contents not 32 hex bytes: %v", err)
	}
	reparsed, _ := btcec.PrivKeyFromBytes(raw)
	if !reparsed.PubKey().IsEqual(key.PubKey()) {
		t.Error("persisted bytes do not round-trip")
	}
}
