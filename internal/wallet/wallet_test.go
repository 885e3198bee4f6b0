package wallet

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/hashpool/hashpool/internal/cashu"
	"github.com/hashpool/hashpool/internal/ehash"
	"github.com/hashpool/hashpool/internal/mint"
	"github.com/hashpool/hashpool/pkg/log"
)

func testLogger() *log.Logger {
	return log.New("wallet-test", "test", "error", "json")
}

// testMint runs a real mint HTTP API over a memory store
func testMint(t *testing.T) (*httptest.Server, *mint.Service) {
	t.Helper()

	keyset := cashu.DeriveKeyset([]byte("wallet-test-seed"))
	svc := mint.NewService(keyset, mint.NewMemoryStore(), 0, time.Hour, testLogger())
	srv := httptest.NewServer(mint.NewHTTPServer(svc, testLogger()).Router())
	t.Cleanup(srv.Close)
	return srv, svc
}

func seedQuote(t *testing.T, svc *mint.Service, lockingKey *secp256k1.PrivateKey, id string, amount uint64) {
	t.Helper()

	keysetHex := ehash.KeysetID(svc.Keyset().ID).String()
	quote := &mint.Quote{
		ID:            id,
		ShareHash:     "feed" + id,
		Amount:        amount,
		Unit:          ehash.Unit,
		LockingPubKey: lockingKey.PubKey().SerializeCompressed(),
		KeysetID:      keysetHex,
		State:         mint.QuoteStatePending,
		CreatedAt:     time.Now(),
		ExpiresAt:     time.Now().Add(time.Hour),
	}
	if err := svc.Store().PutQuote(context.Background(), quote); err != nil {
		t.Fatalf("failed to seed quote: %v", err)
	}
}

func TestRedeemQuote(t *testing.T) {
	srv, svc := testMint(t)

	lockingKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("failed to generate locking key: %v", err)
	}

	dbPath := filepath.Join(t.TempDir(), "wallet.db")
	w, err := Open(dbPath, lockingKey, srv.URL, 5*time.Second, testLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer w.Close()

	ctx := context.Background()

	// No keyset yet: redemption is refused
	if err := w.RedeemQuote(ctx, "q-early", 3); err == nil {
		t.Error("redeem without keyset succeeded")
	}

	if err := w.FetchKeyset(ctx); err != nil {
		t.Fatalf("FetchKeyset() error = %v", err)
	}
	if w.KeysetID() == "" {
		t.Fatal("keyset id still empty after fetch")
	}

	seedQuote(t, svc, lockingKey, "q-1", 5)

	if err := w.RedeemQuote(ctx, "q-1", 5); err != nil {
		t.Fatalf("RedeemQuote() error = %v", err)
	}

	balance, err := w.Balance(ctx)
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if balance != 5 {
		t.Errorf("balance = %d, want 5", balance)
	}

	// 5 decomposes into 1 + 4
	count, err := w.ProofCount(ctx)
	if err != nil {
		t.Fatalf("ProofCount() error = %v", err)
	}
	if count != 2 {
		t.Errorf("proof count = %d, want 2", count)
	}

	// A quote redeems exactly once; the balance does not double
	if err := w.RedeemQuote(ctx, "q-1", 5); err == nil {
		t.Error("second redeem succeeded")
	}
	balance, _ = w.Balance(ctx)
	if balance != 5 {
		t.Errorf("balance after failed re-redeem = %d, want 5", balance)
	}
}

func TestRedeemQuoteWrongLockingKey(t *testing.T) {
	srv, svc := testMint(t)

	quoteOwner, _ := secp256k1.GeneratePrivateKey()
	walletKey, _ := secp256k1.GeneratePrivateKey()

	dbPath := filepath.Join(t.TempDir(), "wallet.db")
	w, err := Open(dbPath, walletKey, srv.URL, 5*time.Second, testLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer w.Close()

	ctx := context.Background()
	if err := w.FetchKeyset(ctx); err != nil {
		t.Fatalf("FetchKeyset() error = %v", err)
	}

	// The quote is locked to a different key; the mint must refuse
	seedQuote(t, svc, quoteOwner, "q-locked", 2)
	if err := w.RedeemQuote(ctx, "q-locked", 2); err == nil {
		t.Error("redeem with wrong locking key succeeded")
	}

	balance, _ := w.Balance(ctx)
	if balance != 0 {
		t.Errorf("balance = %d, want 0", balance)
	}
}

func TestBalanceEmptyWallet(t *testing.T) {
	lockingKey, _ := secp256k1.GeneratePrivateKey()
	dbPath := filepath.Join(t.TempDir(), "wallet.db")
	w, err := Open(dbPath, lockingKey, "http://127.0.0.1:1", time.Second, testLogger())
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer w.Close()

	balance, err := w.Balance(context.Background())
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if balance != 0 {
		t.Errorf("balance = %d, want 0", balance)
	}
}
