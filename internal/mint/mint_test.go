package mint

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"

	"github.com/hashpool/hashpool/internal/cashu"
	"github.com/hashpool/hashpool/internal/ehash"
	"github.com/hashpool/hashpool/internal/sv2"
	"github.com/hashpool/hashpool/pkg/log"
)

func testService(t *testing.T) (*Service, *secp256k1.PrivateKey) {
	t.Helper()

	lockingKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("failed to generate locking key: %v", err)
	}

	keyset := cashu.DeriveKeyset([]byte("mint-test-seed"))
	logger := log.New("mint-test", "test", "error", "json")
	svc := NewService(keyset, NewMemoryStore(), 0, time.Hour, logger)
	return svc, lockingKey
}

// shareWithZeroBits returns a canonical hash with the given number of
// leading zero bits at the numeric top (byte index 31 downward).
func shareWithZeroBits(zeroBits uint32) [32]byte {
	var h [32]byte
	for i := range h {
		h[i] = 0xFF
	}
	idx := 31
	remaining := zeroBits
	for remaining >= 8 {
		h[idx] = 0x00
		idx--
		remaining -= 8
	}
	h[idx] = 0xFF >> remaining
	return h
}

func quoteRequest(t *testing.T, lockingKey *secp256k1.PrivateKey, zeroBits uint32) *sv2.MintQuoteRequest {
	t.Helper()

	hash := shareWithZeroBits(zeroBits)
	share, err := ehash.ComputeShareHash(hash[:])
	if err != nil {
		t.Fatalf("ComputeShareHash() error = %v", err)
	}

	req := &sv2.MintQuoteRequest{
		Amount:    ehash.CalculateEhashAmount(share, 0),
		Unit:      ehash.Unit,
		ShareHash: hash,
	}
	copy(req.LockingPubKey[:], lockingKey.PubKey().SerializeCompressed())
	return req
}

func TestIssueQuote(t *testing.T) {
	svc, lockingKey := testService(t)
	ctx := context.Background()

	req := quoteRequest(t, lockingKey, 8)
	resp, quoteErr := svc.IssueQuote(ctx, req)
	if quoteErr != nil {
		t.Fatalf("IssueQuote() error = %d %s", quoteErr.Code, quoteErr.Message)
	}
	if resp.ShareHash != req.ShareHash {
		t.Error("share hash not echoed")
	}
	if resp.Amount != req.Amount {
		t.Errorf("amount = %d, want %d", resp.Amount, req.Amount)
	}
	if resp.QuoteID == "" {
		t.Error("empty quote id")
	}
	if resp.ExpiresAt == nil {
		t.Error("missing expiry")
	}

	// Retrying the same share hash is idempotent
	again, quoteErr := svc.IssueQuote(ctx, req)
	if quoteErr != nil {
		t.Fatalf("retry error = %d %s", quoteErr.Code, quoteErr.Message)
	}
	if again.QuoteID != resp.QuoteID {
		t.Errorf("retry issued a new quote: %q vs %q", again.QuoteID, resp.QuoteID)
	}
}

func TestIssueQuoteRejections(t *testing.T) {
	svc, lockingKey := testService(t)
	ctx := context.Background()

	tests := []struct {
		name     string
		mutate   func(*sv2.MintQuoteRequest)
		wantCode uint16
	}{
		{
			name:     "wrong unit",
			mutate:   func(r *sv2.MintQuoteRequest) { r.Unit = "sat" },
			wantCode: ErrCodeInvalidUnit,
		},
		{
			name:     "amount mismatch",
			mutate:   func(r *sv2.MintQuoteRequest) { r.Amount++ },
			wantCode: ErrCodeAmountMismatch,
		},
		{
			name:     "zero amount",
			mutate:   func(r *sv2.MintQuoteRequest) { r.Amount = 0 },
			wantCode: ErrCodeInvalidRequest,
		},
		{
			name: "garbage locking key",
			mutate: func(r *sv2.MintQuoteRequest) {
				for i := range r.LockingPubKey {
					r.LockingPubKey[i] = 0xAA
				}
			},
			wantCode: ErrCodeInvalidRequest,
		},
		{
			name: "unknown keyset",
			mutate: func(r *sv2.MintQuoteRequest) {
				r.KeysetID = &[8]byte{0xDE, 0xAD}
			},
			wantCode: ErrCodeUnknownKeyset,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := quoteRequest(t, lockingKey, 4)
			tt.mutate(req)

			resp, quoteErr := svc.IssueQuote(ctx, req)
			if quoteErr == nil {
				t.Fatalf("expected error, got quote %q", resp.QuoteID)
			}
			if quoteErr.Code != tt.wantCode {
				t.Errorf("code = %d, want %d", quoteErr.Code, tt.wantCode)
			}
		})
	}
}

func TestMemoryStoreSingleRedeem(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	quote := &Quote{
		ID:        "q-1",
		ShareHash: "abcd",
		Amount:    4,
		Unit:      ehash.Unit,
		State:     QuoteStatePending,
		CreatedAt: time.Now(),
		ExpiresAt: time.Now().Add(time.Hour),
	}
	if err := store.PutQuote(ctx, quote); err != nil {
		t.Fatalf("PutQuote() error = %v", err)
	}

	if err := store.MarkIssued(ctx, "q-1"); err != nil {
		t.Fatalf("first MarkIssued() error = %v", err)
	}
	if err := store.MarkIssued(ctx, "q-1"); err != ErrQuoteAlreadyIssued {
		t.Errorf("second MarkIssued() = %v, want ErrQuoteAlreadyIssued", err)
	}

	got, err := store.GetQuoteByShareHash(ctx, "abcd")
	if err != nil {
		t.Fatalf("GetQuoteByShareHash() error = %v", err)
	}
	if got.State != QuoteStateIssued {
		t.Errorf("state = %q, want %q", got.State, QuoteStateIssued)
	}
}

func doJSON(t *testing.T, router http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestHTTPMintFlow(t *testing.T) {
	svc, lockingKey := testService(t)
	router := NewHTTPServer(svc, log.New("mint-test", "test", "error", "json")).Router()
	ctx := context.Background()

	// Keyset discovery
	rec := doJSON(t, router, http.MethodGet, "/v1/keysets", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /v1/keysets = %d", rec.Code)
	}
	var keysets struct {
		Keysets []struct {
			ID   string `json:"id"`
			Unit string `json:"unit"`
		} `json:"keysets"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &keysets); err != nil {
		t.Fatalf("failed to decode keysets: %v", err)
	}
	if len(keysets.Keysets) != 1 || keysets.Keysets[0].Unit != ehash.Unit {
		t.Fatalf("unexpected keysets: %+v", keysets)
	}
	keysetHex := keysets.Keysets[0].ID
	if keysetHex != hex.EncodeToString(svc.Keyset().ID[:]) {
		t.Errorf("keyset id mismatch: %s", keysetHex)
	}

	// Seed a quote worth 3 units (decomposes to 1+2)
	quote := &Quote{
		ID:            "q-http",
		ShareHash:     "00ff",
		Amount:        3,
		Unit:          ehash.Unit,
		LockingPubKey: lockingKey.PubKey().SerializeCompressed(),
		KeysetID:      keysetHex,
		State:         QuoteStatePending,
		CreatedAt:     time.Now(),
		ExpiresAt:     time.Now().Add(time.Hour),
	}
	if err := svc.store.PutQuote(ctx, quote); err != nil {
		t.Fatalf("PutQuote() error = %v", err)
	}

	// Quote state endpoint
	rec = doJSON(t, router, http.MethodGet, "/v1/mint/quote/q-http", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("GET quote = %d", rec.Code)
	}
	var state quoteStateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &state); err != nil {
		t.Fatalf("failed to decode state: %v", err)
	}
	if state.State != QuoteStatePending || state.Amount != 3 {
		t.Fatalf("unexpected state: %+v", state)
	}

	// Build blinded outputs for 1 + 2
	var outputs []cashu.BlindedMessage
	var factors []*secp256k1.PrivateKey
	var secrets [][]byte
	for _, amount := range cashu.SplitAmount(3) {
		factor, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			t.Fatalf("failed to generate factor: %v", err)
		}
		secret := []byte("secret-" + hex.EncodeToString([]byte{byte(amount)}))
		blinded, err := cashu.BlindMessage(secret, factor)
		if err != nil {
			t.Fatalf("BlindMessage() error = %v", err)
		}
		outputs = append(outputs, cashu.BlindedMessage{
			Amount:   amount,
			KeysetID: keysetHex,
			B:        cashu.PointHex(blinded),
		})
		factors = append(factors, factor)
		secrets = append(secrets, secret)
	}

	witness, err := cashu.SignQuoteWitness(lockingKey, quote.ID, outputs)
	if err != nil {
		t.Fatalf("SignQuoteWitness() error = %v", err)
	}

	// A wrong witness is refused
	wrongKey, _ := secp256k1.GeneratePrivateKey()
	badWitness, _ := cashu.SignQuoteWitness(wrongKey, quote.ID, outputs)
	rec = doJSON(t, router, http.MethodPost, "/v1/mint", mintRequest{
		Quote: quote.ID, Outputs: outputs, Witness: badWitness,
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad witness = %d, want 401", rec.Code)
	}

	// The real witness mints
	rec = doJSON(t, router, http.MethodPost, "/v1/mint", mintRequest{
		Quote: quote.ID, Outputs: outputs, Witness: witness,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("POST /v1/mint = %d: %s", rec.Code, rec.Body.String())
	}
	var minted mintResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &minted); err != nil {
		t.Fatalf("failed to decode signatures: %v", err)
	}
	if len(minted.Signatures) != len(outputs) {
		t.Fatalf("got %d signatures, want %d", len(minted.Signatures), len(outputs))
	}

	// Unblind and verify each signature against the mint keys
	for i, sig := range minted.Signatures {
		blindSig, err := cashu.ParsePoint(sig.C)
		if err != nil {
			t.Fatalf("invalid signature point: %v", err)
		}
		mintPub, err := svc.Keyset().PublicKey(sig.Amount)
		if err != nil {
			t.Fatalf("PublicKey() error = %v", err)
		}
		proofPoint := cashu.Unblind(blindSig, factors[i], mintPub)
		mintPriv, _ := svc.Keyset().PrivateKey(sig.Amount)
		if !cashu.VerifyProof(mintPriv, secrets[i], proofPoint) {
			t.Errorf("unblinded proof %d failed verification", i)
		}
	}

	// A second redeem conflicts
	rec = doJSON(t, router, http.MethodPost, "/v1/mint", mintRequest{
		Quote: quote.ID, Outputs: outputs, Witness: witness,
	})
	if rec.Code != http.StatusConflict {
		t.Errorf("second redeem = %d, want 409", rec.Code)
	}
}
