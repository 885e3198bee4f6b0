package mint

import (
	"context"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/hashpool/hashpool/internal/cashu"
	"github.com/hashpool/hashpool/internal/ehash"
	"github.com/hashpool/hashpool/internal/sv2"
	pkgerrors "github.com/hashpool/hashpool/pkg/errors"
	"github.com/hashpool/hashpool/pkg/log"
)

// Mint-quote error codes carried in MintQuoteError frames
const (
	ErrCodeInvalidUnit    uint16 = 1
	ErrCodeInvalidRequest uint16 = 2
	ErrCodeAmountMismatch uint16 = 3
	ErrCodeUnknownKeyset  uint16 = 4
	ErrCodeStoreFailure   uint16 = 5
)

// Service issues ehash quotes for accepted shares. One instance backs
// both the SV2 quote server and the HTTP redemption API.
type Service struct {
	keyset  *cashu.Keyset
	store   Store
	logger  *log.Logger
	minDiff uint32
	expiry  time.Duration
}

// NewService creates the issuance service around a keyset and a store
func NewService(keyset *cashu.Keyset, store Store, minDiff uint32, expiry time.Duration, logger *log.Logger) *Service {
	return &Service{
		keyset:  keyset,
		store:   store,
		logger:  logger.WithComponent("mint_service"),
		minDiff: minDiff,
		expiry:  expiry,
	}
}

// Keyset returns the active keyset
func (s *Service) Keyset() *cashu.Keyset {
	return s.keyset
}

// Store returns the quote store
func (s *Service) Store() Store {
	return s.store
}

// IssueQuote handles one MintQuoteRequest. It validates the request,
// recomputes the ehash amount from the share hash, and persists a new
// quote; a hash that already has a quote gets the stored one back, so
// pool retries are idempotent. Exactly one of the return values is
// non-nil.
func (s *Service) IssueQuote(ctx context.Context, req *sv2.MintQuoteRequest) (*sv2.MintQuoteResponse, *sv2.MintQuoteError) {
	fail := func(code uint16, message string) (*sv2.MintQuoteResponse, *sv2.MintQuoteError) {
		return nil, &sv2.MintQuoteError{ShareHash: req.ShareHash, Code: code, Message: message}
	}

	if req.Unit != ehash.Unit {
		return fail(ErrCodeInvalidUnit, "unsupported unit "+req.Unit)
	}

	var keysetID *ehash.KeysetID
	if req.KeysetID != nil {
		id := ehash.KeysetID(*req.KeysetID)
		if id != ehash.KeysetID(s.keyset.ID) {
			return fail(ErrCodeUnknownKeyset, "unknown keyset "+id.String())
		}
		keysetID = &id
	}

	parsed, err := ehash.BuildQuoteRequest(req.Amount, req.ShareHash[:], req.LockingPubKey[:], keysetID)
	if err != nil {
		return fail(ErrCodeInvalidRequest, err.Error())
	}

	// The pool and the mint must agree on the work a hash represents
	expected := ehash.CalculateEhashAmount(parsed.ShareHash, s.minDiff)
	if req.Amount != expected {
		s.logger.WithShareHash(parsed.ShareHash.String()).Warn("amount mismatch",
			"requested", req.Amount,
			"expected", expected,
		)
		return fail(ErrCodeAmountMismatch, "amount does not match share work")
	}

	hashHex := parsed.ShareHash.String()

	if existing, err := s.store.GetQuoteByShareHash(ctx, hashHex); err == nil {
		return s.response(existing)
	}

	now := time.Now()
	quote := &Quote{
		ID:            uuid.New().String(),
		ShareHash:     hashHex,
		Amount:        req.Amount,
		Unit:          req.Unit,
		LockingPubKey: append([]byte(nil), req.LockingPubKey[:]...),
		KeysetID:      hex.EncodeToString(s.keyset.ID[:]),
		State:         QuoteStatePending,
		CreatedAt:     now,
		ExpiresAt:     now.Add(s.expiry),
	}

	if err := s.store.PutQuote(ctx, quote); err != nil {
		s.logger.WithError(err).WithShareHash(hashHex).Error("failed to persist quote")
		return fail(ErrCodeStoreFailure, "quote store unavailable")
	}

	s.logger.LogQuoteIssued(hashHex, quote.ID, quote.Amount)
	return s.response(quote)
}

// response converts a stored quote into the wire message
func (s *Service) response(quote *Quote) (*sv2.MintQuoteResponse, *sv2.MintQuoteError) {
	resp := &sv2.MintQuoteResponse{
		QuoteID:  quote.ID,
		Amount:   quote.Amount,
		KeysetID: s.keyset.ID,
	}

	hash, err := decodeShareHash(quote.ShareHash)
	if err != nil {
		return nil, &sv2.MintQuoteError{Code: ErrCodeStoreFailure, Message: "corrupt quote record"}
	}
	resp.ShareHash = hash

	expires := uint64(quote.ExpiresAt.Unix())
	resp.ExpiresAt = &expires
	return resp, nil
}

// decodeShareHash reverses ShareHash.String()'s big-endian hex back to
// the canonical byte order.
func decodeShareHash(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := hex.DecodeString(s)
	if err != nil || len(raw) != 32 {
		return out, pkgerrors.New(pkgerrors.ErrorTypeInternal, "decode_share_hash", "malformed stored share hash")
	}
	for i := 0; i < 32; i++ {
		out[i] = raw[31-i]
	}
	return out, nil
}
