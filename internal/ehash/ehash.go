// Package ehash holds the pure domain functions of the ehash bridge:
// share-hash canonicalization, work-to-ehash amount calculation, keyset
// identity parsing, and quote-request construction. Everything here is
// deterministic and side-effect free; the correlation invariants the
// rest of the system leans on (same share bytes, same hash, same
// amount, on every role) live in this package.
package ehash

import (
	"encoding/hex"
	"errors"
	"fmt"
	"math/bits"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Validation errors for quote-request construction
var (
	// ErrInvalidHeaderHash is returned for a header hash that is not 32 bytes
	ErrInvalidHeaderHash = errors.New("invalid header hash")
	// ErrInvalidLockingKey is returned for a locking key that is not a
	// valid 33-byte compressed secp256k1 point
	ErrInvalidLockingKey = errors.New("invalid locking key")
	// ErrInvalidAmount is returned for a zero amount
	ErrInvalidAmount = errors.New("invalid amount")
	// ErrInvalidKeysetID is returned for keyset id bytes of the wrong length
	ErrInvalidKeysetID = errors.New("invalid keyset id")
)

// Unit is the Cashu unit for all ehash quotes
const Unit = "HASH"

// ShareHash is the canonical 32-byte join key derived from an accepted
// share's header hash. Bytes are stored in the hash's internal
// (little-endian) order, the same order the target comparator uses;
// String renders the conventional big-endian hex.
type ShareHash chainhash.Hash

// ComputeShareHash canonicalizes a raw 32-byte header hash. Pool,
// Translator, and Mint must all derive the key with this function so
// the correlation tables agree.
func ComputeShareHash(headerHash []byte) (ShareHash, error) {
	var h ShareHash
	if len(headerHash) != chainhash.HashSize {
		return h, fmt.Errorf("%w: length %d, want %d", ErrInvalidHeaderHash, len(headerHash), chainhash.HashSize)
	}
	copy(h[:], headerHash)
	return h, nil
}

// Bytes returns a copy of the canonical hash bytes
func (h ShareHash) Bytes() [32]byte {
	return [32]byte(h)
}

// String returns the big-endian hex rendering
func (h ShareHash) String() string {
	return (chainhash.Hash)(h).String()
}

// LeadingZeroBits counts the zero bits at the numeric top of the hash.
// The hash is little-endian in memory, so counting starts at the last
// byte.
func (h ShareHash) LeadingZeroBits() uint32 {
	var count uint32
	for i := chainhash.HashSize - 1; i >= 0; i-- {
		if h[i] == 0 {
			count += 8
			continue
		}
		count += uint32(bits.LeadingZeros8(h[i]))
		break
	}
	return count
}

// CalculateDifficulty returns the work a hash represents in
// leading-zero bits.
func CalculateDifficulty(h ShareHash) uint32 {
	return h.LeadingZeroBits()
}

// CalculateEhashAmount converts a share's work into ehash units of the
// mint's smallest denomination. The amount doubles per leading-zero
// bit above the configured minimum difficulty, is monotone in the
// leading-zero count, and is never below 1. The shift is clamped so
// pathological hashes cannot overflow u64.
func CalculateEhashAmount(h ShareHash, minimumDifficulty uint32) uint64 {
	difficulty := h.LeadingZeroBits()
	if difficulty <= minimumDifficulty {
		return 1
	}
	excess := difficulty - minimumDifficulty
	if excess > 62 {
		excess = 62
	}
	return uint64(1) << excess
}

// KeysetID identifies the Cashu denomination epoch active at the mint
type KeysetID [8]byte

// ParseKeysetID validates and copies 8 keyset id bytes
func ParseKeysetID(b []byte) (KeysetID, error) {
	var id KeysetID
	if len(b) != len(id) {
		return id, fmt.Errorf("%w: length %d, want %d", ErrInvalidKeysetID, len(b), len(id))
	}
	copy(id[:], b)
	return id, nil
}

// String returns the hex rendering used in Cashu keyset identifiers
func (id KeysetID) String() string {
	return hex.EncodeToString(id[:])
}

// ParsedQuoteRequest is the immutable domain object the hub serializes
// toward the mint
type ParsedQuoteRequest struct {
	Amount        uint64
	Unit          string
	ShareHash     ShareHash
	LockingPubKey [33]byte
	KeysetID      *KeysetID
}

// BuildQuoteRequest validates the share metadata and constructs a
// quote request. The locking key must be a parseable 33-byte
// compressed secp256k1 public key; the amount must be positive.
func BuildQuoteRequest(amount uint64, shareHash []byte, lockingPubKey []byte, keysetID *KeysetID) (*ParsedQuoteRequest, error) {
	if amount == 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}

	hash, err := ComputeShareHash(shareHash)
	if err != nil {
		return nil, err
	}

	if len(lockingPubKey) != 33 {
		return nil, fmt.Errorf("%w: length %d, want 33", ErrInvalidLockingKey, len(lockingPubKey))
	}
	if _, err := btcec.ParsePubKey(lockingPubKey); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidLockingKey, err)
	}

	req := &ParsedQuoteRequest{
		Amount:    amount,
		Unit:      Unit,
		ShareHash: hash,
	}
	copy(req.LockingPubKey[:], lockingPubKey)
	if keysetID != nil {
		id := *keysetID
		req.KeysetID = &id
	}
	return req, nil
}

// ParsedQuoteResponse is the immutable domain object the hub hands back
// to the pool's response router
type ParsedQuoteResponse struct {
	ShareHash ShareHash
	QuoteID   string
	Amount    uint64
	KeysetID  KeysetID
	ExpiresAt *uint64
}
