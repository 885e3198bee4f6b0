package cashu

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// MaxOrder is the number of power-of-two denominations in a keyset
const MaxOrder = 64

// Keyset holds the mint's per-amount signing keys for one epoch.
// Amounts are powers of two: 1, 2, 4, ... 2^(MaxOrder-1).
type Keyset struct {
	ID      [8]byte
	keys    map[uint64]*secp256k1.PrivateKey
	pubKeys map[uint64]*secp256k1.PublicKey
}

// DeriveKeyset deterministically derives a keyset from a seed. The
// same seed always yields the same keys and the same keyset id.
func DeriveKeyset(seed []byte) *Keyset {
	ks := &Keyset{
		keys:    make(map[uint64]*secp256k1.PrivateKey, MaxOrder),
		pubKeys: make(map[uint64]*secp256k1.PublicKey, MaxOrder),
	}

	amountBuf := make([]byte, 8)
	for i := 0; i < MaxOrder; i++ {
		amount := uint64(1) << i
		binary.LittleEndian.PutUint64(amountBuf, amount)

		material := sha256.New()
		material.Write(seed)
		material.Write([]byte("/ehash/keyset/"))
		material.Write(amountBuf)

		priv := secp256k1.PrivKeyFromBytes(material.Sum(nil))
		ks.keys[amount] = priv
		ks.pubKeys[amount] = priv.PubKey()
	}

	ks.ID = deriveKeysetID(ks.pubKeys)
	return ks
}

// deriveKeysetID hashes the ordered public keys and keeps a versioned
// 8-byte prefix, the NUT-02 construction.
func deriveKeysetID(pubKeys map[uint64]*secp256k1.PublicKey) [8]byte {
	amounts := make([]uint64, 0, len(pubKeys))
	for amount := range pubKeys {
		amounts = append(amounts, amount)
	}
	sort.Slice(amounts, func(i, j int) bool { return amounts[i] < amounts[j] })

	h := sha256.New()
	for _, amount := range amounts {
		h.Write(pubKeys[amount].SerializeCompressed())
	}
	digest := h.Sum(nil)

	var id [8]byte
	id[0] = 0x00 // keyset id version
	copy(id[1:], digest[:7])
	return id
}

// PrivateKey returns the signing key for an amount
func (ks *Keyset) PrivateKey(amount uint64) (*secp256k1.PrivateKey, error) {
	key, ok := ks.keys[amount]
	if !ok {
		return nil, fmt.Errorf("no key for amount %d", amount)
	}
	return key, nil
}

// PublicKey returns the verification key for an amount
func (ks *Keyset) PublicKey(amount uint64) (*secp256k1.PublicKey, error) {
	key, ok := ks.pubKeys[amount]
	if !ok {
		return nil, fmt.Errorf("no key for amount %d", amount)
	}
	return key, nil
}

// PublicKeys returns the full amount -> compressed pubkey map, as
// served by the keyset HTTP endpoint.
func (ks *Keyset) PublicKeys() map[uint64][]byte {
	out := make(map[uint64][]byte, len(ks.pubKeys))
	for amount, key := range ks.pubKeys {
		out[amount] = key.SerializeCompressed()
	}
	return out
}

// SplitAmount decomposes an amount into power-of-two denominations,
// smallest first.
func SplitAmount(amount uint64) []uint64 {
	var parts []uint64
	for bit := 0; bit < MaxOrder; bit++ {
		if amount&(1<<bit) != 0 {
			parts = append(parts, uint64(1)<<bit)
		}
	}
	return parts
}
