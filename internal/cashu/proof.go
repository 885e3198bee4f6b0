package cashu

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// BlindedMessage is one output the wallet asks the mint to sign.
// Hex encodings keep the HTTP API JSON-friendly.
type BlindedMessage struct {
	Amount   uint64 `json:"amount"`
	KeysetID string `json:"id"`
	B        string `json:"B_"`
}

// BlindSignature is the mint's signature over one blinded message
type BlindSignature struct {
	Amount   uint64 `json:"amount"`
	KeysetID string `json:"id"`
	C        string `json:"C_"`
}

// Proof is one unblinded ecash token held by the wallet
type Proof struct {
	Amount   uint64 `json:"amount"`
	KeysetID string `json:"id"`
	Secret   string `json:"secret"`
	C        string `json:"C"`
}

// ParsePoint decodes a hex compressed public key
func ParsePoint(s string) (*secp256k1.PublicKey, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid point hex: %w", err)
	}
	return secp256k1.ParsePubKey(raw)
}

// PointHex encodes a public key as compressed hex
func PointHex(p *secp256k1.PublicKey) string {
	return hex.EncodeToString(p.SerializeCompressed())
}

// quoteWitnessDigest hashes a quote id together with the blinded
// messages it redeems, the NUT-20 signing payload.
func quoteWitnessDigest(quoteID string, outputs []BlindedMessage) [32]byte {
	h := sha256.New()
	h.Write([]byte(quoteID))
	for _, out := range outputs {
		h.Write([]byte(out.B))
	}
	var digest [32]byte
	copy(digest[:], h.Sum(nil))
	return digest
}

// SignQuoteWitness produces the NUT-20 witness: a Schnorr signature by
// the quote's locking key over the quote id and outputs.
func SignQuoteWitness(lockingKey *secp256k1.PrivateKey, quoteID string, outputs []BlindedMessage) (string, error) {
	digest := quoteWitnessDigest(quoteID, outputs)
	sig, err := schnorr.Sign(lockingKey, digest[:])
	if err != nil {
		return "", fmt.Errorf("failed to sign quote witness: %w", err)
	}
	return hex.EncodeToString(sig.Serialize()), nil
}

// VerifyQuoteWitness checks a NUT-20 witness against the quote's
// 33-byte compressed locking key.
func VerifyQuoteWitness(lockingPubKey []byte, quoteID string, outputs []BlindedMessage, witness string) error {
	pub, err := secp256k1.ParsePubKey(lockingPubKey)
	if err != nil {
		return fmt.Errorf("invalid locking key: %w", err)
	}

	sigBytes, err := hex.DecodeString(witness)
	if err != nil {
		return fmt.Errorf("invalid witness hex: %w", err)
	}
	sig, err := schnorr.ParseSignature(sigBytes)
	if err != nil {
		return fmt.Errorf("invalid witness signature: %w", err)
	}

	digest := quoteWitnessDigest(quoteID, outputs)
	if !sig.Verify(digest[:], pub) {
		return fmt.Errorf("witness signature does not match locking key")
	}
	return nil
}
