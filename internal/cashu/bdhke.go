// Package cashu implements the minimal Cashu core the ehash bridge
// depends on: the blind Diffie-Hellman key exchange (NUT-00), keyset
// derivation and identity (NUT-02), and quote locking witnesses
// (NUT-20). Only what quote issuance on the mint and proof redemption
// in the wallet require is implemented here.
package cashu

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

// hashToCurveDomain is the NUT-00 domain separator
var hashToCurveDomain = []byte("Secp256k1_HashToCurve_Cashu_")

// HashToCurve maps a secret to a curve point by hashing with an
// incrementing counter until the digest is a valid x coordinate.
func HashToCurve(secret []byte) (*secp256k1.PublicKey, error) {
	msgHash := sha256.Sum256(append(hashToCurveDomain, secret...))

	counter := make([]byte, 4)
	candidate := make([]byte, 33)
	candidate[0] = 0x02
	for i := uint32(0); i < 1<<16; i++ {
		binary.LittleEndian.PutUint32(counter, i)
		attempt := sha256.Sum256(append(msgHash[:], counter...))
		copy(candidate[1:], attempt[:])
		if pub, err := secp256k1.ParsePubKey(candidate); err == nil {
			return pub, nil
		}
	}
	return nil, fmt.Errorf("no curve point found for secret")
}

// BlindMessage computes B_ = Y + rG for secret point Y and blinding
// factor r.
func BlindMessage(secret []byte, r *secp256k1.PrivateKey) (*secp256k1.PublicKey, error) {
	y, err := HashToCurve(secret)
	if err != nil {
		return nil, err
	}

	var yPoint, rG, sum secp256k1.JacobianPoint
	y.AsJacobian(&yPoint)
	secp256k1.ScalarBaseMultNonConst(&r.Key, &rG)
	secp256k1.AddNonConst(&yPoint, &rG, &sum)
	sum.ToAffine()
	return secp256k1.NewPublicKey(&sum.X, &sum.Y), nil
}

// SignBlinded computes the blind signature C_ = kB_.
func SignBlinded(k *secp256k1.PrivateKey, blinded *secp256k1.PublicKey) *secp256k1.PublicKey {
	var bPoint, cPoint secp256k1.JacobianPoint
	blinded.AsJacobian(&bPoint)
	secp256k1.ScalarMultNonConst(&k.Key, &bPoint, &cPoint)
	cPoint.ToAffine()
	return secp256k1.NewPublicKey(&cPoint.X, &cPoint.Y)
}

// Unblind recovers C = C_ - rK from a blind signature, where K is the
// mint's public key for the amount.
func Unblind(blindSig *secp256k1.PublicKey, r *secp256k1.PrivateKey, mintKey *secp256k1.PublicKey) *secp256k1.PublicKey {
	var kPoint, rK, cBlind, c secp256k1.JacobianPoint
	mintKey.AsJacobian(&kPoint)
	secp256k1.ScalarMultNonConst(&r.Key, &kPoint, &rK)

	// Negate rK
	rK.ToAffine()
	rK.Y.Negate(1)
	rK.Y.Normalize()

	blindSig.AsJacobian(&cBlind)
	secp256k1.AddNonConst(&cBlind, &rK, &c)
	c.ToAffine()
	return secp256k1.NewPublicKey(&c.X, &c.Y)
}

// VerifyProof checks kY == C for the mint's private key k and a
// redeemed proof's secret and signature point.
func VerifyProof(k *secp256k1.PrivateKey, secret []byte, c *secp256k1.PublicKey) bool {
	y, err := HashToCurve(secret)
	if err != nil {
		return false
	}
	expected := SignBlinded(k, y)
	return expected.IsEqual(c)
}
