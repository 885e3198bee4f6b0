package cashu

import (
	"testing"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
)

func TestHashToCurve_Deterministic(t *testing.T) {
	secret := []byte("test-secret")

	first, err := HashToCurve(secret)
	if err != nil {
		t.Fatalf("HashToCurve() error = %v", err)
	}
	second, err := HashToCurve(secret)
	if err != nil {
		t.Fatalf("HashToCurve() error = %v", err)
	}
	if !first.IsEqual(second) {
		t.Error("HashToCurve is not deterministic")
	}

	other, err := HashToCurve([]byte("other-secret"))
	if err != nil {
		t.Fatalf("HashToCurve() error = %v", err)
	}
	if first.IsEqual(other) {
		t.Error("distinct secrets mapped to the same point")
	}
}

func TestBlindSignUnblindVerify(t *testing.T) {
	mintKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("failed to generate mint key: %v", err)
	}
	blindingFactor, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("failed to generate blinding factor: %v", err)
	}

	secret := []byte("share-secret-0001")

	blinded, err := BlindMessage(secret, blindingFactor)
	if err != nil {
		t.Fatalf("BlindMessage() error = %v", err)
	}

	blindSig := SignBlinded(mintKey, blinded)
	unblinded := Unblind(blindSig, blindingFactor, mintKey.PubKey())

	if !VerifyProof(mintKey, secret, unblinded) {
		t.Error("unblinded signature failed verification")
	}

	// A different secret must not verify against the same signature
	if VerifyProof(mintKey, []byte("wrong-secret"), unblinded) {
		t.Error("wrong secret verified")
	}

	// A different mint key must not verify
	otherKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	if VerifyProof(otherKey, secret, unblinded) {
		t.Error("wrong mint key verified")
	}
}

func TestDeriveKeyset(t *testing.T) {
	seed := []byte("keyset-seed")

	first := DeriveKeyset(seed)
	second := DeriveKeyset(seed)

	if first.ID != second.ID {
		t.Error("same seed produced different keyset ids")
	}

	other := DeriveKeyset([]byte("different-seed"))
	if first.ID == other.ID {
		t.Error("different seeds produced the same keyset id")
	}

	if first.ID[0] != 0x00 {
		t.Errorf("keyset id version byte = 0x%02x, want 0x00", first.ID[0])
	}

	// Every power-of-two denomination must have a key
	for i := 0; i < MaxOrder; i++ {
		amount := uint64(1) << i
		priv, err := first.PrivateKey(amount)
		if err != nil {
			t.Fatalf("PrivateKey(%d) error = %v", amount, err)
		}
		pub, err := first.PublicKey(amount)
		if err != nil {
			t.Fatalf("PublicKey(%d) error = %v", amount, err)
		}
		if !priv.PubKey().IsEqual(pub) {
			t.Errorf("key pair mismatch for amount %d", amount)
		}
	}

	if _, err := first.PrivateKey(3); err == nil {
		t.Error("expected error for non-power-of-two amount")
	}
}

func TestSplitAmount(t *testing.T) {
	tests := []struct {
		amount uint64
		want   []uint64
	}{
		{0, nil},
		{1, []uint64{1}},
		{2, []uint64{2}},
		{3, []uint64{1, 2}},
		{13, []uint64{1, 4, 8}},
		{4096, []uint64{4096}},
	}

	for _, tt := range tests {
		got := SplitAmount(tt.amount)
		if len(got) != len(tt.want) {
			t.Errorf("SplitAmount(%d) = %v, want %v", tt.amount, got, tt.want)
			continue
		}
		var sum uint64
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("SplitAmount(%d) = %v, want %v", tt.amount, got, tt.want)
			}
			sum += got[i]
		}
		if sum != tt.amount {
			t.Errorf("SplitAmount(%d) sums to %d", tt.amount, sum)
		}
	}
}

func TestQuoteWitness(t *testing.T) {
	lockingKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("failed to generate locking key: %v", err)
	}
	outputs := []BlindedMessage{
		{Amount: 2, KeysetID: "0011223344556677", B: "02aabb"},
		{Amount: 1, KeysetID: "0011223344556677", B: "02ccdd"},
	}

	witness, err := SignQuoteWitness(lockingKey, "q-1", outputs)
	if err != nil {
		t.Fatalf("SignQuoteWitness() error = %v", err)
	}

	pubKey := lockingKey.PubKey().SerializeCompressed()
	if err := VerifyQuoteWitness(pubKey, "q-1", outputs, witness); err != nil {
		t.Errorf("VerifyQuoteWitness() error = %v", err)
	}

	// Wrong quote id must fail
	if err := VerifyQuoteWitness(pubKey, "q-2", outputs, witness); err == nil {
		t.Error("witness verified for wrong quote id")
	}

	// Wrong key must fail
	otherKey, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	otherPub := otherKey.PubKey().SerializeCompressed()
	if err := VerifyQuoteWitness(otherPub, "q-1", outputs, witness); err == nil {
		t.Error("witness verified for wrong locking key")
	}

	// Tampered outputs must fail
	tampered := []BlindedMessage{outputs[0]}
	if err := VerifyQuoteWitness(pubKey, "q-1", tampered, witness); err == nil {
		t.Error("witness verified for tampered outputs")
	}
}
