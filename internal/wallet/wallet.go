// Package wallet implements the translator-side Cashu wallet: it
// redeems mint quotes into proofs over the mint's HTTP API and
// persists them in a local SQLite database.
package wallet

import (
	"bytes"
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	_ "github.com/mattn/go-sqlite3"

	"github.com/hashpool/hashpool/internal/cashu"
	"github.com/hashpool/hashpool/pkg/circuit"
	"github.com/hashpool/hashpool/pkg/errors"
	"github.com/hashpool/hashpool/pkg/log"
)

const schema = `
CREATE TABLE IF NOT EXISTS proofs (
	secret     TEXT PRIMARY KEY,
	quote_id   TEXT NOT NULL,
	amount     INTEGER NOT NULL,
	keyset_id  TEXT NOT NULL,
	c          TEXT NOT NULL,
	spent      INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS quotes (
	id         TEXT PRIMARY KEY,
	amount     INTEGER NOT NULL,
	state      TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	minted_at  TIMESTAMP
);
CREATE TABLE IF NOT EXISTS keysets (
	id         TEXT PRIMARY KEY,
	unit       TEXT NOT NULL,
	keys       TEXT NOT NULL,
	fetched_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_proofs_quote ON proofs(quote_id);
`

// Wallet holds the locking key, the active mint keyset, and the proof
// database. One wallet per translator process.
type Wallet struct {
	db         *sql.DB
	lockingKey *secp256k1.PrivateKey
	mintURL    string
	client     *http.Client
	breaker    *circuit.Breaker
	logger     *log.Logger

	mu         sync.RWMutex
	keysetID   string
	mintPubKey map[uint64]*secp256k1.PublicKey
}

// Open opens (creating if needed) the wallet database
func Open(dbPath string, lockingKey *secp256k1.PrivateKey, mintURL string, httpTimeout time.Duration, logger *log.Logger) (*Wallet, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeWallet, "open_wallet", "failed to open database")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, errors.ErrorTypeWallet, "open_wallet", "failed to migrate schema")
	}

	return &Wallet{
		db:         db,
		lockingKey: lockingKey,
		mintURL:    mintURL,
		client:     &http.Client{Timeout: httpTimeout},
		breaker:    circuit.New(nil),
		logger:     logger.WithComponent("wallet"),
	}, nil
}

// Close releases the database
func (w *Wallet) Close() error {
	return w.db.Close()
}

// KeysetID returns the active keyset id, empty until FetchKeyset
// succeeds.
func (w *Wallet) KeysetID() string {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.keysetID
}

type keysetListing struct {
	Keysets []struct {
		ID     string            `json:"id"`
		Unit   string            `json:"unit"`
		Active bool              `json:"active"`
		Keys   map[uint64]string `json:"keys"`
	} `json:"keysets"`
}

// FetchKeyset loads the mint's active keyset over HTTP and caches it
// in memory and in the keysets table. Called at startup; the
// translator refuses shares until this has succeeded.
func (w *Wallet) FetchKeyset(ctx context.Context) error {
	listing, err := circuit.ExecuteWithResult(ctx, w.breaker, func() (*keysetListing, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.mintURL+"/v1/keysets", nil)
		if err != nil {
			return nil, err
		}
		resp, err := w.client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("keyset fetch returned %d", resp.StatusCode)
		}
		var listing keysetListing
		if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
			return nil, err
		}
		return &listing, nil
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "fetch_keyset", "mint keyset fetch failed")
	}

	for _, ks := range listing.Keysets {
		if !ks.Active {
			continue
		}
		pubKeys := make(map[uint64]*secp256k1.PublicKey, len(ks.Keys))
		for amount, keyHex := range ks.Keys {
			pub, err := cashu.ParsePoint(keyHex)
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeWallet, "fetch_keyset", "invalid mint key")
			}
			pubKeys[amount] = pub
		}

		keysJSON, err := json.Marshal(ks.Keys)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "fetch_keyset", "failed to encode keys")
		}
		if _, err := w.db.ExecContext(ctx,
			`INSERT OR REPLACE INTO keysets (id, unit, keys, fetched_at) VALUES (?, ?, ?, ?)`,
			ks.ID, ks.Unit, string(keysJSON), time.Now()); err != nil {
			return errors.Wrap(err, errors.ErrorTypeWallet, "fetch_keyset", "failed to persist keyset")
		}

		w.mu.Lock()
		w.keysetID = ks.ID
		w.mintPubKey = pubKeys
		w.mu.Unlock()
		w.logger.Info("keyset acquired", "keyset_id", ks.ID, "denominations", len(pubKeys))
		return nil
	}

	return errors.New(errors.ErrorTypeWallet, "fetch_keyset", "mint reported no active keyset")
}

type mintRequestBody struct {
	Quote   string                 `json:"quote"`
	Outputs []cashu.BlindedMessage `json:"outputs"`
	Witness string                 `json:"witness"`
}

type mintResponseBody struct {
	Signatures []cashu.BlindSignature `json:"signatures"`
}

// RedeemQuote turns one issued quote into stored proofs: blind the
// secrets, sign the quote witness with the locking key, call the mint,
// unblind, persist. A failure leaves no partial proofs behind; the
// caller keeps its quote record for inspection.
func (w *Wallet) RedeemQuote(ctx context.Context, quoteID string, amount uint64) error {
	w.mu.RLock()
	keysetID := w.keysetID
	mintPubKey := w.mintPubKey
	w.mu.RUnlock()
	if keysetID == "" {
		return errors.New(errors.ErrorTypeWallet, "redeem_quote", "no keyset known")
	}

	parts := cashu.SplitAmount(amount)
	secrets := make([][]byte, len(parts))
	factors := make([]*secp256k1.PrivateKey, len(parts))
	outputs := make([]cashu.BlindedMessage, len(parts))

	for i, part := range parts {
		secret := make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "redeem_quote", "failed to draw secret")
		}
		factor, err := secp256k1.GeneratePrivateKey()
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeInternal, "redeem_quote", "failed to draw blinding factor")
		}
		blinded, err := cashu.BlindMessage(secret, factor)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeWallet, "redeem_quote", "failed to blind secret")
		}

		secrets[i] = secret
		factors[i] = factor
		outputs[i] = cashu.BlindedMessage{
			Amount:   part,
			KeysetID: keysetID,
			B:        cashu.PointHex(blinded),
		}
	}

	witness, err := cashu.SignQuoteWitness(w.lockingKey, quoteID, outputs)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeWallet, "redeem_quote", "failed to sign witness")
	}

	reply, err := circuit.ExecuteWithResult(ctx, w.breaker, func() (*mintResponseBody, error) {
		return w.postMint(ctx, &mintRequestBody{Quote: quoteID, Outputs: outputs, Witness: witness})
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeNetwork, "redeem_quote", "mint call failed")
	}
	if len(reply.Signatures) != len(outputs) {
		return errors.New(errors.ErrorTypeWallet, "redeem_quote", "mint returned wrong signature count")
	}

	proofs := make([]cashu.Proof, len(reply.Signatures))
	for i, sig := range reply.Signatures {
		if sig.Amount != outputs[i].Amount {
			return errors.New(errors.ErrorTypeWallet, "redeem_quote", "mint reordered signatures")
		}
		blindSig, err := cashu.ParsePoint(sig.C)
		if err != nil {
			return errors.Wrap(err, errors.ErrorTypeWallet, "redeem_quote", "invalid blind signature")
		}
		mintPub, ok := mintPubKey[sig.Amount]
		if !ok {
			return errors.New(errors.ErrorTypeWallet, "redeem_quote", "no mint key for amount")
		}
		proofs[i] = cashu.Proof{
			Amount:   sig.Amount,
			KeysetID: sig.KeysetID,
			Secret:   hex.EncodeToString(secrets[i]),
			C:        cashu.PointHex(cashu.Unblind(blindSig, factors[i], mintPub)),
		}
	}

	if err := w.storeProofs(ctx, quoteID, amount, proofs); err != nil {
		return err
	}

	w.logger.WithQuote(quoteID, amount).Info("quote redeemed", "proofs", len(proofs))
	return nil
}

func (w *Wallet) postMint(ctx context.Context, body *mintRequestBody) (*mintResponseBody, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.mintURL+"/v1/mint", bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("mint returned %d", resp.StatusCode)
	}

	var reply mintResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, err
	}
	return &reply, nil
}

// storeProofs persists the proofs and the quote record atomically
func (w *Wallet) storeProofs(ctx context.Context, quoteID string, amount uint64, proofs []cashu.Proof) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeWallet, "store_proofs", "failed to begin transaction")
	}
	defer tx.Rollback()

	now := time.Now()
	for _, proof := range proofs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO proofs (secret, quote_id, amount, keyset_id, c, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
			proof.Secret, quoteID, proof.Amount, proof.KeysetID, proof.C, now); err != nil {
			return errors.Wrap(err, errors.ErrorTypeWallet, "store_proofs", "failed to insert proof")
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO quotes (id, amount, state, created_at, minted_at) VALUES (?, ?, 'MINTED', ?, ?)`,
		quoteID, amount, now, now); err != nil {
		return errors.Wrap(err, errors.ErrorTypeWallet, "store_proofs", "failed to record quote")
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeWallet, "store_proofs", "failed to commit")
	}
	return nil
}

// Balance sums the unspent proofs
func (w *Wallet) Balance(ctx context.Context) (uint64, error) {
	var balance sql.NullInt64
	err := w.db.QueryRowContext(ctx,
		`SELECT SUM(amount) FROM proofs WHERE spent = 0`).Scan(&balance)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeWallet, "balance", "failed to query balance")
	}
	if !balance.Valid {
		return 0, nil
	}
	return uint64(balance.Int64), nil
}

// ProofCount reports how many unspent proofs the wallet holds
func (w *Wallet) ProofCount(ctx context.Context) (int, error) {
	var count int
	err := w.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM proofs WHERE spent = 0`).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeWallet, "proof_count", "failed to count proofs")
	}
	return count, nil
}
