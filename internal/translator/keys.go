package translator

import (
	"encoding/hex"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/hashpool/hashpool/pkg/errors"
)

// LoadOrGenerateLockingKey returns the proxy's persistent secp256k1
// locking keypair. The file holds the 32-byte private key as hex; if
// it does not exist a fresh key is generated and written with owner-only
// permissions. Only the compressed public key ever leaves the process.
func LoadOrGenerateLockingKey(path string) (*btcec.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil || len(raw) != 32 {
			return nil, errors.New(errors.ErrorTypeWallet, "load_locking_key",
				"locking key file is not 32 hex-encoded bytes").
				WithContext("path", path)
		}
		priv, _ := btcec.PrivKeyFromBytes(raw)
		return priv, nil
	}
	if !os.IsNotExist(err) {
		return nil, errors.Wrap(err, errors.ErrorTypeWallet, "load_locking_key", "failed to read key file")
	}

	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeInternal, "load_locking_key", "failed to generate key")
	}

	encoded := hex.EncodeToString(priv.Serialize())
	if err := os.WriteFile(path, []byte(encoded+"\n"), 0o600); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeWallet, "load_locking_key", "failed to persist key")
	}
	return priv, nil
}
