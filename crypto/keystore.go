package crypto

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/google/uuid"
)

type keystoreOptions struct {
	scryptN int
	scryptP int
}

// KeystoreOption tunes keystore encryption.
type KeystoreOption func(*keystoreOptions)

// LightKDF trades key derivation cost for speed. Meant for tests and
// throwaway keys.
func LightKDF() KeystoreOption {
	return func(o *keystoreOptions) {
		o.scryptN = keystore.LightScryptN
		o.scryptP = keystore.LightScryptP
	}
}

// SaveKeystore encrypts key into an Ethereum v3 keystore file at path. The
// parent directory is created with 0700 permissions.
func SaveKeystore(path string, key *PrivateKey, passphrase string, opts ...KeystoreOption) error {
	cfg := keystoreOptions{scryptN: keystore.StandardScryptN, scryptP: keystore.StandardScryptP}
	for _, opt := range opts {
		opt(&cfg)
	}
	if key == nil {
		return errors.New("crypto: nil private key")
	}
	if path == "" {
		return errors.New("crypto: empty keystore path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	id, err := uuid.NewRandom()
	if err != nil {
		return err
	}
	encrypted, err := keystore.EncryptKey(&keystore.Key{
		Id:         id,
		Address:    key.Identity(),
		PrivateKey: key.PrivateKey,
	}, passphrase, cfg.scryptN, cfg.scryptP)
	if err != nil {
		return err
	}
	return os.WriteFile(path, encrypted, 0o600)
}

// LoadKeystore decrypts an Ethereum v3 keystore file using the supplied passphrase.
func LoadKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errors.New("crypto: empty keystore path")
	}
	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}
