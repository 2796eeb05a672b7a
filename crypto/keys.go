package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// IdentityPrefix is the human-readable part of bech32 encoded identities.
const IdentityPrefix = "esc"

// EncodeIdentity renders addr as a bech32 string with the "esc" prefix.
func EncodeIdentity(addr common.Address) string {
	conv, err := bech32.ConvertBits(addr.Bytes(), 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(IdentityPrefix, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// ParseIdentity accepts either a 0x-prefixed hex address or a bech32 string
// carrying the "esc" prefix. The zero address is rejected.
func ParseIdentity(value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return common.Address{}, fmt.Errorf("identity is required")
	}
	var addr common.Address
	if strings.HasPrefix(trimmed, "0x") || strings.HasPrefix(trimmed, "0X") {
		if !common.IsHexAddress(trimmed) {
			return common.Address{}, fmt.Errorf("invalid hex identity %q", value)
		}
		addr = common.HexToAddress(trimmed)
	} else {
		prefix, decoded, err := bech32.Decode(trimmed)
		if err != nil {
			return common.Address{}, fmt.Errorf("invalid bech32 string: %w", err)
		}
		if prefix != IdentityPrefix {
			return common.Address{}, fmt.Errorf("unexpected identity prefix %q", prefix)
		}
		conv, err := bech32.ConvertBits(decoded, 5, 8, false)
		if err != nil {
			return common.Address{}, fmt.Errorf("error converting bits: %w", err)
		}
		if len(conv) != common.AddressLength {
			return common.Address{}, fmt.Errorf("identity must be %d bytes, got %d", common.AddressLength, len(conv))
		}
		addr = common.BytesToAddress(conv)
	}
	if addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("zero identity is not allowed")
	}
	return addr, nil
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(crypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return crypto.FromECDSA(k.PrivateKey)
}

// Identity returns the address derived from the key's public half.
func (k *PrivateKey) Identity() common.Address {
	return crypto.PubkeyToAddress(k.PrivateKey.PublicKey)
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := crypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}
