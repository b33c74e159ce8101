package crypto

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"lotterychain/native/lottery"
)

// GenerateKey creates a new secp256k1 private key.
func GenerateKey() (*ecdsa.PrivateKey, error) {
	return ethcrypto.GenerateKey()
}

// IdentityFromPubkey derives the lottery identity controlled by pub: the
// keccak256 hash of its uncompressed encoding.
func IdentityFromPubkey(pub *ecdsa.PublicKey) lottery.Identity {
	var id lottery.Identity
	copy(id[:], ethcrypto.Keccak256(ethcrypto.FromECDSAPub(pub)))
	return id
}

// IdentityFromKey derives the identity controlled by key.
func IdentityFromKey(key *ecdsa.PrivateKey) lottery.Identity {
	return IdentityFromPubkey(&key.PublicKey)
}

// ParseKey decodes a hex private key, with or without a 0x prefix.
func ParseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	key, err := ethcrypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto: parse key: %w", err)
	}
	return key, nil
}

// LoadKey reads a hex private key file written by SaveKey.
func LoadKey(path string) (*ecdsa.PrivateKey, error) {
	key, err := ethcrypto.LoadECDSA(path)
	if err != nil {
		return nil, fmt.Errorf("crypto: load key %s: %w", path, err)
	}
	return key, nil
}

// SaveKey writes key as hex to path with owner-only permissions.
func SaveKey(path string, key *ecdsa.PrivateKey) error {
	return ethcrypto.SaveECDSA(path, key)
}
