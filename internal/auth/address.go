package auth

import (
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// DeriveAddress computes the ledger address for a public key: the last
// 20 bytes of the Keccak-256 digest, hex-encoded with a 0x prefix. The
// same key always derives the same address, so a reconnecting party
// keeps its ticket associations.
func DeriveAddress(publicKey []byte) (string, error) {
	if len(publicKey) == 0 {
		return "", fmt.Errorf("empty public key")
	}
	hash := sha3.NewLegacyKeccak256()
	hash.Write(publicKey)
	digest := hash.Sum(nil)
	return "0x" + hex.EncodeToString(digest[len(digest)-20:]), nil
}

// ParsePublicKey decodes a hex-encoded public key, with or without a 0x
// prefix.
func ParsePublicKey(s string) ([]byte, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if s == "" {
		return nil, fmt.Errorf("empty public key")
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("invalid public key hex: %w", err)
	}
	return key, nil
}

// ValidAddress reports whether s looks like a derived ledger address.
func ValidAddress(s string) bool {
	if !strings.HasPrefix(s, "0x") || len(s) != 42 {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}
