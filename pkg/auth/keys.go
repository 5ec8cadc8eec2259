package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// KeyPrefix identifies RestoreAssist API keys
	KeyPrefix = "ra_"
	// KeyLength is the number of random bytes in a key (32 bytes = 256 bits)
	KeyLength = 32
	// DisplayPrefixLength is how much of the key is stored for identification
	DisplayPrefixLength = 11
)

// encodedKeyLength is the base64url length of KeyLength bytes without padding
var encodedKeyLength = base64.RawURLEncoding.EncodedLen(KeyLength)

// KeyGenerator generates and validates API keys
type KeyGenerator struct{}

// NewKeyGenerator creates a new key generator
func NewKeyGenerator() *KeyGenerator {
	return &KeyGenerator{}
}

// Generate creates a new API key
// Format: ra_<base64url(32 random bytes)>
func (g *KeyGenerator) Generate() (key string, keyHash string, keyPrefix string, err error) {
	randomBytes := make([]byte, KeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	key = KeyPrefix + base64.RawURLEncoding.EncodeToString(randomBytes)
	return key, g.Hash(key), g.DisplayPrefix(key), nil
}

// Hash computes the SHA256 hex digest of a key for lookup
func (g *KeyGenerator) Hash(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}

// ValidateFormat checks if a key has the correct format
func (g *KeyGenerator) ValidateFormat(key string) error {
	if !strings.HasPrefix(key, KeyPrefix) {
		return fmt.Errorf("key must start with %q", KeyPrefix)
	}

	encoded := strings.TrimPrefix(key, KeyPrefix)
	if len(encoded) != encodedKeyLength {
		return fmt.Errorf("key has invalid length")
	}

	if _, err := base64.RawURLEncoding.DecodeString(encoded); err != nil {
		return fmt.Errorf("invalid key encoding: %w", err)
	}

	return nil
}

// DisplayPrefix returns the leading characters of a key shown to users
func (g *KeyGenerator) DisplayPrefix(key string) string {
	if len(key) <= DisplayPrefixLength {
		return key
	}
	return key[:DisplayPrefixLength]
}
