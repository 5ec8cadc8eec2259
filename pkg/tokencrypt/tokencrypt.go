// Package tokencrypt encrypts OAuth tokens at rest with AES-256-GCM.
package tokencrypt

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// KeySize is the AES-256 key length in bytes
	KeySize = 32
	// IVSize is the GCM nonce length in bytes
	IVSize = 12
	// TagSize is the GCM authentication tag length in bytes
	TagSize = 16

	separator = ":"
)

var (
	// ErrDecryptionFailed is returned when the tag does not verify (wrong key or tampered value)
	ErrDecryptionFailed = errors.New("token decryption failed")
	// ErrMalformed is returned when a stored value cannot be parsed
	ErrMalformed = errors.New("malformed encrypted value")
)

// Sealed is an encrypted token: ciphertext, GCM tag and the IV it was sealed with.
// The IV is not secret.
type Sealed struct {
	Ciphertext []byte
	Tag        []byte
	IV         []byte
}

// Encode serializes the value for storage as ("hex(ciphertext):hex(tag)", hex(iv))
func (s Sealed) Encode() (value string, iv string) {
	return hex.EncodeToString(s.Ciphertext) + separator + hex.EncodeToString(s.Tag), hex.EncodeToString(s.IV)
}

// Parse is the inverse of Sealed.Encode
func Parse(value, iv string) (Sealed, error) {
	parts := strings.Split(value, separator)
	if len(parts) != 2 {
		return Sealed{}, fmt.Errorf("%w: expected ciphertext%stag", ErrMalformed, separator)
	}

	ciphertext, err := hex.DecodeString(parts[0])
	if err != nil {
		return Sealed{}, fmt.Errorf("%w: ciphertext: %v", ErrMalformed, err)
	}
	tag, err := hex.DecodeString(parts[1])
	if err != nil {
		return Sealed{}, fmt.Errorf("%w: tag: %v", ErrMalformed, err)
	}
	nonce, err := hex.DecodeString(iv)
	if err != nil {
		return Sealed{}, fmt.Errorf("%w: iv: %v", ErrMalformed, err)
	}
	if len(tag) != TagSize || len(nonce) != IVSize {
		return Sealed{}, fmt.Errorf("%w: unexpected tag or iv length", ErrMalformed)
	}

	return Sealed{Ciphertext: ciphertext, Tag: tag, IV: nonce}, nil
}

// Encryptor seals and opens tokens with a single 256-bit key
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor creates an encryptor. The key must be exactly 32 bytes.
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("encryption key must be exactly %d bytes, got %d", KeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcm: %w", err)
	}

	return &Encryptor{aead: aead}, nil
}

// NewEncryptorFromHex creates an encryptor from a 64 character hex key
func NewEncryptorFromHex(hexKey string) (*Encryptor, error) {
	key, err := hex.DecodeString(strings.TrimSpace(hexKey))
	if err != nil {
		return nil, fmt.Errorf("encryption key is not valid hex: %w", err)
	}
	return NewEncryptor(key)
}

// GenerateKey returns a new random key, hex encoded
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("failed to generate key: %w", err)
	}
	return hex.EncodeToString(key), nil
}

// Encrypt seals plaintext under a freshly generated random IV.
// Every call draws a new IV, so two fields of one record never share one.
func (e *Encryptor) Encrypt(plaintext string) (Sealed, error) {
	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return Sealed{}, fmt.Errorf("failed to generate iv: %w", err)
	}

	out := e.aead.Seal(nil, iv, []byte(plaintext), nil)
	split := len(out) - TagSize

	return Sealed{
		Ciphertext: out[:split],
		Tag:        out[split:],
		IV:         iv,
	}, nil
}

// Decrypt opens a sealed value. It never returns partial plaintext.
func (e *Encryptor) Decrypt(s Sealed) (string, error) {
	if len(s.IV) != IVSize || len(s.Tag) != TagSize {
		return "", fmt.Errorf("%w: unexpected tag or iv length", ErrMalformed)
	}

	combined := make([]byte, 0, len(s.Ciphertext)+len(s.Tag))
	combined = append(combined, s.Ciphertext...)
	combined = append(combined, s.Tag...)

	plaintext, err := e.aead.Open(nil, s.IV, combined, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// EncryptToStrings is Encrypt followed by Encode
func (e *Encryptor) EncryptToStrings(plaintext string) (value string, iv string, err error) {
	sealed, err := e.Encrypt(plaintext)
	if err != nil {
		return "", "", err
	}
	value, iv = sealed.Encode()
	return value, iv, nil
}

// DecryptStrings is Parse followed by Decrypt
func (e *Encryptor) DecryptStrings(value, iv string) (string, error) {
	sealed, err := Parse(value, iv)
	if err != nil {
		return "", err
	}
	return e.Decrypt(sealed)
}
