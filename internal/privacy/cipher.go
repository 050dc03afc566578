package privacy

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

// encryptedPrefix marks values produced by Cipher.Encrypt
const encryptedPrefix = "enc:v1:"

const nonceSize = 24

// ErrNotEncrypted is returned when decrypting a value that was never encrypted
var ErrNotEncrypted = errors.New("value is not an encrypted token")

// Cipher encrypts redacted values with a key that never leaves this machine
type Cipher struct {
	key [32]byte
}

// NewCipher creates a cipher from a base64 encoded 32-byte key
func NewCipher(encodedKey string) (*Cipher, error) {
	raw, err := base64.StdEncoding.DecodeString(encodedKey)
	if err != nil {
		return nil, fmt.Errorf("failed to decode encryption key: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(raw))
	}

	c := &Cipher{}
	copy(c.key[:], raw)
	return c, nil
}

// GenerateKey returns a new random base64 encoded key
func GenerateKey() (string, error) {
	var key [32]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return "", fmt.Errorf("failed to generate encryption key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key[:]), nil
}

// Encrypt seals plaintext into an opaque token
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, &c.key)
	return encryptedPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Decrypt opens a token produced by Encrypt
func (c *Cipher) Decrypt(token string) (string, error) {
	if !IsEncrypted(token) {
		return "", ErrNotEncrypted
	}

	sealed, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(token, encryptedPrefix))
	if err != nil {
		return "", fmt.Errorf("failed to decode token: %w", err)
	}
	if len(sealed) < nonceSize+secretbox.Overhead {
		return "", errors.New("token too short")
	}

	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])

	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &c.key)
	if !ok {
		return "", errors.New("token was not encrypted with this key")
	}
	return string(plain), nil
}

// IsEncrypted reports whether value looks like an encrypted token
func IsEncrypted(value string) bool {
	return strings.HasPrefix(value, encryptedPrefix)
}
