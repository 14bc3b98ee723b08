package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

const detailsKeyInfo = "social-wallet payout details v1"

// AESDetailsCipher implements ports.DetailsCipher with AES-256-GCM under a key
// derived from the configured master key via HKDF-SHA256.
type AESDetailsCipher struct {
	aead cipher.AEAD
}

// NewAESDetailsCipher creates a cipher. hexKey must decode to at least 32 bytes.
func NewAESDetailsCipher(hexKey string) (*AESDetailsCipher, error) {
	master, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decoding details key: %w", err)
	}
	if len(master) < 32 {
		return nil, fmt.Errorf("details key must be at least 32 bytes, got %d", len(master))
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(detailsKeyInfo)), key); err != nil {
		return nil, fmt.Errorf("deriving details key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &AESDetailsCipher{aead: aead}, nil
}

// Encrypt returns base64(nonce || ciphertext).
func (c *AESDetailsCipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (c *AESDetailsCipher) Decrypt(ciphertext string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}
	n := c.aead.NonceSize()
	if len(raw) < n {
		return "", fmt.Errorf("ciphertext too short")
	}
	plaintext, err := c.aead.Open(nil, raw[:n], raw[n:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypting: %w", err)
	}
	return string(plaintext), nil
}
