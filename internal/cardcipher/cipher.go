// Package cardcipher encrypts card numbers for storage and renders them safely for display.
//
// Ciphertexts are AES-GCM with a fresh random nonce per call, stored as
// base64(nonce || sealed). Errors never carry plaintext or key material.
package cardcipher

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
)

// RedactedPlaceholder is shown in place of a card number that cannot be decrypted.
const RedactedPlaceholder = "****"

// MinLookupKeyLen is the minimum HMAC key size accepted for lookup tokens.
const MinLookupKeyLen = 32

var (
	// ErrInvalidInput is returned for empty or malformed card numbers.
	ErrInvalidInput = errors.New("invalid card number")
	// ErrEncryption is returned when the underlying cipher fails to seal.
	ErrEncryption = errors.New("card number encryption failed")
	// ErrDecryption is returned for malformed, truncated or tampered ciphertexts.
	ErrDecryption = errors.New("card number decryption failed")
	// ErrInvalidKey is returned when a key has the wrong size.
	ErrInvalidKey = errors.New("invalid card cipher key")
)

// Cipher performs authenticated encryption of card numbers.
type Cipher struct {
	aead      cipher.AEAD
	lookupKey []byte
	random    io.Reader
}

// New creates a cipher from a 16, 24 or 32 byte AES key and an HMAC key used for lookup tokens.
func New(encryptionKey, lookupKey []byte) (*Cipher, error) {
	switch len(encryptionKey) {
	case 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: encryption key must be 16, 24, or 32 bytes, got %d", ErrInvalidKey, len(encryptionKey))
	}
	if len(lookupKey) < MinLookupKeyLen {
		return nil, fmt.Errorf("%w: lookup key must be at least %d bytes, got %d", ErrInvalidKey, MinLookupKeyLen, len(lookupKey))
	}

	block, err := aes.NewCipher(encryptionKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}

	key := make([]byte, len(lookupKey))
	copy(key, lookupKey)
	return &Cipher{aead: aead, lookupKey: key, random: rand.Reader}, nil
}

// NewFromHex decodes both keys from hex before calling New.
func NewFromHex(encryptionKeyHex, lookupKeyHex string) (*Cipher, error) {
	encKey, err := hex.DecodeString(encryptionKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: encryption key is not valid hex", ErrInvalidKey)
	}
	lookupKey, err := hex.DecodeString(lookupKeyHex)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup key is not valid hex", ErrInvalidKey)
	}
	return New(encKey, lookupKey)
}

// Encrypt normalizes and validates plaintext, then seals it under a fresh nonce.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	number, err := Normalize(plaintext)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(c.random, nonce); err != nil {
		return "", fmt.Errorf("%w: nonce generation", ErrEncryption)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(number), nil)
	out := make([]byte, 0, len(nonce)+len(sealed))
	out = append(out, nonce...)
	out = append(out, sealed...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt opens a ciphertext produced by Encrypt.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	if ciphertext == "" {
		return "", fmt.Errorf("%w: empty ciphertext", ErrDecryption)
	}
	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: malformed encoding", ErrDecryption)
	}

	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize+c.aead.Overhead() {
		return "", fmt.Errorf("%w: truncated ciphertext", ErrDecryption)
	}

	plain, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: authentication failed", ErrDecryption)
	}
	return string(plain), nil
}

// Matches reports whether ciphertext decrypts to the same card number as plaintext.
// Any failure, including a malformed record, is reported as a non-match.
func (c *Cipher) Matches(plaintext, ciphertext string) bool {
	number, err := Normalize(plaintext)
	if err != nil {
		return false
	}
	stored, err := c.Decrypt(ciphertext)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(number), []byte(stored)) == 1
}

// Mask returns the display form "1234 **** **** 5678", or RedactedPlaceholder if the
// ciphertext cannot be opened.
func (c *Cipher) Mask(ciphertext string) string {
	number, err := c.Decrypt(ciphertext)
	if err != nil {
		return RedactedPlaceholder
	}
	return MaskNumber(number)
}

// LookupToken returns a deterministic keyed digest of the normalized card number,
// suitable for an indexed equality lookup.
func (c *Cipher) LookupToken(plaintext string) (string, error) {
	number, err := Normalize(plaintext)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, c.lookupKey)
	mac.Write([]byte(number))
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// MaskNumber masks an already decrypted number.
func MaskNumber(number string) string {
	if len(number) < 8 {
		return RedactedPlaceholder
	}
	return number[:4] + " **** **** " + number[len(number)-4:]
}
