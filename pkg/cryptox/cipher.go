// Package cryptox holds the cryptography primitives shared by the API server
// and the sweeper: authenticated encryption of short secrets, keyed hashing
// for CSRF state, CSPRNG token generation, and HMAC signature verification.
//
// The ciphertext envelope is the interop contract between both binaries: the
// sweeper must be able to decrypt what the server wrote and vice versa.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
)

const (
	envelopeVersion = 1
	ivLen           = 12
	tagLen          = 16
	keyLen          = 32
)

// ErrCorrupt is the single error returned for any undecryptable input:
// unknown version, wrong lengths, tampering, truncation. The cause is never
// distinguished to the caller.
var ErrCorrupt = errors.New("cryptox: corrupt ciphertext")

// ErrBadKey is returned by New for keys that are not 32 bytes of hex.
var ErrBadKey = errors.New("cryptox: encryption key must be 64 hex characters (32 bytes)")

// envelope is the versioned on-disk ciphertext format.
type envelope struct {
	V    int    `json:"v"`
	IV   string `json:"iv"`
	Data string `json:"data"`
	Tag  string `json:"tag"`
}

// Cipher performs AES-256-GCM encryption under a process-wide key.
type Cipher struct {
	aead cipher.AEAD
}

// New builds a Cipher from a hex-encoded 32-byte key.
func New(keyHex string) (*Cipher, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) != keyLen {
		return nil, ErrBadKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, ErrBadKey
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, ErrBadKey
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals plaintext under a fresh random 96-bit IV and returns the
// JSON envelope as a string.
func (c *Cipher) Encrypt(plaintext []byte) (string, error) {
	iv := make([]byte, ivLen)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}

	sealed := c.aead.Seal(nil, iv, plaintext, nil)
	data, tag := sealed[:len(sealed)-tagLen], sealed[len(sealed)-tagLen:]

	blob, err := json.Marshal(envelope{
		V:    envelopeVersion,
		IV:   base64.StdEncoding.EncodeToString(iv),
		Data: base64.StdEncoding.EncodeToString(data),
		Tag:  base64.StdEncoding.EncodeToString(tag),
	})
	if err != nil {
		return "", err
	}
	return string(blob), nil
}

// Decrypt opens an envelope produced by Encrypt. Every failure mode returns
// ErrCorrupt.
func (c *Cipher) Decrypt(blob string) ([]byte, error) {
	var env envelope
	if err := json.Unmarshal([]byte(blob), &env); err != nil {
		return nil, ErrCorrupt
	}
	if env.V != envelopeVersion {
		return nil, ErrCorrupt
	}

	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil || len(iv) != ivLen {
		return nil, ErrCorrupt
	}
	data, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, ErrCorrupt
	}
	tag, err := base64.StdEncoding.DecodeString(env.Tag)
	if err != nil || len(tag) != tagLen {
		return nil, ErrCorrupt
	}

	plaintext, err := c.aead.Open(nil, iv, append(data, tag...), nil)
	if err != nil {
		return nil, ErrCorrupt
	}
	return plaintext, nil
}

// Digest returns the hex SHA-256 of value. Used for CSRF state hashing so
// the raw state value is never persisted.
func Digest(value string) string {
	sum := sha256.Sum256([]byte(value))
	return hex.EncodeToString(sum[:])
}
