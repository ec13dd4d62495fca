// Package cryptox holds the key-derivation and authenticated-encryption
// primitives used by the vault format adaptors.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/vaultcore/internal/common"
	"github.com/dmitrijs2005/vaultcore/internal/models"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

const (
	KeySize   = 32
	NonceSize = 12
	SaltSize  = 16
	TagSize   = 16
)

var ErrAuthFailed = errors.New("authentication failed")

// KDFParams are the argon2id cost parameters stored in a vault header.
type KDFParams struct {
	Time    uint32
	Memory  uint32
	Threads uint8
}

// DefaultKDFParams matches the cost used for master keys.
var DefaultKDFParams = KDFParams{Time: 1, Memory: 64 * 1024, Threads: 4}

// DeriveKey derives a 256-bit key from secret with argon2id.
func DeriveKey(secret, salt []byte, p KDFParams) []byte {
	return argon2.IDKey(secret, salt, p.Time, p.Memory, p.Threads, KeySize)
}

// DerivePBKDF2 derives a 256-bit key with PBKDF2-SHA256. Only the legacy
// format uses it.
func DerivePBKDF2(secret, salt []byte, iterations int) []byte {
	return pbkdf2.Key(secret, salt, iterations, KeySize, sha256.New)
}

// CompositeKeyMaterial combines the key factors into the secret fed to the
// KDF: the password bytes followed by the SHA-256 of the key file, if any.
func CompositeKeyMaterial(k models.CompositeKey) ([]byte, error) {
	if k.IsEmpty() {
		return nil, fmt.Errorf("%w: empty composite key", common.ErrCredential)
	}
	out := make([]byte, 0, len(k.Password)+sha256.Size)
	out = append(out, k.Password...)
	if len(k.KeyFile) > 0 {
		h := sha256.Sum256(k.KeyFile)
		out = append(out, h[:]...)
	}
	return out, nil
}

// Seal encrypts plaintext with AES-256-GCM, binding aad. The returned
// nonce is random per call.
func Seal(key, plaintext, aad []byte) (ciphertext, nonce []byte, err error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, err
	}

	return aesgcm.Seal(nil, nonce, plaintext, aad), nonce, nil
}

// Open reverses Seal. Any authentication failure, including a wrong key,
// yields ErrAuthFailed.
func Open(key, ciphertext, nonce, aad []byte) ([]byte, error) {
	if len(nonce) != NonceSize || len(ciphertext) < TagSize {
		return nil, ErrAuthFailed
	}
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
