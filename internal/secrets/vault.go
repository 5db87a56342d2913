// Package secrets provides versioned envelope encryption for credential
// secret fields.
//
// Three on-disk formats coexist:
//
//	v1            "v1:<b64 salt>:<b64 nonce||ciphertext>"  self-describing, current
//	legacy-salted "<b64 nonce||ciphertext>"                salt stored separately
//	v0            "<b64 nonce||ciphertext>"                salt never recorded
//
// Every newly written secret is v1. Legacy formats are read-compatible;
// v0 secrets are unrecoverable and must be re-entered by the user.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/ReportDeck/reportdeck/internal/domain"
	"github.com/ReportDeck/reportdeck/internal/domain/credential"
)

const (
	v1Prefix  = "v1:"
	nonceSize = 12 // standard GCM nonce length
	saltSize  = 16
	pbkdfIter = 10000
	keySize   = 32
)

// Vault encrypts and decrypts secret fields. It owns no state beyond the
// master key; every operation is a pure transform of its inputs.
type Vault struct {
	masterKey []byte
}

// New creates a Vault from the master key material.
func New(masterKey string) (*Vault, error) {
	if masterKey == "" {
		return nil, errors.New("secrets: master key is required")
	}
	return &Vault{masterKey: []byte(masterKey)}, nil
}

// envelopeFormat tags a parsed envelope variant. The format decision is
// made once, in parseEnvelope; adding a v2 touches only that function.
type envelopeFormat int

const (
	formatV1 envelopeFormat = iota
	formatLegacy
)

type parsedEnvelope struct {
	format envelopeFormat
	salt   []byte // set for v1 only
	data   []byte // nonce || ciphertext
}

// parseEnvelope decides the envelope format. Bare base64 payloads are
// legacy; whether they are legacy-salted or v0 depends on whether the
// caller can supply a usable salt.
func parseEnvelope(envelope string) (*parsedEnvelope, error) {
	if strings.HasPrefix(envelope, v1Prefix) {
		parts := strings.SplitN(envelope[len(v1Prefix):], ":", 2)
		if len(parts) != 2 {
			return nil, errors.New("malformed v1 envelope")
		}
		salt, err := base64.StdEncoding.DecodeString(parts[0])
		if err != nil {
			return nil, fmt.Errorf("v1 salt: %w", err)
		}
		data, err := base64.StdEncoding.DecodeString(parts[1])
		if err != nil {
			return nil, fmt.Errorf("v1 payload: %w", err)
		}
		return &parsedEnvelope{format: formatV1, salt: salt, data: data}, nil
	}

	data, err := base64.StdEncoding.DecodeString(envelope)
	if err != nil {
		return nil, fmt.Errorf("legacy payload: %w", err)
	}
	return &parsedEnvelope{format: formatLegacy, data: data}, nil
}

// deriveKey stretches the master key with the per-secret salt.
func (v *Vault) deriveKey(salt []byte) []byte {
	return pbkdf2.Key(v.masterKey, salt, pbkdfIter, keySize, sha256.New)
}

// Encrypt seals plaintext into the current self-describing v1 format
// with a fresh random salt and nonce.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", errors.New("secrets: cannot encrypt empty value")
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("rand salt: %w", err)
	}

	sealed, err := seal([]byte(plaintext), v.deriveKey(salt))
	if err != nil {
		return "", err
	}

	return v1Prefix +
		base64.StdEncoding.EncodeToString(salt) + ":" +
		base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens an envelope of any supported format. externalSalt is
// consulted only for legacy envelopes; the credential.SaltUnknown
// placeholder (or an empty string) marks the salt as unrecorded, in
// which case the secret is unrecoverable by design and the caller must
// prompt for re-entry.
func (v *Vault) Decrypt(envelope, externalSalt string) (string, error) {
	parsed, err := parseEnvelope(envelope)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}

	switch parsed.format {
	case formatV1:
		return open(parsed.data, v.deriveKey(parsed.salt))

	case formatLegacy:
		if externalSalt == "" || externalSalt == credential.SaltUnknown {
			return "", fmt.Errorf("secret predates salt tracking: %w", domain.ErrUnrecoverableCredential)
		}
		salt, err := base64.StdEncoding.DecodeString(externalSalt)
		if err != nil {
			return "", fmt.Errorf("external salt: %w", err)
		}
		return open(parsed.data, v.deriveKey(salt))
	}

	return "", fmt.Errorf("unsupported envelope format")
}

// ExtractSalt returns the base64 salt embedded in a v1 envelope, for the
// writer path that persists it alongside the envelope for legacy-salted
// readers.
func ExtractSalt(envelope string) (string, error) {
	parsed, err := parseEnvelope(envelope)
	if err != nil {
		return "", err
	}
	if parsed.format != formatV1 {
		return "", errors.New("envelope carries no embedded salt")
	}
	return base64.StdEncoding.EncodeToString(parsed.salt), nil
}

// seal encrypts plaintext with AES-256-GCM, prepending the nonce.
func seal(plaintext, key []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("rand nonce: %w", err)
	}

	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// open decrypts a nonce||ciphertext payload produced by seal.
func open(data, key []byte) (string, error) {
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	plaintext, err := gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("gcm.Open: %w", err)
	}
	return string(plaintext), nil
}
