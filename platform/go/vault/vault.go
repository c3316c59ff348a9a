package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	keyLength   = 32 // AES-256
	nonceLength = 12
	tagLength   = 16
	separator   = ":"

	// Fixed salt: the key is derived once per process from a long-lived secret.
	kdfSalt = "palmyra-provisioning/credential-vault/v1"
	kdfN    = 1 << 15
	kdfR    = 8
	kdfP    = 1
)

// ErrEmptySecret is returned when the vault is constructed without a secret.
var ErrEmptySecret = errors.New("vault secret is required")

// EncryptionError wraps failures while sealing a plaintext.
type EncryptionError struct {
	Err error
}

func (e *EncryptionError) Error() string {
	return fmt.Sprintf("encrypt credential: %v", e.Err)
}

func (e *EncryptionError) Unwrap() error { return e.Err }

// DecryptionError is returned for malformed tokens or tokens whose
// authentication tag does not verify.
type DecryptionError struct {
	Reason string
	Err    error
}

func (e *DecryptionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("decrypt credential: %s: %v", e.Reason, e.Err)
	}
	return "decrypt credential: " + e.Reason
}

func (e *DecryptionError) Unwrap() error { return e.Err }

// Vault seals connection secrets with AES-256-GCM.
// Tokens have the form hex(nonce):hex(tag):hex(ciphertext).
// A Vault is read-only after construction and safe for concurrent use.
type Vault struct {
	aead   cipher.AEAD
	random io.Reader
}

// New derives the encryption key from secret with scrypt and returns a Vault.
func New(secret string) (*Vault, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrEmptySecret
	}

	key, err := scrypt.Key([]byte(secret), []byte(kdfSalt), kdfN, kdfR, kdfP, keyLength)
	if err != nil {
		return nil, fmt.Errorf("derive vault key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init aes cipher: %w", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, nonceLength)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}

	return &Vault{aead: aead, random: rand.Reader}, nil
}

// Encrypt seals plaintext under a fresh random nonce.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, nonceLength)
	if _, err := io.ReadFull(v.random, nonce); err != nil {
		return "", &EncryptionError{Err: fmt.Errorf("read nonce: %w", err)}
	}

	sealed := v.aead.Seal(nil, nonce, []byte(plaintext), nil)
	if len(sealed) < tagLength {
		return "", &EncryptionError{Err: errors.New("sealed output shorter than tag")}
	}

	ciphertext := sealed[:len(sealed)-tagLength]
	tag := sealed[len(sealed)-tagLength:]

	return strings.Join([]string{
		hex.EncodeToString(nonce),
		hex.EncodeToString(tag),
		hex.EncodeToString(ciphertext),
	}, separator), nil
}

// Decrypt opens a token produced by Encrypt.
func (v *Vault) Decrypt(token string) (string, error) {
	parts := strings.Split(token, separator)
	if len(parts) != 3 {
		return "", &DecryptionError{Reason: "malformed token"}
	}

	nonce, err := decodeHex(parts[0])
	if err != nil {
		return "", &DecryptionError{Reason: "malformed nonce", Err: err}
	}
	if len(nonce) != nonceLength {
		return "", &DecryptionError{Reason: "invalid nonce length"}
	}

	tag, err := decodeHex(parts[1])
	if err != nil {
		return "", &DecryptionError{Reason: "malformed tag", Err: err}
	}
	if len(tag) != tagLength {
		return "", &DecryptionError{Reason: "invalid tag length"}
	}

	ciphertext, err := decodeHex(parts[2])
	if err != nil {
		return "", &DecryptionError{Reason: "malformed ciphertext", Err: err}
	}

	sealed := make([]byte, 0, len(ciphertext)+len(tag))
	sealed = append(sealed, ciphertext...)
	sealed = append(sealed, tag...)

	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", &DecryptionError{Reason: "authentication failed", Err: err}
	}

	return string(plaintext), nil
}

// decodeHex accepts only the lowercase form Encrypt writes, so every token has one spelling.
func decodeHex(s string) ([]byte, error) {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return nil, fmt.Errorf("non-canonical hex byte %q at offset %d", c, i)
		}
	}
	return hex.DecodeString(s)
}
