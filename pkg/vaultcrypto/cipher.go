// Package vaultcrypto provides the reference cipher used by the encryption worker and by the
// synchronous fallback path: argon2id password key derivation, HKDF per-message sub-keys and
// AES-256-GCM sealing.
package vaultcrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"io"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/hkdf"

	"github.com/jzx17/vaultworker/pkg/types"
)

const (
	// KeySize is the size of master and derived keys in bytes
	KeySize = 32

	// SaltSize is the size of the per-message HKDF salt
	SaltSize = 16

	// EnvelopeVersion is written into every sealed envelope
	EnvelopeVersion = 1

	hkdfInfoPrefix = "vaultworker/item/v1|"
)

// Operation error codes
const (
	CodeInvalidKey        = "INVALID_KEY"
	CodeInvalidEnvelope   = "INVALID_ENVELOPE"
	CodeDecryptionFailed  = "DECRYPTION_FAILED"
	CodeUnsupportedFormat = "UNSUPPORTED_VERSION"
	CodeEncryptionFailed  = "ENCRYPTION_FAILED"
)

// Envelope is the sealed form of an item
type Envelope struct {
	Version    int
	Salt       []byte
	Nonce      []byte
	Ciphertext []byte
}

// KDFParams configures argon2id
type KDFParams struct {
	Time    uint32
	Memory  uint32 // KiB
	Threads uint8
}

// DefaultKDFParams returns interactive-login argon2id parameters
func DefaultKDFParams() KDFParams {
	return KDFParams{
		Time:    3,
		Memory:  64 * 1024,
		Threads: 4,
	}
}

// Cipher seals and opens vault items. It is safe for concurrent use.
type Cipher struct {
	rand io.Reader
	kdf  KDFParams
}

// Option configures a Cipher
type Option func(*Cipher)

// WithRandom sets the entropy source
func WithRandom(r io.Reader) Option {
	return func(c *Cipher) {
		c.rand = r
	}
}

// WithKDFParams sets the argon2id parameters
func WithKDFParams(p KDFParams) Option {
	return func(c *Cipher) {
		c.kdf = p
	}
}

// New creates a cipher
func New(opts ...Option) *Cipher {
	c := &Cipher{
		rand: rand.Reader,
		kdf:  DefaultKDFParams(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// DeriveKey stretches a master password into a KeySize key
func (c *Cipher) DeriveKey(password, salt []byte) ([]byte, error) {
	if len(password) == 0 {
		return nil, types.NewOperationError(CodeInvalidKey, "password is empty")
	}
	if len(salt) < 8 {
		return nil, types.NewOperationError(CodeInvalidKey, "salt must be at least 8 bytes, got %d", len(salt))
	}
	return argon2.IDKey(password, salt, c.kdf.Time, c.kdf.Memory, c.kdf.Threads, KeySize), nil
}

// Encrypt seals plaintext under key, binding context as additional data
func (c *Cipher) Encrypt(plaintext, key, context []byte) (*Envelope, error) {
	if len(key) != KeySize {
		return nil, types.NewOperationError(CodeInvalidKey, "key must be %d bytes, got %d", KeySize, len(key))
	}

	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(c.rand, salt); err != nil {
		return nil, types.NewOperationError(CodeEncryptionFailed, "reading salt: %v", err)
	}

	aead, err := c.aead(key, salt, context)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(c.rand, nonce); err != nil {
		return nil, types.NewOperationError(CodeEncryptionFailed, "reading nonce: %v", err)
	}

	return &Envelope{
		Version:    EnvelopeVersion,
		Salt:       salt,
		Nonce:      nonce,
		Ciphertext: aead.Seal(nil, nonce, plaintext, context),
	}, nil
}

// Decrypt opens an envelope. A wrong key or context yields CodeDecryptionFailed.
func (c *Cipher) Decrypt(env *Envelope, key, context []byte) ([]byte, error) {
	if len(key) != KeySize {
		return nil, types.NewOperationError(CodeInvalidKey, "key must be %d bytes, got %d", KeySize, len(key))
	}
	if env == nil || len(env.Salt) != SaltSize {
		return nil, types.NewOperationError(CodeInvalidEnvelope, "envelope is missing its salt")
	}
	if env.Version != EnvelopeVersion {
		return nil, types.NewOperationError(CodeUnsupportedFormat, "envelope version %d", env.Version)
	}

	aead, err := c.aead(key, env.Salt, context)
	if err != nil {
		return nil, err
	}
	if len(env.Nonce) != aead.NonceSize() {
		return nil, types.NewOperationError(CodeInvalidEnvelope, "nonce must be %d bytes", aead.NonceSize())
	}

	plaintext, err := aead.Open(nil, env.Nonce, env.Ciphertext, context)
	if err != nil {
		return nil, types.NewOperationError(CodeDecryptionFailed, "authentication failed")
	}
	return plaintext, nil
}

func (c *Cipher) aead(key, salt, context []byte) (cipher.AEAD, error) {
	info := append([]byte(hkdfInfoPrefix), context...)
	subKey := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, salt, info), subKey); err != nil {
		return nil, types.NewOperationError(CodeEncryptionFailed, "deriving sub-key: %v", err)
	}

	block, err := aes.NewCipher(subKey)
	if err != nil {
		return nil, types.NewOperationError(CodeEncryptionFailed, "creating block cipher: %v", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, types.NewOperationError(CodeEncryptionFailed, "creating AEAD: %v", err)
	}
	return aead, nil
}
