package adapters

import (
	"context"

	"github.com/jzx17/vaultworker/pkg/ops"
	"github.com/jzx17/vaultworker/pkg/orchestrator"
	"github.com/jzx17/vaultworker/pkg/types"
	"github.com/jzx17/vaultworker/pkg/vaultcrypto"
)

// DefaultEncryptionThreshold is the payload size from which encrypt and decrypt prefer the worker
const DefaultEncryptionThreshold = 4 << 10

// Encryptor is the crypto collaborator. vaultcrypto.Cipher implements it.
type Encryptor interface {
	DeriveKey(password, salt []byte) ([]byte, error)
	Encrypt(plaintext, key, aad []byte) (*vaultcrypto.Envelope, error)
	Decrypt(env *vaultcrypto.Envelope, key, aad []byte) ([]byte, error)
}

// EncryptionAdapter routes crypto operations to the encryption worker
type EncryptionAdapter struct {
	base
	local Encryptor
}

// NewEncryptionAdapter creates an encryption adapter. o may be nil, in which case every
// operation runs locally.
func NewEncryptionAdapter(o *orchestrator.Orchestrator, local Encryptor, opts ...Option) *EncryptionAdapter {
	s := newSettings(DefaultEncryptionThreshold, opts)
	return &EncryptionAdapter{
		base:  newBase(o, types.WorkerTypeEncryption, s),
		local: local,
	}
}

// DeriveKey always prefers the worker: key derivation is memory hard whatever the input size
func (a *EncryptionAdapter) DeriveKey(ctx context.Context, password, salt []byte, opts ...CallOption) ([]byte, Report, error) {
	c := newCall(opts)
	res, rep, err := run(ctx, &a.base, c, c.decide(true), ops.DeriveKey{Password: password, Salt: salt},
		func() (ops.DerivedKey, error) {
			key, err := a.local.DeriveKey(password, salt)
			return ops.DerivedKey{Key: key}, err
		})
	return res.Key, rep, err
}

// Encrypt seals plaintext under key
func (a *EncryptionAdapter) Encrypt(ctx context.Context, plaintext, key, aad []byte, opts ...CallOption) (*vaultcrypto.Envelope, Report, error) {
	c := newCall(opts)
	req := ops.Encrypt{Plaintext: plaintext, Key: key, Context: aad}
	res, rep, err := run(ctx, &a.base, c, c.decide(a.shouldUseWorker(req)), req,
		func() (ops.Encrypted, error) {
			env, err := a.local.Encrypt(plaintext, key, aad)
			return ops.Encrypted{Envelope: env}, err
		})
	return res.Envelope, rep, err
}

// Decrypt opens env with key
func (a *EncryptionAdapter) Decrypt(ctx context.Context, env *vaultcrypto.Envelope, key, aad []byte, opts ...CallOption) ([]byte, Report, error) {
	c := newCall(opts)
	req := ops.Decrypt{Envelope: env, Key: key, Context: aad}
	res, rep, err := run(ctx, &a.base, c, c.decide(a.shouldUseWorker(req)), req,
		func() (ops.Decrypted, error) {
			plaintext, err := a.local.Decrypt(env, key, aad)
			return ops.Decrypted{Plaintext: plaintext}, err
		})
	return res.Plaintext, rep, err
}

func (a *EncryptionAdapter) shouldUseWorker(req ops.Request) bool {
	return ops.PayloadSize(req) >= a.threshold
}
