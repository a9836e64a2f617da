// Package wallet provides the signer capability used to authorize voting
// transactions. Key material never leaves this package.
package wallet

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// Signer is the identity submitting transactions.
type Signer interface {
	PublicKey() solana.PublicKey
	// SignTransaction adds the signer's signature to tx.
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// Keypair is a Signer backed by an in-memory ed25519 key.
type Keypair struct {
	key solana.PrivateKey
}

var _ Signer = (*Keypair)(nil)

// NewKeypair wraps key.
func NewKeypair(key solana.PrivateKey) *Keypair {
	return &Keypair{key: key}
}

// LoadKeypair reads a solana-keygen JSON key file.
func LoadKeypair(path string) (*Keypair, error) {
	key, err := solana.PrivateKeyFromSolanaKeygenFile(path)
	if err != nil {
		return nil, fmt.Errorf("load keypair %s: %w", path, err)
	}
	return NewKeypair(key), nil
}

func (k *Keypair) PublicKey() solana.PublicKey {
	return k.key.PublicKey()
}

func (k *Keypair) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	pub := k.key.PublicKey()
	_, err := tx.Sign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(pub) {
			return &k.key
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	return nil
}
