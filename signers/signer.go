// Package signers provides escrow.Signer implementations. The wallet
// extension in the browser build signs through the callback variant; the
// private-key variant serves operator tooling and tests.
package signers

import (
	"context"
	"fmt"

	solana "github.com/gagliardetto/solana-go"

	"github.com/soltok-labs/soltok/go/escrow"
)

// SignTransactionFunc is the callback used to sign Solana transactions.
type SignTransactionFunc func(ctx context.Context, tx *solana.Transaction) error

// CallbackSigner implements escrow.Signer by delegating to a signing
// callback, keeping key custody outside this process (wallet extension,
// remote KMS).
type CallbackSigner struct {
	publicKey       solana.PublicKey
	signTransaction SignTransactionFunc
}

// NewCallbackSigner creates a signer from a public key and signing callback.
func NewCallbackSigner(publicKey solana.PublicKey, signFunc SignTransactionFunc) (escrow.Signer, error) {
	if publicKey.IsZero() {
		return nil, fmt.Errorf("public key is required")
	}
	if signFunc == nil {
		return nil, fmt.Errorf("sign callback is required")
	}
	return &CallbackSigner{
		publicKey:       publicKey,
		signTransaction: signFunc,
	}, nil
}

// NewSignerFromPrivateKey creates a signer from a base58-encoded private
// key, signing locally with Ed25519.
func NewSignerFromPrivateKey(privateKeyBase58 string) (escrow.Signer, error) {
	privateKey, err := solana.PrivateKeyFromBase58(privateKeyBase58)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	signFunc := func(ctx context.Context, tx *solana.Transaction) error {
		return signWithPrivateKey(privateKey, tx)
	}
	return NewCallbackSigner(privateKey.PublicKey(), signFunc)
}

// Address returns the signer's public key.
func (s *CallbackSigner) Address() solana.PublicKey {
	return s.publicKey
}

// SignTransaction signs the transaction at the signer's account index.
func (s *CallbackSigner) SignTransaction(ctx context.Context, tx *solana.Transaction) error {
	return s.signTransaction(ctx, tx)
}

func signWithPrivateKey(privateKey solana.PrivateKey, tx *solana.Transaction) error {
	messageBytes, err := tx.Message.MarshalBinary()
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	signature, err := privateKey.Sign(messageBytes)
	if err != nil {
		return fmt.Errorf("failed to sign: %w", err)
	}

	accountIndex, err := tx.GetAccountIndex(privateKey.PublicKey())
	if err != nil {
		return fmt.Errorf("failed to get account index: %w", err)
	}

	if len(tx.Signatures) <= int(accountIndex) {
		newSignatures := make([]solana.Signature, accountIndex+1)
		copy(newSignatures, tx.Signatures)
		tx.Signatures = newSignatures
	}
	tx.Signatures[accountIndex] = signature

	return nil
}

var _ escrow.Signer = (*CallbackSigner)(nil)
