package signers

import (
	"context"
	"crypto/ed25519"
	"testing"

	solana "github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func buildTestTransaction(t *testing.T, feePayer solana.PublicKey) *solana.Transaction {
	t.Helper()
	ix := solana.NewInstruction(
		solana.MemoProgramID,
		solana.AccountMetaSlice{solana.NewAccountMeta(feePayer, true, true)},
		[]byte("ping"),
	)
	tx, err := solana.NewTransactionBuilder().
		AddInstruction(ix).
		SetRecentBlockHash(solana.HashFromBytes(make([]byte, 32))).
		SetFeePayer(feePayer).
		Build()
	require.NoError(t, err)
	return tx
}

func TestNewSignerFromPrivateKey(t *testing.T) {
	wallet := solana.NewWallet()

	signer, err := NewSignerFromPrivateKey(wallet.PrivateKey.String())
	require.NoError(t, err)
	assert.Equal(t, wallet.PublicKey(), signer.Address())

	tx := buildTestTransaction(t, wallet.PublicKey())
	require.NoError(t, signer.SignTransaction(context.Background(), tx))

	require.Len(t, tx.Signatures, 1)
	message, err := tx.Message.MarshalBinary()
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(ed25519.PublicKey(wallet.PublicKey().Bytes()), message, tx.Signatures[0][:]))
}

func TestNewSignerFromPrivateKeyRejectsGarbage(t *testing.T) {
	_, err := NewSignerFromPrivateKey("not-a-key")
	assert.Error(t, err)
}

func TestNewCallbackSigner(t *testing.T) {
	wallet := solana.NewWallet()

	called := false
	signer, err := NewCallbackSigner(wallet.PublicKey(), func(context.Context, *solana.Transaction) error {
		called = true
		return nil
	})
	require.NoError(t, err)

	tx := buildTestTransaction(t, wallet.PublicKey())
	require.NoError(t, signer.SignTransaction(context.Background(), tx))
	assert.True(t, called)
}

func TestNewCallbackSignerValidation(t *testing.T) {
	wallet := solana.NewWallet()

	_, err := NewCallbackSigner(solana.PublicKey{}, func(context.Context, *solana.Transaction) error { return nil })
	assert.Error(t, err)

	_, err = NewCallbackSigner(wallet.PublicKey(), nil)
	assert.Error(t, err)
}
