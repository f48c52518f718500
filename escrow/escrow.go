// Package escrow constructs and decodes messages for the on-chain escrow
// program: deterministic program-owned address derivation, the binary
// instruction and account-record codec, and a client that assembles a
// complete signable deposit transaction and verifies the resulting escrow
// state. The program's own execution logic lives on-chain; this package
// only speaks its wire format.
package escrow

import (
	solana "github.com/gagliardetto/solana-go"

	soltok "github.com/soltok-labs/soltok/go"
)

// DefaultProgramID is the devnet deployment of the escrow program.
var DefaultProgramID = solana.MustPublicKeyFromBase58("3pMM6KnPpxc1mhprcPGb7oLLi5skDmcVAvDb4sq4nS1L")

// USDC mint addresses per cluster.
var (
	USDCMintDevnet  = solana.MustPublicKeyFromBase58("4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU")
	USDCMintMainnet = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
)

// USDCDecimals is the number of implied decimal places in all escrow
// amounts (1 base unit = 1e-6 USDC).
const USDCDecimals = 6

// PDA seed tags used by the escrow program.
var (
	configSeed = []byte("config")
	escrowSeed = []byte("escrow")
	vaultSeed  = []byte("vault")
)

// ConfigAddress derives the program's global config PDA.
func ConfigAddress(programID solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{configSeed}, programID)
}

// EscrowAddress derives the escrow PDA for one (orderID, buyer) pair. The
// derivation is a public algorithm of the ledger: the same inputs always
// produce the same address and bump.
//
// Seeds: ["escrow", orderID, buyer]. The order identifier is used raw as a
// seed, so it must fit the ledger's per-seed length limit.
func EscrowAddress(programID solana.PublicKey, orderID string, buyer solana.PublicKey) (solana.PublicKey, uint8, error) {
	if len(orderID) == 0 {
		return solana.PublicKey{}, 0, soltok.Errorf(soltok.ErrCodeInvalidSeed, "order id must not be empty")
	}
	if len(orderID) > solana.MaxSeedLength {
		return solana.PublicKey{}, 0, soltok.Errorf(soltok.ErrCodeInvalidSeed,
			"order id %q is %d bytes, exceeds max seed length %d", orderID, len(orderID), solana.MaxSeedLength)
	}
	return solana.FindProgramAddress([][]byte{escrowSeed, []byte(orderID), buyer.Bytes()}, programID)
}

// VaultAddress derives the value-custody PDA for an escrow account.
//
// Seeds: ["vault", escrow].
func VaultAddress(programID solana.PublicKey, escrow solana.PublicKey) (solana.PublicKey, uint8, error) {
	return solana.FindProgramAddress([][]byte{vaultSeed, escrow.Bytes()}, programID)
}

// BuyerTokenAddress derives the buyer's associated token account for the
// given mint.
func BuyerTokenAddress(buyer, mint solana.PublicKey) (solana.PublicKey, error) {
	ata, _, err := solana.FindAssociatedTokenAddress(buyer, mint)
	return ata, err
}
