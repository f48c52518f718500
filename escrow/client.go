package escrow

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	solana "github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/rpc"

	soltok "github.com/soltok-labs/soltok/go"
)

// CheckoutState tracks where a single checkout attempt is in its lifecycle.
type CheckoutState string

const (
	StateIdle              CheckoutState = "idle"
	StateBuilding          CheckoutState = "building"
	StateAwaitingSignature CheckoutState = "awaiting_signature"
	StateSubmitted         CheckoutState = "submitted"
	StateConfirmed         CheckoutState = "confirmed"
	StateFailed            CheckoutState = "failed"
)

// DefaultComputeUnitPrice is the priority fee in micro-lamports per compute
// unit attached to every escrow transaction.
const DefaultComputeUnitPrice uint64 = 10000

// Compute units for ComputeLimit + ComputePrice + the escrow instruction.
const estimatedComputeUnits uint32 = 60000

const confirmPollInterval = 500 * time.Millisecond

// Signer signs transactions on behalf of the buyer. The core never
// inspects signer internals; implementations live in the signers package.
type Signer interface {
	Address() solana.PublicKey
	SignTransaction(ctx context.Context, tx *solana.Transaction) error
}

// Ledger is the ledger network collaborator: submit signed messages, query
// account data, read token balances. The production implementation wraps a
// Solana RPC client; tests substitute a fake.
type Ledger interface {
	// GetAccountData returns the raw account bytes at addr, or nil with no
	// error when the account does not exist.
	GetAccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error)

	// GetTokenBalance returns the token balance of an associated token
	// account in base units. A missing account reads as zero.
	GetTokenBalance(ctx context.Context, ata solana.PublicKey) (uint64, error)

	GetLatestBlockhash(ctx context.Context) (solana.Hash, error)

	SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error)

	// ConfirmTransaction blocks until the ledger reports the signature
	// confirmed or the context is done. No internal timeout is applied:
	// callers supply a deadline via ctx and must treat expiry as a failed
	// checkout attempt, not as proof the ledger operation failed.
	ConfirmTransaction(ctx context.Context, sig solana.Signature) error
}

// CheckoutResult reports the outcome of one checkout attempt. State records
// how far the attempt progressed before succeeding or failing.
type CheckoutResult struct {
	State         CheckoutState
	TxSignature   solana.Signature
	EscrowAddress solana.PublicKey
	Record        *Record
}

// Client orchestrates address derivation and message encoding into complete
// signable escrow transactions. A Client is stateless across checkouts and
// safe for concurrent use; per-attempt state lives in the CheckoutResult.
type Client struct {
	ledger    Ledger
	signer    Signer
	programID solana.PublicKey
	mint      solana.PublicKey
}

// NewClient creates an escrow client for the given ledger, signer, and
// token mint. A nil programID field is not allowed; use DefaultProgramID.
func NewClient(ledger Ledger, signer Signer, programID, mint solana.PublicKey) *Client {
	return &Client{
		ledger:    ledger,
		signer:    signer,
		programID: programID,
		mint:      mint,
	}
}

// Checkout runs the full state machine for a single escrow deposit:
//
//	Idle -> Building -> AwaitingSignature -> Submitted -> Confirmed | Failed
//
// The amount is a decimal string; it is converted to base units by
// truncation. Failed is terminal: no retry happens here. A caller may
// re-enter with a fresh attempt but must not reuse a consumed orderID.
func (c *Client) Checkout(ctx context.Context, orderID, amount string) (*CheckoutResult, error) {
	res := &CheckoutResult{State: StateIdle}

	if c.signer == nil {
		res.State = StateFailed
		return res, soltok.Errorf(soltok.ErrCodeSignerUnavailable, "no signer configured")
	}

	baseUnits, err := ParseAmount(amount, USDCDecimals)
	if err != nil {
		res.State = StateFailed
		return res, err
	}

	// Pre-flight balance check: short-circuit before any message is built
	// so an underfunded buyer never costs a signer prompt or a network
	// round-trip.
	if err := c.checkBalance(ctx, baseUnits); err != nil {
		res.State = StateFailed
		return res, err
	}

	res.State = StateBuilding
	tx, escrowAddr, err := c.buildDepositTransaction(ctx, orderID, baseUnits)
	if err != nil {
		res.State = StateFailed
		return res, err
	}
	res.EscrowAddress = escrowAddr

	res.State = StateAwaitingSignature
	if err := c.signer.SignTransaction(ctx, tx); err != nil {
		res.State = StateFailed
		if soltok.IsCode(err, soltok.ErrCodeUserRejected) {
			return res, err
		}
		return res, soltok.Errorf(soltok.ErrCodeSignerUnavailable, "signing failed: %v", err)
	}

	res.State = StateSubmitted
	sig, err := c.ledger.SendTransaction(ctx, tx)
	if err != nil {
		res.State = StateFailed
		return res, fmt.Errorf("failed to submit transaction: %w", err)
	}
	res.TxSignature = sig

	if err := c.ledger.ConfirmTransaction(ctx, sig); err != nil {
		res.State = StateFailed
		return res, fmt.Errorf("confirmation failed: %w", err)
	}

	// Read back the on-chain record and verify the locked amount matches
	// the request. A mismatch after a "successful" transaction indicates a
	// derivation or encoding bug and is fatal, not retryable.
	record, err := c.fetchRecord(ctx, escrowAddr)
	if err != nil {
		res.State = StateFailed
		return res, err
	}
	if record == nil {
		res.State = StateFailed
		return res, soltok.Errorf(soltok.ErrCodeEscrowNotFound,
			"escrow account %s missing after confirmation", escrowAddr)
	}
	if record.Amount != baseUnits {
		res.State = StateFailed
		return res, soltok.Errorf(soltok.ErrCodeAmountMismatch,
			"on-chain amount %d does not match requested %d", record.Amount, baseUnits)
	}

	res.State = StateConfirmed
	res.Record = record
	return res, nil
}

// Status fetches and decodes the escrow record for an order, or nil when no
// escrow account exists yet.
func (c *Client) Status(ctx context.Context, orderID string, buyer solana.PublicKey) (*Record, error) {
	escrowAddr, _, err := EscrowAddress(c.programID, orderID, buyer)
	if err != nil {
		return nil, err
	}
	return c.fetchRecord(ctx, escrowAddr)
}

// Release builds, signs, and submits a release instruction for a locked
// escrow. Operator action; the on-chain program enforces that only Locked
// escrows transition.
func (c *Client) Release(ctx context.Context, orderID string, buyer solana.PublicKey) (solana.Signature, error) {
	return c.submitOperation(ctx, ReleaseEscrowDiscriminator, orderID, buyer)
}

// Refund builds, signs, and submits a refund instruction for a locked
// escrow, returning the full deposit to the buyer.
func (c *Client) Refund(ctx context.Context, orderID string, buyer solana.PublicKey) (solana.Signature, error) {
	return c.submitOperation(ctx, RefundEscrowDiscriminator, orderID, buyer)
}

func (c *Client) checkBalance(ctx context.Context, required uint64) error {
	buyerATA, err := BuyerTokenAddress(c.signer.Address(), c.mint)
	if err != nil {
		return fmt.Errorf("failed to derive buyer token account: %w", err)
	}
	balance, err := c.ledger.GetTokenBalance(ctx, buyerATA)
	if err != nil {
		return fmt.Errorf("failed to read token balance: %w", err)
	}
	if balance < required {
		return soltok.NewError(soltok.ErrCodeInsufficientBalance,
			fmt.Sprintf("balance %s USDC is less than required %s",
				FormatAmount(balance, USDCDecimals), FormatAmount(required, USDCDecimals)),
			map[string]interface{}{"balance": balance, "required": required})
	}
	return nil
}

func (c *Client) buildDepositTransaction(ctx context.Context, orderID string, amount uint64) (*solana.Transaction, solana.PublicKey, error) {
	buyer := c.signer.Address()

	configAddr, _, err := ConfigAddress(c.programID)
	if err != nil {
		return nil, solana.PublicKey{}, fmt.Errorf("failed to derive config address: %w", err)
	}
	escrowAddr, _, err := EscrowAddress(c.programID, orderID, buyer)
	if err != nil {
		return nil, solana.PublicKey{}, err
	}
	vaultAddr, _, err := VaultAddress(c.programID, escrowAddr)
	if err != nil {
		return nil, solana.PublicKey{}, fmt.Errorf("failed to derive vault address: %w", err)
	}
	buyerATA, err := BuyerTokenAddress(buyer, c.mint)
	if err != nil {
		return nil, solana.PublicKey{}, fmt.Errorf("failed to derive buyer token account: %w", err)
	}

	data := EncodeInstruction(CreateEscrowDiscriminator, orderID, amount)

	depositIx := solana.NewInstruction(
		c.programID,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(configAddr, true, false),
			solana.NewAccountMeta(escrowAddr, true, false),
			solana.NewAccountMeta(vaultAddr, true, false),
			solana.NewAccountMeta(buyer, true, true),
			solana.NewAccountMeta(buyerATA, true, false),
			solana.NewAccountMeta(c.mint, false, false),
			solana.NewAccountMeta(solana.TokenProgramID, false, false),
			solana.NewAccountMeta(solana.SystemProgramID, false, false),
			solana.NewAccountMeta(solana.SysVarRentPubkey, false, false),
		},
		data,
	)

	cuLimit, err := computebudget.NewSetComputeUnitLimitInstructionBuilder().
		SetUnits(estimatedComputeUnits).
		ValidateAndBuild()
	if err != nil {
		return nil, solana.PublicKey{}, fmt.Errorf("failed to build compute limit instruction: %w", err)
	}
	cuPrice, err := computebudget.NewSetComputeUnitPriceInstructionBuilder().
		SetMicroLamports(DefaultComputeUnitPrice).
		ValidateAndBuild()
	if err != nil {
		return nil, solana.PublicKey{}, fmt.Errorf("failed to build compute price instruction: %w", err)
	}

	blockhash, err := c.ledger.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, solana.PublicKey{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	builder := solana.NewTransactionBuilder().
		AddInstruction(cuLimit).
		AddInstruction(cuPrice)

	// A first-time buyer has no token account yet; the deposit would fail
	// on-chain without one, so create it in the same transaction.
	ataData, err := c.ledger.GetAccountData(ctx, buyerATA)
	if err != nil {
		return nil, solana.PublicKey{}, fmt.Errorf("failed to check buyer token account: %w", err)
	}
	if ataData == nil {
		createATA, err := associatedtokenaccount.NewCreateInstructionBuilder().
			SetPayer(buyer).
			SetWallet(buyer).
			SetMint(c.mint).
			ValidateAndBuild()
		if err != nil {
			return nil, solana.PublicKey{}, fmt.Errorf("failed to build create token account instruction: %w", err)
		}
		builder.AddInstruction(createATA)
	}

	builder.AddInstruction(depositIx).
		SetRecentBlockHash(blockhash).
		SetFeePayer(buyer)

	tx, err := builder.Build()
	if err != nil {
		return nil, solana.PublicKey{}, fmt.Errorf("failed to build transaction: %w", err)
	}
	return tx, escrowAddr, nil
}

func (c *Client) submitOperation(ctx context.Context, disc Discriminator, orderID string, buyer solana.PublicKey) (solana.Signature, error) {
	if c.signer == nil {
		return solana.Signature{}, soltok.Errorf(soltok.ErrCodeSignerUnavailable, "no signer configured")
	}

	configAddr, _, err := ConfigAddress(c.programID)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to derive config address: %w", err)
	}
	escrowAddr, _, err := EscrowAddress(c.programID, orderID, buyer)
	if err != nil {
		return solana.Signature{}, err
	}
	vaultAddr, _, err := VaultAddress(c.programID, escrowAddr)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to derive vault address: %w", err)
	}
	buyerATA, err := BuyerTokenAddress(buyer, c.mint)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to derive buyer token account: %w", err)
	}

	// Release and refund take no amount argument on-chain; the amount field
	// of the payload is zero.
	data := EncodeInstruction(disc, orderID, 0)

	ix := solana.NewInstruction(
		c.programID,
		solana.AccountMetaSlice{
			solana.NewAccountMeta(configAddr, true, false),
			solana.NewAccountMeta(escrowAddr, true, false),
			solana.NewAccountMeta(vaultAddr, true, false),
			solana.NewAccountMeta(buyerATA, true, false),
			solana.NewAccountMeta(c.signer.Address(), true, true),
			solana.NewAccountMeta(solana.TokenProgramID, false, false),
		},
		data,
	)

	blockhash, err := c.ledger.GetLatestBlockhash(ctx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to get latest blockhash: %w", err)
	}

	tx, err := solana.NewTransactionBuilder().
		AddInstruction(ix).
		SetRecentBlockHash(blockhash).
		SetFeePayer(c.signer.Address()).
		Build()
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to build transaction: %w", err)
	}

	if err := c.signer.SignTransaction(ctx, tx); err != nil {
		return solana.Signature{}, soltok.Errorf(soltok.ErrCodeSignerUnavailable, "signing failed: %v", err)
	}

	sig, err := c.ledger.SendTransaction(ctx, tx)
	if err != nil {
		return solana.Signature{}, fmt.Errorf("failed to submit transaction: %w", err)
	}
	if err := c.ledger.ConfirmTransaction(ctx, sig); err != nil {
		return solana.Signature{}, fmt.Errorf("confirmation failed: %w", err)
	}
	return sig, nil
}

func (c *Client) fetchRecord(ctx context.Context, escrowAddr solana.PublicKey) (*Record, error) {
	data, err := c.ledger.GetAccountData(ctx, escrowAddr)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch escrow account: %w", err)
	}
	if data == nil {
		return nil, nil
	}
	return DecodeRecord(data)
}

// RPCLedger implements Ledger against a Solana JSON-RPC endpoint.
type RPCLedger struct {
	client *rpc.Client
}

// NewRPCLedger creates a ledger client for the given RPC endpoint.
func NewRPCLedger(endpoint string) *RPCLedger {
	return &RPCLedger{client: rpc.New(endpoint)}
}

func (l *RPCLedger) GetAccountData(ctx context.Context, addr solana.PublicKey) ([]byte, error) {
	out, err := l.client.GetAccountInfo(ctx, addr)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if out == nil || out.Value == nil {
		return nil, nil
	}
	return out.Value.Data.GetBinary(), nil
}

func (l *RPCLedger) GetTokenBalance(ctx context.Context, ata solana.PublicKey) (uint64, error) {
	out, err := l.client.GetTokenAccountBalance(ctx, ata, rpc.CommitmentConfirmed)
	if err != nil {
		// A buyer without a token account simply has no balance.
		if errors.Is(err, rpc.ErrNotFound) {
			return 0, nil
		}
		return 0, err
	}
	if out == nil || out.Value == nil {
		return 0, nil
	}
	return strconv.ParseUint(out.Value.Amount, 10, 64)
}

func (l *RPCLedger) GetLatestBlockhash(ctx context.Context) (solana.Hash, error) {
	out, err := l.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return solana.Hash{}, err
	}
	return out.Value.Blockhash, nil
}

func (l *RPCLedger) SendTransaction(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	return l.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
}

// ConfirmTransaction polls signature status until confirmed or ctx is done.
func (l *RPCLedger) ConfirmTransaction(ctx context.Context, sig solana.Signature) error {
	for {
		out, err := l.client.GetSignatureStatuses(ctx, true, sig)
		if err == nil && out != nil && len(out.Value) > 0 && out.Value[0] != nil {
			status := out.Value[0]
			if status.Err != nil {
				return fmt.Errorf("transaction failed on-chain: %v", status.Err)
			}
			if status.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
				status.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
				return nil
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(confirmPollInterval):
		}
	}
}

var _ Ledger = (*RPCLedger)(nil)
