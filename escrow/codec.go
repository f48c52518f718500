package escrow

import (
	"encoding/binary"
	"math"
	"strconv"
	"strings"
	"time"

	bin "github.com/gagliardetto/binary"
	solana "github.com/gagliardetto/solana-go"

	soltok "github.com/soltok-labs/soltok/go"
)

// Discriminator is the fixed-width opaque tag identifying an escrow program
// operation or record type.
type Discriminator [8]byte

// Instruction discriminators understood by the escrow program.
var (
	CreateEscrowDiscriminator  = Discriminator{0x00, 0x01, 0x02, 0x03, 0x04, 0x05, 0x06, 0x07}
	ReleaseEscrowDiscriminator = Discriminator{0x10, 0x11, 0x12, 0x13, 0x14, 0x15, 0x16, 0x17}
	RefundEscrowDiscriminator  = Discriminator{0x20, 0x21, 0x22, 0x23, 0x24, 0x25, 0x26, 0x27}
)

// ParseAmount converts a decimal amount string into an integer count of
// base units. Extra fractional digits beyond the given number of decimals
// are TRUNCATED, never rounded: rounding "19.9999995" up to 20.000000 would
// systematically overpay.
//
// Rejects negative, empty, and non-numeric input with invalid_amount.
func ParseAmount(amount string, decimals int) (uint64, error) {
	cleaned := strings.TrimSpace(amount)
	if cleaned == "" {
		return 0, soltok.Errorf(soltok.ErrCodeInvalidAmount, "amount must not be empty")
	}
	if strings.HasPrefix(cleaned, "-") {
		return 0, soltok.Errorf(soltok.ErrCodeInvalidAmount, "amount cannot be negative: %s", amount)
	}

	intPart := cleaned
	fracPart := ""
	if i := strings.IndexByte(cleaned, '.'); i >= 0 {
		intPart = cleaned[:i]
		fracPart = cleaned[i+1:]
		if strings.IndexByte(fracPart, '.') >= 0 {
			return 0, soltok.Errorf(soltok.ErrCodeInvalidAmount, "invalid amount: %s", amount)
		}
	}
	if intPart == "" {
		intPart = "0"
	}
	if fracPart == "" {
		fracPart = "0"
	}
	if !isDigits(intPart) || !isDigits(fracPart) {
		return 0, soltok.Errorf(soltok.ErrCodeInvalidAmount, "invalid amount: %s", amount)
	}

	// Truncate or zero-pad the fractional part to exactly `decimals` digits.
	if len(fracPart) > decimals {
		fracPart = fracPart[:decimals]
	}
	for len(fracPart) < decimals {
		fracPart += "0"
	}

	combined := strings.TrimLeft(intPart+fracPart, "0")
	if combined == "" {
		return 0, nil
	}
	out, err := strconv.ParseUint(combined, 10, 64)
	if err != nil {
		return 0, soltok.Errorf(soltok.ErrCodeInvalidAmount, "amount out of range: %s", amount)
	}
	return out, nil
}

// FormatAmount converts base units back to a decimal string, trimming
// trailing zeros ("1.5", not "1.500000").
func FormatAmount(amount uint64, decimals int) string {
	s := strconv.FormatUint(amount, 10)
	for len(s) <= decimals {
		s = "0" + s
	}
	intPart := s[:len(s)-decimals]
	fracPart := strings.TrimRight(s[len(s)-decimals:], "0")
	if fracPart == "" {
		return intPart
	}
	return intPart + "." + fracPart
}

// TotalWithFee computes price plus the protocol fee (basis points),
// truncating to base-unit precision. Returned as a decimal string.
func TotalWithFee(price string, feeBps uint16) (string, error) {
	base, err := ParseAmount(price, USDCDecimals)
	if err != nil {
		return "", err
	}
	multiplier := 10000 + uint64(feeBps)
	if base > math.MaxUint64/multiplier {
		return "", soltok.Errorf(soltok.ErrCodeInvalidAmount, "amount too large to apply fee: %s", price)
	}
	total := base * multiplier / 10000
	return FormatAmount(total, USDCDecimals), nil
}

func isDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// EncodeInstruction packs an escrow program instruction payload.
//
// Layout:
//
//	[0..7]   discriminator   8 bytes
//	[8..11]  orderID length  U32 LE
//	[12..]   orderID bytes
//	[..+8]   amount          U64 LE, base units
func EncodeInstruction(disc Discriminator, orderID string, amount uint64) []byte {
	orderIDBytes := []byte(orderID)
	data := make([]byte, 8+4+len(orderIDBytes)+8)
	copy(data[0:8], disc[:])
	binary.LittleEndian.PutUint32(data[8:12], uint32(len(orderIDBytes)))
	copy(data[12:], orderIDBytes)
	binary.LittleEndian.PutUint64(data[12+len(orderIDBytes):], amount)
	return data
}

// Status is the escrow account lifecycle state. It is monotonic: once
// Released or Refunded the account is terminal.
type Status uint8

const (
	StatusLocked Status = iota
	StatusReleased
	StatusRefunded
)

func (s Status) String() string {
	switch s {
	case StatusLocked:
		return "Locked"
	case StatusReleased:
		return "Released"
	case StatusRefunded:
		return "Refunded"
	default:
		return "Unknown"
	}
}

// Record is a decoded escrow account as stored on-chain.
type Record struct {
	Buyer             solana.PublicKey
	OrderID           string
	Amount            uint64
	FeeAmount         uint64
	FulfillmentAmount uint64
	Status            Status
	CreatedAt         time.Time
}

// DecodeRecord parses a raw escrow account buffer.
//
// Layout, in strict offset order:
//
//	[0..7]    record discriminator  8 bytes (skipped)
//	[8..39]   buyer                 32 bytes
//	[40..43]  orderID length        U32 LE
//	[44..]    orderID bytes
//	[..+8]    amount                U64 LE
//	[..+8]    fee amount            U64 LE
//	[..+8]    fulfillment amount    U64 LE
//	[..+1]    status                U8 (0=Locked, 1=Released, 2=Refunded)
//	[..+8]    created at            I64 LE, unix seconds
//
// Decoding fails closed: any truncated or inconsistent buffer yields
// malformed_account and no partially populated record.
func DecodeRecord(data []byte) (*Record, error) {
	dec := bin.NewBinDecoder(data)

	if _, err := dec.ReadNBytes(8); err != nil {
		return nil, malformed("record discriminator", err)
	}

	buyerBytes, err := dec.ReadNBytes(32)
	if err != nil {
		return nil, malformed("buyer", err)
	}

	orderIDLen, err := dec.ReadUint32(bin.LE)
	if err != nil {
		return nil, malformed("order id length", err)
	}
	if int(orderIDLen) > dec.Remaining() {
		return nil, soltok.Errorf(soltok.ErrCodeMalformedAccount,
			"order id length %d exceeds remaining %d bytes", orderIDLen, dec.Remaining())
	}
	orderIDBytes, err := dec.ReadNBytes(int(orderIDLen))
	if err != nil {
		return nil, malformed("order id", err)
	}

	amount, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, malformed("amount", err)
	}
	feeAmount, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, malformed("fee amount", err)
	}
	fulfillmentAmount, err := dec.ReadUint64(bin.LE)
	if err != nil {
		return nil, malformed("fulfillment amount", err)
	}

	statusByte, err := dec.ReadUint8()
	if err != nil {
		return nil, malformed("status", err)
	}
	if statusByte > uint8(StatusRefunded) {
		return nil, soltok.Errorf(soltok.ErrCodeMalformedAccount, "unknown status byte %d", statusByte)
	}

	createdAt, err := dec.ReadInt64(bin.LE)
	if err != nil {
		return nil, malformed("created at", err)
	}

	if amount != feeAmount+fulfillmentAmount {
		return nil, soltok.Errorf(soltok.ErrCodeMalformedAccount,
			"amount %d does not equal fee %d + fulfillment %d", amount, feeAmount, fulfillmentAmount)
	}

	return &Record{
		Buyer:             solana.PublicKeyFromBytes(buyerBytes),
		OrderID:           string(orderIDBytes),
		Amount:            amount,
		FeeAmount:         feeAmount,
		FulfillmentAmount: fulfillmentAmount,
		Status:            Status(statusByte),
		CreatedAt:         time.Unix(createdAt, 0).UTC(),
	}, nil
}

func malformed(field string, err error) error {
	return soltok.Errorf(soltok.ErrCodeMalformedAccount, "truncated account data reading %s: %v", field, err)
}
