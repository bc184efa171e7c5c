// Package token implements the fungible-token ledger the Onering program
// moves balances through: mints, token accounts and the transfer, mint_to and
// burn primitives, plus a native program exposing them as instructions.
package token

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"

	bin "github.com/gagliardetto/binary"
	"github.com/shopspring/decimal"

	"github.com/fortiblox/X1-Onering/internal/types"
	"github.com/fortiblox/X1-Onering/pkg/accounts"
)

// Account kinds, stored as the first data byte.
const (
	kindMint    uint8 = 1
	kindAccount uint8 = 2
)

// Token errors.
var (
	ErrNotTokenAccount     = errors.New("account not owned by the token program")
	ErrInvalidAccountData  = errors.New("invalid token account data")
	ErrAlreadyInUse        = errors.New("account already in use")
	ErrUninitialized       = errors.New("account not initialized")
	ErrMintMismatch        = errors.New("account does not belong to mint")
	ErrOwnerMismatch       = errors.New("authority is not the account owner")
	ErrAuthorityMismatch   = errors.New("authority is not the mint authority")
	ErrMissingSignature    = errors.New("authority did not sign")
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrOverflow            = errors.New("operation overflowed")
	ErrInvalidInstruction  = errors.New("invalid token instruction")
	ErrInvalidAmountString = errors.New("invalid token amount")
)

// Mint describes one fungible token.
type Mint struct {
	MintAuthority types.Pubkey
	Supply        uint64
	Decimals      uint8
	Initialized   bool
}

// MarshalWithEncoder writes the mint layout.
func (m *Mint) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteUint8(kindMint); err != nil {
		return err
	}
	if err := encoder.WriteBytes(m.MintAuthority[:], false); err != nil {
		return err
	}
	if err := encoder.WriteUint64(m.Supply, bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteUint8(m.Decimals); err != nil {
		return err
	}
	return encoder.WriteBool(m.Initialized)
}

// UnmarshalWithDecoder reads the mint layout.
func (m *Mint) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	kind, err := decoder.ReadUint8()
	if err != nil {
		return err
	}
	if kind != kindMint {
		return ErrInvalidAccountData
	}
	b, err := decoder.ReadBytes(types.PubkeySize)
	if err != nil {
		return err
	}
	copy(m.MintAuthority[:], b)
	if m.Supply, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	if m.Decimals, err = decoder.ReadUint8(); err != nil {
		return err
	}
	m.Initialized, err = decoder.ReadBool()
	return err
}

// Account is a balance of one mint held by one owner.
type Account struct {
	Mint        types.Pubkey
	Owner       types.Pubkey
	Amount      uint64
	Initialized bool
}

// MarshalWithEncoder writes the token account layout.
func (a *Account) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteUint8(kindAccount); err != nil {
		return err
	}
	if err := encoder.WriteBytes(a.Mint[:], false); err != nil {
		return err
	}
	if err := encoder.WriteBytes(a.Owner[:], false); err != nil {
		return err
	}
	if err := encoder.WriteUint64(a.Amount, bin.LE); err != nil {
		return err
	}
	return encoder.WriteBool(a.Initialized)
}

// UnmarshalWithDecoder reads the token account layout.
func (a *Account) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	kind, err := decoder.ReadUint8()
	if err != nil {
		return err
	}
	if kind != kindAccount {
		return ErrInvalidAccountData
	}
	b, err := decoder.ReadBytes(types.PubkeySize)
	if err != nil {
		return err
	}
	copy(a.Mint[:], b)
	if b, err = decoder.ReadBytes(types.PubkeySize); err != nil {
		return err
	}
	copy(a.Owner[:], b)
	if a.Amount, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	a.Initialized, err = decoder.ReadBool()
	return err
}

type encodable interface {
	MarshalWithEncoder(encoder *bin.Encoder) error
}

func encode(v encodable) *accounts.Account {
	buf := new(bytes.Buffer)
	if err := v.MarshalWithEncoder(bin.NewBorshEncoder(buf)); err != nil {
		panic("shouldn't fail")
	}
	return &accounts.Account{Owner: types.TokenProgramAddr, Data: buf.Bytes()}
}

// DecodeMint decodes a stored mint record.
func DecodeMint(acc *accounts.Account) (*Mint, error) {
	if acc.Owner != types.TokenProgramAddr {
		return nil, ErrNotTokenAccount
	}
	var m Mint
	if err := m.UnmarshalWithDecoder(bin.NewBorshDecoder(acc.Data)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccountData, err)
	}
	if !m.Initialized {
		return nil, ErrUninitialized
	}
	return &m, nil
}

// DecodeAccount decodes a stored token account record.
func DecodeAccount(acc *accounts.Account) (*Account, error) {
	if acc.Owner != types.TokenProgramAddr {
		return nil, ErrNotTokenAccount
	}
	var a Account
	if err := a.UnmarshalWithDecoder(bin.NewBorshDecoder(acc.Data)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidAccountData, err)
	}
	if !a.Initialized {
		return nil, ErrUninitialized
	}
	return &a, nil
}

// UIAmount renders a raw amount in whole-token units, e.g. 100000000 with 6
// decimals is "100".
func UIAmount(amount uint64, decimals uint8) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -int32(decimals)).String()
}

// ParseUIAmount converts a whole-token string back into raw units. Amounts
// with more fractional digits than the mint supports are rejected.
func ParseUIAmount(s string, decimals uint8) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmountString, err)
	}
	raw := d.Shift(int32(decimals))
	if raw.IsNegative() || !raw.IsInteger() {
		return 0, fmt.Errorf("%w: %s", ErrInvalidAmountString, s)
	}
	n := raw.BigInt()
	if !n.IsUint64() {
		return 0, fmt.Errorf("%w: %s", ErrOverflow, s)
	}
	return n.Uint64(), nil
}
