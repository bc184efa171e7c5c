package token

import (
	"errors"
	"fmt"
	"math/bits"

	"github.com/fortiblox/X1-Onering/internal/types"
	"github.com/fortiblox/X1-Onering/pkg/accounts"
)

// View is the account access the ledger needs. accounts.Txn and
// runtime.InvokeContext both satisfy it.
type View interface {
	Get(pubkey types.Pubkey) (*accounts.Account, error)
	Set(pubkey types.Pubkey, account *accounts.Account) error
}

// Signers reports which addresses authorized the current operation.
type Signers interface {
	IsSigner(pubkey types.Pubkey) bool
}

// SignerSet is a fixed set of signers.
type SignerSet map[types.Pubkey]struct{}

// NewSignerSet builds a SignerSet from keys.
func NewSignerSet(keys ...types.Pubkey) SignerSet {
	s := make(SignerSet, len(keys))
	for _, k := range keys {
		s[k] = struct{}{}
	}
	return s
}

// IsSigner implements Signers.
func (s SignerSet) IsSigner(pubkey types.Pubkey) bool {
	_, ok := s[pubkey]
	return ok
}

// Ledger applies token operations to a View. Every operation validates
// everything before its first write.
type Ledger struct {
	view    View
	signers Signers
}

// NewLedger creates a ledger over view, authorizing against signers.
func NewLedger(view View, signers Signers) *Ledger {
	return &Ledger{view: view, signers: signers}
}

// LoadMint reads and decodes a mint.
func (l *Ledger) LoadMint(pubkey types.Pubkey) (*Mint, error) {
	acc, err := l.view.Get(pubkey)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return nil, fmt.Errorf("mint %s: %w", pubkey, ErrUninitialized)
	}
	if err != nil {
		return nil, err
	}
	m, err := DecodeMint(acc)
	if err != nil {
		return nil, fmt.Errorf("mint %s: %w", pubkey, err)
	}
	return m, nil
}

// LoadAccount reads and decodes a token account.
func (l *Ledger) LoadAccount(pubkey types.Pubkey) (*Account, error) {
	acc, err := l.view.Get(pubkey)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return nil, fmt.Errorf("token account %s: %w", pubkey, ErrUninitialized)
	}
	if err != nil {
		return nil, err
	}
	a, err := DecodeAccount(acc)
	if err != nil {
		return nil, fmt.Errorf("token account %s: %w", pubkey, err)
	}
	return a, nil
}

// Balance returns the amount held by a token account.
func (l *Ledger) Balance(pubkey types.Pubkey) (uint64, error) {
	a, err := l.LoadAccount(pubkey)
	if err != nil {
		return 0, err
	}
	return a.Amount, nil
}

func (l *Ledger) ensureUnused(pubkey types.Pubkey) error {
	_, err := l.view.Get(pubkey)
	if err == nil {
		return fmt.Errorf("%s: %w", pubkey, ErrAlreadyInUse)
	}
	if !errors.Is(err, accounts.ErrAccountNotFound) {
		return err
	}
	return nil
}

// InitializeMint creates a mint with the given decimals and mint authority.
func (l *Ledger) InitializeMint(mint types.Pubkey, decimals uint8, authority types.Pubkey) error {
	if err := l.ensureUnused(mint); err != nil {
		return err
	}
	return l.view.Set(mint, encode(&Mint{
		MintAuthority: authority,
		Decimals:      decimals,
		Initialized:   true,
	}))
}

// CreateAccount creates an empty token account for mint owned by owner.
func (l *Ledger) CreateAccount(pubkey, mint, owner types.Pubkey) error {
	if _, err := l.LoadMint(mint); err != nil {
		return err
	}
	if err := l.ensureUnused(pubkey); err != nil {
		return err
	}
	return l.view.Set(pubkey, encode(&Account{
		Mint:        mint,
		Owner:       owner,
		Initialized: true,
	}))
}

func (l *Ledger) authorize(expected, authority types.Pubkey, mismatch error) error {
	if expected != authority {
		return mismatch
	}
	if !l.signers.IsSigner(authority) {
		return fmt.Errorf("%w: %s", ErrMissingSignature, authority)
	}
	return nil
}

// Transfer moves amount between two accounts of the same mint.
// authority must own from and must have signed.
func (l *Ledger) Transfer(from, to types.Pubkey, amount uint64, authority types.Pubkey) error {
	src, err := l.LoadAccount(from)
	if err != nil {
		return err
	}
	dst, err := l.LoadAccount(to)
	if err != nil {
		return err
	}
	if src.Mint != dst.Mint {
		return ErrMintMismatch
	}
	if err := l.authorize(src.Owner, authority, ErrOwnerMismatch); err != nil {
		return err
	}
	if src.Amount < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, src.Amount, amount)
	}
	if from == to {
		return nil
	}
	sum, carry := bits.Add64(dst.Amount, amount, 0)
	if carry != 0 {
		return ErrOverflow
	}

	src.Amount -= amount
	dst.Amount = sum
	if err := l.view.Set(from, encode(src)); err != nil {
		return err
	}
	return l.view.Set(to, encode(dst))
}

// MintTo creates amount new tokens in to. authority must be the mint
// authority and must have signed.
func (l *Ledger) MintTo(mint, to types.Pubkey, amount uint64, authority types.Pubkey) error {
	m, err := l.LoadMint(mint)
	if err != nil {
		return err
	}
	dst, err := l.LoadAccount(to)
	if err != nil {
		return err
	}
	if dst.Mint != mint {
		return ErrMintMismatch
	}
	if err := l.authorize(m.MintAuthority, authority, ErrAuthorityMismatch); err != nil {
		return err
	}
	supply, carry := bits.Add64(m.Supply, amount, 0)
	if carry != 0 {
		return ErrOverflow
	}
	balance, carry := bits.Add64(dst.Amount, amount, 0)
	if carry != 0 {
		return ErrOverflow
	}

	m.Supply = supply
	dst.Amount = balance
	if err := l.view.Set(mint, encode(m)); err != nil {
		return err
	}
	return l.view.Set(to, encode(dst))
}

// Burn destroys amount tokens held in from. authority must own from and
// must have signed.
func (l *Ledger) Burn(mint, from types.Pubkey, amount uint64, authority types.Pubkey) error {
	m, err := l.LoadMint(mint)
	if err != nil {
		return err
	}
	src, err := l.LoadAccount(from)
	if err != nil {
		return err
	}
	if src.Mint != mint {
		return ErrMintMismatch
	}
	if err := l.authorize(src.Owner, authority, ErrOwnerMismatch); err != nil {
		return err
	}
	if src.Amount < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientFunds, src.Amount, amount)
	}
	if m.Supply < amount {
		return ErrOverflow
	}

	src.Amount -= amount
	m.Supply -= amount
	if err := l.view.Set(from, encode(src)); err != nil {
		return err
	}
	return l.view.Set(mint, encode(m))
}
