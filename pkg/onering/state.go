package onering

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Onering/internal/types"
	"github.com/fortiblox/X1-Onering/pkg/accounts"
)

// DiscriminatorSize is the length of the record and instruction tags.
const DiscriminatorSize = 8

// Discriminator is the 8-byte tag prefixing every record and instruction.
type Discriminator [DiscriminatorSize]byte

func discriminator(namespace, name string) Discriminator {
	var d Discriminator
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	copy(d[:], sum[:DiscriminatorSize])
	return d
}

// Record discriminators.
var (
	GlobalStateDiscriminator = discriminator("account", "GlobalState")
	MarketDiscriminator      = discriminator("account", "Market")
	ReserveDiscriminator     = discriminator("account", "Reserve")
)

// GlobalState is the singleton configuration of one deployment.
type GlobalState struct {
	Admin              types.Pubkey
	SyntheticMint      types.Pubkey
	SyntheticDecimals  uint8
	MintAuthBump       uint8
	VaultAuthBump      uint8
	EmergencyFlag      bool
	TotalDepositAmount uint64
}

func (s *GlobalState) discriminator() Discriminator { return GlobalStateDiscriminator }

func (s *GlobalState) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteBytes(s.Admin[:], false); err != nil {
		return err
	}
	if err := encoder.WriteBytes(s.SyntheticMint[:], false); err != nil {
		return err
	}
	for _, b := range []uint8{s.SyntheticDecimals, s.MintAuthBump, s.VaultAuthBump} {
		if err := encoder.WriteUint8(b); err != nil {
			return err
		}
	}
	if err := encoder.WriteBool(s.EmergencyFlag); err != nil {
		return err
	}
	return encoder.WriteUint64(s.TotalDepositAmount, bin.LE)
}

func (s *GlobalState) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if s.Admin, err = readPubkey(decoder); err != nil {
		return err
	}
	if s.SyntheticMint, err = readPubkey(decoder); err != nil {
		return err
	}
	if s.SyntheticDecimals, err = decoder.ReadUint8(); err != nil {
		return err
	}
	if s.MintAuthBump, err = decoder.ReadUint8(); err != nil {
		return err
	}
	if s.VaultAuthBump, err = decoder.ReadUint8(); err != nil {
		return err
	}
	if s.EmergencyFlag, err = decoder.ReadBool(); err != nil {
		return err
	}
	s.TotalDepositAmount, err = decoder.ReadUint64(bin.LE)
	return err
}

// Market is the bookkeeping of one collateral asset.
type Market struct {
	GlobalState         types.Pubkey
	CollateralMint      types.Pubkey
	CollateralDecimals  uint8
	Vault               types.Pubkey
	VaultBump           uint8
	WithdrawalLiquidity uint64
	LockFlag            bool
}

func (m *Market) discriminator() Discriminator { return MarketDiscriminator }

func (m *Market) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteBytes(m.GlobalState[:], false); err != nil {
		return err
	}
	if err := encoder.WriteBytes(m.CollateralMint[:], false); err != nil {
		return err
	}
	if err := encoder.WriteUint8(m.CollateralDecimals); err != nil {
		return err
	}
	if err := encoder.WriteBytes(m.Vault[:], false); err != nil {
		return err
	}
	if err := encoder.WriteUint8(m.VaultBump); err != nil {
		return err
	}
	if err := encoder.WriteUint64(m.WithdrawalLiquidity, bin.LE); err != nil {
		return err
	}
	return encoder.WriteBool(m.LockFlag)
}

func (m *Market) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if m.GlobalState, err = readPubkey(decoder); err != nil {
		return err
	}
	if m.CollateralMint, err = readPubkey(decoder); err != nil {
		return err
	}
	if m.CollateralDecimals, err = decoder.ReadUint8(); err != nil {
		return err
	}
	if m.Vault, err = readPubkey(decoder); err != nil {
		return err
	}
	if m.VaultBump, err = decoder.ReadUint8(); err != nil {
		return err
	}
	if m.WithdrawalLiquidity, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	m.LockFlag, err = decoder.ReadBool()
	return err
}

// Reserve is one user's deposited synthetic balance.
type Reserve struct {
	Owner         types.Pubkey
	GlobalState   types.Pubkey
	Bump          uint8
	DepositAmount uint64
	FreezeFlag    bool
}

func (r *Reserve) discriminator() Discriminator { return ReserveDiscriminator }

func (r *Reserve) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteBytes(r.Owner[:], false); err != nil {
		return err
	}
	if err := encoder.WriteBytes(r.GlobalState[:], false); err != nil {
		return err
	}
	if err := encoder.WriteUint8(r.Bump); err != nil {
		return err
	}
	if err := encoder.WriteUint64(r.DepositAmount, bin.LE); err != nil {
		return err
	}
	return encoder.WriteBool(r.FreezeFlag)
}

func (r *Reserve) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if r.Owner, err = readPubkey(decoder); err != nil {
		return err
	}
	if r.GlobalState, err = readPubkey(decoder); err != nil {
		return err
	}
	if r.Bump, err = decoder.ReadUint8(); err != nil {
		return err
	}
	if r.DepositAmount, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	r.FreezeFlag, err = decoder.ReadBool()
	return err
}

func readPubkey(decoder *bin.Decoder) (types.Pubkey, error) {
	var pk types.Pubkey
	b, err := decoder.ReadBytes(types.PubkeySize)
	if err != nil {
		return pk, err
	}
	copy(pk[:], b)
	return pk, nil
}

type record interface {
	discriminator() Discriminator
	MarshalWithEncoder(encoder *bin.Encoder) error
	UnmarshalWithDecoder(decoder *bin.Decoder) error
}

// encodeRecord serializes r as an account owned by programID.
func encodeRecord(programID types.Pubkey, r record) *accounts.Account {
	buf := new(bytes.Buffer)
	d := r.discriminator()
	buf.Write(d[:])
	if err := r.MarshalWithEncoder(bin.NewBorshEncoder(buf)); err != nil {
		panic("shouldn't fail")
	}
	return &accounts.Account{Owner: programID, Data: buf.Bytes()}
}

// decodeRecord checks the owner and discriminator of acc and decodes it into r.
func decodeRecord(programID types.Pubkey, acc *accounts.Account, r record) error {
	if acc.Owner != programID {
		return ErrInvalidAccountOwner
	}
	d := r.discriminator()
	if len(acc.Data) < DiscriminatorSize || !bytes.Equal(acc.Data[:DiscriminatorSize], d[:]) {
		return fmt.Errorf("%w: discriminator mismatch", ErrAccountNotInitialized)
	}
	if err := r.UnmarshalWithDecoder(bin.NewBorshDecoder(acc.Data[DiscriminatorSize:])); err != nil {
		return fmt.Errorf("%w: %v", ErrAccountNotInitialized, err)
	}
	return nil
}

// AccountReader is read access to stored accounts. accounts.DB satisfies it.
type AccountReader interface {
	GetAccount(pubkey types.Pubkey) (*accounts.Account, error)
}

func fetch(db AccountReader, programID, key types.Pubkey, r record) error {
	acc, err := db.GetAccount(key)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return fmt.Errorf("%s: %w", key, ErrAccountNotInitialized)
	}
	if err != nil {
		return err
	}
	return decodeRecord(programID, acc, r)
}

// FetchGlobalState reads a committed GlobalState.
func FetchGlobalState(db AccountReader, programID, key types.Pubkey) (*GlobalState, error) {
	var s GlobalState
	if err := fetch(db, programID, key, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// FetchMarket reads a committed Market.
func FetchMarket(db AccountReader, programID, key types.Pubkey) (*Market, error) {
	var m Market
	if err := fetch(db, programID, key, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// FetchReserve reads a committed Reserve.
func FetchReserve(db AccountReader, programID, key types.Pubkey) (*Reserve, error) {
	var r Reserve
	if err := fetch(db, programID, key, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// RecordKind identifies the record type stored in acc, or "" if it is not
// one of this program's records.
func RecordKind(programID types.Pubkey, acc *accounts.Account) string {
	if acc.Owner != programID || len(acc.Data) < DiscriminatorSize {
		return ""
	}
	var d Discriminator
	copy(d[:], acc.Data)
	switch d {
	case GlobalStateDiscriminator:
		return "GlobalState"
	case MarketDiscriminator:
		return "Market"
	case ReserveDiscriminator:
		return "Reserve"
	}
	return ""
}
