package onering

import (
	"bytes"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Onering/internal/types"
	"github.com/fortiblox/X1-Onering/pkg/runtime"
)

// Instruction names.
const (
	InstructionCreateGlobalState = "create_global_state"
	InstructionSetEmergencyFlag  = "set_emergency_flag"
	InstructionTransferAdmin     = "transfer_admin"
	InstructionCreateMarket      = "create_market"
	InstructionSetMarketLock     = "set_market_lock"
	InstructionMint              = "mint"
	InstructionCreateReserve     = "create_reserve"
	InstructionDeposit           = "deposit"
	InstructionWithdraw          = "withdraw"
	InstructionMintAndDeposit    = "mint_and_deposit"
	InstructionSetReserveFreeze  = "set_reserve_freeze"
	InstructionRedeem            = "redeem"
)

var instructionByDiscriminator = func() map[Discriminator]string {
	m := make(map[Discriminator]string)
	for _, name := range []string{
		InstructionCreateGlobalState,
		InstructionSetEmergencyFlag,
		InstructionTransferAdmin,
		InstructionCreateMarket,
		InstructionSetMarketLock,
		InstructionMint,
		InstructionCreateReserve,
		InstructionDeposit,
		InstructionWithdraw,
		InstructionMintAndDeposit,
		InstructionSetReserveFreeze,
		InstructionRedeem,
	} {
		m[discriminator("global", name)] = name
	}
	return m
}()

// decodeInstruction splits data into the instruction name and an argument decoder.
func decodeInstruction(data []byte) (string, *bin.Decoder, error) {
	if len(data) < DiscriminatorSize {
		return "", nil, ErrInvalidInstruction
	}
	var d Discriminator
	copy(d[:], data)
	name, ok := instructionByDiscriminator[d]
	if !ok {
		return "", nil, ErrInvalidInstruction
	}
	return name, bin.NewBorshDecoder(data[DiscriminatorSize:]), nil
}

func newInstruction(programID types.Pubkey, name string, args func(*bin.Encoder) error, metas []runtime.AccountMeta) runtime.Instruction {
	buf := new(bytes.Buffer)
	d := discriminator("global", name)
	buf.Write(d[:])
	if args != nil {
		if err := args(bin.NewBorshEncoder(buf)); err != nil {
			panic("shouldn't fail")
		}
	}
	return runtime.Instruction{ProgramID: programID, Accounts: metas, Data: buf.Bytes()}
}

func u8Arg(v ...uint8) func(*bin.Encoder) error {
	return func(e *bin.Encoder) error {
		for _, b := range v {
			if err := e.WriteUint8(b); err != nil {
				return err
			}
		}
		return nil
	}
}

func boolArg(v bool) func(*bin.Encoder) error {
	return func(e *bin.Encoder) error { return e.WriteBool(v) }
}

func amountArg(v uint64) func(*bin.Encoder) error {
	return func(e *bin.Encoder) error { return e.WriteUint64(v, bin.LE) }
}

func signer(k types.Pubkey) runtime.AccountMeta         { return runtime.NewAccountMeta(k, true, false) }
func signerWritable(k types.Pubkey) runtime.AccountMeta { return runtime.NewAccountMeta(k, true, true) }
func writable(k types.Pubkey) runtime.AccountMeta       { return runtime.NewAccountMeta(k, false, true) }
func readonly(k types.Pubkey) runtime.AccountMeta       { return runtime.NewAccountMeta(k, false, false) }

// CreateGlobalStateAccounts are the accounts of create_global_state.
type CreateGlobalStateAccounts struct {
	Admin         types.Pubkey
	SyntheticMint types.Pubkey
	MintAuthority types.Pubkey
	GlobalState   types.Pubkey
}

// NewCreateGlobalStateInstruction designates the caller as admin of a new deployment.
func NewCreateGlobalStateInstruction(programID types.Pubkey, a CreateGlobalStateAccounts, mintAuthBump, vaultAuthBump uint8) runtime.Instruction {
	return newInstruction(programID, InstructionCreateGlobalState, u8Arg(mintAuthBump, vaultAuthBump), []runtime.AccountMeta{
		signer(a.Admin),
		readonly(a.SyntheticMint),
		readonly(a.MintAuthority),
		signerWritable(a.GlobalState),
	})
}

// SetEmergencyFlagAccounts are the accounts of set_emergency_flag.
type SetEmergencyFlagAccounts struct {
	Admin       types.Pubkey
	GlobalState types.Pubkey
}

// NewSetEmergencyFlagInstruction halts or resumes user operations.
func NewSetEmergencyFlagInstruction(programID types.Pubkey, a SetEmergencyFlagAccounts, flag bool) runtime.Instruction {
	return newInstruction(programID, InstructionSetEmergencyFlag, boolArg(flag), []runtime.AccountMeta{
		signer(a.Admin),
		writable(a.GlobalState),
	})
}

// TransferAdminAccounts are the accounts of transfer_admin.
type TransferAdminAccounts struct {
	Admin       types.Pubkey
	NewAdmin    types.Pubkey
	GlobalState types.Pubkey
}

// NewTransferAdminInstruction hands the admin role to NewAdmin.
func NewTransferAdminInstruction(programID types.Pubkey, a TransferAdminAccounts) runtime.Instruction {
	return newInstruction(programID, InstructionTransferAdmin, nil, []runtime.AccountMeta{
		signer(a.Admin),
		readonly(a.NewAdmin),
		writable(a.GlobalState),
	})
}

// CreateMarketAccounts are the accounts of create_market.
type CreateMarketAccounts struct {
	Admin          types.Pubkey
	CollateralMint types.Pubkey
	Vault          types.Pubkey
	VaultAuthority types.Pubkey
	Market         types.Pubkey
	GlobalState    types.Pubkey
}

// NewCreateMarketInstruction registers a collateral asset and creates its vault.
func NewCreateMarketInstruction(programID types.Pubkey, a CreateMarketAccounts, vaultBump uint8) runtime.Instruction {
	return newInstruction(programID, InstructionCreateMarket, u8Arg(vaultBump), []runtime.AccountMeta{
		signer(a.Admin),
		readonly(a.CollateralMint),
		writable(a.Vault),
		readonly(a.VaultAuthority),
		signerWritable(a.Market),
		readonly(a.GlobalState),
	})
}

// SetMarketLockAccounts are the accounts of set_market_lock.
type SetMarketLockAccounts struct {
	Admin       types.Pubkey
	Market      types.Pubkey
	GlobalState types.Pubkey
}

// NewSetMarketLockInstruction locks or unlocks a market.
func NewSetMarketLockInstruction(programID types.Pubkey, a SetMarketLockAccounts, lock bool) runtime.Instruction {
	return newInstruction(programID, InstructionSetMarketLock, boolArg(lock), []runtime.AccountMeta{
		signer(a.Admin),
		writable(a.Market),
		readonly(a.GlobalState),
	})
}

// MintAccounts are the accounts of mint.
type MintAccounts struct {
	User           types.Pubkey
	CollateralMint types.Pubkey
	Vault          types.Pubkey
	UserCollateral types.Pubkey
	SyntheticMint  types.Pubkey
	MintAuthority  types.Pubkey
	UserSynthetic  types.Pubkey
	Market         types.Pubkey
	GlobalState    types.Pubkey
}

// NewMintInstruction deposits collateral and issues synthetic tokens.
func NewMintInstruction(programID types.Pubkey, a MintAccounts, amount uint64) runtime.Instruction {
	return newInstruction(programID, InstructionMint, amountArg(amount), []runtime.AccountMeta{
		signer(a.User),
		readonly(a.CollateralMint),
		writable(a.Vault),
		writable(a.UserCollateral),
		writable(a.SyntheticMint),
		readonly(a.MintAuthority),
		writable(a.UserSynthetic),
		writable(a.Market),
		readonly(a.GlobalState),
	})
}

// CreateReserveAccounts are the accounts of create_reserve.
type CreateReserveAccounts struct {
	User        types.Pubkey
	Reserve     types.Pubkey
	GlobalState types.Pubkey
}

// NewCreateReserveInstruction creates the caller's reserve if it does not exist.
func NewCreateReserveInstruction(programID types.Pubkey, a CreateReserveAccounts, bump uint8) runtime.Instruction {
	return newInstruction(programID, InstructionCreateReserve, u8Arg(bump), []runtime.AccountMeta{
		signer(a.User),
		writable(a.Reserve),
		readonly(a.GlobalState),
	})
}

// DepositAccounts are the accounts of deposit.
type DepositAccounts struct {
	User          types.Pubkey
	SyntheticMint types.Pubkey
	UserSynthetic types.Pubkey
	Reserve       types.Pubkey
	GlobalState   types.Pubkey
}

// NewDepositInstruction moves synthetic tokens into the caller's reserve.
func NewDepositInstruction(programID types.Pubkey, a DepositAccounts, amount uint64) runtime.Instruction {
	return newInstruction(programID, InstructionDeposit, amountArg(amount), []runtime.AccountMeta{
		signer(a.User),
		writable(a.SyntheticMint),
		writable(a.UserSynthetic),
		writable(a.Reserve),
		writable(a.GlobalState),
	})
}

// WithdrawAccounts are the accounts of withdraw.
type WithdrawAccounts struct {
	User          types.Pubkey
	SyntheticMint types.Pubkey
	MintAuthority types.Pubkey
	UserSynthetic types.Pubkey
	Reserve       types.Pubkey
	GlobalState   types.Pubkey
}

// NewWithdrawInstruction returns synthetic tokens from the caller's reserve.
func NewWithdrawInstruction(programID types.Pubkey, a WithdrawAccounts, amount uint64) runtime.Instruction {
	return newInstruction(programID, InstructionWithdraw, amountArg(amount), []runtime.AccountMeta{
		signer(a.User),
		writable(a.SyntheticMint),
		readonly(a.MintAuthority),
		writable(a.UserSynthetic),
		writable(a.Reserve),
		writable(a.GlobalState),
	})
}

// MintAndDepositAccounts are the accounts of mint_and_deposit.
type MintAndDepositAccounts struct {
	User           types.Pubkey
	CollateralMint types.Pubkey
	Vault          types.Pubkey
	UserCollateral types.Pubkey
	Reserve        types.Pubkey
	Market         types.Pubkey
	GlobalState    types.Pubkey
}

// NewMintAndDepositInstruction deposits collateral and credits the issued
// synthetic amount straight to the caller's reserve.
func NewMintAndDepositInstruction(programID types.Pubkey, a MintAndDepositAccounts, amount uint64) runtime.Instruction {
	return newInstruction(programID, InstructionMintAndDeposit, amountArg(amount), []runtime.AccountMeta{
		signer(a.User),
		readonly(a.CollateralMint),
		writable(a.Vault),
		writable(a.UserCollateral),
		writable(a.Reserve),
		writable(a.Market),
		writable(a.GlobalState),
	})
}

// SetReserveFreezeAccounts are the accounts of set_reserve_freeze.
type SetReserveFreezeAccounts struct {
	Admin       types.Pubkey
	Reserve     types.Pubkey
	GlobalState types.Pubkey
}

// NewSetReserveFreezeInstruction freezes or thaws a reserve.
func NewSetReserveFreezeInstruction(programID types.Pubkey, a SetReserveFreezeAccounts, freeze bool) runtime.Instruction {
	return newInstruction(programID, InstructionSetReserveFreeze, boolArg(freeze), []runtime.AccountMeta{
		signer(a.Admin),
		writable(a.Reserve),
		readonly(a.GlobalState),
	})
}

// RedeemAccounts are the accounts of redeem.
type RedeemAccounts struct {
	User           types.Pubkey
	CollateralMint types.Pubkey
	Vault          types.Pubkey
	VaultAuthority types.Pubkey
	UserCollateral types.Pubkey
	SyntheticMint  types.Pubkey
	UserSynthetic  types.Pubkey
	Market         types.Pubkey
	GlobalState    types.Pubkey
}

// NewRedeemInstruction burns synthetic tokens and returns collateral.
func NewRedeemInstruction(programID types.Pubkey, a RedeemAccounts, amount uint64) runtime.Instruction {
	return newInstruction(programID, InstructionRedeem, amountArg(amount), []runtime.AccountMeta{
		signer(a.User),
		readonly(a.CollateralMint),
		writable(a.Vault),
		readonly(a.VaultAuthority),
		writable(a.UserCollateral),
		writable(a.SyntheticMint),
		writable(a.UserSynthetic),
		writable(a.Market),
		readonly(a.GlobalState),
	})
}
