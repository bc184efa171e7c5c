package onering

import (
	"context"
	"errors"
	"testing"

	"github.com/fortiblox/X1-Onering/internal/types"
	"github.com/fortiblox/X1-Onering/pkg/accounts"
	"github.com/fortiblox/X1-Onering/pkg/pda"
	"github.com/fortiblox/X1-Onering/pkg/runtime"
	"github.com/fortiblox/X1-Onering/pkg/token"
)

const startingCollateral = 1_000_000_000

type marketFixture struct {
	collateralMint types.Pubkey
	decimals       uint8
	market         types.Pubkey
	marketKP       *types.Keypair
	vault          types.Pubkey
	userCollateral types.Pubkey
}

// fixture is one deployment with a funded user, built through signed
// transactions the same way a client would.
type fixture struct {
	t       *testing.T
	db      *accounts.MemoryDB
	rt      *runtime.Runtime
	program types.Pubkey
	addrs   *Addresses

	admin         *types.Keypair
	state         types.Pubkey
	syntheticMint types.Pubkey

	user          *types.Keypair
	userSynthetic types.Pubkey
	reserve       types.Pubkey
	reserveBump   uint8

	m       *marketFixture
	markets []*marketFixture
}

func newFixture(t *testing.T, collateralDecimals, syntheticDecimals uint8) *fixture {
	t.Helper()
	db := accounts.NewMemoryDB()
	t.Cleanup(func() { db.Close() })
	rt := runtime.New(db, runtime.Config{})
	program := types.OneringProgramAddr
	rt.Register(token.NewProgram(), NewProgram(program))

	admin := types.MustNewKeypair()
	stateKP := types.MustNewKeypair()
	synKP := types.MustNewKeypair()
	user := types.MustNewKeypair()
	usKP := types.MustNewKeypair()

	addrs, err := DeriveAddresses(program, stateKP.Pubkey())
	if err != nil {
		t.Fatalf("DeriveAddresses failed: %v", err)
	}
	reserve, reserveBump, err := addrs.Reserve(user.Pubkey())
	if err != nil {
		t.Fatalf("Reserve failed: %v", err)
	}

	f := &fixture{
		t:             t,
		db:            db,
		rt:            rt,
		program:       program,
		addrs:         addrs,
		admin:         admin,
		state:         stateKP.Pubkey(),
		syntheticMint: synKP.Pubkey(),
		user:          user,
		userSynthetic: usKP.Pubkey(),
		reserve:       reserve,
		reserveBump:   reserveBump,
	}
	f.mustExec([]runtime.Instruction{
		token.NewInitializeMintInstruction(synKP.Pubkey(), syntheticDecimals, addrs.MintAuthority),
		NewCreateGlobalStateInstruction(program, CreateGlobalStateAccounts{
			Admin:         admin.Pubkey(),
			SyntheticMint: synKP.Pubkey(),
			MintAuthority: addrs.MintAuthority,
			GlobalState:   stateKP.Pubkey(),
		}, addrs.MintAuthBump, addrs.VaultAuthBump),
		token.NewInitializeAccountInstruction(usKP.Pubkey(), synKP.Pubkey(), user.Pubkey()),
	}, admin, stateKP, synKP, usKP)
	f.m = f.addMarket(collateralDecimals)
	return f
}

// addMarket creates a collateral mint and its market, and funds the user with
// startingCollateral of it.
func (f *fixture) addMarket(decimals uint8) *marketFixture {
	f.t.Helper()
	mintKP := types.MustNewKeypair()
	marketKP := types.MustNewKeypair()
	ucKP := types.MustNewKeypair()

	vault, vaultBump, err := f.addrs.Vault(mintKP.Pubkey(), marketKP.Pubkey())
	if err != nil {
		f.t.Fatalf("Vault failed: %v", err)
	}
	f.mustExec([]runtime.Instruction{
		token.NewInitializeMintInstruction(mintKP.Pubkey(), decimals, f.admin.Pubkey()),
		NewCreateMarketInstruction(f.program, CreateMarketAccounts{
			Admin:          f.admin.Pubkey(),
			CollateralMint: mintKP.Pubkey(),
			Vault:          vault,
			VaultAuthority: f.addrs.VaultAuthority,
			Market:         marketKP.Pubkey(),
			GlobalState:    f.state,
		}, vaultBump),
		token.NewInitializeAccountInstruction(ucKP.Pubkey(), mintKP.Pubkey(), f.user.Pubkey()),
		token.NewMintToInstruction(mintKP.Pubkey(), ucKP.Pubkey(), f.admin.Pubkey(), startingCollateral),
	}, f.admin, mintKP, marketKP, ucKP)

	m := &marketFixture{
		collateralMint: mintKP.Pubkey(),
		decimals:       decimals,
		market:         marketKP.Pubkey(),
		marketKP:       marketKP,
		vault:          vault,
		userCollateral: ucKP.Pubkey(),
	}
	f.markets = append(f.markets, m)
	return m
}

func (f *fixture) exec(instrs []runtime.Instruction, signers ...*types.Keypair) error {
	f.t.Helper()
	tx, err := runtime.NewTransaction(instrs, signers...)
	if err != nil {
		f.t.Fatalf("NewTransaction failed: %v", err)
	}
	_, err = f.rt.Execute(context.Background(), tx)
	return err
}

func (f *fixture) mustExec(instrs []runtime.Instruction, signers ...*types.Keypair) {
	f.t.Helper()
	if err := f.exec(instrs, signers...); err != nil {
		f.t.Fatalf("transaction failed: %v", err)
	}
}

func (f *fixture) userExec(ix runtime.Instruction) error {
	f.t.Helper()
	return f.exec([]runtime.Instruction{ix}, f.user)
}

func (f *fixture) mintAccounts(m *marketFixture) MintAccounts {
	return MintAccounts{
		User:           f.user.Pubkey(),
		CollateralMint: m.collateralMint,
		Vault:          m.vault,
		UserCollateral: m.userCollateral,
		SyntheticMint:  f.syntheticMint,
		MintAuthority:  f.addrs.MintAuthority,
		UserSynthetic:  f.userSynthetic,
		Market:         m.market,
		GlobalState:    f.state,
	}
}

func (f *fixture) redeemAccounts(m *marketFixture) RedeemAccounts {
	return RedeemAccounts{
		User:           f.user.Pubkey(),
		CollateralMint: m.collateralMint,
		Vault:          m.vault,
		VaultAuthority: f.addrs.VaultAuthority,
		UserCollateral: m.userCollateral,
		SyntheticMint:  f.syntheticMint,
		UserSynthetic:  f.userSynthetic,
		Market:         m.market,
		GlobalState:    f.state,
	}
}

func (f *fixture) depositAccounts() DepositAccounts {
	return DepositAccounts{
		User:          f.user.Pubkey(),
		SyntheticMint: f.syntheticMint,
		UserSynthetic: f.userSynthetic,
		Reserve:       f.reserve,
		GlobalState:   f.state,
	}
}

func (f *fixture) withdrawAccounts() WithdrawAccounts {
	return WithdrawAccounts{
		User:          f.user.Pubkey(),
		SyntheticMint: f.syntheticMint,
		MintAuthority: f.addrs.MintAuthority,
		UserSynthetic: f.userSynthetic,
		Reserve:       f.reserve,
		GlobalState:   f.state,
	}
}

func (f *fixture) mintAndDepositAccounts(m *marketFixture) MintAndDepositAccounts {
	return MintAndDepositAccounts{
		User:           f.user.Pubkey(),
		CollateralMint: m.collateralMint,
		Vault:          m.vault,
		UserCollateral: m.userCollateral,
		Reserve:        f.reserve,
		Market:         m.market,
		GlobalState:    f.state,
	}
}

func (f *fixture) mint(amount uint64) error {
	return f.userExec(NewMintInstruction(f.program, f.mintAccounts(f.m), amount))
}

func (f *fixture) redeem(amount uint64) error {
	return f.userExec(NewRedeemInstruction(f.program, f.redeemAccounts(f.m), amount))
}

func (f *fixture) deposit(amount uint64) error {
	return f.userExec(NewDepositInstruction(f.program, f.depositAccounts(), amount))
}

func (f *fixture) withdraw(amount uint64) error {
	return f.userExec(NewWithdrawInstruction(f.program, f.withdrawAccounts(), amount))
}

func (f *fixture) mintAndDeposit(amount uint64) error {
	return f.userExec(NewMintAndDepositInstruction(f.program, f.mintAndDepositAccounts(f.m), amount))
}

func (f *fixture) createReserve() error {
	return f.userExec(NewCreateReserveInstruction(f.program, CreateReserveAccounts{
		User:        f.user.Pubkey(),
		Reserve:     f.reserve,
		GlobalState: f.state,
	}, f.reserveBump))
}

// altReserve returns an off-curve reserve address for the user under a bump
// below the canonical one.
func (f *fixture) altReserve() (types.Pubkey, uint8) {
	f.t.Helper()
	seeds := ReserveSeeds(f.user.Pubkey(), f.state)
	for b := int(f.reserveBump) - 1; b >= 0; b-- {
		if addr, err := pda.Derive(seeds, uint8(b), f.program); err == nil {
			return addr, uint8(b)
		}
	}
	f.t.Fatal("no second viable reserve bump")
	return types.Pubkey{}, 0
}

func (f *fixture) setEmergency(signer *types.Keypair, flag bool) error {
	return f.exec([]runtime.Instruction{NewSetEmergencyFlagInstruction(f.program, SetEmergencyFlagAccounts{
		Admin:       signer.Pubkey(),
		GlobalState: f.state,
	}, flag)}, signer)
}

func (f *fixture) setLock(signer *types.Keypair, lock bool) error {
	return f.exec([]runtime.Instruction{NewSetMarketLockInstruction(f.program, SetMarketLockAccounts{
		Admin:       signer.Pubkey(),
		Market:      f.m.market,
		GlobalState: f.state,
	}, lock)}, signer)
}

func (f *fixture) setFreeze(signer *types.Keypair, freeze bool) error {
	return f.exec([]runtime.Instruction{NewSetReserveFreezeInstruction(f.program, SetReserveFreezeAccounts{
		Admin:       signer.Pubkey(),
		Reserve:     f.reserve,
		GlobalState: f.state,
	}, freeze)}, signer)
}

func (f *fixture) balance(k types.Pubkey) uint64 {
	f.t.Helper()
	bal, err := token.NewLedger(accounts.NewTxn(f.db), token.NewSignerSet()).Balance(k)
	if err != nil {
		f.t.Fatalf("Balance(%s) failed: %v", k, err)
	}
	return bal
}

func (f *fixture) supply() uint64 {
	f.t.Helper()
	m, err := token.NewLedger(accounts.NewTxn(f.db), token.NewSignerSet()).LoadMint(f.syntheticMint)
	if err != nil {
		f.t.Fatalf("LoadMint failed: %v", err)
	}
	return m.Supply
}

func (f *fixture) globalState() *GlobalState {
	f.t.Helper()
	s, err := FetchGlobalState(f.db, f.program, f.state)
	if err != nil {
		f.t.Fatalf("FetchGlobalState failed: %v", err)
	}
	return s
}

func (f *fixture) market(m *marketFixture) *Market {
	f.t.Helper()
	rec, err := FetchMarket(f.db, f.program, m.market)
	if err != nil {
		f.t.Fatalf("FetchMarket failed: %v", err)
	}
	return rec
}

func (f *fixture) reserveRecord() *Reserve {
	f.t.Helper()
	r, err := FetchReserve(f.db, f.program, f.reserve)
	if err != nil {
		f.t.Fatalf("FetchReserve failed: %v", err)
	}
	return r
}

func (f *fixture) stateHash() types.Hash {
	f.t.Helper()
	h, err := accounts.ComputeStateHash(f.db)
	if err != nil {
		f.t.Fatalf("ComputeStateHash failed: %v", err)
	}
	return h
}

// checkBacking asserts that every vault holds exactly its market's liquidity,
// that outstanding plus reserved synthetic equals the converted liquidity, and
// that no collateral was created or lost.
func (f *fixture) checkBacking() {
	f.t.Helper()
	state := f.globalState()
	var backed uint64
	for _, m := range f.markets {
		rec := f.market(m)
		vault := f.balance(m.vault)
		if vault != rec.WithdrawalLiquidity {
			f.t.Errorf("vault holds %d, market liquidity is %d", vault, rec.WithdrawalLiquidity)
		}
		if got := vault + f.balance(m.userCollateral); got != startingCollateral {
			f.t.Errorf("collateral not conserved: %d", got)
		}
		syn, err := ToSynthetic(rec.WithdrawalLiquidity, m.decimals, state.SyntheticDecimals)
		if err != nil {
			f.t.Fatalf("ToSynthetic failed: %v", err)
		}
		backed += syn
	}
	if issued := f.supply() + state.TotalDepositAmount; issued != backed {
		f.t.Errorf("synthetic issued %d (supply %d, reserved %d), backed %d",
			issued, f.supply(), state.TotalDepositAmount, backed)
	}

	var reserved uint64
	err := f.db.IterateAccounts(func(pk types.Pubkey, acc *accounts.Account) error {
		if RecordKind(f.program, acc) != "Reserve" {
			return nil
		}
		r, err := FetchReserve(f.db, f.program, pk)
		if err != nil {
			return err
		}
		reserved += r.DepositAmount
		return nil
	})
	if err != nil {
		f.t.Fatalf("IterateAccounts failed: %v", err)
	}
	if reserved != state.TotalDepositAmount {
		f.t.Errorf("reserves hold %d, total deposit amount is %d", reserved, state.TotalDepositAmount)
	}
}

func expectCode(t *testing.T, err error, want *Error) {
	t.Helper()
	if !errors.Is(err, want) {
		t.Fatalf("got %v, want %s", err, want.Name)
	}
	if code := runtime.ErrorCode(err); code != want.Code {
		t.Fatalf("error code: got %d, want %d", code, want.Code)
	}
}

func TestConcreteScenario(t *testing.T) {
	f := newFixture(t, 6, 6)
	const amount = 100_000_000

	if err := f.mint(amount); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if got := f.balance(f.userSynthetic); got != amount {
		t.Errorf("synthetic after mint: got %d, want %d", got, amount)
	}
	if got := f.balance(f.m.userCollateral); got != startingCollateral-amount {
		t.Errorf("collateral after mint: got %d", got)
	}
	if got := f.market(f.m).WithdrawalLiquidity; got != amount {
		t.Errorf("liquidity after mint: got %d", got)
	}
	f.checkBacking()

	if err := f.deposit(amount); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if got := f.reserveRecord().DepositAmount; got != amount {
		t.Errorf("reserve after deposit: got %d", got)
	}
	if got := f.balance(f.userSynthetic); got != 0 {
		t.Errorf("synthetic after deposit: got %d", got)
	}
	if got := f.globalState().TotalDepositAmount; got != amount {
		t.Errorf("total deposits: got %d", got)
	}
	f.checkBacking()

	if err := f.withdraw(amount); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if got := f.reserveRecord().DepositAmount; got != 0 {
		t.Errorf("reserve after withdraw: got %d", got)
	}
	if got := f.balance(f.userSynthetic); got != amount {
		t.Errorf("synthetic after withdraw: got %d", got)
	}
	f.checkBacking()

	if err := f.redeem(amount); err != nil {
		t.Fatalf("redeem failed: %v", err)
	}
	if got := f.balance(f.m.userCollateral); got != startingCollateral {
		t.Errorf("collateral after redeem: got %d, want %d", got, startingCollateral)
	}
	if got := f.balance(f.m.vault); got != 0 {
		t.Errorf("vault after redeem: got %d", got)
	}
	if got := f.market(f.m).WithdrawalLiquidity; got != 0 {
		t.Errorf("liquidity after redeem: got %d", got)
	}
	if got := f.supply(); got != 0 {
		t.Errorf("supply after redeem: got %d", got)
	}
	f.checkBacking()
}

func TestSetupRecords(t *testing.T) {
	f := newFixture(t, 6, 9)

	state := f.globalState()
	if state.Admin != f.admin.Pubkey() || state.SyntheticMint != f.syntheticMint {
		t.Errorf("global state: %+v", state)
	}
	if state.SyntheticDecimals != 9 || state.MintAuthBump != f.addrs.MintAuthBump || state.VaultAuthBump != f.addrs.VaultAuthBump {
		t.Errorf("global state: %+v", state)
	}

	m := f.market(f.m)
	if m.GlobalState != f.state || m.CollateralMint != f.m.collateralMint || m.Vault != f.m.vault || m.CollateralDecimals != 6 {
		t.Errorf("market: %+v", m)
	}

	vault, err := token.NewLedger(accounts.NewTxn(f.db), token.NewSignerSet()).LoadAccount(f.m.vault)
	if err != nil {
		t.Fatalf("vault not created: %v", err)
	}
	if vault.Owner != f.addrs.VaultAuthority || vault.Mint != f.m.collateralMint {
		t.Errorf("vault: %+v", vault)
	}

	acc, err := f.db.GetAccount(f.state)
	if err != nil {
		t.Fatalf("GetAccount failed: %v", err)
	}
	if kind := RecordKind(f.program, acc); kind != "GlobalState" {
		t.Errorf("RecordKind: got %q", kind)
	}
	if _, err := FetchMarket(f.db, f.program, f.state); !errors.Is(err, ErrAccountNotInitialized) {
		t.Errorf("global state fetched as market: got %v", err)
	}
	if _, err := FetchMarket(f.db, f.program, f.m.vault); !errors.Is(err, ErrInvalidAccountOwner) {
		t.Errorf("token account fetched as market: got %v", err)
	}
}

func TestAdminOperations(t *testing.T) {
	f := newFixture(t, 6, 6)
	stranger := types.MustNewKeypair()

	expectCode(t, f.setEmergency(stranger, true), ErrUnauthorized)
	expectCode(t, f.setLock(stranger, true), ErrUnauthorized)

	newAdmin := types.MustNewKeypair()
	transfer := func(signer *types.Keypair) error {
		return f.exec([]runtime.Instruction{NewTransferAdminInstruction(f.program, TransferAdminAccounts{
			Admin:       signer.Pubkey(),
			NewAdmin:    newAdmin.Pubkey(),
			GlobalState: f.state,
		})}, signer)
	}
	expectCode(t, transfer(stranger), ErrUnauthorized)
	if err := transfer(f.admin); err != nil {
		t.Fatalf("transfer_admin failed: %v", err)
	}
	if got := f.globalState().Admin; got != newAdmin.Pubkey() {
		t.Errorf("admin: got %s, want %s", got, newAdmin.Pubkey())
	}
	expectCode(t, f.setEmergency(f.admin, true), ErrUnauthorized)
	if err := f.setEmergency(newAdmin, true); err != nil {
		t.Fatalf("new admin set_emergency_flag failed: %v", err)
	}
	if !f.globalState().EmergencyFlag {
		t.Error("emergency flag not set")
	}

	// A market cannot be registered twice.
	vault, bump, err := f.addrs.Vault(f.m.collateralMint, f.m.market)
	if err != nil {
		t.Fatalf("Vault failed: %v", err)
	}
	err = f.exec([]runtime.Instruction{NewCreateMarketInstruction(f.program, CreateMarketAccounts{
		Admin:          newAdmin.Pubkey(),
		CollateralMint: f.m.collateralMint,
		Vault:          vault,
		VaultAuthority: f.addrs.VaultAuthority,
		Market:         f.m.market,
		GlobalState:    f.state,
	}, bump)}, newAdmin, f.m.marketKP)
	expectCode(t, err, ErrAlreadyInitialized)
}

func TestCreateGlobalStateChecks(t *testing.T) {
	db := accounts.NewMemoryDB()
	defer db.Close()
	rt := runtime.New(db, runtime.Config{})
	program := types.OneringProgramAddr
	rt.Register(token.NewProgram(), NewProgram(program))

	admin := types.MustNewKeypair()
	stateKP := types.MustNewKeypair()
	synKP := types.MustNewKeypair()
	addrs, err := DeriveAddresses(program, stateKP.Pubkey())
	if err != nil {
		t.Fatalf("DeriveAddresses failed: %v", err)
	}
	run := func(instrs ...runtime.Instruction) error {
		tx, err := runtime.NewTransaction(instrs, admin, stateKP, synKP)
		if err != nil {
			t.Fatalf("NewTransaction failed: %v", err)
		}
		_, err = rt.Execute(context.Background(), tx)
		return err
	}
	create := func(mintAuthority types.Pubkey) runtime.Instruction {
		return NewCreateGlobalStateInstruction(program, CreateGlobalStateAccounts{
			Admin:         admin.Pubkey(),
			SyntheticMint: synKP.Pubkey(),
			MintAuthority: mintAuthority,
			GlobalState:   stateKP.Pubkey(),
		}, addrs.MintAuthBump, addrs.VaultAuthBump)
	}

	// The synthetic mint must already be controlled by the derived authority.
	expectCode(t, run(
		token.NewInitializeMintInstruction(synKP.Pubkey(), 6, admin.Pubkey()),
		create(addrs.MintAuthority),
	), ErrInvalidSyntheticMint)

	expectCode(t, run(
		token.NewInitializeMintInstruction(synKP.Pubkey(), 6, addrs.MintAuthority),
		create(addrs.VaultAuthority),
	), ErrAuthorityMismatch)

	// An off-curve vault authority bump other than the canonical one.
	altVaultBump := -1
	for b := int(addrs.VaultAuthBump) - 1; b >= 0; b-- {
		if _, err := pda.Derive(VaultAuthoritySeeds(stateKP.Pubkey()), uint8(b), program); err == nil {
			altVaultBump = b
			break
		}
	}
	if altVaultBump < 0 {
		t.Fatal("no second viable vault authority bump")
	}
	expectCode(t, run(
		token.NewInitializeMintInstruction(synKP.Pubkey(), 6, addrs.MintAuthority),
		NewCreateGlobalStateInstruction(program, CreateGlobalStateAccounts{
			Admin:         admin.Pubkey(),
			SyntheticMint: synKP.Pubkey(),
			MintAuthority: addrs.MintAuthority,
			GlobalState:   stateKP.Pubkey(),
		}, addrs.MintAuthBump, uint8(altVaultBump)),
	), ErrAuthorityMismatch)

	if err := run(
		token.NewInitializeMintInstruction(synKP.Pubkey(), 6, addrs.MintAuthority),
		create(addrs.MintAuthority),
	); err != nil {
		t.Fatalf("create_global_state failed: %v", err)
	}
	expectCode(t, run(create(addrs.MintAuthority)), ErrAlreadyInitialized)
}

func TestAuthorityGate(t *testing.T) {
	f := newFixture(t, 6, 6)
	if err := f.mint(100_000_000); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if err := f.deposit(50_000_000); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	other := types.MustNewKeypair()
	decoy := types.MustNewKeypair().Pubkey()

	tests := []struct {
		name    string
		ix      func() runtime.Instruction
		signers []*types.Keypair
	}{
		{
			name: "mint with foreign mint authority",
			ix: func() runtime.Instruction {
				a := f.mintAccounts(f.m)
				a.MintAuthority = decoy
				return NewMintInstruction(f.program, a, 1_000)
			},
		},
		{
			name: "mint with vault authority as mint authority",
			ix: func() runtime.Instruction {
				a := f.mintAccounts(f.m)
				a.MintAuthority = f.addrs.VaultAuthority
				return NewMintInstruction(f.program, a, 1_000)
			},
		},
		{
			name: "mint into a vault that is not the market's",
			ix: func() runtime.Instruction {
				a := f.mintAccounts(f.m)
				a.Vault = f.userSynthetic
				return NewMintInstruction(f.program, a, 1_000)
			},
		},
		{
			name: "redeem with foreign vault authority",
			ix: func() runtime.Instruction {
				a := f.redeemAccounts(f.m)
				a.VaultAuthority = decoy
				return NewRedeemInstruction(f.program, a, 1_000)
			},
		},
		{
			name: "redeem with mint authority as vault authority",
			ix: func() runtime.Instruction {
				a := f.redeemAccounts(f.m)
				a.VaultAuthority = f.addrs.MintAuthority
				return NewRedeemInstruction(f.program, a, 1_000)
			},
		},
		{
			name: "withdraw with foreign mint authority",
			ix: func() runtime.Instruction {
				a := f.withdrawAccounts()
				a.MintAuthority = decoy
				return NewWithdrawInstruction(f.program, a, 1_000)
			},
		},
		{
			name: "deposit into a non-canonical reserve",
			ix: func() runtime.Instruction {
				a := f.depositAccounts()
				a.Reserve = decoy
				return NewDepositInstruction(f.program, a, 1_000)
			},
		},
		{
			name: "withdraw from another user's reserve",
			ix: func() runtime.Instruction {
				a := f.withdrawAccounts()
				a.User = other.Pubkey()
				return NewWithdrawInstruction(f.program, a, 1_000)
			},
			signers: []*types.Keypair{other},
		},
		{
			name: "create reserve under a non-canonical bump",
			ix: func() runtime.Instruction {
				alt, bump := f.altReserve()
				return NewCreateReserveInstruction(f.program, CreateReserveAccounts{
					User:        f.user.Pubkey(),
					Reserve:     alt,
					GlobalState: f.state,
				}, bump)
			},
		},
		{
			name: "create reserve with wrong bump",
			ix: func() runtime.Instruction {
				return NewCreateReserveInstruction(f.program, CreateReserveAccounts{
					User:        f.user.Pubkey(),
					Reserve:     f.reserve,
					GlobalState: f.state,
				}, f.reserveBump-1)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			signers := tt.signers
			if signers == nil {
				signers = []*types.Keypair{f.user}
			}
			before := f.stateHash()
			err := f.exec([]runtime.Instruction{tt.ix()}, signers...)
			expectCode(t, err, ErrAuthorityMismatch)
			if after := f.stateHash(); after != before {
				t.Error("state changed after rejected transaction")
			}
		})
	}
	f.checkBacking()
}

func TestEmergencyHalt(t *testing.T) {
	f := newFixture(t, 6, 6)
	if err := f.mint(200_000_000); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if err := f.deposit(100_000_000); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	if err := f.setEmergency(f.admin, true); err != nil {
		t.Fatalf("set_emergency_flag failed: %v", err)
	}

	before := f.stateHash()
	ops := map[string]func() error{
		"mint":             func() error { return f.mint(1_000) },
		"deposit":          func() error { return f.deposit(1_000) },
		"withdraw":         func() error { return f.withdraw(1_000) },
		"redeem":           func() error { return f.redeem(1_000) },
		"mint_and_deposit": func() error { return f.mintAndDeposit(1_000) },
	}
	for name, op := range ops {
		if err := op(); !errors.Is(err, ErrEmergencyHalted) {
			t.Errorf("%s while halted: got %v, want EmergencyHalted", name, err)
		}
	}
	if f.stateHash() != before {
		t.Error("halted operations changed state")
	}

	// Admin operations keep working while halted.
	if err := f.setLock(f.admin, true); err != nil {
		t.Errorf("set_market_lock while halted: %v", err)
	}
	if err := f.setLock(f.admin, false); err != nil {
		t.Errorf("set_market_lock while halted: %v", err)
	}

	if err := f.setEmergency(f.admin, false); err != nil {
		t.Fatalf("clear emergency flag failed: %v", err)
	}
	for name, op := range ops {
		if err := op(); err != nil {
			t.Errorf("%s after recovery: %v", name, err)
		}
	}
	f.checkBacking()
}

func TestMarketLock(t *testing.T) {
	f := newFixture(t, 6, 6)
	if err := f.mint(100_000_000); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if err := f.setLock(f.admin, true); err != nil {
		t.Fatalf("set_market_lock failed: %v", err)
	}
	if !f.market(f.m).LockFlag {
		t.Fatal("lock flag not set")
	}

	expectCode(t, f.mint(1_000), ErrMarketLocked)
	expectCode(t, f.redeem(1_000), ErrMarketLocked)
	expectCode(t, f.mintAndDeposit(1_000), ErrMarketLocked)

	// Reserves do not depend on a market.
	if err := f.deposit(10_000); err != nil {
		t.Errorf("deposit with locked market: %v", err)
	}
	if err := f.withdraw(10_000); err != nil {
		t.Errorf("withdraw with locked market: %v", err)
	}

	if err := f.setLock(f.admin, false); err != nil {
		t.Fatalf("unlock failed: %v", err)
	}
	if err := f.redeem(100_000_000); err != nil {
		t.Fatalf("redeem after unlock: %v", err)
	}
	f.checkBacking()
}

func TestReserveFreeze(t *testing.T) {
	f := newFixture(t, 6, 6)
	if err := f.mint(100_000_000); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if err := f.deposit(60_000_000); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	expectCode(t, f.setFreeze(f.user, true), ErrUnauthorized)
	if err := f.setFreeze(f.admin, true); err != nil {
		t.Fatalf("set_reserve_freeze failed: %v", err)
	}
	expectCode(t, f.deposit(1_000), ErrReserveFrozen)
	expectCode(t, f.withdraw(1_000), ErrReserveFrozen)
	expectCode(t, f.mintAndDeposit(1_000), ErrReserveFrozen)

	// A second reserve for the same owner would sidestep the freeze.
	alt, altBump := f.altReserve()
	expectCode(t, f.userExec(NewCreateReserveInstruction(f.program, CreateReserveAccounts{
		User:        f.user.Pubkey(),
		Reserve:     alt,
		GlobalState: f.state,
	}, altBump)), ErrAuthorityMismatch)
	da := f.depositAccounts()
	da.Reserve = alt
	expectCode(t, f.userExec(NewDepositInstruction(f.program, da, 1_000)), ErrAuthorityMismatch)
	if ok, err := f.db.HasAccount(alt); err != nil || ok {
		t.Errorf("second reserve exists=%v err=%v", ok, err)
	}

	// Freezing a reserve does not block the rest of the deployment.
	if err := f.redeem(40_000_000); err != nil {
		t.Errorf("redeem with frozen reserve: %v", err)
	}

	if err := f.setFreeze(f.admin, false); err != nil {
		t.Fatalf("thaw failed: %v", err)
	}
	if err := f.withdraw(60_000_000); err != nil {
		t.Fatalf("withdraw after thaw: %v", err)
	}
	if got := f.reserveRecord().DepositAmount; got != 0 {
		t.Errorf("reserve after withdraw: got %d", got)
	}
	f.checkBacking()
}

func TestCreateReserve(t *testing.T) {
	f := newFixture(t, 6, 6)
	if err := f.createReserve(); err != nil {
		t.Fatalf("create_reserve failed: %v", err)
	}
	r := f.reserveRecord()
	if r.Owner != f.user.Pubkey() || r.GlobalState != f.state || r.Bump != f.reserveBump || r.DepositAmount != 0 {
		t.Errorf("reserve: %+v", r)
	}

	if err := f.mint(5_000); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if err := f.deposit(5_000); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}
	// A second create leaves the existing balance alone.
	if err := f.createReserve(); err != nil {
		t.Fatalf("second create_reserve failed: %v", err)
	}
	if got := f.reserveRecord().DepositAmount; got != 5_000 {
		t.Errorf("reserve after re-create: got %d, want 5000", got)
	}
}

func TestMintAndDeposit(t *testing.T) {
	f := newFixture(t, 6, 6)
	const amount = 100_000_000

	if err := f.mintAndDeposit(amount); err != nil {
		t.Fatalf("mint_and_deposit failed: %v", err)
	}
	if got := f.reserveRecord().DepositAmount; got != amount {
		t.Errorf("reserve: got %d, want %d", got, amount)
	}
	if got := f.balance(f.userSynthetic); got != 0 {
		t.Errorf("synthetic balance: got %d, want 0", got)
	}
	if got := f.supply(); got != 0 {
		t.Errorf("supply: got %d, want 0", got)
	}
	if got := f.balance(f.m.vault); got != amount {
		t.Errorf("vault: got %d, want %d", got, amount)
	}
	f.checkBacking()

	// The combined operation is all-or-nothing.
	if err := f.setFreeze(f.admin, true); err != nil {
		t.Fatalf("set_reserve_freeze failed: %v", err)
	}
	before := f.stateHash()
	expectCode(t, f.mintAndDeposit(amount), ErrReserveFrozen)
	if f.stateHash() != before {
		t.Error("failed mint_and_deposit moved collateral")
	}
	if err := f.setFreeze(f.admin, false); err != nil {
		t.Fatalf("thaw failed: %v", err)
	}

	if err := f.withdraw(amount); err != nil {
		t.Fatalf("withdraw failed: %v", err)
	}
	if err := f.redeem(amount); err != nil {
		t.Fatalf("redeem failed: %v", err)
	}
	if got := f.balance(f.m.userCollateral); got != startingCollateral {
		t.Errorf("collateral after round trip: got %d", got)
	}
	f.checkBacking()
}

func TestRejectedOperations(t *testing.T) {
	f := newFixture(t, 6, 6)
	if err := f.mint(100_000_000); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if err := f.deposit(10_000_000); err != nil {
		t.Fatalf("deposit failed: %v", err)
	}

	wrongCollateral := func() error {
		a := f.mintAccounts(f.m)
		a.CollateralMint = f.syntheticMint
		return f.userExec(NewMintInstruction(f.program, a, 1_000))
	}
	wrongSynthetic := func() error {
		a := f.redeemAccounts(f.m)
		a.SyntheticMint = f.m.collateralMint
		return f.userExec(NewRedeemInstruction(f.program, a, 1_000))
	}
	wrongOwner := func() error {
		a := f.mintAccounts(f.m)
		a.UserSynthetic = f.m.vault
		return f.userExec(NewMintInstruction(f.program, a, 1_000))
	}

	tests := []struct {
		name string
		op   func() error
		want *Error
	}{
		{"zero mint", func() error { return f.mint(0) }, ErrInvalidAmount},
		{"zero redeem", func() error { return f.redeem(0) }, ErrInvalidAmount},
		{"mint beyond balance", func() error { return f.mint(startingCollateral) }, ErrInsufficientBalance},
		{"deposit beyond balance", func() error { return f.deposit(90_000_001) }, ErrInsufficientBalance},
		{"redeem beyond balance", func() error { return f.redeem(90_000_001) }, ErrInsufficientBalance},
		{"withdraw beyond reserve", func() error { return f.withdraw(10_000_001) }, ErrInsufficientReserveBalance},
		{"wrong collateral mint", wrongCollateral, ErrInvalidCollateralMint},
		{"wrong synthetic mint", wrongSynthetic, ErrInvalidSyntheticMint},
		{"foreign token account", wrongOwner, ErrInvalidAccountOwner},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := f.stateHash()
			expectCode(t, tt.op(), tt.want)
			if f.stateHash() != before {
				t.Error("state changed after rejected transaction")
			}
		})
	}
	f.checkBacking()

	t.Run("issuance overflow", func(t *testing.T) {
		// 2 whole collateral units at 0 decimals is 2e19 synthetic units at 19.
		wide := newFixture(t, 0, 19)
		before := wide.stateHash()
		expectCode(t, wide.mint(2), ErrArithmeticOverflow)
		if wide.stateHash() != before {
			t.Error("state changed after overflowing mint")
		}
		if err := wide.mint(1); err != nil {
			t.Fatalf("mint of one unit failed: %v", err)
		}
		wide.checkBacking()
	})
}

func TestInsufficientLiquidity(t *testing.T) {
	f := newFixture(t, 6, 6)
	second := f.addMarket(6)

	if err := f.mint(100_000_000); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if err := f.userExec(NewMintInstruction(f.program, f.mintAccounts(second), 100_000_000)); err != nil {
		t.Fatalf("mint on second market failed: %v", err)
	}
	f.checkBacking()

	// The synthetic balance covers it, but one market cannot pay out another's collateral.
	expectCode(t, f.redeem(200_000_000), ErrInsufficientLiquidity)

	if err := f.redeem(100_000_000); err != nil {
		t.Fatalf("redeem failed: %v", err)
	}
	if err := f.userExec(NewRedeemInstruction(f.program, f.redeemAccounts(second), 100_000_000)); err != nil {
		t.Fatalf("redeem on second market failed: %v", err)
	}
	if got := f.supply(); got != 0 {
		t.Errorf("supply: got %d, want 0", got)
	}
	f.checkBacking()
}

func TestDecimalScaling(t *testing.T) {
	f := newFixture(t, 6, 9)

	if err := f.mint(1_000_000); err != nil {
		t.Fatalf("mint failed: %v", err)
	}
	if got := f.balance(f.userSynthetic); got != 1_000_000_000 {
		t.Errorf("synthetic for 1.0 collateral: got %d, want 1000000000", got)
	}
	f.checkBacking()

	// 1500 synthetic units is 1.5 collateral units.
	expectCode(t, f.redeem(1_500), ErrInvalidAmount)

	if err := f.redeem(1_000_000_000); err != nil {
		t.Fatalf("redeem failed: %v", err)
	}
	if got := f.balance(f.m.userCollateral); got != startingCollateral {
		t.Errorf("collateral after redeem: got %d", got)
	}
	f.checkBacking()
}

func TestConvert(t *testing.T) {
	tests := []struct {
		name      string
		amount    uint64
		colDec    uint8
		synDec    uint8
		synthetic uint64
		wantErr   *Error
	}{
		{name: "same decimals", amount: 100_000_000, colDec: 6, synDec: 6, synthetic: 100_000_000},
		{name: "scale up", amount: 1_000_000, colDec: 6, synDec: 9, synthetic: 1_000_000_000},
		{name: "scale down", amount: 1_000_000_000, colDec: 9, synDec: 6, synthetic: 1_000_000},
		{name: "scale down inexact", amount: 1_500, colDec: 9, synDec: 6, wantErr: ErrInvalidAmount},
		{name: "scale down to zero", amount: 999, colDec: 9, synDec: 6, wantErr: ErrInvalidAmount},
		{name: "overflow", amount: ^uint64(0), colDec: 0, synDec: 1, wantErr: ErrArithmeticOverflow},
		{name: "exponent too large", amount: 1, colDec: 0, synDec: 20, wantErr: ErrArithmeticOverflow},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ToSynthetic(tt.amount, tt.colDec, tt.synDec)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("got %d, %v; want %s", got, err, tt.wantErr.Name)
				}
				return
			}
			if err != nil {
				t.Fatalf("ToSynthetic failed: %v", err)
			}
			if got != tt.synthetic {
				t.Errorf("ToSynthetic: got %d, want %d", got, tt.synthetic)
			}
			back, err := ToCollateral(got, tt.colDec, tt.synDec)
			if err != nil || back != tt.amount {
				t.Errorf("ToCollateral(%d): got %d, %v; want %d", got, back, err, tt.amount)
			}
		})
	}

	if _, err := checkedSub(1, 2); !errors.Is(err, ErrArithmeticUnderflow) {
		t.Errorf("checkedSub: got %v", err)
	}
	if _, err := checkedAdd(^uint64(0), 1); !errors.Is(err, ErrArithmeticOverflow) {
		t.Errorf("checkedAdd: got %v", err)
	}
}

func TestInstructionNames(t *testing.T) {
	programID := types.OneringProgramAddr
	p := NewProgram(programID)

	ix := NewMintInstruction(programID, MintAccounts{}, 1)
	if got := p.InstructionName(ix.Data); got != "onering.mint" {
		t.Errorf("InstructionName: got %q", got)
	}
	ix = NewMintAndDepositInstruction(programID, MintAndDepositAccounts{}, 1)
	if got := p.InstructionName(ix.Data); got != "onering.mint_and_deposit" {
		t.Errorf("InstructionName: got %q", got)
	}
	if got := p.InstructionName([]byte{1, 2, 3}); got != "onering.unknown" {
		t.Errorf("InstructionName of garbage: got %q", got)
	}
	if len(ix.Accounts) != 7 || !ix.Accounts[0].IsSigner || !ix.Accounts[6].IsWritable {
		t.Errorf("mint_and_deposit metas: %+v", ix.Accounts)
	}
}
