package main

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/fortiblox/X1-Onering/internal/types"
	"github.com/fortiblox/X1-Onering/pkg/accounts"
	"github.com/fortiblox/X1-Onering/pkg/onering"
	"github.com/fortiblox/X1-Onering/pkg/runtime"
	"github.com/fortiblox/X1-Onering/pkg/token"
)

// walkthrough is one fresh deployment with a single market and a funded user.
type walkthrough struct {
	a       *app
	program types.Pubkey
	addrs   *onering.Addresses

	admin, user   *types.Keypair
	state         types.Pubkey
	syntheticMint types.Pubkey
	syntheticDec  uint8
	userSynthetic types.Pubkey

	collateralMint types.Pubkey
	collateralDec  uint8
	market         types.Pubkey
	vault          types.Pubkey
	userCollateral types.Pubkey

	reserve     types.Pubkey
	reserveBump uint8
}

func runDemo(ctx context.Context, a *app, args []string) error {
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	collateralDec := fs.Uint("collateral-decimals", 6, "Decimals of the collateral mint")
	syntheticDec := fs.Uint("synthetic-decimals", 6, "Decimals of the synthetic mint")
	amountUI := fs.String("amount", "100", "Collateral to mint against, in whole tokens")
	funding := fs.String("funding", "1000", "Collateral the user starts with, in whole tokens")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *collateralDec > 18 || *syntheticDec > 18 {
		return fmt.Errorf("decimals must be at most 18")
	}

	w := &walkthrough{
		a:             a,
		program:       a.cfg.ProgramID,
		admin:         types.MustNewKeypair(),
		user:          types.MustNewKeypair(),
		collateralDec: uint8(*collateralDec),
		syntheticDec:  uint8(*syntheticDec),
	}
	amount, err := token.ParseUIAmount(*amountUI, w.collateralDec)
	if err != nil {
		return err
	}
	startBalance, err := token.ParseUIAmount(*funding, w.collateralDec)
	if err != nil {
		return err
	}

	if err := w.setup(ctx, startBalance); err != nil {
		return err
	}
	fmt.Printf("deployment\n  program        %s\n  global state   %s\n  synthetic mint %s\n  market         %s\n  vault          %s\n  user           %s\n  reserve        %s\n\n",
		w.program, w.state, w.syntheticMint, w.market, w.vault, w.user.Pubkey(), w.reserve)

	synthetic, err := onering.ToSynthetic(amount, w.collateralDec, w.syntheticDec)
	if err != nil {
		return fmt.Errorf("convert %s: %w", *amountUI, err)
	}
	quarter, half := synthetic/4, synthetic/2
	mdCollateral := amount / 5

	steps := []struct {
		name string
		ix   runtime.Instruction
	}{
		{"mint " + w.ui(amount, w.collateralDec), w.mintIx(amount)},
		{"create_reserve", onering.NewCreateReserveInstruction(w.program, onering.CreateReserveAccounts{
			User: w.user.Pubkey(), Reserve: w.reserve, GlobalState: w.state,
		}, w.reserveBump)},
		{"deposit " + w.ui(half, w.syntheticDec), w.depositIx(half)},
		{"withdraw " + w.ui(quarter, w.syntheticDec), w.withdrawIx(quarter)},
		{"mint_and_deposit " + w.ui(mdCollateral, w.collateralDec), w.mintAndDepositIx(mdCollateral)},
	}
	for _, s := range steps {
		if err := w.userStep(ctx, s.name, s.ix); err != nil {
			return err
		}
	}

	// Redeeming while halted is rejected and leaves state untouched.
	if err := w.exec(ctx, []runtime.Instruction{w.emergencyIx(true)}, w.admin); err != nil {
		return err
	}
	held, err := w.balance(w.userSynthetic)
	if err != nil {
		return err
	}
	err = w.exec(ctx, []runtime.Instruction{w.redeemIx(held)}, w.user)
	if !errors.Is(err, onering.ErrEmergencyHalted) {
		return fmt.Errorf("redeem during halt: got %v, want EmergencyHalted", err)
	}
	fmt.Printf("%-28s rejected (%d %s)\n", "redeem during halt", runtime.ErrorCode(err), onering.ErrEmergencyHalted.Name)
	if err := w.exec(ctx, []runtime.Instruction{w.emergencyIx(false)}, w.admin); err != nil {
		return err
	}

	if err := w.userStep(ctx, "redeem "+w.ui(held, w.syntheticDec), w.redeemIx(held)); err != nil {
		return err
	}
	return w.summary()
}

func (w *walkthrough) ui(amount uint64, decimals uint8) string {
	return token.UIAmount(amount, decimals)
}

func (w *walkthrough) exec(ctx context.Context, instrs []runtime.Instruction, signers ...*types.Keypair) error {
	tx, err := runtime.NewTransaction(instrs, signers...)
	if err != nil {
		return err
	}
	_, err = w.a.rt.Execute(ctx, tx)
	return err
}

func (w *walkthrough) userStep(ctx context.Context, name string, ix runtime.Instruction) error {
	if err := w.exec(ctx, []runtime.Instruction{ix}, w.user); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	col, err := w.balance(w.userCollateral)
	if err != nil {
		return err
	}
	syn, err := w.balance(w.userSynthetic)
	if err != nil {
		return err
	}
	res, err := onering.FetchReserve(w.a.db, w.program, w.reserve)
	var deposited uint64
	if err == nil {
		deposited = res.DepositAmount
	} else if !errors.Is(err, onering.ErrAccountNotInitialized) {
		return err
	}
	fmt.Printf("%-28s collateral %-14s synthetic %-14s reserve %s\n", name,
		w.ui(col, w.collateralDec), w.ui(syn, w.syntheticDec), w.ui(deposited, w.syntheticDec))
	return nil
}

func (w *walkthrough) setup(ctx context.Context, startBalance uint64) error {
	stateKP := types.MustNewKeypair()
	synKP := types.MustNewKeypair()
	usKP := types.MustNewKeypair()
	colKP := types.MustNewKeypair()
	marketKP := types.MustNewKeypair()
	ucKP := types.MustNewKeypair()

	w.state = stateKP.Pubkey()
	w.syntheticMint = synKP.Pubkey()
	w.userSynthetic = usKP.Pubkey()
	w.collateralMint = colKP.Pubkey()
	w.market = marketKP.Pubkey()
	w.userCollateral = ucKP.Pubkey()

	var err error
	if w.addrs, err = onering.DeriveAddresses(w.program, w.state); err != nil {
		return err
	}
	var vaultBump uint8
	if w.vault, vaultBump, err = w.addrs.Vault(w.collateralMint, w.market); err != nil {
		return err
	}
	if w.reserve, w.reserveBump, err = w.addrs.Reserve(w.user.Pubkey()); err != nil {
		return err
	}

	err = w.exec(ctx, []runtime.Instruction{
		token.NewInitializeMintInstruction(w.syntheticMint, w.syntheticDec, w.addrs.MintAuthority),
		onering.NewCreateGlobalStateInstruction(w.program, onering.CreateGlobalStateAccounts{
			Admin:         w.admin.Pubkey(),
			SyntheticMint: w.syntheticMint,
			MintAuthority: w.addrs.MintAuthority,
			GlobalState:   w.state,
		}, w.addrs.MintAuthBump, w.addrs.VaultAuthBump),
		token.NewInitializeAccountInstruction(w.userSynthetic, w.syntheticMint, w.user.Pubkey()),
	}, w.admin, stateKP, synKP, usKP)
	if err != nil {
		return fmt.Errorf("create global state: %w", err)
	}

	err = w.exec(ctx, []runtime.Instruction{
		token.NewInitializeMintInstruction(w.collateralMint, w.collateralDec, w.admin.Pubkey()),
		onering.NewCreateMarketInstruction(w.program, onering.CreateMarketAccounts{
			Admin:          w.admin.Pubkey(),
			CollateralMint: w.collateralMint,
			Vault:          w.vault,
			VaultAuthority: w.addrs.VaultAuthority,
			Market:         w.market,
			GlobalState:    w.state,
		}, vaultBump),
		token.NewInitializeAccountInstruction(w.userCollateral, w.collateralMint, w.user.Pubkey()),
		token.NewMintToInstruction(w.collateralMint, w.userCollateral, w.admin.Pubkey(), startBalance),
	}, w.admin, colKP, marketKP, ucKP)
	if err != nil {
		return fmt.Errorf("create market: %w", err)
	}
	return nil
}

func (w *walkthrough) mintIx(amount uint64) runtime.Instruction {
	return onering.NewMintInstruction(w.program, onering.MintAccounts{
		User:           w.user.Pubkey(),
		CollateralMint: w.collateralMint,
		Vault:          w.vault,
		UserCollateral: w.userCollateral,
		SyntheticMint:  w.syntheticMint,
		MintAuthority:  w.addrs.MintAuthority,
		UserSynthetic:  w.userSynthetic,
		Market:         w.market,
		GlobalState:    w.state,
	}, amount)
}

func (w *walkthrough) redeemIx(amount uint64) runtime.Instruction {
	return onering.NewRedeemInstruction(w.program, onering.RedeemAccounts{
		User:           w.user.Pubkey(),
		CollateralMint: w.collateralMint,
		Vault:          w.vault,
		VaultAuthority: w.addrs.VaultAuthority,
		UserCollateral: w.userCollateral,
		SyntheticMint:  w.syntheticMint,
		UserSynthetic:  w.userSynthetic,
		Market:         w.market,
		GlobalState:    w.state,
	}, amount)
}

func (w *walkthrough) depositIx(amount uint64) runtime.Instruction {
	return onering.NewDepositInstruction(w.program, onering.DepositAccounts{
		User:          w.user.Pubkey(),
		SyntheticMint: w.syntheticMint,
		UserSynthetic: w.userSynthetic,
		Reserve:       w.reserve,
		GlobalState:   w.state,
	}, amount)
}

func (w *walkthrough) withdrawIx(amount uint64) runtime.Instruction {
	return onering.NewWithdrawInstruction(w.program, onering.WithdrawAccounts{
		User:          w.user.Pubkey(),
		SyntheticMint: w.syntheticMint,
		MintAuthority: w.addrs.MintAuthority,
		UserSynthetic: w.userSynthetic,
		Reserve:       w.reserve,
		GlobalState:   w.state,
	}, amount)
}

func (w *walkthrough) mintAndDepositIx(amount uint64) runtime.Instruction {
	return onering.NewMintAndDepositInstruction(w.program, onering.MintAndDepositAccounts{
		User:           w.user.Pubkey(),
		CollateralMint: w.collateralMint,
		Vault:          w.vault,
		UserCollateral: w.userCollateral,
		Reserve:        w.reserve,
		Market:         w.market,
		GlobalState:    w.state,
	}, amount)
}

func (w *walkthrough) emergencyIx(flag bool) runtime.Instruction {
	return onering.NewSetEmergencyFlagInstruction(w.program, onering.SetEmergencyFlagAccounts{
		Admin:       w.admin.Pubkey(),
		GlobalState: w.state,
	}, flag)
}

func (w *walkthrough) balance(k types.Pubkey) (uint64, error) {
	acc, err := w.a.db.GetAccount(k)
	if err != nil {
		return 0, err
	}
	ta, err := token.DecodeAccount(acc)
	if err != nil {
		return 0, err
	}
	return ta.Amount, nil
}

// summary prints the final bookkeeping and checks the vault still backs
// every synthetic token in circulation or in reserves.
func (w *walkthrough) summary() error {
	gs, err := onering.FetchGlobalState(w.a.db, w.program, w.state)
	if err != nil {
		return err
	}
	m, err := onering.FetchMarket(w.a.db, w.program, w.market)
	if err != nil {
		return err
	}
	vault, err := w.balance(w.vault)
	if err != nil {
		return err
	}
	mintAcc, err := w.a.db.GetAccount(w.syntheticMint)
	if err != nil {
		return err
	}
	mint, err := token.DecodeMint(mintAcc)
	if err != nil {
		return err
	}
	backing, err := onering.ToSynthetic(m.WithdrawalLiquidity, w.collateralDec, w.syntheticDec)
	if err != nil {
		return err
	}
	hash, err := accounts.ComputeStateHash(w.a.db)
	if err != nil {
		return err
	}

	fmt.Printf("\nvault %s, liquidity %s, supply %s, reserves %s\n",
		w.ui(vault, w.collateralDec), w.ui(m.WithdrawalLiquidity, w.collateralDec),
		w.ui(mint.Supply, w.syntheticDec), w.ui(gs.TotalDepositAmount, w.syntheticDec))
	fmt.Printf("state hash %s at slot %d\n", hash, w.a.rt.Slot())

	if vault != m.WithdrawalLiquidity || mint.Supply+gs.TotalDepositAmount != backing {
		return fmt.Errorf("backing check failed: vault %d liquidity %d supply %d reserves %d", vault, m.WithdrawalLiquidity, mint.Supply, gs.TotalDepositAmount)
	}
	w.a.logger.Info("walkthrough complete", "slot", w.a.rt.Slot(), "state_hash", hash.String())
	return nil
}
