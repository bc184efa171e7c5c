package onering

import (
	"fmt"

	"github.com/fortiblox/X1-Onering/internal/types"
	"github.com/fortiblox/X1-Onering/pkg/token"
)

// collateralLeg is a validated deposit of collateral into a market vault,
// shared by mint and mint_and_deposit.
type collateralLeg struct {
	user           types.Pubkey
	userCollateral types.Pubkey
	vault          types.Pubkey
	stateKey       types.Pubkey
	state          *GlobalState
	marketKey      types.Pubkey
	market         *Market
	collateral     uint64
	synthetic      uint64
}

func (h *handler) prepareCollateralLeg(user, collateralMint, vault, userCollateral, marketKey, stateKey types.Pubkey, amount uint64) (*collateralLeg, error) {
	if err := h.requireSigner(user); err != nil {
		return nil, err
	}
	state, err := h.globalState(stateKey)
	if err != nil {
		return nil, err
	}
	market, err := h.market(marketKey, stateKey)
	if err != nil {
		return nil, err
	}
	if state.EmergencyFlag {
		return nil, ErrEmergencyHalted
	}
	if market.LockFlag {
		return nil, ErrMarketLocked
	}
	if collateralMint != market.CollateralMint {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCollateralMint, collateralMint)
	}
	if err := h.verify(VaultSeeds(market.CollateralMint, marketKey), market.VaultBump, vault); err != nil {
		return nil, err
	}

	src, err := h.userTokenAccount(userCollateral, user, collateralMint, ErrInvalidCollateralMint)
	if err != nil {
		return nil, err
	}
	if src.Amount < amount {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, src.Amount, amount)
	}
	vaultAccount, err := h.tokenAccount(vault)
	if err != nil {
		return nil, err
	}
	if _, err := checkedAdd(vaultAccount.Amount, amount); err != nil {
		return nil, err
	}

	synthetic, err := ToSynthetic(amount, market.CollateralDecimals, state.SyntheticDecimals)
	if err != nil {
		return nil, err
	}
	if market.WithdrawalLiquidity, err = checkedAdd(market.WithdrawalLiquidity, amount); err != nil {
		return nil, err
	}

	return &collateralLeg{
		user:           user,
		userCollateral: userCollateral,
		vault:          vault,
		stateKey:       stateKey,
		state:          state,
		marketKey:      marketKey,
		market:         market,
		collateral:     amount,
		synthetic:      synthetic,
	}, nil
}

// apply records the new liquidity and moves the collateral into the vault.
func (h *handler) applyCollateralLeg(leg *collateralLeg) error {
	if err := h.store(leg.marketKey, leg.market); err != nil {
		return err
	}
	return h.ctx.Invoke(token.NewTransferInstruction(leg.userCollateral, leg.vault, leg.user, leg.collateral))
}

// mint: [user(s), collateral_mint, vault(w), user_collateral(w), synthetic_mint(w),
// mint_authority, user_synthetic(w), market(w), global_state]
func (h *handler) mint() error {
	k, err := h.keys(9)
	if err != nil {
		return err
	}
	user, collateralMint, vault, userCollateral := k[0], k[1], k[2], k[3]
	syntheticMint, mintAuthority, userSynthetic, marketKey, stateKey := k[4], k[5], k[6], k[7], k[8]

	amount, err := h.argAmount()
	if err != nil {
		return err
	}

	leg, err := h.prepareCollateralLeg(user, collateralMint, vault, userCollateral, marketKey, stateKey, amount)
	if err != nil {
		return err
	}
	if syntheticMint != leg.state.SyntheticMint {
		return fmt.Errorf("%w: %s", ErrInvalidSyntheticMint, syntheticMint)
	}
	mintAuthSeeds := withBump(MintAuthoritySeeds(stateKey), leg.state.MintAuthBump)
	if err := h.verify(MintAuthoritySeeds(stateKey), leg.state.MintAuthBump, mintAuthority); err != nil {
		return err
	}
	dst, err := h.userTokenAccount(userSynthetic, user, syntheticMint, ErrInvalidSyntheticMint)
	if err != nil {
		return err
	}
	if _, err := checkedAdd(dst.Amount, leg.synthetic); err != nil {
		return err
	}
	mint, err := h.tokenMint(syntheticMint, ErrInvalidSyntheticMint)
	if err != nil {
		return err
	}
	if _, err := checkedAdd(mint.Supply, leg.synthetic); err != nil {
		return err
	}

	if err := h.applyCollateralLeg(leg); err != nil {
		return err
	}
	h.ctx.Log("minted %d synthetic for %d collateral", leg.synthetic, leg.collateral)
	return h.ctx.Invoke(
		token.NewMintToInstruction(syntheticMint, userSynthetic, mintAuthority, leg.synthetic),
		mintAuthSeeds,
	)
}

// mintAndDeposit: [user(s), collateral_mint, vault(w), user_collateral(w), reserve(w),
// market(w), global_state(w)]
//
// Runs mint then deposit as one staged step. The synthetic tokens that mint
// would issue are burned again by deposit, so that pair is never materialised:
// only the collateral transfer and the reserve credit are applied.
func (h *handler) mintAndDeposit() error {
	k, err := h.keys(7)
	if err != nil {
		return err
	}
	user, collateralMint, vault, userCollateral, reserveKey, marketKey, stateKey := k[0], k[1], k[2], k[3], k[4], k[5], k[6]

	amount, err := h.argAmount()
	if err != nil {
		return err
	}

	leg, err := h.prepareCollateralLeg(user, collateralMint, vault, userCollateral, marketKey, stateKey, amount)
	if err != nil {
		return err
	}
	credit, err := h.prepareReserveCredit(user, reserveKey, stateKey, leg.state, leg.synthetic)
	if err != nil {
		return err
	}

	if err := h.applyReserveCredit(credit); err != nil {
		return err
	}
	h.ctx.Log("deposited %d synthetic for %d collateral", leg.synthetic, leg.collateral)
	return h.applyCollateralLeg(leg)
}
