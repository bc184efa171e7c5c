package onering

import (
	"fmt"

	"github.com/fortiblox/X1-Onering/pkg/token"
)

// redeem: [user(s), collateral_mint, vault(w), vault_authority, user_collateral(w),
// synthetic_mint(w), user_synthetic(w), market(w), global_state]
//
// amount is in synthetic units; the collateral paid out is its exact inverse
// conversion and must be covered by the market's withdrawal liquidity.
func (h *handler) redeem() error {
	k, err := h.keys(9)
	if err != nil {
		return err
	}
	user, collateralMint, vault, vaultAuthority, userCollateral := k[0], k[1], k[2], k[3], k[4]
	syntheticMint, userSynthetic, marketKey, stateKey := k[5], k[6], k[7], k[8]

	amount, err := h.argAmount()
	if err != nil {
		return err
	}
	if err := h.requireSigner(user); err != nil {
		return err
	}
	state, err := h.globalState(stateKey)
	if err != nil {
		return err
	}
	market, err := h.market(marketKey, stateKey)
	if err != nil {
		return err
	}
	if state.EmergencyFlag {
		return ErrEmergencyHalted
	}
	if market.LockFlag {
		return ErrMarketLocked
	}
	if collateralMint != market.CollateralMint {
		return fmt.Errorf("%w: %s", ErrInvalidCollateralMint, collateralMint)
	}
	if syntheticMint != state.SyntheticMint {
		return fmt.Errorf("%w: %s", ErrInvalidSyntheticMint, syntheticMint)
	}
	vaultAuthSeeds := VaultAuthoritySeeds(stateKey)
	if err := h.verify(vaultAuthSeeds, state.VaultAuthBump, vaultAuthority); err != nil {
		return err
	}
	if err := h.verify(VaultSeeds(collateralMint, marketKey), market.VaultBump, vault); err != nil {
		return err
	}

	src, err := h.userTokenAccount(userSynthetic, user, syntheticMint, ErrInvalidSyntheticMint)
	if err != nil {
		return err
	}
	if src.Amount < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, src.Amount, amount)
	}
	collateral, err := ToCollateral(amount, market.CollateralDecimals, state.SyntheticDecimals)
	if err != nil {
		return err
	}
	if market.WithdrawalLiquidity < collateral {
		return fmt.Errorf("%w: liquidity %d, requested %d", ErrInsufficientLiquidity, market.WithdrawalLiquidity, collateral)
	}
	vaultAccount, err := h.tokenAccount(vault)
	if err != nil {
		return err
	}
	if vaultAccount.Amount < collateral {
		return fmt.Errorf("%w: vault holds %d, requested %d", ErrInsufficientLiquidity, vaultAccount.Amount, collateral)
	}
	dst, err := h.userTokenAccount(userCollateral, user, collateralMint, ErrInvalidCollateralMint)
	if err != nil {
		return err
	}
	if _, err := checkedAdd(dst.Amount, collateral); err != nil {
		return err
	}
	market.WithdrawalLiquidity -= collateral

	if err := h.store(marketKey, market); err != nil {
		return err
	}
	if err := h.ctx.Invoke(token.NewBurnInstruction(userSynthetic, syntheticMint, user, amount)); err != nil {
		return err
	}
	h.ctx.Log("redeemed %d synthetic for %d collateral", amount, collateral)
	return h.ctx.Invoke(
		token.NewTransferInstruction(vault, userCollateral, vaultAuthority, collateral),
		withBump(vaultAuthSeeds, state.VaultAuthBump),
	)
}
