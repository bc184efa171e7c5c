package onering

import (
	"fmt"

	"github.com/fortiblox/X1-Onering/pkg/token"
)

// createMarket: [admin(s), collateral_mint, vault(w), vault_authority, market(s,w), global_state]
func (h *handler) createMarket() error {
	k, err := h.keys(6)
	if err != nil {
		return err
	}
	admin, collateralMint, vault, vaultAuthority, marketKey, stateKey := k[0], k[1], k[2], k[3], k[4], k[5]

	vaultBump, err := h.argU8()
	if err != nil {
		return err
	}

	state, err := h.globalState(stateKey)
	if err != nil {
		return err
	}
	if err := h.requireAdmin(state, admin); err != nil {
		return err
	}
	if err := h.requireSigner(marketKey); err != nil {
		return err
	}
	if ok, err := h.exists(marketKey); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%s: %w", marketKey, ErrAlreadyInitialized)
	}

	if err := h.verify(VaultAuthoritySeeds(stateKey), state.VaultAuthBump, vaultAuthority); err != nil {
		return err
	}
	vaultSeeds := VaultSeeds(collateralMint, marketKey)
	if err := h.verifyCanonical(vaultSeeds, vaultBump, vault); err != nil {
		return err
	}
	if ok, err := h.exists(vault); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("vault %s: %w", vault, ErrAlreadyInitialized)
	}

	mint, err := h.tokenMint(collateralMint, ErrInvalidCollateralMint)
	if err != nil {
		return err
	}

	err = h.store(marketKey, &Market{
		GlobalState:        stateKey,
		CollateralMint:     collateralMint,
		CollateralDecimals: mint.Decimals,
		Vault:              vault,
		VaultBump:          vaultBump,
	})
	if err != nil {
		return err
	}
	h.ctx.Log("market %s, collateral %s, vault %s", marketKey, collateralMint, vault)
	return h.ctx.Invoke(
		token.NewInitializeAccountInstruction(vault, collateralMint, vaultAuthority),
		withBump(vaultSeeds, vaultBump),
	)
}

// setMarketLock: [admin(s), market(w), global_state]
func (h *handler) setMarketLock() error {
	k, err := h.keys(3)
	if err != nil {
		return err
	}
	admin, marketKey, stateKey := k[0], k[1], k[2]

	lock, err := h.argBool()
	if err != nil {
		return err
	}
	state, err := h.globalState(stateKey)
	if err != nil {
		return err
	}
	if err := h.requireAdmin(state, admin); err != nil {
		return err
	}
	market, err := h.market(marketKey, stateKey)
	if err != nil {
		return err
	}

	market.LockFlag = lock
	h.ctx.Log("market %s lock %t", marketKey, lock)
	return h.store(marketKey, market)
}
