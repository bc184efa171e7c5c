package onering

import (
	"fmt"

	"github.com/fortiblox/X1-Onering/pkg/pda"
)

// createGlobalState: [admin(s), synthetic_mint, mint_authority, global_state(s,w)]
func (h *handler) createGlobalState() error {
	k, err := h.keys(4)
	if err != nil {
		return err
	}
	admin, syntheticMint, mintAuthority, stateKey := k[0], k[1], k[2], k[3]

	mintAuthBump, err := h.argU8()
	if err != nil {
		return err
	}
	vaultAuthBump, err := h.argU8()
	if err != nil {
		return err
	}

	if err := h.requireSigner(admin); err != nil {
		return err
	}
	if err := h.requireSigner(stateKey); err != nil {
		return err
	}
	if ok, err := h.exists(stateKey); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%s: %w", stateKey, ErrAlreadyInitialized)
	}

	if err := h.verifyCanonical(MintAuthoritySeeds(stateKey), mintAuthBump, mintAuthority); err != nil {
		return err
	}
	vaultAuthority, err := pda.Derive(VaultAuthoritySeeds(stateKey), vaultAuthBump, h.program)
	if err != nil {
		return fmt.Errorf("%w: vault authority bump %d", ErrAuthorityMismatch, vaultAuthBump)
	}
	if err := h.verifyCanonical(VaultAuthoritySeeds(stateKey), vaultAuthBump, vaultAuthority); err != nil {
		return err
	}

	mint, err := h.tokenMint(syntheticMint, ErrInvalidSyntheticMint)
	if err != nil {
		return err
	}
	if mint.MintAuthority != mintAuthority {
		return fmt.Errorf("%w: mint authority is %s", ErrInvalidSyntheticMint, mint.MintAuthority)
	}

	h.ctx.Log("admin %s, synthetic mint %s", admin, syntheticMint)
	return h.store(stateKey, &GlobalState{
		Admin:             admin,
		SyntheticMint:     syntheticMint,
		SyntheticDecimals: mint.Decimals,
		MintAuthBump:      mintAuthBump,
		VaultAuthBump:     vaultAuthBump,
	})
}

// setEmergencyFlag: [admin(s), global_state(w)]
func (h *handler) setEmergencyFlag() error {
	k, err := h.keys(2)
	if err != nil {
		return err
	}
	admin, stateKey := k[0], k[1]

	flag, err := h.argBool()
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

	state.EmergencyFlag = flag
	h.ctx.Log("emergency flag %t", flag)
	return h.store(stateKey, state)
}

// transferAdmin: [admin(s), new_admin, global_state(w)]
func (h *handler) transferAdmin() error {
	k, err := h.keys(3)
	if err != nil {
		return err
	}
	admin, newAdmin, stateKey := k[0], k[1], k[2]

	state, err := h.globalState(stateKey)
	if err != nil {
		return err
	}
	if err := h.requireAdmin(state, admin); err != nil {
		return err
	}

	state.Admin = newAdmin
	h.ctx.Log("admin %s -> %s", admin, newAdmin)
	return h.store(stateKey, state)
}
