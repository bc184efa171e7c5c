package onering

import (
	"fmt"

	"github.com/fortiblox/X1-Onering/internal/types"
	"github.com/fortiblox/X1-Onering/pkg/pda"
	"github.com/fortiblox/X1-Onering/pkg/token"
)

// reserveFor returns the caller's reserve, or a fresh one if none exists yet.
// The presented address must be the canonical reserve PDA of owner.
func (h *handler) reserveFor(owner, reserveKey, stateKey types.Pubkey) (*Reserve, error) {
	ok, err := h.exists(reserveKey)
	if err != nil {
		return nil, err
	}
	if ok {
		var r Reserve
		if err := h.load(reserveKey, &r); err != nil {
			return nil, err
		}
		if r.Owner != owner || r.GlobalState != stateKey {
			return nil, fmt.Errorf("%w: reserve %s", ErrAuthorityMismatch, reserveKey)
		}
		if err := h.verifyCanonical(ReserveSeeds(owner, stateKey), r.Bump, reserveKey); err != nil {
			return nil, err
		}
		return &r, nil
	}

	addr, bump, err := pda.FindProgramAddress(ReserveSeeds(owner, stateKey), h.program)
	if err != nil {
		return nil, err
	}
	if addr != reserveKey {
		return nil, fmt.Errorf("%w: reserve %s", ErrAuthorityMismatch, reserveKey)
	}
	return &Reserve{Owner: owner, GlobalState: stateKey, Bump: bump}, nil
}

// reserveCredit is a validated increase of a reserve and the global total.
type reserveCredit struct {
	reserveKey types.Pubkey
	reserve    *Reserve
	stateKey   types.Pubkey
	state      *GlobalState
}

func (h *handler) prepareReserveCredit(user, reserveKey, stateKey types.Pubkey, state *GlobalState, amount uint64) (*reserveCredit, error) {
	reserve, err := h.reserveFor(user, reserveKey, stateKey)
	if err != nil {
		return nil, err
	}
	if reserve.FreezeFlag {
		return nil, ErrReserveFrozen
	}
	if reserve.DepositAmount, err = checkedAdd(reserve.DepositAmount, amount); err != nil {
		return nil, err
	}
	if state.TotalDepositAmount, err = checkedAdd(state.TotalDepositAmount, amount); err != nil {
		return nil, err
	}
	return &reserveCredit{reserveKey: reserveKey, reserve: reserve, stateKey: stateKey, state: state}, nil
}

func (h *handler) applyReserveCredit(c *reserveCredit) error {
	if err := h.store(c.reserveKey, c.reserve); err != nil {
		return err
	}
	return h.store(c.stateKey, c.state)
}

// createReserve: [user(s), reserve(w), global_state]
func (h *handler) createReserve() error {
	k, err := h.keys(3)
	if err != nil {
		return err
	}
	user, reserveKey, stateKey := k[0], k[1], k[2]

	bump, err := h.argU8()
	if err != nil {
		return err
	}
	if err := h.requireSigner(user); err != nil {
		return err
	}
	if _, err := h.globalState(stateKey); err != nil {
		return err
	}
	if err := h.verifyCanonical(ReserveSeeds(user, stateKey), bump, reserveKey); err != nil {
		return err
	}

	ok, err := h.exists(reserveKey)
	if err != nil {
		return err
	}
	if ok {
		var r Reserve
		if err := h.load(reserveKey, &r); err != nil {
			return err
		}
		if r.Owner != user || r.GlobalState != stateKey {
			return fmt.Errorf("%w: reserve %s", ErrAuthorityMismatch, reserveKey)
		}
		h.ctx.Log("reserve %s already exists", reserveKey)
		return nil
	}

	h.ctx.Log("reserve %s created for %s", reserveKey, user)
	return h.store(reserveKey, &Reserve{Owner: user, GlobalState: stateKey, Bump: bump})
}

// deposit: [user(s), synthetic_mint(w), user_synthetic(w), reserve(w), global_state(w)]
func (h *handler) deposit() error {
	k, err := h.keys(5)
	if err != nil {
		return err
	}
	user, syntheticMint, userSynthetic, reserveKey, stateKey := k[0], k[1], k[2], k[3], k[4]

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
	if state.EmergencyFlag {
		return ErrEmergencyHalted
	}
	if syntheticMint != state.SyntheticMint {
		return fmt.Errorf("%w: %s", ErrInvalidSyntheticMint, syntheticMint)
	}
	src, err := h.userTokenAccount(userSynthetic, user, syntheticMint, ErrInvalidSyntheticMint)
	if err != nil {
		return err
	}
	credit, err := h.prepareReserveCredit(user, reserveKey, stateKey, state, amount)
	if err != nil {
		return err
	}
	if src.Amount < amount {
		return fmt.Errorf("%w: have %d, need %d", ErrInsufficientBalance, src.Amount, amount)
	}

	if err := h.applyReserveCredit(credit); err != nil {
		return err
	}
	h.ctx.Log("deposited %d, reserve balance %d", amount, credit.reserve.DepositAmount)
	return h.ctx.Invoke(token.NewBurnInstruction(userSynthetic, syntheticMint, user, amount))
}

// withdraw: [user(s), synthetic_mint(w), mint_authority, user_synthetic(w), reserve(w), global_state(w)]
func (h *handler) withdraw() error {
	k, err := h.keys(6)
	if err != nil {
		return err
	}
	user, syntheticMint, mintAuthority, userSynthetic, reserveKey, stateKey := k[0], k[1], k[2], k[3], k[4], k[5]

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
	if state.EmergencyFlag {
		return ErrEmergencyHalted
	}
	if syntheticMint != state.SyntheticMint {
		return fmt.Errorf("%w: %s", ErrInvalidSyntheticMint, syntheticMint)
	}
	if err := h.verify(MintAuthoritySeeds(stateKey), state.MintAuthBump, mintAuthority); err != nil {
		return err
	}

	var reserve Reserve
	if err := h.load(reserveKey, &reserve); err != nil {
		return err
	}
	if reserve.Owner != user || reserve.GlobalState != stateKey {
		return fmt.Errorf("%w: reserve %s", ErrAuthorityMismatch, reserveKey)
	}
	if err := h.verifyCanonical(ReserveSeeds(user, stateKey), reserve.Bump, reserveKey); err != nil {
		return err
	}
	if reserve.FreezeFlag {
		return ErrReserveFrozen
	}
	if reserve.DepositAmount < amount {
		return fmt.Errorf("%w: reserve holds %d, requested %d", ErrInsufficientReserveBalance, reserve.DepositAmount, amount)
	}
	reserve.DepositAmount -= amount
	if state.TotalDepositAmount, err = checkedSub(state.TotalDepositAmount, amount); err != nil {
		return err
	}

	dst, err := h.userTokenAccount(userSynthetic, user, syntheticMint, ErrInvalidSyntheticMint)
	if err != nil {
		return err
	}
	if _, err := checkedAdd(dst.Amount, amount); err != nil {
		return err
	}
	mint, err := h.tokenMint(syntheticMint, ErrInvalidSyntheticMint)
	if err != nil {
		return err
	}
	if _, err := checkedAdd(mint.Supply, amount); err != nil {
		return err
	}

	if err := h.store(reserveKey, &reserve); err != nil {
		return err
	}
	if err := h.store(stateKey, state); err != nil {
		return err
	}
	h.ctx.Log("withdrew %d, reserve balance %d", amount, reserve.DepositAmount)
	return h.ctx.Invoke(
		token.NewMintToInstruction(syntheticMint, userSynthetic, mintAuthority, amount),
		withBump(MintAuthoritySeeds(stateKey), state.MintAuthBump),
	)
}

// setReserveFreeze: [admin(s), reserve(w), global_state]
func (h *handler) setReserveFreeze() error {
	k, err := h.keys(3)
	if err != nil {
		return err
	}
	admin, reserveKey, stateKey := k[0], k[1], k[2]

	freeze, err := h.argBool()
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
	var reserve Reserve
	if err := h.load(reserveKey, &reserve); err != nil {
		return err
	}
	if reserve.GlobalState != stateKey {
		return ErrInvalidGlobalState
	}

	reserve.FreezeFlag = freeze
	h.ctx.Log("reserve %s freeze %t", reserveKey, freeze)
	return h.store(reserveKey, &reserve)
}
