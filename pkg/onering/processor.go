// Package onering implements the Onering issuance and redemption program.
//
// Users deposit a collateral token into a market vault and receive the
// synthetic OUSD token 1:1 in whole units. OUSD can be parked in a per-user
// reserve and withdrawn again, or redeemed for collateral. An admin creates
// markets, locks them, freezes reserves and can halt everything.
//
// Every privileged address (mint authority, vault authority, vault, reserve) is
// re-derived from its seeds on every call; a presented address that does not
// match fails with ErrAuthorityMismatch. Handlers check everything first and
// only then write, and the runtime discards all writes of a failed
// transaction, so a failure never leaves partial state behind.
package onering

import (
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Onering/internal/types"
	"github.com/fortiblox/X1-Onering/pkg/accounts"
	"github.com/fortiblox/X1-Onering/pkg/pda"
	"github.com/fortiblox/X1-Onering/pkg/runtime"
	"github.com/fortiblox/X1-Onering/pkg/token"
)

// Program is the Onering program.
type Program struct {
	id types.Pubkey
}

// NewProgram creates the program under the given address.
func NewProgram(id types.Pubkey) *Program {
	return &Program{id: id}
}

// ID implements runtime.Program.
func (p *Program) ID() types.Pubkey {
	return p.id
}

// InstructionName implements runtime.Program.
func (p *Program) InstructionName(data []byte) string {
	name, _, err := decodeInstruction(data)
	if err != nil {
		return "onering.unknown"
	}
	return "onering." + name
}

// Process implements runtime.Program.
func (p *Program) Process(ctx *runtime.InvokeContext, data []byte) error {
	name, args, err := decodeInstruction(data)
	if err != nil {
		return err
	}
	h := &handler{ctx: ctx, program: p.id, args: args}
	ctx.Log("Instruction: %s", name)

	switch name {
	case InstructionCreateGlobalState:
		return h.createGlobalState()
	case InstructionSetEmergencyFlag:
		return h.setEmergencyFlag()
	case InstructionTransferAdmin:
		return h.transferAdmin()
	case InstructionCreateMarket:
		return h.createMarket()
	case InstructionSetMarketLock:
		return h.setMarketLock()
	case InstructionMint:
		return h.mint()
	case InstructionCreateReserve:
		return h.createReserve()
	case InstructionDeposit:
		return h.deposit()
	case InstructionWithdraw:
		return h.withdraw()
	case InstructionMintAndDeposit:
		return h.mintAndDeposit()
	case InstructionSetReserveFreeze:
		return h.setReserveFreeze()
	case InstructionRedeem:
		return h.redeem()
	}
	return ErrInvalidInstruction
}

// handler carries one instruction's execution state.
type handler struct {
	ctx     *runtime.InvokeContext
	program types.Pubkey
	args    *bin.Decoder
}

func (h *handler) keys(n int) ([]types.Pubkey, error) {
	if h.ctx.NumAccounts() < n {
		return nil, fmt.Errorf("%w: expected %d accounts, got %d", ErrInvalidInstruction, n, h.ctx.NumAccounts())
	}
	out := make([]types.Pubkey, n)
	for i := range out {
		k, err := h.ctx.Key(i)
		if err != nil {
			return nil, err
		}
		out[i] = k
	}
	return out, nil
}

func (h *handler) argU8() (uint8, error) {
	v, err := h.args.ReadUint8()
	if err != nil {
		return 0, ErrInvalidInstruction
	}
	return v, nil
}

func (h *handler) argBool() (bool, error) {
	v, err := h.args.ReadBool()
	if err != nil {
		return false, ErrInvalidInstruction
	}
	return v, nil
}

func (h *handler) argAmount() (uint64, error) {
	v, err := h.args.ReadUint64(bin.LE)
	if err != nil {
		return 0, ErrInvalidInstruction
	}
	if v == 0 {
		return 0, fmt.Errorf("%w: amount must be positive", ErrInvalidAmount)
	}
	return v, nil
}

func (h *handler) requireSigner(k types.Pubkey) error {
	if !h.ctx.IsSigner(k) {
		return fmt.Errorf("%w: %s", ErrMissingSignature, k)
	}
	return nil
}

// requireAdmin checks that caller signed and is the admin of state.
func (h *handler) requireAdmin(state *GlobalState, caller types.Pubkey) error {
	if err := h.requireSigner(caller); err != nil {
		return err
	}
	if state.Admin != caller {
		return fmt.Errorf("%w: %s is not the admin", ErrUnauthorized, caller)
	}
	return nil
}

func (h *handler) verify(seeds [][]byte, bump uint8, presented types.Pubkey) error {
	if err := h.ctx.Consume(runtime.CUCreateProgramAddress); err != nil {
		return err
	}
	if err := pda.Verify(seeds, bump, h.program, presented); err != nil {
		return fmt.Errorf("%w: %s", ErrAuthorityMismatch, presented)
	}
	return nil
}

// verifyCanonical checks presented against the canonical bump for seeds. Records
// created under a non-canonical bump would give one seed set several addresses.
func (h *handler) verifyCanonical(seeds [][]byte, bump uint8, presented types.Pubkey) error {
	if err := h.ctx.Consume(runtime.CUCreateProgramAddress); err != nil {
		return err
	}
	if err := pda.VerifyCanonical(seeds, bump, h.program, presented); err != nil {
		return fmt.Errorf("%w: %s bump %d", ErrAuthorityMismatch, presented, bump)
	}
	return nil
}

func (h *handler) load(k types.Pubkey, r record) error {
	acc, err := h.ctx.Get(k)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return fmt.Errorf("%s: %w", k, ErrAccountNotInitialized)
	}
	if err != nil {
		return err
	}
	return decodeRecord(h.program, acc, r)
}

func (h *handler) exists(k types.Pubkey) (bool, error) {
	return h.ctx.Exists(k)
}

func (h *handler) store(k types.Pubkey, r record) error {
	return h.ctx.Set(k, encodeRecord(h.program, r))
}

func (h *handler) globalState(k types.Pubkey) (*GlobalState, error) {
	var s GlobalState
	if err := h.load(k, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// market loads a market and checks that it belongs to state.
func (h *handler) market(k, state types.Pubkey) (*Market, error) {
	var m Market
	if err := h.load(k, &m); err != nil {
		return nil, err
	}
	if m.GlobalState != state {
		return nil, ErrInvalidGlobalState
	}
	return &m, nil
}

func (h *handler) tokenAccount(k types.Pubkey) (*token.Account, error) {
	acc, err := h.ctx.Get(k)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return nil, fmt.Errorf("%s: %w", k, ErrAccountNotInitialized)
	}
	if err != nil {
		return nil, err
	}
	a, err := token.DecodeAccount(acc)
	if errors.Is(err, token.ErrNotTokenAccount) {
		return nil, fmt.Errorf("%s: %w", k, ErrInvalidAccountOwner)
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", k, ErrAccountNotInitialized)
	}
	return a, nil
}

func (h *handler) tokenMint(k types.Pubkey, invalid error) (*token.Mint, error) {
	acc, err := h.ctx.Get(k)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return nil, fmt.Errorf("%s: %w", k, invalid)
	}
	if err != nil {
		return nil, err
	}
	m, err := token.DecodeMint(acc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", k, invalid)
	}
	return m, nil
}

// userTokenAccount loads a token account and checks its owner and mint.
func (h *handler) userTokenAccount(k, owner, mint types.Pubkey, wrongMint error) (*token.Account, error) {
	a, err := h.tokenAccount(k)
	if err != nil {
		return nil, err
	}
	if a.Owner != owner {
		return nil, fmt.Errorf("%s: %w", k, ErrInvalidAccountOwner)
	}
	if a.Mint != mint {
		return nil, fmt.Errorf("%s: %w", k, wrongMint)
	}
	return a, nil
}

var _ runtime.Program = (*Program)(nil)
