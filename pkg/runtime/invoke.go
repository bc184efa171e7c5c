package runtime

import (
	"context"
	"errors"
	"fmt"

	"github.com/fortiblox/X1-Onering/internal/types"
	"github.com/fortiblox/X1-Onering/pkg/accounts"
	"github.com/fortiblox/X1-Onering/pkg/pda"
)

// MaxInvokeDepth bounds nested cross-program invocations.
const MaxInvokeDepth = 4

// Invocation errors.
var (
	ErrAccountNotDeclared      = errors.New("account not declared by instruction")
	ErrAccountNotWritable      = errors.New("account not writable")
	ErrExternalAccountModified = errors.New("instruction modified an account it does not own")
	ErrNotEnoughAccountKeys    = errors.New("not enough account keys")
	ErrMissingSignature        = errors.New("missing required signature")
	ErrPrivilegeEscalation     = errors.New("cross-program invocation privilege escalation")
	ErrInvokeDepthExceeded     = errors.New("cross-program invocation depth exceeded")
	ErrProgramNotFound         = errors.New("program not found")
)

// InvokeContext is the view a program gets of the transaction while one of
// its instructions runs.
//
// Only accounts the instruction declares can be read, only declared writable
// accounts can be written, and only accounts owned by the running program (or
// accounts it is creating for itself) can be modified. Writes are staged in
// the transaction overlay and reach the store only if the whole transaction
// succeeds.
type InvokeContext struct {
	ctx     context.Context
	rt      *Runtime
	program types.Pubkey
	metas   []AccountMeta
	signers map[types.Pubkey]struct{}
	txn     *accounts.Txn
	meter   *ComputeMeter
	logs    *[]string
	depth   int
}

// Context returns the context the transaction is executing under.
func (c *InvokeContext) Context() context.Context {
	return c.ctx
}

// Program returns the ID of the executing program.
func (c *InvokeContext) Program() types.Pubkey {
	return c.program
}

// NumAccounts returns the number of accounts passed to the instruction.
func (c *InvokeContext) NumAccounts() int {
	return len(c.metas)
}

// Key returns the pubkey of the account at position index.
func (c *InvokeContext) Key(index int) (types.Pubkey, error) {
	if index < 0 || index >= len(c.metas) {
		return types.Pubkey{}, ErrNotEnoughAccountKeys
	}
	return c.metas[index].Pubkey, nil
}

// IsSigner reports whether pubkey signed this invocation.
func (c *InvokeContext) IsSigner(pubkey types.Pubkey) bool {
	_, ok := c.signers[pubkey]
	return ok
}

// IsWritable reports whether pubkey was declared writable.
func (c *InvokeContext) IsWritable(pubkey types.Pubkey) bool {
	for _, m := range c.metas {
		if m.Pubkey == pubkey && m.IsWritable {
			return true
		}
	}
	return false
}

func (c *InvokeContext) declared(pubkey types.Pubkey) bool {
	for _, m := range c.metas {
		if m.Pubkey == pubkey {
			return true
		}
	}
	return false
}

// Get returns a copy of a declared account.
// A missing account yields accounts.ErrAccountNotFound.
func (c *InvokeContext) Get(pubkey types.Pubkey) (*accounts.Account, error) {
	if !c.declared(pubkey) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotDeclared, pubkey)
	}
	if err := c.meter.Consume(CUAccountRead); err != nil {
		return nil, err
	}
	return c.txn.Get(pubkey)
}

// Exists reports whether a declared account holds data.
func (c *InvokeContext) Exists(pubkey types.Pubkey) (bool, error) {
	_, err := c.Get(pubkey)
	if errors.Is(err, accounts.ErrAccountNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Set stages a write to a declared writable account.
func (c *InvokeContext) Set(pubkey types.Pubkey, account *accounts.Account) error {
	if !c.declared(pubkey) {
		return fmt.Errorf("%w: %s", ErrAccountNotDeclared, pubkey)
	}
	if !c.IsWritable(pubkey) {
		return fmt.Errorf("%w: %s", ErrAccountNotWritable, pubkey)
	}
	if err := c.meter.Consume(CUWriteLock); err != nil {
		return err
	}

	prev, err := c.txn.Get(pubkey)
	switch {
	case err == nil:
		if prev.Owner != c.program {
			return fmt.Errorf("%w: %s", ErrExternalAccountModified, pubkey)
		}
	case errors.Is(err, accounts.ErrAccountNotFound):
	default:
		return err
	}
	if account != nil && !account.IsZero() && account.Owner != c.program {
		return fmt.Errorf("%w: %s", ErrExternalAccountModified, pubkey)
	}
	return c.txn.Set(pubkey, account)
}

// Log appends a program log line to the transaction result.
func (c *InvokeContext) Log(format string, args ...any) {
	*c.logs = append(*c.logs, fmt.Sprintf("Program %s log: %s", c.program, fmt.Sprintf(format, args...)))
}

// Consume charges compute units against the transaction budget.
func (c *InvokeContext) Consume(cost uint64) error {
	return c.meter.Consume(cost)
}

// Invoke runs ix against another program from inside this one.
//
// The callee sees only the accounts ix names, each of which must be declared
// by the caller with at least the privileges ix requests. A signer flag is
// honored when the caller already holds that signature, or when the account is
// the address derived from one of signerSeeds under the caller's program ID.
// That is the only way a program can sign for an address it controls.
func (c *InvokeContext) Invoke(ix Instruction, signerSeeds ...[][]byte) error {
	if c.depth+1 >= MaxInvokeDepth {
		return ErrInvokeDepthExceeded
	}
	if err := c.ctx.Err(); err != nil {
		return err
	}
	if err := c.meter.Consume(CUInvokeBase); err != nil {
		return err
	}

	program, ok := c.rt.program(ix.ProgramID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrProgramNotFound, ix.ProgramID)
	}

	derived := make(map[types.Pubkey]struct{}, len(signerSeeds))
	for _, seeds := range signerSeeds {
		if err := c.meter.Consume(CUCreateProgramAddress); err != nil {
			return err
		}
		addr, err := pda.CreateProgramAddress(seeds, c.program)
		if err != nil {
			return err
		}
		derived[addr] = struct{}{}
	}

	signers := make(map[types.Pubkey]struct{})
	for _, meta := range ix.Accounts {
		if !c.declared(meta.Pubkey) {
			return fmt.Errorf("%w: %s", ErrAccountNotDeclared, meta.Pubkey)
		}
		if meta.IsWritable && !c.IsWritable(meta.Pubkey) {
			return fmt.Errorf("%w: %s writable", ErrPrivilegeEscalation, meta.Pubkey)
		}
		if meta.IsSigner {
			_, pdaSigner := derived[meta.Pubkey]
			if !pdaSigner && !c.IsSigner(meta.Pubkey) {
				return fmt.Errorf("%w: %s signer", ErrPrivilegeEscalation, meta.Pubkey)
			}
			signers[meta.Pubkey] = struct{}{}
		}
	}

	callee := &InvokeContext{
		ctx:     c.ctx,
		rt:      c.rt,
		program: ix.ProgramID,
		metas:   ix.Accounts,
		signers: signers,
		txn:     c.txn,
		meter:   c.meter,
		logs:    c.logs,
		depth:   c.depth + 1,
	}
	*c.logs = append(*c.logs, fmt.Sprintf("Program %s invoke [%d]", ix.ProgramID, callee.depth+1))
	if err := program.Process(callee, ix.Data); err != nil {
		*c.logs = append(*c.logs, fmt.Sprintf("Program %s failed: %v", ix.ProgramID, err))
		return err
	}
	*c.logs = append(*c.logs, fmt.Sprintf("Program %s success", ix.ProgramID))
	return nil
}
