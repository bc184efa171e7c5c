// Package runtime executes signed transactions against the account store.
//
// A transaction is a list of instructions, each addressed to a registered
// program together with the accounts it may touch. The runtime:
//   - verifies every signature against the serialized message
//   - locks every named account (writable exclusive, read-only shared) in
//     ascending key order, so conflicting transactions serialize
//   - runs the instructions in order over one staged overlay
//   - commits the overlay atomically on success and discards it on any error
//
// A failed transaction therefore leaves every account byte-identical to its
// pre-call state.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fortiblox/X1-Onering/internal/types"
	"github.com/fortiblox/X1-Onering/pkg/accounts"
)

// Program is a native program the runtime can dispatch instructions to.
type Program interface {
	// ID returns the program address instructions are addressed to.
	ID() types.Pubkey

	// InstructionName decodes a human-readable name from instruction data.
	InstructionName(data []byte) string

	// Process executes one instruction.
	Process(ctx *InvokeContext, data []byte) error
}

// Journal records executed transactions.
type Journal interface {
	Append(res *Result) error
}

// CodedError is an error that carries a stable numeric code.
type CodedError interface {
	error
	ErrorCode() uint32
}

// ErrorCode extracts the numeric code from err, or 0 if it has none.
func ErrorCode(err error) uint32 {
	var coded CodedError
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}
	return 0
}

// Result describes one executed transaction.
type Result struct {
	Signature    types.Signature
	Slot         uint64
	BlockTime    time.Time
	Instructions []string
	Accounts     []types.Pubkey
	Err          error
	Logs         []string
	ComputeUnits uint64
}

// Succeeded reports whether the transaction committed.
func (r *Result) Succeeded() bool {
	return r.Err == nil
}

// Config holds runtime options.
type Config struct {
	// Logger receives structured execution logs. Nil disables logging.
	Logger *slog.Logger

	// Journal, if set, receives every executed transaction.
	Journal Journal

	// ComputeLimit is the per-transaction compute budget. Zero selects CUDefault.
	ComputeLimit uint64
}

// Runtime executes transactions against an accounts.DB.
type Runtime struct {
	db       accounts.DB
	cfg      Config
	logger   *slog.Logger
	locks    *lockTable
	slot     atomic.Uint64
	mu       sync.RWMutex
	programs map[types.Pubkey]Program
}

// New creates a runtime over db.
func New(db accounts.DB, cfg Config) *Runtime {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Runtime{
		db:       db,
		cfg:      cfg,
		logger:   logger,
		locks:    newLockTable(),
		programs: make(map[types.Pubkey]Program),
	}
}

// Register makes a program callable.
func (r *Runtime) Register(programs ...Program) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range programs {
		r.programs[p.ID()] = p
	}
}

func (r *Runtime) program(id types.Pubkey) (Program, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.programs[id]
	return p, ok
}

// DB returns the underlying account store.
func (r *Runtime) DB() accounts.DB {
	return r.db
}

// Slot returns the slot of the most recently executed transaction.
func (r *Runtime) Slot() uint64 {
	return r.slot.Load()
}

// SetSlot moves the slot counter, e.g. when resuming after a journal's
// latest record. The next transaction executes at slot+1.
func (r *Runtime) SetSlot(slot uint64) {
	r.slot.Store(slot)
}

// Execute verifies and runs tx.
//
// A transaction that fails verification is rejected without a Result. Once
// it runs, a Result is always returned; its Err (also returned) is the first
// instruction error, and in that case nothing was written.
func (r *Runtime) Execute(ctx context.Context, tx *Transaction) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := tx.Message.Sanitize(); err != nil {
		return nil, err
	}
	if err := tx.VerifySignatures(); err != nil {
		return nil, err
	}

	set := lockSet(&tx.Message)
	release := r.locks.acquire(set)
	defer release()

	// Expired while waiting for locks: never apply.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{
		Signature: tx.Signature(),
		Slot:      r.slot.Add(1),
		BlockTime: time.Now().UTC(),
	}
	for k := range set {
		res.Accounts = append(res.Accounts, k)
	}
	accounts.SortPubkeys(res.Accounts)
	for _, ix := range tx.Message.Instructions {
		res.Instructions = append(res.Instructions, r.instructionName(ix))
	}

	meter := NewComputeMeter(r.cfg.ComputeLimit)
	txn := accounts.NewTxn(r.db)
	err := r.run(ctx, tx, txn, meter, &res.Logs)
	if err != nil {
		txn.Discard()
	} else if cerr := txn.Commit(); cerr != nil {
		err = fmt.Errorf("commit: %w", cerr)
	}
	res.Err = err
	res.ComputeUnits = meter.Consumed()

	if err != nil {
		r.logger.Warn("transaction failed",
			"signature", res.Signature.String(),
			"slot", res.Slot,
			"instructions", res.Instructions,
			"code", ErrorCode(err),
			"error", err)
	} else {
		r.logger.Debug("transaction committed",
			"signature", res.Signature.String(),
			"slot", res.Slot,
			"instructions", res.Instructions,
			"compute_units", res.ComputeUnits)
	}

	if r.cfg.Journal != nil {
		if jerr := r.cfg.Journal.Append(res); jerr != nil {
			r.logger.Error("journal append failed", "signature", res.Signature.String(), "error", jerr)
		}
	}
	return res, err
}

func (r *Runtime) run(ctx context.Context, tx *Transaction, txn *accounts.Txn, meter *ComputeMeter, logs *[]string) error {
	signers := make(map[types.Pubkey]struct{}, len(tx.Message.Signers))
	for _, s := range tx.Message.Signers {
		signers[s] = struct{}{}
	}
	if err := meter.Consume(CUSignatureVerify * uint64(len(tx.Signatures))); err != nil {
		return err
	}

	for i, ix := range tx.Message.Instructions {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := meter.Consume(CUInstructionBase); err != nil {
			return err
		}

		program, ok := r.program(ix.ProgramID)
		if !ok {
			return fmt.Errorf("instruction %d: %w: %s", i, ErrProgramNotFound, ix.ProgramID)
		}

		ixSigners := make(map[types.Pubkey]struct{})
		for _, meta := range ix.Accounts {
			if !meta.IsSigner {
				continue
			}
			if _, ok := signers[meta.Pubkey]; !ok {
				return fmt.Errorf("instruction %d: %w: %s", i, ErrMissingSignature, meta.Pubkey)
			}
			ixSigners[meta.Pubkey] = struct{}{}
		}

		ictx := &InvokeContext{
			ctx:     ctx,
			rt:      r,
			program: ix.ProgramID,
			metas:   ix.Accounts,
			signers: ixSigners,
			txn:     txn,
			meter:   meter,
			logs:    logs,
		}
		*logs = append(*logs, fmt.Sprintf("Program %s invoke [1]", ix.ProgramID))
		if err := program.Process(ictx, ix.Data); err != nil {
			*logs = append(*logs, fmt.Sprintf("Program %s failed: %v", ix.ProgramID, err))
			return fmt.Errorf("instruction %d: %w", i, err)
		}
		*logs = append(*logs, fmt.Sprintf("Program %s success", ix.ProgramID))
	}
	return nil
}

func (r *Runtime) instructionName(ix Instruction) string {
	if p, ok := r.program(ix.ProgramID); ok {
		return p.InstructionName(ix.Data)
	}
	return "unknown"
}
