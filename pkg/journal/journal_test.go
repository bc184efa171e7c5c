package journal

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/fortiblox/X1-Onering/internal/types"
	"github.com/fortiblox/X1-Onering/pkg/accounts"
	"github.com/fortiblox/X1-Onering/pkg/runtime"
	"github.com/fortiblox/X1-Onering/pkg/token"
)

func openTestStore(t *testing.T, path string) *Store {
	t.Helper()
	store, err := Open(DefaultConfig(path))
	if err != nil {
		t.Fatalf("failed to open journal: %v", err)
	}
	return store
}

type codedErr struct{}

func (codedErr) Error() string     { return "custom program error" }
func (codedErr) ErrorCode() uint32 { return 6001 }

func result(slot uint64, err error, accts ...types.Pubkey) *runtime.Result {
	var sig types.Signature
	sig[0] = byte(slot)
	sig[63] = 0xAA
	return &runtime.Result{
		Signature:    sig,
		Slot:         slot,
		BlockTime:    time.Unix(1_700_000_000+int64(slot), 0).UTC(),
		Instructions: []string{fmt.Sprintf("test.op%d", slot)},
		Accounts:     accts,
		Err:          err,
		Logs:         []string{"Program log: hello"},
		ComputeUnits: 1_000 * slot,
	}
}

func TestJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")
	store := openTestStore(t, path)

	a := types.Pubkey{1}
	b := types.Pubkey{2}

	results := []*runtime.Result{
		result(1, nil, a),
		result(2, nil, a, b),
		result(3, fmt.Errorf("instruction 0: %w", codedErr{}), b),
		result(4, nil, a),
	}
	for _, res := range results {
		if err := store.Append(res); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	t.Run("Get", func(t *testing.T) {
		rec, err := store.Get(results[1].Signature)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if rec.Sequence != 2 || rec.Slot != 2 || !rec.Succeeded {
			t.Errorf("unexpected record: %+v", rec)
		}
		if len(rec.Accounts) != 2 || rec.Accounts[1] != b {
			t.Errorf("accounts: got %v", rec.Accounts)
		}
		if !rec.BlockTime.Equal(results[1].BlockTime) {
			t.Errorf("block time: got %v, want %v", rec.BlockTime, results[1].BlockTime)
		}
	})

	t.Run("FailedRecord", func(t *testing.T) {
		rec, err := store.Get(results[2].Signature)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if rec.Succeeded || rec.Status() != "failed" {
			t.Error("expected failed status")
		}
		if rec.ErrorCode != 6001 {
			t.Errorf("error code: got %d, want 6001", rec.ErrorCode)
		}
		if rec.Error != "instruction 0: custom program error" {
			t.Errorf("error: got %q", rec.Error)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		if _, err := store.Get(types.Signature{9}); !errors.Is(err, ErrNotFound) {
			t.Errorf("got %v, want ErrNotFound", err)
		}
	})

	t.Run("ForAddress", func(t *testing.T) {
		recs, err := store.ForAddress(a, 0)
		if err != nil {
			t.Fatalf("ForAddress failed: %v", err)
		}
		want := []uint64{4, 2, 1}
		if len(recs) != len(want) {
			t.Fatalf("expected %d records, got %d", len(want), len(recs))
		}
		for i, rec := range recs {
			if rec.Sequence != want[i] {
				t.Errorf("record %d: got sequence %d, want %d", i, rec.Sequence, want[i])
			}
		}

		recs, err = store.ForAddress(b, 1)
		if err != nil {
			t.Fatalf("ForAddress failed: %v", err)
		}
		if len(recs) != 1 || recs[0].Sequence != 3 {
			t.Errorf("limited query: got %d records", len(recs))
		}

		recs, err = store.ForAddress(types.Pubkey{3}, 0)
		if err != nil || len(recs) != 0 {
			t.Errorf("unknown address: got %d records, %v", len(recs), err)
		}
	})

	t.Run("Latest", func(t *testing.T) {
		rec, err := store.Latest()
		if err != nil {
			t.Fatalf("Latest failed: %v", err)
		}
		if rec.Sequence != 4 {
			t.Errorf("expected sequence 4, got %d", rec.Sequence)
		}
	})

	// Reopen and check persistence.
	if err := store.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := store.Latest(); !errors.Is(err, ErrClosed) {
		t.Errorf("Latest on closed journal: got %v, want ErrClosed", err)
	}
	store = openTestStore(t, path)
	defer store.Close()
	if store.Count() != 4 {
		t.Errorf("count after reopen: got %d, want 4", store.Count())
	}
	if err := store.Append(result(5, nil, b)); err != nil {
		t.Fatalf("Append after reopen failed: %v", err)
	}
	rec, err := store.Latest()
	if err != nil || rec.Sequence != 5 {
		t.Errorf("sequence after reopen: got %+v, %v", rec, err)
	}
}

func TestPrune(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "journal.db"))
	defer store.Close()

	a := types.Pubkey{1}
	for slot := uint64(1); slot <= 10; slot++ {
		if err := store.Append(result(slot, nil, a)); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	removed, err := store.Prune(3)
	if err != nil {
		t.Fatalf("Prune failed: %v", err)
	}
	if removed != 7 || store.Count() != 3 {
		t.Errorf("Prune: removed %d, count %d", removed, store.Count())
	}
	if _, err := store.Get(result(1, nil).Signature); !errors.Is(err, ErrNotFound) {
		t.Errorf("pruned record still indexed: %v", err)
	}
	recs, err := store.ForAddress(a, 0)
	if err != nil {
		t.Fatalf("ForAddress failed: %v", err)
	}
	if len(recs) != 3 || recs[0].Sequence != 10 || recs[2].Sequence != 8 {
		t.Errorf("after prune: got %d records", len(recs))
	}

	if removed, err := store.Prune(5); err != nil || removed != 0 {
		t.Errorf("no-op prune: removed %d, %v", removed, err)
	}
}

func TestRuntimeJournal(t *testing.T) {
	store := openTestStore(t, filepath.Join(t.TempDir(), "journal.db"))
	defer store.Close()

	db := accounts.NewMemoryDB()
	defer db.Close()
	rt := runtime.New(db, runtime.Config{Journal: store})
	rt.Register(token.NewProgram())

	authority := types.MustNewKeypair()
	mint := types.MustNewKeypair()
	ctx := context.Background()

	tx, err := runtime.NewTransaction([]runtime.Instruction{
		token.NewInitializeMintInstruction(mint.Pubkey(), 6, authority.Pubkey()),
	}, authority, mint)
	if err != nil {
		t.Fatalf("NewTransaction failed: %v", err)
	}
	if _, err := rt.Execute(ctx, tx); err != nil {
		t.Fatalf("Execute failed: %v", err)
	}

	// Initializing the same mint again fails and is journaled too.
	tx, err = runtime.NewTransaction([]runtime.Instruction{
		token.NewInitializeMintInstruction(mint.Pubkey(), 6, authority.Pubkey()),
	}, authority, mint)
	if err != nil {
		t.Fatalf("NewTransaction failed: %v", err)
	}
	if _, err := rt.Execute(ctx, tx); err == nil {
		t.Fatal("expected second initialize_mint to fail")
	}

	recs, err := store.ForAddress(mint.Pubkey(), 0)
	if err != nil {
		t.Fatalf("ForAddress failed: %v", err)
	}
	if len(recs) != 2 {
		t.Fatalf("expected 2 records, got %d", len(recs))
	}
	if recs[0].Succeeded || !recs[1].Succeeded {
		t.Errorf("statuses: newest %s, oldest %s", recs[0].Status(), recs[1].Status())
	}
	if recs[1].Instructions[0] != "token.initialize_mint" {
		t.Errorf("instruction name: got %q", recs[1].Instructions[0])
	}
	if recs[0].Signature != tx.Signature() {
		t.Error("journaled signature does not match the transaction")
	}
}
