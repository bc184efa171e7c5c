package accounts

import (
	"errors"

	"github.com/fortiblox/X1-Onering/internal/types"
)

// ErrTxnDone is returned when a committed or discarded Txn is used again.
var ErrTxnDone = errors.New("transaction already committed or discarded")

// Txn stages account writes on top of a DB.
//
// Reads see staged writes first and fall through to the DB. Nothing reaches
// the DB until Commit, which hands every staged change to DB.Apply in one call.
type Txn struct {
	db     DB
	writes map[types.Pubkey]*Account
	done   bool
}

// NewTxn starts a staging overlay over db.
func NewTxn(db DB) *Txn {
	return &Txn{
		db:     db,
		writes: make(map[types.Pubkey]*Account),
	}
}

// Get returns a copy of the account as seen by this transaction.
func (t *Txn) Get(pubkey types.Pubkey) (*Account, error) {
	if t.done {
		return nil, ErrTxnDone
	}
	if acc, ok := t.writes[pubkey]; ok {
		if acc == nil {
			return nil, ErrAccountNotFound
		}
		return acc.Clone(), nil
	}
	return t.db.GetAccount(pubkey)
}

// Set stages a write. A zero account stages a deletion.
func (t *Txn) Set(pubkey types.Pubkey, account *Account) error {
	if t.done {
		return ErrTxnDone
	}
	if account == nil || account.IsZero() {
		t.writes[pubkey] = nil
		return nil
	}
	t.writes[pubkey] = account.Clone()
	return nil
}

// Delete stages a deletion.
func (t *Txn) Delete(pubkey types.Pubkey) error {
	return t.Set(pubkey, nil)
}

// Changes returns the staged writes sorted by pubkey.
func (t *Txn) Changes() []Change {
	keys := make([]types.Pubkey, 0, len(t.writes))
	for k := range t.writes {
		keys = append(keys, k)
	}
	SortPubkeys(keys)

	changes := make([]Change, 0, len(keys))
	for _, k := range keys {
		changes = append(changes, Change{Pubkey: k, Account: t.writes[k].Clone()})
	}
	return changes
}

// Commit applies every staged change atomically.
func (t *Txn) Commit() error {
	if t.done {
		return ErrTxnDone
	}
	t.done = true
	if len(t.writes) == 0 {
		return nil
	}
	return t.db.Apply(t.Changes())
}

// Discard drops all staged writes.
func (t *Txn) Discard() {
	t.done = true
	t.writes = nil
}
