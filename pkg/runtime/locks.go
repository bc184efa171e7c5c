package runtime

import (
	"sync"

	"github.com/fortiblox/X1-Onering/internal/types"
	"github.com/fortiblox/X1-Onering/pkg/accounts"
)

// lockTable hands out one RWMutex per account.
//
// A transaction locks every account it names before executing: writable
// accounts exclusively, read-only accounts shared. Locks are always taken in
// ascending pubkey order, so two transactions can never deadlock on each other
// and conflicting transactions run one after the other.
type lockTable struct {
	mu    sync.Mutex
	locks map[types.Pubkey]*sync.RWMutex
}

func newLockTable() *lockTable {
	return &lockTable{locks: make(map[types.Pubkey]*sync.RWMutex)}
}

func (t *lockTable) get(pubkey types.Pubkey) *sync.RWMutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.locks[pubkey]
	if !ok {
		l = new(sync.RWMutex)
		t.locks[pubkey] = l
	}
	return l
}

// acquire locks the given accounts and returns the matching release function.
func (t *lockTable) acquire(writable map[types.Pubkey]bool) func() {
	keys := make([]types.Pubkey, 0, len(writable))
	for k := range writable {
		keys = append(keys, k)
	}
	accounts.SortPubkeys(keys)

	held := make([]func(), 0, len(keys))
	for _, k := range keys {
		l := t.get(k)
		if writable[k] {
			l.Lock()
			held = append(held, l.Unlock)
		} else {
			l.RLock()
			held = append(held, l.RUnlock)
		}
	}
	return func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}
}

// lockSet merges every account of a message. An account is locked for
// writing if any instruction marks it writable.
func lockSet(m *Message) map[types.Pubkey]bool {
	set := make(map[types.Pubkey]bool)
	for _, ix := range m.Instructions {
		for _, meta := range ix.Accounts {
			set[meta.Pubkey] = set[meta.Pubkey] || meta.IsWritable
		}
	}
	return set
}
