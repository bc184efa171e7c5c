// Package accounts implements the account store backing the Onering ledger.
//
// Every record in the ledger is an account: a 32-byte address, the program that
// owns it and an opaque data blob. Mints, token balances, the global state,
// markets and reserves are all accounts; only their owning program knows how to
// decode the data.
//
// Writes reach a DB either one account at a time (SetAccount) or as an atomic
// batch (Apply). The runtime always uses Apply through a Txn overlay so a failed
// transaction never leaves a partially written set of records behind.
package accounts

import (
	"encoding/binary"
	"errors"
	"sort"
	"sync"

	"github.com/fortiblox/X1-Onering/internal/types"
)

var (
	// ErrAccountNotFound is returned when an account doesn't exist.
	ErrAccountNotFound = errors.New("account not found")

	// ErrClosed is returned when operating on a closed database.
	ErrClosed = errors.New("database closed")

	// ErrInvalidData is returned when account data is malformed.
	ErrInvalidData = errors.New("invalid account data")
)

// MaxAccountDataSize bounds the data blob of a single account.
const MaxAccountDataSize = 10 * 1024 * 1024

// Account is a single stored record.
type Account struct {
	// Owner is the program allowed to interpret and modify Data.
	Owner types.Pubkey

	// Data is the program-specific encoded record.
	Data []byte
}

// Clone creates a deep copy of the account.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	dataCopy := make([]byte, len(a.Data))
	copy(dataCopy, a.Data)
	return &Account{
		Owner: a.Owner,
		Data:  dataCopy,
	}
}

// IsZero returns true if the account has no data.
// Zero accounts are deleted from storage.
func (a *Account) IsZero() bool {
	return len(a.Data) == 0
}

// Size returns the total serialized size of the account.
func (a *Account) Size() int {
	// 32 (owner) + 8 (data_len) + data
	return 32 + 8 + len(a.Data)
}

// Serialize encodes the account to bytes for storage.
// Format: owner (32) + data_len (8) + data
func (a *Account) Serialize() []byte {
	buf := make([]byte, a.Size())
	copy(buf[0:32], a.Owner[:])
	binary.LittleEndian.PutUint64(buf[32:40], uint64(len(a.Data)))
	copy(buf[40:], a.Data)
	return buf
}

// DeserializeAccount decodes an account from bytes.
func DeserializeAccount(data []byte) (*Account, error) {
	if len(data) < 40 {
		return nil, ErrInvalidData
	}

	var owner types.Pubkey
	copy(owner[:], data[0:32])

	dataLen := binary.LittleEndian.Uint64(data[32:40])
	if dataLen > MaxAccountDataSize || uint64(len(data)-40) != dataLen {
		return nil, ErrInvalidData
	}

	accountData := make([]byte, dataLen)
	copy(accountData, data[40:])

	return &Account{
		Owner: owner,
		Data:  accountData,
	}, nil
}

// Change is one staged write. A nil Account deletes the key.
type Change struct {
	Pubkey  types.Pubkey
	Account *Account
}

// DB is the accounts database interface.
// Implementations must be safe for concurrent use.
type DB interface {
	// GetAccount retrieves an account by public key.
	// Returns ErrAccountNotFound if the account doesn't exist.
	GetAccount(pubkey types.Pubkey) (*Account, error)

	// SetAccount stores an account.
	// If the account is zero (no data), it will be deleted.
	SetAccount(pubkey types.Pubkey, account *Account) error

	// DeleteAccount removes an account.
	// Returns nil if the account doesn't exist.
	DeleteAccount(pubkey types.Pubkey) error

	// HasAccount checks if an account exists.
	HasAccount(pubkey types.Pubkey) (bool, error)

	// AccountsCount returns the total number of accounts.
	AccountsCount() (uint64, error)

	// Apply writes every change or none of them.
	Apply(changes []Change) error

	// IterateAccounts visits all accounts in ascending pubkey order.
	// Return an error from the callback to stop iteration.
	IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error

	// Close closes the database.
	Close() error
}

// MemoryDB is an in-memory implementation of DB.
type MemoryDB struct {
	mu       sync.RWMutex
	accounts map[types.Pubkey]*Account
	closed   bool
}

// NewMemoryDB creates a new in-memory accounts database.
func NewMemoryDB() *MemoryDB {
	return &MemoryDB{
		accounts: make(map[types.Pubkey]*Account),
	}
}

// GetAccount retrieves an account.
func (m *MemoryDB) GetAccount(pubkey types.Pubkey) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrClosed
	}
	acc, ok := m.accounts[pubkey]
	if !ok {
		return nil, ErrAccountNotFound
	}
	return acc.Clone(), nil
}

// SetAccount stores an account.
func (m *MemoryDB) SetAccount(pubkey types.Pubkey, account *Account) error {
	return m.Apply([]Change{{Pubkey: pubkey, Account: account}})
}

// DeleteAccount removes an account.
func (m *MemoryDB) DeleteAccount(pubkey types.Pubkey) error {
	return m.Apply([]Change{{Pubkey: pubkey}})
}

// HasAccount checks if an account exists.
func (m *MemoryDB) HasAccount(pubkey types.Pubkey) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false, ErrClosed
	}
	_, ok := m.accounts[pubkey]
	return ok, nil
}

// AccountsCount returns the number of accounts.
func (m *MemoryDB) AccountsCount() (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return 0, ErrClosed
	}
	return uint64(len(m.accounts)), nil
}

// Apply writes all changes under a single lock.
func (m *MemoryDB) Apply(changes []Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	for _, c := range changes {
		if c.Account == nil || c.Account.IsZero() {
			delete(m.accounts, c.Pubkey)
			continue
		}
		m.accounts[c.Pubkey] = c.Account.Clone()
	}
	return nil
}

// IterateAccounts visits accounts in sorted pubkey order over a point-in-time copy.
func (m *MemoryDB) IterateAccounts(fn func(pubkey types.Pubkey, account *Account) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	keys := make([]types.Pubkey, 0, len(m.accounts))
	copies := make(map[types.Pubkey]*Account, len(m.accounts))
	for k, v := range m.accounts {
		keys = append(keys, k)
		copies[k] = v.Clone()
	}
	m.mu.RUnlock()

	SortPubkeys(keys)
	for _, k := range keys {
		if err := fn(k, copies[k]); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (m *MemoryDB) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.accounts = nil
	return nil
}

// SortPubkeys sorts a slice of pubkeys in ascending order.
func SortPubkeys(pubkeys []types.Pubkey) {
	sort.Slice(pubkeys, func(i, j int) bool {
		return pubkeys[i].Less(pubkeys[j])
	})
}

// Verify that MemoryDB implements DB interface.
var _ DB = (*MemoryDB)(nil)
