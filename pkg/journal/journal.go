// Package journal provides persistent storage for executed transactions.
package journal

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/fortiblox/X1-Onering/internal/types"
	"github.com/fortiblox/X1-Onering/pkg/runtime"
)

var (
	// ErrNotFound is returned when a record doesn't exist.
	ErrNotFound = errors.New("transaction not found")

	// ErrClosed is returned when operating on a closed journal.
	ErrClosed = errors.New("journal closed")
)

// Bucket names for BoltDB.
var (
	// bucketTx stores records keyed by sequence.
	bucketTx = []byte("tx")

	// bucketTxBySignature maps a signature to its sequence.
	bucketTxBySignature = []byte("tx_by_sig")

	// bucketAddressTx indexes sequences by address+sequence.
	bucketAddressTx = []byte("addr_tx")
)

// Config holds journal configuration options.
type Config struct {
	// Path is the database file.
	Path string

	// NoSync disables fsync after each write (faster but less durable).
	NoSync bool

	// ReadOnly opens the database in read-only mode.
	ReadOnly bool
}

// DefaultConfig returns the default journal configuration.
func DefaultConfig(path string) Config {
	return Config{Path: path}
}

// Store is a bbolt-backed transaction journal. It implements runtime.Journal.
type Store struct {
	db     *bolt.DB
	config Config

	mu     sync.RWMutex
	count  uint64
	closed bool
}

// Open creates or opens a journal at the configured path.
func Open(config Config) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(config.Path), 0755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}

	db, err := bolt.Open(config.Path, 0600, &bolt.Options{
		Timeout:  5 * time.Second,
		NoSync:   config.NoSync,
		ReadOnly: config.ReadOnly,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	s := &Store{db: db, config: config}
	if !config.ReadOnly {
		if err := s.initBuckets(); err != nil {
			db.Close()
			return nil, fmt.Errorf("init buckets: %w", err)
		}
	}
	err = db.View(func(tx *bolt.Tx) error {
		if b := tx.Bucket(bucketTx); b != nil {
			s.count = uint64(b.Stats().KeyN)
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load count: %w", err)
	}
	return s, nil
}

func (s *Store) initBuckets() error {
	return s.db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketTx, bucketTxBySignature, bucketAddressTx} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
}

func (s *Store) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

// Append stores the result of an executed transaction and indexes it by
// signature and by every account it locked.
func (s *Store) Append(res *runtime.Result) error {
	if err := s.checkOpen(); err != nil {
		return err
	}
	rec := NewRecord(res)

	err := s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(bucketTx)
		seq, err := records.NextSequence()
		if err != nil {
			return err
		}
		rec.Sequence = seq

		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
			return fmt.Errorf("encode record: %w", err)
		}
		seqKey := EncodeSequenceKey(seq)
		if err := records.Put(seqKey, buf.Bytes()); err != nil {
			return err
		}
		if err := tx.Bucket(bucketTxBySignature).Put(rec.Signature[:], seqKey); err != nil {
			return err
		}
		addrTx := tx.Bucket(bucketAddressTx)
		for _, addr := range rec.Accounts {
			if err := addrTx.Put(EncodeAddressSequenceKey(addr, seq), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.count++
	s.mu.Unlock()
	return nil
}

func getRecord(tx *bolt.Tx, seqKey []byte) (*Record, error) {
	data := tx.Bucket(bucketTx).Get(seqKey)
	if data == nil {
		return nil, ErrNotFound
	}
	var rec Record
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode record %d: %w", DecodeSequenceKey(seqKey), err)
	}
	return &rec, nil
}

// Get returns the record of the transaction with the given signature.
func (s *Store) Get(sig types.Signature) (*Record, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var rec *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		seqKey := tx.Bucket(bucketTxBySignature).Get(sig[:])
		if seqKey == nil {
			return ErrNotFound
		}
		var err error
		rec, err = getRecord(tx, seqKey)
		return err
	})
	return rec, err
}

// Latest returns the most recently appended record.
func (s *Store) Latest() (*Record, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var rec *Record
	err := s.db.View(func(tx *bolt.Tx) error {
		k, _ := tx.Bucket(bucketTx).Cursor().Last()
		if k == nil {
			return ErrNotFound
		}
		var err error
		rec, err = getRecord(tx, k)
		return err
	})
	return rec, err
}

// ForAddress returns up to limit records touching addr, newest first.
// A limit of zero or less returns all of them.
func (s *Store) ForAddress(addr types.Pubkey, limit int) ([]*Record, error) {
	if err := s.checkOpen(); err != nil {
		return nil, err
	}
	var out []*Record
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketAddressTx).Cursor()
		prefix := addr[:]

		// Position past the last key for addr, then walk backwards.
		k, _ := c.Seek(EncodeAddressSequenceKey(addr, ^uint64(0)))
		if k == nil {
			k, _ = c.Last()
		} else if !bytes.Equal(k, EncodeAddressSequenceKey(addr, ^uint64(0))) {
			k, _ = c.Prev()
		}
		for ; k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Prev() {
			if limit > 0 && len(out) >= limit {
				break
			}
			_, seq := DecodeAddressSequenceKey(k)
			rec, err := getRecord(tx, EncodeSequenceKey(seq))
			if err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	return out, err
}

// Prune deletes all but the newest retain records and their indexes. It
// returns the number of records removed.
func (s *Store) Prune(retain uint64) (uint64, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	var removed uint64
	err := s.db.Update(func(tx *bolt.Tx) error {
		records := tx.Bucket(bucketTx)
		total := uint64(records.Stats().KeyN)
		if total <= retain {
			return nil
		}
		excess := total - retain

		var victims [][]byte
		c := records.Cursor()
		for k, _ := c.First(); k != nil && uint64(len(victims)) < excess; k, _ = c.Next() {
			victims = append(victims, append([]byte(nil), k...))
		}
		for _, seqKey := range victims {
			rec, err := getRecord(tx, seqKey)
			if err != nil {
				return err
			}
			if err := tx.Bucket(bucketTxBySignature).Delete(rec.Signature[:]); err != nil {
				return err
			}
			for _, addr := range rec.Accounts {
				if err := tx.Bucket(bucketAddressTx).Delete(EncodeAddressSequenceKey(addr, rec.Sequence)); err != nil {
					return err
				}
			}
			if err := records.Delete(seqKey); err != nil {
				return err
			}
			removed++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.count -= removed
	s.mu.Unlock()
	return removed, nil
}

// Count returns the number of records held.
func (s *Store) Count() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.count
}

// Close shuts down the journal.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.db.Close()
}

// Verify interface compliance.
var _ runtime.Journal = (*Store)(nil)
