package journal

import (
	"encoding/binary"
	"time"

	"github.com/fortiblox/X1-Onering/internal/types"
	"github.com/fortiblox/X1-Onering/pkg/runtime"
)

// Record is one journaled transaction.
type Record struct {
	// Sequence is the position of the record in the journal, starting at 1.
	Sequence uint64

	Signature    types.Signature
	Slot         uint64
	BlockTime    time.Time
	Instructions []string
	Accounts     []types.Pubkey

	// Succeeded is false when the transaction was rolled back.
	Succeeded bool

	// ErrorCode is the program error code of a failed transaction, or 0.
	ErrorCode uint32

	// Error is the failure message, empty on success.
	Error string

	Logs         []string
	ComputeUnits uint64
}

// NewRecord converts an execution result into a record.
func NewRecord(res *runtime.Result) *Record {
	rec := &Record{
		Signature:    res.Signature,
		Slot:         res.Slot,
		BlockTime:    res.BlockTime,
		Instructions: res.Instructions,
		Accounts:     res.Accounts,
		Succeeded:    res.Succeeded(),
		Logs:         res.Logs,
		ComputeUnits: res.ComputeUnits,
	}
	if res.Err != nil {
		rec.ErrorCode = runtime.ErrorCode(res.Err)
		rec.Error = res.Err.Error()
	}
	return rec
}

// Status renders the outcome for display.
func (r *Record) Status() string {
	if r.Succeeded {
		return "ok"
	}
	return "failed"
}

// EncodeSequenceKey encodes a sequence number as a big-endian 8-byte key.
func EncodeSequenceKey(seq uint64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, seq)
	return key
}

// DecodeSequenceKey decodes a big-endian 8-byte key.
func DecodeSequenceKey(key []byte) uint64 {
	if len(key) < 8 {
		return 0
	}
	return binary.BigEndian.Uint64(key)
}

// EncodeAddressSequenceKey encodes an address+sequence composite key.
func EncodeAddressSequenceKey(addr types.Pubkey, seq uint64) []byte {
	key := make([]byte, 40) // 32 + 8
	copy(key[:32], addr[:])
	binary.BigEndian.PutUint64(key[32:], seq)
	return key
}

// DecodeAddressSequenceKey decodes an address+sequence composite key.
func DecodeAddressSequenceKey(key []byte) (types.Pubkey, uint64) {
	var addr types.Pubkey
	if len(key) < 40 {
		return addr, 0
	}
	copy(addr[:], key[:32])
	return addr, binary.BigEndian.Uint64(key[32:])
}
