// Package snapshot exports and restores the full account state.
//
// # Snapshot Format
//
// A snapshot is a single zstd-compressed stream:
//
//	header:  magic "ONRGSNAP" (8) | version u32 | slot u64 | account_count u64
//	entries: pubkey (32) | len u32 | account bytes (owner 32 | data_len u64 | data)
//	trailer: state hash (32)
//
// Entries are written in ascending pubkey order. The trailer is the BLAKE3
// merkle root accounts.ComputeStateHash produces for the exported store, and
// an import that does not reproduce it is rejected before anything is written.
//
// Snapshot files are named onering-SLOT-HASH.snap.zst, where HASH is a prefix
// of the base58 state hash.
package snapshot

import (
	"errors"

	"github.com/fortiblox/X1-Onering/internal/types"
)

// Errors returned by the snapshot package.
var (
	// ErrInvalidSnapshot indicates the snapshot stream is malformed.
	ErrInvalidSnapshot = errors.New("invalid snapshot")

	// ErrUnsupportedVersion indicates the snapshot version is not supported.
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")

	// ErrHashMismatch indicates the computed hash doesn't match the trailer.
	ErrHashMismatch = errors.New("snapshot hash mismatch")

	// ErrSnapshotNotFound indicates no snapshot was found at the path.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrDecompressionFailed indicates zstd decompression failed.
	ErrDecompressionFailed = errors.New("decompression failed")

	// ErrStoreNotEmpty indicates an import target already holds accounts.
	ErrStoreNotEmpty = errors.New("account store is not empty")
)

// Format constants.
const (
	Magic   = "ONRGSNAP"
	Version = uint32(1)

	headerSize  = 8 + 4 + 8 + 8
	trailerSize = 32
)

// Header is the fixed snapshot prefix.
type Header struct {
	Version      uint32
	Slot         uint64
	AccountCount uint64
}

// SnapshotInfo contains metadata about a discovered snapshot file.
type SnapshotInfo struct {
	// Path is the full path to the snapshot file.
	Path string

	// Slot is the slot at which the snapshot was taken.
	Slot uint64

	// Hash is the truncated hash from the filename.
	Hash string

	// Size is the file size in bytes.
	Size int64
}

// Result describes an export or import.
type Result struct {
	Slot         uint64
	AccountCount uint64
	StateHash    types.Hash
}
