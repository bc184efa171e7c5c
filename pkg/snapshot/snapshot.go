package snapshot

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	bin "github.com/gagliardetto/binary"
	"github.com/klauspost/compress/zstd"

	"github.com/fortiblox/X1-Onering/internal/types"
	"github.com/fortiblox/X1-Onering/pkg/accounts"
)

// snapshotPattern matches onering-SLOT-HASH.snap.zst.
var snapshotPattern = regexp.MustCompile(`^onering-(\d+)-([a-zA-Z0-9]+)\.snap\.zst$`)

// Filename returns the canonical file name for a snapshot.
func Filename(slot uint64, hash types.Hash) string {
	h := hash.String()
	if len(h) > 8 {
		h = h[:8]
	}
	return fmt.Sprintf("onering-%d-%s.snap.zst", slot, h)
}

// Export writes every account in db to w.
func Export(db accounts.DB, slot uint64, w io.Writer) (*Result, error) {
	count, err := db.AccountsCount()
	if err != nil {
		return nil, fmt.Errorf("count accounts: %w", err)
	}

	zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	enc := bin.NewBinEncoder(zw)

	if err := enc.WriteBytes([]byte(Magic), false); err != nil {
		return nil, err
	}
	if err := enc.WriteUint32(Version, bin.LE); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(slot, bin.LE); err != nil {
		return nil, err
	}
	if err := enc.WriteUint64(count, bin.LE); err != nil {
		return nil, err
	}

	var (
		written uint64
		hashes  []types.Hash
	)
	err = db.IterateAccounts(func(pubkey types.Pubkey, account *accounts.Account) error {
		data := account.Serialize()
		if err := enc.WriteBytes(pubkey[:], false); err != nil {
			return err
		}
		if err := enc.WriteUint32(uint32(len(data)), bin.LE); err != nil {
			return err
		}
		if err := enc.WriteBytes(data, false); err != nil {
			return err
		}
		hashes = append(hashes, accounts.ComputeAccountHash(pubkey, account))
		written++
		return nil
	})
	if err != nil {
		zw.Close()
		return nil, fmt.Errorf("write accounts: %w", err)
	}
	if written != count {
		zw.Close()
		return nil, fmt.Errorf("%w: store changed during export (%d of %d accounts)", ErrInvalidSnapshot, written, count)
	}

	root := accounts.ComputeMerkleRoot(hashes)
	if err := enc.WriteBytes(root[:], false); err != nil {
		zw.Close()
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("flush zstd: %w", err)
	}
	return &Result{Slot: slot, AccountCount: written, StateHash: root}, nil
}

// decoded is a fully read and verified snapshot.
type decoded struct {
	header  Header
	changes []accounts.Change
	hash    types.Hash
}

func decode(r io.Reader) (*decoded, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
	}
	defer zr.Close()

	raw, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecompressionFailed, err)
	}
	if len(raw) < headerSize+trailerSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrInvalidSnapshot, len(raw))
	}

	dec := bin.NewBinDecoder(raw[:len(raw)-trailerSize])
	magic, err := dec.ReadNBytes(len(Magic))
	if err != nil || !bytes.Equal(magic, []byte(Magic)) {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidSnapshot)
	}
	out := &decoded{}
	if out.header.Version, err = dec.ReadUint32(bin.LE); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if out.header.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, out.header.Version)
	}
	if out.header.Slot, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}
	if out.header.AccountCount, err = dec.ReadUint64(bin.LE); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
	}

	var (
		hashes []types.Hash
		prev   *types.Pubkey
	)
	for i := uint64(0); i < out.header.AccountCount; i++ {
		keyBytes, err := dec.ReadNBytes(32)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrInvalidSnapshot, i, err)
		}
		var pubkey types.Pubkey
		copy(pubkey[:], keyBytes)
		if prev != nil && !prev.Less(pubkey) {
			return nil, fmt.Errorf("%w: entry %d out of order", ErrInvalidSnapshot, i)
		}
		prev = &pubkey

		size, err := dec.ReadUint32(bin.LE)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrInvalidSnapshot, i, err)
		}
		if int(size) > dec.Remaining() {
			return nil, fmt.Errorf("%w: entry %d truncated", ErrInvalidSnapshot, i)
		}
		data, err := dec.ReadNBytes(int(size))
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrInvalidSnapshot, i, err)
		}
		account, err := accounts.DeserializeAccount(data)
		if err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrInvalidSnapshot, i, err)
		}
		out.changes = append(out.changes, accounts.Change{Pubkey: pubkey, Account: account})
		hashes = append(hashes, accounts.ComputeAccountHash(pubkey, account))
	}
	if dec.Remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrInvalidSnapshot, dec.Remaining())
	}

	var want types.Hash
	copy(want[:], raw[len(raw)-trailerSize:])
	out.hash = accounts.ComputeMerkleRoot(hashes)
	if out.hash != want {
		return nil, fmt.Errorf("%w: computed %s, trailer %s", ErrHashMismatch, out.hash, want)
	}
	return out, nil
}

// Import reads a snapshot from r and writes its accounts into db in one
// atomic batch. db must be empty, and nothing is written unless the whole
// snapshot verifies.
func Import(r io.Reader, db accounts.DB) (*Result, error) {
	if n, err := db.AccountsCount(); err != nil {
		return nil, fmt.Errorf("count accounts: %w", err)
	} else if n != 0 {
		return nil, fmt.Errorf("%w: %d accounts", ErrStoreNotEmpty, n)
	}
	d, err := decode(r)
	if err != nil {
		return nil, err
	}
	if err := db.Apply(d.changes); err != nil {
		return nil, fmt.Errorf("apply accounts: %w", err)
	}
	return &Result{Slot: d.header.Slot, AccountCount: d.header.AccountCount, StateHash: d.hash}, nil
}

// Verify checks a snapshot without importing it.
func Verify(r io.Reader) (*Result, error) {
	d, err := decode(r)
	if err != nil {
		return nil, err
	}
	return &Result{Slot: d.header.Slot, AccountCount: d.header.AccountCount, StateHash: d.hash}, nil
}

// WriteFile exports db into dir under its canonical name and returns the path.
func WriteFile(db accounts.DB, slot uint64, dir string) (string, *Result, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", nil, fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".onering-snapshot-*")
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	res, err := Export(db, slot, tmp)
	if err != nil {
		tmp.Close()
		return "", nil, err
	}
	if err := tmp.Close(); err != nil {
		return "", nil, err
	}
	path := filepath.Join(dir, Filename(slot, res.StateHash))
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", nil, fmt.Errorf("rename snapshot: %w", err)
	}
	return path, res, nil
}

// LoadFile imports the snapshot at path into db.
func LoadFile(path string, db accounts.DB) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrSnapshotNotFound
		}
		return nil, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()
	return Import(f, db)
}

// FindSnapshots discovers snapshots in a directory, newest first.
func FindSnapshots(dir string) ([]SnapshotInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read directory: %w", err)
	}

	var snapshots []SnapshotInfo
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		matches := snapshotPattern.FindStringSubmatch(entry.Name())
		if matches == nil {
			continue
		}
		slot, _ := strconv.ParseUint(matches[1], 10, 64)
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snapshots = append(snapshots, SnapshotInfo{
			Path: filepath.Join(dir, entry.Name()),
			Slot: slot,
			Hash: matches[2],
			Size: info.Size(),
		})
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Slot > snapshots[j].Slot
	})
	return snapshots, nil
}

// FindLatestSnapshot finds the most recent snapshot in a directory.
func FindLatestSnapshot(dir string) (*SnapshotInfo, error) {
	snapshots, err := FindSnapshots(dir)
	if err != nil {
		return nil, err
	}
	if len(snapshots) == 0 {
		return nil, ErrSnapshotNotFound
	}
	return &snapshots[0], nil
}
