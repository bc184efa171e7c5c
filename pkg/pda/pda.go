// Package pda implements program derived addresses.
//
// A program derived address (PDA) is the sha256 digest of a list of seeds, the
// owning program ID and a fixed marker. A digest that decodes to a valid ed25519
// point is rejected, so no private key can ever sign for a PDA; only the owning
// program can act for it by presenting the seeds again.
package pda

import (
	"crypto/sha256"
	"errors"

	"filippo.io/edwards25519"

	"github.com/fortiblox/X1-Onering/internal/types"
)

// PDA constants.
const (
	MaxSeeds   = 16
	MaxSeedLen = 32
)

// PDA marker used in address derivation.
var pdaMarker = []byte("ProgramDerivedAddress")

// PDA errors.
var (
	ErrMaxSeedLengthExceeded = errors.New("max seed length exceeded")
	ErrMaxSeedsExceeded      = errors.New("max seeds exceeded")
	ErrOnCurve               = errors.New("invalid seeds: derived address is on curve")
	ErrNoViableBump          = errors.New("unable to find a viable program address bump seed")
	ErrSeedsConstraint       = errors.New("seeds constraint violated")
)

// CreateProgramAddress derives a program address from seeds and a program ID.
// Returns ErrOnCurve if the derived address is a valid ed25519 point.
func CreateProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, error) {
	if len(seeds) > MaxSeeds {
		return types.Pubkey{}, ErrMaxSeedsExceeded
	}
	for _, seed := range seeds {
		if len(seed) > MaxSeedLen {
			return types.Pubkey{}, ErrMaxSeedLengthExceeded
		}
	}

	h := sha256.New()
	for _, seed := range seeds {
		h.Write(seed)
	}
	h.Write(programID[:])
	h.Write(pdaMarker)

	var addr types.Pubkey
	copy(addr[:], h.Sum(nil))

	if IsOnCurve(addr[:]) {
		return types.Pubkey{}, ErrOnCurve
	}
	return addr, nil
}

// FindProgramAddress finds a valid PDA by iterating bump seeds from 255 to 0.
func FindProgramAddress(seeds [][]byte, programID types.Pubkey) (types.Pubkey, uint8, error) {
	if len(seeds) > MaxSeeds-1 { // room for the bump
		return types.Pubkey{}, 0, ErrMaxSeedsExceeded
	}

	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)

	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{uint8(bump)}
		addr, err := CreateProgramAddress(withBump, programID)
		if err == nil {
			return addr, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return types.Pubkey{}, 0, err
		}
	}
	return types.Pubkey{}, 0, ErrNoViableBump
}

// Derive re-derives the address for seeds plus a known bump.
func Derive(seeds [][]byte, bump uint8, programID types.Pubkey) (types.Pubkey, error) {
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	withBump[len(seeds)] = []byte{bump}
	return CreateProgramAddress(withBump, programID)
}

// Verify checks that seeds plus the claimed bump reproduce the presented address.
// Any mismatch, including a bump that lands on the curve, is ErrSeedsConstraint.
func Verify(seeds [][]byte, bump uint8, programID, presented types.Pubkey) error {
	addr, err := Derive(seeds, bump, programID)
	if err != nil || addr != presented {
		return ErrSeedsConstraint
	}
	return nil
}

// VerifyCanonical is Verify restricted to the canonical bump, the first one
// FindProgramAddress accepts. It pins seeds to exactly one address.
func VerifyCanonical(seeds [][]byte, bump uint8, programID, presented types.Pubkey) error {
	addr, canonical, err := FindProgramAddress(seeds, programID)
	if err != nil || bump != canonical || addr != presented {
		return ErrSeedsConstraint
	}
	return nil
}

// IsOnCurve reports whether b is the compressed encoding of an ed25519 point.
func IsOnCurve(b []byte) bool {
	if len(b) != 32 {
		return false
	}
	_, err := new(edwards25519.Point).SetBytes(b)
	return err == nil
}
