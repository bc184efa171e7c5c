package pda

import (
	"bytes"
	"errors"
	"testing"

	"github.com/fortiblox/X1-Onering/internal/types"
)

func TestFindProgramAddressDeterministic(t *testing.T) {
	state := types.MustNewKeypair().Pubkey()
	seeds := [][]byte{[]byte("or_ousd_mint_auth"), state[:]}

	addr1, bump1, err := FindProgramAddress(seeds, types.OneringProgramAddr)
	if err != nil {
		t.Fatalf("FindProgramAddress failed: %v", err)
	}
	addr2, bump2, err := FindProgramAddress(seeds, types.OneringProgramAddr)
	if err != nil {
		t.Fatalf("FindProgramAddress failed: %v", err)
	}
	if addr1 != addr2 || bump1 != bump2 {
		t.Fatalf("derivation not deterministic: %s/%d vs %s/%d", addr1, bump1, addr2, bump2)
	}
	if IsOnCurve(addr1[:]) {
		t.Error("derived address must be off curve")
	}

	// Different program, different address.
	addr3, _, err := FindProgramAddress(seeds, types.TokenProgramAddr)
	if err != nil {
		t.Fatalf("FindProgramAddress failed: %v", err)
	}
	if addr3 == addr1 {
		t.Error("addresses for different programs must differ")
	}
}

func TestVerify(t *testing.T) {
	owner := types.MustNewKeypair().Pubkey()
	state := types.MustNewKeypair().Pubkey()
	seeds := [][]byte{owner[:], []byte("or_reserve"), state[:]}

	addr, bump, err := FindProgramAddress(seeds, types.OneringProgramAddr)
	if err != nil {
		t.Fatalf("FindProgramAddress failed: %v", err)
	}

	if err := Verify(seeds, bump, types.OneringProgramAddr, addr); err != nil {
		t.Errorf("Verify with correct bump failed: %v", err)
	}

	tests := []struct {
		name      string
		seeds     [][]byte
		bump      uint8
		presented types.Pubkey
	}{
		{"wrong bump", seeds, bump - 1, addr},
		{"wrong address", seeds, bump, types.MustNewKeypair().Pubkey()},
		{"wrong seeds", [][]byte{state[:], []byte("or_reserve"), owner[:]}, bump, addr},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Verify(tt.seeds, tt.bump, types.OneringProgramAddr, tt.presented)
			if !errors.Is(err, ErrSeedsConstraint) {
				t.Errorf("got %v, want ErrSeedsConstraint", err)
			}
		})
	}
}

func TestVerifyCanonical(t *testing.T) {
	owner := types.MustNewKeypair().Pubkey()
	state := types.MustNewKeypair().Pubkey()
	seeds := [][]byte{owner[:], []byte("or_reserve"), state[:]}

	addr, bump, err := FindProgramAddress(seeds, types.OneringProgramAddr)
	if err != nil {
		t.Fatalf("FindProgramAddress failed: %v", err)
	}
	if err := VerifyCanonical(seeds, bump, types.OneringProgramAddr, addr); err != nil {
		t.Errorf("VerifyCanonical with canonical bump failed: %v", err)
	}

	// Another off-curve bump passes Verify but not VerifyCanonical.
	for b := int(bump) - 1; b >= 0; b-- {
		alt, err := Derive(seeds, uint8(b), types.OneringProgramAddr)
		if err != nil {
			continue
		}
		if err := Verify(seeds, uint8(b), types.OneringProgramAddr, alt); err != nil {
			t.Fatalf("Verify with bump %d failed: %v", b, err)
		}
		if err := VerifyCanonical(seeds, uint8(b), types.OneringProgramAddr, alt); !errors.Is(err, ErrSeedsConstraint) {
			t.Errorf("bump %d: got %v, want ErrSeedsConstraint", b, err)
		}
		return
	}
	t.Fatal("no second viable bump")
}

func TestCreateProgramAddressLimits(t *testing.T) {
	long := bytes.Repeat([]byte{1}, MaxSeedLen+1)
	if _, err := CreateProgramAddress([][]byte{long}, types.OneringProgramAddr); err != ErrMaxSeedLengthExceeded {
		t.Errorf("got %v, want ErrMaxSeedLengthExceeded", err)
	}

	many := make([][]byte, MaxSeeds+1)
	for i := range many {
		many[i] = []byte{byte(i)}
	}
	if _, err := CreateProgramAddress(many, types.OneringProgramAddr); err != ErrMaxSeedsExceeded {
		t.Errorf("got %v, want ErrMaxSeedsExceeded", err)
	}
	if _, _, err := FindProgramAddress(many[:MaxSeeds], types.OneringProgramAddr); err != ErrMaxSeedsExceeded {
		t.Errorf("FindProgramAddress: got %v, want ErrMaxSeedsExceeded", err)
	}
}

func TestIsOnCurve(t *testing.T) {
	kp := types.MustNewKeypair()
	pub := kp.Pubkey()
	if !IsOnCurve(pub[:]) {
		t.Error("ed25519 public key should be on curve")
	}
	if IsOnCurve([]byte{1, 2, 3}) {
		t.Error("short input is never on curve")
	}
}
