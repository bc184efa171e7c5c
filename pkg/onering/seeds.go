package onering

import (
	"github.com/fortiblox/X1-Onering/internal/types"
	"github.com/fortiblox/X1-Onering/pkg/pda"
)

// Seed tags.
var (
	MintAuthSeed    = []byte("or_ousd_mint_auth")
	StableVaultSeed = []byte("or_stable_vault")
	ReserveSeed     = []byte("or_reserve")
)

// MintAuthoritySeeds are the seeds of the synthetic mint authority.
func MintAuthoritySeeds(globalState types.Pubkey) [][]byte {
	return [][]byte{MintAuthSeed, globalState.Bytes()}
}

// VaultAuthoritySeeds are the seeds of the address that owns every vault.
func VaultAuthoritySeeds(globalState types.Pubkey) [][]byte {
	return [][]byte{StableVaultSeed, globalState.Bytes()}
}

// VaultSeeds are the seeds of a market's collateral vault.
func VaultSeeds(collateralMint, market types.Pubkey) [][]byte {
	return [][]byte{collateralMint.Bytes(), StableVaultSeed, market.Bytes()}
}

// ReserveSeeds are the seeds of a user's reserve.
func ReserveSeeds(owner, globalState types.Pubkey) [][]byte {
	return [][]byte{owner.Bytes(), ReserveSeed, globalState.Bytes()}
}

func withBump(seeds [][]byte, bump uint8) [][]byte {
	return append(append([][]byte(nil), seeds...), []byte{bump})
}

// Addresses holds the derived authority addresses of one deployment.
type Addresses struct {
	ProgramID      types.Pubkey
	GlobalState    types.Pubkey
	MintAuthority  types.Pubkey
	MintAuthBump   uint8
	VaultAuthority types.Pubkey
	VaultAuthBump  uint8
}

// DeriveAddresses finds the canonical authority addresses for globalState.
func DeriveAddresses(programID, globalState types.Pubkey) (*Addresses, error) {
	mintAuth, mintBump, err := pda.FindProgramAddress(MintAuthoritySeeds(globalState), programID)
	if err != nil {
		return nil, err
	}
	vaultAuth, vaultBump, err := pda.FindProgramAddress(VaultAuthoritySeeds(globalState), programID)
	if err != nil {
		return nil, err
	}
	return &Addresses{
		ProgramID:      programID,
		GlobalState:    globalState,
		MintAuthority:  mintAuth,
		MintAuthBump:   mintBump,
		VaultAuthority: vaultAuth,
		VaultAuthBump:  vaultBump,
	}, nil
}

// Vault finds the canonical vault address for a market.
func (a *Addresses) Vault(collateralMint, market types.Pubkey) (types.Pubkey, uint8, error) {
	return pda.FindProgramAddress(VaultSeeds(collateralMint, market), a.ProgramID)
}

// Reserve finds the canonical reserve address for owner.
func (a *Addresses) Reserve(owner types.Pubkey) (types.Pubkey, uint8, error) {
	return pda.FindProgramAddress(ReserveSeeds(owner, a.GlobalState), a.ProgramID)
}
