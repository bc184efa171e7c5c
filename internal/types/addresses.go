package types

import "fmt"

// Program addresses known to the ledger runtime.
var (
	// SystemProgramAddr is the System Program address. Accounts nobody owns yet carry it.
	SystemProgramAddr = MustPubkeyFromBase58("11111111111111111111111111111111")

	// TokenProgramAddr owns every mint and token account.
	TokenProgramAddr = MustPubkeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")

	// OneringProgramAddr owns the global state, market and reserve records.
	OneringProgramAddr = MustPubkeyFromBase58("RNGF2q87ouXMQGTxgcFPrxdUC2SFTx9HoBvhCSfpuUd")
)

// MustPubkeyFromBase58 parses a base58 pubkey or panics.
// Only use for compile-time constants.
func MustPubkeyFromBase58(s string) Pubkey {
	p, err := PubkeyFromBase58(s)
	if err != nil {
		panic(fmt.Sprintf("invalid pubkey constant %q: %v", s, err))
	}
	return p
}

// IsNativeProgram returns true if the pubkey is a program built into the runtime.
func IsNativeProgram(p Pubkey) bool {
	switch p {
	case SystemProgramAddr,
		TokenProgramAddr,
		OneringProgramAddr:
		return true
	default:
		return false
	}
}
