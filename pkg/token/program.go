package token

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Onering/internal/types"
	"github.com/fortiblox/X1-Onering/pkg/runtime"
)

// Instruction discriminants.
const (
	InstructionInitializeMint uint8 = iota
	InstructionInitializeAccount
	InstructionMintTo
	InstructionTransfer
	InstructionBurn
)

var instructionNames = map[uint8]string{
	InstructionInitializeMint:    "initialize_mint",
	InstructionInitializeAccount: "initialize_account",
	InstructionMintTo:            "mint_to",
	InstructionTransfer:          "transfer",
	InstructionBurn:              "burn",
}

// Program is the native token program.
type Program struct{}

// NewProgram creates the token program.
func NewProgram() *Program {
	return &Program{}
}

// ID implements runtime.Program.
func (p *Program) ID() types.Pubkey {
	return types.TokenProgramAddr
}

// InstructionName implements runtime.Program.
func (p *Program) InstructionName(data []byte) string {
	if len(data) > 0 {
		if name, ok := instructionNames[data[0]]; ok {
			return "token." + name
		}
	}
	return "token.unknown"
}

// Process executes a token instruction.
//
// Account layouts:
//
//	initialize_mint     [mint(s,w)]
//	initialize_account  [account(s,w), mint, owner]
//	mint_to             [mint(w), destination(w), mint_authority(s)]
//	transfer            [source(w), destination(w), owner(s)]
//	burn                [source(w), mint(w), owner(s)]
func (p *Program) Process(ctx *runtime.InvokeContext, data []byte) error {
	if len(data) == 0 {
		return ErrInvalidInstruction
	}
	decoder := bin.NewBorshDecoder(data[1:])
	ledger := NewLedger(ctx, ctx)

	keys := func(n int) ([]types.Pubkey, error) {
		out := make([]types.Pubkey, n)
		for i := range out {
			k, err := ctx.Key(i)
			if err != nil {
				return nil, err
			}
			out[i] = k
		}
		return out, nil
	}

	switch data[0] {
	case InstructionInitializeMint:
		k, err := keys(1)
		if err != nil {
			return err
		}
		decimals, err := decoder.ReadUint8()
		if err != nil {
			return ErrInvalidInstruction
		}
		b, err := decoder.ReadBytes(types.PubkeySize)
		if err != nil {
			return ErrInvalidInstruction
		}
		authority, _ := types.PubkeyFromBytes(b)
		if !ctx.IsSigner(k[0]) {
			return fmt.Errorf("%w: %s", ErrMissingSignature, k[0])
		}
		ctx.Log("Instruction: InitializeMint")
		return ledger.InitializeMint(k[0], decimals, authority)

	case InstructionInitializeAccount:
		k, err := keys(3)
		if err != nil {
			return err
		}
		if !ctx.IsSigner(k[0]) {
			return fmt.Errorf("%w: %s", ErrMissingSignature, k[0])
		}
		ctx.Log("Instruction: InitializeAccount")
		return ledger.CreateAccount(k[0], k[1], k[2])

	case InstructionMintTo, InstructionTransfer, InstructionBurn:
		k, err := keys(3)
		if err != nil {
			return err
		}
		amount, err := decoder.ReadUint64(bin.LE)
		if err != nil {
			return ErrInvalidInstruction
		}
		switch data[0] {
		case InstructionMintTo:
			ctx.Log("Instruction: MintTo")
			return ledger.MintTo(k[0], k[1], amount, k[2])
		case InstructionTransfer:
			ctx.Log("Instruction: Transfer")
			return ledger.Transfer(k[0], k[1], amount, k[2])
		default:
			ctx.Log("Instruction: Burn")
			return ledger.Burn(k[1], k[0], amount, k[2])
		}
	}
	return ErrInvalidInstruction
}

func instruction(tag uint8, write func(*bin.Encoder) error, metas ...runtime.AccountMeta) runtime.Instruction {
	buf := new(bytes.Buffer)
	encoder := bin.NewBorshEncoder(buf)
	if err := encoder.WriteUint8(tag); err != nil {
		panic("shouldn't fail")
	}
	if write != nil {
		if err := write(encoder); err != nil {
			panic("shouldn't fail")
		}
	}
	return runtime.Instruction{
		ProgramID: types.TokenProgramAddr,
		Accounts:  metas,
		Data:      buf.Bytes(),
	}
}

func writeAmount(amount uint64) func(*bin.Encoder) error {
	return func(e *bin.Encoder) error { return e.WriteUint64(amount, bin.LE) }
}

// NewInitializeMintInstruction creates a mint. The mint key must sign.
func NewInitializeMintInstruction(mint types.Pubkey, decimals uint8, authority types.Pubkey) runtime.Instruction {
	return instruction(InstructionInitializeMint, func(e *bin.Encoder) error {
		if err := e.WriteUint8(decimals); err != nil {
			return err
		}
		return e.WriteBytes(authority[:], false)
	}, runtime.NewAccountMeta(mint, true, true))
}

// NewInitializeAccountInstruction creates a token account. The account key must sign.
func NewInitializeAccountInstruction(account, mint, owner types.Pubkey) runtime.Instruction {
	return instruction(InstructionInitializeAccount, nil,
		runtime.NewAccountMeta(account, true, true),
		runtime.NewAccountMeta(mint, false, false),
		runtime.NewAccountMeta(owner, false, false),
	)
}

// NewMintToInstruction mints amount into destination.
func NewMintToInstruction(mint, destination, authority types.Pubkey, amount uint64) runtime.Instruction {
	return instruction(InstructionMintTo, writeAmount(amount),
		runtime.NewAccountMeta(mint, false, true),
		runtime.NewAccountMeta(destination, false, true),
		runtime.NewAccountMeta(authority, true, false),
	)
}

// NewTransferInstruction moves amount from source to destination.
func NewTransferInstruction(source, destination, owner types.Pubkey, amount uint64) runtime.Instruction {
	return instruction(InstructionTransfer, writeAmount(amount),
		runtime.NewAccountMeta(source, false, true),
		runtime.NewAccountMeta(destination, false, true),
		runtime.NewAccountMeta(owner, true, false),
	)
}

// NewBurnInstruction destroys amount held in source.
func NewBurnInstruction(source, mint, owner types.Pubkey, amount uint64) runtime.Instruction {
	return instruction(InstructionBurn, writeAmount(amount),
		runtime.NewAccountMeta(source, false, true),
		runtime.NewAccountMeta(mint, false, true),
		runtime.NewAccountMeta(owner, true, false),
	)
}

var _ runtime.Program = (*Program)(nil)
