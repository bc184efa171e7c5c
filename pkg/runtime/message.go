package runtime

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	bin "github.com/gagliardetto/binary"

	"github.com/fortiblox/X1-Onering/internal/types"
)

// Message limits.
const (
	MaxSigners                = 16
	MaxInstructions           = 64
	MaxAccountsPerInstruction = 64
	MaxInstructionDataSize    = 1232
)

// Transaction errors.
var (
	ErrNoSigners          = errors.New("transaction has no signers")
	ErrTooManySigners     = errors.New("too many signers")
	ErrNoInstructions     = errors.New("transaction has no instructions")
	ErrTooManyInstrs      = errors.New("too many instructions")
	ErrTooManyAccounts    = errors.New("too many accounts in instruction")
	ErrDataTooLarge       = errors.New("instruction data too large")
	ErrDuplicateSigner    = errors.New("duplicate signer")
	ErrMissingKeypair     = errors.New("no keypair for required signer")
	ErrSignatureCount     = errors.New("signature count does not match signers")
	ErrSignatureFailure   = errors.New("transaction signature verification failure")
	ErrInvalidMessageData = errors.New("invalid message data")
)

// AccountMeta describes an account referenced by an instruction.
type AccountMeta struct {
	Pubkey     types.Pubkey
	IsSigner   bool
	IsWritable bool
}

// NewAccountMeta is a shorthand constructor.
func NewAccountMeta(pubkey types.Pubkey, signer, writable bool) AccountMeta {
	return AccountMeta{Pubkey: pubkey, IsSigner: signer, IsWritable: writable}
}

// Instruction is one program invocation within a transaction.
type Instruction struct {
	ProgramID types.Pubkey
	Accounts  []AccountMeta
	Data      []byte
}

// Message is the signed part of a transaction.
type Message struct {
	// Nonce makes otherwise identical messages sign differently.
	Nonce        uint64
	Signers      []types.Pubkey
	Instructions []Instruction
}

// MarshalWithEncoder writes the message in borsh layout.
func (m *Message) MarshalWithEncoder(encoder *bin.Encoder) error {
	if err := encoder.WriteUint64(m.Nonce, bin.LE); err != nil {
		return err
	}
	if err := encoder.WriteUint32(uint32(len(m.Signers)), bin.LE); err != nil {
		return err
	}
	for _, s := range m.Signers {
		if err := encoder.WriteBytes(s[:], false); err != nil {
			return err
		}
	}
	if err := encoder.WriteUint32(uint32(len(m.Instructions)), bin.LE); err != nil {
		return err
	}
	for _, ix := range m.Instructions {
		if err := encoder.WriteBytes(ix.ProgramID[:], false); err != nil {
			return err
		}
		if err := encoder.WriteUint32(uint32(len(ix.Accounts)), bin.LE); err != nil {
			return err
		}
		for _, meta := range ix.Accounts {
			if err := encoder.WriteBytes(meta.Pubkey[:], false); err != nil {
				return err
			}
			if err := encoder.WriteBool(meta.IsSigner); err != nil {
				return err
			}
			if err := encoder.WriteBool(meta.IsWritable); err != nil {
				return err
			}
		}
		if err := encoder.WriteUint32(uint32(len(ix.Data)), bin.LE); err != nil {
			return err
		}
		if err := encoder.WriteBytes(ix.Data, false); err != nil {
			return err
		}
	}
	return nil
}

// UnmarshalWithDecoder reads a message written by MarshalWithEncoder.
func (m *Message) UnmarshalWithDecoder(decoder *bin.Decoder) (err error) {
	if m.Nonce, err = decoder.ReadUint64(bin.LE); err != nil {
		return err
	}
	numSigners, err := decoder.ReadUint32(bin.LE)
	if err != nil {
		return err
	}
	if numSigners > MaxSigners {
		return ErrTooManySigners
	}
	m.Signers = make([]types.Pubkey, numSigners)
	for i := range m.Signers {
		if m.Signers[i], err = readPubkey(decoder); err != nil {
			return err
		}
	}

	numInstrs, err := decoder.ReadUint32(bin.LE)
	if err != nil {
		return err
	}
	if numInstrs > MaxInstructions {
		return ErrTooManyInstrs
	}
	m.Instructions = make([]Instruction, numInstrs)
	for i := range m.Instructions {
		ix := &m.Instructions[i]
		if ix.ProgramID, err = readPubkey(decoder); err != nil {
			return err
		}
		numAccounts, err := decoder.ReadUint32(bin.LE)
		if err != nil {
			return err
		}
		if numAccounts > MaxAccountsPerInstruction {
			return ErrTooManyAccounts
		}
		ix.Accounts = make([]AccountMeta, numAccounts)
		for j := range ix.Accounts {
			meta := &ix.Accounts[j]
			if meta.Pubkey, err = readPubkey(decoder); err != nil {
				return err
			}
			if meta.IsSigner, err = decoder.ReadBool(); err != nil {
				return err
			}
			if meta.IsWritable, err = decoder.ReadBool(); err != nil {
				return err
			}
		}
		dataLen, err := decoder.ReadUint32(bin.LE)
		if err != nil {
			return err
		}
		if dataLen > MaxInstructionDataSize {
			return ErrDataTooLarge
		}
		data, err := decoder.ReadBytes(int(dataLen))
		if err != nil {
			return err
		}
		ix.Data = append([]byte(nil), data...)
	}
	return nil
}

func readPubkey(decoder *bin.Decoder) (types.Pubkey, error) {
	var pk types.Pubkey
	b, err := decoder.ReadBytes(types.PubkeySize)
	if err != nil {
		return pk, err
	}
	copy(pk[:], b)
	return pk, nil
}

// Serialize returns the bytes covered by the transaction signatures.
func (m *Message) Serialize() []byte {
	buf := new(bytes.Buffer)
	if err := m.MarshalWithEncoder(bin.NewBorshEncoder(buf)); err != nil {
		panic("shouldn't fail")
	}
	return buf.Bytes()
}

// DeserializeMessage decodes a serialized message.
func DeserializeMessage(data []byte) (*Message, error) {
	var m Message
	decoder := bin.NewBorshDecoder(data)
	if err := m.UnmarshalWithDecoder(decoder); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessageData, err)
	}
	if decoder.Remaining() > 0 {
		return nil, fmt.Errorf("%w: trailing bytes", ErrInvalidMessageData)
	}
	return &m, nil
}

// Sanitize checks structural limits. It does not verify signatures.
func (m *Message) Sanitize() error {
	if len(m.Signers) == 0 {
		return ErrNoSigners
	}
	if len(m.Signers) > MaxSigners {
		return ErrTooManySigners
	}
	seen := make(map[types.Pubkey]struct{}, len(m.Signers))
	for _, s := range m.Signers {
		if _, dup := seen[s]; dup {
			return ErrDuplicateSigner
		}
		seen[s] = struct{}{}
	}
	if len(m.Instructions) == 0 {
		return ErrNoInstructions
	}
	if len(m.Instructions) > MaxInstructions {
		return ErrTooManyInstrs
	}
	for _, ix := range m.Instructions {
		if len(ix.Accounts) > MaxAccountsPerInstruction {
			return ErrTooManyAccounts
		}
		if len(ix.Data) > MaxInstructionDataSize {
			return ErrDataTooLarge
		}
	}
	return nil
}

// Transaction is a message plus one signature per signer, in signer order.
type Transaction struct {
	Message    Message
	Signatures []types.Signature
}

// NewTransaction builds and signs a transaction. The first keypair's
// signature identifies the transaction.
func NewTransaction(instructions []Instruction, signers ...*types.Keypair) (*Transaction, error) {
	var nonce [8]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}

	tx := &Transaction{
		Message: Message{
			Nonce:        binary.LittleEndian.Uint64(nonce[:]),
			Instructions: instructions,
		},
	}
	seen := make(map[types.Pubkey]struct{}, len(signers))
	for _, kp := range signers {
		if _, dup := seen[kp.Pubkey()]; dup {
			continue
		}
		seen[kp.Pubkey()] = struct{}{}
		tx.Message.Signers = append(tx.Message.Signers, kp.Pubkey())
	}
	if err := tx.Sign(signers...); err != nil {
		return nil, err
	}
	return tx, nil
}

// Sign (re)computes every signature from the given keypairs.
func (tx *Transaction) Sign(keypairs ...*types.Keypair) error {
	byKey := make(map[types.Pubkey]*types.Keypair, len(keypairs))
	for _, kp := range keypairs {
		byKey[kp.Pubkey()] = kp
	}

	msg := tx.Message.Serialize()
	sigs := make([]types.Signature, len(tx.Message.Signers))
	for i, signer := range tx.Message.Signers {
		kp, ok := byKey[signer]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingKeypair, signer)
		}
		sigs[i] = kp.Sign(msg)
	}
	tx.Signatures = sigs
	return nil
}

// Signature returns the first signature, which identifies the transaction.
func (tx *Transaction) Signature() types.Signature {
	if len(tx.Signatures) == 0 {
		return types.Signature{}
	}
	return tx.Signatures[0]
}

// VerifySignatures checks every signature against the serialized message.
func (tx *Transaction) VerifySignatures() error {
	if len(tx.Signatures) != len(tx.Message.Signers) {
		return ErrSignatureCount
	}
	msg := tx.Message.Serialize()
	for i, signer := range tx.Message.Signers {
		if !tx.Signatures[i].Verify(signer, msg) {
			return fmt.Errorf("%w: signer %s", ErrSignatureFailure, signer)
		}
	}
	return nil
}

// Serialize returns the wire form of the transaction: the serialized message
// followed by a u32 signature count and the signatures.
func (tx *Transaction) Serialize() []byte {
	buf := new(bytes.Buffer)
	encoder := bin.NewBorshEncoder(buf)
	if err := tx.Message.MarshalWithEncoder(encoder); err != nil {
		panic("shouldn't fail")
	}
	if err := encoder.WriteUint32(uint32(len(tx.Signatures)), bin.LE); err != nil {
		panic("shouldn't fail")
	}
	for _, sig := range tx.Signatures {
		if err := encoder.WriteBytes(sig[:], false); err != nil {
			panic("shouldn't fail")
		}
	}
	return buf.Bytes()
}

// DeserializeTransaction decodes a transaction written by Serialize. It does
// not verify signatures.
func DeserializeTransaction(data []byte) (*Transaction, error) {
	var tx Transaction
	decoder := bin.NewBorshDecoder(data)
	if err := tx.Message.UnmarshalWithDecoder(decoder); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessageData, err)
	}
	numSigs, err := decoder.ReadUint32(bin.LE)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessageData, err)
	}
	if numSigs > MaxSigners {
		return nil, ErrTooManySigners
	}
	tx.Signatures = make([]types.Signature, numSigs)
	for i := range tx.Signatures {
		b, err := decoder.ReadBytes(types.SignatureSize)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidMessageData, err)
		}
		copy(tx.Signatures[i][:], b)
	}
	if decoder.Remaining() > 0 {
		return nil, fmt.Errorf("%w: trailing bytes", ErrInvalidMessageData)
	}
	return &tx, nil
}
