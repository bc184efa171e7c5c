package types

import (
	"bytes"
	"testing"
)

func TestPubkeyBase58RoundTrip(t *testing.T) {
	p := TokenProgramAddr
	parsed, err := PubkeyFromBase58(p.String())
	if err != nil {
		t.Fatalf("PubkeyFromBase58 failed: %v", err)
	}
	if parsed != p {
		t.Errorf("round trip mismatch: got %s, want %s", parsed, p)
	}

	if _, err := PubkeyFromBase58("abc"); err == nil {
		t.Error("expected error for short pubkey")
	}
	if _, err := PubkeyFromBytes(make([]byte, 31)); err != ErrInvalidPubkey {
		t.Errorf("PubkeyFromBytes: got %v, want ErrInvalidPubkey", err)
	}
}

func TestPubkeyText(t *testing.T) {
	text, err := OneringProgramAddr.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}
	var p Pubkey
	if err := p.UnmarshalText(text); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if p != OneringProgramAddr {
		t.Errorf("got %s, want %s", p, OneringProgramAddr)
	}
}

func TestSystemProgramIsZero(t *testing.T) {
	if !SystemProgramAddr.IsZero() {
		t.Error("system program address should be all zeros")
	}
	if TokenProgramAddr.IsZero() {
		t.Error("token program address should not be zero")
	}
	if !IsNativeProgram(OneringProgramAddr) {
		t.Error("onering program should be native")
	}
}

func TestKeypairSignVerify(t *testing.T) {
	kp, err := KeypairFromSeed(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatalf("KeypairFromSeed failed: %v", err)
	}
	msg := []byte("mint 100")
	sig := kp.Sign(msg)
	if !sig.Verify(kp.Pubkey(), msg) {
		t.Error("signature should verify")
	}
	if sig.Verify(kp.Pubkey(), []byte("mint 101")) {
		t.Error("signature should not verify a different message")
	}

	other := MustNewKeypair()
	if sig.Verify(other.Pubkey(), msg) {
		t.Error("signature should not verify under another key")
	}

	again, _ := KeypairFromSeed(bytes.Repeat([]byte{7}, 32))
	if again.Pubkey() != kp.Pubkey() {
		t.Error("same seed should give same pubkey")
	}
}

func TestPubkeyLess(t *testing.T) {
	a := Pubkey{1}
	b := Pubkey{2}
	if !a.Less(b) || b.Less(a) || a.Less(a) {
		t.Error("Less ordering is wrong")
	}
}
