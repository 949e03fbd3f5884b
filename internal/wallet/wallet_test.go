package wallet

import (
	"bytes"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := NewSigner(bytes.Repeat([]byte{7}, 32))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	return s
}

func TestSignAndVerify(t *testing.T) {
	s := testSigner(t)
	msg := "Add bookmark for user 42: luma/evt-1"

	sig, err := s.SignMessage(msg)
	if err != nil {
		t.Fatalf("SignMessage: %v", err)
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	if !strings.HasPrefix(sig, "0x") || err != nil || len(raw) != 65 {
		t.Fatalf("unexpected signature shape %q", sig)
	}
	if v := raw[64]; v != 27 && v != 28 {
		t.Fatalf("v = %d, want 27 or 28", v)
	}
	again, _ := s.SignMessage(msg)
	if sig != again {
		t.Fatalf("signatures should be deterministic")
	}

	addr, err := RecoverAddress(msg, sig)
	if err != nil {
		t.Fatalf("RecoverAddress: %v", err)
	}
	if addr != s.Address() {
		t.Fatalf("recovered %s, want %s", addr, s.Address())
	}
	if !Verify(s.Address(), msg, sig) {
		t.Fatalf("signature did not verify")
	}
	if !Verify("0x"+strings.ToUpper(s.Address()[2:]), msg, sig) {
		t.Fatalf("address comparison should ignore case")
	}
	if Verify(s.Address(), msg+"!", sig) {
		t.Fatalf("signature verified for a different message")
	}
}

func TestRecoverAcceptsRawRecoveryID(t *testing.T) {
	s := testSigner(t)
	sig, _ := s.SignMessage("hello")
	raw, _ := hex.DecodeString(strings.TrimPrefix(sig, "0x"))
	raw[64] -= 27

	addr, err := RecoverAddress("hello", hex.EncodeToString(raw))
	if err != nil || addr != s.Address() {
		t.Fatalf("addr=%s err=%v", addr, err)
	}

	raw[64] = 5
	if _, err := RecoverAddress("hello", hex.EncodeToString(raw)); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("err = %v, want ErrBadSignature", err)
	}
	if _, err := RecoverAddress("hello", "0x1234"); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("short signature: err = %v", err)
	}
}

func TestAddressKnownKey(t *testing.T) {
	key := make([]byte, 32)
	key[31] = 1
	s, err := NewSigner(key)
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	const want = "0x7e5f4552091a69125d5dfcb7b8c2659029395bdf"
	if got := s.Address(); got != want {
		t.Fatalf("Address = %s, want %s", got, want)
	}
	if pub := s.PublicKey(); !strings.HasPrefix(pub, "0x04") || len(pub) != 2+130 {
		t.Fatalf("PublicKey = %s, want uncompressed point", pub)
	}
	if _, err := NewSigner(make([]byte, 32)); err == nil {
		t.Fatalf("zero key accepted")
	}
}

func TestDigestKnownVector(t *testing.T) {
	// keccak256("\x19Ethereum Signed Message:\n5hello")
	const want = "50b2c43fd39106bafbba0da34fc430e1f91e3c96ea2acee2bc34119f92b37750"
	if got := hex.EncodeToString(Digest("hello")); got != want {
		t.Fatalf("Digest = %s, want %s", got, want)
	}
}

func TestNilSignerHasNoKey(t *testing.T) {
	var s *Signer
	if _, err := s.SignMessage("x"); !errors.Is(err, ErrNoKey) {
		t.Fatalf("err = %v, want ErrNoKey", err)
	}
}

func TestLoadKey(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadKey(""); !errors.Is(err, ErrNoKey) {
		t.Fatalf("empty path: err = %v", err)
	}
	if _, err := LoadKey(filepath.Join(dir, "missing")); !errors.Is(err, ErrNoKey) {
		t.Fatalf("missing file: err = %v", err)
	}

	path := filepath.Join(dir, "keys", "wallet.key")
	created, err := LoadOrGenerate(path)
	if err != nil {
		t.Fatalf("LoadOrGenerate: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("key mode = %v, want 0600", info.Mode().Perm())
	}

	loaded, err := LoadKey(path)
	if err != nil {
		t.Fatalf("LoadKey: %v", err)
	}
	if loaded.Address() != created.Address() {
		t.Fatalf("address changed across reload")
	}

	bad := filepath.Join(dir, "bad.key")
	os.WriteFile(bad, []byte("zz"), 0o600)
	if _, err := LoadKey(bad); err == nil || errors.Is(err, ErrNoKey) {
		t.Fatalf("expected decode error, got %v", err)
	}
}
