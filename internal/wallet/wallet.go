// Package wallet signs backend request messages with the user's Ethereum
// key, the way personal_sign does it:
//
//	keccak256("\x19Ethereum Signed Message:\n" + len(msg) + msg)
//
// signed with secp256k1. Signatures travel as 0x-prefixed hex of the 65-byte
// r || s || v form with v in {27, 28}, so any ecrecover-based verifier can
// recover the signer's address.
package wallet

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
	"golang.org/x/crypto/sha3"
)

// ErrNoKey is returned when no signing key is configured or present on disk.
var ErrNoKey = errors.New("wallet: no signing key")

// ErrBadSignature is returned when a signature cannot be decoded or recovered.
var ErrBadSignature = errors.New("wallet: invalid signature")

const (
	messagePrefix = "\x19Ethereum Signed Message:\n"
	keySize       = 32
	signatureSize = 65
)

type Signer struct {
	priv *secp256k1.PrivateKey
}

// NewSigner builds a signer from a 32-byte secp256k1 private key.
func NewSigner(key []byte) (*Signer, error) {
	if len(key) != keySize {
		return nil, fmt.Errorf("wallet: key must be %d bytes, got %d", keySize, len(key))
	}
	var scalar secp256k1.ModNScalar
	if overflow := scalar.SetByteSlice(key); overflow || scalar.IsZero() {
		return nil, errors.New("wallet: key is out of range")
	}
	return &Signer{priv: secp256k1.NewPrivateKey(&scalar)}, nil
}

// LoadKey reads a hex-encoded private key from path. A missing file or empty
// path yields ErrNoKey.
func LoadKey(path string) (*Signer, error) {
	if strings.TrimSpace(path) == "" {
		return nil, ErrNoKey
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNoKey
		}
		return nil, fmt.Errorf("wallet: read key: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(string(raw)), "0x"))
	if err != nil {
		return nil, fmt.Errorf("wallet: decode key: %w", err)
	}
	return NewSigner(key)
}

// GenerateKey creates a new random key and writes it to path (0600).
func GenerateKey(path string) (*Signer, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("wallet: generate key: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("wallet: create key dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(priv.Serialize())+"\n"), 0o600); err != nil {
		return nil, fmt.Errorf("wallet: write key: %w", err)
	}
	return &Signer{priv: priv}, nil
}

// LoadOrGenerate loads the key at path, creating one when the file does not
// exist yet.
func LoadOrGenerate(path string) (*Signer, error) {
	s, err := LoadKey(path)
	if errors.Is(err, ErrNoKey) && strings.TrimSpace(path) != "" {
		return GenerateKey(path)
	}
	return s, err
}

// Digest returns the keccak-256 hash of the prefixed message.
func Digest(message string) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(messagePrefix))
	h.Write([]byte(strconv.Itoa(len(message))))
	h.Write([]byte(message))
	return h.Sum(nil)
}

// SignMessage returns the hex r || s || v signature of message. A nil Signer
// returns ErrNoKey.
func (s *Signer) SignMessage(message string) (string, error) {
	if s == nil || s.priv == nil {
		return "", ErrNoKey
	}
	// SignCompact yields v || r || s with v = 27 + recovery id for
	// uncompressed keys.
	compact := ecdsa.SignCompact(s.priv, Digest(message), false)
	sig := make([]byte, 0, signatureSize)
	sig = append(sig, compact[1:]...)
	sig = append(sig, compact[0])
	return "0x" + hex.EncodeToString(sig), nil
}

// PublicKey returns the hex-encoded uncompressed public key.
func (s *Signer) PublicKey() string {
	return "0x" + hex.EncodeToString(s.priv.PubKey().SerializeUncompressed())
}

// Address is the signer's Ethereum address, lowercase.
func (s *Signer) Address() string {
	return addressOf(s.priv.PubKey())
}

func addressOf(pub *secp256k1.PublicKey) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(pub.SerializeUncompressed()[1:])
	return "0x" + hex.EncodeToString(h.Sum(nil)[12:])
}

// RecoverAddress returns the address that produced signature over message.
// Both v in {27, 28} and the raw recovery id {0, 1} are accepted.
func RecoverAddress(message, signature string) (string, error) {
	sig, err := hex.DecodeString(strings.TrimPrefix(signature, "0x"))
	if err != nil || len(sig) != signatureSize {
		return "", ErrBadSignature
	}
	v := sig[64]
	if v < 27 {
		v += 27
	}
	if v != 27 && v != 28 {
		return "", ErrBadSignature
	}
	compact := make([]byte, 0, signatureSize)
	compact = append(compact, v)
	compact = append(compact, sig[:64]...)
	pub, _, err := ecdsa.RecoverCompact(compact, Digest(message))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	return addressOf(pub), nil
}

// Verify reports whether signature over message was made by address.
func Verify(address, message, signature string) bool {
	got, err := RecoverAddress(message, signature)
	if err != nil {
		return false
	}
	return strings.EqualFold(got, address)
}
