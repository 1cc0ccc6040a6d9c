// Package keycrypto implements the signing, address-derivation, key
// wrapping and passphrase-restore primitives every custodied wallet is
// built from. The shape (a Signer interface, a pubkey-to-address helper,
// an explicit Wipe) follows core/wallet.go; the algorithms themselves
// follow KeyCortex's own domain-tagged scheme rather than the teacher's
// SLIP-10/bip39 derivation.
package keycrypto

import (
	stdecdsa "crypto/ecdsa"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
)

// Purpose tags the domain-separated payload being signed.
type Purpose string

const (
	PurposeTransaction Purpose = "transaction"
	PurposeAuth        Purpose = "auth"
	PurposeProof       Purpose = "proof"
)

const signingDomainPrefix = "keycortex:v1"

// CanonicalSigningInput builds the domain-tagged byte string every Signer
// signs instead of a raw payload, so a signature from one purpose can never
// be replayed as another.
func CanonicalSigningInput(purpose Purpose, payload []byte) []byte {
	prefix := fmt.Sprintf("%s:%s:", signingDomainPrefix, purpose)
	out := make([]byte, 0, len(prefix)+len(payload))
	out = append(out, prefix...)
	out = append(out, payload...)
	return out
}

// Signer is implemented by every supported key backend.
type Signer interface {
	PublicKey() []byte
	Sign(purpose Purpose, payload []byte) ([]byte, error)
	Address() string
	Backend() string
}

// DeriveAddress computes the canonical KeyCortex address for a public key:
// "0x" + lowercase hex of the first 20 bytes of SHA-256(pubkey).
func DeriveAddress(pubKey []byte) string {
	sum := sha256.Sum256(pubKey)
	return "0x" + hex.EncodeToString(sum[:20])
}

// Wipe zeroes a secret byte slice in place. Call on every exit path once a
// secret has been unwrapped or generated transiently.
func Wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// ---- Ed25519 backend ----

type ed25519Signer struct {
	pub  ed25519.PublicKey
	priv ed25519.PrivateKey
}

// NewEd25519Signer generates a fresh random Ed25519 keypair. The returned
// secret is the 32-byte seed that Ed25519SignerFromSeed accepts.
func NewEd25519Signer() (Signer, []byte, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &ed25519Signer{pub: pub, priv: priv}, priv.Seed(), nil
}

// Ed25519SignerFromSeed rebuilds a signer from a 32-byte seed (the unwrapped
// secret read back from the keystore, or the KDF-derived restore seed).
func Ed25519SignerFromSeed(seed []byte) (Signer, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("ed25519 seed must be %d bytes, got %d", ed25519.SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	pub := priv.Public().(ed25519.PublicKey)
	return &ed25519Signer{pub: pub, priv: priv}, nil
}

func (s *ed25519Signer) PublicKey() []byte { return append([]byte(nil), s.pub...) }
func (s *ed25519Signer) Address() string   { return DeriveAddress(s.pub) }
func (s *ed25519Signer) Backend() string   { return "local-ed25519" }

func (s *ed25519Signer) Sign(purpose Purpose, payload []byte) ([]byte, error) {
	input := CanonicalSigningInput(purpose, payload)
	return ed25519.Sign(s.priv, input), nil
}

// ---- secp256k1 backend ----

type secp256k1Signer struct {
	pub  *btcec.PublicKey
	priv *btcec.PrivateKey
}

// NewSecp256k1Signer generates a fresh random secp256k1 keypair.
func NewSecp256k1Signer() (Signer, []byte, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, nil, fmt.Errorf("generate secp256k1 key: %w", err)
	}
	return &secp256k1Signer{pub: priv.PubKey(), priv: priv}, priv.Serialize(), nil
}

// Secp256k1SignerFromSeed rebuilds a signer from a 32-byte raw private key.
func Secp256k1SignerFromSeed(seed []byte) (Signer, error) {
	if len(seed) != 32 {
		return nil, fmt.Errorf("secp256k1 seed must be 32 bytes, got %d", len(seed))
	}
	priv, pub := btcec.PrivKeyFromBytes(seed)
	return &secp256k1Signer{pub: pub, priv: priv}, nil
}

func (s *secp256k1Signer) PublicKey() []byte { return s.pub.SerializeCompressed() }
func (s *secp256k1Signer) Address() string   { return DeriveAddress(s.PublicKey()) }
func (s *secp256k1Signer) Backend() string   { return "local-secp256k1" }

// Sign produces a 64-byte r‖s encoding (not DER) over the domain-tagged
// digest, matching the fixed-width signature layout Ed25519 callers expect.
func (s *secp256k1Signer) Sign(purpose Purpose, payload []byte) ([]byte, error) {
	input := CanonicalSigningInput(purpose, payload)
	digest := sha256.Sum256(input)

	r, sv, err := stdecdsa.Sign(rand.Reader, s.priv.ToECDSA(), digest[:])
	if err != nil {
		return nil, fmt.Errorf("sign secp256k1 digest: %w", err)
	}

	out := make([]byte, 64)
	r.FillBytes(out[0:32])
	sv.FillBytes(out[32:64])
	return out, nil
}

// ---- passphrase-based deterministic restore ----

const (
	kdfSeedPrefix    = "keycortex:wallet-derive:v1:"
	kdfStretchPrefix = "keycortex:stretch:"
	kdfIterations    = 1000
)

// DeriveSeedFromPassphrase runs the deterministic restore KDF: an initial
// SHA-256 over a domain-tagged passphrase, then 1000 rounds of
// SHA-256("keycortex:stretch:" + seed). The final 32 bytes become the
// Ed25519 seed (or raw secp256k1 key) for a restored wallet.
func DeriveSeedFromPassphrase(passphrase string) []byte {
	sum := sha256.Sum256([]byte(kdfSeedPrefix + passphrase))
	seed := sum[:]
	for i := 0; i < kdfIterations; i++ {
		next := sha256.Sum256(append([]byte(kdfStretchPrefix), seed...))
		seed = next[:]
	}
	out := make([]byte, 32)
	copy(out, seed)
	return out
}

// ---- XOR key wrapping ----

var (
	errEmptyWrappingKey  = errors.New("wrapping key must not be empty")
	errCiphertextTooShort = errors.New("ciphertext shorter than plaintext")
)

// keystreamBlock derives the i-th 32-byte keystream block for a wrapping
// key: SHA-256(wrappingKey || little-endian uint64 block index).
func keystreamBlock(wrappingKey []byte, index uint64) [32]byte {
	buf := make([]byte, len(wrappingKey)+8)
	copy(buf, wrappingKey)
	binary.LittleEndian.PutUint64(buf[len(wrappingKey):], index)
	return sha256.Sum256(buf)
}

func xorStream(wrappingKey, data []byte) ([]byte, error) {
	if len(wrappingKey) == 0 {
		return nil, errEmptyWrappingKey
	}
	out := make([]byte, len(data))
	for offset := 0; offset < len(data); offset += 32 {
		block := keystreamBlock(wrappingKey, uint64(offset/32))
		end := offset + 32
		if end > len(data) {
			end = len(data)
		}
		for i := offset; i < end; i++ {
			out[i] = data[i] ^ block[i-offset]
		}
	}
	return out, nil
}

// WrapSecret encrypts a secret under a wrapping key using the stream cipher
// above. The ciphertext is the same length as the plaintext.
func WrapSecret(wrappingKey, secret []byte) ([]byte, error) {
	return xorStream(wrappingKey, secret)
}

// UnwrapSecret reverses WrapSecret. Fails on an empty wrapping key or a
// ciphertext whose length cannot possibly hold the expected secret.
func UnwrapSecret(wrappingKey, ciphertext []byte, expectedLen int) ([]byte, error) {
	if len(wrappingKey) == 0 {
		return nil, errEmptyWrappingKey
	}
	if len(ciphertext) < expectedLen {
		return nil, errCiphertextTooShort
	}
	return xorStream(wrappingKey, ciphertext)
}
