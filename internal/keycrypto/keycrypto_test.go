package keycrypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"strings"
	"testing"
)

func TestDeriveAddressFormat(t *testing.T) {
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := DeriveAddress(pub)
	if !strings.HasPrefix(addr, "0x") {
		t.Fatalf("address %q missing 0x prefix", addr)
	}
	if len(addr) != 2+40 {
		t.Fatalf("address %q wrong length, want %d hex chars after 0x", addr, 40)
	}
	if _, err := hex.DecodeString(addr[2:]); err != nil {
		t.Fatalf("address body not hex: %v", err)
	}
}

func TestEd25519SignVerifyRoundTrip(t *testing.T) {
	signer, seed, err := NewEd25519Signer()
	if err != nil {
		t.Fatalf("NewEd25519Signer: %v", err)
	}
	defer Wipe(seed)

	payload := []byte("transfer 10 units")
	sig, err := signer.Sign(PurposeTransaction, payload)
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	input := CanonicalSigningInput(PurposeTransaction, payload)
	if !ed25519.Verify(signer.PublicKey(), input, sig) {
		t.Fatal("signature failed verification")
	}

	// A signature for a different purpose over the same payload must not verify.
	otherInput := CanonicalSigningInput(PurposeAuth, payload)
	if ed25519.Verify(signer.PublicKey(), otherInput, sig) {
		t.Fatal("signature verified against wrong purpose tag")
	}
}

func TestDeriveSeedFromPassphraseDeterministic(t *testing.T) {
	a := DeriveSeedFromPassphrase("correct horse battery staple")
	b := DeriveSeedFromPassphrase("correct horse battery staple")
	if hex.EncodeToString(a) != hex.EncodeToString(b) {
		t.Fatal("same passphrase produced different seeds")
	}

	c := DeriveSeedFromPassphrase("different passphrase")
	if hex.EncodeToString(a) == hex.EncodeToString(c) {
		t.Fatal("different passphrases produced the same seed")
	}
}

func TestRestoreTwiceYieldsSameAddress(t *testing.T) {
	seed1 := DeriveSeedFromPassphrase("my recovery phrase")
	signer1, err := Ed25519SignerFromSeed(seed1)
	if err != nil {
		t.Fatalf("Ed25519SignerFromSeed: %v", err)
	}

	seed2 := DeriveSeedFromPassphrase("my recovery phrase")
	signer2, err := Ed25519SignerFromSeed(seed2)
	if err != nil {
		t.Fatalf("Ed25519SignerFromSeed: %v", err)
	}

	if signer1.Address() != signer2.Address() {
		t.Fatalf("restore not idempotent: %s != %s", signer1.Address(), signer2.Address())
	}
}

func TestWrapUnwrapRoundTrip(t *testing.T) {
	key := []byte("a wrapping key of arbitrary length")
	secret := make([]byte, 32)
	for i := range secret {
		secret[i] = byte(i)
	}

	ciphertext, err := WrapSecret(key, secret)
	if err != nil {
		t.Fatalf("WrapSecret: %v", err)
	}
	if len(ciphertext) != len(secret) {
		t.Fatalf("ciphertext length = %d, want %d", len(ciphertext), len(secret))
	}

	plaintext, err := UnwrapSecret(key, ciphertext, len(secret))
	if err != nil {
		t.Fatalf("UnwrapSecret: %v", err)
	}
	for i := range secret {
		if plaintext[i] != secret[i] {
			t.Fatalf("byte %d mismatch: got %x want %x", i, plaintext[i], secret[i])
		}
	}
}

func TestWrapRejectsEmptyKey(t *testing.T) {
	if _, err := WrapSecret(nil, []byte("secret")); err == nil {
		t.Fatal("expected error wrapping with empty key")
	}
	if _, err := UnwrapSecret(nil, []byte("secret"), 6); err == nil {
		t.Fatal("expected error unwrapping with empty key")
	}
}

func TestUnwrapRejectsShortCiphertext(t *testing.T) {
	key := []byte("key")
	if _, err := UnwrapSecret(key, []byte("ab"), 32); err == nil {
		t.Fatal("expected error unwrapping ciphertext shorter than expected secret")
	}
}

func TestSecp256k1SignVerifyRoundTrip(t *testing.T) {
	signer, seed, err := NewSecp256k1Signer()
	if err != nil {
		t.Fatalf("NewSecp256k1Signer: %v", err)
	}
	rebuilt, err := Secp256k1SignerFromSeed(seed)
	if err != nil {
		t.Fatalf("Secp256k1SignerFromSeed: %v", err)
	}
	if signer.Address() != rebuilt.Address() {
		t.Fatalf("rebuilt signer address mismatch: %s != %s", signer.Address(), rebuilt.Address())
	}

	sig, err := signer.Sign(PurposeAuth, []byte("challenge-bytes"))
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if len(sig) != 64 {
		t.Fatalf("signature length = %d, want 64", len(sig))
	}
}
