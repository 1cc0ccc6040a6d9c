package commitment

import "testing"

func TestGenerateDeterministic(t *testing.T) {
	in := Input{WalletAddress: "0xabc", Challenge: "chal-1", Verified: true, Chain: "flowcortex"}
	a := Generate(in)
	b := Generate(in)
	if a != b {
		t.Fatalf("commitment not deterministic: %s != %s", a, b)
	}
	if len(a) != 64 {
		t.Fatalf("commitment length = %d, want 64 hex chars", len(a))
	}
}

func TestGenerateVariesWithVerifiedFlag(t *testing.T) {
	base := Input{WalletAddress: "0xabc", Challenge: "chal-1", Chain: "flowcortex"}
	verified := base
	verified.Verified = true
	unverified := base
	unverified.Verified = false

	if Generate(verified) == Generate(unverified) {
		t.Fatal("commitment should differ between verified and unverified")
	}
}

func TestGenerateIncludesTxHashWhenPresent(t *testing.T) {
	withTx := Input{WalletAddress: "0xabc", Challenge: "chal-1", Chain: "flowcortex", TxHash: "txn_1"}
	withoutTx := Input{WalletAddress: "0xabc", Challenge: "chal-1", Chain: "flowcortex"}

	if Generate(withTx) == Generate(withoutTx) {
		t.Fatal("commitment should differ when tx hash is included")
	}
}
