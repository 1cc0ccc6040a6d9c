// Package commitment generates the ProofCortex cryptographic commitments
// downstream ZK circuits consume. Grounded field-for-field on
// proofcortex.rs's proofcortex_commitment handler.
package commitment

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const domainTag = "keycortex:proof:v1"

// Input is everything a commitment is derived from.
type Input struct {
	WalletAddress string
	Challenge     string
	Verified      bool
	Chain         string
	TxHash        string // optional; included only when non-empty
}

// Generate computes the commitment hex digest:
// hex(SHA256("keycortex:proof:v1" : wallet_address : challenge :
// "verified"|"unverified" : chain [: tx_hash])).
func Generate(in Input) string {
	verifiedTag := "unverified"
	if in.Verified {
		verifiedTag = "verified"
	}

	parts := []string{domainTag, in.WalletAddress, in.Challenge, verifiedTag, in.Chain}
	if in.TxHash != "" {
		parts = append(parts, in.TxHash)
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, ":")))
	return hex.EncodeToString(sum[:])
}
