package walletsvc

import (
	"net/http"

	"github.com/keycortex/walletd/internal/apierr"
	"github.com/keycortex/walletd/internal/commitment"
)

type proofCommitmentRequest struct {
	WalletAddress string `json:"wallet_address"`
	Challenge     string `json:"challenge"`
	Chain         string `json:"chain"`
	TxHash        string `json:"tx_hash,omitempty"`
}

type proofCommitmentResponse struct {
	Commitment string `json:"commitment"`
}

// ProofCortexCommitment generates the downstream ZK-circuit commitment for
// a wallet's challenge-response outcome.
func (s *Service) ProofCortexCommitment(w http.ResponseWriter, r *http.Request) {
	var req proofCommitmentRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.Write(w, err)
		return
	}
	if req.WalletAddress == "" || req.Challenge == "" || req.Chain == "" {
		apierr.Write(w, apierr.BadRequest("wallet_address, challenge and chain are required"))
		return
	}
	exists, err := s.Keys.WalletExists(req.WalletAddress)
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to check wallet", err))
		return
	}
	if !exists {
		apierr.Write(w, apierr.NotFound("wallet not found"))
		return
	}

	binding, bound, err := s.Repo.LoadBinding(req.WalletAddress)
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to load binding", err))
		return
	}
	verified := bound && binding.VerifiedAt > 0

	c := commitment.Generate(commitment.Input{
		WalletAddress: req.WalletAddress,
		Challenge:     req.Challenge,
		Verified:      verified,
		Chain:         req.Chain,
		TxHash:        req.TxHash,
	})

	s.audit("proofcortex_commitment", req.WalletAddress, "", "success", c)
	writeJSON(w, http.StatusOK, proofCommitmentResponse{Commitment: c})
}

type walletStatusResponse struct {
	Address                string   `json:"address"`
	Exists                 bool     `json:"exists"`
	Bound                  bool     `json:"bound"`
	KeyType                string   `json:"key_type,omitempty"`
	SignatureFrequencyHint string   `json:"signature_frequency_hint"`
	RiskSignals            []string `json:"risk_signals"`
}

// FortressDigitalWalletStatus builds the unauthenticated risk-policy read
// model external systems poll before extending custody-adjacent trust.
func (s *Service) FortressDigitalWalletStatus(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("wallet_address")
	if address == "" {
		apierr.Write(w, apierr.BadRequest("wallet_address query parameter is required"))
		return
	}

	exists, err := s.Keys.WalletExists(address)
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to check wallet", err))
		return
	}

	resp := walletStatusResponse{Address: address, Exists: exists, RiskSignals: []string{}}
	if !exists {
		resp.RiskSignals = append(resp.RiskSignals, "wallet_not_found")
		writeJSON(w, http.StatusOK, resp)
		return
	}

	rec, _, err := s.Keys.GetWalletKey(address)
	if err == nil && rec != nil {
		resp.KeyType = rec.Backend
	}

	binding, bound, err := s.Repo.LoadBinding(address)
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to load binding", err))
		return
	}
	resp.Bound = bound
	if !bound {
		resp.RiskSignals = append(resp.RiskSignals, "wallet_not_bound")
	} else if binding.VerifiedAt == 0 {
		resp.RiskSignals = append(resp.RiskSignals, "never_verified")
	} else if s.Now()-binding.VerifiedAt > int64(24*60*60*1000) {
		resp.RiskSignals = append(resp.RiskSignals, "verification_stale_24h")
	}

	count, err := s.Keys.CountAudit(address)
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to count audit events", err))
		return
	}
	resp.SignatureFrequencyHint = frequencyBucket(count)

	writeJSON(w, http.StatusOK, resp)
}

func frequencyBucket(count int) string {
	switch {
	case count == 0:
		return "none"
	case count < 5:
		return "low"
	case count < 25:
		return "moderate"
	default:
		return "high"
	}
}

type chainDomains struct {
	TxDomainTag    string `json:"tx_domain_tag"`
	AuthDomainTag  string `json:"auth_domain_tag"`
	ProofDomainTag string `json:"proof_domain_tag"`
}

type chainAsset struct {
	Symbol            string `json:"symbol"`
	AssetType         string `json:"asset_type"`
	Decimals          int    `json:"decimals"`
	FeePaymentSupport bool   `json:"fee_payment_support"`
}

type chainConfigResponse struct {
	ChainSlug       string       `json:"chain_slug"`
	ChainIDNumeric  *int         `json:"chain_id_numeric"`
	SignatureScheme string       `json:"signature_scheme"`
	AddressScheme   string       `json:"address_scheme"`
	Domains         chainDomains `json:"domains"`
	Assets          []chainAsset `json:"assets"`
	FinalityRule    string       `json:"finality_rule"`
	Environment     string       `json:"environment"`
}

// ChainConfig returns the stable chain-identity response every client
// bootstraps against. Values are fixed for this single experimental
// chain, matching chain_config.rs field-for-field.
func (s *Service) ChainConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, chainConfigResponse{
		ChainSlug:       "flowcortex",
		ChainIDNumeric:  nil,
		SignatureScheme: "ed25519",
		AddressScheme:   "sha256-truncated-20",
		Domains: chainDomains{
			TxDomainTag:    "keycortex:v1:transaction",
			AuthDomainTag:  "keycortex:v1:auth",
			ProofDomainTag: "keycortex:v1:proof",
		},
		Assets: []chainAsset{
			{Symbol: "native", AssetType: "native", Decimals: 18, FeePaymentSupport: true},
			{Symbol: "usdc-test", AssetType: "fungible-token", Decimals: 6, FeePaymentSupport: false},
		},
		FinalityRule: "deterministic-single-confirmation",
		Environment:  "devnet",
	})
}

type healthResponse struct {
	Status   string         `json:"status"`
	Counters map[string]int64 `json:"counters"`
}

// Health reports process liveness plus the dual-write failure counters.
func (s *Service) Health(w http.ResponseWriter, r *http.Request) {
	c := s.Repo.Snapshot()
	writeJSON(w, http.StatusOK, healthResponse{
		Status: "ok",
		Counters: map[string]int64{
			"postgres_unavailable":        c.PostgresUnavailable,
			"challenge_persist_failures":  c.ChallengePersistFailures,
			"challenge_mark_used_failures": c.ChallengeMarkUsedFailures,
			"binding_write_failures":      c.BindingWriteFailures,
			"binding_read_failures":       c.BindingReadFailures,
			"audit_write_failures":        c.AuditWriteFailures,
			"audit_read_failures":         c.AuditReadFailures,
			"total":                       c.Total,
		},
	})
}

// Readyz reports whether the service is ready to accept traffic. The local
// keystore is mandatory, so readiness just reflects that it opened.
func (s *Service) Readyz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// Startupz reports that initial wiring (config, stores, identity verifier)
// completed without a fatal error.
func (s *Service) Startupz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "started"})
}

const serviceVersion = "0.1.0"

// Version reports the running build's version string.
func (s *Service) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": serviceVersion})
}
