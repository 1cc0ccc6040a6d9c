package walletsvc

import (
	"bytes"
	stdecdsa "crypto/ecdsa"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/keycortex/walletd/internal/apierr"
	"github.com/keycortex/walletd/internal/challenge"
	"github.com/keycortex/walletd/internal/keycrypto"
	"github.com/keycortex/walletd/internal/keystore"
)

type authChallengeRequest struct {
	WalletAddress string `json:"wallet_address"`
}

type authChallengeResponse struct {
	Challenge   string `json:"challenge"`
	ExpiresAtMs int64  `json:"expires_at_epoch_ms"`
}

// AuthChallenge issues a single-use challenge a wallet's signer must sign
// to prove control of its key before a binding or commitment is trusted.
func (s *Service) AuthChallenge(w http.ResponseWriter, r *http.Request) {
	var req authChallengeRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.Write(w, err)
		return
	}
	if req.WalletAddress == "" {
		apierr.Write(w, apierr.BadRequest("wallet_address is required"))
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

	c := s.Challenges.Issue(req.WalletAddress, challenge.DefaultTTL)
	s.Repo.PersistChallenge(c.ID, c.Address, c.IssuedAt.UnixMilli(), c.ExpiresAt.UnixMilli())

	writeJSON(w, http.StatusOK, authChallengeResponse{
		Challenge:   c.ID,
		ExpiresAtMs: c.ExpiresAt.UnixMilli(),
	})
}

type authVerifyRequest struct {
	WalletAddress string `json:"wallet_address"`
	Challenge     string `json:"challenge"`
	Signature     string `json:"signature"`
}

type authVerifyResponse struct {
	Valid            bool  `json:"valid"`
	VerifiedAtEpoch  int64 `json:"verified_at_epoch_ms"`
}

// AuthVerify checks a signed response to a previously issued challenge.
// It consumes the challenge, recomputes the wallet address from the
// custodied public key to guard against a mismatched caller-supplied
// wallet_address, then verifies the signature itself.
func (s *Service) AuthVerify(w http.ResponseWriter, r *http.Request) {
	var req authVerifyRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.Write(w, err)
		return
	}
	if req.WalletAddress == "" || req.Challenge == "" || req.Signature == "" {
		apierr.Write(w, apierr.BadRequest("wallet_address, challenge and signature are required"))
		return
	}

	c, err := s.Challenges.Verify(req.Challenge)
	if err != nil {
		s.Repo.MarkChallengeUsed(req.Challenge)
		apierr.Write(w, apierr.Unauthorized("challenge invalid, expired, or already used"))
		return
	}
	s.Repo.MarkChallengeUsed(req.Challenge)

	sig, err := hex.DecodeString(req.Signature)
	if err != nil {
		apierr.Write(w, apierr.BadRequest("signature is not valid hex"))
		return
	}

	rec, ok, err := s.Keys.GetWalletKey(req.WalletAddress)
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to load wallet key", err))
		return
	}
	if !ok {
		apierr.Write(w, apierr.NotFound("wallet not found"))
		return
	}
	if recomputed := keycrypto.DeriveAddress(rec.PublicKey); recomputed != req.WalletAddress {
		apierr.Write(w, apierr.BadRequest("wallet address mismatch"))
		return
	}
	if c.Address != req.WalletAddress {
		apierr.Write(w, apierr.BadRequest("wallet address mismatch"))
		return
	}

	input := keycrypto.CanonicalSigningInput(keycrypto.PurposeAuth, []byte(c.ID))
	verified := verifySignature(rec.Backend, rec.PublicKey, input, sig)
	verifiedAtMs := s.Now()

	if verified {
		if binding, ok, err := s.Repo.LoadBinding(req.WalletAddress); err == nil && ok {
			binding.VerifiedAt = verifiedAtMs
			_ = s.Repo.SaveBinding(*binding)
		}
		s.audit("auth_verify", req.WalletAddress, "", "success", "verified")
	} else {
		s.audit("auth_verify", req.WalletAddress, "", "denied", "signature_mismatch")
	}

	writeJSON(w, http.StatusOK, authVerifyResponse{Valid: verified, VerifiedAtEpoch: verifiedAtMs})
}

func verifySignature(backend string, pubKey, input, sig []byte) bool {
	switch backend {
	case "local-secp256k1":
		return verifySecp256k1(pubKey, input, sig)
	default:
		if len(pubKey) != ed25519.PublicKeySize {
			return false
		}
		return ed25519.Verify(pubKey, input, sig)
	}
}

func verifySecp256k1(pubKeyBytes, input, sig []byte) bool {
	if len(sig) != 64 {
		return false
	}
	pub, err := btcec.ParsePubKey(pubKeyBytes)
	if err != nil {
		return false
	}
	digest := sha256.Sum256(input)
	r := new(big.Int).SetBytes(sig[:32])
	sv := new(big.Int).SetBytes(sig[32:])
	return stdecdsa.Verify(pub.ToECDSA(), digest[:], r, sv)
}

type authBindRequest struct {
	WalletAddress string `json:"wallet_address"`
	Chain         string `json:"chain"`
}

type authBindResponse struct {
	Address    string `json:"address"`
	UserID     string `json:"user_id"`
	Chain      string `json:"chain"`
	BoundAtMs  int64  `json:"bound_at_epoch_ms"`
}

// AuthBind binds a custodied wallet address to the identity asserted by the
// caller's bearer token.
func (s *Service) AuthBind(w http.ResponseWriter, r *http.Request) {
	principal, err := s.bearerPrincipal(r)
	if err != nil || principal == nil {
		apierr.Write(w, apierr.Unauthorized("valid bearer token required"))
		return
	}

	var req authBindRequest
	if decodeErr := decodeJSON(r, &req); decodeErr != nil {
		apierr.Write(w, decodeErr)
		return
	}
	if req.WalletAddress == "" || req.Chain == "" {
		apierr.Write(w, apierr.BadRequest("wallet_address and chain are required"))
		return
	}
	if _, ok := s.Chains.Get(req.Chain); !ok {
		apierr.Write(w, apierr.BadRequest(fmt.Sprintf("unsupported chain %q", req.Chain)))
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

	nowMs := s.Now()
	rec := keystore.BindingRecord{
		Address:      req.WalletAddress,
		UserID:       principal.UserID,
		Chain:        req.Chain,
		BoundAtEpoch: nowMs,
	}
	if err := s.Repo.SaveBinding(rec); err != nil {
		apierr.Write(w, apierr.Internal("failed to persist binding", err))
		return
	}

	s.audit("auth_bind", req.WalletAddress, principal.UserID, "success", req.Chain)
	s.fireBindCallback(req.WalletAddress, principal.UserID, req.Chain, nowMs)

	writeJSON(w, http.StatusOK, authBindResponse{
		Address:   req.WalletAddress,
		UserID:    principal.UserID,
		Chain:     req.Chain,
		BoundAtMs: nowMs,
	})
}

type bindCallbackPayload struct {
	UserID        string `json:"user_id"`
	WalletAddress string `json:"wallet_address"`
	Chain         string `json:"chain"`
	BoundAtMs     int64  `json:"bound_at_epoch_ms"`
}

// fireBindCallback posts a bind notification to the configured AuthBuddy
// callback URL in the background, logging (never propagating) failures.
func (s *Service) fireBindCallback(address, userID, chain string, boundAtMs int64) {
	if s.CallbackURL == "" {
		return
	}
	payload := bindCallbackPayload{UserID: userID, WalletAddress: address, Chain: chain, BoundAtMs: boundAtMs}
	go func() {
		raw, err := json.Marshal(payload)
		if err != nil {
			s.Log.WithError(err).Warn("failed to encode bind callback payload")
			return
		}
		client := &http.Client{Timeout: 5 * time.Second}
		req, err := http.NewRequest(http.MethodPost, s.CallbackURL, bytes.NewReader(raw))
		if err != nil {
			s.Log.WithError(err).Warn("failed to build bind callback request")
			return
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := client.Do(req)
		if err != nil {
			s.Log.WithError(err).WithField("url", s.CallbackURL).Warn("bind callback delivery failed")
			return
		}
		defer resp.Body.Close()
		if resp.StatusCode >= 300 {
			s.Log.WithField("status", resp.StatusCode).Warn("bind callback rejected by receiver")
		}
	}()
}
