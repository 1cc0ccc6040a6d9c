package walletsvc

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/keycortex/walletd/internal/apierr"
	"github.com/keycortex/walletd/internal/keycrypto"
)

func decodeJSON(r *http.Request, dst interface{}) *apierr.Error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return apierr.BadRequest("invalid request body")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

type createWalletRequest struct {
	Chain string `json:"chain"`
}

type walletResponse struct {
	Address        string `json:"address"`
	Backend        string `json:"backend"`
	Chain          string `json:"chain"`
	AlreadyExisted bool   `json:"already_existed"`
}

// CreateWallet generates a fresh custodied signing key and persists it.
func (s *Service) CreateWallet(w http.ResponseWriter, r *http.Request) {
	var req createWalletRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.Write(w, err)
		return
	}
	if req.Chain == "" {
		apierr.Write(w, apierr.BadRequest("chain is required"))
		return
	}

	signer, secret, err := s.newSigner()
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to generate key", err))
		return
	}
	defer keycrypto.Wipe(secret)

	if err := s.storeSigner(signer, secret, s.Now()); err != nil {
		apierr.Write(w, apierr.Internal("failed to persist key", err))
		return
	}

	s.audit("wallet_created", signer.Address(), "", "success", req.Chain)
	writeJSON(w, http.StatusCreated, walletResponse{Address: signer.Address(), Backend: signer.Backend(), Chain: req.Chain})
}

type restoreWalletRequest struct {
	Passphrase string `json:"passphrase"`
	Chain      string `json:"chain"`
}

// RestoreWallet deterministically rebuilds a signer from a passphrase. If
// the resulting address is already custodied, this is a no-op restore
// (same address returned) rather than an error, so restoring twice is
// idempotent.
func (s *Service) RestoreWallet(w http.ResponseWriter, r *http.Request) {
	var req restoreWalletRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.Write(w, err)
		return
	}
	if req.Passphrase == "" || req.Chain == "" {
		apierr.Write(w, apierr.BadRequest("passphrase and chain are required"))
		return
	}

	seed := keycrypto.DeriveSeedFromPassphrase(req.Passphrase)
	defer keycrypto.Wipe(seed)

	signer, err := s.signerFromSeed(seed)
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to derive key", err))
		return
	}

	exists, err := s.Keys.WalletExists(signer.Address())
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to check existing wallet", err))
		return
	}
	if !exists {
		if err := s.storeSigner(signer, seed, s.Now()); err != nil {
			apierr.Write(w, apierr.Internal("failed to persist restored key", err))
			return
		}
		s.audit("wallet_restored", signer.Address(), "", "success", req.Chain)
	}

	writeJSON(w, http.StatusOK, walletResponse{
		Address:        signer.Address(),
		Backend:        signer.Backend(),
		Chain:          req.Chain,
		AlreadyExisted: exists,
	})
}

type renameWalletRequest struct {
	WalletAddress string `json:"wallet_address"`
	Label         string `json:"label"`
}

// RenameWallet sets or replaces a wallet's label, independent of whether
// the wallet is bound to a user identity yet.
func (s *Service) RenameWallet(w http.ResponseWriter, r *http.Request) {
	var req renameWalletRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.Write(w, err)
		return
	}
	if req.WalletAddress == "" || req.Label == "" {
		apierr.Write(w, apierr.BadRequest("wallet_address and label are required"))
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

	if err := s.Keys.PutLabel(req.WalletAddress, req.Label); err != nil {
		apierr.Write(w, apierr.Internal("failed to persist label", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address": req.WalletAddress, "label": req.Label})
}

type signRequest struct {
	WalletAddress string `json:"wallet_address"`
	Payload       string `json:"payload"`
	Purpose       string `json:"purpose"`
}

type signResponse struct {
	Signature string `json:"signature"`
}

// Sign signs an arbitrary payload under the domain-tagged scheme for the
// given purpose.
func (s *Service) Sign(w http.ResponseWriter, r *http.Request) {
	var req signRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.Write(w, err)
		return
	}
	if req.WalletAddress == "" {
		apierr.Write(w, apierr.BadRequest("wallet_address is required"))
		return
	}
	purpose, err := validatePurpose(req.Purpose)
	if err != nil {
		apierr.Write(w, apierr.BadRequest(err.Error()))
		return
	}
	payload, err := base64.StdEncoding.DecodeString(req.Payload)
	if err != nil {
		apierr.Write(w, apierr.BadRequest("payload is not valid base64"))
		return
	}

	signer, err := s.loadSigner(req.WalletAddress)
	if err != nil {
		apierr.Write(w, apierr.NotFound("wallet not found"))
		return
	}
	sig, err := signer.Sign(purpose, payload)
	if err != nil {
		apierr.Write(w, apierr.Internal("signing failed", err))
		return
	}

	writeJSON(w, http.StatusOK, signResponse{Signature: hex.EncodeToString(sig)})
}

func validatePurpose(raw string) (keycrypto.Purpose, error) {
	switch keycrypto.Purpose(raw) {
	case keycrypto.PurposeTransaction, keycrypto.PurposeAuth, keycrypto.PurposeProof:
		return keycrypto.Purpose(raw), nil
	default:
		return "", fmt.Errorf("unknown purpose %q", raw)
	}
}

type nonceResponse struct {
	Address   string `json:"address"`
	LastNonce uint64 `json:"last_nonce"`
	NextNonce uint64 `json:"next_nonce"`
}

// WalletNonce reports the last accepted and next nonce for this wallet,
// reading durable storage when no in-memory hint is set; it does not write
// the hint.
func (s *Service) WalletNonce(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("wallet_address")
	if address == "" {
		apierr.Write(w, apierr.BadRequest("wallet_address query parameter is required"))
		return
	}
	last, err := s.lastNonceHint(address)
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to read nonce", err))
		return
	}
	writeJSON(w, http.StatusOK, nonceResponse{Address: address, LastNonce: last, NextNonce: saturatingIncrement(last)})
}

func saturatingIncrement(n uint64) uint64 {
	if n == ^uint64(0) {
		return n
	}
	return n + 1
}

// lastNonceHint returns the last accepted nonce for address: the in-memory
// hint, or the durable last-accepted nonce if no hint has been set yet, or
// zero if the wallet has never submitted.
func (s *Service) lastNonceHint(address string) (uint64, error) {
	s.nonceMu.RLock()
	if last, ok := s.nonceHints[address]; ok {
		s.nonceMu.RUnlock()
		return last, nil
	}
	s.nonceMu.RUnlock()

	last, _, err := s.Keys.GetNonce(address)
	if err != nil {
		return 0, err
	}
	return last, nil
}

type txStatusResponse struct {
	TxHash string `json:"tx_hash"`
	Status string `json:"status"`
}

// TxStatus reports a previously submitted transaction's chain status.
func (s *Service) TxStatus(w http.ResponseWriter, r *http.Request) {
	txHash := chi.URLParam(r, "hash")
	rec, ok, err := s.Keys.GetSubmittedTx(txHash)
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to load submitted tx", err))
		return
	}
	if !ok {
		apierr.Write(w, apierr.NotFound("transaction not found"))
		return
	}

	adapter, ok := s.Chains.Get(rec.Chain)
	if !ok {
		apierr.Write(w, apierr.BadRequest(fmt.Sprintf("unknown chain %q", rec.Chain)))
		return
	}
	status, err := adapter.Status(r.Context(), txHash)
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to query chain status", err))
		return
	}
	writeJSON(w, http.StatusOK, txStatusResponse{TxHash: txHash, Status: status})
}

type balanceResponse struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Balance string `json:"balance"`
}

// Balance proxies a balance query to the configured chain adapter.
func (s *Service) Balance(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("wallet_address")
	asset := r.URL.Query().Get("asset")
	chain := r.URL.Query().Get("chain")
	if address == "" || asset == "" || chain == "" {
		apierr.Write(w, apierr.BadRequest("wallet_address, asset and chain query parameters are required"))
		return
	}

	adapter, ok := s.Chains.Get(chain)
	if !ok {
		apierr.Write(w, apierr.BadRequest(fmt.Sprintf("unknown chain %q", chain)))
		return
	}
	balance, err := adapter.Balance(r.Context(), address, asset)
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to query balance", err))
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{Address: address, Asset: asset, Balance: balance})
}
