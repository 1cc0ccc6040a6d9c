package walletsvc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/keycortex/walletd/internal/apierr"
	"github.com/keycortex/walletd/internal/keycrypto"
	"github.com/keycortex/walletd/internal/keystore"
)

type submitRequest struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Asset  string `json:"asset"`
	Amount string `json:"amount"`
	Chain  string `json:"chain"`
	Nonce  uint64 `json:"nonce"`
}

type submitResponse struct {
	TxHash    string `json:"tx_hash"`
	Accepted  bool   `json:"accepted"`
	Nonce     uint64 `json:"nonce"`
	Signature string `json:"signature"`
	CreatedAt int64  `json:"created_at_epoch_ms"`
}

// Submit authors and submits a signed transfer, enforcing strictly
// increasing per-wallet nonces and caller-supplied idempotency keys. The
// nonce check, hint write, and idempotency insert all happen under the
// same exclusive lock so two concurrent submissions for the same wallet
// can never both observe the same "next" nonce.
func (s *Service) Submit(w http.ResponseWriter, r *http.Request) {
	idemKey := r.Header.Get("Idempotency-Key")

	var req submitRequest
	if err := decodeJSON(r, &req); err != nil {
		apierr.Write(w, err)
		return
	}
	if req.From == "" || req.To == "" || req.Asset == "" || req.Chain == "" {
		apierr.Write(w, apierr.BadRequest("from, to, asset and chain are required"))
		return
	}
	if req.Nonce == 0 {
		apierr.Write(w, apierr.BadRequest("nonce must be >= 1"))
		return
	}
	amount, err := parseAmountStrict(req.Amount)
	if err != nil {
		apierr.Write(w, apierr.BadRequest(err.Error()))
		return
	}
	address := req.From

	adapter, ok := s.Chains.Get(req.Chain)
	if !ok {
		apierr.Write(w, apierr.BadRequest(fmt.Sprintf("unknown chain %q", req.Chain)))
		return
	}

	if idemKey != "" {
		if cached, ok, err := s.lookupIdempotent(idemKey); err != nil {
			apierr.Write(w, apierr.Internal("failed to check idempotency cache", err))
			return
		} else if ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(cached)
			return
		}
	}

	signer, err := s.loadSigner(address)
	if err != nil {
		apierr.Write(w, apierr.NotFound("wallet not found"))
		return
	}
	if signer.Address() != req.From {
		apierr.Write(w, apierr.BadRequest("from does not match the custodied wallet address"))
		return
	}

	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	// Re-check idempotency inside the lock: a concurrent request for the
	// same key may have completed while we were loading the signer above.
	if idemKey != "" {
		if cached, ok, err := s.lookupIdempotent(idemKey); err != nil {
			apierr.Write(w, apierr.Internal("failed to check idempotency cache", err))
			return
		} else if ok {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(cached)
			return
		}
	}

	last, err := s.lastAcceptedNonceLocked(address)
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to read nonce", err))
		return
	}
	if req.Nonce <= last {
		apierr.Write(w, apierr.BadRequest(fmt.Sprintf("nonce replay detected: %d is not greater than last accepted nonce %d", req.Nonce, last)))
		return
	}

	payload := []byte(fmt.Sprintf("from=%s;to=%s;amount=%d;asset=%s;chain=%s;nonce=%d", address, req.To, amount, req.Asset, req.Chain, req.Nonce))
	sig, err := signer.Sign(keycrypto.PurposeTransaction, payload)
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to sign transaction", err))
		return
	}
	sigHex := hex.EncodeToString(sig)

	result, err := adapter.Submit(r.Context(), address, req.To, req.Asset, amount)
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to submit transaction to chain", err))
		return
	}

	s.setNonceHintLocked(address, req.Nonce)
	if err := s.Keys.PutNonce(address, req.Nonce); err != nil {
		s.Log.WithError(err).WithField("address", address).Warn("failed to persist nonce durably")
	}

	rec := keystore.SubmittedTx{
		TxHash:      result.TxHash,
		FromAddress: address,
		ToAddress:   req.To,
		Asset:       req.Asset,
		Amount:      amount,
		Chain:       req.Chain,
		Accepted:    result.Accepted,
		SubmittedAt: s.Now(),
	}
	if err := s.Keys.PutSubmittedTx(rec); err != nil {
		s.Log.WithError(err).WithField("tx_hash", result.TxHash).Warn("failed to persist submitted tx record")
	}

	resp := submitResponse{
		TxHash:    result.TxHash,
		Accepted:  result.Accepted,
		Nonce:     req.Nonce,
		Signature: sigHex,
		CreatedAt: s.Now(),
	}
	raw, err := json.Marshal(resp)
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to encode response", err))
		return
	}
	if idemKey != "" {
		if err := s.Keys.PutIdempotent(idemKey, raw); err != nil {
			s.Log.WithError(err).WithField("idempotency_key", idemKey).Warn("failed to persist idempotency record")
		}
		s.idemMu.Lock()
		s.idemCache[idemKey] = raw
		s.idemMu.Unlock()
	}

	s.audit("wallet_submit", address, "", "success", result.TxHash)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(raw)
}

func parseAmountStrict(raw string) (uint64, error) {
	if raw == "" {
		return 0, fmt.Errorf("amount is required")
	}
	amount, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("amount must be a non-negative integer")
	}
	return amount, nil
}

func (s *Service) lookupIdempotent(key string) ([]byte, bool, error) {
	s.idemMu.RLock()
	if cached, ok := s.idemCache[key]; ok {
		s.idemMu.RUnlock()
		return cached, true, nil
	}
	s.idemMu.RUnlock()
	return s.Keys.GetIdempotent(key)
}

// lastAcceptedNonceLocked returns the last accepted nonce for address,
// defaulting to zero for a wallet that has never submitted (the submitted
// nonce must then be strictly greater, i.e. its first accepted nonce is 1).
func (s *Service) lastAcceptedNonceLocked(address string) (uint64, error) {
	s.nonceMu.RLock()
	if hint, ok := s.nonceHints[address]; ok {
		s.nonceMu.RUnlock()
		return hint, nil
	}
	s.nonceMu.RUnlock()

	last, _, err := s.Keys.GetNonce(address)
	if err != nil {
		return 0, err
	}
	return last, nil
}

func (s *Service) setNonceHintLocked(address string, nonce uint64) {
	s.nonceMu.Lock()
	defer s.nonceMu.Unlock()
	s.nonceHints[address] = nonce
}
