package walletsvc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sirupsen/logrus"

	"github.com/keycortex/walletd/internal/chainadapter"
	"github.com/keycortex/walletd/internal/challenge"
	"github.com/keycortex/walletd/internal/dualstore"
	"github.com/keycortex/walletd/internal/identity"
	"github.com/keycortex/walletd/internal/keycrypto"
	"github.com/keycortex/walletd/internal/keystore"
)

type mockAdapter struct {
	chain    string
	balances map[string]string
	seq      int
}

func (m *mockAdapter) ChainTag() string { return m.chain }

func (m *mockAdapter) Balance(ctx context.Context, address, asset string) (string, error) {
	if b, ok := m.balances[address]; ok {
		return b, nil
	}
	return "0", nil
}

func (m *mockAdapter) Submit(ctx context.Context, from, to, asset string, amount uint64) (chainadapter.SubmitResult, error) {
	m.seq++
	return chainadapter.SubmitResult{TxHash: fmt.Sprintf("txn_mock_%d", m.seq), Accepted: true}, nil
}

func (m *mockAdapter) Status(ctx context.Context, txHash string) (string, error) {
	return "confirmed", nil
}

func newTestService(t *testing.T) *Service {
	t.Helper()
	log := logrus.New()
	log.SetOutput(io.Discard)

	keys, err := keystore.Open(filepath.Join(t.TempDir(), "keycortex.db"))
	if err != nil {
		t.Fatalf("keystore.Open: %v", err)
	}
	t.Cleanup(func() { _ = keys.Close() })

	repo, err := dualstore.New("", keys, log)
	if err != nil {
		t.Fatalf("dualstore.New: %v", err)
	}

	verifier := identity.NewVerifier([]byte("test-secret"), "", "")

	chains := chainadapter.NewRegistry()
	chains.Register(&mockAdapter{chain: "flowcortex", balances: map[string]string{}})

	clock := int64(1_700_000_000_000)
	now := func() int64 { return clock }

	return New(repo, keys, verifier, challenge.NewStore(), chains, log, now, "ed25519", []byte("test-wrapping-key"), "")
}

func doJSON(t *testing.T, router http.Handler, method, path string, body interface{}, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestCreateWalletThenSign(t *testing.T) {
	s := newTestService(t)
	router := s.Router()

	rec := doJSON(t, router, http.MethodPost, "/wallet/create", createWalletRequest{Chain: "flowcortex"}, nil)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var created walletResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal create response: %v", err)
	}
	if created.Address == "" {
		t.Fatal("expected non-empty address")
	}

	signRec := doJSON(t, router, http.MethodPost, "/wallet/sign", signRequest{
		WalletAddress: created.Address,
		Payload:       base64.StdEncoding.EncodeToString([]byte("deadbeef")),
		Purpose:       "transaction",
	}, nil)
	if signRec.Code != http.StatusOK {
		t.Fatalf("sign status = %d, body = %s", signRec.Code, signRec.Body.String())
	}
}

func TestRestoreWalletTwiceIsIdempotent(t *testing.T) {
	s := newTestService(t)
	router := s.Router()

	req := restoreWalletRequest{Passphrase: "correct horse battery staple", Chain: "flowcortex"}
	rec1 := doJSON(t, router, http.MethodPost, "/wallet/restore", req, nil)
	rec2 := doJSON(t, router, http.MethodPost, "/wallet/restore", req, nil)

	if rec1.Code != http.StatusOK || rec2.Code != http.StatusOK {
		t.Fatalf("restore statuses = %d, %d", rec1.Code, rec2.Code)
	}
	var w1, w2 walletResponse
	_ = json.Unmarshal(rec1.Body.Bytes(), &w1)
	_ = json.Unmarshal(rec2.Body.Bytes(), &w2)
	if w1.Address != w2.Address {
		t.Fatalf("restore not idempotent: %s != %s", w1.Address, w2.Address)
	}
	if w1.AlreadyExisted {
		t.Fatal("first restore should report already_existed=false")
	}
	if !w2.AlreadyExisted {
		t.Fatal("second restore should report already_existed=true")
	}
}

func TestSubmitEnforcesNonceOrdering(t *testing.T) {
	s := newTestService(t)
	router := s.Router()

	createRec := doJSON(t, router, http.MethodPost, "/wallet/create", createWalletRequest{Chain: "flowcortex"}, nil)
	var created walletResponse
	_ = json.Unmarshal(createRec.Body.Bytes(), &created)

	submitBody := submitRequest{From: created.Address, To: "0xdead", Asset: "native", Amount: "10", Chain: "flowcortex", Nonce: 1}
	rec1 := doJSON(t, router, http.MethodPost, "/wallet/submit", submitBody, nil)
	if rec1.Code != http.StatusOK {
		t.Fatalf("first submit status = %d, body = %s", rec1.Code, rec1.Body.String())
	}

	// Replaying nonce 1 must be rejected.
	rec2 := doJSON(t, router, http.MethodPost, "/wallet/submit", submitBody, nil)
	if rec2.Code != http.StatusBadRequest {
		t.Fatalf("replayed nonce status = %d, want 400", rec2.Code)
	}

	// Nonce 2 must succeed.
	submitBody.Nonce = 2
	rec3 := doJSON(t, router, http.MethodPost, "/wallet/submit", submitBody, nil)
	if rec3.Code != http.StatusOK {
		t.Fatalf("second submit status = %d, body = %s", rec3.Code, rec3.Body.String())
	}
}

func TestSubmitIdempotencyReplaysIdenticalResponse(t *testing.T) {
	s := newTestService(t)
	router := s.Router()

	createRec := doJSON(t, router, http.MethodPost, "/wallet/create", createWalletRequest{Chain: "flowcortex"}, nil)
	var created walletResponse
	_ = json.Unmarshal(createRec.Body.Bytes(), &created)

	headers := map[string]string{"Idempotency-Key": "idem-1"}
	submitBody := submitRequest{From: created.Address, To: "0xdead", Asset: "native", Amount: "10", Chain: "flowcortex", Nonce: 1}

	rec1 := doJSON(t, router, http.MethodPost, "/wallet/submit", submitBody, headers)
	rec2 := doJSON(t, router, http.MethodPost, "/wallet/submit", submitBody, headers)

	if rec1.Code != http.StatusOK || rec2.Code != http.StatusOK {
		t.Fatalf("submit statuses = %d, %d", rec1.Code, rec2.Code)
	}
	if rec1.Body.String() != rec2.Body.String() {
		t.Fatalf("idempotent replay returned different body: %s != %s", rec1.Body.String(), rec2.Body.String())
	}
}

func TestAuthChallengeVerifyFlow(t *testing.T) {
	s := newTestService(t)
	router := s.Router()

	createRec := doJSON(t, router, http.MethodPost, "/wallet/create", createWalletRequest{Chain: "flowcortex"}, nil)
	var created walletResponse
	_ = json.Unmarshal(createRec.Body.Bytes(), &created)

	challengeRec := doJSON(t, router, http.MethodPost, "/auth/challenge", authChallengeRequest{WalletAddress: created.Address}, nil)
	if challengeRec.Code != http.StatusOK {
		t.Fatalf("challenge status = %d, body = %s", challengeRec.Code, challengeRec.Body.String())
	}
	var ch authChallengeResponse
	_ = json.Unmarshal(challengeRec.Body.Bytes(), &ch)

	signer, err := s.loadSigner(created.Address)
	if err != nil {
		t.Fatalf("loadSigner: %v", err)
	}
	sig, err := signer.Sign(keycrypto.PurposeAuth, []byte(ch.Challenge))
	if err != nil {
		t.Fatalf("sign challenge: %v", err)
	}

	verifyRec := doJSON(t, router, http.MethodPost, "/auth/verify", authVerifyRequest{
		WalletAddress: created.Address,
		Challenge:     ch.Challenge,
		Signature:     hex.EncodeToString(sig),
	}, nil)
	if verifyRec.Code != http.StatusOK {
		t.Fatalf("verify status = %d, body = %s", verifyRec.Code, verifyRec.Body.String())
	}
	var verifyResp authVerifyResponse
	_ = json.Unmarshal(verifyRec.Body.Bytes(), &verifyResp)
	if !verifyResp.Valid {
		t.Fatal("expected valid=true for correctly signed challenge")
	}

	// Replaying the same challenge must now fail.
	replayRec := doJSON(t, router, http.MethodPost, "/auth/verify", authVerifyRequest{
		WalletAddress: created.Address,
		Challenge:     ch.Challenge,
		Signature:     hex.EncodeToString(sig),
	}, nil)
	if replayRec.Code != http.StatusUnauthorized {
		t.Fatalf("replayed verify status = %d, want 401", replayRec.Code)
	}
}

func TestOpsAccessDeniedWithoutRole(t *testing.T) {
	s := newTestService(t)
	router := s.Router()

	req := httptest.NewRequest(http.MethodGet, "/ops/audit", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("ops access without token status = %d, want 401", rec.Code)
	}
}

func mintOpsAdminToken(t *testing.T) string {
	t.Helper()
	claims := jwt.MapClaims{
		"sub":   "ops-user-1",
		"roles": []string{opsAdminRole},
		"exp":   time.Now().Add(time.Hour).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign ops token: %v", err)
	}
	return signed
}

func TestOpsListAuditFiltersByWalletAddressAndOutcome(t *testing.T) {
	s := newTestService(t)
	router := s.Router()
	token := mintOpsAdminToken(t)
	authHeader := map[string]string{"Authorization": "Bearer " + token}

	createRec := doJSON(t, router, http.MethodPost, "/wallet/create", createWalletRequest{Chain: "flowcortex"}, nil)
	var created walletResponse
	_ = json.Unmarshal(createRec.Body.Bytes(), &created)

	rec := doJSON(t, router, http.MethodGet, "/ops/audit?wallet_address="+created.Address+"&outcome=success&limit=10", nil, authHeader)
	if rec.Code != http.StatusOK {
		t.Fatalf("ops audit status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var body struct {
		Events []keystore.AuditEvent `json:"events"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal ops audit response: %v", err)
	}
	if len(body.Events) != 1 || body.Events[0].Address != created.Address {
		t.Fatalf("events = %+v, want one event for %s", body.Events, created.Address)
	}

	noneRec := doJSON(t, router, http.MethodGet, "/ops/audit?wallet_address="+created.Address+"&outcome=denied", nil, authHeader)
	var noneBody struct {
		Events []keystore.AuditEvent `json:"events"`
	}
	_ = json.Unmarshal(noneRec.Body.Bytes(), &noneBody)
	if len(noneBody.Events) != 0 {
		t.Fatalf("expected no denied events, got %+v", noneBody.Events)
	}
}

func TestFortressDigitalWalletStatusReportsRiskSignals(t *testing.T) {
	s := newTestService(t)
	router := s.Router()

	rec := doJSON(t, router, http.MethodGet, "/fortressdigital/wallet-status?wallet_address=0xnotfound", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	var resp walletStatusResponse
	_ = json.Unmarshal(rec.Body.Bytes(), &resp)
	if resp.Exists {
		t.Fatal("expected exists=false for unknown address")
	}
	if len(resp.RiskSignals) != 1 || resp.RiskSignals[0] != "wallet_not_found" {
		t.Fatalf("risk signals = %v, want [wallet_not_found]", resp.RiskSignals)
	}
}
