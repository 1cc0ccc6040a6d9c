package chainadapter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestBalanceReturnsZeroOn404(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	a := NewFlowCortexAdapter(ts.URL, testLogger())
	balance, err := a.Balance(context.Background(), "0xabc", "native")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != "0" {
		t.Fatalf("balance = %q, want 0", balance)
	}
}

func TestBalanceParsesOKResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(balanceResponse{Account: "0xabc", Token: "native", Balance: 500})
	}))
	defer ts.Close()

	a := NewFlowCortexAdapter(ts.URL, testLogger())
	balance, err := a.Balance(context.Background(), "0xabc", "native")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	if balance != "500" {
		t.Fatalf("balance = %q, want 500", balance)
	}
}

func TestSubmitAcceptedDerivesDeterministicHash(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer ts.Close()

	a := NewFlowCortexAdapter(ts.URL, testLogger())
	res1, err := a.Submit(context.Background(), "0xfrom", "0xto", "native", 10)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if !res1.Accepted {
		t.Fatal("expected accepted=true")
	}
	res2, err := a.Submit(context.Background(), "0xfrom", "0xto", "native", 10)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res1.TxHash != res2.TxHash {
		t.Fatalf("tx hash not deterministic: %s != %s", res1.TxHash, res2.TxHash)
	}
}

func TestSubmitRejectedByNode(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(transferErrorResponse{Error: "insufficient funds"})
	}))
	defer ts.Close()

	a := NewFlowCortexAdapter(ts.URL, testLogger())
	res, err := a.Submit(context.Background(), "0xfrom", "0xto", "native", 10)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if res.Accepted {
		t.Fatal("expected accepted=false")
	}
	if res.TxHash != "failed:insufficient funds" {
		t.Fatalf("tx hash = %q, want failed:insufficient funds", res.TxHash)
	}
}

func TestStatusPendingWhenNoBlocks(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(blocksResponse{Blocks: nil})
	}))
	defer ts.Close()

	a := NewFlowCortexAdapter(ts.URL, testLogger())
	status, err := a.Status(context.Background(), "txn_abc")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status != "pending" {
		t.Fatalf("status = %q, want pending", status)
	}
}

func TestStatusConfirmedWithBlocks(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(blocksResponse{Blocks: []json.RawMessage{[]byte(`{"height":1}`)}})
	}))
	defer ts.Close()

	a := NewFlowCortexAdapter(ts.URL, testLogger())
	status, err := a.Status(context.Background(), "txn_abc")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if status != "confirmed" {
		t.Fatalf("status = %q, want confirmed", status)
	}
}

func TestParseAmountClampsNonNumeric(t *testing.T) {
	if got := ParseAmount("not-a-number", testLogger()); got != 0 {
		t.Fatalf("ParseAmount = %d, want 0", got)
	}
	if got := ParseAmount("42", testLogger()); got != 42 {
		t.Fatalf("ParseAmount = %d, want 42", got)
	}
}

func TestRegistryRegisterAndGet(t *testing.T) {
	r := NewRegistry()
	a := NewFlowCortexAdapter("http://localhost:9999", testLogger())
	r.Register(a)

	got, ok := r.Get("flowcortex")
	if !ok {
		t.Fatal("expected flowcortex adapter to be registered")
	}
	if got.ChainTag() != "flowcortex" {
		t.Fatalf("ChainTag() = %q, want flowcortex", got.ChainTag())
	}

	if _, ok := r.Get("unknownchain"); ok {
		t.Fatal("expected no adapter for unknown chain")
	}
}
