package dualstore

import (
	"io"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"

	"github.com/keycortex/walletd/internal/keystore"
)

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func openTestRepo(t *testing.T) *Repository {
	t.Helper()
	store, err := keystore.Open(filepath.Join(t.TempDir(), "keycortex.db"))
	if err != nil {
		t.Fatalf("keystore.Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	repo, err := New("", store, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return repo
}

func TestLocalOnlyBindingRoundTrip(t *testing.T) {
	repo := openTestRepo(t)
	rec := keystore.BindingRecord{Address: "0xabc", UserID: "user-1", Chain: "flowcortex", BoundAtEpoch: 1000}

	if err := repo.SaveBinding(rec); err != nil {
		t.Fatalf("SaveBinding: %v", err)
	}
	got, ok, err := repo.LoadBinding("0xabc")
	if err != nil || !ok {
		t.Fatalf("LoadBinding: ok=%v err=%v", ok, err)
	}
	if got.UserID != rec.UserID {
		t.Fatalf("UserID = %q, want %q", got.UserID, rec.UserID)
	}
}

func TestLocalOnlyAuditRoundTrip(t *testing.T) {
	repo := openTestRepo(t)
	event := keystore.AuditEvent{EventID: "e1", EventType: "wallet_created", Address: "0xabc", TimestampMs: 500}

	if err := repo.AppendAudit(event); err != nil {
		t.Fatalf("AppendAudit: %v", err)
	}
	events, err := repo.ListAudit(keystore.AuditFilter{Address: "0xabc"})
	if err != nil {
		t.Fatalf("ListAudit: %v", err)
	}
	if len(events) != 1 || events[0].EventID != "e1" {
		t.Fatalf("events = %+v, want one event e1", events)
	}
}

func TestSnapshotStartsAtZero(t *testing.T) {
	repo := openTestRepo(t)
	c := repo.Snapshot()
	if c.Total != 0 || c.BindingWriteFailures != 0 {
		t.Fatalf("expected zeroed counters, got %+v", c)
	}
}

func TestSnapshotCountsTotalOperations(t *testing.T) {
	repo := openTestRepo(t)
	_ = repo.SaveBinding(keystore.BindingRecord{Address: "0xabc", UserID: "u1"})
	_, _, _ = repo.LoadBinding("0xabc")

	c := repo.Snapshot()
	if c.Total != 2 {
		t.Fatalf("Total = %d, want 2", c.Total)
	}
}
