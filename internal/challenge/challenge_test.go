package challenge

import (
	"testing"
	"time"
)

func TestIssueThenVerifySingleUse(t *testing.T) {
	s := NewStore()
	c := s.Issue("0xabc", DefaultTTL)

	if _, err := s.Verify(c.ID); err != nil {
		t.Fatalf("first Verify: %v", err)
	}
	if _, err := s.Verify(c.ID); err == nil {
		t.Fatal("second Verify on same challenge should fail")
	}
}

func TestVerifyUnknownChallenge(t *testing.T) {
	s := NewStore()
	if _, err := s.Verify("does-not-exist"); err == nil {
		t.Fatal("expected error for unknown challenge id")
	}
}

func TestVerifyExpiredMarksUsed(t *testing.T) {
	s := NewStore()
	fixed := time.Now()
	s.now = func() time.Time { return fixed }

	c := s.Issue("0xabc", 1*time.Second)
	s.now = func() time.Time { return fixed.Add(2 * time.Second) }

	if _, err := s.Verify(c.ID); err == nil {
		t.Fatal("expected error verifying expired challenge")
	}
	// Replaying after expiry should still fail, and with the "already used"
	// reason now that the first observation marked it used.
	if _, err := s.Verify(c.ID); err == nil {
		t.Fatal("expected error on replay of expired-then-observed challenge")
	}
}

func TestPruneRemovesOldUsedChallenges(t *testing.T) {
	s := NewStore()
	fixed := time.Now()
	s.now = func() time.Time { return fixed }

	c := s.Issue("0xabc", DefaultTTL)
	if _, err := s.Verify(c.ID); err != nil {
		t.Fatalf("Verify: %v", err)
	}

	s.now = func() time.Time { return fixed.Add(2 * time.Hour) }
	removed := s.Prune(time.Hour)
	if removed != 1 {
		t.Fatalf("Prune removed %d, want 1", removed)
	}
}
