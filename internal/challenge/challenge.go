// Package challenge implements the one-shot challenge-response primitive
// auth/challenge and auth/verify are built on: issue a UUID-v4 nonce with a
// TTL, consume it exactly once. The map-plus-mutex shape follows
// core/biometrics_auth.go's BiometricsAuth; the issue/verify/remove surface
// follows kc-auth-adapter's PendingChallenge model.
package challenge

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Default and maximum TTLs named in the service's design notes.
const (
	DefaultTTL = 120 * time.Second
	MaxTTL     = 300 * time.Second
)

// State is where a challenge sits in its lifecycle.
type State int

const (
	StateUnused State = iota
	StateUsed
	StateExpired
)

// Challenge is one issued nonce awaiting a signed response.
type Challenge struct {
	ID        string
	Address   string
	IssuedAt  time.Time
	ExpiresAt time.Time
	Used      bool
}

// Store holds in-flight challenges in memory. It does not persist across
// restarts; durable audit of challenge usage lives in the repository layer.
type Store struct {
	mu         sync.Mutex
	challenges map[string]*Challenge
	now        func() time.Time
}

// NewStore constructs an empty challenge store.
func NewStore() *Store {
	return &Store{
		challenges: make(map[string]*Challenge),
		now:        time.Now,
	}
}

// Issue creates a new challenge for address with the given TTL (clamped to
// [DefaultTTL, MaxTTL] by the caller's own validation; Issue itself trusts
// the value it's given).
func (s *Store) Issue(address string, ttl time.Duration) *Challenge {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c := &Challenge{
		ID:        uuid.New().String(),
		Address:   address,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	s.challenges[c.ID] = c
	return c
}

// Verify looks up a challenge by id and, if it is unused and unexpired,
// marks it used and returns it. An expired-but-unused challenge is marked
// used as a side effect of being observed, so it can never be replayed
// even within the same instant it expired.
func (s *Store) Verify(id string) (*Challenge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.challenges[id]
	if !ok {
		return nil, fmt.Errorf("unknown challenge %q", id)
	}
	if c.Used {
		return nil, fmt.Errorf("challenge %q already used", id)
	}
	if s.now().After(c.ExpiresAt) {
		c.Used = true
		return nil, fmt.Errorf("challenge %q expired at %s", id, c.ExpiresAt)
	}
	c.Used = true
	return c, nil
}

// Prune removes used or expired challenges older than the given age, so
// the in-memory map doesn't grow unbounded over a long-lived process.
func (s *Store) Prune(olderThan time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-olderThan)
	removed := 0
	for id, c := range s.challenges {
		if c.IssuedAt.Before(cutoff) && (c.Used || s.now().After(c.ExpiresAt)) {
			delete(s.challenges, id)
			removed++
		}
	}
	return removed
}
