// Package walletsvc wires every other internal package into the HTTP
// surface described by the service's endpoint table, following the
// controller/service split of walletserver/controllers and
// walletserver/services, generalized from a single HD wallet to the full
// custodial wallet-and-identity service.
package walletsvc

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/keycortex/walletd/internal/chainadapter"
	"github.com/keycortex/walletd/internal/challenge"
	"github.com/keycortex/walletd/internal/dualstore"
	"github.com/keycortex/walletd/internal/identity"
	"github.com/keycortex/walletd/internal/keycrypto"
	"github.com/keycortex/walletd/internal/keystore"
)

// Clock is injected so tests can control "now" without sleeping; the
// production wiring passes time.Now.
type Clock func() int64 // epoch milliseconds

// Service holds every dependency a handler needs: durable storage, the
// identity verifier, the chain adapter registry, the challenge store, and
// the in-memory nonce/idempotency hints that make per-wallet submission
// ordering cheap to check on the hot path.
type Service struct {
	Repo       *dualstore.Repository
	Keys       *keystore.Store
	Identity   *identity.Verifier
	Challenges *challenge.Store
	Chains     *chainadapter.Registry
	Log        *logrus.Logger
	Now        Clock

	SigningBackend  string // "ed25519" or "secp256k1"
	WrappingKey     []byte
	CallbackURL     string

	nonceMu    sync.RWMutex
	nonceHints map[string]uint64

	idemMu    sync.RWMutex
	idemCache map[string][]byte

	submitMu sync.Mutex // guards the nonce-check + hint-write + idempotency-insert critical section
}

// New constructs a Service ready to be wired into a router.
func New(
	repo *dualstore.Repository,
	keys *keystore.Store,
	idv *identity.Verifier,
	challenges *challenge.Store,
	chains *chainadapter.Registry,
	log *logrus.Logger,
	now Clock,
	signingBackend string,
	wrappingKey []byte,
	callbackURL string,
) *Service {
	return &Service{
		Repo:           repo,
		Keys:           keys,
		Identity:       idv,
		Challenges:     challenges,
		Chains:         chains,
		Log:            log,
		Now:            now,
		SigningBackend: signingBackend,
		WrappingKey:    wrappingKey,
		CallbackURL:    callbackURL,
		nonceHints:     make(map[string]uint64),
		idemCache:      make(map[string][]byte),
	}
}

// newSigner builds a fresh signer for the configured backend.
func (s *Service) newSigner() (keycrypto.Signer, []byte, error) {
	switch s.SigningBackend {
	case "secp256k1":
		return keycrypto.NewSecp256k1Signer()
	default:
		return keycrypto.NewEd25519Signer()
	}
}

// signerFromSeed rebuilds a signer for the configured backend from a raw
// unwrapped secret.
func (s *Service) signerFromSeed(seed []byte) (keycrypto.Signer, error) {
	switch s.SigningBackend {
	case "secp256k1":
		return keycrypto.Secp256k1SignerFromSeed(seed)
	default:
		return keycrypto.Ed25519SignerFromSeed(seed)
	}
}

// loadSigner reads a wallet's wrapped key record, unwraps its secret, and
// rebuilds a live signer. The unwrapped seed is wiped before returning.
func (s *Service) loadSigner(address string) (keycrypto.Signer, error) {
	rec, ok, err := s.Keys.GetWalletKey(address)
	if err != nil {
		return nil, fmt.Errorf("load wallet key: %w", err)
	}
	if !ok {
		return nil, fmt.Errorf("wallet %s not found", address)
	}
	seed, err := keycrypto.UnwrapSecret(s.WrappingKey, rec.WrappedSecret, expectedSeedLen(rec.Backend))
	if err != nil {
		return nil, fmt.Errorf("unwrap wallet secret: %w", err)
	}
	defer keycrypto.Wipe(seed)

	switch rec.Backend {
	case "local-secp256k1":
		return keycrypto.Secp256k1SignerFromSeed(seed)
	default:
		return keycrypto.Ed25519SignerFromSeed(seed)
	}
}

func expectedSeedLen(backend string) int {
	if backend == "local-secp256k1" {
		return 32
	}
	return 32 // ed25519.SeedSize
}

// storeSigner wraps a signer's raw secret and persists it under its
// derived address.
func (s *Service) storeSigner(signer keycrypto.Signer, secret []byte, nowMs int64) error {
	wrapped, err := keycrypto.WrapSecret(s.WrappingKey, secret)
	if err != nil {
		return fmt.Errorf("wrap wallet secret: %w", err)
	}
	rec := keystore.WrappedKeyRecord{
		Address:        signer.Address(),
		Backend:        signer.Backend(),
		WrappedSecret:  wrapped,
		PublicKey:      signer.PublicKey(),
		CreatedAtEpoch: nowMs,
	}
	return s.Keys.PutWalletKey(rec)
}

// audit appends an audit event, logging (not failing the caller's
// response) if persistence fails. outcome is "success" or "denied".
func (s *Service) audit(eventType, address, userID, outcome, detail string) {
	e := keystore.AuditEvent{
		EventID:     uuid.New().String(),
		EventType:   eventType,
		Address:     address,
		UserID:      userID,
		Outcome:     outcome,
		Detail:      detail,
		TimestampMs: s.Now(),
	}
	if err := s.Repo.AppendAudit(e); err != nil {
		s.Log.WithError(err).WithField("event_type", eventType).Warn("failed to persist audit event")
	}
}

// bearerPrincipal extracts and verifies the Authorization header, if
// present. A missing header is not itself an error here: callers that
// require auth check for a nil principal and respond Unauthorized.
func (s *Service) bearerPrincipal(r *http.Request) (*identity.Principal, error) {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return nil, nil
	}
	const prefix = "Bearer "
	if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix {
		return nil, fmt.Errorf("malformed authorization header")
	}
	token := auth[len(prefix):]
	return s.Identity.Verify(token)
}
