// Package keystore is the local ordered key-value engine every wallet
// record durably lives in, and the fallback half of the dual-write
// repository. One bbolt bucket per key-layout prefix mirrors the flat
// "prefix:suffix" namespacing core/idwallet_registration.go uses over its
// stateBackend, translated onto bbolt's native bucket model.
package keystore

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sort"

	"go.etcd.io/bbolt"
)

var buckets = []string{
	"wallet-key",
	"wallet-binding",
	"wallet-label",
	"audit",
	"submitted-tx",
	"wallet-nonce",
	"submit-idem",
}

// Store wraps a bbolt database with one bucket per key-layout prefix named
// in the service's data model.
type Store struct {
	db *bbolt.DB
}

// Open creates (or reuses) the bbolt file at path and ensures every
// required bucket exists.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open keystore at %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range buckets {
			if _, err := tx.CreateBucketIfNotExists([]byte(name)); err != nil {
				return fmt.Errorf("create bucket %s: %w", name, err)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) get(bucket, key string) ([]byte, bool, error) {
	var val []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		v := b.Get([]byte(key))
		if v != nil {
			val = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return val, val != nil, nil
}

func (s *Store) put(bucket, key string, val []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		return b.Put([]byte(key), val)
	})
}

func (s *Store) delete(bucket, key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte(bucket))
		return b.Delete([]byte(key))
	})
}

// ---- wallet-key:<addr> ----

// WrappedKeyRecord is the durable, encrypted-at-rest record for one
// custodied signing key.
type WrappedKeyRecord struct {
	Address        string `json:"address"`
	Backend        string `json:"backend"`
	WrappedSecret  []byte `json:"wrapped_secret"`
	PublicKey      []byte `json:"public_key"`
	CreatedAtEpoch int64  `json:"created_at_epoch_ms"`
}

func (s *Store) PutWalletKey(rec WrappedKeyRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal wallet key record: %w", err)
	}
	return s.put("wallet-key", rec.Address, raw)
}

func (s *Store) GetWalletKey(address string) (*WrappedKeyRecord, bool, error) {
	raw, ok, err := s.get("wallet-key", address)
	if err != nil || !ok {
		return nil, ok, err
	}
	var rec WrappedKeyRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, fmt.Errorf("unmarshal wallet key record: %w", err)
	}
	return &rec, true, nil
}

func (s *Store) WalletExists(address string) (bool, error) {
	_, ok, err := s.get("wallet-key", address)
	return ok, err
}

// ---- wallet-binding:<addr> ----

// BindingRecord links a custodied wallet address to an external identity.
type BindingRecord struct {
	Address        string `json:"address"`
	UserID         string `json:"user_id"`
	Chain          string `json:"chain"`
	BoundAtEpoch   int64  `json:"bound_at_epoch_ms"`
	VerifiedAt     int64  `json:"last_verified_at_epoch_ms"`
}

func (s *Store) PutBinding(rec BindingRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal binding record: %w", err)
	}
	return s.put("wallet-binding", rec.Address, raw)
}

func (s *Store) GetBinding(address string) (*BindingRecord, bool, error) {
	raw, ok, err := s.get("wallet-binding", address)
	if err != nil || !ok {
		return nil, ok, err
	}
	var rec BindingRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, fmt.Errorf("unmarshal binding record: %w", err)
	}
	return &rec, true, nil
}

// ---- wallet-label:<addr> ----

func (s *Store) PutLabel(address, label string) error {
	return s.put("wallet-label", address, []byte(label))
}

func (s *Store) GetLabel(address string) (string, bool, error) {
	raw, ok, err := s.get("wallet-label", address)
	if err != nil || !ok {
		return "", ok, err
	}
	return string(raw), true, nil
}

// ---- audit:<ts_ms>:<event_id> ----

// AuditEvent is one append-only record of a security-relevant action.
type AuditEvent struct {
	EventID     string `json:"event_id"`
	EventType   string `json:"event_type"`
	Address     string `json:"address,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	Outcome     string `json:"outcome,omitempty"`
	Detail      string `json:"detail,omitempty"`
	TimestampMs int64  `json:"timestamp_ms"`
}

func auditKey(e AuditEvent) string {
	return fmt.Sprintf("%020d:%s", e.TimestampMs, e.EventID)
}

func (s *Store) AppendAudit(e AuditEvent) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	return s.put("audit", auditKey(e), raw)
}

// AuditFilter narrows a ListAudit scan. Zero-value fields are not filtered
// on; Limit is clamped to [1, 500], defaulting to 100.
type AuditFilter struct {
	EventType string
	Address   string
	Outcome   string
	Limit     int
}

func clampAuditLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 500:
		return 500
	default:
		return limit
	}
}

// ListAudit returns audit events matching filter, newest first, truncated
// to filter.Limit.
func (s *Store) ListAudit(filter AuditFilter) ([]AuditEvent, error) {
	var events []AuditEvent
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte("audit"))
		c := b.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var e AuditEvent
			if err := json.Unmarshal(v, &e); err != nil {
				return fmt.Errorf("unmarshal audit event %s: %w", k, err)
			}
			if filter.Address != "" && e.Address != filter.Address {
				continue
			}
			if filter.EventType != "" && e.EventType != filter.EventType {
				continue
			}
			if filter.Outcome != "" && e.Outcome != filter.Outcome {
				continue
			}
			events = append(events, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(events, func(i, j int) bool { return events[i].TimestampMs > events[j].TimestampMs })
	limit := clampAuditLimit(filter.Limit)
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// CountAudit counts events for an address, used for FortressDigital's
// signature_frequency_hint bucketing.
func (s *Store) CountAudit(address string) (int, error) {
	count := 0
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket([]byte("audit"))
		c := b.Cursor()
		for _, v := c.First(); v != nil; _, v = c.Next() {
			var e AuditEvent
			if err := json.Unmarshal(v, &e); err == nil && e.Address == address {
				count++
			}
		}
		return nil
	})
	return count, err
}

// ---- submitted-tx:<tx_hash> ----

// SubmittedTx records a submitted transaction for status lookups.
type SubmittedTx struct {
	TxHash       string `json:"tx_hash"`
	FromAddress  string `json:"from_address"`
	ToAddress    string `json:"to_address"`
	Asset        string `json:"asset"`
	Amount       uint64 `json:"amount"`
	Chain        string `json:"chain"`
	Accepted     bool   `json:"accepted"`
	SubmittedAt  int64  `json:"submitted_at_epoch_ms"`
}

func (s *Store) PutSubmittedTx(rec SubmittedTx) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal submitted tx: %w", err)
	}
	return s.put("submitted-tx", rec.TxHash, raw)
}

func (s *Store) GetSubmittedTx(txHash string) (*SubmittedTx, bool, error) {
	raw, ok, err := s.get("submitted-tx", txHash)
	if err != nil || !ok {
		return nil, ok, err
	}
	var rec SubmittedTx
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, false, fmt.Errorf("unmarshal submitted tx: %w", err)
	}
	return &rec, true, nil
}

// ---- wallet-nonce:<addr> ----

func (s *Store) GetNonce(address string) (uint64, bool, error) {
	raw, ok, err := s.get("wallet-nonce", address)
	if err != nil || !ok {
		return 0, ok, err
	}
	if len(raw) != 8 {
		return 0, false, fmt.Errorf("corrupt nonce record for %s", address)
	}
	return binary.BigEndian.Uint64(raw), true, nil
}

func (s *Store) PutNonce(address string, nonce uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, nonce)
	return s.put("wallet-nonce", address, buf)
}

// ---- submit-idem:<key> ----

func (s *Store) GetIdempotent(key string) ([]byte, bool, error) {
	return s.get("submit-idem", key)
}

func (s *Store) PutIdempotent(key string, response []byte) error {
	return s.put("submit-idem", key, response)
}
