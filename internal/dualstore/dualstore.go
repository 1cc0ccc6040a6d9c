// Package dualstore implements the dual-write repository: every mutation
// goes to the optional Postgres primary store AND the local bbolt
// keystore; reads prefer the primary, falling back to local on error.
// Grounded on db.rs's PostgresRepository, with the local half delegated to
// internal/keystore rather than a second hand-rolled KV layer.
package dualstore

import (
	"database/sql"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"

	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"

	"github.com/keycortex/walletd/internal/keystore"
)

// Counters are named atomic failure counters surfaced in the health
// endpoint's JSON body. They are not exported as prometheus metrics.
type Counters struct {
	PostgresUnavailable      int64
	ChallengePersistFailures int64
	ChallengeMarkUsedFailures int64
	BindingWriteFailures     int64
	BindingReadFailures      int64
	AuditWriteFailures       int64
	AuditReadFailures        int64
	Total                    int64
}

// Repository is the dual-write store for bindings, persisted challenges
// and audit events. Wallet keys, nonces, idempotency records and submitted
// transactions are local-only and accessed directly through
// internal/keystore; they have no external-datastore analogue in the
// original design.
type Repository struct {
	primary *sql.DB // nil when no DATABASE_URL was configured
	local   *keystore.Store
	log     *logrus.Logger

	postgresUnavailable       atomic.Int64
	challengePersistFailures  atomic.Int64
	challengeMarkUsedFailures atomic.Int64
	bindingWriteFailures      atomic.Int64
	bindingReadFailures       atomic.Int64
	auditWriteFailures        atomic.Int64
	auditReadFailures         atomic.Int64
	total                     atomic.Int64
}

// New builds a Repository. dsn may be empty, in which case the repository
// runs local-only (every write succeeds via bbolt; reads never fall back
// because there is no primary to fail).
func New(dsn string, local *keystore.Store, log *logrus.Logger) (*Repository, error) {
	r := &Repository{local: local, log: log}
	if dsn == "" {
		log.Info("no DATABASE_URL configured; dual-write repository running local-only")
		return r, nil
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.Ping(); err != nil {
		log.WithError(err).Warn("postgres unreachable at startup; continuing local-only")
		r.postgresUnavailable.Add(1)
		_ = db.Close()
		return r, nil
	}
	r.primary = db
	return r, nil
}

// Close releases the primary connection pool, if any.
func (r *Repository) Close() error {
	if r.primary == nil {
		return nil
	}
	return r.primary.Close()
}

func (r *Repository) bumpTotal() { r.total.Add(1) }

// Snapshot returns the current counter values for the health endpoint.
func (r *Repository) Snapshot() Counters {
	return Counters{
		PostgresUnavailable:       r.postgresUnavailable.Load(),
		ChallengePersistFailures:  r.challengePersistFailures.Load(),
		ChallengeMarkUsedFailures: r.challengeMarkUsedFailures.Load(),
		BindingWriteFailures:      r.bindingWriteFailures.Load(),
		BindingReadFailures:       r.bindingReadFailures.Load(),
		AuditWriteFailures:        r.auditWriteFailures.Load(),
		AuditReadFailures:         r.auditReadFailures.Load(),
		Total:                     r.total.Load(),
	}
}

// ---- bindings ----

// SaveBinding writes a binding to both stores. The local write is
// authoritative for success/failure; a primary-store failure is recorded
// but does not fail the call, since the local write already durably
// recorded the binding.
func (r *Repository) SaveBinding(rec keystore.BindingRecord) error {
	r.bumpTotal()
	if err := r.local.PutBinding(rec); err != nil {
		r.bindingWriteFailures.Add(1)
		return fmt.Errorf("persist binding locally: %w", err)
	}
	if r.primary != nil {
		if err := r.saveBindingPostgres(rec); err != nil {
			r.bindingWriteFailures.Add(1)
			r.log.WithError(err).WithField("address", rec.Address).Warn("postgres binding write failed; local copy is durable")
		}
	}
	return nil
}

func (r *Repository) saveBindingPostgres(rec keystore.BindingRecord) error {
	_, err := r.primary.Exec(
		`INSERT INTO wallet_bindings (address, user_id, chain, bound_at_epoch_ms, last_verified_at_epoch_ms)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (address) DO UPDATE SET
		   user_id = EXCLUDED.user_id,
		   chain = EXCLUDED.chain,
		   bound_at_epoch_ms = EXCLUDED.bound_at_epoch_ms,
		   last_verified_at_epoch_ms = EXCLUDED.last_verified_at_epoch_ms`,
		rec.Address, rec.UserID, rec.Chain, rec.BoundAtEpoch, rec.VerifiedAt,
	)
	return err
}

// LoadBinding prefers the primary store, falling back to local on any
// primary-side error (including "no primary configured").
func (r *Repository) LoadBinding(address string) (*keystore.BindingRecord, bool, error) {
	r.bumpTotal()
	if r.primary != nil {
		rec, ok, err := r.loadBindingPostgres(address)
		if err == nil {
			return rec, ok, nil
		}
		r.bindingReadFailures.Add(1)
		r.log.WithError(err).WithField("address", address).Warn("postgres binding read failed; falling back to local")
	}
	rec, ok, err := r.local.GetBinding(address)
	if err != nil {
		r.bindingReadFailures.Add(1)
	}
	return rec, ok, err
}

func (r *Repository) loadBindingPostgres(address string) (*keystore.BindingRecord, bool, error) {
	row := r.primary.QueryRow(
		`SELECT address, user_id, chain, bound_at_epoch_ms, last_verified_at_epoch_ms
		 FROM wallet_bindings WHERE address = $1`, address)
	var rec keystore.BindingRecord
	err := row.Scan(&rec.Address, &rec.UserID, &rec.Chain, &rec.BoundAtEpoch, &rec.VerifiedAt)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &rec, true, nil
}

// ---- audit events ----

// AppendAudit writes an audit event to both stores.
func (r *Repository) AppendAudit(e keystore.AuditEvent) error {
	r.bumpTotal()
	if err := r.local.AppendAudit(e); err != nil {
		r.auditWriteFailures.Add(1)
		return fmt.Errorf("persist audit event locally: %w", err)
	}
	if r.primary != nil {
		if err := r.appendAuditPostgres(e); err != nil {
			r.auditWriteFailures.Add(1)
			r.log.WithError(err).Warn("postgres audit write failed; local copy is durable")
		}
	}
	return nil
}

func (r *Repository) appendAuditPostgres(e keystore.AuditEvent) error {
	_, err := r.primary.Exec(
		`INSERT INTO audit_events (event_id, event_type, address, user_id, outcome, detail, timestamp_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (event_id) DO NOTHING`,
		e.EventID, e.EventType, e.Address, e.UserID, e.Outcome, e.Detail, e.TimestampMs,
	)
	return err
}

// ListAudit prefers the primary, falling back to local on error.
func (r *Repository) ListAudit(filter keystore.AuditFilter) ([]keystore.AuditEvent, error) {
	r.bumpTotal()
	if r.primary != nil {
		events, err := r.listAuditPostgres(filter)
		if err == nil {
			return events, nil
		}
		r.auditReadFailures.Add(1)
		r.log.WithError(err).Warn("postgres audit read failed; falling back to local")
	}
	events, err := r.local.ListAudit(filter)
	if err != nil {
		r.auditReadFailures.Add(1)
	}
	return events, err
}

func (r *Repository) listAuditPostgres(filter keystore.AuditFilter) ([]keystore.AuditEvent, error) {
	query := `SELECT event_id, event_type, address, user_id, outcome, detail, timestamp_ms FROM audit_events`
	var conds []string
	var args []interface{}
	addCond := func(col, val string) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if filter.Address != "" {
		addCond("address", filter.Address)
	}
	if filter.EventType != "" {
		addCond("event_type", filter.EventType)
	}
	if filter.Outcome != "" {
		addCond("outcome", filter.Outcome)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += fmt.Sprintf(" ORDER BY timestamp_ms DESC LIMIT %d", clampAuditLimitMirror(filter.Limit))

	rows, err := r.primary.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []keystore.AuditEvent
	for rows.Next() {
		var e keystore.AuditEvent
		if err := rows.Scan(&e.EventID, &e.EventType, &e.Address, &e.UserID, &e.Outcome, &e.Detail, &e.TimestampMs); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// clampAuditLimitMirror mirrors keystore's unexported limit clamp so the
// Postgres path and the local fallback apply the identical [1, 500]/100
// default policy.
func clampAuditLimitMirror(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 500:
		return 500
	default:
		return limit
	}
}

// ---- challenges (persisted copy, for audit/durability) ----

// PersistChallenge records an issued challenge durably, mirroring
// db.rs's upsert_challenge. Failures are counted but not fatal: the
// in-memory challenge store remains the source of truth for the live
// auth flow.
func (r *Repository) PersistChallenge(challengeID, address string, issuedAtMs, expiresAtMs int64) {
	r.bumpTotal()
	if r.primary == nil {
		return
	}
	_, err := r.primary.Exec(
		`INSERT INTO challenges (challenge_id, address, issued_at_epoch_ms, expires_at_epoch_ms, used)
		 VALUES ($1, $2, $3, $4, false)
		 ON CONFLICT (challenge_id) DO NOTHING`,
		challengeID, address, issuedAtMs, expiresAtMs,
	)
	if err != nil {
		r.challengePersistFailures.Add(1)
		r.log.WithError(err).Warn("postgres challenge persist failed")
	}
}

// MarkChallengeUsed records that a challenge has been consumed.
func (r *Repository) MarkChallengeUsed(challengeID string) {
	r.bumpTotal()
	if r.primary == nil {
		return
	}
	_, err := r.primary.Exec(`UPDATE challenges SET used = true WHERE challenge_id = $1`, challengeID)
	if err != nil {
		r.challengeMarkUsedFailures.Add(1)
		r.log.WithError(err).Warn("postgres challenge mark-used failed")
	}
}

// ---- migrations ----

// RunMigrations applies every *.sql file under dir in lexicographic order.
// A failure on any single file is logged and skipped rather than aborting
// startup, matching the non-fatal migration policy.
func RunMigrations(dsn, dir string, log *logrus.Logger) error {
	if dsn == "" || dir == "" {
		log.Debug("skipping migrations: no DATABASE_URL or migrations dir configured")
		return nil
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("open postgres for migrations: %w", err)
	}
	defer db.Close()

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && filepath.Ext(path) == ".sql" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("walk migrations dir: %w", err)
	}
	sort.Strings(files)

	for _, f := range files {
		raw, err := os.ReadFile(f)
		if err != nil {
			log.WithError(err).WithField("file", f).Warn("failed to read migration file; skipping")
			continue
		}
		if _, err := db.Exec(string(raw)); err != nil {
			log.WithError(err).WithField("file", f).Warn("migration failed; continuing with remaining files")
			continue
		}
		log.WithField("file", f).Info("applied migration")
	}
	return nil
}
