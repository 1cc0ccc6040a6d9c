package walletsvc

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/keycortex/walletd/internal/apierr"
	"github.com/keycortex/walletd/internal/keystore"
)

const opsAdminRole = "ops-admin"

// requireOpsAccess verifies the bearer token and the ops-admin role,
// auditing both successful and denied attempts, matching ops.rs's
// require_ops_access. Denied paths always return 401, never 403, so a
// caller can't distinguish "wrong role" from "no token" by status code
// alone.
func (s *Service) requireOpsAccess(w http.ResponseWriter, r *http.Request) bool {
	principal, err := s.bearerPrincipal(r)
	if err != nil || principal == nil || !principal.HasRole(opsAdminRole) {
		userID := ""
		if principal != nil {
			userID = principal.UserID
		}
		s.audit("ops_access", "", userID, "denied", r.URL.Path)
		apierr.Write(w, apierr.Unauthorized("ops access requires an ops-admin bearer token"))
		return false
	}
	s.audit("ops_access", "", principal.UserID, "success", r.URL.Path)
	return true
}

// OpsGetBinding returns a wallet's binding record for operational review.
func (s *Service) OpsGetBinding(w http.ResponseWriter, r *http.Request) {
	if !s.requireOpsAccess(w, r) {
		return
	}
	address := chi.URLParam(r, "address")
	rec, ok, err := s.Repo.LoadBinding(address)
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to load binding", err))
		return
	}
	if !ok {
		apierr.Write(w, apierr.NotFound("binding not found"))
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// OpsListAudit returns audit events, filtered by wallet address, event
// type, and/or outcome, newest first, clamped to at most 500 results.
func (s *Service) OpsListAudit(w http.ResponseWriter, r *http.Request) {
	if !s.requireOpsAccess(w, r) {
		return
	}
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			limit = parsed
		}
	}
	filter := keystore.AuditFilter{
		Address:   r.URL.Query().Get("wallet_address"),
		EventType: r.URL.Query().Get("event_type"),
		Outcome:   r.URL.Query().Get("outcome"),
		Limit:     limit,
	}
	events, err := s.Repo.ListAudit(filter)
	if err != nil {
		apierr.Write(w, apierr.Internal("failed to list audit events", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"events": events})
}
