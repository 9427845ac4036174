package web

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/horizon/portal-ledger/internal/core"
)

// handleRevoke deletes every row of a batch. At most one call per batch key
// succeeds; later calls get 409.
func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")
	batchKey := chi.URLParam(r, "batchKey")

	result, err := s.service.Revoke(r.Context(), entityType, batchKey)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	w.Header().Set("X-Audit-Id", strconv.FormatInt(result.AuditID, 10))
	w.Header().Set("X-Rows-Deleted", strconv.Itoa(result.RowsDeleted))
	w.WriteHeader(http.StatusNoContent)
}

// handleRevokedBatches lists every revoked batch key of an entity type.
func (s *Server) handleRevokedBatches(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")

	keys, err := s.service.RevokedBatchKeys(r.Context(), entityType)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if keys == nil {
		keys = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entityType": entityType,
		"batchKeys":  keys,
	})
}

// handleGetBatch returns the sentinel row of a batch.
func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	b, err := s.service.GetBatch(r.Context(), chi.URLParam(r, "entityType"), chi.URLParam(r, "batchKey"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// handleBatchRecords returns the live rows of a batch.
func (s *Server) handleBatchRecords(w http.ResponseWriter, r *http.Request) {
	rows, err := s.service.BatchRecords(r.Context(), chi.URLParam(r, "entityType"), chi.URLParam(r, "batchKey"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"columns": core.RevenueColumns,
		"rows":    rows,
	})
}

// handleHealth reports store reachability and import slot usage.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	if err := s.service.Ping(ctx); err != nil {
		status, code = "unavailable", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]any{
		"status":  status,
		"imports": s.service.Limiter().Status(),
	})
}
