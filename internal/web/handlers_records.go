package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/horizon/portal-ledger/internal/core"
)

func (s *Server) handleGetRecord(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	rec, err := s.service.GetRecord(r.Context(), chi.URLParam(r, "entityType"), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// handleUpdateRecord replaces the editable fields of one record.
func (s *Server) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var in core.RevenueInput
	if err := decodeJSON(w, r, &in); err != nil {
		s.respondError(w, r, err)
		return
	}

	rec, err := s.service.UpdateRecord(r.Context(), chi.URLParam(r, "entityType"), id, in)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	if err := s.service.DeleteRecord(r.Context(), chi.URLParam(r, "entityType"), id); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
