package web

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/horizon/portal-ledger/internal/core"
	"github.com/horizon/portal-ledger/internal/logging"
)

// handleAuditLog returns one page of the ledger, newest first.
func (s *Server) handleAuditLog(w http.ResponseWriter, r *http.Request) {
	q, err := parseAuditQuery(r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	page, err := s.service.AuditLog(r.Context(), q)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if page.Content == nil {
		page.Content = []core.AuditEntry{}
	}
	writeJSON(w, http.StatusOK, page)
}

// auditEntryView is an entry with its snapshots rendered for display.
type auditEntryView struct {
	*core.AuditEntry
	RenderedBefore *core.RenderedSnapshot `json:"renderedBefore,omitempty"`
	RenderedAfter  *core.RenderedSnapshot `json:"renderedAfter,omitempty"`
}

func (s *Server) handleAuditEntry(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	entry, err := s.service.GetAuditEntry(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	view := auditEntryView{AuditEntry: entry}
	if entry.SnapshotBefore != nil {
		before := core.Render(entry.SnapshotBefore)
		view.RenderedBefore = &before
	}
	if entry.SnapshotAfter != nil {
		after := core.Render(entry.SnapshotAfter)
		view.RenderedAfter = &after
	}
	writeJSON(w, http.StatusOK, view)
}

// handleAuditSnapshot renders one side of an entry as JSON, or as an HTML
// fragment when the client asks for text/html or ?format=html.
func (s *Server) handleAuditSnapshot(w http.ResponseWriter, r *http.Request) {
	id, err := parsePathID(r, "id")
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	entry, err := s.service.GetAuditEntry(r.Context(), id)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	var snap *core.Snapshot
	switch side := chi.URLParam(r, "side"); side {
	case "before":
		snap = entry.SnapshotBefore
	case "after":
		snap = entry.SnapshotAfter
	default:
		s.respondError(w, r, badRequest("snapshot side must be before or after, got %q", side))
		return
	}
	if snap == nil {
		s.respondError(w, r, fmt.Errorf("%w: entry %d has no %s snapshot", core.ErrAuditNotFound, id, chi.URLParam(r, "side")))
		return
	}

	if wantsHTML(r) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := core.RenderHTML(snap).Render(r.Context(), w); err != nil {
			logging.FromContext(r.Context()).Error("render snapshot", "audit_id", id, "error", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, core.Render(snap))
}

func wantsHTML(r *http.Request) bool {
	if r.URL.Query().Get("format") == "html" {
		return true
	}
	return strings.Contains(r.Header.Get("Accept"), "text/html")
}

// handleVerifyStream re-hashes the stream of one entity.
func (s *Server) handleVerifyStream(w http.ResponseWriter, r *http.Request) {
	v, err := s.service.VerifyStream(r.Context(), r.URL.Query().Get("entityType"), r.URL.Query().Get("entityId"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

// handleRecordChange appends a change reported by a collaborating service.
func (s *Server) handleRecordChange(w http.ResponseWriter, r *http.Request) {
	var req core.ChangeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, err)
		return
	}

	entry, err := s.service.RecordChange(r.Context(), req)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}
