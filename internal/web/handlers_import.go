package web

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/horizon/portal-ledger/internal/core"
	"github.com/horizon/portal-ledger/internal/logging"
)

const (
	// multipartOverhead is allowed on top of the file size for form framing.
	multipartOverhead = 1 << 20

	// multipartMemory is kept in memory before parts spill to disk.
	multipartMemory = 32 << 20
)

// readUpload returns the name and content of the multipart field "file".
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (string, []byte, error) {
	if limit := s.cfg.Import.MaxFileSize; limit > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limit+multipartOverhead)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return "", nil, fmt.Errorf("%w: upload over %d bytes", core.ErrFileTooLarge, s.cfg.Import.MaxFileSize)
		}
		return "", nil, badRequest("invalid form: %v", err)
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		return "", nil, badRequest("no file provided")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", nil, badRequest("read upload: %v", err)
	}
	return header.Filename, data, nil
}

// handleImport accepts one CSV file in the multipart field "file".
func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")

	fileName, data, err := s.readUpload(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	result, err := s.service.Import(r.Context(), entityType, fileName, data)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	logging.FromContext(r.Context()).Info("import accepted",
		"entity_type", entityType,
		"batch_key", result.BatchKey,
		"rows", result.RowCount,
		"file", fileName,
	)
	writeJSON(w, http.StatusCreated, result)
}

// handlePreview validates an upload without importing it.
func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	fileName, data, err := s.readUpload(w, r)
	if err != nil {
		s.respondError(w, r, err)
		return
	}

	preview, err := s.service.Preview(r.Context(), chi.URLParam(r, "entityType"), fileName, data)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, preview)
}

// handleDownloadTemplate serves the header line an import file must carry.
func (s *Server) handleDownloadTemplate(w http.ResponseWriter, r *http.Request) {
	entityType := chi.URLParam(r, "entityType")

	def, err := core.Lookup(entityType)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if !def.Ingestible() {
		s.respondError(w, r, fmt.Errorf("%w: %s", core.ErrNotIngestible, entityType))
		return
	}

	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, map[string]any{
			"entityType": entityType,
			"delimiter":  string(core.Delimiter),
			"columns":    core.Layout(def),
		})
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", entityType+"_template.csv"))
	io.WriteString(w, core.TemplateHeader(def))
}

// entityView describes one registered entity type to clients.
type entityView struct {
	Key        string             `json:"key"`
	Label      string             `json:"label"`
	Actions    []core.AuditAction `json:"actions"`
	Ingestible bool               `json:"ingestible"`
	Columns    []core.ColumnInfo  `json:"columns,omitempty"`
}

// handleListEntities lists the entity types and their audit vocabularies.
func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	defs := core.All()
	views := make([]entityView, 0, len(defs))
	for _, def := range defs {
		v := entityView{
			Key:        def.Info.Key,
			Label:      def.Info.Label,
			Actions:    def.Actions,
			Ingestible: def.Ingestible(),
		}
		if v.Ingestible {
			v.Columns = core.Layout(def)
		}
		views = append(views, v)
	}
	writeJSON(w, http.StatusOK, views)
}
