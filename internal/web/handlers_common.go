package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/horizon/portal-ledger/internal/core"
)

// maxJSONBody bounds JSON request bodies.
const maxJSONBody = 1 << 20

// dateOnly is the calendar-day form accepted by date query parameters.
const dateOnly = "2006-01-02"

// parsePathID parses an int64 URL parameter.
func parsePathID(r *http.Request, name string) (int64, error) {
	raw := chi.URLParam(r, name)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		return 0, badRequest("invalid %s %q", name, raw)
	}
	return id, nil
}

// parseIntQuery parses an optional non-negative integer query parameter.
func parseIntQuery(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, badRequest("invalid %s %q", name, raw)
	}
	return n, nil
}

// parseTimeQuery accepts RFC 3339 timestamps or calendar days. A calendar
// day used as an upper bound covers the whole day.
func parseTimeQuery(r *http.Request, name string, upper bool) (time.Time, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	day, err := time.Parse(dateOnly, raw)
	if err != nil {
		return time.Time{}, badRequest("invalid %s %q: use YYYY-MM-DD or RFC 3339", name, raw)
	}
	if upper {
		return day.Add(24*time.Hour - time.Nanosecond), nil
	}
	return day, nil
}

// parseAuditQuery reads page, size and the filters of GET /audit.
func parseAuditQuery(r *http.Request) (core.AuditQuery, error) {
	var q core.AuditQuery
	var err error

	if q.Page, err = parseIntQuery(r, "page"); err != nil {
		return q, err
	}
	if q.Size, err = parseIntQuery(r, "size"); err != nil {
		return q, err
	}

	v := r.URL.Query()
	q.EntityType = strings.TrimSpace(v.Get("entityType"))
	q.EntityID = strings.TrimSpace(v.Get("entityId"))
	q.Operator = strings.TrimSpace(v.Get("operator"))
	if a := strings.TrimSpace(v.Get("action")); a != "" {
		q.Action = core.AuditAction(strings.ToUpper(a))
	}

	if q.From, err = parseTimeQuery(r, "dateFrom", false); err != nil {
		return q, err
	}
	if q.To, err = parseTimeQuery(r, "dateTo", true); err != nil {
		return q, err
	}
	return q, nil
}

// decodeJSON reads a bounded JSON body into v, refusing unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return fmt.Errorf("%w: request body over %d bytes", core.ErrFileTooLarge, mbe.Limit)
		}
		if errors.Is(err, io.EOF) {
			return badRequest("request body is empty")
		}
		return badRequest("invalid JSON: %v", err)
	}
	return nil
}
