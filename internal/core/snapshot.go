package core

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// SnapshotKind tags the shape of a snapshot payload.
type SnapshotKind string

const (
	SnapshotObject   SnapshotKind = "object"   // field/value pairs
	SnapshotList     SnapshotKind = "list"     // itemized rows
	SnapshotRedacted SnapshotKind = "redacted" // whole payload withheld
)

// Snapshot is the stored before/after state of an audit entry. Payload is
// canonical JSON (sorted keys, no insignificant whitespace) so the hash of an
// entry does not depend on how the database returns it.
type Snapshot struct {
	Kind SnapshotKind `json:"kind"`

	// Columns fixes the display order of list rows.
	Columns []string `json:"columns,omitempty"`

	Payload json.RawMessage `json:"payload,omitempty"`
}

// redactedKey is the only member of the marker object.
const redactedKey = "$redacted"

// Redacted is the typed marker stored in place of a sensitive value. It
// serializes as {"$redacted":true}, which a CSV cell or text field cannot
// produce since those are always JSON strings.
type Redacted struct{}

func (Redacted) MarshalJSON() ([]byte, error) {
	return []byte(`{"` + redactedKey + `":true}`), nil
}

// Redact returns a copy of fields with the named keys replaced by the
// Redacted marker. Keys that are absent stay absent.
func Redact(fields map[string]any, sensitive ...string) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	for _, k := range sensitive {
		if _, ok := out[k]; ok {
			out[k] = Redacted{}
		}
	}
	return out
}

// IsRedacted reports whether raw is exactly the Redacted marker.
func IsRedacted(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return false
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil || len(m) != 1 {
		return false
	}
	v, ok := m[redactedKey]
	return ok && string(bytes.TrimSpace(v)) == "true"
}

// NewObjectSnapshot marshals v, which must encode as a JSON object.
func NewObjectSnapshot(v any) (*Snapshot, error) {
	payload, err := canonicalPayload(v)
	if err != nil {
		return nil, err
	}
	if payload[0] != '{' {
		return nil, fmt.Errorf("object snapshot: payload is not a JSON object")
	}
	return &Snapshot{Kind: SnapshotObject, Payload: payload}, nil
}

// NewListSnapshot marshals rows, which must encode as a JSON array.
// columns sets the display order of the row fields.
func NewListSnapshot(columns []string, rows any) (*Snapshot, error) {
	payload, err := canonicalPayload(rows)
	if err != nil {
		return nil, err
	}
	if payload[0] != '[' {
		return nil, fmt.Errorf("list snapshot: payload is not a JSON array")
	}
	return &Snapshot{Kind: SnapshotList, Columns: columns, Payload: payload}, nil
}

// NewRedactedSnapshot withholds an entire state.
func NewRedactedSnapshot() *Snapshot {
	return &Snapshot{Kind: SnapshotRedacted}
}

// Validate checks that the tag matches the payload shape.
func (s *Snapshot) Validate() error {
	if s == nil {
		return nil
	}
	payload := bytes.TrimSpace(s.Payload)
	switch s.Kind {
	case SnapshotObject:
		if len(payload) == 0 || payload[0] != '{' {
			return fmt.Errorf("object snapshot must carry a JSON object")
		}
	case SnapshotList:
		if len(payload) == 0 || payload[0] != '[' {
			return fmt.Errorf("list snapshot must carry a JSON array")
		}
	case SnapshotRedacted:
		if len(payload) != 0 && string(payload) != "null" {
			return fmt.Errorf("redacted snapshot must not carry a payload")
		}
	default:
		return fmt.Errorf("unknown snapshot kind %q", s.Kind)
	}
	return nil
}

// Canonical returns a copy whose payload is in canonical form.
func (s *Snapshot) Canonical() (*Snapshot, error) {
	if s == nil {
		return nil, nil
	}
	out := &Snapshot{Kind: s.Kind, Columns: s.Columns}
	if s.Kind == SnapshotRedacted {
		return out, nil
	}
	payload, err := canonicalJSON(s.Payload)
	if err != nil {
		return nil, err
	}
	out.Payload = payload
	return out, nil
}

// Objects decodes an object payload as one map or a list payload as a slice
// of maps. Values stay raw so nothing is reinterpreted.
func (s *Snapshot) Objects() ([]map[string]json.RawMessage, error) {
	if s == nil || s.Kind == SnapshotRedacted {
		return nil, nil
	}
	if s.Kind == SnapshotObject {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(s.Payload, &m); err != nil {
			return nil, fmt.Errorf("decode object snapshot: %w", err)
		}
		return []map[string]json.RawMessage{m}, nil
	}
	var rows []json.RawMessage
	if err := json.Unmarshal(s.Payload, &rows); err != nil {
		return nil, fmt.Errorf("decode list snapshot: %w", err)
	}
	out := make([]map[string]json.RawMessage, 0, len(rows))
	for _, r := range rows {
		var m map[string]json.RawMessage
		if err := json.Unmarshal(r, &m); err != nil {
			// scalar list items have no fields to inspect
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// CheckRedaction returns ErrRedactionPolicy when any sensitive field of any
// object in s holds something other than the Redacted marker.
func CheckRedaction(s *Snapshot, sensitive []string) error {
	if s == nil || len(sensitive) == 0 {
		return nil
	}
	objs, err := s.Objects()
	if err != nil {
		return err
	}
	for _, obj := range objs {
		for _, field := range sensitive {
			v, ok := obj[field]
			if ok && !IsRedacted(v) {
				return fmt.Errorf("%w: field %q is not redacted", ErrRedactionPolicy, field)
			}
		}
	}
	return nil
}

// canonicalPayload marshals v and canonicalizes the result.
func canonicalPayload(v any) (json.RawMessage, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return canonicalJSON(raw)
}

// canonicalJSON re-encodes raw with sorted object keys. Numbers are kept as
// written.
func canonicalJSON(raw []byte) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("canonicalize snapshot: %w", err)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("canonicalize snapshot: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
