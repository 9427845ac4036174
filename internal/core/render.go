package core

import (
	"bytes"
	"encoding/json"
	"sort"
	"strings"
)

// WithheldMarker replaces redacted values in rendered output.
const WithheldMarker = "sensitive data withheld"

// RenderedField is one field/value pair of an object snapshot.
type RenderedField struct {
	Name     string `json:"name"`
	Value    string `json:"value"`
	Withheld bool   `json:"withheld,omitempty"`
}

// RenderedSnapshot is a display-ready snapshot. Exactly one of Fields or
// Columns/Rows is set, unless the whole snapshot is withheld. WithheldCells
// parallels Rows and flags the cells that replaced a Redacted marker.
type RenderedSnapshot struct {
	Kind          SnapshotKind    `json:"kind"`
	Withheld      bool            `json:"withheld,omitempty"`
	Message       string          `json:"message,omitempty"`
	Fields        []RenderedField `json:"fields,omitempty"`
	Columns       []string        `json:"columns,omitempty"`
	Rows          [][]string      `json:"rows,omitempty"`
	WithheldCells [][]bool        `json:"withheldCells,omitempty"`
}

// Render turns a stored snapshot into a display structure, dispatching on its
// kind. The Redacted marker is shown as WithheldMarker wherever it appears;
// the renderer never decides what to redact.
func Render(s *Snapshot) RenderedSnapshot {
	if s == nil {
		return RenderedSnapshot{}
	}

	switch s.Kind {
	case SnapshotRedacted:
		return withheld()
	case SnapshotObject:
		if IsRedacted(s.Payload) {
			return withheld()
		}
		return renderObject(s.Payload)
	case SnapshotList:
		return renderList(s.Columns, s.Payload)
	default:
		return RenderedSnapshot{Kind: s.Kind, Message: "unrecognized snapshot"}
	}
}

func withheld() RenderedSnapshot {
	return RenderedSnapshot{Kind: SnapshotRedacted, Withheld: true, Message: WithheldMarker}
}

func renderObject(payload json.RawMessage) RenderedSnapshot {
	out := RenderedSnapshot{Kind: SnapshotObject}

	var m map[string]json.RawMessage
	if err := json.Unmarshal(payload, &m); err != nil {
		out.Message = "unreadable snapshot"
		return out
	}

	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)

	for _, name := range names {
		value, hidden := renderValue(m[name])
		out.Fields = append(out.Fields, RenderedField{Name: name, Value: value, Withheld: hidden})
	}
	return out
}

func renderList(columns []string, payload json.RawMessage) RenderedSnapshot {
	out := RenderedSnapshot{Kind: SnapshotList}

	var items []json.RawMessage
	if err := json.Unmarshal(payload, &items); err != nil {
		out.Message = "unreadable snapshot"
		return out
	}

	rows := make([]map[string]json.RawMessage, len(items))
	cols := append([]string(nil), columns...)
	seen := make(map[string]bool, len(cols))
	for _, c := range cols {
		seen[c] = true
	}
	for i, item := range items {
		var m map[string]json.RawMessage
		if IsRedacted(item) || json.Unmarshal(item, &m) != nil {
			// a withheld or scalar item becomes a single-cell row
			m = map[string]json.RawMessage{"value": item}
		}
		rows[i] = m
		keys := make([]string, 0, len(m))
		for k := range m {
			if !seen[k] {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			seen[k] = true
			cols = append(cols, k)
		}
	}

	out.Columns = cols
	out.Rows = make([][]string, len(rows))
	out.WithheldCells = make([][]bool, len(rows))
	for i, m := range rows {
		row := make([]string, len(cols))
		hidden := make([]bool, len(cols))
		for j, c := range cols {
			if v, ok := m[c]; ok {
				row[j], hidden[j] = renderValue(v)
			}
		}
		out.Rows[i] = row
		out.WithheldCells[i] = hidden
	}
	return out
}

// renderValue formats one JSON value for display. Nested structures are shown
// as compact JSON with any marker inside replaced.
func renderValue(raw json.RawMessage) (string, bool) {
	raw = bytes.TrimSpace(raw)
	if IsRedacted(raw) {
		return WithheldMarker, true
	}
	if len(raw) == 0 || string(raw) == "null" {
		return "", false
	}

	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s, false
		}
	case '{', '[':
		return maskNested(raw), false
	}
	return string(raw), false
}

// maskNested re-encodes a nested value with markers swapped for the
// withheld text.
func maskNested(raw json.RawMessage) string {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return string(raw)
	}
	masked, err := json.Marshal(replaceMarkers(v))
	if err != nil {
		return string(raw)
	}
	return strings.TrimSpace(string(masked))
}

func replaceMarkers(v any) any {
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 1 {
			if b, ok := t[redactedKey].(bool); ok && b {
				return WithheldMarker
			}
		}
		for k, child := range t {
			t[k] = replaceMarkers(child)
		}
		return t
	case []any:
		for i, child := range t {
			t[i] = replaceMarkers(child)
		}
		return t
	default:
		return v
	}
}
