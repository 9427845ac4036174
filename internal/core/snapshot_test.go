package core

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactedMarker(t *testing.T) {
	raw, err := json.Marshal(Redacted{})
	require.NoError(t, err)
	assert.JSONEq(t, `{"$redacted":true}`, string(raw))
	assert.True(t, IsRedacted(raw))

	for _, notMarker := range []string{
		`"{\"$redacted\":true}"`, // the marker text inside a string value
		`"[REDACTED]"`,
		`{"$redacted":true,"extra":1}`,
		`{"$redacted":false}`,
		`null`,
		``,
	} {
		assert.False(t, IsRedacted(json.RawMessage(notMarker)), notMarker)
	}
}

func TestRedact_CopiesAndReplaces(t *testing.T) {
	in := map[string]any{"name": "Ana", "password": "hunter2"}
	out := Redact(in, "password", "token")

	assert.Equal(t, "hunter2", in["password"], "input must not be modified")
	assert.Equal(t, Redacted{}, out["password"])
	_, hasToken := out["token"]
	assert.False(t, hasToken, "absent keys stay absent")
}

func TestNewSnapshots_ShapeChecked(t *testing.T) {
	_, err := NewObjectSnapshot([]int{1, 2})
	assert.Error(t, err)

	_, err = NewListSnapshot(nil, map[string]int{"a": 1})
	assert.Error(t, err)

	s, err := NewObjectSnapshot(map[string]any{"b": 2, "a": 1})
	require.NoError(t, err)
	assert.Equal(t, `{"a":1,"b":2}`, string(s.Payload), "payload keys are sorted")
	assert.NoError(t, s.Validate())
}

func TestSnapshotCanonical_StableAcrossKeyOrder(t *testing.T) {
	a := &Snapshot{Kind: SnapshotObject, Payload: json.RawMessage(`{"z": "1,50", "a": 10.50}`)}
	b := &Snapshot{Kind: SnapshotObject, Payload: json.RawMessage(`{"a":10.50,"z":"1,50"}`)}

	ca, err := a.Canonical()
	require.NoError(t, err)
	cb, err := b.Canonical()
	require.NoError(t, err)
	assert.Equal(t, string(ca.Payload), string(cb.Payload))
	assert.Equal(t, `{"a":10.50,"z":"1,50"}`, string(ca.Payload), "numbers keep their scale")
}

func TestSnapshotValidate(t *testing.T) {
	tests := []struct {
		name    string
		s       *Snapshot
		wantErr bool
	}{
		{"nil", nil, false},
		{"object ok", &Snapshot{Kind: SnapshotObject, Payload: json.RawMessage(`{}`)}, false},
		{"list ok", &Snapshot{Kind: SnapshotList, Payload: json.RawMessage(`[]`)}, false},
		{"redacted ok", &Snapshot{Kind: SnapshotRedacted}, false},
		{"object with array", &Snapshot{Kind: SnapshotObject, Payload: json.RawMessage(`[]`)}, true},
		{"list with object", &Snapshot{Kind: SnapshotList, Payload: json.RawMessage(`{}`)}, true},
		{"redacted with payload", &Snapshot{Kind: SnapshotRedacted, Payload: json.RawMessage(`{"a":1}`)}, true},
		{"unknown kind", &Snapshot{Kind: "blob", Payload: json.RawMessage(`{}`)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			assert.Equal(t, tt.wantErr, err != nil, "err = %v", err)
		})
	}
}

func TestCheckRedaction(t *testing.T) {
	clear, err := NewObjectSnapshot(map[string]any{"login": "ana", "password": "hunter2"})
	require.NoError(t, err)
	err = CheckRedaction(clear, []string{"password"})
	assert.True(t, errors.Is(err, ErrRedactionPolicy))

	redacted, err := NewObjectSnapshot(Redact(map[string]any{"login": "ana", "password": "hunter2"}, "password"))
	require.NoError(t, err)
	assert.NoError(t, CheckRedaction(redacted, []string{"password"}))

	list, err := NewListSnapshot(nil, []map[string]any{{"password": Redacted{}}, {"password": "x"}})
	require.NoError(t, err)
	assert.True(t, errors.Is(CheckRedaction(list, []string{"password"}), ErrRedactionPolicy))

	assert.NoError(t, CheckRedaction(NewRedactedSnapshot(), []string{"password"}))
}

func TestRender_Object(t *testing.T) {
	s, err := NewObjectSnapshot(map[string]any{
		"rowCount": 2,
		"fileName": "jan.csv",
		"secret":   Redacted{},
		"note":     nil,
	})
	require.NoError(t, err)

	r := Render(s)
	assert.Equal(t, SnapshotObject, r.Kind)
	require.Len(t, r.Fields, 4)
	assert.Equal(t, RenderedField{Name: "fileName", Value: "jan.csv"}, r.Fields[0])
	assert.Equal(t, RenderedField{Name: "note", Value: ""}, r.Fields[1])
	assert.Equal(t, RenderedField{Name: "rowCount", Value: "2"}, r.Fields[2])
	assert.Equal(t, RenderedField{Name: "secret", Value: WithheldMarker, Withheld: true}, r.Fields[3])
}

func TestRender_ListUsesColumnOrder(t *testing.T) {
	rows := []map[string]any{
		{"id": 1, "origin": "1100", "extra": "x"},
		{"id": 2, "origin": "1200"},
	}
	s, err := NewListSnapshot([]string{"origin", "id"}, rows)
	require.NoError(t, err)

	r := Render(s)
	assert.Equal(t, SnapshotList, r.Kind)
	assert.Equal(t, []string{"origin", "id", "extra"}, r.Columns)
	assert.Equal(t, [][]string{{"1100", "1", "x"}, {"1200", "2", ""}}, r.Rows)
	assert.Equal(t, [][]bool{{false, false, false}, {false, false, false}}, r.WithheldCells)
}

func TestRender_MarkerTextInDataIsNotWithheld(t *testing.T) {
	rows := []map[string]any{
		{"note": WithheldMarker},
		{"note": Redacted{}},
	}
	s, err := NewListSnapshot([]string{"note"}, rows)
	require.NoError(t, err)

	r := Render(s)
	assert.Equal(t, [][]string{{WithheldMarker}, {WithheldMarker}}, r.Rows)
	assert.Equal(t, [][]bool{{false}, {true}}, r.WithheldCells)

	var html bytes.Buffer
	require.NoError(t, RenderHTML(s).Render(context.Background(), &html))
	assert.Equal(t, 1, strings.Count(html.String(), `class="withheld"`))
	assert.Contains(t, html.String(), `<tr><td>`+WithheldMarker+`</td></tr>`)
	assert.Contains(t, html.String(), `<tr><td class="withheld">`+WithheldMarker+`</td></tr>`)

	obj, err := NewObjectSnapshot(map[string]any{"note": WithheldMarker})
	require.NoError(t, err)
	html.Reset()
	require.NoError(t, RenderHTML(obj).Render(context.Background(), &html))
	assert.NotContains(t, html.String(), `class="withheld"`)
}

func TestRender_WholeSnapshotWithheld(t *testing.T) {
	// A redacted-kind snapshot never shows a payload, even a stray one.
	s := &Snapshot{Kind: SnapshotRedacted, Payload: json.RawMessage(`{"password":"hunter2"}`)}
	r := Render(s)
	assert.True(t, r.Withheld)
	assert.Empty(t, r.Fields)

	marker, err := json.Marshal(Redacted{})
	require.NoError(t, err)
	r = Render(&Snapshot{Kind: SnapshotObject, Payload: marker})
	assert.True(t, r.Withheld)
}

func TestRender_NeverExposesRedactedValues(t *testing.T) {
	secret := "hunter2-do-not-show"
	shapes := []any{
		Redact(map[string]any{"password": secret}, "password"),
		[]map[string]any{Redact(map[string]any{"password": secret, "login": "ana"}, "password")},
		map[string]any{"nested": Redact(map[string]any{"password": secret}, "password")},
		[]any{Redacted{}, Redacted{}},
	}

	for i, shape := range shapes {
		var s *Snapshot
		var err error
		if _, isMap := shape.(map[string]any); isMap {
			s, err = NewObjectSnapshot(shape)
		} else {
			s, err = NewListSnapshot(nil, shape)
		}
		require.NoError(t, err, "shape %d", i)

		out, err := json.Marshal(Render(s))
		require.NoError(t, err)
		assert.NotContains(t, string(out), secret, "shape %d", i)
		assert.NotContains(t, string(out), "$redacted", "shape %d", i)
		assert.Contains(t, string(out), WithheldMarker, "shape %d", i)

		var html bytes.Buffer
		require.NoError(t, RenderHTML(s).Render(context.Background(), &html))
		assert.NotContains(t, html.String(), secret, "shape %d", i)
	}
}

func TestSnapshotHTML_EscapesValues(t *testing.T) {
	s, err := NewObjectSnapshot(map[string]any{"note": "<script>alert(1)</script>"})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, RenderHTML(s).Render(context.Background(), &buf))
	assert.False(t, strings.Contains(buf.String(), "<script>"))
	assert.Contains(t, buf.String(), "&lt;script&gt;")
}
