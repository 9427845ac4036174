package core

import (
	"context"
	"io"
	"strings"

	"github.com/a-h/templ"
)

// RenderHTML renders a snapshot as an HTML fragment for embedding in audit
// pages. Withheld values are shown with the "withheld" class.
func RenderHTML(s *Snapshot) templ.Component {
	r := Render(s)
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder

		switch {
		case r.Withheld:
			b.WriteString(`<p class="snapshot withheld">`)
			b.WriteString(templ.EscapeString(WithheldMarker))
			b.WriteString(`</p>`)

		case r.Kind == SnapshotObject:
			b.WriteString(`<dl class="snapshot object">`)
			for _, f := range r.Fields {
				b.WriteString(`<dt>`)
				b.WriteString(templ.EscapeString(f.Name))
				b.WriteString(`</dt>`)
				writeCell(&b, "dd", f.Value, f.Withheld)
			}
			b.WriteString(`</dl>`)

		case r.Kind == SnapshotList:
			b.WriteString(`<table class="snapshot list"><thead><tr>`)
			for _, c := range r.Columns {
				b.WriteString(`<th>`)
				b.WriteString(templ.EscapeString(c))
				b.WriteString(`</th>`)
			}
			b.WriteString(`</tr></thead><tbody>`)
			for i, row := range r.Rows {
				b.WriteString(`<tr>`)
				for j, cell := range row {
					writeCell(&b, "td", cell, r.WithheldCells[i][j])
				}
				b.WriteString(`</tr>`)
			}
			b.WriteString(`</tbody></table>`)

		default:
			b.WriteString(`<p class="snapshot empty">`)
			b.WriteString(templ.EscapeString(r.Message))
			b.WriteString(`</p>`)
		}

		_, err := io.WriteString(w, b.String())
		return err
	})
}

func writeCell(b *strings.Builder, tag, value string, withheld bool) {
	if withheld {
		b.WriteString(`<` + tag + ` class="withheld">`)
	} else {
		b.WriteString(`<` + tag + `>`)
	}
	b.WriteString(templ.EscapeString(value))
	b.WriteString(`</` + tag + `>`)
}
