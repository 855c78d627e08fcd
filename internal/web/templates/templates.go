// Package templates renders the admin pages of the import service.
//
// Components are plain templ.ComponentFunc values so they compose with
// any templ-generated component and render through the same interface.
package templates

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"

	"github.com/JonMunkholm/csvimport/internal/core"
)

// Flash messages shown on the import page after a decision.
const (
	MsgCancelled  = "Import cancelled and data deleted"
	MsgProcessing = "Import is processing, it may take some time to complete."
)

var esc = templ.EscapeString

// writer collects the first write error so components can emit markup
// without checking every call.
type writer struct {
	w   io.Writer
	err error
}

func (w *writer) printf(format string, args ...any) {
	if w.err != nil {
		return
	}
	_, w.err = fmt.Fprintf(w.w, format, args...)
}

func (w *writer) render(ctx context.Context, c templ.Component) {
	if w.err != nil {
		return
	}
	w.err = c.Render(ctx, w.w)
}

// Layout wraps a page body.
func Layout(title string, body templ.Component) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		w := &writer{w: out}
		w.printf(`<!DOCTYPE html><html lang="en"><head><meta charset="utf-8">`)
		w.printf(`<meta name="viewport" content="width=device-width, initial-scale=1">`)
		w.printf(`<title>%s - CSV Import</title></head><body>`, esc(title))
		w.printf(`<header><a href="/">CSV Import</a></header><main>`)
		w.render(ctx, body)
		w.printf(`</main></body></html>`)
		return w.err
	})
}

// Dashboard lists the importers the operator may use and recent uploads.
func Dashboard(importers []*core.Importer, records []core.RecordSummary) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		w := &writer{w: out}
		w.printf(`<h1>Importers</h1>`)
		if len(importers) == 0 {
			w.printf(`<p>No importers are available to you.</p>`)
		} else {
			w.printf(`<ul class="importers">`)
			for _, imp := range importers {
				w.printf(`<li><a href="/import/%s">%s</a>`, esc(imp.Slug), esc(imp.Name))
				if imp.Description != "" {
					w.printf(` <span>%s</span>`, esc(imp.Description))
				}
				if imp.Inert() {
					w.printf(` <em>(uploads only)</em>`)
				}
				w.printf(`</li>`)
			}
			w.printf(`</ul>`)
		}

		w.printf(`<h2>Uploads</h2>`)
		if len(records) == 0 {
			w.printf(`<p>No uploads waiting or in progress.</p>`)
			return w.err
		}
		w.printf(`<table><thead><tr><th>Title</th><th>Importer</th><th>Author</th><th>Status</th></tr></thead><tbody>`)
		for _, r := range records {
			status := "awaiting review"
			if r.Running {
				status = fmt.Sprintf("importing, %d%%", r.Percent())
			}
			w.printf(`<tr><td><a href="/import/%s?csv_id=%s">%s</a></td><td>%s</td><td>%s</td><td>%s</td></tr>`,
				esc(r.ImporterSlug), r.ID, esc(r.Title), esc(r.ImporterSlug), esc(r.Author), status)
		}
		w.printf(`</tbody></table>`)
		return w.err
	})
}

// ImportPageData is everything the import page shows.
type ImportPageData struct {
	Importer *core.Importer
	Message  string
	Preview  *core.Preview
	Error    *core.UserMessage
}

// ImportPage shows the upload form, or the preview of an uploaded file
// with the import and cancel buttons.
func ImportPage(d ImportPageData) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		w := &writer{w: out}
		imp := d.Importer
		w.printf(`<h1>%s</h1>`, esc(imp.Name))

		if d.Message != "" {
			w.printf(`<div class="notice notice-success">%s</div>`, esc(d.Message))
		}
		if d.Error != nil {
			w.render(ctx, ErrorAlert(d.Error.Message, d.Error.Action, d.Error.Code))
		}

		if d.Preview != nil {
			w.render(ctx, PreviewTable(imp, d.Preview))
			return w.err
		}

		if imp.Description != "" {
			w.printf(`<p>%s</p>`, esc(imp.Description))
		}
		if len(imp.Headers) > 0 {
			w.printf(`<p>Expected columns: <code>%s</code> (<a href="/import/%s/template">download template</a>)</p>`,
				esc(strings.Join(imp.Headers, ", ")), esc(imp.Slug))
		}
		w.printf(`<form method="post" action="/import/%s/upload" enctype="multipart/form-data">`, esc(imp.Slug))
		w.printf(`<input type="file" name="csv_upload" accept=".csv,text/csv" required>`)
		w.printf(`<button type="submit">Upload</button></form>`)
		return w.err
	})
}

// PreviewTable renders header mismatches, importer notes, the first rows
// and the decision form.
func PreviewTable(imp *core.Importer, p *core.Preview) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		w := &writer{w: out}
		w.printf(`<h2>%s</h2>`, esc(p.Title))

		for _, m := range p.Mismatches {
			w.printf(`<div class="notice notice-warning">%s</div>`, esc(m.String()))
		}
		for _, n := range p.Notes {
			w.printf(`<div class="notice notice-info">%s</div>`, esc(n))
		}

		w.printf(`<table class="preview"><thead><tr>`)
		for _, h := range p.Header {
			w.printf(`<th>%s</th>`, esc(h))
		}
		w.printf(`</tr></thead><tbody>`)
		for _, row := range p.Rows {
			w.printf(`<tr>`)
			for i := range p.Header {
				cell := ""
				if i < len(row) {
					cell = row[i]
				}
				w.printf(`<td>%s</td>`, esc(cell))
			}
			w.printf(`</tr>`)
		}
		w.printf(`</tbody></table>`)
		if p.Truncated() {
			w.printf(`<p>Showing %d of %d rows.</p>`, len(p.Rows), p.TotalRows)
		} else {
			w.printf(`<p>%d rows.</p>`, p.TotalRows)
		}

		w.printf(`<form method="post" action="/import/%s/process">`, esc(imp.Slug))
		w.printf(`<input type="hidden" name="csv_id" value="%s">`, p.RecordID)
		if !imp.Inert() {
			w.printf(`<button type="submit" name="import" value="1">Import</button>`)
		}
		w.printf(`<button type="submit" name="cancel" value="1">Cancel</button></form>`)
		return w.err
	})
}

// ErrorAlert renders an operator-facing error with its support code.
func ErrorAlert(message, action, code string) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, out io.Writer) error {
		w := &writer{w: out}
		w.printf(`<div class="notice notice-error" role="alert"><strong>%s</strong>`, esc(message))
		if action != "" {
			w.printf(` <span>%s</span>`, esc(action))
		}
		if code != "" {
			w.printf(` <small>(Code: %s)</small>`, esc(code))
		}
		w.printf(`</div>`)
		return w.err
	})
}
