package export

import (
	"bytes"
	"html/template"
	"time"
)

var (
	invoiceTemplate = template.Must(template.New("invoice").Funcs(templateFuncs).Parse(invoiceHTML))
	noteTemplate    = template.Must(template.New("note").Funcs(templateFuncs).Parse(noteHTML))
)

var templateFuncs = template.FuncMap{
	"formatDate": func(t time.Time) string {
		return t.Format("Jan 2, 2006")
	},
	"safeHTML": func(s string) template.HTML {
		return template.HTML(s)
	},
}

// RenderInvoiceHTML renders the invoice template.
func RenderInvoiceHTML(data InvoiceData) (string, error) {
	var buf bytes.Buffer
	if err := invoiceTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// noteTemplateData is NoteData with the body pre-rendered.
type noteTemplateData struct {
	Title       string
	Author      string
	UpdatedAt   time.Time
	ContentHTML template.HTML
}

// RenderNoteHTML renders the note template with the block body as HTML.
func RenderNoteHTML(data NoteData) (string, error) {
	var buf bytes.Buffer
	err := noteTemplate.Execute(&buf, noteTemplateData{
		Title:       data.Title,
		Author:      data.Author,
		UpdatedAt:   data.UpdatedAt,
		ContentHTML: template.HTML(BlocksToHTML(data.Body)),
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}

const invoiceHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>Invoice {{.Number}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; color: #222; max-width: 800px; margin: 2rem auto; }
    .head { display: flex; justify-content: space-between; border-bottom: 2px solid #333; padding-bottom: 1rem; }
    .brand { font-size: 1.6em; font-weight: bold; }
    .meta { color: #666; font-size: 0.9em; }
    .parties { margin: 2rem 0; }
    table { width: 100%; border-collapse: collapse; margin: 2rem 0; }
    th, td { text-align: left; padding: 0.6rem; border-bottom: 1px solid #ddd; }
    .total td { font-weight: bold; border-top: 2px solid #333; font-size: 1.1em; }
    .status { text-transform: uppercase; letter-spacing: 0.05em; color: #666; }
    .pay { margin-top: 2rem; font-size: 0.9em; color: #666; word-break: break-all; }
  </style>
</head>
<body>
  <div class="head">
    <div>
      <div class="brand">Caseflow</div>
      <div class="meta">Invoice {{.Number}} &middot; <span class="status">{{.Status}}</span></div>
    </div>
    <div class="meta">Issued {{formatDate .IssuedAt}}</div>
  </div>

  <div class="parties">
    <strong>Billed to</strong><br>
    {{.ClientName}}<br>
    {{if .BillingAddress}}{{.BillingAddress}}<br>{{end}}
    {{.ClientEmail}}
  </div>

  <table>
    <tr><th>Description</th><th>Amount</th></tr>
    <tr>
      <td>{{.CaseTitle}}{{if .Description}} &mdash; {{.Description}}{{end}}</td>
      <td>{{.Amount}}</td>
    </tr>
    <tr class="total"><td>Total due</td><td>{{.Amount}}</td></tr>
  </table>

  {{if .PaymentURL}}<div class="pay">Pay online: {{.PaymentURL}}</div>{{end}}
</body>
</html>`

const noteHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; max-width: 800px; margin: 2rem auto; }
    h1.doc-title { border-bottom: 2px solid #333; padding-bottom: 0.5rem; }
    .meta { color: #666; font-size: 0.9em; margin-bottom: 2rem; }
    blockquote { border-left: 3px solid #333; margin: 1rem 0; padding: 0.2rem 1rem; background: #f5f5f5; }
    pre { background: #f5f5f5; padding: 1rem; overflow-x: auto; }
  </style>
</head>
<body>
  <h1 class="doc-title">{{.Title}}</h1>
  <div class="meta">{{.Author}} | {{formatDate .UpdatedAt}}</div>
  <div>{{.ContentHTML}}</div>
</body>
</html>`
