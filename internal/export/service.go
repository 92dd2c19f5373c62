package export

import "fmt"

// ExportInvoice renders an invoice to PDF.
func ExportInvoice(data InvoiceData) (*Result, error) {
	html, err := RenderInvoiceHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render invoice template: %w", err)
	}
	return exportPDF(html, "invoice-"+data.Number)
}

// ExportNote renders a wiki note to the requested format.
func ExportNote(data NoteData, format Format) (*Result, error) {
	html, err := RenderNoteHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render note template: %w", err)
	}

	switch format {
	case FormatPDF:
		return exportPDF(html, data.Title)
	case FormatDOCX:
		return exportDOCX(html, data.Title)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}
