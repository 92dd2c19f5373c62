// Package export renders invoices and wiki notes to PDF (headless Chrome)
// and DOCX (pandoc).
package export

import (
	"errors"
	"time"
)

// Format represents the export output format
type Format string

const (
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
)

// Result contains the export output
type Result struct {
	Data     []byte
	Filename string
	MimeType string
}

// InvoiceData holds everything the invoice template needs.
type InvoiceData struct {
	Number         string
	Status         string
	IssuedAt       time.Time
	ClientName     string
	ClientEmail    string
	BillingAddress string
	CaseTitle      string
	Description    string
	Amount         string // formatted, e.g. "EUR 250.00"
	PaymentURL     string
}

// NoteData holds everything the note template needs.
type NoteData struct {
	Title     string
	Author    string
	UpdatedAt time.Time
	Body      []byte // block JSON
}

var (
	// ErrPDFDependencyMissing indicates PDF export runtime dependencies are unavailable.
	ErrPDFDependencyMissing = errors.New("export pdf dependency missing")
	// ErrDOCXDependencyMissing indicates DOCX export runtime dependencies are unavailable.
	ErrDOCXDependencyMissing = errors.New("export docx dependency missing")
)
