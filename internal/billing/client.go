// Package billing wraps the hosted payment processor's REST API. Invoices
// created here are mirrored locally by the app layer; this package only
// speaks the wire protocol.
package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client is a payment processor REST API client.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Config holds client configuration.
type Config struct {
	URL        string
	APIKey     string
	HTTPClient *http.Client
}

// New creates a new processor client.
func New(cfg Config) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("URL is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("APIKey is required")
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 30 * time.Second,
		}
	}

	return &Client{
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: httpClient,
	}, nil
}

// Invoice is the processor's view of an invoice.
type Invoice struct {
	ID          string `json:"id"`
	Status      string `json:"status"` // draft, open, paid, void
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
	PaymentURL  string `json:"hosted_payment_url"`
	ReceiptURL  string `json:"receipt_url"`
}

// CreateInvoiceParams describes a draft invoice to create at the processor.
type CreateInvoiceParams struct {
	CustomerName  string `json:"customer_name"`
	CustomerEmail string `json:"customer_email"`
	Description   string `json:"description"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
	Reference     string `json:"reference"` // our installment id
}

// APIError is a non-2xx response from the processor.
type APIError struct {
	StatusCode int
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("processor: %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// CreateInvoice creates a draft invoice at the processor.
func (c *Client) CreateInvoice(ctx context.Context, params CreateInvoiceParams) (Invoice, error) {
	var inv Invoice
	err := c.do(ctx, http.MethodPost, "/invoices", params, &inv)
	if err != nil {
		return Invoice{}, fmt.Errorf("create invoice: %w", err)
	}
	return inv, nil
}

// FinalizeInvoice finalizes a draft. The processor assigns the hosted
// payment URL at this point.
func (c *Client) FinalizeInvoice(ctx context.Context, invoiceID string) (Invoice, error) {
	var inv Invoice
	err := c.do(ctx, http.MethodPost, "/invoices/"+invoiceID+"/finalize", nil, &inv)
	if err != nil {
		return Invoice{}, fmt.Errorf("finalize invoice: %w", err)
	}
	return inv, nil
}

// VoidInvoice voids an invoice. Voiding an already-void invoice is not an
// error at the processor, so callers can retry safely.
func (c *Client) VoidInvoice(ctx context.Context, invoiceID string) error {
	if err := c.do(ctx, http.MethodPost, "/invoices/"+invoiceID+"/void", nil, nil); err != nil {
		return fmt.Errorf("void invoice: %w", err)
	}
	return nil
}

// GetInvoice fetches the processor's current state for an invoice.
func (c *Client) GetInvoice(ctx context.Context, invoiceID string) (Invoice, error) {
	var inv Invoice
	err := c.do(ctx, http.MethodGet, "/invoices/"+invoiceID, nil, &inv)
	if err != nil {
		return Invoice{}, fmt.Errorf("get invoice: %w", err)
	}
	return inv, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if method != http.MethodGet {
		req.Header.Set("Idempotency-Key", uuid.NewString())
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = strings.TrimSpace(string(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
