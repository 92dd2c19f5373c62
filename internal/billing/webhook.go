package billing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// SignatureHeader is the header carrying the webhook HMAC.
const SignatureHeader = "X-Processor-Signature"

// Webhook event types the processor sends.
const (
	EventInvoicePaid   = "invoice.paid"
	EventInvoiceVoided = "invoice.voided"
)

// ErrBadSignature indicates a webhook payload whose HMAC does not verify.
var ErrBadSignature = errors.New("webhook signature mismatch")

// WebhookEvent is the body of a processor webhook delivery.
type WebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		InvoiceID  string `json:"invoice_id"`
		Status     string `json:"status"`
		ReceiptURL string `json:"receipt_url"`
	} `json:"data"`
}

// SignPayload computes the hex HMAC-SHA256 of a webhook body. The processor
// sends this in SignatureHeader; tests use it to build valid deliveries.
func SignPayload(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ParseWebhook verifies the signature and decodes the event.
func ParseWebhook(secret string, body []byte, signature string) (WebhookEvent, error) {
	expected := SignPayload(secret, body)
	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return WebhookEvent{}, ErrBadSignature
	}

	var event WebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return WebhookEvent{}, fmt.Errorf("decode webhook: %w", err)
	}
	if event.ID == "" || event.Type == "" {
		return WebhookEvent{}, errors.New("webhook event missing id or type")
	}
	return event, nil
}
