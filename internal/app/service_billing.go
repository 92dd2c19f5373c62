package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"caseflow/api/internal/billing"
	"caseflow/api/internal/export"
	"caseflow/api/internal/store"
	"caseflow/api/internal/util"
)

// Installments

func (s *Service) ListInstallments(ctx context.Context, caseID string) (map[string]any, error) {
	item, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	installments, err := s.store.ListInstallments(ctx, caseID)
	if err != nil {
		return nil, err
	}
	scheduled, err := s.store.InstallmentTotal(ctx, caseID, "")
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(installments))
	for _, installment := range installments {
		items = append(items, installmentMap(installment))
	}
	return map[string]any{
		"caseId":         caseID,
		"feeCents":       item.FeeCents,
		"scheduledCents": scheduled,
		"installments":   items,
	}, nil
}

type InstallmentInput struct {
	AmountCents int64  `json:"amountCents"`
	Currency    string `json:"currency"`
	DueDate     string `json:"dueDate"`
}

func (s *Service) CreateInstallment(ctx context.Context, caseID string, input InstallmentInput) (map[string]any, error) {
	item, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	if input.AmountCents <= 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "amountCents must be positive", nil)
	}
	dueDate, err := parseDueDate(input.DueDate)
	if err != nil {
		return nil, err
	}
	if dueDate == nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "dueDate is required", nil)
	}

	scheduled, err := s.store.InstallmentTotal(ctx, caseID, "")
	if err != nil {
		return nil, err
	}
	if scheduled+input.AmountCents > item.FeeCents {
		return nil, installmentExceedsFee(item.FeeCents, scheduled+input.AmountCents)
	}

	installment := store.Installment{
		ID:          util.NewID("ins"),
		CaseID:      caseID,
		AmountCents: input.AmountCents,
		Currency:    firstNonBlank(strings.ToUpper(strings.TrimSpace(input.Currency)), item.Currency),
		DueDate:     *dueDate,
		Status:      "pending",
	}
	if err := s.store.InsertInstallment(ctx, installment); err != nil {
		return nil, err
	}
	return installmentMap(installment), nil
}

func (s *Service) UpdateInstallment(ctx context.Context, installmentID string, input InstallmentInput) (map[string]any, error) {
	installment, err := s.store.GetInstallment(ctx, installmentID)
	if err != nil {
		return nil, err
	}
	if installment.Status != "pending" {
		return nil, domainError(http.StatusConflict, "INSTALLMENT_LOCKED", "Only pending installments can be edited", nil)
	}
	if input.AmountCents <= 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "amountCents must be positive", nil)
	}
	dueDate, err := parseDueDate(input.DueDate)
	if err != nil {
		return nil, err
	}

	item, err := s.store.GetCase(ctx, installment.CaseID)
	if err != nil {
		return nil, err
	}
	scheduled, err := s.store.InstallmentTotal(ctx, installment.CaseID, installmentID)
	if err != nil {
		return nil, err
	}
	if scheduled+input.AmountCents > item.FeeCents {
		return nil, installmentExceedsFee(item.FeeCents, scheduled+input.AmountCents)
	}

	installment.AmountCents = input.AmountCents
	if currency := strings.ToUpper(strings.TrimSpace(input.Currency)); currency != "" {
		installment.Currency = currency
	}
	if dueDate != nil {
		installment.DueDate = *dueDate
	}
	if err := s.store.UpdateInstallment(ctx, installment); err != nil {
		return nil, err
	}
	return installmentMap(installment), nil
}

func (s *Service) DeleteInstallment(ctx context.Context, installmentID string) error {
	installment, err := s.store.GetInstallment(ctx, installmentID)
	if err != nil {
		return err
	}
	if installment.Status != "pending" {
		return domainError(http.StatusConflict, "INSTALLMENT_LOCKED", "Only pending installments can be deleted", nil)
	}
	return s.store.DeleteInstallment(ctx, installmentID)
}

// Invoices. Mirroring against the processor is best-effort sequential: the
// processor call runs first and a failure surfaces to the caller with the
// local row untouched. Webhooks and Reconcile cover the gaps.

func (s *Service) ListInvoices(ctx context.Context, status string) ([]map[string]any, error) {
	invoices, err := s.store.ListInvoices(ctx, status)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(invoices))
	for _, invoice := range invoices {
		items = append(items, invoiceMap(invoice))
	}
	return items, nil
}

func (s *Service) GetInvoice(ctx context.Context, invoiceID string) (map[string]any, error) {
	invoice, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	return invoiceMap(invoice), nil
}

func (s *Service) CreateInvoice(ctx context.Context, installmentID string) (map[string]any, error) {
	if s.billing == nil {
		return nil, domainError(http.StatusServiceUnavailable, "BILLING_UNAVAILABLE", "Payment processor is not configured", nil)
	}
	installment, err := s.store.GetInstallment(ctx, installmentID)
	if err != nil {
		return nil, err
	}
	if installment.Status != "pending" {
		return nil, domainError(http.StatusConflict, "INSTALLMENT_NOT_PENDING", "Installment already has an invoice", nil)
	}
	item, err := s.store.GetCase(ctx, installment.CaseID)
	if err != nil {
		return nil, err
	}
	client, err := s.store.GetClient(ctx, item.ClientID)
	if err != nil {
		return nil, err
	}

	processorInvoice, err := s.billing.CreateInvoice(ctx, billing.CreateInvoiceParams{
		CustomerName:  client.Name,
		CustomerEmail: client.Email,
		Description:   fmt.Sprintf("%s - installment due %s", item.Title, installment.DueDate.Format("2006-01-02")),
		AmountCents:   installment.AmountCents,
		Currency:      installment.Currency,
		Reference:     installmentID,
	})
	if err != nil {
		return nil, fmt.Errorf("create processor invoice: %w", err)
	}

	invoice := store.Invoice{
		ID:            util.NewID("inv"),
		InstallmentID: installmentID,
		ClientID:      client.ID,
		Status:        "draft",
		AmountCents:   installment.AmountCents,
		Currency:      installment.Currency,
		ProcessorID:   processorInvoice.ID,
	}
	if err := s.store.InsertInvoice(ctx, invoice); err != nil {
		return nil, err
	}
	if err := s.store.SetInstallmentStatus(ctx, installmentID, "invoiced", &invoice.ID); err != nil {
		return nil, err
	}
	return s.GetInvoice(ctx, invoice.ID)
}

func (s *Service) SendInvoice(ctx context.Context, invoiceID string) (map[string]any, error) {
	if s.billing == nil {
		return nil, domainError(http.StatusServiceUnavailable, "BILLING_UNAVAILABLE", "Payment processor is not configured", nil)
	}
	invoice, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status != "draft" {
		return nil, domainError(http.StatusConflict, "INVOICE_NOT_DRAFT", "Only draft invoices can be sent", nil)
	}

	finalized, err := s.billing.FinalizeInvoice(ctx, invoice.ProcessorID)
	if err != nil {
		return nil, fmt.Errorf("finalize processor invoice: %w", err)
	}
	if err := s.store.MarkInvoiceSent(ctx, invoiceID, finalized.PaymentURL, time.Now()); err != nil {
		return nil, err
	}

	if s.email != nil && s.email.IsConfigured() && invoice.ClientEmail != "" {
		amount := formatAmount(invoice.AmountCents, invoice.Currency)
		if err := s.email.SendInvoiceEmail(invoice.ClientEmail, invoice.ClientName, invoice.CaseTitle, amount, finalized.PaymentURL); err != nil {
			log.Printf("invoice email failed for %s: %v", invoiceID, err)
		}
	}
	return s.GetInvoice(ctx, invoiceID)
}

func (s *Service) MarkInvoicePaid(ctx context.Context, invoiceID, receiptURL string) (map[string]any, error) {
	invoice, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status != "sent" && invoice.Status != "draft" {
		return nil, domainError(http.StatusConflict, "INVOICE_NOT_OPEN", "Invoice is already settled", nil)
	}
	if err := s.settleInvoicePaid(ctx, invoice, receiptURL); err != nil {
		return nil, err
	}
	return s.GetInvoice(ctx, invoiceID)
}

func (s *Service) CancelInvoice(ctx context.Context, invoiceID string) (map[string]any, error) {
	invoice, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.Status != "draft" && invoice.Status != "sent" {
		return nil, domainError(http.StatusConflict, "INVOICE_NOT_OPEN", "Invoice is already settled", nil)
	}
	if s.billing != nil && invoice.ProcessorID != "" {
		if err := s.billing.VoidInvoice(ctx, invoice.ProcessorID); err != nil {
			return nil, fmt.Errorf("void processor invoice: %w", err)
		}
	}
	if err := s.cancelInvoiceLocal(ctx, invoice); err != nil {
		return nil, err
	}
	return s.GetInvoice(ctx, invoiceID)
}

// ReconcileInvoice pulls the processor's view of one invoice and applies it
// locally. Last write wins.
func (s *Service) ReconcileInvoice(ctx context.Context, invoiceID string) (map[string]any, error) {
	if s.billing == nil {
		return nil, domainError(http.StatusServiceUnavailable, "BILLING_UNAVAILABLE", "Payment processor is not configured", nil)
	}
	invoice, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if invoice.ProcessorID == "" {
		return s.GetInvoice(ctx, invoiceID)
	}
	remote, err := s.billing.GetInvoice(ctx, invoice.ProcessorID)
	if err != nil {
		return nil, fmt.Errorf("fetch processor invoice: %w", err)
	}

	switch remote.Status {
	case "paid":
		if invoice.Status != "paid" {
			if err := s.settleInvoicePaid(ctx, invoice, remote.ReceiptURL); err != nil {
				return nil, err
			}
		}
	case "void":
		if invoice.Status != "cancelled" {
			if err := s.cancelInvoiceLocal(ctx, invoice); err != nil {
				return nil, err
			}
		}
	case "open":
		if invoice.Status == "draft" {
			if err := s.store.MarkInvoiceSent(ctx, invoice.ID, remote.PaymentURL, time.Now()); err != nil {
				return nil, err
			}
		}
	}
	return s.GetInvoice(ctx, invoiceID)
}

// HandleProcessorWebhook verifies and applies a processor event. Events are
// deduplicated by id so processor retries are harmless.
func (s *Service) HandleProcessorWebhook(ctx context.Context, body []byte, signature string) (map[string]any, error) {
	secret := s.cfg.PaymentWebhookSecret
	if secret == "" {
		return nil, domainError(http.StatusServiceUnavailable, "BILLING_UNAVAILABLE", "Webhook secret is not configured", nil)
	}
	event, err := billing.ParseWebhook(secret, body, signature)
	if err != nil {
		return nil, domainError(http.StatusUnauthorized, "BAD_SIGNATURE", "Webhook signature verification failed", nil)
	}

	invoice, err := s.store.GetInvoiceByProcessorID(ctx, event.Data.InvoiceID)
	if err != nil {
		// Unknown invoice: record and acknowledge so the processor stops
		// retrying.
		if _, err := s.store.RecordWebhookEvent(ctx, event.ID, event.Type); err != nil {
			return nil, err
		}
		log.Printf("webhook %s for unknown invoice %s", event.Type, event.Data.InvoiceID)
		return map[string]any{"ok": true}, nil
	}

	switch event.Type {
	case billing.EventInvoicePaid:
		if invoice.Status != "paid" {
			if err := s.settleInvoicePaid(ctx, invoice, event.Data.ReceiptURL); err != nil {
				return nil, err
			}
		}
	case billing.EventInvoiceVoided:
		if invoice.Status != "cancelled" {
			if err := s.cancelInvoiceLocal(ctx, invoice); err != nil {
				return nil, err
			}
		}
	default:
		log.Printf("webhook event %s ignored", event.Type)
	}

	// The event id is recorded only after the event applied. A failure above
	// returns a 5xx with the id unrecorded, so the processor's retry of the
	// same event runs the apply again instead of hitting the dedupe.
	fresh, err := s.store.RecordWebhookEvent(ctx, event.ID, event.Type)
	if err != nil {
		return nil, err
	}
	if !fresh {
		return map[string]any{"ok": true, "duplicate": true}, nil
	}
	return map[string]any{"ok": true}, nil
}

func (s *Service) ExportInvoicePDF(ctx context.Context, invoiceID string) (*export.Result, error) {
	invoice, err := s.store.GetInvoice(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	client, err := s.store.GetClient(ctx, invoice.ClientID)
	if err != nil {
		return nil, err
	}

	installment, err := s.store.GetInstallment(ctx, invoice.InstallmentID)
	description := ""
	if err == nil {
		description = "Installment due " + installment.DueDate.Format("2006-01-02")
	}

	return export.ExportInvoice(export.InvoiceData{
		Number:         strings.ToUpper(invoice.ID),
		Status:         invoice.Status,
		IssuedAt:       invoice.CreatedAt,
		ClientName:     client.Name,
		ClientEmail:    client.Email,
		BillingAddress: client.BillingAddress,
		CaseTitle:      invoice.CaseTitle,
		Description:    description,
		Amount:         formatAmount(invoice.AmountCents, invoice.Currency),
		PaymentURL:     invoice.PaymentURL,
	})
}

func (s *Service) settleInvoicePaid(ctx context.Context, invoice store.Invoice, receiptURL string) error {
	if err := s.store.MarkInvoicePaid(ctx, invoice.ID, receiptURL, time.Now()); err != nil {
		return err
	}
	if err := s.store.SetInstallmentStatus(ctx, invoice.InstallmentID, "paid", &invoice.ID); err != nil {
		return err
	}
	if s.email != nil && s.email.IsConfigured() && invoice.ClientEmail != "" {
		amount := formatAmount(invoice.AmountCents, invoice.Currency)
		if err := s.email.SendReceiptEmail(invoice.ClientEmail, invoice.ClientName, invoice.CaseTitle, amount, receiptURL); err != nil {
			log.Printf("receipt email failed for %s: %v", invoice.ID, err)
		}
	}
	return nil
}

func (s *Service) cancelInvoiceLocal(ctx context.Context, invoice store.Invoice) error {
	if err := s.store.MarkInvoiceCancelled(ctx, invoice.ID, time.Now()); err != nil {
		return err
	}
	// The installment goes back to the schedule for a fresh invoice.
	return s.store.SetInstallmentStatus(ctx, invoice.InstallmentID, "pending", nil)
}

func installmentExceedsFee(feeCents, scheduledCents int64) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "INSTALLMENT_EXCEEDS_FEE", "Scheduled installments exceed the case fee", map[string]any{
		"feeCents":       feeCents,
		"scheduledCents": scheduledCents,
	})
}

func installmentMap(installment store.Installment) map[string]any {
	payload := map[string]any{
		"id":          installment.ID,
		"caseId":      installment.CaseID,
		"amountCents": installment.AmountCents,
		"currency":    installment.Currency,
		"dueDate":     installment.DueDate.UTC().Format("2006-01-02"),
		"status":      installment.Status,
		"invoiceId":   nil,
	}
	if installment.InvoiceID != nil {
		payload["invoiceId"] = *installment.InvoiceID
	}
	return payload
}

func invoiceMap(invoice store.Invoice) map[string]any {
	payload := map[string]any{
		"id":            invoice.ID,
		"installmentId": invoice.InstallmentID,
		"clientId":      invoice.ClientID,
		"clientName":    invoice.ClientName,
		"caseTitle":     invoice.CaseTitle,
		"status":        invoice.Status,
		"amountCents":   invoice.AmountCents,
		"currency":      invoice.Currency,
		"processorId":   invoice.ProcessorID,
		"paymentUrl":    invoice.PaymentURL,
		"receiptUrl":    invoice.ReceiptURL,
		"createdAt":     invoice.CreatedAt.UTC().Format(time.RFC3339),
		"sentAt":        nil,
		"paidAt":        nil,
		"cancelledAt":   nil,
	}
	if invoice.SentAt != nil {
		payload["sentAt"] = invoice.SentAt.UTC().Format(time.RFC3339)
	}
	if invoice.PaidAt != nil {
		payload["paidAt"] = invoice.PaidAt.UTC().Format(time.RFC3339)
	}
	if invoice.CancelledAt != nil {
		payload["cancelledAt"] = invoice.CancelledAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func formatAmount(cents int64, currency string) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s %s%d.%02d", currency, sign, cents/100, cents%100)
}
