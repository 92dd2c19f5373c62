package app

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"caseflow/api/internal/billing"
	"caseflow/api/internal/store"
)

type fakeProcessor struct {
	createInvoiceFn   func(context.Context, billing.CreateInvoiceParams) (billing.Invoice, error)
	finalizeInvoiceFn func(context.Context, string) (billing.Invoice, error)
	voidInvoiceFn     func(context.Context, string) error
	getInvoiceFn      func(context.Context, string) (billing.Invoice, error)
}

func (f *fakeProcessor) CreateInvoice(ctx context.Context, params billing.CreateInvoiceParams) (billing.Invoice, error) {
	if f.createInvoiceFn != nil {
		return f.createInvoiceFn(ctx, params)
	}
	return billing.Invoice{ID: "pi_1", Status: "draft"}, nil
}

func (f *fakeProcessor) FinalizeInvoice(ctx context.Context, invoiceID string) (billing.Invoice, error) {
	if f.finalizeInvoiceFn != nil {
		return f.finalizeInvoiceFn(ctx, invoiceID)
	}
	return billing.Invoice{ID: invoiceID, Status: "open", PaymentURL: "https://pay.test/" + invoiceID}, nil
}

func (f *fakeProcessor) VoidInvoice(ctx context.Context, invoiceID string) error {
	if f.voidInvoiceFn != nil {
		return f.voidInvoiceFn(ctx, invoiceID)
	}
	return nil
}

func (f *fakeProcessor) GetInvoice(ctx context.Context, invoiceID string) (billing.Invoice, error) {
	if f.getInvoiceFn != nil {
		return f.getInvoiceFn(ctx, invoiceID)
	}
	return billing.Invoice{ID: invoiceID, Status: "open"}, nil
}

func caseWithFee(feeCents int64) func(context.Context, string) (store.Case, error) {
	return func(_ context.Context, caseID string) (store.Case, error) {
		return store.Case{ID: caseID, Title: "Website relaunch", ClientID: "cli_1", FeeCents: feeCents, Currency: "EUR"}, nil
	}
}

func TestCreateInstallmentExceedsFee(t *testing.T) {
	fs := &fakeStore{
		getCaseFn: caseWithFee(1000),
		installmentTotalFn: func(context.Context, string, string) (int64, error) {
			return 800, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CreateInstallment(context.Background(), "cas_1", InstallmentInput{
		AmountCents: 300,
		DueDate:     "2026-09-01",
	})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Code != "INSTALLMENT_EXCEEDS_FEE" || domainErr.Status != 422 {
		t.Errorf("got %d %s, want 422 INSTALLMENT_EXCEEDS_FEE", domainErr.Status, domainErr.Code)
	}
	details, ok := domainErr.Details.(map[string]any)
	if !ok || details["scheduledCents"] != int64(1100) {
		t.Errorf("details = %v, want scheduledCents 1100", domainErr.Details)
	}
}

func TestCreateInstallmentValidation(t *testing.T) {
	fs := &fakeStore{getCaseFn: caseWithFee(100000)}
	svc := newTestService(fs)

	if _, err := svc.CreateInstallment(context.Background(), "cas_1", InstallmentInput{AmountCents: 0, DueDate: "2026-09-01"}); err == nil {
		t.Error("expected error for zero amount")
	}
	if _, err := svc.CreateInstallment(context.Background(), "cas_1", InstallmentInput{AmountCents: 2500}); err == nil {
		t.Error("expected error for missing dueDate")
	}

	payload, err := svc.CreateInstallment(context.Background(), "cas_1", InstallmentInput{AmountCents: 2500, DueDate: "2026-09-01"})
	if err != nil {
		t.Fatalf("CreateInstallment failed: %v", err)
	}
	if payload["status"] != "pending" {
		t.Errorf("status = %v, want pending", payload["status"])
	}
	if payload["currency"] != "EUR" {
		t.Errorf("currency = %v, want EUR inherited from case", payload["currency"])
	}
}

func TestUpdateInstallmentLocked(t *testing.T) {
	fs := &fakeStore{
		getInstallmentFn: func(_ context.Context, installmentID string) (store.Installment, error) {
			return store.Installment{ID: installmentID, CaseID: "cas_1", Status: "invoiced"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.UpdateInstallment(context.Background(), "ins_1", InstallmentInput{AmountCents: 100, DueDate: "2026-09-01"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "INSTALLMENT_LOCKED" {
		t.Fatalf("expected INSTALLMENT_LOCKED, got %v", err)
	}
	if err := svc.DeleteInstallment(context.Background(), "ins_1"); !errors.As(err, &domainErr) || domainErr.Code != "INSTALLMENT_LOCKED" {
		t.Fatalf("expected INSTALLMENT_LOCKED on delete, got %v", err)
	}
}

func TestCreateInvoiceMirrorsProcessor(t *testing.T) {
	var inserted store.Invoice
	var installmentStatus string
	fs := &fakeStore{
		getCaseFn: caseWithFee(100000),
		getInstallmentFn: func(_ context.Context, installmentID string) (store.Installment, error) {
			return store.Installment{
				ID:          installmentID,
				CaseID:      "cas_1",
				AmountCents: 2500,
				Currency:    "EUR",
				DueDate:     time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC),
				Status:      "pending",
			}, nil
		},
		getClientFn: func(_ context.Context, clientID string) (store.Client, error) {
			return store.Client{ID: clientID, Name: "Acme", Email: "billing@acme.test"}, nil
		},
		insertInvoiceFn: func(_ context.Context, item store.Invoice) error {
			inserted = item
			return nil
		},
		setInstallmentStatusFn: func(_ context.Context, _, status string, _ *string) error {
			installmentStatus = status
			return nil
		},
		getInvoiceFn: func(_ context.Context, invoiceID string) (store.Invoice, error) {
			return store.Invoice{ID: invoiceID, Status: "draft"}, nil
		},
	}
	processor := &fakeProcessor{
		createInvoiceFn: func(_ context.Context, params billing.CreateInvoiceParams) (billing.Invoice, error) {
			if params.Reference != "ins_1" {
				t.Errorf("processor reference = %q, want ins_1", params.Reference)
			}
			if params.AmountCents != 2500 {
				t.Errorf("processor amount = %d, want 2500", params.AmountCents)
			}
			return billing.Invoice{ID: "pi_42", Status: "draft"}, nil
		},
	}
	svc := newTestService(fs)
	svc.billing = processor

	if _, err := svc.CreateInvoice(context.Background(), "ins_1"); err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	if inserted.ProcessorID != "pi_42" {
		t.Errorf("local invoice processorId = %q, want pi_42", inserted.ProcessorID)
	}
	if inserted.Status != "draft" {
		t.Errorf("local invoice status = %q, want draft", inserted.Status)
	}
	if installmentStatus != "invoiced" {
		t.Errorf("installment status = %q, want invoiced", installmentStatus)
	}
}

func TestCreateInvoiceWithoutProcessor(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.CreateInvoice(context.Background(), "ins_1")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "BILLING_UNAVAILABLE" || domainErr.Status != 503 {
		t.Fatalf("expected 503 BILLING_UNAVAILABLE, got %v", err)
	}
}

func TestSendInvoiceProcessorFailureLeavesDraft(t *testing.T) {
	fs := &fakeStore{
		getInvoiceFn: func(_ context.Context, invoiceID string) (store.Invoice, error) {
			return store.Invoice{ID: invoiceID, Status: "draft", ProcessorID: "pi_1"}, nil
		},
		markInvoiceSentFn: func(context.Context, string, string, time.Time) error {
			t.Error("MarkInvoiceSent must not run when finalize fails")
			return nil
		},
	}
	svc := newTestService(fs)
	svc.billing = &fakeProcessor{
		finalizeInvoiceFn: func(context.Context, string) (billing.Invoice, error) {
			return billing.Invoice{}, errors.New("processor down")
		},
	}

	if _, err := svc.SendInvoice(context.Background(), "inv_1"); err == nil {
		t.Fatal("expected finalize error to surface")
	}
}

func TestSendInvoiceNotDraft(t *testing.T) {
	fs := &fakeStore{
		getInvoiceFn: func(_ context.Context, invoiceID string) (store.Invoice, error) {
			return store.Invoice{ID: invoiceID, Status: "paid"}, nil
		},
	}
	svc := newTestService(fs)
	svc.billing = &fakeProcessor{}

	_, err := svc.SendInvoice(context.Background(), "inv_1")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "INVOICE_NOT_DRAFT" {
		t.Fatalf("expected INVOICE_NOT_DRAFT, got %v", err)
	}
}

func TestCancelInvoiceVoidsProcessorFirst(t *testing.T) {
	var voided, cancelled bool
	var installmentStatus string
	sentinel := "sentinel"
	installmentInvoiceID := &sentinel
	fs := &fakeStore{
		getInvoiceFn: func(_ context.Context, invoiceID string) (store.Invoice, error) {
			return store.Invoice{ID: invoiceID, InstallmentID: "ins_1", Status: "sent", ProcessorID: "pi_1"}, nil
		},
		markInvoiceCancelledFn: func(context.Context, string, time.Time) error {
			cancelled = true
			return nil
		},
		setInstallmentStatusFn: func(_ context.Context, _, status string, invoiceID *string) error {
			installmentStatus = status
			installmentInvoiceID = invoiceID
			return nil
		},
	}
	svc := newTestService(fs)
	svc.billing = &fakeProcessor{
		voidInvoiceFn: func(context.Context, string) error {
			voided = true
			return nil
		},
	}

	if _, err := svc.CancelInvoice(context.Background(), "inv_1"); err != nil {
		t.Fatalf("CancelInvoice failed: %v", err)
	}
	if !voided || !cancelled {
		t.Errorf("voided=%v cancelled=%v, want both", voided, cancelled)
	}
	if installmentStatus != "pending" || installmentInvoiceID != nil {
		t.Errorf("installment reset to %q/%v, want pending/nil", installmentStatus, installmentInvoiceID)
	}
}

func signedWebhookBody(t *testing.T, secret, eventID, eventType, invoiceID string) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":   eventID,
		"type": eventType,
		"data": map[string]any{
			"invoice_id":  invoiceID,
			"receipt_url": "https://pay.test/receipt/1",
		},
	})
	if err != nil {
		t.Fatalf("marshal webhook body: %v", err)
	}
	return body, billing.SignPayload(secret, body)
}

func TestWebhookPaidSettlesInvoice(t *testing.T) {
	const secret = "whsec_test"
	var paid bool
	var installmentStatus string
	fs := &fakeStore{
		getInvoiceByProcessorIDFn: func(_ context.Context, processorID string) (store.Invoice, error) {
			return store.Invoice{ID: "inv_1", InstallmentID: "ins_1", Status: "sent", ProcessorID: processorID}, nil
		},
		markInvoicePaidFn: func(context.Context, string, string, time.Time) error {
			paid = true
			return nil
		},
		setInstallmentStatusFn: func(_ context.Context, _, status string, _ *string) error {
			installmentStatus = status
			return nil
		},
	}
	svc := newTestService(fs)
	svc.cfg.PaymentWebhookSecret = secret

	body, signature := signedWebhookBody(t, secret, "evt_1", billing.EventInvoicePaid, "pi_1")
	payload, err := svc.HandleProcessorWebhook(context.Background(), body, signature)
	if err != nil {
		t.Fatalf("webhook failed: %v", err)
	}
	if payload["ok"] != true {
		t.Errorf("payload = %v, want ok", payload)
	}
	if !paid {
		t.Error("invoice was not marked paid")
	}
	if installmentStatus != "paid" {
		t.Errorf("installment status = %q, want paid", installmentStatus)
	}
}

func TestWebhookDuplicateIgnored(t *testing.T) {
	const secret = "whsec_test"
	fs := &fakeStore{
		recordWebhookEventFn: func(context.Context, string, string) (bool, error) {
			return false, nil
		},
		getInvoiceByProcessorIDFn: func(_ context.Context, processorID string) (store.Invoice, error) {
			return store.Invoice{ID: "inv_1", InstallmentID: "ins_1", Status: "paid", ProcessorID: processorID}, nil
		},
		markInvoicePaidFn: func(context.Context, string, string, time.Time) error {
			t.Error("duplicate delivery must not mutate the invoice")
			return nil
		},
	}
	svc := newTestService(fs)
	svc.cfg.PaymentWebhookSecret = secret

	body, signature := signedWebhookBody(t, secret, "evt_1", billing.EventInvoicePaid, "pi_1")
	payload, err := svc.HandleProcessorWebhook(context.Background(), body, signature)
	if err != nil {
		t.Fatalf("webhook failed: %v", err)
	}
	if payload["duplicate"] != true {
		t.Errorf("payload = %v, want duplicate ack", payload)
	}
}

func TestWebhookRetryAfterFailureApplies(t *testing.T) {
	const secret = "whsec_test"
	recorded := map[string]bool{}
	var paid bool
	failOnce := true
	fs := &fakeStore{
		recordWebhookEventFn: func(_ context.Context, eventID, _ string) (bool, error) {
			if recorded[eventID] {
				return false, nil
			}
			recorded[eventID] = true
			return true, nil
		},
		getInvoiceByProcessorIDFn: func(_ context.Context, processorID string) (store.Invoice, error) {
			status := "sent"
			if paid {
				status = "paid"
			}
			return store.Invoice{ID: "inv_1", InstallmentID: "ins_1", Status: status, ProcessorID: processorID}, nil
		},
		markInvoicePaidFn: func(context.Context, string, string, time.Time) error {
			if failOnce {
				failOnce = false
				return errors.New("connection reset")
			}
			paid = true
			return nil
		},
	}
	svc := newTestService(fs)
	svc.cfg.PaymentWebhookSecret = secret

	body, signature := signedWebhookBody(t, secret, "evt_1", billing.EventInvoicePaid, "pi_1")
	if _, err := svc.HandleProcessorWebhook(context.Background(), body, signature); err == nil {
		t.Fatal("expected the first delivery to fail")
	}
	if len(recorded) != 0 {
		t.Fatal("event id must not be recorded when the event did not apply")
	}

	payload, err := svc.HandleProcessorWebhook(context.Background(), body, signature)
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if payload["duplicate"] == true {
		t.Error("retry of a failed delivery must not hit the dedupe")
	}
	if !paid {
		t.Error("invoice was not marked paid on retry")
	}

	payload, err = svc.HandleProcessorWebhook(context.Background(), body, signature)
	if err != nil || payload["duplicate"] != true {
		t.Errorf("third delivery = %v (%v), want duplicate ack", payload, err)
	}
}

func TestWebhookBadSignature(t *testing.T) {
	svc := newTestService(&fakeStore{})
	svc.cfg.PaymentWebhookSecret = "whsec_test"

	body, _ := signedWebhookBody(t, "whsec_test", "evt_1", billing.EventInvoicePaid, "pi_1")
	_, err := svc.HandleProcessorWebhook(context.Background(), body, "deadbeef")
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Code != "BAD_SIGNATURE" || domainErr.Status != 401 {
		t.Fatalf("expected 401 BAD_SIGNATURE, got %v", err)
	}
}

func TestWebhookUnknownInvoiceAcked(t *testing.T) {
	const secret = "whsec_test"
	svc := newTestService(&fakeStore{})
	svc.cfg.PaymentWebhookSecret = secret

	body, signature := signedWebhookBody(t, secret, "evt_1", billing.EventInvoicePaid, "pi_missing")
	payload, err := svc.HandleProcessorWebhook(context.Background(), body, signature)
	if err != nil {
		t.Fatalf("unknown invoice should be acknowledged, got %v", err)
	}
	if payload["ok"] != true {
		t.Errorf("payload = %v, want ok", payload)
	}
}

func TestReconcileAppliesRemotePaid(t *testing.T) {
	var paid bool
	fs := &fakeStore{
		getInvoiceFn: func(_ context.Context, invoiceID string) (store.Invoice, error) {
			return store.Invoice{ID: invoiceID, InstallmentID: "ins_1", Status: "sent", ProcessorID: "pi_1"}, nil
		},
		markInvoicePaidFn: func(context.Context, string, string, time.Time) error {
			paid = true
			return nil
		},
	}
	svc := newTestService(fs)
	svc.billing = &fakeProcessor{
		getInvoiceFn: func(_ context.Context, invoiceID string) (billing.Invoice, error) {
			return billing.Invoice{ID: invoiceID, Status: "paid", ReceiptURL: "https://pay.test/receipt/1"}, nil
		},
	}

	if _, err := svc.ReconcileInvoice(context.Background(), "inv_1"); err != nil {
		t.Fatalf("ReconcileInvoice failed: %v", err)
	}
	if !paid {
		t.Error("remote paid status was not applied locally")
	}
}

func TestFormatAmount(t *testing.T) {
	cases := []struct {
		cents    int64
		currency string
		want     string
	}{
		{250000, "EUR", "EUR 2500.00"},
		{99, "USD", "USD 0.99"},
		{-1050, "EUR", "EUR -10.50"},
	}
	for _, tc := range cases {
		if got := formatAmount(tc.cents, tc.currency); got != tc.want {
			t.Errorf("formatAmount(%d, %s) = %q, want %q", tc.cents, tc.currency, got, tc.want)
		}
	}
}
