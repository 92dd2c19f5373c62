package billing

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := New(Config{URL: srv.URL, APIKey: "sk_test_123"})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return client, srv
}

func TestNewRequiresConfig(t *testing.T) {
	if _, err := New(Config{APIKey: "k"}); err == nil {
		t.Error("expected error for missing URL")
	}
	if _, err := New(Config{URL: "https://api.example.test"}); err == nil {
		t.Error("expected error for missing APIKey")
	}
}

func TestCreateInvoice(t *testing.T) {
	var gotAuth, gotIdem string
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/invoices" {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		gotIdem = r.Header.Get("Idempotency-Key")

		var params CreateInvoiceParams
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			t.Fatalf("decode params: %v", err)
		}
		if params.AmountCents != 25000 || params.Reference != "ins_1" {
			t.Errorf("unexpected params: %+v", params)
		}

		json.NewEncoder(w).Encode(Invoice{
			ID: "pin_abc", Status: "draft", AmountCents: params.AmountCents, Currency: params.Currency,
		})
	})

	inv, err := client.CreateInvoice(context.Background(), CreateInvoiceParams{
		CustomerName:  "Acme GmbH",
		CustomerEmail: "billing@acme.test",
		Description:   "Onboarding, installment 1",
		AmountCents:   25000,
		Currency:      "EUR",
		Reference:     "ins_1",
	})
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	if inv.ID != "pin_abc" || inv.Status != "draft" {
		t.Errorf("unexpected invoice: %+v", inv)
	}
	if gotAuth != "Bearer sk_test_123" {
		t.Errorf("expected bearer auth, got %q", gotAuth)
	}
	if gotIdem == "" {
		t.Error("expected an Idempotency-Key header on POST")
	}
}

func TestFinalizeInvoice(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/invoices/pin_abc/finalize" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		json.NewEncoder(w).Encode(Invoice{
			ID: "pin_abc", Status: "open", PaymentURL: "https://pay.example.test/pin_abc",
		})
	})

	inv, err := client.FinalizeInvoice(context.Background(), "pin_abc")
	if err != nil {
		t.Fatalf("FinalizeInvoice failed: %v", err)
	}
	if inv.PaymentURL == "" {
		t.Error("expected hosted payment URL after finalize")
	}
}

func TestVoidInvoice(t *testing.T) {
	called := false
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		if r.URL.Path != "/invoices/pin_abc/void" {
			t.Errorf("unexpected path: %s", r.URL.Path)
		}
		w.WriteHeader(http.StatusNoContent)
	})

	if err := client.VoidInvoice(context.Background(), "pin_abc"); err != nil {
		t.Fatalf("VoidInvoice failed: %v", err)
	}
	if !called {
		t.Error("expected void endpoint to be called")
	}
}

func TestGetInvoiceAPIError(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(map[string]string{"code": "not_found", "message": "no such invoice"})
	})

	_, err := client.GetInvoice(context.Background(), "pin_missing")
	if err == nil {
		t.Fatal("expected error")
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %T: %v", err, err)
	}
	if apiErr.StatusCode != http.StatusNotFound || apiErr.Code != "not_found" {
		t.Errorf("unexpected api error: %+v", apiErr)
	}
}

func TestParseWebhook(t *testing.T) {
	secret := "whsec_test"
	body := []byte(`{"id":"evt_1","type":"invoice.paid","data":{"invoice_id":"pin_abc","status":"paid","receipt_url":"https://pay.example.test/r/1"}}`)

	t.Run("valid signature", func(t *testing.T) {
		event, err := ParseWebhook(secret, body, SignPayload(secret, body))
		if err != nil {
			t.Fatalf("ParseWebhook failed: %v", err)
		}
		if event.Type != EventInvoicePaid || event.Data.InvoiceID != "pin_abc" {
			t.Errorf("unexpected event: %+v", event)
		}
	})

	t.Run("bad signature", func(t *testing.T) {
		if _, err := ParseWebhook(secret, body, "deadbeef"); err != ErrBadSignature {
			t.Errorf("expected ErrBadSignature, got %v", err)
		}
	})

	t.Run("missing id", func(t *testing.T) {
		payload := []byte(`{"type":"invoice.paid"}`)
		if _, err := ParseWebhook(secret, payload, SignPayload(secret, payload)); err == nil {
			t.Error("expected error for event without id")
		}
	})
}
