package app

import (
	"io"
	"net/http"
	"strings"

	"caseflow/api/internal/billing"
	"caseflow/api/internal/rbac"
)

// Billing routes. Everything here requires the billing action except the
// webhook, which is dispatched before session handling in handle().

func (s *HTTPServer) handleBillingRoutes(w http.ResponseWriter, r *http.Request, session Session, parts []string) bool {
	// GET|POST /api/cases/{caseId}/installments
	if len(parts) == 4 && parts[0] == "api" && parts[1] == "cases" && parts[3] == "installments" {
		if !s.service.Can(session.Role, rbac.ActionBilling) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return true
		}
		caseID := parts[2]
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.ListInstallments(r.Context(), caseID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return true
			}
			writeJSON(w, http.StatusOK, payload)
			return true
		case http.MethodPost:
			var input InstallmentInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			payload, err := s.service.CreateInstallment(r.Context(), caseID, input)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return true
			}
			writeJSON(w, http.StatusCreated, payload)
			return true
		}
		return false
	}

	if len(parts) >= 3 && parts[0] == "api" && parts[1] == "installments" {
		if !s.service.Can(session.Role, rbac.ActionBilling) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return true
		}
		installmentID := parts[2]

		if len(parts) == 3 {
			switch r.Method {
			case http.MethodPut:
				var input InstallmentInput
				if err := decodeBody(r, &input); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return true
				}
				payload, err := s.service.UpdateInstallment(r.Context(), installmentID, input)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return true
				}
				writeJSON(w, http.StatusOK, payload)
				return true
			case http.MethodDelete:
				if err := s.service.DeleteInstallment(r.Context(), installmentID); err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return true
				}
				writeJSON(w, http.StatusOK, map[string]any{"ok": true})
				return true
			}
			return false
		}

		// POST /api/installments/{id}/invoice
		if r.Method == http.MethodPost && len(parts) == 4 && parts[3] == "invoice" {
			payload, err := s.service.CreateInvoice(r.Context(), installmentID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return true
			}
			writeJSON(w, http.StatusCreated, payload)
			return true
		}
		return false
	}

	if len(parts) >= 2 && parts[0] == "api" && parts[1] == "invoices" {
		if !s.service.Can(session.Role, rbac.ActionBilling) {
			writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
			return true
		}

		// GET /api/invoices?status=sent
		if r.Method == http.MethodGet && len(parts) == 2 {
			status := strings.TrimSpace(r.URL.Query().Get("status"))
			items, err := s.service.ListInvoices(r.Context(), status)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return true
			}
			writeJSON(w, http.StatusOK, map[string]any{"invoices": items})
			return true
		}

		if len(parts) < 3 {
			return false
		}
		invoiceID := parts[2]

		if r.Method == http.MethodGet && len(parts) == 3 {
			payload, err := s.service.GetInvoice(r.Context(), invoiceID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return true
			}
			writeJSON(w, http.StatusOK, payload)
			return true
		}

		// GET /api/invoices/{id}/pdf
		if r.Method == http.MethodGet && len(parts) == 4 && parts[3] == "pdf" {
			result, err := s.service.ExportInvoicePDF(r.Context(), invoiceID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return true
			}
			w.Header().Set("Content-Type", result.MimeType)
			w.Header().Set("Content-Disposition", `attachment; filename="`+result.Filename+`"`)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(result.Data)
			return true
		}

		if r.Method == http.MethodPost && len(parts) == 4 {
			var payload map[string]any
			var err error
			switch parts[3] {
			case "send":
				payload, err = s.service.SendInvoice(r.Context(), invoiceID)
			case "pay":
				var body struct {
					ReceiptURL string `json:"receiptUrl"`
				}
				if decodeErr := decodeBody(r, &body); decodeErr != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", decodeErr.Error(), nil)
					return true
				}
				payload, err = s.service.MarkInvoicePaid(r.Context(), invoiceID, body.ReceiptURL)
			case "cancel":
				payload, err = s.service.CancelInvoice(r.Context(), invoiceID)
			case "reconcile":
				payload, err = s.service.ReconcileInvoice(r.Context(), invoiceID)
			default:
				return false
			}
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return true
			}
			writeJSON(w, http.StatusOK, payload)
			return true
		}
	}
	return false
}

func (s *HTTPServer) handleProcessorWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "failed to read body", nil)
		return
	}
	defer r.Body.Close()

	signature := r.Header.Get(billing.SignatureHeader)
	payload, err := s.service.HandleProcessorWebhook(r.Context(), body, signature)
	if err != nil {
		status, code, message, details := mapError(err)
		writeError(w, status, code, message, details)
		return
	}
	writeJSON(w, http.StatusOK, payload)
}
