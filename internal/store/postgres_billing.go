package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ----- installments -----

func (s *PostgresStore) ListInstallments(ctx context.Context, caseID string) ([]Installment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, case_id, amount_cents, currency, due_date, status, invoice_id, created_at, updated_at
		FROM installments
		WHERE case_id=$1
		ORDER BY due_date
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list installments: %w", err)
	}
	defer rows.Close()

	items := make([]Installment, 0)
	for rows.Next() {
		var item Installment
		if err := rows.Scan(&item.ID, &item.CaseID, &item.AmountCents, &item.Currency, &item.DueDate,
			&item.Status, &item.InvoiceID, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan installment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate installments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetInstallment(ctx context.Context, installmentID string) (Installment, error) {
	var item Installment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, case_id, amount_cents, currency, due_date, status, invoice_id, created_at, updated_at
		FROM installments WHERE id=$1
	`, installmentID).Scan(&item.ID, &item.CaseID, &item.AmountCents, &item.Currency, &item.DueDate,
		&item.Status, &item.InvoiceID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Installment{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertInstallment(ctx context.Context, item Installment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO installments (id, case_id, amount_cents, currency, due_date, status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.CaseID, item.AmountCents, item.Currency, item.DueDate, item.Status)
	if err != nil {
		return fmt.Errorf("insert installment: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateInstallment(ctx context.Context, item Installment) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE installments
		SET amount_cents=$2, currency=$3, due_date=$4, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.AmountCents, item.Currency, item.DueDate)
	if err != nil {
		return fmt.Errorf("update installment: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) SetInstallmentStatus(ctx context.Context, installmentID, status string, invoiceID *string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE installments SET status=$2, invoice_id=$3, updated_at=NOW() WHERE id=$1
	`, installmentID, status, invoiceID)
	if err != nil {
		return fmt.Errorf("set installment status: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteInstallment(ctx context.Context, installmentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM installments WHERE id=$1`, installmentID)
	if err != nil {
		return fmt.Errorf("delete installment: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// InstallmentTotal sums the non-cancelled installments of a case, excluding
// one installment when excludeID is set (used when editing an amount).
func (s *PostgresStore) InstallmentTotal(ctx context.Context, caseID, excludeID string) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(amount_cents), 0)
		FROM installments
		WHERE case_id=$1 AND status <> 'cancelled' AND ($2 = '' OR id <> $2)
	`, caseID, excludeID).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sum installments: %w", err)
	}
	return total, nil
}

// ----- invoices -----

const invoiceColumns = `
	i.id, i.installment_id, i.client_id, i.status, i.amount_cents, i.currency,
	i.processor_id, i.payment_url, i.receipt_url, i.sent_at, i.paid_at, i.cancelled_at,
	i.created_at, i.updated_at, cl.name, cl.email, ca.title
`

func scanInvoice(row interface{ Scan(...any) error }) (Invoice, error) {
	var item Invoice
	err := row.Scan(&item.ID, &item.InstallmentID, &item.ClientID, &item.Status, &item.AmountCents,
		&item.Currency, &item.ProcessorID, &item.PaymentURL, &item.ReceiptURL, &item.SentAt,
		&item.PaidAt, &item.CancelledAt, &item.CreatedAt, &item.UpdatedAt,
		&item.ClientName, &item.ClientEmail, &item.CaseTitle)
	return item, err
}

const invoiceFrom = `
	FROM invoices i
	JOIN clients cl ON cl.id = i.client_id
	JOIN installments inst ON inst.id = i.installment_id
	JOIN cases ca ON ca.id = inst.case_id
`

func (s *PostgresStore) ListInvoices(ctx context.Context, status string) ([]Invoice, error) {
	query := `SELECT ` + invoiceColumns + invoiceFrom
	args := []any{}
	if status != "" {
		query += ` WHERE i.status=$1`
		args = append(args, status)
	}
	query += ` ORDER BY i.created_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	defer rows.Close()

	items := make([]Invoice, 0)
	for rows.Next() {
		item, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("scan invoice: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate invoices: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetInvoice(ctx context.Context, invoiceID string) (Invoice, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+invoiceFrom+` WHERE i.id=$1`, invoiceID)
	item, err := scanInvoice(row)
	if err != nil {
		return Invoice{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetInvoiceByProcessorID(ctx context.Context, processorID string) (Invoice, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+invoiceColumns+invoiceFrom+` WHERE i.processor_id=$1`, processorID)
	item, err := scanInvoice(row)
	if err != nil {
		return Invoice{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertInvoice(ctx context.Context, item Invoice) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO invoices (id, installment_id, client_id, status, amount_cents, currency, processor_id, payment_url)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.InstallmentID, item.ClientID, item.Status, item.AmountCents, item.Currency,
		item.ProcessorID, item.PaymentURL)
	if err != nil {
		return fmt.Errorf("insert invoice: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkInvoiceSent(ctx context.Context, invoiceID, paymentURL string, sentAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE invoices SET status='sent', payment_url=$2, sent_at=$3, updated_at=NOW()
		WHERE id=$1 AND status='draft'
	`, invoiceID, paymentURL, sentAt)
	if err != nil {
		return fmt.Errorf("mark invoice sent: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) MarkInvoicePaid(ctx context.Context, invoiceID, receiptURL string, paidAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE invoices SET status='paid', receipt_url=$2, paid_at=$3, updated_at=NOW()
		WHERE id=$1 AND status IN ('draft', 'sent')
	`, invoiceID, receiptURL, paidAt)
	if err != nil {
		return fmt.Errorf("mark invoice paid: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) MarkInvoiceCancelled(ctx context.Context, invoiceID string, cancelledAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE invoices SET status='cancelled', cancelled_at=$2, updated_at=NOW()
		WHERE id=$1 AND status IN ('draft', 'sent')
	`, invoiceID, cancelledAt)
	if err != nil {
		return fmt.Errorf("mark invoice cancelled: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ----- webhook dedupe -----

// RecordWebhookEvent inserts the event id and reports whether it was new.
func (s *PostgresStore) RecordWebhookEvent(ctx context.Context, eventID, eventType string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_events (id, event_type) VALUES ($1, $2) ON CONFLICT (id) DO NOTHING
	`, eventID, eventType)
	if err != nil {
		return false, fmt.Errorf("record webhook event: %w", err)
	}
	affected, _ := result.RowsAffected()
	return affected > 0, nil
}
