package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"caseflow/api/internal/util"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ----- users -----

func (s *PostgresStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	const findUser = `SELECT id, display_name, role FROM users WHERE display_name = $1 AND deactivated_at IS NULL`
	var user User
	err := s.db.QueryRowContext(ctx, findUser, name).Scan(&user.ID, &user.DisplayName, &user.Role)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}

	user = User{
		ID:          util.NewID("usr"),
		DisplayName: name,
		Role:        "agent",
	}
	insertUser := `
		INSERT INTO users (id, display_name, email, role, is_email_verified)
		VALUES ($1, $2, CONCAT(LOWER(REPLACE($2, ' ', '.')), '@local.caseflow.dev'), $3, TRUE)
	`
	if _, err := s.db.ExecContext(ctx, insertUser, user.ID, user.DisplayName, user.Role); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, role, is_email_verified
		FROM users
		WHERE id=$1 AND deactivated_at IS NULL
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, is_email_verified
		FROM users
		WHERE email=$1 AND deactivated_at IS NULL
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.IsEmailVerified)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role, is_email_verified, verification_token)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, email, role
		FROM users
		WHERE deactivated_at IS NULL
		ORDER BY display_name
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var item User
		if err := rows.Scan(&item.ID, &item.DisplayName, &item.Email, &item.Role); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SetUserRole(ctx context.Context, userID, role string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET role=$2, updated_at=NOW() WHERE id=$1`, userID, role)
	if err != nil {
		return fmt.Errorf("set user role: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW() WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token='', verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return errors.New("invalid or expired verification token")
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark reset used: %w", err)
	}
	return nil
}

// ----- refresh sessions and token revocation -----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.role
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
			AND u.deactivated_at IS NULL
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Role)
	if err != nil {
		return User{}, err
	}
	if user.Role == "" {
		user.Role = "viewer"
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ----- clients -----

func (s *PostgresStore) ListClients(ctx context.Context) ([]Client, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.company, c.email, c.phone, c.billing_address, c.notes, c.created_at, c.updated_at,
			(SELECT COUNT(*) FROM cases ca
				JOIN statuses st ON st.id = ca.status_id
				WHERE ca.client_id = c.id AND NOT st.is_terminal) AS open_cases
		FROM clients c
		ORDER BY c.name
	`)
	if err != nil {
		return nil, fmt.Errorf("list clients: %w", err)
	}
	defer rows.Close()

	items := make([]Client, 0)
	for rows.Next() {
		var item Client
		if err := rows.Scan(&item.ID, &item.Name, &item.Company, &item.Email, &item.Phone,
			&item.BillingAddress, &item.Notes, &item.CreatedAt, &item.UpdatedAt, &item.OpenCaseCount); err != nil {
			return nil, fmt.Errorf("scan client: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clients: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetClient(ctx context.Context, clientID string) (Client, error) {
	var item Client
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, company, email, phone, billing_address, notes, created_at, updated_at
		FROM clients WHERE id=$1
	`, clientID).Scan(&item.ID, &item.Name, &item.Company, &item.Email, &item.Phone,
		&item.BillingAddress, &item.Notes, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return Client{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertClient(ctx context.Context, item Client) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO clients (id, name, company, email, phone, billing_address, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, item.ID, item.Name, item.Company, item.Email, item.Phone, item.BillingAddress, item.Notes)
	if err != nil {
		return fmt.Errorf("insert client: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateClient(ctx context.Context, item Client) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE clients
		SET name=$2, company=$3, email=$4, phone=$5, billing_address=$6, notes=$7, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Name, item.Company, item.Email, item.Phone, item.BillingAddress, item.Notes)
	if err != nil {
		return fmt.Errorf("update client: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteClient(ctx context.Context, clientID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM clients WHERE id=$1`, clientID)
	if err != nil {
		return fmt.Errorf("delete client: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ClientInUse reports whether the client still has open cases or unpaid
// installments. Closed cases do not block deletion; they cascade with the
// client.
func (s *PostgresStore) ClientInUse(ctx context.Context, clientID string) (bool, error) {
	var inUse bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(
				SELECT 1 FROM cases ca
				JOIN statuses st ON st.id = ca.status_id
				WHERE ca.client_id=$1 AND NOT st.is_terminal
			)
			OR EXISTS(
				SELECT 1 FROM installments i
				JOIN cases ca ON ca.id = i.case_id
				WHERE ca.client_id=$1 AND i.status IN ('pending', 'invoiced')
			)
	`, clientID).Scan(&inUse)
	if err != nil {
		return false, fmt.Errorf("check client in use: %w", err)
	}
	return inUse, nil
}

// ----- statuses -----

func (s *PostgresStore) ListStatuses(ctx context.Context) ([]Status, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, color, sort_order, is_terminal, created_at FROM statuses ORDER BY sort_order, name
	`)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	defer rows.Close()

	items := make([]Status, 0)
	for rows.Next() {
		var item Status
		if err := rows.Scan(&item.ID, &item.Name, &item.Color, &item.SortOrder, &item.IsTerminal, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate statuses: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertStatus(ctx context.Context, item Status) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO statuses (id, name, color, sort_order, is_terminal) VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.Name, item.Color, item.SortOrder, item.IsTerminal)
	if err != nil {
		return fmt.Errorf("insert status: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, item Status) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE statuses SET name=$2, color=$3, sort_order=$4, is_terminal=$5 WHERE id=$1
	`, item.ID, item.Name, item.Color, item.SortOrder, item.IsTerminal)
	if err != nil {
		return fmt.Errorf("update status: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteStatus(ctx context.Context, statusID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM statuses WHERE id=$1`, statusID)
	if err != nil {
		return fmt.Errorf("delete status: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) StatusCaseCount(ctx context.Context, statusID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM cases WHERE status_id=$1`, statusID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count status cases: %w", err)
	}
	return count, nil
}

// ----- cases -----

const caseColumns = `
	ca.id, ca.title, ca.description, ca.client_id, ca.status_id, ca.due_date,
	ca.fee_cents, ca.currency, ca.created_by, ca.created_at, ca.updated_at,
	cl.name, st.name
`

func (s *PostgresStore) scanCase(row interface{ Scan(...any) error }) (Case, error) {
	var item Case
	err := row.Scan(&item.ID, &item.Title, &item.Description, &item.ClientID, &item.StatusID,
		&item.DueDate, &item.FeeCents, &item.Currency, &item.CreatedBy, &item.CreatedAt,
		&item.UpdatedAt, &item.ClientName, &item.StatusName)
	return item, err
}

func (s *PostgresStore) ListCases(ctx context.Context, clientID, statusID string) ([]Case, error) {
	query := `
		SELECT ` + caseColumns + `
		FROM cases ca
		JOIN clients cl ON cl.id = ca.client_id
		JOIN statuses st ON st.id = ca.status_id
	`
	args := []any{}
	where := []string{}
	if clientID != "" {
		args = append(args, clientID)
		where = append(where, fmt.Sprintf("ca.client_id=$%d", len(args)))
	}
	if statusID != "" {
		args = append(args, statusID)
		where = append(where, fmt.Sprintf("ca.status_id=$%d", len(args)))
	}
	for i, cond := range where {
		if i == 0 {
			query += " WHERE " + cond
		} else {
			query += " AND " + cond
		}
	}
	query += " ORDER BY ca.updated_at DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	items := make([]Case, 0)
	for rows.Next() {
		item, err := s.scanCase(rows)
		if err != nil {
			return nil, fmt.Errorf("scan case: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}

	for i := range items {
		if err := s.loadCaseRelations(ctx, &items[i]); err != nil {
			return nil, err
		}
	}
	return items, nil
}

func (s *PostgresStore) GetCase(ctx context.Context, caseID string) (Case, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+caseColumns+`
		FROM cases ca
		JOIN clients cl ON cl.id = ca.client_id
		JOIN statuses st ON st.id = ca.status_id
		WHERE ca.id=$1
	`, caseID)
	item, err := s.scanCase(row)
	if err != nil {
		return Case{}, err
	}
	if err := s.loadCaseRelations(ctx, &item); err != nil {
		return Case{}, err
	}
	return item, nil
}

func (s *PostgresStore) loadCaseRelations(ctx context.Context, item *Case) error {
	rows, err := s.db.QueryContext(ctx, `SELECT user_id FROM case_assignees WHERE case_id=$1`, item.ID)
	if err != nil {
		return fmt.Errorf("list case assignees: %w", err)
	}
	defer rows.Close()
	item.Assignees = make([]string, 0)
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return fmt.Errorf("scan assignee: %w", err)
		}
		item.Assignees = append(item.Assignees, userID)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate assignees: %w", err)
	}

	tagRows, err := s.db.QueryContext(ctx, `SELECT tag FROM case_tags WHERE case_id=$1 ORDER BY tag`, item.ID)
	if err != nil {
		return fmt.Errorf("list case tags: %w", err)
	}
	defer tagRows.Close()
	item.Tags = make([]string, 0)
	for tagRows.Next() {
		var tag string
		if err := tagRows.Scan(&tag); err != nil {
			return fmt.Errorf("scan tag: %w", err)
		}
		item.Tags = append(item.Tags, tag)
	}
	if err := tagRows.Err(); err != nil {
		return fmt.Errorf("iterate tags: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertCase(ctx context.Context, item Case) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO cases (id, title, description, client_id, status_id, due_date, fee_cents, currency, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, item.ID, item.Title, item.Description, item.ClientID, item.StatusID, item.DueDate,
		item.FeeCents, item.Currency, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert case: %w", err)
	}
	return s.replaceCaseRelations(ctx, item)
}

func (s *PostgresStore) UpdateCase(ctx context.Context, item Case) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE cases
		SET title=$2, description=$3, client_id=$4, status_id=$5, due_date=$6, fee_cents=$7, currency=$8, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Title, item.Description, item.ClientID, item.StatusID, item.DueDate,
		item.FeeCents, item.Currency)
	if err != nil {
		return fmt.Errorf("update case: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return s.replaceCaseRelations(ctx, item)
}

func (s *PostgresStore) replaceCaseRelations(ctx context.Context, item Case) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM case_assignees WHERE case_id=$1`, item.ID); err != nil {
		return fmt.Errorf("clear assignees: %w", err)
	}
	for _, userID := range item.Assignees {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO case_assignees (case_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING
		`, item.ID, userID); err != nil {
			return fmt.Errorf("insert assignee: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM case_tags WHERE case_id=$1`, item.ID); err != nil {
		return fmt.Errorf("clear tags: %w", err)
	}
	for _, tag := range item.Tags {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO case_tags (case_id, tag) VALUES ($1, $2) ON CONFLICT DO NOTHING
		`, item.ID, tag); err != nil {
			return fmt.Errorf("insert tag: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) UpdateCaseStatus(ctx context.Context, caseID, statusID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE cases SET status_id=$2, updated_at=NOW() WHERE id=$1
	`, caseID, statusID)
	if err != nil {
		return fmt.Errorf("update case status: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteCase(ctx context.Context, caseID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM cases WHERE id=$1`, caseID)
	if err != nil {
		return fmt.Errorf("delete case: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ----- comments -----

func (s *PostgresStore) ListComments(ctx context.Context, caseID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.case_id, c.author_id, u.display_name, c.body, c.created_at
		FROM comments c
		JOIN users u ON u.id = c.author_id
		WHERE c.case_id=$1
		ORDER BY c.created_at
	`, caseID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var item Comment
		if err := rows.Scan(&item.ID, &item.CaseID, &item.AuthorID, &item.AuthorName, &item.Body, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) InsertComment(ctx context.Context, item Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, case_id, author_id, body) VALUES ($1, $2, $3, $4)
	`, item.ID, item.CaseID, item.AuthorID, item.Body)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetComment(ctx context.Context, commentID string) (Comment, error) {
	var item Comment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, case_id, author_id, body, created_at FROM comments WHERE id=$1
	`, commentID).Scan(&item.ID, &item.CaseID, &item.AuthorID, &item.Body, &item.CreatedAt)
	if err != nil {
		return Comment{}, err
	}
	return item, nil
}

func (s *PostgresStore) DeleteComment(ctx context.Context, commentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM comments WHERE id=$1`, commentID)
	if err != nil {
		return fmt.Errorf("delete comment: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ----- attachments -----

func (s *PostgresStore) ListAttachments(ctx context.Context, ownerType, ownerID string) ([]Attachment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_type, owner_id, file_name, content_type, size_bytes, object_key, uploaded_by, created_at
		FROM attachments
		WHERE owner_type=$1 AND owner_id=$2
		ORDER BY created_at
	`, ownerType, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list attachments: %w", err)
	}
	defer rows.Close()

	items := make([]Attachment, 0)
	for rows.Next() {
		var item Attachment
		if err := rows.Scan(&item.ID, &item.OwnerType, &item.OwnerID, &item.FileName, &item.ContentType,
			&item.SizeBytes, &item.ObjectKey, &item.UploadedBy, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetAttachment(ctx context.Context, attachmentID string) (Attachment, error) {
	var item Attachment
	err := s.db.QueryRowContext(ctx, `
		SELECT id, owner_type, owner_id, file_name, content_type, size_bytes, object_key, uploaded_by, created_at
		FROM attachments WHERE id=$1
	`, attachmentID).Scan(&item.ID, &item.OwnerType, &item.OwnerID, &item.FileName, &item.ContentType,
		&item.SizeBytes, &item.ObjectKey, &item.UploadedBy, &item.CreatedAt)
	if err != nil {
		return Attachment{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertAttachment(ctx context.Context, item Attachment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO attachments (id, owner_type, owner_id, file_name, content_type, size_bytes, object_key, uploaded_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, item.ID, item.OwnerType, item.OwnerID, item.FileName, item.ContentType, item.SizeBytes, item.ObjectKey, item.UploadedBy)
	if err != nil {
		return fmt.Errorf("insert attachment: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteAttachment(ctx context.Context, attachmentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM attachments WHERE id=$1`, attachmentID)
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ----- dashboard -----

func (s *PostgresStore) SummaryCounts(ctx context.Context, userID string) (openCases int, unpaidInstallments int, unreadMessages int, err error) {
	err = s.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM cases ca JOIN statuses st ON st.id = ca.status_id WHERE NOT st.is_terminal),
			(SELECT COUNT(*) FROM installments WHERE status IN ('pending', 'invoiced')),
			(SELECT COUNT(*)
				FROM messages m
				JOIN conversation_members cm ON cm.conversation_id = m.conversation_id
				WHERE cm.user_id = $1 AND m.created_at > cm.last_read_at AND m.author_id <> $1)
	`, userID).Scan(&openCases, &unpaidInstallments, &unreadMessages)
	if err != nil {
		err = fmt.Errorf("summary counts: %w", err)
	}
	return openCases, unpaidInstallments, unreadMessages, err
}
