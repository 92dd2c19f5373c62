package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"caseflow/api/internal/billing"
	"caseflow/api/internal/store"
)

func jsonBody(t *testing.T, payload any) *bytes.Reader {
	t.Helper()
	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal request body: %v", err)
	}
	return bytes.NewReader(data)
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("invalid JSON response %q: %v", rec.Body.String(), err)
	}
	return body
}

// newAuthedServer issues a real session for a user with the given role so
// route tests exercise the full token path.
func newAuthedServer(t *testing.T, fs *fakeStore, role string) (*HTTPServer, string) {
	t.Helper()
	user := store.User{ID: "usr_" + role, DisplayName: "Test " + role, Role: role}
	fs.ensureUserByNameFn = func(context.Context, string) (store.User, error) {
		return user, nil
	}
	fs.getUserByIDFn = func(context.Context, string) (store.User, error) {
		return user, nil
	}
	svc := newTestService(fs)
	server := NewHTTPServer(svc, "http://localhost:5173")

	session, err := svc.Login(context.Background(), user.DisplayName)
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	return server, session.Token
}

func TestRequireSessionUnauthorized(t *testing.T) {
	server := newTestServer(&fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/clients", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if body := decodeResponse(t, rec); body["code"] != "UNAUTHORIZED" {
		t.Errorf("code = %v, want UNAUTHORIZED", body["code"])
	}
}

func TestSessionEndpointAnonymous(t *testing.T) {
	server := newTestServer(&fakeStore{})

	req := httptest.NewRequest(http.MethodGet, "/api/session", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if body := decodeResponse(t, rec); body["authenticated"] != false {
		t.Errorf("authenticated = %v, want false", body["authenticated"])
	}
}

func TestViewerCannotCreateClient(t *testing.T) {
	server, token := newAuthedServer(t, &fakeStore{}, "viewer")

	req := httptest.NewRequest(http.MethodPost, "/api/clients", jsonBody(t, map[string]any{"name": "Acme"}))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	if body := decodeResponse(t, rec); body["code"] != "FORBIDDEN" {
		t.Errorf("code = %v, want FORBIDDEN", body["code"])
	}
}

func TestAgentCreatesClient(t *testing.T) {
	var created store.Client
	fs := &fakeStore{
		insertClientFn: func(_ context.Context, item store.Client) error {
			created = item
			return nil
		},
		getClientFn: func(context.Context, string) (store.Client, error) {
			return created, nil
		},
	}
	server, token := newAuthedServer(t, fs, "agent")

	req := httptest.NewRequest(http.MethodPost, "/api/clients", jsonBody(t, map[string]any{
		"name":    "Acme GmbH",
		"company": "Acme",
	}))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if body := decodeResponse(t, rec); body["name"] != "Acme GmbH" {
		t.Errorf("name = %v, want Acme GmbH", body["name"])
	}
}

func TestAgentCannotAccessBilling(t *testing.T) {
	server, token := newAuthedServer(t, &fakeStore{}, "agent")

	req := httptest.NewRequest(http.MethodGet, "/api/invoices", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestManagerListsInvoices(t *testing.T) {
	fs := &fakeStore{
		listInvoicesFn: func(_ context.Context, status string) ([]store.Invoice, error) {
			if status != "sent" {
				t.Errorf("status filter = %q, want sent", status)
			}
			return []store.Invoice{{ID: "inv_1", Status: "sent"}}, nil
		},
	}
	server, token := newAuthedServer(t, fs, "manager")

	req := httptest.NewRequest(http.MethodGet, "/api/invoices?status=sent", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}
	body := decodeResponse(t, rec)
	invoices, _ := body["invoices"].([]any)
	if len(invoices) != 1 {
		t.Errorf("invoices = %v, want one entry", body["invoices"])
	}
}

func TestSetUserRoleRequiresAdmin(t *testing.T) {
	server, token := newAuthedServer(t, &fakeStore{}, "manager")

	req := httptest.NewRequest(http.MethodPut, "/api/users/usr_2/role", jsonBody(t, map[string]any{"role": "agent"}))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for manager", rec.Code)
	}

	adminServer, adminToken := newAuthedServer(t, &fakeStore{}, "admin")
	req = httptest.NewRequest(http.MethodPut, "/api/users/usr_2/role", jsonBody(t, map[string]any{"role": "agent"}))
	req.Header.Set("Authorization", "Bearer "+adminToken)
	rec = httptest.NewRecorder()
	adminServer.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for admin: %s", rec.Code, rec.Body.String())
	}
}

func TestUnknownRouteNotFound(t *testing.T) {
	server, token := newAuthedServer(t, &fakeStore{}, "agent")

	req := httptest.NewRequest(http.MethodGet, "/api/nonsense", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestWebhookRouteBypassesSession(t *testing.T) {
	const secret = "whsec_test"
	fs := &fakeStore{
		getInvoiceByProcessorIDFn: func(_ context.Context, processorID string) (store.Invoice, error) {
			return store.Invoice{ID: "inv_1", InstallmentID: "ins_1", Status: "sent", ProcessorID: processorID}, nil
		},
	}
	svc := newTestService(fs)
	svc.cfg.PaymentWebhookSecret = secret
	server := NewHTTPServer(svc, "http://localhost:5173")

	body, signature := signedWebhookBody(t, secret, "evt_1", billing.EventInvoicePaid, "pi_1")
	req := httptest.NewRequest(http.MethodPost, "/api/billing/webhook", bytes.NewReader(body))
	req.Header.Set(billing.SignatureHeader, signature)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	// Tampered signature is rejected.
	req = httptest.NewRequest(http.MethodPost, "/api/billing/webhook", bytes.NewReader(body))
	req.Header.Set(billing.SignatureHeader, "deadbeef")
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for bad signature", rec.Code)
	}
}

func TestSessionLoginAndRefresh(t *testing.T) {
	user := store.User{ID: "usr_1", DisplayName: "Dana", Role: "agent"}
	saved := make(map[string]string) // refresh hash -> user id
	fs := &fakeStore{
		ensureUserByNameFn: func(context.Context, string) (store.User, error) { return user, nil },
		getUserByIDFn:      func(context.Context, string) (store.User, error) { return user, nil },
		saveRefreshSessionFn: func(_ context.Context, tokenHash, userID string, _ time.Time) error {
			saved[tokenHash] = userID
			return nil
		},
		lookupRefreshSessionFn: func(_ context.Context, tokenHash string) (store.User, error) {
			if _, ok := saved[tokenHash]; !ok {
				return store.User{}, sql.ErrNoRows
			}
			return user, nil
		},
		revokeRefreshSessionFn: func(_ context.Context, tokenHash string) error {
			delete(saved, tokenHash)
			return nil
		},
	}
	server := newTestServer(fs)

	req := httptest.NewRequest(http.MethodPost, "/api/session/login", jsonBody(t, map[string]any{"name": "Dana"}))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rec.Code, rec.Body.String())
	}
	login := decodeResponse(t, rec)
	refreshToken, _ := login["refreshToken"].(string)
	if refreshToken == "" {
		t.Fatal("login returned no refresh token")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/session/refresh", jsonBody(t, map[string]any{"refreshToken": refreshToken}))
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("refresh status = %d: %s", rec.Code, rec.Body.String())
	}
	refreshed := decodeResponse(t, rec)
	if refreshed["refreshToken"] == refreshToken {
		t.Error("refresh token was not rotated")
	}

	// The old refresh token is single-use.
	req = httptest.NewRequest(http.MethodPost, "/api/session/refresh", jsonBody(t, map[string]any{"refreshToken": refreshToken}))
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("reused refresh status = %d, want 401", rec.Code)
	}
}

func TestSignUpVerifySignInFlow(t *testing.T) {
	var created store.User
	fs := &fakeStore{
		createUserFn: func(_ context.Context, user store.User) error {
			created = user
			return nil
		},
		verifyUserEmailFn: func(_ context.Context, token string) error {
			if token != created.VerificationToken {
				return sql.ErrNoRows
			}
			created.IsEmailVerified = true
			return nil
		},
	}
	fs.getUserByEmailFn = func(_ context.Context, email string) (store.User, error) {
		if created.ID == "" || email != created.Email {
			return store.User{}, sql.ErrNoRows
		}
		return created, nil
	}
	fs.getUserByIDFn = func(context.Context, string) (store.User, error) {
		return created, nil
	}
	server := newTestServer(fs)

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", jsonBody(t, map[string]any{
		"email":       "dana@example.com",
		"password":    "correct-horse",
		"displayName": "Dana",
	}))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status = %d: %s", rec.Code, rec.Body.String())
	}
	signup := decodeResponse(t, rec)
	devToken, _ := signup["devVerificationToken"].(string)
	if devToken == "" {
		t.Fatal("expected dev verification token without SMTP configured")
	}

	// Signing in before verification is refused.
	req = httptest.NewRequest(http.MethodPost, "/api/auth/signin", jsonBody(t, map[string]any{
		"email":    "dana@example.com",
		"password": "correct-horse",
	}))
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusForbidden {
		t.Fatalf("unverified signin status = %d, want 403", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/auth/verify-email", jsonBody(t, map[string]any{"token": devToken}))
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("verify status = %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/api/auth/signin", jsonBody(t, map[string]any{
		"email":    "dana@example.com",
		"password": "correct-horse",
	}))
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("signin status = %d: %s", rec.Code, rec.Body.String())
	}
	signin := decodeResponse(t, rec)
	if signin["accessToken"] == "" || signin["accessToken"] == nil {
		t.Error("signin returned no access token")
	}

	// Wrong password stays a 401.
	req = httptest.NewRequest(http.MethodPost, "/api/auth/signin", jsonBody(t, map[string]any{
		"email":    "dana@example.com",
		"password": "wrong-password",
	}))
	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d, want 401", rec.Code)
	}
}
