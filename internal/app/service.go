package app

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"caseflow/api/internal/auth"
	"caseflow/api/internal/authpw"
	"caseflow/api/internal/billing"
	"caseflow/api/internal/chat"
	"caseflow/api/internal/config"
	"caseflow/api/internal/docrepo"
	"caseflow/api/internal/rbac"
	"caseflow/api/internal/search"
	"caseflow/api/internal/store"
	"caseflow/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

var allowedRoles = map[string]struct{}{
	"viewer":  {},
	"agent":   {},
	"manager": {},
	"admin":   {},
}

var allowedFolderVisibility = map[string]struct{}{
	"private":   {},
	"workspace": {},
}

var allowedDocumentKinds = map[string]struct{}{
	"note":       {},
	"table":      {},
	"whiteboard": {},
}

type dataStore interface {
	Ping(ctx context.Context) error

	EnsureUserByName(context.Context, string) (store.User, error)
	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	CreateUser(context.Context, store.User) error
	ListUsers(context.Context) ([]store.User, error)
	SetUserRole(context.Context, string, string) error
	UpdateUserVerificationToken(context.Context, string, string, time.Time) error
	VerifyUserEmail(context.Context, string) error
	UpdateUserPassword(context.Context, string, string) error
	CreatePasswordReset(context.Context, string, string, time.Time) error
	GetPasswordReset(context.Context, string) (string, error)
	MarkPasswordResetUsed(context.Context, string) error

	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	ListClients(context.Context) ([]store.Client, error)
	GetClient(context.Context, string) (store.Client, error)
	InsertClient(context.Context, store.Client) error
	UpdateClient(context.Context, store.Client) error
	DeleteClient(context.Context, string) error
	ClientInUse(context.Context, string) (bool, error)

	ListStatuses(context.Context) ([]store.Status, error)
	InsertStatus(context.Context, store.Status) error
	UpdateStatus(context.Context, store.Status) error
	DeleteStatus(context.Context, string) error
	StatusCaseCount(context.Context, string) (int, error)

	ListCases(context.Context, string, string) ([]store.Case, error)
	GetCase(context.Context, string) (store.Case, error)
	InsertCase(context.Context, store.Case) error
	UpdateCase(context.Context, store.Case) error
	UpdateCaseStatus(context.Context, string, string) error
	DeleteCase(context.Context, string) error

	ListComments(context.Context, string) ([]store.Comment, error)
	GetComment(context.Context, string) (store.Comment, error)
	InsertComment(context.Context, store.Comment) error
	DeleteComment(context.Context, string) error

	ListAttachments(context.Context, string, string) ([]store.Attachment, error)
	GetAttachment(context.Context, string) (store.Attachment, error)
	InsertAttachment(context.Context, store.Attachment) error
	DeleteAttachment(context.Context, string) error

	SummaryCounts(context.Context, string) (int, int, int, error)

	ListInstallments(context.Context, string) ([]store.Installment, error)
	GetInstallment(context.Context, string) (store.Installment, error)
	InsertInstallment(context.Context, store.Installment) error
	UpdateInstallment(context.Context, store.Installment) error
	SetInstallmentStatus(context.Context, string, string, *string) error
	DeleteInstallment(context.Context, string) error
	InstallmentTotal(context.Context, string, string) (int64, error)

	ListInvoices(context.Context, string) ([]store.Invoice, error)
	GetInvoice(context.Context, string) (store.Invoice, error)
	GetInvoiceByProcessorID(context.Context, string) (store.Invoice, error)
	InsertInvoice(context.Context, store.Invoice) error
	MarkInvoiceSent(context.Context, string, string, time.Time) error
	MarkInvoicePaid(context.Context, string, string, time.Time) error
	MarkInvoiceCancelled(context.Context, string, time.Time) error
	RecordWebhookEvent(context.Context, string, string) (bool, error)

	ListConversations(context.Context, string) ([]store.Conversation, error)
	GetConversation(context.Context, string) (store.Conversation, error)
	InsertConversation(context.Context, store.Conversation) error
	ListConversationMembers(context.Context, string) ([]string, error)
	AddConversationMember(context.Context, string, string) error
	IsConversationMember(context.Context, string, string) (bool, error)
	MarkConversationRead(context.Context, string, string, time.Time) error
	FindDirectConversation(context.Context, string, string) (store.Conversation, error)
	ListMessages(context.Context, string, time.Time, int) ([]store.Message, error)
	GetMessage(context.Context, string) (store.Message, error)
	InsertMessage(context.Context, store.Message) error
	ToggleReaction(context.Context, string, string, string) (bool, error)
	ListReactionCounts(context.Context, string) ([]store.ReactionCount, error)

	ListWikiFolders(context.Context, string) ([]store.WikiFolder, error)
	GetWikiFolder(context.Context, string) (store.WikiFolder, error)
	InsertWikiFolder(context.Context, store.WikiFolder) error
	UpdateWikiFolder(context.Context, string, string, string) error
	DeleteWikiFolder(context.Context, string) error
	ListWikiDocuments(context.Context, string) ([]store.WikiDocument, error)
	GetWikiDocument(context.Context, string) (store.WikiDocument, error)
	InsertWikiDocument(context.Context, store.WikiDocument) error
	UpdateWikiDocument(context.Context, string, string, string, string) error
	DeleteWikiDocument(context.Context, string) error
}

// refreshSessionStore holds refresh tokens. Redis when configured,
// the Postgres store otherwise.
type refreshSessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type docService interface {
	EnsureDocumentRepo(documentID string, initial docrepo.Content, author string) error
	CommitContent(documentID string, content docrepo.Content, author, message string) (store.RevisionInfo, error)
	GetHeadContent(documentID string) (docrepo.Content, store.RevisionInfo, error)
	GetContentByHash(documentID, hash string) (docrepo.Content, error)
	History(documentID string, limit int) ([]store.RevisionInfo, error)
	DeleteDocumentRepo(documentID string) error
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexCase(c search.CaseRecord)
	IndexClient(c search.ClientRecord)
	IndexWiki(w search.WikiRecord)
	DeleteCase(id string)
	DeleteClient(id string)
	DeleteWiki(id string)
	ReindexAllFromPG(ctx context.Context)
}

type processorClient interface {
	CreateInvoice(ctx context.Context, params billing.CreateInvoiceParams) (billing.Invoice, error)
	FinalizeInvoice(ctx context.Context, invoiceID string) (billing.Invoice, error)
	VoidInvoice(ctx context.Context, invoiceID string) error
	GetInvoice(ctx context.Context, invoiceID string) (billing.Invoice, error)
}

type blobStore interface {
	Put(ctx context.Context, objectKey string, r io.Reader, size int64, contentType string) error
	PresignGet(ctx context.Context, objectKey, filename string) (string, error)
	Delete(ctx context.Context, objectKey string) error
}

type mailer interface {
	IsConfigured() bool
	SendVerificationEmail(to, userName, verificationURL string) error
	SendPasswordResetEmail(to, userName, resetURL string) error
	SendInvoiceEmail(to, clientName, caseTitle, amount, paymentURL string) error
	SendReceiptEmail(to, clientName, caseTitle, amount, receiptURL string) error
}

// Deps carries the optional service dependencies. Nil fields disable the
// matching feature (billing, attachments, email) or fall back (sessions).
type Deps struct {
	Sessions refreshSessionStore
	Docs     docService
	Search   searchService
	Hub      *chat.Hub
	Blob     blobStore
	Billing  processorClient
	Email    mailer
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions refreshSessionStore
	docs     docService
	search   searchService
	hub      *chat.Hub
	blob     blobStore
	billing  processorClient
	email    mailer
	authpw   *authpw.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, deps Deps) *Service {
	service := &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: deps.Sessions,
		docs:     deps.Docs,
		search:   deps.Search,
		hub:      deps.Hub,
		blob:     deps.Blob,
		billing:  deps.Billing,
		email:    deps.Email,
		authpw:   authpw.NewService(dataStore),
	}
	if service.sessions == nil {
		service.sessions = dataStore
	}
	return service
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// Ping checks the health of service dependencies (database, etc.)
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Bootstrap seeds an empty workspace with the default status board and a
// demo client/case so a fresh install is not a blank screen. Runs once;
// a workspace that already has statuses is left alone.
func (s *Service) Bootstrap(ctx context.Context) error {
	statuses, err := s.store.ListStatuses(ctx)
	if err != nil {
		return err
	}
	if len(statuses) > 0 {
		if s.search != nil {
			go s.search.ReindexAllFromPG(context.Background())
		}
		return nil
	}

	owner, err := s.store.EnsureUserByName(ctx, "Avery")
	if err != nil {
		return err
	}
	if err := s.store.SetUserRole(ctx, owner.ID, "admin"); err != nil {
		return err
	}

	statusSeeds := []struct {
		Name     string
		Color    string
		Terminal bool
	}{
		{Name: "New", Color: "#6b7280"},
		{Name: "In Progress", Color: "#2563eb"},
		{Name: "Waiting on Client", Color: "#d97706"},
		{Name: "Done", Color: "#16a34a", Terminal: true},
	}
	statusIDs := make([]string, 0, len(statusSeeds))
	for i, seed := range statusSeeds {
		statusID := util.NewID("sts")
		if err := s.store.InsertStatus(ctx, store.Status{
			ID:         statusID,
			Name:       seed.Name,
			Color:      seed.Color,
			SortOrder:  i,
			IsTerminal: seed.Terminal,
		}); err != nil {
			return err
		}
		statusIDs = append(statusIDs, statusID)
	}

	clientID := util.NewID("cli")
	if err := s.store.InsertClient(ctx, store.Client{
		ID:             clientID,
		Name:           "Dana Schmidt",
		Company:        "Acme GmbH",
		Email:          "dana@acme.test",
		Phone:          "+49 30 1234567",
		BillingAddress: "Musterstr. 1, 10115 Berlin",
		Notes:          "Prefers email. Net-14 payment terms.",
	}); err != nil {
		return err
	}

	caseID := util.NewID("cas")
	if err := s.store.InsertCase(ctx, store.Case{
		ID:          caseID,
		Title:       "Website relaunch",
		Description: "Full relaunch of the marketing site, three milestones.",
		ClientID:    clientID,
		StatusID:    statusIDs[1],
		FeeCents:    750000,
		Currency:    "EUR",
		CreatedBy:   owner.ID,
		Assignees:   []string{owner.ID},
		Tags:        []string{"web", "fixed-fee"},
	}); err != nil {
		return err
	}

	if s.search != nil {
		go s.search.ReindexAllFromPG(context.Background())
	}
	return nil
}

// Login is the dev login path: name in, session out. Password sign-in goes
// through the authpw service and CreateSession.
func (s *Service) Login(ctx context.Context, name string) (Session, error) {
	userName := strings.TrimSpace(name)
	if userName == "" {
		userName = "User"
	}

	user, err := s.store.EnsureUserByName(ctx, userName)
	if err != nil {
		return Session{}, err
	}

	return s.issueSession(ctx, user)
}

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	// The session record may carry a stale role; prefer the user row.
	if fresh, err := s.store.GetUserByID(ctx, user.ID); err == nil {
		user = fresh
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) ListUsers(ctx context.Context) ([]map[string]any, error) {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, map[string]any{
			"id":          user.ID,
			"name":        user.DisplayName,
			"email":       user.Email,
			"role":        user.Role,
			"deactivated": user.DeactivatedAt != nil,
		})
	}
	return items, nil
}

func (s *Service) SetUserRole(ctx context.Context, userID, role string) (map[string]any, error) {
	role = strings.TrimSpace(role)
	if _, ok := allowedRoles[role]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "role must be one of viewer, agent, manager, admin", nil)
	}
	if _, err := s.store.GetUserByID(ctx, userID); err != nil {
		return nil, err
	}
	if err := s.store.SetUserRole(ctx, userID, role); err != nil {
		return nil, err
	}
	return map[string]any{"id": userID, "role": role}, nil
}

func (s *Service) Summary(ctx context.Context, userID string) (map[string]any, error) {
	openCases, unpaidInstallments, unreadMessages, err := s.store.SummaryCounts(ctx, userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"openCases":          openCases,
		"unpaidInstallments": unpaidInstallments,
		"unreadMessages":     unreadMessages,
	}, nil
}

func (s *Service) SearchWorkspace(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}

// Clients

func (s *Service) ListClients(ctx context.Context) ([]map[string]any, error) {
	clients, err := s.store.ListClients(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(clients))
	for _, client := range clients {
		items = append(items, clientMap(client))
	}
	return items, nil
}

func (s *Service) GetClient(ctx context.Context, clientID string) (map[string]any, error) {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	return clientMap(client), nil
}

type ClientInput struct {
	Name           string `json:"name"`
	Company        string `json:"company"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	BillingAddress string `json:"billingAddress"`
	Notes          string `json:"notes"`
}

func (s *Service) CreateClient(ctx context.Context, input ClientInput) (map[string]any, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	client := store.Client{
		ID:             util.NewID("cli"),
		Name:           name,
		Company:        strings.TrimSpace(input.Company),
		Email:          strings.TrimSpace(input.Email),
		Phone:          strings.TrimSpace(input.Phone),
		BillingAddress: strings.TrimSpace(input.BillingAddress),
		Notes:          input.Notes,
	}
	if err := s.store.InsertClient(ctx, client); err != nil {
		return nil, err
	}
	s.indexClient(client)
	return s.GetClient(ctx, client.ID)
}

func (s *Service) UpdateClient(ctx context.Context, clientID string, input ClientInput) (map[string]any, error) {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, err
	}
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	client.Name = name
	client.Company = strings.TrimSpace(input.Company)
	client.Email = strings.TrimSpace(input.Email)
	client.Phone = strings.TrimSpace(input.Phone)
	client.BillingAddress = strings.TrimSpace(input.BillingAddress)
	client.Notes = input.Notes
	if err := s.store.UpdateClient(ctx, client); err != nil {
		return nil, err
	}
	s.indexClient(client)
	return s.GetClient(ctx, clientID)
}

func (s *Service) DeleteClient(ctx context.Context, clientID string) error {
	if _, err := s.store.GetClient(ctx, clientID); err != nil {
		return err
	}
	inUse, err := s.store.ClientInUse(ctx, clientID)
	if err != nil {
		return err
	}
	if inUse {
		return domainError(http.StatusConflict, "CLIENT_IN_USE", "Client has open cases or unpaid installments", nil)
	}
	if err := s.store.DeleteClient(ctx, clientID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteClient(clientID)
	}
	return nil
}

// Statuses

func (s *Service) ListStatuses(ctx context.Context) ([]map[string]any, error) {
	statuses, err := s.store.ListStatuses(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(statuses))
	for _, status := range statuses {
		items = append(items, statusMap(status))
	}
	return items, nil
}

type StatusInput struct {
	Name       string `json:"name"`
	Color      string `json:"color"`
	SortOrder  int    `json:"sortOrder"`
	IsTerminal bool   `json:"isTerminal"`
}

func (s *Service) CreateStatus(ctx context.Context, input StatusInput) (map[string]any, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	status := store.Status{
		ID:         util.NewID("sts"),
		Name:       name,
		Color:      firstNonBlank(strings.TrimSpace(input.Color), "#6b7280"),
		SortOrder:  input.SortOrder,
		IsTerminal: input.IsTerminal,
	}
	if err := s.store.InsertStatus(ctx, status); err != nil {
		return nil, err
	}
	return statusMap(status), nil
}

func (s *Service) UpdateStatus(ctx context.Context, statusID string, input StatusInput) (map[string]any, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	status := store.Status{
		ID:         statusID,
		Name:       name,
		Color:      firstNonBlank(strings.TrimSpace(input.Color), "#6b7280"),
		SortOrder:  input.SortOrder,
		IsTerminal: input.IsTerminal,
	}
	if err := s.store.UpdateStatus(ctx, status); err != nil {
		return nil, err
	}
	return statusMap(status), nil
}

func (s *Service) DeleteStatus(ctx context.Context, statusID string) error {
	count, err := s.store.StatusCaseCount(ctx, statusID)
	if err != nil {
		return err
	}
	if count > 0 {
		return domainError(http.StatusConflict, "STATUS_IN_USE", "Status is assigned to cases", map[string]any{"caseCount": count})
	}
	return s.store.DeleteStatus(ctx, statusID)
}

// Cases

func (s *Service) ListCases(ctx context.Context, clientID, statusID string) ([]map[string]any, error) {
	cases, err := s.store.ListCases(ctx, clientID, statusID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(cases))
	for _, item := range cases {
		items = append(items, caseMap(item))
	}
	return items, nil
}

func (s *Service) GetCase(ctx context.Context, caseID string) (map[string]any, error) {
	item, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	payload := caseMap(item)

	comments, err := s.store.ListComments(ctx, caseID)
	if err != nil {
		return nil, err
	}
	commentItems := make([]map[string]any, 0, len(comments))
	for _, comment := range comments {
		commentItems = append(commentItems, commentMap(comment))
	}
	payload["comments"] = commentItems

	attachments, err := s.store.ListAttachments(ctx, "case", caseID)
	if err != nil {
		return nil, err
	}
	attachmentItems := make([]map[string]any, 0, len(attachments))
	for _, attachment := range attachments {
		attachmentItems = append(attachmentItems, attachmentMap(attachment))
	}
	payload["attachments"] = attachmentItems

	return payload, nil
}

type CaseInput struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	ClientID    string   `json:"clientId"`
	StatusID    string   `json:"statusId"`
	DueDate     string   `json:"dueDate"`
	FeeCents    int64    `json:"feeCents"`
	Currency    string   `json:"currency"`
	Assignees   []string `json:"assignees"`
	Tags        []string `json:"tags"`
}

func (s *Service) CreateCase(ctx context.Context, userID string, input CaseInput) (map[string]any, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if strings.TrimSpace(input.ClientID) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "clientId is required", nil)
	}
	if input.FeeCents < 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "feeCents must not be negative", nil)
	}
	if _, err := s.store.GetClient(ctx, input.ClientID); err != nil {
		return nil, err
	}

	statusID := strings.TrimSpace(input.StatusID)
	if statusID == "" {
		statuses, err := s.store.ListStatuses(ctx)
		if err != nil {
			return nil, err
		}
		if len(statuses) == 0 {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "no statuses defined", nil)
		}
		statusID = statuses[0].ID
	}

	dueDate, err := parseDueDate(input.DueDate)
	if err != nil {
		return nil, err
	}

	item := store.Case{
		ID:          util.NewID("cas"),
		Title:       title,
		Description: input.Description,
		ClientID:    input.ClientID,
		StatusID:    statusID,
		DueDate:     dueDate,
		FeeCents:    input.FeeCents,
		Currency:    firstNonBlank(strings.ToUpper(strings.TrimSpace(input.Currency)), "EUR"),
		CreatedBy:   userID,
		Assignees:   dedupeStrings(input.Assignees),
		Tags:        dedupeStrings(input.Tags),
	}
	if err := s.store.InsertCase(ctx, item); err != nil {
		return nil, err
	}
	s.indexCaseByID(ctx, item.ID)
	return s.GetCase(ctx, item.ID)
}

func (s *Service) UpdateCase(ctx context.Context, caseID string, input CaseInput) (map[string]any, error) {
	item, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title is required", nil)
	}
	if input.FeeCents < 0 {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "feeCents must not be negative", nil)
	}
	if clientID := strings.TrimSpace(input.ClientID); clientID != "" && clientID != item.ClientID {
		if _, err := s.store.GetClient(ctx, clientID); err != nil {
			return nil, err
		}
		item.ClientID = clientID
	}
	if statusID := strings.TrimSpace(input.StatusID); statusID != "" {
		item.StatusID = statusID
	}
	dueDate, err := parseDueDate(input.DueDate)
	if err != nil {
		return nil, err
	}

	// Fee can only shrink down to what is already scheduled.
	scheduled, err := s.store.InstallmentTotal(ctx, caseID, "")
	if err != nil {
		return nil, err
	}
	if input.FeeCents < scheduled {
		return nil, domainError(http.StatusUnprocessableEntity, "INSTALLMENT_EXCEEDS_FEE", "Case fee is below the scheduled installment total", map[string]any{
			"feeCents":       input.FeeCents,
			"scheduledCents": scheduled,
		})
	}

	item.Title = title
	item.Description = input.Description
	item.DueDate = dueDate
	item.FeeCents = input.FeeCents
	if currency := strings.ToUpper(strings.TrimSpace(input.Currency)); currency != "" {
		item.Currency = currency
	}
	item.Assignees = dedupeStrings(input.Assignees)
	item.Tags = dedupeStrings(input.Tags)

	if err := s.store.UpdateCase(ctx, item); err != nil {
		return nil, err
	}
	s.indexCaseByID(ctx, caseID)
	return s.GetCase(ctx, caseID)
}

func (s *Service) UpdateCaseStatus(ctx context.Context, caseID, statusID string) (map[string]any, error) {
	if strings.TrimSpace(statusID) == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "statusId is required", nil)
	}
	if _, err := s.store.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	if err := s.store.UpdateCaseStatus(ctx, caseID, statusID); err != nil {
		return nil, err
	}
	s.indexCaseByID(ctx, caseID)
	return s.GetCase(ctx, caseID)
}

func (s *Service) DeleteCase(ctx context.Context, caseID string) error {
	if _, err := s.store.GetCase(ctx, caseID); err != nil {
		return err
	}
	if err := s.store.DeleteCase(ctx, caseID); err != nil {
		return err
	}
	if s.search != nil {
		s.search.DeleteCase(caseID)
	}
	return nil
}

// Comments

func (s *Service) AddComment(ctx context.Context, caseID, authorID, body string) (map[string]any, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "body is required", nil)
	}
	if _, err := s.store.GetCase(ctx, caseID); err != nil {
		return nil, err
	}
	comment := store.Comment{
		ID:       util.NewID("cmt"),
		CaseID:   caseID,
		AuthorID: authorID,
		Body:     body,
	}
	if err := s.store.InsertComment(ctx, comment); err != nil {
		return nil, err
	}
	saved, err := s.store.GetComment(ctx, comment.ID)
	if err != nil {
		return nil, err
	}
	return commentMap(saved), nil
}

func (s *Service) DeleteComment(ctx context.Context, caseID, commentID, userID, role string) error {
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return err
	}
	if comment.CaseID != caseID {
		return sql.ErrNoRows
	}
	if comment.AuthorID != userID && !s.Can(role, rbac.ActionAdmin) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the author or an admin can delete a comment", nil)
	}
	return s.store.DeleteComment(ctx, commentID)
}

// Attachments

func (s *Service) AddAttachment(ctx context.Context, ownerType, ownerID, fileName, contentType string, size int64, body io.Reader, uploadedBy string) (map[string]any, error) {
	if s.blob == nil {
		return nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Object storage is not configured", nil)
	}
	if ownerType != "case" && ownerType != "message" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "ownerType must be case or message", nil)
	}
	fileName = strings.TrimSpace(fileName)
	if fileName == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file name is required", nil)
	}
	if ownerType == "case" {
		if _, err := s.store.GetCase(ctx, ownerID); err != nil {
			return nil, err
		}
	}
	// Message attachments belong to a conversation; only its members upload.
	if ownerType == "message" {
		if err := s.requireMembership(ctx, ownerID, uploadedBy); err != nil {
			return nil, err
		}
	}

	attachment := store.Attachment{
		ID:          util.NewID("att"),
		OwnerType:   ownerType,
		OwnerID:     ownerID,
		FileName:    fileName,
		ContentType: firstNonBlank(contentType, "application/octet-stream"),
		SizeBytes:   size,
		UploadedBy:  uploadedBy,
	}
	attachment.ObjectKey = fmt.Sprintf("%s/%s/%s-%s", ownerType, ownerID, attachment.ID, fileName)

	if err := s.blob.Put(ctx, attachment.ObjectKey, body, size, attachment.ContentType); err != nil {
		return nil, fmt.Errorf("store attachment object: %w", err)
	}
	if err := s.store.InsertAttachment(ctx, attachment); err != nil {
		_ = s.blob.Delete(ctx, attachment.ObjectKey)
		return nil, err
	}
	return attachmentMap(attachment), nil
}

func (s *Service) AttachmentURL(ctx context.Context, attachmentID, userID, role string) (map[string]any, error) {
	if s.blob == nil {
		return nil, domainError(http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE", "Object storage is not configured", nil)
	}
	attachment, err := s.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		return nil, err
	}
	// Message attachments are hidden from non-members of the conversation.
	if attachment.OwnerType == "message" && !s.Can(role, rbac.ActionAdmin) {
		if err := s.requireMembership(ctx, attachment.OwnerID, userID); err != nil {
			return nil, err
		}
	}
	url, err := s.blob.PresignGet(ctx, attachment.ObjectKey, attachment.FileName)
	if err != nil {
		return nil, fmt.Errorf("presign attachment: %w", err)
	}
	return map[string]any{
		"id":       attachment.ID,
		"fileName": attachment.FileName,
		"url":      url,
	}, nil
}

func (s *Service) DeleteAttachment(ctx context.Context, attachmentID, userID, role string) error {
	attachment, err := s.store.GetAttachment(ctx, attachmentID)
	if err != nil {
		return err
	}
	if attachment.UploadedBy != userID && !s.Can(role, rbac.ActionAdmin) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the uploader or an admin can delete an attachment", nil)
	}
	if s.blob != nil {
		_ = s.blob.Delete(ctx, attachment.ObjectKey)
	}
	return s.store.DeleteAttachment(ctx, attachmentID)
}

// Search index plumbing. Fire-and-forget; the search service logs failures.

func (s *Service) indexClient(client store.Client) {
	if s.search == nil {
		return
	}
	s.search.IndexClient(search.ClientRecord{
		ID:      client.ID,
		Name:    client.Name,
		Company: client.Company,
		Email:   client.Email,
		Notes:   client.Notes,
	})
}

func (s *Service) indexCaseByID(ctx context.Context, caseID string) {
	if s.search == nil {
		return
	}
	item, err := s.store.GetCase(ctx, caseID)
	if err != nil {
		return
	}
	s.search.IndexCase(search.CaseRecord{
		ID:          item.ID,
		Title:       item.Title,
		Description: item.Description,
		ClientID:    item.ClientID,
		ClientName:  item.ClientName,
		StatusName:  item.StatusName,
	})
}

// Payload helpers

func statusMap(status store.Status) map[string]any {
	return map[string]any{
		"id":         status.ID,
		"name":       status.Name,
		"color":      status.Color,
		"sortOrder":  status.SortOrder,
		"isTerminal": status.IsTerminal,
	}
}

func clientMap(client store.Client) map[string]any {
	return map[string]any{
		"id":             client.ID,
		"name":           client.Name,
		"company":        client.Company,
		"email":          client.Email,
		"phone":          client.Phone,
		"billingAddress": client.BillingAddress,
		"notes":          client.Notes,
		"openCaseCount":  client.OpenCaseCount,
		"createdAt":      client.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func caseMap(item store.Case) map[string]any {
	payload := map[string]any{
		"id":          item.ID,
		"title":       item.Title,
		"description": item.Description,
		"clientId":    item.ClientID,
		"clientName":  item.ClientName,
		"statusId":    item.StatusID,
		"statusName":  item.StatusName,
		"feeCents":    item.FeeCents,
		"currency":    item.Currency,
		"createdBy":   item.CreatedBy,
		"assignees":   append([]string{}, item.Assignees...),
		"tags":        append([]string{}, item.Tags...),
		"createdAt":   item.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt":   item.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if item.DueDate != nil {
		payload["dueDate"] = item.DueDate.UTC().Format("2006-01-02")
	} else {
		payload["dueDate"] = nil
	}
	return payload
}

func commentMap(comment store.Comment) map[string]any {
	return map[string]any{
		"id":         comment.ID,
		"caseId":     comment.CaseID,
		"authorId":   comment.AuthorID,
		"authorName": comment.AuthorName,
		"body":       comment.Body,
		"createdAt":  comment.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func attachmentMap(attachment store.Attachment) map[string]any {
	return map[string]any{
		"id":          attachment.ID,
		"ownerType":   attachment.OwnerType,
		"ownerId":     attachment.OwnerID,
		"fileName":    attachment.FileName,
		"contentType": attachment.ContentType,
		"sizeBytes":   attachment.SizeBytes,
		"uploadedBy":  attachment.UploadedBy,
		"createdAt":   attachment.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func parseDueDate(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "dueDate must be YYYY-MM-DD", nil)
	}
	return &parsed, nil
}

func dedupeStrings(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	result := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		result = append(result, value)
	}
	return result
}

func firstNonBlank(values ...string) string {
	for _, value := range values {
		if strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}
