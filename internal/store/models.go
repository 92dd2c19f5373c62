package store

import "time"

type User struct {
	ID                    string
	DisplayName           string
	Email                 string
	PasswordHash          string
	Role                  string
	IsEmailVerified       bool
	VerificationToken     string
	VerificationExpiresAt *time.Time
	DeactivatedAt         *time.Time
	CreatedAt             time.Time
	UpdatedAt             time.Time
}

type Client struct {
	ID             string
	Name           string
	Company        string
	Email          string
	Phone          string
	BillingAddress string
	Notes          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	// Joined for list views
	OpenCaseCount int
}

type Status struct {
	ID        string
	Name      string
	Color     string
	SortOrder int
	// Cases in a terminal status count as closed.
	IsTerminal bool
	CreatedAt  time.Time
}

type Case struct {
	ID          string
	Title       string
	Description string
	ClientID    string
	StatusID    string
	DueDate     *time.Time
	FeeCents    int64
	Currency    string
	CreatedBy   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	// Joined for list views
	ClientName string
	StatusName string
	Assignees  []string
	Tags       []string
}

type Comment struct {
	ID         string
	CaseID     string
	AuthorID   string
	AuthorName string
	Body       string
	CreatedAt  time.Time
}

type Attachment struct {
	ID          string
	OwnerType   string // 'case' or 'message'
	OwnerID     string
	FileName    string
	ContentType string
	SizeBytes   int64
	ObjectKey   string
	UploadedBy  string
	CreatedAt   time.Time
}

type Installment struct {
	ID          string
	CaseID      string
	AmountCents int64
	Currency    string
	DueDate     time.Time
	Status      string // pending, invoiced, paid, cancelled
	InvoiceID   *string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Invoice struct {
	ID            string
	InstallmentID string
	ClientID      string
	Status        string // draft, sent, paid, cancelled
	AmountCents   int64
	Currency      string
	ProcessorID   string
	PaymentURL    string
	ReceiptURL    string
	SentAt        *time.Time
	PaidAt        *time.Time
	CancelledAt   *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	// Joined for rendering and email
	ClientName  string
	ClientEmail string
	CaseTitle   string
}

type Conversation struct {
	ID        string
	Kind      string // direct, group
	Title     string
	CreatedBy string
	CreatedAt time.Time
	// Joined for list views
	MemberIDs   []string
	LastMessage string
	UnreadCount int
}

type Message struct {
	ID             string
	ConversationID string
	AuthorID       string
	AuthorName     string
	Body           string
	AttachmentID   *string
	CreatedAt      time.Time
}

type Reaction struct {
	MessageID string
	UserID    string
	Emoji     string
	CreatedAt time.Time
}

type ReactionCount struct {
	MessageID string
	Emoji     string
	Count     int
}

type WikiFolder struct {
	ID         string
	Name       string
	Visibility string // private, workspace
	OwnerID    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	// Joined for list views
	DocumentCount int
}

type WikiDocument struct {
	ID        string
	FolderID  string
	Title     string
	Kind      string // note, table, whiteboard
	UpdatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type RevisionInfo struct {
	Hash      string
	Message   string
	Author    string
	CreatedAt time.Time
}
