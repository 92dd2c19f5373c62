package search

// ResultType identifies the kind of entity in a search result.
type ResultType string

const (
	ResultCase   ResultType = "case"
	ResultClient ResultType = "client"
	ResultWiki   ResultType = "wiki"
)

// Result is a single search hit returned to the caller.
type Result struct {
	Type       ResultType `json:"type"`
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	Snippet    string     `json:"snippet"`
	FolderID   string     `json:"folderId,omitempty"`
	ClientID   string     `json:"clientId,omitempty"`
	Visibility string     `json:"visibility,omitempty"`
	OwnerID    string     `json:"-"`
}

// Query describes a search request.
type Query struct {
	Text       string
	FilterType ResultType // empty = all types
	Limit      int
	Offset     int
	ViewerID   string // private wiki documents are only visible to their owner
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
}

// Searcher can execute a full-text search.
type Searcher interface {
	Search(q Query) ([]Result, int, error)
	Healthy() bool
}

// Indexer can push entities into a search index.
type Indexer interface {
	IndexCase(c CaseRecord) error
	IndexClient(c ClientRecord) error
	IndexWiki(w WikiRecord) error
	DeleteCase(id string) error
	DeleteClient(id string) error
	DeleteWiki(id string) error
}

// CaseRecord is the data we index for a case.
type CaseRecord struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	ClientID    string `json:"clientId"`
	ClientName  string `json:"clientName"`
	StatusName  string `json:"statusName"`
}

// ClientRecord is the data we index for a client.
type ClientRecord struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Company string `json:"company"`
	Email   string `json:"email"`
	Notes   string `json:"notes"`
}

// WikiRecord is the data we index for a wiki document.
type WikiRecord struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	FolderID   string `json:"folderId"`
	Kind       string `json:"kind"`
	Visibility string `json:"visibility"`
	OwnerID    string `json:"ownerId"`
}
