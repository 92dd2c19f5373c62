package search

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PgFTS implements Searcher using PostgreSQL full-text search as a fallback.
type PgFTS struct {
	db *sql.DB
}

// NewPgFTS creates a PostgreSQL FTS searcher.
func NewPgFTS(db *sql.DB) *PgFTS {
	return &PgFTS{db: db}
}

// Healthy always returns true; if Postgres is down, the whole app is down.
func (p *PgFTS) Healthy() bool {
	return true
}

// Search executes a UNION ALL query across cases, clients, and wiki_documents
// using plainto_tsquery and ts_rank, with ts_headline for snippets.
func (p *PgFTS) Search(q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	tsQuery := "plainto_tsquery('english', $1)"
	args := []any{q.Text}
	argN := 2

	var subQueries []string

	// Cases sub-query
	if q.FilterType == "" || q.FilterType == ResultCase {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'case'::text AS type, c.id, c.title,
				ts_headline('english', coalesce(c.description, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS folder_id, c.client_id,
				''::text AS visibility, ''::text AS owner_id,
				ts_rank(c.fts, %s) AS rank
			FROM cases c
			WHERE c.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	// Clients sub-query
	if q.FilterType == "" || q.FilterType == ResultClient {
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'client'::text AS type, cl.id, cl.name AS title,
				ts_headline('english', coalesce(cl.company, '') || ' ' || coalesce(cl.notes, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				''::text AS folder_id, ''::text AS client_id,
				''::text AS visibility, ''::text AS owner_id,
				ts_rank(cl.fts, %s) AS rank
			FROM clients cl
			WHERE cl.fts @@ %s`, tsQuery, tsQuery, tsQuery))
	}

	// Wiki sub-query; private documents only surface for their owner
	if q.FilterType == "" || q.FilterType == ResultWiki {
		wikiWhere := "d.fts @@ " + tsQuery
		wikiWhere += fmt.Sprintf(" AND (f.visibility = 'workspace' OR f.owner_id = $%d)", argN)
		args = append(args, q.ViewerID)
		argN++
		subQueries = append(subQueries, fmt.Sprintf(`
			SELECT 'wiki'::text AS type, d.id, d.title,
				ts_headline('english', coalesce(d.content_text, ''), %s, 'MaxFragments=1,MaxWords=30') AS snippet,
				d.folder_id, ''::text AS client_id,
				f.visibility, f.owner_id,
				ts_rank(d.fts, %s) AS rank
			FROM wiki_documents d
			JOIN wiki_folders f ON f.id = d.folder_id
			WHERE %s`, tsQuery, tsQuery, wikiWhere))
	}

	if len(subQueries) == 0 {
		return nil, 0, nil
	}

	// Count query
	countSQL := fmt.Sprintf("SELECT count(*) FROM (%s) sub",
		strings.Join(subQueries, " UNION ALL "))

	// Data query
	dataSQL := fmt.Sprintf(`SELECT type, id, title, snippet, folder_id, client_id, visibility, owner_id
		FROM (%s) sub
		ORDER BY rank DESC
		LIMIT %d OFFSET %d`,
		strings.Join(subQueries, " UNION ALL "),
		limit, offset)

	ctx := context.Background()

	var total int
	if err := p.db.QueryRowContext(ctx, countSQL, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("pgfts count: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, dataSQL, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("pgfts query: %w", err)
	}
	defer rows.Close()

	var results []Result
	for rows.Next() {
		var r Result
		var typ string
		if err := rows.Scan(&typ, &r.ID, &r.Title, &r.Snippet, &r.FolderID, &r.ClientID, &r.Visibility, &r.OwnerID); err != nil {
			return nil, 0, fmt.Errorf("pgfts scan: %w", err)
		}
		r.Type = ResultType(typ)
		results = append(results, r)
	}

	return results, total, rows.Err()
}

// LoadAllRecords returns all searchable records for full reindexing.
func (p *PgFTS) LoadAllRecords(ctx context.Context) ([]CaseRecord, []ClientRecord, []WikiRecord, error) {
	caseRows, err := p.db.QueryContext(ctx, `
		SELECT c.id, c.title, coalesce(c.description, ''), c.client_id, cl.name, s.name
		FROM cases c
		JOIN clients cl ON cl.id = c.client_id
		JOIN statuses s ON s.id = c.status_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load cases: %w", err)
	}
	defer caseRows.Close()

	cases := make([]CaseRecord, 0)
	for caseRows.Next() {
		var c CaseRecord
		if err := caseRows.Scan(&c.ID, &c.Title, &c.Description, &c.ClientID, &c.ClientName, &c.StatusName); err != nil {
			return nil, nil, nil, fmt.Errorf("scan case: %w", err)
		}
		cases = append(cases, c)
	}
	if err := caseRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate cases: %w", err)
	}

	clientRows, err := p.db.QueryContext(ctx, `
		SELECT id, name, coalesce(company, ''), coalesce(email, ''), coalesce(notes, '')
		FROM clients
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load clients: %w", err)
	}
	defer clientRows.Close()

	clients := make([]ClientRecord, 0)
	for clientRows.Next() {
		var c ClientRecord
		if err := clientRows.Scan(&c.ID, &c.Name, &c.Company, &c.Email, &c.Notes); err != nil {
			return nil, nil, nil, fmt.Errorf("scan client: %w", err)
		}
		clients = append(clients, c)
	}
	if err := clientRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate clients: %w", err)
	}

	wikiRows, err := p.db.QueryContext(ctx, `
		SELECT d.id, d.title, coalesce(d.content_text, ''), d.folder_id, d.kind, f.visibility, f.owner_id
		FROM wiki_documents d
		JOIN wiki_folders f ON f.id = d.folder_id
	`)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load wiki documents: %w", err)
	}
	defer wikiRows.Close()

	wikis := make([]WikiRecord, 0)
	for wikiRows.Next() {
		var w WikiRecord
		if err := wikiRows.Scan(&w.ID, &w.Title, &w.Content, &w.FolderID, &w.Kind, &w.Visibility, &w.OwnerID); err != nil {
			return nil, nil, nil, fmt.Errorf("scan wiki document: %w", err)
		}
		wikis = append(wikis, w)
	}
	if err := wikiRows.Err(); err != nil {
		return nil, nil, nil, fmt.Errorf("iterate wiki documents: %w", err)
	}

	return cases, clients, wikis, nil
}
