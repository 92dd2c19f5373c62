package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to PG FTS.
type Service struct {
	meili *Meili
	pgfts *PgFTS
}

// NewService creates a search service. meili may be nil if Meilisearch is not configured.
func NewService(meili *Meili, pgfts *PgFTS) *Service {
	return &Service{meili: meili, pgfts: pgfts}
}

// Search tries Meilisearch if healthy, otherwise falls back to PG FTS.
func (s *Service) Search(q Query) Response {
	if s.meili != nil && s.meili.Healthy() {
		results, total, err := s.meili.Search(q)
		if err == nil {
			return Response{Results: sanitizeResults(nonNil(results), q.ViewerID), Total: total, Query: q.Text}
		}
		log.Printf("search: meilisearch error, falling back to pgfts: %v", err)
	}

	results, total, err := s.pgfts.Search(q)
	if err != nil {
		log.Printf("search: pgfts error: %v", err)
		return Response{Results: []Result{}, Total: 0, Query: q.Text}
	}
	return Response{Results: sanitizeResults(nonNil(results), q.ViewerID), Total: total, Query: q.Text}
}

// IndexCase indexes a case (fire-and-forget to Meilisearch).
func (s *Service) IndexCase(c CaseRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexCase(c); err != nil {
			log.Printf("search: index case %s: %v", c.ID, err)
		}
	}()
}

// IndexClient indexes a client (fire-and-forget to Meilisearch).
func (s *Service) IndexClient(c ClientRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexClient(c); err != nil {
			log.Printf("search: index client %s: %v", c.ID, err)
		}
	}()
}

// IndexWiki indexes a wiki document (fire-and-forget to Meilisearch).
func (s *Service) IndexWiki(w WikiRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexWiki(w); err != nil {
			log.Printf("search: index wiki %s: %v", w.ID, err)
		}
	}()
}

// DeleteCase removes a case from the search index (fire-and-forget).
func (s *Service) DeleteCase(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteCase(id); err != nil {
			log.Printf("search: delete case %s: %v", id, err)
		}
	}()
}

// DeleteClient removes a client from the search index (fire-and-forget).
func (s *Service) DeleteClient(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteClient(id); err != nil {
			log.Printf("search: delete client %s: %v", id, err)
		}
	}()
}

// DeleteWiki removes a wiki document from the search index (fire-and-forget).
func (s *Service) DeleteWiki(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteWiki(id); err != nil {
			log.Printf("search: delete wiki %s: %v", id, err)
		}
	}()
}

// ReindexAll pushes full record sets to Meilisearch.
// Called during Bootstrap if Meilisearch is healthy and indexes are empty.
func (s *Service) ReindexAll(cases []CaseRecord, clients []ClientRecord, wikis []WikiRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}

	if len(cases) > 0 {
		if err := s.meili.IndexCases(cases); err != nil {
			log.Printf("search: reindex cases: %v", err)
		}
	}
	if len(clients) > 0 {
		if err := s.meili.IndexClients(clients); err != nil {
			log.Printf("search: reindex clients: %v", err)
		}
	}
	if len(wikis) > 0 {
		if err := s.meili.IndexWikis(wikis); err != nil {
			log.Printf("search: reindex wiki documents: %v", err)
		}
	}
}

// ReindexAllFromPG reindexes all searchable entities from PostgreSQL into Meilisearch.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pgfts == nil {
		return
	}
	cases, clients, wikis, err := s.pgfts.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	s.ReindexAll(cases, clients, wikis)
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}

// sanitizeResults drops private wiki documents that belong to someone else.
func sanitizeResults(results []Result, viewerID string) []Result {
	filtered := make([]Result, 0, len(results))
	for _, result := range results {
		if result.Type == ResultWiki && result.Visibility == "private" && result.OwnerID != viewerID {
			continue
		}
		filtered = append(filtered, result)
	}
	return filtered
}
