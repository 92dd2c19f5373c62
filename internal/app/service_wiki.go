package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"caseflow/api/internal/docrepo"
	"caseflow/api/internal/export"
	"caseflow/api/internal/rbac"
	"caseflow/api/internal/search"
	"caseflow/api/internal/store"
	"caseflow/api/internal/util"
)

func (s *Service) ListWikiFolders(ctx context.Context, viewerID string) ([]map[string]any, error) {
	folders, err := s.store.ListWikiFolders(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(folders))
	for _, folder := range folders {
		items = append(items, folderMap(folder))
	}
	return items, nil
}

type WikiFolderInput struct {
	Name       string `json:"name"`
	Visibility string `json:"visibility"`
}

func (s *Service) CreateWikiFolder(ctx context.Context, ownerID string, input WikiFolderInput) (map[string]any, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "name is required", nil)
	}
	visibility := firstNonBlank(strings.TrimSpace(input.Visibility), "workspace")
	if _, ok := allowedFolderVisibility[visibility]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "visibility must be private or workspace", nil)
	}
	folder := store.WikiFolder{
		ID:         util.NewID("wfd"),
		Name:       name,
		Visibility: visibility,
		OwnerID:    ownerID,
	}
	if err := s.store.InsertWikiFolder(ctx, folder); err != nil {
		return nil, err
	}
	return folderMap(folder), nil
}

func (s *Service) UpdateWikiFolder(ctx context.Context, folderID, userID, role string, input WikiFolderInput) (map[string]any, error) {
	folder, err := s.store.GetWikiFolder(ctx, folderID)
	if err != nil {
		return nil, err
	}
	if folder.OwnerID != userID && !s.Can(role, rbac.ActionAdmin) {
		return nil, domainError(http.StatusForbidden, "FORBIDDEN", "Only the owner or an admin can change a folder", nil)
	}
	name := firstNonBlank(strings.TrimSpace(input.Name), folder.Name)
	visibility := firstNonBlank(strings.TrimSpace(input.Visibility), folder.Visibility)
	if _, ok := allowedFolderVisibility[visibility]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "visibility must be private or workspace", nil)
	}
	if err := s.store.UpdateWikiFolder(ctx, folderID, name, visibility); err != nil {
		return nil, err
	}

	// A visibility flip changes who may see every document inside.
	if visibility != folder.Visibility {
		documents, err := s.store.ListWikiDocuments(ctx, folderID)
		if err == nil {
			for _, document := range documents {
				s.reindexWikiDocument(ctx, document, folder.OwnerID, visibility)
			}
		}
	}

	folder.Name = name
	folder.Visibility = visibility
	return folderMap(folder), nil
}

func (s *Service) DeleteWikiFolder(ctx context.Context, folderID, userID, role string) error {
	folder, err := s.store.GetWikiFolder(ctx, folderID)
	if err != nil {
		return err
	}
	if folder.OwnerID != userID && !s.Can(role, rbac.ActionAdmin) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Only the owner or an admin can delete a folder", nil)
	}

	documents, err := s.store.ListWikiDocuments(ctx, folderID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteWikiFolder(ctx, folderID); err != nil {
		return err
	}
	for _, document := range documents {
		if s.docs != nil {
			_ = s.docs.DeleteDocumentRepo(document.ID)
		}
		if s.search != nil {
			s.search.DeleteWiki(document.ID)
		}
	}
	return nil
}

func (s *Service) ListWikiDocuments(ctx context.Context, folderID, viewerID string) ([]map[string]any, error) {
	folder, err := s.requireFolderAccess(ctx, folderID, viewerID)
	if err != nil {
		return nil, err
	}
	documents, err := s.store.ListWikiDocuments(ctx, folder.ID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(documents))
	for _, document := range documents {
		items = append(items, wikiDocumentMap(document))
	}
	return items, nil
}

type WikiDocumentInput struct {
	Title string          `json:"title"`
	Kind  string          `json:"kind"`
	Body  json.RawMessage `json:"body"`
}

func (s *Service) CreateWikiDocument(ctx context.Context, folderID, userID, userName string, input WikiDocumentInput) (map[string]any, error) {
	folder, err := s.requireFolderAccess(ctx, folderID, userID)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		title = "Untitled"
	}
	kind := firstNonBlank(strings.TrimSpace(input.Kind), "note")
	if _, ok := allowedDocumentKinds[kind]; !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "kind must be note, table or whiteboard", nil)
	}

	body := input.Body
	if len(body) == 0 {
		body = defaultDocumentBody(kind)
	}

	document := store.WikiDocument{
		ID:        util.NewID("wik"),
		FolderID:  folder.ID,
		Title:     title,
		Kind:      kind,
		UpdatedBy: userName,
	}
	if err := s.store.InsertWikiDocument(ctx, document); err != nil {
		return nil, err
	}
	if s.docs != nil {
		if err := s.docs.EnsureDocumentRepo(document.ID, docrepo.Content{
			Title: title,
			Kind:  kind,
			Body:  body,
		}, userName); err != nil {
			return nil, err
		}
	}
	if err := s.store.UpdateWikiDocument(ctx, document.ID, title, extractText(body), userName); err != nil {
		return nil, err
	}
	s.reindexWikiDocument(ctx, document, folder.OwnerID, folder.Visibility)
	return s.GetWikiDocument(ctx, document.ID, userID)
}

func (s *Service) GetWikiDocument(ctx context.Context, documentID, viewerID string) (map[string]any, error) {
	document, folder, err := s.requireDocumentAccess(ctx, documentID, viewerID)
	if err != nil {
		return nil, err
	}

	payload := wikiDocumentMap(document)
	payload["folderVisibility"] = folder.Visibility
	if s.docs != nil {
		content, head, err := s.docs.GetHeadContent(documentID)
		if err != nil {
			return nil, err
		}
		payload["body"] = json.RawMessage(content.Body)
		payload["revision"] = revisionMap(head)
	}
	return payload, nil
}

type SaveWikiDocumentInput struct {
	Title   string          `json:"title"`
	Body    json.RawMessage `json:"body"`
	Message string          `json:"message"`
}

func (s *Service) SaveWikiDocument(ctx context.Context, documentID, viewerID, userName string, input SaveWikiDocumentInput) (map[string]any, error) {
	document, folder, err := s.requireDocumentAccess(ctx, documentID, viewerID)
	if err != nil {
		return nil, err
	}
	if s.docs == nil {
		return nil, domainError(http.StatusServiceUnavailable, "WIKI_UNAVAILABLE", "Document storage is not configured", nil)
	}

	current, _, err := s.docs.GetHeadContent(documentID)
	if err != nil {
		return nil, err
	}

	next := docrepo.Content{
		Title: firstNonBlank(strings.TrimSpace(input.Title), current.Title),
		Kind:  document.Kind,
		Body:  current.Body,
	}
	if len(input.Body) > 0 {
		next.Body = input.Body
	}

	if docrepo.HasChanges(current, next) {
		message := firstNonBlank(strings.TrimSpace(input.Message), "Update document")
		if _, err := s.docs.CommitContent(documentID, next, userName, message); err != nil {
			return nil, err
		}
		if err := s.store.UpdateWikiDocument(ctx, documentID, next.Title, extractText(next.Body), userName); err != nil {
			return nil, err
		}
		document.Title = next.Title
		document.UpdatedBy = userName
		s.reindexWikiDocument(ctx, document, folder.OwnerID, folder.Visibility)
	}

	return s.GetWikiDocument(ctx, documentID, viewerID)
}

func (s *Service) DeleteWikiDocument(ctx context.Context, documentID, viewerID string) error {
	if _, _, err := s.requireDocumentAccess(ctx, documentID, viewerID); err != nil {
		return err
	}
	if err := s.store.DeleteWikiDocument(ctx, documentID); err != nil {
		return err
	}
	if s.docs != nil {
		_ = s.docs.DeleteDocumentRepo(documentID)
	}
	if s.search != nil {
		s.search.DeleteWiki(documentID)
	}
	return nil
}

func (s *Service) WikiDocumentHistory(ctx context.Context, documentID, viewerID string, limit int) ([]map[string]any, error) {
	if _, _, err := s.requireDocumentAccess(ctx, documentID, viewerID); err != nil {
		return nil, err
	}
	if s.docs == nil {
		return []map[string]any{}, nil
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	revisions, err := s.docs.History(documentID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(revisions))
	for _, revision := range revisions {
		items = append(items, revisionMap(revision))
	}
	return items, nil
}

func (s *Service) WikiDocumentAtRevision(ctx context.Context, documentID, viewerID, hash string) (map[string]any, error) {
	document, _, err := s.requireDocumentAccess(ctx, documentID, viewerID)
	if err != nil {
		return nil, err
	}
	if s.docs == nil {
		return nil, domainError(http.StatusServiceUnavailable, "WIKI_UNAVAILABLE", "Document storage is not configured", nil)
	}
	content, err := s.docs.GetContentByHash(documentID, hash)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"id":       document.ID,
		"title":    content.Title,
		"kind":     content.Kind,
		"body":     json.RawMessage(content.Body),
		"revision": hash,
	}, nil
}

func (s *Service) ExportWikiNote(ctx context.Context, documentID, viewerID string, format export.Format) (*export.Result, error) {
	document, _, err := s.requireDocumentAccess(ctx, documentID, viewerID)
	if err != nil {
		return nil, err
	}
	if document.Kind != "note" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "only notes can be exported", nil)
	}
	if s.docs == nil {
		return nil, domainError(http.StatusServiceUnavailable, "WIKI_UNAVAILABLE", "Document storage is not configured", nil)
	}
	content, head, err := s.docs.GetHeadContent(documentID)
	if err != nil {
		return nil, err
	}
	return export.ExportNote(export.NoteData{
		Title:     content.Title,
		Author:    head.Author,
		UpdatedAt: head.CreatedAt,
		Body:      content.Body,
	}, format)
}

// requireFolderAccess hides private folders from everyone but their owner.
func (s *Service) requireFolderAccess(ctx context.Context, folderID, viewerID string) (store.WikiFolder, error) {
	folder, err := s.store.GetWikiFolder(ctx, folderID)
	if err != nil {
		return store.WikiFolder{}, err
	}
	if folder.Visibility == "private" && folder.OwnerID != viewerID {
		return store.WikiFolder{}, sql.ErrNoRows
	}
	return folder, nil
}

func (s *Service) requireDocumentAccess(ctx context.Context, documentID, viewerID string) (store.WikiDocument, store.WikiFolder, error) {
	document, err := s.store.GetWikiDocument(ctx, documentID)
	if err != nil {
		return store.WikiDocument{}, store.WikiFolder{}, err
	}
	folder, err := s.requireFolderAccess(ctx, document.FolderID, viewerID)
	if err != nil {
		return store.WikiDocument{}, store.WikiFolder{}, err
	}
	return document, folder, nil
}

func (s *Service) reindexWikiDocument(ctx context.Context, document store.WikiDocument, ownerID, visibility string) {
	if s.search == nil {
		return
	}
	contentText := ""
	if s.docs != nil {
		if content, _, err := s.docs.GetHeadContent(document.ID); err == nil {
			contentText = extractText(content.Body)
		}
	}
	s.search.IndexWiki(search.WikiRecord{
		ID:         document.ID,
		Title:      document.Title,
		Content:    contentText,
		FolderID:   document.FolderID,
		Kind:       document.Kind,
		Visibility: visibility,
		OwnerID:    ownerID,
	})
}

func defaultDocumentBody(kind string) json.RawMessage {
	switch kind {
	case "table":
		return json.RawMessage(`{"columns":["Column 1"],"rows":[[""]]}`)
	case "whiteboard":
		return json.RawMessage(`{"shapes":[]}`)
	default:
		return json.RawMessage(`{"blocks":[]}`)
	}
}

// extractText pulls every string value out of a JSON body for full-text
// indexing. It does not care about the document kind.
func extractText(body json.RawMessage) string {
	if len(body) == 0 {
		return ""
	}
	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return ""
	}
	var parts []string
	collectStrings(value, &parts)
	return strings.Join(parts, " ")
}

func collectStrings(value any, parts *[]string) {
	switch v := value.(type) {
	case string:
		if strings.TrimSpace(v) != "" {
			*parts = append(*parts, v)
		}
	case []any:
		for _, item := range v {
			collectStrings(item, parts)
		}
	case map[string]any:
		for _, item := range v {
			collectStrings(item, parts)
		}
	}
}

func folderMap(folder store.WikiFolder) map[string]any {
	return map[string]any{
		"id":            folder.ID,
		"name":          folder.Name,
		"visibility":    folder.Visibility,
		"ownerId":       folder.OwnerID,
		"documentCount": folder.DocumentCount,
		"createdAt":     folder.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func wikiDocumentMap(document store.WikiDocument) map[string]any {
	return map[string]any{
		"id":        document.ID,
		"folderId":  document.FolderID,
		"title":     document.Title,
		"kind":      document.Kind,
		"updatedBy": document.UpdatedBy,
		"createdAt": document.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt": document.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func revisionMap(revision store.RevisionInfo) map[string]any {
	return map[string]any{
		"hash":      revision.Hash,
		"message":   revision.Message,
		"author":    revision.Author,
		"createdAt": revision.CreatedAt.UTC().Format(time.RFC3339),
	}
}
