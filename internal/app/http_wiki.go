package app

import (
	"net/http"
	"strings"

	"caseflow/api/internal/export"
	"caseflow/api/internal/rbac"
)

func (s *HTTPServer) handleWikiRoutes(w http.ResponseWriter, r *http.Request, session Session, parts []string) bool {
	if len(parts) < 3 || parts[0] != "api" || parts[1] != "wiki" {
		return false
	}

	if parts[2] == "folders" {
		if len(parts) == 3 {
			switch r.Method {
			case http.MethodGet:
				items, err := s.service.ListWikiFolders(r.Context(), session.UserID)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return true
				}
				writeJSON(w, http.StatusOK, map[string]any{"folders": items})
				return true
			case http.MethodPost:
				if !s.service.Can(session.Role, rbac.ActionWrite) {
					writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
					return true
				}
				var input WikiFolderInput
				if err := decodeBody(r, &input); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return true
				}
				payload, err := s.service.CreateWikiFolder(r.Context(), session.UserID, input)
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

		folderID := parts[3]

		if len(parts) == 4 {
			switch r.Method {
			case http.MethodPut:
				if !s.service.Can(session.Role, rbac.ActionWrite) {
					writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
					return true
				}
				var input WikiFolderInput
				if err := decodeBody(r, &input); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return true
				}
				payload, err := s.service.UpdateWikiFolder(r.Context(), folderID, session.UserID, session.Role, input)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return true
				}
				writeJSON(w, http.StatusOK, payload)
				return true
			case http.MethodDelete:
				if !s.service.Can(session.Role, rbac.ActionWrite) {
					writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
					return true
				}
				if err := s.service.DeleteWikiFolder(r.Context(), folderID, session.UserID, session.Role); err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return true
				}
				writeJSON(w, http.StatusOK, map[string]any{"ok": true})
				return true
			}
			return false
		}

		// GET|POST /api/wiki/folders/{id}/documents
		if len(parts) == 5 && parts[4] == "documents" {
			switch r.Method {
			case http.MethodGet:
				items, err := s.service.ListWikiDocuments(r.Context(), folderID, session.UserID)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return true
				}
				writeJSON(w, http.StatusOK, map[string]any{"documents": items})
				return true
			case http.MethodPost:
				if !s.service.Can(session.Role, rbac.ActionWrite) {
					writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
					return true
				}
				var input WikiDocumentInput
				if err := decodeBody(r, &input); err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
					return true
				}
				payload, err := s.service.CreateWikiDocument(r.Context(), folderID, session.UserID, session.UserName, input)
				if err != nil {
					status, code, message, details := mapError(err)
					writeError(w, status, code, message, details)
					return true
				}
				writeJSON(w, http.StatusCreated, payload)
				return true
			}
		}
		return false
	}

	if parts[2] != "documents" || len(parts) < 4 {
		return false
	}
	documentID := parts[3]

	if len(parts) == 4 {
		switch r.Method {
		case http.MethodGet:
			payload, err := s.service.GetWikiDocument(r.Context(), documentID, session.UserID)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return true
			}
			writeJSON(w, http.StatusOK, payload)
			return true
		case http.MethodPut:
			if !s.service.Can(session.Role, rbac.ActionWrite) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return true
			}
			var input SaveWikiDocumentInput
			if err := decodeBody(r, &input); err != nil {
				writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
				return true
			}
			payload, err := s.service.SaveWikiDocument(r.Context(), documentID, session.UserID, session.UserName, input)
			if err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return true
			}
			writeJSON(w, http.StatusOK, payload)
			return true
		case http.MethodDelete:
			if !s.service.Can(session.Role, rbac.ActionWrite) {
				writeError(w, http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
				return true
			}
			if err := s.service.DeleteWikiDocument(r.Context(), documentID, session.UserID); err != nil {
				status, code, message, details := mapError(err)
				writeError(w, status, code, message, details)
				return true
			}
			writeJSON(w, http.StatusOK, map[string]any{"ok": true})
			return true
		}
		return false
	}

	// GET /api/wiki/documents/{id}/history
	if r.Method == http.MethodGet && len(parts) == 5 && parts[4] == "history" {
		limit, ok := queryInt(w, r, "limit", 50)
		if !ok {
			return true
		}
		items, err := s.service.WikiDocumentHistory(r.Context(), documentID, session.UserID, limit)
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return true
		}
		writeJSON(w, http.StatusOK, map[string]any{"revisions": items})
		return true
	}

	// GET /api/wiki/documents/{id}/revisions/{hash}
	if r.Method == http.MethodGet && len(parts) == 6 && parts[4] == "revisions" {
		payload, err := s.service.WikiDocumentAtRevision(r.Context(), documentID, session.UserID, parts[5])
		if err != nil {
			status, code, message, details := mapError(err)
			writeError(w, status, code, message, details)
			return true
		}
		writeJSON(w, http.StatusOK, payload)
		return true
	}

	// GET /api/wiki/documents/{id}/export?format=pdf|docx
	if r.Method == http.MethodGet && len(parts) == 5 && parts[4] == "export" {
		format := export.Format(strings.TrimSpace(r.URL.Query().Get("format")))
		if format == "" {
			format = export.FormatPDF
		}
		result, err := s.service.ExportWikiNote(r.Context(), documentID, session.UserID, format)
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
	return false
}
