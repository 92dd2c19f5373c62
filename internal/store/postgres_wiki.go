package store

import (
	"context"
	"database/sql"
	"fmt"
)

// ----- wiki folders -----

// ListWikiFolders returns workspace folders plus the viewer's private folders.
func (s *PostgresStore) ListWikiFolders(ctx context.Context, viewerID string) ([]WikiFolder, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT f.id, f.name, f.visibility, f.owner_id, f.created_at, f.updated_at,
			(SELECT COUNT(*) FROM wiki_documents d WHERE d.folder_id = f.id)
		FROM wiki_folders f
		WHERE f.visibility = 'workspace' OR f.owner_id = $1
		ORDER BY f.name
	`, viewerID)
	if err != nil {
		return nil, fmt.Errorf("list wiki folders: %w", err)
	}
	defer rows.Close()

	items := make([]WikiFolder, 0)
	for rows.Next() {
		var item WikiFolder
		if err := rows.Scan(&item.ID, &item.Name, &item.Visibility, &item.OwnerID,
			&item.CreatedAt, &item.UpdatedAt, &item.DocumentCount); err != nil {
			return nil, fmt.Errorf("scan wiki folder: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wiki folders: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetWikiFolder(ctx context.Context, folderID string) (WikiFolder, error) {
	var item WikiFolder
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, visibility, owner_id, created_at, updated_at FROM wiki_folders WHERE id=$1
	`, folderID).Scan(&item.ID, &item.Name, &item.Visibility, &item.OwnerID, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return WikiFolder{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertWikiFolder(ctx context.Context, item WikiFolder) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wiki_folders (id, name, visibility, owner_id) VALUES ($1, $2, $3, $4)
	`, item.ID, item.Name, item.Visibility, item.OwnerID)
	if err != nil {
		return fmt.Errorf("insert wiki folder: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateWikiFolder(ctx context.Context, folderID, name, visibility string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE wiki_folders SET name=$2, visibility=$3, updated_at=NOW() WHERE id=$1
	`, folderID, name, visibility)
	if err != nil {
		return fmt.Errorf("update wiki folder: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteWikiFolder(ctx context.Context, folderID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM wiki_folders WHERE id=$1`, folderID)
	if err != nil {
		return fmt.Errorf("delete wiki folder: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ----- wiki documents -----

func (s *PostgresStore) ListWikiDocuments(ctx context.Context, folderID string) ([]WikiDocument, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, folder_id, title, kind, updated_by, created_at, updated_at
		FROM wiki_documents
		WHERE folder_id=$1
		ORDER BY updated_at DESC
	`, folderID)
	if err != nil {
		return nil, fmt.Errorf("list wiki documents: %w", err)
	}
	defer rows.Close()

	items := make([]WikiDocument, 0)
	for rows.Next() {
		var item WikiDocument
		if err := rows.Scan(&item.ID, &item.FolderID, &item.Title, &item.Kind, &item.UpdatedBy,
			&item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan wiki document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate wiki documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetWikiDocument(ctx context.Context, documentID string) (WikiDocument, error) {
	var item WikiDocument
	err := s.db.QueryRowContext(ctx, `
		SELECT id, folder_id, title, kind, updated_by, created_at, updated_at
		FROM wiki_documents WHERE id=$1
	`, documentID).Scan(&item.ID, &item.FolderID, &item.Title, &item.Kind, &item.UpdatedBy,
		&item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return WikiDocument{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertWikiDocument(ctx context.Context, item WikiDocument) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO wiki_documents (id, folder_id, title, kind, updated_by)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.FolderID, item.Title, item.Kind, item.UpdatedBy)
	if err != nil {
		return fmt.Errorf("insert wiki document: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateWikiDocument(ctx context.Context, documentID, title, contentText, updatedBy string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE wiki_documents SET title=$2, content_text=$3, updated_by=$4, updated_at=NOW() WHERE id=$1
	`, documentID, title, contentText, updatedBy)
	if err != nil {
		return fmt.Errorf("update wiki document: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteWikiDocument(ctx context.Context, documentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM wiki_documents WHERE id=$1`, documentID)
	if err != nil {
		return fmt.Errorf("delete wiki document: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
