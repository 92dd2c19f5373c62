package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ----- conversations -----

func (s *PostgresStore) ListConversations(ctx context.Context, userID string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.kind, c.title, c.created_by, c.created_at,
			COALESCE((SELECT m.body FROM messages m WHERE m.conversation_id = c.id ORDER BY m.created_at DESC LIMIT 1), ''),
			(SELECT COUNT(*) FROM messages m
				WHERE m.conversation_id = c.id AND m.created_at > cm.last_read_at AND m.author_id <> cm.user_id)
		FROM conversations c
		JOIN conversation_members cm ON cm.conversation_id = c.id
		WHERE cm.user_id = $1
		ORDER BY c.created_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	items := make([]Conversation, 0)
	for rows.Next() {
		var item Conversation
		if err := rows.Scan(&item.ID, &item.Kind, &item.Title, &item.CreatedBy, &item.CreatedAt,
			&item.LastMessage, &item.UnreadCount); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}

	for i := range items {
		members, err := s.ListConversationMembers(ctx, items[i].ID)
		if err != nil {
			return nil, err
		}
		items[i].MemberIDs = members
	}
	return items, nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	var item Conversation
	err := s.db.QueryRowContext(ctx, `
		SELECT id, kind, title, created_by, created_at FROM conversations WHERE id=$1
	`, conversationID).Scan(&item.ID, &item.Kind, &item.Title, &item.CreatedBy, &item.CreatedAt)
	if err != nil {
		return Conversation{}, err
	}
	members, err := s.ListConversationMembers(ctx, conversationID)
	if err != nil {
		return Conversation{}, err
	}
	item.MemberIDs = members
	return item, nil
}

func (s *PostgresStore) InsertConversation(ctx context.Context, item Conversation) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, kind, title, created_by) VALUES ($1, $2, $3, $4)
	`, item.ID, item.Kind, item.Title, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert conversation: %w", err)
	}
	for _, memberID := range item.MemberIDs {
		if err := s.AddConversationMember(ctx, item.ID, memberID); err != nil {
			return err
		}
	}
	return nil
}

func (s *PostgresStore) ListConversationMembers(ctx context.Context, conversationID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id FROM conversation_members WHERE conversation_id=$1 ORDER BY joined_at
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list conversation members: %w", err)
	}
	defer rows.Close()

	members := make([]string, 0)
	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		members = append(members, userID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate members: %w", err)
	}
	return members, nil
}

func (s *PostgresStore) AddConversationMember(ctx context.Context, conversationID, userID string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversation_members (conversation_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING
	`, conversationID, userID)
	if err != nil {
		return fmt.Errorf("add conversation member: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsConversationMember(ctx context.Context, conversationID, userID string) (bool, error) {
	var member bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM conversation_members WHERE conversation_id=$1 AND user_id=$2)
	`, conversationID, userID).Scan(&member)
	if err != nil {
		return false, fmt.Errorf("check conversation member: %w", err)
	}
	return member, nil
}

func (s *PostgresStore) MarkConversationRead(ctx context.Context, conversationID, userID string, readAt time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversation_members SET last_read_at=$3 WHERE conversation_id=$1 AND user_id=$2
	`, conversationID, userID, readAt)
	if err != nil {
		return fmt.Errorf("mark conversation read: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// FindDirectConversation returns an existing direct conversation between
// exactly the two users, or sql.ErrNoRows.
func (s *PostgresStore) FindDirectConversation(ctx context.Context, userA, userB string) (Conversation, error) {
	var conversationID string
	err := s.db.QueryRowContext(ctx, `
		SELECT c.id
		FROM conversations c
		WHERE c.kind = 'direct'
			AND EXISTS(SELECT 1 FROM conversation_members WHERE conversation_id = c.id AND user_id = $1)
			AND EXISTS(SELECT 1 FROM conversation_members WHERE conversation_id = c.id AND user_id = $2)
		LIMIT 1
	`, userA, userB).Scan(&conversationID)
	if err != nil {
		return Conversation{}, err
	}
	return s.GetConversation(ctx, conversationID)
}

// ----- messages -----

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string, before time.Time, limit int) ([]Message, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT m.id, m.conversation_id, m.author_id, u.display_name, m.body, m.attachment_id, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.author_id
		WHERE m.conversation_id=$1 AND m.created_at < $2
		ORDER BY m.created_at DESC
		LIMIT $3
	`, conversationID, before, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		var item Message
		if err := rows.Scan(&item.ID, &item.ConversationID, &item.AuthorID, &item.AuthorName,
			&item.Body, &item.AttachmentID, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	// Reverse to chronological order for the caller.
	for i, j := 0, len(items)-1; i < j; i, j = i+1, j-1 {
		items[i], items[j] = items[j], items[i]
	}
	return items, nil
}

func (s *PostgresStore) GetMessage(ctx context.Context, messageID string) (Message, error) {
	var item Message
	err := s.db.QueryRowContext(ctx, `
		SELECT m.id, m.conversation_id, m.author_id, u.display_name, m.body, m.attachment_id, m.created_at
		FROM messages m
		JOIN users u ON u.id = m.author_id
		WHERE m.id=$1
	`, messageID).Scan(&item.ID, &item.ConversationID, &item.AuthorID, &item.AuthorName,
		&item.Body, &item.AttachmentID, &item.CreatedAt)
	if err != nil {
		return Message{}, err
	}
	return item, nil
}

func (s *PostgresStore) InsertMessage(ctx context.Context, item Message) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, author_id, body, attachment_id)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.ConversationID, item.AuthorID, item.Body, item.AttachmentID)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// ----- reactions -----

// ToggleReaction adds the reaction if absent, removes it if present.
// Returns true when the reaction was added.
func (s *PostgresStore) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM reactions WHERE message_id=$1 AND user_id=$2 AND emoji=$3
	`, messageID, userID, emoji)
	if err != nil {
		return false, fmt.Errorf("toggle reaction delete: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected > 0 {
		return false, nil
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO reactions (message_id, user_id, emoji) VALUES ($1, $2, $3)
	`, messageID, userID, emoji); err != nil {
		return false, fmt.Errorf("toggle reaction insert: %w", err)
	}
	return true, nil
}

func (s *PostgresStore) ListReactionCounts(ctx context.Context, conversationID string) ([]ReactionCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT r.message_id, r.emoji, COUNT(*)
		FROM reactions r
		JOIN messages m ON m.id = r.message_id
		WHERE m.conversation_id=$1
		GROUP BY r.message_id, r.emoji
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list reaction counts: %w", err)
	}
	defer rows.Close()

	items := make([]ReactionCount, 0)
	for rows.Next() {
		var item ReactionCount
		if err := rows.Scan(&item.MessageID, &item.Emoji, &item.Count); err != nil {
			return nil, fmt.Errorf("scan reaction count: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate reaction counts: %w", err)
	}
	return items, nil
}
