package app

import (
	"context"
	"database/sql"
	"net/http"
	"strings"
	"time"

	"caseflow/api/internal/chat"
	"caseflow/api/internal/store"
	"caseflow/api/internal/util"
)

const defaultMessagePageSize = 50

func (s *Service) ListConversations(ctx context.Context, userID string) ([]map[string]any, error) {
	conversations, err := s.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(conversations))
	for _, conversation := range conversations {
		items = append(items, conversationMap(conversation))
	}
	return items, nil
}

type ConversationInput struct {
	Kind      string   `json:"kind"`
	Title     string   `json:"title"`
	MemberIDs []string `json:"memberIds"`
}

func (s *Service) CreateConversation(ctx context.Context, creatorID string, input ConversationInput) (map[string]any, error) {
	kind := strings.TrimSpace(input.Kind)
	if kind != "direct" && kind != "group" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "kind must be direct or group", nil)
	}

	members := dedupeStrings(append(input.MemberIDs, creatorID))
	for _, memberID := range members {
		if _, err := s.store.GetUserByID(ctx, memberID); err != nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "unknown member: "+memberID, nil)
		}
	}

	if kind == "direct" {
		if len(members) != 2 {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "direct conversations have exactly two members", nil)
		}
		// Reuse an existing direct conversation between the pair.
		if existing, err := s.store.FindDirectConversation(ctx, members[0], members[1]); err == nil {
			return s.getConversation(ctx, existing.ID)
		}
	}

	title := strings.TrimSpace(input.Title)
	if kind == "group" && title == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "group conversations need a title", nil)
	}

	conversation := store.Conversation{
		ID:        util.NewID("cnv"),
		Kind:      kind,
		Title:     title,
		CreatedBy: creatorID,
	}
	if err := s.store.InsertConversation(ctx, conversation); err != nil {
		return nil, err
	}
	for _, memberID := range members {
		if err := s.store.AddConversationMember(ctx, conversation.ID, memberID); err != nil {
			return nil, err
		}
	}

	payload, err := s.getConversation(ctx, conversation.ID)
	if err != nil {
		return nil, err
	}
	s.publishChatEvent(ctx, chat.Event{
		Type:           chat.EventConversationCreated,
		ConversationID: conversation.ID,
		Payload:        payload,
	}, members)
	return payload, nil
}

func (s *Service) getConversation(ctx context.Context, conversationID string) (map[string]any, error) {
	conversation, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	return conversationMap(conversation), nil
}

// ListMessages pages backwards in time: pass the oldest createdAt you have
// as before to fetch the previous page.
func (s *Service) ListMessages(ctx context.Context, conversationID, userID, beforeRaw string, limit int) (map[string]any, error) {
	if err := s.requireMembership(ctx, conversationID, userID); err != nil {
		return nil, err
	}

	before := time.Time{}
	if raw := strings.TrimSpace(beforeRaw); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "before must be RFC3339", nil)
		}
		before = parsed
	}
	if limit <= 0 || limit > 200 {
		limit = defaultMessagePageSize
	}

	messages, err := s.store.ListMessages(ctx, conversationID, before, limit)
	if err != nil {
		return nil, err
	}
	reactions, err := s.store.ListReactionCounts(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	reactionsByMessage := make(map[string][]map[string]any)
	for _, reaction := range reactions {
		reactionsByMessage[reaction.MessageID] = append(reactionsByMessage[reaction.MessageID], map[string]any{
			"emoji": reaction.Emoji,
			"count": reaction.Count,
		})
	}

	items := make([]map[string]any, 0, len(messages))
	for _, message := range messages {
		payload := messageMap(message)
		if counts, ok := reactionsByMessage[message.ID]; ok {
			payload["reactions"] = counts
		} else {
			payload["reactions"] = []map[string]any{}
		}
		items = append(items, payload)
	}
	return map[string]any{
		"conversationId": conversationID,
		"messages":       items,
	}, nil
}

type MessageInput struct {
	Body         string `json:"body"`
	AttachmentID string `json:"attachmentId"`
}

func (s *Service) SendMessage(ctx context.Context, conversationID, authorID string, input MessageInput) (map[string]any, error) {
	if err := s.requireMembership(ctx, conversationID, authorID); err != nil {
		return nil, err
	}
	body := strings.TrimSpace(input.Body)
	attachmentID := strings.TrimSpace(input.AttachmentID)
	if body == "" && attachmentID == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "body or attachmentId is required", nil)
	}

	message := store.Message{
		ID:             util.NewID("msg"),
		ConversationID: conversationID,
		AuthorID:       authorID,
		Body:           body,
	}
	if attachmentID != "" {
		attachment, err := s.store.GetAttachment(ctx, attachmentID)
		if err != nil {
			return nil, err
		}
		if attachment.OwnerType != "message" || attachment.OwnerID != conversationID {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "attachment does not belong to this conversation", nil)
		}
		message.AttachmentID = &attachmentID
	}
	if err := s.store.InsertMessage(ctx, message); err != nil {
		return nil, err
	}
	// Your own message never counts as unread.
	_ = s.store.MarkConversationRead(ctx, conversationID, authorID, time.Now())

	saved, err := s.store.GetMessage(ctx, message.ID)
	if err != nil {
		return nil, err
	}
	payload := messageMap(saved)

	members, err := s.store.ListConversationMembers(ctx, conversationID)
	if err == nil {
		s.publishChatEvent(ctx, chat.Event{
			Type:           chat.EventMessageCreated,
			ConversationID: conversationID,
			Payload:        payload,
		}, members)
	}
	return payload, nil
}

func (s *Service) ToggleReaction(ctx context.Context, messageID, userID, emoji string) (map[string]any, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "emoji is required", nil)
	}
	message, err := s.store.GetMessage(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if err := s.requireMembership(ctx, message.ConversationID, userID); err != nil {
		return nil, err
	}

	added, err := s.store.ToggleReaction(ctx, messageID, userID, emoji)
	if err != nil {
		return nil, err
	}

	eventType := chat.EventReactionAdded
	if !added {
		eventType = chat.EventReactionRemoved
	}
	members, err := s.store.ListConversationMembers(ctx, message.ConversationID)
	if err == nil {
		s.publishChatEvent(ctx, chat.Event{
			Type:           eventType,
			ConversationID: message.ConversationID,
			Payload: map[string]any{
				"messageId": messageID,
				"userId":    userID,
				"emoji":     emoji,
			},
		}, members)
	}
	return map[string]any{
		"messageId": messageID,
		"emoji":     emoji,
		"added":     added,
	}, nil
}

func (s *Service) MarkConversationRead(ctx context.Context, conversationID, userID string) (map[string]any, error) {
	if err := s.requireMembership(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	if err := s.store.MarkConversationRead(ctx, conversationID, userID, time.Now()); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true, "conversationId": conversationID}, nil
}

// requireMembership hides conversations from non-members as if they did
// not exist.
func (s *Service) requireMembership(ctx context.Context, conversationID, userID string) error {
	member, err := s.store.IsConversationMember(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	if !member {
		return sql.ErrNoRows
	}
	return nil
}

func (s *Service) publishChatEvent(ctx context.Context, event chat.Event, memberIDs []string) {
	if s.hub == nil {
		return
	}
	s.hub.Publish(ctx, event, memberIDs)
}

func conversationMap(conversation store.Conversation) map[string]any {
	return map[string]any{
		"id":          conversation.ID,
		"kind":        conversation.Kind,
		"title":       conversation.Title,
		"createdBy":   conversation.CreatedBy,
		"memberIds":   append([]string{}, conversation.MemberIDs...),
		"lastMessage": conversation.LastMessage,
		"unreadCount": conversation.UnreadCount,
		"createdAt":   conversation.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func messageMap(message store.Message) map[string]any {
	payload := map[string]any{
		"id":             message.ID,
		"conversationId": message.ConversationID,
		"authorId":       message.AuthorID,
		"authorName":     message.AuthorName,
		"body":           message.Body,
		"attachmentId":   nil,
		"createdAt":      message.CreatedAt.UTC().Format(time.RFC3339),
	}
	if message.AttachmentID != nil {
		payload["attachmentId"] = *message.AttachmentID
	}
	return payload
}
