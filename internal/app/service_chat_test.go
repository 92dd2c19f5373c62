package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"caseflow/api/internal/chat"
	"caseflow/api/internal/store"
)

type fakeBlob struct{}

func (fakeBlob) Put(context.Context, string, io.Reader, int64, string) error { return nil }

func (fakeBlob) PresignGet(_ context.Context, objectKey, _ string) (string, error) {
	return "https://files.test/" + objectKey, nil
}

func (fakeBlob) Delete(context.Context, string) error { return nil }

func TestCreateDirectConversationReusesExisting(t *testing.T) {
	inserted := false
	fs := &fakeStore{
		findDirectConversationFn: func(_ context.Context, userA, userB string) (store.Conversation, error) {
			return store.Conversation{ID: "cnv_existing", Kind: "direct", MemberIDs: []string{userA, userB}}, nil
		},
		getConversationFn: func(_ context.Context, conversationID string) (store.Conversation, error) {
			return store.Conversation{ID: conversationID, Kind: "direct"}, nil
		},
		insertConversationFn: func(context.Context, store.Conversation) error {
			inserted = true
			return nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.CreateConversation(context.Background(), "usr_a", ConversationInput{
		Kind:      "direct",
		MemberIDs: []string{"usr_b"},
	})
	if err != nil {
		t.Fatalf("CreateConversation failed: %v", err)
	}
	if payload["id"] != "cnv_existing" {
		t.Errorf("id = %v, want the existing conversation", payload["id"])
	}
	if inserted {
		t.Error("a duplicate direct conversation was created")
	}
}

func TestCreateConversationValidation(t *testing.T) {
	svc := newTestService(&fakeStore{})

	if _, err := svc.CreateConversation(context.Background(), "usr_a", ConversationInput{Kind: "broadcast"}); err == nil {
		t.Error("expected error for unknown kind")
	}
	if _, err := svc.CreateConversation(context.Background(), "usr_a", ConversationInput{Kind: "direct", MemberIDs: []string{"usr_b", "usr_c"}}); err == nil {
		t.Error("expected error for three-member direct conversation")
	}
	if _, err := svc.CreateConversation(context.Background(), "usr_a", ConversationInput{Kind: "group", MemberIDs: []string{"usr_b"}}); err == nil {
		t.Error("expected error for untitled group")
	}
}

func TestSendMessageRequiresMembership(t *testing.T) {
	fs := &fakeStore{
		isConversationMemberFn: func(context.Context, string, string) (bool, error) {
			return false, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.SendMessage(context.Background(), "cnv_1", "usr_outsider", MessageInput{Body: "hi"})
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for non-member, got %v", err)
	}
}

func TestSendMessagePublishesToMembers(t *testing.T) {
	fs := &fakeStore{
		getMessageFn: func(_ context.Context, messageID string) (store.Message, error) {
			return store.Message{ID: messageID, ConversationID: "cnv_1", AuthorID: "usr_a", Body: "hello"}, nil
		},
		listConversationMembersFn: func(context.Context, string) ([]string, error) {
			return []string{"usr_a", "usr_b"}, nil
		},
	}
	svc := newTestService(fs)

	events, cancel := svc.hub.Subscribe("usr_b")
	defer cancel()

	payload, err := svc.SendMessage(context.Background(), "cnv_1", "usr_a", MessageInput{Body: "hello"})
	if err != nil {
		t.Fatalf("SendMessage failed: %v", err)
	}
	if payload["body"] != "hello" {
		t.Errorf("body = %v, want hello", payload["body"])
	}

	select {
	case event := <-events:
		if event.Type != chat.EventMessageCreated {
			t.Errorf("event type = %q, want %q", event.Type, chat.EventMessageCreated)
		}
		if event.ConversationID != "cnv_1" {
			t.Errorf("event conversation = %q, want cnv_1", event.ConversationID)
		}
	default:
		t.Fatal("no event delivered to the other member")
	}
}

func TestSendMessageRequiresBodyOrAttachment(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.SendMessage(context.Background(), "cnv_1", "usr_a", MessageInput{})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("expected 422, got %v", err)
	}
}

func TestSendMessageRejectsForeignAttachment(t *testing.T) {
	fs := &fakeStore{
		getAttachmentFn: func(_ context.Context, attachmentID string) (store.Attachment, error) {
			return store.Attachment{ID: attachmentID, OwnerType: "case", OwnerID: "cas_1"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.SendMessage(context.Background(), "cnv_1", "usr_a", MessageInput{AttachmentID: "att_1"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("expected 422 for case attachment in chat, got %v", err)
	}
}

func TestSendMessageRejectsAttachmentFromOtherConversation(t *testing.T) {
	fs := &fakeStore{
		getAttachmentFn: func(_ context.Context, attachmentID string) (store.Attachment, error) {
			return store.Attachment{ID: attachmentID, OwnerType: "message", OwnerID: "cnv_other"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.SendMessage(context.Background(), "cnv_1", "usr_a", MessageInput{AttachmentID: "att_1"})
	var domainErr *DomainError
	if !errors.As(err, &domainErr) || domainErr.Status != 422 {
		t.Fatalf("expected 422 for attachment uploaded to another conversation, got %v", err)
	}
}

func TestChatAttachmentUploadRequiresMembership(t *testing.T) {
	fs := &fakeStore{
		isConversationMemberFn: func(context.Context, string, string) (bool, error) {
			return false, nil
		},
	}
	svc := newTestService(fs)
	svc.blob = fakeBlob{}

	_, err := svc.AddAttachment(context.Background(), "message", "cnv_1", "notes.pdf", "application/pdf", 3, strings.NewReader("pdf"), "usr_outsider")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for non-member upload, got %v", err)
	}
}

func TestAttachmentURLHiddenFromNonMembers(t *testing.T) {
	fs := &fakeStore{
		getAttachmentFn: func(_ context.Context, attachmentID string) (store.Attachment, error) {
			return store.Attachment{
				ID:        attachmentID,
				OwnerType: "message",
				OwnerID:   "cnv_1",
				FileName:  "notes.pdf",
				ObjectKey: "message/cnv_1/att_1-notes.pdf",
			}, nil
		},
		isConversationMemberFn: func(_ context.Context, _, userID string) (bool, error) {
			return userID == "usr_member", nil
		},
	}
	svc := newTestService(fs)
	svc.blob = fakeBlob{}

	if _, err := svc.AttachmentURL(context.Background(), "att_1", "usr_outsider", "agent"); !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected sql.ErrNoRows for non-member, got %v", err)
	}

	payload, err := svc.AttachmentURL(context.Background(), "att_1", "usr_member", "agent")
	if err != nil {
		t.Fatalf("AttachmentURL failed for member: %v", err)
	}
	if payload["url"] == "" {
		t.Error("member did not receive a presigned URL")
	}
}

func TestToggleReactionEventTypes(t *testing.T) {
	added := true
	fs := &fakeStore{
		getMessageFn: func(_ context.Context, messageID string) (store.Message, error) {
			return store.Message{ID: messageID, ConversationID: "cnv_1"}, nil
		},
		toggleReactionFn: func(context.Context, string, string, string) (bool, error) {
			return added, nil
		},
		listConversationMembersFn: func(context.Context, string) ([]string, error) {
			return []string{"usr_a"}, nil
		},
	}
	svc := newTestService(fs)

	events, cancel := svc.hub.Subscribe("usr_a")
	defer cancel()

	payload, err := svc.ToggleReaction(context.Background(), "msg_1", "usr_a", "👍")
	if err != nil {
		t.Fatalf("ToggleReaction failed: %v", err)
	}
	if payload["added"] != true {
		t.Errorf("added = %v, want true", payload["added"])
	}
	if event := <-events; event.Type != chat.EventReactionAdded {
		t.Errorf("event type = %q, want %q", event.Type, chat.EventReactionAdded)
	}

	added = false
	if _, err := svc.ToggleReaction(context.Background(), "msg_1", "usr_a", "👍"); err != nil {
		t.Fatalf("second toggle failed: %v", err)
	}
	if event := <-events; event.Type != chat.EventReactionRemoved {
		t.Errorf("event type = %q, want %q", event.Type, chat.EventReactionRemoved)
	}
}

func TestToggleReactionRequiresEmoji(t *testing.T) {
	svc := newTestService(&fakeStore{})

	if _, err := svc.ToggleReaction(context.Background(), "msg_1", "usr_a", "  "); err == nil {
		t.Fatal("expected error for blank emoji")
	}
}

func TestListMessagesClampsLimit(t *testing.T) {
	var gotLimit int
	fs := &fakeStore{
		listMessagesFn: func(_ context.Context, _ string, _ time.Time, limit int) ([]store.Message, error) {
			gotLimit = limit
			return nil, nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.ListMessages(context.Background(), "cnv_1", "usr_a", "", 5000); err != nil {
		t.Fatalf("ListMessages failed: %v", err)
	}
	if gotLimit != defaultMessagePageSize {
		t.Errorf("limit = %d, want clamp to %d", gotLimit, defaultMessagePageSize)
	}

	if _, err := svc.ListMessages(context.Background(), "cnv_1", "usr_a", "not-a-time", 10); err == nil {
		t.Error("expected error for malformed before cursor")
	}
}
