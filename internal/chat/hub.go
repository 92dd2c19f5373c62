// Package chat fans chat events out to connected WebSocket clients. Events
// are addressed to user IDs (conversation members); when Redis is configured
// the hub bridges over a pub/sub channel so every node delivers every event.
package chat

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// Event types delivered to clients.
const (
	EventMessageCreated      = "message.created"
	EventReactionAdded       = "reaction.added"
	EventReactionRemoved     = "reaction.removed"
	EventConversationCreated = "conversation.created"
)

// Event is a single realtime notification.
type Event struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id"`
	Payload        any    `json:"payload,omitempty"`
}

// envelope is the Redis wire format: the event plus its audience.
type envelope struct {
	Event     Event    `json:"event"`
	MemberIDs []string `json:"member_ids"`
}

const pubsubChannel = "chat:events"

// Hub routes events to per-user subscriptions.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[chan Event]struct{} // userID -> subscriber channels

	redis *redis.Client // nil means single-node, local fanout only
}

// NewHub creates a hub. redisClient may be nil.
func NewHub(redisClient *redis.Client) *Hub {
	return &Hub{
		subs:  make(map[string]map[chan Event]struct{}),
		redis: redisClient,
	}
}

// Subscribe registers a listener for events addressed to userID. The
// returned cancel func must be called when the connection goes away.
func (h *Hub) Subscribe(userID string) (<-chan Event, func()) {
	ch := make(chan Event, 32)

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[chan Event]struct{})
	}
	h.subs[userID][ch] = struct{}{}
	h.mu.Unlock()

	cancel := func() {
		h.mu.Lock()
		if set, ok := h.subs[userID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(h.subs, userID)
			}
		}
		h.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to every member. With Redis configured the
// event goes through pub/sub and comes back via Run on every node,
// including this one.
func (h *Hub) Publish(ctx context.Context, event Event, memberIDs []string) {
	if h.redis == nil {
		h.deliver(event, memberIDs)
		return
	}

	payload, err := json.Marshal(envelope{Event: event, MemberIDs: memberIDs})
	if err != nil {
		log.Printf("chat: marshal event: %v", err)
		return
	}
	if err := h.redis.Publish(ctx, pubsubChannel, payload).Err(); err != nil {
		log.Printf("chat: publish event: %v", err)
		// Redis is down; deliver locally so this node's clients still see it
		h.deliver(event, memberIDs)
	}
}

// Run consumes the Redis pub/sub channel until ctx is cancelled. No-op
// without Redis.
func (h *Hub) Run(ctx context.Context) {
	if h.redis == nil {
		<-ctx.Done()
		return
	}

	sub := h.redis.Subscribe(ctx, pubsubChannel)
	defer sub.Close()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				log.Printf("chat: decode event: %v", err)
				continue
			}
			h.deliver(env.Event, env.MemberIDs)
		}
	}
}

func (h *Hub) deliver(event Event, memberIDs []string) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, userID := range memberIDs {
		for ch := range h.subs[userID] {
			select {
			case ch <- event:
			default:
				// Slow consumer; drop rather than block the hub. The client
				// refetches on reconnect.
			}
		}
	}
}
