package chat

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case event := <-ch:
		return event
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return Event{}
	}
}

func TestLocalFanout(t *testing.T) {
	hub := NewHub(nil)

	alice, cancelAlice := hub.Subscribe("usr_alice")
	defer cancelAlice()
	bob, cancelBob := hub.Subscribe("usr_bob")
	defer cancelBob()
	carol, cancelCarol := hub.Subscribe("usr_carol")
	defer cancelCarol()

	event := Event{Type: EventMessageCreated, ConversationID: "cnv_1"}
	hub.Publish(context.Background(), event, []string{"usr_alice", "usr_bob"})

	if got := waitEvent(t, alice); got.Type != EventMessageCreated || got.ConversationID != "cnv_1" {
		t.Errorf("alice got unexpected event: %+v", got)
	}
	if got := waitEvent(t, bob); got.ConversationID != "cnv_1" {
		t.Errorf("bob got unexpected event: %+v", got)
	}

	select {
	case got := <-carol:
		t.Errorf("carol should not receive events for cnv_1, got %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	hub := NewHub(nil)

	ch, cancel := hub.Subscribe("usr_alice")
	cancel()

	hub.Publish(context.Background(), Event{Type: EventReactionAdded, ConversationID: "cnv_1"}, []string{"usr_alice"})

	select {
	case got := <-ch:
		t.Errorf("cancelled subscriber received event: %+v", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMultipleConnectionsPerUser(t *testing.T) {
	hub := NewHub(nil)

	first, cancelFirst := hub.Subscribe("usr_alice")
	defer cancelFirst()
	second, cancelSecond := hub.Subscribe("usr_alice")
	defer cancelSecond()

	hub.Publish(context.Background(), Event{Type: EventConversationCreated, ConversationID: "cnv_2"}, []string{"usr_alice"})

	waitEvent(t, first)
	waitEvent(t, second)
}

func TestRedisBridge(t *testing.T) {
	mr := miniredis.RunT(t)

	clientA := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer clientA.Close()
	clientB := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer clientB.Close()

	// Two hubs sharing one Redis, as two API nodes would
	hubA := NewHub(clientA)
	hubB := NewHub(clientB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hubA.Run(ctx)
	go hubB.Run(ctx)

	// Give the subscribers a moment to attach
	time.Sleep(100 * time.Millisecond)

	ch, cancelSub := hubB.Subscribe("usr_bob")
	defer cancelSub()

	hubA.Publish(ctx, Event{Type: EventMessageCreated, ConversationID: "cnv_9"}, []string{"usr_bob"})

	if got := waitEvent(t, ch); got.ConversationID != "cnv_9" {
		t.Errorf("unexpected event over bridge: %+v", got)
	}
}
