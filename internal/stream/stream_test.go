package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func recv(t *testing.T, ch <-chan Message) Message {
	t.Helper()
	select {
	case msg, ok := <-ch:
		if !ok {
			t.Fatal("channel closed")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return Message{}
}

func TestPublishReachesOnlyTopicSubscribers(t *testing.T) {
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mine := h.Subscribe(ctx, PendingTopic(3))
	other := h.Subscribe(ctx, PendingTopic(4))

	if err := h.Publish(ctx, PendingTopic(3), []int{1, 2}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg := recv(t, mine)
	if msg.Topic != "doctor/3/pending" {
		t.Fatalf("unexpected topic %q", msg.Topic)
	}
	var ids []int
	if err := json.Unmarshal(msg.Payload, &ids); err != nil || len(ids) != 2 {
		t.Fatalf("unexpected payload %s (%v)", msg.Payload, err)
	}
	select {
	case m := <-other:
		t.Fatalf("other topic received %v", m)
	default:
	}
}

func TestSubscribeReplaysLastMessage(t *testing.T) {
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := h.Publish(ctx, "t", "first"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if err := h.Publish(ctx, "t", "second"); err != nil {
		t.Fatalf("publish: %v", err)
	}
	msg := recv(t, h.Subscribe(ctx, "t"))
	if string(msg.Payload) != `"second"` {
		t.Fatalf("expected latest snapshot, got %s", msg.Payload)
	}
}

func TestSubscriptionClosesWithContext(t *testing.T) {
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	ch := h.Subscribe(ctx, "t")
	if h.Subscribers("t") != 1 {
		t.Fatalf("expected one subscriber")
	}
	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
	if h.Subscribers("t") != 0 {
		t.Fatalf("subscriber not removed")
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	h := New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	_ = h.Subscribe(ctx, "t")

	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			_ = h.Publish(ctx, "t", i)
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}
}
