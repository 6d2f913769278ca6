package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"
)

// Message is one publication on a topic.
type Message struct {
	Topic   string          `json:"topic"`
	Payload json.RawMessage `json:"payload"`
	At      time.Time       `json:"at"`
}

// Hub fans out messages to the subscribers of each topic (SSE/WebSocket
// clients). The latest message per topic is retained and replayed to new
// subscribers so a client always starts from the current snapshot.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan Message
	last   map[string]Message
	next   int
	buffer int
}

// New initialises an empty hub.
func New() *Hub {
	return &Hub{
		subs:   make(map[string]map[int]chan Message),
		last:   make(map[string]Message),
		buffer: 16,
	}
}

// PendingTopic is the topic carrying a doctor's pending appointment list.
func PendingTopic(doctorID int64) string {
	return fmt.Sprintf("doctor/%d/pending", doctorID)
}

// Subscribe registers a subscriber on topic and returns a channel which will
// receive its messages. The channel is closed when the provided context ends.
func (h *Hub) Subscribe(ctx context.Context, topic string) <-chan Message {
	ch := make(chan Message, h.buffer)

	h.mu.Lock()
	id := h.next
	h.next++
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[int]chan Message)
	}
	h.subs[topic][id] = ch
	if msg, ok := h.last[topic]; ok {
		ch <- msg
	}
	h.mu.Unlock()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.subs[topic], id)
		if len(h.subs[topic]) == 0 {
			delete(h.subs, topic)
		}
		close(ch)
		h.mu.Unlock()
	}()

	return ch
}

// Publish encodes payload as JSON and fans it out to the topic's subscribers.
func (h *Hub) Publish(ctx context.Context, topic string, payload any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", topic, err)
	}
	msg := Message{Topic: topic, Payload: raw, At: time.Now().UTC()}

	h.mu.Lock()
	defer h.mu.Unlock()
	h.last[topic] = msg
	for _, ch := range h.subs[topic] {
		select {
		case ch <- msg:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
	return nil
}

// Last returns the retained message of topic, if any.
func (h *Hub) Last(topic string) (Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	msg, ok := h.last[topic]
	return msg, ok
}

// Subscribers reports how many subscribers topic currently has.
func (h *Hub) Subscribers(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[topic])
}
