// Package realtime implements the topic-based publish/subscribe hub
// pushed to dashboard clients (C9), grounded on apicall's
// websocket.Hub but redesigned per the per-topic-locking design note:
// each topic owns its own subscriber set and ring buffer instead of one
// hub-wide lock.
package realtime

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// EventType enumerates the server->client message kinds sent over /rt.
type EventType string

const (
	EventCallUpdate       EventType = "call_update"
	EventStatusUpdate     EventType = "status_update"
	EventRecordingUpdate  EventType = "recording_update"
	EventTranscriptUpdate EventType = "transcript_update"
	EventTranscriptMsg    EventType = "transcript_message"
	EventActiveCalls      EventType = "active_calls"
)

// Message is the envelope written to every subscriber of a topic.
type Message struct {
	Type      EventType   `json:"type"`
	Topic     string      `json:"topic"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

const replayBufferSize = 50

// topic owns one subscriber set and its own lock, so a slow or
// lock-contended topic never blocks publishes to any other topic.
type topic struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	ring    []Message
	ringPos int
}

func newTopic() *topic {
	return &topic{clients: make(map[*Client]bool)}
}

func (t *topic) subscribe(c *Client) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clients[c] = true
}

func (t *topic) unsubscribe(c *Client) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.clients, c)
}

func (t *topic) publish(msg Message) {
	t.mu.Lock()
	if len(t.ring) < replayBufferSize {
		t.ring = append(t.ring, msg)
	} else {
		t.ring[t.ringPos] = msg
		t.ringPos = (t.ringPos + 1) % replayBufferSize
	}
	recipients := make([]*Client, 0, len(t.clients))
	for c := range t.clients {
		recipients = append(recipients, c)
	}
	t.mu.Unlock()

	encoded, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[Realtime] failed to encode message for topic %s: %v", msg.Topic, err)
		return
	}
	for _, c := range recipients {
		c.trySend(encoded)
	}
}

// replay returns the buffered events in publish order, oldest first.
func (t *topic) replay() []Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if len(t.ring) < replayBufferSize {
		out := make([]Message, len(t.ring))
		copy(out, t.ring)
		return out
	}
	out := make([]Message, 0, replayBufferSize)
	for i := 0; i < replayBufferSize; i++ {
		out = append(out, t.ring[(t.ringPos+i)%replayBufferSize])
	}
	return out
}

// Hub is the process-local registry of topics (C9). Delivery is
// at-most-once, best-effort, and in order per topic from the hub's own
// perspective.
type Hub struct {
	mu     sync.RWMutex
	topics map[string]*topic
}

func NewHub() *Hub {
	return &Hub{topics: make(map[string]*topic)}
}

func (h *Hub) topicFor(name string) *topic {
	h.mu.RLock()
	t, ok := h.topics[name]
	h.mu.RUnlock()
	if ok {
		return t
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if t, ok := h.topics[name]; ok {
		return t
	}
	t = newTopic()
	h.topics[name] = t
	return t
}

// Publish fans msg out to every subscriber of name and appends it to
// that topic's replay ring.
func (h *Hub) Publish(name string, eventType EventType, data interface{}) {
	msg := Message{Type: eventType, Topic: name, Data: data, Timestamp: time.Now().UTC()}
	h.topicFor(name).publish(msg)
}

// Subscribe attaches c to topic name and immediately replays its
// buffered backlog so a reconnecting client catches up.
func (h *Hub) Subscribe(name string, c *Client) {
	t := h.topicFor(name)
	t.subscribe(c)
	for _, msg := range t.replay() {
		encoded, err := json.Marshal(msg)
		if err != nil {
			continue
		}
		c.trySend(encoded)
	}
}

func (h *Hub) Unsubscribe(name string, c *Client) {
	h.topicFor(name).unsubscribe(c)
}

func (h *Hub) UnsubscribeAll(c *Client) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, t := range h.topics {
		t.unsubscribe(c)
	}
}

// CallTopic and TranscriptTopic name the per-call topics
// ("call:{callSid}", "transcript:{callSid}").
func CallTopic(callSid string) string       { return "call:" + callSid }
func TranscriptTopic(callSid string) string { return "transcript:" + callSid }

const (
	TopicCalls       = "calls"
	TopicTranscripts = "transcripts"
)
