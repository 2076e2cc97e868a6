package realtime

import (
	"encoding/json"
	"testing"
	"time"
)

func drain(t *testing.T, ch chan []byte, n int) []map[string]interface{} {
	t.Helper()
	out := make([]map[string]interface{}, 0, n)
	for i := 0; i < n; i++ {
		select {
		case raw := <-ch:
			var env Message
			if err := json.Unmarshal(raw, &env); err != nil {
				t.Fatalf("decoding published message: %v", err)
			}
			data, ok := env.Data.(map[string]interface{})
			if !ok {
				t.Fatalf("expected message data to decode as an object, got %T", env.Data)
			}
			out = append(out, data)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for message %d/%d", i+1, n)
		}
	}
	return out
}

func TestStreamMessage_ChunksThenFinal(t *testing.T) {
	hub := NewHub()
	client, ch := newFakeSubscriber()
	hub.Subscribe(TranscriptTopic("call-1"), client)

	cfg := TypewriterConfig{ChunkGraphemes: 2, Interval: time.Millisecond}
	StreamMessage(hub, "call-1", "agent", "hello", cfg)

	// "hello" in chunks of 2: "he", "hel"->"hell"? recompute: chunks end at 2,4,5 -> 3 partials + 1 final.
	msgs := drain(t, ch, 4)

	for i, m := range msgs[:3] {
		if final, _ := m["final"].(bool); final {
			t.Fatalf("message %d: expected a partial chunk, got final", i)
		}
	}
	last := msgs[3]
	if final, _ := last["final"].(bool); !final {
		t.Fatalf("expected the last published message to be final")
	}
	if text, _ := last["text"].(string); text != "hello" {
		t.Fatalf("final text = %q, want %q", text, "hello")
	}
}

func TestStreamMessage_EmptyText_StillPublishesFinal(t *testing.T) {
	hub := NewHub()
	client, ch := newFakeSubscriber()
	hub.Subscribe(TranscriptTopic("call-2"), client)

	StreamMessage(hub, "call-2", "user", "", DefaultTypewriterConfig())

	msgs := drain(t, ch, 1)
	if final, _ := msgs[0]["final"].(bool); !final {
		t.Fatalf("expected the only published message for empty text to be final")
	}
}

func TestStreamMessage_ZeroChunkSize_FallsBackToDefault(t *testing.T) {
	hub := NewHub()
	client, ch := newFakeSubscriber()
	hub.Subscribe(TranscriptTopic("call-3"), client)

	cfg := TypewriterConfig{ChunkGraphemes: 0, Interval: time.Millisecond}
	StreamMessage(hub, "call-3", "agent", "ab", cfg)

	// chunk size falls back to 3, so "ab" (2 runes) is emitted as a single
	// partial followed by the final marker.
	drain(t, ch, 2)
}
