package realtime

import (
	"testing"
	"time"
)

// fakeClient lets the hub's internal delivery path be exercised without a
// real websocket connection.
func newFakeSubscriber() (*Client, chan []byte) {
	ch := make(chan []byte, 64)
	c := &Client{send: ch}
	return c, ch
}

func TestHub_PublishDeliversToSubscriber(t *testing.T) {
	hub := NewHub()
	client, ch := newFakeSubscriber()

	hub.Subscribe(TopicCalls, client)
	hub.Publish(TopicCalls, EventCallUpdate, map[string]string{"callSid": "abc"})

	select {
	case msg := <-ch:
		if len(msg) == 0 {
			t.Fatalf("expected a non-empty encoded message")
		}
	case <-time.After(time.Second):
		t.Fatalf("expected subscriber to receive the published message")
	}
}

func TestHub_UnsubscribeStopsDelivery(t *testing.T) {
	hub := NewHub()
	client, ch := newFakeSubscriber()

	hub.Subscribe(TopicCalls, client)
	hub.Unsubscribe(TopicCalls, client)
	hub.Publish(TopicCalls, EventCallUpdate, map[string]string{"callSid": "abc"})

	select {
	case <-ch:
		t.Fatalf("expected no message after unsubscribe")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_SubscribeReplaysBacklog(t *testing.T) {
	hub := NewHub()

	hub.Publish(TopicCalls, EventCallUpdate, map[string]string{"callSid": "before-subscribe"})

	client, ch := newFakeSubscriber()
	hub.Subscribe(TopicCalls, client)

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatalf("expected the replay buffer to deliver the pre-subscribe message")
	}
}

func TestHub_RingBufferCapsAtReplaySize(t *testing.T) {
	hub := NewHub()
	for i := 0; i < replayBufferSize+10; i++ {
		hub.Publish(TopicCalls, EventCallUpdate, i)
	}

	t2 := hub.topicFor(TopicCalls)
	replay := t2.replay()
	if len(replay) != replayBufferSize {
		t.Fatalf("replay length = %d, want %d", len(replay), replayBufferSize)
	}
}

func TestCallTopicAndTranscriptTopic_AreDistinctNamespaces(t *testing.T) {
	if CallTopic("x") == TranscriptTopic("x") {
		t.Fatalf("expected call and transcript topics for the same callSid to differ")
	}
}

func TestHub_UnsubscribeAllRemovesFromEveryTopic(t *testing.T) {
	hub := NewHub()
	client, ch := newFakeSubscriber()

	hub.Subscribe(TopicCalls, client)
	hub.Subscribe(TopicTranscripts, client)
	hub.UnsubscribeAll(client)

	hub.Publish(TopicCalls, EventCallUpdate, "x")
	hub.Publish(TopicTranscripts, EventTranscriptUpdate, "y")

	select {
	case <-ch:
		t.Fatalf("expected no delivery to a client removed via UnsubscribeAll")
	case <-time.After(50 * time.Millisecond):
	}
}
