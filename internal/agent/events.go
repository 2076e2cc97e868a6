package agent

import "encoding/json"

// EventType enumerates the opaque session event grammar decoded by the
// Media Bridge.
type EventType string

const (
	EventAudio               EventType = "audio"
	EventInterruption        EventType = "interruption"
	EventUserTranscript      EventType = "user_transcript"
	EventAgentResponse       EventType = "agent_response"
	EventPing                EventType = "ping"
	EventConversationComplete EventType = "conversation_complete"
	EventMetadata            EventType = "metadata"
	EventError               EventType = "error"
)

// Event is the envelope for every message arriving on the agent
// session socket. Fields not relevant to Type are left zero.
type Event struct {
	Type EventType `json:"type"`

	// audio
	AudioChunk string `json:"audio_chunk,omitempty"` // base64 PCM/u-law

	// user_transcript / agent_response
	Text    string `json:"text,omitempty"`
	IsFinal bool   `json:"is_final,omitempty"`

	// ping
	EventID string `json:"event_id,omitempty"`

	// conversation_complete
	Reason string `json:"reason,omitempty"`

	// metadata
	Metadata map[string]interface{} `json:"metadata,omitempty"`

	// error
	Error string `json:"error,omitempty"`
}

func ParseEvent(raw []byte) (*Event, error) {
	var e Event
	if err := json.Unmarshal(raw, &e); err != nil {
		return nil, err
	}
	return &e, nil
}

// Pong is the reply to an agent "ping", echoing the event id.
type Pong struct {
	Type    EventType `json:"type"`
	EventID string    `json:"event_id"`
}

func NewPong(eventID string) Pong {
	return Pong{Type: "pong", EventID: eventID}
}

// OutboundAudio is what the bridge sends TO the agent for each carrier
// media frame.
type OutboundAudio struct {
	Type       EventType `json:"type"`
	AudioChunk string    `json:"audio_chunk"`
}

func NewOutboundAudio(chunk string) OutboundAudio {
	return OutboundAudio{Type: EventAudio, AudioChunk: chunk}
}
