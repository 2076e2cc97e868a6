package realtime

import "time"

// TypewriterConfig tunes the presentation cadence: this is purely
// about how fast chunks are fanned out to subscribers, never about
// persistence.
type TypewriterConfig struct {
	ChunkGraphemes int
	Interval       time.Duration
}

func DefaultTypewriterConfig() TypewriterConfig {
	return TypewriterConfig{ChunkGraphemes: 3, Interval: 40 * time.Millisecond}
}

// StreamMessage publishes text to the call's transcript topic as a
// sequence of partial appends followed by a final marker carrying the
// full text. The Store has already received the complete message via
// AppendTranscriptMessage before this is called — this function never
// writes partial chunks anywhere durable.
func StreamMessage(hub *Hub, callSid, role, text string, cfg TypewriterConfig) {
	topicName := TranscriptTopic(callSid)
	runes := []rune(text)

	if cfg.ChunkGraphemes <= 0 {
		cfg.ChunkGraphemes = 3
	}

	for i := 0; i < len(runes); i += cfg.ChunkGraphemes {
		end := i + cfg.ChunkGraphemes
		if end > len(runes) {
			end = len(runes)
		}
		hub.Publish(topicName, EventTranscriptMsg, map[string]interface{}{
			"callSid": callSid,
			"role":    role,
			"partial": string(runes[:end]),
			"final":   false,
		})
		if end < len(runes) {
			time.Sleep(cfg.Interval)
		}
	}

	hub.Publish(topicName, EventTranscriptMsg, map[string]interface{}{
		"callSid": callSid,
		"role":    role,
		"text":    text,
		"final":   true,
	})
}
