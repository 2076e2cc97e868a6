// Package webhook implements the Webhook Ingestor (C8): signature
// verified ingress for carrier-status and agent-transcript callbacks,
// writing through the Store (C1) and publishing to the Realtime Hub
// (C9).
package webhook

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"

	"voxcampaign/internal/lifecycle"
	"voxcampaign/internal/realtime"
	"voxcampaign/internal/store"
	"voxcampaign/internal/telephony"
)

type Ingestor struct {
	store     *store.Repository
	lifecycle *lifecycle.Manager
	hub       *realtime.Hub
	secret    []byte
	sigHeader string
}

func NewIngestor(st *store.Repository, lm *lifecycle.Manager, hub *realtime.Hub, secret []byte, sigHeader string) *Ingestor {
	if sigHeader == "" {
		sigHeader = "X-Signature"
	}
	return &Ingestor{store: st, lifecycle: lm, hub: hub, secret: secret, sigHeader: sigHeader}
}

// CarrierStatus handles the URL-encoded carrier status webhook. There is
// no signature on this path in this system: auth is delegated to the
// network path, so any well-formed POST is trusted.
func (ing *Ingestor) CarrierStatus(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "bad form body", http.StatusBadRequest)
		return
	}

	callSid := r.FormValue("CallSid")
	if callSid == "" {
		http.Error(w, "missing CallSid", http.StatusBadRequest)
		return
	}

	duration, _ := strconv.Atoi(r.FormValue("Duration"))
	recordingDuration, _ := strconv.Atoi(r.FormValue("RecordingDuration"))
	recordingChannels, _ := strconv.Atoi(r.FormValue("RecordingChannels"))
	ev := telephony.StatusEvent{
		CallSid:         callSid,
		Status:          r.FormValue("CallStatus"),
		AnsweredBy:      r.FormValue("AnsweredBy"),
		DurationSeconds: duration,

		RecordingSid:      r.FormValue("RecordingSid"),
		RecordingURL:      r.FormValue("RecordingUrl"),
		RecordingDuration: recordingDuration,
		RecordingChannels: recordingChannels,
	}

	if err := ing.lifecycle.HandleStatusWebhook(r.Context(), ev); err != nil {
		log.Printf("[Webhook] carrier status for %s: %v", callSid, err)
	}

	ing.recordRecording(r.Context(), ev)

	w.WriteHeader(http.StatusOK)
}

// recordRecording is created lazily: the carrier only attaches a
// recording to a status callback once it has one ready, and a call may
// get more than one over its lifetime.
func (ing *Ingestor) recordRecording(ctx context.Context, ev telephony.StatusEvent) {
	if ev.RecordingSid == "" {
		return
	}
	rec := &store.Recording{
		RecordingSid:    ev.RecordingSid,
		CallSid:         ev.CallSid,
		Status:          "completed",
		URL:             ev.RecordingURL,
		DurationSeconds: ev.RecordingDuration,
		Channels:        ev.RecordingChannels,
	}
	if err := ing.store.UpsertRecording(ctx, rec); err != nil {
		log.Printf("[Webhook] recording %s for call %s: %v", ev.RecordingSid, ev.CallSid, err)
		return
	}
	ing.hub.Publish(realtime.CallTopic(ev.CallSid), realtime.EventRecordingUpdate, rec)
}

type transcriptEntry struct {
	Role          string  `json:"role"`
	Text          string  `json:"text"`
	OffsetSeconds float64 `json:"offset_seconds"`
	ExternalID    string  `json:"external_id,omitempty"`
}

type agentTranscriptPayload struct {
	CallSid        string            `json:"call_sid"`
	ConversationID string            `json:"conversation_id"`
	Transcript     []transcriptEntry `json:"transcript"`
	Sentiment      string            `json:"sentiment,omitempty"`
	Summary        string            `json:"summary,omitempty"`
}

// AgentTranscript handles the JSON, HMAC-signed agent webhook. A missing
// or incorrect signature is rejected with 401 and no side effects
// whatsoever — not even a log line that could leak into a timing
// channel beyond the constant-time compare itself.
func (ing *Ingestor) AgentTranscript(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 10<<20))
	if err != nil {
		http.Error(w, "bad body", http.StatusBadRequest)
		return
	}

	signature := r.Header.Get(ing.sigHeader)
	if signature == "" || !VerifySignature(ing.secret, body, signature) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var payload agentTranscriptPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if payload.CallSid == "" {
		http.Error(w, "missing call_sid", http.StatusBadRequest)
		return
	}

	messages := make([]store.TranscriptMessage, 0, len(payload.Transcript))
	for _, t := range payload.Transcript {
		messages = append(messages, store.TranscriptMessage{
			CallSid:       payload.CallSid,
			Role:          t.Role,
			Text:          t.Text,
			OffsetSeconds: t.OffsetSeconds,
			ExternalID:    t.ExternalID,
		})
	}

	if err := ing.store.ReplaceFinalizedTranscript(r.Context(), payload.CallSid, messages); err != nil {
		log.Printf("[Webhook] replacing finalized transcript for %s: %v", payload.CallSid, err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	if payload.Sentiment != "" || payload.Summary != "" {
		analysis, _ := json.Marshal(map[string]string{"sentiment": payload.Sentiment, "summary": payload.Summary})
		ing.store.RecordEvent(payload.CallSid, "agent_analysis", string(analysis), "webhook")
	}
	ing.store.RecordEvent(payload.CallSid, "transcript_finalized", "", "webhook")

	ing.hub.Publish(realtime.TranscriptTopic(payload.CallSid), realtime.EventTranscriptUpdate, payload)

	// Recording this transcript never forces termination on its own: a
	// call still in-progress just gets its authoritative transcript on
	// record.
	w.WriteHeader(http.StatusOK)
}
