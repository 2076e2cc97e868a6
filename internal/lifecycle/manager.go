// Package lifecycle implements the Call Lifecycle Manager (C6): it owns
// the Call state machine end to end, consuming telephony status
// webhooks, bridge termination signals, and scheduler dial requests,
// and decides when and why a call ends.
//
// Grounded on apicall's internal/ami/call_status_handler.go (cause
// mapping tables) and internal/dialer/active_call_tracker.go
// (RWMutex-guarded map, single writer per key), generalized to a
// queued->initiated->ringing->in-progress->terminating->finalized
// machine and delegating first-writer-wins termination semantics to
// the Termination Tracker (C10) instead of apicall's
// last-VarSet-wins behavior.
package lifecycle

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"voxcampaign/internal/apperr"
	"voxcampaign/internal/realtime"
	"voxcampaign/internal/store"
	"voxcampaign/internal/telephony"
	"voxcampaign/internal/termination"
)

// DialRequest carries what the Scheduler (or an ad-hoc /outbound-call
// request) needs to start a new call.
type DialRequest struct {
	CampaignID        int64
	ContactID         int64
	To                string
	From              string
	Region            string
	AttemptNumber     int
	MachineDetection  telephony.MachineDetection
	Recording         bool

	// Prompt and FirstMessage are carried as custom parameters on the
	// carrier dial and round-tripped back on the media stream's "start"
	// event, so the Bridge can open the right Agent session once media
	// actually arrives, without the Lifecycle Manager needing to know
	// anything about agent sessions itself.
	Prompt       string
	FirstMessage string
}

// entry is the in-memory, single-writer-per-key registry of active
// calls, grounded on ActiveCallTracker.
type entry struct {
	mu     sync.Mutex
	callSid string
}

type Manager struct {
	store       *store.Repository
	telephony   telephony.Provider
	hub         *realtime.Hub
	tracker     *termination.Tracker

	mediaStreamURL    string
	statusCallbackURL string
	hangupTimeout     time.Duration

	regMu   sync.RWMutex
	entries map[string]*entry // callSid -> entry
	cancels map[string]context.CancelFunc // callSid -> Bridge cancel, set by RegisterCancel

	onFinalized func(campaignID int64)
}

type Config struct {
	Store             *store.Repository
	Telephony         telephony.Provider
	Hub               *realtime.Hub
	Tracker           *termination.Tracker
	MediaStreamURL    string
	StatusCallbackURL string
	HangupTimeout     time.Duration
}

func NewManager(cfg Config) *Manager {
	if cfg.HangupTimeout == 0 {
		cfg.HangupTimeout = 10 * time.Second
	}
	return &Manager{
		store:             cfg.Store,
		telephony:         cfg.Telephony,
		hub:               cfg.Hub,
		tracker:           cfg.Tracker,
		mediaStreamURL:    cfg.MediaStreamURL,
		statusCallbackURL: cfg.StatusCallbackURL,
		hangupTimeout:     cfg.HangupTimeout,
		entries:           make(map[string]*entry),
		cancels:           make(map[string]context.CancelFunc),
	}
}

// RegisterCancel implements bridge.LifecycleHandle: the Bridge hands
// over the cancel func for its own run context once it knows its
// callSid, so an operator Stop or shutdown drain can reach it directly
// instead of waiting on a carrier status webhook.
func (m *Manager) RegisterCancel(callSid string, cancel context.CancelFunc) {
	m.regMu.Lock()
	m.cancels[callSid] = cancel
	m.regMu.Unlock()
}

func (m *Manager) cancelBridge(callSid string) {
	m.regMu.Lock()
	cancel, ok := m.cancels[callSid]
	delete(m.cancels, callSid)
	m.regMu.Unlock()
	if ok {
		cancel()
	}
}

// OnFinalized registers a callback invoked whenever a call this manager
// owns reaches a terminal state, so the Scheduler can re-evaluate its
// campaign without polling.
func (m *Manager) OnFinalized(fn func(campaignID int64)) {
	m.onFinalized = fn
}

func (m *Manager) lockFor(callSid string) *entry {
	m.regMu.RLock()
	e, ok := m.entries[callSid]
	m.regMu.RUnlock()
	if ok {
		return e
	}

	m.regMu.Lock()
	defer m.regMu.Unlock()
	if e, ok := m.entries[callSid]; ok {
		return e
	}
	e = &entry{callSid: callSid}
	m.entries[callSid] = e
	return e
}

func (m *Manager) forget(callSid string) {
	m.regMu.Lock()
	delete(m.entries, callSid)
	delete(m.cancels, callSid)
	m.regMu.Unlock()
}

// StartCall dials req and registers the resulting Call in the store as
// queued -> initiated.
func (m *Manager) StartCall(ctx context.Context, req DialRequest) (*store.Call, error) {
	call := &store.Call{
		CampaignID:    req.CampaignID,
		ContactID:     req.ContactID,
		From:          req.From,
		To:            req.To,
		Direction:     "outbound",
		Status:        store.CallQueued,
		AttemptNumber: req.AttemptNumber,
	}
	call, err := m.store.UpsertCall(ctx, call)
	if err != nil {
		return nil, fmt.Errorf("registering queued call: %w", err)
	}

	callSid, err := m.telephony.Dial(ctx, telephony.DialOptions{
		To:                req.To,
		From:              req.From,
		Region:            req.Region,
		MachineDetection:  req.MachineDetection,
		Recording:         req.Recording,
		MediaStreamURL:    m.mediaStreamURL,
		StatusCallbackURL: m.statusCallbackURL,
		CustomParameters: map[string]string{
			"campaignId":   fmt.Sprintf("%d", req.CampaignID),
			"contactId":    fmt.Sprintf("%d", req.ContactID),
			"prompt":       req.Prompt,
			"firstMessage": req.FirstMessage,
		},
	})
	if err != nil {
		m.store.FinalizeCall(ctx, call.CallSid, store.CallFailed, store.TerminatedBySystem, "dial_error", time.Now().UTC(), 0)
		return nil, apperr.Wrap(apperr.KindUpstream, "dialing contact", err)
	}

	// Re-key the store row onto the carrier-assigned callSid.
	call.CallSid = callSid
	call.Status = store.CallInitiated
	call, err = m.store.UpsertCall(ctx, call)
	if err != nil {
		return nil, fmt.Errorf("recording initiated call: %w", err)
	}

	m.lockFor(callSid)
	m.hub.Publish(realtime.TopicCalls, realtime.EventCallUpdate, call)
	m.hub.Publish(realtime.CallTopic(callSid), realtime.EventStatusUpdate, call)
	return call, nil
}

// HandleStatusWebhook applies a carrier status callback (delivered
// through the Webhook Ingestor, C8) to the Call state machine.
func (m *Manager) HandleStatusWebhook(ctx context.Context, ev telephony.StatusEvent) error {
	e := m.lockFor(ev.CallSid)
	e.mu.Lock()
	defer e.mu.Unlock()

	switch ev.Status {
	case telephony.StatusRinging:
		return m.transition(ctx, ev.CallSid, store.CallRinging, ev.AnsweredBy)
	case telephony.StatusInProgress:
		return m.transition(ctx, ev.CallSid, store.CallInProgress, ev.AnsweredBy)
	case telephony.StatusCompleted:
		return m.finalizeFromCarrier(ctx, ev.CallSid, store.CallCompleted, ev.AnsweredBy, ev.DurationSeconds)
	case telephony.StatusBusy:
		return m.finalizeFromCarrier(ctx, ev.CallSid, store.CallBusy, ev.AnsweredBy, ev.DurationSeconds)
	case telephony.StatusNoAnswer:
		return m.finalizeFromCarrier(ctx, ev.CallSid, store.CallNoAnswer, ev.AnsweredBy, ev.DurationSeconds)
	case telephony.StatusFailed:
		return m.finalizeFromCarrier(ctx, ev.CallSid, store.CallFailed, ev.AnsweredBy, ev.DurationSeconds)
	case telephony.StatusCanceled:
		return m.finalizeFromCarrier(ctx, ev.CallSid, store.CallCanceled, ev.AnsweredBy, ev.DurationSeconds)
	}
	return nil
}

func (m *Manager) transition(ctx context.Context, callSid, status, answeredBy string) error {
	if err := m.store.UpdateCallStatus(ctx, callSid, status, answeredBy); err != nil {
		log.Printf("[Lifecycle] %s: store error on transition to %s, will converge on next event: %v", callSid, status, err)
		return nil
	}
	m.hub.Publish(realtime.CallTopic(callSid), realtime.EventStatusUpdate, map[string]string{"callSid": callSid, "status": status})
	return nil
}

// finalizeFromCarrier submits the carrier's own status as the
// termination candidate, except a call the carrier reports as ending
// in under 5 seconds without a human pickup: that's too short to be a
// real conversation outcome and is attributed to the system instead.
func (m *Manager) finalizeFromCarrier(ctx context.Context, callSid, status, answeredBy string, durationSeconds int) error {
	cause := termination.CauseCarrier
	if durationSeconds < 5 && answeredBy != "human" {
		cause = termination.CauseSystem
	}
	winner, _ := m.tracker.Submit(callSid, termination.Candidate{Cause: cause, Reason: status, At: time.Now()})
	m.cancelBridge(callSid)
	return m.finalize(ctx, callSid, status, string(winner.Cause), winner.Reason, durationSeconds)
}

// SetConversationID implements bridge.LifecycleHandle.
func (m *Manager) SetConversationID(callSid, conversationID string) {
	ctx := context.Background()
	call, err := m.store.GetCallBySid(ctx, callSid)
	if err != nil {
		log.Printf("[Lifecycle] %s: cannot record conversationId, call not found: %v", callSid, err)
		return
	}
	call.ConversationID = conversationID
	if _, err := m.store.UpsertCall(ctx, call); err != nil {
		log.Printf("[Lifecycle] %s: failed to persist conversationId: %v", callSid, err)
	}
}

// ReportTermination implements bridge.LifecycleHandle: the Bridge (or
// an explicit cancel) reports a candidate cause; this call owns issuing
// the actual Hangup and arming the hangup-confirmation deadline.
func (m *Manager) ReportTermination(callSid string, cause termination.Cause, reason string) {
	ctx := context.Background()
	e := m.lockFor(callSid)
	e.mu.Lock()
	defer e.mu.Unlock()

	winner, won := m.tracker.Submit(callSid, termination.Candidate{Cause: cause, Reason: reason, At: time.Now()})
	if won {
		if err := m.store.UpdateCallStatus(ctx, callSid, store.CallTerminating, ""); err != nil {
			log.Printf("[Lifecycle] %s: store error entering terminating: %v", callSid, err)
		}
		m.hub.Publish(realtime.CallTopic(callSid), realtime.EventStatusUpdate, map[string]string{"callSid": callSid, "status": store.CallTerminating})
		// Cancel the Bridge right away rather than waiting on the
		// hangup-confirmation deadline below, so an operator Stop or a
		// shutdown drain takes effect immediately.
		m.cancelBridge(callSid)
	}

	go m.hangupAndAwaitConfirmation(callSid, winner)
}

// ReportTerminationExternal lets operator-initiated actions (campaign
// Stop, a dashboard cancel) request termination the same way the Bridge
// does, without importing the termination package at the call site.
func (m *Manager) ReportTerminationExternal(callSid, reason string) {
	m.ReportTermination(callSid, termination.CauseSystem, reason)
}

func (m *Manager) hangupAndAwaitConfirmation(callSid string, winner termination.Candidate) {
	ctx, cancel := context.WithTimeout(context.Background(), m.hangupTimeout)
	defer cancel()

	if err := m.telephony.Hangup(ctx, callSid, winner.Reason); err != nil {
		log.Printf("[Lifecycle] %s: hangup request error: %v", callSid, err)
	}

	<-ctx.Done()
	// If the carrier's "completed" status already finalized the call via
	// HandleStatusWebhook, this is a no-op (FinalizeCall only writes
	// terminal fields once); otherwise it is the forced finalize path.
	call, err := m.store.GetCallBySid(context.Background(), callSid)
	if err != nil {
		return
	}
	if call.IsTerminal() {
		return
	}
	m.finalize(context.Background(), callSid, store.CallFailed, string(winner.Cause), "hangup_timeout", 0)
}

func (m *Manager) finalize(ctx context.Context, callSid, status, terminatedBy, reason string, durationSeconds int) error {
	endTime := time.Now().UTC()
	if err := m.store.FinalizeCall(ctx, callSid, status, terminatedBy, reason, endTime, durationSeconds); err != nil {
		log.Printf("[Lifecycle] %s: store error finalizing, will retry on next event: %v", callSid, err)
		return nil
	}

	call, err := m.store.GetCallBySid(ctx, callSid)
	if err == nil {
		m.hub.Publish(realtime.TopicCalls, realtime.EventCallUpdate, call)
		m.hub.Publish(realtime.CallTopic(callSid), realtime.EventStatusUpdate, call)
		if m.onFinalized != nil && call.CampaignID != 0 {
			m.onFinalized(call.CampaignID)
		}
	}

	m.tracker.Forget(callSid)
	m.forget(callSid)
	return nil
}
