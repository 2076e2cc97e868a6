// Package bridge implements the Media Bridge (C5): one instance per
// live call, proxying audio both ways between the carrier's media
// stream and the conversational-AI agent's session socket, classifying
// agent events and driving termination signals up to the Call Lifecycle
// Manager.
//
// Grounded on other_examples/fanonxr-Lexiq-AI's CallSession struct for
// the per-call socket/state shape and on
// other_examples/nugget-thane-ai-agent's Bridge/BridgeConfig
// constructor-injection style, replacing apicall's fastagi.Session
// DTMF/AMD command-response loop outright — a different problem needs
// a different mechanism, not a generalization of the AGI one.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"voxcampaign/internal/agent"
	"voxcampaign/internal/realtime"
	"voxcampaign/internal/store"
	"voxcampaign/internal/termination"
)

const defaultInactivityTimeout = 60 * time.Second
const cancelDrainGrace = 2 * time.Second

// LifecycleHandle is the narrow view of the Call Lifecycle Manager the
// Bridge needs: recording the late-arriving conversationId and
// reporting a termination cause. It never calls Hangup itself.
type LifecycleHandle interface {
	SetConversationID(callSid, conversationID string)
	ReportTermination(callSid string, cause termination.Cause, reason string)

	// RegisterCancel lets the Lifecycle Manager reach into a live
	// Bridge and cancel it directly, so an operator Stop or a shutdown
	// drain doesn't have to wait for a carrier status webhook that may
	// never arrive.
	RegisterCancel(callSid string, cancel context.CancelFunc)
}

// Config bundles the Bridge's collaborators, passed in explicitly at
// construction instead of reached for through package globals, unlike
// apicall's internal/asterisk ambient-state pattern.
type Config struct {
	Store             *store.Repository
	Hub               *realtime.Hub
	Agent             *agent.Adapter
	Lifecycle         LifecycleHandle
	Termination       *termination.Tracker
	InactivityTimeout time.Duration
	Typewriter        realtime.TypewriterConfig
}

// Bridge proxies one live call's audio and events.
type Bridge struct {
	cfg Config

	carrierConn *websocket.Conn
	agentConn   *websocket.Conn

	callSid        string
	streamSid      string
	conversationID string

	mu                  sync.Mutex
	lastCarrierMediaAt  time.Time
	sequenceOffset      time.Time

	done chan struct{}
}

func New(cfg Config) *Bridge {
	if cfg.InactivityTimeout == 0 {
		cfg.InactivityTimeout = defaultInactivityTimeout
	}
	return &Bridge{cfg: cfg, done: make(chan struct{})}
}

// Run takes ownership of carrierConn (already upgraded by the HTTP
// layer) and drives the bridge until either socket closes, an agent
// conversation_complete arrives, or the inactivity timer expires.
func (b *Bridge) Run(ctx context.Context, carrierConn *websocket.Conn) error {
	b.carrierConn = carrierConn
	defer b.carrierConn.Close()

	start, err := b.awaitStart(ctx)
	if err != nil {
		return fmt.Errorf("waiting for carrier start frame: %w", err)
	}

	b.callSid = start.CallSid
	b.streamSid = start.StreamSid
	b.sequenceOffset = time.Now()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	b.cfg.Lifecycle.RegisterCancel(b.callSid, cancel)

	session, err := b.cfg.Agent.OpenSession(ctx, agent.OpenSessionRequest{
		Prompt:       start.CustomParameters["prompt"],
		FirstMessage: start.CustomParameters["firstMessage"],
		DynamicVars:  start.CustomParameters,
	})
	if err != nil {
		b.cfg.Lifecycle.ReportTermination(b.callSid, termination.CauseSystem, "agent_session_open_failed")
		return fmt.Errorf("opening agent session: %w", err)
	}
	b.conversationID = session.ConversationID
	b.cfg.Lifecycle.SetConversationID(b.callSid, session.ConversationID)

	agentConn, _, err := websocket.DefaultDialer.DialContext(ctx, session.SessionURL, nil)
	if err != nil {
		b.cfg.Lifecycle.ReportTermination(b.callSid, termination.CauseSystem, "agent_socket_unreachable")
		return fmt.Errorf("connecting to agent session socket: %w", err)
	}
	b.agentConn = agentConn
	defer b.agentConn.Close()

	b.touchActivity()
	return b.eventLoop(runCtx)
}

func (b *Bridge) awaitStart(ctx context.Context) (*carrierStart, error) {
	for {
		_, raw, err := b.carrierConn.ReadMessage()
		if err != nil {
			return nil, err
		}
		var frame carrierFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			continue // unparseable frame before start: soft error, keep waiting
		}
		if frame.Event == "start" && frame.Start != nil {
			return frame.Start, nil
		}
	}
}

type inboundMessage struct {
	fromCarrier bool
	raw         []byte
	err         error
}

func (b *Bridge) eventLoop(ctx context.Context) error {
	carrierCh := make(chan inboundMessage, 16)
	agentCh := make(chan inboundMessage, 16)

	go pump(b.carrierConn, carrierCh, true)
	go pump(b.agentConn, agentCh, false)

	timer := time.NewTimer(b.cfg.InactivityTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			b.cfg.Lifecycle.ReportTermination(b.callSid, termination.CauseSystem, "shutdown")
			b.drain(carrierCh, agentCh)
			return ctx.Err()

		case msg := <-carrierCh:
			if msg.err != nil {
				b.cfg.Lifecycle.ReportTermination(b.callSid, termination.CauseUser, "carrier_socket_closed")
				return msg.err
			}
			b.touchActivity()
			resetTimer(timer, b.cfg.InactivityTimeout)
			if err := b.handleCarrierFrame(msg.raw); err != nil {
				log.Printf("[Bridge] %s: bad carrier frame: %v", b.callSid, err)
			}

		case msg := <-agentCh:
			if msg.err != nil {
				b.cfg.Lifecycle.ReportTermination(b.callSid, termination.CauseSystem, "agent_socket_closed")
				return msg.err
			}
			b.touchActivity()
			resetTimer(timer, b.cfg.InactivityTimeout)
			done, err := b.handleAgentEvent(ctx, msg.raw)
			if err != nil {
				log.Printf("[Bridge] %s: bad agent event: %v", b.callSid, err)
				continue
			}
			if done {
				b.cfg.Lifecycle.ReportTermination(b.callSid, termination.CauseAgent, "conversation_complete")
				return nil
			}

		case <-timer.C:
			b.cfg.Lifecycle.ReportTermination(b.callSid, termination.CauseSystem, "inactivity")
			return nil
		}
	}
}

// drain gives both sockets a short grace period to deliver whatever
// was already in flight when cancellation landed, so a last audio
// chunk or transcript frame isn't simply dropped before Run's deferred
// Close calls force both sockets shut.
func (b *Bridge) drain(carrierCh, agentCh <-chan inboundMessage) {
	deadline := time.NewTimer(cancelDrainGrace)
	defer deadline.Stop()
	for {
		select {
		case msg := <-carrierCh:
			if msg.err == nil {
				if err := b.handleCarrierFrame(msg.raw); err != nil {
					log.Printf("[Bridge] %s: bad carrier frame during drain: %v", b.callSid, err)
				}
			}
		case msg := <-agentCh:
			if msg.err == nil {
				if _, err := b.handleAgentEvent(context.Background(), msg.raw); err != nil {
					log.Printf("[Bridge] %s: bad agent event during drain: %v", b.callSid, err)
				}
			}
		case <-deadline.C:
			return
		}
	}
}

func pump(conn *websocket.Conn, out chan<- inboundMessage, fromCarrier bool) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			out <- inboundMessage{fromCarrier: fromCarrier, err: err}
			return
		}
		out <- inboundMessage{fromCarrier: fromCarrier, raw: raw}
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func (b *Bridge) touchActivity() {
	b.mu.Lock()
	b.lastCarrierMediaAt = time.Now()
	b.mu.Unlock()
}

func (b *Bridge) handleCarrierFrame(raw []byte) error {
	var frame carrierFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return err
	}

	switch frame.Event {
	case "media":
		if frame.Media == nil {
			return nil
		}
		b.mu.Lock()
		b.lastCarrierMediaAt = time.Now()
		b.mu.Unlock()
		payload := agent.NewOutboundAudio(frame.Media.Payload)
		return b.agentConn.WriteJSON(payload)
	case "stop":
		b.cfg.Lifecycle.ReportTermination(b.callSid, termination.CauseUser, "carrier_stop")
		return nil
	}
	return nil
}

// handleAgentEvent returns done=true when the agent signaled
// conversation_complete.
func (b *Bridge) handleAgentEvent(ctx context.Context, raw []byte) (bool, error) {
	ev, err := agent.ParseEvent(raw)
	if err != nil {
		return false, err
	}

	switch ev.Type {
	case agent.EventAudio:
		b.mu.Lock()
		latency := time.Since(b.lastCarrierMediaAt)
		b.mu.Unlock()
		b.cfg.Store.RecordEvent(b.callSid, "audio_latency_ms", fmt.Sprintf("%d", latency.Milliseconds()), "bridge")
		return false, b.carrierConn.WriteJSON(outboundMediaFrame(b.streamSid, ev.AudioChunk))

	case agent.EventInterruption:
		return false, b.carrierConn.WriteJSON(outboundClearFrame(b.streamSid))

	case agent.EventPing:
		return false, b.agentConn.WriteJSON(agent.NewPong(ev.EventID))

	case agent.EventUserTranscript:
		return false, b.persistAndStream(ctx, store.RoleUser, ev.Text)

	case agent.EventAgentResponse:
		return false, b.persistAndStream(ctx, store.RoleAgent, ev.Text)

	case agent.EventConversationComplete:
		return true, nil

	case agent.EventMetadata:
		payload, _ := json.Marshal(ev.Metadata)
		b.cfg.Store.RecordEvent(b.callSid, "agent_metadata", string(payload), "agent")
		return false, nil

	case agent.EventError:
		b.cfg.Store.RecordEvent(b.callSid, "agent_error", ev.Error, "agent")
		return false, nil
	}
	return false, nil
}

func (b *Bridge) persistAndStream(ctx context.Context, role, text string) error {
	if text == "" {
		return nil
	}
	offset := time.Since(b.sequenceOffset).Seconds()
	if _, err := b.cfg.Store.AppendTranscriptMessage(ctx, b.callSid, role, text, offset, store.SourceRealtime, ""); err != nil {
		return fmt.Errorf("persisting transcript message: %w", err)
	}
	go realtime.StreamMessage(b.cfg.Hub, b.callSid, role, text, b.cfg.Typewriter)
	return nil
}
