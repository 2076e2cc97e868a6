// Package telephony implements the Telephony Adapter (C3): it places and
// terminates calls against the carrier and defines the shape of the
// inbound status webhook consumed by the Webhook Ingestor (C8).
package telephony

import (
	"context"
	"fmt"
)

// MachineDetection tunes answering-machine detection on a dial.
type MachineDetection struct {
	Enabled   bool
	TimeoutMs int
}

// DialOptions carries everything Dial needs to place a call and later
// correlate the carrier's asynchronous status callbacks and media
// stream back to the resulting Call.
type DialOptions struct {
	To                string
	From              string
	Region            string
	MachineDetection  MachineDetection
	Recording         bool
	MediaStreamURL    string
	StatusCallbackURL string
	// CustomParameters are carried back on the media stream's "start"
	// event so the Media Bridge can correlate the socket to a Call.
	CustomParameters map[string]string
}

// Provider is the interface the rest of the system depends on; a single
// concrete implementation speaks the carrier's wire protocol.
type Provider interface {
	Dial(ctx context.Context, opts DialOptions) (callSid string, err error)
	// Hangup is idempotent: hanging up an unknown or already-terminated
	// callSid returns nil with a logged warning, never an error.
	Hangup(ctx context.Context, callSid, reason string) error
}

// Canonical carrier status values delivered on the status webhook.
const (
	StatusInitiated  = "initiated"
	StatusRinging    = "ringing"
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
	StatusBusy       = "busy"
	StatusNoAnswer   = "no-answer"
	StatusFailed     = "failed"
	StatusCanceled   = "canceled"
)

// AnsweredBy values reported alongside an "in-progress"/answer status.
const (
	AnsweredHuman        = "human"
	AnsweredMachineStart = "machine_start"
	AnsweredMachineEnd   = "machine_end_beep"
	AnsweredFax          = "fax"
	AnsweredUnknown      = "unknown"
)

// StatusEvent is the parsed form of an inbound carrier status webhook.
// RecordingSid is only set when the carrier attaches a finished
// recording to this status update; a Call may receive several (one per
// leg it recorded).
type StatusEvent struct {
	CallSid         string
	Status          string
	AnsweredBy      string
	DurationSeconds int

	RecordingSid      string
	RecordingURL      string
	RecordingDuration int
	RecordingChannels int
}

// ErrUnknownCall is returned internally by provider implementations but
// never surfaces from Hangup, which treats it as a successful no-op: a
// carrier-side call that already ended isn't a hangup failure.
var ErrUnknownCall = fmt.Errorf("telephony: unknown call sid")
