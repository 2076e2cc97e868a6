package store

import "time"

// Contact status values. A Contact is never deleted while referenced by
// an active Campaign.
const (
	ContactActive    = "active"
	ContactDoNotCall = "do-not-call"
	ContactCompleted = "completed"
)

type Contact struct {
	ID          int64      `db:"id" json:"id"`
	PhoneNumber string     `db:"phone_number" json:"phoneNumber"`
	Name        string     `db:"name" json:"name,omitempty"`
	Email       string     `db:"email" json:"email,omitempty"`
	Tags        []string   `db:"-" json:"tags,omitempty"`
	CallCount   int        `db:"call_count" json:"callCount"`
	LastCallAt  *time.Time `db:"last_call_at" json:"lastCallAt,omitempty"`
	Status      string     `db:"status" json:"status"`
	Priority    int        `db:"priority" json:"priority"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
}

// Campaign status values. A campaign in Completed or Cancelled never
// transitions back.
const (
	CampaignDraft     = "draft"
	CampaignActive    = "active"
	CampaignPaused    = "paused"
	CampaignCompleted = "completed"
	CampaignCancelled = "cancelled"
)

type CallingWindow struct {
	StartHour int `json:"startHour"`
	EndHour   int `json:"endHour"`
}

type CampaignSettings struct {
	MaxConcurrentCalls int           `json:"maxConcurrentCalls"`
	CallDelayMillis    int           `json:"callDelayMillis"`
	RetryCount         int           `json:"retryCount"`
	RetryDelayMillis   int           `json:"retryDelayMillis"`
	CallingWindow      CallingWindow `json:"callingWindow"`
}

type CampaignStats struct {
	Placed      int     `json:"placed"`
	Completed   int     `json:"completed"`
	Answered    int     `json:"answered"`
	Failed      int     `json:"failed"`
	AvgDuration float64 `json:"avgDuration"`
}

type Campaign struct {
	ID           int64            `db:"id" json:"id"`
	Name         string           `db:"name" json:"name"`
	Status       string           `db:"status" json:"status"`
	Prompt       string           `db:"prompt" json:"prompt"`
	FirstMessage string           `db:"first_message" json:"firstMessage"`
	CallerID     string           `db:"caller_id" json:"callerId"`
	Region       string           `db:"region" json:"region,omitempty"`
	ContactIDs   []int64          `db:"-" json:"contactIds"`
	Settings     CampaignSettings `db:"-" json:"settings"`
	Stats        CampaignStats    `db:"-" json:"stats"`
	CreatedAt    time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time        `db:"updated_at" json:"updatedAt"`

	// cursor is the index into ContactIDs the scheduler should dial next;
	// persisted so Resume continues where Pause left off.
	Cursor int `db:"cursor" json:"-"`
}

// Call status values, matching the queued -> ... -> finalized machine
// owned by the lifecycle manager.
const (
	CallQueued     = "queued"
	CallInitiated  = "initiated"
	CallRinging    = "ringing"
	CallInProgress = "in-progress"
	CallCompleted  = "completed"
	CallBusy       = "busy"
	CallNoAnswer   = "no-answer"
	CallFailed     = "failed"
	CallCanceled   = "canceled"
	CallTerminating = "terminating"
)

// AnsweredBy classification.
const (
	AnsweredHuman      = "human"
	AnsweredMachineStart = "machine_start"
	AnsweredMachineEnd  = "machine_end_beep"
	AnsweredFax        = "fax"
	AnsweredUnknown    = "unknown"
)

// TerminatedBy — first classified cause of a call ending.
const (
	TerminatedByAgent   = "agent"
	TerminatedByUser    = "user"
	TerminatedBySystem  = "system"
	TerminatedByCarrier = "carrier"
	TerminatedByUnknown = "unknown"
)

type Call struct {
	ID              int64      `db:"id" json:"id"`
	CallSid         string     `db:"call_sid" json:"callSid"`
	ConversationID  string     `db:"conversation_id" json:"conversationId,omitempty"`
	CampaignID      int64      `db:"campaign_id" json:"campaignId,omitempty"`
	ContactID       int64      `db:"contact_id" json:"contactId,omitempty"`
	From            string     `db:"from_number" json:"from"`
	To              string     `db:"to_number" json:"to"`
	Direction       string     `db:"direction" json:"direction"`
	Status          string     `db:"status" json:"status"`
	AnsweredBy      string     `db:"answered_by" json:"answeredBy,omitempty"`
	StartTime       time.Time  `db:"start_time" json:"startTime"`
	AnswerTime      *time.Time `db:"answer_time" json:"answerTime,omitempty"`
	EndTime         *time.Time `db:"end_time" json:"endTime,omitempty"`
	DurationSeconds int        `db:"duration_seconds" json:"duration,omitempty"`
	TerminatedBy    string     `db:"terminated_by" json:"terminatedBy,omitempty"`
	TerminationReason string   `db:"termination_reason" json:"terminationReason,omitempty"`
	AttemptNumber   int        `db:"attempt_number" json:"attemptNumber"`
}

func (c *Call) IsTerminal() bool {
	switch c.Status {
	case CallCompleted, CallBusy, CallNoAnswer, CallFailed, CallCanceled:
		return true
	}
	return false
}

type Recording struct {
	ID                   int64   `db:"id" json:"id"`
	RecordingSid         string  `db:"recording_sid" json:"recordingSid"`
	CallSid              string  `db:"call_sid" json:"callSid"`
	Status               string  `db:"status" json:"status"`
	URL                  string  `db:"url" json:"url"`
	DurationSeconds      int     `db:"duration_seconds" json:"durationSeconds"`
	Channels             int     `db:"channels" json:"channels"`
	ProcessingStatus     string  `db:"processing_status" json:"processingStatus"`
	TranscriptionStatus  string  `db:"transcription_status" json:"transcriptionStatus"`
}

// TranscriptMessage roles.
const (
	RoleAgent  = "agent"
	RoleUser   = "user"
	RoleSystem = "system"
)

// Source of a transcript message: streamed live from the bridge, or
// written by the webhook ingestor once the agent finalizes the call.
const (
	SourceRealtime  = "realtime"
	SourceFinalized = "finalized"
)

type TranscriptMessage struct {
	ID            int64     `db:"id" json:"id"`
	CallSid       string    `db:"call_sid" json:"callSid"`
	Sequence      int       `db:"sequence" json:"sequence"`
	Role          string    `db:"role" json:"role"`
	Text          string    `db:"text" json:"text"`
	OffsetSeconds float64   `db:"offset_seconds" json:"offsetSeconds"`
	Source        string    `db:"source" json:"source"`
	ExternalID    string    `db:"external_id" json:"externalId,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`
}

type CallEvent struct {
	ID        int64     `db:"id" json:"id"`
	CallSid   string    `db:"call_sid" json:"callSid"`
	EventType string    `db:"event_type" json:"eventType"`
	Payload   string    `db:"payload" json:"payload,omitempty"`
	Source    string    `db:"source" json:"source"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}
