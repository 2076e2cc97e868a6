// Package termination implements the single-writer record of why a call
// ended (C10): the first cause to arrive wins, later causes are kept
// only for forensic logging.
package termination

import (
	"sync"
	"time"
)

// Cause identifies who/what first classified a call as ending.
type Cause string

const (
	CauseAgent   Cause = "agent"
	CauseUser    Cause = "user"
	CauseSystem  Cause = "system"
	CauseCarrier Cause = "carrier"
	CauseUnknown Cause = "unknown"
)

type Candidate struct {
	Cause     Cause
	Reason    string
	At        time.Time
}

type record struct {
	once    sync.Once
	first   Candidate
	mu      sync.Mutex
	losers  []Candidate
}

// Tracker is the process-scoped map from callSid to its termination
// record, grounded on apicall's atomic compare-and-swap idiom in
// dialer.ChannelPool, repurposed here to guard a richer record instead
// of a bare counter.
type Tracker struct {
	records sync.Map // callSid -> *record
}

func New() *Tracker {
	return &Tracker{}
}

func (t *Tracker) recordFor(callSid string) *record {
	v, _ := t.records.LoadOrStore(callSid, &record{})
	return v.(*record)
}

// Submit offers a termination cause for callSid. It returns true and the
// winning Candidate if this call is the first to write (whether or not
// this particular Submit is the winner), and whether THIS call won.
func (t *Tracker) Submit(callSid string, c Candidate) (winner Candidate, won bool) {
	r := t.recordFor(callSid)

	wonThisCall := false
	r.once.Do(func() {
		r.first = c
		wonThisCall = true
	})

	if !wonThisCall {
		r.mu.Lock()
		r.losers = append(r.losers, c)
		r.mu.Unlock()
	}

	return r.first, wonThisCall
}

// Get returns the winning cause for callSid, if any has been submitted.
func (t *Tracker) Get(callSid string) (Candidate, bool) {
	v, ok := t.records.Load(callSid)
	if !ok {
		return Candidate{}, false
	}
	r := v.(*record)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.first.Cause == "" {
		return Candidate{}, false
	}
	return r.first, true
}

// Losers returns every cause that arrived after the first, for audit
// logging.
func (t *Tracker) Losers(callSid string) []Candidate {
	v, ok := t.records.Load(callSid)
	if !ok {
		return nil
	}
	r := v.(*record)
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Candidate, len(r.losers))
	copy(out, r.losers)
	return out
}

// Forget releases the record for callSid once the call is fully
// finalized and its termination cause has been persisted.
func (t *Tracker) Forget(callSid string) {
	t.records.Delete(callSid)
}
