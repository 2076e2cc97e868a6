// Package campaign implements the Campaign Scheduler (C7): it maintains
// the set of active campaigns and selects the next contacts to dial
// subject to concurrency, pacing, retry and calling-hour windows.
//
// Grounded on apicall's internal/campaign/sweeper.go ticker-driven
// processCampaigns/processCampaign loop, generalized with an explicit
// per-campaign token-bucket pacer (golang.org/x/time/rate, adopted from
// flowpbx-flowpbx's own use of x/time for call-admission pacing) in
// place of apicall's bare time.Sleep-between-dials.
package campaign

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"voxcampaign/internal/lifecycle"
	"voxcampaign/internal/realtime"
	"voxcampaign/internal/retry"
	"voxcampaign/internal/store"
	"voxcampaign/internal/telephony"
)

type Scheduler struct {
	store     *store.Repository
	lifecycle *lifecycle.Manager
	hub       *realtime.Hub

	pollInterval time.Duration

	mu       sync.Mutex
	limiters map[int64]*rate.Limiter

	wake chan int64 // campaignID to re-evaluate immediately
}

func NewScheduler(st *store.Repository, lm *lifecycle.Manager, hub *realtime.Hub, pollInterval time.Duration) *Scheduler {
	if pollInterval == 0 {
		pollInterval = time.Second
	}
	s := &Scheduler{
		store:        st,
		lifecycle:    lm,
		hub:          hub,
		pollInterval: pollInterval,
		limiters:     make(map[int64]*rate.Limiter),
		wake:         make(chan int64, 256),
	}
	lm.OnFinalized(func(campaignID int64) {
		select {
		case s.wake <- campaignID:
		default:
		}
	})
	return s
}

func (s *Scheduler) limiterFor(campaignID int64, callDelayMillis int) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.limiters[campaignID]
	if !ok {
		interval := time.Duration(callDelayMillis) * time.Millisecond
		if interval <= 0 {
			interval = time.Millisecond
		}
		lim = rate.NewLimiter(rate.Every(interval), 1)
		s.limiters[campaignID] = lim
	}
	return lim
}

// Run drives the scheduler's control loop until ctx is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		case <-s.wake:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	campaigns, err := s.store.ListActiveCampaigns(ctx)
	if err != nil {
		log.Printf("[Scheduler] listing active campaigns: %v", err)
		return
	}
	for _, c := range campaigns {
		s.processCampaign(ctx, c)
	}
	s.publishActiveCalls(ctx)
}

// publishActiveCalls heartbeats the dashboard-wide in-flight call count
// once per tick, independent of any single campaign's progress.
func (s *Scheduler) publishActiveCalls(ctx context.Context) {
	if s.hub == nil {
		return
	}
	n, err := s.store.CountActiveCallsTotal(ctx)
	if err != nil {
		log.Printf("[Scheduler] counting active calls: %v", err)
		return
	}
	s.hub.Publish(realtime.TopicCalls, realtime.EventActiveCalls, map[string]int{"activeCalls": n})
}

func (s *Scheduler) processCampaign(ctx context.Context, c store.Campaign) {
	if c.Status != store.CampaignActive {
		return // paused: no new dials, in-flight calls finish on their own
	}
	if !withinCallingWindow(c.Settings.CallingWindow) {
		return
	}

	activeCalls, err := s.store.CountInProgress(ctx, c.ID)
	if err != nil {
		log.Printf("[Scheduler] %d: counting in-progress calls: %v", c.ID, err)
		return
	}
	available := c.Settings.MaxConcurrentCalls - activeCalls

	latest, err := s.store.LatestCallsByContact(ctx, c.ID)
	if err != nil {
		log.Printf("[Scheduler] %d: loading retry state: %v", c.ID, err)
		return
	}

	limiter := s.limiterFor(c.ID, c.Settings.CallDelayMillis)
	dialed := 0
	cursor := c.Cursor
	pendingRetry := false

	// First pass: advance the cursor over contacts never yet dialed in
	// this campaign. Each gets attemptNumber 1.
	for available > 0 && cursor < len(c.ContactIDs) {
		// Re-check pause on every iteration: a Pause issued mid-loop must
		// stop new dials immediately, preempting the pacing wait too.
		fresh, err := s.store.GetCampaign(ctx, c.ID)
		if err != nil || fresh.Status != store.CampaignActive {
			return
		}

		if !limiter.Allow() {
			break
		}

		contactID := c.ContactIDs[cursor]
		contact, err := s.store.GetContact(ctx, contactID)
		if err != nil {
			cursor++
			continue
		}
		if contact.Status == store.ContactDoNotCall {
			cursor++
			continue
		}

		go s.dial(context.Background(), c, *contact, 1)

		cursor++
		available--
		dialed++
	}

	if cursor != c.Cursor {
		if err := s.store.AdvanceCampaignCursor(ctx, c.ID, cursor); err != nil {
			log.Printf("[Scheduler] %d: advancing cursor: %v", c.ID, err)
		}
	}

	// Second pass: contacts that have already been dialed at least once
	// and came back busy/no-answer/failed are retried up to
	// settings.RetryCount times, spaced settings.RetryDelayMillis apart,
	// each as a new Call row with an incremented attemptNumber, per the
	// retry.Policy derived from the campaign's own settings.
	policy := retry.Policy{MaxRetries: c.Settings.RetryCount, RetryDelayMillis: c.Settings.RetryDelayMillis}
	for _, contactID := range c.ContactIDs {
		last, ok := latest[contactID]
		if !ok || !last.IsTerminal() {
			continue // never dialed yet (handled above), or still in flight
		}
		if last.Status == store.CallCompleted {
			continue // answered and finished: no retry
		}
		if !policy.ShouldRetry(last.AttemptNumber) {
			continue // retries exhausted
		}

		lastAttempt := last.StartTime
		if last.EndTime != nil {
			lastAttempt = *last.EndTime
		}
		if retry.Real.Now().Before(policy.NextEligibleAt(lastAttempt)) {
			pendingRetry = true
			continue
		}

		if available <= 0 {
			pendingRetry = true
			continue
		}

		fresh, err := s.store.GetCampaign(ctx, c.ID)
		if err != nil || fresh.Status != store.CampaignActive {
			return
		}
		if !limiter.Allow() {
			pendingRetry = true
			continue
		}

		contact, err := s.store.GetContact(ctx, contactID)
		if err != nil || contact.Status == store.ContactDoNotCall {
			continue
		}

		go s.dial(context.Background(), c, *contact, last.AttemptNumber+1)
		available--
		dialed++
	}

	if cursor >= len(c.ContactIDs) && activeCalls == 0 && dialed == 0 && !pendingRetry {
		if err := s.store.SetCampaignStatus(ctx, c.ID, store.CampaignCompleted); err != nil {
			log.Printf("[Scheduler] %d: marking completed: %v", c.ID, err)
		}
	}
}

func withinCallingWindow(w store.CallingWindow) bool {
	return hourWithin(w, time.Now().Hour())
}

func hourWithin(w store.CallingWindow, hour int) bool {
	if w.StartHour == 0 && w.EndHour == 0 {
		return true // no restriction configured
	}
	if w.StartHour <= w.EndHour {
		return hour >= w.StartHour && hour < w.EndHour
	}
	// window wraps past midnight
	return hour >= w.StartHour || hour < w.EndHour
}

func (s *Scheduler) dial(ctx context.Context, c store.Campaign, contact store.Contact, attemptNumber int) {
	_, err := s.lifecycle.StartCall(ctx, lifecycle.DialRequest{
		CampaignID:    c.ID,
		ContactID:     contact.ID,
		To:            contact.PhoneNumber,
		From:          c.CallerID,
		Region:        c.Region,
		AttemptNumber: attemptNumber,
		MachineDetection: telephony.MachineDetection{Enabled: true, TimeoutMs: 5000},
		Recording:     true,
		Prompt:        c.Prompt,
		FirstMessage:  c.FirstMessage,
	})
	if err != nil {
		log.Printf("[Scheduler] %d: dial to %s failed: %v", c.ID, contact.PhoneNumber, err)
	}
}

// --- Control operations ------------------------------------------------

func (s *Scheduler) Start(ctx context.Context, campaignID int64) error {
	return s.store.SetCampaignStatus(ctx, campaignID, store.CampaignActive)
}

func (s *Scheduler) Pause(ctx context.Context, campaignID int64) error {
	return s.store.SetCampaignStatus(ctx, campaignID, store.CampaignPaused)
}

func (s *Scheduler) Resume(ctx context.Context, campaignID int64) error {
	return s.store.SetCampaignStatus(ctx, campaignID, store.CampaignActive)
}

// Stop cancels the campaign and terminates every call it currently owns.
func (s *Scheduler) Stop(ctx context.Context, campaignID int64) error {
	if err := s.store.SetCampaignStatus(ctx, campaignID, store.CampaignCancelled); err != nil {
		return err
	}
	calls, err := s.store.ListCalls(ctx, "", campaignID, time.Time{}, time.Time{}, 1000, 0)
	if err != nil {
		return err
	}
	for _, call := range calls {
		if call.IsTerminal() {
			continue
		}
		s.lifecycle.ReportTerminationExternal(call.CallSid, "operator_stop")
	}
	return nil
}

type Progress struct {
	Placed         int     `json:"placed"`
	Completed      int     `json:"completed"`
	Answered       int     `json:"answered"`
	Failed         int     `json:"failed"`
	Remaining      int     `json:"remaining"`
	PercentComplete float64 `json:"percentComplete"`
	ActiveCalls    int     `json:"activeCalls"`
	Paused         bool    `json:"paused"`
}

func (s *Scheduler) Progress(ctx context.Context, campaignID int64) (*Progress, error) {
	c, err := s.store.GetCampaign(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	activeCalls, err := s.store.CountInProgress(ctx, campaignID)
	if err != nil {
		return nil, err
	}
	total := len(c.ContactIDs)
	remaining := total - c.Cursor
	if remaining < 0 {
		remaining = 0
	}
	var pct float64
	if total > 0 {
		pct = float64(c.Cursor) / float64(total) * 100
	}
	return &Progress{
		Placed:          c.Stats.Placed,
		Completed:       c.Stats.Completed,
		Answered:        c.Stats.Answered,
		Failed:          c.Stats.Failed,
		Remaining:       remaining,
		PercentComplete: pct,
		ActiveCalls:     activeCalls,
		Paused:          c.Status == store.CampaignPaused,
	}, nil
}
