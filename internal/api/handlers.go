package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"voxcampaign/internal/apperr"
	"voxcampaign/internal/contactimport"
	"voxcampaign/internal/lifecycle"
	"voxcampaign/internal/store"
	"voxcampaign/internal/telephony"
)

// --- POST /outbound-call -------------------------------------------

type outboundCallRequest struct {
	To           string `json:"to"`
	Prompt       string `json:"prompt"`
	FirstMessage string `json:"firstMessage"`
	Name         string `json:"name,omitempty"`
	Region       string `json:"region,omitempty"`
	Recording    bool   `json:"recording,omitempty"`
	CallerID     string `json:"callerId,omitempty"`
}

type timing struct {
	TotalMillis      int64 `json:"total"`
	SignedURLMillis  int64 `json:"signedUrl"`
	TwilioCallMillis int64 `json:"twilioCall"`
}

type outboundCallResponse struct {
	CallSid        string `json:"callSid"`
	ConversationID string `json:"conversationId,omitempty"`
	Timing         timing `json:"timing"`
}

// handleOutboundCall places a single ad-hoc call. The Agent session is
// opened lazily by the Media Bridge once the carrier's media stream
// actually connects, so no signedUrl/conversationId is available yet
// at this point; only the dial itself is timed here.
func (s *Server) handleOutboundCall(w http.ResponseWriter, r *http.Request) {
	var req outboundCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid request body: %v", err))
		return
	}
	if req.To == "" || req.Prompt == "" {
		writeError(w, apperr.Validation("to and prompt are required"))
		return
	}

	start := time.Now()
	dialStart := time.Now()
	call, err := s.lifecycle.StartCall(r.Context(), lifecycle.DialRequest{
		To:            req.To,
		From:          req.CallerID,
		Region:        req.Region,
		Recording:     req.Recording,
		Prompt:        req.Prompt,
		FirstMessage:  req.FirstMessage,
		AttemptNumber: 1,
		MachineDetection: telephony.MachineDetection{Enabled: true, TimeoutMs: 5000},
	})
	dialElapsed := time.Since(dialStart)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, outboundCallResponse{
		CallSid: call.CallSid,
		Timing: timing{
			TotalMillis:      time.Since(start).Milliseconds(),
			TwilioCallMillis: dialElapsed.Milliseconds(),
		},
	})
}

// --- Calls -----------------------------------------------------------

func (s *Server) getCall(w http.ResponseWriter, r *http.Request) {
	callSid := chi.URLParam(r, "callSid")
	call, err := s.store.GetCallBySid(r.Context(), callSid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

func (s *Server) listCalls(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := q.Get("status")
	campaignID, _ := strconv.ParseInt(q.Get("campaignId"), 10, 64)
	from, to, err := dateRangeParams(q)
	if err != nil {
		writeError(w, apperr.Validation("invalid from/to: %v", err))
		return
	}
	limit, offset := pageParams(q)

	calls, err := s.store.ListCalls(r.Context(), status, campaignID, from, to, limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, calls)
}

func (s *Server) exportCalls(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	status := q.Get("status")
	campaignID, _ := strconv.ParseInt(q.Get("campaignId"), 10, 64)
	from, to, err := dateRangeParams(q)
	if err != nil {
		writeError(w, apperr.Validation("invalid from/to: %v", err))
		return
	}

	calls, err := s.store.ListCalls(r.Context(), status, campaignID, from, to, 100000, 0)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="calls.csv"`)
	cw := csv.NewWriter(w)
	defer cw.Flush()

	cw.Write([]string{"callSid", "campaignId", "contactId", "from", "to", "status", "answeredBy",
		"terminatedBy", "terminationReason", "attemptNumber", "startTime", "duration"})
	for _, c := range calls {
		cw.Write([]string{
			c.CallSid, fmt.Sprintf("%d", c.CampaignID), fmt.Sprintf("%d", c.ContactID),
			c.From, c.To, c.Status, c.AnsweredBy, c.TerminatedBy, c.TerminationReason,
			strconv.Itoa(c.AttemptNumber), c.StartTime.Format(time.RFC3339), strconv.Itoa(c.DurationSeconds),
		})
	}
}

type updateCallStatusRequest struct {
	Status string `json:"status"`
}

func (s *Server) updateCallStatus(w http.ResponseWriter, r *http.Request) {
	callSid := chi.URLParam(r, "callSid")
	var req updateCallStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid request body: %v", err))
		return
	}
	if req.Status == "" {
		writeError(w, apperr.Validation("status is required"))
		return
	}
	if err := s.store.UpdateCallStatus(r.Context(), callSid, req.Status, ""); err != nil {
		writeError(w, err)
		return
	}
	call, err := s.store.GetCallBySid(r.Context(), callSid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, call)
}

func (s *Server) deleteCall(w http.ResponseWriter, r *http.Request) {
	callSid := chi.URLParam(r, "callSid")
	if err := s.store.DeleteCallCascade(r.Context(), callSid); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

// --- Events ------------------------------------------------------------

func (s *Server) listEvents(w http.ResponseWriter, r *http.Request) {
	callSid := chi.URLParam(r, "callSid")
	events, err := s.store.ListEvents(r.Context(), callSid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

type createEventRequest struct {
	CallSid   string `json:"callSid"`
	EventType string `json:"eventType"`
	Payload   string `json:"payload,omitempty"`
	Source    string `json:"source,omitempty"`
}

func (s *Server) createEvent(w http.ResponseWriter, r *http.Request) {
	var req createEventRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid request body: %v", err))
		return
	}
	if req.CallSid == "" || req.EventType == "" {
		writeError(w, apperr.Validation("callSid and eventType are required"))
		return
	}
	if req.Source == "" {
		req.Source = "api"
	}
	s.store.RecordEvent(req.CallSid, req.EventType, req.Payload, req.Source)
	writeJSON(w, http.StatusOK, map[string]bool{"accepted": true})
}

// --- Contacts ------------------------------------------------------------

func (s *Server) listContacts(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r.URL.Query())
	contacts, err := s.store.ListContacts(r.Context(), limit, offset)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, contacts)
}

func (s *Server) importContacts(w http.ResponseWriter, r *http.Request) {
	file, _, err := r.FormFile("file")
	if err != nil {
		writeError(w, apperr.Validation("missing file field: %v", err))
		return
	}
	defer file.Close()

	rows, err := contactimport.Parse(file)
	if err != nil {
		writeError(w, apperr.Validation("invalid CSV: %v", err))
		return
	}

	imported := 0
	for _, row := range rows {
		if _, err := s.store.UpsertContact(r.Context(), &store.Contact{
			PhoneNumber: row.Phone, Name: row.Name, Email: row.Email,
		}); err != nil {
			continue // dedup on phone is handled by UpsertContact; skip rows that fail
		}
		imported++
	}
	writeJSON(w, http.StatusOK, map[string]int{"imported": imported, "total": len(rows)})
}

// --- Campaigns -----------------------------------------------------------

type campaignRequest struct {
	Name         string                 `json:"name"`
	Prompt       string                 `json:"prompt"`
	FirstMessage string                 `json:"firstMessage"`
	CallerID     string                 `json:"callerId"`
	Region       string                 `json:"region,omitempty"`
	ContactIDs   []int64                `json:"contactIds,omitempty"`
	Settings     store.CampaignSettings `json:"settings"`
}

func (s *Server) createCampaign(w http.ResponseWriter, r *http.Request) {
	var req campaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid request body: %v", err))
		return
	}
	if req.Name == "" || req.Prompt == "" {
		writeError(w, apperr.Validation("name and prompt are required"))
		return
	}

	campaign, err := s.store.CreateCampaign(r.Context(), &store.Campaign{
		Name: req.Name, Prompt: req.Prompt, FirstMessage: req.FirstMessage,
		CallerID: req.CallerID, Region: req.Region, Settings: req.Settings,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if len(req.ContactIDs) > 0 {
		if err := s.store.AddCampaignContacts(r.Context(), campaign.ID, req.ContactIDs); err != nil {
			writeError(w, err)
			return
		}
		campaign, err = s.store.GetCampaign(r.Context(), campaign.ID)
		if err != nil {
			writeError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (s *Server) getCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, apperr.Validation("invalid campaign id"))
		return
	}
	campaign, err := s.store.GetCampaign(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (s *Server) listCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := s.store.ListCampaigns(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaigns)
}

func (s *Server) listActiveCampaigns(w http.ResponseWriter, r *http.Request) {
	campaigns, err := s.store.ListActiveCampaigns(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaigns)
}

func (s *Server) updateCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, apperr.Validation("invalid campaign id"))
		return
	}
	var req campaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, apperr.Validation("invalid request body: %v", err))
		return
	}
	if req.Name == "" || req.Prompt == "" {
		writeError(w, apperr.Validation("name and prompt are required"))
		return
	}
	if err := s.store.UpdateCampaign(r.Context(), &store.Campaign{
		ID: id, Name: req.Name, Prompt: req.Prompt, FirstMessage: req.FirstMessage,
		CallerID: req.CallerID, Region: req.Region, Settings: req.Settings,
	}); err != nil {
		writeError(w, err)
		return
	}
	if len(req.ContactIDs) > 0 {
		if err := s.store.AddCampaignContacts(r.Context(), id, req.ContactIDs); err != nil {
			writeError(w, err)
			return
		}
	}
	campaign, err := s.store.GetCampaign(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func (s *Server) deleteCampaign(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, apperr.Validation("invalid campaign id"))
		return
	}
	if err := s.store.DeleteCampaignCascade(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (s *Server) getCampaignProgress(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, apperr.Validation("invalid campaign id"))
		return
	}
	progress, err := s.scheduler.Progress(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, progress)
}

func (s *Server) startCampaign(w http.ResponseWriter, r *http.Request) {
	s.campaignAction(w, r, s.scheduler.Start)
}

func (s *Server) pauseCampaign(w http.ResponseWriter, r *http.Request) {
	s.campaignAction(w, r, s.scheduler.Pause)
}

func (s *Server) resumeCampaign(w http.ResponseWriter, r *http.Request) {
	s.campaignAction(w, r, s.scheduler.Resume)
}

func (s *Server) stopCampaign(w http.ResponseWriter, r *http.Request) {
	s.campaignAction(w, r, s.scheduler.Stop)
}

func (s *Server) campaignAction(w http.ResponseWriter, r *http.Request, action func(context.Context, int64) error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, apperr.Validation("invalid campaign id"))
		return
	}
	if err := action(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	campaign, err := s.store.GetCampaign(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

// startCampaignFromCSV handles the multipart CSV bootstrap: it creates
// the campaign, imports/dedups the roster by phone, adds every
// resulting contact to the campaign, and starts it.
func (s *Server) startCampaignFromCSV(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, apperr.Validation("invalid multipart form: %v", err))
		return
	}

	file, _, err := formFile(r.MultipartForm, "file")
	if err != nil {
		writeError(w, apperr.Validation("missing file field: %v", err))
		return
	}
	defer file.Close()

	rows, err := contactimport.Parse(file)
	if err != nil {
		writeError(w, apperr.Validation("invalid CSV: %v", err))
		return
	}

	settings := store.CampaignSettings{
		MaxConcurrentCalls: formInt(r, "maxConcurrentCalls", 1),
		CallDelayMillis:    formInt(r, "callDelayMillis", 5000),
		RetryCount:         formInt(r, "retryCount", 0),
		RetryDelayMillis:   formInt(r, "retryDelayMillis", 60000),
	}

	campaign, err := s.store.CreateCampaign(r.Context(), &store.Campaign{
		Name:         r.FormValue("name"),
		Prompt:       r.FormValue("prompt"),
		FirstMessage: r.FormValue("firstMessage"),
		CallerID:     r.FormValue("callerId"),
		Region:       r.FormValue("region"),
		Settings:     settings,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	contactIDs := make([]int64, 0, len(rows))
	for _, row := range rows {
		contact, err := s.store.UpsertContact(r.Context(), &store.Contact{
			PhoneNumber: row.Phone, Name: row.Name, Email: row.Email,
		})
		if err != nil {
			continue
		}
		contactIDs = append(contactIDs, contact.ID)
	}
	if len(contactIDs) > 0 {
		if err := s.store.AddCampaignContacts(r.Context(), campaign.ID, contactIDs); err != nil {
			writeError(w, err)
			return
		}
	}

	if err := s.scheduler.Start(r.Context(), campaign.ID); err != nil {
		writeError(w, err)
		return
	}

	campaign, err = s.store.GetCampaign(r.Context(), campaign.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, campaign)
}

func formFile(form *multipart.Form, field string) (multipart.File, *multipart.FileHeader, error) {
	headers := form.File[field]
	if len(headers) == 0 {
		return nil, nil, fmt.Errorf("no file uploaded for field %q", field)
	}
	f, err := headers[0].Open()
	return f, headers[0], err
}

func formInt(r *http.Request, field string, def int) int {
	v := r.FormValue(field)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func pageParams(q map[string][]string) (limit, offset int) {
	limit, offset = 50, 0
	if v := first(q["limit"]); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := first(q["page"]); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 1 {
			offset = (n - 1) * limit
		}
	}
	return limit, offset
}

// dateRangeParams parses the from/to query params as RFC3339
// timestamps; either may be absent, which leaves that bound unset.
func dateRangeParams(q map[string][]string) (from, to time.Time, err error) {
	if v := first(q["from"]); v != "" {
		from, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, fmt.Errorf("from: %w", err)
		}
	}
	if v := first(q["to"]); v != "" {
		to, err = time.Parse(time.RFC3339, v)
		if err != nil {
			return from, to, fmt.Errorf("to: %w", err)
		}
	}
	return from, to, nil
}

func first(v []string) string {
	if len(v) == 0 {
		return ""
	}
	return v[0]
}

// --- Recordings ------------------------------------------------------

// downloadRecording proxies/caches the recording's audio file to disk,
// keyed by recordingSid; a cached entry of size 0 is considered
// invalid and re-fetched.
func (s *Server) downloadRecording(w http.ResponseWriter, r *http.Request) {
	recordingSid := chi.URLParam(r, "recordingSid")
	rec, err := s.store.GetRecording(r.Context(), recordingSid)
	if err != nil {
		writeError(w, err)
		return
	}

	ext := "mp3"
	if strings.HasSuffix(strings.ToLower(rec.URL), ".wav") {
		ext = "wav"
	}
	contentType := "audio/mpeg"
	if ext == "wav" {
		contentType = "audio/wav"
	}

	cachePath := filepath.Join(s.recordingsDir, fmt.Sprintf("recording_%s.%s", recordingSid, ext))
	if info, err := os.Stat(cachePath); err != nil || info.Size() == 0 {
		if err := s.fetchRecording(r.Context(), rec.URL, cachePath); err != nil {
			writeError(w, apperr.Wrap(apperr.KindUpstream, "fetching recording", err))
			return
		}
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s.%s"`, recordingSid, ext))
	http.ServeFile(w, r, cachePath)
}

func (s *Server) fetchRecording(ctx context.Context, url, cachePath string) error {
	if err := os.MkdirAll(filepath.Dir(cachePath), 0o755); err != nil {
		return fmt.Errorf("creating recordings cache dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("recording source returned %s", resp.Status)
	}

	tmp := cachePath + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	out.Close()
	return os.Rename(tmp, cachePath)
}
