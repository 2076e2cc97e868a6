package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"voxcampaign/internal/apperr"
)

// Repository is the durable persistence layer for Contact, Campaign,
// Call, Recording, TranscriptMessage and CallEvent (C1). It exposes
// idempotent upserts and scoped queries, grounded on apicall's
// database.Repository but renamed off apicall's Spanish domain into
// this orchestrator's own vocabulary.
type Repository struct {
	conn    *Connection
	batcher *EventBatcher
}

func NewRepository(conn *Connection) *Repository {
	r := &Repository{conn: conn, batcher: NewEventBatcher(conn.DB)}
	r.batcher.Start()
	return r
}

func (r *Repository) Close() {
	if r.batcher != nil {
		r.batcher.Stop()
	}
}

func (r *Repository) DB() *sql.DB { return r.conn.DB }

// --- Contact ---------------------------------------------------------

func (r *Repository) GetContact(ctx context.Context, id int64) (*Contact, error) {
	const q = `SELECT id, phone_number, name, email, call_count, last_call_at, status, priority, created_at
	           FROM contacts WHERE id = ?`
	var c Contact
	err := r.conn.DB.QueryRowContext(ctx, q, id).Scan(
		&c.ID, &c.PhoneNumber, &c.Name, &c.Email, &c.CallCount, &c.LastCallAt, &c.Status, &c.Priority, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("contact %d not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "querying contact", err)
	}
	return &c, nil
}

// UpsertContact inserts or updates by unique phone_number, used both by
// direct imports and by CSV import dedup (phone is the dedup key).
func (r *Repository) UpsertContact(ctx context.Context, c *Contact) (*Contact, error) {
	const q = `INSERT INTO contacts (phone_number, name, email, status, priority)
	           VALUES (?, ?, ?, ?, ?)
	           ON DUPLICATE KEY UPDATE name = VALUES(name), email = VALUES(email)`
	if c.Status == "" {
		c.Status = ContactActive
	}
	_, err := r.conn.DB.ExecContext(ctx, q, c.PhoneNumber, c.Name, c.Email, c.Status, c.Priority)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "upserting contact", err)
	}
	const sel = `SELECT id, phone_number, name, email, call_count, last_call_at, status, priority, created_at
	             FROM contacts WHERE phone_number = ?`
	var out Contact
	err = r.conn.DB.QueryRowContext(ctx, sel, c.PhoneNumber).Scan(
		&out.ID, &out.PhoneNumber, &out.Name, &out.Email, &out.CallCount, &out.LastCallAt, &out.Status, &out.Priority, &out.CreatedAt)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "reloading contact", err)
	}
	return &out, nil
}

func (r *Repository) ListContacts(ctx context.Context, limit, offset int) ([]Contact, error) {
	const q = `SELECT id, phone_number, name, email, call_count, last_call_at, status, priority, created_at
	           FROM contacts ORDER BY id LIMIT ? OFFSET ?`
	rows, err := r.conn.DB.QueryContext(ctx, q, limit, offset)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "listing contacts", err)
	}
	defer rows.Close()

	var out []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.ID, &c.PhoneNumber, &c.Name, &c.Email, &c.CallCount, &c.LastCallAt, &c.Status, &c.Priority, &c.CreatedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindStore, "scanning contact", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Campaign ----------------------------------------------------------

func (r *Repository) CreateCampaign(ctx context.Context, c *Campaign) (*Campaign, error) {
	const q = `INSERT INTO campaigns (name, status, prompt, first_message, caller_id, region,
	           max_concurrent_calls, call_delay_millis, retry_count, retry_delay_millis,
	           calling_window_start, calling_window_end, cursor)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0)`
	if c.Status == "" {
		c.Status = CampaignDraft
	}
	res, err := r.conn.DB.ExecContext(ctx, q, c.Name, c.Status, c.Prompt, c.FirstMessage, c.CallerID, c.Region,
		c.Settings.MaxConcurrentCalls, c.Settings.CallDelayMillis, c.Settings.RetryCount, c.Settings.RetryDelayMillis,
		c.Settings.CallingWindow.StartHour, c.Settings.CallingWindow.EndHour)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "creating campaign", err)
	}
	id, _ := res.LastInsertId()
	return r.GetCampaign(ctx, id)
}

// UpdateCampaign persists the editable campaign fields: name, prompt,
// first message, caller ID, region and pacing settings. Status,
// cursor and stats are mutated through their own dedicated methods,
// not this one.
func (r *Repository) UpdateCampaign(ctx context.Context, c *Campaign) error {
	const q = `UPDATE campaigns SET name = ?, prompt = ?, first_message = ?, caller_id = ?, region = ?,
	           max_concurrent_calls = ?, call_delay_millis = ?, retry_count = ?, retry_delay_millis = ?,
	           calling_window_start = ?, calling_window_end = ?
	           WHERE id = ?`
	res, err := r.conn.DB.ExecContext(ctx, q, c.Name, c.Prompt, c.FirstMessage, c.CallerID, c.Region,
		c.Settings.MaxConcurrentCalls, c.Settings.CallDelayMillis, c.Settings.RetryCount, c.Settings.RetryDelayMillis,
		c.Settings.CallingWindow.StartHour, c.Settings.CallingWindow.EndHour, c.ID)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, "updating campaign", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Wrap(apperr.KindStore, "updating campaign", err)
	}
	if n == 0 {
		return apperr.NotFound("campaign %d not found", c.ID)
	}
	return nil
}

func (r *Repository) GetCampaign(ctx context.Context, id int64) (*Campaign, error) {
	const q = `SELECT id, name, status, prompt, first_message, caller_id, region,
	           max_concurrent_calls, call_delay_millis, retry_count, retry_delay_millis,
	           calling_window_start, calling_window_end, cursor, created_at, updated_at
	           FROM campaigns WHERE id = ?`
	var c Campaign
	err := r.conn.DB.QueryRowContext(ctx, q, id).Scan(
		&c.ID, &c.Name, &c.Status, &c.Prompt, &c.FirstMessage, &c.CallerID, &c.Region,
		&c.Settings.MaxConcurrentCalls, &c.Settings.CallDelayMillis, &c.Settings.RetryCount, &c.Settings.RetryDelayMillis,
		&c.Settings.CallingWindow.StartHour, &c.Settings.CallingWindow.EndHour, &c.Cursor, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("campaign %d not found", id)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "querying campaign", err)
	}
	c.ContactIDs, err = r.campaignContactIDs(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Stats, err = r.campaignStats(ctx, id)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// campaignContactIDs returns the campaign's roster ordered by contact
// priority descending, falling back to insertion order within the same
// priority, matching apicall's own MarkContactDialing/blacklist-skip
// selection order.
func (r *Repository) campaignContactIDs(ctx context.Context, campaignID int64) ([]int64, error) {
	const q = `SELECT cc.contact_id
	    FROM campaign_contacts cc
	    JOIN contacts c ON c.id = cc.contact_id
	    WHERE cc.campaign_id = ?
	    ORDER BY c.priority DESC, cc.position`
	rows, err := r.conn.DB.QueryContext(ctx, q, campaignID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "listing campaign contacts", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(apperr.KindStore, "scanning campaign contact", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *Repository) campaignStats(ctx context.Context, campaignID int64) (CampaignStats, error) {
	const q = `SELECT
	    COUNT(*) AS placed,
	    SUM(status IN (?, ?, ?, ?, ?)) AS completed,
	    SUM(answered_by = ?) AS answered,
	    SUM(status IN (?, ?)) AS failed,
	    COALESCE(AVG(NULLIF(duration_seconds, 0)), 0) AS avg_duration
	    FROM calls WHERE campaign_id = ?`
	var s CampaignStats
	err := r.conn.DB.QueryRowContext(ctx, q,
		CallCompleted, CallBusy, CallNoAnswer, CallFailed, CallCanceled,
		AnsweredHuman,
		CallFailed, CallBusy,
		campaignID).Scan(&s.Placed, &s.Completed, &s.Answered, &s.Failed, &s.AvgDuration)
	if err != nil {
		return s, apperr.Wrap(apperr.KindStore, "computing campaign stats", err)
	}
	return s, nil
}

// AddCampaignContacts appends contacts to a campaign's ordered roster.
func (r *Repository) AddCampaignContacts(ctx context.Context, campaignID int64, contactIDs []int64) error {
	if len(contactIDs) == 0 {
		return nil
	}
	tx, err := r.conn.DB.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, "beginning transaction", err)
	}
	defer tx.Rollback()

	var maxPos int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(position), -1) FROM campaign_contacts WHERE campaign_id = ?`, campaignID).Scan(&maxPos); err != nil {
		return apperr.Wrap(apperr.KindStore, "reading max position", err)
	}

	stmt, err := tx.PrepareContext(ctx, `INSERT IGNORE INTO campaign_contacts (campaign_id, contact_id, position) VALUES (?, ?, ?)`)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, "preparing insert", err)
	}
	defer stmt.Close()

	for i, cid := range contactIDs {
		if _, err := stmt.ExecContext(ctx, campaignID, cid, maxPos+1+i); err != nil {
			return apperr.Wrap(apperr.KindStore, "inserting campaign contact", err)
		}
	}
	return tx.Commit()
}

func (r *Repository) SetCampaignStatus(ctx context.Context, id int64, status string) error {
	const q = `UPDATE campaigns SET status = ?, updated_at = NOW() WHERE id = ?`
	_, err := r.conn.DB.ExecContext(ctx, q, status, id)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, "updating campaign status", err)
	}
	return nil
}

func (r *Repository) AdvanceCampaignCursor(ctx context.Context, id int64, newCursor int) error {
	const q = `UPDATE campaigns SET cursor = ? WHERE id = ? AND cursor < ?`
	_, err := r.conn.DB.ExecContext(ctx, q, newCursor, id, newCursor)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, "advancing campaign cursor", err)
	}
	return nil
}

// ListCampaigns returns every campaign regardless of status, including
// draft, completed and cancelled ones that ListActiveCampaigns omits.
func (r *Repository) ListCampaigns(ctx context.Context) ([]Campaign, error) {
	const q = `SELECT id FROM campaigns ORDER BY id`
	rows, err := r.conn.DB.QueryContext(ctx, q)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "listing campaigns", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(apperr.KindStore, "scanning campaign id", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	out := make([]Campaign, 0, len(ids))
	for _, id := range ids {
		c, err := r.GetCampaign(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

func (r *Repository) ListActiveCampaigns(ctx context.Context) ([]Campaign, error) {
	const q = `SELECT id FROM campaigns WHERE status IN (?, ?)`
	rows, err := r.conn.DB.QueryContext(ctx, q, CampaignActive, CampaignPaused)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "listing active campaigns", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Wrap(apperr.KindStore, "scanning campaign id", err)
		}
		ids = append(ids, id)
	}
	rows.Close()

	out := make([]Campaign, 0, len(ids))
	for _, id := range ids {
		c, err := r.GetCampaign(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, *c)
	}
	return out, nil
}

// --- Call ----------------------------------------------------------

// UpsertCall is idempotent on call_sid; concurrent upserts for the same
// callSid serialize through MySQL's row lock on the unique index and
// converge to one row.
func (r *Repository) UpsertCall(ctx context.Context, c *Call) (*Call, error) {
	const q = `INSERT INTO calls (call_sid, conversation_id, campaign_id, contact_id, from_number, to_number,
	           direction, status, answered_by, start_time, attempt_number)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	           ON DUPLICATE KEY UPDATE
	               conversation_id = IF(VALUES(conversation_id) <> '', VALUES(conversation_id), conversation_id),
	               status = VALUES(status)`
	if c.Status == "" {
		c.Status = CallQueued
	}
	if c.StartTime.IsZero() {
		c.StartTime = time.Now().UTC()
	}
	_, err := r.conn.DB.ExecContext(ctx, q, c.CallSid, c.ConversationID, nullableID(c.CampaignID), nullableID(c.ContactID),
		c.From, c.To, c.Direction, c.Status, c.AnsweredBy, c.StartTime, c.AttemptNumber)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "upserting call", err)
	}
	return r.GetCallBySid(ctx, c.CallSid)
}

func nullableID(id int64) interface{} {
	if id == 0 {
		return nil
	}
	return id
}

func (r *Repository) GetCallBySid(ctx context.Context, callSid string) (*Call, error) {
	const q = `SELECT id, call_sid, conversation_id, COALESCE(campaign_id,0), COALESCE(contact_id,0),
	           from_number, to_number, direction, status, answered_by, start_time, answer_time, end_time,
	           duration_seconds, terminated_by, termination_reason, attempt_number
	           FROM calls WHERE call_sid = ?`
	var c Call
	err := r.conn.DB.QueryRowContext(ctx, q, callSid).Scan(
		&c.ID, &c.CallSid, &c.ConversationID, &c.CampaignID, &c.ContactID,
		&c.From, &c.To, &c.Direction, &c.Status, &c.AnsweredBy, &c.StartTime, &c.AnswerTime, &c.EndTime,
		&c.DurationSeconds, &c.TerminatedBy, &c.TerminationReason, &c.AttemptNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("call %s not found", callSid)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "querying call", err)
	}
	return &c, nil
}

func (r *Repository) UpdateCallStatus(ctx context.Context, callSid, status, answeredBy string) error {
	const q = `UPDATE calls SET status = ?, answered_by = IF(? <> '', ?, answered_by) WHERE call_sid = ?`
	_, err := r.conn.DB.ExecContext(ctx, q, status, answeredBy, answeredBy, callSid)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, "updating call status", err)
	}
	return nil
}

// FinalizeCall sets the terminal fields exactly once per call, per the
// single-writer termination contract enforced upstream by C10.
func (r *Repository) FinalizeCall(ctx context.Context, callSid, status, terminatedBy, reason string, endTime time.Time, duration int) error {
	const q = `UPDATE calls SET status = ?, terminated_by = IF(terminated_by = '', ?, terminated_by),
	           termination_reason = IF(termination_reason = '', ?, termination_reason),
	           end_time = ?, duration_seconds = ?
	           WHERE call_sid = ?`
	_, err := r.conn.DB.ExecContext(ctx, q, status, terminatedBy, reason, endTime, duration, callSid)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, "finalizing call", err)
	}
	return nil
}

// ListCalls filters by status and campaignID when set, and by
// start_time falling within [from, to] when either bound is non-zero.
func (r *Repository) ListCalls(ctx context.Context, status string, campaignID int64, from, to time.Time, limit, offset int) ([]Call, error) {
	q := `SELECT id, call_sid, conversation_id, COALESCE(campaign_id,0), COALESCE(contact_id,0),
	      from_number, to_number, direction, status, answered_by, start_time, answer_time, end_time,
	      duration_seconds, terminated_by, termination_reason, attempt_number
	      FROM calls WHERE 1=1`
	var args []interface{}
	if status != "" {
		q += " AND status = ?"
		args = append(args, status)
	}
	if campaignID != 0 {
		q += " AND campaign_id = ?"
		args = append(args, campaignID)
	}
	if !from.IsZero() {
		q += " AND start_time >= ?"
		args = append(args, from)
	}
	if !to.IsZero() {
		q += " AND start_time <= ?"
		args = append(args, to)
	}
	q += " ORDER BY id DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := r.conn.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "listing calls", err)
	}
	defer rows.Close()

	var out []Call
	for rows.Next() {
		var c Call
		if err := rows.Scan(&c.ID, &c.CallSid, &c.ConversationID, &c.CampaignID, &c.ContactID,
			&c.From, &c.To, &c.Direction, &c.Status, &c.AnsweredBy, &c.StartTime, &c.AnswerTime, &c.EndTime,
			&c.DurationSeconds, &c.TerminatedBy, &c.TerminationReason, &c.AttemptNumber); err != nil {
			return nil, apperr.Wrap(apperr.KindStore, "scanning call", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// LatestCallsByContact returns, for every contact that has at least one
// Call row in campaignID, that contact's most recently created Call —
// the row the Scheduler's retry logic inspects to decide whether a
// contact is still owed a retry attempt.
func (r *Repository) LatestCallsByContact(ctx context.Context, campaignID int64) (map[int64]Call, error) {
	const q = `SELECT c.id, c.call_sid, c.conversation_id, COALESCE(c.campaign_id,0), COALESCE(c.contact_id,0),
	           c.from_number, c.to_number, c.direction, c.status, c.answered_by, c.start_time, c.answer_time, c.end_time,
	           c.duration_seconds, c.terminated_by, c.termination_reason, c.attempt_number
	           FROM calls c
	           INNER JOIN (SELECT contact_id, MAX(id) AS max_id FROM calls WHERE campaign_id = ? GROUP BY contact_id) m
	             ON c.id = m.max_id`
	rows, err := r.conn.DB.QueryContext(ctx, q, campaignID)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "listing latest calls by contact", err)
	}
	defer rows.Close()

	out := make(map[int64]Call)
	for rows.Next() {
		var c Call
		if err := rows.Scan(&c.ID, &c.CallSid, &c.ConversationID, &c.CampaignID, &c.ContactID,
			&c.From, &c.To, &c.Direction, &c.Status, &c.AnsweredBy, &c.StartTime, &c.AnswerTime, &c.EndTime,
			&c.DurationSeconds, &c.TerminatedBy, &c.TerminationReason, &c.AttemptNumber); err != nil {
			return nil, apperr.Wrap(apperr.KindStore, "scanning latest call", err)
		}
		out[c.ContactID] = c
	}
	return out, rows.Err()
}

func (r *Repository) CountInProgress(ctx context.Context, campaignID int64) (int, error) {
	const q = `SELECT COUNT(*) FROM calls WHERE campaign_id = ? AND status IN (?, ?, ?, ?)`
	var n int
	err := r.conn.DB.QueryRowContext(ctx, q, campaignID, CallQueued, CallInitiated, CallRinging, CallInProgress).Scan(&n)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStore, "counting in-progress calls", err)
	}
	return n, nil
}

// CountActiveCallsTotal counts in-flight calls across every campaign,
// for the dashboard-wide active_calls heartbeat.
func (r *Repository) CountActiveCallsTotal(ctx context.Context) (int, error) {
	const q = `SELECT COUNT(*) FROM calls WHERE status IN (?, ?, ?, ?)`
	var n int
	err := r.conn.DB.QueryRowContext(ctx, q, CallQueued, CallInitiated, CallRinging, CallInProgress).Scan(&n)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStore, "counting active calls", err)
	}
	return n, nil
}

// DeleteCallCascade removes a Call and its Recordings, TranscriptMessages
// and CallEvents as one transaction; a partial failure rolls everything
// back, leaving no orphans either way.
func (r *Repository) DeleteCallCascade(ctx context.Context, callSid string) error {
	tx, err := r.conn.DB.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, "beginning transaction", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"call_events", "transcript_messages", "recordings", "calls"} {
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s WHERE call_sid = ?", table), callSid); err != nil {
			return apperr.Wrap(apperr.KindStore, "deleting from "+table, err)
		}
	}
	return tx.Commit()
}

// --- Recording -------------------------------------------------------

func (r *Repository) UpsertRecording(ctx context.Context, rec *Recording) error {
	const q = `INSERT INTO recordings (recording_sid, call_sid, status, url, duration_seconds, channels,
	           processing_status, transcription_status)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	           ON DUPLICATE KEY UPDATE status = VALUES(status), url = VALUES(url),
	               duration_seconds = VALUES(duration_seconds), processing_status = VALUES(processing_status),
	               transcription_status = VALUES(transcription_status)`
	_, err := r.conn.DB.ExecContext(ctx, q, rec.RecordingSid, rec.CallSid, rec.Status, rec.URL,
		rec.DurationSeconds, rec.Channels, rec.ProcessingStatus, rec.TranscriptionStatus)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, "upserting recording", err)
	}
	return nil
}

func (r *Repository) GetRecording(ctx context.Context, recordingSid string) (*Recording, error) {
	const q = `SELECT id, recording_sid, call_sid, status, url, duration_seconds, channels,
	           processing_status, transcription_status FROM recordings WHERE recording_sid = ?`
	var rec Recording
	err := r.conn.DB.QueryRowContext(ctx, q, recordingSid).Scan(&rec.ID, &rec.RecordingSid, &rec.CallSid,
		&rec.Status, &rec.URL, &rec.DurationSeconds, &rec.Channels, &rec.ProcessingStatus, &rec.TranscriptionStatus)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.NotFound("recording %s not found", recordingSid)
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "querying recording", err)
	}
	return &rec, nil
}

// --- TranscriptMessage -------------------------------------------------

// AppendTranscriptMessage atomically allocates the next per-call sequence
// number and inserts the message. When externalID is non-empty the insert
// is at-most-once per (callSid, source, externalID).
func (r *Repository) AppendTranscriptMessage(ctx context.Context, callSid, role, text string, offsetSeconds float64, source, externalID string) (int, error) {
	tx, err := r.conn.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStore, "beginning transaction", err)
	}
	defer tx.Rollback()

	if externalID != "" {
		var existing int
		err := tx.QueryRowContext(ctx,
			`SELECT sequence FROM transcript_messages WHERE call_sid = ? AND source = ? AND external_id = ?`,
			callSid, source, externalID).Scan(&existing)
		if err == nil {
			return existing, tx.Commit()
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return 0, apperr.Wrap(apperr.KindStore, "checking transcript dedup", err)
		}
	}

	var seq int
	err = tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) + 1 FROM transcript_messages WHERE call_sid = ? FOR UPDATE`, callSid).Scan(&seq)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStore, "allocating sequence", err)
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO transcript_messages (call_sid, sequence, role, text, offset_seconds, source, external_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		callSid, seq, role, text, offsetSeconds, source, externalID)
	if err != nil {
		return 0, apperr.Wrap(apperr.KindStore, "inserting transcript message", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, apperr.Wrap(apperr.KindStore, "committing transcript insert", err)
	}
	return seq, nil
}

// ReplaceFinalizedTranscript atomically swaps in the agent's authoritative
// transcript. Realtime messages already written are retained for audit;
// the finalized section is renumbered starting after the highest existing
// sequence so the append-only invariant on sequence numbers still holds.
func (r *Repository) ReplaceFinalizedTranscript(ctx context.Context, callSid string, messages []TranscriptMessage) error {
	tx, err := r.conn.DB.BeginTx(ctx, nil)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, "beginning transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM transcript_messages WHERE call_sid = ? AND source = ?`, callSid, SourceFinalized); err != nil {
		return apperr.Wrap(apperr.KindStore, "clearing finalized transcript", err)
	}

	var seq int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM transcript_messages WHERE call_sid = ?`, callSid).Scan(&seq); err != nil {
		return apperr.Wrap(apperr.KindStore, "reading current sequence", err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO transcript_messages (call_sid, sequence, role, text, offset_seconds, source, external_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, "preparing finalized insert", err)
	}
	defer stmt.Close()

	for _, m := range messages {
		seq++
		if _, err := stmt.ExecContext(ctx, callSid, seq, m.Role, m.Text, m.OffsetSeconds, SourceFinalized, m.ExternalID); err != nil {
			return apperr.Wrap(apperr.KindStore, "inserting finalized message", err)
		}
	}
	return tx.Commit()
}

func (r *Repository) ListTranscript(ctx context.Context, callSid string) ([]TranscriptMessage, error) {
	const q = `SELECT id, call_sid, sequence, role, text, offset_seconds, source, external_id, created_at
	           FROM transcript_messages WHERE call_sid = ? ORDER BY sequence`
	rows, err := r.conn.DB.QueryContext(ctx, q, callSid)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "listing transcript", err)
	}
	defer rows.Close()
	var out []TranscriptMessage
	for rows.Next() {
		var m TranscriptMessage
		if err := rows.Scan(&m.ID, &m.CallSid, &m.Sequence, &m.Role, &m.Text, &m.OffsetSeconds, &m.Source, &m.ExternalID, &m.CreatedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindStore, "scanning transcript message", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// --- CallEvent -----------------------------------------------------

// RecordEvent enqueues an append-only CallEvent through the batcher so
// high-frequency bridge events don't each cost a round trip.
func (r *Repository) RecordEvent(callSid, eventType, payload, source string) {
	r.batcher.Enqueue(CallEvent{CallSid: callSid, EventType: eventType, Payload: payload, Source: source, CreatedAt: time.Now().UTC()})
}

func (r *Repository) ListEvents(ctx context.Context, callSid string) ([]CallEvent, error) {
	const q = `SELECT id, call_sid, event_type, payload, source, created_at FROM call_events WHERE call_sid = ? ORDER BY created_at`
	rows, err := r.conn.DB.QueryContext(ctx, q, callSid)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindStore, "listing events", err)
	}
	defer rows.Close()
	var out []CallEvent
	for rows.Next() {
		var e CallEvent
		if err := rows.Scan(&e.ID, &e.CallSid, &e.EventType, &e.Payload, &e.Source, &e.CreatedAt); err != nil {
			return nil, apperr.Wrap(apperr.KindStore, "scanning event", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// --- DeleteCampaign cascades to its Calls, which cascade further. -----

func (r *Repository) DeleteCampaignCascade(ctx context.Context, campaignID int64) error {
	rows, err := r.conn.DB.QueryContext(context.Background(), `SELECT call_sid FROM calls WHERE campaign_id = ?`, campaignID)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, "listing campaign calls", err)
	}
	var sids []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			rows.Close()
			return apperr.Wrap(apperr.KindStore, "scanning call sid", err)
		}
		sids = append(sids, s)
	}
	rows.Close()

	for _, sid := range sids {
		if err := r.DeleteCallCascade(ctx, sid); err != nil {
			return err
		}
	}
	_, err = r.conn.DB.ExecContext(ctx, `DELETE FROM campaign_contacts WHERE campaign_id = ?`, campaignID)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, "deleting campaign contacts", err)
	}
	_, err = r.conn.DB.ExecContext(ctx, `DELETE FROM campaigns WHERE id = ?`, campaignID)
	if err != nil {
		return apperr.Wrap(apperr.KindStore, "deleting campaign", err)
	}
	return nil
}
