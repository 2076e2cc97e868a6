package store

import (
	"database/sql"
	"log"
	"strings"
	"time"
)

// EventBatcher buffers CallEvent writes and flushes them in a single
// parameterized multi-row INSERT on a fixed interval or when the buffer
// fills, grounded on apicall's LogBatcher. Unlike apicall's version,
// every value is bound as a placeholder argument: apicall built its
// UPDATE...CASE WHEN batch by concatenating row values directly into
// the SQL text, which is unsafe for any payload containing
// attacker-influenced content (a transcript snippet, a webhook body).
type EventBatcher struct {
	db       *sql.DB
	queue    chan CallEvent
	done     chan struct{}
	interval time.Duration
	maxBatch int
}

func NewEventBatcher(db *sql.DB) *EventBatcher {
	return &EventBatcher{
		db:       db,
		queue:    make(chan CallEvent, 2048),
		done:     make(chan struct{}),
		interval: 500 * time.Millisecond,
		maxBatch: 200,
	}
}

func (b *EventBatcher) Start() {
	go b.run()
}

func (b *EventBatcher) Stop() {
	close(b.done)
}

// Enqueue never blocks the caller on store latency; when the buffer is
// saturated the event is dropped and logged rather than stalling the
// bridge's event loop.
func (b *EventBatcher) Enqueue(e CallEvent) {
	select {
	case b.queue <- e:
	default:
		log.Printf("[Store] event queue full, dropping %s event for %s", e.EventType, e.CallSid)
	}
}

func (b *EventBatcher) run() {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()

	batch := make([]CallEvent, 0, b.maxBatch)
	for {
		select {
		case e := <-b.queue:
			batch = append(batch, e)
			if len(batch) >= b.maxBatch {
				b.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				b.flush(batch)
				batch = batch[:0]
			}
		case <-b.done:
			if len(batch) > 0 {
				b.flush(batch)
			}
			// Drain whatever arrived after the stop signal was sent.
			for {
				select {
				case e := <-b.queue:
					b.flush([]CallEvent{e})
				default:
					return
				}
			}
		}
	}
}

func (b *EventBatcher) flush(batch []CallEvent) {
	if len(batch) == 0 {
		return
	}

	var sb strings.Builder
	sb.WriteString("INSERT INTO call_events (call_sid, event_type, payload, source, created_at) VALUES ")
	args := make([]interface{}, 0, len(batch)*5)
	for i, e := range batch {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString("(?, ?, ?, ?, ?)")
		args = append(args, e.CallSid, e.EventType, e.Payload, e.Source, e.CreatedAt)
	}

	if _, err := b.db.Exec(sb.String(), args...); err != nil {
		log.Printf("[Store] failed to flush %d events: %v", len(batch), err)
	}
}
