package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"orchestro/internal/logging"
)

// Event types published on the queue. Closed set.
const (
	EventTaskCreated           = "task_created"
	EventTaskUpdated           = "task_updated"
	EventTaskDeleted           = "task_deleted"
	EventFeedbackReceived      = "feedback_received"
	EventCodebaseAnalyzed      = "codebase_analyzed"
	EventDecisionMade          = "decision_made"
	EventGuardianIntervention  = "guardian_intervention"
	EventCodeChanged           = "code_changed"
	EventStatusTransition      = "status_transition"
	EventUserStoryCreated      = "user_story_created"
	EventUserStoryDeleted      = "user_story_deleted"
	EventDependencyAdded       = "dependency_added"
	EventDependencyRemoved     = "dependency_removed"
	EventExecutionOrderChanged = "execution_order_changed"
	EventAutoAnalysisStarted   = "auto_analysis_started"
	EventTaskAnalysisPrepared  = "task_analysis_prepared"
	EventAutoAnalysisCompleted = "auto_analysis_completed"
)

// DefaultPurgeAge is how long processed events are retained.
const DefaultPurgeAge = 24 * time.Hour

// EventDraft is an event to be inserted in the same transaction as the
// entity write that caused it. The queue acts as a transactional outbox:
// a committed write and its events are never separated by a crash.
type EventDraft struct {
	Type    string
	Payload any
}

// emitTx inserts drafts in program order inside an open transaction.
func emitTx(tx *sql.Tx, now time.Time, drafts ...EventDraft) error {
	for _, d := range drafts {
		payload, err := json.Marshal(d.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal event payload: %w", err)
		}
		if d.Payload == nil {
			payload = []byte("{}")
		}
		if _, err := tx.Exec(
			`INSERT INTO event_queue (event_type, payload, processed, created_at) VALUES (?, ?, 0, ?)`,
			d.Type, string(payload), formatTime(now),
		); err != nil {
			return fmt.Errorf("failed to emit %s: %w", d.Type, err)
		}
	}
	return nil
}

// Emit appends a single event outside any entity transaction.
func (s *Store) Emit(eventType string, payload any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := s.inTx(func(tx *sql.Tx) error {
		return emitTx(tx, nowUTC(), EventDraft{Type: eventType, Payload: payload})
	})
	if err != nil {
		return err
	}
	logging.Get(logging.CategoryEvents).Debug("Emitted %s", eventType)
	return nil
}

// FetchUnprocessed returns the oldest unprocessed events, at most limit.
func (s *Store) FetchUnprocessed(limit int) ([]QueuedEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(`
		SELECT id, event_type, payload, processed, created_at, processed_at
		FROM event_queue
		WHERE processed = 0
		ORDER BY created_at ASC, id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch events: %w", err)
	}
	defer rows.Close()

	var events []QueuedEvent
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// MarkProcessed flips processed false -> true. Idempotent: marking an
// already-processed event is a no-op and keeps its original processed_at.
func (s *Store) MarkProcessed(id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE event_queue SET processed = 1, processed_at = ? WHERE id = ? AND processed = 0`,
		formatTime(nowUTC()), id)
	if err != nil {
		return fmt.Errorf("failed to mark event processed: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logging.Get(logging.CategoryEvents).Debug("Marked event %d processed", id)
	}
	return nil
}

// PurgeOldProcessed removes processed events older than the threshold and
// returns how many were deleted. Calling it twice is equivalent to once.
func (s *Store) PurgeOldProcessed(age time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if age <= 0 {
		age = DefaultPurgeAge
	}
	cutoff := formatTime(nowUTC().Add(-age))
	res, err := s.db.Exec(
		`DELETE FROM event_queue WHERE processed = 1 AND created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge events: %w", err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		logging.Get(logging.CategoryEvents).Info("Purged %d processed events older than %s", n, age)
	}
	return n, nil
}

// scanEvent reads one event row.
func scanEvent(rows *sql.Rows) (QueuedEvent, error) {
	var (
		e           QueuedEvent
		processed   int
		createdAt   string
		processedAt sql.NullString
	)
	if err := rows.Scan(&e.ID, &e.EventType, &e.Payload, &processed, &createdAt, &processedAt); err != nil {
		return e, fmt.Errorf("failed to scan event: %w", err)
	}
	e.Processed = processed != 0
	e.CreatedAt = parseTime(createdAt)
	if processedAt.Valid {
		t := parseTime(processedAt.String)
		e.ProcessedAt = &t
	}
	return e, nil
}
