package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"orchestro/internal/logging"
)

// SimilarQuery narrows similar-learning lookups.
type SimilarQuery struct {
	Context string
	TaskID  string
	Type    string
	Pattern string
	Limit   int
}

// TrendingPattern is a pattern ranked by recent activity.
type TrendingPattern struct {
	Pattern     string    `json:"pattern"`
	RecentCount int       `json:"recent_count"`
	Frequency   int       `json:"frequency"`
	SuccessRate float64   `json:"success_rate"`
	LastSeen    time.Time `json:"last_seen"`
}

// InsertFeedback records a learning and updates the pattern-frequency
// aggregate in the same transaction, appending feedback_received to the
// queue. A concurrent insert on the same pattern serialises at the
// pattern_frequency row.
func (s *Store) InsertFeedback(l *Learning) error {
	timer := logging.StartTimer(logging.CategoryStore, "InsertFeedback")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	if l.ID == "" {
		l.ID = uuid.New().String()
	}
	now := nowUTC()
	l.CreatedAt = now

	var counterCol string
	switch l.Type {
	case FeedbackSuccess:
		counterCol = "success_count"
	case FeedbackFailure:
		counterCol = "failure_count"
	case FeedbackImprovement:
		counterCol = "improvement_count"
	case "":
		counterCol = ""
	default:
		return fmt.Errorf("%w: unknown feedback type %q", ErrValidation, l.Type)
	}

	return s.inTx(func(tx *sql.Tx) error {
		tags, err := json.Marshal(emptyIfNil(l.Tags))
		if err != nil {
			return fmt.Errorf("failed to encode tags: %w", err)
		}
		var taskID sql.NullString
		if l.TaskID != "" {
			taskID = sql.NullString{String: l.TaskID, Valid: true}
		}
		if _, err := tx.Exec(`
			INSERT INTO learnings (id, task_id, context, action, result, lesson, type, pattern, tags, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			l.ID, taskID, l.Context, l.Action, l.Result, l.Lesson, l.Type,
			l.Pattern, string(tags), formatTime(now)); err != nil {
			return fmt.Errorf("failed to insert learning: %w", err)
		}

		if l.Pattern != "" {
			increment := ""
			if counterCol != "" {
				increment = fmt.Sprintf(", %s = %s + 1", counterCol, counterCol)
			}
			stmt := fmt.Sprintf(`
				INSERT INTO pattern_frequency (pattern, frequency, %s, first_seen, last_seen)
				VALUES (?, 1, 1, ?, ?)
				ON CONFLICT(pattern) DO UPDATE SET
					frequency = frequency + 1%s,
					last_seen = excluded.last_seen`,
				counterOrDefault(counterCol), increment)
			if counterCol == "" {
				stmt = `
				INSERT INTO pattern_frequency (pattern, frequency, first_seen, last_seen)
				VALUES (?, 1, ?, ?)
				ON CONFLICT(pattern) DO UPDATE SET
					frequency = frequency + 1,
					last_seen = excluded.last_seen`
			}
			if _, err := tx.Exec(stmt, l.Pattern, formatTime(now), formatTime(now)); err != nil {
				return fmt.Errorf("failed to update pattern frequency: %w", err)
			}
		}

		return emitTx(tx, now, EventDraft{Type: EventFeedbackReceived, Payload: map[string]any{
			"learning_id": l.ID,
			"task_id":     l.TaskID,
			"pattern":     l.Pattern,
			"type":        l.Type,
		}})
	})
}

func counterOrDefault(col string) string {
	if col == "" {
		return "success_count"
	}
	return col
}

// ListLearnings returns learnings newest first, at most limit.
func (s *Store) ListLearnings(limit int) ([]Learning, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(learningSelect+" ORDER BY created_at DESC, id LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list learnings: %w", err)
	}
	defer rows.Close()
	return collectLearnings(rows)
}

// SimilarLearnings substring-matches context/action/lesson against the
// sanitised query context, optionally filtered by exact task, type, and
// pattern. Newest first.
func (s *Store) SimilarLearnings(q SimilarQuery) ([]Learning, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if q.Limit <= 0 {
		q.Limit = 10
	}

	query := learningSelect
	var conds []string
	var args []any
	if needle := sanitizeLike(q.Context); needle != "" {
		conds = append(conds, `(context LIKE ? ESCAPE '\' OR action LIKE ? ESCAPE '\' OR lesson LIKE ? ESCAPE '\')`)
		like := "%" + needle + "%"
		args = append(args, like, like, like)
	}
	if q.TaskID != "" {
		conds = append(conds, "task_id = ?")
		args = append(args, q.TaskID)
	}
	if q.Type != "" {
		conds = append(conds, "type = ?")
		args = append(args, q.Type)
	}
	if q.Pattern != "" {
		conds = append(conds, "pattern = ?")
		args = append(args, q.Pattern)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, q.Limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query similar learnings: %w", err)
	}
	defer rows.Close()
	return collectLearnings(rows)
}

// sanitizeLike strips LIKE metacharacters and truncates the needle to 100
// characters to avoid query pathologies on huge contexts.
func sanitizeLike(s string) string {
	s = strings.TrimSpace(s)
	replacer := strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)
	s = replacer.Replace(s)
	runes := []rune(s)
	if len(runes) > 100 {
		s = string(runes[:100])
	}
	return s
}

// TopPatterns returns aggregates by frequency desc, ties broken by
// last_seen desc.
func (s *Store) TopPatterns(limit int) ([]PatternFrequency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(patternSelect+" ORDER BY frequency DESC, last_seen DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top patterns: %w", err)
	}
	defer rows.Close()
	return collectPatterns(rows)
}

// TrendingPatterns counts learnings per pattern inside the window, merges
// in the lifetime aggregates, and ranks by recent count then last_seen.
func (s *Store) TrendingPatterns(days, limit int) ([]TrendingPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if days <= 0 {
		days = 7
	}
	if limit <= 0 {
		limit = 10
	}
	cutoff := formatTime(nowUTC().Add(-time.Duration(days) * 24 * time.Hour))

	rows, err := s.db.Query(`
		SELECT l.pattern, COUNT(*) AS recent,
		       pf.frequency, pf.success_count, pf.last_seen
		FROM learnings l
		JOIN pattern_frequency pf ON pf.pattern = l.pattern
		WHERE l.pattern != '' AND l.created_at >= ?
		GROUP BY l.pattern
		ORDER BY recent DESC, pf.last_seen DESC
		LIMIT ?`, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query trending patterns: %w", err)
	}
	defer rows.Close()

	var trending []TrendingPattern
	for rows.Next() {
		var (
			t        TrendingPattern
			success  int
			lastSeen string
		)
		if err := rows.Scan(&t.Pattern, &t.RecentCount, &t.Frequency, &success, &lastSeen); err != nil {
			return nil, fmt.Errorf("failed to scan trending pattern: %w", err)
		}
		if t.Frequency > 0 {
			t.SuccessRate = Round2(float64(success) / float64(t.Frequency))
		}
		t.LastSeen = parseTime(lastSeen)
		trending = append(trending, t)
	}
	return trending, rows.Err()
}

// PatternStats loads the aggregate for one pattern. Returns ErrNotFound
// when the pattern has never been seen.
func (s *Store) PatternStats(pattern string) (*PatternFrequency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(patternSelect+" WHERE pattern = ?", pattern)
	pf, err := scanPattern(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: pattern %q", ErrNotFound, pattern)
	}
	if err != nil {
		return nil, err
	}
	return &pf, nil
}

// PatternsWithMinFrequency returns aggregates with frequency >= min.
func (s *Store) PatternsWithMinFrequency(min int) ([]PatternFrequency, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(patternSelect+" WHERE frequency >= ? ORDER BY frequency DESC", min)
	if err != nil {
		return nil, fmt.Errorf("failed to query patterns: %w", err)
	}
	defer rows.Close()
	return collectPatterns(rows)
}

const learningSelect = `
	SELECT id, task_id, context, action, result, lesson, type, pattern, tags, created_at
	FROM learnings`

func collectLearnings(rows *sql.Rows) ([]Learning, error) {
	var learnings []Learning
	for rows.Next() {
		var (
			l         Learning
			taskID    sql.NullString
			tags      string
			createdAt string
		)
		if err := rows.Scan(&l.ID, &taskID, &l.Context, &l.Action, &l.Result,
			&l.Lesson, &l.Type, &l.Pattern, &tags, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan learning: %w", err)
		}
		if taskID.Valid {
			l.TaskID = taskID.String
		}
		if tags != "" {
			if err := json.Unmarshal([]byte(tags), &l.Tags); err != nil {
				return nil, fmt.Errorf("failed to decode tags: %w", err)
			}
		}
		l.CreatedAt = parseTime(createdAt)
		learnings = append(learnings, l)
	}
	return learnings, rows.Err()
}

const patternSelect = `
	SELECT pattern, frequency, success_count, failure_count, improvement_count, first_seen, last_seen
	FROM pattern_frequency`

func scanPattern(r rowScanner) (PatternFrequency, error) {
	var pf PatternFrequency
	var firstSeen, lastSeen string
	err := r.Scan(&pf.Pattern, &pf.Frequency, &pf.SuccessCount, &pf.FailureCount,
		&pf.ImprovementCount, &firstSeen, &lastSeen)
	if err != nil {
		return pf, err
	}
	pf.FirstSeen = parseTime(firstSeen)
	pf.LastSeen = parseTime(lastSeen)
	return pf, nil
}

func collectPatterns(rows *sql.Rows) ([]PatternFrequency, error) {
	var patterns []PatternFrequency
	for rows.Next() {
		pf, err := scanPattern(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		patterns = append(patterns, pf)
	}
	return patterns, rows.Err()
}
