package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"

	"orchestro/internal/logging"
)

// TaskFilter narrows ListTasks results. Zero values mean "any".
type TaskFilter struct {
	Status      Status
	Category    string
	UserStoryID string
	UserStories bool // only tasks with is_user_story = true
}

// TaskUpdate is a partial update. Nil fields are left unchanged.
type TaskUpdate struct {
	Title         *string
	Description   *string
	Status        *Status
	Dependencies  *[]string
	Assignee      *string
	Priority      *string
	Tags          *[]string
	Category      *string
	StoryMetadata *StoryMetadata
	Metadata      *TaskMetadata

	// DerivedStatus marks the status change as a system-driven refresh of a
	// user story. It bypasses the transition machine and the dependency
	// gate; otherwise natural refresh paths such as done -> todo on
	// sub-task reversion would be blocked.
	DerivedStatus bool
}

// UserStoryDeleteResult reports what delete_user_story removed, or why it
// refused.
type UserStoryDeleteResult struct {
	DeletedStory       *Task    `json:"deleted_story,omitempty"`
	DeletedSubtasks    []*Task  `json:"deleted_subtasks,omitempty"`
	CompletedCount     int      `json:"completed_count,omitempty"`
	ExternalDependents []string `json:"external_dependents,omitempty"`
}

// PreservedTask explains why safe_delete_tasks_by_status kept a task.
type PreservedTask struct {
	ID                   string   `json:"id"`
	Title                string   `json:"title"`
	Reason               string   `json:"reason"`
	CompletionPercentage *float64 `json:"completion_percentage,omitempty"`
	DoneTasks            *int     `json:"done_tasks,omitempty"`
	TotalTasks           *int     `json:"total_tasks,omitempty"`
}

// SafeDeleteResult is the outcome of safe_delete_tasks_by_status.
type SafeDeleteResult struct {
	DeletedIDs []string        `json:"deleted_ids"`
	Preserved  []PreservedTask `json:"preserved"`
}

// CreateTask inserts a task and its dependency edges in one transaction.
// On a missing dependency or a cycle the whole insert rolls back and no
// task remains. The creation event (task_created or user_story_created)
// is written to the event queue in the same transaction.
func (s *Store) CreateTask(t *Task, deps []string) error {
	return s.createTask(t, deps, true)
}

// CreateTaskNoEvent inserts a task like CreateTask but queues no creation
// event. Story decomposition uses it for the story task so the single
// user_story_created event can carry the sub-task count, which is only
// known once the whole batch is persisted.
func (s *Store) CreateTaskNoEvent(t *Task, deps []string) error {
	return s.createTask(t, deps, false)
}

func (s *Store) createTask(t *Task, deps []string, emitCreated bool) error {
	timer := logging.StartTimer(logging.CategoryStore, "CreateTask")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(t.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if t.IsUserStory && t.UserStoryID != "" {
		return fmt.Errorf("%w: a user story cannot belong to another user story", ErrValidation)
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = StatusBacklog
	}
	if !ValidStatus(t.Status) {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, t.Status)
	}

	now := nowUTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	return s.inTx(func(tx *sql.Tx) error {
		if t.UserStoryID != "" {
			parent, err := getTaskTx(tx, t.UserStoryID)
			if err != nil {
				return fmt.Errorf("%w: user story %s", ErrNotFound, t.UserStoryID)
			}
			if !parent.IsUserStory {
				return fmt.Errorf("%w: %s is not a user story", ErrValidation, t.UserStoryID)
			}
		}

		if err := insertTaskTx(tx, t); err != nil {
			return err
		}
		if len(deps) > 0 {
			if err := replaceDepsTx(tx, t.ID, deps); err != nil {
				return err
			}
		}

		if !emitCreated {
			return nil
		}
		eventType := EventTaskCreated
		if t.IsUserStory {
			eventType = EventUserStoryCreated
		}
		return emitTx(tx, now, EventDraft{Type: eventType, Payload: map[string]any{
			"task_id": t.ID,
			"title":   t.Title,
			"status":  t.Status,
		}})
	})
}

// GetTask loads one task by id.
func (s *Store) GetTask(id string) (*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRow(taskSelect+" WHERE id = ?", id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	return t, err
}

// ListTasks returns tasks matching the filter, newest first.
func (s *Store) ListTasks(filter TaskFilter) ([]*Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := taskSelect
	var conds []string
	var args []any
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, filter.Category)
	}
	if filter.UserStoryID != "" {
		conds = append(conds, "user_story_id = ?")
		args = append(args, filter.UserStoryID)
	}
	if filter.UserStories {
		conds = append(conds, "is_user_story = 1")
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC, id"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// SubTasks returns every task linked to the given user story.
func (s *Store) SubTasks(storyID string) ([]*Task, error) {
	return s.ListTasks(TaskFilter{UserStoryID: storyID})
}

// UpdateTask applies a partial update inside one transaction. Status
// changes are validated against the transition machine and the dependency
// completion gate; dependency replacement re-runs existence and cycle
// checks. Returns the updated task and a changes record listing only the
// fields that changed. Events (task_updated with the changes record, and
// status_transition when status changed) are written in the same
// transaction; no events are written when nothing changed.
func (s *Store) UpdateTask(id string, upd TaskUpdate) (*Task, map[string]any, error) {
	timer := logging.StartTimer(logging.CategoryStore, "UpdateTask")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	var updated *Task
	changes := make(map[string]any)

	err := s.inTx(func(tx *sql.Tx) error {
		t, err := getTaskTx(tx, id)
		if err != nil {
			return err
		}

		if upd.Status != nil && *upd.Status != t.Status {
			to := *upd.Status
			if !ValidStatus(to) {
				return fmt.Errorf("%w: unknown status %q", ErrValidation, to)
			}
			if !upd.DerivedStatus {
				if !ValidTransition(t.Status, to) {
					return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
				}
				if to == StatusInProgress {
					if err := depsDoneTx(tx, id); err != nil {
						return err
					}
				}
			}
			changes["status"] = map[string]any{"from": t.Status, "to": to}
			t.Status = to
		}

		if upd.Title != nil && *upd.Title != t.Title {
			if strings.TrimSpace(*upd.Title) == "" {
				return fmt.Errorf("%w: title is required", ErrValidation)
			}
			changes["title"] = *upd.Title
			t.Title = *upd.Title
		}
		if upd.Description != nil && *upd.Description != t.Description {
			changes["description"] = *upd.Description
			t.Description = *upd.Description
		}
		if upd.Assignee != nil && *upd.Assignee != t.Assignee {
			changes["assignee"] = *upd.Assignee
			t.Assignee = *upd.Assignee
		}
		if upd.Priority != nil && *upd.Priority != t.Priority {
			changes["priority"] = *upd.Priority
			t.Priority = *upd.Priority
		}
		if upd.Category != nil && *upd.Category != t.Category {
			changes["category"] = *upd.Category
			t.Category = *upd.Category
		}
		if upd.Tags != nil {
			changes["tags"] = *upd.Tags
			t.Tags = *upd.Tags
		}
		if upd.StoryMetadata != nil {
			changes["story_metadata"] = true
			t.StoryMetadata = upd.StoryMetadata
		}
		if upd.Metadata != nil {
			changes["metadata"] = true
			t.Metadata = upd.Metadata
		}
		if upd.Dependencies != nil {
			if err := replaceDepsTx(tx, id, *upd.Dependencies); err != nil {
				return err
			}
			changes["dependencies"] = *upd.Dependencies
		}

		if len(changes) == 0 {
			updated = t
			return nil
		}

		now := nowUTC()
		t.UpdatedAt = now
		if err := writeTaskTx(tx, t); err != nil {
			return err
		}
		updated = t

		var drafts []EventDraft
		if sc, ok := changes["status"]; ok {
			m := sc.(map[string]any)
			drafts = append(drafts, EventDraft{Type: EventStatusTransition, Payload: map[string]any{
				"task_id": id,
				"from":    m["from"],
				"to":      m["to"],
				"derived": upd.DerivedStatus,
			}})
		}
		drafts = append(drafts, EventDraft{Type: EventTaskUpdated, Payload: map[string]any{
			"task_id": id,
			"changes": changes,
		}})
		return emitTx(tx, now, drafts...)
	})
	if err != nil {
		return nil, nil, err
	}
	return updated, changes, nil
}

// ReplaceTaskDeps swaps the task's dependency set atomically.
func (s *Store) ReplaceTaskDeps(id string, deps []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(func(tx *sql.Tx) error {
		if _, err := getTaskTx(tx, id); err != nil {
			return err
		}
		if err := replaceDepsTx(tx, id, deps); err != nil {
			return err
		}
		return emitTx(tx, nowUTC(), EventDraft{Type: EventDependencyAdded, Payload: map[string]any{
			"task_id":      id,
			"dependencies": deps,
		}})
	})
}

// Dependencies returns the ids the task depends on.
func (s *Store) Dependencies(id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryIDs(s.db, `SELECT depends_on_id FROM task_dependencies WHERE task_id = ? ORDER BY depends_on_id`, id)
}

// Dependents returns the ids of tasks that depend on this one.
func (s *Store) Dependents(id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return queryIDs(s.db, `SELECT task_id FROM task_dependencies WHERE depends_on_id = ? ORDER BY task_id`, id)
}

// DeleteTask removes a task, its dependency rows, resource edges, and
// learnings. Fails with ErrHasDependents if any other task depends on it,
// or if the task is a user story with sub-tasks still attached. Deleting a
// populated story goes through DeleteUserStory, which handles the cascade.
func (s *Store) DeleteTask(id string) error {
	timer := logging.StartTimer(logging.CategoryStore, "DeleteTask")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(func(tx *sql.Tx) error {
		t, err := getTaskTx(tx, id)
		if err != nil {
			return err
		}
		dependents, err := dependentsTx(tx, id)
		if err != nil {
			return err
		}
		if len(dependents) > 0 {
			return fmt.Errorf("%w: %s is required by %s", ErrHasDependents, id, strings.Join(dependents, ", "))
		}
		if t.IsUserStory {
			subtasks, err := subTasksTx(tx, id)
			if err != nil {
				return err
			}
			if len(subtasks) > 0 {
				return fmt.Errorf("%w: user story %s has %d sub-tasks, use delete_user_story",
					ErrHasDependents, id, len(subtasks))
			}
		}
		if err := deleteTaskCascadeTx(tx, id); err != nil {
			return err
		}
		return emitTx(tx, nowUTC(), EventDraft{Type: EventTaskDeleted, Payload: map[string]any{
			"task_id": id,
			"title":   t.Title,
		}})
	})
}

// DeleteUserStory removes a user story and its sub-tasks atomically.
// Refuses when sub-tasks are done (unless force) or when tasks outside the
// story depend on a sub-task (force does not override).
func (s *Store) DeleteUserStory(id string, force bool) (*UserStoryDeleteResult, error) {
	timer := logging.StartTimer(logging.CategoryStore, "DeleteUserStory")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	res := &UserStoryDeleteResult{}
	err := s.inTx(func(tx *sql.Tx) error {
		story, err := getTaskTx(tx, id)
		if err != nil {
			return err
		}
		if !story.IsUserStory {
			return fmt.Errorf("%w: %s is not a user story", ErrValidation, id)
		}

		subtasks, err := subTasksTx(tx, id)
		if err != nil {
			return err
		}

		doneCount := 0
		for _, st := range subtasks {
			if st.Status == StatusDone {
				doneCount++
			}
		}
		if doneCount > 0 && !force {
			res.CompletedCount = doneCount
			return fmt.Errorf("%w: %d sub-tasks are done", ErrHasCompletedWork, doneCount)
		}

		inStory := map[string]bool{id: true}
		for _, st := range subtasks {
			inStory[st.ID] = true
		}
		var external []string
		seen := map[string]bool{}
		for _, st := range subtasks {
			dependents, err := dependentsTx(tx, st.ID)
			if err != nil {
				return err
			}
			for _, dep := range dependents {
				if !inStory[dep] && !seen[dep] {
					external = append(external, dep)
					seen[dep] = true
				}
			}
		}
		if len(external) > 0 {
			res.ExternalDependents = external
			return fmt.Errorf("%w: %s", ErrExternalDependents, strings.Join(external, ", "))
		}

		for _, st := range subtasks {
			if err := deleteTaskCascadeTx(tx, st.ID); err != nil {
				return err
			}
		}
		if err := deleteTaskCascadeTx(tx, id); err != nil {
			return err
		}

		res.DeletedStory = story
		res.DeletedSubtasks = subtasks
		return emitTx(tx, nowUTC(), EventDraft{Type: EventUserStoryDeleted, Payload: map[string]any{
			"story_id":         id,
			"deleted_subtasks": len(subtasks),
		}})
	})
	if err != nil {
		return res, err
	}
	return res, nil
}

// SafeDeleteTasksByStatus deletes every task with the given status except
// those the per-row rules preserve: user stories with completed sub-tasks,
// their sub-tasks, and tasks with external dependents. Decisions are made
// against pre-operation state; each delete is atomic.
func (s *Store) SafeDeleteTasksByStatus(status Status) (*SafeDeleteResult, error) {
	timer := logging.StartTimer(logging.CategoryStore, "SafeDeleteTasksByStatus")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !ValidStatus(status) {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, status)
	}

	result := &SafeDeleteResult{DeletedIDs: []string{}, Preserved: []PreservedTask{}}
	err := s.inTx(func(tx *sql.Tx) error {
		rows, err := tx.Query(taskSelect+" WHERE status = ? ORDER BY created_at, id", string(status))
		if err != nil {
			return fmt.Errorf("failed to list candidates: %w", err)
		}
		candidates := []*Task{}
		for rows.Next() {
			t, err := scanTask(rows)
			if err != nil {
				rows.Close()
				return err
			}
			candidates = append(candidates, t)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		// Stories with completed work protect themselves and their sub-tasks.
		protectedStories := map[string]*StoryStats{}
		for _, t := range candidates {
			if !t.IsUserStory {
				continue
			}
			stats, err := storyStatsQ(tx, t.ID)
			if err != nil {
				return err
			}
			if stats.Done > 0 {
				protectedStories[t.ID] = stats
			}
		}

		// Dependents are snapshotted before any delete so that removing one
		// candidate cannot unblock another in the same pass.
		dependentsOf := map[string][]string{}
		for _, t := range candidates {
			dependents, err := dependentsTx(tx, t.ID)
			if err != nil {
				return err
			}
			dependentsOf[t.ID] = dependents
		}

		now := nowUTC()
		for _, t := range candidates {
			if stats, ok := protectedStories[t.ID]; ok {
				pct := Round2(float64(stats.Done) / float64(stats.Total) * 100)
				done, total := stats.Done, stats.Total
				result.Preserved = append(result.Preserved, PreservedTask{
					ID:                   t.ID,
					Title:                t.Title,
					Reason:               "has completed work",
					CompletionPercentage: &pct,
					DoneTasks:            &done,
					TotalTasks:           &total,
				})
				continue
			}
			if t.UserStoryID != "" {
				if _, ok := protectedStories[t.UserStoryID]; ok {
					result.Preserved = append(result.Preserved, PreservedTask{
						ID:     t.ID,
						Title:  t.Title,
						Reason: "parent story has completed work",
					})
					continue
				}
			}
			if len(dependentsOf[t.ID]) > 0 {
				result.Preserved = append(result.Preserved, PreservedTask{
					ID:     t.ID,
					Title:  t.Title,
					Reason: "has external dependents",
				})
				continue
			}

			if err := deleteTaskCascadeTx(tx, t.ID); err != nil {
				return err
			}
			if err := emitTx(tx, now, EventDraft{Type: EventTaskDeleted, Payload: map[string]any{
				"task_id": t.ID,
				"title":   t.Title,
				"bulk":    true,
			}}); err != nil {
				return err
			}
			result.DeletedIDs = append(result.DeletedIDs, t.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	logging.Store("Safe delete by status=%s: deleted=%d preserved=%d",
		status, len(result.DeletedIDs), len(result.Preserved))
	return result, nil
}

// --- transaction helpers ---

const taskSelect = `
	SELECT id, project_id, title, description, status, assignee, priority,
	       tags, category, is_user_story, user_story_id, story_metadata,
	       metadata, created_at, updated_at
	FROM tasks`

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(r rowScanner) (*Task, error) {
	var (
		t             Task
		status        string
		tags          string
		isUserStory   int
		userStoryID   sql.NullString
		storyMetadata sql.NullString
		metadata      sql.NullString
		createdAt     string
		updatedAt     string
	)
	err := r.Scan(&t.ID, &t.ProjectID, &t.Title, &t.Description, &status,
		&t.Assignee, &t.Priority, &tags, &t.Category, &isUserStory,
		&userStoryID, &storyMetadata, &metadata, &createdAt, &updatedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan task: %w", err)
	}
	t.Status = Status(status)
	t.IsUserStory = isUserStory != 0
	if userStoryID.Valid {
		t.UserStoryID = userStoryID.String
	}
	if tags != "" {
		if err := json.Unmarshal([]byte(tags), &t.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags: %w", err)
		}
	}
	if storyMetadata.Valid && storyMetadata.String != "" {
		var sm StoryMetadata
		if err := json.Unmarshal([]byte(storyMetadata.String), &sm); err != nil {
			return nil, fmt.Errorf("failed to decode story metadata: %w", err)
		}
		t.StoryMetadata = &sm
	}
	if metadata.Valid && metadata.String != "" {
		var md TaskMetadata
		if err := json.Unmarshal([]byte(metadata.String), &md); err != nil {
			return nil, fmt.Errorf("failed to decode metadata: %w", err)
		}
		t.Metadata = &md
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)
	return &t, nil
}

func getTaskTx(tx *sql.Tx, id string) (*Task, error) {
	t, err := scanTask(tx.QueryRow(taskSelect+" WHERE id = ?", id))
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: task %s", ErrNotFound, id)
	}
	return t, err
}

func taskColumns(t *Task) ([]any, error) {
	tags, err := json.Marshal(emptyIfNil(t.Tags))
	if err != nil {
		return nil, fmt.Errorf("failed to encode tags: %w", err)
	}
	var storyMetadata, metadata sql.NullString
	if t.StoryMetadata != nil {
		b, err := json.Marshal(t.StoryMetadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode story metadata: %w", err)
		}
		storyMetadata = sql.NullString{String: string(b), Valid: true}
	}
	if t.Metadata != nil {
		b, err := json.Marshal(t.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode metadata: %w", err)
		}
		metadata = sql.NullString{String: string(b), Valid: true}
	}
	var userStoryID sql.NullString
	if t.UserStoryID != "" {
		userStoryID = sql.NullString{String: t.UserStoryID, Valid: true}
	}
	return []any{
		t.ID, t.ProjectID, t.Title, t.Description, string(t.Status),
		t.Assignee, t.Priority, string(tags), t.Category,
		boolToInt(t.IsUserStory), userStoryID, storyMetadata, metadata,
		formatTime(t.CreatedAt), formatTime(t.UpdatedAt),
	}, nil
}

func insertTaskTx(tx *sql.Tx, t *Task) error {
	cols, err := taskColumns(t)
	if err != nil {
		return err
	}
	_, err = tx.Exec(`
		INSERT INTO tasks (id, project_id, title, description, status,
			assignee, priority, tags, category, is_user_story, user_story_id,
			story_metadata, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, cols...)
	if err != nil {
		return fmt.Errorf("failed to insert task: %w", err)
	}
	return nil
}

func writeTaskTx(tx *sql.Tx, t *Task) error {
	cols, err := taskColumns(t)
	if err != nil {
		return err
	}
	// id is both the first placeholder set member and the WHERE argument
	args := append(cols[1:], t.ID)
	_, err = tx.Exec(`
		UPDATE tasks SET project_id = ?, title = ?, description = ?,
			status = ?, assignee = ?, priority = ?, tags = ?, category = ?,
			is_user_story = ?, user_story_id = ?, story_metadata = ?,
			metadata = ?, created_at = ?, updated_at = ?
		WHERE id = ?`, args...)
	if err != nil {
		return fmt.Errorf("failed to update task: %w", err)
	}
	return nil
}

// replaceDepsTx validates then swaps a task's dependency edges:
// delete-then-insert under the caller's transaction.
func replaceDepsTx(tx *sql.Tx, taskID string, deps []string) error {
	for _, dep := range deps {
		if dep == taskID {
			return fmt.Errorf("%w: task %s cannot depend on itself", ErrCycle, taskID)
		}
		var one int
		err := tx.QueryRow(`SELECT 1 FROM tasks WHERE id = ?`, dep).Scan(&one)
		if err == sql.ErrNoRows {
			return fmt.Errorf("%w: dependency %s", ErrMissingDependency, dep)
		}
		if err != nil {
			return fmt.Errorf("failed to check dependency: %w", err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM task_dependencies WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("failed to clear dependencies: %w", err)
	}

	if err := wouldCycleTx(tx, taskID, deps); err != nil {
		return err
	}

	for _, dep := range deps {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO task_dependencies (task_id, depends_on_id) VALUES (?, ?)`,
			taskID, dep); err != nil {
			return fmt.Errorf("failed to insert dependency: %w", err)
		}
	}
	return nil
}

// wouldCycleTx walks depends_on edges from each new dependency; reaching
// taskID means the addition closes a cycle.
func wouldCycleTx(tx *sql.Tx, taskID string, deps []string) error {
	visited := map[string]bool{}
	stack := append([]string{}, deps...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if cur == taskID {
			return fmt.Errorf("%w: through task %s", ErrCycle, taskID)
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true

		next, err := queryIDsTx(tx, `SELECT depends_on_id FROM task_dependencies WHERE task_id = ?`, cur)
		if err != nil {
			return err
		}
		stack = append(stack, next...)
	}
	return nil
}

// depsDoneTx fails with ErrDependenciesNotDone unless every dependency of
// the task has status done.
func depsDoneTx(tx *sql.Tx, taskID string) error {
	rows, err := tx.Query(`
		SELECT d.depends_on_id, t.status
		FROM task_dependencies d JOIN tasks t ON t.id = d.depends_on_id
		WHERE d.task_id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("failed to check dependencies: %w", err)
	}
	defer rows.Close()

	var notDone []string
	for rows.Next() {
		var id, status string
		if err := rows.Scan(&id, &status); err != nil {
			return fmt.Errorf("failed to scan dependency: %w", err)
		}
		if Status(status) != StatusDone {
			notDone = append(notDone, id)
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(notDone) > 0 {
		return fmt.Errorf("%w: %s", ErrDependenciesNotDone, strings.Join(notDone, ", "))
	}
	return nil
}

func dependentsTx(tx *sql.Tx, id string) ([]string, error) {
	return queryIDsTx(tx, `SELECT task_id FROM task_dependencies WHERE depends_on_id = ? ORDER BY task_id`, id)
}

func subTasksTx(tx *sql.Tx, storyID string) ([]*Task, error) {
	rows, err := tx.Query(taskSelect+" WHERE user_story_id = ? ORDER BY created_at, id", storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sub-tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// deleteTaskCascadeTx removes the task row plus everything it owns:
// dependency rows in both directions, resource edges, and learnings.
func deleteTaskCascadeTx(tx *sql.Tx, id string) error {
	stmts := []string{
		`DELETE FROM task_dependencies WHERE task_id = ? OR depends_on_id = ?`,
		`DELETE FROM resource_edges WHERE task_id = ?`,
		`DELETE FROM learnings WHERE task_id = ?`,
		`DELETE FROM tasks WHERE id = ?`,
	}
	args := [][]any{{id, id}, {id}, {id}, {id}}
	for i, stmt := range stmts {
		if _, err := tx.Exec(stmt, args[i]...); err != nil {
			return fmt.Errorf("failed to cascade delete task %s: %w", id, err)
		}
	}
	return nil
}

// StoryStats counts sub-task statuses for one user story.
type StoryStats struct {
	Total      int
	Done       int
	InProgress int
	Todo       int
	Backlog    int
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	Query(query string, args ...any) (*sql.Rows, error)
}

func storyStatsQ(q queryer, storyID string) (*StoryStats, error) {
	rows, err := q.Query(`SELECT status, COUNT(*) FROM tasks WHERE user_story_id = ? GROUP BY status`, storyID)
	if err != nil {
		return nil, fmt.Errorf("failed to count sub-tasks: %w", err)
	}
	defer rows.Close()

	stats := &StoryStats{}
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, fmt.Errorf("failed to scan stats: %w", err)
		}
		stats.Total += count
		switch Status(status) {
		case StatusDone:
			stats.Done = count
		case StatusInProgress:
			stats.InProgress = count
		case StatusTodo:
			stats.Todo = count
		case StatusBacklog:
			stats.Backlog = count
		}
	}
	return stats, rows.Err()
}

// GetStoryStats counts sub-task statuses for one user story.
func (s *Store) GetStoryStats(storyID string) (*StoryStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return storyStatsQ(s.db, storyID)
}

// ExternalDependents returns ids of tasks outside the story that depend on
// any of its sub-tasks.
func (s *Store) ExternalDependents(storyID string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return queryIDs(s.db, `
		SELECT DISTINCT d.task_id
		FROM task_dependencies d
		JOIN tasks sub ON sub.id = d.depends_on_id
		LEFT JOIN tasks dep ON dep.id = d.task_id
		WHERE sub.user_story_id = ?
		  AND d.task_id != ?
		  AND (dep.user_story_id IS NULL OR dep.user_story_id != ?)
		ORDER BY d.task_id`, storyID, storyID, storyID)
}

func queryIDs(db *sql.DB, query string, args ...any) ([]string, error) {
	rows, err := db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()
	return collectIDs(rows)
}

func queryIDsTx(tx *sql.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()
	return collectIDs(rows)
}

func collectIDs(rows *sql.Rows) ([]string, error) {
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func emptyIfNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

// Round2 rounds to two decimal places; percentages across the engine are
// reported this way.
func Round2(f float64) float64 {
	return math.Round(f*100) / 100
}
