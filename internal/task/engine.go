// Package task implements the task engine: CRUD with status-machine and
// dependency validation, user-story status derivation, the safe-delete
// policy, and the story health view. All reads ride the cache; every write
// invalidates the task key family before returning.
package task

import (
	"fmt"

	"orchestro/internal/cache"
	"orchestro/internal/logging"
	"orchestro/internal/store"
)

// DefaultDoneThreshold is the sub-task completion ratio at which a user
// story is considered done.
const DefaultDoneThreshold = 0.80

// Engine coordinates task operations over the store and cache.
type Engine struct {
	store         *store.Store
	cache         *cache.Cache
	doneThreshold float64
}

// NewEngine builds an engine. A non-positive threshold falls back to the
// default.
func NewEngine(s *store.Store, c *cache.Cache, doneThreshold float64) *Engine {
	if doneThreshold <= 0 || doneThreshold > 1 {
		doneThreshold = DefaultDoneThreshold
	}
	return &Engine{store: s, cache: c, doneThreshold: doneThreshold}
}

// CreateInput is the argument record for Create.
type CreateInput struct {
	Title         string
	Description   string
	Status        store.Status
	Dependencies  []string
	Assignee      string
	Priority      string
	Tags          []string
	Category      string
	IsUserStory   bool
	UserStoryID   string
	StoryMetadata *store.StoryMetadata
}

// Create inserts a task with its dependencies, refreshes the parent story's
// derived status when applicable, and invalidates the task cache family.
func (e *Engine) Create(in CreateInput) (*store.Task, error) {
	t := &store.Task{
		Title:         in.Title,
		Description:   in.Description,
		Status:        in.Status,
		Assignee:      in.Assignee,
		Priority:      in.Priority,
		Tags:          in.Tags,
		Category:      in.Category,
		IsUserStory:   in.IsUserStory,
		UserStoryID:   in.UserStoryID,
		StoryMetadata: in.StoryMetadata,
	}
	if err := e.store.CreateTask(t, in.Dependencies); err != nil {
		return nil, err
	}
	if t.UserStoryID != "" {
		if err := e.RefreshStoryStatus(t.UserStoryID); err != nil {
			logging.Get(logging.CategoryTasks).Warn("Story refresh after create failed: %v", err)
		}
	}
	e.invalidate(t.ID, t.UserStoryID)
	return t, nil
}

// Update applies a partial update, re-derives the parent story's status on
// status changes, and returns the updated task with the changes record.
func (e *Engine) Update(id string, upd store.TaskUpdate) (*store.Task, map[string]any, error) {
	t, changes, err := e.store.UpdateTask(id, upd)
	if err != nil {
		return nil, nil, err
	}
	if _, statusChanged := changes["status"]; statusChanged && t.UserStoryID != "" {
		if err := e.RefreshStoryStatus(t.UserStoryID); err != nil {
			logging.Get(logging.CategoryTasks).Warn("Story refresh after update failed: %v", err)
		}
	}
	if len(changes) > 0 {
		e.invalidate(id, t.UserStoryID)
	}
	return t, changes, nil
}

// Get loads one task through the cache.
func (e *Engine) Get(id string) (*store.Task, error) {
	v, err := e.cache.GetOrSet("task:"+id, cache.DefaultTTL, func() (any, error) {
		return e.store.GetTask(id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*store.Task), nil
}

// List returns tasks matching the filter through the cache.
func (e *Engine) List(filter store.TaskFilter) ([]*store.Task, error) {
	key := fmt.Sprintf("tasks:list:%s:%s:%s:%t",
		filter.Status, filter.Category, filter.UserStoryID, filter.UserStories)
	v, err := e.cache.GetOrSet(key, cache.DefaultTTL, func() (any, error) {
		return e.store.ListTasks(filter)
	})
	if err != nil {
		return nil, err
	}
	return v.([]*store.Task), nil
}

// UserStories lists every user-story task.
func (e *Engine) UserStories() ([]*store.Task, error) {
	return e.List(store.TaskFilter{UserStories: true})
}

// SubTasks lists the sub-tasks of a user story.
func (e *Engine) SubTasks(storyID string) ([]*store.Task, error) {
	return e.List(store.TaskFilter{UserStoryID: storyID})
}

// Delete removes a task, then re-derives its parent story's status.
func (e *Engine) Delete(id string) error {
	t, err := e.store.GetTask(id)
	if err != nil {
		return err
	}
	if err := e.store.DeleteTask(id); err != nil {
		return err
	}
	if t.UserStoryID != "" {
		if err := e.RefreshStoryStatus(t.UserStoryID); err != nil {
			logging.Get(logging.CategoryTasks).Warn("Story refresh after delete failed: %v", err)
		}
	}
	e.invalidate(id, t.UserStoryID)
	return nil
}

// DeleteUserStory removes a story and its sub-tasks per the protection
// rules (completed work, external dependents).
func (e *Engine) DeleteUserStory(id string, force bool) (*store.UserStoryDeleteResult, error) {
	res, err := e.store.DeleteUserStory(id, force)
	if err != nil {
		return res, err
	}
	e.invalidate(id, "")
	return res, nil
}

// SafeDeleteByStatus bulk-deletes tasks with the given status, preserving
// protected rows.
func (e *Engine) SafeDeleteByStatus(status store.Status) (*store.SafeDeleteResult, error) {
	res, err := e.store.SafeDeleteTasksByStatus(status)
	if err != nil {
		return nil, err
	}
	e.cache.InvalidatePattern("task*")
	return res, nil
}

// RefreshStoryStatus re-derives a user story's status from its sub-task
// composition. The derivation is idempotent and bypasses the transition
// machine; it never recurses into sub-tasks.
func (e *Engine) RefreshStoryStatus(storyID string) error {
	stats, err := e.store.GetStoryStats(storyID)
	if err != nil {
		return err
	}
	if stats.Total == 0 {
		return nil
	}

	derived := deriveStatus(stats, e.doneThreshold)
	story, err := e.store.GetTask(storyID)
	if err != nil {
		return err
	}
	if story.Status == derived {
		return nil
	}

	logging.Get(logging.CategoryTasks).Info("Story %s status %s -> %s (done=%d/%d)",
		storyID, story.Status, derived, stats.Done, stats.Total)
	_, _, err = e.store.UpdateTask(storyID, store.TaskUpdate{Status: &derived, DerivedStatus: true})
	if err != nil {
		return err
	}
	e.invalidate(storyID, "")
	return nil
}

// deriveStatus maps a sub-task status multiset to the story status.
// Done sub-tasks below the threshold do not count as activity on their own.
func deriveStatus(stats *store.StoryStats, threshold float64) store.Status {
	switch {
	case float64(stats.Done)/float64(stats.Total) >= threshold:
		return store.StatusDone
	case stats.InProgress > 0:
		return store.StatusInProgress
	case stats.Todo > 0:
		return store.StatusTodo
	default:
		return store.StatusBacklog
	}
}

// StoryHealth is the per-story row of the health view.
type StoryHealth struct {
	ID                   string       `json:"id"`
	Title                string       `json:"title"`
	CurrentStatus        store.Status `json:"current_status"`
	SuggestedStatus      store.Status `json:"suggested_status"`
	TotalSubtasks        int          `json:"total_subtasks"`
	DoneCount            int          `json:"done_count"`
	InProgressCount      int          `json:"in_progress_count"`
	TodoCount            int          `json:"todo_count"`
	BacklogCount         int          `json:"backlog_count"`
	CompletionPercentage float64      `json:"completion_percentage"`
	StatusMismatch       bool         `json:"status_mismatch"`
	SafeToDelete         bool         `json:"safe_to_delete"`
}

// UserStoryHealth reports derived-versus-stored status and deletability for
// every user story.
func (e *Engine) UserStoryHealth() ([]StoryHealth, error) {
	stories, err := e.store.ListTasks(store.TaskFilter{UserStories: true})
	if err != nil {
		return nil, err
	}

	health := make([]StoryHealth, 0, len(stories))
	for _, story := range stories {
		stats, err := e.store.GetStoryStats(story.ID)
		if err != nil {
			return nil, err
		}
		row := StoryHealth{
			ID:              story.ID,
			Title:           story.Title,
			CurrentStatus:   story.Status,
			SuggestedStatus: story.Status,
			TotalSubtasks:   stats.Total,
			DoneCount:       stats.Done,
			InProgressCount: stats.InProgress,
			TodoCount:       stats.Todo,
			BacklogCount:    stats.Backlog,
		}
		if stats.Total > 0 {
			row.SuggestedStatus = deriveStatus(stats, e.doneThreshold)
			row.CompletionPercentage = store.Round2(float64(stats.Done) / float64(stats.Total) * 100)
		}
		row.StatusMismatch = row.SuggestedStatus != story.Status

		external, err := e.store.ExternalDependents(story.ID)
		if err != nil {
			return nil, err
		}
		row.SafeToDelete = stats.Done == 0 && len(external) == 0
		health = append(health, row)
	}
	return health, nil
}

// TaskContext bundles a task with everything adjacent to it.
type TaskContext struct {
	Task         *store.Task      `json:"task"`
	Dependencies []*store.Task    `json:"dependencies"`
	Dependents   []string         `json:"dependents"`
	Story        *store.Task      `json:"story,omitempty"`
	SubTasks     []*store.Task    `json:"sub_tasks,omitempty"`
	Learnings    []store.Learning `json:"learnings,omitempty"`
}

// GetTaskContext loads a task, its dependency tasks, dependent ids, parent
// story or sub-tasks, and its recorded learnings.
func (e *Engine) GetTaskContext(id string) (*TaskContext, error) {
	t, err := e.store.GetTask(id)
	if err != nil {
		return nil, err
	}

	ctx := &TaskContext{Task: t, Dependencies: []*store.Task{}, Dependents: []string{}}
	depIDs, err := e.store.Dependencies(id)
	if err != nil {
		return nil, err
	}
	for _, depID := range depIDs {
		dep, err := e.store.GetTask(depID)
		if err != nil {
			return nil, err
		}
		ctx.Dependencies = append(ctx.Dependencies, dep)
	}

	dependents, err := e.store.Dependents(id)
	if err != nil {
		return nil, err
	}
	ctx.Dependents = dependents

	if t.UserStoryID != "" {
		if story, err := e.store.GetTask(t.UserStoryID); err == nil {
			ctx.Story = story
		}
	}
	if t.IsUserStory {
		subs, err := e.store.SubTasks(t.ID)
		if err != nil {
			return nil, err
		}
		ctx.SubTasks = subs
	}

	learnings, err := e.store.SimilarLearnings(store.SimilarQuery{TaskID: id, Limit: 10})
	if err != nil {
		return nil, err
	}
	ctx.Learnings = learnings
	return ctx, nil
}

// DoneThreshold exposes the configured completion ratio.
func (e *Engine) DoneThreshold() float64 {
	return e.doneThreshold
}

// invalidate drops the task key family after a write.
func (e *Engine) invalidate(id, storyID string) {
	e.cache.InvalidatePattern("tasks:*")
	e.cache.Invalidate("task:" + id)
	if storyID != "" {
		e.cache.Invalidate("task:" + storyID)
	}
}
