package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateTaskDefaults(t *testing.T) {
	s := newTestStore(t)

	task := mkTask(t, s, "add retry logic")
	require.NotEmpty(t, task.ID)
	assert.Equal(t, StatusBacklog, task.Status)
	assert.False(t, task.CreatedAt.IsZero())

	got, err := s.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, task.Title, got.Title)
	assert.Equal(t, StatusBacklog, got.Status)
}

func TestCreateTaskRequiresTitle(t *testing.T) {
	s := newTestStore(t)

	err := s.CreateTask(&Task{Title: "   "}, nil)
	require.ErrorIs(t, err, ErrValidation)
}

func TestCreateTaskMissingDependencyRollsBack(t *testing.T) {
	s := newTestStore(t)

	task := &Task{Title: "depends on nothing real"}
	err := s.CreateTask(task, []string{"no-such-id"})
	require.ErrorIs(t, err, ErrMissingDependency)

	// The insert must not survive the failed edge.
	_, err = s.GetTask(task.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestCreateTaskRejectsSelfDependency(t *testing.T) {
	s := newTestStore(t)

	task := &Task{ID: "fixed-id", Title: "self loop"}
	err := s.CreateTask(task, []string{"fixed-id"})
	require.ErrorIs(t, err, ErrCycle)
}

func TestReplaceDepsRejectsCycle(t *testing.T) {
	s := newTestStore(t)

	a := mkTask(t, s, "a")
	b := mkTask(t, s, "b", a.ID)
	c := mkTask(t, s, "c", b.ID)

	err := s.ReplaceTaskDeps(a.ID, []string{c.ID})
	require.ErrorIs(t, err, ErrCycle)

	// The original edge set is untouched after rollback.
	deps, err := s.Dependencies(a.ID)
	require.NoError(t, err)
	assert.Empty(t, deps)
}

func TestStatusTransitions(t *testing.T) {
	s := newTestStore(t)

	task := mkTask(t, s, "walk the machine")
	setStatus(t, s, task.ID, StatusTodo, StatusInProgress, StatusDone)

	got, err := s.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, got.Status)

	// done -> in_progress reopens
	setStatus(t, s, task.ID, StatusInProgress, StatusTodo, StatusBacklog)
}

func TestStatusTransitionRejected(t *testing.T) {
	s := newTestStore(t)

	task := mkTask(t, s, "no shortcuts")
	done := StatusDone
	_, _, err := s.UpdateTask(task.ID, TaskUpdate{Status: &done})
	require.ErrorIs(t, err, ErrInvalidTransition)

	got, err := s.GetTask(task.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusBacklog, got.Status)
}

func TestInProgressGatedOnDependencies(t *testing.T) {
	s := newTestStore(t)

	dep := mkTask(t, s, "blocker")
	task := mkTask(t, s, "blocked", dep.ID)
	setStatus(t, s, task.ID, StatusTodo)

	inProgress := StatusInProgress
	_, _, err := s.UpdateTask(task.ID, TaskUpdate{Status: &inProgress})
	require.ErrorIs(t, err, ErrDependenciesNotDone)

	setStatus(t, s, dep.ID, StatusTodo, StatusInProgress, StatusDone)
	setStatus(t, s, task.ID, StatusInProgress)
}

func TestDerivedStatusBypassesMachine(t *testing.T) {
	s := newTestStore(t)

	story := mkStory(t, s, "story")
	// backlog -> done is illegal for users but fine for derived refreshes
	done := StatusDone
	_, _, err := s.UpdateTask(story.ID, TaskUpdate{Status: &done, DerivedStatus: true})
	require.NoError(t, err)

	got, err := s.GetTask(story.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDone, got.Status)
}

func TestUpdateTaskReportsOnlyChangedFields(t *testing.T) {
	s := newTestStore(t)

	task := mkTask(t, s, "original")
	title := "renamed"
	priority := PriorityHigh
	_, changes, err := s.UpdateTask(task.ID, TaskUpdate{Title: &title, Priority: &priority})
	require.NoError(t, err)
	assert.Equal(t, "renamed", changes["title"])
	assert.Equal(t, PriorityHigh, changes["priority"])
	assert.NotContains(t, changes, "description")

	// A no-op update reports nothing and emits nothing.
	before, err := s.FetchUnprocessed(100)
	require.NoError(t, err)
	_, changes, err = s.UpdateTask(task.ID, TaskUpdate{Title: &title})
	require.NoError(t, err)
	assert.Empty(t, changes)
	after, err := s.FetchUnprocessed(100)
	require.NoError(t, err)
	assert.Len(t, after, len(before))
}

func TestDeleteTaskBlockedByDependents(t *testing.T) {
	s := newTestStore(t)

	dep := mkTask(t, s, "foundation")
	mkTask(t, s, "tower", dep.ID)

	err := s.DeleteTask(dep.ID)
	require.ErrorIs(t, err, ErrHasDependents)
}

func TestDeleteTaskRefusesStoryWithSubTasks(t *testing.T) {
	s := newTestStore(t)

	story := mkStory(t, s, "populated story")
	mkSubTask(t, s, story.ID, "first sub")
	sub := mkSubTask(t, s, story.ID, "second sub")

	err := s.DeleteTask(story.ID)
	require.ErrorIs(t, err, ErrHasDependents)

	// the story and its sub-task links are untouched
	_, err = s.GetTask(story.ID)
	require.NoError(t, err)
	got, err := s.GetTask(sub.ID)
	require.NoError(t, err)
	assert.Equal(t, story.ID, got.UserStoryID)

	// a story without sub-tasks is an ordinary delete
	empty := mkStory(t, s, "empty story")
	require.NoError(t, s.DeleteTask(empty.ID))
}

func TestDeleteTaskCascadesOwnedRows(t *testing.T) {
	s := newTestStore(t)

	dep := mkTask(t, s, "dep")
	task := mkTask(t, s, "goner", dep.ID)
	require.NoError(t, s.InsertFeedback(&Learning{
		TaskID: task.ID, Context: "ctx", Action: "act", Type: FeedbackSuccess,
	}))

	require.NoError(t, s.DeleteTask(task.ID))

	_, err := s.GetTask(task.ID)
	require.ErrorIs(t, err, ErrNotFound)
	deps, err := s.Dependents(dep.ID)
	require.NoError(t, err)
	assert.Empty(t, deps)
	learnings, err := s.SimilarLearnings(SimilarQuery{TaskID: task.ID})
	require.NoError(t, err)
	assert.Empty(t, learnings)
}

func TestDeleteUserStoryRefusesCompletedWork(t *testing.T) {
	s := newTestStore(t)

	story := mkStory(t, s, "story")
	sub := mkSubTask(t, s, story.ID, "finished sub")
	setStatus(t, s, sub.ID, StatusTodo, StatusInProgress, StatusDone)

	res, err := s.DeleteUserStory(story.ID, false)
	require.ErrorIs(t, err, ErrHasCompletedWork)
	assert.Equal(t, 1, res.CompletedCount)

	// force overrides the completed-work check
	res, err = s.DeleteUserStory(story.ID, true)
	require.NoError(t, err)
	require.NotNil(t, res.DeletedStory)
	assert.Len(t, res.DeletedSubtasks, 1)

	_, err = s.GetTask(sub.ID)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteUserStoryRefusesExternalDependents(t *testing.T) {
	s := newTestStore(t)

	story := mkStory(t, s, "story")
	sub := mkSubTask(t, s, story.ID, "sub")
	outsider := mkTask(t, s, "outsider", sub.ID)

	// force cannot override external dependents
	res, err := s.DeleteUserStory(story.ID, true)
	require.ErrorIs(t, err, ErrExternalDependents)
	assert.Equal(t, []string{outsider.ID}, res.ExternalDependents)

	_, err = s.GetTask(sub.ID)
	require.NoError(t, err)
}

func TestDeleteUserStoryAllowsInternalDependencies(t *testing.T) {
	s := newTestStore(t)

	story := mkStory(t, s, "story")
	a := mkSubTask(t, s, story.ID, "a")
	b := &Task{Title: "b", UserStoryID: story.ID}
	require.NoError(t, s.CreateTask(b, []string{a.ID}))

	res, err := s.DeleteUserStory(story.ID, false)
	require.NoError(t, err)
	assert.Len(t, res.DeletedSubtasks, 2)
}

func TestSafeDeletePreservesStoriesWithCompletedWork(t *testing.T) {
	s := newTestStore(t)

	story := mkStory(t, s, "protected story")
	done := mkSubTask(t, s, story.ID, "done sub")
	setStatus(t, s, done.ID, StatusTodo, StatusInProgress, StatusDone)
	backlogSub := mkSubTask(t, s, story.ID, "backlog sub")
	loner := mkTask(t, s, "plain backlog task")

	res, err := s.SafeDeleteTasksByStatus(StatusBacklog)
	require.NoError(t, err)

	assert.Equal(t, []string{loner.ID}, res.DeletedIDs)
	require.Len(t, res.Preserved, 2)

	byID := map[string]PreservedTask{}
	for _, p := range res.Preserved {
		byID[p.ID] = p
	}
	storyEntry := byID[story.ID]
	assert.Equal(t, "has completed work", storyEntry.Reason)
	require.NotNil(t, storyEntry.CompletionPercentage)
	assert.Equal(t, 50.0, *storyEntry.CompletionPercentage)
	assert.Equal(t, "parent story has completed work", byID[backlogSub.ID].Reason)

	_, err = s.GetTask(backlogSub.ID)
	require.NoError(t, err)
}

func TestSafeDeletePreservesTasksWithDependents(t *testing.T) {
	s := newTestStore(t)

	base := mkTask(t, s, "base")
	mkTask(t, s, "leaf", base.ID)

	res, err := s.SafeDeleteTasksByStatus(StatusBacklog)
	require.NoError(t, err)

	require.Len(t, res.Preserved, 1)
	assert.Equal(t, base.ID, res.Preserved[0].ID)
	assert.Equal(t, "has external dependents", res.Preserved[0].Reason)
	// the leaf itself was backlog with no dependents, so it goes
	assert.Len(t, res.DeletedIDs, 1)
}

func TestListTasksFilters(t *testing.T) {
	s := newTestStore(t)

	story := mkStory(t, s, "story")
	mkSubTask(t, s, story.ID, "sub")
	other := mkTask(t, s, "other")
	category := CategoryTestFix
	_, _, err := s.UpdateTask(other.ID, TaskUpdate{Category: &category})
	require.NoError(t, err)

	stories, err := s.ListTasks(TaskFilter{UserStories: true})
	require.NoError(t, err)
	require.Len(t, stories, 1)
	assert.Equal(t, story.ID, stories[0].ID)

	subs, err := s.SubTasks(story.ID)
	require.NoError(t, err)
	assert.Len(t, subs, 1)

	fixes, err := s.ListTasks(TaskFilter{Category: CategoryTestFix})
	require.NoError(t, err)
	require.Len(t, fixes, 1)
	assert.Equal(t, other.ID, fixes[0].ID)
}

func TestExternalDependents(t *testing.T) {
	s := newTestStore(t)

	story := mkStory(t, s, "story")
	sub := mkSubTask(t, s, story.ID, "sub")
	sibling := &Task{Title: "sibling", UserStoryID: story.ID}
	require.NoError(t, s.CreateTask(sibling, []string{sub.ID}))
	outsider := mkTask(t, s, "outsider", sub.ID)

	external, err := s.ExternalDependents(story.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{outsider.ID}, external)
}

func TestGetTaskNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.GetTask("missing")
	require.True(t, errors.Is(err, ErrNotFound))
}
