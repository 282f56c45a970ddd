package task

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestro/internal/cache"
	"orchestro/internal/store"
)

func newTestEngine(t *testing.T) (*Engine, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "orchestro.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	c, err := cache.New(64)
	require.NoError(t, err)
	return NewEngine(s, c, 0), s
}

func createTask(t *testing.T, e *Engine, in CreateInput) *store.Task {
	t.Helper()
	task, err := e.Create(in)
	require.NoError(t, err)
	return task
}

func moveTo(t *testing.T, e *Engine, id string, path ...store.Status) {
	t.Helper()
	for i := range path {
		st := path[i]
		_, _, err := e.Update(id, store.TaskUpdate{Status: &st})
		require.NoError(t, err)
	}
}

func storyWithSubs(t *testing.T, e *Engine, n int) (*store.Task, []*store.Task) {
	t.Helper()
	story := createTask(t, e, CreateInput{Title: "story", IsUserStory: true})
	subs := make([]*store.Task, n)
	for i := range subs {
		subs[i] = createTask(t, e, CreateInput{
			Title:       "sub",
			UserStoryID: story.ID,
		})
	}
	return story, subs
}

func TestCreateRoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)

	created := createTask(t, e, CreateInput{
		Title:       "wire the cache",
		Description: "hook invalidation into writes",
		Priority:    store.PriorityHigh,
		Tags:        []string{"infra"},
	})

	got, err := e.Get(created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Title, got.Title)
	assert.Equal(t, created.Description, got.Description)
	assert.Equal(t, store.StatusBacklog, got.Status)
	assert.Equal(t, []string{"infra"}, got.Tags)
}

func TestCreateWithCycleLeavesNothing(t *testing.T) {
	e, s := newTestEngine(t)

	_, err := e.Create(CreateInput{Title: "broken", Dependencies: []string{"ghost"}})
	require.ErrorIs(t, err, store.ErrMissingDependency)

	tasks, err := s.ListTasks(store.TaskFilter{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestListSeesWritesImmediately(t *testing.T) {
	e, _ := newTestEngine(t)

	createTask(t, e, CreateInput{Title: "first"})
	first, err := e.List(store.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, first, 1)

	// the cached list must be dropped by the second create
	createTask(t, e, CreateInput{Title: "second"})
	second, err := e.List(store.TaskFilter{})
	require.NoError(t, err)
	assert.Len(t, second, 2)
}

func TestStoryStatusDerivation(t *testing.T) {
	e, _ := newTestEngine(t)
	story, subs := storyWithSubs(t, e, 3)

	check := func(want store.Status) {
		t.Helper()
		got, err := e.Get(story.ID)
		require.NoError(t, err)
		assert.Equal(t, want, got.Status)
	}

	check(store.StatusBacklog)

	moveTo(t, e, subs[0].ID, store.StatusTodo, store.StatusInProgress)
	check(store.StatusInProgress)

	// one done, two backlog: below threshold, no activity left
	moveTo(t, e, subs[0].ID, store.StatusDone)
	check(store.StatusBacklog)

	moveTo(t, e, subs[1].ID, store.StatusTodo)
	check(store.StatusTodo)

	// 2/3 done is still below 0.80
	moveTo(t, e, subs[1].ID, store.StatusInProgress, store.StatusDone)
	check(store.StatusBacklog)

	moveTo(t, e, subs[2].ID, store.StatusTodo, store.StatusInProgress, store.StatusDone)
	check(store.StatusDone)

	// reopening a sub-task re-derives without tripping the machine
	moveTo(t, e, subs[2].ID, store.StatusInProgress)
	check(store.StatusInProgress)
}

func TestStoryThresholdConfigurable(t *testing.T) {
	s, err := store.Open(filepath.Join(t.TempDir(), "orchestro.db"))
	require.NoError(t, err)
	defer s.Close()
	c, err := cache.New(64)
	require.NoError(t, err)
	e := NewEngine(s, c, 0.5)

	story, subs := storyWithSubs(t, e, 2)
	moveTo(t, e, subs[0].ID, store.StatusTodo, store.StatusInProgress, store.StatusDone)

	got, err := e.Get(story.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusDone, got.Status)
}

func TestDeleteSubTaskRederivesStory(t *testing.T) {
	e, _ := newTestEngine(t)
	story, subs := storyWithSubs(t, e, 2)

	moveTo(t, e, subs[0].ID, store.StatusTodo)
	got, err := e.Get(story.ID)
	require.NoError(t, err)
	require.Equal(t, store.StatusTodo, got.Status)

	require.NoError(t, e.Delete(subs[0].ID))
	got, err = e.Get(story.ID)
	require.NoError(t, err)
	assert.Equal(t, store.StatusBacklog, got.Status)
}

func TestUserStoryHealth(t *testing.T) {
	e, _ := newTestEngine(t)
	story, subs := storyWithSubs(t, e, 3)
	moveTo(t, e, subs[0].ID, store.StatusTodo, store.StatusInProgress, store.StatusDone)
	outsider := createTask(t, e, CreateInput{Title: "outsider", Dependencies: []string{subs[1].ID}})

	health, err := e.UserStoryHealth()
	require.NoError(t, err)
	require.Len(t, health, 1)

	row := health[0]
	assert.Equal(t, story.ID, row.ID)
	assert.Equal(t, 3, row.TotalSubtasks)
	assert.Equal(t, 1, row.DoneCount)
	assert.Equal(t, 2, row.BacklogCount)
	assert.Equal(t, 33.33, row.CompletionPercentage)
	assert.Equal(t, store.StatusBacklog, row.SuggestedStatus)
	assert.False(t, row.StatusMismatch)
	// done work plus an external dependent both block deletion
	assert.False(t, row.SafeToDelete)
	_ = outsider
}

func TestUserStoryHealthSafeToDelete(t *testing.T) {
	e, _ := newTestEngine(t)
	storyWithSubs(t, e, 2)

	health, err := e.UserStoryHealth()
	require.NoError(t, err)
	require.Len(t, health, 1)
	assert.True(t, health[0].SafeToDelete)
}

func TestGetTaskContext(t *testing.T) {
	e, s := newTestEngine(t)

	dep := createTask(t, e, CreateInput{Title: "dep"})
	task := createTask(t, e, CreateInput{Title: "center", Dependencies: []string{dep.ID}})
	leaf := createTask(t, e, CreateInput{Title: "leaf", Dependencies: []string{task.ID}})
	require.NoError(t, s.InsertFeedback(&store.Learning{
		TaskID: task.ID, Context: "ctx", Action: "act", Type: store.FeedbackSuccess, Pattern: "p",
	}))

	ctx, err := e.GetTaskContext(task.ID)
	require.NoError(t, err)
	require.Len(t, ctx.Dependencies, 1)
	assert.Equal(t, dep.ID, ctx.Dependencies[0].ID)
	assert.Equal(t, []string{leaf.ID}, ctx.Dependents)
	require.Len(t, ctx.Learnings, 1)
}

func TestGetTaskContextForStory(t *testing.T) {
	e, _ := newTestEngine(t)
	story, subs := storyWithSubs(t, e, 2)

	ctx, err := e.GetTaskContext(story.ID)
	require.NoError(t, err)
	assert.Len(t, ctx.SubTasks, 2)

	subCtx, err := e.GetTaskContext(subs[0].ID)
	require.NoError(t, err)
	require.NotNil(t, subCtx.Story)
	assert.Equal(t, story.ID, subCtx.Story.ID)
}

func TestSafeDeleteByStatusThroughEngine(t *testing.T) {
	e, _ := newTestEngine(t)
	story, subs := storyWithSubs(t, e, 3)
	moveTo(t, e, subs[0].ID, store.StatusTodo, store.StatusInProgress, store.StatusDone)
	loner := createTask(t, e, CreateInput{Title: "loner"})

	// the done sub-task pushed no derived change (1/3 < 0.8, backlog), so
	// the story itself is still a backlog candidate
	res, err := e.SafeDeleteByStatus(store.StatusBacklog)
	require.NoError(t, err)
	assert.Contains(t, res.DeletedIDs, loner.ID)

	preservedIDs := map[string]bool{}
	for _, p := range res.Preserved {
		preservedIDs[p.ID] = true
	}
	assert.True(t, preservedIDs[story.ID])

	// cache no longer serves the deleted task
	_, err = e.Get(loner.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestDeleteUserStoryThroughEngine(t *testing.T) {
	e, _ := newTestEngine(t)
	story, subs := storyWithSubs(t, e, 2)

	res, err := e.DeleteUserStory(story.ID, false)
	require.NoError(t, err)
	assert.Len(t, res.DeletedSubtasks, 2)

	_, err = e.Get(subs[0].ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}
