package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "orchestro.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func mkTask(t *testing.T, s *Store, title string, deps ...string) *Task {
	t.Helper()
	task := &Task{Title: title}
	require.NoError(t, s.CreateTask(task, deps))
	return task
}

func mkStory(t *testing.T, s *Store, title string) *Task {
	t.Helper()
	story := &Task{Title: title, IsUserStory: true}
	require.NoError(t, s.CreateTask(story, nil))
	return story
}

func mkSubTask(t *testing.T, s *Store, storyID, title string) *Task {
	t.Helper()
	task := &Task{Title: title, UserStoryID: storyID}
	require.NoError(t, s.CreateTask(task, nil))
	return task
}

func setStatus(t *testing.T, s *Store, id string, path ...Status) {
	t.Helper()
	for i := range path {
		st := path[i]
		_, _, err := s.UpdateTask(id, TaskUpdate{Status: &st})
		require.NoError(t, err)
	}
}

func TestOpenCreatesSchema(t *testing.T) {
	s := newTestStore(t)

	stats, err := s.GetStats()
	require.NoError(t, err)
	for _, table := range []string{"tasks", "task_dependencies", "resource_nodes",
		"resource_edges", "learnings", "pattern_frequency", "event_queue"} {
		_, ok := stats[table]
		require.True(t, ok, "missing table %s", table)
	}
}

func TestReopenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orchestro.db")
	s, err := Open(path)
	require.NoError(t, err)
	mkTask(t, s, "survives reopen")
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	tasks, err := s.ListTasks(TaskFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	require.Equal(t, "survives reopen", tasks[0].Title)
}
