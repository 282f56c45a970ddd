package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpsertResourceNodeIdentity(t *testing.T) {
	s := newTestStore(t)

	first, err := s.UpsertResourceNode("file", "auth.go", "internal/auth/auth.go")
	require.NoError(t, err)
	again, err := s.UpsertResourceNode("file", "auth.go", "")
	require.NoError(t, err)

	assert.Equal(t, first.ID, again.ID)
	// empty path does not clobber the stored one
	assert.Equal(t, "internal/auth/auth.go", again.Path)

	moved, err := s.UpsertResourceNode("file", "auth.go", "internal/auth/v2/auth.go")
	require.NoError(t, err)
	assert.Equal(t, first.ID, moved.ID)
	assert.Equal(t, "internal/auth/v2/auth.go", moved.Path)

	other, err := s.UpsertResourceNode("component", "auth.go", "")
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, other.ID)
}

func sampleAnalysis(action string) *TaskAnalysis {
	return &TaskAnalysis{
		FilesToModify: []FileToModify{{Path: "internal/auth/auth.go", Reason: "add claims", Risk: "medium"}},
		Dependencies: []AnalysisDependency{
			{Type: "file", Name: "auth.go", Path: "internal/auth/auth.go", Action: action},
		},
		Risks: []AnalysisRisk{{Level: "medium", Description: "token format change"}},
	}
}

func TestApplyTaskAnalysisStoresRecordAndEdges(t *testing.T) {
	s := newTestStore(t)

	task := mkTask(t, s, "extend auth")
	require.NoError(t, s.ApplyTaskAnalysis(task.ID, sampleAnalysis(ActionModifies), nil))

	got, err := s.GetTask(task.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Metadata)
	require.NotNil(t, got.Metadata.Analysis)
	assert.False(t, got.Metadata.Analysis.AnalyzedAt.IsZero())
	assert.Len(t, got.Metadata.Analysis.FilesToModify, 1)

	nodes, edges, err := s.TaskResourceGraph(task.ID)
	require.NoError(t, err)
	require.Len(t, nodes, 1)
	require.Len(t, edges, 1)
	assert.Equal(t, ActionModifies, edges[0].Action)
	assert.Equal(t, "auth.go", edges[0].ResourceName)
}

func TestApplyTaskAnalysisReplacesEdges(t *testing.T) {
	s := newTestStore(t)

	task := mkTask(t, s, "evolving analysis")
	require.NoError(t, s.ApplyTaskAnalysis(task.ID, sampleAnalysis(ActionModifies), nil))

	second := &TaskAnalysis{Dependencies: []AnalysisDependency{
		{Type: "api", Name: "POST /login", Action: ActionCreates},
	}}
	require.NoError(t, s.ApplyTaskAnalysis(task.ID, second, nil))

	_, edges, err := s.TaskResourceGraph(task.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "POST /login", edges[0].ResourceName)
}

func TestApplyTaskAnalysisDefaultsActionToUses(t *testing.T) {
	s := newTestStore(t)

	task := mkTask(t, s, "implicit action")
	analysis := &TaskAnalysis{Dependencies: []AnalysisDependency{
		{Type: "model", Name: "User"},
	}}
	require.NoError(t, s.ApplyTaskAnalysis(task.ID, analysis, nil))

	_, edges, err := s.TaskResourceGraph(task.ID)
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, ActionUses, edges[0].Action)
}

func TestConflictCandidatesExcludeDoneTasks(t *testing.T) {
	s := newTestStore(t)

	mine := mkTask(t, s, "mine")
	active := mkTask(t, s, "active rival")
	finished := mkTask(t, s, "finished rival")

	require.NoError(t, s.ApplyTaskAnalysis(mine.ID, sampleAnalysis(ActionModifies), nil))
	require.NoError(t, s.ApplyTaskAnalysis(active.ID, sampleAnalysis(ActionModifies), nil))
	require.NoError(t, s.ApplyTaskAnalysis(finished.ID, sampleAnalysis(ActionModifies), nil))
	setStatus(t, s, finished.ID, StatusTodo, StatusInProgress, StatusDone)

	cands, err := s.ConflictCandidates(mine.ID)
	require.NoError(t, err)
	require.Len(t, cands, 1)
	assert.Equal(t, active.ID, cands[0].TaskID)
	assert.Equal(t, ActionModifies, cands[0].MyAction)
	assert.Equal(t, ActionModifies, cands[0].OtherAction)
}

func TestApplyTaskAnalysisConflictEventsOrdering(t *testing.T) {
	s := newTestStore(t)

	a := mkTask(t, s, "a")
	b := mkTask(t, s, "b")
	require.NoError(t, s.ApplyTaskAnalysis(a.ID, sampleAnalysis(ActionModifies), nil))

	before, err := s.FetchUnprocessed(50)
	require.NoError(t, err)

	classifier := func(cands []ConflictCandidate) []EventDraft {
		var drafts []EventDraft
		for _, c := range cands {
			drafts = append(drafts, EventDraft{Type: EventGuardianIntervention, Payload: map[string]any{
				"task_id": c.TaskID,
			}})
		}
		return drafts
	}
	require.NoError(t, s.ApplyTaskAnalysis(b.ID, sampleAnalysis(ActionModifies), classifier))

	events, err := s.FetchUnprocessed(50)
	require.NoError(t, err)
	fresh := events[len(before):]

	// the intervention emitted for b's save precedes its analysis_completed update
	require.Equal(t, []string{EventGuardianIntervention, EventTaskUpdated}, eventTypes(fresh))
}

func TestResourceUsage(t *testing.T) {
	s := newTestStore(t)

	a := mkTask(t, s, "a")
	b := mkTask(t, s, "b")
	require.NoError(t, s.ApplyTaskAnalysis(a.ID, sampleAnalysis(ActionModifies), nil))
	require.NoError(t, s.ApplyTaskAnalysis(b.ID, sampleAnalysis(ActionUses), nil))

	node, err := s.GetResourceNode(mustNodeID(t, s))
	require.NoError(t, err)

	got, uses, err := s.ResourceUsage(node.ID)
	require.NoError(t, err)
	assert.Equal(t, "auth.go", got.Name)
	require.Len(t, uses, 2)
}

func mustNodeID(t *testing.T, s *Store) string {
	t.Helper()
	node, err := s.UpsertResourceNode("file", "auth.go", "")
	require.NoError(t, err)
	return node.ID
}

func TestApplyTaskAnalysisUnknownTask(t *testing.T) {
	s := newTestStore(t)

	err := s.ApplyTaskAnalysis("missing", sampleAnalysis(ActionUses), nil)
	require.ErrorIs(t, err, ErrNotFound)
}
