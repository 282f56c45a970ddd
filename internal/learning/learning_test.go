package learning

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestro/internal/cache"
	"orchestro/internal/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "orchestro.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	c, err := cache.New(64)
	require.NoError(t, err)
	return NewService(s, c), s
}

func hostTask(t *testing.T, s *store.Store) *store.Task {
	t.Helper()
	task := &store.Task{Title: "host"}
	require.NoError(t, s.CreateTask(task, nil))
	return task
}

func feed(t *testing.T, l *Service, taskID, pattern, feedbackType string) {
	t.Helper()
	_, err := l.AddFeedback(FeedbackInput{
		TaskID:   taskID,
		Feedback: "outcome of " + pattern,
		Type:     feedbackType,
		Pattern:  pattern,
	})
	require.NoError(t, err)
}

func TestAddFeedbackComposesLearning(t *testing.T) {
	l, s := newTestService(t)
	task := hostTask(t, s)

	learning, err := l.AddFeedback(FeedbackInput{
		TaskID:   task.ID,
		Feedback: "migration went smoothly",
		Type:     store.FeedbackSuccess,
		Pattern:  "incremental-migration",
		Tags:     []string{"db"},
	})
	require.NoError(t, err)

	assert.Contains(t, learning.Context, task.ID)
	assert.Equal(t, "Applied pattern: incremental-migration", learning.Action)
	assert.Equal(t, "migration went smoothly", learning.Lesson)
	assert.ElementsMatch(t, []string{"db", "success", "feedback"}, learning.Tags)

	pf, err := s.PatternStats("incremental-migration")
	require.NoError(t, err)
	assert.Equal(t, 1, pf.Frequency)
	assert.Equal(t, 1, pf.SuccessCount)
}

func TestAddFeedbackValidation(t *testing.T) {
	l, s := newTestService(t)
	task := hostTask(t, s)

	cases := []FeedbackInput{
		{Feedback: "f", Type: store.FeedbackSuccess, Pattern: "p"},
		{TaskID: task.ID, Type: store.FeedbackSuccess, Pattern: "p"},
		{TaskID: task.ID, Feedback: "f", Type: store.FeedbackSuccess},
		{TaskID: task.ID, Feedback: "f", Type: "party", Pattern: "p"},
	}
	for _, in := range cases {
		_, err := l.AddFeedback(in)
		require.ErrorIs(t, err, store.ErrValidation)
	}

	_, err := l.AddFeedback(FeedbackInput{
		TaskID: "ghost", Feedback: "f", Type: store.FeedbackSuccess, Pattern: "p",
	})
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCheckPatternRiskNoData(t *testing.T) {
	l, _ := newTestService(t)

	risk, err := l.CheckPatternRisk("never-used")
	require.NoError(t, err)
	assert.False(t, risk.IsRisky)
	assert.Equal(t, RiskNone, risk.RiskLevel)
	assert.Zero(t, risk.FailureRate)
	assert.Contains(t, risk.Recommendation, "No historical data")
}

func TestCheckPatternRiskThreeFailuresOneSuccess(t *testing.T) {
	l, s := newTestService(t)
	task := hostTask(t, s)

	for i := 0; i < 3; i++ {
		feed(t, l, task.ID, "regex-parser", store.FeedbackFailure)
	}
	feed(t, l, task.ID, "regex-parser", store.FeedbackSuccess)

	risk, err := l.CheckPatternRisk("regex-parser")
	require.NoError(t, err)
	assert.True(t, risk.IsRisky)
	assert.Equal(t, RiskHigh, risk.RiskLevel)
	assert.Equal(t, 0.75, risk.FailureRate)
	assert.Equal(t, 4, risk.Frequency)
}

func TestCheckPatternRiskLevels(t *testing.T) {
	l, s := newTestService(t)
	task := hostTask(t, s)

	// 1 failure / 8 uses = 0.12 -> none
	feed(t, l, task.ID, "p", store.FeedbackFailure)
	for i := 0; i < 7; i++ {
		feed(t, l, task.ID, "p", store.FeedbackSuccess)
	}
	risk, err := l.CheckPatternRisk("p")
	require.NoError(t, err)
	assert.False(t, risk.IsRisky)
	assert.Equal(t, RiskNone, risk.RiskLevel)

	// 3/10 = 0.3 -> low
	feed(t, l, task.ID, "p", store.FeedbackFailure)
	feed(t, l, task.ID, "p", store.FeedbackFailure)
	risk, err = l.CheckPatternRisk("p")
	require.NoError(t, err)
	assert.True(t, risk.IsRisky)
	assert.Equal(t, RiskLow, risk.RiskLevel)
}

func TestRiskMonotonicity(t *testing.T) {
	l, s := newTestService(t)
	task := hostTask(t, s)

	rank := map[string]int{RiskNone: 0, RiskLow: 1, RiskMedium: 2, RiskHigh: 3}

	feed(t, l, task.ID, "mono", store.FeedbackSuccess)
	prevRate := 0.0
	prevRank := 0
	for i := 0; i < 6; i++ {
		feed(t, l, task.ID, "mono", store.FeedbackFailure)
		risk, err := l.CheckPatternRisk("mono")
		require.NoError(t, err)
		assert.GreaterOrEqual(t, risk.FailureRate, prevRate)
		assert.GreaterOrEqual(t, rank[risk.RiskLevel], prevRank)
		prevRate = risk.FailureRate
		prevRank = rank[risk.RiskLevel]
	}
}

func TestDetectFailurePatterns(t *testing.T) {
	l, s := newTestService(t)
	task := hostTask(t, s)

	// below min_occurrences: ignored
	feed(t, l, task.ID, "rare-fail", store.FeedbackFailure)
	feed(t, l, task.ID, "rare-fail", store.FeedbackFailure)

	// 3 failures out of 4 -> 0.75, high
	for i := 0; i < 3; i++ {
		feed(t, l, task.ID, "flaky", store.FeedbackFailure)
	}
	feed(t, l, task.ID, "flaky", store.FeedbackSuccess)

	// 2 failures out of 4 -> 0.5, medium
	feed(t, l, task.ID, "shaky", store.FeedbackFailure)
	feed(t, l, task.ID, "shaky", store.FeedbackFailure)
	feed(t, l, task.ID, "shaky", store.FeedbackSuccess)
	feed(t, l, task.ID, "shaky", store.FeedbackSuccess)

	// healthy pattern: excluded
	for i := 0; i < 4; i++ {
		feed(t, l, task.ID, "solid", store.FeedbackSuccess)
	}

	failures, err := l.DetectFailurePatterns(0, 0)
	require.NoError(t, err)
	require.Len(t, failures, 2)
	assert.Equal(t, "flaky", failures[0].Pattern)
	assert.Equal(t, 0.75, failures[0].FailureRate)
	assert.Equal(t, RiskHigh, failures[0].RiskLevel)
	assert.Equal(t, "shaky", failures[1].Pattern)
	assert.Equal(t, RiskMedium, failures[1].RiskLevel)
}

func TestDetectFailurePatternsLowBandWithLoweredThreshold(t *testing.T) {
	l, s := newTestService(t)
	task := hostTask(t, s)

	// 2 failures out of 5 -> 0.40: above a 0.3 threshold, below medium
	feed(t, l, task.ID, "api-call", store.FeedbackFailure)
	feed(t, l, task.ID, "api-call", store.FeedbackFailure)
	for i := 0; i < 3; i++ {
		feed(t, l, task.ID, "api-call", store.FeedbackSuccess)
	}

	failures, err := l.DetectFailurePatterns(3, 0.3)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "api-call", failures[0].Pattern)
	assert.Equal(t, 0.4, failures[0].FailureRate)
	assert.Equal(t, RiskLow, failures[0].RiskLevel)
}

func TestDetectFailurePatternsEmptyBelowMinimum(t *testing.T) {
	l, s := newTestService(t)
	task := hostTask(t, s)

	feed(t, l, task.ID, "seen-twice", store.FeedbackFailure)
	feed(t, l, task.ID, "seen-twice", store.FeedbackFailure)

	failures, err := l.DetectFailurePatterns(3, 0.5)
	require.NoError(t, err)
	assert.Empty(t, failures)
}

func TestTopPatternsCached(t *testing.T) {
	l, s := newTestService(t)
	task := hostTask(t, s)

	feed(t, l, task.ID, "a", store.FeedbackSuccess)
	top, err := l.TopPatterns(5)
	require.NoError(t, err)
	require.Len(t, top, 1)

	// a new feedback invalidates the cached list
	feed(t, l, task.ID, "b", store.FeedbackSuccess)
	top, err = l.TopPatterns(5)
	require.NoError(t, err)
	assert.Len(t, top, 2)
}
