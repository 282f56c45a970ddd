package store

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addFeedback(t *testing.T, s *Store, pattern, feedbackType, context string) {
	t.Helper()
	require.NoError(t, s.InsertFeedback(&Learning{
		Context: context,
		Action:  "ran " + pattern,
		Result:  "result for " + pattern,
		Lesson:  "lesson for " + pattern,
		Type:    feedbackType,
		Pattern: pattern,
	}))
}

func TestInsertFeedbackMaintainsCounters(t *testing.T) {
	s := newTestStore(t)

	addFeedback(t, s, "api-call", FeedbackSuccess, "calling the api")
	addFeedback(t, s, "api-call", FeedbackFailure, "calling the api again")
	addFeedback(t, s, "api-call", FeedbackFailure, "and again")
	addFeedback(t, s, "api-call", FeedbackImprovement, "tuned the call")

	pf, err := s.PatternStats("api-call")
	require.NoError(t, err)
	assert.Equal(t, 4, pf.Frequency)
	assert.Equal(t, 1, pf.SuccessCount)
	assert.Equal(t, 2, pf.FailureCount)
	assert.Equal(t, 1, pf.ImprovementCount)
	assert.False(t, pf.FirstSeen.IsZero())
	assert.False(t, pf.LastSeen.Before(pf.FirstSeen))
}

func TestInsertFeedbackRejectsUnknownType(t *testing.T) {
	s := newTestStore(t)

	err := s.InsertFeedback(&Learning{Context: "c", Action: "a", Type: "celebration"})
	require.ErrorIs(t, err, ErrValidation)
}

func TestInsertFeedbackEmitsEvent(t *testing.T) {
	s := newTestStore(t)

	addFeedback(t, s, "migration", FeedbackSuccess, "ran the migration")

	events, err := s.FetchUnprocessed(10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, EventFeedbackReceived, events[0].EventType)
	assert.Contains(t, events[0].Payload, "migration")
}

func TestSimilarLearningsSubstringMatch(t *testing.T) {
	s := newTestStore(t)

	addFeedback(t, s, "db-migration", FeedbackFailure, "migration of the users table failed")
	addFeedback(t, s, "api-call", FeedbackSuccess, "unrelated http work")

	got, err := s.SimilarLearnings(SimilarQuery{Context: "users table"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "db-migration", got[0].Pattern)
}

func TestSimilarLearningsEscapesWildcards(t *testing.T) {
	s := newTestStore(t)

	addFeedback(t, s, "p1", FeedbackSuccess, "contains literal 100% coverage")
	addFeedback(t, s, "p2", FeedbackSuccess, "nothing like that here")

	// A bare % would match everything; the sanitised needle must not.
	got, err := s.SimilarLearnings(SimilarQuery{Context: "100%"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].Pattern)
}

func TestSimilarLearningsTruncatesLongContext(t *testing.T) {
	s := newTestStore(t)

	long := strings.Repeat("a", 150)
	addFeedback(t, s, "p1", FeedbackSuccess, long)

	// Only the first 100 characters are used, so a 150-char needle with a
	// different tail still matches.
	got, err := s.SimilarLearnings(SimilarQuery{Context: strings.Repeat("a", 100) + strings.Repeat("b", 50)})
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

func TestSimilarLearningsFilters(t *testing.T) {
	s := newTestStore(t)

	task := mkTask(t, s, "host task")
	require.NoError(t, s.InsertFeedback(&Learning{
		TaskID: task.ID, Context: "shared words", Action: "a", Type: FeedbackFailure, Pattern: "p1",
	}))
	require.NoError(t, s.InsertFeedback(&Learning{
		Context: "shared words", Action: "a", Type: FeedbackSuccess, Pattern: "p2",
	}))

	got, err := s.SimilarLearnings(SimilarQuery{Context: "shared words", Type: FeedbackFailure})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].Pattern)

	got, err = s.SimilarLearnings(SimilarQuery{TaskID: task.ID})
	require.NoError(t, err)
	require.Len(t, got, 1)

	got, err = s.SimilarLearnings(SimilarQuery{Pattern: "p2"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "p2", got[0].Pattern)
}

func TestTopPatternsOrdering(t *testing.T) {
	s := newTestStore(t)

	addFeedback(t, s, "rare", FeedbackSuccess, "once")
	for i := 0; i < 3; i++ {
		addFeedback(t, s, "common", FeedbackSuccess, "often")
	}

	top, err := s.TopPatterns(10)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "common", top[0].Pattern)
	assert.Equal(t, 3, top[0].Frequency)

	limited, err := s.TopPatterns(1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestTrendingPatternsSuccessRate(t *testing.T) {
	s := newTestStore(t)

	addFeedback(t, s, "deploy", FeedbackSuccess, "deployed")
	addFeedback(t, s, "deploy", FeedbackSuccess, "deployed again")
	addFeedback(t, s, "deploy", FeedbackFailure, "deploy broke")

	trending, err := s.TrendingPatterns(7, 10)
	require.NoError(t, err)
	require.Len(t, trending, 1)
	assert.Equal(t, "deploy", trending[0].Pattern)
	assert.Equal(t, 3, trending[0].RecentCount)
	assert.Equal(t, 0.67, trending[0].SuccessRate)
}

func TestPatternsWithMinFrequency(t *testing.T) {
	s := newTestStore(t)

	addFeedback(t, s, "once", FeedbackFailure, "x")
	for i := 0; i < 3; i++ {
		addFeedback(t, s, "thrice", FeedbackFailure, "y")
	}

	patterns, err := s.PatternsWithMinFrequency(3)
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, "thrice", patterns[0].Pattern)
}

func TestPatternStatsNotFound(t *testing.T) {
	s := newTestStore(t)

	_, err := s.PatternStats("never-seen")
	require.ErrorIs(t, err, ErrNotFound)
}
