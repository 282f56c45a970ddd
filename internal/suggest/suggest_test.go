package suggest

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestro/internal/store"
)

func TestDatabaseWorkSuggestsDatabaseGuardian(t *testing.T) {
	e := NewEngine()

	got := e.SuggestAgents("Add a migration for the users table", "New schema column plus SQL backfill", "")
	require.NotEmpty(t, got)
	assert.Equal(t, store.AgentDatabaseGuardian, got[0].Name)
	assert.Contains(t, got[0].Reason, "migration")
	assert.Contains(t, got[0].Reason, "schema")
}

func TestCategoryBonusLiftsRanking(t *testing.T) {
	e := NewEngine()

	// neutral text: only the category separates the candidates
	without := e.SuggestAgents("tidy things up", "", "")
	with := e.SuggestAgents("tidy things up", "", store.CategoryTestFix)

	assert.Empty(t, without)
	require.NotEmpty(t, with)
	assert.Equal(t, store.AgentTestMaintainer, with[0].Name)
}

func TestConfidenceBounds(t *testing.T) {
	e := NewEngine()

	// every keyword plus the category bonus must still cap at 0.95
	got := e.SuggestAgents(
		"database schema migration sql table",
		"database schema migration sql table work",
		store.CategoryBackendDatabase)
	require.NotEmpty(t, got)
	for _, s := range got {
		assert.LessOrEqual(t, s.Confidence, 0.95)
		assert.GreaterOrEqual(t, s.Confidence, 0.2)
	}
	assert.Equal(t, 0.95, got[0].Confidence)
}

func TestAtMostThreeSuggestions(t *testing.T) {
	e := NewEngine()

	got := e.SuggestAgents(
		"refactor the api test structure",
		"review database schema design, implement the feature, fix error handling and coverage",
		"")
	assert.LessOrEqual(t, len(got), MaxSuggestions)
	require.NotEmpty(t, got)
	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Confidence, got[i].Confidence)
	}
}

func TestSuggestionIsDeterministic(t *testing.T) {
	e := NewEngine()

	title := "Fix flaky test coverage for the api route"
	desc := "regression in request contract"
	first := e.SuggestAgents(title, desc, store.CategoryTestFix)
	for i := 0; i < 5; i++ {
		again := e.SuggestAgents(title, desc, store.CategoryTestFix)
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("suggestion output changed between runs:\n%s", diff)
		}
	}
}

func TestToolSuggestions(t *testing.T) {
	e := NewEngine()

	got := e.SuggestTools("Update the login page layout", "CSS for the component grid", store.CategoryDesignFrontend)
	require.NotEmpty(t, got)
	assert.Equal(t, "browser-preview", got[0].Name)

	got = e.SuggestTools("Tune the SQL query plan", "schema index for the database", "")
	require.NotEmpty(t, got)
	assert.Equal(t, "database-inspector", got[0].Name)
}

func TestKeywordMatchingIsWholeWord(t *testing.T) {
	e := NewEngine()

	// "testing" must not satisfy the "test" keyword
	got := e.SuggestAgents("attesting documents", "notarization workflow", "")
	for _, s := range got {
		assert.NotEqual(t, store.AgentTestMaintainer, s.Name)
	}
}

func TestNoMatchesReturnsEmpty(t *testing.T) {
	e := NewEngine()

	got := e.SuggestAgents("water the plants", "", "")
	assert.Empty(t, got)
}
