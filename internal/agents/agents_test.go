package agents

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orchestro/internal/store"
)

const guardianFile = `---
name: database-guardian
description: Reviews schema and query changes
model: sonnet
tools: Read, Grep, Bash
triggers:
  - migration
  - schema
color: blue
---
You are the database guardian. Review every schema change
for backwards compatibility.`

func TestParseAgentFile(t *testing.T) {
	af, err := Parse(guardianFile, "fallback")
	require.NoError(t, err)

	assert.Equal(t, "database-guardian", af.Name)
	assert.Equal(t, "Reviews schema and query changes", af.Description)
	assert.Equal(t, "sonnet", af.Model)
	assert.Equal(t, []string{"Read", "Grep", "Bash"}, af.Tools)
	assert.Equal(t, []string{"migration", "schema"}, af.Triggers)
	assert.Contains(t, af.Prompt, "database guardian")
	assert.Equal(t, map[string]any{"color": "blue"}, af.Extra)
}

func TestParseToolsAsList(t *testing.T) {
	af, err := Parse("---\nname: x\ntools:\n  - Read\n  - Write\n---\nbody", "")
	require.NoError(t, err)
	assert.Equal(t, []string{"Read", "Write"}, af.Tools)
}

func TestParseFallbackName(t *testing.T) {
	af, err := Parse("---\ndescription: nameless\n---\nbody", "my-agent")
	require.NoError(t, err)
	assert.Equal(t, "my-agent", af.Name)
	assert.Nil(t, af.Extra)
}

func TestParseRejectsMalformed(t *testing.T) {
	_, err := Parse("no front matter at all", "x")
	assert.Error(t, err)

	_, err = Parse("---\nname: never closed\n", "x")
	assert.Error(t, err)

	_, err = Parse("---\ndescription: nameless\n---\nbody", "")
	assert.Error(t, err)
}

func newTestSyncer(t *testing.T) (*Syncer, *store.Store, string) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "orchestro.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	p, err := s.EnsureDefaultProject(store.DefaultProjectName)
	require.NoError(t, err)

	dir := t.TempDir()
	return NewSyncer(s, p.ID, dir), s, dir
}

func writeAgent(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestSyncDir(t *testing.T) {
	sy, s, dir := newTestSyncer(t)
	writeAgent(t, dir, "database-guardian.md", guardianFile)
	writeAgent(t, dir, "deploy-helper.md", "---\ndescription: ships releases\n---\nShip it carefully.")
	writeAgent(t, dir, "notes.txt", "not an agent file")
	writeAgent(t, dir, "broken.md", "no front matter")

	n, err := sy.Sync()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	agents, err := s.ListSubAgents(sy.projectID, false)
	require.NoError(t, err)
	require.Len(t, agents, 2)

	byName := map[string]store.SubAgent{}
	for _, a := range agents {
		byName[a.Name] = a
	}

	guardian := byName["database-guardian"]
	assert.Equal(t, store.AgentDatabaseGuardian, guardian.AgentType)
	assert.True(t, guardian.Enabled)
	assert.Equal(t, []string{"migration", "schema"}, guardian.Triggers)
	assert.Contains(t, guardian.CustomPrompt, "backwards compatibility")
	assert.Equal(t, "sonnet", guardian.Configuration["model"])

	helper := byName["deploy-helper"]
	assert.Equal(t, store.AgentCustom, helper.AgentType)
}

func TestSyncIsIdempotent(t *testing.T) {
	sy, s, dir := newTestSyncer(t)
	writeAgent(t, dir, "database-guardian.md", guardianFile)

	for i := 0; i < 3; i++ {
		_, err := sy.Sync()
		require.NoError(t, err)
	}

	agents, err := s.ListSubAgents(sy.projectID, false)
	require.NoError(t, err)
	assert.Len(t, agents, 1)
}

func TestSyncMissingDir(t *testing.T) {
	sy, _, _ := newTestSyncer(t)
	sy.dir = filepath.Join(sy.dir, "does", "not", "exist")

	n, err := sy.Sync()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestUpdatePromptTemplates(t *testing.T) {
	sy, s, dir := newTestSyncer(t)
	writeAgent(t, dir, "database-guardian.md", guardianFile)
	writeAgent(t, dir, "empty.md", "---\nname: empty\n---\n")

	n, err := sy.UpdatePromptTemplates()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	tpl, err := s.GetTemplate(sy.projectID, "agent:database-guardian")
	require.NoError(t, err)
	assert.Equal(t, "agent_prompt", tpl.Category)
	assert.Contains(t, tpl.Content, "database guardian")
}
