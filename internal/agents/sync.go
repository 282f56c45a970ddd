package agents

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"orchestro/internal/logging"
	"orchestro/internal/store"
)

// Syncer mirrors agent definition files into the store.
type Syncer struct {
	store     *store.Store
	projectID string
	dir       string
}

// NewSyncer builds a syncer for one agents directory.
func NewSyncer(s *store.Store, projectID, dir string) *Syncer {
	return &Syncer{store: s, projectID: projectID, dir: dir}
}

// Dir returns the watched directory.
func (sy *Syncer) Dir() string {
	return sy.dir
}

// ReadDir parses every .md file in the agents directory. A missing
// directory yields an empty result; unparseable files are skipped with a
// warning.
func (sy *Syncer) ReadDir() ([]*AgentFile, error) {
	entries, err := os.ReadDir(sy.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read agents directory: %w", err)
	}

	log := logging.Get(logging.CategoryAgents)
	var files []*AgentFile
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(sy.dir, entry.Name())
		content, err := os.ReadFile(path)
		if err != nil {
			log.Warn("Skipping unreadable agent file %s: %v", path, err)
			continue
		}
		fallback := strings.TrimSuffix(entry.Name(), ".md")
		af, err := Parse(string(content), fallback)
		if err != nil {
			log.Warn("Skipping malformed agent file %s: %v", path, err)
			continue
		}
		files = append(files, af)
	}
	return files, nil
}

// Sync upserts every parsed agent file into the sub_agents table and
// returns how many were synced.
func (sy *Syncer) Sync() (int, error) {
	timer := logging.StartTimer(logging.CategoryAgents, "Sync")
	defer timer.Stop()

	files, err := sy.ReadDir()
	if err != nil {
		return 0, err
	}

	for _, af := range files {
		config := map[string]any{}
		if af.Model != "" {
			config["model"] = af.Model
		}
		if len(af.Tools) > 0 {
			config["tools"] = af.Tools
		}
		if af.Description != "" {
			config["description"] = af.Description
		}
		if af.Extra != nil {
			config["yaml_config"] = af.Extra
		}
		if len(config) == 0 {
			config = nil
		}

		agent := &store.SubAgent{
			ProjectID:     sy.projectID,
			Name:          af.Name,
			AgentType:     agentType(af.Name),
			Enabled:       true,
			Triggers:      af.Triggers,
			CustomPrompt:  af.Prompt,
			Configuration: config,
		}
		if err := sy.store.UpsertSubAgent(agent); err != nil {
			return 0, fmt.Errorf("failed to sync agent %s: %w", af.Name, err)
		}
	}

	logging.Get(logging.CategoryAgents).Info("Synced %d agent files from %s", len(files), sy.dir)
	return len(files), nil
}

// UpdatePromptTemplates stores each agent's prompt body as a template named
// agent:<name>, so render_template can serve agent prompts too.
func (sy *Syncer) UpdatePromptTemplates() (int, error) {
	files, err := sy.ReadDir()
	if err != nil {
		return 0, err
	}

	count := 0
	for _, af := range files {
		if af.Prompt == "" {
			continue
		}
		err := sy.store.UpsertTemplate(&store.Template{
			ProjectID: sy.projectID,
			Name:      "agent:" + af.Name,
			Content:   af.Prompt,
			Category:  "agent_prompt",
		})
		if err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// agentType maps a file name onto the closed set of known agent types;
// anything else is custom.
func agentType(name string) string {
	switch name {
	case store.AgentArchitectureGuardian, store.AgentDatabaseGuardian,
		store.AgentTestMaintainer, store.AgentAPIGuardian,
		store.AgentCodeReviewer, store.AgentGeneralPurpose:
		return name
	}
	return store.AgentCustom
}
