package store

import (
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// DefaultProjectName is used when no project has been configured yet.
const DefaultProjectName = "default"

// EnsureDefaultProject returns the project with the given name, creating it
// on first use. Every configuration entity hangs off a project row.
func (s *Store) EnsureDefaultProject(name string) (*Project, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if name == "" {
		name = DefaultProjectName
	}

	var p *Project
	err := s.inTx(func(tx *sql.Tx) error {
		var err error
		p, err = projectByNameTx(tx, name)
		if err == nil {
			return nil
		}
		if err != sql.ErrNoRows {
			return fmt.Errorf("failed to read project: %w", err)
		}
		now := nowUTC()
		p = &Project{ID: uuid.New().String(), Name: name, CreatedAt: now}
		if _, err := tx.Exec(
			`INSERT INTO projects (id, name, description, created_at) VALUES (?, ?, ?, ?)`,
			p.ID, p.Name, p.Description, formatTime(now)); err != nil {
			return fmt.Errorf("failed to create project: %w", err)
		}
		return nil
	})
	return p, err
}

func projectByNameTx(tx *sql.Tx, name string) (*Project, error) {
	p := &Project{}
	var createdAt string
	err := tx.QueryRow(
		`SELECT id, name, description, created_at FROM projects WHERE name = ?`, name).
		Scan(&p.ID, &p.Name, &p.Description, &createdAt)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

// GetProject loads a project by id.
func (s *Store) GetProject(id string) (*Project, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p := &Project{}
	var createdAt string
	err := s.db.QueryRow(
		`SELECT id, name, description, created_at FROM projects WHERE id = ?`, id).
		Scan(&p.ID, &p.Name, &p.Description, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: project %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read project: %w", err)
	}
	p.CreatedAt = parseTime(createdAt)
	return p, nil
}

// UpsertTechStackEntry inserts or refreshes a technology keyed by
// (project, category, name).
func (s *Store) UpsertTechStackEntry(e *TechStackEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.Category == "" || e.Name == "" {
		return fmt.Errorf("%w: tech stack category and name are required", ErrValidation)
	}
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	_, err := s.db.Exec(`
		INSERT INTO tech_stack (id, project_id, category, name, version)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(project_id, category, name) DO UPDATE SET version = excluded.version`,
		e.ID, e.ProjectID, e.Category, e.Name, e.Version)
	if err != nil {
		return fmt.Errorf("failed to upsert tech stack entry: %w", err)
	}
	return nil
}

// ListTechStack returns the project's technologies grouped by category order.
func (s *Store) ListTechStack(projectID string) ([]TechStackEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, project_id, category, name, version
		FROM tech_stack WHERE project_id = ?
		ORDER BY category, name`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tech stack: %w", err)
	}
	defer rows.Close()

	var entries []TechStackEntry
	for rows.Next() {
		var e TechStackEntry
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.Category, &e.Name, &e.Version); err != nil {
			return nil, fmt.Errorf("failed to scan tech stack entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RemoveTechStackEntry deletes a technology keyed by (project, category, name).
func (s *Store) RemoveTechStackEntry(projectID, category, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`DELETE FROM tech_stack WHERE project_id = ? AND category = ? AND name = ?`,
		projectID, category, name)
	if err != nil {
		return fmt.Errorf("failed to remove tech stack entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: tech stack entry %s/%s", ErrNotFound, category, name)
	}
	return nil
}

// InsertGuideline adds a project rule.
func (s *Store) InsertGuideline(g *Guideline) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g.Title == "" || g.Content == "" {
		return fmt.Errorf("%w: guideline title and content are required", ErrValidation)
	}
	if g.ID == "" {
		g.ID = uuid.New().String()
	}
	_, err := s.db.Exec(`
		INSERT INTO project_guidelines (id, project_id, title, content, category, priority, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		g.ID, g.ProjectID, g.Title, g.Content, g.Category, g.Priority, boolToInt(g.IsActive))
	if err != nil {
		return fmt.Errorf("failed to insert guideline: %w", err)
	}
	return nil
}

// ListGuidelines returns guidelines, highest priority first. When activeOnly
// is set, disabled rules are skipped; category filters when non-empty.
func (s *Store) ListGuidelines(projectID, category string, activeOnly bool) ([]Guideline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, project_id, title, content, category, priority, is_active
		FROM project_guidelines WHERE project_id = ?`
	args := []any{projectID}
	if activeOnly {
		query += " AND is_active = 1"
	}
	if category != "" {
		query += " AND category = ?"
		args = append(args, category)
	}
	query += " ORDER BY priority DESC, title"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list guidelines: %w", err)
	}
	defer rows.Close()

	var guidelines []Guideline
	for rows.Next() {
		var g Guideline
		var active int
		if err := rows.Scan(&g.ID, &g.ProjectID, &g.Title, &g.Content, &g.Category, &g.Priority, &active); err != nil {
			return nil, fmt.Errorf("failed to scan guideline: %w", err)
		}
		g.IsActive = active != 0
		guidelines = append(guidelines, g)
	}
	return guidelines, rows.Err()
}

// SetGuidelineActive toggles a rule on or off.
func (s *Store) SetGuidelineActive(id string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE project_guidelines SET is_active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("failed to update guideline: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: guideline %s", ErrNotFound, id)
	}
	return nil
}

// UpsertCodePattern inserts or refreshes a library entry keyed by
// (project, name). Usage counts survive updates.
func (s *Store) UpsertCodePattern(p *CodePattern) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.Name == "" {
		return fmt.Errorf("%w: code pattern name is required", ErrValidation)
	}
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	tags, err := json.Marshal(emptyIfNil(p.Tags))
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO code_patterns_library (id, project_id, name, description, example, tags, usage_count)
		VALUES (?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(project_id, name) DO UPDATE SET
			description = excluded.description,
			example = excluded.example,
			tags = excluded.tags`,
		p.ID, p.ProjectID, p.Name, p.Description, p.Example, string(tags))
	if err != nil {
		return fmt.Errorf("failed to upsert code pattern: %w", err)
	}
	return nil
}

// ListCodePatterns returns library entries, most used first.
func (s *Store) ListCodePatterns(projectID string) ([]CodePattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, project_id, name, description, example, tags, usage_count
		FROM code_patterns_library WHERE project_id = ?
		ORDER BY usage_count DESC, name`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list code patterns: %w", err)
	}
	defer rows.Close()

	var patterns []CodePattern
	for rows.Next() {
		var p CodePattern
		var tags string
		if err := rows.Scan(&p.ID, &p.ProjectID, &p.Name, &p.Description, &p.Example, &tags, &p.UsageCount); err != nil {
			return nil, fmt.Errorf("failed to scan code pattern: %w", err)
		}
		if tags != "" {
			if err := json.Unmarshal([]byte(tags), &p.Tags); err != nil {
				return nil, fmt.Errorf("failed to decode tags: %w", err)
			}
		}
		patterns = append(patterns, p)
	}
	return patterns, rows.Err()
}

// IncrementCodePatternUsage bumps a library entry's usage counter.
func (s *Store) IncrementCodePatternUsage(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE code_patterns_library SET usage_count = usage_count + 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to increment pattern usage: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: code pattern %s", ErrNotFound, id)
	}
	return nil
}

// UpsertTemplate inserts or replaces a template keyed by (project, name).
func (s *Store) UpsertTemplate(t *Template) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.Name == "" || t.Content == "" {
		return fmt.Errorf("%w: template name and content are required", ErrValidation)
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	_, err := s.db.Exec(`
		INSERT INTO templates (id, project_id, name, content, category)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(project_id, name) DO UPDATE SET
			content = excluded.content,
			category = excluded.category`,
		t.ID, t.ProjectID, t.Name, t.Content, t.Category)
	if err != nil {
		return fmt.Errorf("failed to upsert template: %w", err)
	}
	return nil
}

// GetTemplate loads a template by project and name.
func (s *Store) GetTemplate(projectID, name string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t := &Template{}
	err := s.db.QueryRow(`
		SELECT id, project_id, name, content, category
		FROM templates WHERE project_id = ? AND name = ?`, projectID, name).
		Scan(&t.ID, &t.ProjectID, &t.Name, &t.Content, &t.Category)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: template %q", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read template: %w", err)
	}
	return t, nil
}

// ListTemplates returns the project's templates by name.
func (s *Store) ListTemplates(projectID string) ([]Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT id, project_id, name, content, category
		FROM templates WHERE project_id = ? ORDER BY name`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list templates: %w", err)
	}
	defer rows.Close()

	var templates []Template
	for rows.Next() {
		var t Template
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Name, &t.Content, &t.Category); err != nil {
			return nil, fmt.Errorf("failed to scan template: %w", err)
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// UpsertSubAgent inserts or refreshes an agent keyed by
// (project, name, agent_type).
func (s *Store) UpsertSubAgent(a *SubAgent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if a.Name == "" || a.AgentType == "" {
		return fmt.Errorf("%w: agent name and type are required", ErrValidation)
	}
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	triggers, err := json.Marshal(emptyIfNil(a.Triggers))
	if err != nil {
		return fmt.Errorf("failed to encode triggers: %w", err)
	}
	config := "{}"
	if a.Configuration != nil {
		raw, err := json.Marshal(a.Configuration)
		if err != nil {
			return fmt.Errorf("failed to encode configuration: %w", err)
		}
		config = string(raw)
	}
	_, err = s.db.Exec(`
		INSERT INTO sub_agents (id, project_id, name, agent_type, enabled, triggers, custom_prompt, configuration, priority)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, name, agent_type) DO UPDATE SET
			enabled = excluded.enabled,
			triggers = excluded.triggers,
			custom_prompt = excluded.custom_prompt,
			configuration = excluded.configuration,
			priority = excluded.priority`,
		a.ID, a.ProjectID, a.Name, a.AgentType, boolToInt(a.Enabled),
		string(triggers), a.CustomPrompt, config, a.Priority)
	if err != nil {
		return fmt.Errorf("failed to upsert sub agent: %w", err)
	}
	return nil
}

// ListSubAgents returns the project's agents, highest priority first. When
// enabledOnly is set, disabled agents are skipped.
func (s *Store) ListSubAgents(projectID string, enabledOnly bool) ([]SubAgent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, project_id, name, agent_type, enabled, triggers, custom_prompt, configuration, priority
		FROM sub_agents WHERE project_id = ?`
	if enabledOnly {
		query += " AND enabled = 1"
	}
	query += " ORDER BY priority DESC, name"

	rows, err := s.db.Query(query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sub agents: %w", err)
	}
	defer rows.Close()

	var agents []SubAgent
	for rows.Next() {
		var (
			a        SubAgent
			enabled  int
			triggers string
			config   string
		)
		if err := rows.Scan(&a.ID, &a.ProjectID, &a.Name, &a.AgentType, &enabled,
			&triggers, &a.CustomPrompt, &config, &a.Priority); err != nil {
			return nil, fmt.Errorf("failed to scan sub agent: %w", err)
		}
		a.Enabled = enabled != 0
		if triggers != "" {
			if err := json.Unmarshal([]byte(triggers), &a.Triggers); err != nil {
				return nil, fmt.Errorf("failed to decode triggers: %w", err)
			}
		}
		if config != "" && config != "{}" {
			if err := json.Unmarshal([]byte(config), &a.Configuration); err != nil {
				return nil, fmt.Errorf("failed to decode configuration: %w", err)
			}
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// SetSubAgentEnabled toggles an agent on or off.
func (s *Store) SetSubAgentEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE sub_agents SET enabled = ? WHERE id = ?`, boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("failed to update sub agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: sub agent %s", ErrNotFound, id)
	}
	return nil
}

// UpsertMCPTool inserts or refreshes a tool keyed by (project, name).
// Usage counters survive updates.
func (s *Store) UpsertMCPTool(t *MCPTool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.Name == "" || t.ToolType == "" {
		return fmt.Errorf("%w: tool name and type are required", ErrValidation)
	}
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	whenToUse, err := json.Marshal(emptyIfNil(t.WhenToUse))
	if err != nil {
		return fmt.Errorf("failed to encode when_to_use: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO mcp_tools (id, project_id, name, tool_type, command, enabled, when_to_use, priority, usage_count, success_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, 0, 0)
		ON CONFLICT(project_id, name) DO UPDATE SET
			tool_type = excluded.tool_type,
			command = excluded.command,
			enabled = excluded.enabled,
			when_to_use = excluded.when_to_use,
			priority = excluded.priority`,
		t.ID, t.ProjectID, t.Name, t.ToolType, t.Command, boolToInt(t.Enabled),
		string(whenToUse), t.Priority)
	if err != nil {
		return fmt.Errorf("failed to upsert mcp tool: %w", err)
	}
	return nil
}

// ListMCPTools returns the project's tools, highest priority first. When
// enabledOnly is set, disabled tools are skipped.
func (s *Store) ListMCPTools(projectID string, enabledOnly bool) ([]MCPTool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, project_id, name, tool_type, command, enabled, when_to_use, priority, usage_count, success_count
		FROM mcp_tools WHERE project_id = ?`
	if enabledOnly {
		query += " AND enabled = 1"
	}
	query += " ORDER BY priority DESC, name"

	rows, err := s.db.Query(query, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list mcp tools: %w", err)
	}
	defer rows.Close()

	var tools []MCPTool
	for rows.Next() {
		var (
			t         MCPTool
			enabled   int
			whenToUse string
		)
		if err := rows.Scan(&t.ID, &t.ProjectID, &t.Name, &t.ToolType, &t.Command,
			&enabled, &whenToUse, &t.Priority, &t.UsageCount, &t.SuccessCount); err != nil {
			return nil, fmt.Errorf("failed to scan mcp tool: %w", err)
		}
		t.Enabled = enabled != 0
		if whenToUse != "" {
			if err := json.Unmarshal([]byte(whenToUse), &t.WhenToUse); err != nil {
				return nil, fmt.Errorf("failed to decode when_to_use: %w", err)
			}
		}
		tools = append(tools, t)
	}
	return tools, rows.Err()
}

// SetMCPToolEnabled toggles a tool on or off.
func (s *Store) SetMCPToolEnabled(id string, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(
		`UPDATE mcp_tools SET enabled = ? WHERE id = ?`, boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("failed to update mcp tool: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: mcp tool %s", ErrNotFound, id)
	}
	return nil
}

// RecordMCPToolUse bumps usage_count, and success_count when the call
// succeeded.
func (s *Store) RecordMCPToolUse(id string, success bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	successInc := 0
	if success {
		successInc = 1
	}
	res, err := s.db.Exec(`
		UPDATE mcp_tools
		SET usage_count = usage_count + 1, success_count = success_count + ?
		WHERE id = ?`, successInc, id)
	if err != nil {
		return fmt.Errorf("failed to record tool use: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: mcp tool %s", ErrNotFound, id)
	}
	return nil
}
