// Package store implements SQLite persistence for the orchestro engine:
// tasks and their dependency edges, the resource graph, learnings with
// pattern-frequency aggregates, the event queue, and the configuration
// entities. Invariants the database cannot express (acyclic dependencies,
// status-machine legality, completion gating) are enforced here inside
// transactions.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"orchestro/internal/logging"
)

// timeLayout is a fixed-width, lexicographically sortable timestamp format.
const timeLayout = "2006-01-02 15:04:05.000000"

// Store provides typed access to the orchestro database.
type Store struct {
	db   *sql.DB
	mu   sync.RWMutex
	path string
}

// Open initializes the SQLite database at the given path, creating the
// schema and running migrations.
func Open(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "Open")
	defer timer.Stop()

	logging.Store("Opening store at path: %s", path)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("Failed to enable foreign keys: %v", err)
	}

	s := &Store{db: db, path: path}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("Store initialization complete")
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	logging.Store("Closing store database connection")
	return s.db.Close()
}

// initialize creates the required tables and runs migrations.
func (s *Store) initialize() error {
	projectsTable := `
	CREATE TABLE IF NOT EXISTS projects (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		description TEXT DEFAULT '',
		created_at TEXT NOT NULL
	);
	`

	tasksTable := `
	CREATE TABLE IF NOT EXISTS tasks (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		title TEXT NOT NULL,
		description TEXT DEFAULT '',
		status TEXT NOT NULL DEFAULT 'backlog',
		assignee TEXT DEFAULT '',
		priority TEXT DEFAULT '',
		tags TEXT DEFAULT '[]',
		category TEXT DEFAULT '',
		is_user_story INTEGER NOT NULL DEFAULT 0,
		user_story_id TEXT,
		story_metadata TEXT,
		metadata TEXT,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tasks_status ON tasks(status);
	CREATE INDEX IF NOT EXISTS idx_tasks_story ON tasks(user_story_id);
	CREATE INDEX IF NOT EXISTS idx_tasks_project ON tasks(project_id);
	`

	depsTable := `
	CREATE TABLE IF NOT EXISTS task_dependencies (
		task_id TEXT NOT NULL,
		depends_on_id TEXT NOT NULL,
		PRIMARY KEY (task_id, depends_on_id)
	);
	CREATE INDEX IF NOT EXISTS idx_deps_depends_on ON task_dependencies(depends_on_id);
	`

	resourceNodesTable := `
	CREATE TABLE IF NOT EXISTS resource_nodes (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL,
		name TEXT NOT NULL,
		path TEXT DEFAULT '',
		created_at TEXT NOT NULL,
		UNIQUE(type, name)
	);
	`

	resourceEdgesTable := `
	CREATE TABLE IF NOT EXISTS resource_edges (
		task_id TEXT NOT NULL,
		resource_id TEXT NOT NULL,
		action TEXT NOT NULL,
		PRIMARY KEY (task_id, resource_id, action)
	);
	CREATE INDEX IF NOT EXISTS idx_edges_resource ON resource_edges(resource_id);
	`

	learningsTable := `
	CREATE TABLE IF NOT EXISTS learnings (
		id TEXT PRIMARY KEY,
		task_id TEXT,
		context TEXT NOT NULL,
		action TEXT NOT NULL,
		result TEXT DEFAULT '',
		lesson TEXT DEFAULT '',
		type TEXT DEFAULT '',
		pattern TEXT DEFAULT '',
		tags TEXT DEFAULT '[]',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_learnings_task ON learnings(task_id);
	CREATE INDEX IF NOT EXISTS idx_learnings_pattern ON learnings(pattern);
	CREATE INDEX IF NOT EXISTS idx_learnings_created ON learnings(created_at);
	`

	patternFrequencyTable := `
	CREATE TABLE IF NOT EXISTS pattern_frequency (
		pattern TEXT PRIMARY KEY,
		frequency INTEGER NOT NULL DEFAULT 0,
		success_count INTEGER NOT NULL DEFAULT 0,
		failure_count INTEGER NOT NULL DEFAULT 0,
		improvement_count INTEGER NOT NULL DEFAULT 0,
		first_seen TEXT NOT NULL,
		last_seen TEXT NOT NULL
	);
	`

	eventQueueTable := `
	CREATE TABLE IF NOT EXISTS event_queue (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		processed INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		processed_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_events_processed ON event_queue(processed, created_at);
	`

	subAgentsTable := `
	CREATE TABLE IF NOT EXISTS sub_agents (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		agent_type TEXT NOT NULL,
		enabled INTEGER NOT NULL DEFAULT 1,
		triggers TEXT DEFAULT '[]',
		custom_prompt TEXT DEFAULT '',
		configuration TEXT DEFAULT '{}',
		priority INTEGER NOT NULL DEFAULT 0,
		UNIQUE(project_id, name, agent_type)
	);
	`

	mcpToolsTable := `
	CREATE TABLE IF NOT EXISTS mcp_tools (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		tool_type TEXT NOT NULL,
		command TEXT DEFAULT '',
		enabled INTEGER NOT NULL DEFAULT 1,
		when_to_use TEXT DEFAULT '[]',
		priority INTEGER NOT NULL DEFAULT 0,
		usage_count INTEGER NOT NULL DEFAULT 0,
		success_count INTEGER NOT NULL DEFAULT 0,
		UNIQUE(project_id, name)
	);
	`

	techStackTable := `
	CREATE TABLE IF NOT EXISTS tech_stack (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		category TEXT NOT NULL,
		name TEXT NOT NULL,
		version TEXT DEFAULT '',
		UNIQUE(project_id, category, name)
	);
	`

	guidelinesTable := `
	CREATE TABLE IF NOT EXISTS project_guidelines (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		title TEXT NOT NULL,
		content TEXT NOT NULL,
		category TEXT DEFAULT '',
		priority INTEGER NOT NULL DEFAULT 0,
		is_active INTEGER NOT NULL DEFAULT 1
	);
	`

	codePatternsTable := `
	CREATE TABLE IF NOT EXISTS code_patterns_library (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT DEFAULT '',
		example TEXT DEFAULT '',
		tags TEXT DEFAULT '[]',
		usage_count INTEGER NOT NULL DEFAULT 0,
		UNIQUE(project_id, name)
	);
	`

	templatesTable := `
	CREATE TABLE IF NOT EXISTS templates (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		name TEXT NOT NULL,
		content TEXT NOT NULL,
		category TEXT DEFAULT '',
		UNIQUE(project_id, name)
	);
	`

	for _, table := range []string{
		projectsTable,
		tasksTable,
		depsTable,
		resourceNodesTable,
		resourceEdgesTable,
		learningsTable,
		patternFrequencyTable,
		eventQueueTable,
		subAgentsTable,
		mcpToolsTable,
		techStackTable,
		guidelinesTable,
		codePatternsTable,
		templatesTable,
	} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	if err := RunMigrations(s.db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// inTx runs fn inside a transaction, rolling back on error.
func (s *Store) inTx(fn func(tx *sql.Tx) error) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			logging.Get(logging.CategoryStore).Error("Rollback failed: %v", rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// nowUTC returns the current time truncated to the stored precision.
func nowUTC() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

// formatTime renders a timestamp in the stored layout.
func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime parses a stored timestamp, tolerating the layouts sqlite's
// CURRENT_TIMESTAMP and RFC3339 writers produce.
func parseTime(s string) time.Time {
	for _, layout := range []string{timeLayout, "2006-01-02 15:04:05", time.RFC3339Nano, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// GetStats returns row counts per table, for diagnostics.
func (s *Store) GetStats() (map[string]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := make(map[string]int64)
	tables := []string{
		"projects", "tasks", "task_dependencies", "resource_nodes",
		"resource_edges", "learnings", "pattern_frequency", "event_queue",
		"sub_agents", "mcp_tools", "tech_stack", "project_guidelines",
		"code_patterns_library", "templates",
	}
	for _, table := range tables {
		var count int64
		if err := s.db.QueryRow(fmt.Sprintf("SELECT COUNT(*) FROM %s", table)).Scan(&count); err != nil {
			logging.StoreDebug("Table %s count failed: %v", table, err)
			continue
		}
		stats[table] = count
	}
	return stats, nil
}
