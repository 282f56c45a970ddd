// Package config loads the orchestro workspace configuration from
// .orchestro/config.json. Every field has a working default so a missing
// config file yields a usable server.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// LoggingConfig controls the categorized file logger.
type LoggingConfig struct {
	DebugMode  bool            `json:"debug_mode"`
	Level      string          `json:"level"`
	Categories map[string]bool `json:"categories,omitempty"`
}

// DatabaseConfig points at the SQLite database file.
type DatabaseConfig struct {
	Path string `json:"path"`
}

// StoryConfig tunes user-story behaviour.
type StoryConfig struct {
	// DoneThreshold is the fraction of done sub-tasks at which a user
	// story is considered done. Default 0.80.
	DoneThreshold float64 `json:"done_threshold"`
}

// DecomposerConfig configures the external text completer.
type DecomposerConfig struct {
	Model          string `json:"model"`
	APIKeyEnv      string `json:"api_key_env"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// AgentsConfig configures Claude agent file sync.
type AgentsConfig struct {
	Dir   string `json:"dir"`
	Watch bool   `json:"watch"`
}

// Config is the full workspace configuration.
type Config struct {
	ProjectName string           `json:"project_name"`
	Logging     LoggingConfig    `json:"logging"`
	Database    DatabaseConfig   `json:"database"`
	Story       StoryConfig      `json:"story"`
	Decomposer  DecomposerConfig `json:"decomposer"`
	Agents      AgentsConfig     `json:"agents"`
}

// Default returns the configuration used when no config file exists.
func Default(workspace string) *Config {
	return &Config{
		ProjectName: filepath.Base(workspace),
		Logging:     LoggingConfig{DebugMode: false, Level: "info"},
		Database:    DatabaseConfig{Path: filepath.Join(workspace, ".orchestro", "orchestro.db")},
		Story:       StoryConfig{DoneThreshold: 0.80},
		Decomposer: DecomposerConfig{
			Model:          "gemini-2.0-flash",
			APIKeyEnv:      "GEMINI_API_KEY",
			TimeoutSeconds: 30,
		},
		Agents: AgentsConfig{Dir: filepath.Join(workspace, ".claude", "agents")},
	}
}

// Load reads .orchestro/config.json from the workspace, falling back to
// defaults for the file and for any zero-valued field.
func Load(workspace string) (*Config, error) {
	cfg := Default(workspace)

	path := filepath.Join(workspace, ".orchestro", "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults(workspace)
	return cfg, nil
}

func (c *Config) applyDefaults(workspace string) {
	def := Default(workspace)
	if c.ProjectName == "" {
		c.ProjectName = def.ProjectName
	}
	if c.Database.Path == "" {
		c.Database.Path = def.Database.Path
	}
	if c.Story.DoneThreshold <= 0 || c.Story.DoneThreshold > 1 {
		c.Story.DoneThreshold = def.Story.DoneThreshold
	}
	if c.Decomposer.Model == "" {
		c.Decomposer.Model = def.Decomposer.Model
	}
	if c.Decomposer.APIKeyEnv == "" {
		c.Decomposer.APIKeyEnv = def.Decomposer.APIKeyEnv
	}
	if c.Decomposer.TimeoutSeconds <= 0 {
		c.Decomposer.TimeoutSeconds = def.Decomposer.TimeoutSeconds
	}
	if c.Agents.Dir == "" {
		c.Agents.Dir = def.Agents.Dir
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Write saves a configuration as indented JSON.
func Write(c *Config, path string) error {
	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// FindWorkspaceRoot walks up from the current directory looking for an
// .orchestro directory. If none is found the current directory is returned.
func FindWorkspaceRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}
	for cur := dir; ; {
		if info, err := os.Stat(filepath.Join(cur, ".orchestro")); err == nil && info.IsDir() {
			return cur, nil
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return dir, nil
		}
		cur = parent
	}
}
