// Package agents syncs Claude agent definition files (.claude/agents/*.md)
// into the sub_agents table, optionally watching the directory for changes.
package agents

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// AgentFile is one parsed agent definition: YAML front matter plus the
// prompt body.
type AgentFile struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Model       string   `json:"model,omitempty"`
	Tools       []string `json:"tools,omitempty"`
	Triggers    []string `json:"triggers,omitempty"`
	Prompt      string   `json:"prompt,omitempty"`
	// Extra holds front-matter keys the schema does not name.
	Extra map[string]any `json:"extra,omitempty"`
}

// frontMatter is the YAML schema of the known keys.
type frontMatter struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Model       string    `yaml:"model"`
	Tools       yaml.Node `yaml:"tools"`
	Triggers    []string  `yaml:"triggers"`
}

const delimiter = "---"

// Parse decodes an agent markdown file. The front matter sits between two
// "---" lines at the top; everything after the closing line is the prompt.
// fallbackName is used when the front matter names no agent.
func Parse(content, fallbackName string) (*AgentFile, error) {
	raw, body, err := splitFrontMatter(content)
	if err != nil {
		return nil, err
	}

	var fm frontMatter
	if err := yaml.Unmarshal([]byte(raw), &fm); err != nil {
		return nil, fmt.Errorf("invalid front matter: %w", err)
	}

	var all map[string]any
	if err := yaml.Unmarshal([]byte(raw), &all); err != nil {
		return nil, fmt.Errorf("invalid front matter: %w", err)
	}
	for _, known := range []string{"name", "description", "model", "tools", "triggers"} {
		delete(all, known)
	}
	if len(all) == 0 {
		all = nil
	}

	af := &AgentFile{
		Name:        fm.Name,
		Description: fm.Description,
		Model:       fm.Model,
		Tools:       parseTools(fm.Tools),
		Triggers:    fm.Triggers,
		Prompt:      strings.TrimSpace(body),
		Extra:       all,
	}
	if af.Name == "" {
		af.Name = fallbackName
	}
	if af.Name == "" {
		return nil, fmt.Errorf("agent file has no name")
	}
	return af, nil
}

func splitFrontMatter(content string) (front, body string, err error) {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 || strings.TrimSpace(lines[0]) != delimiter {
		return "", "", fmt.Errorf("missing front matter delimiter")
	}
	for i := 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == delimiter {
			return strings.Join(lines[1:i], "\n"), strings.Join(lines[i+1:], "\n"), nil
		}
	}
	return "", "", fmt.Errorf("unterminated front matter")
}

// parseTools accepts either a YAML list or a comma-separated scalar; both
// forms appear in the wild.
func parseTools(node yaml.Node) []string {
	switch node.Kind {
	case yaml.SequenceNode:
		var tools []string
		if err := node.Decode(&tools); err != nil {
			return nil
		}
		return tools
	case yaml.ScalarNode:
		var scalar string
		if err := node.Decode(&scalar); err != nil || scalar == "" {
			return nil
		}
		parts := strings.Split(scalar, ",")
		tools := make([]string, 0, len(parts))
		for _, p := range parts {
			if t := strings.TrimSpace(p); t != "" {
				tools = append(tools, t)
			}
		}
		return tools
	}
	return nil
}
