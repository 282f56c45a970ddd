// Package graph owns the task resource graph: persisting analysis records,
// classifying conflicts between tasks that touch the same resources, and
// the usage queries over nodes and edges.
package graph

import (
	"fmt"

	"orchestro/internal/cache"
	"orchestro/internal/logging"
	"orchestro/internal/store"
)

// Conflict severities and types.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"

	ConflictConcurrentModify   = "concurrent_modify"
	ConflictConcurrentWrite    = "concurrent_write"
	ConflictPotentialCollision = "potential_collision"
)

// Conflict is one classified overlap between two unfinished tasks.
type Conflict struct {
	TaskID       string `json:"task_id"`
	TaskTitle    string `json:"task_title"`
	ResourceID   string `json:"resource_id"`
	ResourceName string `json:"resource_name"`
	ConflictType string `json:"conflict_type"`
	Severity     string `json:"severity"`
	Description  string `json:"description"`
}

// Service wraps the store's resource-graph operations with conflict
// classification and caching.
type Service struct {
	store *store.Store
	cache *cache.Cache
}

// NewService builds a graph service.
func NewService(s *store.Store, c *cache.Cache) *Service {
	return &Service{store: s, cache: c}
}

// SaveTaskAnalysis persists the assistant's analysis record: resource nodes
// upserted, the task's edges replaced, the record stored on the task, and a
// guardian_intervention event queued for every high-severity conflict, all
// in one transaction.
func (g *Service) SaveTaskAnalysis(taskID string, analysis *store.TaskAnalysis) ([]Conflict, error) {
	timer := logging.StartTimer(logging.CategoryGraph, "SaveTaskAnalysis")
	defer timer.Stop()

	if analysis == nil {
		return nil, fmt.Errorf("%w: analysis is required", store.ErrValidation)
	}
	for _, dep := range analysis.Dependencies {
		if dep.Type == "" || dep.Name == "" {
			return nil, fmt.Errorf("%w: analysis dependency needs type and name", store.ErrValidation)
		}
	}

	var conflicts []Conflict
	err := g.store.ApplyTaskAnalysis(taskID, analysis, func(cands []store.ConflictCandidate) []store.EventDraft {
		conflicts = classify(cands)
		var drafts []store.EventDraft
		for _, c := range conflicts {
			if c.Severity != SeverityHigh {
				continue
			}
			drafts = append(drafts, store.EventDraft{
				Type: store.EventGuardianIntervention,
				Payload: map[string]any{
					"task_id":       taskID,
					"other_task_id": c.TaskID,
					"resource_id":   c.ResourceID,
					"resource_name": c.ResourceName,
					"conflict_type": c.ConflictType,
					"severity":      c.Severity,
					"description":   c.Description,
				},
			})
		}
		return drafts
	})
	if err != nil {
		return nil, err
	}

	g.cache.Invalidate("task:" + taskID)
	g.cache.InvalidatePattern("graph:*")
	if len(conflicts) > 0 {
		logging.Get(logging.CategoryGraph).Warn("Task %s analysis saved with %d conflicts", taskID, len(conflicts))
	}
	return conflicts, nil
}

// TaskConflicts classifies the task's current resource overlaps.
func (g *Service) TaskConflicts(taskID string) ([]Conflict, error) {
	if _, err := g.store.GetTask(taskID); err != nil {
		return nil, err
	}
	cands, err := g.store.ConflictCandidates(taskID)
	if err != nil {
		return nil, err
	}
	return classify(cands), nil
}

// classify maps overlapping edge pairs onto the conflict matrix. Pairs of
// plain uses edges do not conflict.
func classify(cands []store.ConflictCandidate) []Conflict {
	conflicts := []Conflict{}
	for _, c := range cands {
		conflictType, severity := classifyActions(c.MyAction, c.OtherAction)
		if conflictType == "" {
			continue
		}
		conflicts = append(conflicts, Conflict{
			TaskID:       c.TaskID,
			TaskTitle:    c.TaskTitle,
			ResourceID:   c.ResourceID,
			ResourceName: c.ResourceName,
			ConflictType: conflictType,
			Severity:     severity,
			Description: fmt.Sprintf("Task %q also %s %s while this task %s it",
				c.TaskTitle, thirdPerson(c.OtherAction), c.ResourceName, thirdPerson(c.MyAction)),
		})
	}
	return conflicts
}

func classifyActions(mine, other string) (string, string) {
	switch {
	case mine == store.ActionModifies && other == store.ActionModifies:
		return ConflictConcurrentModify, SeverityHigh
	case mine == store.ActionCreates && other == store.ActionCreates:
		return ConflictConcurrentWrite, SeverityHigh
	case mine == store.ActionModifies && other == store.ActionCreates,
		mine == store.ActionCreates && other == store.ActionModifies:
		return ConflictConcurrentWrite, SeverityHigh
	case mine == store.ActionUses && other == store.ActionModifies,
		mine == store.ActionModifies && other == store.ActionUses:
		return ConflictPotentialCollision, SeverityMedium
	default:
		return "", ""
	}
}

func thirdPerson(action string) string {
	switch action {
	case store.ActionUses:
		return "uses"
	case store.ActionModifies:
		return "modifies"
	case store.ActionCreates:
		return "creates"
	}
	return action
}

// DependencyGraph is a task's resource nodes and labeled edges.
type DependencyGraph struct {
	TaskID string                     `json:"task_id"`
	Nodes  []store.ResourceNode       `json:"nodes"`
	Edges  []store.ResourceEdgeDetail `json:"edges"`
}

// TaskDependencyGraph returns the resource graph for one task, cached.
func (g *Service) TaskDependencyGraph(taskID string) (*DependencyGraph, error) {
	if _, err := g.store.GetTask(taskID); err != nil {
		return nil, err
	}
	v, err := g.cache.GetOrSet("graph:task:"+taskID, cache.DefaultTTL, func() (any, error) {
		nodes, edges, err := g.store.TaskResourceGraph(taskID)
		if err != nil {
			return nil, err
		}
		if nodes == nil {
			nodes = []store.ResourceNode{}
		}
		if edges == nil {
			edges = []store.ResourceEdgeDetail{}
		}
		return &DependencyGraph{TaskID: taskID, Nodes: nodes, Edges: edges}, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*DependencyGraph), nil
}

// ResourceUsageReport lists every task holding an edge to a resource.
type ResourceUsageReport struct {
	Resource *store.ResourceNode     `json:"resource"`
	Tasks    []store.ResourceTaskUse `json:"tasks"`
}

// ResourceUsage returns the tasks attached to a resource node.
func (g *Service) ResourceUsage(resourceID string) (*ResourceUsageReport, error) {
	node, uses, err := g.store.ResourceUsage(resourceID)
	if err != nil {
		return nil, err
	}
	if uses == nil {
		uses = []store.ResourceTaskUse{}
	}
	return &ResourceUsageReport{Resource: node, Tasks: uses}, nil
}

// SaveDependencies replaces a task's resource edges directly, upserting the
// named nodes, without storing an analysis record. Used by the lighter
// save_dependencies tool.
func (g *Service) SaveDependencies(taskID string, deps []store.AnalysisDependency) (*DependencyGraph, error) {
	analysis := &store.TaskAnalysis{Dependencies: deps}

	// Reuse the analysis path for its node upserts and edge replacement but
	// keep the existing stored analysis record intact.
	existing, err := g.store.GetTask(taskID)
	if err != nil {
		return nil, err
	}
	if existing.Metadata != nil && existing.Metadata.Analysis != nil {
		prior := *existing.Metadata.Analysis
		prior.Dependencies = deps
		analysis = &prior
	}
	if _, err := g.SaveTaskAnalysis(taskID, analysis); err != nil {
		return nil, err
	}
	return g.TaskDependencyGraph(taskID)
}
