package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"orchestro/internal/logging"
)

// ConflictCandidate is one overlapping edge pair: another not-done task
// touching a resource this task also touches. Classification into conflict
// types and severities is the graph service's job.
type ConflictCandidate struct {
	TaskID       string
	TaskTitle    string
	TaskStatus   Status
	ResourceID   string
	ResourceName string
	MyAction     string
	OtherAction  string
}

// ResourceEdgeDetail is an edge joined with its resource node.
type ResourceEdgeDetail struct {
	TaskID       string `json:"task_id"`
	ResourceID   string `json:"resource_id"`
	Action       string `json:"action"`
	ResourceType string `json:"resource_type"`
	ResourceName string `json:"resource_name"`
}

// ResourceTaskUse is one task's relationship to a resource.
type ResourceTaskUse struct {
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
	Action string `json:"action"`
}

// UpsertResourceNode inserts or refreshes a node keyed by (type, name).
// The path is updated when a non-empty one is provided.
func (s *Store) UpsertResourceNode(resType, name, path string) (*ResourceNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var node *ResourceNode
	err := s.inTx(func(tx *sql.Tx) error {
		var err error
		node, err = upsertResourceNodeTx(tx, resType, name, path)
		return err
	})
	return node, err
}

func upsertResourceNodeTx(tx *sql.Tx, resType, name, path string) (*ResourceNode, error) {
	if resType == "" || name == "" {
		return nil, fmt.Errorf("%w: resource type and name are required", ErrValidation)
	}
	now := nowUTC()
	_, err := tx.Exec(`
		INSERT INTO resource_nodes (id, type, name, path, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(type, name) DO UPDATE SET
			path = CASE WHEN excluded.path != '' THEN excluded.path ELSE resource_nodes.path END`,
		uuid.New().String(), resType, name, path, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert resource node: %w", err)
	}

	node := &ResourceNode{}
	var createdAt string
	err = tx.QueryRow(
		`SELECT id, type, name, path, created_at FROM resource_nodes WHERE type = ? AND name = ?`,
		resType, name).Scan(&node.ID, &node.Type, &node.Name, &node.Path, &createdAt)
	if err != nil {
		return nil, fmt.Errorf("failed to read resource node: %w", err)
	}
	node.CreatedAt = parseTime(createdAt)
	return node, nil
}

// GetResourceNode loads a node by id.
func (s *Store) GetResourceNode(id string) (*ResourceNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node := &ResourceNode{}
	var createdAt string
	err := s.db.QueryRow(
		`SELECT id, type, name, path, created_at FROM resource_nodes WHERE id = ?`, id).
		Scan(&node.ID, &node.Type, &node.Name, &node.Path, &createdAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("%w: resource %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read resource node: %w", err)
	}
	node.CreatedAt = parseTime(createdAt)
	return node, nil
}

// ReplaceTaskResourceEdges swaps the task's resource edges atomically:
// delete-then-insert under one transaction.
func (s *Store) ReplaceTaskResourceEdges(taskID string, edges []ResourceEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.inTx(func(tx *sql.Tx) error {
		if _, err := getTaskTx(tx, taskID); err != nil {
			return err
		}
		return replaceEdgesTx(tx, taskID, edges)
	})
}

func replaceEdgesTx(tx *sql.Tx, taskID string, edges []ResourceEdge) error {
	if _, err := tx.Exec(`DELETE FROM resource_edges WHERE task_id = ?`, taskID); err != nil {
		return fmt.Errorf("failed to clear resource edges: %w", err)
	}
	for _, e := range edges {
		if _, err := tx.Exec(
			`INSERT OR IGNORE INTO resource_edges (task_id, resource_id, action) VALUES (?, ?, ?)`,
			taskID, e.ResourceID, e.Action); err != nil {
			return fmt.Errorf("failed to insert resource edge: %w", err)
		}
	}
	return nil
}

// ApplyTaskAnalysis persists an analysis record in one transaction:
// resource nodes upserted, the task's edges replaced, the record stored
// verbatim under task.metadata.analysis, conflict-derived events (via the
// caller's classifier) and the analysis_completed update event appended to
// the queue.
func (s *Store) ApplyTaskAnalysis(taskID string, analysis *TaskAnalysis, conflictEvents func([]ConflictCandidate) []EventDraft) error {
	timer := logging.StartTimer(logging.CategoryStore, "ApplyTaskAnalysis")
	defer timer.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()

	if analysis == nil {
		return fmt.Errorf("%w: analysis is required", ErrValidation)
	}

	return s.inTx(func(tx *sql.Tx) error {
		t, err := getTaskTx(tx, taskID)
		if err != nil {
			return err
		}

		now := nowUTC()
		edges := make([]ResourceEdge, 0, len(analysis.Dependencies))
		for _, dep := range analysis.Dependencies {
			node, err := upsertResourceNodeTx(tx, dep.Type, dep.Name, dep.Path)
			if err != nil {
				return err
			}
			action := dep.Action
			if action == "" {
				action = ActionUses
			}
			edges = append(edges, ResourceEdge{TaskID: taskID, ResourceID: node.ID, Action: action})
		}
		if err := replaceEdgesTx(tx, taskID, edges); err != nil {
			return err
		}

		analysis.AnalyzedAt = now
		if t.Metadata == nil {
			t.Metadata = &TaskMetadata{}
		}
		t.Metadata.Analysis = analysis
		t.UpdatedAt = now
		if err := writeTaskTx(tx, t); err != nil {
			return err
		}

		var drafts []EventDraft
		if conflictEvents != nil {
			cands, err := conflictCandidatesQ(tx, taskID)
			if err != nil {
				return err
			}
			drafts = append(drafts, conflictEvents(cands)...)
		}
		drafts = append(drafts, EventDraft{Type: EventTaskUpdated, Payload: map[string]any{
			"task_id":     taskID,
			"update_type": "analysis_completed",
			"changes": map[string]any{
				"files_to_modify": len(analysis.FilesToModify),
				"files_to_create": len(analysis.FilesToCreate),
				"dependencies":    len(analysis.Dependencies),
				"risks":           len(analysis.Risks),
			},
		}})
		return emitTx(tx, now, drafts...)
	})
}

// ConflictCandidates returns overlapping edge pairs for a task: every edge
// of another not-done task touching a resource this task touches.
func (s *Store) ConflictCandidates(taskID string) ([]ConflictCandidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return conflictCandidatesQ(s.db, taskID)
}

func conflictCandidatesQ(q queryer, taskID string) ([]ConflictCandidate, error) {
	rows, err := q.Query(`
		SELECT other.id, other.title, other.status, n.id, n.name, mine.action, theirs.action
		FROM resource_edges mine
		JOIN resource_edges theirs
		  ON theirs.resource_id = mine.resource_id AND theirs.task_id != mine.task_id
		JOIN tasks other ON other.id = theirs.task_id
		JOIN resource_nodes n ON n.id = mine.resource_id
		WHERE mine.task_id = ? AND other.status != 'done'
		ORDER BY n.name, other.id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to query conflicts: %w", err)
	}
	defer rows.Close()

	var cands []ConflictCandidate
	for rows.Next() {
		var c ConflictCandidate
		var status string
		if err := rows.Scan(&c.TaskID, &c.TaskTitle, &status, &c.ResourceID,
			&c.ResourceName, &c.MyAction, &c.OtherAction); err != nil {
			return nil, fmt.Errorf("failed to scan conflict candidate: %w", err)
		}
		c.TaskStatus = Status(status)
		cands = append(cands, c)
	}
	return cands, rows.Err()
}

// TaskResourceGraph returns the task's resource nodes and labeled edges.
func (s *Store) TaskResourceGraph(taskID string) ([]ResourceNode, []ResourceEdgeDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT n.id, n.type, n.name, n.path, n.created_at, e.action
		FROM resource_edges e JOIN resource_nodes n ON n.id = e.resource_id
		WHERE e.task_id = ?
		ORDER BY n.type, n.name, e.action`, taskID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query resource graph: %w", err)
	}
	defer rows.Close()

	seen := map[string]bool{}
	var nodes []ResourceNode
	var edges []ResourceEdgeDetail
	for rows.Next() {
		var n ResourceNode
		var createdAt, action string
		if err := rows.Scan(&n.ID, &n.Type, &n.Name, &n.Path, &createdAt, &action); err != nil {
			return nil, nil, fmt.Errorf("failed to scan resource row: %w", err)
		}
		n.CreatedAt = parseTime(createdAt)
		if !seen[n.ID] {
			seen[n.ID] = true
			nodes = append(nodes, n)
		}
		edges = append(edges, ResourceEdgeDetail{
			TaskID:       taskID,
			ResourceID:   n.ID,
			Action:       action,
			ResourceType: n.Type,
			ResourceName: n.Name,
		})
	}
	return nodes, edges, rows.Err()
}

// ResourceUsage returns every task holding an edge to the resource.
func (s *Store) ResourceUsage(resourceID string) (*ResourceNode, []ResourceTaskUse, error) {
	node, err := s.GetResourceNode(resourceID)
	if err != nil {
		return nil, nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT t.id, t.title, e.action
		FROM resource_edges e JOIN tasks t ON t.id = e.task_id
		WHERE e.resource_id = ?
		ORDER BY t.created_at, t.id`, resourceID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to query resource usage: %w", err)
	}
	defer rows.Close()

	var uses []ResourceTaskUse
	for rows.Next() {
		var u ResourceTaskUse
		if err := rows.Scan(&u.TaskID, &u.Title, &u.Action); err != nil {
			return nil, nil, fmt.Errorf("failed to scan usage row: %w", err)
		}
		uses = append(uses, u)
	}
	return node, uses, rows.Err()
}
