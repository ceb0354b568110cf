// Package registry tracks the latest known status of each connected agent.
// It is process-local and deliberately unpersisted: after a restart the
// registry is empty and dashboards must treat "no entry" as unknown.
package registry

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status is an agent's coarse work state.
type Status string

const (
	StatusWorking Status = "working"
	StatusBlocked Status = "blocked"
	StatusIdle    Status = "idle"
	StatusDone    Status = "done"
)

// ValidStatus reports whether s is a known status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusWorking, StatusBlocked, StatusIdle, StatusDone:
		return true
	}
	return false
}

// Entry is the latest known status for one agent. Entries are overwritten
// whole on every report; there is no merge logic and no history here.
type Entry struct {
	AgentID     string    `json:"agent_id"`
	Status      Status    `json:"status"`
	Task        string    `json:"task,omitempty"`
	Percent     int       `json:"percent"`
	Description string    `json:"description,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Registry is an injectable in-memory status table. Construct one per
// process (or per test) rather than sharing ambient state.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]Entry
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]Entry)}
}

// SetStatus overwrites the agent's entry with the given status and task.
// Progress fields reset; a status change starts a fresh report.
func (r *Registry) SetStatus(agentID string, status Status, task string) (Entry, error) {
	if agentID == "" {
		return Entry{}, fmt.Errorf("registry: agentID is required")
	}
	if !ValidStatus(status) {
		return Entry{}, fmt.Errorf("registry: invalid status %q", status)
	}
	entry := Entry{
		AgentID:   agentID,
		Status:    status,
		Task:      task,
		UpdatedAt: time.Now(),
	}
	r.mu.Lock()
	r.entries[agentID] = entry
	r.mu.Unlock()
	return entry, nil
}

// ReportProgress overwrites the agent's task, percent, and description.
// The previous status is kept if one exists; otherwise the agent is
// assumed working.
func (r *Registry) ReportProgress(agentID, task string, percent int, description string) (Entry, error) {
	if agentID == "" {
		return Entry{}, fmt.Errorf("registry: agentID is required")
	}
	if task == "" {
		return Entry{}, fmt.Errorf("registry: task is required")
	}
	if percent < 0 || percent > 100 {
		return Entry{}, fmt.Errorf("registry: percent %d out of range", percent)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	status := StatusWorking
	if prev, ok := r.entries[agentID]; ok {
		status = prev.Status
	}
	entry := Entry{
		AgentID:     agentID,
		Status:      status,
		Task:        task,
		Percent:     percent,
		Description: description,
		UpdatedAt:   time.Now(),
	}
	r.entries[agentID] = entry
	return entry, nil
}

// Get returns the entry for an agent, if one exists.
func (r *Registry) Get(agentID string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[agentID]
	return entry, ok
}

// List returns all entries, optionally filtered by status, ordered by
// agent ID for stable output.
func (r *Registry) List(status Status) []Entry {
	r.mu.RLock()
	entries := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		if status != "" && e.Status != status {
			continue
		}
		entries = append(entries, e)
	}
	r.mu.RUnlock()
	sort.Slice(entries, func(i, j int) bool { return entries[i].AgentID < entries[j].AgentID })
	return entries
}
