// Package workflow manages saved relay automations: persistent definitions,
// a bounded activity log, and the background runner that executes them.
package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"relaybot/internal/domain"
)

// activityLimit bounds the activity log; older entries are discarded.
const activityLimit = 50

// Registry owns the in-memory view of all workflows and the activity log.
// Every mutation runs under one mutex and is written through to the store;
// store failures are logged but never abort the in-memory change.
type Registry struct {
	mu        sync.Mutex
	workflows []domain.WorkflowDefinition
	activity  []domain.ActivityEntry
	store     *Store
	logger    *slog.Logger
}

// NewRegistry builds a registry backed by store. A nil store keeps all
// state in memory only. Persisted workflows and activity are loaded here.
func NewRegistry(store *Store, logger *slog.Logger) *Registry {
	r := &Registry{store: store, logger: logger}
	if store != nil {
		ctx := context.Background()
		defs, err := store.ListWorkflows(ctx)
		if err != nil {
			logger.Error("cannot load workflows", "error", err)
		} else {
			r.workflows = defs
		}
		entries, err := store.RecentActivity(ctx, activityLimit)
		if err != nil {
			logger.Error("cannot load activity log", "error", err)
		} else {
			r.activity = entries
		}
	}
	return r
}

// Create registers a workflow, assigning an ID when the definition carries
// none, and returns the stored copy.
func (r *Registry) Create(def domain.WorkflowDefinition) domain.WorkflowDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()

	if def.ID == "" {
		def.ID = uuid.New().String()
	}
	now := time.Now()
	if def.CreatedAt.IsZero() {
		def.CreatedAt = now
	}
	def.UpdatedAt = now

	r.workflows = append(r.workflows, def)
	r.appendLogLocked("Created workflow: " + def.Name)
	r.persistLocked(def)
	return def
}

// ToggleActive flips the active flag of the workflow with the given ID.
// Unknown IDs are a no-op and return false.
func (r *Registry) ToggleActive(id string) (domain.WorkflowDefinition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.workflows {
		if r.workflows[i].ID != id {
			continue
		}
		r.workflows[i].Active = !r.workflows[i].Active
		r.workflows[i].UpdatedAt = time.Now()
		def := r.workflows[i]
		if def.Active {
			r.appendLogLocked("Started workflow: " + def.Name)
		} else {
			r.appendLogLocked("Stopped workflow: " + def.Name)
		}
		r.persistLocked(def)
		return def, true
	}
	return domain.WorkflowDefinition{}, false
}

// Delete removes the workflow with the given ID. Unknown IDs are a no-op.
func (r *Registry) Delete(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.workflows {
		if r.workflows[i].ID != id {
			continue
		}
		name := r.workflows[i].Name
		r.workflows = append(r.workflows[:i], r.workflows[i+1:]...)
		r.appendLogLocked("Deleted workflow: " + name)
		if r.store != nil {
			if err := r.store.DeleteWorkflow(context.Background(), id); err != nil {
				r.logger.Error("cannot delete workflow", "id", id, "error", err)
			}
		}
		return true
	}
	return false
}

// AppendLog records a relay action in the activity log.
func (r *Registry) AppendLog(message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendLogLocked(message)
}

// Get returns a copy of the workflow with the given ID.
func (r *Registry) Get(id string) (domain.WorkflowDefinition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, def := range r.workflows {
		if def.ID == id {
			return def, true
		}
	}
	return domain.WorkflowDefinition{}, false
}

// List returns a snapshot of all workflows in creation order.
func (r *Registry) List() []domain.WorkflowDefinition {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.WorkflowDefinition, len(r.workflows))
	copy(out, r.workflows)
	return out
}

// Activity returns a snapshot of the activity log, oldest first.
func (r *Registry) Activity() []domain.ActivityEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.ActivityEntry, len(r.activity))
	copy(out, r.activity)
	return out
}

func (r *Registry) appendLogLocked(message string) {
	entry := domain.ActivityEntry{Timestamp: time.Now(), Message: message}
	r.activity = append(r.activity, entry)
	if len(r.activity) > activityLimit {
		r.activity = r.activity[len(r.activity)-activityLimit:]
	}
	r.logger.Debug("activity", "message", message)
	if r.store != nil {
		if err := r.store.AppendActivity(context.Background(), entry); err != nil {
			r.logger.Error("cannot persist activity entry", "error", err)
		}
	}
}

func (r *Registry) persistLocked(def domain.WorkflowDefinition) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveWorkflow(context.Background(), def); err != nil {
		r.logger.Error("cannot persist workflow", "id", def.ID, "error", err)
	}
}
