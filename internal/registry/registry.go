// Package registry holds the in-memory task table shared by the HTTP layer
// and the executor. State is volatile and scoped to the process lifetime.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/seantiz/kiln/internal/model"
)

// ErrNotFound is returned when a task is not found.
var ErrNotFound = errors.New("task not found")

// ErrExists is returned when creating a task whose id is already registered.
var ErrExists = errors.New("task already exists")

// ErrInvalidTransition is returned when a task status transition is not allowed.
var ErrInvalidTransition = errors.New("invalid status transition")

// Registry is a concurrency-safe map of tasks keyed by id. Reads return
// snapshot copies so callers never observe a task mid-mutation, and List
// preserves submission order.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*model.Task
	order []string
}

// New creates an empty task registry.
func New() *Registry {
	return &Registry{
		tasks: make(map[string]*model.Task),
	}
}

// Create registers a new task. The task is cloned on the way in, so the
// caller's copy stays detached from registry state.
func (r *Registry) Create(t *model.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tasks[t.ID]; ok {
		return fmt.Errorf("%w: %s", ErrExists, t.ID)
	}

	c := t.Clone()
	r.tasks[t.ID] = &c
	r.order = append(r.order, t.ID)
	return nil
}

// Get returns a snapshot of the task with the given id.
func (r *Registry) Get(id string) (model.Task, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tasks[id]
	if !ok {
		return model.Task{}, ErrNotFound
	}
	return t.Clone(), nil
}

// Update applies fn to a scratch copy of the task and commits the result.
// A status change is checked against the transition table before the commit,
// so a rejected update leaves the stored task untouched.
func (r *Registry) Update(id string, fn func(*model.Task)) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tasks[id]
	if !ok {
		return ErrNotFound
	}

	c := t.Clone()
	fn(&c)
	c.ID = id

	if c.Status != t.Status && !model.ValidTransition(t.Status, c.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, c.Status)
	}

	r.tasks[id] = &c
	return nil
}

// List returns snapshots of all tasks in submission order.
func (r *Registry) List() []model.Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Task, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.tasks[id].Clone())
	}
	return out
}

// Len returns the number of registered tasks.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tasks)
}
