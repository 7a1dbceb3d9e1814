// Package history wraps every timeline mutation in a reversible command and
// maintains the bounded undo/redo stacks. Commands mutate the model and
// nothing else; caches and renderers observe committed edits through the
// session layer, never from in here.
package history

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"

	"github.com/openreel/engine/internal/timeline"
)

// DefaultMaxDepth bounds the undo and redo stacks.
const DefaultMaxDepth = 50

// Command is one reversible timeline mutation. Apply must capture the
// minimal before-state it needs to invert itself on first execution, so a
// later Revert/Apply cycle replays the identical effect. A failed Apply must
// leave the project unchanged.
type Command interface {
	Apply(p *timeline.Project) error
	Revert(p *timeline.Project) error
	Describe() string
}

type entry struct {
	id        string
	command   Command
	appliedAt time.Time
}

// Record is the serializable summary of one history entry.
type Record struct {
	ID          string    `json:"id"`
	Description string    `json:"description"`
	AppliedAt   time.Time `json:"applied_at"`
}

// History owns the undo/redo stacks for one project. All mutations are
// serialized through the internal lock, giving the model its single-writer
// discipline.
type History struct {
	mu       sync.Mutex
	logger   hclog.Logger
	project  *timeline.Project
	undo     []*entry
	redo     []*entry
	maxDepth int
	onCommit func(*timeline.Project)
}

// Option configures a History.
type Option func(*History)

// WithMaxDepth overrides the default stack depth.
func WithMaxDepth(depth int) Option {
	return func(h *History) {
		if depth > 0 {
			h.maxDepth = depth
		}
	}
}

// WithCommitHook installs a callback fired after every committed mutation
// (execute, undo and redo alike) with the freshly stamped project. The hook
// runs after the history lock is released, so it may call back into the
// history (CanUndo, Records) without deadlocking.
func WithCommitHook(fn func(*timeline.Project)) Option {
	return func(h *History) { h.onCommit = fn }
}

// New creates a history engine bound to a project.
func New(project *timeline.Project, logger hclog.Logger, opts ...Option) *History {
	h := &History{
		logger:   logger.Named("history"),
		project:  project,
		maxDepth: DefaultMaxDepth,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Execute applies a command and pushes it onto the undo stack. A failed
// command leaves the model and both stacks untouched. Executing a new
// command clears the redo stack.
func (h *History) Execute(cmd Command) error {
	h.mu.Lock()

	if err := cmd.Apply(h.project); err != nil {
		h.mu.Unlock()
		h.logger.Warn("command rejected", "command", cmd.Describe(), "error", err)
		return fmt.Errorf("failed to execute %s: %w", cmd.Describe(), err)
	}

	h.undo = append(h.undo, &entry{
		id:        uuid.New().String(),
		command:   cmd,
		appliedAt: time.Now(),
	})
	if len(h.undo) > h.maxDepth {
		h.undo = h.undo[len(h.undo)-h.maxDepth:]
	}
	h.redo = nil
	h.project.Touch()
	h.mu.Unlock()
	h.commit()

	h.logger.Debug("command applied", "command", cmd.Describe())
	return nil
}

// Undo reverts the most recent command. An empty undo stack is a no-op and
// returns false.
func (h *History) Undo() bool {
	h.mu.Lock()

	if len(h.undo) == 0 {
		h.mu.Unlock()
		return false
	}
	e := h.undo[len(h.undo)-1]
	if err := e.command.Revert(h.project); err != nil {
		// A revert failure means the stored before-state no longer matches
		// the model. Drop the entry instead of corrupting the stacks.
		h.undo = h.undo[:len(h.undo)-1]
		h.mu.Unlock()
		h.logger.Error("undo failed, dropping entry", "command", e.command.Describe(), "error", err)
		return false
	}
	h.undo = h.undo[:len(h.undo)-1]
	h.redo = append(h.redo, e)
	if len(h.redo) > h.maxDepth {
		h.redo = h.redo[len(h.redo)-h.maxDepth:]
	}
	h.project.Touch()
	h.mu.Unlock()
	h.commit()

	h.logger.Debug("command undone", "command", e.command.Describe())
	return true
}

// Redo re-applies the most recently undone command. An empty redo stack is a
// no-op and returns false.
func (h *History) Redo() bool {
	h.mu.Lock()

	if len(h.redo) == 0 {
		h.mu.Unlock()
		return false
	}
	e := h.redo[len(h.redo)-1]
	if err := e.command.Apply(h.project); err != nil {
		h.redo = h.redo[:len(h.redo)-1]
		h.mu.Unlock()
		h.logger.Error("redo failed, dropping entry", "command", e.command.Describe(), "error", err)
		return false
	}
	h.redo = h.redo[:len(h.redo)-1]
	h.undo = append(h.undo, e)
	h.project.Touch()
	h.mu.Unlock()
	h.commit()

	h.logger.Debug("command redone", "command", e.command.Describe())
	return true
}

// CanUndo reports whether Undo would do anything.
func (h *History) CanUndo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.undo) > 0
}

// CanRedo reports whether Redo would do anything.
func (h *History) CanRedo() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.redo) > 0
}

// Records returns summaries of the undo stack, oldest first.
func (h *History) Records() []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Record, len(h.undo))
	for i, e := range h.undo {
		out[i] = Record{ID: e.id, Description: e.command.Describe(), AppliedAt: e.appliedAt}
	}
	return out
}

// Clear drops both stacks, e.g. after loading a fresh project snapshot.
func (h *History) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.undo = nil
	h.redo = nil
}

// commit fires the installed hook. Callers must have released h.mu first:
// hooks are allowed to read the history back (CanUndo, Records).
func (h *History) commit() {
	if h.onCommit != nil {
		h.onCommit(h.project)
	}
}
