/*
Package undo provides reversible wrappers around destructive operations.

PURPOSE:
  Commands capture everything needed to reverse themselves BEFORE executing
  (entry copies, loan snapshots, batch ids), so Undo restores exact prior
  state and Redo re-applies without recomputation drift.

STACK SEMANTICS:
  - The undo stack is bounded; executing past the bound evicts the oldest
    command together with its captured state.
  - Executing any new command clears the redo stack.
  - A failed Undo leaves the command on the undo stack so the user can
    retry after fixing the cause (e.g. a locked database file).

SEE ALSO:
  - txn: the delete/edit cascades commands delegate to
  - loan: the batch operations mass commands wrap
*/
package undo

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"
)

// DefaultDepth is the undo stack bound used when none is configured.
const DefaultDepth = 50

var (
	ErrNothingToUndo = errors.New("nothing to undo")
	ErrNothingToRedo = errors.New("nothing to redo")
)

// Command is a reversible operation. Execute performs it the first time,
// Undo reverses it, Redo re-applies it after an Undo.
type Command interface {
	Execute(ctx context.Context) error
	Undo(ctx context.Context) error
	Redo(ctx context.Context) error
	Description() string
}

// Manager owns the bounded undo and redo stacks.
type Manager struct {
	mu    sync.Mutex
	undo  []Command
	redo  []Command
	depth int
	log   *zap.Logger
}

// NewManager builds a command manager with the given stack depth. A depth
// of zero or less falls back to DefaultDepth.
func NewManager(depth int, log *zap.Logger) *Manager {
	if depth <= 0 {
		depth = DefaultDepth
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Manager{depth: depth, log: log}
}

// Execute runs the command and, on success, pushes it onto the undo stack
// and clears the redo stack.
func (m *Manager) Execute(ctx context.Context, cmd Command) error {
	if err := cmd.Execute(ctx); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.pushUndoLocked(cmd)
	m.redo = nil

	m.log.Info("command executed", zap.String("command", cmd.Description()))
	return nil
}

// Undo reverses the most recent command and moves it to the redo stack.
// Returns the undone command's description.
func (m *Manager) Undo(ctx context.Context) (string, error) {
	m.mu.Lock()
	if len(m.undo) == 0 {
		m.mu.Unlock()
		return "", ErrNothingToUndo
	}
	cmd := m.undo[len(m.undo)-1]
	m.undo = m.undo[:len(m.undo)-1]
	m.mu.Unlock()

	if err := cmd.Undo(ctx); err != nil {
		// Leave it available for retry.
		m.mu.Lock()
		m.undo = append(m.undo, cmd)
		m.mu.Unlock()
		return "", err
	}

	m.mu.Lock()
	m.redo = append(m.redo, cmd)
	m.mu.Unlock()

	m.log.Info("command undone", zap.String("command", cmd.Description()))
	return cmd.Description(), nil
}

// Redo re-applies the most recently undone command and moves it back to
// the undo stack. Returns the redone command's description.
func (m *Manager) Redo(ctx context.Context) (string, error) {
	m.mu.Lock()
	if len(m.redo) == 0 {
		m.mu.Unlock()
		return "", ErrNothingToRedo
	}
	cmd := m.redo[len(m.redo)-1]
	m.redo = m.redo[:len(m.redo)-1]
	m.mu.Unlock()

	if err := cmd.Redo(ctx); err != nil {
		m.mu.Lock()
		m.redo = append(m.redo, cmd)
		m.mu.Unlock()
		return "", err
	}

	m.mu.Lock()
	m.pushUndoLocked(cmd)
	m.mu.Unlock()

	m.log.Info("command redone", zap.String("command", cmd.Description()))
	return cmd.Description(), nil
}

func (m *Manager) pushUndoLocked(cmd Command) {
	if len(m.undo) >= m.depth {
		// Evict the oldest command and its captured state.
		copy(m.undo, m.undo[1:])
		m.undo = m.undo[:len(m.undo)-1]
	}
	m.undo = append(m.undo, cmd)
}

// Clear drops both stacks. Used when the underlying data is wiped
// (scenario reloads): captured state would otherwise point at rows that
// no longer exist.
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.undo = nil
	m.redo = nil
}

// Depth returns the number of commands on the undo stack.
func (m *Manager) Depth() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undo)
}

// CanUndo reports whether the undo stack is non-empty.
func (m *Manager) CanUndo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.undo) > 0
}

// CanRedo reports whether the redo stack is non-empty.
func (m *Manager) CanRedo() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.redo) > 0
}

// UndoDescription returns the description of the command Undo would
// reverse, or "".
func (m *Manager) UndoDescription() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.undo) == 0 {
		return ""
	}
	return m.undo[len(m.undo)-1].Description()
}

// RedoDescription returns the description of the command Redo would
// re-apply, or "".
func (m *Manager) RedoDescription() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.redo) == 0 {
		return ""
	}
	return m.redo[len(m.redo)-1].Description()
}
