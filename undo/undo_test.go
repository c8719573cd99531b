package undo_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/lending-engine/undo"
)

// fakeCommand counts its invocations and can be told to fail.
type fakeCommand struct {
	name     string
	executed int
	undone   int
	redone   int
	failUndo error
}

func (c *fakeCommand) Execute(context.Context) error { c.executed++; return nil }
func (c *fakeCommand) Redo(context.Context) error    { c.redone++; return nil }
func (c *fakeCommand) Description() string           { return c.name }

func (c *fakeCommand) Undo(context.Context) error {
	if c.failUndo != nil {
		return c.failUndo
	}
	c.undone++
	return nil
}

// =============================================================================
// STACK SEMANTICS
// =============================================================================

func TestManager_UndoRedoRoundTrip(t *testing.T) {
	// GIVEN: one executed command
	// WHEN: it is undone and then redone
	// THEN: each phase runs exactly once and the stacks track the moves

	m := undo.NewManager(10, nil)
	ctx := context.Background()
	cmd := &fakeCommand{name: "delete entry 7"}

	require.NoError(t, m.Execute(ctx, cmd))
	assert.True(t, m.CanUndo())
	assert.False(t, m.CanRedo())
	assert.Equal(t, "delete entry 7", m.UndoDescription())

	desc, err := m.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "delete entry 7", desc)
	assert.Equal(t, 1, cmd.undone)
	assert.False(t, m.CanUndo())
	assert.True(t, m.CanRedo())
	assert.Equal(t, "delete entry 7", m.RedoDescription())

	desc, err = m.Redo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "delete entry 7", desc)
	assert.Equal(t, 1, cmd.redone)
	assert.True(t, m.CanUndo())
	assert.False(t, m.CanRedo())
}

func TestManager_EmptyStacks(t *testing.T) {
	m := undo.NewManager(10, nil)
	ctx := context.Background()

	_, err := m.Undo(ctx)
	assert.True(t, errors.Is(err, undo.ErrNothingToUndo))

	_, err = m.Redo(ctx)
	assert.True(t, errors.Is(err, undo.ErrNothingToRedo))

	assert.Empty(t, m.UndoDescription())
	assert.Empty(t, m.RedoDescription())
}

func TestManager_ExecuteClearsRedo(t *testing.T) {
	// GIVEN: a redo stack with one undone command
	// WHEN: a new command executes
	// THEN: the redo history is discarded

	m := undo.NewManager(10, nil)
	ctx := context.Background()

	first := &fakeCommand{name: "first"}
	require.NoError(t, m.Execute(ctx, first))
	_, err := m.Undo(ctx)
	require.NoError(t, err)
	require.True(t, m.CanRedo())

	require.NoError(t, m.Execute(ctx, &fakeCommand{name: "second"}))
	assert.False(t, m.CanRedo())
}

func TestManager_BoundedStackEvictsOldest(t *testing.T) {
	// GIVEN: a manager bounded at 2
	// WHEN: three commands execute
	// THEN: the oldest falls off and only the newer two can be undone

	m := undo.NewManager(2, nil)
	ctx := context.Background()

	for _, name := range []string{"first", "second", "third"} {
		require.NoError(t, m.Execute(ctx, &fakeCommand{name: name}))
	}
	assert.Equal(t, 2, m.Depth())

	desc, err := m.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "third", desc)

	desc, err = m.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "second", desc)

	_, err = m.Undo(ctx)
	assert.True(t, errors.Is(err, undo.ErrNothingToUndo))
}

func TestManager_FailedUndoStaysAvailable(t *testing.T) {
	// GIVEN: a command whose Undo fails
	// WHEN: the failure is resolved
	// THEN: a retry succeeds because the command never left the stack

	m := undo.NewManager(10, nil)
	ctx := context.Background()

	cmd := &fakeCommand{name: "flaky", failUndo: errors.New("database is locked")}
	require.NoError(t, m.Execute(ctx, cmd))

	_, err := m.Undo(ctx)
	require.Error(t, err)
	assert.True(t, m.CanUndo(), "failed undo must remain retryable")
	assert.False(t, m.CanRedo())

	cmd.failUndo = nil
	_, err = m.Undo(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, cmd.undone)
}
