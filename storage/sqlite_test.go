package storage

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism-board/domain"
)

func newTestSQLite(t *testing.T) *SQLite {
	t.Helper()
	ctx := context.Background()
	s, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(ctx))
	return s
}

func create(t *testing.T, s Backend, userID, title string, p domain.Priority, i domain.Importance) domain.Task {
	t.Helper()
	task, err := s.CreateTask(context.Background(), userID, domain.NewTask{Title: title, Priority: p, Importance: i})
	require.NoError(t, err)
	return task
}

func ordersByID(t *testing.T, s Backend, userID string) map[int64]int {
	t.Helper()
	tasks, err := s.FetchTasks(context.Background(), userID)
	require.NoError(t, err)
	out := make(map[int64]int, len(tasks))
	for _, task := range tasks {
		out[task.ID] = task.OrderValue()
	}
	return out
}

func TestSQLiteCreateAppendsToLane(t *testing.T) {
	s := newTestSQLite(t)

	a := create(t, s, "u", "a", domain.PriorityUrgent, domain.ImportanceImportant)
	b := create(t, s, "u", "b", domain.PriorityUrgent, domain.ImportanceImportant)
	c := create(t, s, "u", "c", domain.PriorityLow, "")

	assert.Equal(t, 1, a.OrderValue())
	assert.Equal(t, 2, b.OrderValue())
	assert.Equal(t, 1, c.OrderValue(), "other lanes start their own sequence")
	assert.Equal(t, domain.TaskTypeTodo, a.Type)
}

func TestSQLiteReorderQuadrant(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a := create(t, s, "u", "a", domain.PriorityUrgent, domain.ImportanceImportant)
	b := create(t, s, "u", "b", domain.PriorityUrgent, domain.ImportanceImportant)
	other := create(t, s, "u", "other", domain.PriorityLow, domain.ImportanceNotImportant)
	before := ordersByID(t, s, "u")

	require.NoError(t, s.ReorderColumn(ctx, "u", domain.ColumnQ1, []int64{b.ID, a.ID}))

	after := ordersByID(t, s, "u")
	assert.Equal(t, 1, after[b.ID])
	assert.Equal(t, 2, after[a.ID])
	assert.Equal(t, before[other.ID], after[other.ID], "tasks outside the column stay untouched")
}

func TestSQLiteReorderIsIdempotent(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	ids := make([]int64, 0, 4)
	for _, title := range []string{"a", "b", "c", "d"} {
		ids = append(ids, create(t, s, "u", title, domain.PriorityHigh, "").ID)
	}
	reversed := []int64{ids[3], ids[2], ids[1], ids[0]}

	require.NoError(t, s.ReorderColumn(ctx, "u", domain.ColumnHigh, reversed))
	once := ordersByID(t, s, "u")
	require.NoError(t, s.ReorderColumn(ctx, "u", domain.ColumnHigh, reversed))
	assert.Equal(t, once, ordersByID(t, s, "u"))
}

func TestSQLiteReorderRejectsForeignTaskWithoutWrites(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	mine := create(t, s, "u", "mine", domain.PriorityUrgent, "")
	mine2 := create(t, s, "u", "mine2", domain.PriorityUrgent, "")
	theirs := create(t, s, "v", "theirs", domain.PriorityUrgent, "")
	beforeMine := ordersByID(t, s, "u")
	beforeTheirs := ordersByID(t, s, "v")

	err := s.ReorderColumn(ctx, "u", domain.ColumnUrgent, []int64{mine2.ID, theirs.ID, mine.ID})
	require.ErrorIs(t, err, domain.ErrNotOwned)

	assert.Equal(t, beforeMine, ordersByID(t, s, "u"))
	assert.Equal(t, beforeTheirs, ordersByID(t, s, "v"))
}

func TestSQLiteReorderRejectsColumnMismatch(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a := create(t, s, "u", "a", domain.PriorityUrgent, "")
	b := create(t, s, "u", "b", domain.PriorityLow, "")
	before := ordersByID(t, s, "u")

	err := s.ReorderColumn(ctx, "u", domain.ColumnUrgent, []int64{b.ID, a.ID})
	require.ErrorIs(t, err, domain.ErrColumnMismatch)
	var terr *domain.TaskError
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, b.ID, terr.TaskID)
	assert.Equal(t, before, ordersByID(t, s, "u"))
}

func TestSQLiteReorderWithoutOrderColumnIsNotReady(t *testing.T) {
	ctx := context.Background()
	s, err := OpenSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	a := create(t, s, "u", "a", domain.PriorityUrgent, "")
	assert.Nil(t, a.KanbanOrder)

	err = s.ReorderColumn(ctx, "u", domain.ColumnUrgent, []int64{a.ID})
	require.ErrorIs(t, err, domain.ErrStorageNotReady)

	moved, err := s.ApplyMove(ctx, "u", a.ID, domain.KanbanMove{Priority: domain.PriorityHigh})
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityHigh, moved.Priority)

	require.NoError(t, s.Migrate(ctx))
	require.NoError(t, s.ReorderColumn(ctx, "u", domain.ColumnHigh, []int64{a.ID}))
	assert.Equal(t, 1, ordersByID(t, s, "u")[a.ID])
}

func TestSQLiteApplyMoveCompletesAndClearsPriority(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	create(t, s, "u", "done already", domain.PriorityUrgent, "")
	a := create(t, s, "u", "a", domain.PriorityUrgent, "")

	moved, err := s.ApplyMove(ctx, "u", a.ID, domain.KanbanMove{Priority: domain.PriorityUrgent, IsCompleted: true})
	require.NoError(t, err)
	assert.True(t, moved.IsCompleted)
	assert.Equal(t, domain.PriorityNone, moved.Priority)
	assert.Equal(t, 1, moved.OrderValue(), "first task in the completed lane")

	stored, err := s.GetTask(ctx, "u", a.ID)
	require.NoError(t, err)
	assert.Equal(t, moved, stored)
}

func TestSQLiteApplyMoveSameColumnKeepsOrder(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	create(t, s, "u", "first", domain.PriorityHigh, domain.ImportanceImportant)
	a := create(t, s, "u", "a", domain.PriorityHigh, domain.ImportanceImportant)

	moved, err := s.ApplyMove(ctx, "u", a.ID, domain.MatrixMove{Urgency: domain.UrgencyUrgent, Importance: domain.ImportanceImportant})
	require.NoError(t, err)
	assert.Equal(t, a.KanbanOrder, moved.KanbanOrder)
	assert.Equal(t, domain.PriorityHigh, moved.Priority)
}

func TestSQLiteApplyMoveRejectsNotesAndForeignTasks(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	note, err := s.CreateTask(ctx, "u", domain.NewTask{Title: "note", Type: domain.TaskTypeNote})
	require.NoError(t, err)
	_, err = s.ApplyMove(ctx, "u", note.ID, domain.KanbanMove{Priority: domain.PriorityUrgent})
	require.ErrorIs(t, err, domain.ErrIneligible)

	theirs := create(t, s, "v", "theirs", domain.PriorityLow, "")
	_, err = s.ApplyMove(ctx, "u", theirs.ID, domain.KanbanMove{Priority: domain.PriorityUrgent})
	require.ErrorIs(t, err, domain.ErrNotOwned)

	stored, err := s.GetTask(ctx, "v", theirs.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PriorityLow, stored.Priority)
}

func TestSQLiteLifecycle(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a := create(t, s, "u", "a", domain.PriorityUrgent, "")
	create(t, s, "u", "b", domain.PriorityUrgent, "")

	archived, err := s.SetLifecycle(ctx, "u", a.ID, domain.LifecycleArchive)
	require.NoError(t, err)
	assert.True(t, archived.Archived)
	assert.Nil(t, archived.KanbanOrder)

	restored, err := s.SetLifecycle(ctx, "u", a.ID, domain.LifecycleRestore)
	require.NoError(t, err)
	assert.False(t, restored.Archived)
	assert.Equal(t, 3, restored.OrderValue())

	_, err = s.SetLifecycle(ctx, "u", a.ID, domain.LifecycleDelete)
	require.NoError(t, err)
	_, err = s.GetTask(ctx, "u", a.ID)
	require.ErrorIs(t, err, domain.ErrNotOwned)
	tasks, err := s.FetchTasks(ctx, "u")
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestSQLiteRestoreActiveKeepsOrder(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a := create(t, s, "u", "a", domain.PriorityUrgent, "")
	create(t, s, "u", "b", domain.PriorityUrgent, "")

	restored, err := s.SetLifecycle(ctx, "u", a.ID, domain.LifecycleRestore)
	require.NoError(t, err)
	assert.Equal(t, 1, restored.OrderValue())
	assert.Equal(t, 1, ordersByID(t, s, "u")[a.ID])
}

func TestSQLiteConcurrentReordersSerialize(t *testing.T) {
	s := newTestSQLite(t)
	ctx := context.Background()

	a := create(t, s, "u", "a", domain.PriorityUrgent, "")
	b := create(t, s, "u", "b", domain.PriorityUrgent, "")
	orders := [][]int64{{a.ID, b.ID}, {b.ID, a.ID}}

	var wg sync.WaitGroup
	errs := make([]error, len(orders))
	for i := range orders {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.ReorderColumn(ctx, "u", domain.ColumnUrgent, orders[i])
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}

	got := ordersByID(t, s, "u")
	assert.ElementsMatch(t, []int{1, 2}, []int{got[a.ID], got[b.ID]}, "one full ordering wins, never a mix")
}

func TestNewSQLiteRejectsClosedDB(t *testing.T) {
	db, err := sql.Open("sqlite", ":memory:")
	require.NoError(t, err)
	require.NoError(t, db.Close())
	_, err = NewSQLite(context.Background(), db)
	assert.Error(t, err)
}
