package domain

import (
	"errors"
	"testing"
)

func TestKanbanMoveCompletionClearsPriority(t *testing.T) {
	for _, p := range []Priority{PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow, PriorityNone} {
		got := KanbanMove{Priority: p, IsCompleted: true}.Apply(Task{Priority: p})
		if got.Priority != PriorityNone || !got.IsCompleted {
			t.Fatalf("priority %q: got %+v", p, got)
		}
	}
}

func TestToggleCompletion(t *testing.T) {
	done := ToggleCompletion{}.Apply(Task{Priority: PriorityHigh})
	if !done.IsCompleted || done.Priority != PriorityNone {
		t.Fatalf("unexpected completed task %+v", done)
	}
	reopened := ToggleCompletion{}.Apply(done)
	if reopened.IsCompleted {
		t.Fatalf("expected reopened task, got %+v", reopened)
	}
}

func TestCompletedTaskDroppedOnUrgentLane(t *testing.T) {
	task := Task{ID: 9, IsCompleted: true}
	move, err := MoveForColumn(task, ColumnUrgent)
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	km, ok := move.(KanbanMove)
	if !ok || km.Priority != PriorityUrgent || km.IsCompleted {
		t.Fatalf("unexpected move %#v", move)
	}
	if lane, _ := ClassifyKanban(move.Apply(task)); lane != ColumnUrgent {
		t.Fatalf("expected urgent lane, got %q", lane)
	}
}

func TestMoveForColumnLandsInTarget(t *testing.T) {
	start := []Task{
		{Priority: PriorityUrgent, Importance: ImportanceImportant},
		{Priority: PriorityLow},
		{Priority: PriorityHigh, Importance: ImportanceNotImportant},
		{IsCompleted: true},
	}
	for _, v := range []View{ViewKanban, ViewMatrix} {
		for _, c := range ColumnsFor(v) {
			for _, task := range start {
				if _, onView := Classify(v, task); !onView {
					continue
				}
				move, err := MoveForColumn(task, c)
				if err != nil {
					t.Fatalf("MoveForColumn(%q): %v", c, err)
				}
				if got := move.Apply(task); !InColumn(got, c) {
					t.Fatalf("task %+v moved to %q landed as %+v", task, c, got)
				}
			}
		}
	}
}

func TestMatrixMoveKeepsPriorityWithinUrgencyHalf(t *testing.T) {
	got := MatrixMove{Urgency: UrgencyUrgent, Importance: ImportanceNotImportant}.Apply(Task{Priority: PriorityHigh, Importance: ImportanceImportant})
	if got.Priority != PriorityHigh || got.Importance != ImportanceNotImportant {
		t.Fatalf("unexpected task %+v", got)
	}
	got = MatrixMove{Urgency: UrgencyNotUrgent, Importance: ImportanceImportant}.Apply(Task{Priority: PriorityUrgent})
	if got.Priority != PriorityMedium {
		t.Fatalf("expected medium priority, got %q", got.Priority)
	}
	got = MatrixMove{Urgency: UrgencyNotUrgent, Importance: ImportanceImportant}.Apply(Task{})
	if got.Priority != PriorityNone {
		t.Fatalf("expected unset priority to stay unset, got %q", got.Priority)
	}
}

func TestMediumLowLaneKeepsLowPriority(t *testing.T) {
	move, _ := MoveForColumn(Task{Priority: PriorityLow}, ColumnMediumLow)
	if move.(KanbanMove).Priority != PriorityLow {
		t.Fatalf("expected low priority to be kept, got %#v", move)
	}
}

func TestParseEnums(t *testing.T) {
	bad := "critical"
	if _, err := ParsePriority(&bad); err == nil {
		t.Fatal("expected invalid priority")
	}
	if p, err := ParsePriority(nil); err != nil || p != PriorityNone {
		t.Fatalf("nil priority: %q %v", p, err)
	}
	if _, err := ParseUrgency("soon"); err == nil {
		t.Fatal("expected invalid urgency")
	}
	_, err := ParseImportance("very")
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "importance" {
		t.Fatalf("expected importance validation error, got %v", err)
	}
}

func TestCheckReorder(t *testing.T) {
	owned := map[int64]Task{
		1: {ID: 1, Priority: PriorityUrgent, Importance: ImportanceImportant},
		2: {ID: 2, Priority: PriorityUrgent, Importance: ImportanceImportant},
		3: {ID: 3, Priority: PriorityLow},
		4: {ID: 4, Type: TaskTypeNote},
	}
	if err := CheckReorder(ColumnQ1, []int64{2, 1}, owned); err != nil {
		t.Fatalf("valid reorder rejected: %v", err)
	}
	if err := CheckReorder(ColumnQ1, []int64{2, 99}, owned); !errors.Is(err, ErrNotOwned) {
		t.Fatalf("expected ErrNotOwned, got %v", err)
	}
	if err := CheckReorder(ColumnQ1, []int64{1, 3}, owned); !errors.Is(err, ErrColumnMismatch) {
		t.Fatalf("expected ErrColumnMismatch, got %v", err)
	}
	if err := CheckReorder(ColumnQ1, []int64{4}, owned); !errors.Is(err, ErrIneligible) {
		t.Fatalf("expected ErrIneligible, got %v", err)
	}
	var verr *ValidationError
	if err := CheckReorder(ColumnQ1, []int64{1, 1}, owned); !errors.As(err, &verr) {
		t.Fatalf("expected duplicate validation error, got %v", err)
	}
	var terr *TaskError
	if err := CheckReorder(ColumnQ1, []int64{3}, owned); !errors.As(err, &terr) || terr.TaskID != 3 {
		t.Fatalf("expected task error for id 3, got %v", err)
	}
}

func TestLifecycleAndNextOrder(t *testing.T) {
	all := []Task{
		{ID: 1, Priority: PriorityUrgent, KanbanOrder: IntPtr(4)},
		{ID: 2, Priority: PriorityUrgent, KanbanOrder: IntPtr(7)},
		{ID: 3, Priority: PriorityLow, KanbanOrder: IntPtr(20)},
	}
	archived := ApplyLifecycle(all[0], LifecycleArchive, 0)
	if !archived.Archived || archived.KanbanOrder != nil {
		t.Fatalf("unexpected archived task %+v", archived)
	}
	next := NextOrder(Task{ID: 1, Priority: PriorityUrgent}, all)
	if next != 8 {
		t.Fatalf("expected next order 8, got %d", next)
	}
	restored := ApplyLifecycle(archived, LifecycleRestore, next)
	if restored.Archived || restored.OrderValue() != 8 {
		t.Fatalf("unexpected restored task %+v", restored)
	}
	if active := ApplyLifecycle(all[1], LifecycleRestore, next); active.OrderValue() != 7 {
		t.Fatalf("restoring an active task moved it to %d", active.OrderValue())
	}
}

func TestColumnChanged(t *testing.T) {
	a := Task{Priority: PriorityUrgent, Importance: ImportanceImportant}
	if ColumnChanged(a, a) {
		t.Fatal("identical tasks reported as moved")
	}
	b := a
	b.Importance = ImportanceNotImportant
	if !ColumnChanged(a, b) {
		t.Fatal("quadrant change not detected")
	}
}
