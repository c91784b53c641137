package domain

import (
	"errors"
	"testing"
)

func TestClassifyKanban(t *testing.T) {
	tests := []struct {
		name string
		task Task
		want Column
		ok   bool
	}{
		{name: "completed wins over priority", task: Task{Priority: PriorityUrgent, IsCompleted: true}, want: ColumnCompleted, ok: true},
		{name: "urgent", task: Task{Priority: PriorityUrgent}, want: ColumnUrgent, ok: true},
		{name: "high", task: Task{Priority: PriorityHigh}, want: ColumnHigh, ok: true},
		{name: "medium", task: Task{Priority: PriorityMedium}, want: ColumnMediumLow, ok: true},
		{name: "low", task: Task{Priority: PriorityLow}, want: ColumnMediumLow, ok: true},
		{name: "unset", task: Task{}, want: ColumnMediumLow, ok: true},
		{name: "archived", task: Task{Priority: PriorityUrgent, Archived: true}},
		{name: "deleted", task: Task{Deleted: true}},
		{name: "note", task: Task{Type: TaskTypeNote, Priority: PriorityUrgent}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ClassifyKanban(tt.task)
			if got != tt.want || ok != tt.ok {
				t.Fatalf("ClassifyKanban = %q/%v, want %q/%v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestClassifyMatrix(t *testing.T) {
	tests := []struct {
		name string
		task Task
		want Column
		ok   bool
	}{
		{name: "q1", task: Task{Priority: PriorityUrgent, Importance: ImportanceImportant}, want: ColumnQ1, ok: true},
		{name: "q1 high counts as urgent", task: Task{Priority: PriorityHigh, Importance: ImportanceImportant}, want: ColumnQ1, ok: true},
		{name: "q1 legacy high importance", task: Task{Priority: PriorityUrgent, Importance: "high"}, want: ColumnQ1, ok: true},
		{name: "q2", task: Task{Priority: PriorityLow, Importance: ImportanceImportant}, want: ColumnQ2, ok: true},
		{name: "q3", task: Task{Priority: PriorityUrgent, Importance: ImportanceNotImportant}, want: ColumnQ3, ok: true},
		{name: "q4 unset", task: Task{}, want: ColumnQ4, ok: true},
		{name: "completed excluded", task: Task{Priority: PriorityUrgent, IsCompleted: true}},
		{name: "archived excluded", task: Task{Archived: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ClassifyMatrix(tt.task)
			if got != tt.want || ok != tt.ok {
				t.Fatalf("ClassifyMatrix = %q/%v, want %q/%v", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestClassifyIsTotalOverFieldSpace(t *testing.T) {
	priorities := []Priority{PriorityNone, PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow}
	importances := []Importance{ImportanceNone, ImportanceImportant, ImportanceNotImportant, "high"}
	for _, p := range priorities {
		for _, i := range importances {
			for _, done := range []bool{false, true} {
				task := Task{Priority: p, Importance: i, IsCompleted: done}
				lane, ok := ClassifyKanban(task)
				if !ok || !InColumn(task, lane) {
					t.Fatalf("task %+v has no kanban lane", task)
				}
				quad, ok := ClassifyMatrix(task)
				if ok == done {
					t.Fatalf("task %+v matrix membership %v", task, ok)
				}
				if ok && quad.View() != ViewMatrix {
					t.Fatalf("quadrant %q not in matrix view", quad)
				}
			}
		}
	}
}

func TestParseColumn(t *testing.T) {
	for _, c := range append(ColumnsFor(ViewKanban), ColumnsFor(ViewMatrix)...) {
		got, err := ParseColumn(string(c))
		if err != nil || got != c {
			t.Fatalf("ParseColumn(%q) = %q, %v", c, got, err)
		}
	}
	_, err := ParseColumn("q5")
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "column" {
		t.Fatalf("expected column validation error, got %v", err)
	}
}

func TestParseView(t *testing.T) {
	if v, err := ParseView(""); err != nil || v != ViewKanban {
		t.Fatalf("empty view: %q %v", v, err)
	}
	if v, err := ParseView("matrix"); err != nil || v != ViewMatrix {
		t.Fatalf("matrix view: %q %v", v, err)
	}
	if _, err := ParseView("calendar"); err == nil {
		t.Fatal("expected error for unknown view")
	}
}

func TestGroupSortsAndDropsHidden(t *testing.T) {
	tasks := []Task{
		{ID: 3, Type: TaskTypeTodo, Priority: PriorityUrgent, KanbanOrder: IntPtr(2)},
		{ID: 1, Type: TaskTypeTodo, Priority: PriorityUrgent},
		{ID: 2, Type: TaskTypeTodo, Priority: PriorityUrgent, KanbanOrder: IntPtr(1)},
		{ID: 4, Type: TaskTypeNote, Priority: PriorityUrgent},
		{ID: 5, Type: TaskTypeTodo, IsCompleted: true},
	}

	got := Group(ViewKanban, tasks)
	if len(got) != 4 {
		t.Fatalf("expected every kanban lane, got %d", len(got))
	}
	urgent := got[ColumnUrgent]
	if len(urgent) != 3 || urgent[0].ID != 2 || urgent[1].ID != 3 || urgent[2].ID != 1 {
		t.Fatalf("unexpected urgent lane: %#v", urgent)
	}
	if len(got[ColumnCompleted]) != 1 {
		t.Fatalf("expected completed task in completed lane")
	}

	matrix := Group(ViewMatrix, tasks)
	total := 0
	for _, list := range matrix {
		total += len(list)
	}
	if total != 3 {
		t.Fatalf("matrix should hide notes and completed tasks, got %d", total)
	}
}
