package domain

import "fmt"

// Move rewrites the attributes that decide which column a task lands in.
// The same implementation runs on the client for optimistic updates and on
// the server before persisting, so both sides always agree on the result.
type Move interface {
	Apply(Task) Task
}

// KanbanMove is the payload of update-priority. Completing a task clears its
// priority.
type KanbanMove struct {
	Priority    Priority
	IsCompleted bool
}

func (m KanbanMove) Apply(t Task) Task {
	t.IsCompleted = m.IsCompleted
	if m.IsCompleted {
		t.Priority = PriorityNone
	} else {
		t.Priority = m.Priority
	}
	return t
}

// MatrixMove is the payload of update-eisenhower. The stored priority is only
// rewritten when the urgency axis actually changes, so a high task dragged
// within the urgent half stays high.
type MatrixMove struct {
	Urgency    Urgency
	Importance Importance
}

func (m MatrixMove) Apply(t Task) Task {
	if NormalizeUrgency(t.Priority) != m.Urgency {
		if m.Urgency == UrgencyUrgent {
			t.Priority = PriorityUrgent
		} else {
			t.Priority = PriorityMedium
		}
	}
	t.Importance = m.Importance
	return t
}

// ToggleCompletion flips is_completed.
type ToggleCompletion struct{}

func (ToggleCompletion) Apply(t Task) Task {
	return KanbanMove{Priority: t.Priority, IsCompleted: !t.IsCompleted}.Apply(t)
}

// MoveForColumn returns the attribute change implied by dropping t onto c.
func MoveForColumn(t Task, c Column) (Move, error) {
	switch c {
	case ColumnUrgent:
		return KanbanMove{Priority: PriorityUrgent}, nil
	case ColumnHigh:
		return KanbanMove{Priority: PriorityHigh}, nil
	case ColumnMediumLow:
		p := t.Priority
		if p != PriorityMedium && p != PriorityLow {
			p = PriorityMedium
		}
		return KanbanMove{Priority: p}, nil
	case ColumnCompleted:
		return KanbanMove{IsCompleted: true}, nil
	case ColumnQ1:
		return MatrixMove{Urgency: UrgencyUrgent, Importance: ImportanceImportant}, nil
	case ColumnQ2:
		return MatrixMove{Urgency: UrgencyNotUrgent, Importance: ImportanceImportant}, nil
	case ColumnQ3:
		return MatrixMove{Urgency: UrgencyUrgent, Importance: ImportanceNotImportant}, nil
	case ColumnQ4:
		return MatrixMove{Urgency: UrgencyNotUrgent, Importance: ImportanceNotImportant}, nil
	}
	return nil, &ValidationError{Field: "column", Message: fmt.Sprintf("unknown column %q", c)}
}

// ColumnChanged reports whether before and after land in different kanban
// lanes or matrix quadrants.
func ColumnChanged(before, after Task) bool {
	for _, v := range []View{ViewKanban, ViewMatrix} {
		b, bok := Classify(v, before)
		a, aok := Classify(v, after)
		if b != a || bok != aok {
			return true
		}
	}
	return false
}

// ParsePriority validates an update-priority value. nil means unset.
func ParsePriority(s *string) (Priority, error) {
	if s == nil {
		return PriorityNone, nil
	}
	switch p := Priority(*s); p {
	case PriorityUrgent, PriorityHigh, PriorityMedium, PriorityLow:
		return p, nil
	}
	return "", &ValidationError{Field: "priority", Message: "The selected priority is invalid."}
}

// ParseUrgency validates the matrix urgency axis.
func ParseUrgency(s string) (Urgency, error) {
	switch u := Urgency(s); u {
	case UrgencyUrgent, UrgencyNotUrgent:
		return u, nil
	}
	return "", &ValidationError{Field: "priority", Message: "The selected priority is invalid."}
}

// ParseImportance validates the matrix importance axis.
func ParseImportance(s string) (Importance, error) {
	switch i := Importance(s); i {
	case ImportanceImportant, ImportanceNotImportant:
		return i, nil
	}
	return "", &ValidationError{Field: "importance", Message: "The selected importance is invalid."}
}

// Lifecycle names the explicit transitions that take a task on or off a board.
type Lifecycle string

const (
	LifecycleArchive Lifecycle = "archive"
	LifecycleRestore Lifecycle = "restore"
	LifecycleDelete  Lifecycle = "delete"
)

// ApplyLifecycle returns t after the transition. Leaving the board clears the
// order key; nextOrder supplies the tail position when coming back.
func ApplyLifecycle(t Task, l Lifecycle, nextOrder int) Task {
	switch l {
	case LifecycleArchive:
		t.Archived = true
		t.KanbanOrder = nil
	case LifecycleDelete:
		t.Deleted = true
		t.KanbanOrder = nil
	case LifecycleRestore:
		// Restoring an active task keeps its position.
		if !t.Archived {
			return t
		}
		t.Archived = false
		t.KanbanOrder = IntPtr(nextOrder)
	}
	return t
}

// CheckMovable rejects tasks that cannot take part in a board move.
func CheckMovable(t Task) error {
	if t.Type == TaskTypeNote {
		return taskErr(t.ID, ErrIneligible)
	}
	if t.Archived || t.Deleted {
		return taskErr(t.ID, ErrColumnMismatch)
	}
	return nil
}

// CheckReorder validates a reorder against the caller's current rows. Every
// id must be present in owned, be a todo, appear once, and classify into c.
func CheckReorder(c Column, ids []int64, owned map[int64]Task) error {
	seen := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return &ValidationError{Field: "todo_ids", Message: fmt.Sprintf("todo %d listed more than once", id)}
		}
		seen[id] = struct{}{}
		t, ok := owned[id]
		if !ok {
			return taskErr(id, ErrNotOwned)
		}
		if t.Type == TaskTypeNote {
			return taskErr(id, ErrIneligible)
		}
		if !InColumn(t, c) {
			return taskErr(id, ErrColumnMismatch)
		}
	}
	return nil
}

// NextOrder returns the tail position of the kanban lane t belongs to.
func NextOrder(t Task, all []Task) int {
	lane, ok := ClassifyKanban(t)
	max := 0
	for _, o := range all {
		if o.ID == t.ID || o.KanbanOrder == nil {
			continue
		}
		if l, lok := ClassifyKanban(o); ok && lok && l == lane && *o.KanbanOrder > max {
			max = *o.KanbanOrder
		}
	}
	return max + 1
}
