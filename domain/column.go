package domain

import (
	"fmt"
	"sort"
)

// View selects which family of columns a board shows.
type View string

const (
	ViewKanban View = "kanban"
	ViewMatrix View = "matrix"
)

// Column identifies a kanban lane or an Eisenhower quadrant.
type Column string

const (
	ColumnUrgent    Column = "urgent"
	ColumnHigh      Column = "high"
	ColumnMediumLow Column = "medium-low"
	ColumnCompleted Column = "completed"

	ColumnQ1 Column = "q1" // urgent + important
	ColumnQ2 Column = "q2" // not urgent + important
	ColumnQ3 Column = "q3" // urgent + not important
	ColumnQ4 Column = "q4" // not urgent + not important
)

var (
	kanbanColumns = []Column{ColumnUrgent, ColumnHigh, ColumnMediumLow, ColumnCompleted}
	matrixColumns = []Column{ColumnQ1, ColumnQ2, ColumnQ3, ColumnQ4}
)

// Urgency is the normalized urgency axis of the matrix view.
type Urgency string

const (
	UrgencyUrgent    Urgency = "urgent"
	UrgencyNotUrgent Urgency = "not_urgent"
)

// ParseView validates a view name. An empty string selects the kanban view.
func ParseView(s string) (View, error) {
	switch View(s) {
	case "", ViewKanban:
		return ViewKanban, nil
	case ViewMatrix:
		return ViewMatrix, nil
	}
	return "", &ValidationError{Field: "view", Message: fmt.Sprintf("unknown view %q", s)}
}

// ParseColumn validates a column identifier.
func ParseColumn(s string) (Column, error) {
	c := Column(s)
	if c.View() == "" {
		return "", &ValidationError{Field: "column", Message: fmt.Sprintf("unknown column %q", s)}
	}
	return c, nil
}

// View returns the view a column belongs to, or "" for unknown columns.
func (c Column) View() View {
	switch c {
	case ColumnUrgent, ColumnHigh, ColumnMediumLow, ColumnCompleted:
		return ViewKanban
	case ColumnQ1, ColumnQ2, ColumnQ3, ColumnQ4:
		return ViewMatrix
	}
	return ""
}

// ColumnsFor lists the columns of a view in display order.
func ColumnsFor(v View) []Column {
	if v == ViewMatrix {
		return append([]Column(nil), matrixColumns...)
	}
	return append([]Column(nil), kanbanColumns...)
}

// NormalizeUrgency folds a stored priority onto the matrix urgency axis.
func NormalizeUrgency(p Priority) Urgency {
	if p == PriorityUrgent || p == PriorityHigh {
		return UrgencyUrgent
	}
	return UrgencyNotUrgent
}

// NormalizeImportance folds a stored importance onto the matrix importance
// axis. Legacy rows store "high" for important.
func NormalizeImportance(i Importance) Importance {
	if i == ImportanceImportant || i == "high" {
		return ImportanceImportant
	}
	return ImportanceNotImportant
}

// ClassifyKanban returns the kanban lane of t. Archived, deleted and note
// rows are not on the board.
func ClassifyKanban(t Task) (Column, bool) {
	if !t.OnBoard() {
		return "", false
	}
	if t.IsCompleted {
		return ColumnCompleted, true
	}
	switch t.Priority {
	case PriorityUrgent:
		return ColumnUrgent, true
	case PriorityHigh:
		return ColumnHigh, true
	}
	return ColumnMediumLow, true
}

// ClassifyMatrix returns the quadrant of t. The matrix only shows open work.
func ClassifyMatrix(t Task) (Column, bool) {
	if !t.OnBoard() || t.IsCompleted {
		return "", false
	}
	urgent := NormalizeUrgency(t.Priority) == UrgencyUrgent
	important := NormalizeImportance(t.Importance) == ImportanceImportant
	switch {
	case urgent && important:
		return ColumnQ1, true
	case important:
		return ColumnQ2, true
	case urgent:
		return ColumnQ3, true
	}
	return ColumnQ4, true
}

// Classify dispatches on the view.
func Classify(v View, t Task) (Column, bool) {
	if v == ViewMatrix {
		return ClassifyMatrix(t)
	}
	return ClassifyKanban(t)
}

// InColumn reports whether t currently classifies into c.
func InColumn(t Task, c Column) bool {
	got, ok := Classify(c.View(), t)
	return ok && got == c
}

// Group buckets tasks into the columns of v, each in display order. Tasks
// not shown on v are dropped; every column of v is present in the result.
func Group(v View, tasks []Task) map[Column][]Task {
	out := make(map[Column][]Task, 4)
	for _, c := range ColumnsFor(v) {
		out[c] = []Task{}
	}
	for _, t := range tasks {
		if c, ok := Classify(v, t); ok {
			out[c] = append(out[c], t)
		}
	}
	for _, list := range out {
		sort.SliceStable(list, func(i, j int) bool { return Less(list[i], list[j]) })
	}
	return out
}
