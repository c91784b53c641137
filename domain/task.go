package domain

import "encoding/json"

// TaskType distinguishes board-eligible todos from free-form notes.
type TaskType string

const (
	TaskTypeTodo TaskType = "todo"
	TaskTypeNote TaskType = "note"
)

// Priority is the stored urgency level of a todo. The zero value means unset
// and is encoded as JSON null.
type Priority string

const (
	PriorityNone   Priority = ""
	PriorityUrgent Priority = "urgent"
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Importance is the stored importance of a todo. The zero value means unset.
type Importance string

const (
	ImportanceNone         Importance = ""
	ImportanceImportant    Importance = "important"
	ImportanceNotImportant Importance = "not_important"
)

func (p Priority) MarshalJSON() ([]byte, error) { return nullableString(string(p)) }

func (p *Priority) UnmarshalJSON(b []byte) error {
	s, err := decodeNullableString(b)
	*p = Priority(s)
	return err
}

func (i Importance) MarshalJSON() ([]byte, error) { return nullableString(string(i)) }

func (i *Importance) UnmarshalJSON(b []byte) error {
	s, err := decodeNullableString(b)
	*i = Importance(s)
	return err
}

func nullableString(s string) ([]byte, error) {
	if s == "" {
		return []byte("null"), nil
	}
	return json.Marshal(s)
}

func decodeNullableString(b []byte) (string, error) {
	if string(b) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return "", err
	}
	return s, nil
}

// Task is a single todo or note owned by one user.
type Task struct {
	ID          int64      `json:"id"`
	UserID      string     `json:"userId"`
	Title       string     `json:"title"`
	Type        TaskType   `json:"type"`
	Priority    Priority   `json:"priority"`
	Importance  Importance `json:"importance"`
	IsCompleted bool       `json:"is_completed"`
	Archived    bool       `json:"archived"`
	Deleted     bool       `json:"deleted,omitempty"`
	KanbanOrder *int       `json:"kanban_order"`
	Color       string     `json:"color,omitempty"`
}

// NewTask carries the fields accepted when creating a task.
type NewTask struct {
	Title      string     `json:"title" validate:"required,max=255"`
	Type       TaskType   `json:"type" validate:"omitempty,oneof=todo note"`
	Priority   Priority   `json:"priority" validate:"omitempty,oneof=urgent high medium low"`
	Importance Importance `json:"importance" validate:"omitempty,oneof=important not_important"`
}

// OnBoard reports whether the task may appear in any board column.
func (t Task) OnBoard() bool {
	return t.Type != TaskTypeNote && !t.Archived && !t.Deleted
}

// WithDerived fills server-side derived fields.
func (t Task) WithDerived() Task {
	t.Color = PriorityColor(t.Priority)
	return t
}

// PriorityColor maps a priority to the color used by the board cards.
func PriorityColor(p Priority) string {
	switch p {
	case PriorityUrgent:
		return "red"
	case PriorityHigh:
		return "orange"
	case PriorityMedium:
		return "yellow"
	case PriorityLow:
		return "green"
	default:
		return "gray"
	}
}

// OrderValue returns the kanban order or 0 when unset.
func (t Task) OrderValue() int {
	if t.KanbanOrder == nil {
		return 0
	}
	return *t.KanbanOrder
}

// Less orders tasks for display: ascending kanban_order with unset orders
// last, ties broken by id.
func Less(a, b Task) bool {
	switch {
	case a.KanbanOrder == nil && b.KanbanOrder != nil:
		return false
	case a.KanbanOrder != nil && b.KanbanOrder == nil:
		return true
	case a.KanbanOrder != nil && b.KanbanOrder != nil && *a.KanbanOrder != *b.KanbanOrder:
		return *a.KanbanOrder < *b.KanbanOrder
	}
	return a.ID < b.ID
}

// IntPtr is a small helper for optional order values.
func IntPtr(v int) *int { return &v }
