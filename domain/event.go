package domain

import "github.com/bytedance/sonic"

const (
	EventTodosReordered = "todos-reordered"
	EventTodoMoved      = "todo-moved"
	EventTodoCreated    = "todo-created"
	EventTodoLifecycle  = "todo-lifecycle"
)

// BoardEvent describes a confirmed board change for downstream consumers.
type BoardEvent struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Column    Column                 `json:"column,omitempty"`
	TaskIDs   []int64                `json:"todoIds,omitempty"`
	Data      sonic.NoCopyRawMessage `json:"data,omitempty"`
	Timestamp int64                  `json:"timestamp"`
}

// BoardEventEnvelope wraps an event with the user it belongs to.
type BoardEventEnvelope struct {
	UserID string     `json:"userId"`
	Event  BoardEvent `json:"event"`
}
