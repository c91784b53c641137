package api

import "prism-board/domain"

const maxRequestBodySize = 64 * 1024 // 64 KiB

// POST /todos/reorder request body
type reorderRequest struct {
	Column   string  `json:"column" validate:"required"`
	TodoIDs  []int64 `json:"todo_ids" validate:"required,max=100,dive,gt=0"`
	Sequence *int64  `json:"sequence,omitempty" validate:"omitempty,gt=0"`
}

// POST /todos/:id/update-priority request body
type updatePriorityRequest struct {
	Priority    *string `json:"priority"`
	IsCompleted bool    `json:"is_completed"`
}

// POST /todos/:id/update-eisenhower request body
type updateEisenhowerRequest struct {
	Priority   string `json:"priority" validate:"required"`
	Importance string `json:"importance" validate:"required"`
}

type messageResponse struct {
	Message string `json:"message"`
}

type todoResponse struct {
	Message string      `json:"message"`
	Todo    domain.Task `json:"todo"`
}

type validationResponse struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors"`
}

type errorResponse struct {
	Message string `json:"message"`
	TodoID  int64  `json:"todo_id,omitempty"`
}

type boardColumn struct {
	Column domain.Column `json:"column"`
	Todos  []domain.Task `json:"todos"`
}

type boardResponse struct {
	View    domain.View   `json:"view"`
	Columns []boardColumn `json:"columns"`
}
