package api

import (
	"context"

	"prism-board/domain"
)

// Storage abstracts the order store for handlers.
type Storage interface {
	FetchTasks(ctx context.Context, userID string) ([]domain.Task, error)
	GetTask(ctx context.Context, userID string, id int64) (domain.Task, error)
	CreateTask(ctx context.Context, userID string, nt domain.NewTask) (domain.Task, error)
	ReorderColumn(ctx context.Context, userID string, col domain.Column, ids []int64) error
	ApplyMove(ctx context.Context, userID string, id int64, m domain.Move) (domain.Task, error)
	SetLifecycle(ctx context.Context, userID string, id int64, l domain.Lifecycle) (domain.Task, error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Sequencer rejects reorders issued before one that was already applied.
type Sequencer interface {
	// Claim records seq as the newest reorder for the user's column. It
	// returns false when an equal or newer sequence was already claimed.
	Claim(ctx context.Context, userID string, col domain.Column, seq int64) (bool, error)
	// Release forgets seq when the claimed reorder was not applied.
	Release(ctx context.Context, userID string, col domain.Column, seq int64) error
}

// Publisher forwards confirmed board changes to other sessions.
type Publisher interface {
	Publish(ctx context.Context, userID string, events []domain.BoardEvent) error
}
