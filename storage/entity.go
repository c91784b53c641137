package storage

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bytedance/sonic"

	"prism-board/domain"
)

const (
	// counterRowKey sorts after every zero-padded task row key.
	counterRowKey = "~counter"
	rowKeyWidth   = 19
)

// Entity represents base table entity keys.
type Entity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
}

type taskEntity struct {
	Entity
	ETag        string `json:"odata.etag,omitempty"`
	Title       string `json:"Title"`
	Type        string `json:"Type,omitempty"`
	Priority    string `json:"Priority,omitempty"`
	Importance  string `json:"Importance,omitempty"`
	IsCompleted bool   `json:"IsCompleted"`
	Archived    bool   `json:"Archived"`
	Deleted     bool   `json:"Deleted"`
	KanbanOrder *int   `json:"KanbanOrder,omitempty"`
}

type orderUpdate struct {
	Entity
	KanbanOrder int `json:"KanbanOrder"`
}

type counterEntity struct {
	Entity
	ETag string `json:"odata.etag,omitempty"`
	Next int64  `json:"Next,string"`
	Type string `json:"Next@odata.type"`
}

func rowKey(id int64) string {
	return fmt.Sprintf("%0*d", rowKeyWidth, id)
}

func parseRowKey(rk string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimLeft(rk, "0"), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad task row key %q: %w", rk, err)
	}
	return id, nil
}

func entityFromTask(t domain.Task) taskEntity {
	return taskEntity{
		Entity:      Entity{PartitionKey: t.UserID, RowKey: rowKey(t.ID)},
		Title:       t.Title,
		Type:        string(t.Type),
		Priority:    string(t.Priority),
		Importance:  string(t.Importance),
		IsCompleted: t.IsCompleted,
		Archived:    t.Archived,
		Deleted:     t.Deleted,
		KanbanOrder: t.KanbanOrder,
	}
}

func (e taskEntity) task() (domain.Task, error) {
	id, err := parseRowKey(e.RowKey)
	if err != nil {
		return domain.Task{}, err
	}
	typ := domain.TaskType(e.Type)
	if typ == "" {
		typ = domain.TaskTypeTodo
	}
	return domain.Task{
		ID:          id,
		UserID:      e.PartitionKey,
		Title:       e.Title,
		Type:        typ,
		Priority:    domain.Priority(e.Priority),
		Importance:  domain.Importance(e.Importance),
		IsCompleted: e.IsCompleted,
		Archived:    e.Archived,
		Deleted:     e.Deleted,
		KanbanOrder: e.KanbanOrder,
	}, nil
}

func decodeTaskEntity(data []byte) (taskEntity, error) {
	var ent taskEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return taskEntity{}, err
	}
	return ent, nil
}
