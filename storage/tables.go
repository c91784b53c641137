package storage

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

const (
	// maxTransactionActions is the Azure Table Storage batch limit.
	maxTransactionActions = 100
	maxConflictRetries    = 5
	edmInt64              = "Edm.Int64"
)

type tableClient interface {
	GetEntity(ctx context.Context, partitionKey, rowKey string, options *aztables.GetEntityOptions) (aztables.GetEntityResponse, error)
	AddEntity(ctx context.Context, entity []byte, options *aztables.AddEntityOptions) (aztables.AddEntityResponse, error)
	UpdateEntity(ctx context.Context, entity []byte, options *aztables.UpdateEntityOptions) (aztables.UpdateEntityResponse, error)
	NewListEntitiesPager(options *aztables.ListEntitiesOptions) *runtime.Pager[aztables.ListEntitiesResponse]
	SubmitTransaction(ctx context.Context, actions []aztables.TransactionAction, options *aztables.SubmitTransactionOptions) (aztables.TransactionResponse, error)
}

// Tables stores todos in Azure Table Storage, one partition per user. A
// reorder touches a single partition, so it is submitted as one batch
// transaction guarded by the ETags read just before.
type Tables struct {
	table tableClient
}

// NewTables creates a Tables store from the given connection string.
func NewTables(connStr, tasksTable string) (*Tables, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &Tables{table: svc.NewClient(tasksTable)}, nil
}

type storedTask struct {
	task domain.Task
	etag azcore.ETag
}

func (s *Tables) list(ctx context.Context, userID string) ([]storedTask, error) {
	filter := "PartitionKey eq '" + escapeODataString(userID) + "' and RowKey lt '" + counterRowKey + "'"
	pager := s.table.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	out := []storedTask{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, translateTableErr(err)
		}
		for _, raw := range resp.Entities {
			ent, err := decodeTaskEntity(raw)
			if err != nil {
				return nil, err
			}
			t, err := ent.task()
			if err != nil {
				return nil, err
			}
			out = append(out, storedTask{task: t, etag: azcore.ETag(ent.ETag)})
		}
	}
	return out, nil
}

// FetchTasks returns every task in the user's partition. A missing table
// reads as an empty board.
func (s *Tables) FetchTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	rows, err := s.list(ctx, userID)
	if errors.Is(err, domain.ErrStorageNotReady) {
		return []domain.Task{}, nil
	}
	if err != nil {
		return nil, err
	}
	tasks := make([]domain.Task, 0, len(rows))
	for _, r := range rows {
		if !r.task.Deleted {
			tasks = append(tasks, r.task)
		}
	}
	return tasks, nil
}

// GetTask loads one task from the user's partition.
func (s *Tables) GetTask(ctx context.Context, userID string, id int64) (domain.Task, error) {
	resp, err := s.table.GetEntity(ctx, userID, rowKey(id), nil)
	if err != nil {
		err = translateTableErr(err)
		if errors.Is(err, errEntityNotFound) {
			return domain.Task{}, &domain.TaskError{TaskID: id, Err: domain.ErrNotOwned}
		}
		return domain.Task{}, err
	}
	ent, err := decodeTaskEntity(resp.Value)
	if err != nil {
		return domain.Task{}, err
	}
	if ent.Deleted {
		return domain.Task{}, &domain.TaskError{TaskID: id, Err: domain.ErrNotOwned}
	}
	return ent.task()
}

// CreateTask allocates an id from the partition counter and appends the task
// to the end of its natural kanban lane.
func (s *Tables) CreateTask(ctx context.Context, userID string, nt domain.NewTask) (domain.Task, error) {
	id, err := s.nextID(ctx, userID)
	if err != nil {
		return domain.Task{}, err
	}
	rows, err := s.list(ctx, userID)
	if err != nil {
		return domain.Task{}, err
	}
	t := newTask(userID, id, nt)
	t.KanbanOrder = domain.IntPtr(domain.NextOrder(t, tasksOf(rows)))

	payload, err := sonic.Marshal(entityFromTask(t))
	if err != nil {
		return domain.Task{}, err
	}
	if _, err := s.table.AddEntity(ctx, payload, nil); err != nil {
		return domain.Task{}, translateTableErr(err)
	}
	return t, nil
}

func (s *Tables) nextID(ctx context.Context, userID string) (int64, error) {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		resp, err := s.table.GetEntity(ctx, userID, counterRowKey, nil)
		if err != nil {
			err = translateTableErr(err)
			if !errors.Is(err, errEntityNotFound) {
				return 0, err
			}
			ent := counterEntity{Entity: Entity{PartitionKey: userID, RowKey: counterRowKey}, Next: 2, Type: edmInt64}
			payload, err := sonic.Marshal(ent)
			if err != nil {
				return 0, err
			}
			if _, err := s.table.AddEntity(ctx, payload, nil); err != nil {
				if errors.Is(translateTableErr(err), domain.ErrConcurrencyConflict) {
					continue
				}
				return 0, translateTableErr(err)
			}
			return 1, nil
		}

		var ent counterEntity
		if err := sonic.Unmarshal(resp.Value, &ent); err != nil {
			return 0, err
		}
		id := ent.Next
		ent.Next++
		ent.Type = edmInt64
		ent.ETag = ""
		payload, err := sonic.Marshal(ent)
		if err != nil {
			return 0, err
		}
		etag := resp.ETag
		_, err = s.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
		if err == nil {
			return id, nil
		}
		if !errors.Is(translateTableErr(err), domain.ErrConcurrencyConflict) {
			return 0, translateTableErr(err)
		}
	}
	return 0, domain.ErrConcurrencyConflict
}

// ReorderColumn assigns kanban_order 1..n to ids in one batch transaction.
// Any id outside the user's partition or the column aborts the whole batch
// before anything is written.
func (s *Tables) ReorderColumn(ctx context.Context, userID string, col domain.Column, ids []int64) error {
	if len(ids) > maxTransactionActions {
		return domain.ErrTooManyIDs
	}
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		rows, err := s.list(ctx, userID)
		if err != nil {
			return err
		}
		owned := make(map[int64]domain.Task, len(rows))
		etags := make(map[int64]azcore.ETag, len(rows))
		for _, r := range rows {
			if r.task.Deleted {
				continue
			}
			owned[r.task.ID] = r.task
			etags[r.task.ID] = r.etag
		}
		if err := domain.CheckReorder(col, ids, owned); err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}

		actions := make([]aztables.TransactionAction, 0, len(ids))
		for i, id := range ids {
			payload, err := sonic.Marshal(orderUpdate{Entity: Entity{PartitionKey: userID, RowKey: rowKey(id)}, KanbanOrder: i + 1})
			if err != nil {
				return err
			}
			etag := etags[id]
			actions = append(actions, aztables.TransactionAction{
				ActionType: aztables.TransactionTypeUpdateMerge,
				Entity:     payload,
				IfMatch:    &etag,
			})
		}
		_, err = s.table.SubmitTransaction(ctx, actions, nil)
		if err == nil {
			return nil
		}
		err = translateTableErr(err)
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			return err
		}
		log.WithFields(log.Fields{"user": userID, "column": col, "attempt": attempt + 1}).Debug("reorder transaction conflict, retrying")
	}
	return domain.ErrConcurrencyConflict
}

// ApplyMove rewrites the column attributes of one task. A task that changes
// column is appended to the end of its new kanban lane.
func (s *Tables) ApplyMove(ctx context.Context, userID string, id int64, m domain.Move) (domain.Task, error) {
	return s.mutate(ctx, userID, id, func(t domain.Task, all []domain.Task) (domain.Task, error) {
		if err := domain.CheckMovable(t); err != nil {
			return domain.Task{}, err
		}
		after := m.Apply(t)
		if domain.ColumnChanged(t, after) {
			after.KanbanOrder = domain.IntPtr(domain.NextOrder(after, all))
		}
		return after, nil
	})
}

// SetLifecycle archives, restores or soft-deletes a task.
func (s *Tables) SetLifecycle(ctx context.Context, userID string, id int64, l domain.Lifecycle) (domain.Task, error) {
	return s.mutate(ctx, userID, id, func(t domain.Task, all []domain.Task) (domain.Task, error) {
		restored := t
		restored.Archived = false
		return domain.ApplyLifecycle(t, l, domain.NextOrder(restored, all)), nil
	})
}

func (s *Tables) mutate(ctx context.Context, userID string, id int64, fn func(domain.Task, []domain.Task) (domain.Task, error)) (domain.Task, error) {
	for attempt := 0; attempt < maxConflictRetries; attempt++ {
		rows, err := s.list(ctx, userID)
		if err != nil {
			return domain.Task{}, err
		}
		var (
			current storedTask
			found   bool
		)
		for _, r := range rows {
			if r.task.ID == id && !r.task.Deleted {
				current, found = r, true
				break
			}
		}
		if !found {
			return domain.Task{}, &domain.TaskError{TaskID: id, Err: domain.ErrNotOwned}
		}
		next, err := fn(current.task, tasksOf(rows))
		if err != nil {
			return domain.Task{}, err
		}
		payload, err := sonic.Marshal(entityFromTask(next))
		if err != nil {
			return domain.Task{}, err
		}
		etag := current.etag
		_, err = s.table.UpdateEntity(ctx, payload, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
		if err == nil {
			return next, nil
		}
		err = translateTableErr(err)
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			return domain.Task{}, err
		}
	}
	return domain.Task{}, domain.ErrConcurrencyConflict
}

var errEntityNotFound = errors.New("entity not found")

func translateTableErr(err error) error {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return err
	}
	switch {
	case respErr.ErrorCode == string(aztables.TableNotFound):
		return domain.ErrStorageNotReady
	case respErr.StatusCode == http.StatusPreconditionFailed,
		respErr.ErrorCode == "UpdateConditionNotSatisfied",
		respErr.ErrorCode == string(aztables.EntityAlreadyExists):
		return domain.ErrConcurrencyConflict
	case respErr.StatusCode == http.StatusNotFound:
		return errEntityNotFound
	}
	return err
}

func tasksOf(rows []storedTask) []domain.Task {
	out := make([]domain.Task, len(rows))
	for i, r := range rows {
		out[i] = r.task
	}
	return out
}

func newTask(userID string, id int64, nt domain.NewTask) domain.Task {
	typ := nt.Type
	if typ == "" {
		typ = domain.TaskTypeTodo
	}
	return domain.Task{
		ID:         id,
		UserID:     userID,
		Title:      nt.Title,
		Type:       typ,
		Priority:   nt.Priority,
		Importance: nt.Importance,
	}
}

func escapeODataString(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\'' {
			out = append(out, '\'')
		}
		out = append(out, s[i])
	}
	return string(out)
}
