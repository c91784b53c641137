package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"prism-board/domain"
)

//go:embed schema.sql
var sqliteSchema string

type queryer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// SQLite stores todos in a local SQLite database. It backs development
// setups and single-node deployments; every write runs in one transaction.
type SQLite struct {
	db         *sql.DB
	orderReady atomic.Bool
	now        func() time.Time
}

// OpenSQLite opens (creating if needed) the database at path and applies the
// base schema. The ordering column is added by Migrate.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if path == "" {
		return nil, errors.New("sqlite path required")
	}
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	s, err := NewSQLite(ctx, db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewSQLite wraps an open database handle.
func NewSQLite(ctx context.Context, db *sql.DB) (*SQLite, error) {
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db, now: time.Now}, nil
}

// Close releases the database handle.
func (s *SQLite) Close() error { return s.db.Close() }

// Migrate adds the kanban_order column and its index when missing.
func (s *SQLite) Migrate(ctx context.Context) error {
	ready, err := s.hasOrderColumn(ctx, s.db)
	if err != nil {
		return err
	}
	if !ready {
		if _, err := s.db.ExecContext(ctx, `ALTER TABLE todos ADD COLUMN kanban_order INTEGER`); err != nil {
			return fmt.Errorf("add kanban_order: %w", err)
		}
	}
	if _, err := s.db.ExecContext(ctx, `CREATE INDEX IF NOT EXISTS idx_todos_user_order ON todos(user_id, kanban_order)`); err != nil {
		return fmt.Errorf("create order index: %w", err)
	}
	s.orderReady.Store(true)
	return nil
}

func (s *SQLite) hasOrderColumn(ctx context.Context, q queryer) (bool, error) {
	if s.orderReady.Load() {
		return true, nil
	}
	rows, err := q.QueryContext(ctx, `PRAGMA table_info(todos)`)
	if err != nil {
		return false, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == "kanban_order" {
			s.orderReady.Store(true)
			return true, nil
		}
	}
	return false, rows.Err()
}

func selectTasks(withOrder bool) string {
	cols := `id, user_id, title, type, priority, importance, is_completed, archived, deleted_at IS NOT NULL`
	if withOrder {
		cols += `, kanban_order`
	}
	return `SELECT ` + cols + ` FROM todos`
}

func scanTasks(rows *sql.Rows, withOrder bool) ([]domain.Task, error) {
	defer rows.Close()
	out := []domain.Task{}
	for rows.Next() {
		var (
			t          domain.Task
			typ        string
			priority   sql.NullString
			importance sql.NullString
			order      sql.NullInt64
		)
		dest := []any{&t.ID, &t.UserID, &t.Title, &typ, &priority, &importance, &t.IsCompleted, &t.Archived, &t.Deleted}
		if withOrder {
			dest = append(dest, &order)
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		t.Type = domain.TaskType(typ)
		t.Priority = domain.Priority(priority.String)
		t.Importance = domain.Importance(importance.String)
		if order.Valid {
			t.KanbanOrder = domain.IntPtr(int(order.Int64))
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *SQLite) loadUserTasks(ctx context.Context, q queryer, userID string, includeDeleted bool) ([]domain.Task, bool, error) {
	ready, err := s.hasOrderColumn(ctx, q)
	if err != nil {
		return nil, false, err
	}
	query := selectTasks(ready) + ` WHERE user_id = ?`
	if !includeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	rows, err := q.QueryContext(ctx, query+` ORDER BY id`, userID)
	if err != nil {
		return nil, false, err
	}
	tasks, err := scanTasks(rows, ready)
	return tasks, ready, err
}

// FetchTasks returns the user's tasks that have not been soft-deleted.
func (s *SQLite) FetchTasks(ctx context.Context, userID string) ([]domain.Task, error) {
	tasks, _, err := s.loadUserTasks(ctx, s.db, userID, false)
	return tasks, err
}

// GetTask loads one task owned by userID.
func (s *SQLite) GetTask(ctx context.Context, userID string, id int64) (domain.Task, error) {
	ready, err := s.hasOrderColumn(ctx, s.db)
	if err != nil {
		return domain.Task{}, err
	}
	rows, err := s.db.QueryContext(ctx, selectTasks(ready)+` WHERE id = ? AND user_id = ? AND deleted_at IS NULL`, id, userID)
	if err != nil {
		return domain.Task{}, err
	}
	tasks, err := scanTasks(rows, ready)
	if err != nil {
		return domain.Task{}, err
	}
	if len(tasks) == 0 {
		return domain.Task{}, &domain.TaskError{TaskID: id, Err: domain.ErrNotOwned}
	}
	return tasks[0], nil
}

// CreateTask inserts a task at the end of its natural kanban lane.
func (s *SQLite) CreateTask(ctx context.Context, userID string, nt domain.NewTask) (domain.Task, error) {
	var created domain.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		all, ready, err := s.loadUserTasks(ctx, tx, userID, false)
		if err != nil {
			return err
		}
		t := newTask(userID, 0, nt)
		var order any
		if ready {
			t.KanbanOrder = domain.IntPtr(domain.NextOrder(t, all))
			order = *t.KanbanOrder
		}
		now := s.now().UnixMilli()
		query := `INSERT INTO todos (user_id, title, type, priority, importance, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`
		args := []any{userID, t.Title, string(t.Type), nullString(string(t.Priority)), nullString(string(t.Importance)), now, now}
		if ready {
			query = `INSERT INTO todos (user_id, title, type, priority, importance, created_at, updated_at, kanban_order) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
			args = append(args, order)
		}
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return err
		}
		if t.ID, err = res.LastInsertId(); err != nil {
			return err
		}
		created = t
		return nil
	})
	return created, err
}

// ReorderColumn assigns kanban_order 1..n to ids inside one transaction.
// Without the ordering column it reports ErrStorageNotReady and writes nothing.
func (s *SQLite) ReorderColumn(ctx context.Context, userID string, col domain.Column, ids []int64) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		ready, err := s.hasOrderColumn(ctx, tx)
		if err != nil {
			return err
		}
		if !ready {
			return domain.ErrStorageNotReady
		}
		owned, err := s.loadByIDs(ctx, tx, userID, ids)
		if err != nil {
			return err
		}
		if err := domain.CheckReorder(col, ids, owned); err != nil {
			return err
		}
		now := s.now().UnixMilli()
		for i, id := range ids {
			if _, err := tx.ExecContext(ctx, `UPDATE todos SET kanban_order = ?, updated_at = ? WHERE id = ? AND user_id = ?`, i+1, now, id, userID); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLite) loadByIDs(ctx context.Context, tx *sql.Tx, userID string, ids []int64) (map[int64]domain.Task, error) {
	owned := make(map[int64]domain.Task, len(ids))
	if len(ids) == 0 {
		return owned, nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, userID)
	for _, id := range ids {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	rows, err := tx.QueryContext(ctx, selectTasks(true)+` WHERE user_id = ? AND deleted_at IS NULL AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	tasks, err := scanTasks(rows, true)
	if err != nil {
		return nil, err
	}
	for _, t := range tasks {
		owned[t.ID] = t
	}
	return owned, nil
}

// ApplyMove rewrites the column attributes of one task. A task that changes
// column is appended to the end of its new kanban lane.
func (s *SQLite) ApplyMove(ctx context.Context, userID string, id int64, m domain.Move) (domain.Task, error) {
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
func (s *SQLite) SetLifecycle(ctx context.Context, userID string, id int64, l domain.Lifecycle) (domain.Task, error) {
	return s.mutate(ctx, userID, id, func(t domain.Task, all []domain.Task) (domain.Task, error) {
		restored := t
		restored.Archived = false
		return domain.ApplyLifecycle(t, l, domain.NextOrder(restored, all)), nil
	})
}

func (s *SQLite) mutate(ctx context.Context, userID string, id int64, fn func(domain.Task, []domain.Task) (domain.Task, error)) (domain.Task, error) {
	var out domain.Task
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		all, ready, err := s.loadUserTasks(ctx, tx, userID, false)
		if err != nil {
			return err
		}
		var (
			current domain.Task
			found   bool
		)
		for _, t := range all {
			if t.ID == id {
				current, found = t, true
				break
			}
		}
		if !found {
			return &domain.TaskError{TaskID: id, Err: domain.ErrNotOwned}
		}
		next, err := fn(current, all)
		if err != nil {
			return err
		}
		if !ready {
			next.KanbanOrder = nil
		}
		var deletedAt any
		if next.Deleted {
			deletedAt = s.now().UnixMilli()
		}
		query := `UPDATE todos SET priority = ?, importance = ?, is_completed = ?, archived = ?, deleted_at = ?, updated_at = ?`
		args := []any{nullString(string(next.Priority)), nullString(string(next.Importance)), next.IsCompleted, next.Archived, deletedAt, s.now().UnixMilli()}
		if ready {
			query += `, kanban_order = ?`
			var order any
			if next.KanbanOrder != nil {
				order = *next.KanbanOrder
			}
			args = append(args, order)
		}
		args = append(args, id, userID)
		if _, err := tx.ExecContext(ctx, query+` WHERE id = ? AND user_id = ?`, args...); err != nil {
			return err
		}
		out = next
		return nil
	})
	return out, err
}

func (s *SQLite) withTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
