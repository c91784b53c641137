package board

import (
	"errors"
	"fmt"
	"sort"

	"prism-board/domain"
)

const (
	DefaultBatch = 20
	DefaultStep  = 20
	// nearEndMargin is how close to the watermark a rendered card must be
	// before the next batch is requested.
	nearEndMargin = 3
)

var ErrCheckpointClosed = errors.New("board: checkpoint already committed or rolled back")

// State is the client view model: every task on the board grouped by column
// in display order, plus a render watermark per column. It is a cache that can
// always be rebuilt from the server's task list.
type State struct {
	view    domain.View
	columns []domain.Column
	tasks   map[domain.Column][]domain.Task
	visible map[domain.Column]int
	batch   int
	step    int
}

// NewState groups tasks for view. batch <= 0 selects DefaultBatch.
func NewState(view domain.View, tasks []domain.Task, batch int) *State {
	if batch <= 0 {
		batch = DefaultBatch
	}
	s := &State{
		view:    view,
		columns: domain.ColumnsFor(view),
		tasks:   domain.Group(view, tasks),
		visible: make(map[domain.Column]int, 4),
		batch:   batch,
		step:    DefaultStep,
	}
	for _, c := range s.columns {
		s.visible[c] = batch
	}
	return s
}

// Reset regroups the state from a fresh task list, keeping the watermarks.
func (s *State) Reset(tasks []domain.Task) {
	s.tasks = domain.Group(s.view, tasks)
}

func (s *State) View() domain.View { return s.view }

func (s *State) Columns() []domain.Column { return append([]domain.Column(nil), s.columns...) }

// Column returns a copy of the tasks in col.
func (s *State) Column(col domain.Column) []domain.Task {
	return append([]domain.Task(nil), s.tasks[col]...)
}

// IDs lists the ids of col in display order.
func (s *State) IDs(col domain.Column) []int64 {
	list := s.tasks[col]
	ids := make([]int64, len(list))
	for i, t := range list {
		ids[i] = t.ID
	}
	return ids
}

func (s *State) Len(col domain.Column) int { return len(s.tasks[col]) }

func (s *State) Locate(taskID int64) (domain.Column, int, bool) {
	for _, c := range s.columns {
		for i, t := range s.tasks[c] {
			if t.ID == taskID {
				return c, i, true
			}
		}
	}
	return "", 0, false
}

func (s *State) Task(taskID int64) (domain.Task, bool) {
	c, i, ok := s.Locate(taskID)
	if !ok {
		return domain.Task{}, false
	}
	return s.tasks[c][i], true
}

// Clone returns a deep copy.
func (s *State) Clone() *State {
	out := &State{
		view:    s.view,
		columns: append([]domain.Column(nil), s.columns...),
		tasks:   make(map[domain.Column][]domain.Task, len(s.tasks)),
		visible: make(map[domain.Column]int, len(s.visible)),
		batch:   s.batch,
		step:    s.step,
	}
	for c, list := range s.tasks {
		cp := make([]domain.Task, len(list))
		for i, t := range list {
			if t.KanbanOrder != nil {
				t.KanbanOrder = domain.IntPtr(*t.KanbanOrder)
			}
			cp[i] = t
		}
		out.tasks[c] = cp
	}
	for c, n := range s.visible {
		out.visible[c] = n
	}
	return out
}

// Checkpoint is the snapshot taken right before an optimistic change.
type Checkpoint struct {
	snapshot *State
	closed   bool
}

// Begin snapshots the whole state.
func (s *State) Begin() *Checkpoint {
	return &Checkpoint{snapshot: s.Clone()}
}

// Commit keeps the optimistic change.
func (s *State) Commit(cp *Checkpoint) error {
	if cp == nil || cp.closed {
		return ErrCheckpointClosed
	}
	cp.closed = true
	cp.snapshot = nil
	return nil
}

// Rollback restores the state captured by cp, discarding every change made
// since, including those of later drops.
func (s *State) Rollback(cp *Checkpoint) error {
	if cp == nil || cp.closed {
		return ErrCheckpointClosed
	}
	*s = *cp.snapshot
	cp.closed = true
	cp.snapshot = nil
	return nil
}

// Mutation describes an applied intent. Move is nil for same-column reorders.
type Mutation struct {
	Intent Intent
	Before domain.Task
	After  domain.Task
	Move   domain.Move
	// Order is the target column after the drop, as sent to the reorder endpoint.
	Order []int64
}

// ApplyIntent moves the task optimistically. Cross-column drops rewrite the
// attributes that decide the column, and the target column is renumbered
// 1..n the same way the server will.
func (s *State) ApplyIntent(in Intent) (Mutation, error) {
	if in.Target.View() != s.view {
		return Mutation{}, fmt.Errorf("board: column %q is not part of the %s view", in.Target, s.view)
	}
	src := s.tasks[in.Source]
	if in.SourceIndex < 0 || in.SourceIndex >= len(src) || src[in.SourceIndex].ID != in.TaskID {
		return Mutation{}, ErrUnknownTask
	}
	before := src[in.SourceIndex]
	after := before

	var mv domain.Move
	if in.CrossColumn() {
		if err := domain.CheckMovable(before); err != nil {
			return Mutation{}, err
		}
		m, err := domain.MoveForColumn(before, in.Target)
		if err != nil {
			return Mutation{}, err
		}
		mv = m
		after = m.Apply(before)
		if !domain.InColumn(after, in.Target) {
			return Mutation{}, fmt.Errorf("board: todo %d does not classify into %q: %w", in.TaskID, in.Target, domain.ErrColumnMismatch)
		}
	}

	s.tasks[in.Source] = append(src[:in.SourceIndex:in.SourceIndex], src[in.SourceIndex+1:]...)
	dst := s.tasks[in.Target]
	idx := in.TargetIndex
	if idx < 0 {
		idx = 0
	}
	if idx > len(dst) {
		idx = len(dst)
	}
	dst = append(dst[:idx:idx], append([]domain.Task{after}, dst[idx:]...)...)
	for i := range dst {
		dst[i].KanbanOrder = domain.IntPtr(i + 1)
	}
	s.tasks[in.Target] = dst
	if s.visible[in.Target] <= idx {
		s.visible[in.Target] = idx + 1
	}

	in.TargetIndex = idx
	return Mutation{
		Intent: in,
		Before: before,
		After:  dst[idx],
		Move:   mv,
		Order:  s.IDs(in.Target),
	}, nil
}

// Merge applies authoritative fields returned by the server. A task whose
// fields now place it elsewhere is moved to its display position there.
func (s *State) Merge(t domain.Task) bool {
	c, i, ok := s.Locate(t.ID)
	if !ok {
		return false
	}
	cur := s.tasks[c][i]
	if t.KanbanOrder == nil {
		t.KanbanOrder = cur.KanbanOrder
	}
	if col, on := domain.Classify(s.view, t); on && col == c {
		s.tasks[c][i] = t
		return true
	}
	list := s.tasks[c]
	s.tasks[c] = append(list[:i:i], list[i+1:]...)
	if col, on := domain.Classify(s.view, t); on {
		dst := append(s.tasks[col], t)
		sort.SliceStable(dst, func(a, b int) bool { return domain.Less(dst[a], dst[b]) })
		s.tasks[col] = dst
	}
	return true
}

// Visible returns the rendered prefix of col.
func (s *State) Visible(col domain.Column) []domain.Task {
	list := s.tasks[col]
	n := s.visible[col]
	if n > len(list) {
		n = len(list)
	}
	return append([]domain.Task(nil), list[:n]...)
}

// HasMore reports whether col has tasks past its watermark.
func (s *State) HasMore(col domain.Column) bool {
	return s.visible[col] < len(s.tasks[col])
}

// LoadMore raises the watermark of col by one step and returns the number of
// rendered tasks.
func (s *State) LoadMore(col domain.Column) int {
	if s.HasMore(col) {
		s.visible[col] += s.step
	}
	return len(s.Visible(col))
}

// NearEnd reports whether rendering card index of col should trigger the next
// batch.
func (s *State) NearEnd(col domain.Column, index int) bool {
	if !s.HasMore(col) {
		return false
	}
	return index >= s.visible[col]-nearEndMargin
}
