// Package board is the client side of drag-and-drop ordering: an optimistic
// view model, a gesture coordinator and the requests that persist a drop.
package board

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"prism-board/domain"
)

// MaxReorderIDs mirrors the server's limit on ids per reorder request.
const MaxReorderIDs = 100

// Transport persists drops. HTTPTransport talks to the board API.
type Transport interface {
	FetchBoard(ctx context.Context, view domain.View) ([]domain.Task, error)
	Reorder(ctx context.Context, col domain.Column, ids []int64, sequence int64) error
	UpdatePriority(ctx context.Context, id int64, m domain.KanbanMove) (domain.Task, error)
	UpdateEisenhower(ctx context.Context, id int64, m domain.MatrixMove) (domain.Task, error)
}

// Status tags a Result.
type Status int

const (
	Success Status = iota + 1
	Failure
)

func (s Status) String() string {
	switch s {
	case Success:
		return "success"
	case Failure:
		return "failure"
	}
	return "pending"
}

// Result is the outcome of one drop. Task holds the server's copy after a
// cross-column move.
type Result struct {
	Status Status
	Intent Intent
	Task   *domain.Task
	Err    error
	// Resynced is set when the board was rebuilt from the server because an
	// earlier drop was rolled back while this one was in flight.
	Resynced bool
}

// Pending is a drop whose requests are still running.
type Pending struct {
	done chan struct{}
	res  Result
}

// Done is closed once the result is available.
func (p *Pending) Done() <-chan struct{} { return p.done }

// Wait blocks until the drop finished or ctx expires.
func (p *Pending) Wait(ctx context.Context) (Result, error) {
	select {
	case <-p.done:
		return p.res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

func resolved(r Result) *Pending {
	p := &Pending{done: make(chan struct{}), res: r}
	close(p.done)
	return p
}

type op struct {
	seq        uint64
	cp         *Checkpoint
	superseded bool
}

// Board ties the state, the coordinator and a transport together.
type Board struct {
	mu        sync.Mutex
	state     *State
	coord     *Coordinator
	transport Transport
	logger    *log.Logger
	timeout   time.Duration
	sequence  bool

	open     []*op
	started  uint64
	lastSeq  atomic.Int64
	hooksMu  sync.Mutex
	onFinish []func(Result)
	wg       sync.WaitGroup
}

// Option configures a Board.
type Option func(*Board)

func WithBatch(n int) Option {
	return func(b *Board) {
		b.state = NewState(b.state.view, nil, n)
	}
}

func WithActivationDistance(px float64) Option {
	return func(b *Board) { b.coord.ActivationDistance = px }
}

func WithLogger(l *log.Logger) Option {
	return func(b *Board) { b.logger = l }
}

// WithRequestTimeout bounds each drop's requests. Zero disables the bound.
func WithRequestTimeout(d time.Duration) Option {
	return func(b *Board) { b.timeout = d }
}

// WithSequencing attaches a monotonic sequence to reorders so the server can
// reject ones that arrive after a newer reorder of the same column.
func WithSequencing(on bool) Option {
	return func(b *Board) { b.sequence = on }
}

// New builds a board for view from the server's task list.
func New(view domain.View, tasks []domain.Task, transport Transport, opts ...Option) *Board {
	b := &Board{
		state:     NewState(view, nil, DefaultBatch),
		transport: transport,
		logger:    log.StandardLogger(),
		timeout:   30 * time.Second,
		sequence:  true,
	}
	b.coord = NewCoordinator(lockedLocator{b})
	for _, opt := range opts {
		opt(b)
	}
	b.state.Reset(tasks)
	return b
}

// Load fetches view from the server and builds a board.
func Load(ctx context.Context, view domain.View, transport Transport, opts ...Option) (*Board, error) {
	tasks, err := transport.FetchBoard(ctx, view)
	if err != nil {
		return nil, err
	}
	return New(view, tasks, transport, opts...), nil
}

// Coordinator exposes gesture handling. Drops must go through Board.Drop.
func (b *Board) Coordinator() *Coordinator { return b.coord }

// Snapshot returns a copy of the current state.
func (b *Board) Snapshot() *State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.Clone()
}

// View runs fn with the live state under the board lock.
func (b *Board) View(fn func(*State)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b.state)
}

// OnFinish registers fn to run exactly once after every drop, successful or not.
func (b *Board) OnFinish(fn func(Result)) {
	b.hooksMu.Lock()
	b.onFinish = append(b.onFinish, fn)
	b.hooksMu.Unlock()
}

// Wait blocks until every in-flight drop has finished.
func (b *Board) Wait() { b.wg.Wait() }

// Drop ends the current gesture over target. For OutcomeDrop the state is
// already updated when Drop returns and the returned Pending resolves once the
// server confirmed or the change was rolled back.
func (b *Board) Drop(ctx context.Context, target DropTarget) (*Pending, Outcome) {
	in, outcome := b.coord.PointerUp(target)
	if outcome != OutcomeDrop {
		return nil, outcome
	}

	b.mu.Lock()
	cp := b.state.Begin()
	mut, err := b.state.ApplyIntent(in)
	if err != nil {
		_ = b.state.Rollback(cp)
		b.mu.Unlock()
		res := Result{Status: Failure, Intent: in, Err: err}
		b.finish(in.TaskID, res)
		return resolved(res), OutcomeDrop
	}
	b.started++
	o := &op{seq: b.started, cp: cp}
	b.open = append(b.open, o)
	b.mu.Unlock()

	p := &Pending{done: make(chan struct{})}
	b.wg.Add(1)
	go b.run(context.WithoutCancel(ctx), o, mut, p)
	return p, OutcomeDrop
}

func (b *Board) run(ctx context.Context, o *op, mut Mutation, p *Pending) {
	defer b.wg.Done()
	res := Result{Intent: mut.Intent}
	defer func() {
		p.res = res
		close(p.done)
		b.finish(mut.Intent.TaskID, res)
	}()

	if b.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}
	task, err := b.persist(ctx, mut)

	b.mu.Lock()
	needResync := o.superseded
	if err != nil {
		res.Status, res.Err = Failure, err
		if !o.superseded {
			_ = b.state.Rollback(o.cp)
			// The snapshot predates every drop started after this one.
			if b.started > o.seq && !b.supersedeLater(o) {
				needResync = true
			}
		}
		// A failed reorder after a saved move leaves the server with the
		// new attributes.
		if task != nil {
			needResync = true
		}
	} else {
		res.Status = Success
		_ = b.state.Commit(o.cp)
		if task != nil {
			res.Task = task
			if !o.superseded {
				b.state.Merge(*task)
			}
		}
	}
	b.closeOp(o)
	view := b.state.view
	b.mu.Unlock()

	if needResync {
		res.Resynced = b.resync(ctx, view)
	}
	if err != nil {
		b.logger.WithFields(log.Fields{
			"todo":   mut.Intent.TaskID,
			"source": mut.Intent.Source,
			"target": mut.Intent.Target,
		}).WithError(err).Debug("drop rolled back")
	}
}

// persist sends the attribute change for cross-column drops, then the new
// order of the target column.
func (b *Board) persist(ctx context.Context, mut Mutation) (*domain.Task, error) {
	var updated *domain.Task
	if mut.Move != nil {
		var (
			t   domain.Task
			err error
		)
		switch m := mut.Move.(type) {
		case domain.KanbanMove:
			t, err = b.transport.UpdatePriority(ctx, mut.Intent.TaskID, m)
		case domain.MatrixMove:
			t, err = b.transport.UpdateEisenhower(ctx, mut.Intent.TaskID, m)
		default:
			err = fmt.Errorf("board: unsupported move %T", mut.Move)
		}
		if err != nil {
			return nil, err
		}
		updated = &t
	}

	ids := mut.Order
	if len(ids) > MaxReorderIDs {
		ids = ids[:MaxReorderIDs]
	}
	var seq int64
	if b.sequence {
		seq = b.nextSequence()
	}
	if err := b.transport.Reorder(ctx, mut.Intent.Target, ids, seq); err != nil {
		return updated, err
	}
	if updated != nil {
		for i, id := range ids {
			if id == updated.ID {
				updated.KanbanOrder = domain.IntPtr(i + 1)
			}
		}
	}
	return updated, nil
}

// nextSequence returns a strictly increasing value seeded from the wall clock
// so sequences from other sessions of the same user stay comparable.
func (b *Board) nextSequence() int64 {
	for {
		now := time.Now().UnixMicro()
		last := b.lastSeq.Load()
		if now <= last {
			now = last + 1
		}
		if b.lastSeq.CompareAndSwap(last, now) {
			return now
		}
	}
}

// resync rebuilds the state from the server. While other drops are in
// flight it only marks them, so the last one to finish does the rebuild.
func (b *Board) resync(ctx context.Context, view domain.View) bool {
	b.mu.Lock()
	if len(b.open) > 0 {
		for _, o := range b.open {
			o.superseded = true
		}
		b.mu.Unlock()
		return false
	}
	b.mu.Unlock()

	tasks, err := b.transport.FetchBoard(ctx, view)
	if err != nil {
		b.logger.WithError(err).Warn("board resync failed")
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.open) > 0 {
		for _, o := range b.open {
			o.superseded = true
		}
		return false
	}
	b.state.Reset(tasks)
	return true
}

// supersedeLater marks every open drop started after o and reports whether
// there was one. Their checkpoints contain o's discarded change and must not
// be restored; the last of them resyncs instead.
func (b *Board) supersedeLater(o *op) bool {
	marked := false
	for _, other := range b.open {
		if other.seq > o.seq {
			other.superseded = true
			marked = true
		}
	}
	return marked
}

func (b *Board) closeOp(o *op) {
	for i, other := range b.open {
		if other == o {
			b.open = append(b.open[:i], b.open[i+1:]...)
			return
		}
	}
}

func (b *Board) finish(taskID int64, res Result) {
	b.coord.Finish(taskID)
	b.hooksMu.Lock()
	hooks := append(([]func(Result))(nil), b.onFinish...)
	b.hooksMu.Unlock()
	for _, fn := range hooks {
		fn(res)
	}
}

// IsRejected reports whether err is a server rejection rather than a
// transport failure.
func IsRejected(err error) bool {
	var herr *HTTPError
	return errors.As(err, &herr) && herr.Status < 500
}

// lockedLocator lets the coordinator read positions while drops run.
type lockedLocator struct{ b *Board }

func (l lockedLocator) Locate(taskID int64) (domain.Column, int, bool) {
	l.b.mu.Lock()
	defer l.b.mu.Unlock()
	return l.b.state.Locate(taskID)
}

func (l lockedLocator) Len(col domain.Column) int {
	l.b.mu.Lock()
	defer l.b.mu.Unlock()
	return l.b.state.Len(col)
}
