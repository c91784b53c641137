package board

import (
	"errors"
	"math"
	"sync"

	"prism-board/domain"
)

// DefaultActivationDistance is the pointer travel, in pixels, before a press
// turns into a drag. Shorter gestures stay clicks.
const DefaultActivationDistance = 8

var (
	ErrGestureActive = errors.New("board: another drag is in progress")
	ErrInFlight      = errors.New("board: todo has a save in flight")
	ErrUnknownTask   = errors.New("board: todo is not on the board")
)

// Point is a pointer position in screen pixels.
type Point struct {
	X, Y float64
}

// DropTarget is what the pointer was released over. OverTaskID is zero when
// the drop landed on the empty area of Column.
type DropTarget struct {
	Column     domain.Column
	OverTaskID int64
}

// Intent is a resolved drop. TargetIndex is the position of the task in the
// target column after the move.
type Intent struct {
	TaskID      int64
	Source      domain.Column
	SourceIndex int
	Target      domain.Column
	TargetIndex int
}

// CrossColumn reports whether the drop changes the task's column.
func (i Intent) CrossColumn() bool { return i.Source != i.Target }

// Outcome classifies how a gesture ended.
type Outcome int

const (
	OutcomeNone Outcome = iota
	// OutcomeClick is a press released before the activation distance.
	OutcomeClick
	// OutcomeNoop is a drag released where it started.
	OutcomeNoop
	OutcomeDrop
	OutcomeCancelled
)

func (o Outcome) String() string {
	switch o {
	case OutcomeClick:
		return "click"
	case OutcomeNoop:
		return "noop"
	case OutcomeDrop:
		return "drop"
	case OutcomeCancelled:
		return "cancelled"
	}
	return "none"
}

// Locator resolves card positions. *State implements it.
type Locator interface {
	Locate(taskID int64) (domain.Column, int, bool)
	Len(col domain.Column) int
}

// Coordinator turns pointer and keyboard gestures into drop intents. At most
// one gesture is tracked at a time; a card whose previous drop is still being
// saved cannot be picked up again until Finish is called for it.
type Coordinator struct {
	ActivationDistance float64

	mu       sync.Mutex
	locator  Locator
	pressed  bool
	active   bool
	taskID   int64
	origin   Point
	inFlight map[int64]struct{}
}

func NewCoordinator(locator Locator) *Coordinator {
	return &Coordinator{
		ActivationDistance: DefaultActivationDistance,
		locator:            locator,
		inFlight:           map[int64]struct{}{},
	}
}

// PointerDown records a press on a card.
func (c *Coordinator) PointerDown(taskID int64, at Point) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.canPickUp(taskID); err != nil {
		return err
	}
	c.pressed, c.active = true, false
	c.taskID, c.origin = taskID, at
	return nil
}

// PointerMove reports whether the gesture is an active drag.
func (c *Coordinator) PointerMove(at Point) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pressed {
		return false
	}
	if !c.active && math.Hypot(at.X-c.origin.X, at.Y-c.origin.Y) >= c.ActivationDistance {
		c.active = true
	}
	return c.active
}

// KeyboardPickUp starts a drag without an activation distance.
func (c *Coordinator) KeyboardPickUp(taskID int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.canPickUp(taskID); err != nil {
		return err
	}
	c.pressed, c.active = true, true
	c.taskID = taskID
	return nil
}

// Cancel aborts the current gesture.
func (c *Coordinator) Cancel() Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pressed {
		return OutcomeNone
	}
	c.reset()
	return OutcomeCancelled
}

// Dragging returns the card being dragged, if any.
func (c *Coordinator) Dragging() (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.taskID, c.active
}

// PointerUp ends the gesture. Only OutcomeDrop carries an intent, and the
// dragged card is then marked in flight.
func (c *Coordinator) PointerUp(target DropTarget) (Intent, Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.pressed {
		return Intent{}, OutcomeNone
	}
	taskID, active := c.taskID, c.active
	c.reset()
	if !active {
		return Intent{}, OutcomeClick
	}

	in, ok := c.resolve(taskID, target)
	if !ok {
		return Intent{}, OutcomeCancelled
	}
	if in.Source == in.Target && in.SourceIndex == in.TargetIndex {
		return in, OutcomeNoop
	}
	c.inFlight[taskID] = struct{}{}
	return in, OutcomeDrop
}

// Finish releases the in-flight mark once a drop has been saved or rolled back.
func (c *Coordinator) Finish(taskID int64) {
	c.mu.Lock()
	delete(c.inFlight, taskID)
	c.mu.Unlock()
}

// InFlight reports whether a drop of taskID is still being saved.
func (c *Coordinator) InFlight(taskID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.inFlight[taskID]
	return ok
}

func (c *Coordinator) canPickUp(taskID int64) error {
	if c.active {
		return ErrGestureActive
	}
	if _, busy := c.inFlight[taskID]; busy {
		return ErrInFlight
	}
	if _, _, ok := c.locator.Locate(taskID); !ok {
		return ErrUnknownTask
	}
	return nil
}

func (c *Coordinator) reset() {
	c.pressed, c.active = false, false
	c.taskID, c.origin = 0, Point{}
}

// resolve maps a drop target onto a column and final index. Dropping on a card
// moves the dragged card to that card's index: in another column, or higher
// up in the same one, it lands before the card; further down the same column
// it lands after it, since the cards in between shift up. Dropping on the
// empty area appends.
func (c *Coordinator) resolve(taskID int64, target DropTarget) (Intent, bool) {
	src, srcIdx, ok := c.locator.Locate(taskID)
	if !ok {
		return Intent{}, false
	}
	in := Intent{TaskID: taskID, Source: src, SourceIndex: srcIdx}

	if target.OverTaskID != 0 {
		if target.OverTaskID == taskID {
			in.Target, in.TargetIndex = src, srcIdx
			return in, true
		}
		col, idx, ok := c.locator.Locate(target.OverTaskID)
		if !ok {
			return Intent{}, false
		}
		// The dragged card takes the position of the card it was dropped on.
		in.Target, in.TargetIndex = col, idx
		return in, true
	}

	if target.Column == "" {
		return Intent{}, false
	}
	in.Target = target.Column
	in.TargetIndex = c.locator.Len(target.Column)
	if target.Column == src {
		in.TargetIndex--
	}
	return in, true
}
