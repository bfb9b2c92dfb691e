package motion

import (
	"sort"

	"idex-host/pkg/errors"
)

// Move is a single queued carriage move.
type Move struct {
	Carriage int
	Target   float64
	Speed    float64
}

// Follower receives every move executed from a queue, already transformed
// into the follower's coordinate space. Used for COPY/MIRROR slave motion.
type Follower func(Move)

// Queue is a per-carriage motion command queue. Commands are processed in
// strict arrival order; binding changes and other deferred work apply only
// at drain boundaries, never splitting an in-flight move.
type Queue struct {
	carriage int
	solver   Solver

	pending []Move

	// onExecuted is invoked after the solver accepts each move, before
	// followers see it.
	onExecuted func(Move)

	followers map[string]Follower
	onDrain   []func()
}

// NewQueue creates a motion queue for one carriage. onExecuted may be nil.
func NewQueue(carriage int, solver Solver, onExecuted func(Move)) *Queue {
	return &Queue{
		carriage:   carriage,
		solver:     solver,
		onExecuted: onExecuted,
		followers:  make(map[string]Follower),
	}
}

// Carriage returns the queue's carriage id.
func (q *Queue) Carriage() int {
	return q.carriage
}

// Submit appends an accepted move to the queue. Validation (safety,
// bounds) happens before submission.
func (q *Queue) Submit(target, speed float64) {
	q.pending = append(q.pending, Move{Carriage: q.carriage, Target: target, Speed: speed})
}

// Pending returns the number of queued, not yet executed moves.
func (q *Queue) Pending() int {
	return len(q.pending)
}

// Idle reports whether the queue has fully drained.
func (q *Queue) Idle() bool {
	return len(q.pending) == 0
}

// Advance executes the next pending move to completion. Returns false when
// the queue was already idle. When the last pending move completes, queued
// drain callbacks run atomically at the boundary.
func (q *Queue) Advance() (bool, error) {
	if len(q.pending) == 0 {
		return false, nil
	}
	mv := q.pending[0]
	q.pending = q.pending[1:]

	if err := q.solver.QueueMove(mv.Carriage, mv.Target, mv.Speed); err != nil {
		return false, errors.RuntimeErrorQueue("move", err.Error())
	}
	if q.onExecuted != nil {
		q.onExecuted(mv)
	}
	for _, id := range q.followerIDs() {
		q.followers[id](mv)
	}

	if len(q.pending) == 0 {
		q.runDrainCallbacks()
	}
	return true, nil
}

// Drain executes all pending moves in order.
func (q *Queue) Drain() error {
	for {
		did, err := q.Advance()
		if err != nil {
			return err
		}
		if !did {
			q.runDrainCallbacks()
			return nil
		}
	}
}

// OnDrain schedules fn to run at the next drain boundary. If the queue is
// already idle, fn runs immediately.
func (q *Queue) OnDrain(fn func()) {
	if len(q.pending) == 0 {
		fn()
		return
	}
	q.onDrain = append(q.onDrain, fn)
}

func (q *Queue) runDrainCallbacks() {
	cbs := q.onDrain
	q.onDrain = nil
	for _, fn := range cbs {
		fn()
	}
}

// Flush discards all pending moves and deferred callbacks, returning the
// number of moves dropped. Used by fault stop.
func (q *Queue) Flush() int {
	dropped := len(q.pending)
	q.pending = nil
	q.onDrain = nil
	return dropped
}

// AddFollower registers a follower under the given id. The follower sees
// every subsequently executed move.
func (q *Queue) AddFollower(id string, f Follower) {
	q.followers[id] = f
}

// RemoveFollower unregisters a follower.
func (q *Queue) RemoveFollower(id string) {
	delete(q.followers, id)
}

// HasFollower reports whether the id is registered.
func (q *Queue) HasFollower(id string) bool {
	_, ok := q.followers[id]
	return ok
}

// followerIDs returns follower ids in stable order.
func (q *Queue) followerIDs() []string {
	ids := make([]string, 0, len(q.followers))
	for id := range q.followers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
