// Package motion models the per-carriage motion queues of the shared axis.
// The actual kinematic solving and stepper I/O live outside this host and
// are consumed through the Solver interface.
package motion

import "sync"

// Solver is the external kinematic solver contract: it converts accepted
// carriage targets into stepper motion and reports actual positions.
type Solver interface {
	// QueueMove commits a move of the given carriage to the target
	// coordinate at the given speed. An accepted move runs to completion;
	// there is no mid-move cancellation.
	QueueMove(carriage int, target, speed float64) error

	// CurrentPosition reports the carriage's actual position.
	CurrentPosition(carriage int) float64
}

// SimSolver is an in-memory Solver used by the command-line host and
// tests. Moves complete instantly.
type SimSolver struct {
	mu  sync.Mutex
	pos map[int]float64
}

// NewSimSolver creates a SimSolver with all carriages at zero.
func NewSimSolver() *SimSolver {
	return &SimSolver{pos: make(map[int]float64)}
}

// QueueMove implements Solver.
func (s *SimSolver) QueueMove(carriage int, target, speed float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos[carriage] = target
	return nil
}

// CurrentPosition implements Solver.
func (s *SimSolver) CurrentPosition(carriage int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pos[carriage]
}

// SetPosition force-sets a carriage position (homing, tests).
func (s *SimSolver) SetPosition(carriage int, pos float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos[carriage] = pos
}
