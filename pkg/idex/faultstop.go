package idex

import (
	"fmt"
	"time"

	"idex-host/pkg/errors"
	"idex-host/pkg/events"
	"idex-host/pkg/log"
	"idex-host/pkg/motion"
)

// FaultState represents the host's motion acceptance state.
type FaultState int

const (
	// FaultStateRunning indicates normal operation.
	FaultStateRunning FaultState = iota

	// FaultStateStopped indicates a fault stop: pending motion was
	// flushed and new motion is rejected until Reset.
	FaultStateStopped
)

func (s FaultState) String() string {
	switch s {
	case FaultStateRunning:
		return "running"
	case FaultStateStopped:
		return "fault_stop"
	default:
		return "unknown"
	}
}

// FaultMonitor manages the safety-triggered fault stop. There is no
// mid-move cancellation: an accepted move runs to completion or to a
// fault stop, which flushes all pending bound commands for the affected
// carriage.
type FaultMonitor struct {
	queues [motion.NumCarriages]*motion.Queue
	binder *Binder
	bus    *events.Bus
	logger *log.Logger

	state    FaultState
	reason   string
	stopTime time.Time

	onFault []func(carriage int, reason string)
}

// NewFaultMonitor creates a monitor over the per-carriage queues.
func NewFaultMonitor(queues [motion.NumCarriages]*motion.Queue, binder *Binder,
	bus *events.Bus, logger *log.Logger) *FaultMonitor {
	return &FaultMonitor{
		queues: queues,
		binder: binder,
		bus:    bus,
		logger: logger,
		state:  FaultStateRunning,
	}
}

// OnFault registers a callback invoked after a fault stop flush.
func (m *FaultMonitor) OnFault(fn func(carriage int, reason string)) {
	m.onFault = append(m.onFault, fn)
}

// State returns the current fault state.
func (m *FaultMonitor) State() FaultState {
	return m.state
}

// CheckOperational returns an error while a fault stop is active.
func (m *FaultMonitor) CheckOperational() error {
	if m.state != FaultStateRunning {
		return errors.FaultStopError(m.reason)
	}
	return nil
}

// TriggerFaultStop flushes the affected carriage's pending moves and any
// bindings involving it, then blocks new motion until Reset.
func (m *FaultMonitor) TriggerFaultStop(carriage int, reason string) {
	if m.state == FaultStateStopped {
		return
	}
	m.state = FaultStateStopped
	m.reason = reason
	m.stopTime = time.Now()

	dropped := m.queues[carriage].Flush()
	m.binder.FlushCarriage(carriage)

	msg := fmt.Sprintf("fault stop on carriage %d: %s (%d pending moves flushed)", carriage, reason, dropped)
	m.bus.Publish(events.TypeFaultStop, msg, map[string]interface{}{
		"carriage": carriage,
		"reason":   reason,
		"dropped":  dropped,
	})
	m.logger.Error("%s", msg)

	for _, fn := range m.onFault {
		fn(carriage, reason)
	}
}

// Reset clears the fault stop after the external motion layer recovers.
func (m *FaultMonitor) Reset() error {
	if m.state == FaultStateRunning {
		return errors.RuntimeError("no fault stop active")
	}
	m.state = FaultStateRunning
	m.reason = ""
	m.logger.Info("fault stop cleared")
	return nil
}

// Status returns a status snapshot for reporting.
func (m *FaultMonitor) Status() map[string]interface{} {
	return map[string]interface{}{
		"state":     m.state.String(),
		"reason":    m.reason,
		"stop_time": m.stopTime,
	}
}
