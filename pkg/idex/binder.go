package idex

import (
	"fmt"

	"idex-host/pkg/errors"
	"idex-host/pkg/events"
	"idex-host/pkg/log"
	"idex-host/pkg/motion"
)

// Transform maps a master carriage position into the bound slave's
// coordinate space: slave = Scale*master + Offset.
type Transform struct {
	Scale  float64
	Offset float64
}

// Apply maps a master position to the derived slave position.
func (t Transform) Apply(p float64) float64 {
	return t.Scale*p + t.Offset
}

// CopyTransform replicates master motion shifted by a fixed offset.
func CopyTransform(offset float64) Transform {
	return Transform{Scale: 1, Offset: offset}
}

// MirrorTransform reflects master motion: slave = reflect - master, where
// reflect is twice the reflection point (axis midpoint reflection uses
// reflect = position_min + position_max).
func MirrorTransform(reflect float64) Transform {
	return Transform{Scale: -1, Offset: reflect}
}

// binding records one slave extruder sourced from a master carriage queue.
type binding struct {
	slave         string
	slaveCarriage int
	master        int
	transform     Transform
	applied       bool
}

// Binder sources a slave extruder's motion from another carriage's motion
// queue. Bind and unbind take effect only at motion-queue drain
// boundaries: a change requested while moves are in flight is queued and
// applied atomically once the queue drains.
type Binder struct {
	queues    [motion.NumCarriages]*motion.Queue
	ap        *motion.AxisPosition
	solver    motion.Solver
	extruders map[string]int // extruder name -> home carriage
	bindings  map[string]*binding
	bus       *events.Bus
	logger    *log.Logger
}

// NewBinder creates a binder over the per-carriage queues.
func NewBinder(queues [motion.NumCarriages]*motion.Queue, ap *motion.AxisPosition,
	solver motion.Solver, extruders []Extruder, bus *events.Bus, logger *log.Logger) *Binder {
	b := &Binder{
		queues:    queues,
		ap:        ap,
		solver:    solver,
		extruders: make(map[string]int, len(extruders)),
		bindings:  make(map[string]*binding),
		bus:       bus,
		logger:    logger,
	}
	for _, e := range extruders {
		b.extruders[e.Name] = e.Carriage
	}
	return b
}

// Bind makes the slave extruder's subsequent motion derive from the
// master carriage's motion stream through the transform. The binding
// applies at the master queue's next drain boundary. Binding to a master
// whose own extruder is currently a bound slave is rejected (no chained
// bindings).
func (b *Binder) Bind(slaveExtruder string, masterCarriage int, t Transform) error {
	slaveCarriage, ok := b.extruders[slaveExtruder]
	if !ok {
		return errors.RuntimeError(fmt.Sprintf("unknown extruder '%s'", slaveExtruder))
	}
	if slaveCarriage == masterCarriage {
		return errors.RuntimeError(fmt.Sprintf("cannot bind '%s' to its own carriage", slaveExtruder))
	}
	if b.CarriageIsSlave(masterCarriage) {
		return errors.BindingCycleError(slaveExtruder, fmt.Sprintf("carriage%d", masterCarriage))
	}
	if existing, ok := b.bindings[slaveExtruder]; ok {
		if existing.master == masterCarriage {
			// Rebinding to the same master just updates the transform.
			existing.transform = t
			return nil
		}
		// Switching masters would leave the old follower installed;
		// require an explicit unbind first.
		return errors.RuntimeError(fmt.Sprintf(
			"extruder '%s' is already bound to carriage %d; unbind it first", slaveExtruder, existing.master))
	}

	bd := &binding{
		slave:         slaveExtruder,
		slaveCarriage: slaveCarriage,
		master:        masterCarriage,
		transform:     t,
	}
	b.bindings[slaveExtruder] = bd

	b.queues[masterCarriage].OnDrain(func() {
		// The binding may have been cancelled (fault flush) before the
		// queue drained.
		if b.bindings[slaveExtruder] != bd {
			return
		}
		bd.applied = true
		b.queues[masterCarriage].AddFollower(slaveExtruder, b.follower(bd))
		b.bus.Publish(events.TypeBindingChanged, fmt.Sprintf("'%s' bound to carriage %d queue", slaveExtruder, masterCarriage),
			map[string]interface{}{"slave": slaveExtruder, "master": masterCarriage, "bound": true})
		b.logger.Info("bound extruder '%s' to carriage %d motion queue", slaveExtruder, masterCarriage)
	})
	return nil
}

// follower returns the per-move callback that drives the slave carriage
// from the master's executed moves.
func (b *Binder) follower(bd *binding) motion.Follower {
	return func(mv motion.Move) {
		derived := bd.transform.Apply(mv.Target)
		if err := b.solver.QueueMove(bd.slaveCarriage, derived, mv.Speed); err != nil {
			b.logger.WithError(err).Error("bound slave move failed")
			return
		}
		b.ap.Set(bd.slaveCarriage, derived)
		b.ap.SetActual(bd.slaveCarriage, derived)
	}
}

// Unbind restores the slave extruder's independent sourcing at the master
// queue's next drain boundary. The slave carriage keeps its last
// bound-derived position.
func (b *Binder) Unbind(slaveExtruder string) error {
	bd, ok := b.bindings[slaveExtruder]
	if !ok {
		return nil
	}
	if !bd.applied {
		// Binding never took effect; cancel it outright.
		delete(b.bindings, slaveExtruder)
		return nil
	}
	b.queues[bd.master].OnDrain(func() {
		if b.bindings[slaveExtruder] != bd {
			return
		}
		b.queues[bd.master].RemoveFollower(slaveExtruder)
		delete(b.bindings, slaveExtruder)
		b.bus.Publish(events.TypeBindingChanged, fmt.Sprintf("'%s' unbound from carriage %d queue", slaveExtruder, bd.master),
			map[string]interface{}{"slave": slaveExtruder, "master": bd.master, "bound": false})
		b.logger.Info("unbound extruder '%s' from carriage %d motion queue", slaveExtruder, bd.master)
	})
	return nil
}

// IsBound reports whether the slave extruder has a current or pending
// binding.
func (b *Binder) IsBound(slaveExtruder string) bool {
	_, ok := b.bindings[slaveExtruder]
	return ok
}

// MasterOf returns the master carriage for a bound slave extruder.
func (b *Binder) MasterOf(slaveExtruder string) (int, bool) {
	bd, ok := b.bindings[slaveExtruder]
	if !ok {
		return 0, false
	}
	return bd.master, true
}

// CarriageIsSlave reports whether the carriage's motion is currently (or
// pending to be) derived from another carriage's queue.
func (b *Binder) CarriageIsSlave(carriage int) bool {
	for _, bd := range b.bindings {
		if bd.slaveCarriage == carriage {
			return true
		}
	}
	return false
}

// FlushCarriage drops any binding whose slave or master is the given
// carriage. Called on fault stop, after the queues have been flushed.
func (b *Binder) FlushCarriage(carriage int) {
	for name, bd := range b.bindings {
		if bd.slaveCarriage != carriage && bd.master != carriage {
			continue
		}
		if bd.applied {
			b.queues[bd.master].RemoveFollower(name)
		}
		delete(b.bindings, name)
		b.logger.Warn("binding '%s' dropped by fault flush", name)
	}
}
