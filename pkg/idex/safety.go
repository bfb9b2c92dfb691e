package idex

import (
	"idex-host/pkg/errors"
	"idex-host/pkg/events"
	"idex-host/pkg/log"
	"idex-host/pkg/motion"
)

// SafetyGuard enforces the minimum separation between the two carriages.
// It must be consulted before committing any independent-mode move. A
// safe distance of zero disables the check.
type SafetyGuard struct {
	ap           *motion.AxisPosition
	safeDistance float64
	bus          *events.Bus
	logger       *log.Logger
}

// NewSafetyGuard creates a guard over the shared axis positions.
func NewSafetyGuard(ap *motion.AxisPosition, safeDistance float64, bus *events.Bus, logger *log.Logger) *SafetyGuard {
	return &SafetyGuard{
		ap:           ap,
		safeDistance: safeDistance,
		bus:          bus,
		logger:       logger,
	}
}

// SafeDistance returns the configured minimum separation.
func (g *SafetyGuard) SafeDistance() float64 {
	return g.safeDistance
}

// ValidateMove rejects a move of the given carriage whose resulting
// separation from the other carriage's commanded (or pending) position
// would fall below the safe distance.
func (g *SafetyGuard) ValidateMove(carriage int, target float64) error {
	if g.safeDistance <= 0 {
		return nil
	}
	other := 1 - carriage
	sep := target - g.ap.Get(other)
	if sep < 0 {
		sep = -sep
	}
	if sep < g.safeDistance {
		err := errors.CollisionError(carriage, target, sep, g.safeDistance)
		g.bus.Publish(events.TypeCollisionRejected, err.Message, map[string]interface{}{
			"carriage":   carriage,
			"target":     target,
			"separation": sep,
		})
		return err
	}
	return nil
}

// ValidateHoming checks the axis being homed against the other carriage's
// last-known position. If the other carriage has not homed, its position
// is unverified: the check is skipped and a warning-grade error is
// returned (homing order matters).
func (g *SafetyGuard) ValidateHoming(carriage int) error {
	if g.safeDistance <= 0 {
		return nil
	}
	other := 1 - carriage
	if !g.ap.IsHomed(other) {
		warn := errors.HomingOrderError(carriage, other)
		g.bus.Publish(events.TypeHomingOrderWarning, warn.Message, map[string]interface{}{
			"carriage": carriage,
		})
		g.logger.Warn("%s", warn.Message)
		return warn
	}
	return g.ValidateMove(carriage, g.ap.Endstop(carriage))
}
