package motion

import "fmt"

// NumCarriages is fixed: one primary and one secondary carriage share the
// axis.
const NumCarriages = 2

// AxisPosition tracks each carriage's commanded and actual position along
// the shared axis, plus its homed state. It is a pure data holder; callers
// own validation.
type AxisPosition struct {
	commanded [NumCarriages]float64
	actual    [NumCarriages]float64
	endstop   [NumCarriages]float64
	homed     [NumCarriages]bool
}

// NewAxisPosition creates an AxisPosition with the given per-carriage
// endstop coordinates. Both carriages start unhomed.
func NewAxisPosition(endstop0, endstop1 float64) *AxisPosition {
	ap := &AxisPosition{}
	ap.endstop[0] = endstop0
	ap.endstop[1] = endstop1
	return ap
}

func checkCarriage(carriage int) {
	if carriage < 0 || carriage >= NumCarriages {
		panic(fmt.Sprintf("motion: invalid carriage id %d", carriage))
	}
}

// Set records a carriage's commanded position.
func (ap *AxisPosition) Set(carriage int, position float64) {
	checkCarriage(carriage)
	ap.commanded[carriage] = position
}

// Get returns a carriage's commanded position.
func (ap *AxisPosition) Get(carriage int) float64 {
	checkCarriage(carriage)
	return ap.commanded[carriage]
}

// SetActual records a carriage's actual position after move execution.
func (ap *AxisPosition) SetActual(carriage int, position float64) {
	checkCarriage(carriage)
	ap.actual[carriage] = position
}

// GetActual returns a carriage's actual position.
func (ap *AxisPosition) GetActual(carriage int) float64 {
	checkCarriage(carriage)
	return ap.actual[carriage]
}

// ResetToEndstop sets a carriage's commanded and actual position to its
// endstop coordinate and marks it homed. Used during homing and parking.
func (ap *AxisPosition) ResetToEndstop(carriage int) {
	checkCarriage(carriage)
	ap.commanded[carriage] = ap.endstop[carriage]
	ap.actual[carriage] = ap.endstop[carriage]
	ap.homed[carriage] = true
}

// IsHomed reports whether the carriage has homed since startup.
func (ap *AxisPosition) IsHomed(carriage int) bool {
	checkCarriage(carriage)
	return ap.homed[carriage]
}

// SetUnhomed clears the carriage's homed state (M84 / motor-off).
func (ap *AxisPosition) SetUnhomed(carriage int) {
	checkCarriage(carriage)
	ap.homed[carriage] = false
}

// Endstop returns the carriage's endstop coordinate.
func (ap *AxisPosition) Endstop(carriage int) float64 {
	checkCarriage(carriage)
	return ap.endstop[carriage]
}

// Separation returns the absolute distance between the two carriages'
// commanded positions.
func (ap *AxisPosition) Separation() float64 {
	d := ap.commanded[0] - ap.commanded[1]
	if d < 0 {
		return -d
	}
	return d
}
