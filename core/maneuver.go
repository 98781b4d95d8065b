package core

import (
	"fmt"

	"github.com/signalsfoundry/orbital-simulator/timectrl"
)

// Maneuver is one idealised impulsive burn stretched over a finite duration
// for a whole fleet. ThrustFactors and PropellantUsed are indexed like the
// fleet that planned it.
type Maneuver struct {
	DeltaV         float64 // m/s, positive is prograde
	Phase          float64 // degrees at the idealised burn point
	Time           timectrl.Time
	Duration       timectrl.Time
	ThrustFactors  []float64
	PropellantUsed []float64 // tonnes
}

// NewManeuver validates and builds a maneuver.
func NewManeuver(deltaV, phase float64, start, duration timectrl.Time, thrustFactors, propellant []float64) (Maneuver, error) {
	if deltaV == 0 {
		return Maneuver{}, ErrZeroDeltaV
	}
	if duration < 0 || !duration.IsFinite() {
		return Maneuver{}, fmt.Errorf("%w: maneuver duration %v", ErrInvalidTrajectory, duration)
	}
	return Maneuver{
		DeltaV:         deltaV,
		Phase:          phase,
		Time:           start,
		Duration:       duration,
		ThrustFactors:  thrustFactors,
		PropellantUsed: propellant,
	}, nil
}

// IsValid reports whether the maneuver carries a non-zero delta-v.
func (m Maneuver) IsValid() bool {
	return m.DeltaV != 0 && m.Duration >= 0 && m.Time.IsFinite()
}

// EndTime returns when the burn finishes.
func (m Maneuver) EndTime() timectrl.Time {
	return m.Time + m.Duration
}

// IsActive reports whether the burn is under way at t.
func (m Maneuver) IsActive(t timectrl.Time) bool {
	return t >= m.Time && t < m.EndTime()
}

// ThrustFactor returns the throttle for the spacecraft at index.
func (m Maneuver) ThrustFactor(index int) float64 {
	if index < 0 || index >= len(m.ThrustFactors) {
		return 0
	}
	return m.ThrustFactors[index]
}
