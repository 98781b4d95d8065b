package core

import (
	"fmt"

	"github.com/signalsfoundry/orbital-simulator/timectrl"
)

// Orbit anchors a geometry in time: the spacecraft passes the geometry's
// start phase at InsertionTime. Orbits are values; replace them, never mutate
// a stored one.
type Orbit struct {
	Geometry      OrbitGeometry
	InsertionTime timectrl.Time
}

// NewOrbit pairs a geometry with its insertion time.
func NewOrbit(geometry OrbitGeometry, insertion timectrl.Time) Orbit {
	return Orbit{Geometry: geometry, InsertionTime: insertion}
}

// IsValid reports whether the orbit's geometry is valid.
func (o Orbit) IsValid() bool {
	return o.Geometry.IsValid() && o.InsertionTime.IsFinite()
}

// Validate is IsValid with a descriptive error.
func (o Orbit) Validate() error {
	if err := o.Geometry.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOrbit, err)
	}
	if !o.InsertionTime.IsFinite() {
		return fmt.Errorf("%w: insertion time is not finite", ErrInvalidOrbit)
	}
	return nil
}

// PhaseAt returns the phase at simulation time t.
func (o Orbit) PhaseAt(t timectrl.Time, unwind bool) float64 {
	return o.Geometry.PhaseAt(t-o.InsertionTime, unwind)
}

// LocationAt returns the location at simulation time t.
func (o Orbit) LocationAt(t timectrl.Time) OrbitalLocation {
	return OrbitalLocation{Geometry: o.Geometry, Phase: o.PhaseAt(t, true)}
}

// EndTime returns when the geometry's end phase is reached.
func (o Orbit) EndTime() timectrl.Time {
	return o.InsertionTime + o.Geometry.ArcDuration()
}

// StableOrbit returns the circular orbit a spacecraft settles into once it
// completes this arc: a full revolution at the opposite altitude, starting
// from the end phase.
func (o Orbit) StableOrbit() Orbit {
	g := o.Geometry
	return Orbit{
		Geometry:      NewCircularGeometry(g.Body, g.OppositeAltitude, g.EndPhase),
		InsertionTime: o.EndTime(),
	}
}

// Equal reports whether two orbits are identical.
func (o Orbit) Equal(other Orbit) bool {
	return o.InsertionTime == other.InsertionTime && o.Geometry.Equal(other.Geometry)
}
