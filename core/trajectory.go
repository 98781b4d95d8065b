package core

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/signalsfoundry/orbital-simulator/timectrl"
)

// burnEaseExponent shapes the blend between pre- and post-burn orbits.
const burnEaseExponent = 2

// Trajectory is a planned multi-leg transfer for a fleet. It is built once
// by the planner and shared read-only afterwards.
//
// Transfers holds the coast arcs that begin at a burn. Between two arcs, and
// after the last one, the fleet sits on the arc's StableOrbit.
type Trajectory struct {
	InitialOrbit Orbit
	Transfers    []Orbit
	Maneuvers    []Maneuver

	// Spacecraft lists the planned fleet in the order used by the maneuvers'
	// per-spacecraft slices.
	Spacecraft []uuid.UUID

	TotalTravelDuration timectrl.Time
	TotalDeltaV         float64
}

// IsValid reports whether the trajectory can be committed and simulated.
func (t *Trajectory) IsValid() bool {
	return t.Validate() == nil
}

// Validate is IsValid with a descriptive error.
func (t *Trajectory) Validate() error {
	if t == nil {
		return fmt.Errorf("%w: nil trajectory", ErrInvalidTrajectory)
	}
	if len(t.Transfers) == 0 {
		return fmt.Errorf("%w: no transfer legs", ErrInvalidTrajectory)
	}
	if len(t.Maneuvers) == 0 {
		return fmt.Errorf("%w: no maneuvers", ErrInvalidTrajectory)
	}
	for i, leg := range t.Transfers {
		if !leg.IsValid() {
			return fmt.Errorf("%w: leg %d: %w", ErrInvalidTrajectory, i, leg.Validate())
		}
	}
	for i, m := range t.Maneuvers {
		if !m.IsValid() {
			return fmt.Errorf("%w: maneuver %d has delta-v %v", ErrInvalidTrajectory, i, m.DeltaV)
		}
	}
	return nil
}

// FirstManeuverStartTime returns when the first burn begins.
func (t *Trajectory) FirstManeuverStartTime() timectrl.Time {
	if len(t.Maneuvers) == 0 {
		return timectrl.Time(math.Inf(1))
	}
	return t.Maneuvers[0].Time
}

// ArrivalTime returns when the fleet is parked on its final orbit: after the
// last burn ends and the last arc is complete.
func (t *Trajectory) ArrivalTime() timectrl.Time {
	arrival := timectrl.Time(math.Inf(-1))
	if n := len(t.Maneuvers); n > 0 {
		arrival = t.Maneuvers[n-1].EndTime()
	}
	if n := len(t.Transfers); n > 0 {
		if end := t.Transfers[n-1].EndTime(); end > arrival {
			arrival = end
		}
	}
	return arrival
}

// FinalOrbit returns the stable orbit the trajectory collapses into.
func (t *Trajectory) FinalOrbit() Orbit {
	return t.Transfers[len(t.Transfers)-1].StableOrbit()
}

// HighestAltitude returns the highest altitude reached along the trajectory.
func (t *Trajectory) HighestAltitude() float64 {
	highest := t.InitialOrbit.Geometry.HighestAltitude()
	for _, leg := range t.Transfers {
		highest = math.Max(highest, leg.Geometry.HighestAltitude())
	}
	return highest
}

// OrbitAt returns the orbit the fleet coasts on at time now, ignoring the
// finite duration of burns.
func (t *Trajectory) OrbitAt(now timectrl.Time) Orbit {
	current := -1
	for i, leg := range t.Transfers {
		if leg.InsertionTime <= now {
			current = i
		}
	}
	if current < 0 {
		return t.InitialOrbit
	}
	leg := t.Transfers[current]
	if now < leg.EndTime() {
		return leg
	}
	return leg.StableOrbit()
}

// LocationAt returns the orbital location at now.
func (t *Trajectory) LocationAt(now timectrl.Time) OrbitalLocation {
	return t.OrbitAt(now).LocationAt(now)
}

// CartesianLocationAt returns the body-centred position at now. Away from
// burns this is the coast orbit's projection; during a burn the pre- and
// post-burn projections are blended along an ease-in/ease-out curve.
func (t *Trajectory) CartesianLocationAt(now timectrl.Time) Vec2 {
	m, _ := t.CurrentManeuver(now)
	if m == nil || m.Duration <= 0 {
		return t.LocationAt(now).Cartesian()
	}

	before := t.OrbitAt(m.Time).LocationAt(now).Cartesian()
	after := t.OrbitAt(m.EndTime()).LocationAt(now).Cartesian()
	alpha := float64((now - m.Time) / m.Duration)
	return Lerp(before, after, EaseInOut(alpha, burnEaseExponent))
}

// CurrentManeuver returns the burn under way at now and its index.
func (t *Trajectory) CurrentManeuver(now timectrl.Time) (*Maneuver, int) {
	for i := range t.Maneuvers {
		if t.Maneuvers[i].IsActive(now) {
			return &t.Maneuvers[i], i
		}
	}
	return nil, -1
}

// NextManeuver returns the first burn starting strictly after now.
func (t *Trajectory) NextManeuver(now timectrl.Time) (*Maneuver, int) {
	for i := range t.Maneuvers {
		if t.Maneuvers[i].Time > now {
			return &t.Maneuvers[i], i
		}
	}
	return nil, -1
}

// LastCompletedManeuver returns the last burn that ended at or before now.
func (t *Trajectory) LastCompletedManeuver(now timectrl.Time) (*Maneuver, int) {
	var last *Maneuver
	index := -1
	for i := range t.Maneuvers {
		if t.Maneuvers[i].EndTime() <= now {
			last = &t.Maneuvers[i]
			index = i
		}
	}
	return last, index
}

// ThrustFactorAt returns the throttle of the spacecraft at index at now, or
// zero when no burn is under way.
func (t *Trajectory) ThrustFactorAt(now timectrl.Time, index int) float64 {
	m, _ := t.CurrentManeuver(now)
	if m == nil {
		return 0
	}
	return m.ThrustFactor(index)
}

// PropellantUsed sums the propellant burnt by the spacecraft at index.
func (t *Trajectory) PropellantUsed(index int) float64 {
	total := 0.0
	for _, m := range t.Maneuvers {
		if index >= 0 && index < len(m.PropellantUsed) {
			total += m.PropellantUsed[index]
		}
	}
	return total
}

// SpacecraftIndex returns the position of id in the planned fleet, or -1.
func (t *Trajectory) SpacecraftIndex(id uuid.UUID) int {
	for i, sc := range t.Spacecraft {
		if sc == id {
			return i
		}
	}
	return -1
}

// AbortOrbit returns the holding orbit a fleet aborting at now parks on: a
// full circular revolution at the current altitude, starting from the current
// phase of the orbit reached by the last completed burn (or the initial orbit
// if no burn has completed).
func (t *Trajectory) AbortOrbit(now timectrl.Time) Orbit {
	reference := t.InitialOrbit
	if m, _ := t.LastCompletedManeuver(now); m != nil {
		reference = t.OrbitAt(m.EndTime())
	}

	location := reference.LocationAt(now)
	return Orbit{
		Geometry:      NewCircularGeometry(reference.Geometry.Body, location.Altitude(), location.Phase),
		InsertionTime: now,
	}
}
