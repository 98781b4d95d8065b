package core

import (
	"fmt"
	"math"

	"github.com/signalsfoundry/orbital-simulator/model"
	"github.com/signalsfoundry/orbital-simulator/timectrl"
)

// OrbitGeometry describes a two-body orbit, or an arc of one, around a
// reference body. The orbit passes through StartAltitude at StartPhase and
// through OppositeAltitude half a revolution later. Altitudes are kilometres
// above the body's surface, phases are degrees.
type OrbitGeometry struct {
	Body             model.CelestialBody
	StartAltitude    float64
	OppositeAltitude float64
	StartPhase       float64
	EndPhase         float64
}

// NewCircularGeometry returns a full revolution at altitude starting at phase.
func NewCircularGeometry(body model.CelestialBody, altitude, phase float64) OrbitGeometry {
	start := NormalizeDegrees(phase)
	return OrbitGeometry{
		Body:             body,
		StartAltitude:    altitude,
		OppositeAltitude: altitude,
		StartPhase:       start,
		EndPhase:         start + 360,
	}
}

// NewTransferGeometry returns the half-ellipse arc from startAltitude at phase
// to oppositeAltitude at phase+180.
func NewTransferGeometry(body model.CelestialBody, startAltitude, oppositeAltitude, phase float64) OrbitGeometry {
	start := NormalizeDegrees(phase)
	return OrbitGeometry{
		Body:             body,
		StartAltitude:    startAltitude,
		OppositeAltitude: oppositeAltitude,
		StartPhase:       start,
		EndPhase:         start + 180,
	}
}

// IsValid reports whether the geometry can be evaluated.
func (g OrbitGeometry) IsValid() bool {
	return g.Body.IsValid() &&
		g.StartAltitude > 0 && g.OppositeAltitude > 0 &&
		isFinite(g.StartPhase) && isFinite(g.EndPhase) &&
		g.StartPhase < g.EndPhase
}

// Validate is IsValid with a descriptive error.
func (g OrbitGeometry) Validate() error {
	switch {
	case !g.Body.IsValid():
		return fmt.Errorf("%w: reference body %q is not valid", ErrInvalidGeometry, g.Body.ID)
	case g.StartAltitude <= 0 || g.OppositeAltitude <= 0:
		return fmt.Errorf("%w: altitudes %.3f/%.3f km must be positive", ErrInvalidGeometry, g.StartAltitude, g.OppositeAltitude)
	case !isFinite(g.StartPhase) || !isFinite(g.EndPhase):
		return fmt.Errorf("%w: phases must be finite", ErrInvalidGeometry)
	case !(g.StartPhase < g.EndPhase):
		return fmt.Errorf("%w: start phase %.3f must precede end phase %.3f", ErrInvalidGeometry, g.StartPhase, g.EndPhase)
	}
	return nil
}

// IsCircular reports whether both apsides are at the same altitude.
func (g OrbitGeometry) IsCircular() bool {
	return g.StartAltitude == g.OppositeAltitude
}

// HighestAltitude returns the altitude of the apoapsis.
func (g OrbitGeometry) HighestAltitude() float64 {
	return math.Max(g.StartAltitude, g.OppositeAltitude)
}

// SemiMajorAxis returns a, in kilometres from the body's centre.
func (g OrbitGeometry) SemiMajorAxis() float64 {
	return g.Body.Radius + 0.5*(g.StartAltitude+g.OppositeAltitude)
}

// Period returns the time for one full revolution.
func (g OrbitGeometry) Period() timectrl.Time {
	return OrbitalPeriod(g.Body.GravitationalParameter(), g.SemiMajorAxis())
}

// ArcDuration returns the time needed to travel from StartPhase to EndPhase.
func (g OrbitGeometry) ArcDuration() timectrl.Time {
	return g.Period() * timectrl.Time((g.EndPhase-g.StartPhase)/360)
}

// PhaseAt returns the phase reached delta after passing StartPhase. With
// unwind set the result is folded into [StartPhase, StartPhase+360).
func (g OrbitGeometry) PhaseAt(delta timectrl.Time, unwind bool) float64 {
	travelled := float64(delta/g.Period()) * 360
	if !unwind {
		return g.StartPhase + travelled
	}

	folded := math.Mod(travelled, 360)
	if folded < 0 {
		folded += 360
	}
	if folded >= 360 {
		folded = 0
	}
	if !(folded >= 0 && folded < 360) {
		panic(fmt.Sprintf("core: unwound phase offset %v outside [0, 360) for delta %v", folded, delta))
	}
	return g.StartPhase + folded
}

// Equal reports whether two geometries describe the same arc.
func (g OrbitGeometry) Equal(other OrbitGeometry) bool {
	return g.Body.Same(other.Body) &&
		g.StartAltitude == other.StartAltitude &&
		g.OppositeAltitude == other.OppositeAltitude &&
		g.StartPhase == other.StartPhase &&
		g.EndPhase == other.EndPhase
}

// OrbitalPeriod computes 2π·sqrt(a³/µ) for a semi-major axis in kilometres and
// µ in m³/s², returned in minutes.
func OrbitalPeriod(mu, semiMajorAxis float64) timectrl.Time {
	a := semiMajorAxis * 1000
	return timectrl.Time(2 * math.Pi * math.Sqrt(a*a*a/mu) / 60)
}

// CircularSpeed returns the orbital speed in m/s at radius r (km).
func CircularSpeed(mu, r float64) float64 {
	return math.Sqrt(mu / (r * 1000))
}

// VisVivaSpeed returns sqrt(µ(2/r − 1/a)) in m/s for r and a in kilometres.
func VisVivaSpeed(mu, r, a float64) float64 {
	v2 := mu * (2/(r*1000) - 1/(a*1000))
	if v2 < 0 {
		return 0
	}
	return math.Sqrt(v2)
}

func isFinite(f float64) bool {
	return !math.IsInf(f, 0) && !math.IsNaN(f)
}
