package core

import "math"

// OrbitalLocation is a point on an orbit: a geometry plus the phase reached
// on it. Callers must only project locations whose geometry is valid.
type OrbitalLocation struct {
	Geometry OrbitGeometry
	Phase    float64
}

// conic holds the ellipse parameters of a geometry, in kilometres.
type conic struct {
	a, b, e, c float64
	periapsis  float64 // phase of the periapsis, degrees
}

func (l OrbitalLocation) conic() conic {
	g := l.Geometry
	base := g.Body.Radius
	a := (2*base + g.StartAltitude + g.OppositeAltitude) / 2
	b := math.Sqrt((base + g.StartAltitude) * (base + g.OppositeAltitude))

	ratio := b / a
	e := 0.0
	if ratio < 1 {
		e = math.Sqrt(1 - ratio*ratio)
	}

	// Orbits traversed fast-end first start at their periapsis, the others
	// reach it half a revolution later.
	periapsis := g.StartPhase
	if g.StartAltitude > g.OppositeAltitude {
		periapsis += 180
	}

	return conic{a: a, b: b, e: e, c: a * e, periapsis: periapsis}
}

// Radius returns the distance from the body's centre in kilometres.
func (l OrbitalLocation) Radius() float64 {
	k := l.conic()
	theta := (l.Phase - k.periapsis) * math.Pi / 180
	return k.a * (1 - k.e*k.e) / (1 + k.e*math.Cos(theta))
}

// Altitude returns the height above the body's surface in kilometres.
func (l OrbitalLocation) Altitude() float64 {
	return l.Radius() - l.Geometry.Body.Radius
}

// Cartesian returns the body-centred position in kilometres.
func (l OrbitalLocation) Cartesian() Vec2 {
	r := l.Radius()
	s, c := math.Sincos(l.Phase * math.Pi / 180)
	return Vec2{X: r * c, Y: r * s}
}

// Velocity returns the velocity in m/s. The magnitude follows vis-viva; the
// direction is perpendicular to the radius, in the direction of travel.
func (l OrbitalLocation) Velocity() Vec2 {
	k := l.conic()
	speed := VisVivaSpeed(l.Geometry.Body.GravitationalParameter(), l.Radius(), k.a)
	s, c := math.Sincos(l.Phase * math.Pi / 180)
	return Vec2{X: -s * speed, Y: c * speed}
}

// DistanceTo returns the distance between two locations in kilometres.
func (l OrbitalLocation) DistanceTo(other OrbitalLocation) float64 {
	return l.Cartesian().DistanceTo(other.Cartesian())
}
