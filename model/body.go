package model

// GravitationalConstant is G in m³·kg⁻¹·s⁻².
const GravitationalConstant = 6.67430e-11

// CelestialBody is an immutable description of a body that orbits are
// computed around. Orbit data references a body by value; the ID is the
// stable handle used when persisting or replicating.
type CelestialBody struct {
	ID     string  `yaml:"id"`
	Name   string  `yaml:"name"`
	Radius float64 `yaml:"radius_km"` // kilometres
	Mass   float64 `yaml:"mass_kg"`   // kilograms
}

// GravitationalParameter returns µ = G·M in m³/s².
func (b CelestialBody) GravitationalParameter() float64 {
	return GravitationalConstant * b.Mass
}

// RadiusAt returns the distance from the body's centre, in kilometres, of a
// point at the given altitude.
func (b CelestialBody) RadiusAt(altitude float64) float64 {
	return b.Radius + altitude
}

// IsValid reports whether the body can anchor an orbit.
func (b CelestialBody) IsValid() bool {
	return b.ID != "" && b.Radius > 0 && b.Mass > 0
}

// Same reports whether b and other designate the same registry entry.
func (b CelestialBody) Same(other CelestialBody) bool {
	return b.ID == other.ID
}
