package model

// Area is a static location (station, outpost) parked on a fixed circular
// orbit. Its position is re-derived every tick, never stored.
type Area struct {
	ID       string
	Name     string
	BodyID   string
	Altitude float64 // kilometres
	Phase    float64 // degrees at simulation time zero

	// Optional two-line element set. When present the altitude and phase are
	// resolved from it at load time.
	TLE1 string
	TLE2 string
}

// Asteroid is a minable body on a fixed circular orbit.
type Asteroid struct {
	ID       string
	BodyID   string
	Altitude float64 // kilometres
	Phase    float64 // degrees at simulation time zero
	Scale    float64
}
