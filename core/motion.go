package core

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/orbital-simulator/model"
	"github.com/signalsfoundry/orbital-simulator/timectrl"
)

// LocationUpdater receives the location of a static entity after every update.
type LocationUpdater interface {
	UpdateEntityLocation(id string, location OrbitalLocation) error
}

// MotionOption configures an AreaMotionModel.
type MotionOption func(*AreaMotionModel)

// WithLocationUpdater forwards every recomputed location to u.
func WithLocationUpdater(u LocationUpdater) MotionOption {
	return func(m *AreaMotionModel) {
		m.updater = u
	}
}

// AreaMotionModel tracks static entities (areas, asteroids) parked on fixed
// orbits and recomputes their location once per tick. It is owned by the
// simulation driver and not safe for concurrent use.
type AreaMotionModel struct {
	orbits    map[string]Orbit
	locations map[string]OrbitalLocation
	order     []string
	updater   LocationUpdater
}

// NewAreaMotionModel returns an empty model.
func NewAreaMotionModel(opts ...MotionOption) *AreaMotionModel {
	m := &AreaMotionModel{
		orbits:    make(map[string]Orbit),
		locations: make(map[string]OrbitalLocation),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add starts tracking id on orbit.
func (m *AreaMotionModel) Add(id string, orbit Orbit) error {
	if _, exists := m.orbits[id]; exists {
		return fmt.Errorf("%w: %q", ErrStaticEntityExists, id)
	}
	if err := orbit.Validate(); err != nil {
		return fmt.Errorf("entity %q: %w", id, err)
	}
	m.orbits[id] = orbit
	m.order = append(m.order, id)
	return nil
}

// Remove stops tracking id.
func (m *AreaMotionModel) Remove(id string) error {
	if _, exists := m.orbits[id]; !exists {
		return fmt.Errorf("static entity %q not tracked", id)
	}
	delete(m.orbits, id)
	delete(m.locations, id)
	for i, other := range m.order {
		if other == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// UpdatePositions recomputes every tracked location at now.
func (m *AreaMotionModel) UpdatePositions(now timectrl.Time) error {
	for _, id := range m.order {
		loc := m.orbits[id].LocationAt(now)
		m.locations[id] = loc
		if m.updater != nil {
			if err := m.updater.UpdateEntityLocation(id, loc); err != nil {
				return fmt.Errorf("update %q: %w", id, err)
			}
		}
	}
	return nil
}

// Orbit returns the orbit id is parked on.
func (m *AreaMotionModel) Orbit(id string) (Orbit, bool) {
	o, ok := m.orbits[id]
	return o, ok
}

// Location returns the location of id as of the last UpdatePositions.
func (m *AreaMotionModel) Location(id string) (OrbitalLocation, bool) {
	loc, ok := m.locations[id]
	return loc, ok
}

// IDs returns the tracked identifiers in insertion order.
func (m *AreaMotionModel) IDs() []string {
	return append([]string(nil), m.order...)
}

// Nearest returns the tracked entity around body closest to position, if it
// lies within maxDistance kilometres. Ties go to the lowest identifier.
func (m *AreaMotionModel) Nearest(body model.CelestialBody, position Vec2, maxDistance float64) (string, float64, bool) {
	ids := make([]string, 0, len(m.locations))
	for id, loc := range m.locations {
		if loc.Geometry.Body.Same(body) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	best, bestDistance := "", math.Inf(1)
	for _, id := range ids {
		d := m.locations[id].Cartesian().DistanceTo(position)
		if d < bestDistance {
			best, bestDistance = id, d
		}
	}
	if best == "" || bestDistance > maxDistance {
		return "", 0, false
	}
	return best, bestDistance, true
}

// OrbitFromTLE propagates a two-line element set to epoch with SGP4 and folds
// the result into a circular game orbit around body: the altitude is the
// distance from the centre minus the body radius, the phase the angle in the
// equatorial plane. The orbit's insertion time is zero.
func OrbitFromTLE(body model.CelestialBody, line1, line2 string, epoch time.Time) (Orbit, error) {
	line1 = strings.TrimSpace(line1)
	line2 = strings.TrimSpace(line2)
	if err := validateTLE(line1, line2); err != nil {
		return Orbit{}, err
	}

	sat := satellite.TLEToSat(line1, line2, satellite.GravityWGS72)
	if sat.Error != 0 {
		return Orbit{}, fmt.Errorf("%w: sgp4 init code %d %s", ErrInvalidTLE, sat.Error, sat.ErrorStr)
	}

	epoch = epoch.UTC()
	year, month, day := epoch.Date()
	hour, minute, sec := epoch.Clock()
	pos, _ := satellite.Propagate(sat, year, int(month), day, hour, minute, sec)
	if !isFinite(pos.X) || !isFinite(pos.Y) || !isFinite(pos.Z) {
		return Orbit{}, fmt.Errorf("%w: propagation diverged", ErrInvalidTLE)
	}

	r := math.Sqrt(pos.X*pos.X + pos.Y*pos.Y + pos.Z*pos.Z)
	altitude := r - body.Radius
	if altitude <= 0 {
		return Orbit{}, fmt.Errorf("%w: propagated radius %.1f km is inside %q", ErrInvalidTLE, r, body.ID)
	}
	phase := math.Atan2(pos.Y, pos.X) * 180 / math.Pi

	orbit := NewOrbit(NewCircularGeometry(body, altitude, phase), 0)
	return orbit, orbit.Validate()
}

// go-satellite aborts the process on malformed lines, check the layout first.
// The lines must already be trimmed: TLEToSat reads fixed columns.
func validateTLE(line1, line2 string) error {
	switch {
	case len(line1) != 69 || len(line2) != 69:
		return fmt.Errorf("%w: lines must be 69 characters, got %d and %d", ErrInvalidTLE, len(line1), len(line2))
	case line1[0] != '1' || line2[0] != '2':
		return fmt.Errorf("%w: line numbers must be 1 and 2", ErrInvalidTLE)
	}
	return nil
}
