package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/signalsfoundry/orbital-simulator/core"
	"github.com/signalsfoundry/orbital-simulator/model"
)

var (
	ErrBodyNotFound       = errors.New("celestial body not found")
	ErrBodyExists         = errors.New("celestial body already exists")
	ErrAreaNotFound       = errors.New("area not found")
	ErrAreaExists         = errors.New("area already exists")
	ErrAsteroidExists     = errors.New("asteroid already exists")
	ErrSpacecraftNotFound = errors.New("spacecraft not found")
	ErrSpacecraftExists   = errors.New("spacecraft already exists")
)

// EventType indicates what kind of change happened in the KB.
type EventType int

const (
	EventSpacecraftUpdated EventType = iota
	EventSpacecraftDocked
	EventSpacecraftUndocked
)

// Event is emitted to subscribers when a spacecraft changes.
type Event struct {
	Type       EventType
	Spacecraft model.Spacecraft
}

// KnowledgeBase is an in-memory, thread-safe registry of the assets the
// orbital core reads: bodies, areas, asteroids and spacecraft. It serves the
// propulsion, propellant and docking providers used by the planner and the
// simulation driver.
type KnowledgeBase struct {
	mu sync.RWMutex

	bodies     map[string]model.CelestialBody
	areas      map[string]*model.Area
	asteroids  map[string]*model.Asteroid
	spacecraft map[uuid.UUID]*model.Spacecraft

	subs []func(Event)
}

// NewKnowledgeBase constructs an empty KB.
func NewKnowledgeBase() *KnowledgeBase {
	return &KnowledgeBase{
		bodies:     make(map[string]model.CelestialBody),
		areas:      make(map[string]*model.Area),
		asteroids:  make(map[string]*model.Asteroid),
		spacecraft: make(map[uuid.UUID]*model.Spacecraft),
	}
}

// AddBody registers a celestial body.
func (kb *KnowledgeBase) AddBody(b model.CelestialBody) error {
	if !b.IsValid() {
		return fmt.Errorf("body %q: radius and mass must be positive", b.ID)
	}
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.bodies[b.ID]; exists {
		return fmt.Errorf("%w: %q", ErrBodyExists, b.ID)
	}
	kb.bodies[b.ID] = b
	return nil
}

// Body returns the body registered under id.
func (kb *KnowledgeBase) Body(id string) (model.CelestialBody, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	b, ok := kb.bodies[id]
	if !ok {
		return model.CelestialBody{}, fmt.Errorf("%w: %q", ErrBodyNotFound, id)
	}
	return b, nil
}

// ListBodies returns every body sorted by ID.
func (kb *KnowledgeBase) ListBodies() []model.CelestialBody {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.CelestialBody, 0, len(kb.bodies))
	for _, b := range kb.bodies {
		res = append(res, b)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// AddArea registers an area. Its body must already exist.
func (kb *KnowledgeBase) AddArea(a model.Area) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.areas[a.ID]; exists {
		return fmt.Errorf("%w: %q", ErrAreaExists, a.ID)
	}
	if _, ok := kb.bodies[a.BodyID]; !ok {
		return fmt.Errorf("area %q: %w: %q", a.ID, ErrBodyNotFound, a.BodyID)
	}
	kb.areas[a.ID] = &a
	return nil
}

// Area returns a copy of the area registered under id.
func (kb *KnowledgeBase) Area(id string) (model.Area, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	a, ok := kb.areas[id]
	if !ok {
		return model.Area{}, fmt.Errorf("%w: %q", ErrAreaNotFound, id)
	}
	return *a, nil
}

// ListAreas returns a snapshot of all areas sorted by ID.
func (kb *KnowledgeBase) ListAreas() []model.Area {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.Area, 0, len(kb.areas))
	for _, a := range kb.areas {
		res = append(res, *a)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// AddAsteroid registers an asteroid. Its body must already exist.
func (kb *KnowledgeBase) AddAsteroid(a model.Asteroid) error {
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.asteroids[a.ID]; exists {
		return fmt.Errorf("%w: %q", ErrAsteroidExists, a.ID)
	}
	if _, ok := kb.bodies[a.BodyID]; !ok {
		return fmt.Errorf("asteroid %q: %w: %q", a.ID, ErrBodyNotFound, a.BodyID)
	}
	kb.asteroids[a.ID] = &a
	return nil
}

// ListAsteroids returns a snapshot of all asteroids sorted by ID.
func (kb *KnowledgeBase) ListAsteroids() []model.Asteroid {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.Asteroid, 0, len(kb.asteroids))
	for _, a := range kb.asteroids {
		res = append(res, *a)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// AddSpacecraft registers a spacecraft.
func (kb *KnowledgeBase) AddSpacecraft(sc model.Spacecraft) error {
	if sc.ID == uuid.Nil {
		return fmt.Errorf("spacecraft %q has no identifier", sc.Name)
	}
	kb.mu.Lock()
	defer kb.mu.Unlock()

	if _, exists := kb.spacecraft[sc.ID]; exists {
		return fmt.Errorf("%w: %s", ErrSpacecraftExists, sc.ID)
	}
	kb.spacecraft[sc.ID] = &sc
	return nil
}

// Spacecraft returns a copy of the spacecraft registered under id.
func (kb *KnowledgeBase) Spacecraft(id uuid.UUID) (model.Spacecraft, error) {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	sc, ok := kb.spacecraft[id]
	if !ok {
		return model.Spacecraft{}, fmt.Errorf("%w: %s", ErrSpacecraftNotFound, id)
	}
	return *sc, nil
}

// ListSpacecraft returns a snapshot of all spacecraft sorted by name then ID.
func (kb *KnowledgeBase) ListSpacecraft() []model.Spacecraft {
	kb.mu.RLock()
	defer kb.mu.RUnlock()

	res := make([]model.Spacecraft, 0, len(kb.spacecraft))
	for _, sc := range kb.spacecraft {
		res = append(res, *sc)
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].Name != res[j].Name {
			return res[i].Name < res[j].Name
		}
		return res[i].ID.String() < res[j].ID.String()
	})
	return res
}

// SetDocked updates the docking status of a spacecraft and notifies subscribers.
func (kb *KnowledgeBase) SetDocked(id uuid.UUID, docked bool) error {
	typ := EventSpacecraftUndocked
	if docked {
		typ = EventSpacecraftDocked
	}
	return kb.update(id, typ, func(sc *model.Spacecraft) {
		sc.Docked = docked
	})
}

// SetCargoMass updates the cargo carried by a spacecraft.
func (kb *KnowledgeBase) SetCargoMass(id uuid.UUID, tonnes float64) error {
	return kb.update(id, EventSpacecraftUpdated, func(sc *model.Spacecraft) {
		sc.CargoMass = max(tonnes, 0)
	})
}

// SetPropellantMass updates the propellant aboard a spacecraft, clamped to its
// tank capacity when one is set.
func (kb *KnowledgeBase) SetPropellantMass(id uuid.UUID, tonnes float64) error {
	return kb.update(id, EventSpacecraftUpdated, func(sc *model.Spacecraft) {
		sc.PropellantMass = clampPropellant(sc, tonnes)
	})
}

// ConsumePropellant removes tonnes of propellant, never going below zero.
func (kb *KnowledgeBase) ConsumePropellant(id uuid.UUID, tonnes float64) error {
	return kb.update(id, EventSpacecraftUpdated, func(sc *model.Spacecraft) {
		sc.PropellantMass = clampPropellant(sc, sc.PropellantMass-tonnes)
	})
}

func clampPropellant(sc *model.Spacecraft, tonnes float64) float64 {
	tonnes = max(tonnes, 0)
	if limit := sc.Propulsion.PropellantCap; limit > 0 {
		tonnes = min(tonnes, limit)
	}
	return tonnes
}

func (kb *KnowledgeBase) update(id uuid.UUID, typ EventType, mutate func(*model.Spacecraft)) error {
	kb.mu.Lock()
	sc, ok := kb.spacecraft[id]
	if !ok {
		kb.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSpacecraftNotFound, id)
	}
	mutate(sc)
	event := Event{Type: typ, Spacecraft: *sc}
	subs := append([]func(Event){}, kb.subs...)
	kb.mu.Unlock()

	// Notify subscribers outside the lock to avoid deadlocks.
	for _, sub := range subs {
		sub(event)
	}
	return nil
}

// Subscribe registers a callback for KB events. It returns an unsubscribe function.
func (kb *KnowledgeBase) Subscribe(fn func(Event)) (unsubscribe func()) {
	kb.mu.Lock()
	defer kb.mu.Unlock()
	kb.subs = append(kb.subs, fn)
	idx := len(kb.subs) - 1

	return func() {
		kb.mu.Lock()
		defer kb.mu.Unlock()
		if idx < 0 || idx >= len(kb.subs) {
			return
		}
		kb.subs = append(kb.subs[:idx], kb.subs[idx+1:]...)
		idx = -1
	}
}

// SpacecraftPropulsion implements core.PropulsionProvider.
func (kb *KnowledgeBase) SpacecraftPropulsion(id uuid.UUID) (core.PropulsionModel, float64, error) {
	sc, err := kb.Spacecraft(id)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %w", core.ErrUnknownSpacecraft, err)
	}
	return core.NewPropulsionMetrics(sc.Propulsion), sc.CargoMass, nil
}

// PropellantMass implements core.PropellantProvider.
func (kb *KnowledgeBase) PropellantMass(id uuid.UUID) (float64, error) {
	sc, err := kb.Spacecraft(id)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", core.ErrUnknownSpacecraft, err)
	}
	return sc.PropellantMass, nil
}

// IsDocked implements core.DockingProvider. Unknown spacecraft are not docked.
func (kb *KnowledgeBase) IsDocked(id uuid.UUID) bool {
	kb.mu.RLock()
	defer kb.mu.RUnlock()
	sc, ok := kb.spacecraft[id]
	return ok && sc.Docked
}

var (
	_ core.PropulsionProvider = (*KnowledgeBase)(nil)
	_ core.PropellantProvider = (*KnowledgeBase)(nil)
	_ core.DockingProvider    = (*KnowledgeBase)(nil)
)
