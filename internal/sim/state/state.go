// internal/sim/state/state.go
package state

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/signalsfoundry/orbital-simulator/core"
	"github.com/signalsfoundry/orbital-simulator/internal/logging"
	"github.com/signalsfoundry/orbital-simulator/model"
	"github.com/signalsfoundry/orbital-simulator/timectrl"
)

var (
	// ErrNotAuthority indicates a mutation was attempted on a replica.
	ErrNotAuthority = errors.New("not the authoritative simulation")
	// ErrInconsistentFleet indicates the spacecraft of one command do not share
	// a single orbit or trajectory entry.
	ErrInconsistentFleet = errors.New("spacecraft do not share one entry")
	// ErrNoTrajectory indicates a spacecraft is not travelling.
	ErrNoTrajectory = errors.New("spacecraft has no trajectory")
	// ErrNoOrbit indicates a spacecraft is not parked on an orbit.
	ErrNoOrbit = errors.New("spacecraft has no orbit")
	// ErrCommitRejected wraps the human-readable reason CanCommitTrajectory gives.
	ErrCommitRejected = errors.New("trajectory commit rejected")
)

// DefaultGarbageCollectionDelay is how long a travelling spacecraft keeps its
// last orbit entry after its first burn starts.
const DefaultGarbageCollectionDelay timectrl.Time = 1

// Registry is the asset view the driver reads. *kb.KnowledgeBase implements it.
type Registry interface {
	core.PropulsionProvider
	core.PropellantProvider
	core.DockingProvider

	ConsumePropellant(id uuid.UUID, tonnes float64) error
	Body(id string) (model.CelestialBody, error)
	ListAreas() []model.Area
	ListAsteroids() []model.Asteroid
}

// MetricsRecorder receives simulation measurements.
// *observability.SimulationCollector implements it.
type MetricsRecorder interface {
	ObserveTick(d time.Duration, simMinutes float64)
	AddFastForwardSteps(n int)
	IncTrajectoryEvent(event string)
	SetDatabaseSizes(orbits, trajectories int)
	ObservePlanning(d time.Duration)
}

// Position is the last location computed for a spacecraft.
type Position struct {
	Location  core.OrbitalLocation
	Cartesian core.Vec2
	Travel    bool
}

type behavior struct {
	state      model.BehaviorState
	targetArea string
	enteredAt  timectrl.Time
}

// OrbitalState is the simulation driver. It owns the orbit and trajectory
// databases, advances them with the clock and serves read accessors.
//
// A single authority mutates the databases; replicas only apply replicated
// deltas. All methods are safe for concurrent use.
type OrbitalState struct {
	// mu guards everything below. The clock has its own lock and listeners
	// run without the clock lock held, so taking mu inside a tick is safe.
	mu sync.RWMutex

	registry Registry
	clock    *timectrl.TimeController
	planner  *core.TrajectoryPlanner
	log      logging.Logger
	metrics  MetricsRecorder
	tracer   trace.Tracer

	authority     bool
	gcDelay       timectrl.Time
	areaProximity float64
	blocked       func() bool

	orbits       *core.OrbitDatabase
	trajectories *core.TrajectoryDatabase

	areas     *core.AreaMotionModel
	asteroids *core.AreaMotionModel

	positions   map[uuid.UUID]Position
	nearestArea map[uuid.UUID]string
	arrived     map[*core.Trajectory]struct{}
	behaviors   map[uuid.UUID]behavior

	pending Events
}

// Option customises OrbitalState construction.
type Option func(*OrbitalState)

// WithAuthority marks the state as the authoritative simulation. Replicas
// leave this unset.
func WithAuthority(authority bool) Option {
	return func(s *OrbitalState) {
		s.authority = authority
	}
}

// WithMetricsRecorder attaches an optional metrics recorder.
func WithMetricsRecorder(m MetricsRecorder) Option {
	return func(s *OrbitalState) {
		s.metrics = m
	}
}

// WithGarbageCollectionDelay overrides DefaultGarbageCollectionDelay.
// Negative delays are ignored.
func WithGarbageCollectionDelay(d timectrl.Time) Option {
	return func(s *OrbitalState) {
		if d >= 0 {
			s.gcDelay = d
		}
	}
}

// WithAreaProximity enables AreaChanged events for parked spacecraft within
// km of an area. Zero disables them.
func WithAreaProximity(km float64) Option {
	return func(s *OrbitalState) {
		if km >= 0 {
			s.areaProximity = km
		}
	}
}

// WithFastForwardBlocker lets a collaborator outside the orbital model stop
// fast-forward loops, for instance while production is pending.
func WithFastForwardBlocker(blocked func() bool) Option {
	return func(s *OrbitalState) {
		s.blocked = blocked
	}
}

// WithTracer sets the tracer used for planning and command spans.
func WithTracer(t trace.Tracer) Option {
	return func(s *OrbitalState) {
		if t != nil {
			s.tracer = t
		}
	}
}

// WithDatabases replaces the empty databases, typically to configure the
// replication journal size.
func WithDatabases(orbits *core.OrbitDatabase, trajectories *core.TrajectoryDatabase) Option {
	return func(s *OrbitalState) {
		if orbits != nil {
			s.orbits = orbits
		}
		if trajectories != nil {
			s.trajectories = trajectories
		}
	}
}

// NewOrbitalState wires a driver to its registry and clock. The driver
// registers itself as a clock listener: every clock step runs one simulation
// tick, whoever drives the clock.
func NewOrbitalState(registry Registry, clock *timectrl.TimeController, log logging.Logger, opts ...Option) (*OrbitalState, error) {
	if registry == nil {
		return nil, errors.New("registry is nil")
	}
	if clock == nil {
		return nil, errors.New("clock is nil")
	}
	if log == nil {
		log = logging.Noop()
	}

	s := &OrbitalState{
		registry:     registry,
		clock:        clock,
		planner:      core.NewTrajectoryPlanner(registry, registry),
		log:          log,
		tracer:       noop.NewTracerProvider().Tracer(""),
		gcDelay:      DefaultGarbageCollectionDelay,
		orbits:       core.NewOrbitDatabase(),
		trajectories: core.NewTrajectoryDatabase(),
		areas:        core.NewAreaMotionModel(),
		asteroids:    core.NewAreaMotionModel(),
		positions:    make(map[uuid.UUID]Position),
		nearestArea:  make(map[uuid.UUID]string),
		arrived:      make(map[*core.Trajectory]struct{}),
		behaviors:    make(map[uuid.UUID]behavior),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	if err := s.LoadStaticEntities(); err != nil {
		return nil, err
	}
	clock.AddListener(func(timectrl.Time) { s.tick() })
	return s, nil
}

// LoadStaticEntities (re)reads areas and asteroids from the registry and puts
// each on its fixed circular orbit.
func (s *OrbitalState) LoadStaticEntities() error {
	areas := core.NewAreaMotionModel()
	for _, a := range s.registry.ListAreas() {
		orbit, err := s.staticOrbit(a.BodyID, a.Altitude, a.Phase)
		if err != nil {
			return err
		}
		if err := areas.Add(a.ID, orbit); err != nil {
			return err
		}
	}
	asteroids := core.NewAreaMotionModel()
	for _, a := range s.registry.ListAsteroids() {
		orbit, err := s.staticOrbit(a.BodyID, a.Altitude, a.Phase)
		if err != nil {
			return err
		}
		if err := asteroids.Add(a.ID, orbit); err != nil {
			return err
		}
	}

	now := s.clock.Now()
	if err := areas.UpdatePositions(now); err != nil {
		return err
	}
	if err := asteroids.UpdatePositions(now); err != nil {
		return err
	}

	s.mu.Lock()
	s.areas = areas
	s.asteroids = asteroids
	s.mu.Unlock()
	return nil
}

func (s *OrbitalState) staticOrbit(bodyID string, altitude, phase float64) (core.Orbit, error) {
	body, err := s.registry.Body(bodyID)
	if err != nil {
		return core.Orbit{}, err
	}
	return core.NewOrbit(core.NewCircularGeometry(body, altitude, phase), 0), nil
}

// IsAuthority reports whether this state may mutate the databases.
func (s *OrbitalState) IsAuthority() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.authority
}

// Now returns the current simulation time.
func (s *OrbitalState) Now() timectrl.Time {
	return s.clock.Now()
}

// Clock exposes the clock driving this state.
func (s *OrbitalState) Clock() *timectrl.TimeController {
	return s.clock
}

// WithReadLock executes fn while holding the read lock, with the databases as
// of the last tick or command. fn must not call other OrbitalState methods.
func (s *OrbitalState) WithReadLock(fn func(orbits *core.OrbitDatabase, trajectories *core.TrajectoryDatabase) error) error {
	if fn == nil {
		return nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(s.orbits, s.trajectories)
}

// WithWriteLock executes fn while holding the write lock and refreshes the
// database caches afterwards. Replicas use it to apply deltas.
func (s *OrbitalState) WithWriteLock(fn func(orbits *core.OrbitDatabase, trajectories *core.TrajectoryDatabase) error) error {
	if fn == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	err := fn(s.orbits, s.trajectories)
	s.refreshLocked()
	return err
}

// GetOrbit returns the orbit a spacecraft is parked on.
func (s *OrbitalState) GetOrbit(id uuid.UUID) (core.Orbit, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.orbits.Get(id)
}

// GetTrajectory returns the trajectory a spacecraft follows.
func (s *OrbitalState) GetTrajectory(id uuid.UUID) (*core.Trajectory, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.trajectories.Get(id)
}

// GetLocation returns where a spacecraft is at the current time. A spacecraft
// whose trajectory has started is located on it, otherwise on its orbit.
func (s *OrbitalState) GetLocation(id uuid.UUID) (core.OrbitalLocation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.locateLocked(id, s.clock.Now())
	return pos.Location, ok
}

// GetCartesianLocation returns the body-centred position of a spacecraft,
// blended across burns while travelling.
func (s *OrbitalState) GetCartesianLocation(id uuid.UUID) (core.Vec2, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	pos, ok := s.locateLocked(id, s.clock.Now())
	return pos.Cartesian, ok
}

// GetSpacecraftIndexInTrajectory returns the position of id in the fleet its
// trajectory was planned for, or -1. The index stays valid after other
// members leave the trajectory.
func (s *OrbitalState) GetSpacecraftIndexInTrajectory(id uuid.UUID) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	traj, ok := s.trajectories.Get(id)
	if !ok {
		return -1
	}
	return traj.SpacecraftIndex(id)
}

// GetCurrentThrustFactor returns the throttle of id's engine right now, zero
// when it is not burning.
func (s *OrbitalState) GetCurrentThrustFactor(id uuid.UUID) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	traj, ok := s.trajectories.Get(id)
	if !ok {
		return 0
	}
	return traj.ThrustFactorAt(s.clock.Now(), traj.SpacecraftIndex(id))
}

// Positions returns a copy of the locations computed on the last tick.
func (s *OrbitalState) Positions() map[uuid.UUID]Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uuid.UUID]Position, len(s.positions))
	for id, p := range s.positions {
		out[id] = p
	}
	return out
}

// AreaLocation returns the location of an area on the last tick.
func (s *OrbitalState) AreaLocation(id string) (core.OrbitalLocation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.areas.Location(id)
}

// AsteroidLocation returns the location of an asteroid on the last tick.
func (s *OrbitalState) AsteroidLocation(id string) (core.OrbitalLocation, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.asteroids.Location(id)
}

// NearestArea returns the area a spacecraft was last found close to.
func (s *OrbitalState) NearestArea(id uuid.UUID) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	area, ok := s.nearestArea[id]
	return area, ok
}

// SetBehavior records the external behavior step of a spacecraft. The entry
// time is the current simulation time.
func (s *OrbitalState) SetBehavior(id uuid.UUID, state model.BehaviorState, targetArea string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.behaviors[id] = behavior{state: state, targetArea: targetArea, enteredAt: s.clock.Now()}
}

func (s *OrbitalState) locateLocked(id uuid.UUID, now timectrl.Time) (Position, bool) {
	if traj, ok := s.trajectories.Get(id); ok {
		_, parked := s.orbits.Get(id)
		if now >= traj.FirstManeuverStartTime() || !parked {
			return Position{
				Location:  traj.LocationAt(now),
				Cartesian: traj.CartesianLocationAt(now),
				Travel:    true,
			}, true
		}
	}
	if orbit, ok := s.orbits.Get(id); ok {
		loc := orbit.LocationAt(now)
		return Position{Location: loc, Cartesian: loc.Cartesian()}, true
	}
	return Position{}, false
}

func (s *OrbitalState) refreshLocked() {
	s.orbits.UpdateCache()
	s.trajectories.UpdateCache()
	if s.metrics != nil {
		s.metrics.SetDatabaseSizes(s.orbits.Len(), s.trajectories.Len())
	}
}
