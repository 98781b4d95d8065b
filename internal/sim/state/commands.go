package state

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/orbital-simulator/core"
	"github.com/signalsfoundry/orbital-simulator/internal/logging"
	"github.com/signalsfoundry/orbital-simulator/internal/observability"
	"github.com/signalsfoundry/orbital-simulator/kb"
	"github.com/signalsfoundry/orbital-simulator/timectrl"
)

// propellantTolerance absorbs rounding between planned and stored masses.
const propellantTolerance = 1e-9

// CanCommitTrajectory reports whether traj may be committed now, with a
// human-readable reason when it may not.
func (s *OrbitalState) CanCommitTrajectory(traj *core.Trajectory) (bool, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.canCommitLocked(traj)
}

func (s *OrbitalState) canCommitLocked(traj *core.Trajectory) (bool, string) {
	if !s.authority {
		return false, "only the authoritative simulation can commit trajectories"
	}
	if err := traj.Validate(); err != nil {
		return false, err.Error()
	}
	if traj.FirstManeuverStartTime() <= s.clock.Now() {
		return false, "the trajectory starts in the past"
	}
	for i, id := range traj.Spacecraft {
		if s.registry.IsDocked(id) {
			return false, fmt.Sprintf("spacecraft %s is still docked", id)
		}
		if _, travelling := s.trajectories.Get(id); travelling {
			return false, fmt.Sprintf("spacecraft %s is already travelling", id)
		}
		available, err := s.registry.PropellantMass(id)
		if err != nil {
			return false, fmt.Sprintf("spacecraft %s: %v", id, err)
		}
		if needed := traj.PropellantUsed(i); available+propellantTolerance < needed {
			return false, fmt.Sprintf("spacecraft %s needs %.2f t of propellant and carries %.2f t", id, needed, available)
		}
	}
	return true, ""
}

// CommitTrajectory starts a fleet on traj. ids must list exactly the planned
// fleet. The fleet keeps its orbit entry until the garbage collection delay
// after the first burn has elapsed.
func (s *OrbitalState) CommitTrajectory(ctx context.Context, ids []uuid.UUID, traj *core.Trajectory) (err error) {
	ctx, span := s.startSpan(ctx, "OrbitalState.CommitTrajectory", ids)
	defer func() { observability.EndSpan(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.authority {
		return ErrNotAuthority
	}
	now := s.clock.Now()
	if ok, reason := s.canCommitLocked(traj); !ok {
		s.countLocked(observability.EventRejected)
		s.log.Warn(ctx, "trajectory commit rejected",
			logging.Spacecraft(ids),
			logging.String("reason", reason),
			logging.Float64("time_min", now.Minutes()),
		)
		return fmt.Errorf("%w: %s", ErrCommitRejected, reason)
	}
	if !sameMembers(ids, traj.Spacecraft) {
		return fmt.Errorf("%w: commit lists %d spacecraft, trajectory was planned for %d", ErrInconsistentFleet, len(ids), len(traj.Spacecraft))
	}

	if _, err := s.trajectories.Add(traj.Spacecraft, traj); err != nil {
		return err
	}
	s.refreshLocked()

	members := slices.Clone(traj.Spacecraft)
	s.pending.Committed = append(s.pending.Committed, FleetEvent{Spacecraft: members, Time: now})
	s.countLocked(observability.EventCommitted)
	s.log.Info(ctx, "trajectory committed",
		logging.Spacecraft(members),
		logging.Float64("time_min", now.Minutes()),
		logging.Float64("departure_min", traj.FirstManeuverStartTime().Minutes()),
		logging.Float64("arrival_min", traj.ArrivalTime().Minutes()),
		logging.Float64("delta_v", traj.TotalDeltaV),
	)
	return nil
}

// CompleteTrajectory parks a travelling fleet on its trajectory's final
// orbit and charges the planned propellant. ids must name every spacecraft
// still on the trajectory.
func (s *OrbitalState) CompleteTrajectory(ctx context.Context, ids []uuid.UUID) (err error) {
	ctx, span := s.startSpan(ctx, "OrbitalState.CompleteTrajectory", ids)
	defer func() { observability.EndSpan(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.authority {
		return ErrNotAuthority
	}
	traj, err := s.fleetTrajectoryLocked(ids)
	if err != nil {
		return err
	}
	return s.completeLocked(ctx, ids, traj, s.clock.Now())
}

func (s *OrbitalState) completeLocked(ctx context.Context, ids []uuid.UUID, traj *core.Trajectory, now timectrl.Time) error {
	final := traj.FinalOrbit()
	if _, err := s.orbits.Add(ids, final); err != nil {
		return err
	}
	s.trajectories.Remove(ids)
	s.consumeLocked(ctx, traj, ids, len(traj.Maneuvers))
	s.refreshLocked()

	s.pending.Completed = append(s.pending.Completed, FleetEvent{Spacecraft: slices.Clone(ids), Time: now, Orbit: &final})
	s.countLocked(observability.EventCompleted)
	s.log.Info(ctx, "trajectory completed",
		logging.Spacecraft(ids),
		logging.Float64("time_min", now.Minutes()),
		logging.Float64("altitude_km", final.Geometry.StartAltitude),
	)
	return nil
}

// AbortTrajectory stops a travelling fleet. Before the first burn the
// trajectory is dropped and the fleet stays on its orbit. Afterwards the
// fleet is parked on a circular orbit at its current altitude and phase.
func (s *OrbitalState) AbortTrajectory(ctx context.Context, ids []uuid.UUID) (err error) {
	ctx, span := s.startSpan(ctx, "OrbitalState.AbortTrajectory", ids)
	defer func() { observability.EndSpan(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.authority {
		return ErrNotAuthority
	}
	traj, err := s.fleetTrajectoryLocked(ids)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	event := FleetEvent{Spacecraft: slices.Clone(ids), Time: now}
	if now < traj.FirstManeuverStartTime() {
		s.trajectories.Remove(ids)
	} else {
		orbit := traj.AbortOrbit(now)
		if _, err := s.orbits.Add(ids, orbit); err != nil {
			return err
		}
		s.trajectories.Remove(ids)
		_, last := traj.LastCompletedManeuver(now)
		s.consumeLocked(ctx, traj, ids, last+1)
		event.Orbit = &orbit
	}
	s.refreshLocked()

	s.pending.Aborted = append(s.pending.Aborted, event)
	s.countLocked(observability.EventAborted)
	s.log.Info(ctx, "trajectory aborted",
		logging.Spacecraft(ids),
		logging.Float64("time_min", now.Minutes()),
		logging.Bool("in_flight", event.Orbit != nil),
	)
	return nil
}

// SetOrbit parks the spacecraft on orbit, detaching them from any other orbit
// or trajectory entry.
func (s *OrbitalState) SetOrbit(ctx context.Context, ids []uuid.UUID, orbit core.Orbit) (err error) {
	ctx, span := s.startSpan(ctx, "OrbitalState.SetOrbit", ids)
	defer func() { observability.EndSpan(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.authority {
		return ErrNotAuthority
	}
	return s.setOrbitLocked(ctx, ids, ids, orbit, "orbit set")
}

// MergeOrbit is SetOrbit, except that spacecraft joining an orbit identical
// to an existing entry's share that entry.
func (s *OrbitalState) MergeOrbit(ctx context.Context, ids []uuid.UUID, orbit core.Orbit) (err error) {
	ctx, span := s.startSpan(ctx, "OrbitalState.MergeOrbit", ids)
	defer func() { observability.EndSpan(span, err) }()

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.authority {
		return ErrNotAuthority
	}
	members := slices.Clone(ids)
	for _, e := range s.orbits.Entries() {
		if !e.Value.Equal(orbit) {
			continue
		}
		members = slices.Clone(e.Spacecraft)
		for _, id := range ids {
			if !slices.Contains(members, id) {
				members = append(members, id)
			}
		}
		break
	}
	return s.setOrbitLocked(ctx, members, ids, orbit, "orbit merged")
}

// setOrbitLocked stores orbit for members and drops the trajectories of the
// spacecraft that moved.
func (s *OrbitalState) setOrbitLocked(ctx context.Context, members, moved []uuid.UUID, orbit core.Orbit, msg string) error {
	if _, err := s.orbits.Add(members, orbit); err != nil {
		return err
	}
	s.trajectories.Remove(moved)
	s.refreshLocked()
	s.log.Info(ctx, msg,
		logging.Spacecraft(moved),
		logging.Float64("time_min", s.clock.Now().Minutes()),
		logging.Float64("altitude_km", orbit.Geometry.StartAltitude),
	)
	return nil
}

// PlaceSpacecraft applies the initial orbits of a loaded scenario. Spacecraft
// placed on identical orbits end up sharing one entry.
func (s *OrbitalState) PlaceSpacecraft(ctx context.Context, placements []kb.Placement) error {
	for _, p := range placements {
		if err := s.MergeOrbit(ctx, []uuid.UUID{p.Spacecraft}, p.Orbit); err != nil {
			return fmt.Errorf("place %s: %w", p.Spacecraft, err)
		}
	}
	return nil
}

// Planner returns the planner bound to this state's registry.
func (s *OrbitalState) Planner() *core.TrajectoryPlanner {
	return s.planner
}

// PlanTrajectory plans a transfer of a parked fleet to destination, starting
// startDelay minutes from now. It tries every phasing altitude in candidates,
// or a spread between the two orbits when none is given, and keeps the
// cheapest trajectory within maxDuration (no cap when zero).
func (s *OrbitalState) PlanTrajectory(ctx context.Context, ids []uuid.UUID, destination core.Orbit, startDelay timectrl.Time, candidates []float64, maxDuration timectrl.Time) (traj *core.Trajectory, err error) {
	ctx, span := s.startSpan(ctx, "OrbitalState.PlanTrajectory", ids)
	defer func() { observability.EndSpan(span, err) }()

	started := time.Now()
	s.mu.RLock()
	source, err := s.fleetOrbitLocked(ids)
	now := s.clock.Now()
	metrics := s.metrics
	s.mu.RUnlock()
	if err != nil {
		return nil, err
	}

	params, err := core.PrepareTrajectory(now, source, destination, startDelay, ids)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		candidates = PhasingCandidates(source.Geometry.StartAltitude, destination.Geometry.StartAltitude)
	}
	span.SetAttributes(attribute.Int("orbital.candidates", len(candidates)))

	traj, err = s.planner.ComputeBestTrajectory(params, candidates, maxDuration)
	if metrics != nil {
		metrics.ObservePlanning(time.Since(started))
	}
	if err != nil {
		s.log.Debug(ctx, "no trajectory found", logging.Spacecraft(ids), logging.Err(err))
		return nil, err
	}
	return traj, nil
}

// PhasingCandidates spreads phasing altitudes between two orbit altitudes.
// Equal altitudes get candidates above and below so the fleet can drift in
// phase.
func PhasingCandidates(source, destination float64) []float64 {
	low, high := math.Min(source, destination), math.Max(source, destination)
	var out []float64
	if high-low < 1 {
		for _, offset := range []float64{100, -100, 200, -200} {
			if alt := low + offset; alt > 0 {
				out = append(out, alt)
			}
		}
		return out
	}
	for _, f := range []float64{0.5, 0.25, 0.75} {
		out = append(out, low+f*(high-low))
	}
	return out
}

func (s *OrbitalState) fleetTrajectoryLocked(ids []uuid.UUID) (*core.Trajectory, error) {
	if len(ids) == 0 {
		return nil, core.ErrEmptyFleet
	}
	var traj *core.Trajectory
	for i, id := range ids {
		t, ok := s.trajectories.Get(id)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoTrajectory, id)
		}
		if i > 0 && t != traj {
			return nil, fmt.Errorf("%w: %s follows another trajectory", ErrInconsistentFleet, id)
		}
		traj = t
	}
	if members := s.trajectories.Members(ids[0]); !sameMembers(ids, members) {
		return nil, fmt.Errorf("%w: %d of %d spacecraft on the trajectory", ErrInconsistentFleet, len(ids), len(members))
	}
	return traj, nil
}

func (s *OrbitalState) fleetOrbitLocked(ids []uuid.UUID) (core.Orbit, error) {
	if len(ids) == 0 {
		return core.Orbit{}, core.ErrEmptyFleet
	}
	var source core.Orbit
	for i, id := range ids {
		o, ok := s.orbits.Get(id)
		if !ok {
			return core.Orbit{}, fmt.Errorf("%w: %s", ErrNoOrbit, id)
		}
		if i > 0 && !o.Equal(source) {
			return core.Orbit{}, fmt.Errorf("%w: %s is on another orbit", ErrInconsistentFleet, id)
		}
		source = o
	}
	return source, nil
}

// consumeLocked charges the propellant of the first n maneuvers.
func (s *OrbitalState) consumeLocked(ctx context.Context, traj *core.Trajectory, ids []uuid.UUID, n int) {
	n = min(n, len(traj.Maneuvers))
	for _, id := range ids {
		index := traj.SpacecraftIndex(id)
		if index < 0 {
			continue
		}
		used := 0.0
		for _, m := range traj.Maneuvers[:n] {
			if index < len(m.PropellantUsed) {
				used += m.PropellantUsed[index]
			}
		}
		if used <= 0 {
			continue
		}
		if err := s.registry.ConsumePropellant(id, used); err != nil {
			s.log.Warn(ctx, "propellant not charged", logging.String("spacecraft", id.String()), logging.Err(err))
		}
	}
}

func (s *OrbitalState) countLocked(event string) {
	if s.metrics != nil {
		s.metrics.IncTrajectoryEvent(event)
	}
}

func (s *OrbitalState) startSpan(ctx context.Context, name string, ids []uuid.UUID) (context.Context, trace.Span) {
	if ctx == nil {
		ctx = context.Background()
	}
	return s.tracer.Start(ctx, name, trace.WithAttributes(observability.SpacecraftAttribute(ids)))
}

func sameMembers(a, b []uuid.UUID) bool {
	if len(a) != len(b) {
		return false
	}
	for _, id := range a {
		if !slices.Contains(b, id) {
			return false
		}
	}
	return true
}
