package state

import (
	"bytes"
	"context"
	"math"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/orbital-simulator/core"
	"github.com/signalsfoundry/orbital-simulator/internal/logging"
	"github.com/signalsfoundry/orbital-simulator/internal/observability"
	"github.com/signalsfoundry/orbital-simulator/timectrl"
)

// Advance moves the clock forward by dt, runs one tick and returns the events
// recorded since the previous drain. A zero dt re-evaluates the current time.
func (s *OrbitalState) Advance(dt timectrl.Time) Events {
	if dt < 0 || !dt.IsFinite() {
		dt = 0
	}
	s.clock.Advance(dt)
	return s.DrainEvents()
}

// FastForward runs up to maxSteps ticks of size step back to back. The loop
// stops early on the tick that lands on the next burn, arrival or garbage
// collection, or when the fast-forward blocker reports true.
func (s *OrbitalState) FastForward(step timectrl.Time, maxSteps int) (Events, int, bool) {
	steps, interrupted := s.clock.FastForward(step, maxSteps, s)
	s.mu.RLock()
	metrics := s.metrics
	s.mu.RUnlock()
	if metrics != nil {
		metrics.AddFastForwardSteps(steps)
	}
	return s.DrainEvents(), steps, interrupted
}

// NextEvent returns the earliest time after now at which a fast-forward loop
// must stop. It implements timectrl.FastForwardStepper.
func (s *OrbitalState) NextEvent(now timectrl.Time) (timectrl.Time, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	next := timectrl.Time(math.Inf(1))
	consider := func(t timectrl.Time) {
		if t > now && t < next {
			next = t
		}
	}
	for _, e := range s.trajectories.Entries() {
		traj := e.Value
		if m, _ := traj.NextManeuver(now); m != nil {
			consider(m.Time)
		}
		consider(traj.ArrivalTime())
		if s.authority && s.hasOrbitLocked(e.Spacecraft) {
			consider(traj.FirstManeuverStartTime() + s.gcDelay)
		}
	}
	return next, next.IsFinite()
}

// Blocked reports whether the fast-forward blocker forbids skipping time. It
// implements timectrl.FastForwardStepper.
func (s *OrbitalState) Blocked() bool {
	s.mu.RLock()
	blocked := s.blocked
	s.mu.RUnlock()
	return blocked != nil && blocked()
}

func (s *OrbitalState) hasOrbitLocked(ids []uuid.UUID) bool {
	for _, id := range ids {
		if _, ok := s.orbits.Get(id); ok {
			return true
		}
	}
	return false
}

// tick runs once per clock step, after the clock has moved.
func (s *OrbitalState) tick() {
	started := time.Now()
	ctx := context.Background()

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	s.refreshLocked()

	if err := s.areas.UpdatePositions(now); err != nil {
		s.log.Warn(ctx, "area positions not updated", logging.Err(err))
	}
	if err := s.asteroids.UpdatePositions(now); err != nil {
		s.log.Warn(ctx, "asteroid positions not updated", logging.Err(err))
	}

	clear(s.positions)
	for _, e := range s.orbits.Entries() {
		loc := e.Value.LocationAt(now)
		pos := Position{Location: loc, Cartesian: loc.Cartesian()}
		for _, id := range e.Spacecraft {
			s.positions[id] = pos
		}
	}

	type fleet struct {
		ids  []uuid.UUID
		traj *core.Trajectory
	}
	var arrivals, collect []fleet
	live := make(map[*core.Trajectory]struct{}, s.trajectories.Len())

	for _, e := range s.trajectories.Entries() {
		traj := e.Value
		live[traj] = struct{}{}
		first := traj.FirstManeuverStartTime()

		if now >= first {
			pos := Position{
				Location:  traj.LocationAt(now),
				Cartesian: traj.CartesianLocationAt(now),
				Travel:    true,
			}
			for _, id := range e.Spacecraft {
				s.positions[id] = pos
			}
		} else {
			for _, id := range e.Spacecraft {
				if _, ok := s.positions[id]; !ok {
					loc := traj.InitialOrbit.LocationAt(now)
					s.positions[id] = Position{Location: loc, Cartesian: loc.Cartesian()}
				}
			}
		}

		if s.authority && now >= first+s.gcDelay {
			var parked []uuid.UUID
			for _, id := range e.Spacecraft {
				if _, ok := s.orbits.Get(id); ok {
					parked = append(parked, id)
				}
			}
			if len(parked) > 0 {
				collect = append(collect, fleet{ids: parked, traj: traj})
			}
		}

		if now >= traj.ArrivalTime() {
			arrivals = append(arrivals, fleet{ids: slices.Clone(e.Spacecraft), traj: traj})
		}
	}

	for traj := range s.arrived {
		if _, ok := live[traj]; !ok {
			delete(s.arrived, traj)
		}
	}

	for _, f := range collect {
		if s.orbits.Remove(f.ids) == 0 {
			continue
		}
		s.pending.Collected = append(s.pending.Collected, f.ids...)
		if s.metrics != nil {
			s.metrics.IncTrajectoryEvent(observability.EventCollected)
		}
		s.log.Debug(ctx, "orbit entry garbage collected",
			logging.Spacecraft(f.ids),
			logging.Float64("time_min", now.Minutes()),
		)
	}

	for _, f := range arrivals {
		if _, seen := s.arrived[f.traj]; !seen {
			s.arrived[f.traj] = struct{}{}
			final := f.traj.FinalOrbit()
			s.pending.Arrivals = append(s.pending.Arrivals, FleetEvent{Spacecraft: f.ids, Time: now, Orbit: &final})
		}
		if s.authority {
			if err := s.completeLocked(ctx, f.ids, f.traj, now); err != nil {
				s.log.Error(ctx, "arrival completion failed", logging.Spacecraft(f.ids), logging.Err(err))
			}
		}
	}

	s.refreshLocked()
	s.updateAreaProximityLocked()

	if s.metrics != nil {
		s.metrics.ObserveTick(time.Since(started), now.Minutes())
	}
}

func (s *OrbitalState) updateAreaProximityLocked() {
	if s.areaProximity <= 0 {
		return
	}

	ids := make([]uuid.UUID, 0, len(s.positions)+len(s.nearestArea))
	for id := range s.positions {
		ids = append(ids, id)
	}
	for id := range s.nearestArea {
		if _, ok := s.positions[id]; !ok {
			ids = append(ids, id)
		}
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })

	for _, id := range ids {
		previous := s.nearestArea[id]
		current, distance := "", 0.0
		if pos, ok := s.positions[id]; ok && !pos.Travel {
			if area, d, found := s.areas.Nearest(pos.Location.Geometry.Body, pos.Cartesian, s.areaProximity); found {
				current, distance = area, d
			}
		}
		if current == previous {
			continue
		}
		if current == "" {
			delete(s.nearestArea, id)
		} else {
			s.nearestArea[id] = current
		}
		s.pending.AreaChanges = append(s.pending.AreaChanges, AreaChange{
			Spacecraft: id,
			From:       previous,
			To:         current,
			Distance:   distance,
		})
	}
}
