package state

import (
	"bytes"
	"fmt"
	"io"
	"slices"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/orbital-simulator/core"
	"github.com/signalsfoundry/orbital-simulator/model"
	"github.com/signalsfoundry/orbital-simulator/timectrl"
)

// SaveFile is the persisted shape of the driver.
type SaveFile struct {
	Time       float64            `yaml:"time_min"`
	Spacecraft []SpacecraftRecord `yaml:"spacecraft"`
}

// SpacecraftRecord is the persisted state of one spacecraft: its behavior
// step and the orbit and/or trajectory it is assigned. Both are present only
// during the garbage collection grace window.
type SpacecraftRecord struct {
	ID           string            `yaml:"id"`
	Behavior     string            `yaml:"behavior"`
	TargetArea   string            `yaml:"target_area,omitempty"`
	StateEntered float64           `yaml:"state_entered_min"`
	Fleet        []string          `yaml:"orbit_fleet,omitempty"`
	Orbit        *OrbitRecord      `yaml:"orbit,omitempty"`
	Trajectory   *TrajectoryRecord `yaml:"trajectory,omitempty"`
}

// OrbitRecord references its body by ID.
type OrbitRecord struct {
	Body             string  `yaml:"body"`
	StartAltitude    float64 `yaml:"start_altitude_km"`
	OppositeAltitude float64 `yaml:"opposite_altitude_km"`
	StartPhase       float64 `yaml:"start_phase_deg"`
	EndPhase         float64 `yaml:"end_phase_deg"`
	InsertionTime    float64 `yaml:"insertion_min"`
}

type ManeuverRecord struct {
	DeltaV         float64   `yaml:"delta_v"`
	Phase          float64   `yaml:"phase_deg"`
	Time           float64   `yaml:"time_min"`
	Duration       float64   `yaml:"duration_min"`
	ThrustFactors  []float64 `yaml:"thrust_factors"`
	PropellantUsed []float64 `yaml:"propellant_t"`
}

// TrajectoryRecord lists the fleet the trajectory was planned for and the
// members still following it.
type TrajectoryRecord struct {
	Spacecraft          []string         `yaml:"fleet"`
	Members             []string         `yaml:"members,omitempty"`
	Initial             OrbitRecord      `yaml:"initial"`
	Transfers           []OrbitRecord    `yaml:"transfers"`
	Maneuvers           []ManeuverRecord `yaml:"maneuvers"`
	TotalTravelDuration float64          `yaml:"total_travel_min"`
	TotalDeltaV         float64          `yaml:"total_delta_v"`
}

// Records returns one record per known spacecraft, ordered by identifier.
func (s *OrbitalState) Records() []SpacecraftRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids []uuid.UUID
	add := func(id uuid.UUID) {
		if !slices.Contains(ids, id) {
			ids = append(ids, id)
		}
	}
	for _, e := range s.orbits.Entries() {
		for _, id := range e.Spacecraft {
			add(id)
		}
	}
	for _, e := range s.trajectories.Entries() {
		for _, id := range e.Spacecraft {
			add(id)
		}
	}
	for id := range s.behaviors {
		add(id)
	}
	slices.SortFunc(ids, func(a, b uuid.UUID) int { return bytes.Compare(a[:], b[:]) })

	out := make([]SpacecraftRecord, 0, len(ids))
	for _, id := range ids {
		b := s.behaviors[id]
		rec := SpacecraftRecord{
			ID:           id.String(),
			Behavior:     b.state.String(),
			TargetArea:   b.targetArea,
			StateEntered: b.enteredAt.Minutes(),
		}
		if orbit, ok := s.orbits.Get(id); ok {
			r := orbitRecord(orbit)
			rec.Orbit = &r
			rec.Fleet = uuidStrings(s.orbits.Members(id))
		}
		if traj, ok := s.trajectories.Get(id); ok {
			rec.Trajectory = trajectoryRecord(traj)
			rec.Trajectory.Members = uuidStrings(s.trajectories.Members(id))
		}
		out = append(out, rec)
	}
	return out
}

// WriteSave encodes the current time and every spacecraft record as YAML.
func (s *OrbitalState) WriteSave(w io.Writer) error {
	save := SaveFile{
		Time:       s.clock.Now().Minutes(),
		Spacecraft: s.Records(),
	}
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(save); err != nil {
		return fmt.Errorf("WriteSave: %w", err)
	}
	return enc.Close()
}

// ReadSave replaces the databases and behaviors with a save written by
// WriteSave and moves the clock to the saved time. Existing entries are
// removed through the databases so replicas follow the restore. A save that
// fails to decode or validate leaves the state untouched.
func (s *OrbitalState) ReadSave(r io.Reader) error {
	var save SaveFile
	if err := yaml.NewDecoder(r).Decode(&save); err != nil {
		return fmt.Errorf("ReadSave: decode failed: %w", err)
	}

	type orbitEntry struct {
		ids   []uuid.UUID
		orbit core.Orbit
	}
	type trajectoryEntry struct {
		ids  []uuid.UUID
		traj *core.Trajectory
	}
	var orbits []orbitEntry
	var trajectories []trajectoryEntry
	seenOrbit := make(map[uuid.UUID]bool)
	seenTrajectory := make(map[uuid.UUID]bool)
	behaviors := make(map[uuid.UUID]behavior)

	for _, rec := range save.Spacecraft {
		id, err := uuid.Parse(rec.ID)
		if err != nil {
			return fmt.Errorf("ReadSave: spacecraft id %q: %w", rec.ID, err)
		}
		state, err := model.ParseBehaviorState(rec.Behavior)
		if err != nil {
			return fmt.Errorf("ReadSave: spacecraft %s: %w", id, err)
		}
		behaviors[id] = behavior{state: state, targetArea: rec.TargetArea, enteredAt: timectrl.Minutes(rec.StateEntered)}

		if rec.Orbit != nil && !seenOrbit[id] {
			orbit, err := s.resolveOrbit(*rec.Orbit)
			if err != nil {
				return fmt.Errorf("ReadSave: spacecraft %s: %w", id, err)
			}
			fleet, err := parseUUIDs(rec.Fleet)
			if err != nil {
				return fmt.Errorf("ReadSave: spacecraft %s: %w", id, err)
			}
			if len(fleet) == 0 {
				fleet = []uuid.UUID{id}
			}
			if err := checkEntry(id, fleet, seenOrbit); err != nil {
				return fmt.Errorf("ReadSave: spacecraft %s orbit: %w", id, err)
			}
			orbits = append(orbits, orbitEntry{ids: fleet, orbit: orbit})
		}

		if rec.Trajectory != nil && !seenTrajectory[id] {
			traj, err := s.resolveTrajectory(*rec.Trajectory)
			if err != nil {
				return fmt.Errorf("ReadSave: spacecraft %s: %w", id, err)
			}
			members := traj.Spacecraft
			if len(rec.Trajectory.Members) > 0 {
				if members, err = parseUUIDs(rec.Trajectory.Members); err != nil {
					return fmt.Errorf("ReadSave: spacecraft %s: %w", id, err)
				}
			}
			if err := checkEntry(id, members, seenTrajectory); err != nil {
				return fmt.Errorf("ReadSave: spacecraft %s trajectory: %w", id, err)
			}
			for _, member := range members {
				if traj.SpacecraftIndex(member) < 0 {
					return fmt.Errorf("ReadSave: spacecraft %s trajectory: %w: %s was not planned on it", id, ErrInconsistentFleet, member)
				}
			}
			trajectories = append(trajectories, trajectoryEntry{ids: members, traj: traj})
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.authority {
		return ErrNotAuthority
	}
	s.orbits.Remove(allMembers(s.orbits.Entries()))
	s.trajectories.Remove(allMembers(s.trajectories.Entries()))
	for _, e := range orbits {
		if _, err := s.orbits.Add(e.ids, e.orbit); err != nil {
			return fmt.Errorf("ReadSave: %w", err)
		}
	}
	for _, e := range trajectories {
		if _, err := s.trajectories.Add(e.ids, e.traj); err != nil {
			return fmt.Errorf("ReadSave: %w", err)
		}
	}
	s.behaviors = behaviors
	clear(s.arrived)
	clear(s.nearestArea)
	s.clock.SetTime(timectrl.Minutes(save.Time))
	s.refreshLocked()
	return nil
}

func (s *OrbitalState) resolveOrbit(r OrbitRecord) (core.Orbit, error) {
	body, err := s.registry.Body(r.Body)
	if err != nil {
		return core.Orbit{}, err
	}
	orbit := core.NewOrbit(core.OrbitGeometry{
		Body:             body,
		StartAltitude:    r.StartAltitude,
		OppositeAltitude: r.OppositeAltitude,
		StartPhase:       r.StartPhase,
		EndPhase:         r.EndPhase,
	}, timectrl.Minutes(r.InsertionTime))
	return orbit, orbit.Validate()
}

func (s *OrbitalState) resolveTrajectory(r TrajectoryRecord) (*core.Trajectory, error) {
	fleet, err := parseUUIDs(r.Spacecraft)
	if err != nil {
		return nil, err
	}
	initial, err := s.resolveOrbit(r.Initial)
	if err != nil {
		return nil, err
	}
	traj := &core.Trajectory{
		InitialOrbit:        initial,
		Spacecraft:          fleet,
		TotalTravelDuration: timectrl.Minutes(r.TotalTravelDuration),
		TotalDeltaV:         r.TotalDeltaV,
	}
	for _, leg := range r.Transfers {
		orbit, err := s.resolveOrbit(leg)
		if err != nil {
			return nil, err
		}
		traj.Transfers = append(traj.Transfers, orbit)
	}
	for _, m := range r.Maneuvers {
		maneuver, err := core.NewManeuver(m.DeltaV, m.Phase, timectrl.Minutes(m.Time), timectrl.Minutes(m.Duration), m.ThrustFactors, m.PropellantUsed)
		if err != nil {
			return nil, err
		}
		traj.Maneuvers = append(traj.Maneuvers, maneuver)
	}
	return traj, traj.Validate()
}

func orbitRecord(o core.Orbit) OrbitRecord {
	g := o.Geometry
	return OrbitRecord{
		Body:             g.Body.ID,
		StartAltitude:    g.StartAltitude,
		OppositeAltitude: g.OppositeAltitude,
		StartPhase:       g.StartPhase,
		EndPhase:         g.EndPhase,
		InsertionTime:    o.InsertionTime.Minutes(),
	}
}

func trajectoryRecord(t *core.Trajectory) *TrajectoryRecord {
	rec := &TrajectoryRecord{
		Spacecraft:          uuidStrings(t.Spacecraft),
		Initial:             orbitRecord(t.InitialOrbit),
		TotalTravelDuration: t.TotalTravelDuration.Minutes(),
		TotalDeltaV:         t.TotalDeltaV,
	}
	for _, leg := range t.Transfers {
		rec.Transfers = append(rec.Transfers, orbitRecord(leg))
	}
	for _, m := range t.Maneuvers {
		rec.Maneuvers = append(rec.Maneuvers, ManeuverRecord{
			DeltaV:         m.DeltaV,
			Phase:          m.Phase,
			Time:           m.Time.Minutes(),
			Duration:       m.Duration.Minutes(),
			ThrustFactors:  slices.Clone(m.ThrustFactors),
			PropellantUsed: slices.Clone(m.PropellantUsed),
		})
	}
	return rec
}

// checkEntry validates the members of one saved entry and marks them seen.
// Every member belongs to exactly one entry and the owning record is one of
// them.
func checkEntry(owner uuid.UUID, members []uuid.UUID, seen map[uuid.UUID]bool) error {
	if err := core.ValidateFleet(members); err != nil {
		return err
	}
	if !slices.Contains(members, owner) {
		return fmt.Errorf("%w: fleet does not list %s", ErrInconsistentFleet, owner)
	}
	for _, member := range members {
		if seen[member] {
			return fmt.Errorf("%w: %s is listed in two entries", ErrInconsistentFleet, member)
		}
	}
	for _, member := range members {
		seen[member] = true
	}
	return nil
}

func allMembers[T any](entries []*core.Entry[T]) []uuid.UUID {
	var ids []uuid.UUID
	for _, e := range entries {
		ids = append(ids, e.Spacecraft...)
	}
	return ids
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func parseUUIDs(raw []string) ([]uuid.UUID, error) {
	out := make([]uuid.UUID, 0, len(raw))
	for _, r := range raw {
		id, err := uuid.Parse(r)
		if err != nil {
			return nil, fmt.Errorf("spacecraft id %q: %w", r, err)
		}
		out = append(out, id)
	}
	return out, nil
}
