package replication

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/orbital-simulator/core"
	"github.com/signalsfoundry/orbital-simulator/timectrl"
)

// Versions is the position of a replica in both delta journals.
type Versions struct {
	Orbits       uint64
	Trajectories uint64
}

// NewPullRequest encodes the versions a replica has already applied.
func NewPullRequest(v Versions) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"orbit_version":      number(float64(v.Orbits)),
		"trajectory_version": number(float64(v.Trajectories)),
	}}
}

// ParsePullRequest is the inverse of NewPullRequest.
func ParsePullRequest(req *structpb.Struct) (Versions, error) {
	if req == nil {
		return Versions{}, fmt.Errorf("%w: empty pull request", ErrMalformed)
	}
	f := fields{path: "pull", m: req.GetFields()}
	orbits, err := f.version("orbit_version")
	if err != nil {
		return Versions{}, err
	}
	trajectories, err := f.version("trajectory_version")
	if err != nil {
		return Versions{}, err
	}
	return Versions{Orbits: orbits, Trajectories: trajectories}, nil
}

// Update is the decoded form of a Pull or Snapshot response. A snapshot
// carries full entry lists; a pull carries the deltas after the requested
// versions.
type Update struct {
	Time     timectrl.Time
	Versions Versions
	Snapshot bool

	OrbitDeltas      []core.Delta[core.Orbit]
	TrajectoryDeltas []core.Delta[*core.Trajectory]

	OrbitEntries      []core.Entry[core.Orbit]
	TrajectoryEntries []core.Entry[*core.Trajectory]
}

func encodePull(now timectrl.Time, v Versions, orbits []core.Delta[core.Orbit], trajectories []core.Delta[*core.Trajectory]) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"time_min": number(now.Minutes()),
		DatabaseOrbits: object(map[string]*structpb.Value{
			"version": number(float64(v.Orbits)),
			"deltas":  encodeDeltas(orbits, encodeOrbit),
		}),
		DatabaseTrajectories: object(map[string]*structpb.Value{
			"version": number(float64(v.Trajectories)),
			"deltas":  encodeDeltas(trajectories, encodeTrajectory),
		}),
	}}
}

func encodeSnapshot(now timectrl.Time, v Versions, orbits []*core.Entry[core.Orbit], trajectories []*core.Entry[*core.Trajectory]) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"time_min": number(now.Minutes()),
		"snapshot": structpb.NewBoolValue(true),
		DatabaseOrbits: object(map[string]*structpb.Value{
			"version": number(float64(v.Orbits)),
			"entries": encodeEntries(orbits, encodeOrbit),
		}),
		DatabaseTrajectories: object(map[string]*structpb.Value{
			"version": number(float64(v.Trajectories)),
			"entries": encodeEntries(trajectories, encodeTrajectory),
		}),
	}}
}

// DecodeUpdate decodes a Pull or Snapshot response, resolving orbit bodies
// through bodies.
func DecodeUpdate(bodies BodyResolver, resp *structpb.Struct) (Update, error) {
	if resp == nil {
		return Update{}, fmt.Errorf("%w: empty response", ErrMalformed)
	}
	root := fields{path: "update", m: resp.GetFields()}
	now, err := root.number("time_min")
	if err != nil {
		return Update{}, err
	}
	u := Update{Time: timectrl.Minutes(now), Snapshot: root.bool("snapshot")}

	orbitFields, err := root.object(DatabaseOrbits)
	if err != nil {
		return Update{}, err
	}
	trajFields, err := root.object(DatabaseTrajectories)
	if err != nil {
		return Update{}, err
	}
	if u.Versions.Orbits, err = orbitFields.version("version"); err != nil {
		return Update{}, err
	}
	if u.Versions.Trajectories, err = trajFields.version("version"); err != nil {
		return Update{}, err
	}

	orbitValue := func(f fields) (core.Orbit, error) { return decodeOrbit(bodies, f) }
	trajValue := func(f fields) (*core.Trajectory, error) { return decodeTrajectory(bodies, f) }

	if u.Snapshot {
		values, err := orbitFields.list("entries")
		if err != nil {
			return Update{}, err
		}
		if u.OrbitEntries, err = decodeEntries(orbitFields.path+".entries", values, orbitValue); err != nil {
			return Update{}, err
		}
		if values, err = trajFields.list("entries"); err != nil {
			return Update{}, err
		}
		if u.TrajectoryEntries, err = decodeEntries(trajFields.path+".entries", values, trajValue); err != nil {
			return Update{}, err
		}
		return u, nil
	}

	values, err := orbitFields.list("deltas")
	if err != nil {
		return Update{}, err
	}
	if u.OrbitDeltas, err = decodeDeltas(orbitFields.path+".deltas", values, orbitValue); err != nil {
		return Update{}, err
	}
	if values, err = trajFields.list("deltas"); err != nil {
		return Update{}, err
	}
	if u.TrajectoryDeltas, err = decodeDeltas(trajFields.path+".deltas", values, trajValue); err != nil {
		return Update{}, err
	}
	return u, nil
}
