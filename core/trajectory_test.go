package core

import (
	"errors"
	"math"
	"testing"

	"github.com/signalsfoundry/orbital-simulator/timectrl"
)

func plannedRaise(t *testing.T) (*Trajectory, Orbit) {
	t.Helper()
	body := earth()
	ships, ids := newShips(2)
	planner := NewTrajectoryPlanner(ships, ships)

	destination := circularOrbit(body, 800, 180, 0)
	params, err := PrepareTrajectory(0, circularOrbit(body, 400, 0, 0), destination, 30, ids)
	if err != nil {
		t.Fatalf("PrepareTrajectory: %v", err)
	}
	traj, err := planner.ComputeTrajectory(params, 600)
	if err != nil {
		t.Fatalf("ComputeTrajectory: %v", err)
	}
	return traj, destination
}

func TestTrajectoryOrbitAt(t *testing.T) {
	traj, _ := plannedRaise(t)
	legA, legB := traj.Transfers[0], traj.Transfers[1]

	if got := traj.OrbitAt(0); !got.Equal(traj.InitialOrbit) {
		t.Fatalf("OrbitAt(0) = %+v, want initial orbit", got)
	}
	if got := traj.OrbitAt(legA.InsertionTime + 1); !got.Equal(legA) {
		t.Fatalf("OrbitAt(during leg A) = %+v, want leg A", got)
	}
	phasing := traj.OrbitAt(legA.EndTime() + 1)
	if !phasing.Equal(legA.StableOrbit()) || phasing.Geometry.StartAltitude != 600 {
		t.Fatalf("OrbitAt(phasing) = %+v, want circular 600 km", phasing.Geometry)
	}
	if got := traj.OrbitAt(legB.InsertionTime); !got.Equal(legB) {
		t.Fatalf("OrbitAt(leg B insertion) = %+v, want leg B", got)
	}
	if got := traj.OrbitAt(traj.ArrivalTime() + 100); !got.Equal(traj.FinalOrbit()) {
		t.Fatalf("OrbitAt(after arrival) = %+v, want final orbit", got)
	}
	if traj.HighestAltitude() != 800 {
		t.Fatalf("HighestAltitude = %v, want 800", traj.HighestAltitude())
	}
}

func TestTrajectoryCartesianBlend(t *testing.T) {
	traj, _ := plannedRaise(t)

	for i, m := range traj.Maneuvers {
		atStart := traj.CartesianLocationAt(m.Time)
		coastBefore := traj.OrbitAt(m.Time).LocationAt(m.Time).Cartesian()
		if d := atStart.DistanceTo(coastBefore); d > 1e-6 {
			t.Fatalf("maneuver %d: blended start differs from pre-burn orbit by %v km", i, d)
		}

		end := m.EndTime()
		justBefore := traj.CartesianLocationAt(end - 1e-9)
		after := traj.CartesianLocationAt(end)
		if d := justBefore.DistanceTo(after); d > 1e-3 {
			t.Fatalf("maneuver %d: position jumps %v km at burn end", i, d)
		}

		mid := traj.CartesianLocationAt(m.Time + m.Duration/2)
		r := mid.Norm() - earth().Radius
		if r < 350 || r > 850 {
			t.Fatalf("maneuver %d: mid-burn altitude %v km out of range", i, r)
		}
	}
}

func TestTrajectoryManeuverQueries(t *testing.T) {
	traj, _ := plannedRaise(t)
	first, second := traj.Maneuvers[0], traj.Maneuvers[1]

	if m, idx := traj.CurrentManeuver(first.Time - 1); m != nil || idx != -1 {
		t.Fatalf("CurrentManeuver before first burn = %d, want none", idx)
	}
	if _, idx := traj.CurrentManeuver(first.Time + first.Duration/2); idx != 0 {
		t.Fatalf("CurrentManeuver mid first burn = %d, want 0", idx)
	}
	if _, idx := traj.NextManeuver(first.Time); idx != 1 {
		t.Fatalf("NextManeuver at first burn = %d, want 1", idx)
	}
	if _, idx := traj.LastCompletedManeuver(second.Time); idx != 0 {
		t.Fatalf("LastCompletedManeuver before second burn = %d, want 0", idx)
	}
	if got := traj.ThrustFactorAt(first.Time-1, 0); got != 0 {
		t.Fatalf("ThrustFactorAt(coast) = %v, want 0", got)
	}
	if got := traj.ThrustFactorAt(first.Time+first.Duration/2, 0); got <= 0 || got > 1 {
		t.Fatalf("ThrustFactorAt(burn) = %v, want in (0, 1]", got)
	}
	for i := range traj.Spacecraft {
		if traj.PropellantUsed(i) <= 0 {
			t.Fatalf("PropellantUsed(%d) = %v, want > 0", i, traj.PropellantUsed(i))
		}
		if traj.SpacecraftIndex(traj.Spacecraft[i]) != i {
			t.Fatalf("SpacecraftIndex mismatch at %d", i)
		}
	}
}

func TestTrajectoryAbortOrbit(t *testing.T) {
	traj, _ := plannedRaise(t)
	first := traj.Maneuvers[0]
	now := first.Time + first.Duration*0.75

	abort := traj.AbortOrbit(now)
	if abort.InsertionTime != now {
		t.Fatalf("abort insertion = %v, want %v", abort.InsertionTime, now)
	}
	g := abort.Geometry
	if !g.IsCircular() {
		t.Fatalf("abort geometry not circular: %+v", g)
	}
	assertClose(t, "abort arc", g.EndPhase-g.StartPhase, 360, 1e-9)

	// No burn completed yet: park on the initial orbit's current position.
	ref := traj.InitialOrbit.LocationAt(now)
	assertClose(t, "abort altitude", g.StartAltitude, ref.Altitude(), 1e-9)
	if d := angleDiff(g.StartPhase, ref.Phase); math.Abs(d) > 1e-9 {
		t.Fatalf("abort phase differs by %v degrees", d)
	}

	// After the first burn the reference is leg A.
	later := traj.Transfers[0].InsertionTime + 10
	ref = traj.OrbitAt(first.EndTime()).LocationAt(later)
	assertClose(t, "abort altitude on leg A", traj.AbortOrbit(later).Geometry.StartAltitude, ref.Altitude(), 1e-9)
}

func TestTrajectoryValidate(t *testing.T) {
	var nilTraj *Trajectory
	if !errors.Is(nilTraj.Validate(), ErrInvalidTrajectory) {
		t.Fatalf("nil trajectory validated")
	}
	traj, _ := plannedRaise(t)
	broken := *traj
	broken.Maneuvers = append([]Maneuver(nil), traj.Maneuvers...)
	broken.Maneuvers[1].DeltaV = 0
	if !errors.Is(broken.Validate(), ErrInvalidTrajectory) {
		t.Fatalf("trajectory with zero delta-v maneuver validated")
	}
	if traj.FirstManeuverStartTime() >= timectrl.Time(30) {
		t.Fatalf("first burn starts at %v, want before its 30 minute centre", traj.FirstManeuverStartTime())
	}
}
