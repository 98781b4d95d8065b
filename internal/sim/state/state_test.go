package state

import (
	"bytes"
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/google/uuid"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/orbital-simulator/core"
	"github.com/signalsfoundry/orbital-simulator/internal/observability"
	"github.com/signalsfoundry/orbital-simulator/kb"
	"github.com/signalsfoundry/orbital-simulator/model"
	"github.com/signalsfoundry/orbital-simulator/timectrl"
)

func TestCommitAndArrivalCompletes(t *testing.T) {
	metrics := newRecordedMetrics()
	f := newFixture(t, 1, WithMetricsRecorder(metrics))
	ship := f.ships[0]

	traj := f.commit(t, f.ships, 30)
	if len(traj.Transfers) != 2 || len(traj.Maneuvers) != 4 {
		t.Fatalf("trajectory legs/maneuvers = %d/%d, want 2/4", len(traj.Transfers), len(traj.Maneuvers))
	}

	if got, ok := f.state.GetTrajectory(ship); !ok || got != traj {
		t.Fatalf("GetTrajectory = %p, %v; want committed trajectory", got, ok)
	}
	if _, ok := f.state.GetOrbit(ship); !ok {
		t.Fatalf("orbit entry dropped at commit; want it kept until garbage collection")
	}

	ev := f.jumpTo(traj.ArrivalTime())
	if len(ev.Arrivals) != 1 || len(ev.Completed) != 1 {
		t.Fatalf("arrivals/completed = %d/%d, want 1/1", len(ev.Arrivals), len(ev.Completed))
	}
	if _, ok := f.state.GetTrajectory(ship); ok {
		t.Fatalf("trajectory still present after arrival")
	}
	orbit, ok := f.state.GetOrbit(ship)
	if !ok || !orbit.Equal(traj.FinalOrbit()) {
		t.Fatalf("GetOrbit after arrival = %+v, %v; want final orbit %+v", orbit, ok, traj.FinalOrbit())
	}
	assertClose(t, "final altitude", orbit.Geometry.StartAltitude, 800, 1e-9)

	propellant, err := f.kb.PropellantMass(ship)
	if err != nil {
		t.Fatalf("PropellantMass: %v", err)
	}
	assertClose(t, "propellant after arrival", propellant, 60-traj.PropellantUsed(0), 1e-9)

	if metrics.events[observability.EventCommitted] != 1 || metrics.events[observability.EventCompleted] != 1 {
		t.Fatalf("lifecycle metrics = %v, want one commit and one completion", metrics.events)
	}
	if metrics.orbits != 1 || metrics.trajectorys != 0 {
		t.Fatalf("database sizes = %d/%d, want 1/0", metrics.orbits, metrics.trajectorys)
	}
}

func TestAbortBeforeStartIsNoop(t *testing.T) {
	f := newFixture(t, 1)
	ship := f.ships[0]
	before, _ := f.state.GetOrbit(ship)

	traj := f.commit(t, f.ships, 10)
	if start := traj.FirstManeuverStartTime(); start <= 0 || start > 10 {
		t.Fatalf("first maneuver at %v, want within the next 10 minutes", start)
	}

	var orbitVersion uint64
	_ = f.state.WithReadLock(func(orbits *core.OrbitDatabase, _ *core.TrajectoryDatabase) error {
		orbitVersion = orbits.Version()
		return nil
	})

	if err := f.state.AbortTrajectory(context.Background(), f.ships); err != nil {
		t.Fatalf("AbortTrajectory: %v", err)
	}

	_ = f.state.WithReadLock(func(orbits *core.OrbitDatabase, trajectories *core.TrajectoryDatabase) error {
		if trajectories.Len() != 0 {
			t.Fatalf("trajectory entries = %d, want 0", trajectories.Len())
		}
		if orbits.Version() != orbitVersion {
			t.Fatalf("orbit database changed on a pre-start abort: version %d, want %d", orbits.Version(), orbitVersion)
		}
		return nil
	})
	after, ok := f.state.GetOrbit(ship)
	if !ok || !after.Equal(before) {
		t.Fatalf("orbit after abort = %+v, want original %+v", after, before)
	}

	ev := f.state.DrainEvents()
	if len(ev.Aborted) != 1 || ev.Aborted[0].Orbit != nil {
		t.Fatalf("aborted events = %+v, want one without orbit", ev.Aborted)
	}
}

func TestAbortMidFlightParksOnCircularOrbit(t *testing.T) {
	f := newFixture(t, 1)
	ship := f.ships[0]
	traj := f.commit(t, f.ships, 10)

	first := traj.Maneuvers[0]
	mid := first.Time + first.Duration/2
	f.jumpTo(mid)

	if err := f.state.AbortTrajectory(context.Background(), f.ships); err != nil {
		t.Fatalf("AbortTrajectory: %v", err)
	}
	if _, ok := f.state.GetTrajectory(ship); ok {
		t.Fatalf("trajectory still present after abort")
	}

	orbit, ok := f.state.GetOrbit(ship)
	if !ok {
		t.Fatalf("no orbit after mid-flight abort")
	}
	g := orbit.Geometry
	if !g.IsCircular() {
		t.Fatalf("abort orbit is not circular: %+v", g)
	}
	assertClose(t, "abort arc span", g.EndPhase-g.StartPhase, 360, 1e-9)
	assertClose(t, "abort altitude", g.StartAltitude, 400, 1e-9)
	if orbit.InsertionTime != mid {
		t.Fatalf("abort insertion = %v, want %v", orbit.InsertionTime, mid)
	}
	want := traj.InitialOrbit.PhaseAt(mid, false)
	assertClose(t, "abort phase", g.StartPhase, core.NormalizeDegrees(want), 1e-6)
}

func TestGarbageCollectionAfterFirstBurn(t *testing.T) {
	f := newFixture(t, 2)
	traj := f.commit(t, f.ships, 10)
	gcAt := traj.FirstManeuverStartTime() + DefaultGarbageCollectionDelay

	f.jumpTo(gcAt - DefaultGarbageCollectionDelay/2)
	for _, id := range f.ships {
		if _, ok := f.state.GetOrbit(id); !ok {
			t.Fatalf("orbit of %s collected inside the grace window", id)
		}
	}

	ev := f.jumpTo(gcAt)
	for _, id := range f.ships {
		if _, ok := f.state.GetOrbit(id); ok {
			t.Fatalf("orbit of %s still present at the garbage collection time", id)
		}
		if _, ok := f.state.GetTrajectory(id); !ok {
			t.Fatalf("trajectory of %s removed by garbage collection", id)
		}
	}
	if len(ev.Collected) != 2 {
		t.Fatalf("collected = %v, want both spacecraft", ev.Collected)
	}
}

func TestStateExclusivityOutsideGraceWindow(t *testing.T) {
	f := newFixture(t, 1)
	ship := f.ships[0]
	traj := f.commit(t, f.ships, 20)
	gcAt := traj.FirstManeuverStartTime() + DefaultGarbageCollectionDelay
	end := traj.ArrivalTime() + 30

	for i := 0; i <= 400; i++ {
		now := end * timectrl.Time(i) / 400
		f.jumpTo(now)

		_, parked := f.state.GetOrbit(ship)
		_, travelling := f.state.GetTrajectory(ship)
		if !parked && !travelling {
			t.Fatalf("t=%v: spacecraft resolves to nothing", now)
		}
		if parked && travelling && now >= gcAt {
			t.Fatalf("t=%v: spacecraft parked and travelling after the grace window ending %v", now, gcAt)
		}
		if now >= traj.ArrivalTime() && travelling {
			t.Fatalf("t=%v: still travelling after arrival %v", now, traj.ArrivalTime())
		}
		if _, ok := f.state.GetLocation(ship); !ok {
			t.Fatalf("t=%v: no location", now)
		}
	}
}

func TestCanCommitRejections(t *testing.T) {
	f := newFixture(t, 2)
	a, b := f.ships[0], f.ships[1]

	if ok, reason := f.state.CanCommitTrajectory(&core.Trajectory{}); ok || reason == "" {
		t.Fatalf("empty trajectory accepted: %v %q", ok, reason)
	}

	past := f.plan(t, []uuid.UUID{a}, 0)
	if ok, reason := f.state.CanCommitTrajectory(past); ok || !strings.Contains(reason, "past") {
		t.Fatalf("past trajectory = %v %q, want rejection", ok, reason)
	}

	future := f.plan(t, []uuid.UUID{a}, 30)
	if ok, reason := f.state.CanCommitTrajectory(future); !ok {
		t.Fatalf("valid trajectory rejected: %q", reason)
	}

	if err := f.kb.SetDocked(a, true); err != nil {
		t.Fatalf("SetDocked: %v", err)
	}
	if ok, reason := f.state.CanCommitTrajectory(future); ok || !strings.Contains(reason, "docked") {
		t.Fatalf("docked fleet = %v %q, want rejection", ok, reason)
	}
	err := f.state.CommitTrajectory(context.Background(), []uuid.UUID{a}, future)
	if !errors.Is(err, ErrCommitRejected) {
		t.Fatalf("CommitTrajectory(docked) error = %v, want ErrCommitRejected", err)
	}
	if err := f.kb.SetDocked(a, false); err != nil {
		t.Fatalf("SetDocked: %v", err)
	}

	if err := f.kb.SetPropellantMass(a, 0.01); err != nil {
		t.Fatalf("SetPropellantMass: %v", err)
	}
	if ok, reason := f.state.CanCommitTrajectory(future); ok || !strings.Contains(reason, "propellant") {
		t.Fatalf("empty tanks = %v %q, want rejection", ok, reason)
	}
	if err := f.kb.SetPropellantMass(a, 60); err != nil {
		t.Fatalf("SetPropellantMass: %v", err)
	}

	other := f.plan(t, []uuid.UUID{b}, 30)
	if err := f.state.CommitTrajectory(context.Background(), []uuid.UUID{b}, other); err != nil {
		t.Fatalf("CommitTrajectory(b): %v", err)
	}
	again := f.plan(t, []uuid.UUID{b}, 40)
	if ok, reason := f.state.CanCommitTrajectory(again); ok || !strings.Contains(reason, "travelling") {
		t.Fatalf("second commit = %v %q, want rejection", ok, reason)
	}

	if err := f.state.CommitTrajectory(context.Background(), []uuid.UUID{a, b}, future); !errors.Is(err, ErrInconsistentFleet) {
		t.Fatalf("CommitTrajectory with extra spacecraft error = %v, want ErrInconsistentFleet", err)
	}
}

func TestReplicaRejectsMutations(t *testing.T) {
	f := newFixture(t, 1)
	traj := f.plan(t, f.ships, 30)

	replica := newFixtureWith(t, f.kb, nil, WithAuthority(false))
	if ok, reason := replica.state.CanCommitTrajectory(traj); ok || !strings.Contains(reason, "authoritative") {
		t.Fatalf("replica CanCommitTrajectory = %v %q", ok, reason)
	}
	ctx := context.Background()
	for name, err := range map[string]error{
		"commit":   replica.state.CommitTrajectory(ctx, f.ships, traj),
		"complete": replica.state.CompleteTrajectory(ctx, f.ships),
		"abort":    replica.state.AbortTrajectory(ctx, f.ships),
		"set":      replica.state.SetOrbit(ctx, f.ships, circular(500, 0, 0)),
		"merge":    replica.state.MergeOrbit(ctx, f.ships, circular(500, 0, 0)),
	} {
		if !errors.Is(err, ErrNotAuthority) {
			t.Fatalf("%s on replica error = %v, want ErrNotAuthority", name, err)
		}
	}
}

func TestReplicaFollowsDeltas(t *testing.T) {
	f := newFixture(t, 1)
	ship := f.ships[0]
	traj := f.commit(t, f.ships, 30)

	replica := newFixtureWith(t, f.kb, nil, WithAuthority(false))
	pull := func() {
		t.Helper()
		_ = f.state.WithReadLock(func(orbits *core.OrbitDatabase, trajectories *core.TrajectoryDatabase) error {
			return replica.state.WithWriteLock(func(ro *core.OrbitDatabase, rt *core.TrajectoryDatabase) error {
				od, ok := orbits.DeltasSince(ro.Version())
				if !ok {
					t.Fatalf("orbit journal truncated")
				}
				td, ok := trajectories.DeltasSince(rt.Version())
				if !ok {
					t.Fatalf("trajectory journal truncated")
				}
				if err := ro.Apply(od); err != nil {
					t.Fatalf("Apply orbits: %v", err)
				}
				if err := rt.Apply(td); err != nil {
					t.Fatalf("Apply trajectories: %v", err)
				}
				return nil
			})
		})
	}

	pull()
	if got, ok := replica.state.GetTrajectory(ship); !ok || got != traj {
		t.Fatalf("replica GetTrajectory = %v, %v", got, ok)
	}

	replica.clock.SetTime(traj.ArrivalTime())
	ev := replica.state.Advance(0)
	if len(ev.Arrivals) != 1 || len(ev.Completed) != 0 {
		t.Fatalf("replica arrivals/completed = %d/%d, want 1/0", len(ev.Arrivals), len(ev.Completed))
	}
	if ev := replica.state.Advance(1); len(ev.Arrivals) != 0 {
		t.Fatalf("replica reported the same arrival twice")
	}

	f.jumpTo(traj.ArrivalTime())
	pull()
	if _, ok := replica.state.GetTrajectory(ship); ok {
		t.Fatalf("replica still has the trajectory after the authority completed it")
	}
	if orbit, ok := replica.state.GetOrbit(ship); !ok || !orbit.Equal(traj.FinalOrbit()) {
		t.Fatalf("replica orbit = %+v, %v; want final orbit", orbit, ok)
	}
}

func TestCompleteAndAbortRequireOneTrajectory(t *testing.T) {
	f := newFixture(t, 2)
	a, b := f.ships[0], f.ships[1]
	ctx := context.Background()

	if err := f.state.CompleteTrajectory(ctx, []uuid.UUID{a}); !errors.Is(err, ErrNoTrajectory) {
		t.Fatalf("CompleteTrajectory(parked) error = %v, want ErrNoTrajectory", err)
	}
	if err := f.state.AbortTrajectory(ctx, nil); !errors.Is(err, core.ErrEmptyFleet) {
		t.Fatalf("AbortTrajectory(nil) error = %v, want ErrEmptyFleet", err)
	}

	f.commit(t, []uuid.UUID{a}, 30)
	f.commit(t, []uuid.UUID{b}, 40)
	if err := f.state.AbortTrajectory(ctx, []uuid.UUID{a, b}); !errors.Is(err, ErrInconsistentFleet) {
		t.Fatalf("AbortTrajectory(two fleets) error = %v, want ErrInconsistentFleet", err)
	}
	if err := f.state.CompleteTrajectory(ctx, []uuid.UUID{b}); err != nil {
		t.Fatalf("CompleteTrajectory(b): %v", err)
	}
	if _, ok := f.state.GetTrajectory(b); ok {
		t.Fatalf("trajectory of b still present after completion")
	}
}

func TestTrajectoryFleetSplit(t *testing.T) {
	f := newFixture(t, 3)
	a, b, c := f.ships[0], f.ships[1], f.ships[2]
	ctx := context.Background()
	traj := f.commit(t, f.ships, 30)
	first := traj.Maneuvers[0]
	now := first.Time + first.Duration/3
	f.jumpTo(now)

	if err := f.state.AbortTrajectory(ctx, []uuid.UUID{a}); !errors.Is(err, ErrInconsistentFleet) {
		t.Fatalf("AbortTrajectory(a) error = %v, want ErrInconsistentFleet", err)
	}
	if err := f.state.CompleteTrajectory(ctx, []uuid.UUID{a, b}); !errors.Is(err, ErrInconsistentFleet) {
		t.Fatalf("CompleteTrajectory(a, b) error = %v, want ErrInconsistentFleet", err)
	}
	for _, id := range f.ships {
		if _, ok := f.state.GetTrajectory(id); !ok {
			t.Fatalf("rejected command dropped the trajectory of %s", id)
		}
	}

	parked := circular(900, 45, 0)
	if err := f.state.SetOrbit(ctx, []uuid.UUID{a}, parked); err != nil {
		t.Fatalf("SetOrbit(a): %v", err)
	}
	for _, id := range []uuid.UUID{b, c} {
		want := traj.SpacecraftIndex(id)
		if got := f.state.GetSpacecraftIndexInTrajectory(id); got != want {
			t.Fatalf("index of %s after split = %d, want planned %d", id, got, want)
		}
		assertClose(t, "thrust factor after split", f.state.GetCurrentThrustFactor(id), traj.ThrustFactorAt(now, want), 0)
	}
	if got := f.state.GetCurrentThrustFactor(c); got != 1 {
		t.Fatalf("heaviest ship thrust after split = %v, want 1", got)
	}

	var buf bytes.Buffer
	if err := f.state.WriteSave(&buf); err != nil {
		t.Fatalf("WriteSave: %v", err)
	}
	restored := newFixtureWith(t, f.kb, nil)
	if err := restored.state.ReadSave(&buf); err != nil {
		t.Fatalf("ReadSave: %v", err)
	}
	if _, ok := restored.state.GetTrajectory(a); ok {
		t.Fatalf("restore put the parked spacecraft back on the trajectory")
	}
	if got, ok := restored.state.GetOrbit(a); !ok || !got.Equal(parked) {
		t.Fatalf("restored orbit of a = %+v, %v; want %+v", got, ok, parked)
	}
	if got := restored.state.GetSpacecraftIndexInTrajectory(c); got != 2 {
		t.Fatalf("restored index of c = %d, want 2", got)
	}
	if err := restored.state.AbortTrajectory(ctx, []uuid.UUID{b, c}); err != nil {
		t.Fatalf("AbortTrajectory(b, c) after restore: %v", err)
	}
}

func TestSetOrbitAndMergeOrbit(t *testing.T) {
	f := newFixture(t, 3)
	a, b, c := f.ships[0], f.ships[1], f.ships[2]
	ctx := context.Background()
	high := circular(900, 45, 0)

	if err := f.state.SetOrbit(ctx, []uuid.UUID{a}, high); err != nil {
		t.Fatalf("SetOrbit(a): %v", err)
	}
	if got := f.state.GetSpacecraftIndexInTrajectory(a); got != -1 {
		t.Fatalf("index of parked spacecraft = %d, want -1", got)
	}
	if err := f.state.MergeOrbit(ctx, []uuid.UUID{c}, high); err != nil {
		t.Fatalf("MergeOrbit(c): %v", err)
	}
	_ = f.state.WithReadLock(func(orbits *core.OrbitDatabase, _ *core.TrajectoryDatabase) error {
		members := orbits.Members(c)
		if !slices.Equal(members, []uuid.UUID{a, c}) {
			t.Fatalf("merged members = %v, want [a c]", members)
		}
		if got := orbits.Members(b); !slices.Equal(got, []uuid.UUID{b}) {
			t.Fatalf("members of b = %v, want [b]", got)
		}
		return nil
	})

	f.commit(t, []uuid.UUID{b}, 30)
	if err := f.state.SetOrbit(ctx, []uuid.UUID{b}, high); err != nil {
		t.Fatalf("SetOrbit(travelling b): %v", err)
	}
	if _, ok := f.state.GetTrajectory(b); ok {
		t.Fatalf("SetOrbit kept the trajectory of b")
	}

	bad := core.Orbit{Geometry: core.OrbitGeometry{Body: earth(), StartAltitude: -1, OppositeAltitude: 10, EndPhase: 360}}
	if err := f.state.SetOrbit(ctx, []uuid.UUID{a}, bad); !errors.Is(err, core.ErrInvalidOrbit) {
		t.Fatalf("SetOrbit(invalid) error = %v, want ErrInvalidOrbit", err)
	}
}

func TestThrustFactorsAndCartesianBlend(t *testing.T) {
	f := newFixture(t, 2)
	traj := f.commit(t, f.ships, 30)
	first := traj.Maneuvers[0]

	for i, id := range f.ships {
		if got := f.state.GetSpacecraftIndexInTrajectory(id); got != i {
			t.Fatalf("index of ship %d = %d", i, got)
		}
		if got := f.state.GetCurrentThrustFactor(id); got != 0 {
			t.Fatalf("thrust before burn = %v, want 0", got)
		}
	}

	mid := first.Time + first.Duration/3
	f.jumpTo(mid)
	fast, slow := f.state.GetCurrentThrustFactor(f.ships[0]), f.state.GetCurrentThrustFactor(f.ships[1])
	if slow != 1 || fast <= 0 || fast >= 1 {
		t.Fatalf("thrust factors = %v/%v, want lighter ship throttled and heavier at 1", fast, slow)
	}

	pos, ok := f.state.GetCartesianLocation(f.ships[0])
	if !ok {
		t.Fatalf("no cartesian location during burn")
	}
	want := traj.CartesianLocationAt(mid)
	if pos.DistanceTo(want) > 1e-9 {
		t.Fatalf("cartesian location = %+v, want %+v", pos, want)
	}
	if p := f.state.Positions()[f.ships[0]]; !p.Travel {
		t.Fatalf("position during burn not marked as travelling")
	}
}

func TestFastForwardStopsOnEvents(t *testing.T) {
	metrics := newRecordedMetrics()
	f := newFixture(t, 1, WithMetricsRecorder(metrics))
	traj := f.commit(t, f.ships, 10)
	first := traj.FirstManeuverStartTime()

	_, steps, interrupted := f.state.FastForward(3, 100)
	if !interrupted {
		t.Fatalf("fast-forward ran through the first burn")
	}
	if want := int(first/3) + 1; steps != want {
		t.Fatalf("steps = %d, want %d", steps, want)
	}
	assertClose(t, "time after fast-forward", f.state.Now().Minutes(), first.Minutes(), 1e-9)
	if metrics.ffSteps != steps {
		t.Fatalf("fast-forward metric = %d, want %d", metrics.ffSteps, steps)
	}

	total := 0
	for i := 0; i < 1000 && f.state.Now() < traj.ArrivalTime(); i++ {
		_, n, _ := f.state.FastForward(60, 50)
		total += n
	}
	if _, ok := f.state.GetTrajectory(f.ships[0]); ok {
		t.Fatalf("trajectory not completed by fast-forwarding past arrival (now %v, arrival %v)", f.state.Now(), traj.ArrivalTime())
	}
	if total == 0 {
		t.Fatalf("fast-forward made no progress")
	}
}

func TestFastForwardBlocker(t *testing.T) {
	blocked := true
	f := newFixture(t, 1, WithFastForwardBlocker(func() bool { return blocked }))

	_, steps, interrupted := f.state.FastForward(5, 10)
	if steps != 0 || !interrupted {
		t.Fatalf("blocked fast-forward = %d steps, interrupted %v", steps, interrupted)
	}
	blocked = false
	if _, steps, interrupted = f.state.FastForward(5, 10); steps != 10 || interrupted {
		t.Fatalf("unblocked fast-forward = %d steps, interrupted %v", steps, interrupted)
	}
	assertClose(t, "time", f.state.Now().Minutes(), 50, 1e-9)
}

func TestAreaProximityEvents(t *testing.T) {
	f := newFixture(t, 0)
	if err := f.kb.AddArea(model.Area{ID: "station", Name: "Station", BodyID: "earth", Altitude: 400, Phase: 0}); err != nil {
		t.Fatalf("AddArea: %v", err)
	}
	if err := f.kb.AddAsteroid(model.Asteroid{ID: "rock", BodyID: "earth", Altitude: 1200, Phase: 90, Scale: 1}); err != nil {
		t.Fatalf("AddAsteroid: %v", err)
	}
	ship := uuid.New()
	if err := f.kb.AddSpacecraft(model.Spacecraft{ID: ship, Propulsion: model.Propulsion{DryMass: 20, Thrust: 150, SpecificImpulse: 320, PropellantCap: 80}}); err != nil {
		t.Fatalf("AddSpacecraft: %v", err)
	}

	st := newFixtureWith(t, f.kb, nil, WithAreaProximity(50)).state
	ctx := context.Background()
	if err := st.SetOrbit(ctx, []uuid.UUID{ship}, circular(400, 0, 0)); err != nil {
		t.Fatalf("SetOrbit: %v", err)
	}

	ev := st.Advance(5)
	if len(ev.AreaChanges) != 1 || ev.AreaChanges[0].To != "station" || ev.AreaChanges[0].From != "" {
		t.Fatalf("area changes = %+v, want arrival near station", ev.AreaChanges)
	}
	if area, ok := st.NearestArea(ship); !ok || area != "station" {
		t.Fatalf("NearestArea = %q, %v", area, ok)
	}
	if ev := st.Advance(5); len(ev.AreaChanges) != 0 {
		t.Fatalf("unchanged proximity reported again: %+v", ev.AreaChanges)
	}

	if err := st.SetOrbit(ctx, []uuid.UUID{ship}, circular(800, 0, st.Now())); err != nil {
		t.Fatalf("SetOrbit: %v", err)
	}
	ev = st.Advance(1)
	if len(ev.AreaChanges) != 1 || ev.AreaChanges[0].From != "station" || ev.AreaChanges[0].To != "" {
		t.Fatalf("area changes = %+v, want departure from station", ev.AreaChanges)
	}

	loc, ok := st.AsteroidLocation("rock")
	if !ok {
		t.Fatalf("asteroid not tracked")
	}
	assertClose(t, "asteroid altitude", loc.Altitude(), 1200, 1e-6)
	if _, ok := st.AreaLocation("station"); !ok {
		t.Fatalf("area not tracked")
	}
}

func TestCommandSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	f := newFixture(t, 1, WithTracer(tp.Tracer("test")))

	traj := f.plan(t, f.ships, 30)
	_ = f.kb.SetDocked(f.ships[0], true)
	_ = f.state.CommitTrajectory(context.Background(), f.ships, traj)

	var names []string
	var failed bool
	for _, span := range recorder.Ended() {
		names = append(names, span.Name())
		if span.Name() == "OrbitalState.CommitTrajectory" && span.Status().Description != "" {
			failed = true
		}
	}
	for _, want := range []string{"OrbitalState.SetOrbit", "OrbitalState.PlanTrajectory", "OrbitalState.CommitTrajectory"} {
		if !slices.Contains(names, want) {
			t.Fatalf("spans = %v, missing %s", names, want)
		}
	}
	if !failed {
		t.Fatalf("rejected commit span carries no error status")
	}
}

func TestPhasingCandidates(t *testing.T) {
	got := PhasingCandidates(400, 800)
	if len(got) != 3 || got[0] != 600 {
		t.Fatalf("PhasingCandidates(400, 800) = %v", got)
	}
	for _, alt := range got {
		if alt <= 400 || alt >= 800 {
			t.Fatalf("candidate %v outside (400, 800)", alt)
		}
	}
	for _, alt := range PhasingCandidates(150, 150) {
		if alt <= 0 || alt == 150 {
			t.Fatalf("same-altitude candidate %v", alt)
		}
	}
}

func TestPlanTrajectoryErrors(t *testing.T) {
	f := newFixture(t, 1)
	ctx := context.Background()

	if _, err := f.state.PlanTrajectory(ctx, []uuid.UUID{uuid.New()}, circular(800, 0, 0), 10, nil, 0); !errors.Is(err, ErrNoOrbit) {
		t.Fatalf("PlanTrajectory(unknown) error = %v, want ErrNoOrbit", err)
	}
	elliptical := core.NewOrbit(core.NewTransferGeometry(earth(), 400, 800, 0), 0)
	if _, err := f.state.PlanTrajectory(ctx, f.ships, elliptical, 10, nil, 0); !errors.Is(err, core.ErrDestinationNotCircular) {
		t.Fatalf("PlanTrajectory(elliptical destination) error = %v", err)
	}
	traj, err := f.state.PlanTrajectory(ctx, f.ships, circular(800, 0, 0), 10, nil, 0)
	if err != nil {
		t.Fatalf("PlanTrajectory(default candidates): %v", err)
	}
	if !traj.IsValid() {
		t.Fatalf("planned trajectory invalid: %v", traj.Validate())
	}
}

func TestSaveRoundTrip(t *testing.T) {
	f := newFixture(t, 2)
	a := f.ships[0]
	traj := f.commit(t, f.ships, 10)
	f.state.SetBehavior(a, model.BehaviorTrading, "station")
	f.jumpTo(traj.FirstManeuverStartTime() + DefaultGarbageCollectionDelay/2)

	var buf bytes.Buffer
	if err := f.state.WriteSave(&buf); err != nil {
		t.Fatalf("WriteSave: %v", err)
	}
	if !strings.Contains(buf.String(), "behavior: trading") {
		t.Fatalf("save does not carry the behavior step:\n%s", buf.String())
	}

	restored := newFixtureWith(t, f.kb, nil)
	if err := restored.state.ReadSave(&buf); err != nil {
		t.Fatalf("ReadSave: %v", err)
	}
	if restored.state.Now() != f.state.Now() {
		t.Fatalf("restored time = %v, want %v", restored.state.Now(), f.state.Now())
	}
	for _, id := range f.ships {
		want, _ := f.state.GetOrbit(id)
		got, ok := restored.state.GetOrbit(id)
		if !ok || !got.Equal(want) {
			t.Fatalf("restored orbit of %s = %+v, %v; want %+v", id, got, ok, want)
		}
		rt, ok := restored.state.GetTrajectory(id)
		if !ok {
			t.Fatalf("restored state lost the trajectory of %s", id)
		}
		if rt.ArrivalTime() != traj.ArrivalTime() || len(rt.Maneuvers) != len(traj.Maneuvers) {
			t.Fatalf("restored trajectory arrives %v with %d burns, want %v with %d",
				rt.ArrivalTime(), len(rt.Maneuvers), traj.ArrivalTime(), len(traj.Maneuvers))
		}
	}
	if got := restored.state.GetSpacecraftIndexInTrajectory(f.ships[1]); got != 1 {
		t.Fatalf("restored fleet order index = %d, want 1", got)
	}
	records := restored.state.Records()
	var found bool
	for _, rec := range records {
		if rec.ID == a.String() {
			found = rec.Behavior == model.BehaviorTrading.String() && rec.TargetArea == "station"
		}
	}
	if !found {
		t.Fatalf("restored records = %+v, behavior of %s lost", records, a)
	}

	replica := newFixtureWith(t, f.kb, nil, WithAuthority(false))
	if err := replica.state.ReadSave(strings.NewReader("time_min: 1\n")); !errors.Is(err, ErrNotAuthority) {
		t.Fatalf("replica ReadSave error = %v, want ErrNotAuthority", err)
	}
}

func TestReadSaveRejectsBadFleets(t *testing.T) {
	f := newFixture(t, 2)
	a := f.ships[0]
	f.commit(t, f.ships, 30)
	stranger := uuid.New().String()

	for name, tc := range map[string]struct {
		mutate func(rec *SpacecraftRecord)
		want   error
	}{
		"repeated orbit member": {
			mutate: func(rec *SpacecraftRecord) { rec.Fleet = []string{rec.ID, rec.ID} },
			want:   core.ErrDuplicateSpacecraft,
		},
		"orbit fleet without owner": {
			mutate: func(rec *SpacecraftRecord) { rec.Fleet = []string{stranger} },
			want:   ErrInconsistentFleet,
		},
		"repeated trajectory member": {
			mutate: func(rec *SpacecraftRecord) { rec.Trajectory.Members = []string{rec.ID, rec.ID} },
			want:   core.ErrDuplicateSpacecraft,
		},
		"unplanned trajectory member": {
			mutate: func(rec *SpacecraftRecord) { rec.Trajectory.Members = []string{rec.ID, stranger} },
			want:   ErrInconsistentFleet,
		},
	} {
		records := f.state.Records()
		tc.mutate(&records[0])
		raw, err := yaml.Marshal(SaveFile{Time: 99, Spacecraft: records})
		if err != nil {
			t.Fatalf("%s: yaml.Marshal: %v", name, err)
		}

		if err := f.state.ReadSave(bytes.NewReader(raw)); !errors.Is(err, tc.want) {
			t.Fatalf("%s: ReadSave error = %v, want %v", name, err, tc.want)
		}
		if f.state.Now() == timectrl.Minutes(99) {
			t.Fatalf("%s: rejected save moved the clock", name)
		}
		for _, id := range f.ships {
			if _, ok := f.state.GetOrbit(id); !ok {
				t.Fatalf("%s: rejected save dropped the orbit of %s", name, id)
			}
			if _, ok := f.state.GetTrajectory(id); !ok {
				t.Fatalf("%s: rejected save dropped the trajectory of %s", name, id)
			}
		}
	}
	if got := f.state.GetSpacecraftIndexInTrajectory(a); got != 0 {
		t.Fatalf("index of a after rejected saves = %d, want 0", got)
	}
}

func TestPlaceSpacecraftGroupsIdenticalOrbits(t *testing.T) {
	f := newFixture(t, 3)
	a, b, c := f.ships[0], f.ships[1], f.ships[2]

	err := f.state.PlaceSpacecraft(context.Background(), []kb.Placement{
		{Spacecraft: a, Orbit: circular(500, 10, 0)},
		{Spacecraft: b, Orbit: circular(500, 10, 0)},
		{Spacecraft: c, Orbit: circular(700, 10, 0)},
	})
	if err != nil {
		t.Fatalf("PlaceSpacecraft: %v", err)
	}
	_ = f.state.WithReadLock(func(orbits *core.OrbitDatabase, _ *core.TrajectoryDatabase) error {
		if got := orbits.Members(b); !slices.Equal(got, []uuid.UUID{a, b}) {
			t.Fatalf("members of b = %v, want [a b]", got)
		}
		if got := orbits.Members(c); !slices.Equal(got, []uuid.UUID{c}) {
			t.Fatalf("members of c = %v, want [c]", got)
		}
		return nil
	})
}
