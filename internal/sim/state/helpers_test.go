package state

import (
	"context"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/orbital-simulator/core"
	"github.com/signalsfoundry/orbital-simulator/internal/logging"
	"github.com/signalsfoundry/orbital-simulator/kb"
	"github.com/signalsfoundry/orbital-simulator/model"
	"github.com/signalsfoundry/orbital-simulator/timectrl"
)

func earth() model.CelestialBody {
	return model.CelestialBody{ID: "earth", Name: "Earth", Radius: 6371, Mass: 5.97e24}
}

func circular(altitude, phase float64, insertion timectrl.Time) core.Orbit {
	return core.NewOrbit(core.NewCircularGeometry(earth(), altitude, phase), insertion)
}

type fixture struct {
	kb    *kb.KnowledgeBase
	clock *timectrl.TimeController
	state *OrbitalState
	ships []uuid.UUID
}

// newFixture parks n spacecraft together on a 400 km orbit at phase 0.
func newFixture(t *testing.T, n int, opts ...Option) *fixture {
	t.Helper()

	registry := kb.NewKnowledgeBase()
	if err := registry.AddBody(earth()); err != nil {
		t.Fatalf("AddBody: %v", err)
	}
	ships := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		sc := model.Spacecraft{
			ID:   uuid.New(),
			Name: fmt.Sprintf("ship-%d", i),
			Propulsion: model.Propulsion{
				DryMass:         20 + float64(i)*5,
				Thrust:          150,
				SpecificImpulse: 320,
				PropellantCap:   80,
			},
			PropellantMass: 60,
		}
		if err := registry.AddSpacecraft(sc); err != nil {
			t.Fatalf("AddSpacecraft: %v", err)
		}
		ships = append(ships, sc.ID)
	}
	return newFixtureWith(t, registry, ships, opts...)
}

func newFixtureWith(t *testing.T, registry *kb.KnowledgeBase, ships []uuid.UUID, opts ...Option) *fixture {
	t.Helper()

	clock := timectrl.NewTimeController(0, time.Second, timectrl.Accelerated)
	st, err := NewOrbitalState(registry, clock, logging.Noop(), append([]Option{WithAuthority(true)}, opts...)...)
	if err != nil {
		t.Fatalf("NewOrbitalState: %v", err)
	}
	f := &fixture{kb: registry, clock: clock, state: st, ships: ships}
	if len(ships) > 0 && st.IsAuthority() {
		if err := st.SetOrbit(context.Background(), ships, circular(400, 0, 0)); err != nil {
			t.Fatalf("SetOrbit: %v", err)
		}
	}
	return f
}

// plan plans the 400 → 800 km raise through a 600 km phasing orbit.
func (f *fixture) plan(t *testing.T, ids []uuid.UUID, startDelay timectrl.Time) *core.Trajectory {
	t.Helper()
	traj, err := f.state.PlanTrajectory(context.Background(), ids, circular(800, 180, 0), startDelay, []float64{600}, 0)
	if err != nil {
		t.Fatalf("PlanTrajectory: %v", err)
	}
	return traj
}

func (f *fixture) commit(t *testing.T, ids []uuid.UUID, startDelay timectrl.Time) *core.Trajectory {
	t.Helper()
	traj := f.plan(t, ids, startDelay)
	if err := f.state.CommitTrajectory(context.Background(), ids, traj); err != nil {
		t.Fatalf("CommitTrajectory: %v", err)
	}
	return traj
}

// jumpTo moves the clock to exactly at and runs one tick there.
func (f *fixture) jumpTo(at timectrl.Time) Events {
	f.clock.SetTime(at)
	return f.state.Advance(0)
}

type recordedMetrics struct {
	mu          sync.Mutex
	events      map[string]int
	ticks       int
	ffSteps     int
	planning    int
	orbits      int
	trajectorys int
}

func newRecordedMetrics() *recordedMetrics {
	return &recordedMetrics{events: make(map[string]int)}
}

func (r *recordedMetrics) ObserveTick(time.Duration, float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks++
}

func (r *recordedMetrics) AddFastForwardSteps(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ffSteps += n
}

func (r *recordedMetrics) IncTrajectoryEvent(event string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events[event]++
}

func (r *recordedMetrics) SetDatabaseSizes(orbits, trajectories int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.orbits = orbits
	r.trajectorys = trajectories
}

func (r *recordedMetrics) ObservePlanning(time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.planning++
}

func assertClose(t *testing.T, name string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Fatalf("%s = %v, want %v (±%v)", name, got, want, tol)
	}
}
