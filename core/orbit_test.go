package core

import (
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/signalsfoundry/orbital-simulator/model"
	"github.com/signalsfoundry/orbital-simulator/timectrl"
)

func TestOrbitalPeriodMatchesClosedForm(t *testing.T) {
	body := earth()
	mu := body.GravitationalParameter()

	for _, altitude := range []float64{200, 400, 800, 2000, 35786} {
		g := NewCircularGeometry(body, altitude, 0)
		r := (body.Radius + altitude) * 1000
		want := 2 * math.Pi * math.Sqrt(r*r*r/mu) / 60
		assertClose(t, "Period", float64(g.Period()), want, 1e-9*want)
	}

	// Low Earth orbit sanity: ~92 minutes at 400 km.
	p := NewCircularGeometry(body, 400, 0).Period()
	if p < 90 || p > 95 {
		t.Fatalf("Period(400 km) = %v minutes, want ~92", p)
	}
}

func TestPhaseAtUnwindStaysInRevolution(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	body := earth()

	for i := 0; i < 2000; i++ {
		start := rng.Float64()*720 - 360
		g := NewCircularGeometry(body, 200+rng.Float64()*5000, start)
		delta := timectrl.Time((rng.Float64()*2 - 1) * 1e5)

		got := g.PhaseAt(delta, true)
		if got < g.StartPhase || got >= g.StartPhase+360 {
			t.Fatalf("PhaseAt(%v, unwind) = %v, want in [%v, %v)", delta, got, g.StartPhase, g.StartPhase+360)
		}
		raw := g.PhaseAt(delta, false)
		if d := angleDiff(raw, got); math.Abs(d) > 1e-6 {
			t.Fatalf("unwound phase %v differs from raw %v by %v degrees", got, raw, d)
		}
	}
}

func TestGeometryValidate(t *testing.T) {
	body := earth()
	cases := []struct {
		name string
		g    OrbitGeometry
		ok   bool
	}{
		{"circular", NewCircularGeometry(body, 400, 10), true},
		{"transfer", NewTransferGeometry(body, 400, 800, 10), true},
		{"no body", NewCircularGeometry(model.CelestialBody{}, 400, 0), false},
		{"negative altitude", NewCircularGeometry(body, -1, 0), false},
		{"reversed phases", OrbitGeometry{Body: body, StartAltitude: 400, OppositeAltitude: 400, StartPhase: 10, EndPhase: 5}, false},
		{"nan phase", OrbitGeometry{Body: body, StartAltitude: 400, OppositeAltitude: 400, StartPhase: math.NaN(), EndPhase: 5}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.g.Validate()
			if tc.ok != (err == nil) {
				t.Fatalf("Validate() = %v, want ok=%v", err, tc.ok)
			}
			if err != nil && !errors.Is(err, ErrInvalidGeometry) {
				t.Fatalf("Validate() = %v, want ErrInvalidGeometry", err)
			}
			if tc.g.IsValid() != tc.ok {
				t.Fatalf("IsValid() = %v, want %v", tc.g.IsValid(), tc.ok)
			}
		})
	}
}

func TestTransferGeometryArc(t *testing.T) {
	body := earth()
	g := NewTransferGeometry(body, 400, 800, 370)

	if g.StartPhase != 10 || g.EndPhase != 190 {
		t.Fatalf("phases = %v..%v, want 10..190", g.StartPhase, g.EndPhase)
	}
	assertClose(t, "ArcDuration", float64(g.ArcDuration()), float64(g.Period()/2), 1e-12)
	if g.IsCircular() {
		t.Fatalf("transfer geometry reported circular")
	}
	if g.HighestAltitude() != 800 {
		t.Fatalf("HighestAltitude = %v, want 800", g.HighestAltitude())
	}
}

func TestStableOrbitContinuesArc(t *testing.T) {
	body := earth()
	leg := NewOrbit(NewTransferGeometry(body, 400, 800, 45), 12)
	stable := leg.StableOrbit()

	if stable.InsertionTime != leg.EndTime() {
		t.Fatalf("stable insertion = %v, want %v", stable.InsertionTime, leg.EndTime())
	}
	if !stable.Geometry.IsCircular() || stable.Geometry.StartAltitude != 800 {
		t.Fatalf("stable geometry = %+v, want circular at 800 km", stable.Geometry)
	}
	assertClose(t, "stable start phase", stable.Geometry.StartPhase, 225, 1e-9)

	end := leg.LocationAt(leg.EndTime() - 1e-9).Cartesian()
	start := stable.LocationAt(stable.InsertionTime).Cartesian()
	if d := end.DistanceTo(start); d > 1e-3 {
		t.Fatalf("position jumps %v km between leg end and stable orbit", d)
	}
}

func TestOrbitLocationAtInsertion(t *testing.T) {
	o := circularOrbit(earth(), 500, 30, 100)
	loc := o.LocationAt(100)
	assertClose(t, "phase", loc.Phase, 30, 1e-12)

	quarter := o.LocationAt(100 + o.Geometry.Period()/4)
	assertClose(t, "quarter phase", quarter.Phase, 120, 1e-9)
}
