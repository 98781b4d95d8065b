package core

import (
	"fmt"
	"math"
	"testing"

	"github.com/google/uuid"

	"github.com/signalsfoundry/orbital-simulator/model"
	"github.com/signalsfoundry/orbital-simulator/timectrl"
)

func earth() model.CelestialBody {
	return model.CelestialBody{ID: "earth", Name: "Earth", Radius: 6371, Mass: 5.97e24}
}

// fakeShips implements PropulsionProvider and PropellantProvider over a map.
type fakeShips map[uuid.UUID]model.Spacecraft

func (f fakeShips) SpacecraftPropulsion(id uuid.UUID) (PropulsionModel, float64, error) {
	sc, ok := f[id]
	if !ok {
		return nil, 0, fmt.Errorf("%w: %s", ErrUnknownSpacecraft, id)
	}
	return NewPropulsionMetrics(sc.Propulsion), sc.CargoMass, nil
}

func (f fakeShips) PropellantMass(id uuid.UUID) (float64, error) {
	sc, ok := f[id]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSpacecraft, id)
	}
	return sc.PropellantMass, nil
}

func newShips(n int) (fakeShips, []uuid.UUID) {
	ships := make(fakeShips, n)
	ids := make([]uuid.UUID, 0, n)
	for i := 0; i < n; i++ {
		id := uuid.New()
		ships[id] = model.Spacecraft{
			ID:   id,
			Name: fmt.Sprintf("ship-%d", i),
			Propulsion: model.Propulsion{
				DryMass:         20 + float64(i)*5,
				Thrust:          150,
				SpecificImpulse: 320,
				PropellantCap:   80,
			},
			CargoMass:      float64(i) * 2,
			PropellantMass: 60,
		}
		ids = append(ids, id)
	}
	return ships, ids
}

func circularOrbit(body model.CelestialBody, altitude, phase float64, insertion timectrl.Time) Orbit {
	return NewOrbit(NewCircularGeometry(body, altitude, phase), insertion)
}

// angleDiff returns the signed smallest difference a-b in degrees.
func angleDiff(a, b float64) float64 {
	d := NormalizeDegrees(a - b)
	if d > 180 {
		d -= 360
	}
	return d
}

func assertClose(t *testing.T, name string, got, want, tol float64) {
	t.Helper()
	if math.Abs(got-want) > tol {
		t.Fatalf("%s = %v, want %v (±%v)", name, got, want, tol)
	}
}
