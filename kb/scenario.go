package kb

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/signalsfoundry/orbital-simulator/core"
	"github.com/signalsfoundry/orbital-simulator/model"
)

// Placement is the initial orbit of a spacecraft described by a scenario.
type Placement struct {
	Spacecraft uuid.UUID
	Orbit      core.Orbit
}

// Scenario is a summary of what was loaded, plus the initial placements the
// simulation driver still has to apply.
type Scenario struct {
	Name       string
	Epoch      time.Time
	BodyIDs    []string
	AreaIDs    []string
	Asteroids  []string
	Spacecraft []uuid.UUID
	Placements []Placement
}

// internal YAML shapes, unexported so the file format can evolve.
type scenarioYAML struct {
	Name       string           `yaml:"name"`
	Epoch      time.Time        `yaml:"epoch"`
	Bodies     []bodyYAML       `yaml:"bodies"`
	Areas      []areaYAML       `yaml:"areas"`
	Asteroids  []asteroidYAML   `yaml:"asteroids"`
	Spacecraft []spacecraftYAML `yaml:"spacecraft"`
}

type bodyYAML struct {
	ID     string  `yaml:"id"`
	Name   string  `yaml:"name"`
	Radius float64 `yaml:"radius_km"`
	Mass   float64 `yaml:"mass_kg"`
}

type placementYAML struct {
	Body     string  `yaml:"body"`
	Altitude float64 `yaml:"altitude_km"`
	Phase    float64 `yaml:"phase_deg"`
}

type areaYAML struct {
	ID   string   `yaml:"id"`
	Name string   `yaml:"name"`
	Body string   `yaml:"body"`
	Alt  float64  `yaml:"altitude_km"`
	Deg  float64  `yaml:"phase_deg"`
	TLE  []string `yaml:"tle"` // optional pair of lines
}

type asteroidYAML struct {
	ID    string  `yaml:"id"`
	Body  string  `yaml:"body"`
	Alt   float64 `yaml:"altitude_km"`
	Deg   float64 `yaml:"phase_deg"`
	Scale float64 `yaml:"scale"`
}

type propulsionYAML struct {
	DryMass         float64 `yaml:"dry_mass_t"`
	Thrust          float64 `yaml:"thrust_kn"`
	SpecificImpulse float64 `yaml:"isp_s"`
	PropellantCap   float64 `yaml:"propellant_cap_t"`
}

type spacecraftYAML struct {
	ID         string         `yaml:"id"`
	Name       string         `yaml:"name"`
	Propulsion propulsionYAML `yaml:"propulsion"`
	Cargo      float64        `yaml:"cargo_t"`
	Propellant float64        `yaml:"propellant_t"`
	Docked     bool           `yaml:"docked"`
	Orbit      *placementYAML `yaml:"orbit"`
}

// LoadScenarioFile opens path and loads it with LoadScenario.
func LoadScenarioFile(kb *KnowledgeBase, path string) (*Scenario, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("LoadScenario: %w", err)
	}
	defer f.Close()
	return LoadScenario(kb, f)
}

// LoadScenario reads a YAML (or JSON) scenario from r and populates the
// KnowledgeBase. Areas defined by a TLE are resolved to a circular orbit at
// the scenario epoch. Spacecraft without an explicit ID get a random one.
func LoadScenario(kb *KnowledgeBase, r io.Reader) (*Scenario, error) {
	if kb == nil {
		return nil, fmt.Errorf("LoadScenario: kb is nil")
	}

	var payload scenarioYAML
	if err := yaml.NewDecoder(r).Decode(&payload); err != nil {
		return nil, fmt.Errorf("LoadScenario: decode failed: %w", err)
	}

	result := &Scenario{Name: payload.Name, Epoch: payload.Epoch}

	for _, b := range payload.Bodies {
		body := model.CelestialBody{ID: b.ID, Name: b.Name, Radius: b.Radius, Mass: b.Mass}
		if err := kb.AddBody(body); err != nil {
			return nil, fmt.Errorf("LoadScenario: %w", err)
		}
		result.BodyIDs = append(result.BodyIDs, b.ID)
	}

	for _, a := range payload.Areas {
		if a.ID == "" {
			return nil, fmt.Errorf("LoadScenario: area with empty id")
		}
		area := model.Area{ID: a.ID, Name: a.Name, BodyID: a.Body, Altitude: a.Alt, Phase: a.Deg}
		if len(a.TLE) > 0 {
			if len(a.TLE) != 2 {
				return nil, fmt.Errorf("LoadScenario: area %q: tle needs 2 lines, got %d", a.ID, len(a.TLE))
			}
			body, err := kb.Body(a.Body)
			if err != nil {
				return nil, fmt.Errorf("LoadScenario: area %q: %w", a.ID, err)
			}
			orbit, err := core.OrbitFromTLE(body, a.TLE[0], a.TLE[1], payload.Epoch)
			if err != nil {
				return nil, fmt.Errorf("LoadScenario: area %q: %w", a.ID, err)
			}
			area.TLE1, area.TLE2 = a.TLE[0], a.TLE[1]
			area.Altitude = orbit.Geometry.StartAltitude
			area.Phase = orbit.Geometry.StartPhase
		}
		if err := kb.AddArea(area); err != nil {
			return nil, fmt.Errorf("LoadScenario: %w", err)
		}
		result.AreaIDs = append(result.AreaIDs, a.ID)
	}

	for _, a := range payload.Asteroids {
		if a.ID == "" {
			return nil, fmt.Errorf("LoadScenario: asteroid with empty id")
		}
		if err := kb.AddAsteroid(model.Asteroid{ID: a.ID, BodyID: a.Body, Altitude: a.Alt, Phase: a.Deg, Scale: a.Scale}); err != nil {
			return nil, fmt.Errorf("LoadScenario: %w", err)
		}
		result.Asteroids = append(result.Asteroids, a.ID)
	}

	for _, s := range payload.Spacecraft {
		id := uuid.New()
		if s.ID != "" {
			parsed, err := uuid.Parse(s.ID)
			if err != nil {
				return nil, fmt.Errorf("LoadScenario: spacecraft %q: %w", s.Name, err)
			}
			id = parsed
		}
		sc := model.Spacecraft{
			ID:   id,
			Name: s.Name,
			Propulsion: model.Propulsion{
				DryMass:         s.Propulsion.DryMass,
				Thrust:          s.Propulsion.Thrust,
				SpecificImpulse: s.Propulsion.SpecificImpulse,
				PropellantCap:   s.Propulsion.PropellantCap,
			},
			CargoMass:      s.Cargo,
			PropellantMass: s.Propellant,
			Docked:         s.Docked,
		}
		if err := kb.AddSpacecraft(sc); err != nil {
			return nil, fmt.Errorf("LoadScenario: %w", err)
		}
		result.Spacecraft = append(result.Spacecraft, id)

		if s.Orbit == nil {
			continue
		}
		body, err := kb.Body(s.Orbit.Body)
		if err != nil {
			return nil, fmt.Errorf("LoadScenario: spacecraft %q: %w", s.Name, err)
		}
		orbit := core.NewOrbit(core.NewCircularGeometry(body, s.Orbit.Altitude, s.Orbit.Phase), 0)
		if err := orbit.Validate(); err != nil {
			return nil, fmt.Errorf("LoadScenario: spacecraft %q: %w", s.Name, err)
		}
		result.Placements = append(result.Placements, Placement{Spacecraft: id, Orbit: orbit})
	}

	return result, nil
}
