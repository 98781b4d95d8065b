package core

import (
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/signalsfoundry/orbital-simulator/timectrl"
)

// FleetMember is the mass state of one spacecraft during maneuver planning.
type FleetMember struct {
	ID             uuid.UUID
	Propulsion     PropulsionModel
	CargoMass      float64
	PropellantMass float64
}

// FleetManeuver is the outcome of planning one burn for a fleet.
type FleetManeuver struct {
	Duration       timectrl.Time
	ThrustFactors  []float64
	PropellantUsed []float64
}

// Fleet plans synchronised maneuvers. Every member burns for the same
// duration; faster ships are throttled down to match the slowest one.
// Propellant is consumed across successive AddManeuver calls.
type Fleet struct {
	members []FleetMember
}

// NewFleet builds a fleet from at least one member.
func NewFleet(members ...FleetMember) (*Fleet, error) {
	if len(members) == 0 {
		return nil, ErrEmptyFleet
	}
	seen := make(map[uuid.UUID]struct{}, len(members))
	for _, m := range members {
		if m.Propulsion == nil {
			return nil, fmt.Errorf("%w: spacecraft %s has no propulsion model", ErrInvalidPropulsion, m.ID)
		}
		if _, dup := seen[m.ID]; dup {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSpacecraft, m.ID)
		}
		seen[m.ID] = struct{}{}
	}
	return &Fleet{members: append([]FleetMember(nil), members...)}, nil
}

// NewFleetFromProviders resolves every spacecraft through the providers.
func NewFleetFromProviders(ids []uuid.UUID, propulsion PropulsionProvider, propellant PropellantProvider) (*Fleet, error) {
	if len(ids) == 0 {
		return nil, ErrEmptyFleet
	}
	members := make([]FleetMember, 0, len(ids))
	for _, id := range ids {
		engine, cargo, err := propulsion.SpacecraftPropulsion(id)
		if err != nil {
			return nil, err
		}
		mass, err := propellant.PropellantMass(id)
		if err != nil {
			return nil, err
		}
		members = append(members, FleetMember{
			ID:             id,
			Propulsion:     engine,
			CargoMass:      cargo,
			PropellantMass: mass,
		})
	}
	return NewFleet(members...)
}

// Len returns the fleet size.
func (f *Fleet) Len() int { return len(f.members) }

// Members returns a copy of the current member states.
func (f *Fleet) Members() []FleetMember {
	return append([]FleetMember(nil), f.members...)
}

// AddManeuver plans a burn of deltaV for every member and returns the fleet
// duration together with each member's thrust factor and propellant use.
// Every member whose burn is as long as the fleet's gets factor 1, so ships
// tied for slowest all burn at full thrust; when every burn takes no time,
// all factors are 1.
func (f *Fleet) AddManeuver(deltaV float64) (FleetManeuver, error) {
	if deltaV == 0 {
		return FleetManeuver{}, ErrZeroDeltaV
	}

	durations := make([]timectrl.Time, len(f.members))
	used := make([]float64, len(f.members))
	longest := timectrl.Time(0)
	for i, m := range f.members {
		d, p := m.Propulsion.ManeuverDurationAndPropellant(deltaV, m.CargoMass, m.PropellantMass)
		if !d.IsFinite() || d < 0 || math.IsNaN(p) || math.IsInf(p, 0) {
			return FleetManeuver{}, fmt.Errorf("%w: spacecraft %s cannot burn %.1f m/s", ErrInvalidPropulsion, m.ID, deltaV)
		}
		durations[i] = d
		used[i] = p
		if d > longest {
			longest = d
		}
	}

	factors := make([]float64, len(f.members))
	for i := range f.members {
		if longest > 0 {
			factors[i] = float64(durations[i] / longest)
		} else {
			factors[i] = 1
		}
		f.members[i].PropellantMass = math.Max(f.members[i].PropellantMass-used[i], 0)
	}

	return FleetManeuver{
		Duration:       longest,
		ThrustFactors:  factors,
		PropellantUsed: used,
	}, nil
}
