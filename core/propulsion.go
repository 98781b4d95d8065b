package core

import (
	"math"

	"github.com/google/uuid"

	"github.com/signalsfoundry/orbital-simulator/model"
	"github.com/signalsfoundry/orbital-simulator/timectrl"
)

// StandardGravity is g0 in m/s², used to turn specific impulse into exhaust velocity.
const StandardGravity = 9.80665

// PropulsionModel computes how long a spacecraft burns and how much
// propellant it uses to change its velocity by deltaV.
type PropulsionModel interface {
	ManeuverDurationAndPropellant(deltaV, cargoMass, propellantMass float64) (timectrl.Time, float64)
}

// PropulsionProvider resolves the propulsion model and cargo mass of a spacecraft.
type PropulsionProvider interface {
	SpacecraftPropulsion(id uuid.UUID) (PropulsionModel, float64, error)
}

// PropellantProvider resolves the propellant currently aboard a spacecraft.
type PropellantProvider interface {
	PropellantMass(id uuid.UUID) (float64, error)
}

// DockingProvider reports whether a spacecraft is docked.
type DockingProvider interface {
	IsDocked(id uuid.UUID) bool
}

// PropulsionMetrics is a constant-thrust rocket: propellant use follows the
// rocket equation and the burn lasts as long as the engine needs to expel it.
type PropulsionMetrics struct {
	DryMass         float64 // tonnes
	Thrust          float64 // kN
	SpecificImpulse float64 // seconds
}

// NewPropulsionMetrics adapts registry propulsion data.
func NewPropulsionMetrics(p model.Propulsion) PropulsionMetrics {
	return PropulsionMetrics{
		DryMass:         p.DryMass,
		Thrust:          p.Thrust,
		SpecificImpulse: p.SpecificImpulse,
	}
}

// ExhaustVelocity returns Isp·g0 in m/s.
func (p PropulsionMetrics) ExhaustVelocity() float64 {
	return p.SpecificImpulse * StandardGravity
}

// MassFlow returns the propellant flow in tonnes per second.
func (p PropulsionMetrics) MassFlow() float64 {
	ve := p.ExhaustVelocity()
	if ve <= 0 {
		return 0
	}
	return p.Thrust / ve
}

// ManeuverDurationAndPropellant implements PropulsionModel. Masses are tonnes.
func (p PropulsionMetrics) ManeuverDurationAndPropellant(deltaV, cargoMass, propellantMass float64) (timectrl.Time, float64) {
	ve := p.ExhaustVelocity()
	flow := p.MassFlow()
	if ve <= 0 || flow <= 0 {
		return timectrl.Time(math.Inf(1)), math.Inf(1)
	}

	initial := p.DryMass + cargoMass + math.Max(propellantMass, 0)
	final := initial * math.Exp(-math.Abs(deltaV)/ve)
	used := initial - final

	seconds := used / flow
	return timectrl.Time(seconds / 60), used
}
