package model

import (
	"fmt"

	"github.com/google/uuid"
)

// BehaviorState is the current step of the external behavior script driving a
// spacecraft. The orbital core only stores and replicates it.
type BehaviorState int

const (
	BehaviorIdle BehaviorState = iota
	BehaviorTravelling
	BehaviorDocked
	BehaviorMining
	BehaviorTrading
)

func (s BehaviorState) String() string {
	switch s {
	case BehaviorIdle:
		return "idle"
	case BehaviorTravelling:
		return "travelling"
	case BehaviorDocked:
		return "docked"
	case BehaviorMining:
		return "mining"
	case BehaviorTrading:
		return "trading"
	default:
		return "unknown"
	}
}

// Propulsion captures the engine metrics of a spacecraft.
type Propulsion struct {
	DryMass         float64 // tonnes
	Thrust          float64 // kN
	SpecificImpulse float64 // seconds
	PropellantCap   float64 // tonnes
}

// Spacecraft is the registry view of a ship that the orbital core needs:
// propulsion, current masses and docking status.
type Spacecraft struct {
	ID         uuid.UUID
	Name       string
	Propulsion Propulsion

	CargoMass      float64 // tonnes
	PropellantMass float64 // tonnes

	Docked bool
}

// ParseBehaviorState is the inverse of BehaviorState.String.
func ParseBehaviorState(s string) (BehaviorState, error) {
	for state := BehaviorIdle; state <= BehaviorTrading; state++ {
		if state.String() == s {
			return state, nil
		}
	}
	return BehaviorIdle, fmt.Errorf("unknown behavior state %q", s)
}
