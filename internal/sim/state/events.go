package state

import (
	"github.com/google/uuid"

	"github.com/signalsfoundry/orbital-simulator/core"
	"github.com/signalsfoundry/orbital-simulator/timectrl"
)

// FleetEvent is a lifecycle transition of one fleet. Orbit is the orbit the
// fleet rests on afterwards, when there is one.
type FleetEvent struct {
	Spacecraft []uuid.UUID
	Time       timectrl.Time
	Orbit      *core.Orbit
}

// AreaChange reports that the nearest area of a parked spacecraft changed.
// An empty area means none is within range.
type AreaChange struct {
	Spacecraft uuid.UUID
	From       string
	To         string
	Distance   float64
}

// Events is what happened since the previous drain: ticks and commands both
// append to it.
type Events struct {
	Committed   []FleetEvent
	Arrivals    []FleetEvent
	Completed   []FleetEvent
	Aborted     []FleetEvent
	AreaChanges []AreaChange
	// Collected lists spacecraft whose orbit entry was garbage collected.
	Collected []uuid.UUID
}

// Empty reports whether no event was recorded.
func (e Events) Empty() bool {
	return len(e.Committed) == 0 && len(e.Arrivals) == 0 && len(e.Completed) == 0 &&
		len(e.Aborted) == 0 && len(e.AreaChanges) == 0 && len(e.Collected) == 0
}

// Merge appends other to e.
func (e *Events) Merge(other Events) {
	e.Committed = append(e.Committed, other.Committed...)
	e.Arrivals = append(e.Arrivals, other.Arrivals...)
	e.Completed = append(e.Completed, other.Completed...)
	e.Aborted = append(e.Aborted, other.Aborted...)
	e.AreaChanges = append(e.AreaChanges, other.AreaChanges...)
	e.Collected = append(e.Collected, other.Collected...)
}

// DrainEvents returns and clears the events recorded so far. Loops driving
// the clock directly (TimeController.Start) call it to consume events.
func (s *OrbitalState) DrainEvents() Events {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.drainLocked()
}

func (s *OrbitalState) drainLocked() Events {
	out := s.pending
	s.pending = Events{}
	return out
}
