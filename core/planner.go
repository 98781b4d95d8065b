package core

import (
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"

	"github.com/signalsfoundry/orbital-simulator/model"
	"github.com/signalsfoundry/orbital-simulator/timectrl"
)

// phaseEpsilon is the angular tolerance, in degrees, under which two phases
// are considered aligned.
const phaseEpsilon = 1e-9

// TrajectoryParameters fully describe a transfer request. They are produced
// by PrepareTrajectory and consumed by ComputeTrajectory.
type TrajectoryParameters struct {
	StartTime              timectrl.Time
	Source                 Orbit
	DestinationPhase       float64 // destination phase at StartTime, degrees
	DestinationAltitude    float64 // kilometres
	Body                   model.CelestialBody
	GravitationalParameter float64 // m³/s²
	Spacecraft             []uuid.UUID
}

// PrepareTrajectory builds the parameters to move a fleet from source to a
// circular destination, departing startDelay after now.
func PrepareTrajectory(now timectrl.Time, source, destination Orbit, startDelay timectrl.Time, spacecraft []uuid.UUID) (TrajectoryParameters, error) {
	if len(spacecraft) == 0 {
		return TrajectoryParameters{}, ErrEmptyFleet
	}
	if err := source.Validate(); err != nil {
		return TrajectoryParameters{}, err
	}
	if err := destination.Validate(); err != nil {
		return TrajectoryParameters{}, err
	}
	if !destination.Geometry.IsCircular() {
		return TrajectoryParameters{}, ErrDestinationNotCircular
	}
	if !source.Geometry.Body.Same(destination.Geometry.Body) {
		return TrajectoryParameters{}, fmt.Errorf("%w: %q and %q", ErrBodyMismatch, source.Geometry.Body.ID, destination.Geometry.Body.ID)
	}

	start := now + startDelay
	body := destination.Geometry.Body
	return TrajectoryParameters{
		StartTime:              start,
		Source:                 source,
		DestinationPhase:       destination.PhaseAt(start, true),
		DestinationAltitude:    destination.Geometry.StartAltitude,
		Body:                   body,
		GravitationalParameter: body.GravitationalParameter(),
		Spacecraft:             append([]uuid.UUID(nil), spacecraft...),
	}, nil
}

// Validate checks the parameters' preconditions.
func (p TrajectoryParameters) Validate() error {
	switch {
	case len(p.Spacecraft) == 0:
		return ErrEmptyFleet
	case !p.Body.IsValid():
		return fmt.Errorf("%w: reference body %q", ErrInvalidGeometry, p.Body.ID)
	case !p.Source.Geometry.Body.Same(p.Body):
		return fmt.Errorf("%w: source orbits %q, destination %q", ErrBodyMismatch, p.Source.Geometry.Body.ID, p.Body.ID)
	case p.DestinationAltitude <= 0:
		return fmt.Errorf("%w: destination altitude %.3f km", ErrInvalidGeometry, p.DestinationAltitude)
	case p.GravitationalParameter <= 0:
		return fmt.Errorf("%w: gravitational parameter %v", ErrInvalidGeometry, p.GravitationalParameter)
	}
	return p.Source.Validate()
}

// hohmannTransfer is a half-ellipse transfer between two circular radii.
type hohmannTransfer struct {
	StartDeltaV float64 // m/s, signed
	EndDeltaV   float64 // m/s, signed
	Duration    timectrl.Time
}

// computeHohmannTransfer applies vis-viva to the transfer ellipse tangent to
// both circles. Radii are kilometres from the body's centre.
func computeHohmannTransfer(mu, sourceRadius, destinationRadius float64) hohmannTransfer {
	semiMajor := 0.5 * (sourceRadius + destinationRadius)

	departure := VisVivaSpeed(mu, sourceRadius, semiMajor)
	arrival := VisVivaSpeed(mu, destinationRadius, semiMajor)

	return hohmannTransfer{
		StartDeltaV: departure - CircularSpeed(mu, sourceRadius),
		EndDeltaV:   CircularSpeed(mu, destinationRadius) - arrival,
		Duration:    OrbitalPeriod(mu, semiMajor) / 2,
	}
}

// plannedBurn is an idealised instantaneous burn before fleet expansion.
type plannedBurn struct {
	deltaV float64
	phase  float64
	at     timectrl.Time
}

// TrajectoryPlanner computes transfers for fleets. It holds no state of its
// own beyond the providers used to resolve spacecraft.
type TrajectoryPlanner struct {
	propulsion PropulsionProvider
	propellant PropellantProvider
}

// NewTrajectoryPlanner wires the planner to its spacecraft providers.
func NewTrajectoryPlanner(propulsion PropulsionProvider, propellant PropellantProvider) *TrajectoryPlanner {
	return &TrajectoryPlanner{propulsion: propulsion, propellant: propellant}
}

// ComputeTrajectory builds the transfer through a circular phasing orbit at
// phasingAltitude: optional wait to an apsis of an elliptical source, transfer
// to the phasing altitude, phasing coast, transfer to the destination. Zero
// delta-v burns and zero-span legs are left out.
func (p *TrajectoryPlanner) ComputeTrajectory(params TrajectoryParameters, phasingAltitude float64) (*Trajectory, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if phasingAltitude <= 0 {
		return nil, fmt.Errorf("%w: phasing altitude %.3f km", ErrInvalidGeometry, phasingAltitude)
	}

	fleet, err := NewFleetFromProviders(params.Spacecraft, p.propulsion, p.propellant)
	if err != nil {
		return nil, err
	}

	body := params.Body
	mu := params.GravitationalParameter
	source := params.Source.Geometry
	t0 := params.StartTime

	// Departure point: immediately for circular sources, otherwise at the
	// apsis closest to the phasing altitude.
	departureAltitude := source.StartAltitude
	departurePhase := params.Source.PhaseAt(t0, false)
	departureTime := t0
	speedBeforeDeparture := CircularSpeed(mu, body.RadiusAt(departureAltitude))
	if !source.IsCircular() {
		apsisPhase := source.StartPhase
		departureAltitude = source.StartAltitude
		if math.Abs(source.OppositeAltitude-phasingAltitude) < math.Abs(source.StartAltitude-phasingAltitude) {
			apsisPhase += 180
			departureAltitude = source.OppositeAltitude
		}
		coast := NormalizeDegrees(apsisPhase - departurePhase)
		departureTime = t0 + source.Period()*timectrl.Time(coast/360)
		departurePhase += coast
		speedBeforeDeparture = VisVivaSpeed(mu, body.RadiusAt(departureAltitude), source.SemiMajorAxis())
	}

	var (
		legs  []Orbit
		burns []plannedBurn
	)
	cursorPhase := departurePhase
	cursorTime := departureTime

	sourceRadius := body.RadiusAt(departureAltitude)
	phasingRadius := body.RadiusAt(phasingAltitude)
	destinationRadius := body.RadiusAt(params.DestinationAltitude)
	circularization := CircularSpeed(mu, sourceRadius) - speedBeforeDeparture

	// Leg A: source to phasing altitude.
	switch {
	case departureAltitude != phasingAltitude:
		transfer := computeHohmannTransfer(mu, sourceRadius, phasingRadius)
		leg := NewOrbit(NewTransferGeometry(body, departureAltitude, phasingAltitude, cursorPhase), cursorTime)
		legs = append(legs, leg)
		burns = append(burns,
			plannedBurn{deltaV: transfer.StartDeltaV + circularization, phase: cursorPhase, at: cursorTime},
			plannedBurn{deltaV: transfer.EndDeltaV, phase: cursorPhase + 180, at: leg.EndTime()},
		)
		cursorTime = leg.EndTime()
		cursorPhase += 180

	case circularization != 0:
		// Zero-span transfer: the elliptical source already touches the
		// phasing altitude, only circularise there.
		legs = append(legs, NewOrbit(NewCircularGeometry(body, phasingAltitude, cursorPhase), cursorTime))
		burns = append(burns, plannedBurn{deltaV: circularization, phase: cursorPhase, at: cursorTime})
	}

	// Leg B geometry does not depend on its phase, so its duration is known
	// before solving for the phasing wait.
	legBDuration := timectrl.Time(0)
	legBSpan := 0.0
	hasLegB := phasingAltitude != params.DestinationAltitude
	if hasLegB {
		legBDuration = NewTransferGeometry(body, phasingAltitude, params.DestinationAltitude, 0).ArcDuration()
		legBSpan = 180
	}

	phasingPeriod := OrbitalPeriod(mu, phasingRadius)
	destinationPeriod := OrbitalPeriod(mu, destinationRadius)
	wait, err := phasingWait(
		params.DestinationPhase+360*float64((cursorTime-t0+legBDuration)/destinationPeriod)-cursorPhase-legBSpan,
		phasingPeriod,
		destinationPeriod,
	)
	if err != nil {
		return nil, err
	}

	cursorTime += wait
	cursorPhase += 360 * float64(wait/phasingPeriod)

	// Leg B: phasing altitude to destination.
	if hasLegB {
		transfer := computeHohmannTransfer(mu, phasingRadius, destinationRadius)
		leg := NewOrbit(NewTransferGeometry(body, phasingAltitude, params.DestinationAltitude, cursorPhase), cursorTime)
		legs = append(legs, leg)
		burns = append(burns,
			plannedBurn{deltaV: transfer.StartDeltaV, phase: cursorPhase, at: cursorTime},
			plannedBurn{deltaV: transfer.EndDeltaV, phase: cursorPhase + 180, at: leg.EndTime()},
		)
	}

	trajectory := &Trajectory{
		InitialOrbit: params.Source,
		Transfers:    legs,
		Spacecraft:   append([]uuid.UUID(nil), params.Spacecraft...),
	}
	for _, burn := range burns {
		if burn.deltaV == 0 {
			continue
		}
		plan, err := fleet.AddManeuver(burn.deltaV)
		if err != nil {
			return nil, err
		}
		// Centre the finite burn on the idealised impulse.
		maneuver, err := NewManeuver(burn.deltaV, NormalizeDegrees(burn.phase), burn.at-plan.Duration/2, plan.Duration, plan.ThrustFactors, plan.PropellantUsed)
		if err != nil {
			return nil, err
		}
		trajectory.Maneuvers = append(trajectory.Maneuvers, maneuver)
		trajectory.TotalDeltaV += math.Abs(burn.deltaV)
	}

	if err := trajectory.Validate(); err != nil {
		return nil, err
	}
	trajectory.TotalTravelDuration = trajectory.ArrivalTime() - trajectory.FirstManeuverStartTime()
	return trajectory, nil
}

// phasingWait returns the non-negative coast on the phasing orbit after which
// the fleet has caught up offset degrees on the destination orbit.
func phasingWait(offset float64, phasingPeriod, destinationPeriod timectrl.Time) (timectrl.Time, error) {
	offset = NormalizeDegrees(offset)
	if offset < phaseEpsilon || 360-offset < phaseEpsilon {
		return 0, nil
	}

	// Degrees per minute gained on the destination while phasing.
	rate := 360/float64(phasingPeriod) - 360/float64(destinationPeriod)
	switch {
	case rate > 0:
		return timectrl.Time(offset / rate), nil
	case rate < 0:
		return timectrl.Time((offset - 360) / rate), nil
	default:
		return timectrl.Time(math.Inf(1)), ErrUnboundedPhasing
	}
}

// ComputeBestTrajectory evaluates every candidate phasing altitude and keeps
// the lowest delta-v trajectory, breaking ties on travel duration. A positive
// maxDuration discards slower candidates.
func (p *TrajectoryPlanner) ComputeBestTrajectory(params TrajectoryParameters, candidates []float64, maxDuration timectrl.Time) (*Trajectory, error) {
	var (
		best    *Trajectory
		lastErr error
	)
	for _, altitude := range candidates {
		trajectory, err := p.ComputeTrajectory(params, altitude)
		if err != nil {
			if !errors.Is(err, ErrUnboundedPhasing) && !errors.Is(err, ErrInvalidTrajectory) {
				return nil, err
			}
			lastErr = err
			continue
		}
		if maxDuration > 0 && trajectory.TotalTravelDuration > maxDuration {
			continue
		}
		if best == nil ||
			trajectory.TotalDeltaV < best.TotalDeltaV ||
			(trajectory.TotalDeltaV == best.TotalDeltaV && trajectory.TotalTravelDuration < best.TotalTravelDuration) {
			best = trajectory
		}
	}
	if best == nil {
		if lastErr == nil {
			lastErr = fmt.Errorf("%w: no candidate within %v minutes", ErrInvalidTrajectory, maxDuration)
		}
		return nil, lastErr
	}
	return best, nil
}
