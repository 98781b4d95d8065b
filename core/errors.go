package core

import "errors"

var (
	// ErrInvalidGeometry indicates an orbit geometry failed validation.
	ErrInvalidGeometry = errors.New("invalid orbit geometry")
	// ErrInvalidOrbit indicates an orbit failed validation.
	ErrInvalidOrbit = errors.New("invalid orbit")
	// ErrInvalidTrajectory indicates a trajectory is missing legs or maneuvers or holds invalid ones.
	ErrInvalidTrajectory = errors.New("invalid trajectory")
	// ErrZeroDeltaV indicates a maneuver was requested with no velocity change.
	ErrZeroDeltaV = errors.New("maneuver delta-v is zero")
	// ErrEmptyFleet indicates an operation was given no spacecraft identifiers.
	ErrEmptyFleet = errors.New("no spacecraft identifiers")
	// ErrDuplicateSpacecraft indicates an identifier appears twice in one fleet.
	ErrDuplicateSpacecraft = errors.New("duplicate spacecraft identifier")
	// ErrBodyMismatch indicates two orbits do not share a reference body.
	ErrBodyMismatch = errors.New("orbits reference different bodies")
	// ErrDestinationNotCircular indicates a transfer target is not a circular orbit.
	ErrDestinationNotCircular = errors.New("destination orbit is not circular")
	// ErrUnboundedPhasing indicates no finite phasing wait aligns the fleet with its destination.
	ErrUnboundedPhasing = errors.New("phasing duration is unbounded")
	// ErrInvalidPropulsion indicates propulsion metrics cannot produce a finite burn.
	ErrInvalidPropulsion = errors.New("invalid propulsion metrics")
	// ErrUnknownSpacecraft indicates a provider has no data for a spacecraft.
	ErrUnknownSpacecraft = errors.New("unknown spacecraft")
	// ErrStaticEntityExists indicates a static entity is already tracked.
	ErrStaticEntityExists = errors.New("static entity already tracked")
	// ErrInvalidTLE indicates a two-line element set could not be resolved to an orbit.
	ErrInvalidTLE = errors.New("invalid two-line element set")
)
