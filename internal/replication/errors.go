package replication

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/orbital-simulator/core"
	sim "github.com/signalsfoundry/orbital-simulator/internal/sim/state"
)

var (
	// ErrJournalTruncated is returned when a replica is further behind than
	// the delta journal reaches.
	ErrJournalTruncated = errors.New("delta journal truncated")
	// ErrVersionAhead is returned when a replica reports a version the server
	// never produced, typically after a server restart.
	ErrVersionAhead = errors.New("replica version ahead of server")
)

// ToStatusError maps replication and simulation errors onto gRPC status
// codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrJournalTruncated),
		errors.Is(err, ErrVersionAhead):
		return status.Error(codes.OutOfRange, err.Error())

	case errors.Is(err, ErrMalformed),
		errors.Is(err, core.ErrInvalidOrbit),
		errors.Is(err, core.ErrInvalidTrajectory),
		errors.Is(err, core.ErrEmptyFleet):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, sim.ErrNoOrbit),
		errors.Is(err, sim.ErrNoTrajectory),
		errors.Is(err, core.ErrUnknownSpacecraft):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, sim.ErrNotAuthority),
		errors.Is(err, sim.ErrInconsistentFleet),
		errors.Is(err, sim.ErrCommitRejected):
		return status.Error(codes.FailedPrecondition, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
