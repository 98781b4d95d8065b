package replication

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/orbital-simulator/core"
	"github.com/signalsfoundry/orbital-simulator/internal/logging"
	"github.com/signalsfoundry/orbital-simulator/internal/observability"
	sim "github.com/signalsfoundry/orbital-simulator/internal/sim/state"
)

const (
	ServiceName = "orbital.replication.v1.ReplicationService"

	PullMethod     = "/" + ServiceName + "/Pull"
	SnapshotMethod = "/" + ServiceName + "/Snapshot"
)

// ReplicationServer is the server API of the replication service.
type ReplicationServer interface {
	Pull(context.Context, *structpb.Struct) (*structpb.Struct, error)
	Snapshot(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the replication service for grpc.ServiceRegistrar.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ReplicationServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Pull", Handler: pullHandler},
		{MethodName: "Snapshot", Handler: snapshotHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "orbital/replication/v1/replication.proto",
}

// RegisterReplicationServer attaches srv to s.
func RegisterReplicationServer(s grpc.ServiceRegistrar, srv ReplicationServer) {
	s.RegisterService(&ServiceDesc, srv)
}

func pullHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReplicationServer).Pull(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: PullMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ReplicationServer).Pull(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func snapshotHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ReplicationServer).Snapshot(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: SnapshotMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(ReplicationServer).Snapshot(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// Service serves the orbit and trajectory databases of an OrbitalState to
// replicas.
type Service struct {
	state   *sim.OrbitalState
	metrics *observability.ReplicationCollector
	log     logging.Logger
}

// NewService binds a replication service to state. metrics may be nil.
func NewService(state *sim.OrbitalState, metrics *observability.ReplicationCollector, log logging.Logger) *Service {
	if log == nil {
		log = logging.Noop()
	}
	return &Service{state: state, metrics: metrics, log: log}
}

// Pull returns the deltas recorded after the versions in the request. It
// fails with OutOfRange when either journal no longer reaches back that far,
// or when the replica claims a version the server never produced; the
// replica then asks for a Snapshot.
func (s *Service) Pull(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	from, err := ParsePullRequest(req)
	if err != nil {
		return nil, ToStatusError(err)
	}

	var resp *structpb.Struct
	var served [2]int
	err = s.state.WithReadLock(func(orbits *core.OrbitDatabase, trajectories *core.TrajectoryDatabase) error {
		od, err := deltasSince(DatabaseOrbits, orbits, from.Orbits)
		if err != nil {
			return err
		}
		td, err := deltasSince(DatabaseTrajectories, trajectories, from.Trajectories)
		if err != nil {
			return err
		}
		now := s.state.Clock().Now()
		resp = encodePull(now, Versions{Orbits: orbits.Version(), Trajectories: trajectories.Version()}, od, td)
		served = [2]int{len(od), len(td)}
		return nil
	})
	if err != nil {
		logging.FromContext(ctx, s.log).Debug(ctx, "pull refused", logging.Err(err))
		return nil, ToStatusError(err)
	}

	s.metrics.AddDeltasServed(DatabaseOrbits, served[0])
	s.metrics.AddDeltasServed(DatabaseTrajectories, served[1])
	return resp, nil
}

// Snapshot returns every entry of both databases with their versions.
func (s *Service) Snapshot(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}

	var resp *structpb.Struct
	var size int
	_ = s.state.WithReadLock(func(orbits *core.OrbitDatabase, trajectories *core.TrajectoryDatabase) error {
		now := s.state.Clock().Now()
		resp = encodeSnapshot(now, Versions{Orbits: orbits.Version(), Trajectories: trajectories.Version()}, orbits.Entries(), trajectories.Entries())
		size = orbits.Len() + trajectories.Len()
		return nil
	})

	s.metrics.IncSnapshots()
	logging.FromContext(ctx, s.log).Info(ctx, "snapshot served", logging.Int("entries", size))
	return resp, nil
}

func (s *Service) ensureReady() error {
	if s == nil || s.state == nil {
		return status.Error(codes.Unavailable, "replication service is not bound to a simulation")
	}
	return nil
}

func deltasSince[T any](name string, db *core.Database[T], version uint64) ([]core.Delta[T], error) {
	if version > db.Version() {
		return nil, fmt.Errorf("%w: %s replica at version %d, server at %d", ErrVersionAhead, name, version, db.Version())
	}
	deltas, ok := db.DeltasSince(version)
	if !ok {
		return nil, fmt.Errorf("%w: %s journal does not reach version %d", ErrJournalTruncated, name, version)
	}
	return deltas, nil
}

// Client calls the replication service over conn.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps an established connection.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

// Pull asks for the deltas after v.
func (c *Client) Pull(ctx context.Context, v Versions, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, PullMethod, NewPullRequest(v), out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Snapshot asks for the full content of both databases.
func (c *Client) Snapshot(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, SnapshotMethod, &structpb.Struct{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

var _ ReplicationServer = (*Service)(nil)
