package replication

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/orbital-simulator/core"
	"github.com/signalsfoundry/orbital-simulator/internal/logging"
	"github.com/signalsfoundry/orbital-simulator/internal/observability"
	sim "github.com/signalsfoundry/orbital-simulator/internal/sim/state"
	"github.com/signalsfoundry/orbital-simulator/timectrl"
)

// Replica keeps a non-authoritative OrbitalState in step with a remote
// authority. Deltas are applied under the state's write lock, which rebuilds
// the lookup caches once the batch has landed.
type Replica struct {
	client *Client
	state  *sim.OrbitalState
	bodies BodyResolver
	log    logging.Logger
}

// NewReplica binds a replica state to a replication connection.
func NewReplica(cc grpc.ClientConnInterface, state *sim.OrbitalState, bodies BodyResolver, log logging.Logger) (*Replica, error) {
	if cc == nil || state == nil || bodies == nil {
		return nil, errors.New("replication: connection, state and body resolver are required")
	}
	if state.IsAuthority() {
		return nil, errors.New("replication: the authoritative state cannot follow another server")
	}
	if log == nil {
		log = logging.Noop()
	}
	return &Replica{client: NewClient(cc), state: state, bodies: bodies, log: log}, nil
}

// Sync pulls the deltas recorded since the last sync, falling back to a full
// snapshot when the server's journal no longer covers the gap. The replica
// clock then moves to the authority's time and one tick runs; its events are
// returned.
func (r *Replica) Sync(ctx context.Context) (events sim.Events, err error) {
	ctx, span := observability.Tracer().Start(ctx, "Replica.Sync")
	defer func() { observability.EndSpan(span, err) }()

	from := r.Versions()
	resp, err := r.client.Pull(ctx, from)
	if status.Code(err) == codes.OutOfRange {
		r.log.Info(ctx, "replica behind the delta journal, requesting snapshot",
			logging.Int("orbit_version", int(from.Orbits)),
			logging.Int("trajectory_version", int(from.Trajectories)),
		)
		span.SetAttributes(attribute.Bool("orbital.snapshot", true))
		return r.resync(ctx)
	}
	if err != nil {
		return sim.Events{}, fmt.Errorf("pull: %w", err)
	}

	update, err := DecodeUpdate(r.bodies, resp)
	if err != nil {
		return sim.Events{}, err
	}
	err = r.state.WithWriteLock(func(orbits *core.OrbitDatabase, trajectories *core.TrajectoryDatabase) error {
		if err := orbits.Apply(update.OrbitDeltas); err != nil {
			return fmt.Errorf("%s: %w", DatabaseOrbits, err)
		}
		if err := trajectories.Apply(update.TrajectoryDeltas); err != nil {
			return fmt.Errorf("%s: %w", DatabaseTrajectories, err)
		}
		return nil
	})
	if err != nil {
		r.log.Warn(ctx, "delta apply failed, requesting snapshot", logging.Err(err))
		return r.resync(ctx)
	}
	span.SetAttributes(attribute.Int("orbital.deltas", len(update.OrbitDeltas)+len(update.TrajectoryDeltas)))
	return r.follow(update.Time), nil
}

// Versions returns the journal positions the replica has applied.
func (r *Replica) Versions() Versions {
	var v Versions
	_ = r.state.WithReadLock(func(orbits *core.OrbitDatabase, trajectories *core.TrajectoryDatabase) error {
		v = Versions{Orbits: orbits.Version(), Trajectories: trajectories.Version()}
		return nil
	})
	return v
}

// Run calls Sync every interval until ctx is cancelled. Failed syncs are
// logged and retried on the next interval. onEvents, if set, receives the
// events of every successful sync.
func (r *Replica) Run(ctx context.Context, interval time.Duration, onEvents func(sim.Events)) error {
	if interval <= 0 {
		return fmt.Errorf("replication: sync interval must be positive, got %v", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		events, err := r.Sync(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			r.log.Warn(ctx, "replica sync failed", logging.Err(err))
		case err == nil && onEvents != nil && !events.Empty():
			onEvents(events)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Replica) resync(ctx context.Context) (sim.Events, error) {
	resp, err := r.client.Snapshot(ctx)
	if err != nil {
		return sim.Events{}, fmt.Errorf("snapshot: %w", err)
	}
	update, err := DecodeUpdate(r.bodies, resp)
	if err != nil {
		return sim.Events{}, err
	}
	if !update.Snapshot {
		return sim.Events{}, fmt.Errorf("%w: snapshot response is not marked as such", ErrMalformed)
	}
	_ = r.state.WithWriteLock(func(orbits *core.OrbitDatabase, trajectories *core.TrajectoryDatabase) error {
		orbits.Reset(update.Versions.Orbits, update.OrbitEntries)
		trajectories.Reset(update.Versions.Trajectories, update.TrajectoryEntries)
		return nil
	})
	r.log.Info(ctx, "replica restored from snapshot",
		logging.Int("orbits", len(update.OrbitEntries)),
		logging.Int("trajectories", len(update.TrajectoryEntries)),
	)
	return r.follow(update.Time), nil
}

// follow moves the replica clock up to the authority's time, never back,
// and runs a tick there.
func (r *Replica) follow(authority timectrl.Time) sim.Events {
	if authority > r.state.Now() {
		r.state.Clock().SetTime(authority)
	}
	return r.state.Advance(0)
}
