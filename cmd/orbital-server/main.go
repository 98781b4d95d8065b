package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/signalsfoundry/orbital-simulator/core"
	"github.com/signalsfoundry/orbital-simulator/internal/logging"
	"github.com/signalsfoundry/orbital-simulator/internal/observability"
	"github.com/signalsfoundry/orbital-simulator/internal/replication"
	sim "github.com/signalsfoundry/orbital-simulator/internal/sim/state"
	"github.com/signalsfoundry/orbital-simulator/kb"
	"github.com/signalsfoundry/orbital-simulator/timectrl"
)

// Config holds the server settings parsed from flags.
type Config struct {
	ListenAddress  string
	MetricsAddress string
	EnableTLS      bool
	TLSCertPath    string
	TLSKeyPath     string
	LogLevel       string
	LogFormat      string

	ScenarioPath  string
	RestorePath   string
	SavePath      string
	TickInterval  time.Duration
	Accelerated   bool
	Dilation      float64
	AreaProximity float64
	GCDelay       timectrl.Time
	JournalSize   int

	// FollowAddress turns the server into a replica of another server.
	FollowAddress string
	SyncInterval  time.Duration
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	shutdown, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "tracing init failed", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

	lis, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.ListenAddress), logging.Err(err))
		os.Exit(1)
	}

	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "orbital server failed", logging.Err(err))
		os.Exit(1)
	}
}

func parseFlags(args []string) (Config, error) {
	fs := flag.NewFlagSet("orbital-server", flag.ContinueOnError)

	cfg := Config{}
	fs.StringVar(&cfg.ListenAddress, "grpc-addr", ":50051", "TCP address the replication gRPC server listens on")
	fs.StringVar(&cfg.MetricsAddress, "metrics-addr", ":9090", "HTTP address for Prometheus /metrics (empty disables)")
	fs.BoolVar(&cfg.EnableTLS, "tls", false, "serve gRPC over TLS")
	fs.StringVar(&cfg.TLSCertPath, "tls-cert", "", "TLS certificate path")
	fs.StringVar(&cfg.TLSKeyPath, "tls-key", "", "TLS private key path")
	fs.StringVar(&cfg.LogLevel, "log-level", envOr("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", envOr("LOG_FORMAT", "text"), "log format (text or json)")
	fs.StringVar(&cfg.ScenarioPath, "scenario", "configs/scenario.yaml", "path to the YAML scenario")
	fs.StringVar(&cfg.RestorePath, "restore", "", "restore spacecraft records from this save file")
	fs.StringVar(&cfg.SavePath, "save", "", "write spacecraft records to this file on shutdown")
	fs.DurationVar(&cfg.TickInterval, "tick", time.Second, "simulation tick interval")
	fs.BoolVar(&cfg.Accelerated, "accelerated", false, "run in accelerated mode (vs real-time)")
	fs.Float64Var(&cfg.Dilation, "dilation", 1, "simulated minutes per wall-clock minute")
	fs.Float64Var(&cfg.AreaProximity, "area-proximity", 50, "distance in km under which a parked spacecraft is at an area")
	gcDelay := fs.Float64("gc-delay", float64(sim.DefaultGarbageCollectionDelay), "minutes after the first burn before a fleet's orbit is dropped")
	fs.IntVar(&cfg.JournalSize, "journal-size", core.DefaultJournalSize, "deltas kept per database for replicas")
	fs.StringVar(&cfg.FollowAddress, "follow", "", "address of an authoritative server to replicate")
	fs.DurationVar(&cfg.SyncInterval, "sync-interval", time.Second, "replica sync interval")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}
	cfg.GCDelay = timectrl.Minutes(*gcDelay)

	switch {
	case cfg.TickInterval <= 0:
		return Config{}, errors.New("tick must be positive")
	case cfg.SyncInterval <= 0:
		return Config{}, errors.New("sync interval must be positive")
	case cfg.JournalSize <= 0:
		return Config{}, errors.New("journal size must be positive")
	case cfg.EnableTLS && (cfg.TLSCertPath == "" || cfg.TLSKeyPath == ""):
		return Config{}, errors.New("tls requires -tls-cert and -tls-key")
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// run serves until ctx is cancelled. An authoritative server drives its own
// clock and serves replication; a follower pulls from FollowAddress instead.
func run(ctx context.Context, cfg Config, log logging.Logger, lis net.Listener) error {
	if lis == nil {
		return errors.New("listener is nil")
	}
	authority := cfg.FollowAddress == ""

	registry := prometheus.NewRegistry()
	simMetrics, err := observability.NewSimulationCollector(registry)
	if err != nil {
		return fmt.Errorf("simulation metrics: %w", err)
	}
	rpcMetrics, err := observability.NewReplicationCollector(registry)
	if err != nil {
		return fmt.Errorf("replication metrics: %w", err)
	}

	store := kb.NewKnowledgeBase()
	scenario, err := kb.LoadScenarioFile(store, cfg.ScenarioPath)
	if err != nil {
		return err
	}

	mode := timectrl.RealTime
	if cfg.Accelerated {
		mode = timectrl.Accelerated
	}
	tc := timectrl.NewTimeController(0, cfg.TickInterval, mode)
	tc.SetDilation(cfg.Dilation)

	state, err := sim.NewOrbitalState(store, tc, log,
		sim.WithAuthority(authority),
		sim.WithMetricsRecorder(simMetrics),
		sim.WithTracer(observability.Tracer()),
		sim.WithAreaProximity(cfg.AreaProximity),
		sim.WithGarbageCollectionDelay(cfg.GCDelay),
		sim.WithDatabases(
			core.NewOrbitDatabase(core.WithJournalSize[core.Orbit](cfg.JournalSize)),
			core.NewTrajectoryDatabase(core.WithJournalSize[*core.Trajectory](cfg.JournalSize)),
		),
	)
	if err != nil {
		return err
	}
	if authority {
		if err := restoreState(ctx, cfg, state, scenario, log); err != nil {
			return err
		}
	}

	serverOpts := []grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(
			replication.RequestIDUnaryServerInterceptor(log),
			rpcMetrics.UnaryServerInterceptor(),
		),
	}
	if cfg.EnableTLS {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCertPath, cfg.TLSKeyPath)
		if err != nil {
			return fmt.Errorf("load TLS credentials: %w", err)
		}
		serverOpts = append(serverOpts, grpc.Creds(creds))
	}
	server := grpc.NewServer(serverOpts...)

	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(server, healthSrv)
	if authority {
		replication.RegisterReplicationServer(server, replication.NewService(state, rpcMetrics, log))
		healthSrv.SetServingStatus(replication.ServiceName, healthpb.HealthCheckResponse_SERVING)
	}

	metricsSrv := serveMetrics(cfg.MetricsAddress, simMetrics, log)

	serveErr := make(chan error, 1)
	log.Info(ctx, "starting orbital gRPC server",
		logging.String("addr", lis.Addr().String()),
		logging.Bool("authority", authority),
	)
	go func() {
		serveErr <- server.Serve(lis)
	}()

	loopCtx, cancelLoop := context.WithCancel(ctx)
	loopDone := make(chan error, 1)
	if authority {
		go func() {
			runSimLoop(loopCtx, tc, state, log)
			loopDone <- nil
		}()
	} else {
		go func() {
			loopDone <- runReplica(loopCtx, cfg, state, store, log)
		}()
	}

	var runErr error
	loopRunning := true
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			runErr = fmt.Errorf("grpc serve: %w", err)
		}
	case err := <-loopDone:
		loopRunning = false
		if err != nil && !errors.Is(err, context.Canceled) {
			runErr = err
		}
	}

	log.Info(context.Background(), "shutting down orbital server")
	healthSrv.Shutdown()
	cancelLoop()
	if loopRunning {
		<-loopDone
	}
	server.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}

	if runErr == nil && authority && cfg.SavePath != "" {
		runErr = saveState(cfg.SavePath, state)
	}
	return runErr
}

// restoreState places the scenario spacecraft, then overlays a save file if
// one was given.
func restoreState(ctx context.Context, cfg Config, state *sim.OrbitalState, scenario *kb.Scenario, log logging.Logger) error {
	if err := state.PlaceSpacecraft(ctx, scenario.Placements); err != nil {
		return err
	}
	if cfg.RestorePath == "" {
		return nil
	}
	f, err := os.Open(cfg.RestorePath)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := state.ReadSave(f); err != nil {
		return fmt.Errorf("restore %s: %w", cfg.RestorePath, err)
	}
	log.Info(ctx, "restored spacecraft records", logging.String("path", cfg.RestorePath))
	return nil
}

func saveState(path string, state *sim.OrbitalState) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := state.WriteSave(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// runSimLoop drives the authoritative clock and logs the events of every
// tick until ctx is cancelled.
func runSimLoop(ctx context.Context, tc *timectrl.TimeController, state *sim.OrbitalState, log logging.Logger) {
	tc.AddListener(func(timectrl.Time) {
		logEvents(ctx, log, state.DrainEvents())
	})
	<-tc.Start(0, ctx.Done())
}

func runReplica(ctx context.Context, cfg Config, state *sim.OrbitalState, bodies replication.BodyResolver, log logging.Logger) error {
	creds := insecure.NewCredentials()
	if cfg.EnableTLS {
		creds = credentials.NewClientTLSFromCert(nil, "")
	}
	conn, err := grpc.NewClient(cfg.FollowAddress,
		grpc.WithTransportCredentials(creds),
		grpc.WithStatsHandler(otelgrpc.NewClientHandler()),
		grpc.WithUnaryInterceptor(replication.RequestIDUnaryClientInterceptor()),
	)
	if err != nil {
		return fmt.Errorf("dial %s: %w", cfg.FollowAddress, err)
	}
	defer conn.Close()

	replica, err := replication.NewReplica(conn, state, bodies, log)
	if err != nil {
		return err
	}
	log.Info(ctx, "following authoritative server", logging.String("addr", cfg.FollowAddress))
	return replica.Run(ctx, cfg.SyncInterval, func(events sim.Events) {
		logEvents(ctx, log, events)
	})
}

func logEvents(ctx context.Context, log logging.Logger, events sim.Events) {
	for _, e := range events.Committed {
		log.Info(ctx, "trajectory committed", logging.Spacecraft(e.Spacecraft), logging.Float64("time_min", e.Time.Minutes()))
	}
	for _, e := range events.Arrivals {
		log.Info(ctx, "fleet arrived", logging.Spacecraft(e.Spacecraft), logging.Float64("time_min", e.Time.Minutes()))
	}
	for _, e := range events.Completed {
		log.Info(ctx, "trajectory completed", logging.Spacecraft(e.Spacecraft), logging.Float64("time_min", e.Time.Minutes()))
	}
	for _, e := range events.Aborted {
		log.Info(ctx, "trajectory aborted", logging.Spacecraft(e.Spacecraft), logging.Float64("time_min", e.Time.Minutes()))
	}
	for _, c := range events.AreaChanges {
		log.Debug(ctx, "nearest area changed",
			logging.String("spacecraft", c.Spacecraft.String()),
			logging.String("from", c.From),
			logging.String("to", c.To),
		)
	}
}

func serveMetrics(addr string, collector *observability.SimulationCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
