package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/signalsfoundry/orbital-simulator/core"
	"github.com/signalsfoundry/orbital-simulator/internal/logging"
	"github.com/signalsfoundry/orbital-simulator/internal/observability"
	sim "github.com/signalsfoundry/orbital-simulator/internal/sim/state"
	"github.com/signalsfoundry/orbital-simulator/kb"
	"github.com/signalsfoundry/orbital-simulator/model"
	"github.com/signalsfoundry/orbital-simulator/timectrl"
)

type config struct {
	ScenarioPath string
	Duration     time.Duration
	Tick         time.Duration
	Accelerated  bool
	Dilation     float64

	FastForward timectrl.Time // step in minutes; zero drives the clock with ticks
	MaxSteps    int
	Horizon     timectrl.Time // minutes after the arrival to keep simulating

	TargetBody     string
	TargetAltitude float64
	TargetPhase    float64
	StartDelay     timectrl.Time
	Candidates     []float64
	AreaProximity  float64

	SavePath string
}

func main() {
	cfg, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	log := logging.NewFromEnv()
	ctx := context.Background()

	shutdown, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
	if err != nil {
		log.Error(ctx, "tracing init failed", logging.Err(err))
		os.Exit(1)
	}
	defer observability.ShutdownWithTimeout(ctx, shutdown, log)

	if err := run(ctx, cfg, os.Stdout, log); err != nil {
		log.Error(ctx, "simulation failed", logging.Err(err))
		os.Exit(1)
	}
}

func parseFlags(args []string) (config, error) {
	fs := flag.NewFlagSet("simulator", flag.ContinueOnError)

	scenario := fs.String("scenario", "configs/scenario.yaml", "path to the YAML scenario")
	duration := fs.Duration("duration", 60*time.Second, "wall-clock duration when driving the clock with ticks")
	tick := fs.Duration("tick", time.Second, "tick interval")
	accelerated := fs.Bool("accelerated", true, "run in accelerated mode (vs real-time)")
	dilation := fs.Float64("dilation", 60, "simulated minutes per wall-clock minute")
	fastForward := fs.Float64("fast-forward", 0, "fast-forward step in simulated minutes (0 disables)")
	maxSteps := fs.Int("max-steps", 100, "fast-forward steps per frame")
	horizon := fs.Float64("horizon", 1, "minutes to keep simulating after arrival in fast-forward mode")
	targetBody := fs.String("target-body", "", "body of the destination orbit (defaults to the fleet's)")
	targetAltitude := fs.Float64("target-altitude", 800, "destination altitude in km")
	targetPhase := fs.Float64("target-phase", 180, "destination phase in degrees at time zero")
	startDelay := fs.Float64("start-delay", 10, "minutes until the first burn")
	candidates := fs.String("phasing", "", "comma-separated phasing altitudes in km (default: spread between orbits)")
	proximity := fs.Float64("area-proximity", 50, "distance in km under which a parked spacecraft is at an area")
	save := fs.String("save", "", "write the final state to this YAML file")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg := config{
		ScenarioPath:   *scenario,
		Duration:       *duration,
		Tick:           *tick,
		Accelerated:    *accelerated,
		Dilation:       *dilation,
		FastForward:    timectrl.Minutes(*fastForward),
		MaxSteps:       *maxSteps,
		Horizon:        timectrl.Minutes(*horizon),
		TargetBody:     *targetBody,
		TargetAltitude: *targetAltitude,
		TargetPhase:    *targetPhase,
		StartDelay:     timectrl.Minutes(*startDelay),
		AreaProximity:  *proximity,
		SavePath:       *save,
	}
	if *candidates != "" {
		for _, raw := range strings.Split(*candidates, ",") {
			var alt float64
			if _, err := fmt.Sscanf(strings.TrimSpace(raw), "%g", &alt); err != nil {
				return config{}, fmt.Errorf("invalid phasing altitude %q: %w", raw, err)
			}
			cfg.Candidates = append(cfg.Candidates, alt)
		}
	}
	if cfg.Tick <= 0 {
		return config{}, errors.New("tick must be positive")
	}
	return cfg, nil
}

// run loads the scenario, plans and commits a transfer for the first parked
// fleet, then drives the clock until the fleet has arrived (fast-forward) or
// the wall-clock duration elapsed (ticks). Events are printed to out.
func run(ctx context.Context, cfg config, out io.Writer, log logging.Logger) error {
	store := kb.NewKnowledgeBase()
	scenario, err := kb.LoadScenarioFile(store, cfg.ScenarioPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Loaded scenario %q: %d bodies, %d areas, %d asteroids, %d spacecraft\n",
		scenario.Name, len(scenario.BodyIDs), len(scenario.AreaIDs), len(scenario.Asteroids), len(scenario.Spacecraft))

	mode := timectrl.RealTime
	if cfg.Accelerated {
		mode = timectrl.Accelerated
	}
	tc := timectrl.NewTimeController(0, cfg.Tick, mode)
	tc.SetDilation(cfg.Dilation)

	state, err := sim.NewOrbitalState(store, tc, log,
		sim.WithAuthority(true),
		sim.WithAreaProximity(cfg.AreaProximity),
	)
	if err != nil {
		return err
	}
	if err := state.PlaceSpacecraft(ctx, scenario.Placements); err != nil {
		return err
	}

	fleet := parkedFleet(store, state, scenario.Spacecraft)
	if len(fleet) == 0 {
		return errors.New("no undocked spacecraft with an orbit to move")
	}
	source, _ := state.GetOrbit(fleet[0])

	bodyID := cfg.TargetBody
	if bodyID == "" {
		bodyID = source.Geometry.Body.ID
	}
	body, err := store.Body(bodyID)
	if err != nil {
		return err
	}
	destination := core.NewOrbit(core.NewCircularGeometry(body, cfg.TargetAltitude, cfg.TargetPhase), 0)

	traj, err := state.PlanTrajectory(ctx, fleet, destination, cfg.StartDelay, cfg.Candidates, 0)
	if err != nil {
		return fmt.Errorf("plan: %w", err)
	}
	if err := state.CommitTrajectory(ctx, fleet, traj); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	fmt.Fprintf(out, "Planned %d spacecraft: %d legs, %d burns, %.1f m/s, departure %.2f min, arrival %.2f min\n",
		len(fleet), len(traj.Transfers), len(traj.Maneuvers), traj.TotalDeltaV,
		traj.FirstManeuverStartTime().Minutes(), traj.ArrivalTime().Minutes())
	for i, m := range traj.Maneuvers {
		fmt.Fprintf(out, "  burn %d: %+.1f m/s at %.2f min for %.2f min\n", i+1, m.DeltaV, m.Time.Minutes(), m.Duration.Minutes())
	}
	printEvents(out, state.DrainEvents())

	if cfg.FastForward > 0 {
		end := traj.ArrivalTime() + cfg.Horizon
		for state.Now() < end {
			events, steps, _ := state.FastForward(cfg.FastForward, cfg.MaxSteps)
			printEvents(out, events)
			if steps == 0 {
				break
			}
		}
	} else {
		tc.AddListener(func(timectrl.Time) {
			printEvents(out, state.DrainEvents())
		})
		fmt.Fprintf(out, "Starting simulation: duration=%s, tick=%s, mode=%v, dilation=%g\n", cfg.Duration, cfg.Tick, mode, cfg.Dilation)
		<-tc.Start(cfg.Duration, ctx.Done())
	}

	fmt.Fprintf(out, "Simulation complete at %.2f min.\n", state.Now().Minutes())
	for _, id := range fleet {
		if loc, ok := state.GetLocation(id); ok {
			fmt.Fprintf(out, "  %s: altitude %.1f km, phase %.1f deg\n", id, loc.Altitude(), core.NormalizeDegrees(loc.Phase))
		}
	}

	if cfg.SavePath != "" {
		f, err := os.Create(cfg.SavePath)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := state.WriteSave(f); err != nil {
			return err
		}
	}
	return nil
}

// parkedFleet returns the undocked spacecraft sharing the orbit of the first
// undocked one, in scenario order.
func parkedFleet(store *kb.KnowledgeBase, state *sim.OrbitalState, ids []uuid.UUID) []uuid.UUID {
	var fleet []uuid.UUID
	var reference core.Orbit
	for _, id := range ids {
		if store.IsDocked(id) {
			continue
		}
		orbit, ok := state.GetOrbit(id)
		if !ok {
			continue
		}
		if len(fleet) == 0 {
			reference = orbit
		} else if !orbit.Equal(reference) {
			continue
		}
		fleet = append(fleet, id)
		state.SetBehavior(id, model.BehaviorTravelling, "")
	}
	return fleet
}

func printEvents(out io.Writer, events sim.Events) {
	for _, e := range events.Committed {
		fmt.Fprintf(out, "[%8.2f] committed  %s\n", e.Time.Minutes(), shortIDs(e.Spacecraft))
	}
	for _, id := range events.Collected {
		fmt.Fprintf(out, "[        ] left orbit %s\n", shortIDs([]uuid.UUID{id}))
	}
	for _, e := range events.Arrivals {
		fmt.Fprintf(out, "[%8.2f] arrived    %s\n", e.Time.Minutes(), shortIDs(e.Spacecraft))
	}
	for _, e := range events.Completed {
		fmt.Fprintf(out, "[%8.2f] completed  %s at %.1f km\n", e.Time.Minutes(), shortIDs(e.Spacecraft), e.Orbit.Geometry.StartAltitude)
	}
	for _, e := range events.Aborted {
		fmt.Fprintf(out, "[%8.2f] aborted    %s\n", e.Time.Minutes(), shortIDs(e.Spacecraft))
	}
	for _, c := range events.AreaChanges {
		switch {
		case c.To == "":
			fmt.Fprintf(out, "[        ] %s left area %s\n", shortIDs([]uuid.UUID{c.Spacecraft}), c.From)
		default:
			fmt.Fprintf(out, "[        ] %s near area %s (%.1f km)\n", shortIDs([]uuid.UUID{c.Spacecraft}), c.To, c.Distance)
		}
	}
}

func shortIDs(ids []uuid.UUID) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = id.String()[:8]
	}
	return strings.Join(parts, ",")
}
