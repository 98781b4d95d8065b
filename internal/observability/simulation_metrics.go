package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Trajectory lifecycle labels used by SimulationCollector.
const (
	EventCommitted = "committed"
	EventRejected  = "rejected"
	EventCompleted = "completed"
	EventAborted   = "aborted"
	EventCollected = "collected"
)

// SimulationCollector exposes Prometheus metrics for the orbital simulation
// driver and the trajectory planner.
type SimulationCollector struct {
	gatherer prometheus.Gatherer

	TickDuration      prometheus.Histogram
	FastForwardSteps  prometheus.Counter
	TrajectoryEvents  *prometheus.CounterVec
	OrbitEntries      prometheus.Gauge
	TrajectoryEntries prometheus.Gauge
	SimulationMinutes prometheus.Gauge
	PlanningDuration  prometheus.Histogram
}

// NewSimulationCollector registers simulation metrics against the provided registerer.
func NewSimulationCollector(reg prometheus.Registerer) (*SimulationCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	tick, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orbital_tick_duration_seconds",
		Help:    "Wall-clock time spent advancing the simulation by one tick.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
	}), "orbital_tick_duration_seconds")
	if err != nil {
		return nil, err
	}

	steps, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "orbital_fast_forward_steps_total",
		Help: "Ticks executed inside fast-forward loops.",
	}), "orbital_fast_forward_steps_total")
	if err != nil {
		return nil, err
	}

	events, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "orbital_trajectory_events_total",
		Help: "Trajectory lifecycle transitions, labeled by event.",
	}, []string{"event"}), "orbital_trajectory_events_total")
	if err != nil {
		return nil, err
	}

	orbits, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbital_orbit_entries",
		Help: "Current number of entries in the orbit database.",
	}), "orbital_orbit_entries")
	if err != nil {
		return nil, err
	}

	trajectories, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbital_trajectory_entries",
		Help: "Current number of entries in the trajectory database.",
	}), "orbital_trajectory_entries")
	if err != nil {
		return nil, err
	}

	minutes, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "orbital_simulation_minutes",
		Help: "Current simulation time in minutes.",
	}), "orbital_simulation_minutes")
	if err != nil {
		return nil, err
	}

	planning, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "orbital_planning_duration_seconds",
		Help:    "Duration of trajectory planning calls.",
		Buckets: []float64{0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}), "orbital_planning_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &SimulationCollector{
		gatherer:          gatherer,
		TickDuration:      tick,
		FastForwardSteps:  steps,
		TrajectoryEvents:  events,
		OrbitEntries:      orbits,
		TrajectoryEntries: trajectories,
		SimulationMinutes: minutes,
		PlanningDuration:  planning,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimulationCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimulationCollector) Handler() http.Handler {
	return handlerFor(c.Gatherer())
}

// ObserveTick records the wall-clock cost of one tick and the resulting
// simulation time.
func (c *SimulationCollector) ObserveTick(d time.Duration, simMinutes float64) {
	if c == nil {
		return
	}
	if c.TickDuration != nil {
		c.TickDuration.Observe(d.Seconds())
	}
	if c.SimulationMinutes != nil {
		c.SimulationMinutes.Set(simMinutes)
	}
}

// AddFastForwardSteps counts ticks run by a fast-forward loop.
func (c *SimulationCollector) AddFastForwardSteps(n int) {
	if c == nil || c.FastForwardSteps == nil || n <= 0 {
		return
	}
	c.FastForwardSteps.Add(float64(n))
}

// IncTrajectoryEvent counts one lifecycle transition.
func (c *SimulationCollector) IncTrajectoryEvent(event string) {
	if c == nil || c.TrajectoryEvents == nil {
		return
	}
	c.TrajectoryEvents.WithLabelValues(event).Inc()
}

// SetDatabaseSizes updates the database entry gauges.
func (c *SimulationCollector) SetDatabaseSizes(orbits, trajectories int) {
	if c == nil {
		return
	}
	if c.OrbitEntries != nil {
		c.OrbitEntries.Set(float64(orbits))
	}
	if c.TrajectoryEntries != nil {
		c.TrajectoryEntries.Set(float64(trajectories))
	}
}

// ObservePlanning records a planning call duration.
func (c *SimulationCollector) ObservePlanning(d time.Duration) {
	if c == nil || c.PlanningDuration == nil {
		return
	}
	c.PlanningDuration.Observe(d.Seconds())
}
