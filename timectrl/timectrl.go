package timectrl

import (
	"math"
	"sync"
	"time"
)

// Time is a simulation timestamp or duration expressed in minutes. The
// orbital model works at minute resolution, so every period, coast and burn
// duration in the simulator uses this scalar.
type Time float64

// Minutes builds a Time from a number of minutes.
func Minutes(m float64) Time { return Time(m) }

// FromDuration converts a wall-clock duration to simulation minutes.
func FromDuration(d time.Duration) Time { return Time(d.Minutes()) }

// Minutes returns t as a plain float64 minute count.
func (t Time) Minutes() float64 { return float64(t) }

// Seconds returns t in seconds.
func (t Time) Seconds() float64 { return float64(t) * 60 }

// Duration converts t to a wall-clock duration.
func (t Time) Duration() time.Duration {
	return time.Duration(float64(t) * float64(time.Minute))
}

// IsFinite reports whether t is neither infinite nor NaN.
func (t Time) IsFinite() bool {
	return !math.IsInf(float64(t), 0) && !math.IsNaN(float64(t))
}

// SimClock is an interface for accessing simulation time. Components that only
// read the clock (planners, replicas, tests) depend on this rather than on
// TimeController.
type SimClock interface {
	// Now returns the current simulation time.
	Now() Time
}

// Mode describes how the TimeController advances simulation time.
type Mode int

const (
	// RealTime advances according to wall-clock time.
	RealTime Mode = iota
	// Accelerated advances as quickly as the loop can run while still stepping by Tick.
	Accelerated
)

func (m Mode) String() string {
	switch m {
	case RealTime:
		return "realtime"
	case Accelerated:
		return "accelerated"
	default:
		return "unknown"
	}
}

// Listener is invoked once per tick with the simulation delta to apply.
type Listener func(delta Time)

// TimeController drives simulation time and notifies registered listeners.
// It is the authoritative clock: listeners receive the dilated delta for the
// tick and the controller's Now has already moved forward when they run.
type TimeController struct {
	mu       sync.RWMutex
	Tick     time.Duration
	Mode     Mode
	dilation float64

	currentTime Time

	listeners []Listener
}

// NewTimeController constructs a controller starting at start. Dilation
// defaults to one simulated minute per wall-clock minute.
func NewTimeController(start Time, tick time.Duration, mode Mode) *TimeController {
	return &TimeController{
		Tick:        tick,
		Mode:        mode,
		dilation:    1,
		currentTime: start,
	}
}

// Now returns the current simulation time. Implements SimClock.
func (tc *TimeController) Now() Time {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.currentTime
}

// SetTime forces the clock to t, typically when restoring a save.
func (tc *TimeController) SetTime(t Time) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.currentTime = t
}

// Dilation returns the current time dilation factor.
func (tc *TimeController) Dilation() float64 {
	tc.mu.RLock()
	defer tc.mu.RUnlock()
	return tc.dilation
}

// SetDilation changes how many simulated seconds elapse per wall-clock second.
// Non-positive factors are ignored.
func (tc *TimeController) SetDilation(factor float64) {
	if factor <= 0 || math.IsNaN(factor) || math.IsInf(factor, 0) {
		return
	}
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.dilation = factor
}

// AddListener registers a callback invoked on every tick.
func (tc *TimeController) AddListener(fn Listener) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.listeners = append(tc.listeners, fn)
}

// Step advances the clock by the dilated equivalent of wall and notifies
// listeners. It returns the simulated delta that was applied.
func (tc *TimeController) Step(wall time.Duration) Time {
	tc.mu.Lock()
	delta := FromDuration(wall) * Time(tc.dilation)
	tc.currentTime += delta
	listeners := append([]Listener(nil), tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(delta)
	}
	return delta
}

// Advance moves the clock forward by an exact simulated delta without
// dilation and notifies listeners. Fast-forward sub-steps use this.
func (tc *TimeController) Advance(delta Time) {
	tc.mu.Lock()
	tc.currentTime += delta
	listeners := append([]Listener(nil), tc.listeners...)
	tc.mu.Unlock()

	for _, fn := range listeners {
		fn(delta)
	}
}

// Start runs the controller for the specified wall-clock duration in a
// separate goroutine. It returns a channel that is closed when the controller
// finishes. A zero duration runs until stop is closed.
func (tc *TimeController) Start(duration time.Duration, stop <-chan struct{}) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)

		elapsed := time.Duration(0)

		// In both modes we use a ticker for simplicity and determinism.
		ticker := time.NewTicker(tc.Tick)
		defer ticker.Stop()

		for {
			if duration > 0 && elapsed >= duration {
				return
			}

			select {
			case <-stop:
				return
			case <-ticker.C:
			}
			tc.Step(tc.Tick)
			elapsed += tc.Tick
		}
	}()
	return done
}
