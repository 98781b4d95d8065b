package timectrl

// FastForwardStepper is consulted between fast-forward iterations.
//
// NextEvent returns the time of the next event that must not be skipped over
// (a maneuver start, an arrival) and whether one exists. Blocked reports that
// something outside the orbital model forbids further skipping.
type FastForwardStepper interface {
	NextEvent(now Time) (Time, bool)
	Blocked() bool
}

// FastForward runs up to maxSteps back-to-back sub-steps of size step. The
// loop can only be interrupted between iterations: a step that would jump past
// the next event is shortened to land exactly on it and the loop stops there.
// It returns the number of steps taken and whether the loop stopped early.
func (tc *TimeController) FastForward(step Time, maxSteps int, stepper FastForwardStepper) (int, bool) {
	if step <= 0 || maxSteps <= 0 {
		return 0, false
	}

	steps := 0
	for steps < maxSteps {
		if stepper != nil && stepper.Blocked() {
			return steps, true
		}

		delta := step
		interrupted := false
		if stepper != nil {
			now := tc.Now()
			if next, ok := stepper.NextEvent(now); ok && next > now && next-now <= step {
				delta = next - now
				interrupted = true
			}
		}

		tc.Advance(delta)
		steps++

		if interrupted {
			return steps, true
		}
	}
	return steps, false
}
