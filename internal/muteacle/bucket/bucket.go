// Package bucket implements Muteacle's time-bucketing scheme: a pure
// mapping from (instant, resolution) to day-aligned interval numbers and
// back to interval boundaries. Nothing in this package touches storage,
// configuration, or hashing; every function is a deterministic function
// of its arguments, per the spec's invariant that all temporal reasoning
// is pure.
package bucket

import "time"

// Resolution is the bucket length in seconds. Admissible values are
// positive integers that divide 86400 (one day) evenly; there are
// exactly 96 of them.
type Resolution int

// secondsPerDay is the number of seconds in one UTC calendar day.
const secondsPerDay = 86400

// Admissible reports whether r is a positive divisor of 86400.
func Admissible(r Resolution) bool {
	if r <= 0 {
		return false
	}
	return secondsPerDay%int(r) == 0
}

// AdmissibleResolutions returns all 96 admissible resolutions in
// ascending order. Exposed mainly for exhaustive property tests.
func AdmissibleResolutions() []Resolution {
	out := make([]Resolution, 0, 96)
	for r := 1; r <= secondsPerDay; r++ {
		if secondsPerDay%r == 0 {
			out = append(out, Resolution(r))
		}
	}
	return out
}

// secondsOfDay returns the whole seconds elapsed since UTC midnight of t,
// ignoring sub-second components.
func secondsOfDay(t time.Time) int {
	t = t.UTC()
	return t.Hour()*3600 + t.Minute()*60 + t.Second()
}

// midnight returns UTC midnight of the calendar day containing t.
func midnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// IntervalNumber returns n such that dt falls in interval n under
// resolution r: n = floor(seconds-of-day(dt) / r).
func IntervalNumber(dt time.Time, r Resolution) int {
	return secondsOfDay(dt) / int(r)
}

// IntervalsPerDay returns 86400/r, the count of intervals in one day
// under resolution r.
func IntervalsPerDay(r Resolution) int {
	return secondsPerDay / int(r)
}

// IntervalStart returns the instant at which interval n (under
// resolution r, within the calendar day of day) begins.
func IntervalStart(day time.Time, r Resolution, n int) time.Time {
	return midnight(day).Add(time.Duration(n) * time.Duration(r) * time.Second)
}

// IntervalEnd returns the last representable instant of interval n: one
// microsecond before the start of interval n+1, per the spec's
// half-open-but-inclusive-end convention.
func IntervalEnd(day time.Time, r Resolution, n int) time.Time {
	return IntervalStart(day, r, n+1).Add(-time.Microsecond)
}

// IntervalMid returns the midpoint instant of interval n. For odd r the
// midpoint falls on a half-second; callers comparing against IntervalMid
// should tolerate sub-second rounding, exactly as the spec notes.
func IntervalMid(day time.Time, r Resolution, n int) time.Time {
	start := IntervalStart(day, r, n)
	return start.Add(time.Duration(float64(r)/2.0*float64(time.Second)))
}

// SecondsLeft returns the number of seconds remaining in dt's current
// interval under resolution r.
func SecondsLeft(dt time.Time, r Resolution) float64 {
	n := IntervalNumber(dt, r)
	next := IntervalStart(dt, r, n+1)
	return next.Sub(dt).Seconds()
}

// CurrentIntervalStart returns the start instant of the interval
// containing dt under resolution r. This is the form most callers need:
// it resolves the calendar day and interval number for dt in one step.
func CurrentIntervalStart(dt time.Time, r Resolution) time.Time {
	n := IntervalNumber(dt, r)
	return IntervalStart(dt, r, n)
}

// NextCommonStart finds the least instant strictly after dt, within the
// following 24 hours, that is simultaneously an interval boundary under
// both rA and rB. It enumerates the coarser resolution's boundaries
// forward from dt and checks boundary coincidence under the finer
// resolution; if no coincidence occurs before the next midnight, the
// next midnight is returned (a boundary under every admissible
// resolution).
func NextCommonStart(dt time.Time, rA, rB Resolution) time.Time {
	coarse, fine := rA, rB
	if coarse < fine {
		coarse, fine = fine, coarse
	}

	nCoarse := IntervalNumber(dt, coarse)
	tomorrow := midnight(dt).Add(24 * time.Hour)

	cur := dt
	for cur.Before(tomorrow) {
		nCoarse++
		isc := IntervalStart(cur, coarse, nCoarse)
		nFine := IntervalNumber(isc, fine)
		isf := IntervalStart(isc, fine, nFine)
		if isc.Equal(isf) {
			return isf
		}
		cur = isc
	}
	return tomorrow
}
