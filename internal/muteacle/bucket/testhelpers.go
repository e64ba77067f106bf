package bucket

import "time"

// SleepUntilIntervalEnd blocks until the current interval under resolution
// r elapses. It exists solely to let test harnesses drive real wall-clock
// boundary crossings; it is never called from any production code path in
// this module.
func SleepUntilIntervalEnd(r Resolution) {
	time.Sleep(time.Duration(SecondsLeft(time.Now().UTC(), r) * float64(time.Second)))
}
