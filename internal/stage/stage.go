// Package stage implements the worker loops of the mutation pipeline:
// parser, generator, fixer and structural. Each worker dequeues one task
// per iteration, performs its external calls, and hands the result to
// the next queue. No failure in a worker ever terminates the process.
package stage

import "time"

// Task is the envelope carried by the parse, generate and structural
// queues.
type Task struct {
	SeedID int
	Budget int
}

// FixTask adds the generated artifact code for the fix queue.
type FixTask struct {
	SeedID int
	Budget int
	Code   string
}

// realTime returns the wall-clock timestamp in seconds for telemetry.
func realTime() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// since returns elapsed seconds for telemetry.
func since(t time.Time) float64 {
	return time.Since(t).Seconds()
}
