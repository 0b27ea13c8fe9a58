// Package worker drives queued workflow runs.
//
// A Worker takes run requests from a taskqueue.Queue and executes each one
// with an api.Engine. Any number of workers can share the same engine and
// queue; every run is still executed strictly step by step, so concurrency
// only ever exists between runs, never inside one.
//
// Results are reported through Config.OnResult. The synapse package's
// LocalRunner uses this hook to hand each submitter its own result.
package worker
