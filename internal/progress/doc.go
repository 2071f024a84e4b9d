// Package progress provides the event primitives, non-blocking hub, and
// emitter interfaces the run controller uses to report run and job
// milestones. It batches events on a background goroutine and fans them out
// to pluggable sinks such as structured logs or Prometheus metrics.
package progress
