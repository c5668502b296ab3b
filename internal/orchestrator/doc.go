// Package orchestrator drives one research run through its stages.
//
// # Stages
//
//	validating → dispatching → {researching, analyzing} → gating → synthesizing → gating → completed
//
// failed is reachable from every non-terminal stage. Each transition is
// checked by RunState.CanTransition.
//
// # Upstream dimensions
//
// Research and analysis run in parallel (errgroup, at most two workers) or
// sequentially. Each attempt is bounded by the stage timeout and by the
// stage's share of the remaining run deadline. Timeouts and transient
// provider errors are retried with exponential backoff. A dimension that
// exhausts its retries, returns finding.ErrDataUnavailable, or is rejected
// twice by the quality gate is degraded: the run continues and the report
// marks the affected sections unavailable.
//
// # Synthesis
//
// Synthesis starts once both dimensions are terminal and runs once, with one
// re-execution if the gate rejects it. A report cannot be degraded, so a
// second rejection fails the run with finding.ErrRejectedByGate.
//
// # Persistence
//
// Only gate-accepted findings are written to the memory store. The ids the
// store assigns are written back into the accepted result before synthesis
// reads it, so report citations resolve to stored findings.
//
// # Failure
//
// Terminal failures are *StageError values naming the stage and wrapping one
// of the finding sentinels. Findings persisted before a failure stay in the
// store.
package orchestrator
