// Package engine runs the steps of a single pipeline run.
//
// Steps execute strictly in definition order, one at a time. A failing
// step marked allow_failure records its failure and lets the run
// continue; any other failure skips every remaining step and fails the
// run. Cancelling the context cancels the current step and every step
// after it.
//
// Commands are dispatched through the CommandRunner interface so tests
// can substitute a fake; the default ShellRunner hands each command to
// `sh -c`.
package engine
