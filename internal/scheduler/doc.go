// Package scheduler admits pipeline runs into a bounded FIFO queue and
// executes them on a fixed-size worker pool.
//
// Admission is all-or-nothing: a run rejected with ErrQueueFull was
// never recorded anywhere. Once admitted, a run is visible through the
// in-flight table until it reaches a terminal status, after which the
// store holds its history.
//
// An optional per-repository limit caps how many runs of the same
// repository execute at once; runs over the limit stay queued in FIFO
// order while runs of other repositories overtake them.
package scheduler
