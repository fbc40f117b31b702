// Package trigger decides whether a repository event starts a pipeline.
//
// Matching is a pure disjunction over the pipeline's trigger rules: the
// event fires the pipeline when at least one rule of the event's kind
// accepts the event's ref. Rule order never affects the outcome.
package trigger
