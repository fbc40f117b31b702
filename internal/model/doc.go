// Package model provides the core data model for pipewatch: pipeline
// definitions, repository events, trigger rules, and run records.
//
// # Core Concepts
//
//   - PipelineDefinition: The parsed, validated representation of a user's
//     Pipefile (trigger rules + ordered steps). Immutable once parsed.
//
//   - TriggerRule / RepositoryEvent: Two closed sets of variants, one case
//     per event kind. Each case carries only the fields relevant to its
//     kind, so invalid combinations (a tag pattern on a push rule) cannot
//     be represented.
//
//   - PipelineRun / StepRun: The mutable execution state of one run. A run
//     is owned exclusively by the worker executing it; concurrent readers
//     get consistent copies via Snapshot. Status progressions are explicit
//     finite state machines, and an illegal transition is a programmer
//     error that panics.
//
//   - RunRecord / StepRecord: Immutable, serializable snapshots of a run,
//     used by the API and the history store.
//
// Why separate live state from records?
//
// A PipelineRun is mutated step by step while it executes, and the HTTP
// layer must be able to observe it mid-flight. Handing out the mutable
// struct would share state across goroutines. Records are plain data with
// JSON tags, safe to publish, persist, and compare.
package model
