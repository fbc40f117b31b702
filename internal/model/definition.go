package model

// PipelineDefinition is the parsed, validated representation of a
// Pipefile: identity metadata, the trigger rules that decide when it
// runs, and the ordered steps it runs. Definitions are immutable after
// parsing; re-registering a repository replaces the whole definition.
type PipelineDefinition struct {
	Name    string
	Version string
	Rules   []TriggerRule
	Steps   []Step
}

// Step is one named unit of work. Commands execute sequentially in a
// shell; the step's position in PipelineDefinition.Steps fixes its
// execution order. AllowFailure downgrades a failing step from
// run-fatal to merely recorded.
type Step struct {
	Name         string
	Commands     []string
	AllowFailure bool
}
