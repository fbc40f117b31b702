package trigger

import (
	"github.com/pipewatch/pipewatch/internal/model"
)

// Matches reports whether the event fires the pipeline. A rule applies
// when its kind equals the event's kind and its pattern accepts the
// event's trigger ref; a rule without a pattern accepts every ref. For
// pull requests and merges the trigger ref is the target branch.
func Matches(def *model.PipelineDefinition, ev model.RepositoryEvent) bool {
	_, ok := FirstMatch(def, ev)
	return ok
}

// FirstMatch returns the first rule, in declaration order, that accepts
// the event. Because matching is a plain disjunction the choice of rule
// only matters for reporting, never for whether the pipeline fires.
func FirstMatch(def *model.PipelineDefinition, ev model.RepositoryEvent) (model.TriggerRule, bool) {
	for _, rule := range def.Rules {
		if rule.Kind() != ev.Kind() {
			continue
		}
		if pat := rule.Pattern(); pat == nil || pat.Match(ev.TriggerRef()) {
			return rule, true
		}
	}
	return nil, false
}
