package model

import (
	"github.com/pipewatch/pipewatch/internal/glob"
)

// TriggerRule is one condition under which a pipeline runs. The set of
// variants is closed: one per EventKind, each holding only the pattern
// meaningful for that kind. A nil pattern matches every event of the
// rule's kind.
type TriggerRule interface {
	Kind() EventKind

	// Pattern returns the glob the event's TriggerRef must satisfy, or
	// nil when the rule matches unconditionally within its kind.
	Pattern() *glob.Pattern

	// triggerRule keeps the set of variants closed.
	triggerRule()
}

// PushRule triggers on pushes, optionally limited to branches matching
// Branch.
type PushRule struct {
	Branch *glob.Pattern
}

func (r PushRule) Kind() EventKind        { return KindPush }
func (r PushRule) Pattern() *glob.Pattern { return r.Branch }
func (r PushRule) triggerRule()           {}

// PullRequestRule triggers on pull requests, optionally limited by
// target branch.
type PullRequestRule struct {
	Target *glob.Pattern
}

func (r PullRequestRule) Kind() EventKind        { return KindPullRequest }
func (r PullRequestRule) Pattern() *glob.Pattern { return r.Target }
func (r PullRequestRule) triggerRule()           {}

// MergeRule triggers on merges, optionally limited by target branch.
type MergeRule struct {
	Target *glob.Pattern
}

func (r MergeRule) Kind() EventKind        { return KindMerge }
func (r MergeRule) Pattern() *glob.Pattern { return r.Target }
func (r MergeRule) triggerRule()           {}

// TagRule triggers on pushed tags, optionally limited to tags matching
// Tag.
type TagRule struct {
	Tag *glob.Pattern
}

func (r TagRule) Kind() EventKind        { return KindTag }
func (r TagRule) Pattern() *glob.Pattern { return r.Tag }
func (r TagRule) triggerRule()           {}

// ReleaseRule triggers on published releases, optionally limited by tag.
type ReleaseRule struct {
	Tag *glob.Pattern
}

func (r ReleaseRule) Kind() EventKind        { return KindRelease }
func (r ReleaseRule) Pattern() *glob.Pattern { return r.Tag }
func (r ReleaseRule) triggerRule()           {}

// BranchCreatedRule triggers on branch creation, optionally limited to
// branches matching Branch.
type BranchCreatedRule struct {
	Branch *glob.Pattern
}

func (r BranchCreatedRule) Kind() EventKind        { return KindBranchCreated }
func (r BranchCreatedRule) Pattern() *glob.Pattern { return r.Branch }
func (r BranchCreatedRule) triggerRule()           {}

// BranchDeletedRule triggers on branch deletion, optionally limited to
// branches matching Branch.
type BranchDeletedRule struct {
	Branch *glob.Pattern
}

func (r BranchDeletedRule) Kind() EventKind        { return KindBranchDeleted }
func (r BranchDeletedRule) Pattern() *glob.Pattern { return r.Branch }
func (r BranchDeletedRule) triggerRule()           {}
