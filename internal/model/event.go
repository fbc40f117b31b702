package model

import (
	"encoding/json"
	"fmt"
)

// EventKind identifies the kind of repository event.
type EventKind int

const (
	KindPush EventKind = iota
	KindPullRequest
	KindMerge
	KindTag
	KindRelease
	KindBranchCreated
	KindBranchDeleted
)

var eventKindNames = map[EventKind]string{
	KindPush:          "push",
	KindPullRequest:   "pull_request",
	KindMerge:         "merge",
	KindTag:           "tag",
	KindRelease:       "release",
	KindBranchCreated: "branch_created",
	KindBranchDeleted: "branch_deleted",
}

// String returns the wire/storage name of the kind.
func (k EventKind) String() string {
	if name, ok := eventKindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("EventKind(%d)", int(k))
}

// MarshalJSON encodes the kind as its string name.
func (k EventKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON decodes a kind from its string name.
func (k *EventKind) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	for kind, n := range eventKindNames {
		if n == name {
			*k = kind
			return nil
		}
	}
	return fmt.Errorf("unknown event kind %q", name)
}

// RepositoryEvent is a normalized source-control event. It is a closed
// set: exactly one variant exists per EventKind, and each variant carries
// only the fields meaningful for its kind.
//
// TriggerRef returns the single ref a trigger pattern is matched against
// (the branch for branch-scoped kinds, the tag for tag-scoped kinds).
// An empty TriggerRef marks an event that is missing its required field;
// such events never match any rule.
type RepositoryEvent interface {
	Kind() EventKind
	Repository() string
	TriggerRef() string

	// repositoryEvent keeps the set of variants closed.
	repositoryEvent()
}

// PushEvent is a commit push to a branch.
type PushEvent struct {
	Repo   string
	Branch string
	Commit string
}

func (e PushEvent) Kind() EventKind    { return KindPush }
func (e PushEvent) Repository() string { return e.Repo }
func (e PushEvent) TriggerRef() string { return e.Branch }
func (e PushEvent) repositoryEvent()   {}

// PullRequestEvent is a pull request opened or updated. Trigger patterns
// match against the target (base) branch.
type PullRequestEvent struct {
	Repo         string
	SourceBranch string
	TargetBranch string
	Number       int
	Title        string
}

func (e PullRequestEvent) Kind() EventKind    { return KindPullRequest }
func (e PullRequestEvent) Repository() string { return e.Repo }
func (e PullRequestEvent) TriggerRef() string { return e.TargetBranch }
func (e PullRequestEvent) repositoryEvent()   {}

// MergeEvent is a pull request merged into its target branch.
type MergeEvent struct {
	Repo         string
	SourceBranch string
	TargetBranch string
	Commit       string
}

func (e MergeEvent) Kind() EventKind    { return KindMerge }
func (e MergeEvent) Repository() string { return e.Repo }
func (e MergeEvent) TriggerRef() string { return e.TargetBranch }
func (e MergeEvent) repositoryEvent()   {}

// TagEvent is a tag pushed to the repository.
type TagEvent struct {
	Repo   string
	Tag    string
	Commit string
}

func (e TagEvent) Kind() EventKind    { return KindTag }
func (e TagEvent) Repository() string { return e.Repo }
func (e TagEvent) TriggerRef() string { return e.Tag }
func (e TagEvent) repositoryEvent()   {}

// ReleaseEvent is a release published for a tag.
type ReleaseEvent struct {
	Repo string
	Tag  string
}

func (e ReleaseEvent) Kind() EventKind    { return KindRelease }
func (e ReleaseEvent) Repository() string { return e.Repo }
func (e ReleaseEvent) TriggerRef() string { return e.Tag }
func (e ReleaseEvent) repositoryEvent()   {}

// BranchCreatedEvent is a new branch created in the repository.
type BranchCreatedEvent struct {
	Repo   string
	Branch string
}

func (e BranchCreatedEvent) Kind() EventKind    { return KindBranchCreated }
func (e BranchCreatedEvent) Repository() string { return e.Repo }
func (e BranchCreatedEvent) TriggerRef() string { return e.Branch }
func (e BranchCreatedEvent) repositoryEvent()   {}

// BranchDeletedEvent is a branch deleted from the repository.
type BranchDeletedEvent struct {
	Repo   string
	Branch string
}

func (e BranchDeletedEvent) Kind() EventKind    { return KindBranchDeleted }
func (e BranchDeletedEvent) Repository() string { return e.Repo }
func (e BranchDeletedEvent) TriggerRef() string { return e.Branch }
func (e BranchDeletedEvent) repositoryEvent()   {}

// EventSummary is the flat, serializable digest of a RepositoryEvent
// kept on a run record. It answers "what triggered this run" without
// carrying the full variant type through persistence.
type EventSummary struct {
	Kind   EventKind `json:"kind"`
	Repo   string    `json:"repo"`
	Ref    string    `json:"ref,omitempty"`
	Source string    `json:"source,omitempty"`
	Commit string    `json:"commit,omitempty"`
}

// Summarize flattens an event into its summary form.
func Summarize(ev RepositoryEvent) EventSummary {
	s := EventSummary{
		Kind: ev.Kind(),
		Repo: ev.Repository(),
		Ref:  ev.TriggerRef(),
	}
	switch e := ev.(type) {
	case PushEvent:
		s.Commit = e.Commit
	case PullRequestEvent:
		s.Source = e.SourceBranch
	case MergeEvent:
		s.Source = e.SourceBranch
		s.Commit = e.Commit
	case TagEvent:
		s.Commit = e.Commit
	}
	return s
}
