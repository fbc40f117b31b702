package webhook

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pipewatch/pipewatch/internal/model"
)

// Event names from the X-GitHub-Event header that carry pipeline
// triggers. Everything else normalizes to nil.
const (
	eventPush        = "push"
	eventPullRequest = "pull_request"
	eventCreate      = "create"
	eventDelete      = "delete"
	eventRelease     = "release"
)

type repository struct {
	FullName string `json:"full_name"`
}

type pushPayload struct {
	Ref        string     `json:"ref"`
	After      string     `json:"after"`
	Repository repository `json:"repository"`
}

type pullRequestPayload struct {
	Action      string `json:"action"`
	Number      int    `json:"number"`
	PullRequest struct {
		Title          string `json:"title"`
		Merged         bool   `json:"merged"`
		MergeCommitSHA string `json:"merge_commit_sha"`
		Head           struct {
			Ref string `json:"ref"`
		} `json:"head"`
		Base struct {
			Ref string `json:"ref"`
		} `json:"base"`
	} `json:"pull_request"`
	Repository repository `json:"repository"`
}

type refPayload struct {
	Ref        string     `json:"ref"`
	RefType    string     `json:"ref_type"`
	Repository repository `json:"repository"`
}

type releasePayload struct {
	Action  string `json:"action"`
	Release struct {
		TagName string `json:"tag_name"`
	} `json:"release"`
	Repository repository `json:"repository"`
}

// Normalize converts a GitHub delivery into a repository event. The
// returned event is nil, with a nil error, when the delivery is valid
// but triggers nothing.
func Normalize(eventName string, payload []byte) (model.RepositoryEvent, error) {
	switch eventName {
	case eventPush:
		return normalizePush(payload)
	case eventPullRequest:
		return normalizePullRequest(payload)
	case eventCreate:
		return normalizeCreate(payload)
	case eventDelete:
		return normalizeDelete(payload)
	case eventRelease:
		return normalizeRelease(payload)
	default:
		return nil, nil
	}
}

func decode(event string, payload []byte, v any) error {
	if err := json.Unmarshal(payload, v); err != nil {
		return fmt.Errorf("webhook: decoding %s payload: %w", event, err)
	}
	return nil
}

func normalizePush(payload []byte) (model.RepositoryEvent, error) {
	var p pushPayload
	if err := decode(eventPush, payload, &p); err != nil {
		return nil, err
	}
	if p.Repository.FullName == "" || p.Ref == "" {
		return nil, fmt.Errorf("webhook: push payload missing repository or ref")
	}

	// Tag pushes arrive as push deliveries with a refs/tags ref.
	if tag, ok := strings.CutPrefix(p.Ref, "refs/tags/"); ok {
		return model.TagEvent{Repo: p.Repository.FullName, Tag: tag, Commit: p.After}, nil
	}
	branch, ok := strings.CutPrefix(p.Ref, "refs/heads/")
	if !ok {
		return nil, fmt.Errorf("webhook: push ref %q is neither a branch nor a tag", p.Ref)
	}
	// A branch deletion also arrives as a push with a zero after SHA;
	// the delete delivery covers it.
	if p.After == strings.Repeat("0", 40) {
		return nil, nil
	}
	return model.PushEvent{Repo: p.Repository.FullName, Branch: branch, Commit: p.After}, nil
}

func normalizePullRequest(payload []byte) (model.RepositoryEvent, error) {
	var p pullRequestPayload
	if err := decode(eventPullRequest, payload, &p); err != nil {
		return nil, err
	}
	if p.Repository.FullName == "" || p.PullRequest.Base.Ref == "" {
		return nil, fmt.Errorf("webhook: pull_request payload missing repository or base ref")
	}

	switch p.Action {
	case "opened", "reopened", "synchronize":
		return model.PullRequestEvent{
			Repo:         p.Repository.FullName,
			SourceBranch: p.PullRequest.Head.Ref,
			TargetBranch: p.PullRequest.Base.Ref,
			Number:       p.Number,
			Title:        p.PullRequest.Title,
		}, nil
	case "closed":
		if !p.PullRequest.Merged {
			return nil, nil
		}
		return model.MergeEvent{
			Repo:         p.Repository.FullName,
			SourceBranch: p.PullRequest.Head.Ref,
			TargetBranch: p.PullRequest.Base.Ref,
			Commit:       p.PullRequest.MergeCommitSHA,
		}, nil
	default:
		return nil, nil
	}
}

func normalizeCreate(payload []byte) (model.RepositoryEvent, error) {
	var p refPayload
	if err := decode(eventCreate, payload, &p); err != nil {
		return nil, err
	}
	if p.Repository.FullName == "" || p.Ref == "" {
		return nil, fmt.Errorf("webhook: create payload missing repository or ref")
	}
	switch p.RefType {
	case "tag":
		return model.TagEvent{Repo: p.Repository.FullName, Tag: p.Ref}, nil
	case "branch":
		return model.BranchCreatedEvent{Repo: p.Repository.FullName, Branch: p.Ref}, nil
	default:
		return nil, fmt.Errorf("webhook: create with unknown ref_type %q", p.RefType)
	}
}

func normalizeDelete(payload []byte) (model.RepositoryEvent, error) {
	var p refPayload
	if err := decode(eventDelete, payload, &p); err != nil {
		return nil, err
	}
	if p.Repository.FullName == "" || p.Ref == "" {
		return nil, fmt.Errorf("webhook: delete payload missing repository or ref")
	}
	switch p.RefType {
	case "branch":
		return model.BranchDeletedEvent{Repo: p.Repository.FullName, Branch: p.Ref}, nil
	case "tag":
		// No trigger kind reacts to tag deletion.
		return nil, nil
	default:
		return nil, fmt.Errorf("webhook: delete with unknown ref_type %q", p.RefType)
	}
}

func normalizeRelease(payload []byte) (model.RepositoryEvent, error) {
	var p releasePayload
	if err := decode(eventRelease, payload, &p); err != nil {
		return nil, err
	}
	if p.Repository.FullName == "" || p.Release.TagName == "" {
		return nil, fmt.Errorf("webhook: release payload missing repository or tag")
	}
	if p.Action != "published" {
		return nil, nil
	}
	return model.ReleaseEvent{Repo: p.Repository.FullName, Tag: p.Release.TagName}, nil
}
