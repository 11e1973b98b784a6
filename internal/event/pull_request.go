package event

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/go-github/v57/github"
)

// PullRequestAction enumerates actions we care about from pull_request events.
type PullRequestAction string

const (
	PullRequestActionClosed  PullRequestAction = "closed"
	PullRequestActionLabeled PullRequestAction = "labeled"
)

// Supported reports whether the action can trigger a cherry-pick.
func (a PullRequestAction) Supported() bool {
	return a == PullRequestActionClosed || a == PullRequestActionLabeled
}

// PullRequestPayload captures the subset of GitHub pull_request event data used by the action.
type PullRequestPayload struct {
	Action      PullRequestAction
	Repository  Repository
	PullRequest PullRequest
	LabelName   string
	Sender      string
}

// Repository identifies the owner/name of the repository where the event originated.
type Repository struct {
	Owner string
	Name  string
}

// PullRequest identifies the pull request the event refers to. The orchestrator
// reads everything else from the API.
type PullRequest struct {
	Number    int
	Merged    bool
	HeadOwner string
	HeadRepo  string
}

// IsFromFork reports whether the head branch lives in a different repository.
func (p PullRequestPayload) IsFromFork() bool {
	head := p.PullRequest
	if head.HeadOwner == "" {
		return false
	}
	return !strings.EqualFold(head.HeadOwner, p.Repository.Owner) || (head.HeadRepo != "" && !strings.EqualFold(head.HeadRepo, p.Repository.Name))
}

// ParsePullRequestEvent decodes a GitHub pull_request event payload from the provided reader.
func ParsePullRequestEvent(r io.Reader) (PullRequestPayload, error) {
	var raw github.PullRequestEvent

	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return PullRequestPayload{}, fmt.Errorf("decode pull_request event: %w", err)
	}

	pr := raw.GetPullRequest()
	payload := PullRequestPayload{
		Action: PullRequestAction(strings.ToLower(strings.TrimSpace(raw.GetAction()))),
		Repository: Repository{
			Owner: strings.TrimSpace(raw.GetRepo().GetOwner().GetLogin()),
			Name:  strings.TrimSpace(raw.GetRepo().GetName()),
		},
		PullRequest: PullRequest{
			Number:    pr.GetNumber(),
			Merged:    pr.GetMerged(),
			HeadOwner: strings.TrimSpace(pr.GetHead().GetRepo().GetOwner().GetLogin()),
			HeadRepo:  strings.TrimSpace(pr.GetHead().GetRepo().GetName()),
		},
		Sender: strings.TrimSpace(raw.GetSender().GetLogin()),
	}

	if raw.Label != nil {
		payload.LabelName = strings.TrimSpace(raw.Label.GetName())
	}

	return payload, nil
}

// ParsePullRequestEventFile reads the event JSON from disk.
func ParsePullRequestEventFile(path string) (PullRequestPayload, error) {
	f, err := os.Open(path)
	if err != nil {
		return PullRequestPayload{}, fmt.Errorf("open event file: %w", err)
	}
	defer func() {
		if closeErr := f.Close(); closeErr != nil {
			fmt.Fprintf(os.Stderr, "failed to close event file: %v\n", closeErr)
		}
	}()

	payload, err := ParsePullRequestEvent(f)
	if err != nil {
		return PullRequestPayload{}, err
	}

	return payload, nil
}
