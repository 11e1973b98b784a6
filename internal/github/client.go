package gh

import (
	"context"
	"errors"
	"time"
)

// PRMetadata contains source pull request details needed for cherry-pick operations.
type PRMetadata struct {
	Owner     string
	Repo      string
	Number    int
	Title     string
	Body      string
	URL       string
	HeadRef   string
	HeadRepo  string
	HeadOwner string
	Labels    []string
	Assignees []string
	IsMerged  bool
}

// SourceOwner returns the owner of the repository the pull request commits live in. For
// pull requests opened from a fork this differs from Owner.
func (m PRMetadata) SourceOwner() string {
	if m.HeadOwner != "" {
		return m.HeadOwner
	}
	return m.Owner
}

// SourceRepo returns the name of the repository the pull request commits live in. A
// fork may have been renamed, so it can differ from Repo.
func (m PRMetadata) SourceRepo() string {
	if m.HeadRepo != "" {
		return m.HeadRepo
	}
	return m.Repo
}

// CherryPickPR represents a cherry-pick pull request, either newly created or found open.
type CherryPickPR struct {
	URL    string
	Number int
	Head   string
	Base   string
}

// Signature identifies the author or committer of a commit.
type Signature struct {
	Name  string
	Email string
	Date  time.Time
}

// Commit is a read-only snapshot of a git commit object.
type Commit struct {
	SHA       string
	Tree      string
	Message   string
	Author    Signature
	Committer Signature
	Parents   []string
}

// NewCommit describes a commit to be created through the git data API.
type NewCommit struct {
	Tree      string
	Parents   []string
	Message   string
	Author    *Signature
	Committer *Signature
}

// MergeResult is the outcome of a server-side merge. Both fields are empty when the
// head was already contained in the base and nothing was merged.
type MergeResult struct {
	SHA  string
	Tree string
}

// GitClient exposes the git data primitives (refs, commits, merges) the cherry-pick
// engine is built from. Ref names are branch names without the refs/heads/ prefix.
type GitClient interface {
	GetRef(ctx context.Context, owner, repo, ref string) (string, error)
	CreateRef(ctx context.Context, owner, repo, ref, sha string) error
	UpdateRef(ctx context.Context, owner, repo, ref, sha string, force bool) error
	DeleteRef(ctx context.Context, owner, repo, ref string) error
	GetCommit(ctx context.Context, owner, repo, sha string) (Commit, error)
	CreateCommit(ctx context.Context, owner, repo string, commit NewCommit) (string, error)
	Merge(ctx context.Context, owner, repo, base, head, message string) (MergeResult, error)
}

// CommitLister lists the commits of a pull request.
type CommitLister interface {
	ListPullRequestCommits(ctx context.Context, owner, repo string, number int) ([]Commit, error)
}

// Client exposes the GitHub operations required by the cherry-pick orchestrator.
type Client interface {
	GitClient
	CommitLister
	GetPullRequest(ctx context.Context, owner, repo string, number int) (PRMetadata, error)
	FindOpenPullRequest(ctx context.Context, owner, repo, head, base string) (*CherryPickPR, error)
	CreatePullRequest(ctx context.Context, owner, repo string, input CreatePROptions) (CherryPickPR, error)
	CommentOnPullRequest(ctx context.Context, owner, repo string, number int, body string) error
}

// CreatePROptions defines the metadata required to open a cherry-pick PR.
type CreatePROptions struct {
	Title               string
	Body                string
	Head                string
	Base                string
	Draft               bool
	Labels              []string
	Assignees           []string
	MaintainerCanModify bool
}

// Factory builds concrete GitHub clients (e.g., REST-backed) for the orchestrator.
type Factory interface {
	New(ctx context.Context, token string) (Client, error)
}

var (
	// ErrRefNotFound indicates the requested reference does not exist.
	ErrRefNotFound = errors.New("github: reference not found")
	// ErrRefAlreadyExists indicates a reference with the requested name is already present.
	ErrRefAlreadyExists = errors.New("github: reference already exists")
	// ErrNotFastForward indicates a non-forced ref update was rejected because the new
	// commit does not descend from the ref's current commit.
	ErrNotFastForward = errors.New("github: update is not a fast forward")
	// ErrMergeConflict indicates the server could not merge head into base.
	ErrMergeConflict = errors.New("github: merge conflict")
)

// retryableError marks an error that may succeed if the operation is retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	if e == nil || e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.err
}

// IsRetryable reports whether the supplied error resulted from a transient GitHub
// API failure (for example, a network timeout or rate-limited request). Nothing in
// the action retries; the classification only tells users a re-run may succeed.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var target *retryableError
	return errors.As(err, &target)
}
