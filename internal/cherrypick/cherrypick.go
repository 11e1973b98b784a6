// Package cherrypick replays commits onto a branch using only git data API primitives
// (refs, commits and server-side merges); no working tree is involved.
//
// Each commit C is replayed on a temporary ref in three steps:
//
//  1. a sibling commit is created with the current head's tree and C's parent as its
//     parent, and the temporary ref is forced onto it;
//  2. C is merged into the temporary ref by the server, whose merge base is then C's
//     parent, so the resulting tree is the head tree plus the changes introduced by C;
//  3. a commit with the merged tree, the previous head as its only parent and C's
//     metadata replaces the sibling and the merge commit on the temporary ref.
//
// The real branch is only moved once, with a fast-forward-only update, after every
// commit has been replayed.
package cherrypick

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	gh "github.com/release-tools/cherry-pick-action/internal/github"
)

// Engine replays commits onto branches through a gh.GitClient.
type Engine struct {
	client gh.GitClient
	log    *slog.Logger
}

// Request describes a cherry-pick of Commits onto Branch in Owner/Repo. Commit details are
// read from SourceOwner/SourceRepo, which differ for pull requests opened from forks; both
// default to Owner/Repo.
type Request struct {
	Owner       string
	SourceOwner string
	SourceRepo  string
	Repo        string
	Commits     []string
	Branch      string
}

// HeadState tracks the tip of the ref commits are replayed onto.
type HeadState struct {
	Ref  string
	SHA  string
	Tree string
}

// Result is the outcome of a successful cherry-pick.
type Result struct {
	SHA     string
	Tree    string
	Commits []string
}

// New returns an Engine. A nil logger discards output.
func New(client gh.GitClient, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{client: client, log: logger}
}

// CherryPick replays req.Commits, in order, onto req.Branch and returns the new head.
//
// Every commit is validated before anything is written. On failure the branch is left
// where it was and the error is a *MergeConflictError, a *UnsupportedMergeCommitError,
// gh.ErrNotFastForward (the branch moved while the commits were replayed) or an API error.
func (e *Engine) CherryPick(ctx context.Context, req Request) (Result, error) {
	if e.client == nil {
		return Result{}, fmt.Errorf("github client is required")
	}
	if req.Owner == "" || req.Repo == "" || req.Branch == "" {
		return Result{}, fmt.Errorf("owner, repo and branch are required")
	}

	sourceOwner := req.SourceOwner
	if sourceOwner == "" {
		sourceOwner = req.Owner
	}
	sourceRepo := req.SourceRepo
	if sourceRepo == "" {
		sourceRepo = req.Repo
	}

	log := e.log.With("owner", req.Owner, "repo", req.Repo, "branch", req.Branch)

	initial, err := e.client.GetRef(ctx, req.Owner, req.Repo, req.Branch)
	if err != nil {
		return Result{}, fmt.Errorf("read branch %s: %w", req.Branch, err)
	}

	details := make([]gh.Commit, 0, len(req.Commits))
	for _, sha := range req.Commits {
		commit, err := FetchCommitDetail(ctx, e.client, sourceOwner, sourceRepo, sha)
		if err != nil {
			return Result{}, err
		}
		details = append(details, commit)
	}

	headCommit, err := e.client.GetCommit(ctx, req.Owner, req.Repo, initial)
	if err != nil {
		return Result{}, fmt.Errorf("read head commit %s: %w", shortSHA(initial), err)
	}
	head := HeadState{Ref: req.Branch, SHA: initial, Tree: headCommit.Tree}

	if len(details) == 0 {
		log.Debug("nothing to cherry-pick", "sha", initial)
		return Result{SHA: head.SHA, Tree: head.Tree}, nil
	}

	result := Result{Commits: make([]string, 0, len(details))}
	published := false

	err = WithTemporaryRef(ctx, e.client, req.Owner, req.Repo, "cherry-pick-"+req.Branch, initial, func(ctx context.Context, ref string) error {
		head.Ref = ref
		log.Debug("created temporary ref", "ref", ref, "sha", initial)

		for _, commit := range details {
			next, err := e.replay(ctx, req.Owner, req.Repo, head, commit, log)
			if errors.Is(err, gh.ErrMergeConflict) {
				return &MergeConflictError{Commit: commit.SHA, Ref: req.Branch, Err: err}
			}
			if err != nil {
				return fmt.Errorf("cherry-pick %s: %w", shortSHA(commit.SHA), err)
			}
			head = next
			result.Commits = append(result.Commits, next.SHA)
		}

		if err := e.client.UpdateRef(ctx, req.Owner, req.Repo, req.Branch, head.SHA, false); err != nil {
			return fmt.Errorf("update branch %s to %s: %w", req.Branch, shortSHA(head.SHA), err)
		}
		published = true
		return nil
	})

	var cleanupErr *CleanupError
	if published && errors.As(err, &cleanupErr) {
		log.Warn("failed to delete temporary ref", "ref", cleanupErr.Ref, "error", cleanupErr.Err)
		err = nil
	}
	if err != nil {
		return Result{}, err
	}

	result.SHA = head.SHA
	result.Tree = head.Tree
	log.Info("cherry-picked commits", "count", len(result.Commits), "sha", result.SHA)
	return result, nil
}

func (e *Engine) replay(ctx context.Context, owner, repo string, head HeadState, commit gh.Commit, log *slog.Logger) (HeadState, error) {
	log = log.With("commit", shortSHA(commit.SHA), "ref", head.Ref)

	author, committer := commit.Author, commit.Committer

	log.Debug("creating sibling commit", "tree", head.Tree)
	sibling, err := e.client.CreateCommit(ctx, owner, repo, gh.NewCommit{
		Tree:      head.Tree,
		Parents:   []string{commit.Parents[0]},
		Message:   skipCIMessage("Sibling of " + commit.SHA),
		Author:    &author,
		Committer: &committer,
	})
	if err != nil {
		return HeadState{}, fmt.Errorf("create sibling commit: %w", err)
	}
	if err := e.client.UpdateRef(ctx, owner, repo, head.Ref, sibling, true); err != nil {
		return HeadState{}, fmt.Errorf("move %s to sibling commit: %w", head.Ref, err)
	}

	log.Debug("merging", "sibling", shortSHA(sibling))
	merged, err := e.client.Merge(ctx, owner, repo, head.Ref, commit.SHA, skipCIMessage(fmt.Sprintf("Merge %s into %s", commit.SHA, head.Ref)))
	if err != nil {
		return HeadState{}, fmt.Errorf("merge: %w", err)
	}

	tree := merged.Tree
	if tree == "" {
		tree = head.Tree
	}

	log.Debug("creating commit with merged tree", "tree", tree)
	sha, err := e.client.CreateCommit(ctx, owner, repo, gh.NewCommit{
		Tree:      tree,
		Parents:   []string{head.SHA},
		Message:   commit.Message,
		Author:    &author,
		Committer: &committer,
	})
	if err != nil {
		return HeadState{}, fmt.Errorf("create commit: %w", err)
	}

	// Replaces both the sibling and the merge commit with a single linear commit.
	if err := e.client.UpdateRef(ctx, owner, repo, head.Ref, sha, true); err != nil {
		return HeadState{}, fmt.Errorf("move %s to %s: %w", head.Ref, shortSHA(sha), err)
	}

	return HeadState{Ref: head.Ref, SHA: sha, Tree: tree}, nil
}

// skipCIMessage tags a message so that CI does not run for auxiliary commits.
func skipCIMessage(title string) string {
	return title + " [skip ci]\n\n\nskip-checks: true\n"
}
