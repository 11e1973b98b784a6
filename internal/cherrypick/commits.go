package cherrypick

import (
	"context"
	"fmt"

	gh "github.com/release-tools/cherry-pick-action/internal/github"
)

// FetchCommits returns the commits of a pull request, oldest first.
func FetchCommits(ctx context.Context, lister gh.CommitLister, owner, repo string, number int) ([]gh.Commit, error) {
	commits, err := lister.ListPullRequestCommits(ctx, owner, repo, number)
	if err != nil {
		return nil, fmt.Errorf("fetch commits of pull request #%d: %w", number, err)
	}
	return commits, nil
}

// FetchCommitDetail reads commit sha and rejects commits that cannot be replayed
// onto another branch (merge commits and root commits).
func FetchCommitDetail(ctx context.Context, client gh.GitClient, owner, repo, sha string) (gh.Commit, error) {
	commit, err := client.GetCommit(ctx, owner, repo, sha)
	if err != nil {
		return gh.Commit{}, fmt.Errorf("fetch commit %s: %w", shortSHA(sha), err)
	}

	switch len(commit.Parents) {
	case 1:
		return commit, nil
	case 0:
		return gh.Commit{}, fmt.Errorf("commit %s: %w", shortSHA(sha), ErrRootCommit)
	default:
		return gh.Commit{}, &UnsupportedMergeCommitError{Commit: sha, Parents: commit.Parents}
	}
}

// CommitSHAs returns the sha of every commit in order.
func CommitSHAs(commits []gh.Commit) []string {
	shas := make([]string, 0, len(commits))
	for _, commit := range commits {
		shas = append(shas, commit.SHA)
	}
	return shas
}
