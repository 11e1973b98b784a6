package gh

import (
	"context"
	"fmt"
	"net/http"

	github "github.com/google/go-github/v57/github"
)

// headRef qualifies a branch name the way the git refs endpoints expect it. The name is
// taken verbatim: "heads/x" is a branch called "heads/x".
func headRef(branch string) string {
	return "heads/" + branch
}

func (c *restClient) GetRef(ctx context.Context, owner, repo, ref string) (string, error) {
	reference, resp, err := c.client.Git.GetRef(ctx, owner, repo, headRef(ref))
	if err != nil {
		if isNotFound(resp, err) {
			return "", fmt.Errorf("get ref %s: %w", ref, ErrRefNotFound)
		}
		return "", fmt.Errorf("get ref %s: %w", ref, classifyGitHubError(err))
	}

	sha := reference.GetObject().GetSHA()
	if sha == "" {
		return "", fmt.Errorf("get ref %s: response carried no commit sha", ref)
	}
	return sha, nil
}

func (c *restClient) CreateRef(ctx context.Context, owner, repo, ref, sha string) error {
	reference := &github.Reference{
		Ref:    github.String("refs/" + headRef(ref)),
		Object: &github.GitObject{SHA: github.String(sha)},
	}

	if _, _, err := c.client.Git.CreateRef(ctx, owner, repo, reference); err != nil {
		if statusCode(err) == http.StatusUnprocessableEntity && errorMentions(err, "already exists") {
			return fmt.Errorf("create ref %s: %w: %w", ref, ErrRefAlreadyExists, err)
		}
		return fmt.Errorf("create ref %s: %w", ref, classifyGitHubError(err))
	}
	return nil
}

func (c *restClient) UpdateRef(ctx context.Context, owner, repo, ref, sha string, force bool) error {
	reference := &github.Reference{
		Ref:    github.String(headRef(ref)),
		Object: &github.GitObject{SHA: github.String(sha)},
	}

	if _, resp, err := c.client.Git.UpdateRef(ctx, owner, repo, reference, force); err != nil {
		if !force && statusCode(err) == http.StatusUnprocessableEntity && errorMentions(err, "fast forward") {
			return fmt.Errorf("update ref %s to %s: %w: %w", ref, sha, ErrNotFastForward, err)
		}
		if isNotFound(resp, err) {
			return fmt.Errorf("update ref %s: %w", ref, ErrRefNotFound)
		}
		return fmt.Errorf("update ref %s to %s: %w", ref, sha, classifyGitHubError(err))
	}
	return nil
}

func (c *restClient) DeleteRef(ctx context.Context, owner, repo, ref string) error {
	resp, err := c.client.Git.DeleteRef(ctx, owner, repo, headRef(ref))
	if err != nil {
		// GitHub answers 422 "Reference does not exist" for refs that are already gone.
		if isNotFound(resp, err) || errorMentions(err, "does not exist") {
			return fmt.Errorf("delete ref %s: %w", ref, ErrRefNotFound)
		}
		return fmt.Errorf("delete ref %s: %w", ref, classifyGitHubError(err))
	}
	return nil
}

func (c *restClient) GetCommit(ctx context.Context, owner, repo, sha string) (Commit, error) {
	raw, _, err := c.client.Git.GetCommit(ctx, owner, repo, sha)
	if err != nil {
		return Commit{}, fmt.Errorf("get commit %s: %w", sha, classifyGitHubError(err))
	}

	commit := fromGitHubCommit(raw)
	if commit.SHA == "" {
		commit.SHA = sha
	}
	return commit, nil
}

func (c *restClient) CreateCommit(ctx context.Context, owner, repo string, commit NewCommit) (string, error) {
	parents := make([]*github.Commit, 0, len(commit.Parents))
	for _, parent := range commit.Parents {
		parents = append(parents, &github.Commit{SHA: github.String(parent)})
	}

	created, _, err := c.client.Git.CreateCommit(ctx, owner, repo, &github.Commit{
		Message:   github.String(commit.Message),
		Tree:      &github.Tree{SHA: github.String(commit.Tree)},
		Parents:   parents,
		Author:    toCommitAuthor(commit.Author),
		Committer: toCommitAuthor(commit.Committer),
	}, nil)
	if err != nil {
		return "", fmt.Errorf("create commit on tree %s: %w", commit.Tree, classifyGitHubError(err))
	}

	return created.GetSHA(), nil
}

func (c *restClient) Merge(ctx context.Context, owner, repo, base, head, message string) (MergeResult, error) {
	merged, resp, err := c.client.Repositories.Merge(ctx, owner, repo, &github.RepositoryMergeRequest{
		Base:          github.String(base),
		Head:          github.String(head),
		CommitMessage: github.String(message),
	})
	if err != nil {
		if statusCode(err) == http.StatusConflict {
			return MergeResult{}, fmt.Errorf("merge %s into %s: %w: %w", head, base, ErrMergeConflict, err)
		}
		return MergeResult{}, fmt.Errorf("merge %s into %s: %w", head, base, classifyGitHubError(err))
	}

	if resp != nil && resp.StatusCode == http.StatusNoContent {
		return MergeResult{}, nil
	}

	return MergeResult{
		SHA:  merged.GetSHA(),
		Tree: merged.GetCommit().GetTree().GetSHA(),
	}, nil
}

func fromGitHubCommit(raw *github.Commit) Commit {
	return Commit{
		SHA:       raw.GetSHA(),
		Tree:      raw.GetTree().GetSHA(),
		Message:   raw.GetMessage(),
		Author:    fromCommitAuthor(raw.GetAuthor()),
		Committer: fromCommitAuthor(raw.GetCommitter()),
		Parents:   parentSHAs(raw.Parents),
	}
}

func parentSHAs(parents []*github.Commit) []string {
	if len(parents) == 0 {
		return nil
	}
	shas := make([]string, 0, len(parents))
	for _, parent := range parents {
		if sha := parent.GetSHA(); sha != "" {
			shas = append(shas, sha)
		}
	}
	return shas
}

func fromCommitAuthor(author *github.CommitAuthor) Signature {
	return Signature{
		Name:  author.GetName(),
		Email: author.GetEmail(),
		Date:  author.GetDate().Time,
	}
}

func toCommitAuthor(sig *Signature) *github.CommitAuthor {
	if sig == nil || (sig.Name == "" && sig.Email == "") {
		return nil
	}

	author := &github.CommitAuthor{
		Name:  github.String(sig.Name),
		Email: github.String(sig.Email),
	}
	if !sig.Date.IsZero() {
		author.Date = &github.Timestamp{Time: sig.Date}
	}
	return author
}
