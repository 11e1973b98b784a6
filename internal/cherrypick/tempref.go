package cherrypick

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	gh "github.com/release-tools/cherry-pick-action/internal/github"
)

// TemporaryRef is a uniquely named branch owned by the operation that created it.
type TemporaryRef struct {
	client  gh.GitClient
	owner   string
	repo    string
	name    string
	deleted bool
}

// CreateTemporaryRef creates a branch named <prefix>-<uuid> pointing at sha.
func CreateTemporaryRef(ctx context.Context, client gh.GitClient, owner, repo, prefix, sha string) (*TemporaryRef, error) {
	name := fmt.Sprintf("%s-%s", prefix, uuid.NewString())
	if err := client.CreateRef(ctx, owner, repo, name, sha); err != nil {
		return nil, fmt.Errorf("create temporary ref %s: %w", name, err)
	}
	return &TemporaryRef{client: client, owner: owner, repo: repo, name: name}, nil
}

// Name returns the branch name of the temporary ref.
func (r *TemporaryRef) Name() string {
	return r.name
}

// Delete removes the ref. Calling it again, or on a ref that is already gone, is a no-op.
func (r *TemporaryRef) Delete(ctx context.Context) error {
	if r.deleted {
		return nil
	}

	err := r.client.DeleteRef(ctx, r.owner, r.repo, r.name)
	if err != nil && !errors.Is(err, gh.ErrRefNotFound) {
		return &CleanupError{Ref: r.name, Err: err}
	}

	r.deleted = true
	return nil
}

// WithTemporaryRef creates a temporary ref at seedSHA, runs action with its name and
// deletes the ref afterwards whatever the outcome. Deletion runs on a context that
// survives cancellation of ctx.
//
// If action fails, its error is returned (joined with a *CleanupError when deletion
// also fails). If only deletion fails, the *CleanupError is returned on its own.
func WithTemporaryRef(ctx context.Context, client gh.GitClient, owner, repo, prefix, seedSHA string, action func(ctx context.Context, ref string) error) (err error) {
	ref, err := CreateTemporaryRef(ctx, client, owner, repo, prefix, seedSHA)
	if err != nil {
		return err
	}

	defer func() {
		cleanupErr := ref.Delete(context.WithoutCancel(ctx))
		if cleanupErr == nil {
			return
		}
		if err != nil {
			err = errors.Join(err, cleanupErr)
			return
		}
		err = cleanupErr
	}()

	return action(ctx, ref.Name())
}
