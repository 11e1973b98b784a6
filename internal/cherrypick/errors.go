package cherrypick

import (
	"errors"
	"fmt"
)

// ErrRootCommit is returned for commits without a parent; there is no base to replay them from.
var ErrRootCommit = errors.New("cherrypick: root commits cannot be cherry-picked")

// MergeConflictError reports that the server-side merge of Commit onto Ref failed.
type MergeConflictError struct {
	Commit string
	Ref    string
	Err    error
}

func (e *MergeConflictError) Error() string {
	return fmt.Sprintf("merge conflict while cherry-picking %s onto %s", shortSHA(e.Commit), e.Ref)
}

func (e *MergeConflictError) Unwrap() error {
	return e.Err
}

// UnsupportedMergeCommitError reports a commit with more than one parent. Only linear
// history can be replayed.
type UnsupportedMergeCommitError struct {
	Commit  string
	Parents []string
}

func (e *UnsupportedMergeCommitError) Error() string {
	return fmt.Sprintf("commit %s has %d parents; merge commits cannot be cherry-picked", shortSHA(e.Commit), len(e.Parents))
}

// CleanupError reports that a temporary ref could not be deleted.
type CleanupError struct {
	Ref string
	Err error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("delete temporary ref %s: %v", e.Ref, e.Err)
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
