// Package ghfake provides an in-memory implementation of gh.Client for tests.
//
// Commits and trees are shared by every repository (as in a GitHub fork network);
// refs and pull requests are scoped to owner/repo. Trees are flat maps from path to
// file content and Merge performs a real three-way merge on them, so conflicts are
// detected at content level the way the hosting API detects them.
package ghfake

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	gh "github.com/release-tools/cherry-pick-action/internal/github"
)

// Call records a single client invocation.
type Call struct {
	Method string
	Owner  string
	Repo   string
	Args   []string
}

// Comment is a review comment posted through CommentOnPullRequest.
type Comment struct {
	Owner  string
	Repo   string
	Number int
	Body   string
}

// CreatedPR pairs the options a pull request was opened with and the recorded result.
type CreatedPR struct {
	Owner   string
	Repo    string
	Options gh.CreatePROptions
	PR      gh.CherryPickPR
}

// Client is the in-memory fake. The zero value is not usable; call New.
type Client struct {
	// Errors forces the named method (e.g. "CreatePullRequest") to fail with the given error.
	Errors map[string]error
	// OnCall runs at the start of every client method, before any state is read.
	OnCall func(method string, args ...string)

	owner string
	repo  string

	mu       sync.Mutex
	commits  map[string]gh.Commit
	trees    map[string]map[string]string
	refs     map[string]map[string]string
	pulls    map[string]map[int]gh.PRMetadata
	prCommit map[string]map[int][]string
	created  []CreatedPR
	comments []Comment
	calls    []Call
	nextPR   int
}

var _ gh.Client = (*Client)(nil)

// DefaultSignature authors commits created through the helpers when none is given.
var DefaultSignature = gh.Signature{
	Name:  "Octo Cat",
	Email: "octocat@example.com",
	Date:  time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC),
}

// New returns an empty fake whose helpers operate on owner/repo.
func New(owner, repo string) *Client {
	c := &Client{
		owner:    owner,
		repo:     repo,
		commits:  make(map[string]gh.Commit),
		trees:    make(map[string]map[string]string),
		refs:     make(map[string]map[string]string),
		pulls:    make(map[string]map[int]gh.PRMetadata),
		prCommit: make(map[string]map[int][]string),
		nextPR:   1000,
	}
	c.trees[treeID(nil)] = map[string]string{}
	return c
}

// Factory returns a gh.Factory that always hands out c.
func (c *Client) Factory() gh.Factory {
	return factory{client: c}
}

type factory struct {
	client *Client
}

func (f factory) New(context.Context, string) (gh.Client, error) {
	return f.client, nil
}

// CommitSpec describes a commit created with CommitWith. Files are applied on top of
// the first parent's tree; an empty content deletes the path.
type CommitSpec struct {
	Parents   []string
	Files     map[string]string
	Message   string
	Author    gh.Signature
	Committer gh.Signature
}

// Commit creates a single-parent commit (or a root commit when parent is empty)
// applying files on top of the parent's tree.
func (c *Client) Commit(parent string, files map[string]string, message string) string {
	var parents []string
	if parent != "" {
		parents = []string{parent}
	}
	return c.CommitWith(CommitSpec{Parents: parents, Files: files, Message: message})
}

// CommitWith creates a commit from spec and returns its sha.
func (c *Client) CommitWith(spec CommitSpec) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	base := map[string]string{}
	if len(spec.Parents) > 0 {
		parent, ok := c.commits[spec.Parents[0]]
		if !ok {
			panic(fmt.Sprintf("ghfake: unknown parent %s", spec.Parents[0]))
		}
		base = c.trees[parent.Tree]
	}

	files := make(map[string]string, len(base)+len(spec.Files))
	for path, content := range base {
		files[path] = content
	}
	for path, content := range spec.Files {
		if content == "" {
			delete(files, path)
			continue
		}
		files[path] = content
	}

	author := spec.Author
	if author == (gh.Signature{}) {
		author = DefaultSignature
	}
	committer := spec.Committer
	if committer == (gh.Signature{}) {
		committer = author
	}

	return c.storeCommit(gh.Commit{
		Tree:      c.storeTree(files),
		Message:   spec.Message,
		Author:    author,
		Committer: committer,
		Parents:   append([]string(nil), spec.Parents...),
	})
}

// SetRef points branch of the default repository at sha, creating it when needed.
func (c *Client) SetRef(branch, sha string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.repoRefs(c.owner, c.repo)[branch] = sha
}

// Ref returns the sha branch of the default repository points at.
func (c *Client) Ref(branch string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sha, ok := c.repoRefs(c.owner, c.repo)[branch]
	return sha, ok
}

// Branches lists the branches of the default repository in sorted order.
func (c *Client) Branches() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	branches := make([]string, 0)
	for name := range c.repoRefs(c.owner, c.repo) {
		branches = append(branches, name)
	}
	sort.Strings(branches)
	return branches
}

// Files returns a copy of the tree content of commit sha.
func (c *Client) Files(sha string) map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()

	commit, ok := c.commits[sha]
	if !ok {
		return nil
	}
	files := make(map[string]string, len(c.trees[commit.Tree]))
	for path, content := range c.trees[commit.Tree] {
		files[path] = content
	}
	return files
}

// CommitInfo returns the stored commit object for sha.
func (c *Client) CommitInfo(sha string) (gh.Commit, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	commit, ok := c.commits[sha]
	return commit, ok
}

// CommitCount returns how many distinct commit objects exist.
func (c *Client) CommitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.commits)
}

// AddPullRequest registers pr (in pr.Owner/pr.Repo, defaulting to the default
// repository) together with the commits it contains, oldest first.
func (c *Client) AddPullRequest(pr gh.PRMetadata, commits ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if pr.Owner == "" {
		pr.Owner = c.owner
	}
	if pr.Repo == "" {
		pr.Repo = c.repo
	}
	key := repoKey(pr.Owner, pr.Repo)
	if c.pulls[key] == nil {
		c.pulls[key] = make(map[int]gh.PRMetadata)
		c.prCommit[key] = make(map[int][]string)
	}
	c.pulls[key][pr.Number] = pr
	c.prCommit[key][pr.Number] = append([]string(nil), commits...)
}

// OpenPullRequest registers an already open pull request from head (owner:branch) into base.
func (c *Client) OpenPullRequest(head, base string) gh.CherryPickPR {
	c.mu.Lock()
	defer c.mu.Unlock()

	pr := c.recordPR(c.owner, c.repo, gh.CreatePROptions{Head: strings.TrimPrefix(head, c.owner+":"), Base: base})
	return pr
}

// CreatedPRs returns the pull requests opened through the client.
func (c *Client) CreatedPRs() []CreatedPR {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]CreatedPR(nil), c.created...)
}

// Comments returns the review comments posted through the client.
func (c *Client) Comments() []Comment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Comment(nil), c.comments...)
}

// Calls returns every recorded invocation.
func (c *Client) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Call(nil), c.calls...)
}

// Count returns how many times method was invoked.
func (c *Client) Count(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, call := range c.calls {
		if call.Method == method {
			n++
		}
	}
	return n
}

func (c *Client) begin(method, owner, repo string, args ...string) error {
	if c.OnCall != nil {
		c.OnCall(method, args...)
	}

	c.mu.Lock()
	c.calls = append(c.calls, Call{Method: method, Owner: owner, Repo: repo, Args: args})
	c.mu.Unlock()

	if err, ok := c.Errors[method]; ok && err != nil {
		return err
	}
	return nil
}

func (c *Client) GetRef(_ context.Context, owner, repo, ref string) (string, error) {
	if err := c.begin("GetRef", owner, repo, ref); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	sha, ok := c.repoRefs(owner, repo)[ref]
	if !ok {
		return "", fmt.Errorf("get ref %s: %w", ref, gh.ErrRefNotFound)
	}
	return sha, nil
}

func (c *Client) CreateRef(_ context.Context, owner, repo, ref, sha string) error {
	if err := c.begin("CreateRef", owner, repo, ref, sha); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	refs := c.repoRefs(owner, repo)
	if _, exists := refs[ref]; exists {
		return fmt.Errorf("create ref %s: %w", ref, gh.ErrRefAlreadyExists)
	}
	if _, ok := c.commits[sha]; !ok {
		return fmt.Errorf("create ref %s: unknown object %s", ref, sha)
	}
	refs[ref] = sha
	return nil
}

func (c *Client) UpdateRef(_ context.Context, owner, repo, ref, sha string, force bool) error {
	if err := c.begin("UpdateRef", owner, repo, ref, sha, fmt.Sprintf("force=%t", force)); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	refs := c.repoRefs(owner, repo)
	current, ok := refs[ref]
	if !ok {
		return fmt.Errorf("update ref %s: %w", ref, gh.ErrRefNotFound)
	}
	if _, ok := c.commits[sha]; !ok {
		return fmt.Errorf("update ref %s: unknown object %s", ref, sha)
	}
	if !force && !c.isAncestor(current, sha) {
		return fmt.Errorf("update ref %s to %s: %w", ref, sha, gh.ErrNotFastForward)
	}
	refs[ref] = sha
	return nil
}

func (c *Client) DeleteRef(_ context.Context, owner, repo, ref string) error {
	if err := c.begin("DeleteRef", owner, repo, ref); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	refs := c.repoRefs(owner, repo)
	if _, ok := refs[ref]; !ok {
		return fmt.Errorf("delete ref %s: %w", ref, gh.ErrRefNotFound)
	}
	delete(refs, ref)
	return nil
}

func (c *Client) GetCommit(_ context.Context, owner, repo, sha string) (gh.Commit, error) {
	if err := c.begin("GetCommit", owner, repo, sha); err != nil {
		return gh.Commit{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	commit, ok := c.commits[sha]
	if !ok {
		return gh.Commit{}, fmt.Errorf("get commit %s: not found", sha)
	}
	commit.Parents = append([]string(nil), commit.Parents...)
	return commit, nil
}

func (c *Client) CreateCommit(_ context.Context, owner, repo string, commit gh.NewCommit) (string, error) {
	if err := c.begin("CreateCommit", owner, repo, commit.Tree, commit.Message); err != nil {
		return "", err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.trees[commit.Tree]; !ok {
		return "", fmt.Errorf("create commit: unknown tree %s", commit.Tree)
	}
	for _, parent := range commit.Parents {
		if _, ok := c.commits[parent]; !ok {
			return "", fmt.Errorf("create commit: unknown parent %s", parent)
		}
	}

	author := DefaultSignature
	if commit.Author != nil {
		author = *commit.Author
	}
	committer := author
	if commit.Committer != nil {
		committer = *commit.Committer
	}

	return c.storeCommit(gh.Commit{
		Tree:      commit.Tree,
		Message:   commit.Message,
		Author:    author,
		Committer: committer,
		Parents:   append([]string(nil), commit.Parents...),
	}), nil
}

func (c *Client) Merge(_ context.Context, owner, repo, base, head, message string) (gh.MergeResult, error) {
	if err := c.begin("Merge", owner, repo, base, head); err != nil {
		return gh.MergeResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	refs := c.repoRefs(owner, repo)
	baseSHA, ok := refs[base]
	if !ok {
		return gh.MergeResult{}, fmt.Errorf("merge %s into %s: %w", head, base, gh.ErrRefNotFound)
	}
	headSHA := head
	if sha, ok := refs[head]; ok {
		headSHA = sha
	}
	if _, ok := c.commits[headSHA]; !ok {
		return gh.MergeResult{}, fmt.Errorf("merge %s into %s: unknown head", head, base)
	}

	if c.isAncestor(headSHA, baseSHA) {
		return gh.MergeResult{}, nil
	}

	mergeBase := c.mergeBase(baseSHA, headSHA)
	ancestorFiles := map[string]string{}
	if mergeBase != "" {
		ancestorFiles = c.trees[c.commits[mergeBase].Tree]
	}

	merged, conflicts := mergeTrees(ancestorFiles, c.trees[c.commits[baseSHA].Tree], c.trees[c.commits[headSHA].Tree])
	if len(conflicts) > 0 {
		return gh.MergeResult{}, fmt.Errorf("merge %s into %s (%s): %w", head, base, strings.Join(conflicts, ", "), gh.ErrMergeConflict)
	}

	tree := c.storeTree(merged)
	sha := c.storeCommit(gh.Commit{
		Tree:      tree,
		Message:   message,
		Author:    DefaultSignature,
		Committer: DefaultSignature,
		Parents:   []string{baseSHA, headSHA},
	})
	refs[base] = sha

	return gh.MergeResult{SHA: sha, Tree: tree}, nil
}

func (c *Client) ListPullRequestCommits(_ context.Context, owner, repo string, number int) ([]gh.Commit, error) {
	if err := c.begin("ListPullRequestCommits", owner, repo, fmt.Sprint(number)); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	shas, ok := c.prCommit[repoKey(owner, repo)][number]
	if !ok {
		return nil, fmt.Errorf("list commits of pull request #%d: not found", number)
	}

	commits := make([]gh.Commit, 0, len(shas))
	for _, sha := range shas {
		commits = append(commits, c.commits[sha])
	}
	return commits, nil
}

func (c *Client) GetPullRequest(_ context.Context, owner, repo string, number int) (gh.PRMetadata, error) {
	if err := c.begin("GetPullRequest", owner, repo, fmt.Sprint(number)); err != nil {
		return gh.PRMetadata{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	pr, ok := c.pulls[repoKey(owner, repo)][number]
	if !ok {
		return gh.PRMetadata{}, fmt.Errorf("get pull request #%d: not found", number)
	}
	return pr, nil
}

func (c *Client) FindOpenPullRequest(_ context.Context, owner, repo, head, base string) (*gh.CherryPickPR, error) {
	if err := c.begin("FindOpenPullRequest", owner, repo, head, base); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	branch := strings.TrimPrefix(head, owner+":")
	for _, created := range c.created {
		if created.Owner == owner && created.Repo == repo && created.PR.Head == branch && created.PR.Base == base {
			found := created.PR
			return &found, nil
		}
	}
	return nil, nil
}

func (c *Client) CreatePullRequest(_ context.Context, owner, repo string, input gh.CreatePROptions) (gh.CherryPickPR, error) {
	if err := c.begin("CreatePullRequest", owner, repo, input.Head, input.Base); err != nil {
		return gh.CherryPickPR{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.repoRefs(owner, repo)[input.Head]; !ok {
		return gh.CherryPickPR{}, fmt.Errorf("create pull request: head %s does not exist", input.Head)
	}
	for _, created := range c.created {
		if created.Owner == owner && created.Repo == repo && created.PR.Head == input.Head && created.PR.Base == input.Base {
			return gh.CherryPickPR{}, fmt.Errorf("create pull request: a pull request already exists for %s:%s", owner, input.Head)
		}
	}

	return c.recordPR(owner, repo, input), nil
}

func (c *Client) CommentOnPullRequest(_ context.Context, owner, repo string, number int, body string) error {
	if err := c.begin("CommentOnPullRequest", owner, repo, fmt.Sprint(number)); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.comments = append(c.comments, Comment{Owner: owner, Repo: repo, Number: number, Body: body})
	return nil
}

func (c *Client) recordPR(owner, repo string, input gh.CreatePROptions) gh.CherryPickPR {
	c.nextPR++
	pr := gh.CherryPickPR{
		URL:    fmt.Sprintf("https://github.com/%s/%s/pull/%d", owner, repo, c.nextPR),
		Number: c.nextPR,
		Head:   input.Head,
		Base:   input.Base,
	}
	c.created = append(c.created, CreatedPR{Owner: owner, Repo: repo, Options: input, PR: pr})
	return pr
}

func (c *Client) repoRefs(owner, repo string) map[string]string {
	key := repoKey(owner, repo)
	if c.refs[key] == nil {
		c.refs[key] = make(map[string]string)
	}
	return c.refs[key]
}

func (c *Client) storeTree(files map[string]string) string {
	id := treeID(files)
	if _, ok := c.trees[id]; !ok {
		stored := make(map[string]string, len(files))
		for path, content := range files {
			stored[path] = content
		}
		c.trees[id] = stored
	}
	return id
}

func (c *Client) storeCommit(commit gh.Commit) string {
	h := sha1.New()
	fmt.Fprintf(h, "tree %s\n", commit.Tree)
	for _, parent := range commit.Parents {
		fmt.Fprintf(h, "parent %s\n", parent)
	}
	fmt.Fprintf(h, "author %s <%s> %d\n", commit.Author.Name, commit.Author.Email, commit.Author.Date.Unix())
	fmt.Fprintf(h, "committer %s <%s> %d\n", commit.Committer.Name, commit.Committer.Email, commit.Committer.Date.Unix())
	fmt.Fprintf(h, "\n%s", commit.Message)

	commit.SHA = hex.EncodeToString(h.Sum(nil))
	c.commits[commit.SHA] = commit
	return commit.SHA
}

// isAncestor reports whether ancestor is reachable from descendant (inclusive).
func (c *Client) isAncestor(ancestor, descendant string) bool {
	_, ok := c.ancestors(descendant)[ancestor]
	return ok
}

func (c *Client) ancestors(sha string) map[string]struct{} {
	seen := make(map[string]struct{})
	queue := []string{sha}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if _, ok := seen[current]; ok {
			continue
		}
		seen[current] = struct{}{}
		queue = append(queue, c.commits[current].Parents...)
	}
	return seen
}

// mergeBase returns the first ancestor of b (breadth-first) that is also an ancestor of a.
func (c *Client) mergeBase(a, b string) string {
	fromA := c.ancestors(a)

	seen := make(map[string]struct{})
	queue := []string{b}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		if _, ok := fromA[current]; ok {
			return current
		}
		if _, ok := seen[current]; ok {
			continue
		}
		seen[current] = struct{}{}
		queue = append(queue, c.commits[current].Parents...)
	}
	return ""
}

func mergeTrees(ancestor, ours, theirs map[string]string) (map[string]string, []string) {
	paths := make(map[string]struct{})
	for _, files := range []map[string]string{ancestor, ours, theirs} {
		for path := range files {
			paths[path] = struct{}{}
		}
	}

	merged := make(map[string]string)
	var conflicts []string
	for path := range paths {
		a, o, t := ancestor[path], ours[path], theirs[path]

		var result string
		switch {
		case o == t:
			result = o
		case o == a:
			result = t
		case t == a:
			result = o
		default:
			conflicts = append(conflicts, path)
			continue
		}
		if result != "" {
			merged[path] = result
		}
	}

	sort.Strings(conflicts)
	return merged, conflicts
}

func treeID(files map[string]string) string {
	paths := make([]string, 0, len(files))
	for path := range files {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	h := sha1.New()
	for _, path := range paths {
		fmt.Fprintf(h, "%s\x00%s\x00", path, files[path])
	}
	return hex.EncodeToString(h.Sum(nil))
}

func repoKey(owner, repo string) string {
	return owner + "/" + repo
}
