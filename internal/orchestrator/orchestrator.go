package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/release-tools/cherry-pick-action/internal/cherrypick"
	gh "github.com/release-tools/cherry-pick-action/internal/github"
	"github.com/release-tools/cherry-pick-action/internal/labels"
)

// Orchestrator turns the cherry-pick labels of a merged pull request into cherry-pick
// branches and pull requests, one target branch at a time.
type Orchestrator struct {
	cfg    Config
	gh     gh.Client
	engine *cherrypick.Engine
	log    *slog.Logger
}

// TargetStatus describes the evaluation state for a target branch.
type TargetStatus string

const (
	TargetStatusPending           TargetStatus = "pending"
	TargetStatusDryRun            TargetStatus = "dry_run"
	TargetStatusSucceeded         TargetStatus = "succeeded"
	TargetStatusFailed            TargetStatus = "failed"
	TargetStatusSkippedExistingPR TargetStatus = "skipped_existing_pr"
)

// TargetResult captures per-target orchestration outcomes.
type TargetResult struct {
	Target     labels.Target
	Status     TargetStatus
	Reason     string
	Branch     string
	Err        error
	ExistingPR *gh.CherryPickPR
	CreatedPR  *gh.CherryPickPR
}

// Result captures the outcome of a single orchestrator run.
type Result struct {
	Targets       []TargetResult
	Skipped       bool
	SkippedReason string
}

// Failed returns the targets that could not be cherry-picked.
func (r Result) Failed() []TargetResult {
	var failed []TargetResult
	for _, t := range r.Targets {
		if t.Status == TargetStatusFailed {
			failed = append(failed, t)
		}
	}
	return failed
}

// New returns a configured Orchestrator instance.
func New(cfg Config, ghClient gh.Client, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if strings.TrimSpace(cfg.LabelPrefix) == "" {
		cfg.LabelPrefix = labels.DefaultPrefix
	}
	return &Orchestrator{
		cfg:    cfg,
		gh:     ghClient,
		engine: cherrypick.New(ghClient, logger),
		log:    logger,
	}
}

// ProcessPullRequest cherry-picks a merged pull request onto every requested target
// branch. Targets are independent: a failing target is recorded (and reported on the
// pull request) without stopping the others. A best-effort Result is always returned
// when err == nil.
func (o *Orchestrator) ProcessPullRequest(ctx context.Context, owner, repo string, number int) (Result, error) {
	if o.gh == nil {
		return Result{}, fmt.Errorf("github client is required")
	}

	pr, err := o.gh.GetPullRequest(ctx, owner, repo, number)
	if err != nil {
		return Result{}, fmt.Errorf("get pull request: %w", err)
	}

	if !pr.IsMerged {
		o.log.Info("skipping cherry-pick: PR not merged", "owner", owner, "repo", repo, "number", number)
		return Result{Skipped: true, SkippedReason: "not merged"}, nil
	}

	targets, err := o.collectTargets(pr)
	if err != nil {
		return Result{}, err
	}

	if len(targets) == 0 {
		o.log.Info("skipping cherry-pick: no matching labels or overrides", "owner", owner, "repo", repo, "number", number)
		return Result{Skipped: true, SkippedReason: "no targets"}, nil
	}

	o.log.Info("collected cherry-pick targets", "owner", owner, "repo", repo, "number", number, "branches", labels.Branches(targets))

	results := make([]TargetResult, 0, len(targets))
	for _, target := range targets {
		results = append(results, o.executeTarget(ctx, owner, repo, pr, target))
	}

	return Result{Targets: results}, nil
}

func (o *Orchestrator) collectTargets(pr gh.PRMetadata) ([]labels.Target, error) {
	targets, err := labels.CollectTargets(pr.Labels, o.cfg.LabelPrefix)
	if err != nil {
		return nil, fmt.Errorf("collect targets: %w", err)
	}

	if o.cfg.TriggerLabel != "" {
		return labels.Select(targets, o.cfg.TriggerLabel), nil
	}

	if manual := labels.ManualTargets(o.cfg.TargetBranches); len(manual) > 0 {
		targets = labels.MergeTargets(targets, manual)
	}
	return targets, nil
}

func (o *Orchestrator) executeTarget(ctx context.Context, owner, repo string, pr gh.PRMetadata, target labels.Target) TargetResult {
	res := TargetResult{Target: target, Status: TargetStatusPending}
	log := o.log.With("owner", owner, "repo", repo, "number", pr.Number, "target", target.Branch)

	if err := labels.ValidateBranch(target.Branch); err != nil {
		return o.fail(ctx, owner, repo, pr, res, fmt.Errorf("invalid target branch %q from label %q: %w", target.Branch, target.LabelName, err))
	}

	res.Branch = gh.BranchNameForCherryPick(pr.Number, pr.HeadRef, target.Branch)
	log = log.With("branch", res.Branch)

	existing, err := o.gh.FindOpenPullRequest(ctx, owner, repo, owner+":"+res.Branch, target.Branch)
	if err != nil {
		return o.fail(ctx, owner, repo, pr, res, fmt.Errorf("look up existing pull request: %w", err))
	}
	if existing != nil {
		res.Status = TargetStatusSkippedExistingPR
		res.Reason = "cherry-pick PR already exists"
		res.ExistingPR = existing
		log.Info("skipping cherry-pick target: PR already exists", "existing_pr", existing.URL)
		if !o.cfg.DryRun {
			o.comment(ctx, owner, repo, pr.Number, fmt.Sprintf("%s👉 Pull request targeting %s already exists: %s", o.mention(), target.Branch, existing.URL))
		}
		return res
	}

	if o.cfg.DryRun {
		res.Status = TargetStatusDryRun
		res.Reason = "dry run enabled"
		log.Info("dry run: skipping cherry-pick")
		return res
	}

	tip, err := o.gh.GetRef(ctx, owner, repo, target.Branch)
	if err != nil {
		if errors.Is(err, gh.ErrRefNotFound) {
			err = fmt.Errorf("target branch %s not found: %w", target.Branch, err)
		} else {
			err = fmt.Errorf("resolve target branch %s: %w", target.Branch, err)
		}
		return o.fail(ctx, owner, repo, pr, res, err)
	}

	if err := o.createBranch(ctx, owner, repo, res.Branch, tip, log); err != nil {
		return o.fail(ctx, owner, repo, pr, res, err)
	}

	commits, err := cherrypick.FetchCommits(ctx, o.gh, owner, repo, pr.Number)
	if err != nil {
		return o.fail(ctx, owner, repo, pr, res, err)
	}

	picked, err := o.engine.CherryPick(ctx, cherrypick.Request{
		Owner:       owner,
		SourceOwner: pr.SourceOwner(),
		SourceRepo:  pr.SourceRepo(),
		Repo:        repo,
		Commits:     cherrypick.CommitSHAs(commits),
		Branch:      res.Branch,
	})
	if err != nil {
		return o.fail(ctx, owner, repo, pr, res, err)
	}

	created, err := o.gh.CreatePullRequest(ctx, owner, repo, o.buildCreatePROptions(pr, target, res.Branch))
	if err != nil {
		return o.fail(ctx, owner, repo, pr, res, fmt.Errorf("create pull request: %w", err))
	}

	res.Status = TargetStatusSucceeded
	res.Reason = "cherry-pick pull request created"
	res.CreatedPR = &created
	log.Info("created cherry-pick pull request", "sha", picked.SHA, "commits", len(picked.Commits), "pr_number", created.Number, "pr_url", created.URL)

	o.comment(ctx, owner, repo, pr.Number, fmt.Sprintf("%s👉 Created pull request targeting %s: %s", o.mention(), target.Branch, created.URL))
	return res
}

// createBranch points branch at sha. A branch left behind by an earlier failed run is
// reset to sha.
func (o *Orchestrator) createBranch(ctx context.Context, owner, repo, branch, sha string, log *slog.Logger) error {
	err := o.gh.CreateRef(ctx, owner, repo, branch, sha)
	if err == nil {
		return nil
	}
	if !errors.Is(err, gh.ErrRefAlreadyExists) {
		return fmt.Errorf("create branch %s: %w", branch, err)
	}

	log.Warn("cherry-pick branch already exists, resetting it to the target branch", "sha", sha)
	if err := o.gh.UpdateRef(ctx, owner, repo, branch, sha, true); err != nil {
		return fmt.Errorf("reset branch %s: %w", branch, err)
	}
	return nil
}

func (o *Orchestrator) fail(ctx context.Context, owner, repo string, pr gh.PRMetadata, res TargetResult, err error) TargetResult {
	res.Status = TargetStatusFailed
	res.Err = err
	res.Reason = err.Error()
	if gh.IsRetryable(err) {
		res.Reason += " (transient GitHub error; re-running the workflow may succeed)"
	}

	o.log.Error("cherry-pick target failed", "owner", owner, "repo", repo, "number", pr.Number, "target", res.Target.Branch, "error", err)

	if !o.cfg.DryRun {
		o.comment(ctx, owner, repo, pr.Number, o.failureComment(res.Reason))
	}
	return res
}

func (o *Orchestrator) failureComment(reason string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🚨 %sFailed to create cherry pick PR due to error:\n```\n%s\n```", o.mention(), reason)
	if o.cfg.RunURL != "" {
		fmt.Fprintf(&b, "\n\n🚨👉 Check %s", o.cfg.RunURL)
	}
	return b.String()
}

func (o *Orchestrator) mention() string {
	actor := strings.TrimPrefix(strings.TrimSpace(o.cfg.Actor), "@")
	if actor == "" {
		return ""
	}
	return "@" + actor + " "
}

// comment posts a review comment on the source pull request. Failures are logged only.
func (o *Orchestrator) comment(ctx context.Context, owner, repo string, number int, body string) {
	if err := o.gh.CommentOnPullRequest(ctx, owner, repo, number, body); err != nil {
		o.log.Warn("failed to comment on pull request", "owner", owner, "repo", repo, "number", number, "error", err)
	}
}

func (o *Orchestrator) buildCreatePROptions(pr gh.PRMetadata, target labels.Target, branchName string) gh.CreatePROptions {
	title := fmt.Sprintf("[%s] %s", target.Branch, pr.Title)

	var bodyBuilder strings.Builder
	bodyBuilder.WriteString(fmt.Sprintf("%s\n", buildMetadataComment(pr, target)))
	if pr.URL != "" {
		bodyBuilder.WriteString(fmt.Sprintf("Cherry picked from %s\n\n", pr.URL))
	} else {
		bodyBuilder.WriteString(fmt.Sprintf("Cherry picked from #%d\n\n", pr.Number))
	}
	if pr.Body != "" {
		bodyBuilder.WriteString(pr.Body)
		bodyBuilder.WriteString("\n")
	}

	return gh.CreatePROptions{
		Title:               title,
		Body:                strings.TrimRight(bodyBuilder.String(), "\n"),
		Head:                branchName,
		Base:                target.Branch,
		Draft:               false,
		Labels:              labels.Without(pr.Labels, o.cfg.LabelPrefix),
		Assignees:           pr.Assignees,
		MaintainerCanModify: true,
	}
}

func buildMetadataComment(pr gh.PRMetadata, target labels.Target) string {
	owner := strings.TrimSpace(pr.Owner)
	repo := strings.TrimSpace(pr.Repo)
	source := repo
	if owner != "" && repo != "" {
		source = fmt.Sprintf("%s/%s", owner, repo)
	} else if source == "" {
		source = "unknown-repo"
	}

	return fmt.Sprintf("<!-- cherry-pick-of: %s#%d -> %s -->", source, pr.Number, target.Branch)
}
