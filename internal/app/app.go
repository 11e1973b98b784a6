package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/release-tools/cherry-pick-action/internal/event"
	gh "github.com/release-tools/cherry-pick-action/internal/github"
	"github.com/release-tools/cherry-pick-action/internal/orchestrator"
)

const defaultServerURL = "https://github.com"

// Runner glues together the orchestrator and supporting services to execute the cherry-pick flow.
type Runner struct {
	cfg       Config
	log       *slog.Logger
	ghFactory gh.Factory
}

// NewRunner constructs a Runner with the supplied configuration.
func NewRunner(cfg Config) (*Runner, error) {
	logger, err := NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	return &Runner{
		cfg:       cfg,
		log:       logger,
		ghFactory: gh.NewRESTFactory(cfg.GitHubBaseURL, cfg.GitHubUploadURL),
	}, nil
}

// NewRunnerWithDeps constructs a Runner with injected dependencies for testing.
func NewRunnerWithDeps(cfg Config, log *slog.Logger, ghFactory gh.Factory) *Runner {
	return &Runner{cfg: cfg, log: log, ghFactory: ghFactory}
}

// Run executes the application using the provided context. It returns an error naming
// the failed targets when at least one cherry-pick failed; every target is attempted first.
func (r *Runner) Run(ctx context.Context) error {
	if r.log != nil {
		r.log.Info("starting cherry-pick action run", "dry_run", r.cfg.DryRun, "label_prefix", r.cfg.LabelPrefix)
	}

	eventName := strings.TrimSpace(os.Getenv("GITHUB_EVENT_NAME"))
	if eventName != "pull_request" && eventName != "pull_request_target" {
		if r.log != nil {
			r.log.Info("ignoring unsupported event", "event_name", eventName)
		}
		return nil
	}

	eventPath := strings.TrimSpace(os.Getenv("GITHUB_EVENT_PATH"))
	if eventPath == "" {
		return fmt.Errorf("GITHUB_EVENT_PATH is required for pull_request events")
	}

	payload, err := event.ParsePullRequestEventFile(eventPath)
	if err != nil {
		return fmt.Errorf("parse pull request event: %w", err)
	}

	if !payload.Action.Supported() {
		if r.log != nil {
			r.log.Info("ignoring unsupported pull_request action", "action", payload.Action)
		}
		return nil
	}

	if payload.Repository.Owner == "" || payload.Repository.Name == "" {
		return fmt.Errorf("event payload missing repository owner/name")
	}

	if payload.PullRequest.Number == 0 {
		return fmt.Errorf("event payload missing pull request number")
	}

	if r.log != nil {
		r.log.Info("handling pull request event",
			"action", payload.Action,
			"number", payload.PullRequest.Number,
			"merged", payload.PullRequest.Merged,
			"fork", payload.IsFromFork(),
		)
	}

	ghClient, err := r.ghFactory.New(ctx, r.cfg.GitHubToken)
	if err != nil {
		return fmt.Errorf("initialize github client: %w", err)
	}

	orchCfg := orchestrator.Config{
		LabelPrefix:    r.cfg.LabelPrefix,
		DryRun:         r.cfg.DryRun,
		TargetBranches: r.cfg.TargetBranches,
		Actor:          actor(payload),
		RunURL:         runURL(payload.Repository),
	}
	if payload.Action == event.PullRequestActionLabeled {
		orchCfg.TriggerLabel = payload.LabelName
	}

	orch := orchestrator.New(orchCfg, ghClient, r.log)

	result, err := orch.ProcessPullRequest(ctx, payload.Repository.Owner, payload.Repository.Name, payload.PullRequest.Number)
	if err != nil {
		return fmt.Errorf("process pull request: %w", err)
	}

	if result.Skipped {
		if r.log != nil {
			r.log.Info("skipping cherry-pick orchestration", "reason", result.SkippedReason)
		}
	}

	for _, target := range result.Targets {
		if r.log != nil {
			r.log.Info("evaluated cherry-pick target", "branch", target.Target.Branch, "status", target.Status, "reason", target.Reason)
		}
	}

	if err := r.writeStepSummary(result); err != nil && r.log != nil {
		r.log.Warn("failed to write step summary", "error", err)
	}

	if err := r.writeGitHubOutputs(result); err != nil && r.log != nil {
		r.log.Warn("failed to write action outputs", "error", err)
	}

	failed := result.Failed()
	if len(failed) > 0 {
		branches := make([]string, 0, len(failed))
		for _, target := range failed {
			branches = append(branches, target.Target.Branch)
		}
		return fmt.Errorf("cherry-pick failed for %d target(s): %s", len(failed), strings.Join(branches, ", "))
	}

	return nil
}

// actor returns the user who triggered the workflow, falling back to the event sender.
func actor(payload event.PullRequestPayload) string {
	if login := strings.TrimSpace(os.Getenv("GITHUB_ACTOR")); login != "" {
		return login
	}
	return payload.Sender
}

// runURL links the current workflow run, or returns "" outside of GitHub Actions.
func runURL(repo event.Repository) string {
	runID := strings.TrimSpace(os.Getenv("GITHUB_RUN_ID"))
	if runID == "" {
		return ""
	}

	server := strings.TrimRight(envOrDefault("GITHUB_SERVER_URL", defaultServerURL), "/")
	repository := strings.TrimSpace(os.Getenv("GITHUB_REPOSITORY"))
	if repository == "" {
		repository = repo.Owner + "/" + repo.Name
	}

	return fmt.Sprintf("%s/%s/actions/runs/%s", server, repository, runID)
}
