package orchestrator_test

import (
	"context"
	"errors"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/release-tools/cherry-pick-action/internal/cherrypick"
	gh "github.com/release-tools/cherry-pick-action/internal/github"
	"github.com/release-tools/cherry-pick-action/internal/github/ghfake"
	"github.com/release-tools/cherry-pick-action/internal/orchestrator"
)

const runURL = "https://github.com/acme/widgets/actions/runs/42"

var _ = Describe("Orchestrator", func() {
	var (
		ctx  context.Context
		cfg  orchestrator.Config
		fake *ghfake.Client

		base, rel1, rel2, commitA, commitB string
		source                             gh.PRMetadata
	)

	branchFor := func(target string) string {
		return gh.BranchNameForCherryPick(7, "fix-login", target)
	}

	addSource := func(labelNames ...string) {
		source.Labels = labelNames
		fake.AddPullRequest(source, commitA, commitB)
	}

	BeforeEach(func() {
		ctx = context.Background()
		cfg = orchestrator.Config{Actor: "octocat", RunURL: runURL}
		fake = ghfake.New("acme", "widgets")

		base = fake.Commit("", map[string]string{
			"README.md": "hello\n",
			"a.txt":     "a0\n",
			"b.txt":     "b0\n",
		}, "Initial commit")
		rel1 = fake.Commit(base, map[string]string{"b.txt": "b-release-1\n"}, "Patch b on 1.0")
		rel2 = fake.Commit(base, map[string]string{"VERSION": "2.0\n"}, "Start release 2.0")
		fake.SetRef("release/1.0", rel1)
		fake.SetRef("release/2.0", rel2)

		commitA = fake.Commit(base, map[string]string{"a.txt": "a1\n"}, "Change a")
		commitB = fake.Commit(commitA, map[string]string{"b.txt": "b1\n"}, "Change b")
		fake.SetRef("main", fake.Commit(base, map[string]string{"a.txt": "a1\n", "b.txt": "b1\n"}, "Fix login (#7)"))

		source = gh.PRMetadata{
			Number:    7,
			Title:     "Fix login",
			Body:      "Original PR body",
			URL:       "https://github.com/acme/widgets/pull/7",
			HeadRef:   "fix-login",
			Assignees: []string{"alice"},
			IsMerged:  true,
		}
	})

	It("requires a GitHub client", func() {
		_, err := orchestrator.New(cfg, nil, nil).ProcessPullRequest(ctx, "acme", "widgets", 7)
		Expect(err).To(HaveOccurred())
	})

	It("returns an error when the pull request cannot be read", func() {
		_, err := orchestrator.New(cfg, fake, nil).ProcessPullRequest(ctx, "acme", "widgets", 404)
		Expect(err).To(MatchError(ContainSubstring("get pull request")))
	})

	It("skips processing when the pull request is not merged", func() {
		source.IsMerged = false
		addSource("cherry-pick:release/2.0")

		result, err := orchestrator.New(cfg, fake, nil).ProcessPullRequest(ctx, "acme", "widgets", 7)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Skipped).To(BeTrue())
		Expect(result.SkippedReason).To(Equal("not merged"))
	})

	It("skips when no matching labels are present", func() {
		addSource("kind/bug")

		result, err := orchestrator.New(cfg, fake, nil).ProcessPullRequest(ctx, "acme", "widgets", 7)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Skipped).To(BeTrue())
		Expect(result.SkippedReason).To(Equal("no targets"))
		Expect(fake.Comments()).To(BeEmpty())
	})

	It("creates a cherry-pick pull request and reports it on the source", func() {
		addSource("cherry-pick:release/2.0", "kind/bug")

		result, err := orchestrator.New(cfg, fake, nil).ProcessPullRequest(ctx, "acme", "widgets", 7)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Targets).To(HaveLen(1))

		target := result.Targets[0]
		Expect(target.Status).To(Equal(orchestrator.TargetStatusSucceeded))
		Expect(target.Branch).To(Equal("cherry-pick/7/fix-login-release--2.0"))
		Expect(target.CreatedPR).NotTo(BeNil())

		created := fake.CreatedPRs()
		Expect(created).To(HaveLen(1))
		opts := created[0].Options
		Expect(opts.Title).To(Equal("[release/2.0] Fix login"))
		Expect(opts.Head).To(Equal(target.Branch))
		Expect(opts.Base).To(Equal("release/2.0"))
		Expect(opts.Body).To(ContainSubstring("Cherry picked from https://github.com/acme/widgets/pull/7"))
		Expect(opts.Body).To(ContainSubstring("<!-- cherry-pick-of: acme/widgets#7 -> release/2.0 -->"))
		Expect(opts.Body).To(ContainSubstring("Original PR body"))
		Expect(opts.Labels).To(Equal([]string{"kind/bug"}))
		Expect(opts.Assignees).To(Equal([]string{"alice"}))

		head, ok := fake.Ref(target.Branch)
		Expect(ok).To(BeTrue())
		Expect(fake.Files(head)).To(Equal(map[string]string{
			"README.md": "hello\n",
			"a.txt":     "a1\n",
			"b.txt":     "b1\n",
			"VERSION":   "2.0\n",
		}))

		tip, _ := fake.Ref("release/2.0")
		Expect(tip).To(Equal(rel2))

		comments := fake.Comments()
		Expect(comments).To(HaveLen(1))
		Expect(comments[0].Number).To(Equal(7))
		Expect(comments[0].Body).To(Equal("@octocat 👉 Created pull request targeting release/2.0: " + target.CreatedPR.URL))
	})

	It("processes every target independently and reports only the failing one", func() {
		addSource("cherry-pick:release/1.0", "cherry-pick:release/2.0")

		result, err := orchestrator.New(cfg, fake, nil).ProcessPullRequest(ctx, "acme", "widgets", 7)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Targets).To(HaveLen(2))

		failed := result.Targets[0]
		Expect(failed.Target.Branch).To(Equal("release/1.0"))
		Expect(failed.Status).To(Equal(orchestrator.TargetStatusFailed))
		var conflict *cherrypick.MergeConflictError
		Expect(errors.As(failed.Err, &conflict)).To(BeTrue())
		Expect(conflict.Commit).To(Equal(commitB))

		succeeded := result.Targets[1]
		Expect(succeeded.Target.Branch).To(Equal("release/2.0"))
		Expect(succeeded.Status).To(Equal(orchestrator.TargetStatusSucceeded))

		Expect(result.Failed()).To(HaveLen(1))

		created := fake.CreatedPRs()
		Expect(created).To(HaveLen(1))
		Expect(created[0].Options.Base).To(Equal("release/2.0"))

		comments := fake.Comments()
		Expect(comments).To(HaveLen(2))
		Expect(comments[0].Body).To(HavePrefix("🚨 @octocat Failed to create cherry pick PR due to error:\n```\n"))
		Expect(comments[0].Body).To(ContainSubstring("merge conflict"))
		Expect(comments[0].Body).To(HaveSuffix("🚨👉 Check " + runURL))
		Expect(comments[1].Body).To(ContainSubstring("Created pull request targeting release/2.0"))

		tip, _ := fake.Ref("release/1.0")
		Expect(tip).To(Equal(rel1))
		conflicted, _ := fake.Ref(branchFor("release/1.0"))
		Expect(conflicted).To(Equal(rel1))
	})

	It("reports dry-run statuses without touching the repository", func() {
		cfg.DryRun = true
		addSource("cherry-pick:release/1.0", "cherry-pick:release/2.0", "other")

		result, err := orchestrator.New(cfg, fake, nil).ProcessPullRequest(ctx, "acme", "widgets", 7)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Targets).To(HaveLen(2))
		Expect(result.Targets[0].Status).To(Equal(orchestrator.TargetStatusDryRun))
		Expect(result.Targets[1].Status).To(Equal(orchestrator.TargetStatusDryRun))

		Expect(fake.Count("CreateRef")).To(Equal(0))
		Expect(fake.Count("CreateCommit")).To(Equal(0))
		Expect(fake.Comments()).To(BeEmpty())
	})

	It("skips targets that already have an open cherry-pick pull request", func() {
		existing := fake.OpenPullRequest("acme:"+branchFor("release/2.0"), "release/2.0")
		addSource("cherry-pick:release/2.0")

		result, err := orchestrator.New(cfg, fake, nil).ProcessPullRequest(ctx, "acme", "widgets", 7)
		Expect(err).NotTo(HaveOccurred())

		target := result.Targets[0]
		Expect(target.Status).To(Equal(orchestrator.TargetStatusSkippedExistingPR))
		Expect(target.ExistingPR).NotTo(BeNil())
		Expect(target.ExistingPR.URL).To(Equal(existing.URL))

		Expect(fake.Count("CreateRef")).To(Equal(0))
		Expect(fake.Comments()).To(HaveLen(1))
		Expect(fake.Comments()[0].Body).To(ContainSubstring("already exists: " + existing.URL))
	})

	It("fails a target whose branch does not exist and continues", func() {
		addSource("cherry-pick:release/9.9", "cherry-pick:release/2.0")

		result, err := orchestrator.New(cfg, fake, nil).ProcessPullRequest(ctx, "acme", "widgets", 7)
		Expect(err).NotTo(HaveOccurred())

		Expect(result.Targets[0].Status).To(Equal(orchestrator.TargetStatusFailed))
		Expect(result.Targets[0].Reason).To(ContainSubstring("target branch release/9.9 not found"))
		Expect(errors.Is(result.Targets[0].Err, gh.ErrRefNotFound)).To(BeTrue())
		Expect(result.Targets[1].Status).To(Equal(orchestrator.TargetStatusSucceeded))
	})

	It("fails targets with invalid branch names", func() {
		addSource("cherry-pick:release..1")

		result, err := orchestrator.New(cfg, fake, nil).ProcessPullRequest(ctx, "acme", "widgets", 7)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Targets[0].Status).To(Equal(orchestrator.TargetStatusFailed))
		Expect(result.Targets[0].Reason).To(ContainSubstring("invalid target branch"))
		Expect(fake.Count("GetRef")).To(Equal(0))
	})

	It("resets a cherry-pick branch left behind by an earlier run", func() {
		stale := branchFor("release/2.0")
		fake.SetRef(stale, base)
		addSource("cherry-pick:release/2.0")

		result, err := orchestrator.New(cfg, fake, nil).ProcessPullRequest(ctx, "acme", "widgets", 7)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Targets[0].Status).To(Equal(orchestrator.TargetStatusSucceeded))

		head, _ := fake.Ref(stale)
		info, _ := fake.CommitInfo(head)
		first, _ := fake.CommitInfo(info.Parents[0])
		Expect(first.Parents).To(Equal([]string{rel2}))
	})

	It("only processes the label that triggered a labeled event", func() {
		cfg.TriggerLabel = "cherry-pick:release/2.0"
		addSource("cherry-pick:release/1.0", "cherry-pick:release/2.0")

		result, err := orchestrator.New(cfg, fake, nil).ProcessPullRequest(ctx, "acme", "widgets", 7)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Targets).To(HaveLen(1))
		Expect(result.Targets[0].Target.Branch).To(Equal("release/2.0"))
	})

	It("skips labeled events for unrelated labels", func() {
		cfg.TriggerLabel = "kind/bug"
		cfg.TargetBranches = []string{"release/2.0"}
		addSource("cherry-pick:release/1.0", "kind/bug")

		result, err := orchestrator.New(cfg, fake, nil).ProcessPullRequest(ctx, "acme", "widgets", 7)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Skipped).To(BeTrue())
	})

	It("merges configured target branches with label targets", func() {
		cfg.DryRun = true
		cfg.TargetBranches = []string{"release/2.0", "release/3.0"}
		addSource("cherry-pick:release/2.0")

		result, err := orchestrator.New(cfg, fake, nil).ProcessPullRequest(ctx, "acme", "widgets", 7)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Targets).To(HaveLen(2))
		Expect(result.Targets[0].Target.LabelName).To(Equal("cherry-pick:release/2.0"))
		Expect(result.Targets[1].Target.LabelName).To(Equal("input:release/3.0"))
	})

	It("reads commits of forked pull requests from the fork repository", func() {
		source.HeadOwner = "contributor"
		source.HeadRepo = "widgets-fork"
		addSource("cherry-pick:release/2.0")

		result, err := orchestrator.New(cfg, fake, nil).ProcessPullRequest(ctx, "acme", "widgets", 7)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Targets[0].Status).To(Equal(orchestrator.TargetStatusSucceeded))

		for _, call := range fake.Calls() {
			if call.Method == "GetCommit" && (call.Args[0] == commitA || call.Args[0] == commitB) {
				Expect(call.Owner).To(Equal("contributor"))
				Expect(call.Repo).To(Equal("widgets-fork"))
			}
		}
	})

	It("fails the target when the pull request cannot be opened", func() {
		fake.Errors = map[string]error{"CreatePullRequest": errors.New("validation failed")}
		addSource("cherry-pick:release/2.0")

		result, err := orchestrator.New(cfg, fake, nil).ProcessPullRequest(ctx, "acme", "widgets", 7)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Targets[0].Status).To(Equal(orchestrator.TargetStatusFailed))
		Expect(result.Targets[0].Reason).To(ContainSubstring("create pull request: validation failed"))
	})

	It("does not fail a target when commenting fails", func() {
		fake.Errors = map[string]error{"CommentOnPullRequest": errors.New("forbidden")}
		addSource("cherry-pick:release/2.0")

		result, err := orchestrator.New(cfg, fake, nil).ProcessPullRequest(ctx, "acme", "widgets", 7)
		Expect(err).NotTo(HaveOccurred())
		Expect(result.Targets[0].Status).To(Equal(orchestrator.TargetStatusSucceeded))
	})

	It("omits the mention and run link when they are unknown", func() {
		cfg.Actor = ""
		cfg.RunURL = ""
		addSource("cherry-pick:release/1.0")

		_, err := orchestrator.New(cfg, fake, nil).ProcessPullRequest(ctx, "acme", "widgets", 7)
		Expect(err).NotTo(HaveOccurred())

		comments := fake.Comments()
		Expect(comments).To(HaveLen(1))
		Expect(comments[0].Body).To(HavePrefix("🚨 Failed to create cherry pick PR"))
		Expect(comments[0].Body).NotTo(ContainSubstring("Check"))
	})
})
