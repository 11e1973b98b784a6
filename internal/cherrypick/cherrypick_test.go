package cherrypick_test

import (
	"context"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/release-tools/cherry-pick-action/internal/cherrypick"
	gh "github.com/release-tools/cherry-pick-action/internal/github"
	"github.com/release-tools/cherry-pick-action/internal/github/ghfake"
)

var (
	alice = gh.Signature{Name: "Alice", Email: "alice@example.com", Date: time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)}
	bob   = gh.Signature{Name: "Bob", Email: "bob@example.com", Date: time.Date(2024, 3, 2, 10, 30, 0, 0, time.UTC)}
	carol = gh.Signature{Name: "Carol", Email: "carol@example.com", Date: time.Date(2024, 3, 3, 11, 0, 0, 0, time.UTC)}
)

var _ = Describe("Engine", func() {
	var (
		ctx    context.Context
		fake   *ghfake.Client
		engine *cherrypick.Engine

		base, r0, commitA, commitB string
	)

	request := func(commits ...string) cherrypick.Request {
		return cherrypick.Request{Owner: "acme", Repo: "widgets", Branch: "release/1.0", Commits: commits}
	}

	createdWithMessage := func(message string) int {
		n := 0
		for _, call := range fake.Calls() {
			if call.Method == "CreateCommit" && call.Args[1] == message {
				n++
			}
		}
		return n
	}

	temporaryRefs := func() []string {
		var refs []string
		for _, branch := range fake.Branches() {
			if strings.HasPrefix(branch, "cherry-pick-") {
				refs = append(refs, branch)
			}
		}
		return refs
	}

	BeforeEach(func() {
		ctx = context.Background()
		fake = ghfake.New("acme", "widgets")
		engine = cherrypick.New(fake, nil)

		base = fake.Commit("", map[string]string{
			"README.md": "hello\n",
			"a.txt":     "a0\n",
			"b.txt":     "b0\n",
		}, "Initial commit")
		r0 = fake.Commit(base, map[string]string{"VERSION": "1.0\n"}, "Start release 1.0")
		fake.SetRef("release/1.0", r0)

		commitA = fake.CommitWith(ghfake.CommitSpec{
			Parents:   []string{base},
			Files:     map[string]string{"a.txt": "a1\n"},
			Message:   "Change a\n\nLonger description.",
			Author:    alice,
			Committer: carol,
		})
		commitB = fake.CommitWith(ghfake.CommitSpec{
			Parents: []string{commitA},
			Files:   map[string]string{"b.txt": "b1\n"},
			Message: "Change b",
			Author:  bob,
		})
		fake.SetRef("main", commitB)
	})

	It("replays commits onto the branch as a linear chain", func() {
		result, err := engine.CherryPick(ctx, request(commitA, commitB))
		Expect(err).NotTo(HaveOccurred())

		Expect(result.Commits).To(HaveLen(2))
		Expect(result.SHA).To(Equal(result.Commits[1]))

		sha, _ := fake.Ref("release/1.0")
		Expect(sha).To(Equal(result.SHA))

		second, ok := fake.CommitInfo(result.Commits[1])
		Expect(ok).To(BeTrue())
		Expect(second.Parents).To(Equal([]string{result.Commits[0]}))

		first, ok := fake.CommitInfo(result.Commits[0])
		Expect(ok).To(BeTrue())
		Expect(first.Parents).To(Equal([]string{r0}))

		Expect(fake.Files(result.SHA)).To(Equal(map[string]string{
			"README.md": "hello\n",
			"a.txt":     "a1\n",
			"b.txt":     "b1\n",
			"VERSION":   "1.0\n",
		}))
		Expect(second.Tree).To(Equal(result.Tree))
	})

	It("preserves author, committer and message of every commit", func() {
		result, err := engine.CherryPick(ctx, request(commitA, commitB))
		Expect(err).NotTo(HaveOccurred())

		first, _ := fake.CommitInfo(result.Commits[0])
		Expect(first.Message).To(Equal("Change a\n\nLonger description."))
		Expect(first.Author).To(Equal(alice))
		Expect(first.Committer).To(Equal(carol))

		second, _ := fake.CommitInfo(result.Commits[1])
		Expect(second.Message).To(Equal("Change b"))
		Expect(second.Author).To(Equal(bob))
		Expect(second.Committer).To(Equal(bob))
	})

	It("tags auxiliary commits and merges so CI skips them", func() {
		_, err := engine.CherryPick(ctx, request(commitA))
		Expect(err).NotTo(HaveOccurred())

		Expect(createdWithMessage("Sibling of " + commitA + " [skip ci]\n\n\nskip-checks: true\n")).To(Equal(1))
	})

	It("removes the temporary ref after success", func() {
		_, err := engine.CherryPick(ctx, request(commitA, commitB))
		Expect(err).NotTo(HaveOccurred())

		Expect(temporaryRefs()).To(BeEmpty())
		Expect(fake.Count("CreateRef")).To(Equal(1))
		Expect(fake.Count("DeleteRef")).To(Equal(1))
	})

	It("updates the real branch exactly once without force", func() {
		_, err := engine.CherryPick(ctx, request(commitA, commitB))
		Expect(err).NotTo(HaveOccurred())

		var branchUpdates []ghfake.Call
		for _, call := range fake.Calls() {
			if call.Method == "UpdateRef" && call.Args[0] == "release/1.0" {
				branchUpdates = append(branchUpdates, call)
			}
		}
		Expect(branchUpdates).To(HaveLen(1))
		Expect(branchUpdates[0].Args[2]).To(Equal("force=false"))
	})

	It("returns the current tip for an empty commit list", func() {
		result, err := engine.CherryPick(ctx, request())
		Expect(err).NotTo(HaveOccurred())

		Expect(result.SHA).To(Equal(r0))
		Expect(result.Commits).To(BeEmpty())
		Expect(fake.Count("CreateRef")).To(Equal(0))
	})

	It("reads commit details from the source owner", func() {
		req := request(commitA)
		req.SourceOwner = "contributor"

		_, err := engine.CherryPick(ctx, req)
		Expect(err).NotTo(HaveOccurred())

		var owners []string
		for _, call := range fake.Calls() {
			if call.Method == "GetCommit" && call.Args[0] == commitA {
				owners = append(owners, call.Owner)
			}
		}
		Expect(owners).To(Equal([]string{"contributor"}))
	})

	It("reads commit details from a renamed fork", func() {
		req := request(commitA)
		req.SourceOwner = "contributor"
		req.SourceRepo = "widgets-fork"

		_, err := engine.CherryPick(ctx, req)
		Expect(err).NotTo(HaveOccurred())

		var sources []string
		for _, call := range fake.Calls() {
			if call.Method == "GetCommit" && call.Args[0] == commitA {
				sources = append(sources, call.Owner+"/"+call.Repo)
			}
		}
		Expect(sources).To(Equal([]string{"contributor/widgets-fork"}))
	})

	It("fails when the branch does not exist", func() {
		req := request(commitA)
		req.Branch = "release/9.9"

		_, err := engine.CherryPick(ctx, req)
		Expect(errors.Is(err, gh.ErrRefNotFound)).To(BeTrue())
		Expect(fake.Count("CreateRef")).To(Equal(0))
	})

	Context("with a merge commit", func() {
		It("rejects the sequence before mutating anything", func() {
			merge := fake.CommitWith(ghfake.CommitSpec{
				Parents: []string{commitA, r0},
				Message: "Merge release into feature",
			})

			_, err := engine.CherryPick(ctx, request(commitA, merge))

			var unsupported *cherrypick.UnsupportedMergeCommitError
			Expect(errors.As(err, &unsupported)).To(BeTrue())
			Expect(unsupported.Commit).To(Equal(merge))
			Expect(unsupported.Parents).To(HaveLen(2))

			sha, _ := fake.Ref("release/1.0")
			Expect(sha).To(Equal(r0))
			Expect(fake.Count("CreateRef")).To(Equal(0))
			Expect(fake.Count("CreateCommit")).To(Equal(0))
			Expect(fake.Count("UpdateRef")).To(Equal(0))
		})
	})

	It("rejects root commits", func() {
		root := fake.Commit("", map[string]string{"other.txt": "x\n"}, "Unrelated root")

		_, err := engine.CherryPick(ctx, request(root))
		Expect(errors.Is(err, cherrypick.ErrRootCommit)).To(BeTrue())
		Expect(fake.Count("CreateRef")).To(Equal(0))
	})

	Context("when a commit conflicts with the branch", func() {
		BeforeEach(func() {
			r1 := fake.Commit(r0, map[string]string{"b.txt": "b-release\n"}, "Patch b on release")
			fake.SetRef("release/1.0", r1)
			r0 = r1
		})

		It("aborts at the conflicting commit and leaves the branch untouched", func() {
			commitC := fake.CommitWith(ghfake.CommitSpec{
				Parents: []string{commitB},
				Files:   map[string]string{"README.md": "hello world\n"},
				Message: "Change readme",
			})

			_, err := engine.CherryPick(ctx, request(commitA, commitB, commitC))

			var conflict *cherrypick.MergeConflictError
			Expect(errors.As(err, &conflict)).To(BeTrue())
			Expect(conflict.Commit).To(Equal(commitB))
			Expect(conflict.Ref).To(Equal("release/1.0"))
			Expect(errors.Is(err, gh.ErrMergeConflict)).To(BeTrue())

			Expect(createdWithMessage("Change a\n\nLonger description.")).To(Equal(1))
			Expect(createdWithMessage("Change b")).To(Equal(0))
			Expect(createdWithMessage("Change readme")).To(Equal(0))
			Expect(fake.Count("Merge")).To(Equal(2))

			sha, _ := fake.Ref("release/1.0")
			Expect(sha).To(Equal(r0))
			Expect(temporaryRefs()).To(BeEmpty())
		})
	})

	It("refuses to overwrite a branch that moved concurrently", func() {
		var hotfix string
		fake.OnCall = func(method string, args ...string) {
			if method == "Merge" && hotfix == "" {
				hotfix = fake.Commit(r0, map[string]string{"HOTFIX": "1\n"}, "Hotfix pushed meanwhile")
				fake.SetRef("release/1.0", hotfix)
			}
		}

		_, err := engine.CherryPick(ctx, request(commitA, commitB))
		Expect(errors.Is(err, gh.ErrNotFastForward)).To(BeTrue())

		sha, _ := fake.Ref("release/1.0")
		Expect(sha).To(Equal(hotfix))
		Expect(temporaryRefs()).To(BeEmpty())
	})

	It("reports success when only the temporary ref cleanup fails", func() {
		fake.Errors = map[string]error{"DeleteRef": errors.New("api unavailable")}

		result, err := engine.CherryPick(ctx, request(commitA))
		Expect(err).NotTo(HaveOccurred())

		sha, _ := fake.Ref("release/1.0")
		Expect(sha).To(Equal(result.SHA))
	})

	It("surfaces API failures and still removes the temporary ref", func() {
		fake.Errors = map[string]error{"CreateCommit": errors.New("server error")}

		_, err := engine.CherryPick(ctx, request(commitA))
		Expect(err).To(MatchError(ContainSubstring("server error")))

		sha, _ := fake.Ref("release/1.0")
		Expect(sha).To(Equal(r0))
		Expect(temporaryRefs()).To(BeEmpty())
	})
})

var _ = Describe("Commit fetcher", func() {
	var (
		ctx  context.Context
		fake *ghfake.Client
	)

	BeforeEach(func() {
		ctx = context.Background()
		fake = ghfake.New("acme", "widgets")
	})

	It("returns pull request commits oldest first", func() {
		first := fake.Commit("", map[string]string{"a": "1"}, "first")
		second := fake.Commit(first, map[string]string{"a": "2"}, "second")
		fake.AddPullRequest(gh.PRMetadata{Number: 7}, first, second)

		commits, err := cherrypick.FetchCommits(ctx, fake, "acme", "widgets", 7)
		Expect(err).NotTo(HaveOccurred())
		Expect(cherrypick.CommitSHAs(commits)).To(Equal([]string{first, second}))
		Expect(commits[1].Message).To(Equal("second"))
	})

	It("wraps lister errors with the pull request number", func() {
		_, err := cherrypick.FetchCommits(ctx, fake, "acme", "widgets", 404)
		Expect(err).To(MatchError(ContainSubstring("#404")))
	})

	It("returns single-parent commit details", func() {
		first := fake.Commit("", map[string]string{"a": "1"}, "first")
		second := fake.Commit(first, map[string]string{"a": "2"}, "second")

		commit, err := cherrypick.FetchCommitDetail(ctx, fake, "acme", "widgets", second)
		Expect(err).NotTo(HaveOccurred())
		Expect(commit.Parents).To(Equal([]string{first}))
		Expect(commit.Author).To(Equal(ghfake.DefaultSignature))
	})
})
