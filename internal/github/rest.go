package gh

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	github "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

const defaultUserAgent = "cherry-pick-action"

// reviewEventComment posts a review that neither approves nor requests changes.
const reviewEventComment = "COMMENT"

// NewRESTFactory returns a GitHub client factory backed by the go-github REST client. When
// base and upload URLs are provided, the factory targets a GitHub Enterprise instance.
func NewRESTFactory(baseURL, uploadURL string) Factory {
	return &restFactory{
		userAgent: defaultUserAgent,
		baseURL:   strings.TrimSpace(baseURL),
		uploadURL: strings.TrimSpace(uploadURL),
	}
}

type restFactory struct {
	userAgent string
	baseURL   string
	uploadURL string
}

type restClient struct {
	client *github.Client
}

func (f *restFactory) New(ctx context.Context, token string) (Client, error) {
	if token == "" {
		return nil, fmt.Errorf("github token is required")
	}

	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
	tc := oauth2.NewClient(ctx, ts)

	if f.baseURL == "" && f.uploadURL != "" {
		return nil, fmt.Errorf("github upload url cannot be set without base url")
	}

	var ghClient *github.Client
	if f.baseURL != "" {
		baseURLNormalized, err := normalizeGitHubURL(f.baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse github base url: %w", err)
		}

		if f.uploadURL == "" {
			return nil, fmt.Errorf("github upload url must be provided when base url is set")
		}

		uploadURLNormalized, err := normalizeGitHubURL(f.uploadURL)
		if err != nil {
			return nil, fmt.Errorf("parse github upload url: %w", err)
		}

		ghClient, err = github.NewClient(tc).WithEnterpriseURLs(baseURLNormalized, uploadURLNormalized)
		if err != nil {
			return nil, fmt.Errorf("construct enterprise github client: %w", err)
		}
	} else {
		ghClient = github.NewClient(tc)
	}

	if f.userAgent != "" {
		ghClient.UserAgent = f.userAgent
	}

	return &restClient{client: ghClient}, nil
}

func normalizeGitHubURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("url cannot be empty")
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", err
	}

	if parsed.Scheme == "" {
		return "", fmt.Errorf("url must include scheme (e.g. https://)")
	}

	if parsed.Host == "" {
		return "", fmt.Errorf("url must include host")
	}

	if !strings.HasSuffix(parsed.Path, "/") {
		parsed.Path += "/"
	}

	parsed.RawQuery = ""
	parsed.Fragment = ""

	return parsed.String(), nil
}

func (c *restClient) GetPullRequest(ctx context.Context, owner, repo string, number int) (PRMetadata, error) {
	pr, _, err := c.client.PullRequests.Get(ctx, owner, repo, number)
	if err != nil {
		return PRMetadata{}, fmt.Errorf("get pull request #%d: %w", number, classifyGitHubError(err))
	}

	labels := make([]string, 0, len(pr.Labels))
	for _, label := range pr.Labels {
		if name := label.GetName(); name != "" {
			labels = append(labels, name)
		}
	}

	assignees := make([]string, 0, len(pr.Assignees))
	for _, user := range pr.Assignees {
		if login := user.GetLogin(); login != "" {
			assignees = append(assignees, login)
		}
	}

	return PRMetadata{
		Owner:     owner,
		Repo:      repo,
		Number:    pr.GetNumber(),
		Title:     pr.GetTitle(),
		Body:      pr.GetBody(),
		URL:       pr.GetHTMLURL(),
		HeadRef:   pr.GetHead().GetRef(),
		HeadRepo:  pr.GetHead().GetRepo().GetName(),
		HeadOwner: pr.GetHead().GetRepo().GetOwner().GetLogin(),
		Labels:    labels,
		Assignees: assignees,
		IsMerged:  pr.GetMerged(),
	}, nil
}

func (c *restClient) ListPullRequestCommits(ctx context.Context, owner, repo string, number int) ([]Commit, error) {
	opts := &github.ListOptions{PerPage: 100}

	var results []Commit
	for {
		commits, resp, err := c.client.PullRequests.ListCommits(ctx, owner, repo, number, opts)
		if err != nil {
			return nil, fmt.Errorf("list commits of pull request #%d: %w", number, classifyGitHubError(err))
		}

		for _, rc := range commits {
			if rc == nil {
				continue
			}
			commit := fromGitHubCommit(rc.GetCommit())
			commit.SHA = rc.GetSHA()
			commit.Parents = parentSHAs(rc.Parents)
			results = append(results, commit)
		}

		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	return results, nil
}

func (c *restClient) FindOpenPullRequest(ctx context.Context, owner, repo, head, base string) (*CherryPickPR, error) {
	opts := &github.PullRequestListOptions{
		State:       "open",
		Head:        head,
		Base:        base,
		ListOptions: github.ListOptions{PerPage: 1},
	}

	prs, _, err := c.client.PullRequests.List(ctx, owner, repo, opts)
	if err != nil {
		return nil, fmt.Errorf("list pull requests %s -> %s: %w", head, base, classifyGitHubError(err))
	}

	for _, pr := range prs {
		if pr == nil {
			continue
		}
		found := toCherryPickPR(pr)
		return &found, nil
	}

	return nil, nil
}

func (c *restClient) CreatePullRequest(ctx context.Context, owner, repo string, input CreatePROptions) (CherryPickPR, error) {
	pr, _, err := c.client.PullRequests.Create(ctx, owner, repo, &github.NewPullRequest{
		Title:               github.String(input.Title),
		Head:                github.String(input.Head),
		Base:                github.String(input.Base),
		Body:                github.String(input.Body),
		Draft:               github.Bool(input.Draft),
		MaintainerCanModify: github.Bool(input.MaintainerCanModify),
	})
	if err != nil {
		return CherryPickPR{}, fmt.Errorf("create pull request: %w", classifyGitHubError(err))
	}

	result := toCherryPickPR(pr)

	if len(input.Labels) > 0 {
		if _, _, err := c.client.Issues.AddLabelsToIssue(ctx, owner, repo, pr.GetNumber(), input.Labels); err != nil {
			return result, fmt.Errorf("add labels to pull request: %w", classifyGitHubError(err))
		}
	}

	if len(input.Assignees) > 0 {
		if _, _, err := c.client.Issues.AddAssignees(ctx, owner, repo, pr.GetNumber(), input.Assignees); err != nil {
			return result, fmt.Errorf("add assignees to pull request: %w", classifyGitHubError(err))
		}
	}

	return result, nil
}

func (c *restClient) CommentOnPullRequest(ctx context.Context, owner, repo string, number int, body string) error {
	review := &github.PullRequestReviewRequest{
		Body:  github.String(body),
		Event: github.String(reviewEventComment),
	}
	if _, _, err := c.client.PullRequests.CreateReview(ctx, owner, repo, number, review); err != nil {
		return fmt.Errorf("comment on pull request #%d: %w", number, classifyGitHubError(err))
	}
	return nil
}

func toCherryPickPR(pr *github.PullRequest) CherryPickPR {
	return CherryPickPR{
		URL:    pr.GetHTMLURL(),
		Number: pr.GetNumber(),
		Head:   pr.GetHead().GetRef(),
		Base:   pr.GetBase().GetRef(),
	}
}

func isNotFound(resp *github.Response, err error) bool {
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return true
	}
	return statusCode(err) == http.StatusNotFound
}

func statusCode(err error) int {
	var githubErr *github.ErrorResponse
	if errors.As(err, &githubErr) && githubErr.Response != nil {
		return githubErr.Response.StatusCode
	}
	return 0
}

// errorMentions reports whether the GitHub error message, or one of its detailed
// errors, contains substr (case-insensitive).
func errorMentions(err error, substr string) bool {
	var githubErr *github.ErrorResponse
	if !errors.As(err, &githubErr) {
		return false
	}

	substr = strings.ToLower(substr)
	if strings.Contains(strings.ToLower(githubErr.Message), substr) {
		return true
	}
	for _, detail := range githubErr.Errors {
		if strings.Contains(strings.ToLower(detail.Message), substr) {
			return true
		}
	}
	return false
}

func classifyGitHubError(err error) error {
	if err == nil {
		return nil
	}
	if isRetryableGitHubError(err) {
		return &retryableError{err: err}
	}
	return err
}

func isRetryableGitHubError(err error) bool {
	if err == nil {
		return false
	}

	var rateLimitErr *github.RateLimitError
	if errors.As(err, &rateLimitErr) {
		return true
	}

	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return true
	}

	var acceptedErr *github.AcceptedError
	if errors.As(err, &acceptedErr) {
		return true
	}

	if code := statusCode(err); code == http.StatusTooManyRequests || (code >= 500 && code <= 599) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}
