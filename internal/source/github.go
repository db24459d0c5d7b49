package source

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/issuerag/internal/config"
	"github.com/fyrsmithlabs/issuerag/internal/document"
	"github.com/fyrsmithlabs/issuerag/internal/ragerrors"
	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
)

const (
	defaultMaxIssues         = 50
	defaultRequestsPerSecond = 5
	pageSize                 = 100
)

// GitHubOptions configures a GitHubSource.
type GitHubOptions struct {
	Token             config.Secret
	BaseURL           string
	RequestsPerSecond float64
	MaxIssues         int
	Retry             RetryConfig
}

// GitHubOptionsFromConfig maps the application config.
func GitHubOptionsFromConfig(cfg config.GitHubConfig) GitHubOptions {
	return GitHubOptions{
		Token:             cfg.Token,
		BaseURL:           cfg.BaseURL,
		RequestsPerSecond: cfg.RequestsPerSecond,
		MaxIssues:         cfg.MaxIssues,
	}
}

// GitHubSource turns one repository into documents: the repository as a
// project, its issues and pull requests as issues, and their comments.
type GitHubSource struct {
	client  *github.Client
	owner   string
	repo    string
	opts    GitHubOptions
	limiter *rate.Limiter
	logger  *zap.Logger
}

// ParseRepository splits "owner/repo".
func ParseRepository(s string) (owner, repo string, err error) {
	owner, repo, ok := strings.Cut(strings.TrimSpace(s), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", ragerrors.Validationf("source.ParseRepository", "repository must be owner/repo, got %q", s)
	}
	return owner, repo, nil
}

// NewGitHubSource creates a source for owner/repo. Without a token the
// client is unauthenticated and subject to GitHub's anonymous rate limit.
func NewGitHubSource(ctx context.Context, repository string, opts GitHubOptions, logger *zap.Logger) (*GitHubSource, error) {
	owner, repo, err := ParseRepository(repository)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxIssues <= 0 {
		opts.MaxIssues = defaultMaxIssues
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = defaultRequestsPerSecond
	}
	opts.Retry.ApplyDefaults()

	var client *github.Client
	if opts.Token.IsSet() {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: opts.Token.Value()})
		client = github.NewClient(oauth2.NewClient(ctx, ts))
	} else {
		logger.Warn("github token not set, using unauthenticated client")
		client = github.NewClient(nil)
	}
	if opts.BaseURL != "" {
		u, err := url.Parse(strings.TrimSuffix(opts.BaseURL, "/") + "/")
		if err != nil {
			return nil, ragerrors.Validationf("source.NewGitHubSource", "invalid base url %q: %v", opts.BaseURL, err)
		}
		client.BaseURL = u
	}

	return &GitHubSource{
		client:  client,
		owner:   owner,
		repo:    repo,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1),
		logger:  logger.With(zap.String("repository", owner+"/"+repo)),
	}, nil
}

// Name returns "github:owner/repo".
func (s *GitHubSource) Name() string { return "github:" + s.fullName() }

func (s *GitHubSource) fullName() string { return s.owner + "/" + s.repo }

// call paces and retries one API request.
func (s *GitHubSource) call(ctx context.Context, op string, fn func() (*github.Response, error)) error {
	err := retryGitHub(ctx, s.opts.Retry, s.logger, func() (*github.Response, error) {
		if err := s.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		return fn()
	})
	switch {
	case err == nil:
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case errors.Is(err, errRetriesExhausted):
		return ragerrors.Transient(op, "github", err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Documents fetches the repository, up to MaxIssues issues (most recently
// updated first) and all their comments.
func (s *GitHubSource) Documents(ctx context.Context) ([]document.Document, error) {
	var repo *github.Repository
	if err := s.call(ctx, "github.get_repository", func() (*github.Response, error) {
		r, resp, err := s.client.Repositories.Get(ctx, s.owner, s.repo)
		repo = r
		return resp, err
	}); err != nil {
		return nil, err
	}
	docs := []document.Document{s.projectDocument(repo)}

	issues, err := s.listIssues(ctx)
	if err != nil {
		return nil, err
	}
	for _, issue := range issues {
		docs = append(docs, s.issueDocument(issue))
		if issue.GetComments() == 0 {
			continue
		}
		comments, err := s.listComments(ctx, issue.GetNumber())
		if err != nil {
			return nil, err
		}
		for _, c := range comments {
			docs = append(docs, s.commentDocument(issue, c))
		}
	}

	s.logger.Info("github fetch complete",
		zap.Int("issues", len(issues)),
		zap.Int("documents", len(docs)))
	return docs, nil
}

func (s *GitHubSource) listIssues(ctx context.Context) ([]*github.Issue, error) {
	opts := &github.IssueListByRepoOptions{
		State:       "all",
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: min(pageSize, s.opts.MaxIssues)},
	}
	var all []*github.Issue
	for len(all) < s.opts.MaxIssues {
		var (
			page []*github.Issue
			next int
		)
		if err := s.call(ctx, "github.list_issues", func() (*github.Response, error) {
			p, resp, err := s.client.Issues.ListByRepo(ctx, s.owner, s.repo, opts)
			page = p
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		}); err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next == 0 {
			break
		}
		opts.Page = next
	}
	if len(all) > s.opts.MaxIssues {
		all = all[:s.opts.MaxIssues]
	}
	return all, nil
}

func (s *GitHubSource) listComments(ctx context.Context, number int) ([]*github.IssueComment, error) {
	opts := &github.IssueListCommentsOptions{ListOptions: github.ListOptions{PerPage: pageSize}}
	var all []*github.IssueComment
	for {
		var (
			page []*github.IssueComment
			next int
		)
		if err := s.call(ctx, "github.list_comments", func() (*github.Response, error) {
			p, resp, err := s.client.Issues.ListComments(ctx, s.owner, s.repo, number, opts)
			page = p
			if resp != nil {
				next = resp.NextPage
			}
			return resp, err
		}); err != nil {
			return nil, err
		}
		all = append(all, page...)
		if next == 0 {
			return all, nil
		}
		opts.Page = next
	}
}

func (s *GitHubSource) projectDocument(r *github.Repository) document.Document {
	body := r.GetDescription()
	if home := r.GetHomepage(); home != "" {
		body = strings.TrimSpace(body + "\n\nHomepage: " + home)
	}
	if lang := r.GetLanguage(); lang != "" {
		body = strings.TrimSpace(body + "\nLanguage: " + lang)
	}
	return document.NewProject("github:"+s.fullName(), r.GetFullName(), body, document.ProjectInfo{
		Key:        s.fullName(),
		Name:       r.GetName(),
		Lead:       r.GetOwner().GetLogin(),
		Components: r.Topics,
	})
}

func (s *GitHubSource) issueKey(number int) string {
	return s.fullName() + "#" + strconv.Itoa(number)
}

func (s *GitHubSource) issueDocument(i *github.Issue) document.Document {
	kind := "issue"
	if i.IsPullRequest() {
		kind = "pull_request"
	}
	labels := make([]string, 0, len(i.Labels))
	priority := ""
	for _, l := range i.Labels {
		name := l.GetName()
		labels = append(labels, name)
		if p, ok := strings.CutPrefix(strings.ToLower(name), "priority:"); ok && priority == "" {
			priority = strings.TrimSpace(p)
		}
	}
	key := s.issueKey(i.GetNumber())
	return document.NewIssue("github:"+key, i.GetTitle(), i.GetBody(), document.IssueInfo{
		Key:        key,
		ProjectKey: s.fullName(),
		Type:       kind,
		Status:     i.GetState(),
		Priority:   priority,
		Assignee:   i.GetAssignee().GetLogin(),
		Labels:     labels,
		Created:    i.GetCreatedAt().Time,
	})
}

func (s *GitHubSource) commentDocument(i *github.Issue, c *github.IssueComment) document.Document {
	key := s.issueKey(i.GetNumber())
	return document.NewComment(
		"github:"+key+"/comment/"+strconv.FormatInt(c.GetID(), 10),
		c.GetBody(),
		document.CommentInfo{
			IssueKey:   key,
			ProjectKey: s.fullName(),
			Author:     c.GetUser().GetLogin(),
			Created:    c.GetCreatedAt().Time,
		},
	)
}
