package vcs

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"go.uber.org/zap"

	"github.com/inplace-dev/inplace-engine/pkg/retry"
)

// GitHubConfig configures a GitHub REST client.
type GitHubConfig struct {
	APIBaseURL string
	Token      string
	Timeout    time.Duration
	Owner      string
	Repo       string
}

// GitHubHost implements Host against the GitHub REST API.
type GitHubHost struct {
	client   *req.Client
	owner    string
	repo     string
	retryCfg *retry.Config
	logger   *zap.Logger
}

var _ Host = (*GitHubHost)(nil)

// NewGitHubHost creates a Host for one GitHub repository.
func NewGitHubHost(cfg GitHubConfig, logger *zap.Logger) *GitHubHost {
	client := req.C().
		SetBaseURL(strings.TrimRight(cfg.APIBaseURL, "/")).
		SetCommonHeader("Accept", "application/vnd.github+json").
		SetCommonHeader("X-GitHub-Api-Version", "2022-11-28")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	if cfg.Token != "" {
		client.SetCommonBearerAuthToken(cfg.Token)
	}

	return &GitHubHost{
		client:   client,
		owner:    cfg.Owner,
		repo:     cfg.Repo,
		retryCfg: retry.ReadConfig(),
		logger:   logger.Named("github").With(zap.String("repository", cfg.Owner+"/"+cfg.Repo)),
	}
}

type githubError struct {
	Message string `json:"message"`
}

type githubContent struct {
	Path     string `json:"path"`
	SHA      string `json:"sha"`
	Content  string `json:"content"`
	Encoding string `json:"encoding"`
}

type githubSearchResponse struct {
	TotalCount int `json:"total_count"`
	Items      []struct {
		Path string `json:"path"`
		SHA  string `json:"sha"`
	} `json:"items"`
}

type githubRef struct {
	Object struct {
		SHA string `json:"sha"`
	} `json:"object"`
}

type githubPull struct {
	Number  int    `json:"number"`
	HTMLURL string `json:"html_url"`
}

func (h *GitHubHost) repoPath(parts ...string) string {
	escaped := make([]string, 0, len(parts))
	for _, p := range parts {
		for _, seg := range strings.Split(strings.Trim(p, "/"), "/") {
			escaped = append(escaped, url.PathEscape(seg))
		}
	}
	return "/repos/" + url.PathEscape(h.owner) + "/" + url.PathEscape(h.repo) + "/" + strings.Join(escaped, "/")
}

// check converts a transport failure or non-2xx response into an error.
// The status wins over err, which req also sets when an error body is not
// JSON.
func check(op string, resp *req.Response, err error, apiErr *githubError) error {
	if resp != nil && resp.Response != nil && !resp.IsSuccessState() {
		msg := ""
		if apiErr != nil {
			msg = apiErr.Message
		}
		return &Error{Op: op, StatusCode: resp.StatusCode, Message: msg}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (h *GitHubHost) GetFileContent(ctx context.Context, path, ref string) (*FileContent, error) {
	return retry.DoIfRetryableWithResult(ctx, h.retryCfg, func() (*FileContent, error) {
		var content githubContent
		var apiErr githubError
		resp, err := h.client.R().
			SetContext(ctx).
			SetQueryParam("ref", ref).
			SetSuccessResult(&content).
			SetErrorResult(&apiErr).
			Get(h.repoPath("contents", path))
		if err := check("get file content", resp, err, &apiErr); err != nil {
			return nil, err
		}

		decoded := content.Content
		if content.Encoding == "base64" {
			raw, err := base64.StdEncoding.DecodeString(strings.ReplaceAll(content.Content, "\n", ""))
			if err != nil {
				return nil, fmt.Errorf("decode %s: %w", path, err)
			}
			decoded = string(raw)
		}

		return &FileContent{Path: content.Path, Content: decoded, SHA: content.SHA}, nil
	})
}

func (h *GitHubHost) SearchCode(ctx context.Context, query string) ([]CodeSearchResult, error) {
	q := fmt.Sprintf(`"%s" repo:%s/%s`, strings.ReplaceAll(query, `"`, " "), h.owner, h.repo)

	return retry.DoIfRetryableWithResult(ctx, h.retryCfg, func() ([]CodeSearchResult, error) {
		var result githubSearchResponse
		var apiErr githubError
		resp, err := h.client.R().
			SetContext(ctx).
			SetQueryParam("q", q).
			SetQueryParam("per_page", "10").
			SetSuccessResult(&result).
			SetErrorResult(&apiErr).
			Get("/search/code")
		if err := check("search code", resp, err, &apiErr); err != nil {
			return nil, err
		}

		results := make([]CodeSearchResult, 0, len(result.Items))
		for _, item := range result.Items {
			results = append(results, CodeSearchResult{Path: item.Path, SHA: item.SHA})
		}
		return results, nil
	})
}

func (h *GitHubHost) CreateBranch(ctx context.Context, name, base string) error {
	head, err := retry.DoIfRetryableWithResult(ctx, h.retryCfg, func() (string, error) {
		var ref githubRef
		var apiErr githubError
		resp, err := h.client.R().
			SetContext(ctx).
			SetSuccessResult(&ref).
			SetErrorResult(&apiErr).
			Get(h.repoPath("git", "ref", "heads", base))
		if err := check("resolve base branch", resp, err, &apiErr); err != nil {
			return "", err
		}
		return ref.Object.SHA, nil
	})
	if err != nil {
		return err
	}

	var apiErr githubError
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"ref": "refs/heads/" + name, "sha": head}).
		SetErrorResult(&apiErr).
		Post(h.repoPath("git", "refs"))
	if err := check("create branch", resp, err, &apiErr); err != nil {
		return err
	}

	h.logger.Info("Created branch", zap.String("branch", name), zap.String("base", base), zap.String("sha", head))
	return nil
}

func (h *GitHubHost) CommitFiles(ctx context.Context, branch string, changes []FileChange) error {
	for _, change := range changes {
		body := map[string]string{
			"message": change.Message,
			"content": base64.StdEncoding.EncodeToString([]byte(change.Content)),
			"branch":  branch,
		}
		if change.SHA != "" {
			body["sha"] = change.SHA
		}

		var apiErr githubError
		resp, err := h.client.R().
			SetContext(ctx).
			SetBody(body).
			SetErrorResult(&apiErr).
			Put(h.repoPath("contents", change.Path))
		if err := check("commit "+change.Path, resp, err, &apiErr); err != nil {
			return err
		}
	}

	h.logger.Info("Committed files", zap.String("branch", branch), zap.Int("files", len(changes)))
	return nil
}

func (h *GitHubHost) OpenPullRequest(ctx context.Context, params PullRequestParams) (*PullRequestResult, error) {
	var pull githubPull
	var apiErr githubError
	resp, err := h.client.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"title": params.Title,
			"body":  params.Body,
			"head":  params.Head,
			"base":  params.Base,
		}).
		SetSuccessResult(&pull).
		SetErrorResult(&apiErr).
		Post(h.repoPath("pulls"))
	if err := check("open pull request", resp, err, &apiErr); err != nil {
		return nil, err
	}

	h.logger.Info("Opened pull request", zap.Int("number", pull.Number), zap.String("head", params.Head))
	return &PullRequestResult{Number: pull.Number, URL: pull.HTMLURL}, nil
}
