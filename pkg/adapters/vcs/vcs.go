// Package vcs is the gateway to the version-control host that stores a
// project's source repository.
package vcs

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned when a file, branch or repository does not exist.
var ErrNotFound = errors.New("not found on version-control host")

// Host is the set of repository operations the engine needs.
// Implementations are bound to a single repository.
type Host interface {
	// GetFileContent reads path at ref (branch name or commit SHA).
	GetFileContent(ctx context.Context, path, ref string) (*FileContent, error)

	// SearchCode returns the files of the repository containing the literal query.
	SearchCode(ctx context.Context, query string) ([]CodeSearchResult, error)

	// CreateBranch creates name from the current head of base.
	CreateBranch(ctx context.Context, name, base string) error

	// CommitFiles writes each change as its own commit on branch.
	CommitFiles(ctx context.Context, branch string, changes []FileChange) error

	OpenPullRequest(ctx context.Context, params PullRequestParams) (*PullRequestResult, error)
}

// FileContent is a decoded file at a specific revision.
type FileContent struct {
	Path    string
	Content string
	SHA     string
}

// CodeSearchResult is one file matching a code search.
type CodeSearchResult struct {
	Path string
	SHA  string
}

// FileChange replaces the content of an existing file.
type FileChange struct {
	Path    string
	Content string
	SHA     string // blob SHA the change was computed against
	Message string
}

// PullRequestParams describes a pull request to open.
type PullRequestParams struct {
	Title string
	Body  string
	Head  string
	Base  string
}

// PullRequestResult identifies an opened pull request.
type PullRequestResult struct {
	Number int
	URL    string
}

// Error is a non-success response from the host API.
type Error struct {
	Op         string
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: status %d: %s", e.Op, e.StatusCode, e.Message)
}

// IsRetryable reports whether the response signals a transient condition.
func (e *Error) IsRetryable() bool {
	return e.StatusCode == 429 || e.StatusCode >= 500
}

// Unwrap maps 404 responses to ErrNotFound.
func (e *Error) Unwrap() error {
	if e.StatusCode == 404 {
		return ErrNotFound
	}
	return nil
}
