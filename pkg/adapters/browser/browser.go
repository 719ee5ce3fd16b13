// Package browser loads deployed pages for the crawler. A Session holds the
// most recently navigated document.
package browser

import (
	"context"
	"errors"

	"golang.org/x/net/html"
)

var (
	// ErrNotSupported is returned by operations the implementation cannot perform.
	ErrNotSupported = errors.New("operation not supported by this browser")

	// ErrNoPage is returned when a page operation runs before Navigate succeeded.
	ErrNoPage = errors.New("no page loaded")
)

// Browser opens navigation sessions.
type Browser interface {
	NewSession(ctx context.Context) (Session, error)
}

// Session is a single navigation context. Sessions are not safe for
// concurrent use.
type Session interface {
	Navigate(ctx context.Context, url string) (*Page, error)
	ExtractDOM(ctx context.Context) (*html.Node, error)
	CaptureScreenshot(ctx context.Context) ([]byte, error)

	// GetLinks returns the absolute http(s) URLs of the anchors on the current page.
	GetLinks(ctx context.Context) ([]string, error)

	Close() error
}

// Page describes a loaded document.
type Page struct {
	URL        string // final URL after redirects
	Title      string
	StatusCode int
}
