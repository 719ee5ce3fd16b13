// Package crawler walks a deployed site breadth-first and hands each page's
// classified elements to a visitor.
package crawler

import (
	"context"
	"errors"
	"fmt"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/inplace-dev/inplace-engine/pkg/adapters/browser"
	"github.com/inplace-dev/inplace-engine/pkg/apperrors"
	"github.com/inplace-dev/inplace-engine/pkg/classifier"
	"github.com/inplace-dev/inplace-engine/pkg/config"
)

// Config bounds a crawl.
type Config struct {
	MaxPages               int
	MaxDepth               int
	MaxConsecutiveFailures int
}

// ConfigFrom derives crawl bounds from the analysis configuration.
func ConfigFrom(cfg config.AnalysisConfig) Config {
	return Config{
		MaxPages:               cfg.MaxPages,
		MaxDepth:               cfg.MaxDepth,
		MaxConsecutiveFailures: cfg.MaxConsecutiveFailures,
	}
}

// PageResult is what the crawler learned about one page.
type PageResult struct {
	PageURL     string
	PageTitle   string
	Elements    []classifier.Candidate
	LinkedPages []string
}

// PageFailure records a page that could not be loaded or classified.
// It matches apperrors.ErrPartialFailure.
type PageFailure struct {
	PageURL string
	Err     error
}

func (f *PageFailure) Error() string {
	return fmt.Sprintf("page %s: %v", f.PageURL, f.Err)
}

func (f *PageFailure) Unwrap() error { return f.Err }

func (f *PageFailure) Is(target error) bool { return target == apperrors.ErrPartialFailure }

// Summary describes a finished crawl.
type Summary struct {
	PagesVisited int
	PagesFailed  int
	Failures     []*PageFailure
	Cancelled    bool
}

// StopFunc is polled before every page visit.
type StopFunc func(ctx context.Context) bool

// Visitor receives each successfully classified page. A visitor error
// aborts the crawl.
type Visitor func(ctx context.Context, page *PageResult) error

// Crawler visits same-origin pages reachable from a root URL.
type Crawler struct {
	browser    browser.Browser
	classifier classifier.ElementClassifier
	cfg        Config
	logger     *zap.Logger
}

// New creates a Crawler.
func New(b browser.Browser, c classifier.ElementClassifier, cfg Config, logger *zap.Logger) *Crawler {
	if cfg.MaxPages < 1 {
		cfg.MaxPages = 1
	}
	if cfg.MaxConsecutiveFailures < 1 {
		cfg.MaxConsecutiveFailures = 1
	}
	return &Crawler{
		browser:    b,
		classifier: c,
		cfg:        cfg,
		logger:     logger.Named("crawler"),
	}
}

type queued struct {
	url   string
	depth int
}

// Crawl visits pages breadth-first starting at rootURL. Pages are attempted
// at most once each; at most MaxPages are attempted and links are followed
// to MaxDepth. A failing page is recorded in the summary and the crawl goes
// on, unless more than MaxConsecutiveFailures pages fail in a row or no
// page could be loaded at all, which returns an UpstreamError.
// Cancellation, via shouldStop or ctx, ends the crawl without error and
// sets Summary.Cancelled.
func (c *Crawler) Crawl(ctx context.Context, rootURL string, shouldStop StopFunc, visit Visitor) (*Summary, error) {
	root, err := NormalizeURL(rootURL)
	if err != nil {
		return nil, apperrors.NewValidationError("deploymentUrl", err.Error())
	}
	site := origin(root)

	session, err := c.browser.NewSession(ctx)
	if err != nil {
		return nil, apperrors.NewUpstreamError("browser", "new session", err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			c.logger.Debug("Failed to close browser session", zap.Error(err))
		}
	}()

	summary := &Summary{}
	visited := map[string]struct{}{root: {}}
	frontier := []queued{{url: root}}
	consecutive := 0

	for len(frontier) > 0 && summary.PagesVisited+summary.PagesFailed < c.cfg.MaxPages {
		if ctx.Err() != nil || (shouldStop != nil && shouldStop(ctx)) {
			summary.Cancelled = true
			break
		}

		next := frontier[0]
		frontier = frontier[1:]

		result, err := c.visitPage(ctx, session, next.url, site)
		if err != nil {
			if ctx.Err() != nil {
				summary.Cancelled = true
				break
			}
			failure := &PageFailure{PageURL: next.url, Err: err}
			summary.PagesFailed++
			summary.Failures = append(summary.Failures, failure)
			consecutive++

			c.logger.Warn("Page failed",
				zap.String("page_url", next.url),
				zap.Int("consecutive_failures", consecutive),
				zap.Error(err))

			if consecutive > c.cfg.MaxConsecutiveFailures {
				return summary, apperrors.NewUpstreamError("browser", "crawl",
					fmt.Errorf("%d consecutive page failures, last: %w", consecutive, failure))
			}
			continue
		}
		consecutive = 0
		visited[result.PageURL] = struct{}{}

		linked := make([]string, 0, len(result.LinkedPages))
		for _, link := range result.LinkedPages {
			normalized, err := NormalizeURL(link)
			if err != nil || origin(normalized) != site {
				continue
			}
			linked = append(linked, normalized)
			if next.depth >= c.cfg.MaxDepth {
				continue
			}
			if _, seen := visited[normalized]; seen {
				continue
			}
			visited[normalized] = struct{}{}
			frontier = append(frontier, queued{url: normalized, depth: next.depth + 1})
		}
		result.LinkedPages = lo.Uniq(linked)

		if err := visit(ctx, result); err != nil {
			return summary, fmt.Errorf("record page %s: %w", result.PageURL, err)
		}
		summary.PagesVisited++
	}

	if summary.PagesVisited == 0 && summary.PagesFailed > 0 && !summary.Cancelled {
		return summary, apperrors.NewUpstreamError("browser", "crawl",
			fmt.Errorf("no page could be loaded: %w", summary.Failures[0]))
	}

	c.logger.Info("Crawl finished",
		zap.String("root_url", root),
		zap.Int("pages_visited", summary.PagesVisited),
		zap.Int("pages_failed", summary.PagesFailed),
		zap.Bool("cancelled", summary.Cancelled))

	return summary, nil
}

// ErrOffOrigin is returned for a page that redirected away from the site.
var ErrOffOrigin = errors.New("redirected to another origin")

func (c *Crawler) visitPage(ctx context.Context, session browser.Session, pageURL, site string) (*PageResult, error) {
	page, err := session.Navigate(ctx, pageURL)
	if err != nil {
		return nil, fmt.Errorf("navigate: %w", err)
	}

	// Redirects are recorded under the URL the browser ended up on.
	finalURL := pageURL
	if page.URL != "" {
		if normalized, err := NormalizeURL(page.URL); err == nil {
			finalURL = normalized
		}
	}
	if origin(finalURL) != site {
		return nil, fmt.Errorf("%s: %w", finalURL, ErrOffOrigin)
	}

	doc, err := session.ExtractDOM(ctx)
	if err != nil {
		return nil, fmt.Errorf("extract dom: %w", err)
	}

	candidates, err := c.classifier.Classify(ctx, &classifier.Page{URL: finalURL, Title: page.Title, Root: doc})
	if err != nil {
		return nil, fmt.Errorf("classify: %w", err)
	}

	links, err := session.GetLinks(ctx)
	if err != nil && !errors.Is(err, browser.ErrNotSupported) {
		c.logger.Debug("Failed to read links", zap.String("page_url", finalURL), zap.Error(err))
	}

	return &PageResult{
		PageURL:     finalURL,
		PageTitle:   page.Title,
		Elements:    candidates,
		LinkedPages: links,
	}, nil
}
