package browser

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/imroc/req/v3"
	"go.uber.org/zap"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/inplace-dev/inplace-engine/pkg/config"
	"github.com/inplace-dev/inplace-engine/pkg/logging"
)

// maxDocumentBytes caps how much of a response body is parsed.
const maxDocumentBytes = 5 << 20

// HTTPBrowser fetches server-rendered HTML. It does not execute scripts.
type HTTPBrowser struct {
	client *req.Client
	logger *zap.Logger
}

var _ Browser = (*HTTPBrowser)(nil)

// NewHTTPBrowser creates a Browser from the browser configuration.
func NewHTTPBrowser(cfg config.BrowserConfig, logger *zap.Logger) *HTTPBrowser {
	client := req.C().
		SetUserAgent(cfg.UserAgent).
		SetCommonHeader("Accept", "text/html,application/xhtml+xml")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}
	return &HTTPBrowser{client: client, logger: logger.Named("browser")}
}

func (b *HTTPBrowser) NewSession(ctx context.Context) (Session, error) {
	return &httpSession{client: b.client, logger: b.logger}, nil
}

type httpSession struct {
	client *req.Client
	logger *zap.Logger

	page *Page
	doc  *html.Node
	base *url.URL
}

func (s *httpSession) Navigate(ctx context.Context, rawURL string) (*Page, error) {
	s.page, s.doc, s.base = nil, nil, nil

	start := time.Now()
	resp, err := s.client.R().SetContext(ctx).Get(config.ResolveURLForDocker(rawURL))
	if err != nil {
		return nil, fmt.Errorf("navigate %s: %w", logging.SanitizeURL(rawURL), err)
	}
	if !resp.IsSuccessState() {
		return nil, fmt.Errorf("navigate %s: status %d", logging.SanitizeURL(rawURL), resp.StatusCode)
	}
	if ct := resp.GetContentType(); ct != "" && !strings.Contains(ct, "html") {
		return nil, fmt.Errorf("navigate %s: unsupported content type %q", logging.SanitizeURL(rawURL), ct)
	}

	body, err := resp.ToBytes()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", logging.SanitizeURL(rawURL), err)
	}
	if len(body) > maxDocumentBytes {
		body = body[:maxDocumentBytes]
	}

	doc, err := html.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", logging.SanitizeURL(rawURL), err)
	}

	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	if resp.Response != nil && resp.Response.Request != nil && resp.Response.Request.URL != nil {
		base = publicURL(base, config.ResolveURLForDocker(rawURL), resp.Response.Request.URL)
	}
	if href := findBaseHref(doc); href != "" {
		if ref, err := url.Parse(href); err == nil {
			base = base.ResolveReference(ref)
		}
	}

	s.doc = doc
	s.base = base
	s.page = &Page{
		URL:        base.String(),
		Title:      strings.TrimSpace(findTitle(doc)),
		StatusCode: resp.StatusCode,
	}

	s.logger.Debug("Loaded page",
		zap.String("url", logging.SanitizeURL(s.page.URL)),
		zap.Int("status", resp.StatusCode),
		zap.Duration("elapsed", time.Since(start)))

	return s.page, nil
}

func (s *httpSession) ExtractDOM(ctx context.Context) (*html.Node, error) {
	if s.doc == nil {
		return nil, ErrNoPage
	}
	return s.doc, nil
}

func (s *httpSession) CaptureScreenshot(ctx context.Context) ([]byte, error) {
	return nil, ErrNotSupported
}

func (s *httpSession) GetLinks(ctx context.Context) ([]string, error) {
	if s.doc == nil {
		return nil, ErrNoPage
	}

	var links []string
	seen := make(map[string]struct{})
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.A {
			if href := attr(n, "href"); href != "" {
				if abs := s.resolve(href); abs != "" {
					if _, ok := seen[abs]; !ok {
						seen[abs] = struct{}{}
						links = append(links, abs)
					}
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(s.doc)
	return links, nil
}

func (s *httpSession) resolve(href string) string {
	href = strings.TrimSpace(href)
	if href == "" || strings.HasPrefix(href, "#") {
		return ""
	}
	ref, err := url.Parse(href)
	if err != nil {
		return ""
	}
	abs := s.base.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return ""
	}
	return abs.String()
}

func (s *httpSession) Close() error {
	s.page, s.doc, s.base = nil, nil, nil
	return nil
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func findTitle(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Title && n.FirstChild != nil {
		return n.FirstChild.Data
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if t := findTitle(c); t != "" {
			return t
		}
	}
	return ""
}

func findBaseHref(n *html.Node) string {
	if n.Type == html.ElementNode && n.DataAtom == atom.Base {
		return attr(n, "href")
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if h := findBaseHref(c); h != "" {
			return h
		}
	}
	return ""
}

// publicURL returns the URL a response was actually served from. Only the
// docker host rewrite is undone; any other host change is kept.
func publicURL(requested *url.URL, fetched string, final *url.URL) *url.URL {
	out := *final
	out.Fragment = ""
	if f, err := url.Parse(fetched); err == nil && f.Host != requested.Host && final.Host == f.Host {
		out.Host = requested.Host
	}
	return &out
}
