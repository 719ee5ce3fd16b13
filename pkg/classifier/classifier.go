// Package classifier proposes editable content elements for a loaded page.
//
// Classification is a deterministic pipeline: Observe collects candidate DOM
// nodes, a Strategy assigns each a type, name and confidence, and the
// exclusion Rules plus a minimum-confidence cutoff drop boilerplate.
package classifier

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/inplace-dev/inplace-engine/pkg/models"
)

// Page is a loaded document handed to the classifier.
type Page struct {
	URL   string
	Title string
	Root  *html.Node
}

// Candidate is a proposed element.
type Candidate struct {
	Name           string
	Type           models.ElementType
	Selector       string
	XPath          string
	Confidence     float64
	CurrentValue   string
	ParentSelector *string
}

// ElementClassifier proposes candidates for a page.
type ElementClassifier interface {
	Classify(ctx context.Context, page *Page) ([]Candidate, error)
}

// Score is a strategy's verdict for one observation.
type Score struct {
	Type       models.ElementType
	Name       string
	Confidence float64
}

// Strategy scores observations. The returned slice is aligned with obs.
type Strategy interface {
	Score(ctx context.Context, page *Page, obs []Observation) ([]Score, error)
}

// Classifier is the default ElementClassifier.
type Classifier struct {
	strategy      Strategy
	rules         *Rules
	minConfidence float64
	logger        *zap.Logger
}

var _ ElementClassifier = (*Classifier)(nil)

// NewClassifier creates a Classifier. A nil rules uses DefaultRules.
func NewClassifier(strategy Strategy, rules *Rules, minConfidence float64, logger *zap.Logger) *Classifier {
	if rules == nil {
		rules = DefaultRules()
	}
	return &Classifier{
		strategy:      strategy,
		rules:         rules,
		minConfidence: minConfidence,
		logger:        logger.Named("classifier"),
	}
}

func (c *Classifier) Classify(ctx context.Context, page *Page) ([]Candidate, error) {
	if page == nil || page.Root == nil {
		return nil, fmt.Errorf("page has no document")
	}

	obs := Observe(page.Root)
	if len(obs) == 0 {
		return nil, nil
	}

	scores, err := c.strategy.Score(ctx, page, obs)
	if err != nil {
		return nil, fmt.Errorf("score candidates: %w", err)
	}
	if len(scores) != len(obs) {
		return nil, fmt.Errorf("strategy returned %d scores for %d candidates", len(scores), len(obs))
	}

	kept := make([]bool, len(obs))
	excluded := 0
	for i := range obs {
		s := scores[i]
		if !models.IsValidElementType(s.Type) || s.Confidence < c.minConfidence {
			excluded++
			continue
		}
		if reason := c.rules.Excluded(&obs[i], s.Type); reason != "" {
			excluded++
			continue
		}
		kept[i] = true
	}

	candidates := make([]Candidate, 0, len(obs)-excluded)
	seen := make(map[string]struct{}, len(obs))
	for i, o := range obs {
		if !kept[i] {
			continue
		}
		if _, dup := seen[o.Selector]; dup {
			continue
		}
		seen[o.Selector] = struct{}{}

		s := scores[i]
		cand := Candidate{
			Name:         s.Name,
			Type:         s.Type,
			Selector:     o.Selector,
			XPath:        o.XPath,
			Confidence:   clamp(s.Confidence),
			CurrentValue: o.Text,
		}
		if isContainerType(s.Type) {
			cand.CurrentValue = ""
		}
		for p := o.ParentIndex; p >= 0; p = obs[p].ParentIndex {
			if kept[p] && isContainerType(scores[p].Type) {
				parent := obs[p].Selector
				cand.ParentSelector = &parent
				break
			}
		}
		candidates = append(candidates, cand)
	}

	c.logger.Debug("Classified page",
		zap.String("page_url", page.URL),
		zap.Int("observed", len(obs)),
		zap.Int("kept", len(candidates)),
		zap.Int("excluded", excluded))

	return candidates, nil
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
