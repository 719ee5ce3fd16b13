package classifier

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/inplace-dev/inplace-engine/pkg/llm"
	"github.com/inplace-dev/inplace-engine/pkg/models"
	"github.com/inplace-dev/inplace-engine/pkg/retry"
)

// maxPromptText truncates node text in the prompt.
const maxPromptText = 120

const modelSystemMessage = `You classify nodes of a web page as editable website content.
Answer with a JSON array only. Each item is {"index": <int>, "type": <string>, "name": <string>, "confidence": <0..1>}.
Allowed types: text, heading, paragraph, image, link, button, section, list, navigation, footer, hero, card, custom.
"name" is a short human label an editor would recognise, such as "Hero Title" or "Pricing Button".
Give low confidence to boilerplate such as navigation menus, legal text and cookie banners.`

// ModelStrategy scores observations with a language model. Any node the
// model omits or mislabels keeps the fallback score, and the whole page
// falls back when the model is unavailable.
type ModelStrategy struct {
	client   llm.LLMClient
	fallback Strategy
	breaker  *llm.CircuitBreaker
	retryCfg *retry.Config
	logger   *zap.Logger
}

var _ Strategy = (*ModelStrategy)(nil)

// NewModelStrategy creates a ModelStrategy over client with a rule fallback.
func NewModelStrategy(client llm.LLMClient, fallback Strategy, logger *zap.Logger) *ModelStrategy {
	if fallback == nil {
		fallback = RuleStrategy{}
	}
	return &ModelStrategy{
		client:   client,
		fallback: fallback,
		breaker:  llm.NewCircuitBreaker(3, time.Minute),
		retryCfg: retry.ReadConfig(),
		logger:   logger.Named("model-strategy"),
	}
}

type modelScore struct {
	Index      int     `json:"index"`
	Type       string  `json:"type"`
	Name       string  `json:"name"`
	Confidence float64 `json:"confidence"`
}

func (s *ModelStrategy) Score(ctx context.Context, page *Page, obs []Observation) ([]Score, error) {
	scores, err := s.fallback.Score(ctx, page, obs)
	if err != nil {
		return nil, err
	}

	if err := s.breaker.Allow(); err != nil {
		s.logger.Debug("Model unavailable, using rule scores", zap.String("page_url", page.URL))
		return scores, nil
	}

	prompt := buildPrompt(page, obs)
	result, err := retry.DoIfRetryableWithResult(ctx, s.retryCfg, func() (*llm.GenerateResponseResult, error) {
		return s.client.GenerateResponse(ctx, prompt, modelSystemMessage)
	})
	if err != nil {
		s.breaker.RecordFailure()
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		s.logger.Warn("Model classification failed, using rule scores",
			zap.String("page_url", page.URL),
			zap.Error(err))
		return scores, nil
	}

	parsed, err := llm.ParseJSONResponse[[]modelScore](result.Content)
	if err != nil {
		s.breaker.RecordFailure()
		s.logger.Warn("Unparseable model response, using rule scores",
			zap.String("page_url", page.URL),
			zap.Error(err))
		return scores, nil
	}
	s.breaker.RecordSuccess()

	applied := 0
	for _, m := range parsed {
		if m.Index < 0 || m.Index >= len(obs) {
			continue
		}
		typ := models.ElementType(strings.ToLower(strings.TrimSpace(m.Type)))
		if !models.IsValidElementType(typ) {
			continue
		}
		name := strings.TrimSpace(m.Name)
		if name == "" {
			name = scores[m.Index].Name
		}
		scores[m.Index] = Score{Type: typ, Name: name, Confidence: clamp(m.Confidence)}
		applied++
	}

	s.logger.Debug("Model scored page",
		zap.String("page_url", page.URL),
		zap.Int("candidates", len(obs)),
		zap.Int("model_scored", applied))

	return scores, nil
}

func buildPrompt(page *Page, obs []Observation) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Page: %s\nTitle: %s\n\nNodes:\n", page.URL, page.Title)
	for _, o := range obs {
		text := o.Text
		if r := []rune(text); len(r) > maxPromptText {
			text = string(r[:maxPromptText]) + "..."
		}
		fmt.Fprintf(&b, "%d. <%s", o.Index, o.Tag)
		if o.Role != "" {
			fmt.Fprintf(&b, " role=%q", o.Role)
		}
		if len(o.Classes) > 0 {
			fmt.Fprintf(&b, " class=%q", strings.Join(o.Classes, " "))
		}
		if o.Alt != "" {
			fmt.Fprintf(&b, " alt=%q", o.Alt)
		}
		fmt.Fprintf(&b, "> parent=%d text=%q\n", o.ParentIndex, text)
	}
	return b.String()
}
