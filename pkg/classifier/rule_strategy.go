package classifier

import (
	"context"
	"strings"
	"unicode"

	"github.com/inplace-dev/inplace-engine/pkg/models"
)

// maxNameWords bounds names derived from visible text.
const maxNameWords = 4

// RuleStrategy scores nodes from tag, role and class heuristics.
type RuleStrategy struct{}

var _ Strategy = RuleStrategy{}

func (RuleStrategy) Score(ctx context.Context, page *Page, obs []Observation) ([]Score, error) {
	scores := make([]Score, len(obs))
	for i := range obs {
		scores[i] = scoreRule(obs, i)
	}
	return scores, nil
}

func scoreRule(all []Observation, i int) Score {
	o := &all[i]
	owner := containerLabel(all, o.ParentIndex)
	container := o.Tag == "div" || o.Tag == "section" || o.Tag == "article" || o.Tag == "header"

	switch {
	case o.Role == "navigation" || o.Tag == "nav":
		return Score{Type: models.ElementTypeNavigation, Name: labelOr(o, "Navigation"), Confidence: 0.5}
	case o.Role == "contentinfo" || o.Tag == "footer":
		return Score{Type: models.ElementTypeFooter, Name: labelOr(o, "Footer"), Confidence: 0.5}
	case container && o.HasClassLike("hero"):
		return Score{Type: models.ElementTypeHero, Name: "Hero", Confidence: 0.85}
	case container && o.HasClassLike("card"):
		return Score{Type: models.ElementTypeCard, Name: labelOr(o, "Card"), Confidence: 0.75}
	case container:
		return Score{Type: models.ElementTypeSection, Name: join(labelOr(o, ""), "Section"), Confidence: 0.6}
	case o.Tag == "ul" || o.Tag == "ol":
		return Score{Type: models.ElementTypeList, Name: join(owner, "List"), Confidence: 0.55}
	case isHeading(o.Tag):
		conf := 0.9
		switch o.Tag {
		case "h1":
			conf = 0.95
		case "h4", "h5", "h6":
			conf = 0.8
		}
		name := join(owner, "Title")
		if owner == "" {
			name = titleize(o.Text)
		}
		return Score{Type: models.ElementTypeHeading, Name: name, Confidence: conf}
	case o.Tag == "button" || o.Role == "button" || (o.Tag == "a" && (o.HasClassLike("btn") || o.HasClassLike("button"))):
		return Score{Type: models.ElementTypeButton, Name: join(titleize(o.Text), "Button"), Confidence: 0.85}
	case o.Tag == "img":
		conf := 0.65
		name := join(owner, "Image")
		if o.Alt != "" {
			conf = 0.8
			name = join(titleize(o.Alt), "Image")
		}
		return Score{Type: models.ElementTypeImage, Name: name, Confidence: conf}
	case o.Tag == "a":
		return Score{Type: models.ElementTypeLink, Name: join(titleize(o.Text), "Link"), Confidence: 0.7}
	case o.Tag == "p":
		conf := 0.7
		if len([]rune(o.Text)) >= 20 {
			conf = 0.85
		}
		return Score{Type: models.ElementTypeParagraph, Name: join(owner, "Text"), Confidence: conf}
	default:
		return Score{Type: models.ElementTypeText, Name: join(owner, "Text"), Confidence: 0.6}
	}
}

func isHeading(tag string) bool {
	return len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6'
}

// containerLabel names the nearest hero, card or section above an observation.
func containerLabel(all []Observation, idx int) string {
	for ; idx >= 0; idx = all[idx].ParentIndex {
		o := &all[idx]
		switch o.Tag {
		case "div", "section", "article", "header":
		default:
			continue
		}
		if o.HasClassLike("hero") {
			return "Hero"
		}
		if o.HasClassLike("card") {
			return labelOr(o, "Card")
		}
		return labelOr(o, "")
	}
	return ""
}

// labelOr derives a label from the id or first class, or returns fallback.
func labelOr(o *Observation, fallback string) string {
	if o.ID != "" {
		if l := titleize(o.ID); l != "" {
			return l
		}
	}
	for _, c := range o.Classes {
		if l := titleize(c); l != "" {
			return l
		}
	}
	return fallback
}

// titleize turns "get-started now!" into "Get Started Now".
func titleize(s string) string {
	words := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) > maxNameWords {
		words = words[:maxNameWords]
	}
	for i, w := range words {
		runes := []rune(strings.ToLower(w))
		runes[0] = unicode.ToUpper(runes[0])
		words[i] = string(runes)
	}
	return strings.Join(words, " ")
}

func join(prefix, kind string) string {
	if prefix == "" {
		return kind
	}
	return prefix + " " + kind
}
