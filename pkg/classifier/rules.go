package classifier

import (
	"fmt"
	"os"
	"strings"

	"github.com/samber/lo"
	"golang.org/x/net/html"
	"gopkg.in/yaml.v3"

	"github.com/inplace-dev/inplace-engine/pkg/models"
)

// Rules is the exclusion policy applied after scoring. It errs toward
// omitting a node rather than surfacing boilerplate.
type Rules struct {
	// ChromeTags are ancestors whose whole subtree is treated as site chrome.
	ChromeTags []string `yaml:"chrome_tags"`

	// ChromeRoles are ARIA roles treated like ChromeTags.
	ChromeRoles []string `yaml:"chrome_roles"`

	// ExcludedClassSubstrings drop a node when any of its or its ancestors'
	// classes contain one of them.
	ExcludedClassSubstrings []string `yaml:"excluded_class_substrings"`

	// MinTextLength is the shortest text value kept for text-bearing types.
	MinTextLength int `yaml:"min_text_length"`

	// MaxTextLength drops text values too long to be a single editable field.
	MaxTextLength int `yaml:"max_text_length"`
}

// DefaultRules returns the built-in exclusion policy.
func DefaultRules() *Rules {
	return &Rules{
		ChromeTags:              []string{"nav", "footer"},
		ChromeRoles:             []string{"navigation", "contentinfo"},
		ExcludedClassSubstrings: []string{"sr-only", "visually-hidden", "cookie", "skip-link"},
		MinTextLength:           2,
		MaxTextLength:           2000,
	}
}

// LoadRules reads a YAML rules file. Fields left out keep their defaults.
func LoadRules(path string) (*Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	if err := yaml.Unmarshal(data, rules); err != nil {
		return nil, fmt.Errorf("parse rules file %s: %w", path, err)
	}
	if rules.MinTextLength < 0 || (rules.MaxTextLength > 0 && rules.MaxTextLength < rules.MinTextLength) {
		return nil, fmt.Errorf("invalid text length bounds in %s", path)
	}
	return rules, nil
}

// Excluded reports why obs, scored as typ, should be dropped, or "" to keep it.
func (r *Rules) Excluded(obs *Observation, typ models.ElementType) string {
	nodes := append(append([]*html.Node(nil), obs.Ancestors...), obs.Node)
	for _, n := range nodes {
		if contains(r.ChromeTags, n.Data) {
			return "chrome:" + n.Data
		}
		if role := strings.ToLower(attr(n, "role")); role != "" && contains(r.ChromeRoles, role) {
			return "chrome:" + role
		}
		class := strings.ToLower(attr(n, "class"))
		for _, sub := range r.ExcludedClassSubstrings {
			if sub != "" && strings.Contains(class, strings.ToLower(sub)) {
				return "class:" + sub
			}
		}
	}

	if isContainerType(typ) {
		return ""
	}
	if typ == models.ElementTypeImage {
		if obs.Text == "" {
			return "empty"
		}
		return ""
	}

	length := len([]rune(obs.Text))
	if length == 0 || length < r.MinTextLength {
		return "too_short"
	}
	if r.MaxTextLength > 0 && length > r.MaxTextLength {
		return "too_long"
	}
	return ""
}

func isContainerType(t models.ElementType) bool {
	switch t {
	case models.ElementTypeSection, models.ElementTypeHero, models.ElementTypeCard,
		models.ElementTypeList, models.ElementTypeNavigation, models.ElementTypeFooter:
		return true
	}
	return false
}

func contains(list []string, s string) bool {
	return lo.ContainsBy(list, func(v string) bool { return strings.EqualFold(v, s) })
}
