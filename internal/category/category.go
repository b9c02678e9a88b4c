// Package category derives a segment category from its keyword set using
// YAML rules.
//
// Rules file shape:
//
//	categories:
//	  - name: nature
//	    keywords: [forest, tree, river]
//
// A category scores one hit per segment keyword it lists (case-insensitive).
// The highest score wins, ties go to the rule listed first, and a segment
// with no hit has no category.
package category

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed default_categories.yaml
var defaultRules []byte

type Rule struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

type rulesFile struct {
	Categories []Rule `yaml:"categories"`
}

type Matcher struct {
	rules []compiledRule
}

type compiledRule struct {
	name     string
	keywords map[string]struct{}
}

// Parse builds a Matcher from YAML rules.
func Parse(data []byte) (*Matcher, error) {
	var f rulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse category rules: %w", err)
	}

	m := &Matcher{}
	seen := make(map[string]bool)
	for i, r := range f.Categories {
		name := strings.TrimSpace(r.Name)
		if name == "" {
			return nil, fmt.Errorf("category rule %d has no name", i)
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate category %q", name)
		}
		seen[name] = true

		cr := compiledRule{name: name, keywords: make(map[string]struct{}, len(r.Keywords))}
		for _, kw := range r.Keywords {
			if kw = normalize(kw); kw != "" {
				cr.keywords[kw] = struct{}{}
			}
		}
		m.rules = append(m.rules, cr)
	}
	return m, nil
}

// Load reads rules from path, or the embedded defaults when path is empty.
func Load(path string) (*Matcher, error) {
	if path == "" {
		return Default(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read category rules: %w", err)
	}
	return Parse(data)
}

// Default returns the matcher for the embedded rules.
func Default() *Matcher {
	m, err := Parse(defaultRules)
	if err != nil {
		panic(err)
	}
	return m
}

// Match returns the best category for keywords, or "" when none applies.
func (m *Matcher) Match(keywords []string) string {
	if m == nil || len(keywords) == 0 {
		return ""
	}
	set := make(map[string]struct{}, len(keywords))
	for _, kw := range keywords {
		if kw = normalize(kw); kw != "" {
			set[kw] = struct{}{}
		}
	}

	best, bestHits := "", 0
	for _, r := range m.rules {
		hits := 0
		for kw := range set {
			if _, ok := r.keywords[kw]; ok {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = r.name, hits
		}
	}
	return best
}

// Categories lists rule names in file order.
func (m *Matcher) Categories() []string {
	names := make([]string, 0, len(m.rules))
	for _, r := range m.rules {
		names = append(names, r.name)
	}
	return names
}

func normalize(kw string) string {
	return strings.ToLower(strings.TrimSpace(kw))
}
