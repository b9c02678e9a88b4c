package category

import (
	"os"
	"path/filepath"
	"testing"
)

const testRules = `
categories:
  - name: nature
    keywords: [forest, river, tree]
  - name: sea
    keywords: [ocean, wave, river]
`

func TestMatch(t *testing.T) {
	m, err := Parse([]byte(testRules))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	tests := []struct {
		name     string
		keywords []string
		want     string
	}{
		{"single hit", []string{"forest"}, "nature"},
		{"case insensitive", []string{" OCEAN "}, "sea"},
		{"most hits wins", []string{"river", "ocean", "wave"}, "sea"},
		{"tie goes to first rule", []string{"river"}, "nature"},
		{"duplicates count once", []string{"ocean", "ocean", "forest", "tree"}, "nature"},
		{"no hit", []string{"car"}, ""},
		{"empty", nil, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := m.Match(tt.keywords); got != tt.want {
				t.Errorf("Match(%v) = %q, want %q", tt.keywords, got, tt.want)
			}
		})
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad yaml":       "categories: [",
		"missing name":   "categories:\n  - keywords: [a]\n",
		"duplicate name": "categories:\n  - name: a\n  - name: a\n",
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Parse([]byte(data)); err == nil {
				t.Errorf("Parse(%q) should fail", data)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	m, err := Load("")
	if err != nil {
		t.Fatalf("Load(\"\") error = %v", err)
	}
	if len(m.Categories()) == 0 {
		t.Error("embedded defaults are empty")
	}
	if got := m.Match([]string{"beach", "wave"}); got != "sea" {
		t.Errorf("default Match(beach, wave) = %q, want sea", got)
	}

	path := filepath.Join(t.TempDir(), "rules.yaml")
	os.WriteFile(path, []byte(testRules), 0o644)
	m, err = Load(path)
	if err != nil {
		t.Fatalf("Load(file) error = %v", err)
	}
	if got := m.Categories(); len(got) != 2 || got[0] != "nature" {
		t.Errorf("Categories() = %v", got)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load(missing) should fail")
	}
}
