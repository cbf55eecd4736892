package verification

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var defaultRules []byte

type ruleDef struct {
	Code        string   `yaml:"code"`
	Description string   `yaml:"description"`
	Severity    Severity `yaml:"severity"`
	SQL         string   `yaml:"sql"`
	BatchScoped bool     `yaml:"batch_scoped"`
	Active      *bool    `yaml:"active"`
}

type catalogFile struct {
	Rules []ruleDef `yaml:"rules"`
}

// ParseCatalog decodes a rule catalog document.
func ParseCatalog(data []byte) ([]Rule, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rule catalog: %w", err)
	}
	rules := make([]Rule, 0, len(f.Rules))
	seen := make(map[string]bool, len(f.Rules))
	for _, d := range f.Rules {
		r := Rule{
			Code:        strings.TrimSpace(d.Code),
			Description: strings.TrimSpace(d.Description),
			Severity:    d.Severity,
			SQL:         strings.TrimSpace(d.SQL),
			BatchScoped: d.BatchScoped,
			Active:      d.Active == nil || *d.Active,
		}
		if err := r.Validate(); err != nil {
			return nil, err
		}
		if seen[r.Code] {
			return nil, fmt.Errorf("duplicate rule code %s", r.Code)
		}
		seen[r.Code] = true
		rules = append(rules, r)
	}
	return rules, nil
}

// DefaultCatalog returns the built-in rules.
func DefaultCatalog() ([]Rule, error) {
	return ParseCatalog(defaultRules)
}

// LoadCatalog returns the built-in rules merged with those in path. Rules in
// the file replace built-ins with the same code; new codes are appended.
// An empty path yields the built-ins alone.
func LoadCatalog(path string) ([]Rule, error) {
	rules, err := DefaultCatalog()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return rules, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule catalog: %w", err)
	}
	extra, err := ParseCatalog(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return Merge(rules, extra), nil
}

// Merge overlays extra onto base by rule code, keeping base order.
func Merge(base, extra []Rule) []Rule {
	idx := make(map[string]int, len(base))
	out := make([]Rule, len(base))
	copy(out, base)
	for i, r := range out {
		idx[r.Code] = i
	}
	for _, r := range extra {
		if i, ok := idx[r.Code]; ok {
			out[i] = r
			continue
		}
		idx[r.Code] = len(out)
		out = append(out, r)
	}
	return out
}
