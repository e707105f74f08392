// Package rules implements the declarative extraction-rule registry and the
// first-match selector.
//
// A rule is data, not code: a case-insensitive pattern, the ordered names of
// its capture groups, and static fields (institution, transaction type) that
// apply to every match. Rules load once at startup and are immutable after;
// registry order is significant, authors put specific institution rules
// before generic fallbacks.
package rules

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

//go:embed rules.yaml
var embeddedRules []byte

// Rule is one sender/format's extraction recipe.
type Rule struct {
	Name    string            `yaml:"name"`
	Pattern string            `yaml:"pattern"`
	Fields  []string          `yaml:"fields"`
	Static  map[string]string `yaml:"static"`

	re *regexp.Regexp
}

// Test runs the rule against arbitrary text and returns the captured fields.
// Used by the introspection CLI; the pipeline goes through Registry.Select.
func (r *Rule) Test(text string) (map[string]string, bool) {
	m := r.re.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	captures := make(map[string]string, len(r.Fields))
	for i, field := range r.Fields {
		captures[field] = m[i+1]
	}
	return captures, true
}

type ruleSet struct {
	Rules []Rule `yaml:"rules"`
}

// Match is the outcome of a successful rule selection: raw captured
// substrings keyed by the rule's field names, plus the rule's static fields.
type Match struct {
	Rule     string
	Captures map[string]string
	Static   map[string]string
}

// Registry is the ordered, immutable rule collection.
type Registry struct {
	rules []Rule
}

// NewRegistry parses and validates YAML rule data. Every pattern is compiled
// case-insensitive with dot matching newlines, since source formats wrap
// differently. Validation rejects duplicate names, uncompilable patterns and
// field lists that disagree with the pattern's capture-group count.
func NewRegistry(data []byte) (*Registry, error) {
	var set ruleSet
	if err := yaml.Unmarshal(data, &set); err != nil {
		return nil, fmt.Errorf("parsing rules yaml: %w", err)
	}
	if len(set.Rules) == 0 {
		return nil, fmt.Errorf("rule set is empty")
	}

	seen := make(map[string]struct{}, len(set.Rules))
	for i := range set.Rules {
		rule := &set.Rules[i]
		if rule.Name == "" {
			return nil, fmt.Errorf("rule %d: name is required", i)
		}
		if _, dup := seen[rule.Name]; dup {
			return nil, fmt.Errorf("rule %q: duplicate name", rule.Name)
		}
		seen[rule.Name] = struct{}{}

		re, err := regexp.Compile("(?is)" + rule.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: compiling pattern: %w", rule.Name, err)
		}
		if got, want := re.NumSubexp(), len(rule.Fields); got != want {
			return nil, fmt.Errorf("rule %q: pattern has %d capture groups but %d field names", rule.Name, got, want)
		}
		for j, f := range rule.Fields {
			if f == "" {
				return nil, fmt.Errorf("rule %q: field %d has no name", rule.Name, j)
			}
		}
		rule.re = re
	}

	return &Registry{rules: set.Rules}, nil
}

// LoadEmbedded loads the rule set compiled into the binary.
func LoadEmbedded() (*Registry, error) {
	return NewRegistry(embeddedRules)
}

// LoadFile loads a rule set from disk, for deployments that override the
// embedded rules without rebuilding.
func LoadFile(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading rules file: %w", err)
	}
	reg, err := NewRegistry(data)
	if err != nil {
		return nil, fmt.Errorf("loading rules from %q: %w", path, err)
	}
	return reg, nil
}

// Select returns the first rule in registry order whose pattern matches the
// body, with its captures. This is deterministic first-match, not best-match:
// two matching rules always resolve to the earlier one.
func (r *Registry) Select(body string) (*Match, bool) {
	for i := range r.rules {
		rule := &r.rules[i]
		captures, ok := rule.Test(body)
		if !ok {
			continue
		}
		return &Match{
			Rule:     rule.Name,
			Captures: captures,
			Static:   rule.Static,
		}, true
	}
	return nil, false
}

// Names lists rule names in registry order.
func (r *Registry) Names() []string {
	names := make([]string, len(r.rules))
	for i, rule := range r.rules {
		names[i] = rule.Name
	}
	return names
}

// Rule looks a rule up by name.
func (r *Registry) Rule(name string) (*Rule, bool) {
	for i := range r.rules {
		if r.rules[i].Name == name {
			return &r.rules[i], true
		}
	}
	return nil, false
}

// Len reports the number of loaded rules.
func (r *Registry) Len() int {
	return len(r.rules)
}
