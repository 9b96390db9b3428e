package synthesis

import (
	"errors"
	"os"
	"path/filepath"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/chartline-health/chartline/pkg/common/faults"
)

// DenyRule is one banned phrasing: diagnostic conclusions or treatment
// directives that must never appear in rendered documentation.
type DenyRule struct {
	Name    string `yaml:"name" json:"name"`
	Pattern string `yaml:"pattern" json:"pattern"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

type DenylistConfig struct {
	Rules []DenyRule `yaml:"rules" json:"rules"`
}

// LoadDenylist reads a denylist file, falling back to the built-in set
// when path is empty.
func LoadDenylist(path string) (DenylistConfig, error) {
	if path == "" {
		return DefaultDenylist(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return DenylistConfig{}, err
	}

	var cfg DenylistConfig
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return DenylistConfig{}, err
	}
	if len(cfg.Rules) == 0 {
		return DenylistConfig{}, errors.New("no denylist rules configured")
	}
	return cfg, nil
}

func DefaultDenylist() DenylistConfig {
	return DenylistConfig{Rules: []DenyRule{
		{Name: "diagnosis-language", Pattern: `\bdiagnos(?:is|es|ed|tic)\b`, Enabled: true},
		{Name: "myocardial-infarction", Pattern: `\bmyocardial infarction\b|\bheart attack\b`, Enabled: true},
		{Name: "pneumonia", Pattern: `\bpneumonia\b`, Enabled: true},
		{Name: "sepsis", Pattern: `\bsepsis\b`, Enabled: true},
		{Name: "stroke", Pattern: `\bstroke\b`, Enabled: true},
		{Name: "angina", Pattern: `\bangina\b`, Enabled: true},
		{Name: "dose-change-directive", Pattern: `\b(?:increase|decrease|reduce|double|halve|titrate)\s+(?:the\s+)?dos(?:e|age|ing)\b`, Enabled: true},
		{Name: "treatment-recommendation", Pattern: `\b(?:recommend(?:s|ed)?|should take|must take|prescribe(?:s|d)?|advise(?:s|d)?\s+taking)\b`, Enabled: true},
	}}
}

type compiledRule struct {
	rule DenyRule
	re   *regexp.Regexp
}

// SafetyScanner checks rendered notes against the denylist before they
// leave the synthesizer.
type SafetyScanner struct {
	rules []compiledRule
}

func NewSafetyScanner(cfg DenylistConfig) (*SafetyScanner, error) {
	var compiled []compiledRule
	for _, rule := range cfg.Rules {
		if !rule.Enabled {
			continue
		}
		re, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, compiledRule{rule: rule, re: re})
	}
	return &SafetyScanner{rules: compiled}, nil
}

// Check returns a policy_violation fault listing every matched term when
// text contains denylisted language; nil otherwise. Content is never
// silently stripped.
func (s *SafetyScanner) Check(text string) error {
	var matched []string
	for _, rule := range s.rules {
		if hit := rule.re.FindString(text); hit != "" {
			matched = append(matched, hit)
		}
	}
	if len(matched) > 0 {
		return faults.PolicyViolation(matched)
	}
	return nil
}
