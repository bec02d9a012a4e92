package secrets

import (
	"fmt"
	"regexp"
)

// Config configures the scrubber.
type Config struct {
	// Enabled controls whether scrubbing runs at all.
	Enabled bool `koanf:"enabled"`

	// Gitleaks enables the gitleaks default rules.
	Gitleaks bool `koanf:"gitleaks"`

	// Rules are regex rules applied alongside gitleaks.
	Rules []Rule `koanf:"rules"`

	// AllowlistFile is a gitleaks-style TOML allowlist. Empty skips it.
	AllowlistFile string `koanf:"allowlist_file"`
}

// Rule is one regex detection rule.
type Rule struct {
	ID          string   `koanf:"id"`
	Description string   `koanf:"description"`
	Pattern     string   `koanf:"pattern"`
	Keywords    []string `koanf:"keywords"`
}

type compiledRule struct {
	Rule
	pattern  *regexp.Regexp
	keywords []*regexp.Regexp
}

// DefaultConfig enables gitleaks plus DefaultRules.
func DefaultConfig() *Config {
	return &Config{
		Enabled:  true,
		Gitleaks: true,
		Rules:    DefaultRules(),
	}
}

func compileRules(rules []Rule) ([]*compiledRule, error) {
	out := make([]*compiledRule, 0, len(rules))
	for i, rule := range rules {
		if rule.ID == "" {
			return nil, fmt.Errorf("rule %d: ID is required", i)
		}
		pattern, err := regexp.Compile(rule.Pattern)
		if err != nil || rule.Pattern == "" {
			return nil, fmt.Errorf("%w: rule %s: %v", ErrInvalidRegex, rule.ID, err)
		}
		c := &compiledRule{Rule: rule, pattern: pattern}
		for _, kw := range rule.Keywords {
			c.keywords = append(c.keywords, regexp.MustCompile("(?i)"+regexp.QuoteMeta(kw)))
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *compiledRule) applies(content string) bool {
	if len(r.keywords) == 0 {
		return true
	}
	for _, kw := range r.keywords {
		if kw.MatchString(content) {
			return true
		}
	}
	return false
}
