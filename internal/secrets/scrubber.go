package secrets

import (
	"context"
	"regexp"
	"sort"
	"strings"

	gitleaksconfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksregexp "github.com/zricethezav/gitleaks/v8/regexp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowledged/internal/logging"
)

// Finding is one redacted match. The secret itself is never kept.
type Finding struct {
	RuleID string `json:"rule_id"`
	Line   int    `json:"line"`
	Length int    `json:"length"`
}

// Result is scrubbed text plus what was removed from it.
type Result struct {
	Text     string         `json:"-"`
	Findings []Finding      `json:"findings,omitempty"`
	ByRule   map[string]int `json:"by_rule,omitempty"`
}

// Redacted reports whether anything was replaced.
func (r Result) Redacted() bool { return len(r.Findings) > 0 }

// Scrubber redacts secrets from text.
type Scrubber interface {
	Scrub(ctx context.Context, content string) Result
	Enabled() bool
}

// New builds a scrubber from cfg. A nil cfg uses DefaultConfig; a
// disabled one returns Nop.
func New(cfg *Config, logger *logging.Logger) (Scrubber, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if !cfg.Enabled {
		return Nop{}, nil
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	rules, err := compileRules(cfg.Rules)
	if err != nil {
		return nil, err
	}
	allow, err := LoadAllowlist(cfg.AllowlistFile)
	if err != nil {
		return nil, err
	}

	s := &scrubber{rules: rules, stopWords: allow.StopWords, logger: logger.Named("secrets")}
	for _, p := range allow.Regexes {
		s.allow = append(s.allow, regexp.MustCompile(p))
	}

	if cfg.Gitleaks {
		base, err := detect.NewDetectorDefaultConfig()
		if err != nil {
			return nil, err
		}
		if len(allow.Regexes) > 0 || len(allow.StopWords) > 0 {
			applyAllowlist(&base.Config, s.allow, allow.StopWords)
		}
		s.gitleaks = &base.Config
	}
	return s, nil
}

type scrubber struct {
	// gitleaks is the parsed rule set; each Scrub builds a fresh detector
	// from it because detectors accumulate findings across calls.
	gitleaks  *gitleaksconfig.Config
	rules     []*compiledRule
	allow     []*regexp.Regexp
	stopWords []string
	logger    *logging.Logger
}

type span struct {
	start, end int
	ruleID     string
}

func (s *scrubber) Enabled() bool { return true }

func (s *scrubber) Scrub(ctx context.Context, content string) Result {
	var spans []span

	for _, r := range s.rules {
		if !r.applies(content) {
			continue
		}
		for _, m := range r.pattern.FindAllStringIndex(content, -1) {
			if !s.allowed(content[m[0]:m[1]]) {
				spans = append(spans, span{m[0], m[1], r.ID})
			}
		}
	}

	if s.gitleaks != nil {
		for _, f := range detect.NewDetector(*s.gitleaks).DetectString(content) {
			secret := f.Secret
			if secret == "" {
				secret = f.Match
			}
			if secret == "" || s.allowed(secret) {
				continue
			}
			for _, at := range indexAll(content, secret) {
				spans = append(spans, span{at, at + len(secret), f.RuleID})
			}
		}
	}

	res := Result{Text: content}
	if len(spans) == 0 {
		return res
	}

	merged := mergeSpans(spans)
	res.ByRule = make(map[string]int)
	var b strings.Builder
	b.Grow(len(content))
	last := 0
	for _, sp := range merged {
		b.WriteString(content[last:sp.start])
		b.WriteString("[REDACTED:" + sp.ruleID + "]")
		last = sp.end
		res.Findings = append(res.Findings, Finding{
			RuleID: sp.ruleID,
			Line:   strings.Count(content[:sp.start], "\n") + 1,
			Length: sp.end - sp.start,
		})
		res.ByRule[sp.ruleID]++
	}
	b.WriteString(content[last:])
	res.Text = b.String()

	s.logger.Info(ctx, "secrets redacted", zap.Int("findings", len(res.Findings)), zap.Any("by_rule", res.ByRule))
	return res
}

func (s *scrubber) allowed(match string) bool {
	for _, re := range s.allow {
		if re.MatchString(match) {
			return true
		}
	}
	lower := strings.ToLower(match)
	for _, w := range s.stopWords {
		if strings.Contains(lower, strings.ToLower(w)) {
			return true
		}
	}
	return false
}

// mergeSpans sorts spans and merges overlaps. The first rule to claim a
// position names the merged span.
func mergeSpans(spans []span) []span {
	sort.SliceStable(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	out := []span{spans[0]}
	for _, sp := range spans[1:] {
		last := &out[len(out)-1]
		if sp.start < last.end {
			if sp.end > last.end {
				last.end = sp.end
			}
			continue
		}
		out = append(out, sp)
	}
	return out
}

func indexAll(s, sub string) []int {
	var out []int
	for off := 0; ; {
		i := strings.Index(s[off:], sub)
		if i < 0 {
			return out
		}
		out = append(out, off+i)
		off += i + len(sub)
	}
}

func applyAllowlist(cfg *gitleaksconfig.Config, regexes []*regexp.Regexp, stopWords []string) {
	al := &gitleaksconfig.Allowlist{Description: "knowledged allowlist", StopWords: stopWords}
	for _, re := range regexes {
		al.Regexes = append(al.Regexes, (*gitleaksregexp.Regexp)(re))
	}
	cfg.Allowlists = append(cfg.Allowlists, al)
}

// Nop passes text through unchanged.
type Nop struct{}

// Scrub returns content as-is.
func (Nop) Scrub(_ context.Context, content string) Result { return Result{Text: content} }

// Enabled is always false.
func (Nop) Enabled() bool { return false }
