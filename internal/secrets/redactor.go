package secrets

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

// Finding describes one redacted secret. The secret value is never kept.
type Finding struct {
	RuleID string `json:"rule_id"`
	Line   int    `json:"line"`
	Length int    `json:"length"`
}

// Result is redacted content plus what was removed from it.
type Result struct {
	Content  string    `json:"-"`
	Findings []Finding `json:"findings,omitempty"`
}

// Redacted reports how many secrets were masked.
func (r Result) Redacted() int { return len(r.Findings) }

// Rules counts findings per rule.
func (r Result) Rules() map[string]int {
	out := make(map[string]int, len(r.Findings))
	for _, f := range r.Findings {
		out[f.RuleID]++
	}
	return out
}

// Redactor masks secrets using the Gitleaks default rules. It is safe for
// concurrent use.
type Redactor struct {
	// The detector keeps per-scan state, so scans are serialized.
	mu       sync.Mutex
	detector *detect.Detector
}

// New builds a Redactor. The allowlist may be empty.
func New(allow Allowlist) (*Redactor, error) {
	if err := allow.Validate(); err != nil {
		return nil, err
	}
	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}
	if !allow.Empty() {
		applyAllowlist(&d.Config, allow)
	}
	return &Redactor{detector: d}, nil
}

func applyAllowlist(cfg *gitleaksConfig.Config, allow Allowlist) {
	al := &gitleaksConfig.Allowlist{
		Description: "issuerag allowlist",
		StopWords:   allow.StopWords,
	}
	for _, p := range allow.Regexes {
		// Validated in New.
		re := regexp.MustCompile(p)
		al.Regexes = append(al.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	cfg.Allowlists = append(cfg.Allowlists, al)
}

// Redact replaces every detected secret in content with a
// [REDACTED:rule-id] marker.
func (r *Redactor) Redact(content string) Result {
	if strings.TrimSpace(content) == "" {
		return Result{Content: content}
	}

	r.mu.Lock()
	found := r.detector.DetectString(content)
	r.mu.Unlock()

	if len(found) == 0 {
		return Result{Content: content}
	}

	res := Result{Findings: make([]Finding, 0, len(found))}
	markers := make(map[string]string, len(found))
	for _, f := range found {
		if f.Secret == "" {
			continue
		}
		res.Findings = append(res.Findings, Finding{RuleID: f.RuleID, Line: f.StartLine, Length: len(f.Secret)})
		if _, ok := markers[f.Secret]; !ok {
			markers[f.Secret] = "[REDACTED:" + f.RuleID + "]"
		}
	}

	// Longest first so a secret that contains another is replaced whole.
	secrets := make([]string, 0, len(markers))
	for s := range markers {
		secrets = append(secrets, s)
	}
	sort.Slice(secrets, func(i, j int) bool {
		if len(secrets[i]) != len(secrets[j]) {
			return len(secrets[i]) > len(secrets[j])
		}
		return secrets[i] < secrets[j]
	})
	out := content
	for _, s := range secrets {
		out = strings.ReplaceAll(out, s, markers[s])
	}
	res.Content = out
	return res
}
