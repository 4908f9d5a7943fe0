// Package redact removes credentials from text before it leaves the
// process, using the gitleaks rule set.
package redact

import (
	"errors"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"

	"github.com/BurntSushi/toml"
)

var (
	// ErrInvalidTOML is returned for an unparseable allowlist file.
	ErrInvalidTOML = errors.New("invalid allowlist TOML")
	// ErrInvalidRegex is returned for an allowlist pattern that does not compile.
	ErrInvalidRegex = errors.New("invalid allowlist regex")
)

// Finding is one detected secret.
type Finding struct {
	RuleID string
	Line   int
	Match  string
}

// Allowlist holds content patterns that are never redacted.
type Allowlist struct {
	Regexes []string
}

// Scrubber redacts secrets. The gitleaks detector is built once and shared;
// DetectString is guarded by a mutex because the detector keeps per-scan state.
type Scrubber struct {
	mu       sync.Mutex
	detector *detect.Detector
}

// New builds a Scrubber. allowlistPath is an optional TOML file of the form
//
//	[allowlist]
//	regexes = ['''DEMO_KEY''']
//
// A missing file is ignored.
func New(allowlistPath string) (*Scrubber, error) {
	allow, err := LoadAllowlist(allowlistPath)
	if err != nil {
		return nil, err
	}

	d, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating gitleaks detector: %w", err)
	}
	if allow != nil && len(allow.Regexes) > 0 {
		applyAllowlist(&d.Config, allow)
	}
	return &Scrubber{detector: d}, nil
}

// LoadAllowlist reads an allowlist file. Empty or missing paths yield nil.
func LoadAllowlist(path string) (*Allowlist, error) {
	if path == "" {
		return nil, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}

	var doc struct {
		Allowlist struct {
			Regexes []string
		}
	}
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}
	for _, p := range doc.Allowlist.Regexes {
		if _, err := regexp.Compile(p); err != nil {
			return nil, fmt.Errorf("%w: %q in %s: %v", ErrInvalidRegex, p, path, err)
		}
	}
	return &Allowlist{Regexes: doc.Allowlist.Regexes}, nil
}

func applyAllowlist(cfg *gitleaksConfig.Config, allow *Allowlist) {
	al := &gitleaksConfig.Allowlist{Description: "quoted allowlist"}
	for _, p := range allow.Regexes {
		// Validated in LoadAllowlist.
		al.Regexes = append(al.Regexes, (*gitleaksRegexp.Regexp)(regexp.MustCompile(p)))
	}
	al.StopWords = append(al.StopWords, allow.Regexes...)
	cfg.Allowlists = append(cfg.Allowlists, al)
}

// Scrub returns text with each detected secret replaced by
// [REDACTED:<rule>], plus the findings.
func (s *Scrubber) Scrub(text string) (string, []Finding) {
	if s == nil || text == "" {
		return text, nil
	}

	s.mu.Lock()
	raw := s.detector.DetectString(text)
	s.mu.Unlock()
	if len(raw) == 0 {
		return text, nil
	}

	findings := make([]Finding, 0, len(raw))
	for _, f := range raw {
		if f.Secret == "" {
			continue
		}
		findings = append(findings, Finding{RuleID: f.RuleID, Line: f.StartLine, Match: f.Secret})
	}

	// Longest first so a secret that contains another is replaced whole.
	sorted := make([]Finding, len(findings))
	copy(sorted, findings)
	sort.Slice(sorted, func(i, j int) bool { return len(sorted[i].Match) > len(sorted[j].Match) })
	for _, f := range sorted {
		text = strings.ReplaceAll(text, f.Match, "[REDACTED:"+f.RuleID+"]")
	}
	return text, findings
}
