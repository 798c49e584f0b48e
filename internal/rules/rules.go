// Package rules defines the audit rule model: page-scoped and site-scoped
// checks with severity weights used directly by the scoring engine.
package rules

import (
	"fmt"

	"seoscope/internal/audit"
)

// Severity orders rule importance. The integer value is the scoring weight;
// there is no remapping.
type Severity int

// Supported severities.
const (
	Notice  Severity = 1
	Warning Severity = 2
	Error   Severity = 3
)

// String returns the lowercase severity label used in reports.
func (s Severity) String() string {
	switch s {
	case Error:
		return "error"
	case Warning:
		return "warning"
	case Notice:
		return "notice"
	default:
		return "unknown"
	}
}

// Weight returns the severity's scoring weight.
func (s Severity) Weight() int {
	return int(s)
}

// Outcome is the result of one rule evaluation.
type Outcome struct {
	Passed  bool
	Message string
}

// SiteContext is the input for site-scoped rules, evaluated once per audit.
type SiteContext struct {
	BaseURL     string
	SitemapURL  string
	CrawledURLs []string
}

// PageRule checks a single HTML page.
type PageRule struct {
	Name     string
	Severity Severity
	Check    func(page *audit.PageSnapshot) Outcome
}

// SiteRule checks the audited site as a whole.
type SiteRule struct {
	Name     string
	Severity Severity
	Check    func(site SiteContext) Outcome
}

// SiteResult pairs a site rule with its outcome for scoring and reporting.
type SiteResult struct {
	Rule    SiteRule
	Outcome Outcome
}

// EvaluatePage runs a page rule, containing panics at the rule boundary. A
// panicking predicate becomes a failed outcome with a diagnostic, never an
// aborted audit.
func EvaluatePage(rule PageRule, page *audit.PageSnapshot) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Passed: false, Message: fmt.Sprintf("rule %s panicked: %v", rule.Name, r)}
		}
	}()
	if rule.Check == nil {
		return Outcome{Passed: false, Message: "rule has no check"}
	}
	return rule.Check(page)
}

// EvaluateSite runs a site rule with the same containment as EvaluatePage.
func EvaluateSite(rule SiteRule, site SiteContext) (out Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out = Outcome{Passed: false, Message: fmt.Sprintf("rule %s panicked: %v", rule.Name, r)}
		}
	}()
	if rule.Check == nil {
		return Outcome{Passed: false, Message: "rule has no check"}
	}
	return rule.Check(site)
}

// Validate enforces globally unique rule names across the active rule set.
func Validate(pageRules []PageRule, siteRules []SiteRule) error {
	seen := make(map[string]struct{}, len(pageRules)+len(siteRules))
	for _, r := range pageRules {
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("duplicate rule name %q", r.Name)
		}
		seen[r.Name] = struct{}{}
	}
	for _, r := range siteRules {
		if _, dup := seen[r.Name]; dup {
			return fmt.Errorf("duplicate rule name %q", r.Name)
		}
		seen[r.Name] = struct{}{}
	}
	return nil
}
