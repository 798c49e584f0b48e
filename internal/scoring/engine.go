// Package scoring turns raw per-page rule results into a reproducible weighted
// score and the two report projections.
package scoring

import (
	"math"

	"seoscope/internal/audit"
	"seoscope/internal/rules"
)

// Engine aggregates visited-resource records and site-rule results. It holds
// no mutable state; every method is deterministic given the same inputs.
type Engine struct {
	pageRules []rules.PageRule
}

// New creates an Engine for the given page rule set. The rule set fixes the
// ordering and weights used by both projections.
func New(pageRules []rules.PageRule) *Engine {
	return &Engine{pageRules: append([]rules.PageRule(nil), pageRules...)}
}

// Score computes the overall proportional score.
//
// For each page rule the fraction of all scanned HTML pages that pass it earns
// weight*passing points out of weight*totalPages possible. Site rules each
// contribute their declared weight once, pass or fail. A rule violated on 1 of
// 100 pages therefore costs proportionally less than the same violation on 50
// of 100 pages; this is deliberately not an average of per-page scores.
func (e *Engine) Score(resources []audit.VisitedResource, siteResults []rules.SiteResult) int {
	pages := htmlPages(resources)

	var earned, possible float64
	if len(pages) > 0 {
		passing := make(map[string]int, len(e.pageRules))
		for _, res := range pages {
			for _, out := range res.RuleOutcomes {
				if out.Passed {
					passing[out.RuleName]++
				}
			}
		}
		for _, rule := range e.pageRules {
			w := float64(rule.Severity.Weight())
			earned += w * float64(passing[rule.Name])
			possible += w * float64(len(pages))
		}
	}
	for _, sr := range siteResults {
		w := float64(sr.Rule.Severity.Weight())
		possible += w
		if sr.Outcome.Passed {
			earned += w
		}
	}

	if possible == 0 {
		return 100
	}
	return int(math.Round(100 * earned / possible))
}

// PageScore computes one page's weighted pass rate over the rules that were
// evaluated against it. A page with no outcomes scores 100.
func (e *Engine) PageScore(res audit.VisitedResource) int {
	if len(res.RuleOutcomes) == 0 {
		return 100
	}
	weights := make(map[string]int, len(e.pageRules))
	for _, rule := range e.pageRules {
		weights[rule.Name] = rule.Severity.Weight()
	}
	var earned, possible float64
	for _, out := range res.RuleOutcomes {
		w := float64(weights[out.RuleName])
		possible += w
		if out.Passed {
			earned += w
		}
	}
	if possible == 0 {
		return 100
	}
	return int(math.Round(100 * earned / possible))
}

// SiteWideURL labels the synthetic by-page entry carrying site-rule outcomes.
const SiteWideURL = "site-wide"

// Report assembles the final ScoreReport in the requested projection. Both
// projections are views over the same resource and site-result set and agree
// on the overall score by construction.
func (e *Engine) Report(
	site string,
	projection audit.Projection,
	resources []audit.VisitedResource,
	siteResults []rules.SiteResult,
	meta audit.ReportMeta,
) *audit.ScoreReport {
	report := &audit.ScoreReport{
		Site:         site,
		Meta:         meta,
		OverallScore: e.Score(resources, siteResults),
	}
	switch projection {
	case audit.ProjectionByRule:
		report.ByRule = e.byRule(resources, siteResults, site)
	default:
		report.ByPage = e.byPage(resources, siteResults)
	}
	return report
}

func (e *Engine) byPage(resources []audit.VisitedResource, siteResults []rules.SiteResult) []audit.PageReport {
	out := make([]audit.PageReport, 0, len(resources)+1)
	for _, res := range resources {
		out = append(out, audit.PageReport{
			URL:      res.URL,
			Score:    e.PageScore(res),
			Outcomes: append([]audit.RuleOutcome(nil), res.RuleOutcomes...),
		})
	}
	if len(siteResults) > 0 {
		entry := audit.PageReport{URL: SiteWideURL}
		var earned, possible float64
		for _, sr := range siteResults {
			w := float64(sr.Rule.Severity.Weight())
			possible += w
			if sr.Outcome.Passed {
				earned += w
			}
			entry.Outcomes = append(entry.Outcomes, audit.RuleOutcome{
				RuleName: sr.Rule.Name,
				Passed:   sr.Outcome.Passed,
				Message:  sr.Outcome.Message,
			})
		}
		entry.Score = int(math.Round(100 * earned / possible))
		out = append(out, entry)
	}
	return out
}

func (e *Engine) byRule(resources []audit.VisitedResource, siteResults []rules.SiteResult, site string) []audit.RuleReport {
	pages := htmlPages(resources)
	out := make([]audit.RuleReport, 0, len(e.pageRules)+len(siteResults))

	for _, rule := range e.pageRules {
		rr := audit.RuleReport{
			Rule:        rule.Name,
			Severity:    rule.Severity.String(),
			Weight:      rule.Severity.Weight(),
			FailingURLs: []audit.RuleFailure{},
		}
		for _, res := range pages {
			for _, outcome := range res.RuleOutcomes {
				if outcome.RuleName == rule.Name && !outcome.Passed {
					rr.FailingURLs = append(rr.FailingURLs, audit.RuleFailure{
						URL:     res.URL,
						Message: outcome.Message,
					})
				}
			}
		}
		out = append(out, rr)
	}

	for _, sr := range siteResults {
		rr := audit.RuleReport{
			Rule:        sr.Rule.Name,
			Severity:    sr.Rule.Severity.String(),
			Weight:      sr.Rule.Severity.Weight(),
			SiteWide:    true,
			FailingURLs: []audit.RuleFailure{},
		}
		if !sr.Outcome.Passed {
			rr.FailingURLs = append(rr.FailingURLs, audit.RuleFailure{
				URL:     site,
				Message: sr.Outcome.Message,
			})
		}
		out = append(out, rr)
	}
	return out
}

func htmlPages(resources []audit.VisitedResource) []audit.VisitedResource {
	pages := make([]audit.VisitedResource, 0, len(resources))
	for _, res := range resources {
		if res.Kind == audit.KindHTMLPage {
			pages = append(pages, res)
		}
	}
	return pages
}
