// Package audit defines core types shared across subsystems.
package audit

import "time"

// JobState represents the lifecycle state of an audit job.
type JobState string

// Job states persisted in the job store. Transitions only move forward:
// pending -> running -> completed|failed. Terminal states are absorbing.
const (
	JobStatePending   JobState = "pending"
	JobStateRunning   JobState = "running"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
)

// Terminal reports whether the state is absorbing.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// Projection selects how the final report groups rule outcomes.
type Projection string

// Recognized report projections.
const (
	ProjectionByPage Projection = "by-page"
	ProjectionByRule Projection = "by-rule"
)

// ParseProjection validates a client-supplied projection value.
func ParseProjection(raw string) (Projection, error) {
	switch Projection(raw) {
	case ProjectionByPage, ProjectionByRule:
		return Projection(raw), nil
	default:
		return "", &ValidationError{Field: "output_projection", Reason: "must be by-page or by-rule"}
	}
}

// Job represents one audit request and its lifecycle.
type Job struct {
	ID                  string       `json:"id"`
	Domain              string       `json:"domain"`
	OutputProjection    Projection   `json:"output_projection"`
	RunPerformanceAudit bool         `json:"run_performance_audit"`
	State               JobState     `json:"state"`
	CreatedAt           time.Time    `json:"created_at"`
	StartedAt           *time.Time   `json:"started_at,omitempty"`
	CompletedAt         *time.Time   `json:"completed_at,omitempty"`
	Progress            int          `json:"progress"`
	Report              *ScoreReport `json:"report,omitempty"`
	ErrorMessage        string       `json:"error_message,omitempty"`
}

// ResourceKind labels what the scanner found at a URL.
type ResourceKind string

// Resource kinds recorded per visited URL.
const (
	KindHTMLPage ResourceKind = "html_page"
	KindPDF      ResourceKind = "pdf"
	KindDoc      ResourceKind = "doc"
	KindDocument ResourceKind = "document"
	KindUnknown  ResourceKind = "unknown"
)

// RuleOutcome records one rule evaluation against one subject.
type RuleOutcome struct {
	RuleName string `json:"rule"`
	Passed   bool   `json:"passed"`
	Message  string `json:"message,omitempty"`
}

// PageSnapshot carries the parsed facts rules need about one HTML page. It is
// populated by the scanner and discarded after rule evaluation; it never
// appears in reports.
type PageSnapshot struct {
	URL             string
	Title           string
	MetaDescription string
	Canonical       string
	H1Count         int
	ImageCount      int
	ImagesNoAlt     int
	HasViewportMeta bool
	Lang            string
	NoIndex         bool
	StatusCode      int
}

// VisitedResource is the recorded outcome of scanning one URL. RuleOutcomes is
// empty for non-HTML resources; rules only run against HTML pages.
type VisitedResource struct {
	URL          string        `json:"url"`
	Kind         ResourceKind  `json:"kind"`
	StatusCode   *int          `json:"status_code,omitempty"`
	ContentType  string        `json:"content_type,omitempty"`
	NoIndex      bool          `json:"noindex"`
	IsIndexable  bool          `json:"indexable"`
	Links        []string      `json:"links,omitempty"`
	RuleOutcomes []RuleOutcome `json:"rule_outcomes,omitempty"`

	// Page is the ephemeral snapshot used for rule evaluation.
	Page *PageSnapshot `json:"-"`
}

// PerformanceScores holds best-effort category scores (0-1) from the external
// performance auditor. Absent categories are nil.
type PerformanceScores struct {
	SEO           *float64 `json:"seo,omitempty"`
	Performance   *float64 `json:"performance,omitempty"`
	Accessibility *float64 `json:"accessibility,omitempty"`
}

// ReportMeta carries timing and counts for a finished audit.
type ReportMeta struct {
	StartedAt    time.Time `json:"started_at"`
	FinishedAt   time.Time `json:"finished_at"`
	URLsScanned  int       `json:"urls_scanned"`
	HTMLPages    int       `json:"html_pages"`
	SitemapFound bool      `json:"sitemap_found"`
}

// PageReport groups outcomes under one visited URL for the by-page projection.
type PageReport struct {
	URL      string        `json:"url"`
	Score    int           `json:"score"`
	Outcomes []RuleOutcome `json:"results"`
}

// RuleReport groups outcomes under one rule for the by-rule projection.
type RuleReport struct {
	Rule        string        `json:"rule"`
	Severity    string        `json:"severity"`
	Weight      int           `json:"weight"`
	SiteWide    bool          `json:"site_wide,omitempty"`
	FailingURLs []RuleFailure `json:"failing_urls"`
}

// RuleFailure names one URL failing a rule, with the rule's diagnostic.
type RuleFailure struct {
	URL     string `json:"url"`
	Message string `json:"message,omitempty"`
}

// ScoreReport is the final structured audit result. Exactly one of ByPage or
// ByRule is populated, per the job's requested projection.
type ScoreReport struct {
	Site         string             `json:"site"`
	Meta         ReportMeta         `json:"meta"`
	OverallScore int                `json:"overall_score"`
	Performance  *PerformanceScores `json:"performance,omitempty"`
	ByPage       []PageReport       `json:"by_page,omitempty"`
	ByRule       []RuleReport       `json:"by_rule,omitempty"`
}
