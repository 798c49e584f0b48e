package audit

import (
	"context"
	"time"
)

// JobStore persists audit jobs and their lifecycle state. Implementations must
// be safe for concurrent readers; writes to a given job are serialized by the
// processor that claimed it.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	GetJob(ctx context.Context, jobID string) (Job, error)
	// ClaimNextPending atomically flips the oldest pending job to running,
	// stamping StartedAt. ok is false when no pending job exists.
	ClaimNextPending(ctx context.Context) (job Job, ok bool, err error)
	// Transition moves a job to newState. Only forward transitions are legal;
	// completed requires a report, failed requires an error message.
	Transition(ctx context.Context, jobID string, newState JobState, report *ScoreReport, errMsg string) error
	// SetProgress is a silent no-op unless the job is running. Monotonic
	// progress is the caller's contract, not enforced here.
	SetProgress(ctx context.Context, jobID string, percent int) error
	// PruneCompletedBefore deletes completed jobs finished before cutoff.
	// Failed jobs are kept for diagnosis unless includeFailed is set.
	PruneCompletedBefore(ctx context.Context, cutoff time.Time, includeFailed bool) (int, error)
}

// ScanProgressFunc receives scanner progress as a raw 0-100 percentage.
type ScanProgressFunc func(percent int, message string)

// VisitFunc receives exactly one VisitedResource per URL the scanner touched.
// Callbacks may arrive from concurrent scanner workers.
type VisitFunc func(res VisitedResource)

// Scanner walks a site starting from the seed URLs and reports every visited
// resource. Fetch failures are reported as resources with no rule outcomes and
// no status code, not as errors; a returned error means the scan as a whole
// failed and the job must fail with it.
type Scanner interface {
	Scan(ctx context.Context, seeds []string, visit VisitFunc, progress ScanProgressFunc) error
}

// SitemapResolver locates and flattens a site's sitemap. Both operations are
// best-effort; failures degrade the audit rather than aborting it.
type SitemapResolver interface {
	Find(ctx context.Context, domain string) (sitemapURL string, found bool)
	ListURLs(ctx context.Context, sitemapURL string) ([]string, error)
}

// PerformanceAuditor fetches external performance category scores.
type PerformanceAuditor interface {
	Audit(ctx context.Context, domain string) (PerformanceScores, error)
}

// ReportArchive persists completed reports outside the job store and returns
// a URI for the stored artifact.
type ReportArchive interface {
	StoreReport(ctx context.Context, jobID string, report *ScoreReport) (string, error)
}

// Notifier publishes terminal job notifications to an external channel.
type Notifier interface {
	Publish(ctx context.Context, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
