// Package processor implements the single-flight audit pipeline: it polls the
// job store, claims at most one pending job at a time, drives the scan, and
// publishes progress through the broadcast hub.
package processor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"seoscope/internal/audit"
	"seoscope/internal/broadcast"
	"seoscope/internal/metrics"
	"seoscope/internal/rules"
	"seoscope/internal/scoring"
)

// Progress band boundaries for the pipeline stages. The scanner's raw 0-100
// progress maps linearly into the scan band.
const (
	progressStarted   = 0
	progressSitemap   = 12
	progressScanFloor = 15
	progressScanCeil  = 70
	progressSiteRules = 80
	progressPerf      = 85
	progressScoring   = 95
)

const defaultPollInterval = 3 * time.Second

// Config controls Processor behavior.
type Config struct {
	PollInterval time.Duration
}

// Processor owns the poll loop and the per-job pipeline. At most one job is in
// flight at a time by construction of the busy flag: a poll tick that finds
// the processor busy is a no-op. This bounds resource usage (one scanner
// session) at the cost of throughput, deliberately.
type Processor struct {
	store    audit.JobStore
	hub      *broadcast.Hub
	scanner  audit.Scanner
	sitemaps audit.SitemapResolver
	perf     audit.PerformanceAuditor
	archive  audit.ReportArchive
	notifier audit.Notifier

	pageRules []rules.PageRule
	siteRules []rules.SiteRule
	engine    *scoring.Engine

	clock  audit.Clock
	cfg    Config
	logger *zap.Logger

	busy atomic.Bool
	wg   sync.WaitGroup
}

// New constructs a Processor. Sitemap resolver, performance auditor, archive
// and notifier are optional; a nil collaborator degrades the corresponding
// pipeline stage.
func New(
	store audit.JobStore,
	hub *broadcast.Hub,
	scanner audit.Scanner,
	sitemaps audit.SitemapResolver,
	perf audit.PerformanceAuditor,
	archive audit.ReportArchive,
	notifier audit.Notifier,
	pageRules []rules.PageRule,
	siteRules []rules.SiteRule,
	clock audit.Clock,
	cfg Config,
	logger *zap.Logger,
) *Processor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		store:     store,
		hub:       hub,
		scanner:   scanner,
		sitemaps:  sitemaps,
		perf:      perf,
		archive:   archive,
		notifier:  notifier,
		pageRules: pageRules,
		siteRules: siteRules,
		engine:    scoring.New(pageRules),
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

// Start launches the poll loop. Cancel ctx to stop scheduling new claims; the
// in-flight job, if any, runs to completion.
func (p *Processor) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.run(ctx)
	}()
}

// Stop blocks until the poll loop and any in-flight job have finished, or
// until ctx expires.
func (p *Processor) Stop(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("processor stop wait: %w", ctx.Err())
	}
}

func (p *Processor) run(ctx context.Context) {
	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()
	p.logger.Info("processor started", zap.Duration("poll_interval", p.cfg.PollInterval))
	for {
		select {
		case <-ctx.Done():
			p.logger.Info("processor stopping")
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick claims and runs at most one job. Claim errors skip the tick; the next
// tick retries, so a flaky store never crashes the loop.
func (p *Processor) tick(ctx context.Context) {
	if !p.busy.CompareAndSwap(false, true) {
		return
	}
	defer p.busy.Store(false)

	job, ok, err := p.store.ClaimNextPending(ctx)
	if err != nil {
		p.logger.Warn("job claim failed, skipping tick", zap.Error(err))
		return
	}
	if !ok {
		return
	}
	// The claimed job must finish even if the loop context is canceled
	// mid-flight; shutdown awaits it via the wait group.
	p.runJob(context.WithoutCancel(ctx), job)
}

// progressState serializes progress updates from concurrent scanner workers
// into one monotonic store-and-broadcast path.
type progressState struct {
	mu   sync.Mutex
	last int
}

func (p *Processor) publishProgress(ctx context.Context, jobID string, st *progressState, percent int, message string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if percent < st.last {
		return
	}
	st.last = percent
	if err := p.store.SetProgress(ctx, jobID, percent); err != nil {
		p.logger.Warn("set progress failed", zap.String("job_id", jobID), zap.Error(err))
	}
	p.hub.Broadcast(jobID, broadcast.StatusEvent(jobID, percent, message))
}

func (p *Processor) runJob(ctx context.Context, job audit.Job) {
	started := p.clock.Now()
	logger := p.logger.With(zap.String("job_id", job.ID), zap.String("domain", job.Domain))
	logger.Info("audit started", zap.String("projection", string(job.OutputProjection)))
	metrics.SetJobInFlight(true)
	defer metrics.SetJobInFlight(false)

	st := &progressState{}
	p.publishProgress(ctx, job.ID, st, progressStarted, "audit started")

	report, err := p.executeAudit(ctx, job, st, logger)
	if err != nil {
		p.failJob(ctx, job, err, started, logger)
		return
	}

	if p.archive != nil {
		if uri, archiveErr := p.archive.StoreReport(ctx, job.ID, report); archiveErr != nil {
			logger.Warn("report archive failed", zap.Error(archiveErr))
		} else {
			logger.Debug("report archived", zap.String("uri", uri))
		}
	}

	if err := p.store.Transition(ctx, job.ID, audit.JobStateCompleted, report, ""); err != nil {
		p.failJob(ctx, job, fmt.Errorf("persist report: %w", err), started, logger)
		return
	}
	p.hub.Broadcast(job.ID, broadcast.CompleteEvent(job.ID, report))
	p.notify(ctx, job, audit.JobStateCompleted, report.OverallScore, logger)

	metrics.ObserveJob(string(audit.JobStateCompleted), job.Domain, p.clock.Now().Sub(started))
	logger.Info("audit completed",
		zap.Int("score", report.OverallScore),
		zap.Int("urls_scanned", report.Meta.URLsScanned),
		zap.Duration("dur", p.clock.Now().Sub(started)),
	)
}

// executeAudit runs pipeline stages 2-6: sitemap discovery, scan, site rules,
// optional performance audit, and scoring.
func (p *Processor) executeAudit(
	ctx context.Context,
	job audit.Job,
	st *progressState,
	logger *zap.Logger,
) (*audit.ScoreReport, error) {
	baseURL := normalizeBaseURL(job.Domain)

	seeds := []string{baseURL}
	sitemapURL := ""
	if p.sitemaps != nil {
		if found, ok := p.sitemaps.Find(ctx, job.Domain); ok {
			sitemapURL = found
			urls, err := p.sitemaps.ListURLs(ctx, sitemapURL)
			switch {
			case err != nil:
				logger.Warn("sitemap listing failed, seeding with bare domain", zap.Error(err))
			case len(urls) > 0:
				seeds = urls
			}
		}
	}
	msg := "no sitemap found"
	if sitemapURL != "" {
		msg = fmt.Sprintf("sitemap discovered, %d seed urls", len(seeds))
	}
	p.publishProgress(ctx, job.ID, st, progressSitemap, msg)

	var (
		mu        sync.Mutex
		resources []audit.VisitedResource
	)
	onVisit := func(res audit.VisitedResource) {
		res.Kind = audit.ClassifyResource(res.URL, res.ContentType, res.StatusCode)
		res.IsIndexable = audit.Indexable(res.StatusCode, res.NoIndex)
		if res.Kind == audit.KindHTMLPage && res.Page != nil {
			for _, rule := range p.pageRules {
				out := rules.EvaluatePage(rule, res.Page)
				if !out.Passed {
					metrics.ObserveRuleFailure(rule.Name)
				}
				res.RuleOutcomes = append(res.RuleOutcomes, audit.RuleOutcome{
					RuleName: rule.Name,
					Passed:   out.Passed,
					Message:  out.Message,
				})
			}
		}
		res.Page = nil
		mu.Lock()
		resources = append(resources, res)
		mu.Unlock()
	}
	onProgress := func(raw int, message string) {
		p.publishProgress(ctx, job.ID, st, mapScanProgress(raw), message)
	}
	if err := p.scanner.Scan(ctx, seeds, onVisit, onProgress); err != nil {
		return nil, &audit.ScanError{Err: err}
	}
	metrics.AddPagesScanned(len(resources))

	siteCtx := rules.SiteContext{
		BaseURL:     baseURL,
		SitemapURL:  sitemapURL,
		CrawledURLs: crawledURLs(resources),
	}
	siteResults := make([]rules.SiteResult, 0, len(p.siteRules))
	for _, rule := range p.siteRules {
		out := rules.EvaluateSite(rule, siteCtx)
		if !out.Passed {
			metrics.ObserveRuleFailure(rule.Name)
		}
		siteResults = append(siteResults, rules.SiteResult{Rule: rule, Outcome: out})
	}
	p.publishProgress(ctx, job.ID, st, progressSiteRules, "site rules evaluated")

	var perfScores *audit.PerformanceScores
	if job.RunPerformanceAudit && p.perf != nil {
		scores, err := p.perf.Audit(ctx, job.Domain)
		if err != nil {
			logger.Warn("performance audit failed, continuing without scores", zap.Error(err))
		} else {
			perfScores = &scores
		}
	}
	p.publishProgress(ctx, job.ID, st, progressPerf, "performance audit done")

	meta := audit.ReportMeta{
		StartedAt:    startedAtOrNow(job, p.clock),
		FinishedAt:   p.clock.Now(),
		URLsScanned:  len(resources),
		HTMLPages:    countHTML(resources),
		SitemapFound: sitemapURL != "",
	}
	report := p.engine.Report(job.Domain, job.OutputProjection, resources, siteResults, meta)
	report.Performance = perfScores
	p.publishProgress(ctx, job.ID, st, progressScoring, "report assembled")
	return report, nil
}

func (p *Processor) failJob(ctx context.Context, job audit.Job, cause error, started time.Time, logger *zap.Logger) {
	logger.Error("audit failed", zap.Error(cause))
	if err := p.store.Transition(ctx, job.ID, audit.JobStateFailed, nil, cause.Error()); err != nil {
		logger.Error("failed-state transition error", zap.Error(err))
	}
	p.hub.Broadcast(job.ID, broadcast.ErrorEvent(job.ID, cause.Error()))
	p.notify(ctx, job, audit.JobStateFailed, 0, logger)
	metrics.ObserveJob(string(audit.JobStateFailed), job.Domain, p.clock.Now().Sub(started))
}

func (p *Processor) notify(ctx context.Context, job audit.Job, state audit.JobState, score int, logger *zap.Logger) {
	if p.notifier == nil {
		return
	}
	payload := map[string]any{
		"job_id": job.ID,
		"domain": job.Domain,
		"state":  string(state),
		"score":  score,
	}
	if _, err := p.notifier.Publish(ctx, payload); err != nil {
		logger.Warn("terminal notification failed", zap.Error(err))
	}
}

// mapScanProgress maps the scanner's raw 0-100 into the scan band.
func mapScanProgress(raw int) int {
	if raw < 0 {
		raw = 0
	}
	if raw > 100 {
		raw = 100
	}
	return progressScanFloor + raw*(progressScanCeil-progressScanFloor)/100
}

func normalizeBaseURL(domain string) string {
	if strings.HasPrefix(domain, "http://") || strings.HasPrefix(domain, "https://") {
		return strings.TrimRight(domain, "/")
	}
	return "https://" + strings.TrimRight(domain, "/")
}

func crawledURLs(resources []audit.VisitedResource) []string {
	urls := make([]string, 0, len(resources))
	for _, res := range resources {
		urls = append(urls, res.URL)
	}
	return urls
}

func countHTML(resources []audit.VisitedResource) int {
	n := 0
	for _, res := range resources {
		if res.Kind == audit.KindHTMLPage {
			n++
		}
	}
	return n
}

func startedAtOrNow(job audit.Job, clock audit.Clock) time.Time {
	if job.StartedAt != nil {
		return *job.StartedAt
	}
	return clock.Now()
}
