package processor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"seoscope/internal/audit"
	"seoscope/internal/broadcast"
	"seoscope/internal/rules"
	"seoscope/internal/storage/memory"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

type fakeScanner struct {
	mu        sync.Mutex
	calls     int
	active    atomic.Int32
	maxActive atomic.Int32
	resources []audit.VisitedResource
	err       error
	delay     time.Duration
}

func (s *fakeScanner) Scan(ctx context.Context, seeds []string, visit audit.VisitFunc, progress audit.ScanProgressFunc) error {
	cur := s.active.Add(1)
	defer s.active.Add(-1)
	for {
		prev := s.maxActive.Load()
		if cur <= prev || s.maxActive.CompareAndSwap(prev, cur) {
			break
		}
	}
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return s.err
	}
	for i, res := range s.resources {
		visit(res)
		progress((i+1)*100/len(s.resources), "scanned")
	}
	return nil
}

type fakeSitemaps struct {
	url  string
	urls []string
	err  error
}

func (f *fakeSitemaps) Find(ctx context.Context, domain string) (string, bool) {
	return f.url, f.url != ""
}

func (f *fakeSitemaps) ListURLs(ctx context.Context, sitemapURL string) ([]string, error) {
	return f.urls, f.err
}

type fakePerf struct {
	scores audit.PerformanceScores
	err    error
	called bool
}

func (f *fakePerf) Audit(ctx context.Context, domain string) (audit.PerformanceScores, error) {
	f.called = true
	return f.scores, f.err
}

type fakeArchive struct {
	mu     sync.Mutex
	stored map[string]*audit.ScoreReport
	err    error
}

func (f *fakeArchive) StoreReport(ctx context.Context, jobID string, report *audit.ScoreReport) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stored == nil {
		f.stored = map[string]*audit.ScoreReport{}
	}
	f.stored[jobID] = report
	return "mem://reports/" + jobID, nil
}

type fakeNotifier struct {
	mu       sync.Mutex
	payloads []any
}

func (f *fakeNotifier) Publish(ctx context.Context, payload any) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return "msg-1", nil
}

func htmlResource(url string, outcomes ...audit.RuleOutcome) audit.VisitedResource {
	ok := 200
	return audit.VisitedResource{
		URL:         url,
		ContentType: "text/html; charset=utf-8",
		StatusCode:  &ok,
		Page: &audit.PageSnapshot{
			URL:             url,
			Title:           "Example page with a descriptive title",
			MetaDescription: "A fine page.",
			Canonical:       url,
			H1Count:         1,
			HasViewportMeta: true,
			Lang:            "en",
			StatusCode:      ok,
		},
		RuleOutcomes: outcomes,
	}
}

func newTestProcessor(t *testing.T, store audit.JobStore, scanner audit.Scanner, opts ...func(*Processor)) (*Processor, *broadcast.Hub) {
	t.Helper()
	hub := broadcast.NewHub(zap.NewNop())
	t.Cleanup(hub.Close)
	proc := New(
		store, hub, scanner,
		nil, nil, nil, nil,
		rules.DefaultPageRules(), rules.DefaultSiteRules(),
		newFakeClock(),
		Config{PollInterval: 10 * time.Millisecond},
		zap.NewNop(),
	)
	for _, opt := range opts {
		opt(proc)
	}
	return proc, hub
}

func createJob(t *testing.T, store audit.JobStore, id string) audit.Job {
	t.Helper()
	job := audit.Job{
		ID:               id,
		Domain:           "example.com",
		OutputProjection: audit.ProjectionByPage,
		State:            audit.JobStatePending,
	}
	require.NoError(t, store.CreateJob(context.Background(), job))
	return job
}

func waitTerminal(t *testing.T, store audit.JobStore, jobID string) audit.Job {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, err := store.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		if job.State.Terminal() {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached a terminal state", jobID)
	return audit.Job{}
}

func TestProcessorCompletesJob(t *testing.T) {
	store := memory.NewJobStore(newFakeClock())
	scanner := &fakeScanner{resources: []audit.VisitedResource{
		htmlResource("https://example.com/"),
		htmlResource("https://example.com/about"),
	}}
	archive := &fakeArchive{}
	notifier := &fakeNotifier{}
	proc, _ := newTestProcessor(t, store, scanner, func(p *Processor) {
		p.archive = archive
		p.notifier = notifier
	})
	createJob(t, store, "job-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc.Start(ctx)
	job := waitTerminal(t, store, "job-1")
	cancel()
	require.NoError(t, proc.Stop(context.Background()))

	assert.Equal(t, audit.JobStateCompleted, job.State)
	assert.Equal(t, 100, job.Progress)
	require.NotNil(t, job.Report)
	assert.Equal(t, 2, job.Report.Meta.URLsScanned)
	assert.NotNil(t, archive.stored["job-1"])
	require.Len(t, notifier.payloads, 1)
	payload, ok := notifier.payloads[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "completed", payload["state"])
}

func TestProcessorScanFailureFailsJob(t *testing.T) {
	store := memory.NewJobStore(newFakeClock())
	scanner := &fakeScanner{err: errors.New("dns lookup failed")}
	proc, _ := newTestProcessor(t, store, scanner)
	createJob(t, store, "job-1")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc.Start(ctx)
	job := waitTerminal(t, store, "job-1")
	cancel()
	require.NoError(t, proc.Stop(context.Background()))

	assert.Equal(t, audit.JobStateFailed, job.State)
	assert.Contains(t, job.ErrorMessage, "dns lookup failed")
	assert.Nil(t, job.Report)
}

func TestProcessorDegradedCollaborators(t *testing.T) {
	store := memory.NewJobStore(newFakeClock())
	scanner := &fakeScanner{resources: []audit.VisitedResource{htmlResource("https://example.com/")}}
	perf := &fakePerf{err: errors.New("pagespeed quota exhausted")}
	proc, _ := newTestProcessor(t, store, scanner, func(p *Processor) {
		p.sitemaps = &fakeSitemaps{url: "https://example.com/sitemap.xml", err: errors.New("gateway timeout")}
		p.perf = perf
		p.archive = &fakeArchive{err: errors.New("bucket gone")}
	})
	job := audit.Job{
		ID:                  "job-1",
		Domain:              "example.com",
		OutputProjection:    audit.ProjectionByPage,
		RunPerformanceAudit: true,
		State:               audit.JobStatePending,
	}
	require.NoError(t, store.CreateJob(context.Background(), job))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc.Start(ctx)
	got := waitTerminal(t, store, "job-1")
	cancel()
	require.NoError(t, proc.Stop(context.Background()))

	assert.Equal(t, audit.JobStateCompleted, got.State)
	assert.True(t, perf.called)
	require.NotNil(t, got.Report)
	assert.Nil(t, got.Report.Performance)
	assert.True(t, got.Report.Meta.SitemapFound)
}

func TestProcessorSingleFlight(t *testing.T) {
	store := memory.NewJobStore(newFakeClock())
	scanner := &fakeScanner{
		resources: []audit.VisitedResource{htmlResource("https://example.com/")},
		delay:     40 * time.Millisecond,
	}
	proc, _ := newTestProcessor(t, store, scanner)
	createJob(t, store, "job-1")
	createJob(t, store, "job-2")
	createJob(t, store, "job-3")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc.Start(ctx)
	waitTerminal(t, store, "job-1")
	waitTerminal(t, store, "job-2")
	waitTerminal(t, store, "job-3")
	cancel()
	require.NoError(t, proc.Stop(context.Background()))

	assert.Equal(t, int32(1), scanner.maxActive.Load(), "jobs must not overlap")
	assert.Equal(t, 3, scanner.calls)
}

func TestProcessorEventOrdering(t *testing.T) {
	store := memory.NewJobStore(newFakeClock())
	scanner := &fakeScanner{resources: []audit.VisitedResource{
		htmlResource("https://example.com/"),
		htmlResource("https://example.com/a"),
		htmlResource("https://example.com/b"),
	}}
	proc, hub := newTestProcessor(t, store, scanner)
	createJob(t, store, "job-1")
	events, cancelSub := hub.Subscribe("job-1")
	defer cancelSub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	proc.Start(ctx)
	waitTerminal(t, store, "job-1")
	cancel()
	require.NoError(t, proc.Stop(context.Background()))

	var seen []broadcast.Event
	for evt := range events {
		seen = append(seen, evt)
	}
	require.NotEmpty(t, seen)

	last := -1
	for i, evt := range seen {
		if evt.Type == broadcast.EventComplete {
			assert.Equal(t, len(seen)-1, i, "terminal event must be last")
			require.NotNil(t, evt.Report)
			continue
		}
		require.Equal(t, broadcast.EventStatus, evt.Type)
		assert.GreaterOrEqual(t, evt.Progress, last, "progress must not regress")
		last = evt.Progress
	}
	assert.Equal(t, broadcast.EventComplete, seen[len(seen)-1].Type)
}

func TestProcessorStopWaitsForInFlightJob(t *testing.T) {
	store := memory.NewJobStore(newFakeClock())
	scanner := &fakeScanner{
		resources: []audit.VisitedResource{htmlResource("https://example.com/")},
		delay:     80 * time.Millisecond,
	}
	proc, _ := newTestProcessor(t, store, scanner)
	createJob(t, store, "job-1")

	ctx, cancel := context.WithCancel(context.Background())
	proc.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for scanner.active.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(2 * time.Millisecond)
	}
	require.Equal(t, int32(1), scanner.active.Load(), "scan should be in flight")

	cancel()
	require.NoError(t, proc.Stop(context.Background()))

	job, err := store.GetJob(context.Background(), "job-1")
	require.NoError(t, err)
	assert.Equal(t, audit.JobStateCompleted, job.State, "in-flight job finishes during shutdown")
}

func TestMapScanProgress(t *testing.T) {
	assert.Equal(t, 15, mapScanProgress(0))
	assert.Equal(t, 70, mapScanProgress(100))
	assert.Equal(t, 42, mapScanProgress(50))
	assert.Equal(t, 15, mapScanProgress(-5))
	assert.Equal(t, 70, mapScanProgress(500))
}
