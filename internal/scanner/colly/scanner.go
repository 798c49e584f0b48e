// Package collyscanner implements the site scanner on top of gocolly. It walks
// a site breadth-first from the seed URLs, staying on the seed host, and emits
// one VisitedResource per URL touched.
package collyscanner

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"

	"seoscope/internal/audit"
)

// Config controls collector behavior.
type Config struct {
	UserAgent   string
	MaxPages    int
	MaxDepth    int
	Parallelism int
	Timeout     time.Duration
	Delay       time.Duration
}

const (
	defaultUserAgent   = "seoscope/1.0 (+https://github.com/seoscope)"
	defaultMaxPages    = 200
	defaultMaxDepth    = 8
	defaultParallelism = 4
	defaultTimeout     = 15 * time.Second
)

func (c *Config) normalize() {
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.MaxPages <= 0 {
		c.MaxPages = defaultMaxPages
	}
	if c.MaxDepth <= 0 {
		c.MaxDepth = defaultMaxDepth
	}
	if c.Parallelism <= 0 {
		c.Parallelism = defaultParallelism
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
}

// Scanner implements audit.Scanner using a Colly collector per scan.
type Scanner struct {
	cfg Config
}

// New builds a Scanner. Zero-value config fields get sane defaults.
func New(cfg Config) *Scanner {
	cfg.normalize()
	return &Scanner{cfg: cfg}
}

// session tracks one scan's shared state. Colly runs callbacks from multiple
// goroutines when async, so every mutation goes through the mutex.
type session struct {
	mu         sync.Mutex
	pages      map[string]*audit.PageSnapshot
	links      map[string][]string
	reported   map[string]bool
	discovered int
	visited    int
	responded  int
	budget     int

	visit    audit.VisitFunc
	progress audit.ScanProgressFunc
}

// Scan walks the site and reports every resource through visit. The scan
// fails only when not a single seed URL could be fetched; individual fetch
// errors become resources with no status code.
func (s *Scanner) Scan(ctx context.Context, seeds []string, visit audit.VisitFunc, progress audit.ScanProgressFunc) error {
	if len(seeds) == 0 {
		return fmt.Errorf("scan: no seed urls")
	}
	hosts, err := seedHosts(seeds)
	if err != nil {
		return fmt.Errorf("scan: %w", err)
	}

	sess := &session{
		pages:    map[string]*audit.PageSnapshot{},
		links:    map[string][]string{},
		reported: map[string]bool{},
		budget:   s.cfg.MaxPages,
		visit:    visit,
		progress: progress,
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(hosts...),
		colly.MaxDepth(s.cfg.MaxDepth),
		colly.UserAgent(s.cfg.UserAgent),
		colly.Async(true),
		colly.IgnoreRobotsTxt(),
	)
	collector.AllowURLRevisit = false
	collector.SetRequestTimeout(s.cfg.Timeout)
	if err := collector.Limit(&colly.LimitRule{
		DomainGlob:  "*",
		Parallelism: s.cfg.Parallelism,
		Delay:       s.cfg.Delay,
	}); err != nil {
		return fmt.Errorf("scan: collector limits: %w", err)
	}

	collector.OnRequest(func(r *colly.Request) {
		select {
		case <-ctx.Done():
			r.Abort()
			return
		default:
		}
		if !sess.admit(r.URL.String()) {
			r.Abort()
		}
	})

	collector.OnHTML("html", func(e *colly.HTMLElement) {
		sess.recordPage(e)
	})
	collector.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := e.Request.AbsoluteURL(e.Attr("href"))
		if link == "" {
			return
		}
		sess.addLink(e.Request.URL.String(), link)
		// Revisit and budget checks happen in OnRequest.
		_ = e.Request.Visit(link)
	})
	// OnScraped fires after the OnHTML handlers, so the page snapshot and
	// outbound links are in place before the resource is emitted.
	collector.OnScraped(func(r *colly.Response) {
		sess.finish(r.Request.URL.String(), r.StatusCode, r.Headers.Get("Content-Type"))
	})
	collector.OnError(func(r *colly.Response, _ error) {
		ct := ""
		if r.Headers != nil {
			ct = r.Headers.Get("Content-Type")
		}
		sess.fail(r.Request.URL.String(), r.StatusCode, ct, r.Body)
	})

	seeded := 0
	for _, seed := range seeds {
		if err := collector.Visit(seed); err == nil {
			seeded++
		}
	}
	if seeded == 0 {
		return fmt.Errorf("scan: no seed url accepted")
	}
	collector.Wait()

	// A 404 is still a fetched resource; only a site where nothing at all
	// answered counts as a failed scan.
	if sess.respondedCount() == 0 {
		return fmt.Errorf("scan: no resource reachable from %s", seeds[0])
	}
	return ctx.Err()
}

// admit reserves one slot of the page budget for url and counts it as
// discovered. False means the request must be aborted.
func (s *session) admit(u string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.discovered >= s.budget {
		return false
	}
	s.discovered++
	return true
}

func (s *session) recordPage(e *colly.HTMLElement) {
	u := e.Request.URL.String()
	snap := snapshotHTML(u, e.Response.StatusCode, e.DOM)

	s.mu.Lock()
	s.pages[u] = snap
	s.mu.Unlock()
}

// snapshotHTML builds a page snapshot from the html element's selection.
func snapshotHTML(u string, status int, dom *goquery.Selection) *audit.PageSnapshot {
	snap := &audit.PageSnapshot{
		URL:        u,
		Title:      strings.TrimSpace(dom.Find("head title").First().Text()),
		Lang:       strings.TrimSpace(dom.AttrOr("lang", "")),
		StatusCode: status,
	}
	if v, ok := dom.Find(`head meta[name="description"]`).First().Attr("content"); ok {
		snap.MetaDescription = strings.TrimSpace(v)
	}
	if v, ok := dom.Find(`head link[rel="canonical"]`).First().Attr("href"); ok {
		snap.Canonical = strings.TrimSpace(v)
	}
	if _, ok := dom.Find(`head meta[name="viewport"]`).First().Attr("content"); ok {
		snap.HasViewportMeta = true
	}
	if v, ok := dom.Find(`head meta[name="robots"]`).First().Attr("content"); ok {
		snap.NoIndex = strings.Contains(strings.ToLower(v), "noindex")
	}
	snap.H1Count = dom.Find("h1").Length()
	imgs := dom.Find("img")
	snap.ImageCount = imgs.Length()
	imgs.Each(func(_ int, sel *goquery.Selection) {
		if alt, ok := sel.Attr("alt"); !ok || strings.TrimSpace(alt) == "" {
			snap.ImagesNoAlt++
		}
	})
	return snap
}

// errorSnapshot parses an HTML error body. Colly skips the OnHTML callbacks
// for non-2xx responses, so the body is parsed here instead.
func errorSnapshot(u string, status int, body []byte) *audit.PageSnapshot {
	if doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body)); err == nil {
		if root := doc.Find("html").First(); root.Length() > 0 {
			return snapshotHTML(u, status, root)
		}
	}
	return &audit.PageSnapshot{URL: u, StatusCode: status}
}

func isHTMLType(contentType string) bool {
	ct := contentType
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = ct[:idx]
	}
	switch strings.ToLower(strings.TrimSpace(ct)) {
	case "text/html", "application/xhtml+xml":
		return true
	}
	return false
}

// finish emits the VisitedResource for a fetched URL. The HTML snapshot, if
// one was parsed, rides along for rule evaluation.
func (s *session) finish(u string, status int, contentType string) {
	s.mu.Lock()
	if s.reported[u] {
		s.mu.Unlock()
		return
	}
	s.reported[u] = true
	s.visited++
	s.responded++
	page := s.pages[u]
	delete(s.pages, u)
	outLinks := s.links[u]
	delete(s.links, u)
	visited, discovered := s.visited, s.discovered
	s.mu.Unlock()

	code := status
	res := audit.VisitedResource{
		URL:         u,
		StatusCode:  &code,
		ContentType: contentType,
		Links:       outLinks,
	}
	if page != nil {
		res.NoIndex = page.NoIndex
		res.Page = page
	}
	s.visit(res)
	s.report(visited, discovered)
}

// fail emits a resource for a URL whose fetch errored. An HTTP error status
// is still a response: the resource keeps its status code, counts toward the
// reachability check, and an HTML error body gets a snapshot so page rules
// can judge it. A zero status means a transport-level failure; that resource
// carries no status code at all.
func (s *session) fail(u string, status int, contentType string, body []byte) {
	s.mu.Lock()
	if s.reported[u] {
		s.mu.Unlock()
		return
	}
	s.reported[u] = true
	s.visited++
	if status > 0 {
		s.responded++
	}
	visited, discovered := s.visited, s.discovered
	s.mu.Unlock()

	res := audit.VisitedResource{URL: u, ContentType: contentType}
	if status > 0 {
		code := status
		res.StatusCode = &code
		if isHTMLType(contentType) {
			res.Page = errorSnapshot(u, status, body)
			res.NoIndex = res.Page.NoIndex
		}
	}
	s.visit(res)
	s.report(visited, discovered)
}

func (s *session) addLink(from, to string) {
	s.mu.Lock()
	s.links[from] = append(s.links[from], to)
	s.mu.Unlock()
}

func (s *session) report(visited, discovered int) {
	if s.progress == nil || discovered == 0 {
		return
	}
	pct := visited * 100 / discovered
	if pct > 100 {
		pct = 100
	}
	s.progress(pct, fmt.Sprintf("scanned %d of %d urls", visited, discovered))
}

func (s *session) respondedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responded
}

func seedHosts(seeds []string) ([]string, error) {
	set := map[string]struct{}{}
	for _, seed := range seeds {
		u, err := url.Parse(seed)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid seed url %q", seed)
		}
		// Colly versions differ on whether the allowlist is matched against
		// the host with or without the port, so register both forms.
		set[u.Host] = struct{}{}
		set[u.Hostname()] = struct{}{}
		set[strings.TrimPrefix(u.Hostname(), "www.")] = struct{}{}
	}
	hosts := make([]string, 0, len(set))
	for h := range set {
		hosts = append(hosts, h)
	}
	return hosts, nil
}
