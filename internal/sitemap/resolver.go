// Package sitemap locates and flattens XML sitemaps. Everything here is
// best-effort: a site without a sitemap is a degraded audit, not a failed one.
package sitemap

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/temoto/robotstxt"
	"go.uber.org/zap"
)

// Config controls resolver behavior.
type Config struct {
	Timeout   time.Duration
	UserAgent string
	// MaxURLs caps how many URLs ListURLs returns across all child sitemaps.
	MaxURLs int
}

const (
	defaultTimeout = 10 * time.Second
	defaultMaxURLs = 500
	maxBodyBytes   = 10 << 20
)

// Resolver implements audit.SitemapResolver over plain HTTP.
type Resolver struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New builds a Resolver.
func New(cfg Config, logger *zap.Logger) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxURLs <= 0 {
		cfg.MaxURLs = defaultMaxURLs
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

// Find locates the site's sitemap: the robots.txt Sitemap directive wins,
// then the conventional /sitemap.xml location is probed.
func (r *Resolver) Find(ctx context.Context, domain string) (string, bool) {
	base := baseURL(domain)

	if u, ok := r.fromRobots(ctx, base); ok {
		return u, true
	}

	probe := base + "/sitemap.xml"
	resp, err := r.get(ctx, probe)
	if err != nil {
		r.logger.Debug("sitemap probe failed", zap.String("url", probe), zap.Error(err))
		return "", false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
	if resp.StatusCode != http.StatusOK {
		return "", false
	}
	return probe, true
}

func (r *Resolver) fromRobots(ctx context.Context, base string) (string, bool) {
	resp, err := r.get(ctx, base+"/robots.txt")
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", false
	}

	robots, err := robotstxt.FromStatusAndBytes(resp.StatusCode, body)
	if err != nil {
		r.logger.Debug("robots.txt parse failed", zap.String("base", base), zap.Error(err))
		return "", false
	}
	for _, u := range robots.Sitemaps {
		if u = strings.TrimSpace(u); u != "" {
			return u, true
		}
	}
	return "", false
}

// ListURLs flattens the sitemap at sitemapURL. Sitemap index files are
// followed one level deep; nested indexes are skipped.
func (r *Resolver) ListURLs(ctx context.Context, sitemapURL string) ([]string, error) {
	doc, err := r.fetchXML(ctx, sitemapURL)
	if err != nil {
		return nil, err
	}

	if children := xmlquery.Find(doc, "//*[local-name()='sitemapindex']/*[local-name()='sitemap']/*[local-name()='loc']"); len(children) > 0 {
		var urls []string
		for _, child := range children {
			if len(urls) >= r.cfg.MaxURLs {
				break
			}
			childURL := strings.TrimSpace(child.InnerText())
			childDoc, err := r.fetchXML(ctx, childURL)
			if err != nil {
				r.logger.Warn("child sitemap fetch failed", zap.String("url", childURL), zap.Error(err))
				continue
			}
			urls = appendLocs(urls, childDoc, r.cfg.MaxURLs)
		}
		return urls, nil
	}

	return appendLocs(nil, doc, r.cfg.MaxURLs), nil
}

func appendLocs(urls []string, doc *xmlquery.Node, limit int) []string {
	for _, node := range xmlquery.Find(doc, "//*[local-name()='urlset']/*[local-name()='url']/*[local-name()='loc']") {
		if len(urls) >= limit {
			break
		}
		if u := strings.TrimSpace(node.InnerText()); u != "" {
			urls = append(urls, u)
		}
	}
	return urls
}

func (r *Resolver) fetchXML(ctx context.Context, url string) (*xmlquery.Node, error) {
	resp, err := r.get(ctx, url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch sitemap %s: status %d", url, resp.StatusCode)
	}
	doc, err := xmlquery.Parse(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("parse sitemap %s: %w", url, err)
	}
	return doc, nil
}

func (r *Resolver) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if r.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", r.cfg.UserAgent)
	}
	return r.client.Do(req)
}

func baseURL(domain string) string {
	if strings.HasPrefix(domain, "http://") || strings.HasPrefix(domain, "https://") {
		return strings.TrimRight(domain, "/")
	}
	return "https://" + strings.TrimRight(domain, "/")
}
