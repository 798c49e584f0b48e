// Package pagespeed fetches Lighthouse-style category scores from the
// PageSpeed Insights API. The auditor is best-effort: the processor treats a
// returned error as a degraded audit, not a failed one.
package pagespeed

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"seoscope/internal/audit"
)

const (
	defaultEndpoint = "https://www.googleapis.com/pagespeedonline/v5/runPagespeed"
	defaultTimeout  = 45 * time.Second
	maxBodyBytes    = 5 << 20
)

// Config controls the client.
type Config struct {
	Endpoint string
	APIKey   string
	Timeout  time.Duration
	Strategy string
}

// Client implements audit.PerformanceAuditor against the PSI v5 API.
type Client struct {
	cfg  Config
	http *http.Client
}

// New builds a Client.
func New(cfg Config) *Client {
	if cfg.Endpoint == "" {
		cfg.Endpoint = defaultEndpoint
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Strategy == "" {
		cfg.Strategy = "mobile"
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

type psiResponse struct {
	LighthouseResult struct {
		Categories struct {
			SEO           *psiCategory `json:"seo"`
			Performance   *psiCategory `json:"performance"`
			Accessibility *psiCategory `json:"accessibility"`
		} `json:"categories"`
	} `json:"lighthouseResult"`
}

type psiCategory struct {
	Score *float64 `json:"score"`
}

// Audit runs the remote performance analysis against the site's base URL.
func (c *Client) Audit(ctx context.Context, domain string) (audit.PerformanceScores, error) {
	target := domain
	if !strings.HasPrefix(target, "http://") && !strings.HasPrefix(target, "https://") {
		target = "https://" + target
	}

	q := url.Values{}
	q.Set("url", target)
	q.Set("strategy", c.cfg.Strategy)
	for _, cat := range []string{"seo", "performance", "accessibility"} {
		q.Add("category", cat)
	}
	if c.cfg.APIKey != "" {
		q.Set("key", c.cfg.APIKey)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.Endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return audit.PerformanceScores{}, fmt.Errorf("pagespeed request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return audit.PerformanceScores{}, fmt.Errorf("pagespeed call: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		return audit.PerformanceScores{}, fmt.Errorf("pagespeed call: status %d", resp.StatusCode)
	}

	var parsed psiResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(&parsed); err != nil {
		return audit.PerformanceScores{}, fmt.Errorf("pagespeed response: %w", err)
	}

	cats := parsed.LighthouseResult.Categories
	return audit.PerformanceScores{
		SEO:           categoryScore(cats.SEO),
		Performance:   categoryScore(cats.Performance),
		Accessibility: categoryScore(cats.Accessibility),
	}, nil
}

func categoryScore(cat *psiCategory) *float64 {
	if cat == nil || cat.Score == nil {
		return nil
	}
	score := *cat.Score
	return &score
}
