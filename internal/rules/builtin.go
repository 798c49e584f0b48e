package rules

import (
	"fmt"
	"net/http"

	"seoscope/internal/audit"
)

const (
	titleMinLen = 10
	titleMaxLen = 70
	descMaxLen  = 160
)

// DefaultPageRules returns the built-in page-scoped rule set.
func DefaultPageRules() []PageRule {
	return []PageRule{
		{
			Name:     "title-present",
			Severity: Error,
			Check: func(p *audit.PageSnapshot) Outcome {
				if p.Title == "" {
					return Outcome{Passed: false, Message: "page has no <title> tag"}
				}
				return Outcome{Passed: true}
			},
		},
		{
			Name:     "title-length",
			Severity: Notice,
			Check: func(p *audit.PageSnapshot) Outcome {
				n := len(p.Title)
				if n == 0 {
					// title-present already flags the missing tag.
					return Outcome{Passed: true}
				}
				if n < titleMinLen || n > titleMaxLen {
					return Outcome{
						Passed:  false,
						Message: fmt.Sprintf("title is %d characters, want %d-%d", n, titleMinLen, titleMaxLen),
					}
				}
				return Outcome{Passed: true}
			},
		},
		{
			Name:     "meta-description",
			Severity: Warning,
			Check: func(p *audit.PageSnapshot) Outcome {
				if p.MetaDescription == "" {
					return Outcome{Passed: false, Message: "page has no meta description"}
				}
				if len(p.MetaDescription) > descMaxLen {
					return Outcome{
						Passed:  false,
						Message: fmt.Sprintf("meta description is %d characters, max %d", len(p.MetaDescription), descMaxLen),
					}
				}
				return Outcome{Passed: true}
			},
		},
		{
			Name:     "single-h1",
			Severity: Warning,
			Check: func(p *audit.PageSnapshot) Outcome {
				switch p.H1Count {
				case 1:
					return Outcome{Passed: true}
				case 0:
					return Outcome{Passed: false, Message: "page has no <h1>"}
				default:
					return Outcome{Passed: false, Message: fmt.Sprintf("page has %d <h1> tags", p.H1Count)}
				}
			},
		},
		{
			Name:     "image-alt-text",
			Severity: Warning,
			Check: func(p *audit.PageSnapshot) Outcome {
				if p.ImagesNoAlt > 0 {
					return Outcome{
						Passed:  false,
						Message: fmt.Sprintf("%d of %d images missing alt text", p.ImagesNoAlt, p.ImageCount),
					}
				}
				return Outcome{Passed: true}
			},
		},
		{
			Name:     "canonical-link",
			Severity: Notice,
			Check: func(p *audit.PageSnapshot) Outcome {
				if p.Canonical == "" {
					return Outcome{Passed: false, Message: "page has no canonical link"}
				}
				return Outcome{Passed: true}
			},
		},
		{
			Name:     "viewport-meta",
			Severity: Notice,
			Check: func(p *audit.PageSnapshot) Outcome {
				if !p.HasViewportMeta {
					return Outcome{Passed: false, Message: "page has no viewport meta tag"}
				}
				return Outcome{Passed: true}
			},
		},
		{
			Name:     "html-lang",
			Severity: Notice,
			Check: func(p *audit.PageSnapshot) Outcome {
				if p.Lang == "" {
					return Outcome{Passed: false, Message: "<html> has no lang attribute"}
				}
				return Outcome{Passed: true}
			},
		},
		{
			Name:     "status-ok",
			Severity: Error,
			Check: func(p *audit.PageSnapshot) Outcome {
				if p.StatusCode >= http.StatusBadRequest {
					return Outcome{Passed: false, Message: fmt.Sprintf("page returned HTTP %d", p.StatusCode)}
				}
				return Outcome{Passed: true}
			},
		},
	}
}

// DefaultSiteRules returns the built-in site-scoped rule set.
func DefaultSiteRules() []SiteRule {
	return []SiteRule{
		{
			Name:     "sitemap-present",
			Severity: Warning,
			Check: func(site SiteContext) Outcome {
				if site.SitemapURL == "" {
					return Outcome{Passed: false, Message: "no sitemap.xml found"}
				}
				return Outcome{Passed: true}
			},
		},
		{
			Name:     "pages-discovered",
			Severity: Error,
			Check: func(site SiteContext) Outcome {
				if len(site.CrawledURLs) == 0 {
					return Outcome{Passed: false, Message: "no pages could be crawled"}
				}
				return Outcome{Passed: true}
			},
		},
	}
}
