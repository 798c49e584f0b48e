package audit

import (
	"net/http"
	"path"
	"strings"
)

// ClassifyResource labels a visited URL from its content type, falling back to
// the URL's file extension when the server did not say. A resource with no
// content type AND no status code never answered at all, so nothing supports
// an HTML guess; it stays unknown and out of the page-rule denominators.
func ClassifyResource(url, contentType string, statusCode *int) ResourceKind {
	ct := contentType
	if idx := strings.IndexByte(ct, ';'); idx >= 0 {
		ct = ct[:idx]
	}
	switch strings.ToLower(strings.TrimSpace(ct)) {
	case "text/html", "application/xhtml+xml":
		return KindHTMLPage
	case "application/pdf":
		return KindPDF
	case "application/msword",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document":
		return KindDoc
	case "text/plain", "application/rtf", "application/vnd.oasis.opendocument.text":
		return KindDocument
	}

	switch strings.ToLower(path.Ext(strings.SplitN(url, "?", 2)[0])) {
	case ".html", ".htm", "", ".php", ".asp", ".aspx":
		if contentType == "" && statusCode != nil {
			return KindHTMLPage
		}
	case ".pdf":
		return KindPDF
	case ".doc", ".docx":
		return KindDoc
	case ".txt", ".rtf", ".odt":
		return KindDocument
	}
	return KindUnknown
}

// Indexable decides whether a resource is likely eligible for search-engine
// indexing. No status code means the fetch failed outright.
func Indexable(statusCode *int, noIndex bool) bool {
	if noIndex {
		return false
	}
	if statusCode == nil {
		return false
	}
	return *statusCode < http.StatusBadRequest
}
