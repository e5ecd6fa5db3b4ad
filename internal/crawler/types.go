package crawler

import (
	"fmt"
	"strings"
)

// DataType selects how much of a page survives normalization.
type DataType string

// Supported extraction modes.
const (
	DataTypeFullPage     DataType = "full-page"
	DataTypeTextOnly     DataType = "text-only"
	DataTypeHeadingsOnly DataType = "headings-only"
)

// ParseDataType maps a request value onto a DataType. Empty selects full-page.
func ParseDataType(raw string) (DataType, error) {
	switch DataType(strings.ToLower(strings.TrimSpace(raw))) {
	case "", DataTypeFullPage:
		return DataTypeFullPage, nil
	case DataTypeTextOnly:
		return DataTypeTextOnly, nil
	case DataTypeHeadingsOnly:
		return DataTypeHeadingsOnly, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDataType, raw)
	}
}

// ExtractionConfig controls normalization and conversion of a fetched page.
type ExtractionConfig struct {
	DataType     DataType
	IncludeLinks bool
}

// DefaultExtraction keeps the full page and its links.
func DefaultExtraction() ExtractionConfig {
	return ExtractionConfig{DataType: DataTypeFullPage, IncludeLinks: true}
}

// CrawlTarget is a URL scheduled within a session.
type CrawlTarget struct {
	URL string
	// Discovered marks targets found through a sitemap rather than supplied by the caller.
	Discovered bool
}

// OutcomeKind reports which strategy produced a document.
type OutcomeKind int

// Fetch outcome kinds.
const (
	OutcomeFailed OutcomeKind = iota
	OutcomeRendered
	OutcomeFallbackFetched
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeRendered:
		return "rendered"
	case OutcomeFallbackFetched:
		return "fallback"
	default:
		return "failed"
	}
}

// Page is the raw document returned by a single strategy.
type Page struct {
	URL        string
	FinalURL   string
	StatusCode int
	Title      string
	Body       []byte
}

// FetchOutcome is the tagged result of the dual-strategy fetch.
type FetchOutcome struct {
	Kind  OutcomeKind
	URL   string
	HTML  string
	Title string
	Err   error
}

// Rendered builds an outcome produced by the browser engine.
func Rendered(rawURL, html, title string) FetchOutcome {
	return FetchOutcome{Kind: OutcomeRendered, URL: rawURL, HTML: html, Title: title}
}

// FallbackFetched builds an outcome produced by the plain HTTP strategy.
func FallbackFetched(rawURL, html, title string) FetchOutcome {
	return FetchOutcome{Kind: OutcomeFallbackFetched, URL: rawURL, HTML: html, Title: title}
}

// Failed builds an outcome for a URL no strategy could retrieve.
func Failed(rawURL string, err error) FetchOutcome {
	return FetchOutcome{Kind: OutcomeFailed, URL: rawURL, Err: err}
}

// OK reports whether a document was obtained.
func (o FetchOutcome) OK() bool {
	return o.Kind != OutcomeFailed && o.Err == nil
}

// CrawlResult is emitted once per processed target.
type CrawlResult struct {
	Success        bool
	URL            string
	Title          string
	HTML           string
	Strategy       OutcomeKind
	Discovered     bool
	DiscoveredURLs []string
	Err            error
}
