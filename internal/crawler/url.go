package crawler

import (
	"fmt"
	"net/url"
	"strings"
)

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, and sorts query parameters.
// It also removes fragments.
func NormalizeURL(rawURL string) (string, error) {
	u, err := parseAbsolute(rawURL)
	if err != nil {
		return "", err
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawFragment = ""
	if u.RawQuery != "" {
		u.RawQuery = u.Query().Encode()
	}

	return u.String(), nil
}

// Origin returns scheme://host for an absolute URL.
func Origin(rawURL string) (string, error) {
	u, err := parseAbsolute(rawURL)
	if err != nil {
		return "", err
	}
	return strings.ToLower(u.Scheme) + "://" + strings.ToLower(u.Host), nil
}

// ResolveReference rewrites a relative reference found on pageURL into an
// absolute one. Root-relative references are joined to the page origin and
// anything else is appended to the page URL with a single slash. References
// that already carry a scheme, or are data: and javascript: URIs, are returned
// as is.
func ResolveReference(pageURL, ref string) string {
	if ref == "" || hasScheme(ref) {
		return ref
	}
	page, err := url.Parse(pageURL)
	if err != nil || page.Scheme == "" || page.Host == "" {
		return ref
	}
	switch {
	case strings.HasPrefix(ref, "//"):
		return page.Scheme + ":" + ref
	case strings.HasPrefix(ref, "/"):
		return page.Scheme + "://" + page.Host + ref
	default:
		return strings.TrimRight(pageURL, "/") + "/" + strings.TrimLeft(ref, "/")
	}
}

// PreferredName picks the name a document is saved under: the page title when
// present, else the last path segment, else the host.
func PreferredName(rawURL, title string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	if last := segments[len(segments)-1]; last != "" {
		return last
	}
	if u.Host != "" {
		return u.Host
	}
	return rawURL
}

func parseAbsolute(rawURL string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return nil, fmt.Errorf("%w: parse url: %w", ErrInvalidURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not absolute", ErrInvalidURL, rawURL)
	}
	return u, nil
}

func hasScheme(ref string) bool {
	lower := strings.ToLower(ref)
	for _, prefix := range []string{"http://", "https://", "data:", "javascript:", "mailto:", "tel:"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	return false
}
