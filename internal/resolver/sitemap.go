package resolver

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/html/charset"
)

// SitemapPaths are probed in order; the first 200 response wins.
var SitemapPaths = []string{"/sitemap.xml", "/sitemap_index.xml", "/sitemap/sitemap.xml"}

const sitemapNamespace = "http://www.sitemaps.org/schemas/sitemap/0.9"

// DiscoverURLs implements crawler.SitemapDiscoverer.
func (r *Resolver) DiscoverURLs(ctx context.Context, origin string) []string {
	for _, path := range SitemapPaths {
		sitemapURL := origin + path
		status, body, err := r.get(ctx, sitemapURL)
		if err != nil {
			r.logger.Debug("sitemap fetch failed", zap.String("url", sitemapURL), zap.Error(err))
			continue
		}
		if status != http.StatusOK {
			continue
		}
		urls, err := ParseSitemap(body)
		if err != nil {
			r.logger.Error("sitemap parse failed", zap.String("url", sitemapURL), zap.Error(err))
			return nil
		}
		r.logger.Info("sitemap discovered", zap.String("url", sitemapURL), zap.Int("urls", len(urls)))
		return urls
	}
	return nil
}

// ParseSitemap extracts <loc> values. Elements in the sitemap namespace take
// precedence; un-namespaced <loc> elements are used only when none exist.
// The result is de-duplicated in document order.
func ParseSitemap(data []byte) ([]string, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	decoder.CharsetReader = charset.NewReaderLabel

	var (
		namespaced []string
		plain      []string
		inLoc      bool
		locSpace   string
		text       strings.Builder
	)
	for {
		tok, err := decoder.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode sitemap: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "loc" {
				inLoc = true
				locSpace = t.Name.Space
				text.Reset()
			}
		case xml.CharData:
			if inLoc {
				text.Write(t)
			}
		case xml.EndElement:
			if t.Name.Local != "loc" || !inLoc {
				continue
			}
			inLoc = false
			loc := strings.TrimSpace(text.String())
			if loc == "" {
				continue
			}
			switch locSpace {
			case sitemapNamespace:
				namespaced = append(namespaced, loc)
			case "":
				plain = append(plain, loc)
			}
		}
	}

	if len(namespaced) > 0 {
		return dedupe(namespaced), nil
	}
	return dedupe(plain), nil
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
