// Package resolver loads per-origin crawl metadata: robots.txt policies and
// sitemap URL lists. Every failure degrades to "no policy" or "no URLs".
package resolver
