package fetcher

import (
	"bytes"
	"fmt"

	"github.com/PuerkitoBio/goquery"

	"github.com/JakeFAU/pagemark/internal/crawler"
)

// AbsolutizeLinks rewrites relative href and src attributes on anchor, image,
// link, and script elements to absolute URLs resolved against pageURL.
func AbsolutizeLinks(pageURL string, body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	doc.Find("a, img, link, script").Each(func(_ int, sel *goquery.Selection) {
		for _, attr := range []string{"href", "src"} {
			if ref, ok := sel.Attr(attr); ok {
				sel.SetAttr(attr, crawler.ResolveReference(pageURL, ref))
			}
		}
	})
	html, err := doc.Html()
	if err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return html, nil
}
