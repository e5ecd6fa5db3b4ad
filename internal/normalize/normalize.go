// Package normalize reduces rendered HTML to the markup that should reach the
// Markdown converter for a given extraction mode.
package normalize

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/JakeFAU/pagemark/internal/crawler"
)

var headingAtoms = map[atom.Atom]bool{
	atom.H1: true, atom.H2: true, atom.H3: true,
	atom.H4: true, atom.H5: true, atom.H6: true,
}

// Normalize returns the inner HTML of the document body after applying cfg.
// A non-empty title is inserted as a leading <h1> first, so extraction rules
// treat it like any other heading.
func Normalize(rawHTML, title string, cfg crawler.ExtractionConfig) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	body := doc.Find("body").First()
	if body.Length() == 0 {
		return "", nil
	}
	root := body.Get(0)

	if t := strings.TrimSpace(title); t != "" {
		h1 := &html.Node{Type: html.ElementNode, Data: "h1", DataAtom: atom.H1}
		h1.AppendChild(&html.Node{Type: html.TextNode, Data: t})
		root.InsertBefore(h1, root.FirstChild)
	}

	body.Find("script, style, noscript, template").Remove()

	switch cfg.DataType {
	case crawler.DataTypeTextOnly:
		textOnly(root)
	case crawler.DataTypeHeadingsOnly:
		headingsOnly(root)
	}

	if !cfg.IncludeLinks {
		body.Find("a").Each(func(_ int, sel *goquery.Selection) {
			unwrap(sel.Get(0))
		})
	}

	out, err := body.Html()
	if err != nil {
		return "", fmt.Errorf("render html: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// textOnly unwraps every element except paragraphs and line breaks.
func textOnly(root *html.Node) {
	for _, n := range elements(root) {
		if n.DataAtom == atom.P || n.DataAtom == atom.Br {
			continue
		}
		unwrap(n)
	}
}

// headingsOnly keeps heading subtrees. Elements holding headings are unwrapped
// so the headings survive, and all other content is dropped. Text sitting
// directly inside an unwrapped container, such as "loose" in
// <div>loose <h3>Deep</h3></div>, is dropped with it.
func headingsOnly(root *html.Node) {
	for _, n := range elements(root) {
		if !attached(n, root) || insideHeading(n, root) || headingAtoms[n.DataAtom] {
			continue
		}
		if containsHeading(n) {
			unwrap(n)
			continue
		}
		n.Parent.RemoveChild(n)
	}
	for c := root.FirstChild; c != nil; {
		next := c.NextSibling
		if c.Type == html.TextNode && strings.TrimSpace(c.Data) != "" {
			root.RemoveChild(c)
		}
		c = next
	}
}

// elements lists the element descendants of root in document order.
func elements(root *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

// unwrap replaces n with its children.
func unwrap(n *html.Node) {
	parent := n.Parent
	if parent == nil {
		return
	}
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		parent.InsertBefore(c, n)
		c = next
	}
	parent.RemoveChild(n)
}

func attached(n, root *html.Node) bool {
	for p := n.Parent; p != nil; p = p.Parent {
		if p == root {
			return true
		}
	}
	return false
}

func insideHeading(n, root *html.Node) bool {
	for p := n.Parent; p != nil && p != root; p = p.Parent {
		if headingAtoms[p.DataAtom] {
			return true
		}
	}
	return false
}

func containsHeading(n *html.Node) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.ElementNode {
			continue
		}
		if headingAtoms[c.DataAtom] || containsHeading(c) {
			return true
		}
	}
	return false
}
