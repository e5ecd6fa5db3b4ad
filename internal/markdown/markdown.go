// Package markdown converts normalized HTML into Markdown documents.
package markdown

import (
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"go.uber.org/zap"

	"github.com/JakeFAU/pagemark/internal/crawler"
	"github.com/JakeFAU/pagemark/internal/normalize"
)

// Converter normalizes HTML for an extraction mode and renders it as Markdown
// with ATX headings and hyphen bullets.
type Converter struct {
	conv   *converter.Converter
	logger *zap.Logger
}

// New creates a Converter.
func New(logger *zap.Logger) *Converter {
	if logger == nil {
		logger = zap.NewNop()
	}
	conv := converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(
				commonmark.WithHeadingStyle(commonmark.HeadingStyleATX),
				commonmark.WithBulletListMarker("-"),
			),
		),
	)
	conv.Register.TextTransformer(plainEntities, converter.PriorityLate)
	return &Converter{
		conv:   conv,
		logger: logger,
	}
}

// plainEntities undoes the base plugin's entity escaping wherever the bare
// character cannot be read as an entity, a tag, or a blockquote marker.
func plainEntities(_ converter.Context, content string) string {
	if !strings.Contains(content, "&") {
		return content
	}
	var b strings.Builder
	b.Grow(len(content))
	for i := 0; i < len(content); {
		rest := content[i:]
		switch {
		case strings.HasPrefix(rest, "&amp;") && !looksLikeEntity(rest[len("&amp;"):]):
			b.WriteByte('&')
			i += len("&amp;")
		case strings.HasPrefix(rest, "&lt;") && !opensTag(rest[len("&lt;"):]):
			b.WriteByte('<')
			i += len("&lt;")
		case strings.HasPrefix(rest, "&gt;") && i > 0:
			b.WriteByte('>')
			i += len("&gt;")
		default:
			b.WriteByte(content[i])
			i++
		}
	}
	return b.String()
}

// looksLikeEntity reports whether s starts with an entity body such as
// "copy;" or "#169;".
func looksLikeEntity(s string) bool {
	for i := 0; i < len(s) && i < 32; i++ {
		c := s[i]
		switch {
		case c == ';':
			return i > 0
		case c == '#' && i == 0:
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return false
}

func opensTag(s string) bool {
	if s == "" {
		return false
	}
	c := s[0]
	return c == '/' || c == '!' || c == '?' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// Convert returns the Markdown for rawHTML. Failures are logged and yield an
// empty string, which callers treat as "no content extracted".
func (c *Converter) Convert(rawHTML, title string, cfg crawler.ExtractionConfig) string {
	normalized, err := normalize.Normalize(rawHTML, title, cfg)
	if err != nil {
		c.logger.Error("normalize html failed", zap.Error(err))
		return ""
	}
	if normalized == "" {
		return ""
	}
	md, err := c.conv.ConvertString(normalized)
	if err != nil {
		c.logger.Error("convert markdown failed", zap.Error(err))
		return ""
	}
	return strings.TrimSpace(md)
}
