package normalize

import (
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"golang.org/x/net/html"
)

// htmlTagPattern matches common HTML tags to detect if a string contains HTML.
var htmlTagPattern = regexp.MustCompile(`<(p|br|div|span|b|i|strong|em|a|ul|ol|li|h[1-6]|blockquote)[\s>/]`)

// containsHTML checks if a string appears to contain HTML markup.
func containsHTML(s string) bool {
	return htmlTagPattern.MatchString(strings.ToLower(s))
}

// DescriptionMarkdown converts an HTML description to Markdown.
// Provider descriptions arrive as HTML fragments; we store Markdown.
// If the input doesn't contain HTML, it's returned unchanged.
func DescriptionMarkdown(s string) string {
	if s == "" || !containsHTML(s) {
		return strings.TrimSpace(s)
	}

	markdown, err := htmltomarkdown.ConvertString(s)
	if err != nil {
		// If conversion fails, return the original string
		return strings.TrimSpace(s)
	}

	return strings.TrimSpace(markdown)
}

// StripHTML removes HTML tags and returns plain text.
// Handles common HTML entities and collapses whitespace.
func StripHTML(s string) string {
	if s == "" {
		return ""
	}

	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		// If parsing fails, fall back to regex stripping
		return stripHTMLFallback(s)
	}

	var buf strings.Builder
	extractText(doc, &buf)

	result := collapseWhitespace(buf.String())
	return strings.TrimSpace(result)
}

// extractText recursively extracts text content from HTML nodes.
func extractText(n *html.Node, buf *strings.Builder) {
	if n.Type == html.TextNode {
		buf.WriteString(n.Data)
	}

	// Add space around block elements
	if n.Type == html.ElementNode {
		switch n.Data {
		case "p", "div", "br", "li", "h1", "h2", "h3", "h4", "h5", "h6":
			buf.WriteString(" ")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		extractText(c, buf)
	}

	if n.Type == html.ElementNode {
		switch n.Data {
		case "p", "div", "li", "h1", "h2", "h3", "h4", "h5", "h6":
			buf.WriteString(" ")
		}
	}
}

var htmlTagRegex = regexp.MustCompile(`<[^>]*>`)

func stripHTMLFallback(s string) string {
	s = htmlTagRegex.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.TrimSpace(collapseWhitespace(s))
}

var whitespaceRegex = regexp.MustCompile(`\s+`)

func collapseWhitespace(s string) string {
	return whitespaceRegex.ReplaceAllString(s, " ")
}
