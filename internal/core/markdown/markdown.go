// Package markdown converts the HTML Mastodon emits for status bodies into
// Markdown that renders back to the same text.
package markdown

import (
	"regexp"
	"strings"

	htmltomarkdown "github.com/JohannesKaufmann/html-to-markdown/v2"
	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// Text that reads as an HTML tag or entity once decoded is swapped for
// private-use runes before conversion and written back as entities after,
// so "&lt;script&gt;" in a post stays text instead of becoming markup.
const (
	ltMark  = '\uE000'
	ampMark = '\uE001'
)

var (
	entityLike = regexp.MustCompile(`&(#[0-9]+|#[xX][0-9a-fA-F]+|[a-zA-Z][a-zA-Z0-9]*);`)
	restorer   = strings.NewReplacer(string(ltMark), "&lt;", string(ampMark), "&amp;")
)

// Convert renders src as Markdown. Markdown syntax that appears in the text
// itself (list markers, headings, quotes, link brackets, emphasis) is
// escaped. Input the converter rejects falls back to its plain text.
func Convert(src string) string {
	if strings.TrimSpace(src) == "" {
		return ""
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(src))
	if err != nil {
		return strings.TrimSpace(src)
	}
	doc.Find("script, style").Remove()
	for _, n := range doc.Nodes {
		protectText(n, false)
	}

	prepared, err := doc.Html()
	if err != nil {
		return strings.TrimSpace(restorer.Replace(doc.Text()))
	}
	md, err := htmltomarkdown.ConvertString(prepared)
	if err != nil {
		return strings.TrimSpace(restorer.Replace(doc.Text()))
	}
	return strings.TrimSpace(restorer.Replace(md))
}

// protectText marks '<' and entity-looking '&' in text nodes. Code keeps its
// characters: code spans and blocks render them literally.
func protectText(n *html.Node, inCode bool) {
	if n.Type == html.ElementNode && (n.Data == "code" || n.Data == "pre") {
		inCode = true
	}
	if n.Type == html.TextNode && !inCode {
		n.Data = entityLike.ReplaceAllStringFunc(n.Data, func(m string) string {
			return string(ampMark) + m[1:]
		})
		n.Data = strings.ReplaceAll(n.Data, "<", string(ltMark))
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		protectText(c, inCode)
	}
}
