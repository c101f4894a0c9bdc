package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/antchfx/htmlquery"
	"github.com/antchfx/xpath"
	"golang.org/x/net/html"
)

// isXPath decides which engine evaluates a selector. Expressions starting
// with "//" are XPath, everything else is CSS.
func isXPath(selector string) bool {
	return strings.HasPrefix(selector, "//")
}

// firstMatch resolves a selector against the parsed document and returns the
// text content of the first match. Both engines walk the same parsed tree so
// a document is never parsed twice.
func firstMatch(doc *goquery.Document, root *html.Node, selector string) (string, bool) {
	if isXPath(selector) {
		expr, err := xpath.Compile(selector)
		if err != nil {
			return "", false
		}
		node := htmlquery.QuerySelector(root, expr)
		if node == nil {
			return "", false
		}
		return htmlquery.InnerText(node), true
	}
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", false
	}
	return sel.Text(), true
}
