package htmlutil

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

func collectStripped(node *html.Node, out *strings.Builder) {
	if node == nil {
		return
	}
	if node.Type == html.TextNode {
		out.WriteString(strings.TrimSpace(node.Data))
		return
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		collectStripped(child, out)
	}
}

// StrippedText concatenates every text node under the selection after trimming
// each of them, so markup like `<td> A1-<br/> CSE1001 </td>` reads as "A1-CSE1001".
func StrippedText(sel *goquery.Selection) string {
	var out strings.Builder
	for _, n := range sel.Nodes {
		collectStripped(n, &out)
	}
	return out.String()
}

var innerWhitespace = regexp.MustCompile(`\s\s+`)

func removeNonPrintable(s string) string {
	newStr := strings.Builder{}
	for _, c := range s {
		if unicode.IsPrint(c) || unicode.IsSpace(c) {
			newStr.WriteRune(c)
		}
	}
	return newStr.String()
}

// CleanText trims the text of the selection and collapses inner runs of whitespace.
func CleanText(sel *goquery.Selection) string {
	text := removeNonPrintable(sel.Text())
	text = strings.TrimSpace(text)
	return innerWhitespace.ReplaceAllString(text, " ")
}
