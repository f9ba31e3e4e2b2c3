package extract

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
)

// elements whose text is boilerplate, never study material
var skippedElements = map[string]bool{
	"script":   true,
	"style":    true,
	"nav":      true,
	"footer":   true,
	"header":   true,
	"aside":    true,
	"iframe":   true,
	"noscript": true,
}

// FromHTML extracts readable text from a web page. It prefers the page's
// <article>, then <main>, then falls back to <body>, and strips
// script/style/navigation boilerplate. The page title falls back to
// fallbackTitle when missing.
func FromHTML(r io.Reader, fallbackTitle string) (*Content, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("failed to parse html: %w", err)
	}

	title := CleanText(textOf(findElement(doc, "title")))
	if title == "" {
		title = fallbackTitle
	}

	root := findElement(doc, "article")
	if root == nil || CleanText(textOf(root)) == "" {
		if main := findElement(doc, "main"); main != nil {
			root = main
		}
	}
	if root == nil || CleanText(textOf(root)) == "" {
		root = findElement(doc, "body")
	}
	if root == nil {
		root = doc
	}

	text := CleanText(textOf(root))
	if len(text) < MinTextLength {
		return nil, ErrNotEnoughText
	}
	return &Content{Title: title, Text: text}, nil
}

// findElement returns the first element with the given tag, depth-first
func findElement(n *html.Node, tag string) *html.Node {
	if n.Type == html.ElementNode && n.Data == tag {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, tag); found != nil {
			return found
		}
	}
	return nil
}

// textOf collects the text nodes under n, skipping boilerplate elements
func textOf(n *html.Node) string {
	if n == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(node *html.Node) {
		if node.Type == html.ElementNode && skippedElements[node.Data] {
			return
		}
		if node.Type == html.TextNode {
			b.WriteString(node.Data)
			b.WriteString(" ")
		}
		for c := node.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}
