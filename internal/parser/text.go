package parser

import (
	"strings"

	"golang.org/x/net/html"
)

var blockElements = map[string]bool{
	"address": true, "article": true, "aside": true, "blockquote": true, "br": true,
	"dd": true, "div": true, "dl": true, "dt": true, "fieldset": true, "footer": true,
	"form": true, "h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"header": true, "hr": true, "li": true, "main": true, "nav": true, "ol": true,
	"p": true, "section": true, "table": true, "tbody": true, "thead": true, "tr": true, "ul": true,
}

var skippedElements = map[string]bool{"script": true, "style": true, "noscript": true, "template": true}

// VisibleText renders a document the way innerText would: one line per block, cells
// separated by spaces, scripts dropped
func VisibleText(node *html.Node) string {
	var b strings.Builder
	writeText(node, &b)

	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(collapseSpace(line))
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

func writeText(node *html.Node, b *strings.Builder) {
	if node == nil {
		return
	}
	switch node.Type {
	case html.TextNode:
		b.WriteString(node.Data)
		return
	case html.ElementNode:
		if skippedElements[node.Data] {
			return
		}
	}

	block := node.Type == html.ElementNode && blockElements[node.Data]
	if block {
		b.WriteString("\n")
	}
	for child := node.FirstChild; child != nil; child = child.NextSibling {
		writeText(child, b)
	}
	if node.Type == html.ElementNode && (node.Data == "td" || node.Data == "th") {
		b.WriteString(" ")
	}
	if block {
		b.WriteString("\n")
	}
}

// HTMLText parses markup and returns its visible text
func HTMLText(markup string) (string, error) {
	root, err := html.Parse(strings.NewReader(markup))
	if err != nil {
		return "", err
	}
	return VisibleText(root), nil
}
