package tui

import (
	"strconv"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// HTMLToText renders an HTML answer fragment as plain terminal text.
// Paragraphs are separated by a blank line, list items get bullets, and link
// targets are appended in parentheses.
func HTMLToText(fragment string) string {
	fragment = stripCodeFence(fragment)
	context := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(fragment), context)
	if err != nil {
		return strings.TrimSpace(fragment)
	}

	var b strings.Builder
	for _, n := range nodes {
		renderNode(&b, n)
	}
	return tidy(b.String())
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```html")
	s = strings.TrimPrefix(s, "```")
	return strings.TrimSuffix(strings.TrimSpace(s), "```")
}

func renderNode(b *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		writeText(b, n.Data)
		return
	case html.ElementNode:
	default:
		renderChildren(b, n)
		return
	}

	switch n.DataAtom {
	case atom.Script, atom.Style:
	case atom.Br:
		b.WriteString("\n")
	case atom.P, atom.Div, atom.H1, atom.H2, atom.H3, atom.H4:
		blankLine(b)
		renderChildren(b, n)
		blankLine(b)
	case atom.Ul:
		blankLine(b)
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.DataAtom == atom.Li {
				renderItem(b, c, "• ")
				continue
			}
			renderNode(b, c)
		}
		blankLine(b)
	case atom.Ol:
		blankLine(b)
		i := 0
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.DataAtom == atom.Li {
				i++
				renderItem(b, c, strconv.Itoa(i)+". ")
				continue
			}
			renderNode(b, c)
		}
		blankLine(b)
	case atom.Li:
		renderItem(b, n, "• ")
	case atom.A:
		var inner strings.Builder
		renderChildren(&inner, n)
		text := inner.String()
		b.WriteString(text)
		if href := attr(n, "href"); href != "" && strings.TrimSpace(text) != href {
			b.WriteString(" (" + href + ")")
		}
	default:
		renderChildren(b, n)
	}
}

func renderChildren(b *strings.Builder, n *html.Node) {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderNode(b, c)
	}
}

func renderItem(b *strings.Builder, n *html.Node, bullet string) {
	newline(b)
	b.WriteString(bullet)
	renderChildren(b, n)
	newline(b)
}

// writeText collapses runs of whitespace. Whitespace at the start of a line is dropped.
func writeText(b *strings.Builder, text string) {
	collapsed := strings.Join(strings.Fields(text), " ")
	if collapsed == "" {
		if text != "" && !atLineStart(b) {
			b.WriteString(" ")
		}
		return
	}
	if isSpace(text[0]) && !atLineStart(b) {
		b.WriteString(" ")
	}
	b.WriteString(collapsed)
	if isSpace(text[len(text)-1]) {
		b.WriteString(" ")
	}
}

func atLineStart(b *strings.Builder) bool {
	s := b.String()
	return s == "" || strings.HasSuffix(s, "\n") || strings.HasSuffix(s, " ")
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '\r'
}

func newline(b *strings.Builder) {
	s := b.String()
	if s != "" && !strings.HasSuffix(s, "\n") {
		b.WriteString("\n")
	}
}

func blankLine(b *strings.Builder) {
	s := b.String()
	switch {
	case s == "", strings.HasSuffix(s, "\n\n"):
	case strings.HasSuffix(s, "\n"):
		b.WriteString("\n")
	default:
		b.WriteString("\n\n")
	}
}

func attr(n *html.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

// tidy trims every line and folds runs of blank lines into one.
func tidy(s string) string {
	lines := strings.Split(s, "\n")
	out := make([]string, 0, len(lines))
	blank := false
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" {
			if !blank && len(out) > 0 {
				out = append(out, "")
			}
			blank = true
			continue
		}
		blank = false
		out = append(out, line)
	}
	return strings.TrimSpace(strings.Join(out, "\n"))
}
