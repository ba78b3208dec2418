package textutil

import (
	"strings"

	"golang.org/x/net/html"
)

// HTMLToText extracts readable text from an HTML document. Script and style
// contents are dropped, block-level elements become line breaks, and runs of
// whitespace collapse to a single space within a line.
func HTMLToText(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}

	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		// Not parseable as HTML; return the input stripped of tags crudely.
		return collapseSpace(s)
	}

	var sb strings.Builder
	walkText(doc, &sb)
	return strings.TrimSpace(collapseBlankLines(sb.String()))
}

var blockElements = map[string]bool{
	"p": true, "div": true, "br": true, "li": true, "tr": true,
	"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true,
	"blockquote": true, "pre": true, "table": true, "ul": true, "ol": true,
}

func walkText(n *html.Node, sb *strings.Builder) {
	switch n.Type {
	case html.ElementNode:
		if n.Data == "script" || n.Data == "style" || n.Data == "head" {
			return
		}
		if blockElements[n.Data] {
			sb.WriteByte('\n')
		}
	case html.TextNode:
		text := collapseSpace(n.Data)
		if text != "" {
			if sb.Len() > 0 && !strings.HasSuffix(sb.String(), "\n") {
				sb.WriteByte(' ')
			}
			sb.WriteString(text)
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walkText(c, sb)
	}
	if n.Type == html.ElementNode && blockElements[n.Data] {
		sb.WriteByte('\n')
	}
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func collapseBlankLines(s string) string {
	lines := strings.Split(s, "\n")
	var out []string
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}
