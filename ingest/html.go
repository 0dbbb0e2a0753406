package ingest

import (
	"strings"

	"golang.org/x/net/html"
)

// StripHTML returns the visible text of an HTML document. Block elements
// start new lines; script, style and similar elements are dropped.
// Entities are decoded by the tokenizer.
func StripHTML(content string) string {
	z := html.NewTokenizer(strings.NewReader(content))
	var out strings.Builder
	out.Grow(len(content))
	skip := 0
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			// io.EOF or a read error; either way the text so far is all there is.
			return collapseWhitespace(out.String())
		case html.StartTagToken, html.SelfClosingTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if tt == html.StartTagToken && hiddenTag(tag) {
				skip++
			}
			if blockTag(tag) {
				out.WriteByte('\n')
			}
		case html.EndTagToken:
			name, _ := z.TagName()
			tag := string(name)
			if hiddenTag(tag) && skip > 0 {
				skip--
			}
			if blockTag(tag) {
				out.WriteByte('\n')
			}
		case html.TextToken:
			if skip == 0 {
				out.Write(z.Text())
			}
		}
	}
}

func hiddenTag(tag string) bool {
	switch tag {
	case "script", "style", "noscript", "template", "svg", "head":
		return true
	}
	return false
}

func blockTag(tag string) bool {
	switch tag {
	case "p", "div", "br", "hr", "h1", "h2", "h3", "h4", "h5", "h6",
		"li", "ul", "ol", "table", "tr", "blockquote", "pre",
		"section", "article", "header", "footer", "nav", "main":
		return true
	}
	return false
}

// collapseWhitespace trims every line, joins runs of spaces and keeps at
// most one blank line between paragraphs.
func collapseWhitespace(text string) string {
	var out strings.Builder
	blank := 0
	for _, line := range strings.Split(text, "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line == "" {
			if out.Len() > 0 {
				blank++
			}
			continue
		}
		if out.Len() > 0 {
			out.WriteByte('\n')
			if blank > 1 {
				out.WriteByte('\n')
			}
		}
		out.WriteString(line)
		blank = 0
	}
	return out.String()
}
