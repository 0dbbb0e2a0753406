package tideline

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// citationPattern matches [1], [^1], [1, 2] and [^1,^2] groups.
var citationPattern = regexp.MustCompile(`\[(\s*\^?\d+\s*(?:,\s*\^?\d+\s*)*)\]`)

var citationMarkdown = goldmark.New(goldmark.WithExtensions(extension.Strikethrough))

// RewriteCitations replaces bracketed citation groups in content with
// markdown footnote links, using the URLs in links keyed by citation index.
//
// Groups already followed by a parenthesized target, groups with no known
// index, and groups inside code, quotes, HTML, links, images, emphasis or
// strikethrough are left as written.
func RewriteCitations(content string, links map[int]string) string {
	if content == "" || len(links) == 0 {
		return content
	}
	src := []byte(content)
	protected := protectedSpans(src)
	matches := citationPattern.FindAllSubmatchIndex(src, -1)

	out := content
	boundary := -1
	// End to start, so replacing a match never shifts the offsets of the
	// matches still to be processed.
	for i := len(matches) - 1; i >= 0; i-- {
		start, end := matches[i][0], matches[i][1]
		if followedByTarget(src, end) || footnoteDefinition(src, start, end) {
			continue
		}
		if boundary >= 0 && (start >= boundary || end > boundary) {
			continue
		}
		boundary = start

		var repl []string
		for _, part := range strings.Split(string(src[matches[i][2]:matches[i][3]]), ",") {
			part = strings.TrimSpace(strings.ReplaceAll(part, "^", ""))
			n, err := strconv.Atoi(part)
			if err != nil {
				continue
			}
			if url, ok := links[n]; ok {
				repl = append(repl, "[^"+strconv.Itoa(n)+"]("+url+")")
			}
		}
		if len(repl) == 0 || insideAny(protected, start, end) {
			continue
		}
		out = out[:start] + strings.Join(repl, " ") + out[end:]
	}
	return out
}

// followedByTarget reports whether src[end:] opens a parenthesized target
// closed on the same line, as in "[1](https://...)".
func followedByTarget(src []byte, end int) bool {
	if end >= len(src) || src[end] != '(' {
		return false
	}
	for _, c := range src[end+1:] {
		switch c {
		case ')':
			return true
		case '\n':
			return false
		}
	}
	return false
}

// footnoteDefinition reports whether the group at src[start:end] opens its
// line, ignoring leading blanks, and is followed by a colon, as in "[1]: x".
func footnoteDefinition(src []byte, start, end int) bool {
	if end >= len(src) || src[end] != ':' {
		return false
	}
	for i := start - 1; i >= 0 && src[i] != '\n'; i-- {
		if src[i] != ' ' && src[i] != '\t' {
			return false
		}
	}
	return true
}

type span struct{ start, stop int }

func insideAny(spans []span, start, end int) bool {
	for _, s := range spans {
		if s.start <= start && end <= s.stop {
			return true
		}
	}
	return false
}

// protectedSpans returns the source ranges of markdown nodes whose content
// must not be rewritten.
func protectedSpans(src []byte) []span {
	doc := citationMarkdown.Parser().Parse(text.NewReader(src))
	var spans []span
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering || !isProtected(n) {
			return ast.WalkContinue, nil
		}
		if s, ok := nodeSpan(n); ok {
			spans = append(spans, s)
		}
		return ast.WalkSkipChildren, nil
	})
	return spans
}

func isProtected(n ast.Node) bool {
	switch n.Kind() {
	case ast.KindBlockquote, ast.KindFencedCodeBlock, ast.KindCodeBlock,
		ast.KindHTMLBlock, ast.KindThematicBreak,
		ast.KindCodeSpan, ast.KindRawHTML, ast.KindEmphasis,
		ast.KindLink, ast.KindAutoLink, ast.KindImage,
		extast.KindStrikethrough:
		return true
	}
	return false
}

// nodeSpan is the smallest range covering every source segment of n and
// its descendants.
func nodeSpan(n ast.Node) (span, bool) {
	s := span{start: -1}
	add := func(start, stop int) {
		if s.start < 0 || start < s.start {
			s.start = start
		}
		if stop > s.stop {
			s.stop = stop
		}
	}
	switch v := n.(type) {
	case *ast.Text:
		add(v.Segment.Start, v.Segment.Stop)
	case *ast.RawHTML:
		for i := 0; i < v.Segments.Len(); i++ {
			seg := v.Segments.At(i)
			add(seg.Start, seg.Stop)
		}
	case *ast.HTMLBlock:
		if v.HasClosure() {
			add(v.ClosureLine.Start, v.ClosureLine.Stop)
		}
	}
	if n.Type() == ast.TypeBlock {
		if lines := n.Lines(); lines != nil {
			for i := 0; i < lines.Len(); i++ {
				seg := lines.At(i)
				add(seg.Start, seg.Stop)
			}
		}
	}
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		if cs, ok := nodeSpan(c); ok {
			add(cs.start, cs.stop)
		}
	}
	return s, s.start >= 0
}
