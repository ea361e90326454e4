// Package repair applies deterministic cleanup to model-generated text.
// Models habitually wrap markdown in code fences, glue headings to the
// preceding paragraph, and emit mermaid node labels that break the parser.
// None of this affects control flow; it only makes stored artifacts render.
package repair

import (
	"regexp"
	"strings"
)

var (
	headingRe   = regexp.MustCompile(`(?m)([^\n])\n(#{1,6} )`)
	blankRunsRe = regexp.MustCompile(`\n{3,}`)
	mermaidRe   = regexp.MustCompile("(?s)```mermaid\n(.*?)```")
	nodeLabelRe = regexp.MustCompile(`([A-Za-z0-9_]+)\[([^"\]\n]*\([^"\]\n]*)\]`)
)

// Markdown normalizes a generated markdown document: strips a wrapping code
// fence, ensures a blank line before headings, collapses runs of blank
// lines, and trims surrounding whitespace.
func Markdown(text string) string {
	text = stripFence(text)
	text = headingRe.ReplaceAllString(text, "$1\n\n$2")
	text = blankRunsRe.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// Mermaid quotes node labels containing parentheses inside mermaid blocks.
// Bare parentheses inside [...] labels are a syntax error in mermaid.
func Mermaid(text string) string {
	return mermaidRe.ReplaceAllStringFunc(text, func(block string) string {
		return nodeLabelRe.ReplaceAllString(block, `$1["$2"]`)
	})
}

// Document runs the full repair chain used before storing an artifact.
func Document(text string) string {
	return Mermaid(Markdown(text))
}

// stripFence removes a code fence wrapping the entire document, e.g.
// "```markdown\n...\n```". Inner fences are left alone.
func stripFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return text
	}
	nl := strings.Index(trimmed, "\n")
	if nl < 0 || !strings.HasSuffix(trimmed, "\n```") {
		return text
	}
	opener := trimmed[3:nl]
	// Only treat it as a wrapper when the opener is a bare language tag.
	if strings.ContainsAny(opener, " `") {
		return text
	}
	return trimmed[nl+1 : len(trimmed)-len("\n```")]
}
