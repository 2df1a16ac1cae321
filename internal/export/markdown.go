package export

import (
	"regexp"
	"strings"
)

type substitution struct {
	pattern     *regexp.Regexp
	replacement string
}

// Order matters: pre is handled before p, and bold/italic before the generic
// tag strip.
var markdownRules = []substitution{
	{regexp.MustCompile(`(?i)<h1[^>]*>(.*?)</h1>`), "# ${1}\n\n"},
	{regexp.MustCompile(`(?i)<h2[^>]*>(.*?)</h2>`), "## ${1}\n\n"},
	{regexp.MustCompile(`(?i)<h3[^>]*>(.*?)</h3>`), "### ${1}\n\n"},

	{regexp.MustCompile(`(?i)<strong[^>]*>(.*?)</strong>`), "**${1}**"},
	{regexp.MustCompile(`(?i)<b[^>]*>(.*?)</b>`), "**${1}**"},

	{regexp.MustCompile(`(?i)<em[^>]*>(.*?)</em>`), "*${1}*"},
	{regexp.MustCompile(`(?i)<i[^>]*>(.*?)</i>`), "*${1}*"},

	{regexp.MustCompile(`(?i)<a[^>]*href=["']([^"']*)["'][^>]*>(.*?)</a>`), "[${2}](${1})"},

	{regexp.MustCompile(`(?i)<ul[^>]*>`), "\n"},
	{regexp.MustCompile(`(?i)</ul>`), "\n"},
	{regexp.MustCompile(`(?i)<ol[^>]*>`), "\n"},
	{regexp.MustCompile(`(?i)</ol>`), "\n"},
	{regexp.MustCompile(`(?i)<li[^>]*>(.*?)</li>`), "- ${1}\n"},

	{regexp.MustCompile(`(?i)<code[^>]*>(.*?)</code>`), "`${1}`"},
	{regexp.MustCompile(`(?i)<pre[^>]*>(.*?)</pre>`), "```\n${1}\n```\n"},

	{regexp.MustCompile(`(?i)<blockquote[^>]*>(.*?)</blockquote>`), "> ${1}\n"},

	{regexp.MustCompile(`(?i)<p[^>]*>(.*?)</p>`), "${1}\n\n"},

	{regexp.MustCompile(`(?i)<br\s*/?>`), "\n"},

	{regexp.MustCompile(`<[^>]*>`), ""},
}

var blankLines = regexp.MustCompile(`\n{3,}`)

// HTMLToMarkdown converts editor HTML to Markdown by ordered tag
// substitution. It is not an HTML parser: unknown or malformed markup is
// stripped rather than rejected.
func HTMLToMarkdown(html string) string {
	markdown := html
	for _, rule := range markdownRules {
		markdown = rule.pattern.ReplaceAllString(markdown, rule.replacement)
	}
	markdown = decodeEntities(markdown)
	markdown = blankLines.ReplaceAllString(markdown, "\n\n")
	return strings.TrimSpace(markdown)
}

// decodeEntities applies each entity in sequence, so "&amp;lt;" ends up as "<".
func decodeEntities(s string) string {
	for _, pair := range [][2]string{
		{"&nbsp;", " "},
		{"&amp;", "&"},
		{"&lt;", "<"},
		{"&gt;", ">"},
		{"&quot;", `"`},
		{"&#39;", "'"},
	} {
		s = strings.ReplaceAll(s, pair[0], pair[1])
	}
	return s
}

// Markdown renders a page as a Markdown document headed by its title.
func Markdown(title, html string) string {
	return "# " + title + "\n\n" + HTMLToMarkdown(html)
}

var (
	filenameUnsafe = regexp.MustCompile(`[^a-zA-Z0-9]`)
	underscoreRuns = regexp.MustCompile(`_+`)
)

// SanitizeFilename maps every non-alphanumeric character to "_", collapses
// runs, and lower-cases the result.
func SanitizeFilename(title string) string {
	name := filenameUnsafe.ReplaceAllString(title, "_")
	name = underscoreRuns.ReplaceAllString(name, "_")
	name = strings.ToLower(name)
	if name == "" || name == "_" {
		return "untitled"
	}
	return name
}
