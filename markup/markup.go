// Package markup renders the small markup language used in post and project
// bodies. It is deliberately not Markdown: blocks are split on blank lines and
// only a handful of line prefixes and inline markers are recognized.
package markup

import (
	"html/template"
	"regexp"
	"strings"
	"unicode/utf8"
)

const WORDS_PER_MINUTE = 200

var (
	orderedItem = regexp.MustCompile(`^\d+\.\s+`)
	linkRe      = regexp.MustCompile(`!?\[([^\]]*)\]\(([^)\s]*)\)`)
	spaceRe     = regexp.MustCompile(`\s+`)
)

// Render converts src to HTML. All text is escaped.
func Render(src string) template.HTML {
	var b strings.Builder
	lines := strings.Split(strings.Replace(src, "\r\n", "\n", -1), "\n")
	block := []string{}
	flush := func() {
		if len(block) > 0 {
			renderBlock(&b, block)
			block = block[:0]
		}
	}
	for i := 0; i < len(lines); i++ {
		line := lines[i]
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "```"):
			flush()
			lang := strings.TrimSpace(strings.TrimPrefix(trimmed, "```"))
			code := []string{}
			for i++; i < len(lines); i++ {
				if strings.HasPrefix(strings.TrimSpace(lines[i]), "```") {
					break
				}
				code = append(code, lines[i])
			}
			if lang != "" {
				b.WriteString(`<pre><code class="language-` + template.HTMLEscapeString(lang) + `">`)
			} else {
				b.WriteString("<pre><code>")
			}
			b.WriteString(template.HTMLEscapeString(strings.Join(code, "\n")))
			b.WriteString("</code></pre>\n")
		case trimmed == "":
			flush()
		case headingLevel(trimmed) > 0:
			flush()
			level := headingLevel(trimmed)
			tag := "h" + string(rune('0'+level))
			b.WriteString("<" + tag + ">" + inline(strings.TrimSpace(trimmed[level:])) + "</" + tag + ">\n")
		default:
			block = append(block, trimmed)
		}
	}
	flush()
	return template.HTML(b.String())
}

func headingLevel(line string) int {
	n := 0
	for n < len(line) && n < 4 && line[n] == '#' {
		n++
	}
	if n == 0 || n > 3 || len(line) == n || line[n] != ' ' {
		return 0
	}
	return n
}

func allHavePrefix(lines []string, match func(string) bool) bool {
	for _, line := range lines {
		if !match(line) {
			return false
		}
	}
	return true
}

func isBullet(line string) bool {
	return strings.HasPrefix(line, "- ") || strings.HasPrefix(line, "* ")
}

func isQuote(line string) bool {
	return strings.HasPrefix(line, ">")
}

func renderBlock(b *strings.Builder, lines []string) {
	switch {
	case allHavePrefix(lines, isBullet):
		b.WriteString("<ul>\n")
		for _, line := range lines {
			b.WriteString("<li>" + inline(strings.TrimSpace(line[2:])) + "</li>\n")
		}
		b.WriteString("</ul>\n")
	case allHavePrefix(lines, orderedItem.MatchString):
		b.WriteString("<ol>\n")
		for _, line := range lines {
			b.WriteString("<li>" + inline(orderedItem.ReplaceAllString(line, "")) + "</li>\n")
		}
		b.WriteString("</ol>\n")
	case allHavePrefix(lines, isQuote):
		inner := make([]string, len(lines))
		for i, line := range lines {
			inner[i] = strings.TrimSpace(strings.TrimPrefix(line, ">"))
		}
		b.WriteString("<blockquote>")
		b.WriteString(paragraph(inner))
		b.WriteString("</blockquote>\n")
	default:
		b.WriteString(paragraph(lines))
		b.WriteString("\n")
	}
}

func paragraph(lines []string) string {
	parts := make([]string, len(lines))
	for i, line := range lines {
		parts[i] = inline(line)
	}
	return "<p>" + strings.Join(parts, "<br>\n") + "</p>"
}

// safeURL reports whether u may appear in an href or src.
func safeURL(u string) bool {
	lower := strings.ToLower(strings.TrimSpace(u))
	if lower == "" {
		return false
	}
	for _, prefix := range []string{"http://", "https://", "mailto:", "/", "#"} {
		if strings.HasPrefix(lower, prefix) {
			return true
		}
	}
	// Relative paths have no scheme before the first slash.
	colon := strings.Index(lower, ":")
	slash := strings.Index(lower, "/")
	return colon == -1 || (slash != -1 && slash < colon)
}

func inline(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); {
		rest := s[i:]
		switch {
		case rest[0] == '`':
			if end := strings.Index(rest[1:], "`"); end > 0 {
				b.WriteString("<code>" + template.HTMLEscapeString(rest[1:1+end]) + "</code>")
				i += end + 2
				continue
			}
		case strings.HasPrefix(rest, "**"):
			if end := strings.Index(rest[2:], "**"); end > 0 {
				b.WriteString("<strong>" + inline(rest[2:2+end]) + "</strong>")
				i += end + 4
				continue
			}
		case rest[0] == '*':
			if end := strings.Index(rest[1:], "*"); end > 0 && rest[1] != ' ' {
				b.WriteString("<em>" + inline(rest[1:1+end]) + "</em>")
				i += end + 2
				continue
			}
		case rest[0] == '[' || strings.HasPrefix(rest, "!["):
			if loc := linkRe.FindStringSubmatchIndex(rest); loc != nil && loc[0] == 0 {
				text := rest[loc[2]:loc[3]]
				href := rest[loc[4]:loc[5]]
				image := rest[0] == '!'
				switch {
				case !safeURL(href):
					b.WriteString(template.HTMLEscapeString(text))
				case image:
					b.WriteString(`<img src="` + template.HTMLEscapeString(href) + `" alt="` + template.HTMLEscapeString(text) + `">`)
				default:
					b.WriteString(`<a href="` + template.HTMLEscapeString(href) + `">` + inline(text) + `</a>`)
				}
				i += loc[1]
				continue
			}
		}
		_, size := utf8.DecodeRuneInString(rest)
		b.WriteString(template.HTMLEscapeString(rest[:size]))
		i += size
	}
	return b.String()
}

// plain strips inline markers and returns the visible text.
func plain(s string) string {
	s = linkRe.ReplaceAllString(s, "$1")
	s = strings.NewReplacer("**", "", "`", "", "*", "").Replace(s)
	return strings.TrimSpace(spaceRe.ReplaceAllString(s, " "))
}

// Excerpt returns the plain text of the first paragraph of src, cut to at most
// n runes on a word boundary.
func Excerpt(src string, n int) string {
	var para []string
	inFence := false
	for _, line := range strings.Split(strings.Replace(src, "\r\n", "\n", -1), "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			inFence = !inFence
			continue
		}
		if inFence || headingLevel(trimmed) > 0 {
			continue
		}
		if trimmed == "" {
			if len(para) > 0 {
				break
			}
			continue
		}
		para = append(para, strings.TrimLeft(trimmed, ">-* "))
	}
	text := plain(strings.Join(para, " "))
	runes := []rune(text)
	if n <= 0 || len(runes) <= n {
		return text
	}
	cut := string(runes[:n])
	if runes[n] != ' ' {
		if idx := strings.LastIndex(cut, " "); idx > 0 {
			cut = cut[:idx]
		}
	}
	return strings.TrimRight(cut, " ,.;:") + "…"
}

// ReadingTime estimates the minutes needed to read src.
func ReadingTime(src string) int {
	words := len(strings.Fields(src))
	minutes := (words + WORDS_PER_MINUTE - 1) / WORDS_PER_MINUTE
	if minutes < 1 {
		return 1
	}
	return minutes
}
