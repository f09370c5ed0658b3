package parser

import (
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	"github.com/microcosm-cc/bluemonday"
)

var (
	strictPolicy = bluemonday.StrictPolicy()
	blankLines   = regexp.MustCompile(`\n\s*\n+`)
	spaces       = regexp.MustCompile(`[ \t\p{Zs}]+`)
)

// noiseSelector lists elements that never carry article text.
const noiseSelector = "script, style, noscript, nav, footer, aside, iframe, form, [class*='share'], [class*='comment'], [id*='comment']"

// selectionText flattens a content element into paragraphs separated by blank lines.
func selectionText(sel *goquery.Selection) string {
	sel = sel.Clone()
	sel.Find(noiseSelector).Remove()

	var paragraphs []string
	sel.Find("h1, h2, h3, h4, h5, h6, p, li, blockquote, pre").Each(func(_ int, s *goquery.Selection) {
		// Nested blocks are picked up by their parent.
		if s.ParentsFiltered("p, li, blockquote, pre").Length() > 0 {
			return
		}
		if text := normalizeLine(s.Text()); text != "" {
			paragraphs = append(paragraphs, text)
		}
	})
	if len(paragraphs) == 0 {
		return normalizeText(sel.Text())
	}
	return strings.Join(paragraphs, "\n\n")
}

// htmlToText strips markup from feed descriptions and show notes.
func htmlToText(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "<") {
		return normalizeText(html.UnescapeString(raw))
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err == nil {
		if text := selectionText(doc.Selection); text != "" {
			return text
		}
	}
	return normalizeText(html.UnescapeString(strictPolicy.Sanitize(raw)))
}

func normalizeLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = spaces.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	s = strings.Join(lines, "\n")
	s = blankLines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// parseDate accepts the date spellings blogs and feeds use; the zero time means unknown.
func parseDate(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}
