package fetcher

import (
	"html"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

const summaryLimit = 200

// CleanHTML strips markup and entities and collapses whitespace.
func CleanHTML(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	// Some feeds escape their markup twice, so a second pass is allowed.
	for i := 0; i < 2; i++ {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
		if err != nil {
			s = html.UnescapeString(s)
			break
		}
		s = doc.Text()
		if !strings.Contains(s, "<") {
			break
		}
	}
	return strings.Join(strings.Fields(s), " ")
}

// Truncate cuts s to at most n runes.
func Truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return strings.TrimSpace(string(r[:n]))
}

// ArticleText builds the snippet sent downstream: the title plus up to 200
// characters of the cleaned summary.
func ArticleText(title, summary string) string {
	summary = Truncate(summary, summaryLimit)
	if summary == "" {
		return title
	}
	if title == "" {
		return summary
	}
	return title + ": " + summary
}
