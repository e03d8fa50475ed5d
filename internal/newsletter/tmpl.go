package newsletter

import (
	"bytes"
	_ "embed"
	"fmt"
	"strings"
	"text/template"
	"time"
)

type Item struct {
	Title      string
	URL        string
	Source     string
	Published  string
	Confidence string
}

type Section struct {
	Category  string
	Summary   string
	Mood      string
	Items     []Item
	Sources   int
	Active    int
	Candidate int
}

type Data struct {
	Title      string
	Datetime   string
	Preface    string
	Postscript string
	Sections   []Section
}

//go:embed newsletter.tmpl
var newsletterTpl string

var compiled = template.Must(template.New("newsletter").Funcs(template.FuncMap{
	"upper": strings.ToUpper,
	"inc":   func(i int) int { return i + 1 },
}).Parse(newsletterTpl))

func Render(d Data) (string, error) {
	var buf bytes.Buffer
	if err := compiled.Execute(&buf, d); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// BuildData prepares a payload for rendering. Title, preface and postscript
// go through ExpandVars.
func BuildData(n *Newsletter, title, preface, postscript string, now time.Time) Data {
	d := Data{
		Title:      ExpandVars(title, now, n.Categories),
		Datetime:   n.GeneratedAt.UTC().Format("2006-01-02 15:04 UTC"),
		Preface:    ExpandVars(preface, now, n.Categories),
		Postscript: ExpandVars(postscript, now, n.Categories),
	}
	for _, c := range n.Categories {
		s := Section{
			Category:  c,
			Summary:   n.Summaries[c],
			Candidate: n.InputCounts[c],
		}
		if m, ok := n.Sentiment[c]; ok {
			s.Mood = fmt.Sprintf("%s (%+.2f)", m.Label, m.Score)
		}
		for _, st := range n.SourceStats[c] {
			s.Sources++
			if st.Active() {
				s.Active++
			}
		}
		for _, a := range n.SourcesMetadata[c] {
			s.Items = append(s.Items, Item{
				Title:      a.Title,
				URL:        a.Link,
				Source:     a.Source,
				Published:  a.Published,
				Confidence: fmt.Sprintf("%.0f%%", a.Confidence*100),
			})
		}
		d.Sections = append(d.Sections, s)
	}
	return d
}
