package markdown

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestWriteThenParse(t *testing.T) {
	path := filepath.Join(t.TempDir(), "20261019_ai_us.md")
	in := Document{
		Meta: Frontmatter{
			ID:          "nl-42",
			Title:       "Market Brief 2026-10-19",
			Categories:  []string{"ai", "us"},
			GeneratedAt: time.Date(2026, 10, 19, 6, 0, 0, 0, time.UTC),
			Degraded:    []string{"ai"},
		},
		Body: "# Market Brief\n\n## AI\n\nBody paragraph here.\n",
	}
	if err := WriteFile(path, in); err != nil {
		t.Fatalf("write: %v", err)
	}
	doc, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile error: %v", err)
	}
	if doc.Meta.ID != "nl-42" || doc.Meta.Title != in.Meta.Title {
		t.Errorf("frontmatter mismatch: %+v", doc.Meta)
	}
	if strings.Join(doc.Meta.Categories, ",") != "ai,us" || !doc.Meta.GeneratedAt.Equal(in.Meta.GeneratedAt) {
		t.Errorf("frontmatter mismatch: %+v", doc.Meta)
	}
	if doc.Body != in.Body {
		t.Errorf("body mismatch.\nwant: %q\n got: %q", in.Body, doc.Body)
	}
}

func TestParseWithoutFrontmatter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "no_fm.md")
	body := "# Hello\n\nNo frontmatter here.\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}
	doc, err := ParseFile(path)
	if err != nil {
		t.Fatalf("ParseFile error: %v", err)
	}
	if doc.Meta.ID != "" {
		t.Fatalf("expected empty frontmatter, got: %+v", doc.Meta)
	}
	if doc.Body != body {
		t.Errorf("body mismatch.\nwant: %q\n got: %q", body, doc.Body)
	}
}

func TestParseBadFrontmatter(t *testing.T) {
	_, err := Parse(strings.NewReader("---\nid: [unterminated\n---\nbody\n"))
	if err == nil {
		t.Fatal("expected a frontmatter error")
	}
}
