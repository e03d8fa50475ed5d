package markdown

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Frontmatter is the YAML header written above a rendered digest.
type Frontmatter struct {
	ID          string    `yaml:"id"`
	Title       string    `yaml:"title"`
	Categories  []string  `yaml:"categories"`
	GeneratedAt time.Time `yaml:"generated_at"`
	Degraded    []string  `yaml:"degraded,omitempty"`
}

// Document is a Markdown file with YAML frontmatter.
type Document struct {
	Meta Frontmatter
	Body string
}

// Bytes encodes the document with its frontmatter between two "---" lines.
func (d Document) Bytes() ([]byte, error) {
	fm, err := yaml.Marshal(d.Meta)
	if err != nil {
		return nil, fmt.Errorf("encode frontmatter: %w", err)
	}
	var buf bytes.Buffer
	buf.WriteString("---\n")
	buf.Write(fm)
	buf.WriteString("---\n\n")
	buf.WriteString(d.Body)
	return buf.Bytes(), nil
}

// WriteFile replaces path atomically.
func WriteFile(path string, d Document) error {
	b, err := d.Bytes()
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".tmp-digest-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ParseFile reads a Markdown file and extracts YAML frontmatter and body.
// Frontmatter is expected at the top of the file between two lines containing only "---".
func ParseFile(path string) (Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return Document{}, err
	}
	defer f.Close()
	return Parse(f)
}

func Parse(r io.Reader) (Document, error) {
	br := bufio.NewReader(r)
	peek, err := br.Peek(3)
	if err != nil && !errors.Is(err, io.EOF) {
		return Document{}, err
	}
	hasFM := string(peek) == "---"

	var fmBuf, bodyBuf strings.Builder
	if hasFM {
		if _, err := br.ReadString('\n'); err != nil && !errors.Is(err, io.EOF) {
			return Document{}, err
		}
		for {
			l, err := br.ReadString('\n')
			if err != nil && !errors.Is(err, io.EOF) {
				return Document{}, err
			}
			if strings.TrimSpace(l) == "---" {
				break
			}
			fmBuf.WriteString(l)
			if errors.Is(err, io.EOF) {
				break
			}
		}
		// one blank line separates frontmatter from body
		if next, err := br.Peek(1); err == nil && next[0] == '\n' {
			br.ReadByte()
		}
	}
	if _, err := io.Copy(&bodyBuf, br); err != nil {
		return Document{}, err
	}

	d := Document{Body: bodyBuf.String()}
	if hasFM {
		if err := yaml.Unmarshal([]byte(fmBuf.String()), &d.Meta); err != nil {
			return Document{}, fmt.Errorf("decode frontmatter: %w", err)
		}
	}
	return d, nil
}
