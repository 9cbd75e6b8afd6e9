// Package knowledge implements the Knowledge Loader (C6): parsing a
// directory of Markdown files with YAML front matter into Records fed
// through sync-engine-style reconciliation against kind=knowledge.
package knowledge

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kart-io/assist-x/internal/model"
)

var reHeading = regexp.MustCompile(`^#\s+(.+)$`)
var reSlugInvalid = regexp.MustCompile(`[^a-z0-9]+`)

type frontMatter struct {
	Category string `yaml:"category"`
}

// Load parses every *.md file under dir into Records, one per
// top-level (`# Heading`) section.
func Load(dir string) ([]*model.Record, error) {
	var out []*model.Record

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("knowledge: read dir: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		records, err := loadFile(path)
		if err != nil {
			return nil, fmt.Errorf("knowledge: %s: %w", entry.Name(), err)
		}
		out = append(out, records...)
	}
	return out, nil
}

func loadFile(path string) ([]*model.Record, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	fm, body := splitFrontMatter(string(data))
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	sections := splitSections(body)

	out := make([]*model.Record, 0, len(sections))
	for i, sec := range sections {
		out = append(out, &model.Record{
			ID:    "kb:" + stem + ":" + slugify(sec.heading),
			Kind:  model.KindKnowledge,
			Title: sec.heading,
			Body:  sec.body,
			Attributes: model.Attributes{
				"category": fm.Category,
				"file":     stem,
				"order":    i,
			},
			Active: true,
		})
	}
	return out, nil
}

// splitFrontMatter separates a leading `---\n...\n---` YAML block from
// the remaining Markdown body.
func splitFrontMatter(content string) (frontMatter, string) {
	var fm frontMatter
	if !strings.HasPrefix(content, "---") {
		return fm, content
	}

	rest := content[3:]
	end := strings.Index(rest, "\n---")
	if end == -1 {
		return fm, content
	}

	yamlBlock := rest[:end]
	_ = yaml.Unmarshal([]byte(yamlBlock), &fm)

	bodyStart := strings.Index(rest[end+4:], "\n")
	if bodyStart == -1 {
		return fm, ""
	}
	return fm, rest[end+4+bodyStart+1:]
}

type section struct {
	heading string
	body    string
}

// splitSections breaks a Markdown body into one section per top-level
// `# Heading`.
func splitSections(body string) []section {
	var sections []section
	var current *section
	var buf strings.Builder

	scanner := bufio.NewScanner(strings.NewReader(body))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if m := reHeading.FindStringSubmatch(line); m != nil {
			if current != nil {
				current.body = strings.TrimSpace(buf.String())
				sections = append(sections, *current)
			}
			current = &section{heading: strings.TrimSpace(m[1])}
			buf.Reset()
			continue
		}
		if current != nil {
			buf.WriteString(line)
			buf.WriteString("\n")
		}
	}
	if current != nil {
		current.body = strings.TrimSpace(buf.String())
		sections = append(sections, *current)
	}
	return sections
}

func slugify(heading string) string {
	lower := strings.ToLower(heading)
	slug := reSlugInvalid.ReplaceAllString(lower, "-")
	return strings.Trim(slug, "-")
}
