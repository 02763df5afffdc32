// Package capability builds and caches the agent capability index: parsing
// agent definition files, content-addressing the result, and validating a
// prior cache before trusting it.
package capability

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/sona-engine/agentdb/internal/errs"
)

// Definition is one agent's YAML-frontmatter metadata plus its markdown
// body, parsed from a ".agent.md" file.
type Definition struct {
	Key         string
	Name        string
	Description string
	Domains     []string
	Keywords    []string
	Path        string
	Content     string
}

type frontmatter struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Domains     []string `yaml:"domains"`
	Keywords    []string `yaml:"keywords"`
	Key         string   `yaml:"key"`
}

// LoadDefinitions reads every "*.agent.md" file in dir, sorted by path for
// deterministic hashing, parsing YAML frontmatter delimited by "---" lines.
func LoadDefinitions(dir string) ([]Definition, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read agents dir: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".agent.md") {
			continue
		}
		paths = append(paths, filepath.Join(dir, e.Name()))
	}
	sort.Strings(paths)

	defs := make([]Definition, 0, len(paths))
	for _, p := range paths {
		d, err := loadOne(p)
		if err != nil {
			return nil, fmt.Errorf("load %s: %w", p, err)
		}
		defs = append(defs, d)
	}
	return defs, nil
}

func loadOne(path string) (Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Definition{}, err
	}
	meta, body, err := parseFrontmatter(string(raw))
	if err != nil {
		return Definition{}, err
	}
	key := meta.Key
	if key == "" {
		key = strings.TrimSuffix(filepath.Base(path), ".agent.md")
	}
	return Definition{
		Key:         key,
		Name:        meta.Name,
		Description: meta.Description,
		Domains:     meta.Domains,
		Keywords:    extractKeywords(meta.Keywords, body),
		Path:        path,
		Content:     string(raw),
	}, nil
}

var frontmatterDelim = regexp.MustCompile(`(?m)^---\s*$`)

func parseFrontmatter(content string) (frontmatter, string, error) {
	locs := frontmatterDelim.FindAllStringIndex(content, -1)
	if len(locs) < 2 {
		return frontmatter{}, "", fmt.Errorf("%w: missing frontmatter delimiters", errs.ErrValidation)
	}
	yamlBlock := content[locs[0][1]:locs[1][0]]
	body := content[locs[1][1]:]

	var fm frontmatter
	if err := yaml.Unmarshal([]byte(yamlBlock), &fm); err != nil {
		return frontmatter{}, "", fmt.Errorf("%w: parse frontmatter: %v", errs.ErrValidation, err)
	}
	return fm, body, nil
}

// extractKeywords merges explicit frontmatter keywords with every word
// (lowercased) found in the markdown body's bullet lines, deduplicated.
func extractKeywords(declared []string, body string) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(w string) {
		w = strings.ToLower(strings.TrimSpace(w))
		if w == "" {
			return
		}
		if _, ok := seen[w]; ok {
			return
		}
		seen[w] = struct{}{}
		out = append(out, w)
	}
	for _, k := range declared {
		add(k)
	}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "-") {
			continue
		}
		for _, word := range strings.Fields(strings.TrimPrefix(line, "-")) {
			add(strings.Trim(word, ".,:;()"))
		}
	}
	return out
}
