package capability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sona-engine/agentdb/pkg/models"
)

const sampleAgent = `---
name: Reviewer
description: Reviews pull requests for correctness
domains: [code-review]
keywords: [review, diff]
key: reviewer
---

Body content:
- inspect diffs
- flag issues
`

func writeAgent(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write agent file: %v", err)
	}
}

func TestLoadDefinitionsParsesFrontmatter(t *testing.T) {
	dir := t.TempDir()
	writeAgent(t, dir, "reviewer.agent.md", sampleAgent)

	defs, err := LoadDefinitions(dir)
	if err != nil {
		t.Fatalf("LoadDefinitions: %v", err)
	}
	if len(defs) != 1 {
		t.Fatalf("expected 1 definition, got %d", len(defs))
	}
	d := defs[0]
	if d.Key != "reviewer" || d.Name != "Reviewer" {
		t.Errorf("unexpected definition: %+v", d)
	}
	if len(d.Domains) != 1 || d.Domains[0] != "code-review" {
		t.Errorf("expected domains [code-review], got %v", d.Domains)
	}
	found := map[string]bool{}
	for _, k := range d.Keywords {
		found[k] = true
	}
	if !found["review"] || !found["diff"] || !found["inspect"] {
		t.Errorf("expected merged keywords to include declared + body bullets, got %v", d.Keywords)
	}
}

func TestLoadDefinitionsRejectsMissingDelimiters(t *testing.T) {
	dir := t.TempDir()
	writeAgent(t, dir, "bad.agent.md", "no frontmatter here")

	if _, err := LoadDefinitions(dir); err == nil {
		t.Error("expected error for missing frontmatter delimiters")
	}
}

func TestContentHashChangesWithContent(t *testing.T) {
	defs := []Definition{{Path: "a.agent.md", Content: "one"}}
	h1 := ContentHash(defs)
	defs[0].Content = "two"
	h2 := ContentHash(defs)
	if h1 == h2 {
		t.Error("expected content hash to change when content changes")
	}
}

func TestContentHashStableUnderReordering(t *testing.T) {
	a := []Definition{{Path: "a.agent.md", Content: "x"}, {Path: "b.agent.md", Content: "y"}}
	b := []Definition{{Path: "b.agent.md", Content: "y"}, {Path: "a.agent.md", Content: "x"}}
	if ContentHash(a) != ContentHash(b) {
		t.Error("expected hash to be order-independent (sorted by path internally)")
	}
}

func TestCacheRoundTrip(t *testing.T) {
	dir := t.TempDir()
	c := NewCache(dir, 3, 0)
	entries := []models.AgentCapability{{Key: "a", Embedding: []float32{1, 2, 3}}}

	if err := c.Save("hash1", entries, 1000); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, ok, err := c.Load("hash1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !ok {
		t.Fatal("expected cache hit with matching hash")
	}
	if len(loaded) != 1 || loaded[0].Key != "a" {
		t.Errorf("unexpected loaded entries: %+v", loaded)
	}
}

func TestCacheMissOnHashMismatch(t *testing.T) {
	dir := t.TempDir()
	c := NewCache(dir, 3, 0)
	c.Save("hash1", []models.AgentCapability{{Key: "a", Embedding: []float32{1, 2, 3}}}, 1000)

	_, ok, err := c.Load("hash2")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Error("expected cache miss on hash mismatch")
	}
}

func TestCacheMissOnWrongEmbeddingDimension(t *testing.T) {
	dir := t.TempDir()
	c := NewCache(dir, 3, 0)
	c.Save("hash1", []models.AgentCapability{{Key: "a", Embedding: []float32{1, 2}}}, 1000)

	_, ok, err := c.Load("hash1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Error("expected cache miss when embedding dimension mismatches")
	}
}

func TestCacheMissWithoutPriorSave(t *testing.T) {
	dir := t.TempDir()
	c := NewCache(dir, 3, 0)
	_, ok, err := c.Load("anything")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Error("expected cache miss when no cache files exist")
	}
}

func TestSaveCleansStaleTmpFiles(t *testing.T) {
	dir := t.TempDir()
	stale := filepath.Join(dir, "hash.txt.12345.tmp")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(stale, []byte("stale"), 0o644); err != nil {
		t.Fatal(err)
	}

	c := NewCache(dir, 3, 0)
	if err := c.Save("hash1", []models.AgentCapability{{Key: "a", Embedding: []float32{1, 2, 3}}}, 1000); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(stale); !os.IsNotExist(err) {
		t.Error("expected stale tmp file to be cleaned up on Save")
	}
}

type stubEmbedder struct{ dim int }

func (s stubEmbedder) Embed(text string) ([]float32, error) {
	return make([]float32, s.dim), nil
}

func TestCacheInvalidateForcesNextLoadMiss(t *testing.T) {
	dir := t.TempDir()
	c := NewCache(dir, 3, 0)
	if err := c.Save("hash1", []models.AgentCapability{{Key: "a", Embedding: []float32{1, 2, 3}}}, 1000); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := c.Invalidate(); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}

	_, ok, err := c.Load("hash1")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if ok {
		t.Error("expected cache miss after Invalidate even with matching hash")
	}
}

func TestCacheInvalidateWithoutPriorSaveIsNotAnError(t *testing.T) {
	c := NewCache(t.TempDir(), 3, 0)
	if err := c.Invalidate(); err != nil {
		t.Fatalf("expected Invalidate on an empty cache to be a no-op, got: %v", err)
	}
}

func TestIndexRebuildForcesFreshBuild(t *testing.T) {
	agentsDir := t.TempDir()
	cacheDir := t.TempDir()
	writeAgent(t, agentsDir, "reviewer.agent.md", sampleAgent)

	idx := NewIndex(agentsDir, cacheDir, 4, 0, stubEmbedder{dim: 4}, nil)
	if _, err := idx.Load(1000); err != nil {
		t.Fatalf("initial Load: %v", err)
	}

	entries, err := idx.Rebuild(2000)
	if err != nil {
		t.Fatalf("Rebuild: %v", err)
	}
	if len(entries) != 1 || entries[0].Key != "reviewer" {
		t.Errorf("expected rebuild to re-produce the agent entry, got %+v", entries)
	}
}

func TestIndexLoadBuildsAndCaches(t *testing.T) {
	agentsDir := t.TempDir()
	cacheDir := t.TempDir()
	writeAgent(t, agentsDir, "reviewer.agent.md", sampleAgent)

	idx := NewIndex(agentsDir, cacheDir, 4, 0, stubEmbedder{dim: 4}, nil)
	entries, err := idx.Load(1000)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}

	entries2, err := idx.Load(2000)
	if err != nil {
		t.Fatalf("second Load: %v", err)
	}
	if len(entries2) != 1 || entries2[0].Key != entries[0].Key {
		t.Errorf("expected cached entries to match rebuild, got %+v", entries2)
	}
}
