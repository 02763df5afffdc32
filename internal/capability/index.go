package capability

import (
	"fmt"
	"time"

	"github.com/charmbracelet/log"

	"github.com/sona-engine/agentdb/internal/logging"
	"github.com/sona-engine/agentdb/pkg/models"
)

// Embedder produces a task/agent embedding from text, e.g. an agent's
// description plus keywords. Kept as an interface so callers can plug in
// whatever embedding backend they have without this package depending on it.
type Embedder interface {
	Embed(text string) ([]float32, error)
}

// Index owns the built-and-cached capability list the routing engine scores
// candidates against.
type Index struct {
	agentsDir string
	cache     *Cache
	embedder  Embedder
	log       *log.Logger
}

// NewIndex constructs an Index loading agent definitions from agentsDir and
// caching the built result under cacheDir, validated against
// cacheFormatVersion.
func NewIndex(agentsDir, cacheDir string, embeddingDim, cacheFormatVersion int, embedder Embedder, logger *log.Logger) *Index {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Index{
		agentsDir: agentsDir,
		cache:     NewCache(cacheDir, embeddingDim, cacheFormatVersion),
		embedder:  embedder,
		log:       logger,
	}
}

// Load returns the capability index, serving from cache when the on-disk
// agent definitions haven't changed since the cache was built, else
// rebuilding (parsing every definition and re-embedding it).
func (idx *Index) Load(nowUnixMilli int64) ([]models.AgentCapability, error) {
	defs, err := LoadDefinitions(idx.agentsDir)
	if err != nil {
		return nil, fmt.Errorf("load agent definitions: %w", err)
	}
	hash := ContentHash(defs)

	if cached, ok, err := idx.cache.Load(hash); err == nil && ok {
		return cached, nil
	} else if err != nil {
		idx.log.Warn("capability cache read failed, rebuilding", "err", err)
	}

	entries, err := idx.build(defs, nowUnixMilli)
	if err != nil {
		return nil, err
	}
	if err := idx.cache.Save(hash, entries, nowUnixMilli); err != nil {
		idx.log.Warn("capability cache save failed", "err", err)
	}
	return entries, nil
}

// Rebuild forces a fresh build regardless of whether the on-disk agent
// definitions changed, used by the admin-gated rebuild endpoint.
func (idx *Index) Rebuild(nowUnixMilli int64) ([]models.AgentCapability, error) {
	if err := idx.cache.Invalidate(); err != nil {
		idx.log.Warn("capability cache invalidate failed", "err", err)
	}
	return idx.Load(nowUnixMilli)
}

func (idx *Index) build(defs []Definition, nowUnixMilli int64) ([]models.AgentCapability, error) {
	entries := make([]models.AgentCapability, 0, len(defs))
	for _, d := range defs {
		var embedding []float32
		if idx.embedder != nil {
			var err error
			embedding, err = idx.embedder.Embed(d.Description)
			if err != nil {
				return nil, fmt.Errorf("embed agent %s: %w", d.Key, err)
			}
		}
		entries = append(entries, models.AgentCapability{
			Key:         d.Key,
			Name:        d.Name,
			Description: d.Description,
			Domains:     d.Domains,
			Keywords:    d.Keywords,
			Embedding:   embedding,
			IndexedAt:   nowUnixMilli,
		})
	}
	return entries, nil
}

// Now is a small seam so callers (and tests) can avoid depending on
// time.Now() directly when stamping cache metadata.
func Now() int64 { return time.Now().UnixMilli() }
