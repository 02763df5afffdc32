// Package pattern implements the pattern store: a UUID-keyed index of
// reusable reasoning templates with per-task-type duplicate suppression by
// embedding similarity, snapshotted through a pluggable key-value engine.
package pattern

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/sona-engine/agentdb/internal/errs"
	"github.com/sona-engine/agentdb/internal/kv"
	"github.com/sona-engine/agentdb/internal/logging"
	"github.com/sona-engine/agentdb/internal/mathx"
	"github.com/sona-engine/agentdb/pkg/models"
)

const (
	snapshotBucket = "patterns"
	snapshotKey    = "snapshot"
)

// AddParams is the input to Store.Add.
type AddParams struct {
	TaskType    string
	Template    string
	Embedding   []float32
	SuccessRate float64
	SonaWeight  float64
	Metadata    map[string]string
}

// Patch describes a partial update to an existing pattern; nil fields are
// left unchanged.
type Patch struct {
	TaskType    *string
	Template    *string
	Embedding   []float32
	SuccessRate *float64
	SonaWeight  *float64
	Metadata    map[string]string
}

// Store is the in-memory pattern index backed by a durable snapshot.
type Store struct {
	embeddingDim        int
	minSuccessRate      float64
	duplicateSimilarity float64
	highQuality         float64
	lowQuality          float64

	engine kv.Engine
	log    *log.Logger

	mu         sync.RWMutex
	patterns   map[string]models.Pattern
	byTaskType map[string]map[string]struct{}
}

// Config bundles the store's tunables, mirroring config.PatternConfig plus
// the boot-fixed embedding dimension.
type Config struct {
	EmbeddingDim        int
	MinSuccessRate      float64
	DuplicateSimilarity float64
	HighQualityThreshold float64
	LowQualityThreshold  float64
}

// New constructs a Store backed by engine, loading any existing snapshot.
func New(cfg Config, engine kv.Engine, logger *log.Logger) (*Store, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	s := &Store{
		embeddingDim:        cfg.EmbeddingDim,
		minSuccessRate:      cfg.MinSuccessRate,
		duplicateSimilarity: cfg.DuplicateSimilarity,
		highQuality:         cfg.HighQualityThreshold,
		lowQuality:          cfg.LowQualityThreshold,
		engine:              engine,
		log:                 logger,
		patterns:            make(map[string]models.Pattern),
		byTaskType:          make(map[string]map[string]struct{}),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	buf, ok, err := s.engine.Get(snapshotBucket, snapshotKey)
	if err != nil {
		return fmt.Errorf("load pattern snapshot: %w", err)
	}
	if !ok {
		return nil
	}
	var patterns []models.Pattern
	if err := json.Unmarshal(buf, &patterns); err != nil {
		return fmt.Errorf("unmarshal pattern snapshot: %w", err)
	}
	for _, p := range patterns {
		s.patterns[p.ID] = p
		s.indexTaskType(p.TaskType, p.ID)
	}
	return nil
}

func (s *Store) indexTaskType(taskType, id string) {
	set, ok := s.byTaskType[taskType]
	if !ok {
		set = make(map[string]struct{})
		s.byTaskType[taskType] = set
	}
	set[id] = struct{}{}
}

func (s *Store) unindexTaskType(taskType, id string) {
	if set, ok := s.byTaskType[taskType]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(s.byTaskType, taskType)
		}
	}
}

// snapshotLocked persists the full pattern set with bounded retry. Callers
// must hold s.mu (read or write).
func (s *Store) snapshotLocked() error {
	list := make([]models.Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		list = append(list, p)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })

	buf, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("marshal pattern snapshot: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		if attempt > 0 {
			time.Sleep(time.Duration(attempt) * 20 * time.Millisecond)
		}
		if lastErr = s.engine.Put(snapshotBucket, snapshotKey, buf); lastErr == nil {
			return nil
		}
	}
	return fmt.Errorf("%w: persist pattern snapshot: %v", errs.ErrIO, lastErr)
}

// Add validates and inserts a new pattern, rejecting a success rate below
// the minimum, a mismatched embedding dimension, or a near-duplicate within
// the same task type.
func (s *Store) Add(p AddParams) (models.Pattern, error) {
	if p.SuccessRate < s.minSuccessRate {
		return models.Pattern{}, fmt.Errorf("%w: success rate %.3f below minimum threshold %.3f", errs.ErrValidation, p.SuccessRate, s.minSuccessRate)
	}
	if len(p.Embedding) != s.embeddingDim {
		return models.Pattern{}, fmt.Errorf("%w: embedding has %d dims, want %d", errs.ErrValidation, len(p.Embedding), s.embeddingDim)
	}

	embedding := mathx.Normalize(p.Embedding)
	sonaWeight := p.SonaWeight
	if sonaWeight == 0 {
		sonaWeight = 1.0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if dupID, sim, dup := s.findDuplicateLocked(p.TaskType, embedding); dup {
		return models.Pattern{}, fmt.Errorf("%w: duplicate of %s (cosine similarity %.3f)", errs.ErrValidation, dupID, sim)
	}

	now := time.Now().UnixMilli()
	rec := models.Pattern{
		ID:          uuid.NewString(),
		TaskType:    p.TaskType,
		Template:    p.Template,
		Embedding:   embedding,
		SuccessRate: p.SuccessRate,
		SonaWeight:  sonaWeight,
		UsageCount:  0,
		CreatedAt:   now,
		UpdatedAt:   now,
		Metadata:    p.Metadata,
	}
	s.patterns[rec.ID] = rec
	s.indexTaskType(rec.TaskType, rec.ID)

	if err := s.snapshotLocked(); err != nil {
		delete(s.patterns, rec.ID)
		s.unindexTaskType(rec.TaskType, rec.ID)
		return models.Pattern{}, err
	}
	return rec, nil
}

func (s *Store) findDuplicateLocked(taskType string, embedding []float32) (id string, similarity float64, found bool) {
	for candidateID := range s.byTaskType[taskType] {
		candidate := s.patterns[candidateID]
		sim := mathx.CosineSimilarity(candidate.Embedding, embedding)
		if sim > s.duplicateSimilarity {
			return candidateID, sim, true
		}
	}
	return "", 0, false
}

// Update applies patch to an existing pattern, re-running duplicate
// detection if the embedding or task type changes, and re-indexing the
// task-type set when it changes.
func (s *Store) Update(id string, patch Patch) (models.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.patterns[id]
	if !ok {
		return models.Pattern{}, fmt.Errorf("%w: pattern %s", errs.ErrNotFound, id)
	}

	newTaskType := rec.TaskType
	if patch.TaskType != nil {
		newTaskType = *patch.TaskType
	}
	newEmbedding := rec.Embedding
	if patch.Embedding != nil {
		if len(patch.Embedding) != s.embeddingDim {
			return models.Pattern{}, fmt.Errorf("%w: embedding has %d dims, want %d", errs.ErrValidation, len(patch.Embedding), s.embeddingDim)
		}
		newEmbedding = mathx.Normalize(patch.Embedding)
	}

	if patch.Embedding != nil || (patch.TaskType != nil && newTaskType != rec.TaskType) {
		for candidateID := range s.byTaskType[newTaskType] {
			if candidateID == id {
				continue
			}
			sim := mathx.CosineSimilarity(s.patterns[candidateID].Embedding, newEmbedding)
			if sim > s.duplicateSimilarity {
				return models.Pattern{}, fmt.Errorf("%w: duplicate of %s (cosine similarity %.3f)", errs.ErrValidation, candidateID, sim)
			}
		}
	}

	if patch.SuccessRate != nil {
		if *patch.SuccessRate < s.minSuccessRate {
			return models.Pattern{}, fmt.Errorf("%w: success rate %.3f below minimum threshold %.3f", errs.ErrValidation, *patch.SuccessRate, s.minSuccessRate)
		}
		rec.SuccessRate = *patch.SuccessRate
	}
	if patch.Template != nil {
		rec.Template = *patch.Template
	}
	if patch.SonaWeight != nil {
		rec.SonaWeight = *patch.SonaWeight
	}
	if patch.Metadata != nil {
		rec.Metadata = patch.Metadata
	}
	if newTaskType != rec.TaskType {
		s.unindexTaskType(rec.TaskType, id)
		rec.TaskType = newTaskType
		s.indexTaskType(newTaskType, id)
	}
	rec.Embedding = newEmbedding
	rec.UpdatedAt = time.Now().UnixMilli()

	s.patterns[id] = rec
	if err := s.snapshotLocked(); err != nil {
		return models.Pattern{}, err
	}
	return rec, nil
}

// Delete removes a pattern from the store.
func (s *Store) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.patterns[id]
	if !ok {
		return fmt.Errorf("%w: pattern %s", errs.ErrNotFound, id)
	}
	delete(s.patterns, id)
	s.unindexTaskType(rec.TaskType, id)
	return s.snapshotLocked()
}

// Get returns a pattern by id, incrementing its usage count.
func (s *Store) Get(id string) (models.Pattern, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.patterns[id]
	if !ok {
		return models.Pattern{}, fmt.Errorf("%w: pattern %s", errs.ErrNotFound, id)
	}
	rec.UsageCount++
	s.patterns[id] = rec
	return rec, nil
}

// ByTaskType returns every pattern registered under taskType.
func (s *Store) ByTaskType(taskType string) []models.Pattern {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byTaskType[taskType]
	out := make([]models.Pattern, 0, len(ids))
	for id := range ids {
		out = append(out, s.patterns[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// All returns every pattern in the store.
func (s *Store) All() []models.Pattern {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Pattern, 0, len(s.patterns))
	for _, p := range s.patterns {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats computes summary statistics over the current pattern set.
func (s *Store) Stats() models.PatternStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := models.PatternStats{
		CountByTaskType: make(map[string]int),
	}
	var totalSuccess float64
	var mostUsed models.Pattern
	haveMostUsed := false

	for _, p := range s.patterns {
		stats.TotalPatterns++
		stats.CountByTaskType[p.TaskType]++
		totalSuccess += p.SuccessRate
		if p.SuccessRate > stats.HighestSuccessRate {
			stats.HighestSuccessRate = p.SuccessRate
		}
		if p.SuccessRate >= s.highQuality {
			stats.HighQualityCount++
		} else if p.SuccessRate < s.lowQuality {
			stats.LowQualityCount++
		}
		if !haveMostUsed || p.UsageCount > mostUsed.UsageCount {
			mostUsed = p
			haveMostUsed = true
		}
		stats.EstimatedBytes += estimatePatternBytes(p)
	}
	if stats.TotalPatterns > 0 {
		stats.AverageSuccess = totalSuccess / float64(stats.TotalPatterns)
	}
	if haveMostUsed {
		stats.MostUsedID = mostUsed.ID
	}
	return stats
}

func estimatePatternBytes(p models.Pattern) int64 {
	size := int64(len(p.ID) + len(p.TaskType) + len(p.Template))
	size += int64(len(p.Embedding) * 4)
	for k, v := range p.Metadata {
		size += int64(len(k) + len(v))
	}
	return size + 64 // fixed fields
}
