// Package trajectory implements the trajectory stream manager: a ring
// buffered in-memory window backed by versioned, checksummed binary data
// files, with bounded metadata and bounded query concurrency.
package trajectory

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/sona-engine/agentdb/internal/config"
	"github.com/sona-engine/agentdb/internal/errs"
	"github.com/sona-engine/agentdb/pkg/models"
)

// Manager owns the trajectory stream: the in-memory window, the pending
// writes queue awaiting flush, bounded metadata, and the on-disk data files
// and index.
type Manager struct {
	dir      string
	cfg      config.TrajectoryConfig
	log      *log.Logger
	readOnly bool

	mu       sync.RWMutex
	window   map[string]models.Trajectory
	pending  []models.Trajectory
	metadata map[string]models.TrajectoryMetadata
	index    *models.StreamIndex
	nextFile int
	rollback models.RollbackState

	flushMu  sync.Mutex
	querySem chan struct{}
}

// NewManager opens (or creates) a trajectory stream rooted at dir.
func NewManager(dir string, cfg config.TrajectoryConfig, logger *log.Logger, readOnly bool) (*Manager, error) {
	if logger == nil {
		logger = log.New(os.Stderr)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create trajectory dir: %v", errs.ErrIO, err)
	}

	idx, err := loadIndex(dir, cfg.FormatVersion)
	if err != nil {
		return nil, err
	}
	rb, err := loadRollbackState(dir)
	if err != nil {
		return nil, err
	}

	metadata := make(map[string]models.TrajectoryMetadata, len(idx.Metadata))
	for _, m := range idx.Metadata {
		metadata[m.ID] = m
	}

	nextFile := 0
	for _, df := range idx.DataFiles {
		if df.FileIndex >= nextFile {
			nextFile = df.FileIndex + 1
		}
	}

	sem := make(chan struct{}, maxInt(1, cfg.MaxConcurrentQueries))

	return &Manager{
		dir:      dir,
		cfg:      cfg,
		log:      logger,
		readOnly: readOnly,
		window:   make(map[string]models.Trajectory),
		pending:  nil,
		metadata: metadata,
		index:    idx,
		nextFile: nextFile,
		rollback: rb,
		querySem: sem,
	}, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Add inserts a trajectory into the memory window, evicting the oldest
// window entry into pending writes if the window overflows, and flushing
// when pending writes reach the configured batch size.
func (m *Manager) Add(t models.Trajectory) error {
	if m.readOnly {
		return errs.ErrReadOnly
	}
	if math.IsNaN(t.Quality) || math.IsInf(t.Quality, 0) {
		return fmt.Errorf("%w: trajectory %s has non-finite quality", errs.ErrValidation, t.ID)
	}

	m.mu.Lock()
	if _, exists := m.metadata[t.ID]; exists {
		m.mu.Unlock()
		return fmt.Errorf("%w: trajectory %s already exists", errs.ErrValidation, t.ID)
	}

	m.window[t.ID] = t
	m.metadata[t.ID] = models.TrajectoryMetadata{
		ID:         t.ID,
		Route:      t.Route,
		Quality:    t.Quality,
		CreatedAt:  t.CreatedAt,
		FileIndex:  -1,
		IsBaseline: t.IsBaseline,
	}
	m.index.TotalTrajectories++

	m.pruneMetadataLocked()

	var shouldFlush bool
	if len(m.window) > m.cfg.MemoryWindowSize {
		evictID := m.oldestWindowIDLocked()
		if evictID != "" {
			m.pending = append(m.pending, m.window[evictID])
			delete(m.window, evictID)
		}
	}
	if len(m.pending) >= m.cfg.BatchWriteSize {
		shouldFlush = true
	}
	m.mu.Unlock()

	if shouldFlush {
		return m.Flush()
	}
	return nil
}

func (m *Manager) oldestWindowIDLocked() string {
	var oldestID string
	var oldestAt int64
	first := true
	for id, t := range m.window {
		if first || t.CreatedAt < oldestAt {
			oldestID = id
			oldestAt = t.CreatedAt
			first = false
		}
	}
	return oldestID
}

// pruneMetadataLocked shrinks the metadata table to 90% of maxMetadataEntries
// when it overflows, evicting the oldest flushed, non-window entries first.
// Baselines are never evicted. Callers must hold m.mu.
func (m *Manager) pruneMetadataLocked() {
	if m.cfg.MaxMetadataEntries <= 0 || len(m.metadata) <= m.cfg.MaxMetadataEntries {
		return
	}
	target := int(float64(m.cfg.MaxMetadataEntries) * 0.9)

	type candidate struct {
		id        string
		createdAt int64
	}
	var candidates []candidate
	for id, meta := range m.metadata {
		if meta.IsBaseline {
			continue
		}
		if meta.FileIndex < 0 {
			continue // not yet flushed
		}
		if _, inWindow := m.window[id]; inWindow {
			continue
		}
		candidates = append(candidates, candidate{id, meta.CreatedAt})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].createdAt < candidates[j].createdAt })

	toRemove := len(m.metadata) - target
	for i := 0; i < toRemove && i < len(candidates); i++ {
		delete(m.metadata, candidates[i].id)
	}
}

// Get returns the trajectory with the given id, reading through to disk if
// it has already been flushed out of the memory window.
func (m *Manager) Get(id string) (models.Trajectory, error) {
	m.mu.RLock()
	if t, ok := m.window[id]; ok {
		m.mu.RUnlock()
		return t, nil
	}
	meta, ok := m.metadata[id]
	m.mu.RUnlock()

	if !ok || meta.FileIndex < 0 {
		return models.Trajectory{}, fmt.Errorf("%w: trajectory %s", errs.ErrNotFound, id)
	}

	m.querySem <- struct{}{}
	defer func() { <-m.querySem }()

	path := filepath.Join(m.dir, dataFileName(meta.FileIndex))
	buf, err := os.ReadFile(path)
	if err != nil {
		return models.Trajectory{}, fmt.Errorf("%w: read data file %s: %v", errs.ErrIO, path, err)
	}
	decoded, err := decodeFile(buf)
	if err != nil {
		return models.Trajectory{}, fmt.Errorf("decode data file %s: %w", path, err)
	}
	if decoded.ChecksumMismatch {
		m.log.Warn("checksum mismatch reading trajectory data file", "file", path)
	}
	for _, t := range decoded.Trajectories {
		if t.ID == id {
			return t, nil
		}
	}
	return models.Trajectory{}, fmt.Errorf("%w: trajectory %s", errs.ErrNotFound, id)
}

// Flush drains the memory window and any pending writes into a new data
// file. At most one flush runs at a time; concurrent callers wait on flushMu,
// a sync.Mutex, which does not guarantee that waiters acquire it in FIFO order.
func (m *Manager) Flush() error {
	if m.readOnly {
		return errs.ErrReadOnly
	}
	m.flushMu.Lock()
	defer m.flushMu.Unlock()

	m.mu.Lock()
	for id, t := range m.window {
		m.pending = append(m.pending, t)
		delete(m.window, id)
	}
	batch := m.pending
	m.pending = nil
	fileIndex := m.nextFile
	rollbackSnapshot := m.rollback
	m.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}
	sort.Slice(batch, func(i, j int) bool { return batch[i].CreatedAt < batch[j].CreatedAt })

	data, err := encodeFile(m.cfg.FormatVersion, batch, rollbackSnapshot, m.cfg.LZ4Compression)
	if err != nil {
		return fmt.Errorf("encode trajectory batch: %w", err)
	}

	path := filepath.Join(m.dir, dataFileName(fileIndex))
	if err := atomicWriteFile(path, data); err != nil {
		return fmt.Errorf("%w: write data file %s: %v", errs.ErrIO, path, err)
	}

	decoded, err := decodeFile(data)
	if err != nil {
		return fmt.Errorf("decode freshly written data file: %w", err)
	}

	m.mu.Lock()
	var oldest, newest int64
	for i, t := range batch {
		meta := m.metadata[t.ID]
		meta.FileIndex = fileIndex
		if i < len(decoded.Offsets) {
			meta.Offset = decoded.Offsets[i]
			meta.Size = decoded.Sizes[i]
		}
		m.metadata[t.ID] = meta
		if i == 0 || t.CreatedAt < oldest {
			oldest = t.CreatedAt
		}
		if i == 0 || t.CreatedAt > newest {
			newest = t.CreatedAt
		}
	}
	m.index.DataFiles = append(m.index.DataFiles, models.DataFileEntry{
		FileIndex:       fileIndex,
		TrajectoryCount: len(batch),
		SizeBytes:       int64(len(data)),
		Oldest:          oldest,
		Newest:          newest,
	})
	m.nextFile++
	m.syncIndexMetadataLocked()
	idx := m.index
	m.mu.Unlock()

	if err := saveIndex(m.dir, idx); err != nil {
		return err
	}
	return nil
}

// syncIndexMetadataLocked refreshes index.Metadata from the live metadata
// map. Callers must hold m.mu.
func (m *Manager) syncIndexMetadataLocked() {
	list := make([]models.TrajectoryMetadata, 0, len(m.metadata))
	for _, meta := range m.metadata {
		list = append(list, meta)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt < list[j].CreatedAt })
	m.index.Metadata = list
	m.index.TotalTrajectories = len(list)
}

// RecordRollback records a rollback to checkpointID, refusing to record the
// same checkpoint twice in a row (a rollback loop).
func (m *Manager) RecordRollback(checkpointID string) error {
	m.mu.Lock()
	if m.rollback.LastCheckpointID == checkpointID {
		m.mu.Unlock()
		return fmt.Errorf("%w: checkpoint %s", errs.ErrRollbackLoop, checkpointID)
	}
	m.rollback = models.RollbackState{
		LastCheckpointID: checkpointID,
		LastAt:           time.Now().UnixMilli(),
		Count:            m.rollback.Count + 1,
	}
	rb := m.rollback
	m.mu.Unlock()

	return saveRollbackState(m.dir, rb)
}

// Delete removes a trajectory from the window, pending queue, and metadata.
// Deleting a baseline requires force.
func (m *Manager) Delete(id string, force bool) error {
	if m.readOnly {
		return errs.ErrReadOnly
	}
	m.mu.Lock()

	meta, ok := m.metadata[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: trajectory %s", errs.ErrNotFound, id)
	}
	if meta.IsBaseline && !force {
		m.mu.Unlock()
		return fmt.Errorf("%w: trajectory %s is a baseline, deletion requires force", errs.ErrNotFound, id)
	}

	delete(m.window, id)
	for i, t := range m.pending {
		if t.ID == id {
			m.pending = append(m.pending[:i], m.pending[i+1:]...)
			break
		}
	}
	delete(m.metadata, id)
	m.syncIndexMetadataLocked()
	idx := m.index
	m.mu.Unlock()

	return saveIndex(m.dir, idx)
}

// Prune deletes trajectories matching filter, returning the count removed.
func (m *Manager) Prune(filter models.PruneFilter) (int, error) {
	m.mu.RLock()
	var matches []string
	for id, meta := range m.metadata {
		if meta.IsBaseline && filter.PreserveBaselines {
			continue
		}
		if filter.OlderThan != 0 && meta.CreatedAt >= filter.OlderThan {
			continue
		}
		if filter.HasQualityBelow && meta.Quality >= filter.QualityBelow {
			continue
		}
		if filter.Route != "" && meta.Route != filter.Route {
			continue
		}
		matches = append(matches, id)
	}
	m.mu.RUnlock()

	sort.Strings(matches)
	if filter.MaxDelete > 0 && len(matches) > filter.MaxDelete {
		matches = matches[:filter.MaxDelete]
	}

	count := 0
	for _, id := range matches {
		if err := m.Delete(id, true); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// Stats summarizes the stream for the debug/ops surface.
type Stats struct {
	WindowSize        int
	PendingWrites     int
	TotalTrajectories int
	DataFiles         int
	MetadataEntries   int
}

func (m *Manager) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		WindowSize:        len(m.window),
		PendingWrites:     len(m.pending),
		TotalTrajectories: m.index.TotalTrajectories,
		DataFiles:         len(m.index.DataFiles),
		MetadataEntries:   len(m.metadata),
	}
}
