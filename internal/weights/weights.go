// Package weights owns the GNN's per-layer parameter tensors: seeded
// initialization, atomic checksummed binary persistence, checkpoint
// rotation, and the validate-before-commit update discipline spec.md
// requires of every weight mutation.
package weights

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/sona-engine/agentdb/internal/errs"
	"github.com/sona-engine/agentdb/pkg/models"
)

type layerState struct {
	mu      sync.RWMutex
	data    [][]float32
	meta    models.WeightMeta
	updates int
}

// Manager owns every named layer's weight tensor plus checkpoint lifecycle.
// All mutation goes through UpdateWeights, which validates a candidate
// tensor and rolls back to the previous value on failure rather than ever
// committing a NaN/Inf weight.
type Manager struct {
	dir                       string
	checkpointDir             string
	checkpointIntervalUpdates int
	maxCheckpoints            int
	log                       *log.Logger

	mu     sync.RWMutex
	layers map[string]*layerState
}

// NewManager constructs a Manager rooted at dir (holding "<layer>.weights.bin"
// and "<layer>.weights.meta.json" per layer) with checkpoints under
// dir/checkpoints.
func NewManager(dir string, checkpointIntervalUpdates, maxCheckpoints int, logger *log.Logger) *Manager {
	if logger == nil {
		logger = log.New(os.Stderr)
	}
	return &Manager{
		dir:                       dir,
		checkpointDir:             filepath.Join(dir, "checkpoints"),
		checkpointIntervalUpdates: checkpointIntervalUpdates,
		maxCheckpoints:            maxCheckpoints,
		log:                       logger,
		layers:                    make(map[string]*layerState),
	}
}

// Initialize creates layerID's tensor with the given scheme, seed, and
// shape, if it does not already exist in memory.
func (m *Manager) Initialize(layerID string, rows, cols int, init models.Initialization, seed *int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.layers[layerID]; ok {
		return fmt.Errorf("%w: layer %s already initialized", errs.ErrValidation, layerID)
	}
	data := initTensor(rows, cols, init, seed)
	m.layers[layerID] = &layerState{
		data: data,
		meta: models.WeightMeta{
			Version:        1,
			Timestamp:      nowISO(),
			NumRows:        rows,
			NumCols:        cols,
			TotalParams:    rows * cols,
			Initialization: init,
			Seed:           seed,
		},
	}
	return nil
}

// Get returns a deep copy of layerID's current tensor.
func (m *Manager) Get(layerID string) ([][]float32, error) {
	st, err := m.layer(layerID)
	if err != nil {
		return nil, err
	}
	st.mu.RLock()
	defer st.mu.RUnlock()
	return cloneTensor(st.data), nil
}

// Set overwrites layerID's tensor after validating it, creating the layer
// if it does not yet exist.
func (m *Manager) Set(layerID string, data [][]float32) error {
	if _, err := validate(data, 0, 0); err != nil {
		return err
	}
	m.mu.Lock()
	st, ok := m.layers[layerID]
	if !ok {
		st = &layerState{}
		m.layers[layerID] = st
	}
	m.mu.Unlock()

	st.mu.Lock()
	defer st.mu.Unlock()
	st.data = cloneTensor(data)
	return nil
}

// UpdateWeights applies delta to layerID's tensor under a deep-backup and
// rollback: the candidate is validated before it replaces the live tensor,
// so a NaN/Inf gradient can never corrupt stored weights.
func (m *Manager) UpdateWeights(layerID string, delta [][]float32) ([]ValidationWarning, error) {
	st, err := m.layer(layerID)
	if err != nil {
		return nil, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if len(delta) != len(st.data) {
		return nil, fmt.Errorf("%w: delta has %d rows, layer %s has %d", errs.ErrValidation, len(delta), layerID, len(st.data))
	}
	backup := cloneTensor(st.data)
	candidate := cloneTensor(st.data)
	for r := range candidate {
		if len(delta[r]) != len(candidate[r]) {
			return nil, fmt.Errorf("%w: delta row %d has %d cols, layer has %d", errs.ErrValidation, r, len(delta[r]), len(candidate[r]))
		}
		for c := range candidate[r] {
			candidate[r][c] += delta[r][c]
		}
	}

	warnings, err := validate(candidate, len(backup), len(backup[0]))
	if err != nil {
		st.data = backup
		m.log.Warn("weight update rejected, rolled back", "layer", layerID, "err", err)
		return nil, err
	}

	st.data = candidate
	st.updates++
	if len(warnings) > 0 {
		m.log.Warn("weight update produced anomalies", "layer", layerID, "warnings", warnings)
	}

	if m.checkpointIntervalUpdates > 0 && st.updates%m.checkpointIntervalUpdates == 0 {
		if _, err := saveCheckpoint(m.checkpointDir, layerID, candidate, time.Now().UnixNano(), m.maxCheckpoints); err != nil {
			m.log.Warn("checkpoint save failed", "layer", layerID, "err", err)
		}
	}

	return warnings, nil
}

// Save persists layerID's current tensor atomically, writing both the
// binary and its metadata sidecar.
func (m *Manager) Save(layerID string) error {
	st, err := m.layer(layerID)
	if err != nil {
		return err
	}
	if err := ensureDir(m.dir); err != nil {
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	checksum, err := atomicSaveTensor(layerBinPath(m.dir, layerID), st.data)
	if err != nil {
		return fmt.Errorf("save layer %s: %w", layerID, err)
	}
	st.meta.Checksum = checksum
	st.meta.Timestamp = nowISO()
	st.meta.NumRows = len(st.data)
	if len(st.data) > 0 {
		st.meta.NumCols = len(st.data[0])
	}
	st.meta.TotalParams = st.meta.NumRows * st.meta.NumCols

	metaBuf, err := json.MarshalIndent(st.meta, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal metadata for layer %s: %w", layerID, err)
	}
	if err := atomicWriteFile(layerMetaPath(m.dir, layerID), metaBuf); err != nil {
		return fmt.Errorf("save metadata for layer %s: %w", layerID, err)
	}
	return nil
}

// Load reads layerID's tensor and metadata from disk, replacing whatever is
// in memory. When validateShape is true, the decoded tensor is also run
// through validate.
func (m *Manager) Load(layerID string, validateShape bool) error {
	buf, err := os.ReadFile(layerBinPath(m.dir, layerID))
	if err != nil {
		return fmt.Errorf("%w: load layer %s: %v", errs.ErrIO, layerID, err)
	}
	data, err := decodeTensor(buf)
	if err != nil {
		return fmt.Errorf("decode layer %s: %w", layerID, err)
	}
	if validateShape {
		if _, err := validate(data, 0, 0); err != nil {
			return err
		}
	}

	meta := models.WeightMeta{}
	if metaBuf, err := os.ReadFile(layerMetaPath(m.dir, layerID)); err == nil {
		_ = json.Unmarshal(metaBuf, &meta)
	}

	m.mu.Lock()
	m.layers[layerID] = &layerState{data: data, meta: meta}
	m.mu.Unlock()
	return nil
}

// Delete removes layerID from memory and disk, including its checkpoints.
func (m *Manager) Delete(layerID string) error {
	m.mu.Lock()
	delete(m.layers, layerID)
	m.mu.Unlock()

	for _, path := range []string{layerBinPath(m.dir, layerID), layerMetaPath(m.dir, layerID)} {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete %s: %w", path, err)
		}
	}
	names, err := listCheckpoints(m.checkpointDir, layerID)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := os.Remove(filepath.Join(m.checkpointDir, name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("delete checkpoint %s: %w", name, err)
		}
	}
	return nil
}

// RestoreCheckpoint loads a named checkpoint (or the most recent one if name
// is empty) into layerID, replacing its live tensor.
func (m *Manager) RestoreCheckpoint(layerID, name string) error {
	data, err := restoreCheckpoint(m.checkpointDir, layerID, name)
	if err != nil {
		return err
	}
	st, err := m.layer(layerID)
	if err != nil {
		st = &layerState{}
		m.mu.Lock()
		m.layers[layerID] = st
		m.mu.Unlock()
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	st.data = data
	return nil
}

func (m *Manager) layer(layerID string) (*layerState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.layers[layerID]
	if !ok {
		return nil, fmt.Errorf("%w: layer %s", errs.ErrNotFound, layerID)
	}
	return st, nil
}

func cloneTensor(data [][]float32) [][]float32 {
	out := make([][]float32, len(data))
	for i, row := range data {
		out[i] = make([]float32, len(row))
		copy(out[i], row)
	}
	return out
}

func nowISO() string {
	return time.Now().UTC().Format(time.RFC3339Nano)
}
