// Package ewc implements Elastic Weight Consolidation: an online per-layer
// Fisher-information diagonal and optimal-weight snapshot used to penalize
// drift away from previously learned tasks.
package ewc

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sona-engine/agentdb/internal/errs"
)

// LayerState holds one layer's EWC bookkeeping: its running Fisher diagonal
// and the optimal weights snapshotted at the last completed task boundary.
type LayerState struct {
	Fisher   []float64 `json:"fisher"`
	Optimal  []float64 `json:"optimal"`
}

// Regularizer tracks per-layer EWC state across tasks.
type Regularizer struct {
	fisherDecay float64
	lambda      float64

	mu           sync.Mutex
	layers       map[string]*LayerState
	taskGradients map[string][][]float64 // per-layer, per-batch flattened gradients since the last completeTask
	taskCount    int
}

// New constructs a Regularizer with the given Fisher decay (alpha in
// F <- alpha*F + (1-alpha)*g^2) and penalty weight lambda.
func New(fisherDecay, lambda float64) *Regularizer {
	return &Regularizer{
		fisherDecay:   fisherDecay,
		lambda:        lambda,
		layers:        make(map[string]*LayerState),
		taskGradients: make(map[string][][]float64),
	}
}

// RecordBatchGradient appends a batch's flattened weight gradient for
// layerID to the current task's history, consumed at the next CompleteTask.
func (r *Regularizer) RecordBatchGradient(layerID string, flatGrad []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make([]float64, len(flatGrad))
	copy(cp, flatGrad)
	r.taskGradients[layerID] = append(r.taskGradients[layerID], cp)
}

// CompleteTask folds every recorded batch gradient into each layer's
// running Fisher diagonal, snapshots currentWeights as the new optimal
// point, then clears the per-task gradient history and increments the task
// count.
func (r *Regularizer) CompleteTask(currentWeights map[string][]float64) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for layerID, batches := range r.taskGradients {
		if len(batches) == 0 {
			continue
		}
		dim := len(batches[0])
		sumSq := make([]float64, dim)
		for _, batch := range batches {
			for i := 0; i < dim && i < len(batch); i++ {
				sumSq[i] += batch[i] * batch[i]
			}
		}
		meanSq := make([]float64, dim)
		for i := range sumSq {
			meanSq[i] = sumSq[i] / float64(len(batches))
		}

		state, ok := r.layers[layerID]
		if !ok {
			state = &LayerState{Fisher: make([]float64, dim)}
			r.layers[layerID] = state
		}
		if len(state.Fisher) != dim {
			state.Fisher = make([]float64, dim)
		}
		for i := 0; i < dim; i++ {
			state.Fisher[i] = r.fisherDecay*state.Fisher[i] + (1-r.fisherDecay)*meanSq[i]
		}
	}

	for layerID, w := range currentWeights {
		state, ok := r.layers[layerID]
		if !ok {
			state = &LayerState{Fisher: make([]float64, len(w))}
			r.layers[layerID] = state
		}
		state.Optimal = append([]float64(nil), w...)
	}

	r.taskGradients = make(map[string][][]float64)
	r.taskCount++
}

// TaskCount returns how many tasks have been completed.
func (r *Regularizer) TaskCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.taskCount
}

// Penalty returns lambda * F[i] * (w[i] - optimal[i]) for layerID at index
// i, the additive term applied to the weight update. Returns 0 when no
// prior task exists for this layer (the skip case required by spec).
func (r *Regularizer) Penalty(layerID string, index int, currentWeight float64) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.layers[layerID]
	if !ok || index >= len(state.Fisher) || index >= len(state.Optimal) {
		return 0
	}
	return r.lambda * state.Fisher[index] * (currentWeight - state.Optimal[index])
}

// HasPriorTask reports whether layerID has an optimal-weight snapshot from
// a completed task.
func (r *Regularizer) HasPriorTask(layerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.layers[layerID]
	return ok && len(state.Optimal) > 0
}

// snapshot is the JSON-serializable form of a Regularizer's durable state.
type snapshot struct {
	Layers    map[string]*LayerState `json:"layers"`
	TaskCount int                    `json:"taskCount"`
}

// MarshalState serializes the Fisher/optimal blobs and task count for
// persistence.
func (r *Regularizer) MarshalState() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, err := json.Marshal(snapshot{Layers: r.layers, TaskCount: r.taskCount})
	if err != nil {
		return nil, fmt.Errorf("marshal ewc state: %w", err)
	}
	return buf, nil
}

// UnmarshalState restores a Regularizer's state from MarshalState's output.
func (r *Regularizer) UnmarshalState(buf []byte) error {
	var s snapshot
	if err := json.Unmarshal(buf, &s); err != nil {
		return fmt.Errorf("%w: unmarshal ewc state: %v", errs.ErrValidation, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s.Layers == nil {
		s.Layers = make(map[string]*LayerState)
	}
	r.layers = s.Layers
	r.taskCount = s.TaskCount
	return nil
}
