// Package trainer implements the training loop that ties the contrastive
// triplet loss, GNN forward/backward, Adam optimizer, and EWC regularizer
// together over batches of trajectory samples.
package trainer

import (
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/sona-engine/agentdb/internal/config"
	"github.com/sona-engine/agentdb/internal/contrastive"
	"github.com/sona-engine/agentdb/internal/errs"
	"github.com/sona-engine/agentdb/internal/ewc"
	"github.com/sona-engine/agentdb/internal/gnn"
	"github.com/sona-engine/agentdb/internal/logging"
	"github.com/sona-engine/agentdb/internal/optimizer"
	"github.com/sona-engine/agentdb/internal/weights"
	"github.com/sona-engine/agentdb/pkg/models"
)

// WeightStore is the narrow slice of weights.Manager the trainer needs,
// kept as an interface so tests can substitute a stub.
type WeightStore interface {
	Get(layerID string) ([][]float32, error)
	UpdateWeights(layerID string, delta [][]float32) ([]weights.ValidationWarning, error)
	Save(layerID string) error
}

// Trainer owns one GNN layer's training loop: triplet construction, forward
// refinement, backward gradient computation, Adam updates, and EWC
// penalties.
type Trainer struct {
	weights WeightStore
	layerID string
	adam    *optimizer.Adam
	ewcReg  *ewc.Regularizer
	cfg     config.TrainerConfig
	log     *log.Logger

	rng *rand.Rand

	History []models.TrainingRecord

	bestValidationLoss      float64
	epochsWithoutImprovement int
}

// New constructs a Trainer for layerID, backed by store, optimizing with
// Adam hyperparameters from cfg and penalizing drift via ewcReg.
func New(store WeightStore, layerID string, cfg config.TrainerConfig, ewcReg *ewc.Regularizer, logger *log.Logger) *Trainer {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Trainer{
		weights: store,
		layerID: layerID,
		adam: optimizer.New(optimizer.Config{
			LearningRate: cfg.LearningRate,
			Beta1:        cfg.Beta1,
			Beta2:        cfg.Beta2,
			Epsilon:      cfg.Epsilon,
		}),
		ewcReg:              ewcReg,
		cfg:                 cfg,
		log:                 logger,
		rng:                 rand.New(rand.NewSource(1)),
		bestValidationLoss:  math.Inf(1),
	}
}

func (t *Trainer) thresholds() contrastive.Thresholds {
	return contrastive.Thresholds{
		PositiveQuality: t.cfg.PositiveQuality,
		NegativeQuality: t.cfg.NegativeQuality,
		Margin:          t.cfg.TripletMargin,
		MaxGradientNorm: t.cfg.MaxGradientNorm,
	}
}

func filterValid(samples []contrastive.Sample) []contrastive.Sample {
	var out []contrastive.Sample
	for _, s := range samples {
		if s.ID == "" || len(s.Embedding) == 0 {
			continue
		}
		if math.IsNaN(s.Quality) || math.IsInf(s.Quality, 0) {
			continue
		}
		out = append(out, s)
	}
	return out
}

// TrainBatch runs one training step over samples: filter, build triplets,
// forward-refine through the GNN layer, compute loss and gradients, then
// (if any triplet is active) apply an Adam + EWC-penalized update.
func (t *Trainer) TrainBatch(samples []contrastive.Sample, epoch, batchIndex int) (models.TrainingRecord, error) {
	valid := filterValid(samples)
	record := models.TrainingRecord{
		ID:           uuid.NewString(),
		Epoch:        epoch,
		BatchIndex:   batchIndex,
		LearningRate: t.cfg.LearningRate,
		SamplesCount: len(valid),
		CreatedAt:    time.Now().UnixMilli(),
	}
	if len(valid) == 0 {
		return record, nil
	}

	triplets := contrastive.BuildTriplets(valid, t.thresholds())
	if len(triplets) == 0 {
		return record, nil
	}

	layerWeights, err := t.weights.Get(t.layerID)
	if err != nil {
		return record, fmt.Errorf("trainBatch: load layer %s: %w", t.layerID, err)
	}
	rows := len(layerWeights)
	cols := 0
	if rows > 0 {
		cols = len(layerWeights[0])
	}

	gradSum := make([][]float64, rows)
	for r := range gradSum {
		gradSum[r] = make([]float64, cols)
	}

	var totalLoss float64
	activeCount := 0

	for _, tr := range triplets {
		qOut, qAct := gnn.ForwardLayer(t.layerID, toFloat64(tr.Query), layerWeights, nil, "", nil, true)
		pOut, pAct := gnn.ForwardLayer(t.layerID, toFloat64(tr.Positive.Embedding), layerWeights, nil, "", nil, true)
		nOut, nAct := gnn.ForwardLayer(t.layerID, toFloat64(tr.Negative.Embedding), layerWeights, nil, "", nil, true)

		enhanced := contrastive.Triplet{
			Query:    toFloat32(qOut),
			Positive: contrastive.Sample{Embedding: toFloat32(pOut)},
			Negative: contrastive.Sample{Embedding: toFloat32(nOut)},
		}
		lr := contrastive.Loss(enhanced, t.cfg.TripletMargin)
		if !lr.Active {
			continue
		}
		totalLoss += lr.Loss
		activeCount++

		grad := contrastive.Backward([]contrastive.Triplet{enhanced}, t.thresholds())
		if len(grad.Gradients) == 0 {
			continue
		}
		g := grad.Gradients[0]

		accumulate(gradSum, gnn.LayerBackward(g.GradQ, qAct.Input, qAct.Weights, qAct.PreActivation, qAct.UseResidual).DW)
		accumulate(gradSum, gnn.LayerBackward(g.GradP, pAct.Input, pAct.Weights, pAct.PreActivation, pAct.UseResidual).DW)
		accumulate(gradSum, gnn.LayerBackward(g.GradN, nAct.Input, nAct.Weights, nAct.PreActivation, nAct.UseResidual).DW)
	}

	record.SamplesCount = len(valid)
	if activeCount == 0 {
		return record, nil
	}
	record.Loss = totalLoss / float64(activeCount)

	for r := range gradSum {
		for c := range gradSum[r] {
			gradSum[r][c] /= float64(activeCount)
		}
	}

	if t.ewcReg != nil {
		flat := flatten(gradSum)
		t.ewcReg.RecordBatchGradient(t.layerID, flat)
	}

	var penaltyFn func(row, col int, w float64) float64
	if t.ewcReg != nil && t.ewcReg.HasPriorTask(t.layerID) {
		penaltyFn = func(row, col int, w float64) float64 {
			return t.ewcReg.Penalty(t.layerID, row*cols+col, w)
		}
	}

	deltas := t.adam.StepLayer(t.layerID, gradSum, penaltyFn, layerWeights)
	deltasF32 := toFloat32Matrix(deltas)
	warnings, err := t.weights.UpdateWeights(t.layerID, deltasF32)
	if err != nil {
		return record, fmt.Errorf("trainBatch: update layer %s: %w", t.layerID, err)
	}
	if len(warnings) > 0 {
		t.log.Warn("trainBatch: weight update produced warnings", "layer", t.layerID, "warnings", warnings)
	}

	t.History = append(t.History, record)
	return record, nil
}

func accumulate(dst [][]float64, src [][]float64) {
	for r := range dst {
		if r >= len(src) {
			break
		}
		for c := range dst[r] {
			if c >= len(src[r]) {
				break
			}
			dst[r][c] += src[r][c]
		}
	}
}

func flatten(m [][]float64) []float64 {
	var out []float64
	for _, row := range m {
		out = append(out, row...)
	}
	return out
}

func toFloat64(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func toFloat32(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func toFloat32Matrix(m [][]float64) [][]float32 {
	out := make([][]float32, len(m))
	for r, row := range m {
		out[r] = toFloat32(row)
	}
	return out
}

// Checkpoint is the persisted trainer state, matching spec.md §4.7.
type Checkpoint struct {
	Epoch                    int                    `json:"epoch"`
	BestValidationLoss       float64                `json:"bestValidationLoss"`
	EpochsWithoutImprovement int                    `json:"epochsWithoutImprovement"`
	OptimizerState           optimizer.State        `json:"optimizerState"`
	Config                   config.TrainerConfig   `json:"config"`
	Timestamp                string                 `json:"timestamp"`
	Version                  int                    `json:"version"`
}

const checkpointVersion = 1

// SaveCheckpoint serializes the trainer's optimizer state and progress.
func (t *Trainer) SaveCheckpoint() ([]byte, error) {
	cp := Checkpoint{
		Epoch:                    len(t.History),
		BestValidationLoss:       t.bestValidationLoss,
		EpochsWithoutImprovement: t.epochsWithoutImprovement,
		OptimizerState:           t.adam.ExportState(),
		Config:                   t.cfg,
		Timestamp:                time.Now().UTC().Format(time.RFC3339),
		Version:                  checkpointVersion,
	}
	buf, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal trainer checkpoint: %w", err)
	}
	return buf, nil
}

// LoadCheckpoint restores optimizer state and progress from SaveCheckpoint's
// output. A version mismatch is logged as a warning, not a fatal error.
func (t *Trainer) LoadCheckpoint(buf []byte) error {
	var cp Checkpoint
	if err := json.Unmarshal(buf, &cp); err != nil {
		return fmt.Errorf("%w: unmarshal trainer checkpoint: %v", errs.ErrValidation, err)
	}
	if cp.Version != checkpointVersion {
		t.log.Warn("trainer checkpoint version mismatch", "got", cp.Version, "want", checkpointVersion)
	}
	t.adam.ImportState(cp.OptimizerState)
	t.bestValidationLoss = cp.BestValidationLoss
	t.epochsWithoutImprovement = cp.EpochsWithoutImprovement
	return nil
}

// Reset clears optimizer state and training history.
func (t *Trainer) Reset() {
	t.adam = optimizer.New(optimizer.Config{
		LearningRate: t.cfg.LearningRate,
		Beta1:        t.cfg.Beta1,
		Beta2:        t.cfg.Beta2,
		Epsilon:      t.cfg.Epsilon,
	})
	t.History = nil
	t.bestValidationLoss = math.Inf(1)
	t.epochsWithoutImprovement = 0
}

// CompleteTask finalizes the current task's EWC statistics against the
// layer's current weights.
func (t *Trainer) CompleteTask() error {
	if t.ewcReg == nil {
		return nil
	}
	w, err := t.weights.Get(t.layerID)
	if err != nil {
		return fmt.Errorf("completeTask: load layer %s: %w", t.layerID, err)
	}
	t.ewcReg.CompleteTask(map[string][]float64{t.layerID: flatten(toFloat64Matrix(w))})
	return nil
}

func toFloat64Matrix(m [][]float32) [][]float64 {
	out := make([][]float64, len(m))
	for r, row := range m {
		out[r] = toFloat64(row)
	}
	return out
}

// forwardOnly runs a single embedding through the GNN layer with no graph
// context, returning the refined embedding and its activation cache.
func forwardOnly(layerID string, x []float32, w [][]float32) ([]float32, gnn.Activation) {
	out, act := gnn.ForwardLayer(layerID, toFloat64(x), w, nil, "", nil, true)
	return toFloat32(out), act
}
