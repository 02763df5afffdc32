// Package trigger implements the autonomic training trigger: a persistent
// trajectory buffer that fires a training run once sample density crosses a
// threshold, subject to a cooldown and a training-in-progress lock.
package trigger

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/sona-engine/agentdb/internal/config"
	"github.com/sona-engine/agentdb/internal/errs"
	"github.com/sona-engine/agentdb/internal/logging"
	"github.com/sona-engine/agentdb/internal/mathx"
	"github.com/sona-engine/agentdb/pkg/models"
)

// BufferedTrajectory is one sample waiting to be trained on.
type BufferedTrajectory struct {
	ID                string    `json:"id"`
	Embedding         []float32 `json:"embedding"`
	EnhancedEmbedding []float32 `json:"enhancedEmbedding,omitempty"`
	Quality           float64   `json:"quality"`
}

// Runner is the narrow slice of trainer.Trainer the trigger needs.
type Runner interface {
	Train(dataset models.TrainingDataset) ([]models.EpochResult, error)
}

// Trigger owns the pending-sample buffer and the threshold/cooldown policy
// deciding when to hand it to a Runner.
type Trigger struct {
	cfg         config.TriggerConfig
	bufferPath  string
	runner      Runner
	log         *log.Logger

	mu                 sync.Mutex
	buffer             []BufferedTrajectory
	lastTrainingTime   time.Time
	lastTrainingLoss   float64
	trainCount         int
	trainingInProgress bool

	stop chan struct{}
	wg   sync.WaitGroup
}

// New constructs a Trigger whose buffer persists to bufferPath. It attempts
// to load a previously persisted buffer; a missing or incompatible file is
// not an error.
func New(cfg config.TriggerConfig, bufferPath string, runner Runner, logger *log.Logger) *Trigger {
	if logger == nil {
		logger = logging.Nop()
	}
	tr := &Trigger{
		cfg:        cfg,
		bufferPath: bufferPath,
		runner:     runner,
		log:        logger,
	}
	if loaded, err := loadBuffer(bufferPath); err != nil {
		logger.Warn("trigger: failed to load persisted buffer", "err", err)
	} else if loaded != nil {
		tr.buffer = loaded
	}
	return tr
}

// AddTrajectory appends a sample to the buffer, persists it (best-effort),
// and reports whether the buffer has hit maxPendingSamples and should be
// force-drained by the caller.
func (t *Trigger) AddTrajectory(sample BufferedTrajectory) (forceTrigger bool, err error) {
	if sample.ID == "" {
		return false, fmt.Errorf("%w: trajectory id required", errs.ErrValidation)
	}
	if math.IsNaN(sample.Quality) || math.IsInf(sample.Quality, 0) {
		return false, fmt.Errorf("%w: trajectory quality must be finite", errs.ErrValidation)
	}

	t.mu.Lock()
	t.buffer = append(t.buffer, sample)
	buf := make([]BufferedTrajectory, len(t.buffer))
	copy(buf, t.buffer)
	force := t.cfg.MaxPendingSamples > 0 && len(t.buffer) >= t.cfg.MaxPendingSamples
	t.mu.Unlock()

	if err := saveBuffer(t.bufferPath, buf); err != nil {
		t.log.Warn("trigger: failed to persist buffer", "err", err)
	}
	return force, nil
}

// ShouldTrigger reports whether a training run is currently warranted:
// not already in progress, past the cooldown since the last run, and the
// buffer has reached minSamples.
func (t *Trigger) ShouldTrigger() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.shouldTriggerLocked()
}

func (t *Trigger) shouldTriggerLocked() bool {
	if t.trainingInProgress {
		return false
	}
	if !t.lastTrainingTime.IsZero() {
		cooldown := time.Duration(t.cfg.CooldownMs) * time.Millisecond
		if time.Since(t.lastTrainingTime) < cooldown {
			return false
		}
	}
	return len(t.buffer) >= t.cfg.MinSamples
}

// CheckAndTrain evaluates ShouldTrigger and, if satisfied, runs a
// threshold-triggered training pass. It returns a human-readable refusal
// reason when it declines to train.
func (t *Trigger) CheckAndTrain() (ran bool, reason string, err error) {
	t.mu.Lock()
	if t.trainingInProgress {
		t.mu.Unlock()
		return false, "training already in progress", nil
	}
	cooldown := time.Duration(t.cfg.CooldownMs) * time.Millisecond
	if !t.lastTrainingTime.IsZero() && time.Since(t.lastTrainingTime) < cooldown {
		t.mu.Unlock()
		return false, "within cooldown window", nil
	}
	if len(t.buffer) < t.cfg.MinSamples {
		t.mu.Unlock()
		return false, fmt.Sprintf("buffer below minSamples (%d/%d)", len(t.buffer), t.cfg.MinSamples), nil
	}
	t.mu.Unlock()

	if err := t.executeTraining("threshold"); err != nil {
		return false, "", err
	}
	return true, "", nil
}

// ForceTraining waits (bounded by ForceWaitTimeoutMs) for any in-flight
// training to finish, then unconditionally runs a forced training pass.
func (t *Trigger) ForceTraining() error {
	timeout := time.Duration(t.cfg.ForceWaitTimeoutMs) * time.Millisecond
	deadline := time.Now().Add(timeout)
	for {
		t.mu.Lock()
		inProgress := t.trainingInProgress
		t.mu.Unlock()
		if !inProgress {
			break
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: timed out waiting for in-flight training", errs.ErrTimeout)
		}
		time.Sleep(10 * time.Millisecond)
	}
	return t.executeTraining("force")
}

// executeTraining builds a TrainingDataset from the buffer, runs it through
// the configured Runner, and on success records the outcome and clears the
// buffer (both in memory and on disk). On failure the buffer is left
// untouched so no samples are lost.
func (t *Trigger) executeTraining(reason string) error {
	t.mu.Lock()
	if t.trainingInProgress {
		t.mu.Unlock()
		return fmt.Errorf("%w: training already in progress", errs.ErrValidation)
	}
	t.trainingInProgress = true
	buf := make([]BufferedTrajectory, len(t.buffer))
	copy(buf, t.buffer)
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		t.trainingInProgress = false
		t.mu.Unlock()
	}()

	dataset := buildDataset(buf)
	results, err := t.runner.Train(dataset)
	if err != nil {
		t.log.Error("trigger: training run failed, buffer retained", "reason", reason, "err", err)
		return fmt.Errorf("executeTraining(%s): %w", reason, err)
	}

	var lastLoss float64
	if len(results) > 0 {
		lastLoss = results[len(results)-1].TrainLoss
	}

	t.mu.Lock()
	t.lastTrainingTime = time.Now()
	t.lastTrainingLoss = lastLoss
	t.trainCount++
	t.buffer = nil
	t.mu.Unlock()

	if err := saveBuffer(t.bufferPath, nil); err != nil {
		t.log.Warn("trigger: failed to clear persisted buffer", "err", err)
	}
	return nil
}

func buildDataset(buf []BufferedTrajectory) models.TrainingDataset {
	samples := make([]models.TrainingSample, len(buf))
	var centroidInputs [][]float32
	for i, b := range buf {
		samples[i] = models.TrainingSample{
			ID:                b.ID,
			Embedding:         b.Embedding,
			EnhancedEmbedding: b.EnhancedEmbedding,
			Quality:           b.Quality,
		}
		if len(b.EnhancedEmbedding) > 0 {
			centroidInputs = append(centroidInputs, b.EnhancedEmbedding)
		} else {
			centroidInputs = append(centroidInputs, b.Embedding)
		}
	}
	return models.TrainingDataset{Samples: samples, Centroid: mathx.Centroid(centroidInputs)}
}

// Stats reports the trigger's current buffer size and training history.
type Stats struct {
	BufferSize         int       `json:"bufferSize"`
	LastTrainingTime   time.Time `json:"lastTrainingTime,omitempty"`
	LastTrainingLoss   float64   `json:"lastTrainingLoss"`
	TrainCount         int       `json:"trainCount"`
	TrainingInProgress bool      `json:"trainingInProgress"`
}

func (t *Trigger) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Stats{
		BufferSize:         len(t.buffer),
		LastTrainingTime:   t.lastTrainingTime,
		LastTrainingLoss:   t.lastTrainingLoss,
		TrainCount:         t.trainCount,
		TrainingInProgress: t.trainingInProgress,
	}
}

// StartAutoCheck runs CheckAndTrain every AutoCheckIntervalMs until ctx is
// canceled or Stop is called. It is idempotent with the in-progress flag:
// an overlapping tick simply observes "training already in progress".
func (t *Trigger) StartAutoCheck(ctx context.Context) {
	interval := time.Duration(t.cfg.AutoCheckIntervalMs) * time.Millisecond
	if interval <= 0 {
		return
	}
	t.stop = make(chan struct{})
	t.wg.Add(1)
	go func() {
		defer t.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.stop:
				return
			case <-ticker.C:
				if _, _, err := t.CheckAndTrain(); err != nil {
					t.log.Error("trigger: auto-check training failed", "err", err)
				}
			}
		}
	}()
}

// Stop halts the auto-check timer started by StartAutoCheck and waits for
// it to exit. Safe to call even if StartAutoCheck was never invoked.
func (t *Trigger) Stop() {
	if t.stop == nil {
		return
	}
	close(t.stop)
	t.wg.Wait()
}

// Shutdown force-drains the buffer (if non-empty) and persists whatever
// remains, used on process shutdown to avoid losing buffered samples.
func (t *Trigger) Shutdown() error {
	t.Stop()
	t.mu.Lock()
	empty := len(t.buffer) == 0
	t.mu.Unlock()
	if empty {
		return nil
	}
	return t.ForceTraining()
}
