// Package engine wires the learning engine's components into the single
// data flow spec.md describes: incoming trajectories feed the trajectory
// stream and, on feedback, the training trigger's buffer; when the trigger
// fires it drives the trainer, which exercises the contrastive loss, GNN,
// optimizer, and EWC regularizer together; routing is served independently
// off the shared capability index.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/sona-engine/agentdb/internal/capability"
	"github.com/sona-engine/agentdb/internal/config"
	"github.com/sona-engine/agentdb/internal/ewc"
	"github.com/sona-engine/agentdb/internal/kv"
	"github.com/sona-engine/agentdb/internal/logging"
	"github.com/sona-engine/agentdb/internal/pattern"
	"github.com/sona-engine/agentdb/internal/routing"
	"github.com/sona-engine/agentdb/internal/trainer"
	"github.com/sona-engine/agentdb/internal/trajectory"
	"github.com/sona-engine/agentdb/internal/trigger"
	"github.com/sona-engine/agentdb/internal/weights"
	"github.com/sona-engine/agentdb/pkg/models"
)

// MainLayerID names the single GNN layer the trainer refines embeddings
// through. A future multi-layer pipeline would generalize this to a list.
const MainLayerID = "embedding-refiner"

// Engine bundles every component needed to serve both the learning loop
// (trajectories -> trigger -> trainer) and the routing surface.
type Engine struct {
	cfg config.Config
	log *log.Logger

	Trajectories *trajectory.Manager
	Weights      *weights.Manager
	Patterns     *pattern.Store
	EWC          *ewc.Regularizer
	Trainer      *trainer.Trainer
	Trigger      *trigger.Trigger
	Capability   *capability.Index
	Routing      *routing.Engine
	RoutingCount *routing.Counter

	kv kv.Engine
}

// New constructs every component rooted under cfg.DataDir, initializing the
// GNN layer's weight tensor if it doesn't already exist on disk.
func New(cfg config.Config, embedder capability.Embedder, logger *log.Logger) (*Engine, error) {
	if logger == nil {
		logger = logging.Nop()
	}

	trajDir := filepath.Join(cfg.DataDir, "trajectories")
	if err := os.MkdirAll(trajDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir trajectory dir: %w", err)
	}
	trajMgr, err := trajectory.NewManager(trajDir, cfg.Trajectory, logger, false)
	if err != nil {
		return nil, fmt.Errorf("new trajectory manager: %w", err)
	}

	weightsDir := filepath.Join(cfg.DataDir, "weights")
	if err := os.MkdirAll(weightsDir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir weights dir: %w", err)
	}
	weightsMgr := weights.NewManager(weightsDir, cfg.Weights.CheckpointIntervalUpdates, cfg.Weights.MaxCheckpoints, logger)
	if err := ensureLayer(weightsMgr, MainLayerID, cfg.EmbeddingDim); err != nil {
		return nil, err
	}

	kvPath := filepath.Join(cfg.DataDir, "patterns.bbolt")
	boltEngine, err := kv.OpenBolt(kvPath)
	if err != nil {
		return nil, fmt.Errorf("open pattern kv store: %w", err)
	}
	patternStore, err := pattern.New(pattern.Config{
		EmbeddingDim:          cfg.EmbeddingDim,
		MinSuccessRate:        cfg.Pattern.MinSuccessRate,
		DuplicateSimilarity:   cfg.Pattern.DuplicateSimilarity,
		HighQualityThreshold:  cfg.Pattern.HighQualityThreshold,
		LowQualityThreshold:   cfg.Pattern.LowQualityThreshold,
	}, boltEngine, logger)
	if err != nil {
		return nil, fmt.Errorf("new pattern store: %w", err)
	}

	ewcReg := ewc.New(cfg.EWC.FisherDecay, cfg.EWC.Lambda)
	tr := trainer.New(weightsMgr, MainLayerID, cfg.Trainer, ewcReg, logger)

	bufferPath := filepath.Join(cfg.DataDir, "trigger_buffer.json")
	trig := trigger.New(cfg.Trigger, bufferPath, tr, logger)

	capIndex := capability.NewIndex(cfg.Capability.AgentsDir, filepath.Join(cfg.DataDir, "capability_cache"), cfg.EmbeddingDim, cfg.Capability.CacheFormatVersion, embedder, logger)
	router := routing.New(cfg.Routing)
	routingCount := routing.NewCounter(filepath.Join(cfg.DataDir, "routing_count.json"))

	return &Engine{
		cfg:          cfg,
		log:          logger,
		Trajectories: trajMgr,
		Weights:      weightsMgr,
		Patterns:     patternStore,
		EWC:          ewcReg,
		Trainer:      tr,
		Trigger:      trig,
		Capability:   capIndex,
		Routing:      router,
		RoutingCount: routingCount,
		kv:           boltEngine,
	}, nil
}

func ensureLayer(m *weights.Manager, layerID string, dim int) error {
	if _, err := m.Get(layerID); err == nil {
		return nil
	}
	return m.Initialize(layerID, dim, dim, models.InitXavier, nil)
}

// IngestTrajectory records a trajectory into the stream and, when embedding
// is non-empty (the caller has a feedback signal to learn from), feeds the
// training trigger's buffer.
func (e *Engine) IngestTrajectory(t models.Trajectory, embedding []float32) error {
	if err := e.Trajectories.Add(t); err != nil {
		return fmt.Errorf("ingest trajectory: %w", err)
	}
	if len(embedding) == 0 {
		return nil
	}

	force, err := e.Trigger.AddTrajectory(trigger.BufferedTrajectory{
		ID:        t.ID,
		Embedding: embedding,
		Quality:   t.Quality,
	})
	if err != nil {
		e.log.Warn("engine: failed to buffer trajectory for training", "id", t.ID, "err", err)
		return nil
	}
	if force {
		if err := e.Trigger.ForceTraining(); err != nil {
			e.log.Error("engine: forced training failed", "err", err)
		}
	}
	return nil
}

// CheckTraining runs the trigger's threshold check, returning whether a
// training run executed and why not if it didn't.
func (e *Engine) CheckTraining() (ran bool, reason string, err error) {
	return e.Trigger.CheckAndTrain()
}

// StartBackground launches the trigger's auto-check timer. Call Shutdown to
// stop it and drain any buffered samples.
func (e *Engine) StartBackground(ctx context.Context) {
	e.Trigger.StartAutoCheck(ctx)
}

// Shutdown drains the trigger (forcing a final training pass over whatever
// is buffered), flushes the trajectory stream, and closes the KV store.
func (e *Engine) Shutdown() error {
	if err := e.Trigger.Shutdown(); err != nil {
		e.log.Error("engine: shutdown training drain failed", "err", err)
	}
	if err := e.Trajectories.Flush(); err != nil {
		e.log.Error("engine: shutdown flush failed", "err", err)
	}
	if e.kv != nil {
		return e.kv.Close()
	}
	return nil
}

// Route serves a routing decision using the current capability index and the
// number of routes served so far (persisted across restarts) as the
// cold-start signal.
func (e *Engine) Route(analysis models.RoutingAnalysis, nowUnixMilli int64) (models.RoutingResult, error) {
	candidates, err := e.Capability.Load(nowUnixMilli)
	if err != nil {
		return models.RoutingResult{}, fmt.Errorf("load capability index: %w", err)
	}
	executionCount := e.RoutingCount.Next()
	return e.Routing.Route(analysis, candidates, executionCount, nowUnixMilli), nil
}
