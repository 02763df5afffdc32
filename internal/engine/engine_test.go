package engine

import (
	"testing"

	"github.com/sona-engine/agentdb/internal/config"
	"github.com/sona-engine/agentdb/internal/pattern"
	"github.com/sona-engine/agentdb/pkg/models"
)

func testEngineConfig(dir string) config.Config {
	cfg := config.Config{
		EmbeddingDim: 8,
		DataDir:      dir,
		Trajectory: config.TrajectoryConfig{
			MemoryWindowSize:     10,
			BatchWriteSize:       5,
			MaxMetadataEntries:   100,
			MaxConcurrentQueries: 4,
			FormatVersion:        2,
		},
		Weights: config.WeightsConfig{CheckpointIntervalUpdates: 1000, MaxCheckpoints: 3},
		Trainer: config.TrainerConfig{
			MaxEpochs: 1, BatchSize: 4, ValidationSplit: 0, MinImprovement: 1e-6,
			EarlyStoppingPatience: 3, LearningRate: 0.01, Beta1: 0.9, Beta2: 0.999,
			Epsilon: 1e-8, MaxGradientNorm: 5, PositiveQuality: 0.8, NegativeQuality: 0.3, TripletMargin: 0.2,
		},
		Trigger: config.TriggerConfig{MinSamples: 2, CooldownMs: 0, MaxPendingSamples: 100, AutoCheckIntervalMs: 0, ForceWaitTimeoutMs: 1000},
		Pattern: config.PatternConfig{MinSuccessRate: 0.8, DuplicateSimilarity: 0.95, HighQualityThreshold: 0.9, LowQualityThreshold: 0.8},
		EWC:     config.EWCConfig{FisherDecay: 0.9, Lambda: 0.4},
		Routing: config.RoutingConfig{ColdStartKeywordOnlyMax: 25, ColdStartBlendedMax: 100, ColdStartConfidenceCap: 0.6, DomainMatchWeight: 0.05},
		Capability: config.CapabilityConfig{
			AgentsDir: dir, CacheFormatVersion: 1,
		},
	}
	return cfg
}

func TestNewEngineInitializesLayer(t *testing.T) {
	dir := t.TempDir()
	e, err := New(testEngineConfig(dir), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Shutdown()

	if _, err := e.Weights.Get(MainLayerID); err != nil {
		t.Errorf("expected main layer to be initialized, got error: %v", err)
	}
}

func TestIngestTrajectoryFeedsTrigger(t *testing.T) {
	dir := t.TempDir()
	e, err := New(testEngineConfig(dir), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Shutdown()

	embedding := make([]float32, 8)
	embedding[0] = 1
	for i := 0; i < 2; i++ {
		traj := models.Trajectory{ID: "traj-" + string(rune('a'+i)), Quality: 0.9, CreatedAt: int64(i)}
		if err := e.IngestTrajectory(traj, embedding); err != nil {
			t.Fatalf("IngestTrajectory: %v", err)
		}
	}

	if tr, err := e.Trajectories.Get("traj-a"); err != nil || tr.ID != "traj-a" {
		t.Errorf("expected trajectory to be retrievable, got %+v, err=%v", tr, err)
	}
	if e.Trigger.Stats().BufferSize != 2 {
		t.Errorf("expected 2 buffered samples, got %d", e.Trigger.Stats().BufferSize)
	}
}

func TestIngestTrajectoryWithoutEmbeddingSkipsBuffer(t *testing.T) {
	dir := t.TempDir()
	e, err := New(testEngineConfig(dir), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Shutdown()

	traj := models.Trajectory{ID: "traj-x", Quality: 0.9}
	if err := e.IngestTrajectory(traj, nil); err != nil {
		t.Fatalf("IngestTrajectory: %v", err)
	}
	if e.Trigger.Stats().BufferSize != 0 {
		t.Errorf("expected buffer untouched without an embedding, got %d", e.Trigger.Stats().BufferSize)
	}
}

func TestRouteWithNoAgentsReturnsEmptySelection(t *testing.T) {
	dir := t.TempDir()
	e, err := New(testEngineConfig(dir), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Shutdown()

	result, err := e.Route(models.RoutingAnalysis{Task: "do a thing"}, 1000)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if result.SelectedAgent != "" {
		t.Errorf("expected no selection with an empty agents dir, got %s", result.SelectedAgent)
	}
}

func TestRouteExecutionCountIsIndependentOfPatternStoreSize(t *testing.T) {
	dir := t.TempDir()
	e, err := New(testEngineConfig(dir), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer e.Shutdown()

	// Adding patterns without ever routing must not advance the cold-start
	// phase schedule, which spec.md keys on routing calls, not pattern count.
	for i := 0; i < 30; i++ {
		if _, err := e.Patterns.Add(pattern.AddParams{TaskType: "t", Template: "x", Embedding: make([]float32, 8), SuccessRate: 0.9}); err != nil {
			t.Fatalf("Add pattern: %v", err)
		}
	}

	result, err := e.Route(models.RoutingAnalysis{Task: "do a thing"}, 1000)
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if result.Phase != models.PhaseKeywordOnly || !result.IsColdStart {
		t.Errorf("expected first-ever route to still be cold-start keyword-only despite 30 patterns, got %+v", result)
	}
}

func TestRouteExecutionCountPersistsAcrossRestart(t *testing.T) {
	dir := t.TempDir()
	e1, err := New(testEngineConfig(dir), nil, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 3; i++ {
		if _, err := e1.Route(models.RoutingAnalysis{Task: "do a thing"}, 1000); err != nil {
			t.Fatalf("Route: %v", err)
		}
	}
	if err := e1.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	e2, err := New(testEngineConfig(dir), nil, nil)
	if err != nil {
		t.Fatalf("New (restart): %v", err)
	}
	defer e2.Shutdown()

	if got := e2.RoutingCount.Next(); got != 3 {
		t.Errorf("expected routing count to resume at 3 after restart, got %d", got)
	}
}
