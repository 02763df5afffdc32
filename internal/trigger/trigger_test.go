package trigger

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sona-engine/agentdb/internal/config"
	"github.com/sona-engine/agentdb/pkg/models"
)

type stubRunner struct {
	calls  int32
	err    error
	result []models.EpochResult
	delay  time.Duration
}

func (s *stubRunner) Train(dataset models.TrainingDataset) ([]models.EpochResult, error) {
	atomic.AddInt32(&s.calls, 1)
	if s.delay > 0 {
		time.Sleep(s.delay)
	}
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func testTriggerConfig() config.TriggerConfig {
	return config.TriggerConfig{
		MinSamples:          3,
		CooldownMs:          50,
		MaxPendingSamples:   5,
		AutoCheckIntervalMs: 0,
		ForceWaitTimeoutMs:  200,
	}
}

func sample(id string, quality float64) BufferedTrajectory {
	return BufferedTrajectory{ID: id, Embedding: []float32{1, 0, 0}, Quality: quality}
}

func TestAddTrajectoryRejectsMissingID(t *testing.T) {
	tr := New(testTriggerConfig(), "", &stubRunner{}, nil)
	if _, err := tr.AddTrajectory(BufferedTrajectory{Quality: 0.5}); err == nil {
		t.Error("expected error for missing id")
	}
}

func TestAddTrajectoryForcesAtMaxPending(t *testing.T) {
	tr := New(testTriggerConfig(), "", &stubRunner{}, nil)
	var force bool
	for i := 0; i < 5; i++ {
		var err error
		force, err = tr.AddTrajectory(sample("id", 0.5))
		if err != nil {
			t.Fatalf("AddTrajectory: %v", err)
		}
	}
	if !force {
		t.Error("expected force trigger once buffer reaches maxPendingSamples")
	}
}

func TestShouldTriggerRequiresMinSamples(t *testing.T) {
	tr := New(testTriggerConfig(), "", &stubRunner{}, nil)
	if tr.ShouldTrigger() {
		t.Error("expected no trigger on empty buffer")
	}
	for i := 0; i < 3; i++ {
		tr.AddTrajectory(sample("id", 0.5))
	}
	if !tr.ShouldTrigger() {
		t.Error("expected trigger once minSamples reached")
	}
}

func TestCheckAndTrainRunsAndClearsBuffer(t *testing.T) {
	runner := &stubRunner{result: []models.EpochResult{{TrainLoss: 0.2}}}
	tr := New(testTriggerConfig(), "", runner, nil)
	for i := 0; i < 3; i++ {
		tr.AddTrajectory(sample("id", 0.5))
	}

	ran, reason, err := tr.CheckAndTrain()
	if err != nil {
		t.Fatalf("CheckAndTrain: %v", err)
	}
	if !ran {
		t.Fatalf("expected training to run, got reason %q", reason)
	}
	if atomic.LoadInt32(&runner.calls) != 1 {
		t.Errorf("expected exactly 1 Train call, got %d", runner.calls)
	}

	stats := tr.Stats()
	if stats.BufferSize != 0 {
		t.Errorf("expected buffer cleared after training, got size %d", stats.BufferSize)
	}
	if stats.LastTrainingLoss != 0.2 {
		t.Errorf("expected last training loss recorded, got %v", stats.LastTrainingLoss)
	}
}

func TestCheckAndTrainRefusedBelowMinSamples(t *testing.T) {
	tr := New(testTriggerConfig(), "", &stubRunner{}, nil)
	ran, reason, err := tr.CheckAndTrain()
	if err != nil {
		t.Fatalf("CheckAndTrain: %v", err)
	}
	if ran {
		t.Error("expected no training run below minSamples")
	}
	if reason == "" {
		t.Error("expected a refusal reason")
	}
}

func TestCheckAndTrainRespectsCooldown(t *testing.T) {
	runner := &stubRunner{result: []models.EpochResult{{TrainLoss: 0.1}}}
	tr := New(testTriggerConfig(), "", runner, nil)
	for i := 0; i < 3; i++ {
		tr.AddTrajectory(sample("id", 0.5))
	}
	if _, _, err := tr.CheckAndTrain(); err != nil {
		t.Fatalf("CheckAndTrain: %v", err)
	}

	for i := 0; i < 3; i++ {
		tr.AddTrajectory(sample("id2", 0.5))
	}
	ran, reason, err := tr.CheckAndTrain()
	if err != nil {
		t.Fatalf("CheckAndTrain: %v", err)
	}
	if ran {
		t.Error("expected cooldown to block immediate retrigger")
	}
	if reason == "" {
		t.Error("expected a cooldown refusal reason")
	}
}

func TestExecuteTrainingKeepsBufferOnFailure(t *testing.T) {
	runner := &stubRunner{err: errors.New("boom")}
	tr := New(testTriggerConfig(), "", runner, nil)
	for i := 0; i < 3; i++ {
		tr.AddTrajectory(sample("id", 0.5))
	}

	if err := tr.executeTraining("threshold"); err == nil {
		t.Fatal("expected error from failing runner")
	}
	if tr.Stats().BufferSize != 3 {
		t.Errorf("expected buffer retained on failure, got size %d", tr.Stats().BufferSize)
	}
}

func TestForceTrainingWaitsForInFlight(t *testing.T) {
	runner := &stubRunner{result: []models.EpochResult{{TrainLoss: 0}}, delay: 50 * time.Millisecond}
	tr := New(testTriggerConfig(), "", runner, nil)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		tr.executeTraining("threshold")
	}()
	time.Sleep(5 * time.Millisecond)

	if err := tr.ForceTraining(); err != nil {
		t.Fatalf("ForceTraining: %v", err)
	}
	wg.Wait()

	if atomic.LoadInt32(&runner.calls) != 2 {
		t.Errorf("expected 2 Train calls (in-flight + forced), got %d", runner.calls)
	}
}

func TestBufferPersistsAcrossRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buffer.json")
	tr := New(testTriggerConfig(), path, &stubRunner{}, nil)
	tr.AddTrajectory(sample("id", 0.5))

	tr2 := New(testTriggerConfig(), path, &stubRunner{}, nil)
	if tr2.Stats().BufferSize != 1 {
		t.Errorf("expected persisted buffer to reload with 1 entry, got %d", tr2.Stats().BufferSize)
	}
}

func TestAutoCheckRunsPeriodically(t *testing.T) {
	cfg := testTriggerConfig()
	cfg.AutoCheckIntervalMs = 10
	runner := &stubRunner{result: []models.EpochResult{{TrainLoss: 0}}}
	tr := New(cfg, "", runner, nil)
	for i := 0; i < 3; i++ {
		tr.AddTrajectory(sample("id", 0.5))
	}

	ctx, cancel := context.WithCancel(context.Background())
	tr.StartAutoCheck(ctx)
	time.Sleep(40 * time.Millisecond)
	cancel()
	tr.Stop()

	if atomic.LoadInt32(&runner.calls) == 0 {
		t.Error("expected auto-check to have triggered at least one training run")
	}
}
