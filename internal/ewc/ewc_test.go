package ewc

import "testing"

func TestCompleteTaskBuildsFisherAndOptimal(t *testing.T) {
	r := New(0.9, 0.4)
	r.RecordBatchGradient("layer0", []float64{1, 2})
	r.RecordBatchGradient("layer0", []float64{3, 4})

	r.CompleteTask(map[string][]float64{"layer0": {0.5, 0.5}})

	if r.TaskCount() != 1 {
		t.Fatalf("expected task count 1, got %d", r.TaskCount())
	}
	if !r.HasPriorTask("layer0") {
		t.Fatal("expected layer0 to have a prior task snapshot")
	}
}

func TestPenaltyZeroWithoutPriorTask(t *testing.T) {
	r := New(0.9, 0.4)
	if p := r.Penalty("layer0", 0, 1.0); p != 0 {
		t.Errorf("expected zero penalty without a prior task, got %v", p)
	}
}

func TestPenaltyNonZeroAfterTask(t *testing.T) {
	r := New(0.9, 0.4)
	r.RecordBatchGradient("layer0", []float64{2})
	r.CompleteTask(map[string][]float64{"layer0": {1.0}})

	p := r.Penalty("layer0", 0, 2.0) // drifted from optimal 1.0
	if p <= 0 {
		t.Errorf("expected positive penalty for drifted weight, got %v", p)
	}
}

func TestCompleteTaskClearsGradientHistory(t *testing.T) {
	r := New(0.9, 0.4)
	r.RecordBatchGradient("layer0", []float64{1})
	r.CompleteTask(map[string][]float64{"layer0": {0}})
	r.CompleteTask(map[string][]float64{"layer0": {0}}) // no new gradients recorded
	if r.TaskCount() != 2 {
		t.Fatalf("expected task count 2, got %d", r.TaskCount())
	}
}

func TestMarshalUnmarshalStateRoundTrip(t *testing.T) {
	r := New(0.9, 0.4)
	r.RecordBatchGradient("layer0", []float64{2})
	r.CompleteTask(map[string][]float64{"layer0": {1.0}})

	buf, err := r.MarshalState()
	if err != nil {
		t.Fatalf("MarshalState: %v", err)
	}

	r2 := New(0.9, 0.4)
	if err := r2.UnmarshalState(buf); err != nil {
		t.Fatalf("UnmarshalState: %v", err)
	}
	if r2.TaskCount() != 1 {
		t.Errorf("expected restored task count 1, got %d", r2.TaskCount())
	}
	if !r2.HasPriorTask("layer0") {
		t.Error("expected restored state to have prior task for layer0")
	}
}
