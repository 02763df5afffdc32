package contrastive

import "testing"

func TestBuildTripletsLabelsByQuality(t *testing.T) {
	samples := []Sample{
		{ID: "pos1", Embedding: []float32{1, 0}, Quality: 0.9},
		{ID: "neg1", Embedding: []float32{0, 1}, Quality: 0.1},
		{ID: "mid1", Embedding: []float32{0.5, 0.5}, Quality: 0.5},
	}
	thresholds := Thresholds{PositiveQuality: 0.7, NegativeQuality: 0.3, Margin: 0.2, MaxGradientNorm: 5}
	triplets := BuildTriplets(samples, thresholds)
	if len(triplets) != 1 {
		t.Fatalf("expected 1 triplet (1 positive x 1 negative), got %d", len(triplets))
	}
	if triplets[0].Positive.ID != "pos1" || triplets[0].Negative.ID != "neg1" {
		t.Errorf("unexpected triplet pairing: %+v", triplets[0])
	}
}

func TestBuildTripletsEmptyWithoutSamples(t *testing.T) {
	if got := BuildTriplets(nil, Thresholds{}); got != nil {
		t.Errorf("expected nil for no samples, got %v", got)
	}
}

func TestLossZeroWhenMarginSatisfied(t *testing.T) {
	tr := Triplet{
		Query:    []float32{1, 0},
		Positive: Sample{Embedding: []float32{1, 0}},
		Negative: Sample{Embedding: []float32{-1, 0}},
	}
	lr := Loss(tr, 0.2)
	if lr.Active {
		t.Errorf("expected inactive (zero) loss when positive is much closer, got %v", lr.Loss)
	}
}

func TestLossPositiveWhenMarginViolated(t *testing.T) {
	tr := Triplet{
		Query:    []float32{1, 0},
		Positive: Sample{Embedding: []float32{0, 1}},
		Negative: Sample{Embedding: []float32{1, 0}},
	}
	lr := Loss(tr, 0.2)
	if !lr.Active || lr.Loss <= 0 {
		t.Errorf("expected active positive loss, got %+v", lr)
	}
}

func TestBackwardProducesGradientsForActiveTriplets(t *testing.T) {
	triplets := []Triplet{
		{
			Query:    []float32{1, 0},
			Positive: Sample{ID: "p", Embedding: []float32{0, 1}},
			Negative: Sample{ID: "n", Embedding: []float32{1, 0}},
		},
	}
	result := Backward(triplets, Thresholds{Margin: 0.2, MaxGradientNorm: 5})
	if result.ActiveCount != 1 {
		t.Fatalf("expected 1 active triplet, got %d", result.ActiveCount)
	}
	if len(result.Gradients) != 1 {
		t.Fatalf("expected 1 gradient entry, got %d", len(result.Gradients))
	}
	g := result.Gradients[0]
	if len(g.GradQ) != 2 || len(g.GradP) != 2 || len(g.GradN) != 2 {
		t.Errorf("unexpected gradient dimensions: %+v", g)
	}
}

func TestBackwardSkipsInactiveTriplets(t *testing.T) {
	triplets := []Triplet{
		{
			Query:    []float32{1, 0},
			Positive: Sample{Embedding: []float32{1, 0}},
			Negative: Sample{Embedding: []float32{-1, 0}},
		},
	}
	result := Backward(triplets, Thresholds{Margin: 0.2, MaxGradientNorm: 5})
	if result.ActiveCount != 0 || len(result.Gradients) != 0 {
		t.Errorf("expected no active triplets, got %+v", result)
	}
}
