package gnn

import (
	"testing"

	"github.com/katalvlaran/lvlath/core"
)

func TestForwardLayerAppliesReLU(t *testing.T) {
	x := []float64{1, -1}
	w := [][]float32{{1, 0}, {0, 1}}
	out, act := ForwardLayer("l0", x, w, nil, "", nil, false)
	if out[0] != 1 || out[1] != 0 {
		t.Errorf("expected ReLU(1)=1, ReLU(-1)=0, got %v", out)
	}
	if act.PreActivation[1] != -1 {
		t.Errorf("expected cached pre-activation -1, got %v", act.PreActivation[1])
	}
}

func TestForwardLayerResidualAddsInput(t *testing.T) {
	x := []float64{1, 2}
	w := [][]float32{{1, 0}, {0, 1}}
	out, _ := ForwardLayer("l0", x, w, nil, "", nil, true)
	if out[0] != 2 || out[1] != 4 {
		t.Errorf("expected residual sum [2,4], got %v", out)
	}
}

func TestForwardLayerAggregatesNeighbors(t *testing.T) {
	g := core.NewGraph()
	if err := g.AddVertex("a"); err != nil {
		t.Fatalf("AddVertex a: %v", err)
	}
	if err := g.AddVertex("b"); err != nil {
		t.Fatalf("AddVertex b: %v", err)
	}
	if _, err := g.AddEdge("a", "b", 1); err != nil {
		t.Fatalf("AddEdge: %v", err)
	}

	x := []float64{0, 0}
	w := [][]float32{{0, 0}, {0, 0}} // zero weights, so output is purely the aggregate
	neighborEmbeddings := map[string][]float64{"b": {3, 4}}

	out, _ := ForwardLayer("l0", x, w, g, "a", neighborEmbeddings, false)
	if out[0] != 3 || out[1] != 4 {
		t.Errorf("expected neighbor aggregate [3,4], got %v", out)
	}
}

func TestForwardMultiLayerCollectsActivations(t *testing.T) {
	layers := []LayerSpec{
		{ID: "l0", Weights: [][]float32{{1, 0}, {0, 1}}},
		{ID: "l1", Weights: [][]float32{{1, 1}}},
	}
	result := Forward([]float64{1, 1}, layers, true, nil)
	if len(result.Activations) != 2 {
		t.Fatalf("expected 2 cached activations, got %d", len(result.Activations))
	}
	if len(result.Output) != 1 {
		t.Fatalf("expected final layer output dim 1, got %d", len(result.Output))
	}
}

func TestLayerBackwardZeroesGradientThroughReLU(t *testing.T) {
	w := [][]float32{{1, 0}, {0, 1}}
	pre := []float64{1, -1}
	input := []float64{2, 3}
	dOut := []float64{1, 1}

	g := LayerBackward(dOut, input, w, pre, false)
	// Row 1 (pre=-1) should be zeroed by ReLU gradient.
	if g.DW[0][0] != 2 || g.DW[0][1] != 3 {
		t.Errorf("unexpected dW row 0: %v", g.DW[0])
	}
	if g.DW[1][0] != 0 && g.DW[1][0] != 0 {
		t.Errorf("unexpected dW row 1: %v", g.DW[1])
	}
	for _, v := range g.DW[1] {
		if v != 0 {
			t.Errorf("expected zeroed gradient row for ReLU-inactive unit, got %v", g.DW[1])
		}
	}
}

func TestLayerBackwardResidualPropagatesDOut(t *testing.T) {
	w := [][]float32{{1, 0}, {0, 1}}
	pre := []float64{1, 1}
	input := []float64{1, 1}
	dOut := []float64{1, 1}

	g := LayerBackward(dOut, input, w, pre, true)
	if g.DX[0] != 2 || g.DX[1] != 2 {
		t.Errorf("expected residual dx to add dOut, got %v", g.DX)
	}
}

func TestBackwardWalksActivationsInReverse(t *testing.T) {
	activations := []Activation{
		{LayerID: "l0", Input: []float64{1, 1}, Weights: [][]float32{{1, 0}, {0, 1}}, PreActivation: []float64{1, 1}},
		{LayerID: "l1", Input: []float64{1, 1}, Weights: [][]float32{{1, 1}}, PreActivation: []float64{2}},
	}
	grads := Backward([]float64{1}, activations, nil)
	if len(grads) != 2 {
		t.Fatalf("expected 2 gradient entries, got %d", len(grads))
	}
	if grads[1].DW == nil || grads[0].DW == nil {
		t.Error("expected gradients for both layers")
	}
}

func TestBackwardSkipsIncompleteCacheEntry(t *testing.T) {
	activations := []Activation{
		{LayerID: "l0"}, // incomplete: no weights/pre-activation cached
	}
	grads := Backward([]float64{1}, activations, nil)
	if grads[0].DW != nil {
		t.Error("expected no gradient for incomplete activation cache entry")
	}
}
