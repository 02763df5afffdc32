package gnn

import "github.com/charmbracelet/log"

// LayerGradient is the output of LayerBackward: the weight gradient and the
// gradient propagated to this layer's input.
type LayerGradient struct {
	DW [][]float64
	DX []float64
}

// LayerBackward is the public backward primitive for one GNN layer,
// matching spec.md's layer_backward(dOut, input, W, pre, post, activation,
// useResidual): it applies the ReLU gradient through post, computes
// dW = dpost * input^T and dx = W^T * dpost, and propagates an additive
// dx += dOut when the layer used a residual connection.
func LayerBackward(dOut []float64, input []float64, w [][]float32, pre []float64, useResidual bool) LayerGradient {
	dPost := make([]float64, len(pre))
	for i := range pre {
		if pre[i] > 0 {
			dPost[i] = dOut[i]
		}
	}

	dw := make([][]float64, len(w))
	for r := range w {
		dw[r] = make([]float64, len(w[r]))
		for c := range w[r] {
			if c < len(input) {
				dw[r][c] = dPost[r] * input[c]
			}
		}
	}

	dx := make([]float64, len(input))
	for c := range dx {
		var sum float64
		for r, row := range w {
			if c < len(row) {
				sum += float64(row[c]) * dPost[r]
			}
		}
		dx[c] = sum
	}

	if useResidual {
		for i := range dx {
			if i < len(dOut) {
				dx[i] += dOut[i]
			}
		}
	}

	return LayerGradient{DW: dw, DX: dx}
}

// Backward walks the activation cache in reverse order, propagating dOut
// through each cached layer. A missing cache entry (a layer that was
// skipped during forward, e.g. a zero-length activation list) produces no
// gradient for that layer's weights and is logged as a warning.
func Backward(dOut []float64, activations []Activation, logger *log.Logger) []LayerGradient {
	grads := make([]LayerGradient, len(activations))
	cur := dOut
	for i := len(activations) - 1; i >= 0; i-- {
		act := activations[i]
		if act.Weights == nil || act.PreActivation == nil {
			if logger != nil {
				logger.Warn("gnn backward: skipping layer with incomplete activation cache", "layer", act.LayerID)
			}
			continue
		}
		g := LayerBackward(cur, act.Input, act.Weights, act.PreActivation, act.UseResidual)
		grads[i] = g
		cur = g.DX
	}
	return grads
}
