// Package gnn implements the graph-neural-network forward and backward
// pass used to refine trajectory/pattern embeddings: a dense layer with an
// optional neighbor-aggregation term, ReLU, and an optional residual
// connection, plus the matching backward primitive.
package gnn

import (
	"github.com/charmbracelet/log"
	"github.com/katalvlaran/lvlath/core"

	"github.com/sona-engine/agentdb/internal/logging"
)

// Activation caches one layer's forward-pass intermediates, in forward
// order, for use by Backward.
type Activation struct {
	LayerID         string
	Input           []float64
	Weights         [][]float32
	PreActivation   []float64
	PostActivation  []float64
	UseResidual     bool
}

// ForwardLayer runs one GNN layer: pre = x*Wt (+ neighbor aggregate when a
// graph and vertex id are supplied); post = ReLU(pre); out = post + x when
// residual is requested and shapes allow it.
func ForwardLayer(layerID string, x []float64, w [][]float32, graph *core.Graph, vertexID string, neighborEmbeddings map[string][]float64, residual bool) ([]float64, Activation) {
	rows := len(w)
	pre := make([]float64, rows)
	for r := 0; r < rows; r++ {
		var sum float64
		row := w[r]
		for c := 0; c < len(row) && c < len(x); c++ {
			sum += float64(row[c]) * x[c]
		}
		pre[r] = sum
	}

	if graph != nil && vertexID != "" {
		if agg := aggregateNeighbors(graph, vertexID, neighborEmbeddings, rows); agg != nil {
			for i := range pre {
				pre[i] += agg[i]
			}
		}
	}

	post := make([]float64, rows)
	for i, v := range pre {
		if v > 0 {
			post[i] = v
		}
	}

	out := post
	if residual && len(x) == len(post) {
		out = make([]float64, len(post))
		for i := range post {
			out[i] = post[i] + x[i]
		}
	}

	return out, Activation{
		LayerID:        layerID,
		Input:          x,
		Weights:        w,
		PreActivation:  pre,
		PostActivation: post,
		UseResidual:    residual && len(x) == len(post),
	}
}

// aggregateNeighbors averages the embeddings of vertexID's graph neighbors,
// truncated/zero-padded to dim. Returns nil if the vertex has no known
// neighbors or isn't in the graph.
func aggregateNeighbors(graph *core.Graph, vertexID string, embeddings map[string][]float64, dim int) []float64 {
	ids, err := graph.NeighborIDs(vertexID)
	if err != nil || len(ids) == 0 {
		return nil
	}
	sum := make([]float64, dim)
	count := 0
	for _, id := range ids {
		emb, ok := embeddings[id]
		if !ok {
			continue
		}
		for i := 0; i < dim && i < len(emb); i++ {
			sum[i] += emb[i]
		}
		count++
	}
	if count == 0 {
		return nil
	}
	for i := range sum {
		sum[i] /= float64(count)
	}
	return sum
}

// ForwardResult is a multi-layer forward pass: the final output plus the
// per-layer activation cache in forward order.
type ForwardResult struct {
	Output      []float64
	Activations []Activation
}

// Forward runs x through every layer's weights in order, optionally
// collecting activations for a later Backward call.
func Forward(x []float64, layers []LayerSpec, collectActivations bool, logger *log.Logger) ForwardResult {
	if logger == nil {
		logger = logging.Nop()
	}
	cur := x
	var activations []Activation
	for _, layer := range layers {
		out, act := ForwardLayer(layer.ID, cur, layer.Weights, layer.Graph, layer.VertexID, layer.NeighborEmbeddings, layer.Residual)
		if collectActivations {
			activations = append(activations, act)
		}
		cur = out
	}
	return ForwardResult{Output: cur, Activations: activations}
}

// LayerSpec names a layer's weights and optional neighbor-graph context for
// a single forward pass.
type LayerSpec struct {
	ID                 string
	Weights            [][]float32
	Graph              *core.Graph
	VertexID           string
	NeighborEmbeddings map[string][]float64
	Residual           bool
}
