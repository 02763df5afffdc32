// Package contrastive implements the margin triplet loss used to train the
// GNN's embeddings: positive/negative labeling by trajectory quality,
// similarity-margin loss, and its gradient w.r.t. query/positive/negative.
package contrastive

import (
	"github.com/sona-engine/agentdb/internal/mathx"
)

// Sample is one trajectory's embedding plus the quality score used to label
// it positive or negative.
type Sample struct {
	ID                string
	Embedding         []float32
	EnhancedEmbedding []float32 // optional; preferred for the query centroid when present
	Quality           float64
}

// Triplet is a constructed (query, positive, negative) grouping ready for
// loss computation.
type Triplet struct {
	Query    []float32
	Positive Sample
	Negative Sample
}

// Thresholds bundles the quality cutoffs and margin used to build and score
// triplets, mirroring config.TrainerConfig's triplet fields.
type Thresholds struct {
	PositiveQuality float64
	NegativeQuality float64
	Margin          float64
	MaxGradientNorm float64
}

// BuildTriplets labels samples by quality and pairs every positive with
// every negative, against a single query embedding: the centroid of the
// batch's enhanced embeddings where present, else its raw embeddings.
func BuildTriplets(samples []Sample, t Thresholds) []Triplet {
	var positives, negatives []Sample
	var centroidInputs [][]float32
	for _, s := range samples {
		if s.Quality >= t.PositiveQuality {
			positives = append(positives, s)
		} else if s.Quality <= t.NegativeQuality {
			negatives = append(negatives, s)
		}
		if len(s.EnhancedEmbedding) > 0 {
			centroidInputs = append(centroidInputs, s.EnhancedEmbedding)
		} else {
			centroidInputs = append(centroidInputs, s.Embedding)
		}
	}
	query := mathx.Centroid(centroidInputs)
	if query == nil {
		return nil
	}

	triplets := make([]Triplet, 0, len(positives)*len(negatives))
	for _, p := range positives {
		for _, n := range negatives {
			triplets = append(triplets, Triplet{Query: query, Positive: p, Negative: n})
		}
	}
	return triplets
}

// LossResult is the outcome of scoring one triplet.
type LossResult struct {
	Loss   float64
	Active bool // loss > 0, i.e. this triplet contributed to the batch gradient
}

// Loss computes the margin triplet loss for a single triplet:
// max(0, margin - sim(q,p) + sim(q,n)).
func Loss(tr Triplet, margin float64) LossResult {
	simQP := mathx.CosineSimilarity(tr.Query, tr.Positive.Embedding)
	simQN := mathx.CosineSimilarity(tr.Query, tr.Negative.Embedding)
	loss := margin - simQP + simQN
	if loss < 0 {
		loss = 0
	}
	return LossResult{Loss: loss, Active: loss > 0}
}

// BatchResult aggregates loss and gradients over a set of triplets.
type BatchResult struct {
	TotalLoss   float64
	ActiveCount int
	// Gradients holds one entry per active triplet only; each entry's Index
	// is that triplet's position in the input slice. Inactive (zero-loss)
	// triplets have no entry.
	Gradients []TripletGradient
}

// TripletGradient holds the per-vector gradient of an active triplet's loss.
type TripletGradient struct {
	Index   int
	GradQ   []float64
	GradP   []float64
	GradN   []float64
}

// Backward computes the batch loss and, for every active triplet, the
// gradient of the margin loss w.r.t. query, positive, and negative
// embeddings, each L2-clipped to maxGradientNorm.
func Backward(triplets []Triplet, t Thresholds) BatchResult {
	var result BatchResult
	for i, tr := range triplets {
		lr := Loss(tr, t.Margin)
		if !lr.Active {
			continue
		}
		result.TotalLoss += lr.Loss
		result.ActiveCount++

		gradQ, gradP, gradN := tripletGradient(tr)
		gradQ = mathx.ClipL2(gradQ, t.MaxGradientNorm)
		gradP = mathx.ClipL2(gradP, t.MaxGradientNorm)
		gradN = mathx.ClipL2(gradN, t.MaxGradientNorm)

		result.Gradients = append(result.Gradients, TripletGradient{
			Index: i,
			GradQ: gradQ,
			GradP: gradP,
			GradN: gradN,
		})
	}
	return result
}

// tripletGradient differentiates L = margin - cos(q,p) + cos(q,n) w.r.t.
// each vector, using the standard cosine-similarity gradient
// d/dx cos(x,y) = y/(|x||y|) - x*cos(x,y)/|x|^2.
func tripletGradient(tr Triplet) (gradQ, gradP, gradN []float64) {
	dim := len(tr.Query)
	gradQ = make([]float64, dim)
	gradP = make([]float64, dim)
	gradN = make([]float64, dim)

	normQ := mathx.L2Norm(tr.Query)
	normP := mathx.L2Norm(tr.Positive.Embedding)
	normN := mathx.L2Norm(tr.Negative.Embedding)
	if normQ == 0 || normP == 0 || normN == 0 {
		return gradQ, gradP, gradN
	}

	simQP := mathx.CosineSimilarity(tr.Query, tr.Positive.Embedding)
	simQN := mathx.CosineSimilarity(tr.Query, tr.Negative.Embedding)

	for i := 0; i < dim; i++ {
		q := float64(tr.Query[i])
		var p, n float64
		if i < len(tr.Positive.Embedding) {
			p = float64(tr.Positive.Embedding[i])
		}
		if i < len(tr.Negative.Embedding) {
			n = float64(tr.Negative.Embedding[i])
		}

		dCosQP_dQ := p/(normQ*normP) - q*simQP/(normQ*normQ)
		dCosQN_dQ := n/(normQ*normN) - q*simQN/(normQ*normQ)
		// dL/dq = -dCosQP_dQ + dCosQN_dQ
		gradQ[i] = -dCosQP_dQ + dCosQN_dQ

		dCosQP_dP := q/(normQ*normP) - p*simQP/(normP*normP)
		// dL/dp = -dCosQP_dP
		gradP[i] = -dCosQP_dP

		dCosQN_dN := q/(normQ*normN) - n*simQN/(normN*normN)
		// dL/dn = dCosQN_dN
		gradN[i] = dCosQN_dN
	}
	return gradQ, gradP, gradN
}
