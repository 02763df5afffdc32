package weights

import (
	"math"

	"github.com/sona-engine/agentdb/internal/mathx"
	"github.com/sona-engine/agentdb/pkg/models"
)

// initTensor builds a rows x cols tensor using the named scheme. A seed
// makes Xavier/He/random draws reproducible via mathx.Mulberry32.
func initTensor(rows, cols int, init models.Initialization, seed *int64) [][]float32 {
	data := make([][]float32, rows)
	for r := range data {
		data[r] = make([]float32, cols)
	}

	switch init {
	case models.InitZeros:
		return data
	case models.InitHe:
		variance := 2.0 / float64(rows)
		sigma := math.Sqrt(variance)
		fillGaussian(data, sigma, seed)
	case models.InitRandom:
		variance := 2.0 / float64(rows+cols)
		sigma := math.Sqrt(variance)
		bound := 0.5 * sigma * math.Sqrt(12)
		fillUniform(data, bound, seed)
	case models.InitXavier:
		fallthrough
	default:
		variance := 2.0 / float64(rows+cols)
		sigma := math.Sqrt(variance)
		fillGaussian(data, sigma, seed)
	}

	return data
}

func rngFor(seed *int64) *mathx.Mulberry32 {
	var s uint32 = 0x9E3779B9
	if seed != nil {
		s = uint32(*seed)
	}
	return mathx.NewMulberry32(s)
}

func fillGaussian(data [][]float32, sigma float64, seed *int64) {
	rng := rngFor(seed)
	for r := range data {
		for c := range data[r] {
			data[r][c] = float32(rng.Gaussian() * sigma)
		}
	}
}

func fillUniform(data [][]float32, bound float64, seed *int64) {
	rng := rngFor(seed)
	for r := range data {
		for c := range data[r] {
			data[r][c] = float32((rng.Float64()*2 - 1) * bound)
		}
	}
}
