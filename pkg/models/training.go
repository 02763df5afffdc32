package models

// TrainingRecord is one trainBatch call's outcome, appended to the
// trainer's optional history.
type TrainingRecord struct {
	ID           string  `json:"id"`
	Epoch        int     `json:"epoch"`
	BatchIndex   int     `json:"batchIndex"`
	Loss         float64 `json:"loss"`
	LearningRate float64 `json:"learningRate"`
	SamplesCount int     `json:"samplesCount"`
	CreatedAt    int64   `json:"createdAt"`
}

// EpochResult summarizes one trainEpoch call.
type EpochResult struct {
	Epoch                 int     `json:"epoch"`
	TrainLoss             float64 `json:"trainLoss"`
	ValidationLoss        float64 `json:"validationLoss,omitempty"`
	GradientNorm          float64 `json:"gradientNorm"`
	Improved              bool    `json:"improved"`
	EpochsWithoutImprovement int  `json:"epochsWithoutImprovement"`
	StoppedEarly          bool    `json:"stoppedEarly"`
}

// TrainingDataset bundles the samples a trainer epoch runs over.
type TrainingDataset struct {
	Samples    []TrainingSample `json:"samples"`
	Centroid   []float32        `json:"centroid,omitempty"`
}

// TrainingSample is one trajectory reduced to what the trainer needs.
type TrainingSample struct {
	ID                string    `json:"id"`
	Embedding         []float32 `json:"embedding"`
	EnhancedEmbedding []float32 `json:"enhancedEmbedding,omitempty"`
	Quality           float64   `json:"quality"`
}
