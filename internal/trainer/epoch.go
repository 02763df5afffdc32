package trainer

import (
	"math"

	"github.com/sona-engine/agentdb/internal/contrastive"
	"github.com/sona-engine/agentdb/pkg/models"
)

// shuffle performs an in-place Fisher-Yates shuffle using the trainer's rng.
func (t *Trainer) shuffle(samples []contrastive.Sample) {
	for i := len(samples) - 1; i > 0; i-- {
		j := t.rng.Intn(i + 1)
		samples[i], samples[j] = samples[j], samples[i]
	}
}

// splitValidation carves off the tail validationSplit fraction of samples
// (after shuffling) to use for validation loss, returning (train, val).
func splitValidation(samples []contrastive.Sample, validationSplit float64) ([]contrastive.Sample, []contrastive.Sample) {
	if validationSplit <= 0 || len(samples) < 2 {
		return samples, nil
	}
	valCount := int(float64(len(samples)) * validationSplit)
	if valCount < 1 {
		valCount = 1
	}
	if valCount >= len(samples) {
		valCount = len(samples) - 1
	}
	trainCount := len(samples) - valCount
	return samples[:trainCount], samples[trainCount:]
}

// TrainEpoch shuffles samples, splits off a validation slice, runs batches of
// cfg.BatchSize through TrainBatch, then scores the validation split without
// updating weights. It tracks early-stopping state across calls.
func (t *Trainer) TrainEpoch(samples []contrastive.Sample, epoch int) (models.EpochResult, error) {
	working := make([]contrastive.Sample, len(samples))
	copy(working, samples)
	t.shuffle(working)

	train, val := splitValidation(working, t.cfg.ValidationSplit)

	batchSize := t.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = len(train)
	}
	if batchSize == 0 {
		return models.EpochResult{Epoch: epoch}, nil
	}

	var totalLoss float64
	batches := 0
	for start := 0; start < len(train); start += batchSize {
		end := start + batchSize
		if end > len(train) {
			end = len(train)
		}
		rec, err := t.TrainBatch(train[start:end], epoch, batches)
		if err != nil {
			return models.EpochResult{Epoch: epoch}, err
		}
		totalLoss += rec.Loss
		batches++
	}
	trainLoss := 0.0
	if batches > 0 {
		trainLoss = totalLoss / float64(batches)
	}

	result := models.EpochResult{Epoch: epoch, TrainLoss: trainLoss}

	if len(val) > 0 {
		result.ValidationLoss = t.Validate(val)
	} else {
		result.ValidationLoss = trainLoss
	}

	if result.ValidationLoss < t.bestValidationLoss-t.cfg.MinImprovement {
		t.bestValidationLoss = result.ValidationLoss
		t.epochsWithoutImprovement = 0
		result.Improved = true
		if err := t.weights.Save(t.layerID); err != nil {
			t.log.Warn("trainer: failed to save weights on improvement", "layer", t.layerID, "epoch", epoch, "err", err)
		}
	} else {
		t.epochsWithoutImprovement++
	}
	result.EpochsWithoutImprovement = t.epochsWithoutImprovement

	if t.cfg.EarlyStoppingPatience > 0 && t.epochsWithoutImprovement >= t.cfg.EarlyStoppingPatience {
		result.StoppedEarly = true
	}

	return result, nil
}

// Validate computes the mean triplet loss over samples without applying any
// weight update (forward pass only, using the layer's current weights).
func (t *Trainer) Validate(samples []contrastive.Sample) float64 {
	valid := filterValid(samples)
	if len(valid) == 0 {
		return 0
	}
	triplets := contrastive.BuildTriplets(valid, t.thresholds())
	if len(triplets) == 0 {
		return 0
	}

	layerWeights, err := t.weights.Get(t.layerID)
	if err != nil {
		return math.NaN()
	}

	var totalLoss float64
	count := 0
	for _, tr := range triplets {
		qOut, _ := forwardOnly(t.layerID, tr.Query, layerWeights)
		pOut, _ := forwardOnly(t.layerID, tr.Positive.Embedding, layerWeights)
		nOut, _ := forwardOnly(t.layerID, tr.Negative.Embedding, layerWeights)

		enhanced := contrastive.Triplet{
			Query:    qOut,
			Positive: contrastive.Sample{Embedding: pOut},
			Negative: contrastive.Sample{Embedding: nOut},
		}
		lr := contrastive.Loss(enhanced, t.cfg.TripletMargin)
		totalLoss += lr.Loss
		count++
	}
	if count == 0 {
		return 0
	}
	return totalLoss / float64(count)
}

// Train runs up to cfg.MaxEpochs epochs over the dataset, stopping early if
// TrainEpoch signals StoppedEarly. It returns the full sequence of epoch
// results.
func (t *Trainer) Train(dataset models.TrainingDataset) ([]models.EpochResult, error) {
	samples := make([]contrastive.Sample, len(dataset.Samples))
	for i, s := range dataset.Samples {
		samples[i] = contrastive.Sample{
			ID:                s.ID,
			Embedding:         s.Embedding,
			EnhancedEmbedding: s.EnhancedEmbedding,
			Quality:           s.Quality,
		}
	}

	var results []models.EpochResult
	for epoch := 0; epoch < t.cfg.MaxEpochs; epoch++ {
		res, err := t.TrainEpoch(samples, epoch)
		if err != nil {
			return results, err
		}
		results = append(results, res)
		if res.StoppedEarly {
			break
		}
	}
	return results, nil
}
