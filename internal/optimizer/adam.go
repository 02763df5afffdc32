// Package optimizer implements the Adam update rule used by the trainer to
// apply weight gradients, with optional EWC penalty blended in per
// parameter.
package optimizer

import (
	"fmt"
	"math"
)

// Config holds Adam's hyperparameters, mirroring config.TrainerConfig's
// optimizer fields.
type Config struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
}

// paramState is one parameter's first/second moment estimate and step count.
type paramState struct {
	m, v float64
	step int
}

// Adam tracks per-parameter moment state across updates. Parameters are
// addressed by an arbitrary caller-chosen key, so the optimizer does not
// need to know about layer shapes.
type Adam struct {
	cfg   Config
	state map[string]*paramState
}

// New constructs an Adam optimizer with the given hyperparameters.
func New(cfg Config) *Adam {
	return &Adam{cfg: cfg, state: make(map[string]*paramState)}
}

// Step applies one Adam update to a single parameter identified by key,
// returning the delta to add to the parameter (already including an
// optional EWC penalty term added to the gradient before the Adam rule is
// applied).
func (a *Adam) Step(key string, gradient float64, ewcPenalty float64) float64 {
	g := gradient + ewcPenalty

	st, ok := a.state[key]
	if !ok {
		st = &paramState{}
		a.state[key] = st
	}
	st.step++

	st.m = a.cfg.Beta1*st.m + (1-a.cfg.Beta1)*g
	st.v = a.cfg.Beta2*st.v + (1-a.cfg.Beta2)*g*g

	mHat := st.m / (1 - math.Pow(a.cfg.Beta1, float64(st.step)))
	vHat := st.v / (1 - math.Pow(a.cfg.Beta2, float64(st.step)))

	return -a.cfg.LearningRate * mHat / (math.Sqrt(vHat) + a.cfg.Epsilon)
}

// StepLayer applies Step across every element of one layer's gradient
// matrix (rows of floats), returning the matching matrix of deltas. penalty,
// if non-nil, supplies the EWC penalty for a given (row, col) and the
// current weight at that position.
func (a *Adam) StepLayer(layerID string, gradients [][]float64, penalty func(row, col int, w float64) float64, weights [][]float32) [][]float64 {
	deltas := make([][]float64, len(gradients))
	for r := range gradients {
		deltas[r] = make([]float64, len(gradients[r]))
		for c := range gradients[r] {
			var p float64
			if penalty != nil && weights != nil && r < len(weights) && c < len(weights[r]) {
				p = penalty(r, c, float64(weights[r][c]))
			}
			key := layerKey(layerID, r, c)
			deltas[r][c] = a.Step(key, gradients[r][c], p)
		}
	}
	return deltas
}

func layerKey(layerID string, row, col int) string {
	return fmt.Sprintf("%s:%d:%d", layerID, row, col)
}

// State exposes the optimizer's moment state for checkpointing.
type State struct {
	M    map[string]float64 `json:"m"`
	V    map[string]float64 `json:"v"`
	Step map[string]int     `json:"step"`
}

// ExportState snapshots the optimizer's per-parameter state.
func (a *Adam) ExportState() State {
	s := State{M: make(map[string]float64), V: make(map[string]float64), Step: make(map[string]int)}
	for k, st := range a.state {
		s.M[k] = st.m
		s.V[k] = st.v
		s.Step[k] = st.step
	}
	return s
}

// ImportState restores previously exported optimizer state.
func (a *Adam) ImportState(s State) {
	a.state = make(map[string]*paramState, len(s.M))
	for k, m := range s.M {
		a.state[k] = &paramState{m: m, v: s.V[k], step: s.Step[k]}
	}
}
