// Package routing scores candidate agents against a task analysis and
// selects one, blending keyword and learned-capability signals according to
// a cold-start schedule keyed on how many tasks have been routed so far.
package routing

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sona-engine/agentdb/internal/config"
	"github.com/sona-engine/agentdb/internal/mathx"
	"github.com/sona-engine/agentdb/pkg/models"
)

// Engine routes RoutingAnalysis requests against a capability index,
// applying the cold-start keyword/capability blend spec.md requires.
type Engine struct {
	cfg config.RoutingConfig
}

// New constructs a routing Engine using cfg's cold-start thresholds.
func New(cfg config.RoutingConfig) *Engine {
	return &Engine{cfg: cfg}
}

// phaseWeights returns the (phase, keywordWeight, capabilityWeight,
// coldStart) tuple for the given execution count.
func (e *Engine) phaseWeights(executionCount int) (models.RoutingPhase, float64, float64, bool) {
	switch {
	case executionCount <= e.cfg.ColdStartKeywordOnlyMax:
		return models.PhaseKeywordOnly, 1.0, 0.0, true
	case executionCount <= e.cfg.ColdStartBlendedMax:
		return models.PhaseBlended, 0.7, 0.3, true
	default:
		return models.PhaseLearned, 0.2, 0.8, false
	}
}

// Route scores every candidate in the capability index against analysis and
// returns the winning selection plus up to 3 alternatives.
func (e *Engine) Route(analysis models.RoutingAnalysis, candidates []models.AgentCapability, executionCount int, nowUnixMilli int64) models.RoutingResult {
	start := time.Now()

	if analysis.PreferredAgent != "" {
		return models.RoutingResult{
			SelectedAgent:     analysis.PreferredAgent,
			Confidence:        1.0,
			ConfirmationLevel: models.ConfirmAuto,
			UsedPreference:    true,
			Factors: []models.RoutingFactor{
				{Name: "user_preference", Weight: 1.0, Score: 1.0},
			},
			Explanation:   "explicitly requested",
			RoutingID:     uuid.NewString(),
			RoutedAt:      nowUnixMilli,
			RoutingTimeMs: elapsedMs(start),
		}
	}

	phase, wk, wc, coldStart := e.phaseWeights(executionCount)

	type scored struct {
		agent   models.AgentCapability
		score   float64
		keyword float64
		capable float64
		domain  float64
	}

	scores := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		kw := keywordScore(analysis, c)
		cap := capabilityScore(analysis, c)
		dom := domainScore(analysis, c)
		total := wk*kw + wc*cap + e.cfg.DomainMatchWeight*dom
		scores = append(scores, scored{agent: c, score: total, keyword: kw, capable: cap, domain: dom})
	}

	sort.Slice(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	result := models.RoutingResult{
		Phase:         phase,
		IsColdStart:   coldStart,
		RoutingID:     uuid.NewString(),
		RoutedAt:      nowUnixMilli,
		RoutingTimeMs: elapsedMs(start),
	}

	if len(scores) == 0 {
		result.Explanation = "no candidate agents available"
		result.ConfirmationLevel = models.ConfirmSelect
		return result
	}

	best := scores[0]
	confidence := best.score
	if coldStart && confidence > e.cfg.ColdStartConfidenceCap {
		confidence = e.cfg.ColdStartConfidenceCap
	}

	result.SelectedAgent = best.agent.Key
	result.Confidence = confidence
	result.Factors = []models.RoutingFactor{
		{Name: "keyword_score", Weight: wk, Score: best.keyword, Description: "verb/domain token overlap"},
		{Name: "capability_match", Weight: wc, Score: best.capable, Description: "cosine similarity to agent embedding"},
		{Name: "domain_match", Weight: e.cfg.DomainMatchWeight, Score: best.domain, Description: "declared domain overlap"},
	}

	for _, s := range scores[1:] {
		if len(result.Alternatives) >= 3 {
			break
		}
		if s.agent.Key == best.agent.Key {
			continue
		}
		result.Alternatives = append(result.Alternatives, models.RoutingAlternative{
			AgentKey: s.agent.Key,
			Score:    s.score,
			Reason:   fmt.Sprintf("%.0f%% combined score", s.score*100),
		})
	}

	result.ConfirmationLevel = confirmationLevel(confidence)
	result.RequiresConfirmation = result.ConfirmationLevel != models.ConfirmAuto
	result.Explanation = buildExplanation(best.agent, confidence, result.Factors, coldStart)
	result.RoutingTimeMs = elapsedMs(start)
	return result
}

func confirmationLevel(c float64) models.ConfirmationLevel {
	switch {
	case c >= 0.9:
		return models.ConfirmAuto
	case c >= 0.7:
		return models.ConfirmShow
	case c >= 0.5:
		return models.ConfirmConfirm
	default:
		return models.ConfirmSelect
	}
}

func keywordScore(analysis models.RoutingAnalysis, agent models.AgentCapability) float64 {
	tokens := make(map[string]struct{})
	for _, v := range analysis.Verbs {
		tokens[strings.ToLower(v)] = struct{}{}
	}
	if analysis.PrimaryVerb != "" {
		tokens[strings.ToLower(analysis.PrimaryVerb)] = struct{}{}
	}
	for _, w := range strings.Fields(strings.ToLower(analysis.Task)) {
		tokens[strings.Trim(w, ".,:;()")] = struct{}{}
	}
	if len(tokens) == 0 || len(agent.Keywords) == 0 {
		return 0
	}

	matches := 0
	for _, kw := range agent.Keywords {
		if _, ok := tokens[strings.ToLower(kw)]; ok {
			matches++
		}
	}
	return float64(matches) / float64(len(agent.Keywords))
}

func capabilityScore(analysis models.RoutingAnalysis, agent models.AgentCapability) float64 {
	if len(analysis.Embedding) == 0 || len(agent.Embedding) == 0 {
		return 0
	}
	sim := mathx.CosineSimilarity(analysis.Embedding, agent.Embedding)
	if sim < 0 {
		return 0
	}
	return sim
}

func domainScore(analysis models.RoutingAnalysis, agent models.AgentCapability) float64 {
	if analysis.Domain == "" {
		return 0
	}
	for _, d := range agent.Domains {
		if strings.EqualFold(d, analysis.Domain) {
			return 1.0
		}
	}
	return 0
}

func buildExplanation(agent models.AgentCapability, confidence float64, factors []models.RoutingFactor, coldStart bool) string {
	primary := "keyword_score"
	var best float64 = -1
	for _, f := range factors {
		weighted := f.Weight * f.Score
		if weighted > best {
			best = weighted
			primary = f.Name
		}
	}
	name := agent.Name
	if name == "" {
		name = agent.Key
	}
	explanation := fmt.Sprintf("Selected %s with %.0f%% confidence, primarily driven by %s", name, confidence*100, primary)
	if coldStart {
		explanation += " (cold-start: confidence capped pending more routing history)"
	}
	return explanation
}

func elapsedMs(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
