package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"

	"github.com/sona-engine/agentdb/internal/engine"
	"github.com/sona-engine/agentdb/internal/errs"
	"github.com/sona-engine/agentdb/internal/pattern"
	"github.com/sona-engine/agentdb/pkg/models"
)

// API holds the engine dependency every handler closes over.
type API struct {
	eng *engine.Engine
	log *log.Logger
}

// New constructs an API wrapping eng.
func New(eng *engine.Engine, logger *log.Logger) *API {
	return &API{eng: eng, log: logger}
}

// Routes builds the chi router for the debug/ops surface.
func (a *API) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/healthz", a.handleHealth)

	r.Post("/trajectories", a.handleIngestTrajectory)
	r.Get("/trajectories/{id}", a.handleGetTrajectory)

	r.Post("/training/check", a.handleCheckTraining)
	r.Post("/training/force", a.handleForceTraining)
	r.Get("/training/stats", a.handleTrainingStats)

	r.Post("/patterns", a.handleAddPattern)
	r.Get("/patterns/{id}", a.handleGetPattern)
	r.Delete("/patterns/{id}", a.handleDeletePattern)
	r.Get("/patterns", a.handleListPatterns)
	r.Get("/patterns/stats", a.handlePatternStats)

	r.Get("/stats/trajectory", a.handleTrajectoryStats)
	r.Get("/stats/pattern", a.handlePatternStats)
	r.Post("/capability/rebuild", a.handleCapabilityRebuild)

	r.Post("/route", a.handleRoute)

	return r
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.log, http.StatusOK, map[string]string{"status": "ok"})
}

type ingestTrajectoryRequest struct {
	Trajectory models.Trajectory `json:"trajectory"`
	Embedding  []float32         `json:"embedding,omitempty"`
}

func (a *API) handleIngestTrajectory(w http.ResponseWriter, r *http.Request) {
	var req ingestTrajectoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, a.log, http.StatusBadRequest, err)
		return
	}
	if err := a.eng.IngestTrajectory(req.Trajectory, req.Embedding); err != nil {
		writeStatusError(w, a.log, err)
		return
	}
	writeJSON(w, a.log, http.StatusAccepted, map[string]string{"id": req.Trajectory.ID})
}

func (a *API) handleGetTrajectory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, err := a.eng.Trajectories.Get(id)
	if err != nil {
		writeStatusError(w, a.log, err)
		return
	}
	writeJSON(w, a.log, http.StatusOK, t)
}

func (a *API) handleCheckTraining(w http.ResponseWriter, r *http.Request) {
	ran, reason, err := a.eng.CheckTraining()
	if err != nil {
		writeStatusError(w, a.log, err)
		return
	}
	writeJSON(w, a.log, http.StatusOK, map[string]interface{}{"ran": ran, "reason": reason})
}

func (a *API) handleForceTraining(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Trigger.ForceTraining(); err != nil {
		writeStatusError(w, a.log, err)
		return
	}
	writeJSON(w, a.log, http.StatusOK, map[string]string{"status": "trained"})
}

func (a *API) handleTrainingStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.log, http.StatusOK, a.eng.Trigger.Stats())
}

type addPatternRequest struct {
	TaskType    string            `json:"taskType"`
	Template    string            `json:"template"`
	Embedding   []float32         `json:"embedding"`
	SuccessRate float64           `json:"successRate"`
	SonaWeight  float64           `json:"sonaWeight"`
	Metadata    map[string]string `json:"metadata"`
}

func (a *API) handleAddPattern(w http.ResponseWriter, r *http.Request) {
	var req addPatternRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, a.log, http.StatusBadRequest, err)
		return
	}
	p, err := a.eng.Patterns.Add(pattern.AddParams{
		TaskType:    req.TaskType,
		Template:    req.Template,
		Embedding:   req.Embedding,
		SuccessRate: req.SuccessRate,
		SonaWeight:  req.SonaWeight,
		Metadata:    req.Metadata,
	})
	if err != nil {
		writeStatusError(w, a.log, err)
		return
	}
	writeJSON(w, a.log, http.StatusCreated, p)
}

func (a *API) handleGetPattern(w http.ResponseWriter, r *http.Request) {
	p, err := a.eng.Patterns.Get(chi.URLParam(r, "id"))
	if err != nil {
		writeStatusError(w, a.log, err)
		return
	}
	writeJSON(w, a.log, http.StatusOK, p)
}

func (a *API) handleDeletePattern(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Patterns.Delete(chi.URLParam(r, "id")); err != nil {
		writeStatusError(w, a.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleListPatterns(w http.ResponseWriter, r *http.Request) {
	if taskType := r.URL.Query().Get("taskType"); taskType != "" {
		writeJSON(w, a.log, http.StatusOK, a.eng.Patterns.ByTaskType(taskType))
		return
	}
	writeJSON(w, a.log, http.StatusOK, a.eng.Patterns.All())
}

func (a *API) handlePatternStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.log, http.StatusOK, a.eng.Patterns.Stats())
}

func (a *API) handleTrajectoryStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, a.log, http.StatusOK, a.eng.Trajectories.Stats())
}

func (a *API) handleCapabilityRebuild(w http.ResponseWriter, r *http.Request) {
	entries, err := a.eng.Capability.Rebuild(time.Now().UnixMilli())
	if err != nil {
		writeStatusError(w, a.log, err)
		return
	}
	writeJSON(w, a.log, http.StatusOK, entries)
}

func (a *API) handleRoute(w http.ResponseWriter, r *http.Request) {
	var analysis models.RoutingAnalysis
	if err := json.NewDecoder(r.Body).Decode(&analysis); err != nil {
		writeError(w, a.log, http.StatusBadRequest, err)
		return
	}
	result, err := a.eng.Route(analysis, time.Now().UnixMilli())
	if err != nil {
		writeStatusError(w, a.log, err)
		return
	}
	writeJSON(w, a.log, http.StatusOK, result)
}

// writeStatusError maps the internal error taxonomy to an HTTP status code.
func writeStatusError(w http.ResponseWriter, logger *log.Logger, err error) {
	switch {
	case errors.Is(err, errs.ErrValidation):
		writeError(w, logger, http.StatusBadRequest, err)
	case errors.Is(err, errs.ErrNotFound):
		writeError(w, logger, http.StatusNotFound, err)
	case errors.Is(err, errs.ErrReadOnly):
		writeError(w, logger, http.StatusForbidden, err)
	case errors.Is(err, errs.ErrTimeout):
		writeError(w, logger, http.StatusGatewayTimeout, err)
	default:
		writeError(w, logger, http.StatusInternalServerError, err)
	}
}
