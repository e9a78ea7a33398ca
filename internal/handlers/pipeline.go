package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"mcq-autopilot/internal/mcq"
	"mcq-autopilot/internal/pipeline"
	"mcq-autopilot/pkg/logging/logging"
)

// Orchestrator is the part of *pipeline.Orchestrator the handlers use.
type Orchestrator interface {
	Trigger(ctx context.Context) (string, bool)
	Status() pipeline.Status
	Stage() pipeline.Stage
	LastRun() (pipeline.Run, bool)
	TapOption(ctx context.Context, letter mcq.Letter) error
}

// PipelineHandler serves the trigger, status and manual tap endpoints.
type PipelineHandler struct {
	Pipeline Orchestrator
}

func NewPipelineHandler(p Orchestrator) *PipelineHandler {
	return &PipelineHandler{Pipeline: p}
}

type runResponse struct {
	RunID  string          `json:"run_id"`
	Status pipeline.Status `json:"status"`
}

type statusResponse struct {
	Status  pipeline.Status `json:"status"`
	Stage   pipeline.Stage  `json:"stage"`
	LastRun *pipeline.Run   `json:"last_run,omitempty"`
}

type tapResponse struct {
	Letter mcq.Letter `json:"letter"`
	Tapped bool       `json:"tapped"`
}

// StartRun handles POST /v1/runs. A request made while a run is in
// progress is ignored and answered with 409.
func (h *PipelineHandler) StartRun(w http.ResponseWriter, r *http.Request) {
	id, ok := h.Pipeline.Trigger(r.Context())
	if !ok {
		writeError(w, http.StatusConflict, "run_in_progress", "")
		return
	}
	logging.L(r.Context()).Info("run_started", zap.String("run_id", id))
	writeJSON(w, http.StatusAccepted, runResponse{RunID: id, Status: pipeline.StatusProcessing})
}

// Status handles GET /v1/status.
func (h *PipelineHandler) Status(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status: h.Pipeline.Status(),
		Stage:  h.Pipeline.Stage(),
	}
	if run, ok := h.Pipeline.LastRun(); ok {
		resp.LastRun = &run
	}
	writeJSON(w, http.StatusOK, resp)
}

// TapOption handles POST /v1/options/{letter}/tap.
func (h *PipelineHandler) TapOption(w http.ResponseWriter, r *http.Request) {
	letter, err := mcq.ParseLetter(chi.URLParam(r, "letter"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_letter", err.Error())
		return
	}

	if err := h.Pipeline.TapOption(r.Context(), letter); err != nil {
		logger := logging.L(r.Context())
		if errors.Is(err, pipeline.ErrNoTapPoint) {
			logger.Warn("tap_point_missing", zap.String("letter", letter.String()))
			writeError(w, http.StatusUnprocessableEntity, "no_tap_point", err.Error())
			return
		}
		logger.Error("tap_failed", zap.String("letter", letter.String()), zap.Error(err))
		writeError(w, http.StatusBadGateway, "dispatch_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, tapResponse{Letter: letter, Tapped: true})
}
