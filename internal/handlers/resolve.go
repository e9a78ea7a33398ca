package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"mcq-autopilot/internal/cache"
	"mcq-autopilot/internal/mcq"
	"mcq-autopilot/internal/resolver"
	"mcq-autopilot/pkg/logging/logging"
)

type AnswerResolver interface {
	ResolveDetailed(ctx context.Context, q mcq.Question) resolver.Resolution
}

// ResolveHandler answers already-extracted question text without touching
// the device.
type ResolveHandler struct {
	Resolver AnswerResolver
}

func NewResolveHandler(r AnswerResolver) *ResolveHandler {
	return &ResolveHandler{Resolver: r}
}

type resolveRequest struct {
	Text string `json:"text"`
}

type resolveResponse struct {
	Question    mcq.Question      `json:"question"`
	Answer      mcq.Letter        `json:"answer"`
	Source      resolver.Source   `json:"source"`
	Fingerprint cache.Fingerprint `json:"fingerprint"`
}

// Resolve handles POST /v1/resolve.
func (h *ResolveHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := logging.L(ctx)
	start := time.Now()

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", "")
			return
		}
		logger.Warn("invalid request", zap.Error(err))
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, http.StatusBadRequest, "text_required", "")
		return
	}

	q, err := mcq.Parse(req.Text)
	if err != nil {
		logger.Info("question_not_parsable", zap.Int("text_len", len(req.Text)))
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "not_parsable", Raw: req.Text})
		return
	}

	res := h.Resolver.ResolveDetailed(ctx, q)

	logger.Info("resolve_request",
		zap.String("fingerprint", res.Fingerprint.String()),
		zap.String("answer", res.Letter.String()),
		zap.String("source", string(res.Source)),
		zap.Duration("total_latency_ms", time.Since(start)),
	)

	writeJSON(w, http.StatusOK, resolveResponse{
		Question:    q,
		Answer:      res.Letter,
		Source:      res.Source,
		Fingerprint: res.Fingerprint,
	})
}
