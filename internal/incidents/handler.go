package incidents

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"rca-backend/internal/incident"
	"rca-backend/internal/scenarios"
	"rca-backend/internal/shared/server/middleware"
	"rca-backend/internal/shared/server/respond"
	"rca-backend/internal/shared/telemetry"
	"rca-backend/internal/shared/util"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// Handler wires HTTP handlers to the incidents service.
type Handler struct {
	Svc *Service
}

// NewHandler constructs a Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{Svc: svc}
}

// RegisterRoutes attaches incident routes to the router group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/analyze/stream", h.streamAnalysis)
	rg.POST("/incidents", h.enqueueIncident)
	rg.GET("/incidents", h.listIncidents)
	rg.GET("/incidents/:id", h.getIncident)
}

func (h *Handler) bindRequest(c *gin.Context) (Request, bool) {
	var req Request
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "invalid request body", []map[string]string{
			{"field": "body", "issue": err.Error()},
		})
		return Request{}, false
	}
	return req, true
}

func (h *Handler) streamAnalysis(c *gin.Context) {
	req, ok := h.bindRequest(c)
	if !ok {
		return
	}
	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	run, events, err := h.Svc.Stream(ctx, req)
	if err != nil {
		h.startError(c, err)
		return
	}

	c.Set("runId", run.ID)
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Header("X-Run-Id", run.ID)
	c.Status(http.StatusOK)

	sse := newSSEWriter(c.Writer)
	done := c.Request.Context().Done()
	for {
		select {
		case <-done:
			return
		case ev, open := <-events:
			if !open {
				_ = sse.done()
				return
			}
			if err := sse.event(ev); err != nil {
				telemetry.Error("incident.stream.write_failed", map[string]any{
					"request_id": middleware.RequestIDFromContext(c),
					"run_id":     run.ID,
					"error":      err.Error(),
				})
				return
			}
		}
	}
}

// sseWriter writes data-only server-sent events and flushes after each one.
type sseWriter struct {
	w       io.Writer
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter) *sseWriter {
	flusher, _ := w.(http.Flusher)
	return &sseWriter{w: w, flusher: flusher}
}

func (s *sseWriter) event(ev incident.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return s.write(fmt.Sprintf("data: %s\n\n", payload))
}

func (s *sseWriter) done() error {
	return s.write("data: [DONE]\n\n")
}

func (s *sseWriter) write(frame string) error {
	if _, err := io.WriteString(s.w, frame); err != nil {
		return err
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

func (h *Handler) enqueueIncident(c *gin.Context) {
	req, ok := h.bindRequest(c)
	if !ok {
		return
	}
	ctx := WithRequestID(c.Request.Context(), middleware.RequestIDFromContext(c))
	run, err := h.Svc.Enqueue(ctx, req)
	if err != nil {
		h.startError(c, err)
		return
	}
	c.Set("runId", run.ID)
	respond.JSON(c, http.StatusAccepted, gin.H{
		"runId":  run.ID,
		"status": run.Status,
	})
}

func (h *Handler) startError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrInvalidRequest), errors.Is(err, util.ErrInvalidName):
		respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, err.Error(), nil)
	case errors.Is(err, scenarios.ErrUnknownScenario):
		respond.Error(c, http.StatusNotFound, ErrorCodeValidation, err.Error(), nil)
	case errors.Is(err, ErrJobQueueNotConfigured):
		respond.Error(c, http.StatusServiceUnavailable, ErrorCodeInternal, "job queue not configured", nil)
	default:
		respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, "failed to start analysis", nil)
	}
}

func (h *Handler) getIncident(c *gin.Context) {
	run, err := h.Svc.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidRequest):
			respond.Error(c, http.StatusBadRequest, ErrorCodeValidation, "run id is required", nil)
		case errors.Is(err, ErrNotFound):
			respond.Error(c, http.StatusNotFound, "NOT_FOUND", "incident run not found", nil)
		default:
			respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, "failed to fetch incident run", nil)
		}
		return
	}
	respond.JSON(c, http.StatusOK, run)
}

func (h *Handler) listIncidents(c *gin.Context) {
	limit := defaultListLimit
	offset := 0
	if v := c.Query("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if v := c.Query("offset"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			offset = parsed
		}
	}
	if offset < 0 {
		offset = 0
	}

	runs, err := h.Svc.List(c.Request.Context(), limit, offset)
	if err != nil {
		respond.Error(c, http.StatusInternalServerError, ErrorCodeInternal, "failed to list incident runs", nil)
		return
	}

	resp := make([]gin.H, 0, len(runs))
	for _, r := range runs {
		item := gin.H{
			"runId":     r.ID,
			"query":     r.Query,
			"scenario":  r.Scenario,
			"status":    r.Status,
			"createdAt": r.CreatedAt,
		}
		if r.Status == StatusCompleted && r.RCA != nil {
			item["rootCause"] = r.RCA.RootCause
		}
		if r.Status == StatusFailed {
			item["errorCode"] = r.ErrorCode
		}
		resp = append(resp, item)
	}
	respond.JSON(c, http.StatusOK, resp)
}
