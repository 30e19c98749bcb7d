package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/convertd/cmd/convertd/models"
	"github.com/lyzr/convertd/cmd/convertd/service"
	"github.com/lyzr/convertd/common/logger"
	"github.com/lyzr/convertd/common/sessionstore"
)

// ProcessHandler handles start-processing and status requests
type ProcessHandler struct {
	lifecycle *service.Lifecycle
	log       *logger.Logger
}

// NewProcessHandler creates a new process handler
func NewProcessHandler(lifecycle *service.Lifecycle, log *logger.Logger) *ProcessHandler {
	return &ProcessHandler{lifecycle: lifecycle, log: log}
}

// Start queues the session for conversion; idempotent on retries
// POST /api/v1/process/start
func (h *ProcessHandler) Start(c echo.Context) error {
	var req models.StartRequest
	if err := c.Bind(&req); err != nil || req.SessionID == "" {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "session_id is required", Code: "BAD_REQUEST",
		})
	}

	sess, accepted, err := h.lifecycle.StartProcessing(c.Request().Context(), req.SessionID)
	if errors.Is(err, sessionstore.ErrNotFound) {
		return c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error: "session not found or expired", Code: "NOT_FOUND",
		})
	}
	if err != nil {
		h.log.Error("start processing failed", "session_id", req.SessionID, "error", err)
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: "could not start processing", Code: "INTERNAL_ERROR",
		})
	}

	message := "processing started"
	if !accepted {
		message = "already started"
	}
	return c.JSON(http.StatusOK, models.NewStatusResponse(sess, message))
}

// Status returns the last committed state of the session
// GET /api/v1/process/status/:id
func (h *ProcessHandler) Status(c echo.Context) error {
	id := c.Param("id")

	sess, err := h.lifecycle.GetStatus(c.Request().Context(), id)
	if errors.Is(err, sessionstore.ErrNotFound) {
		return c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error: "session not found or expired", Code: "NOT_FOUND",
		})
	}
	if err != nil {
		h.log.Error("status lookup failed", "session_id", id, "error", err)
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: "could not fetch status", Code: "INTERNAL_ERROR",
		})
	}

	return c.JSON(http.StatusOK, models.NewStatusResponse(sess, ""))
}
