package handlers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/convertd/cmd/convertd/models"
	"github.com/lyzr/convertd/cmd/convertd/service"
	"github.com/lyzr/convertd/common/logger"
	"github.com/lyzr/convertd/common/sessionstore"
)

// DownloadHandler streams conversion results
type DownloadHandler struct {
	lifecycle *service.Lifecycle
	log       *logger.Logger
}

// NewDownloadHandler creates a new download handler
func NewDownloadHandler(lifecycle *service.Lifecycle, log *logger.Logger) *DownloadHandler {
	return &DownloadHandler{lifecycle: lifecycle, log: log}
}

// Download streams the result as an attachment while the session is
// completed and un-expired
// GET /api/v1/download/:id
func (h *DownloadHandler) Download(c echo.Context) error {
	id := c.Param("id")

	rc, sess, err := h.lifecycle.Download(c.Request().Context(), id)
	switch {
	case errors.Is(err, sessionstore.ErrNotFound):
		return c.JSON(http.StatusNotFound, models.ErrorResponse{
			Error: "session not found", Code: "NOT_FOUND",
		})
	case errors.Is(err, service.ErrExpired):
		return c.JSON(http.StatusGone, models.ErrorResponse{
			Error: "download window has expired", Code: "EXPIRED",
		})
	case errors.Is(err, service.ErrNotReady):
		return c.JSON(http.StatusConflict, models.ErrorResponse{
			Error: "result not ready", Code: "NOT_READY",
		})
	case err != nil:
		h.log.Error("download failed", "session_id", id, "error", err)
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: "could not download file", Code: "INTERNAL_ERROR",
		})
	}
	defer rc.Close()

	c.Response().Header().Set(echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename=%q`, sess.OutputName))
	return c.Stream(http.StatusOK, "application/octet-stream", rc)
}
