package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/convertd/cmd/convertd/models"
	"github.com/lyzr/convertd/cmd/convertd/service"
	"github.com/lyzr/convertd/common/logger"
	"github.com/lyzr/convertd/common/sessionstore"
)

// FileHandler handles upload requests
type FileHandler struct {
	lifecycle *service.Lifecycle
	log       *logger.Logger
}

// NewFileHandler creates a new file handler
func NewFileHandler(lifecycle *service.Lifecycle, log *logger.Logger) *FileHandler {
	return &FileHandler{lifecycle: lifecycle, log: log}
}

// Upload accepts a multipart file plus tool_type (and optional options
// JSON) and creates a session
// POST /api/v1/files/upload
func (h *FileHandler) Upload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "missing file field", Code: "BAD_REQUEST",
		})
	}

	tool := c.FormValue("tool_type")
	if tool == "" {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "missing tool_type field", Code: "BAD_REQUEST",
		})
	}

	var options map[string]any
	if raw := c.FormValue("options"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &options); err != nil {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error: "options must be a JSON object", Code: "BAD_REQUEST",
			})
		}
	}

	src, err := fileHeader.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{
			Error: "could not read uploaded file", Code: "BAD_REQUEST",
		})
	}
	defer src.Close()

	contentType := fileHeader.Header.Get("Content-Type")

	sess, err := h.lifecycle.Upload(c.Request().Context(), src, fileHeader.Size,
		fileHeader.Filename, contentType,
		sessionstore.Operation{Tool: tool, Options: options})
	if err != nil {
		return h.uploadError(c, err)
	}

	return c.JSON(http.StatusCreated, models.UploadResponse{
		SessionID:  sess.ID,
		Filename:   sess.Filename,
		Size:       sess.Size,
		FileType:   sess.ContentType,
		UploadTime: sess.CreatedAt,
	})
}

func (h *FileHandler) uploadError(c echo.Context, err error) error {
	var ve *service.ValidationError
	if errors.As(err, &ve) {
		status := http.StatusBadRequest
		switch ve.Code {
		case service.CodeFileTooLarge:
			status = http.StatusRequestEntityTooLarge
		case service.CodeUnsupportedType:
			status = http.StatusUnsupportedMediaType
		}
		h.log.Warn("upload rejected", "code", ve.Code, "error", ve.Message)
		return c.JSON(status, models.ErrorResponse{Error: ve.Message, Code: ve.Code})
	}

	h.log.Error("upload failed", "error", err)
	return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
		Error: "file upload failed", Code: "UPLOAD_ERROR",
	})
}
