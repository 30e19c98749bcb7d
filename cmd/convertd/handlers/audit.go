package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/lyzr/convertd/cmd/convertd/models"
	"github.com/lyzr/convertd/cmd/convertd/repository"
	"github.com/lyzr/convertd/common/logger"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AuditLister retrieves recent conversion audit rows
type AuditLister interface {
	ListRecent(ctx context.Context, limit int) ([]*repository.ConversionRecord, error)
}

// AuditHandler serves the conversion audit trail
type AuditHandler struct {
	audit AuditLister
	log   *logger.Logger
}

// NewAuditHandler creates a new audit handler
func NewAuditHandler(audit AuditLister, log *logger.Logger) *AuditHandler {
	return &AuditHandler{audit: audit, log: log}
}

// ListConversions returns the most recent terminal conversion outcomes
// GET /api/v1/admin/conversions?limit=N
func (h *AuditHandler) ListConversions(c echo.Context) error {
	limit := defaultAuditLimit
	if raw := c.QueryParam("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return c.JSON(http.StatusBadRequest, models.ErrorResponse{
				Error: "limit must be a positive integer", Code: "BAD_REQUEST",
			})
		}
		limit = parsed
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}

	records, err := h.audit.ListRecent(c.Request().Context(), limit)
	if err != nil {
		h.log.Error("failed to list audit records", "error", err)
		return c.JSON(http.StatusInternalServerError, models.ErrorResponse{
			Error: "could not list conversions", Code: "INTERNAL_ERROR",
		})
	}

	resp := make([]models.ConversionAuditResponse, 0, len(records))
	for _, rec := range records {
		resp = append(resp, models.ConversionAuditResponse{
			SessionID:  rec.SessionID,
			Tool:       rec.Tool,
			Outcome:    rec.Outcome,
			Cause:      rec.Cause,
			InputSize:  rec.InputSize,
			OutputSize: rec.OutputSize,
			DurationMS: rec.DurationMS,
			CreatedAt:  rec.CreatedAt,
		})
	}

	return c.JSON(http.StatusOK, resp)
}
