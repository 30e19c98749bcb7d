package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/lyzr/convertd/cmd/convertd/container"
	"github.com/lyzr/convertd/cmd/convertd/handlers"
)

// RegisterFileRoutes registers upload routes
func RegisterFileRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewFileHandler(c.Lifecycle, c.Logger)

	files := e.Group("/api/v1/files")
	{
		files.POST("/upload", h.Upload) // POST /api/v1/files/upload
	}
}

// RegisterProcessRoutes registers processing and status routes
func RegisterProcessRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewProcessHandler(c.Lifecycle, c.Logger)

	process := e.Group("/api/v1/process")
	{
		process.POST("/start", h.Start)      // POST /api/v1/process/start
		process.GET("/status/:id", h.Status) // GET /api/v1/process/status/{session_id}
	}
}

// RegisterDownloadRoutes registers the result download route
func RegisterDownloadRoutes(e *echo.Echo, c *container.Container) {
	h := handlers.NewDownloadHandler(c.Lifecycle, c.Logger)

	e.GET("/api/v1/download/:id", h.Download) // GET /api/v1/download/{session_id}
}

// RegisterAuditRoutes registers the admin audit trail, only when the
// audit repository is configured
func RegisterAuditRoutes(e *echo.Echo, c *container.Container) {
	if c.AuditRepo == nil {
		return
	}
	h := handlers.NewAuditHandler(c.AuditRepo, c.Logger)

	admin := e.Group("/api/v1/admin")
	{
		admin.GET("/conversions", h.ListConversions) // GET /api/v1/admin/conversions?limit=N
	}
}
