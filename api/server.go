// Package api exposes the workflow service over HTTP.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/tenantflow/engine/events"
	"github.com/tenantflow/engine/schedule"
	"github.com/tenantflow/engine/storage"
	"github.com/tenantflow/engine/templates"
	"github.com/tenantflow/engine/types"
	"github.com/tenantflow/engine/workflow"
)

// tenantHeader carries the caller's tenant. Listing and event emission are
// tenant-scoped; everything else is keyed by resource ID.
const tenantHeader = "X-Tenant-ID"

// Server wires the workflow service, trigger registry and template catalog
// into an echo router.
type Server struct {
	echo     *echo.Echo
	service  *workflow.Service
	registry *events.Registry
	catalog  *templates.Catalog
	logger   *slog.Logger
}

// NewServer builds the HTTP server. registry and catalog may be nil, in
// which case the corresponding routes respond 503.
func NewServer(service *workflow.Service, registry *events.Registry, catalog *templates.Catalog, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		echo:     echo.New(),
		service:  service,
		registry: registry,
		catalog:  catalog,
		logger:   logger,
	}
	s.echo.HideBanner = true
	s.echo.Use(middleware.Recover())
	s.echo.Use(middleware.RequestID())
	s.routes()
	return s
}

// Start begins serving on addr and blocks until the server stops.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) routes() {
	e := s.echo
	e.GET("/health", s.health)

	e.POST("/workflows", s.createWorkflow)
	e.GET("/workflows", s.listWorkflows)
	e.GET("/workflows/:id", s.getWorkflow)
	e.PUT("/workflows/:id", s.updateWorkflow)
	e.DELETE("/workflows/:id", s.deleteWorkflow)

	e.POST("/workflows/:id/activate", s.activateWorkflow)
	e.POST("/workflows/:id/pause", s.pauseWorkflow)
	e.POST("/workflows/:id/archive", s.archiveWorkflow)
	e.POST("/workflows/:id/trigger", s.triggerWorkflow)
	e.POST("/workflows/test", s.testWorkflow)

	e.GET("/workflows/:id/versions", s.listVersions)
	e.GET("/workflows/:id/versions/:version", s.getVersion)
	e.POST("/workflows/:id/rollback/:version", s.rollbackWorkflow)

	e.GET("/workflows/:id/executions", s.listExecutions)
	e.GET("/executions/:id", s.getExecution)
	e.POST("/executions/:id/cancel", s.cancelExecution)
	e.POST("/executions/:id/resume", s.resumeExecution)

	e.POST("/events", s.emitEvent)

	e.GET("/templates", s.listTemplates)
	e.GET("/templates/:id", s.getTemplate)
	e.POST("/templates/:id/instantiate", s.instantiateTemplate)

	e.GET("/schedules/presets", s.listPresets)
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) createWorkflow(c echo.Context) error {
	var wf types.Workflow
	if err := c.Bind(&wf); err != nil {
		return badRequest(c, "invalid workflow body")
	}
	if wf.TenantID == "" {
		wf.TenantID = c.Request().Header.Get(tenantHeader)
	}
	created, err := s.service.Create(c.Request().Context(), wf)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (s *Server) listWorkflows(c echo.Context) error {
	tenantID := c.Request().Header.Get(tenantHeader)
	if tenantID == "" {
		tenantID = c.QueryParam("tenant_id")
	}
	filter := storage.ListFilter{
		Status:   c.QueryParam("status"),
		Category: c.QueryParam("category"),
	}
	if v := c.QueryParam("skip"); v != "" {
		filter.Skip, _ = strconv.Atoi(v)
	}
	if v := c.QueryParam("limit"); v != "" {
		filter.Limit, _ = strconv.Atoi(v)
	}
	workflows, err := s.service.List(c.Request().Context(), tenantID, filter)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"workflows": workflows, "count": len(workflows)})
}

func (s *Server) getWorkflow(c echo.Context) error {
	wf, err := s.service.Get(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, wf)
}

func (s *Server) updateWorkflow(c echo.Context) error {
	var wf types.Workflow
	if err := c.Bind(&wf); err != nil {
		return badRequest(c, "invalid workflow body")
	}
	wf.ID = c.Param("id")
	updated, err := s.service.Update(c.Request().Context(), wf)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, updated)
}

func (s *Server) deleteWorkflow(c echo.Context) error {
	if err := s.service.Delete(c.Request().Context(), c.Param("id")); err != nil {
		return s.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) activateWorkflow(c echo.Context) error {
	wf, verrs, err := s.service.Activate(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	if len(verrs) > 0 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error":  "workflow failed validation",
			"errors": verrs,
		})
	}
	return c.JSON(http.StatusOK, wf)
}

func (s *Server) pauseWorkflow(c echo.Context) error {
	wf, err := s.service.Pause(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, wf)
}

func (s *Server) archiveWorkflow(c echo.Context) error {
	wf, err := s.service.Archive(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, wf)
}

func (s *Server) triggerWorkflow(c echo.Context) error {
	var params map[string]interface{}
	if err := c.Bind(&params); err != nil && !errors.Is(err, echo.ErrUnsupportedMediaType) {
		return badRequest(c, "invalid trigger body")
	}
	exec, err := s.service.TriggerManual(c.Request().Context(), c.Param("id"), params)
	if err != nil {
		if exec != nil {
			// The run itself failed; the execution record carries the detail.
			return c.JSON(http.StatusOK, exec)
		}
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, exec)
}

func (s *Server) testWorkflow(c echo.Context) error {
	var wf types.Workflow
	if err := c.Bind(&wf); err != nil {
		return badRequest(c, "invalid workflow body")
	}
	verrs := s.service.TestRun(wf)
	return c.JSON(http.StatusOK, map[string]interface{}{
		"valid":  len(verrs) == 0,
		"errors": verrs,
	})
}

func (s *Server) listVersions(c echo.Context) error {
	versions, err := s.service.ListVersions(c.Request().Context(), c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"versions": versions, "count": len(versions)})
}

func (s *Server) getVersion(c echo.Context) error {
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil {
		return badRequest(c, "version must be an integer")
	}
	v, err := s.service.GetVersion(c.Request().Context(), c.Param("id"), version)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, v)
}

func (s *Server) rollbackWorkflow(c echo.Context) error {
	version, err := strconv.Atoi(c.Param("version"))
	if err != nil {
		return badRequest(c, "version must be an integer")
	}
	wf, verrs, err := s.service.Rollback(c.Request().Context(), c.Param("id"), version)
	if err != nil {
		return s.fail(c, err)
	}
	if len(verrs) > 0 {
		return c.JSON(http.StatusBadRequest, map[string]interface{}{
			"error":  "rolled-back definition failed validation",
			"errors": verrs,
		})
	}
	return c.JSON(http.StatusOK, wf)
}

func (s *Server) listExecutions(c echo.Context) error {
	limit := 50
	if v := c.QueryParam("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	execs, err := s.service.ListExecutions(c.Request().Context(), c.Param("id"), limit)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"executions": execs, "count": len(execs)})
}

func (s *Server) getExecution(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return badRequest(c, "execution id must be an unsigned integer")
	}
	exec, err := s.service.GetExecution(c.Request().Context(), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, exec)
}

func (s *Server) cancelExecution(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return badRequest(c, "execution id must be an unsigned integer")
	}
	if !s.service.CancelExecution(id) {
		return c.JSON(http.StatusConflict, map[string]string{"error": "execution is not running"})
	}
	return c.JSON(http.StatusAccepted, map[string]interface{}{"id": id, "cancelled": true})
}

func (s *Server) resumeExecution(c echo.Context) error {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		return badRequest(c, "execution id must be an unsigned integer")
	}
	exec, err := s.service.ResumeExecution(c.Request().Context(), id)
	if err != nil {
		if exec != nil {
			return c.JSON(http.StatusOK, exec)
		}
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, exec)
}

type emitRequest struct {
	Event   string                 `json:"event"`
	Payload map[string]interface{} `json:"payload"`
}

func (s *Server) emitEvent(c echo.Context) error {
	if s.registry == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "event triggers are not enabled"})
	}
	var req emitRequest
	if err := c.Bind(&req); err != nil {
		return badRequest(c, "invalid event body")
	}
	if req.Event == "" {
		return badRequest(c, "event name is required")
	}
	tenantID := c.Request().Header.Get(tenantHeader)
	triggered, err := s.registry.Emit(c.Request().Context(), req.Event, req.Payload, tenantID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusAccepted, map[string]interface{}{
		"event":     req.Event,
		"triggered": triggered,
	})
}

func (s *Server) listTemplates(c echo.Context) error {
	if s.catalog == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "templates are not enabled"})
	}
	list := s.catalog.List(c.QueryParam("category"))
	return c.JSON(http.StatusOK, map[string]interface{}{"templates": list, "count": len(list)})
}

func (s *Server) getTemplate(c echo.Context) error {
	if s.catalog == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "templates are not enabled"})
	}
	t, err := s.catalog.Get(c.Param("id"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusOK, t)
}

type instantiateRequest struct {
	Name string `json:"name"`
}

func (s *Server) instantiateTemplate(c echo.Context) error {
	if s.catalog == nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"error": "templates are not enabled"})
	}
	var req instantiateRequest
	if err := c.Bind(&req); err != nil && !errors.Is(err, echo.ErrUnsupportedMediaType) {
		return badRequest(c, "invalid instantiate body")
	}
	tenantID := c.Request().Header.Get(tenantHeader)
	wf, err := s.catalog.Instantiate(c.Param("id"), tenantID, req.Name)
	if err != nil {
		return s.fail(c, err)
	}
	created, err := s.service.Create(c.Request().Context(), wf)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (s *Server) listPresets(c echo.Context) error {
	names := schedule.PresetNames()
	out := make([]map[string]string, 0, len(names))
	for _, name := range names {
		expr, _ := schedule.PresetExpression(name)
		out = append(out, map[string]string{"name": name, "cron": expr})
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"presets": out})
}

// fail maps service errors to HTTP responses. Not-found sentinels become
// 404s; anything else is a 500 with the detail logged, not leaked.
func (s *Server) fail(c echo.Context, err error) error {
	switch {
	case errors.Is(err, storage.ErrWorkflowNotFound),
		errors.Is(err, storage.ErrVersionNotFound),
		errors.Is(err, storage.ErrExecutionNotFound),
		errors.Is(err, storage.ErrJobNotFound),
		errors.Is(err, templates.ErrTemplateNotFound):
		return c.JSON(http.StatusNotFound, map[string]string{"error": err.Error()})
	case errors.Is(err, workflow.ErrNotWaiting):
		return c.JSON(http.StatusConflict, map[string]string{"error": err.Error()})
	}
	s.logger.Error("request failed",
		"method", c.Request().Method,
		"path", c.Path(),
		"error", err,
	)
	return c.JSON(http.StatusInternalServerError, map[string]string{"error": "internal error"})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, map[string]string{"error": msg})
}
