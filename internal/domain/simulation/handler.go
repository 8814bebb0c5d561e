package simulation

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/haclabs/haccare/internal/platform/auth"
	"github.com/haclabs/haccare/pkg/pagination"
)

// Handler exposes the engine over JSON endpoints under /api/sim.
type Handler struct {
	svc *Service
}

// NewHandler creates the simulation handler.
func NewHandler(svc *Service) *Handler { return &Handler{svc: svc} }

// RegisterRoutes mounts the simulation API. All mutating routes require the
// admin or instructor role; the engine itself stays policy-free.
func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("", auth.RequireRole("admin", "instructor", "nurse"))
	read.GET("/templates", h.ListTemplates)
	read.GET("/templates/:id", h.GetTemplate)
	read.GET("/templates/:id/sessions", h.ListSessions)
	read.GET("/templates/:id/sessions/:n/labels", h.GetLabelData)
	read.GET("/active", h.ListSimulations)
	read.GET("/active/:id", h.GetSimulation)
	read.GET("/active/:id/history", h.ListResets)

	write := api.Group("", auth.RequireRole("admin", "instructor"))
	write.POST("/templates", h.CreateTemplate)
	write.POST("/templates/:id/snapshot", h.SaveSnapshot)
	write.POST("/templates/:id/launch", h.Launch)
	write.POST("/templates/:id/sessions", h.GenerateSessions)
	write.POST("/active/:id/reset", h.Reset)
	write.POST("/active/:id/complete", h.Complete)
	write.DELETE("/active/:id", h.Archive)
}

func httpError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrPrecondition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

type createTemplateRequest struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}

func (h *Handler) CreateTemplate(c echo.Context) error {
	var req createTemplateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	tpl, err := h.svc.CreateTemplate(c.Request().Context(), req.Name, req.Description, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, tpl)
}

func (h *Handler) GetTemplate(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	tpl, err := h.svc.GetTemplate(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, tpl)
}

func (h *Handler) ListTemplates(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListTemplates(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) SaveSnapshot(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.SaveSnapshot(c.Request().Context(), id, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":          true,
		"snapshot_version": res.SnapshotVersion,
		"message":          res.Message,
	})
}

type launchRequest struct {
	Name            string   `json:"name"`
	DurationMinutes int      `json:"duration_minutes"`
	ParticipantIDs  []string `json:"participant_ids,omitempty"`
	SessionNumber   *int     `json:"session_number,omitempty"`
}

func (h *Handler) Launch(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req launchRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	// Zero means "use the configured default"; only explicit negatives are rejected.
	if req.DurationMinutes < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "duration_minutes must not be negative")
	}

	res, err := h.svc.Launch(c.Request().Context(), id, req.Name, req.DurationMinutes,
		req.ParticipantIDs, req.SessionNumber, auth.UserIDFromContext(c.Request().Context()))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"success":                true,
		"simulation_instance_id": res.SimulationID,
		"tenant_id":              res.TenantID,
		"ids_preserved":          res.IDsPreserved,
		"rows_restored":          res.RowsRestored,
		"warnings":               res.Warnings,
	})
}

type generateSessionsRequest struct {
	Count  int      `json:"count"`
	Labels []string `json:"labels,omitempty"`
}

func (h *Handler) GenerateSessions(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req generateSessionsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	sessions, err := h.svc.GenerateSessions(c.Request().Context(), id, req.Count, req.Labels)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"success":  true,
		"sessions": sessions,
	})
}

func (h *Handler) ListSessions(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	sessions, err := h.svc.ListSessions(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if sessions == nil {
		sessions = []Session{}
	}
	return c.JSON(http.StatusOK, sessions)
}

func (h *Handler) GetLabelData(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var n int
	if err := echo.PathParamsBinder(c).Int("n", &n).BindError(); err != nil || n < 1 {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid session number")
	}

	data, err := h.svc.LabelData(c.Request().Context(), id, n)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, data)
}

func (h *Handler) GetSimulation(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	sim, err := h.svc.GetSimulation(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sim)
}

func (h *Handler) ListSimulations(c echo.Context) error {
	p := pagination.FromContext(c)
	items, total, err := h.svc.ListSimulations(c.Request().Context(), p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) Reset(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.Reset(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"success":        true,
		"ids_preserved":  res.IDsPreserved,
		"session_number": res.SessionNumber,
		"rows_restored":  res.RowsRestored,
		"warnings":       res.Warnings,
	})
}

func (h *Handler) ListResets(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListResets(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	if items == nil {
		items = []*ResetAudit{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) Complete(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Complete(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true})
}

func (h *Handler) Archive(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if err := h.svc.Archive(c.Request().Context(), id); err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"success": true})
}
