package verification

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/claims/internal/domain/claims"
	"github.com/ehr/claims/internal/platform/auth"
	"github.com/ehr/claims/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/verification", auth.RequireRole(auth.RoleAuditor, auth.RoleBilling))
	read.GET("/runs", h.ListRuns)
	read.GET("/runs/latest", h.LatestRun)
	read.GET("/runs/:id", h.GetRun)
	read.GET("/runs/:id/results", h.ListResults)
	read.GET("/rules", h.ListRules)

	write := api.Group("/verification", auth.RequireRole(auth.RoleAuditor))
	write.POST("/runs", h.RunNow)
}

type runRequest struct {
	BatchID *uuid.UUID `json:"batch_id"`
}

func (h *Handler) RunNow(c echo.Context) error {
	var req runRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	report, err := h.svc.RunNow(c.Request().Context(), req.BatchID)
	if err != nil {
		return claims.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, report)
}

func (h *Handler) LatestRun(c echo.Context) error {
	report, err := h.svc.LatestRun(c.Request().Context())
	if err != nil {
		return claims.HTTPError(err)
	}
	return c.JSON(http.StatusOK, report)
}

func (h *Handler) ListRuns(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListRuns(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return claims.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func runID(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "invalid run id")
	}
	return id, nil
}

func (h *Handler) GetRun(c echo.Context) error {
	id, err := runID(c)
	if err != nil {
		return err
	}
	run, err := h.svc.GetRun(c.Request().Context(), id)
	if err != nil {
		return claims.HTTPError(err)
	}
	return c.JSON(http.StatusOK, run)
}

func (h *Handler) ListResults(c echo.Context) error {
	id, err := runID(c)
	if err != nil {
		return err
	}
	items, err := h.svc.ListResults(c.Request().Context(), id)
	if err != nil {
		return claims.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.Page(items, pagination.FromContext(c)))
}

func (h *Handler) ListRules(c echo.Context) error {
	items, err := h.svc.ListRules(c.Request().Context())
	if err != nil {
		return claims.HTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}
