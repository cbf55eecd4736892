package payerperf

import (
	"net/http"
	"time"

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
	g := api.Group("/payer-performance", auth.RequireRole(auth.RoleBilling))
	g.GET("", h.List)
	g.POST("/rollup", h.Rollup)
}

func (h *Handler) List(c echo.Context) error {
	var month time.Time
	if v := c.QueryParam("month"); v != "" {
		m, err := ParseMonth(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		month = m
	}
	pg := pagination.FromContext(c)
	items, total, err := h.svc.List(c.Request().Context(), month, pg.Limit, pg.Offset)
	if err != nil {
		return claims.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

type rollupRequest struct {
	Month string `json:"month"`
}

func (h *Handler) Rollup(c echo.Context) error {
	var req rollupRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.Month == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "month is required")
	}
	month, err := ParseMonth(req.Month)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	items, err := h.svc.RunMonth(c.Request().Context(), month)
	if err != nil {
		return claims.HTTPError(err)
	}
	return c.JSON(http.StatusOK, items)
}
