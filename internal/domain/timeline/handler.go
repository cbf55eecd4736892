package timeline

import (
	"net/http"

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
	read := api.Group("/claims", auth.RequireRole(auth.RoleBilling, auth.RoleAuditor))
	read.GET("/:claim_id/status", h.CurrentStatus)
	read.GET("/:claim_id/status-history", h.History)
}

func (h *Handler) CurrentStatus(c echo.Context) error {
	e, err := h.svc.CurrentStatus(c.Request().Context(), c.Param("claim_id"))
	if err != nil {
		return claims.HTTPError(err)
	}
	return c.JSON(http.StatusOK, e)
}

func (h *Handler) History(c echo.Context) error {
	items, err := h.svc.History(c.Request().Context(), c.Param("claim_id"))
	if err != nil {
		return claims.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.Page(items, pagination.FromContext(c)))
}
