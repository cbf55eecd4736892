package reconciliation

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
	read.GET("/:claim_id/payment", h.GetClaimPayment)
	read.GET("/:claim_id/activities", h.ListActivitySummaries)
	read.GET("/:claim_id/financial-timeline", h.ListFinancialTimeline)

	admin := api.Group("/claims", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/:claim_id/reconcile", h.Reconcile)
}

func (h *Handler) GetClaimPayment(c echo.Context) error {
	p, err := h.svc.GetClaimPayment(c.Request().Context(), c.Param("claim_id"))
	if err != nil {
		return claims.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *Handler) ListActivitySummaries(c echo.Context) error {
	items, err := h.svc.ListActivitySummaries(c.Request().Context(), c.Param("claim_id"))
	if err != nil {
		return claims.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.Page(items, pagination.FromContext(c)))
}

func (h *Handler) ListFinancialTimeline(c echo.Context) error {
	items, err := h.svc.ListFinancialTimeline(c.Request().Context(), c.Param("claim_id"))
	if err != nil {
		return claims.HTTPError(err)
	}
	return c.JSON(http.StatusOK, pagination.Page(items, pagination.FromContext(c)))
}

func (h *Handler) Reconcile(c echo.Context) error {
	p, err := h.svc.Reconcile(c.Request().Context(), c.Param("claim_id"))
	if err != nil {
		return claims.HTTPError(err)
	}
	return c.JSON(http.StatusOK, p)
}
