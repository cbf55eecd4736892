package claims

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/ehr/claims/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	read := api.Group("/claims", auth.RequireRole(auth.RoleBilling, auth.RoleAuditor))
	read.GET("/:claim_id/events", h.ListEvents)
	read.GET("/:claim_id/log", h.GetLog)
}

func (h *Handler) ListEvents(c echo.Context) error {
	events, err := h.svc.ListEvents(c.Request().Context(), c.Param("claim_id"), c.QueryParam("type"))
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, events)
}

func (h *Handler) GetLog(c echo.Context) error {
	log, err := h.svc.GetLog(c.Request().Context(), c.Param("claim_id"))
	if err != nil {
		return HTTPError(err)
	}
	return c.JSON(http.StatusOK, log)
}

// HTTPError maps event-log and authorization errors onto HTTP statuses.
// Other domain packages reuse it since they share the same sentinels.
func HTTPError(err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrConstraintViolation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, auth.ErrUnauthenticated), errors.Is(err, auth.ErrForbidden):
		return auth.HTTPError(err)
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}
