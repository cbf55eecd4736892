package ingestion

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/claims/internal/domain/claims"
	"github.com/ehr/claims/internal/platform/auth"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/ingest", auth.RequireRole(auth.RoleIngest))
	g.POST("/batches", h.IngestBatch)
}

func (h *Handler) IngestBatch(c echo.Context) error {
	var b Batch
	if err := c.Bind(&b); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid batch: "+err.Error())
	}
	res, err := h.svc.IngestBatch(c.Request().Context(), &b)
	if b.ID != uuid.Nil {
		c.Set("batch_id", b.ID.String())
	}
	if err != nil {
		return claims.HTTPError(err)
	}
	return c.JSON(http.StatusCreated, res)
}
