package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campuskit/attendance-api/internal/models"
	"github.com/campuskit/attendance-api/internal/service"
	appErrors "github.com/campuskit/attendance-api/pkg/errors"
	"github.com/campuskit/attendance-api/pkg/response"
)

// DisputeHandler exposes dispute endpoints.
type DisputeHandler struct {
	service *service.DisputeService
}

// NewDisputeHandler constructs a dispute handler.
func NewDisputeHandler(svc *service.DisputeService) *DisputeHandler {
	return &DisputeHandler{service: svc}
}

// Raise godoc
// @Summary Raise a dispute against an attendance record
// @Tags Disputes
// @Accept json
// @Produce json
// @Param payload body service.RaiseDisputeRequest true "Dispute payload"
// @Success 201 {object} response.Envelope
// @Router /disputes [post]
func (h *DisputeHandler) Raise(c *gin.Context) {
	var req service.RaiseDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	dispute, err := h.service.Raise(c.Request.Context(), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dispute)
}

// Resolve godoc
// @Summary Resolve a pending dispute
// @Tags Disputes
// @Accept json
// @Produce json
// @Param id path string true "Dispute ID"
// @Param payload body service.ResolveDisputeRequest true "Resolution payload"
// @Success 200 {object} response.Envelope
// @Router /disputes/{id}/resolve [patch]
func (h *DisputeHandler) Resolve(c *gin.Context) {
	var req service.ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	dispute, err := h.service.Resolve(c.Request.Context(), c.Param("id"), req, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dispute, nil)
}

// List godoc
// @Summary List disputes for a class
// @Tags Disputes
// @Produce json
// @Param class_id query string true "Class ID"
// @Param status query string false "Filter by status"
// @Success 200 {object} response.Envelope
// @Router /disputes [get]
func (h *DisputeHandler) List(c *gin.Context) {
	classID := c.Query("class_id")
	if classID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "class_id is required"))
		return
	}

	var status *models.DisputeStatus
	if raw := c.Query("status"); raw != "" {
		value := models.DisputeStatus(raw)
		status = &value
	}

	disputes, err := h.service.List(c.Request.Context(), classID, status, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, disputes, nil)
}
