package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campuskit/attendance-api/internal/models"
	"github.com/campuskit/attendance-api/internal/service"
	appErrors "github.com/campuskit/attendance-api/pkg/errors"
	"github.com/campuskit/attendance-api/pkg/response"
)

// FraudHandler exposes fraud flag review endpoints.
type FraudHandler struct {
	service *service.FraudService
}

// NewFraudHandler constructs a fraud handler.
func NewFraudHandler(svc *service.FraudService) *FraudHandler {
	return &FraudHandler{service: svc}
}

// List godoc
// @Summary List fraud flags for a session
// @Tags Fraud
// @Produce json
// @Param session_id query string true "Session ID"
// @Param status query string false "Filter by status"
// @Success 200 {object} response.Envelope
// @Router /fraud-flags [get]
func (h *FraudHandler) List(c *gin.Context) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "session_id is required"))
		return
	}

	var status *models.FraudFlagStatus
	if raw := c.Query("status"); raw != "" {
		value := models.FraudFlagStatus(raw)
		status = &value
	}

	flags, err := h.service.ListFlags(c.Request.Context(), sessionID, status)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, flags, nil)
}

type reviewFlagRequest struct {
	Status string  `json:"status" binding:"required"`
	Notes  *string `json:"notes"`
}

// Review godoc
// @Summary Review a pending fraud flag
// @Tags Fraud
// @Accept json
// @Produce json
// @Param id path string true "Flag ID"
// @Param payload body reviewFlagRequest true "Review payload"
// @Success 204
// @Router /fraud-flags/{id} [patch]
func (h *FraudHandler) Review(c *gin.Context) {
	var req reviewFlagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	err := h.service.ReviewFlag(c.Request.Context(), c.Param("id"), models.FraudFlagStatus(req.Status), req.Notes)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
