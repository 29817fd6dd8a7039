package handler

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/campuskit/attendance-api/internal/service"
	"github.com/campuskit/attendance-api/pkg/response"
)

// ReportHandler exposes attendance report downloads.
type ReportHandler struct {
	service *service.ExportService
}

// NewReportHandler constructs a report handler.
func NewReportHandler(svc *service.ExportService) *ReportHandler {
	return &ReportHandler{service: svc}
}

// ClassReport godoc
// @Summary Download the class attendance report
// @Tags Reports
// @Produce text/csv
// @Produce application/pdf
// @Param class_id path string true "Class ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Router /reports/classes/{class_id} [get]
func (h *ReportHandler) ClassReport(c *gin.Context) {
	format := c.DefaultQuery("format", "csv")
	report, err := h.service.ClassReport(c.Request.Context(), c.Param("class_id"), format, claimsFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", report.Filename))
	c.Data(http.StatusOK, report.ContentType, report.Content)
}
