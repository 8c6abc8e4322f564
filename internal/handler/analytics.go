package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

func (h *Handler) studentAnalytics(c *gin.Context) {
	rep, err := h.reports.StudentReport(c.Request.Context(), principal(c).UserID, h.now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (h *Handler) teacherAnalytics(c *gin.Context) {
	rep, err := h.reports.TeacherReport(c.Request.Context(), principal(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, rep)
}

func (h *Handler) leaderboard(c *gin.Context) {
	lb, err := h.reports.Leaderboard(c.Request.Context(), principal(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, lb)
}
