package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"smartattend/internal/apperr"
	"smartattend/internal/attendance"
	"smartattend/internal/biometric"
	"smartattend/internal/metrics"
	"smartattend/internal/queue"
)

// joinCode is the payload rendered as a QR code by the teacher's client.
type joinCode struct {
	SessionKey string `json:"sessionKey"`
}

func (h *Handler) createSession(c *gin.Context) {
	var req struct {
		CourseID        string `json:"course_id" binding:"required"`
		DurationMinutes int    `json:"duration_minutes"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "course_id and duration_minutes are required")
		return
	}
	p := principal(c)
	sess, err := h.svc.CreateSession(c.Request.Context(), attendance.CreateSessionInput{
		CourseID:          req.CourseID,
		IssuerID:          p.UserID,
		DurationMinutes:   req.DurationMinutes,
		IssuerFingerprint: c.ClientIP(),
	}, h.now())
	if err != nil {
		writeError(c, err)
		return
	}
	metrics.SessionsCreated.Inc()
	h.publish(c.Request.Context(), queue.TypeSessionCreated, queue.SessionChanged{
		SessionID: sess.ID, CourseID: sess.CourseID, IssuerID: sess.IssuerID, At: sess.StartTime,
	})
	c.JSON(http.StatusCreated, gin.H{
		"session_key": sess.ID,
		"start_time":  sess.StartTime,
		"end_time":    sess.EndTime,
		"code":        joinCode{SessionKey: sess.ID},
	})
}

func (h *Handler) describeSession(c *gin.Context) {
	info, err := h.svc.DescribeSession(c.Request.Context(), c.Param("key"), h.now())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session_key": info.Session.ID,
		"course_id":   info.Session.CourseID,
		"course_name": info.CourseName,
		"end_time":    info.Session.EndTime,
		"active":      info.Active,
		"attendees":   info.Attendees,
	})
}

func (h *Handler) sessionAttendance(c *gin.Context) {
	attendees, err := h.svc.SessionAttendance(c.Request.Context(), c.Param("key"), principal(c).UserID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_key": c.Param("key"), "attendance": attendees})
}

func (h *Handler) closeSession(c *gin.Context) {
	now := h.now()
	key := c.Param("key")
	sess, err := h.svc.CloseSession(c.Request.Context(), key, principal(c).UserID, now)
	if err != nil {
		writeError(c, err)
		return
	}
	h.publish(c.Request.Context(), queue.TypeSessionClosed, queue.SessionChanged{
		SessionID: sess.ID, CourseID: sess.CourseID, IssuerID: sess.IssuerID, At: *sess.ClosedAt,
	})
	c.Status(http.StatusNoContent)
}

func (h *Handler) join(c *gin.Context) {
	var req struct {
		SessionKey  string                 `json:"session_key" binding:"required"`
		Method      string                 `json:"method" binding:"required"`
		Descriptors []biometric.Descriptor `json:"descriptors"`
		ImageURL    string                 `json:"image_url"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "session_key and method are required")
		return
	}
	method, err := attendance.ParseMethod(req.Method)
	if err != nil {
		metrics.JoinOutcomes.WithLabelValues(apperr.KindValidation.String()).Inc()
		writeError(c, err)
		return
	}

	res, err := h.svc.Join(c.Request.Context(), attendance.JoinRequest{
		SessionID:   req.SessionKey,
		StudentID:   principal(c).UserID,
		Method:      method,
		Fingerprint: c.ClientIP(),
		Descriptors: req.Descriptors,
		ImageURL:    req.ImageURL,
	}, h.now())
	if res.Match != nil {
		metrics.MatchDistance.Observe(res.Match.Distance)
	}
	if err != nil {
		metrics.JoinOutcomes.WithLabelValues(apperr.KindOf(err).String()).Inc()
		writeError(c, err)
		return
	}
	metrics.JoinOutcomes.WithLabelValues("ok").Inc()

	rec := res.Record
	h.publish(c.Request.Context(), queue.TypeAttendanceRecorded, queue.AttendanceRecorded{
		SessionID: rec.SessionID,
		StudentID: rec.StudentID,
		CourseID:  rec.CourseID,
		Method:    rec.Method.String(),
		Timestamp: rec.Timestamp,
	})
	c.JSON(http.StatusCreated, gin.H{
		"course_name": res.CourseName,
		"method":      rec.Method,
		"timestamp":   rec.Timestamp,
	})
}
