// Package handler exposes the attendance core over HTTP with gin.
package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"smartattend/internal/apperr"
	"smartattend/internal/attendance"
	"smartattend/internal/auth"
	"smartattend/internal/cloudinary"
	"smartattend/internal/gamification"
	"smartattend/internal/queue"
)

// Uploader stores images and returns their public URL.
type Uploader interface {
	Configured() bool
	UploadBase64(ctx context.Context, data string) (*cloudinary.UploadResult, error)
	UploadBytes(ctx context.Context, data []byte, filename string) (*cloudinary.UploadResult, error)
}

// HealthCheck reports whether one dependency is reachable.
type HealthCheck func(ctx context.Context) bool

// Deps are the collaborators of the HTTP layer. Events and Uploader may be nil.
type Deps struct {
	Service  *attendance.Service
	Reports  *gamification.Reporter
	Events   queue.Queue
	Uploader Uploader
	Health   map[string]HealthCheck
	Now      func() time.Time
}

// Handler serves the v1 API.
type Handler struct {
	svc      *attendance.Service
	reports  *gamification.Reporter
	events   queue.Queue
	uploader Uploader
	health   map[string]HealthCheck
	now      func() time.Time
}

// New creates a handler.
func New(d Deps) *Handler {
	now := d.Now
	if now == nil {
		now = time.Now
	}
	return &Handler{
		svc:      d.Service,
		reports:  d.Reports,
		events:   d.Events,
		uploader: d.Uploader,
		health:   d.Health,
		now:      now,
	}
}

// Middleware are the route guards installed by the binary.
type Middleware struct {
	Auth      gin.HandlerFunc
	JoinLimit gin.HandlerFunc
}

// Routes registers every endpoint on r.
func (h *Handler) Routes(r gin.IRouter, mw Middleware) {
	r.GET("/healthz", h.healthz)

	v1 := r.Group("/v1", mw.Auth)
	anyone := []attendance.Role{attendance.RoleStudent, attendance.RoleTeacher, attendance.RoleAdmin}
	teachers := auth.RequireRole(attendance.RoleTeacher, attendance.RoleAdmin)
	students := auth.RequireRole(attendance.RoleStudent)

	v1.PUT("/profile", auth.RequireRole(anyone...), h.updateProfile)
	v1.POST("/profile/face", students, h.enrollFace)
	v1.POST("/upload", auth.RequireRole(anyone...), h.upload)

	v1.GET("/courses", auth.RequireRole(anyone...), h.listCourses)
	v1.POST("/courses", teachers, h.createCourse)
	v1.POST("/courses/:id/students", teachers, h.enrollStudent)

	v1.POST("/sessions", auth.RequireIssuer(), h.createSession)
	v1.GET("/sessions/:key", students, h.describeSession)
	v1.POST("/sessions/:key/close", teachers, h.closeSession)
	v1.GET("/sessions/:key/attendance", teachers, h.sessionAttendance)

	join := []gin.HandlerFunc{students}
	if mw.JoinLimit != nil {
		join = append(join, mw.JoinLimit)
	}
	v1.POST("/attendance/join", append(join, h.join)...)

	v1.GET("/analytics/student", students, h.studentAnalytics)
	v1.GET("/analytics/teacher", teachers, h.teacherAnalytics)
	v1.GET("/leaderboard", auth.RequireRole(anyone...), h.leaderboard)
}

// ByUser keys rate-limit buckets by the authenticated caller.
func ByUser(c *gin.Context) string {
	p, ok := auth.FromContext(c)
	if !ok {
		return ""
	}
	return p.UserID
}

func (h *Handler) healthz(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{"status": "ok"}
	for name, check := range h.health {
		ok := check(c.Request.Context())
		body[name] = ok
		if !ok {
			status = http.StatusServiceUnavailable
			body["status"] = "degraded"
		}
	}
	c.JSON(status, body)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindValidation:
		return http.StatusBadRequest
	case apperr.KindAuthorization, apperr.KindSessionExpired, apperr.KindProximityMismatch, apperr.KindBiometricNoMatch:
		return http.StatusForbidden
	case apperr.KindSessionNotFound, apperr.KindCourseNotFound:
		return http.StatusNotFound
	case apperr.KindBiometricNotEnrolled:
		return http.StatusPreconditionFailed
	case apperr.KindBiometricNoFace, apperr.KindBiometricEnrollment:
		return http.StatusUnprocessableEntity
	case apperr.KindDuplicateAttendance:
		return http.StatusConflict
	case apperr.KindConflict, apperr.KindStorage, apperr.KindUnknown:
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}

func writeError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if status >= http.StatusInternalServerError {
		log.Printf("%s %s failed: %v", c.Request.Method, c.FullPath(), err)
	}
	c.AbortWithStatusJSON(status, gin.H{"error": apperr.Message(err), "kind": kind.String()})
}

func badRequest(c *gin.Context, msg string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": msg, "kind": apperr.KindValidation.String()})
}

func principal(c *gin.Context) auth.Principal {
	p, _ := auth.FromContext(c)
	return p
}

// publish is best effort; the ledger is the source of truth.
func (h *Handler) publish(ctx context.Context, typ string, payload any) {
	if h.events == nil {
		return
	}
	msg, err := queue.Encode(typ, payload)
	if err == nil {
		err = h.events.Publish(ctx, msg)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Printf("queue publish %s failed: %v", typ, err)
	}
}
