package handler

import (
	"io"
	"log"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"smartattend/internal/attendance"
	"smartattend/internal/biometric"
)

// maxUploadBytes caps multipart image uploads.
const maxUploadBytes = 8 << 20

func (h *Handler) createCourse(c *gin.Context) {
	var req struct {
		Code string `json:"code" binding:"required"`
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "code and name are required")
		return
	}
	course, err := h.svc.CreateCourse(c.Request.Context(), principal(c).UserID, req.Code, req.Name)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, course)
}

func (h *Handler) listCourses(c *gin.Context) {
	p := principal(c)
	courses, err := h.svc.ListCourses(c.Request.Context(), p.UserID, p.Role)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"courses": courses})
}

func (h *Handler) enrollStudent(c *gin.Context) {
	var req struct {
		StudentID string `json:"student_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "student_id is required")
		return
	}
	if err := h.svc.EnrollStudent(c.Request.Context(), principal(c).UserID, c.Param("id"), req.StudentID); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) updateProfile(c *gin.Context) {
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "name is required")
		return
	}
	p := principal(c)
	u := attendance.User{ID: p.UserID, Name: req.Name, Role: p.Role}
	if err := h.svc.UpdateProfile(c.Request.Context(), u); err != nil {
		writeError(c, err)
		return
	}
	u.Name = strings.TrimSpace(u.Name)
	c.JSON(http.StatusOK, u)
}

func (h *Handler) enrollFace(c *gin.Context) {
	var req struct {
		ImageURL   string               `json:"image_url"`
		Descriptor biometric.Descriptor `json:"descriptor"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "provide image_url or descriptor")
		return
	}
	now := h.now()
	err := h.svc.EnrollFace(c.Request.Context(), principal(c).UserID, attendance.EnrollInput{
		ImageURL:   req.ImageURL,
		Descriptor: req.Descriptor,
	}, now)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enrolled": true, "enrolled_at": now.UTC()})
}

func (h *Handler) upload(c *gin.Context) {
	if h.uploader == nil || !h.uploader.Configured() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "image storage not configured", "kind": "unavailable"})
		return
	}
	ctx := c.Request.Context()

	var (
		url string
		err error
	)
	if strings.Contains(c.ContentType(), "multipart/form-data") {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadBytes)
		file, header, ferr := c.Request.FormFile("file")
		if ferr != nil {
			badRequest(c, "file field required")
			return
		}
		defer file.Close()
		data, ferr := io.ReadAll(file)
		if ferr != nil {
			badRequest(c, "read file failed")
			return
		}
		res, uerr := h.uploader.UploadBytes(ctx, data, header.Filename)
		if uerr == nil {
			url = res.SecureURL
		}
		err = uerr
	} else {
		var body struct {
			Data string `json:"data" binding:"required"`
		}
		if berr := c.ShouldBindJSON(&body); berr != nil {
			badRequest(c, `provide {"data": "<base64 data URL>"}`)
			return
		}
		res, uerr := h.uploader.UploadBase64(ctx, body.Data)
		if uerr == nil {
			url = res.SecureURL
		}
		err = uerr
	}
	if err != nil {
		log.Printf("image upload failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "image upload failed", "kind": "upstream"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": url})
}
