package attendance

import (
	"strings"
	"time"

	"smartattend/internal/apperr"
	"smartattend/internal/biometric"
)

// Session is a time-boxed window during which students may record attendance.
type Session struct {
	ID                string     `json:"id"`
	CourseID          string     `json:"course_id"`
	IssuerID          string     `json:"issuer_id"`
	IssuerFingerprint string     `json:"-"`
	StartTime         time.Time  `json:"start_time"`
	EndTime           time.Time  `json:"end_time"`
	ClosedAt          *time.Time `json:"closed_at,omitempty"`
}

// IsActive reports whether the session accepts joins at now. Expiry is
// evaluated on every read; nothing sweeps sessions closed in the background.
func IsActive(s Session, now time.Time) bool {
	if s.ClosedAt != nil {
		return false
	}
	return !now.Before(s.StartTime) && now.Before(s.EndTime)
}

// Record is the immutable proof that a student attended a session.
type Record struct {
	SessionID string    `json:"session_id"`
	StudentID string    `json:"student_id"`
	CourseID  string    `json:"course_id"`
	Method    Method    `json:"method"`
	Timestamp time.Time `json:"timestamp"`
}

// Course is owned by one issuer and has a roster of enrolled students.
type Course struct {
	ID       string `json:"id"`
	Code     string `json:"code"`
	Name     string `json:"name"`
	IssuerID string `json:"issuer_id"`
}

// User is a profile row; descriptors are only ever set for students.
type User struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	Role       Role                 `json:"role"`
	Descriptor biometric.Descriptor `json:"-"`
	EnrolledAt *time.Time           `json:"face_enrolled_at,omitempty"`
}

// Role is the closed set of caller roles.
type Role uint8

const (
	RoleStudent Role = iota + 1
	RoleTeacher
	RoleAdmin
)

// String returns the wire name of the role.
func (r Role) String() string {
	switch r {
	case RoleStudent:
		return "student"
	case RoleTeacher:
		return "teacher"
	case RoleAdmin:
		return "admin"
	}
	return ""
}

// ParseRole maps a wire name to a Role.
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "student":
		return RoleStudent, nil
	case "teacher":
		return RoleTeacher, nil
	case "admin":
		return RoleAdmin, nil
	}
	return 0, apperr.New(apperr.KindValidation, "role.parse", "unknown role "+s)
}

// MarshalText implements encoding.TextMarshaler.
func (r Role) MarshalText() ([]byte, error) {
	if r.String() == "" {
		return nil, apperr.New(apperr.KindValidation, "role.marshal", "invalid role")
	}
	return []byte(r.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (r *Role) UnmarshalText(b []byte) error {
	parsed, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
