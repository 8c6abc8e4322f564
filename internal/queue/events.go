package queue

import "time"

// Event types published by the API.
const (
	TypeAttendanceRecorded = "attendance.recorded"
	TypeSessionCreated     = "session.created"
	TypeSessionClosed      = "session.closed"
)

// AttendanceRecorded is published after a join lands in the ledger.
type AttendanceRecorded struct {
	SessionID string    `json:"session_id"`
	StudentID string    `json:"student_id"`
	CourseID  string    `json:"course_id"`
	Method    string    `json:"method"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionChanged is published when a session opens or closes.
type SessionChanged struct {
	SessionID string    `json:"session_id"`
	CourseID  string    `json:"course_id"`
	IssuerID  string    `json:"issuer_id"`
	At        time.Time `json:"at"`
}
