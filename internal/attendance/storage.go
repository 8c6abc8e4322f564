package attendance

import (
	"context"
	"time"

	"smartattend/internal/biometric"
)

// SessionStore persists sessions.
type SessionStore interface {
	// InsertSession fails with a KindConflict error when the id is taken.
	InsertSession(ctx context.Context, s Session) error
	// GetSession fails with KindSessionNotFound for unknown ids.
	GetSession(ctx context.Context, id string) (Session, error)
	CloseSession(ctx context.Context, id string, at time.Time) error
	// SessionsForCourses returns sessions newest first.
	SessionsForCourses(ctx context.Context, courseIDs []string) ([]Session, error)
}

// Ledger is the append-only attendance log. Record must reject a second
// record for the same (SessionID, StudentID) even under concurrent callers.
type Ledger interface {
	Record(ctx context.Context, r Record) (Record, error)
	ExistsFor(ctx context.Context, sessionID, studentID string) (bool, error)
	CountForStudent(ctx context.Context, studentID string) (int, error)
	CountForSession(ctx context.Context, sessionID string) (int, error)
	RecordsForStudent(ctx context.Context, studentID string) ([]Record, error)
	RecordsForSessions(ctx context.Context, sessionIDs []string) ([]Record, error)
	AllRecords(ctx context.Context) ([]Record, error)
}

// Directory holds courses, rosters and user profiles.
type Directory interface {
	// CreateCourse fails with KindConflict when the id or code is taken.
	CreateCourse(ctx context.Context, c Course) error
	// GetCourse fails with KindCourseNotFound for unknown ids.
	GetCourse(ctx context.Context, id string) (Course, error)
	CoursesByIssuer(ctx context.Context, issuerID string) ([]Course, error)
	CoursesForStudent(ctx context.Context, studentID string) ([]Course, error)
	EnrollStudent(ctx context.Context, courseID, studentID string) error
	CourseStudents(ctx context.Context, courseID string) ([]string, error)
	UpsertUser(ctx context.Context, u User) error
	UserNames(ctx context.Context, ids []string) (map[string]string, error)
	SetDescriptor(ctx context.Context, userID string, d biometric.Descriptor, at time.Time) error
	// Descriptor reports ok=false when the user has no enrolled face.
	Descriptor(ctx context.Context, userID string) (d biometric.Descriptor, ok bool, err error)
}

// Store is everything the attendance service needs from persistence.
type Store interface {
	SessionStore
	Ledger
	Directory
}
