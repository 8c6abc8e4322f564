package attendance

import (
	"context"
	"sort"
	"time"

	"smartattend/internal/apperr"
)

// ListCourses returns the courses a caller teaches, or is enrolled in when
// the caller is a student.
func (s *Service) ListCourses(ctx context.Context, userID string, role Role) ([]Course, error) {
	const op = "attendance.list_courses"
	var (
		courses []Course
		err     error
	)
	if role == RoleStudent {
		courses, err = s.store.CoursesForStudent(ctx, userID)
	} else {
		courses, err = s.store.CoursesByIssuer(ctx, userID)
	}
	if err != nil {
		return nil, storageErr(op, err)
	}
	if courses == nil {
		courses = []Course{}
	}
	return courses, nil
}

// Attendee is one ledger entry of a session with the student's display name.
type Attendee struct {
	StudentID string    `json:"student_id"`
	Name      string    `json:"name"`
	Method    Method    `json:"method"`
	Timestamp time.Time `json:"timestamp"`
}

// SessionAttendance lists who joined a session, earliest first. Only the
// issuing teacher may read it.
func (s *Service) SessionAttendance(ctx context.Context, sessionID, issuerID string) ([]Attendee, error) {
	const op = "attendance.session_attendance"
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storageErr(op, err)
	}
	if sess.IssuerID != issuerID {
		return nil, apperr.New(apperr.KindAuthorization, op, "only the issuing teacher can view this session")
	}
	recs, err := s.store.RecordsForSessions(ctx, []string{sessionID})
	if err != nil {
		return nil, storageErr(op, err)
	}
	ids := make([]string, 0, len(recs))
	for _, r := range recs {
		ids = append(ids, r.StudentID)
	}
	names, err := s.store.UserNames(ctx, ids)
	if err != nil {
		return nil, storageErr(op, err)
	}
	out := make([]Attendee, 0, len(recs))
	for _, r := range recs {
		out = append(out, Attendee{StudentID: r.StudentID, Name: names[r.StudentID], Method: r.Method, Timestamp: r.Timestamp})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
