package attendance

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"smartattend/internal/apperr"
	"smartattend/internal/biometric"
)

// maxIDAttempts bounds session-id regeneration after a collision.
const maxIDAttempts = 5

// MaxSessionMinutes is the longest session a teacher can open.
const MaxSessionMinutes = 24 * 60

// Service creates sessions and verifies joins against them.
type Service struct {
	store    Store
	matcher  *biometric.Matcher
	detector biometric.Detector
	newID    func() (string, error)
}

// NewService creates a service backed by store. detector may be nil, in which
// case biometric joins must carry precomputed descriptors.
func NewService(store Store, matcher *biometric.Matcher, detector biometric.Detector) *Service {
	if matcher == nil {
		matcher = biometric.NewMatcher(biometric.DefaultThreshold)
	}
	return &Service{store: store, matcher: matcher, detector: detector, newID: newSessionID}
}

// newSessionID draws 122 random bits from crypto/rand.
func newSessionID() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// storageErr passes classified errors through and wraps everything else.
func storageErr(op string, err error) error {
	if apperr.KindOf(err) != apperr.KindUnknown {
		return err
	}
	return apperr.Storage(op, err)
}

// CreateSessionInput is the issuer-side request to open a session.
type CreateSessionInput struct {
	CourseID          string
	IssuerID          string
	DurationMinutes   int
	IssuerFingerprint string
}

// CreateSession opens a session for a course owned by the issuer.
func (s *Service) CreateSession(ctx context.Context, in CreateSessionInput, now time.Time) (Session, error) {
	const op = "attendance.create_session"
	if strings.TrimSpace(in.CourseID) == "" {
		return Session{}, apperr.New(apperr.KindValidation, op, "course id is required")
	}
	if in.DurationMinutes <= 0 {
		return Session{}, apperr.New(apperr.KindValidation, op, "duration must be a positive number of minutes")
	}
	if in.DurationMinutes > MaxSessionMinutes {
		return Session{}, apperr.New(apperr.KindValidation, op, fmt.Sprintf("duration cannot exceed %d minutes", MaxSessionMinutes))
	}
	course, err := s.store.GetCourse(ctx, in.CourseID)
	if err != nil {
		return Session{}, storageErr(op, err)
	}
	if course.IssuerID != in.IssuerID {
		return Session{}, apperr.New(apperr.KindAuthorization, op, "you are not the teacher of this course")
	}

	sess := Session{
		CourseID:          course.ID,
		IssuerID:          in.IssuerID,
		IssuerFingerprint: in.IssuerFingerprint,
		StartTime:         now.UTC(),
		EndTime:           now.UTC().Add(time.Duration(in.DurationMinutes) * time.Minute),
	}
	if !sess.EndTime.After(sess.StartTime) {
		return Session{}, apperr.New(apperr.KindValidation, op, "session must end after it starts")
	}
	for attempt := 1; ; attempt++ {
		id, err := s.newID()
		if err != nil {
			return Session{}, apperr.Storage(op, err)
		}
		sess.ID = id
		err = s.store.InsertSession(ctx, sess)
		if err == nil {
			return sess, nil
		}
		if !apperr.Is(err, apperr.KindConflict) {
			return Session{}, storageErr(op, err)
		}
		log.Printf("session id collision on attempt %d for course %s", attempt, course.ID)
		if attempt >= maxIDAttempts {
			return Session{}, apperr.Storage(op, err)
		}
	}
}

// CloseSession ends a session early and returns it. Closing twice is a no-op
// that keeps the first close time.
func (s *Service) CloseSession(ctx context.Context, sessionID, issuerID string, now time.Time) (Session, error) {
	const op = "attendance.close_session"
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, storageErr(op, err)
	}
	if sess.IssuerID != issuerID {
		return Session{}, apperr.New(apperr.KindAuthorization, op, "only the issuing teacher can close this session")
	}
	if sess.ClosedAt != nil {
		return sess, nil
	}
	at := now.UTC()
	if err := s.store.CloseSession(ctx, sessionID, at); err != nil {
		return Session{}, storageErr(op, err)
	}
	sess.ClosedAt = &at
	return sess, nil
}

// SessionInfo describes a joinable code before a student commits to a factor.
type SessionInfo struct {
	Session    Session
	CourseName string
	Active     bool
	Attendees  int
}

// DescribeSession resolves a session key to its course and state.
func (s *Service) DescribeSession(ctx context.Context, sessionID string, now time.Time) (SessionInfo, error) {
	const op = "attendance.describe_session"
	sess, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return SessionInfo{}, storageErr(op, err)
	}
	course, err := s.store.GetCourse(ctx, sess.CourseID)
	if err != nil {
		return SessionInfo{}, storageErr(op, err)
	}
	n, err := s.store.CountForSession(ctx, sess.ID)
	if err != nil {
		return SessionInfo{}, storageErr(op, err)
	}
	return SessionInfo{Session: sess, CourseName: course.Name, Active: IsActive(sess, now), Attendees: n}, nil
}

// CreateCourse registers a course owned by issuerID.
func (s *Service) CreateCourse(ctx context.Context, issuerID, code, name string) (Course, error) {
	const op = "attendance.create_course"
	code, name = strings.TrimSpace(code), strings.TrimSpace(name)
	if code == "" || name == "" {
		return Course{}, apperr.New(apperr.KindValidation, op, "course code and name are required")
	}
	c := Course{ID: uuid.NewString(), Code: code, Name: name, IssuerID: issuerID}
	if err := s.store.CreateCourse(ctx, c); err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			return Course{}, apperr.New(apperr.KindValidation, op, "course code "+code+" is already in use")
		}
		return Course{}, storageErr(op, err)
	}
	return c, nil
}

// EnrollStudent adds a student to the roster of a course owned by issuerID.
func (s *Service) EnrollStudent(ctx context.Context, issuerID, courseID, studentID string) error {
	const op = "attendance.enroll_student"
	if strings.TrimSpace(studentID) == "" {
		return apperr.New(apperr.KindValidation, op, "student id is required")
	}
	course, err := s.store.GetCourse(ctx, courseID)
	if err != nil {
		return storageErr(op, err)
	}
	if course.IssuerID != issuerID {
		return apperr.New(apperr.KindAuthorization, op, "you are not the teacher of this course")
	}
	if err := s.store.EnrollStudent(ctx, courseID, studentID); err != nil {
		return storageErr(op, err)
	}
	return nil
}

// UpdateProfile upserts the caller's display name and role.
func (s *Service) UpdateProfile(ctx context.Context, u User) error {
	const op = "attendance.update_profile"
	u.Name = strings.TrimSpace(u.Name)
	if u.ID == "" || u.Name == "" {
		return apperr.New(apperr.KindValidation, op, "name is required")
	}
	if u.Role.String() == "" {
		return apperr.New(apperr.KindValidation, op, "role is required")
	}
	if err := s.store.UpsertUser(ctx, u); err != nil {
		return storageErr(op, err)
	}
	return nil
}

// EnrollInput carries either an image for server-side detection or a
// descriptor computed by the client.
type EnrollInput struct {
	ImageURL   string
	Descriptor biometric.Descriptor
}

// EnrollFace replaces the student's reference descriptor.
func (s *Service) EnrollFace(ctx context.Context, studentID string, in EnrollInput, now time.Time) error {
	const op = "attendance.enroll_face"
	var ref biometric.Descriptor
	switch {
	case len(in.Descriptor) > 0:
		if err := in.Descriptor.Validate(); err != nil {
			return &apperr.Error{Kind: apperr.KindBiometricEnrollment, Op: op, Msg: "enrollment descriptor is unusable", Err: err}
		}
		ref = in.Descriptor
	case in.ImageURL != "":
		if s.detector == nil {
			return apperr.New(apperr.KindValidation, op, "server-side face detection is not configured")
		}
		faces, err := s.detector.Detect(ctx, in.ImageURL)
		if err != nil {
			return &apperr.Error{Kind: apperr.KindBiometricEnrollment, Op: op, Msg: "face detection failed", Err: err}
		}
		face, err := biometric.SelectForEnrollment(faces)
		if err != nil {
			return err
		}
		if len(faces) > 1 {
			log.Printf("enrollment for %s found %d faces, using the most prominent", studentID, len(faces))
		}
		ref = face.Descriptor
	default:
		return apperr.New(apperr.KindValidation, op, "image url or descriptor is required")
	}
	if err := s.store.SetDescriptor(ctx, studentID, ref, now.UTC()); err != nil {
		return storageErr(op, err)
	}
	return nil
}
