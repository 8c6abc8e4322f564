package attendance

import (
	"context"
	"strings"
	"time"

	"smartattend/internal/apperr"
	"smartattend/internal/biometric"
)

// JoinRequest is a student's attempt to be credited for a session.
type JoinRequest struct {
	SessionID string
	StudentID string
	Method    Method
	// Fingerprint is the caller's observed network address, supplied by the
	// transport rather than the client.
	Fingerprint string
	// Descriptors are live faces computed client-side. When empty and
	// ImageURL is set, faces are detected server-side.
	Descriptors []biometric.Descriptor
	ImageURL    string
}

// JoinResult is returned once the record has been written. On a biometric
// mismatch only Match is set.
type JoinResult struct {
	Record     Record
	CourseName string
	// Match is set for biometric joins.
	Match *biometric.Result
}

// Join runs the verification steps in a fixed order and stops at the first
// failure: session lookup, liveness of the session, proximity, biometric,
// then the atomic ledger insert. Nothing is written unless every step passes.
func (s *Service) Join(ctx context.Context, req JoinRequest, now time.Time) (JoinResult, error) {
	const op = "attendance.join"
	if !req.Method.Valid() {
		return JoinResult{}, apperr.New(apperr.KindValidation, op, "attendance method is required")
	}
	if strings.TrimSpace(req.SessionID) == "" || req.StudentID == "" {
		return JoinResult{}, apperr.New(apperr.KindValidation, op, "session key is required")
	}

	sess, err := s.store.GetSession(ctx, req.SessionID)
	if err != nil {
		return JoinResult{}, storageErr(op, err)
	}
	if !IsActive(sess, now) {
		return JoinResult{}, apperr.New(apperr.KindSessionExpired, op, "this session has ended")
	}

	if req.Method.Has(MethodProximity) && req.Fingerprint != sess.IssuerFingerprint {
		return JoinResult{}, apperr.New(apperr.KindProximityMismatch, op,
			"proximity check failed: join the teacher's network and try again")
	}

	var match *biometric.Result
	if req.Method.Has(MethodBiometric) {
		res, err := s.verifyFace(ctx, req)
		if apperr.Is(err, apperr.KindBiometricNoMatch) {
			return JoinResult{Match: &res}, err
		}
		if err != nil {
			return JoinResult{}, err
		}
		match = &res
	}

	course, err := s.store.GetCourse(ctx, sess.CourseID)
	if err != nil {
		return JoinResult{}, storageErr(op, err)
	}

	rec, err := s.store.Record(ctx, Record{
		SessionID: sess.ID,
		StudentID: req.StudentID,
		CourseID:  sess.CourseID,
		Method:    req.Method,
		Timestamp: now.UTC(),
	})
	if err != nil {
		return JoinResult{}, storageErr(op, err)
	}
	return JoinResult{Record: rec, CourseName: course.Name, Match: match}, nil
}

func (s *Service) verifyFace(ctx context.Context, req JoinRequest) (biometric.Result, error) {
	const op = "attendance.verify_face"
	ref, ok, err := s.store.Descriptor(ctx, req.StudentID)
	if err != nil {
		return biometric.Result{}, storageErr(op, err)
	}
	if !ok {
		return biometric.Result{}, apperr.New(apperr.KindBiometricNotEnrolled, op, "no enrolled face for this student")
	}

	live := req.Descriptors
	if len(live) == 0 && req.ImageURL != "" {
		if s.detector == nil {
			return biometric.Result{}, apperr.New(apperr.KindValidation, op, "server-side face detection is not configured")
		}
		faces, err := s.detector.Detect(ctx, req.ImageURL)
		if err != nil {
			return biometric.Result{}, apperr.Wrap(apperr.KindUnknown, op, err)
		}
		for _, f := range faces {
			live = append(live, f.Descriptor)
		}
	}
	return s.matcher.Match(ref, live)
}
