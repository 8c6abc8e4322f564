package attendance

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"smartattend/internal/apperr"
	"smartattend/internal/biometric"
	"smartattend/internal/store"
)

// Repository persists attendance data in Postgres or SQLite.
type Repository struct {
	db *store.DB
}

// NewRepository creates a repo.
func NewRepository(db *store.DB) *Repository {
	return &Repository{db: db}
}

var _ Store = (*Repository)(nil)

func toMillis(t time.Time) int64 { return t.UTC().UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func (r *Repository) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return r.db.Client.ExecContext(ctx, r.db.Rebind(query), args...)
}

func (r *Repository) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return r.db.Client.QueryContext(ctx, r.db.Rebind(query), args...)
}

func (r *Repository) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return r.db.Client.QueryRowContext(ctx, r.db.Rebind(query), args...)
}

func stringArgs(ids []string) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

// -------- Sessions --------

const sessionColumns = `id, course_id, issuer_id, issuer_fingerprint, start_ms, end_ms, closed_ms`

func scanSession(row interface{ Scan(...any) error }) (Session, error) {
	var (
		s          Session
		start, end int64
		closed     sql.NullInt64
	)
	if err := row.Scan(&s.ID, &s.CourseID, &s.IssuerID, &s.IssuerFingerprint, &start, &end, &closed); err != nil {
		return Session{}, err
	}
	s.StartTime, s.EndTime = fromMillis(start), fromMillis(end)
	if closed.Valid {
		t := fromMillis(closed.Int64)
		s.ClosedAt = &t
	}
	return s, nil
}

// InsertSession writes a new session; an existing id is a conflict.
func (r *Repository) InsertSession(ctx context.Context, s Session) error {
	const op = "sessions.insert"
	res, err := r.exec(ctx, `
		INSERT INTO sessions (id, course_id, issuer_id, issuer_fingerprint, start_ms, end_ms)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO NOTHING
	`, s.ID, s.CourseID, s.IssuerID, s.IssuerFingerprint, toMillis(s.StartTime), toMillis(s.EndTime))
	if err != nil {
		return apperr.Storage(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Storage(op, err)
	}
	if n == 0 {
		return apperr.New(apperr.KindConflict, op, "session id already exists")
	}
	return nil
}

// GetSession returns a single session by id.
func (r *Repository) GetSession(ctx context.Context, id string) (Session, error) {
	s, err := scanSession(r.queryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, apperr.New(apperr.KindSessionNotFound, "sessions.get", "session not found")
	}
	if err != nil {
		return Session{}, apperr.Storage("sessions.get", err)
	}
	return s, nil
}

// CloseSession stamps closed_ms once; later calls keep the first value.
func (r *Repository) CloseSession(ctx context.Context, id string, at time.Time) error {
	if _, err := r.exec(ctx, `UPDATE sessions SET closed_ms = ? WHERE id = ? AND closed_ms IS NULL`, toMillis(at), id); err != nil {
		return apperr.Storage("sessions.close", err)
	}
	return nil
}

// SessionsForCourses returns sessions of the given courses, newest first.
func (r *Repository) SessionsForCourses(ctx context.Context, courseIDs []string) ([]Session, error) {
	if len(courseIDs) == 0 {
		return nil, nil
	}
	rows, err := r.query(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE course_id IN (`+store.Placeholders(len(courseIDs))+`)
		ORDER BY start_ms DESC, id ASC`, stringArgs(courseIDs)...)
	if err != nil {
		return nil, apperr.Storage("sessions.for_courses", err)
	}
	defer rows.Close()
	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, apperr.Storage("sessions.for_courses", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("sessions.for_courses", err)
	}
	return out, nil
}

// -------- Ledger --------

const recordColumns = `session_id, student_id, course_id, method, recorded_ms`

func scanRecord(row interface{ Scan(...any) error }) (Record, error) {
	var (
		rec    Record
		method string
		ms     int64
	)
	if err := row.Scan(&rec.SessionID, &rec.StudentID, &rec.CourseID, &method, &ms); err != nil {
		return Record{}, err
	}
	m, err := ParseMethod(method)
	if err != nil {
		return Record{}, fmt.Errorf("stored method %q: %w", method, err)
	}
	rec.Method, rec.Timestamp = m, fromMillis(ms)
	return rec, nil
}

// Record inserts an attendance record. The composite primary key makes the
// check and the write one statement, so concurrent joins cannot both land.
func (r *Repository) Record(ctx context.Context, rec Record) (Record, error) {
	const op = "ledger.record"
	res, err := r.exec(ctx, `
		INSERT INTO attendance_records (session_id, student_id, course_id, method, recorded_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (session_id, student_id) DO NOTHING
	`, rec.SessionID, rec.StudentID, rec.CourseID, rec.Method.String(), toMillis(rec.Timestamp))
	if err != nil {
		return Record{}, apperr.Storage(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return Record{}, apperr.Storage(op, err)
	}
	if n == 0 {
		return Record{}, apperr.New(apperr.KindDuplicateAttendance, op, "attendance already marked for this session")
	}
	rec.Timestamp = fromMillis(toMillis(rec.Timestamp))
	return rec, nil
}

// ExistsFor reports whether the student already has a record for the session.
func (r *Repository) ExistsFor(ctx context.Context, sessionID, studentID string) (bool, error) {
	var n int
	err := r.queryRow(ctx, `SELECT COUNT(*) FROM attendance_records WHERE session_id = ? AND student_id = ?`, sessionID, studentID).Scan(&n)
	if err != nil {
		return false, apperr.Storage("ledger.exists", err)
	}
	return n > 0, nil
}

// CountForStudent counts every record of a student.
func (r *Repository) CountForStudent(ctx context.Context, studentID string) (int, error) {
	var n int
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM attendance_records WHERE student_id = ?`, studentID).Scan(&n); err != nil {
		return 0, apperr.Storage("ledger.count_student", err)
	}
	return n, nil
}

// CountForSession counts the attendees of a session.
func (r *Repository) CountForSession(ctx context.Context, sessionID string) (int, error) {
	var n int
	if err := r.queryRow(ctx, `SELECT COUNT(*) FROM attendance_records WHERE session_id = ?`, sessionID).Scan(&n); err != nil {
		return 0, apperr.Storage("ledger.count_session", err)
	}
	return n, nil
}

func (r *Repository) listRecords(ctx context.Context, op, query string, args ...any) ([]Record, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, apperr.Storage(op, err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(op, err)
	}
	return out, nil
}

// RecordsForStudent returns a student's records, newest first.
func (r *Repository) RecordsForStudent(ctx context.Context, studentID string) ([]Record, error) {
	return r.listRecords(ctx, "ledger.for_student",
		`SELECT `+recordColumns+` FROM attendance_records WHERE student_id = ? ORDER BY recorded_ms DESC`, studentID)
}

// RecordsForSessions returns the records of the given sessions.
func (r *Repository) RecordsForSessions(ctx context.Context, sessionIDs []string) ([]Record, error) {
	if len(sessionIDs) == 0 {
		return nil, nil
	}
	return r.listRecords(ctx, "ledger.for_sessions",
		`SELECT `+recordColumns+` FROM attendance_records WHERE session_id IN (`+store.Placeholders(len(sessionIDs))+`)`,
		stringArgs(sessionIDs)...)
}

// AllRecords returns every record in the ledger.
func (r *Repository) AllRecords(ctx context.Context) ([]Record, error) {
	return r.listRecords(ctx, "ledger.all", `SELECT `+recordColumns+` FROM attendance_records`)
}

// -------- Directory --------

// CreateCourse inserts a course; a taken id or code is a conflict.
func (r *Repository) CreateCourse(ctx context.Context, c Course) error {
	const op = "courses.create"
	res, err := r.exec(ctx, `
		INSERT INTO courses (id, code, name, issuer_id) VALUES (?, ?, ?, ?)
		ON CONFLICT DO NOTHING
	`, c.ID, c.Code, c.Name, c.IssuerID)
	if err != nil {
		return apperr.Storage(op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return apperr.Storage(op, err)
	}
	if n == 0 {
		return apperr.New(apperr.KindConflict, op, "course code already exists")
	}
	return nil
}

func (r *Repository) listCourses(ctx context.Context, op, query string, args ...any) ([]Course, error) {
	rows, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Storage(op, err)
	}
	defer rows.Close()
	var out []Course
	for rows.Next() {
		var c Course
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.IssuerID); err != nil {
			return nil, apperr.Storage(op, err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage(op, err)
	}
	return out, nil
}

// GetCourse returns a single course by id.
func (r *Repository) GetCourse(ctx context.Context, id string) (Course, error) {
	var c Course
	err := r.queryRow(ctx, `SELECT id, code, name, issuer_id FROM courses WHERE id = ?`, id).Scan(&c.ID, &c.Code, &c.Name, &c.IssuerID)
	if errors.Is(err, sql.ErrNoRows) {
		return Course{}, apperr.New(apperr.KindCourseNotFound, "courses.get", "course not found")
	}
	if err != nil {
		return Course{}, apperr.Storage("courses.get", err)
	}
	return c, nil
}

// CoursesByIssuer returns the courses a teacher owns.
func (r *Repository) CoursesByIssuer(ctx context.Context, issuerID string) ([]Course, error) {
	return r.listCourses(ctx, "courses.by_issuer",
		`SELECT id, code, name, issuer_id FROM courses WHERE issuer_id = ? ORDER BY code`, issuerID)
}

// CoursesForStudent returns the courses a student is enrolled in.
func (r *Repository) CoursesForStudent(ctx context.Context, studentID string) ([]Course, error) {
	return r.listCourses(ctx, "courses.for_student", `
		SELECT c.id, c.code, c.name, c.issuer_id
		FROM courses c
		JOIN course_students cs ON cs.course_id = c.id
		WHERE cs.student_id = ?
		ORDER BY c.code`, studentID)
}

// EnrollStudent adds a student to a roster; enrolling twice is a no-op.
func (r *Repository) EnrollStudent(ctx context.Context, courseID, studentID string) error {
	if _, err := r.exec(ctx, `
		INSERT INTO course_students (course_id, student_id) VALUES (?, ?)
		ON CONFLICT DO NOTHING
	`, courseID, studentID); err != nil {
		return apperr.Storage("courses.enroll", err)
	}
	return nil
}

// CourseStudents returns the roster of a course.
func (r *Repository) CourseStudents(ctx context.Context, courseID string) ([]string, error) {
	rows, err := r.query(ctx, `SELECT student_id FROM course_students WHERE course_id = ? ORDER BY student_id`, courseID)
	if err != nil {
		return nil, apperr.Storage("courses.students", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Storage("courses.students", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("courses.students", err)
	}
	return out, nil
}

// UpsertUser creates or renames a user.
func (r *Repository) UpsertUser(ctx context.Context, u User) error {
	if _, err := r.exec(ctx, `
		INSERT INTO users (id, name, role) VALUES (?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, role = EXCLUDED.role
	`, u.ID, u.Name, u.Role.String()); err != nil {
		return apperr.Storage("users.upsert", err)
	}
	return nil
}

// UserNames resolves display names; unknown ids are absent from the map.
func (r *Repository) UserNames(ctx context.Context, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.query(ctx, `SELECT id, name FROM users WHERE id IN (`+store.Placeholders(len(ids))+`)`, stringArgs(ids)...)
	if err != nil {
		return nil, apperr.Storage("users.names", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id, name string
		if err := rows.Scan(&id, &name); err != nil {
			return nil, apperr.Storage("users.names", err)
		}
		out[id] = name
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Storage("users.names", err)
	}
	return out, nil
}

// SetDescriptor replaces the enrolled face of a user, creating the row if needed.
func (r *Repository) SetDescriptor(ctx context.Context, userID string, d biometric.Descriptor, at time.Time) error {
	raw, err := json.Marshal(d)
	if err != nil {
		return apperr.Storage("users.set_descriptor", err)
	}
	if _, err := r.exec(ctx, `
		INSERT INTO users (id, role, face_descriptor, face_enrolled_ms) VALUES (?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET face_descriptor = EXCLUDED.face_descriptor, face_enrolled_ms = EXCLUDED.face_enrolled_ms
	`, userID, RoleStudent.String(), string(raw), toMillis(at)); err != nil {
		return apperr.Storage("users.set_descriptor", err)
	}
	return nil
}

// Descriptor loads the enrolled face of a user.
func (r *Repository) Descriptor(ctx context.Context, userID string) (biometric.Descriptor, bool, error) {
	var raw sql.NullString
	err := r.queryRow(ctx, `SELECT face_descriptor FROM users WHERE id = ?`, userID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, apperr.Storage("users.descriptor", err)
	}
	if !raw.Valid || raw.String == "" {
		return nil, false, nil
	}
	var d biometric.Descriptor
	if err := json.Unmarshal([]byte(raw.String), &d); err != nil {
		return nil, false, apperr.Storage("users.descriptor", err)
	}
	return d, true, nil
}
