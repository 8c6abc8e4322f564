package gamification

import (
	"context"
	"log"
	"time"

	"smartattend/internal/apperr"
	"smartattend/internal/attendance"
)

// RankingCacheKey holds the full cached ranking.
const RankingCacheKey = "gamification:ranking"

// Source is the read side of the attendance store used for reporting.
type Source interface {
	GetCourse(ctx context.Context, id string) (attendance.Course, error)
	CoursesByIssuer(ctx context.Context, issuerID string) ([]attendance.Course, error)
	CoursesForStudent(ctx context.Context, studentID string) ([]attendance.Course, error)
	CourseStudents(ctx context.Context, courseID string) ([]string, error)
	UserNames(ctx context.Context, ids []string) (map[string]string, error)
	SessionsForCourses(ctx context.Context, courseIDs []string) ([]attendance.Session, error)
	CountForStudent(ctx context.Context, studentID string) (int, error)
	RecordsForStudent(ctx context.Context, studentID string) ([]attendance.Record, error)
	RecordsForSessions(ctx context.Context, sessionIDs []string) ([]attendance.Record, error)
	AllRecords(ctx context.Context) ([]attendance.Record, error)
}

// Cache stores JSON-encodable values with a TTL.
type Cache interface {
	Get(ctx context.Context, key string, dst any) (bool, error)
	Set(ctx context.Context, key string, v any, ttl time.Duration) error
}

// Options tunes a Reporter. Zero values pick the defaults.
type Options struct {
	AtRiskPercent float64
	CacheTTL      time.Duration
	HistorySize   int
}

// Reporter builds student and teacher analytics. It never writes to the store.
type Reporter struct {
	src   Source
	cache Cache
	opts  Options
}

// NewReporter creates a reporter. cache may be nil.
func NewReporter(src Source, cache Cache, opts Options) *Reporter {
	if opts.AtRiskPercent <= 0 {
		opts.AtRiskPercent = 75
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 30 * time.Second
	}
	if opts.HistorySize <= 0 {
		opts.HistorySize = 20
	}
	return &Reporter{src: src, cache: cache, opts: opts}
}

func readErr(op string, err error) error {
	if apperr.KindOf(err) != apperr.KindUnknown {
		return err
	}
	return apperr.Storage(op, err)
}

// ranking serves the full ranking from cache when possible. Cache failures
// fall through to the store.
func (r *Reporter) ranking(ctx context.Context) ([]Entry, error) {
	if r.cache != nil {
		var cached []Entry
		ok, err := r.cache.Get(ctx, RankingCacheKey, &cached)
		if err != nil {
			log.Printf("ranking cache read: %v", err)
		} else if ok {
			return cached, nil
		}
	}
	records, err := r.src.AllRecords(ctx)
	if err != nil {
		return nil, readErr("gamification.ranking", err)
	}
	ranked := Ranking(records)
	if r.cache != nil {
		if err := r.cache.Set(ctx, RankingCacheKey, ranked, r.opts.CacheTTL); err != nil {
			log.Printf("ranking cache write: %v", err)
		}
	}
	return ranked, nil
}

func (r *Reporter) withNames(ctx context.Context, entries []Entry) ([]Entry, error) {
	if len(entries) == 0 {
		return []Entry{}, nil
	}
	ids := make([]string, len(entries))
	for i, e := range entries {
		ids[i] = e.StudentID
	}
	names, err := r.src.UserNames(ctx, ids)
	if err != nil {
		return nil, readErr("gamification.names", err)
	}
	for i := range entries {
		entries[i].Name = names[entries[i].StudentID]
	}
	return entries, nil
}

// Leaderboard is the named top of the ranking plus the caller's rank.
type Leaderboard struct {
	Entries []Entry `json:"leaderboard"`
	Rank    int     `json:"rank"`
}

// Leaderboard returns the top entries and studentID's rank (0 when unranked).
func (r *Reporter) Leaderboard(ctx context.Context, studentID string) (Leaderboard, error) {
	ranked, err := r.ranking(ctx)
	if err != nil {
		return Leaderboard{}, err
	}
	top, rank := TopAndRank(ranked, studentID)
	top, err = r.withNames(ctx, top)
	if err != nil {
		return Leaderboard{}, err
	}
	return Leaderboard{Entries: top, Rank: rank}, nil
}

// HistoryEntry marks whether one eligible session was attended.
type HistoryEntry struct {
	SessionID  string    `json:"session_id"`
	CourseName string    `json:"course_name"`
	StartTime  time.Time `json:"start_time"`
	Attended   bool      `json:"attended"`
}

// TodayEntry is a record made during the current UTC day.
type TodayEntry struct {
	SessionID  string            `json:"session_id"`
	CourseName string            `json:"course_name"`
	Method     attendance.Method `json:"method"`
	Timestamp  time.Time         `json:"timestamp"`
}

// StudentReport is the dashboard of a single student.
type StudentReport struct {
	Score         float64        `json:"attendance_score"`
	Attended      int            `json:"attended_sessions"`
	TotalSessions int            `json:"total_sessions"`
	Streak        int            `json:"streak"`
	Rank          int            `json:"rank"`
	Leaderboard   []Entry        `json:"leaderboard"`
	History       []HistoryEntry `json:"attendance_history"`
	Today         []TodayEntry   `json:"todays_attendance"`
	Methods       map[string]int `json:"method_breakdown"`
}

// StudentReport computes score and streak over the sessions of the courses
// the student is enrolled in, together with the global leaderboard.
func (r *Reporter) StudentReport(ctx context.Context, studentID string, now time.Time) (StudentReport, error) {
	const op = "gamification.student_report"
	courses, err := r.src.CoursesForStudent(ctx, studentID)
	if err != nil {
		return StudentReport{}, readErr(op, err)
	}
	courseNames := make(map[string]string, len(courses))
	courseIDs := make([]string, 0, len(courses))
	for _, c := range courses {
		courseNames[c.ID] = c.Name
		courseIDs = append(courseIDs, c.ID)
	}
	sessions, err := r.src.SessionsForCourses(ctx, courseIDs)
	if err != nil {
		return StudentReport{}, readErr(op, err)
	}
	attendedCount, err := r.src.CountForStudent(ctx, studentID)
	if err != nil {
		return StudentReport{}, readErr(op, err)
	}
	records, err := r.src.RecordsForStudent(ctx, studentID)
	if err != nil {
		return StudentReport{}, readErr(op, err)
	}

	attended := make(map[string]bool, len(records))
	methods := make(map[string]int)
	for _, rec := range records {
		attended[rec.SessionID] = true
		methods[rec.Method.String()]++
	}
	sessionIDs := make([]string, len(sessions))
	for i, s := range sessions {
		sessionIDs[i] = s.ID
	}

	lb, err := r.Leaderboard(ctx, studentID)
	if err != nil {
		return StudentReport{}, err
	}

	rep := StudentReport{
		Score:         AttendanceScore(attendedCount, len(sessions)),
		Attended:      attendedCount,
		TotalSessions: len(sessions),
		Streak:        Streak(sessionIDs, attended),
		Rank:          lb.Rank,
		Leaderboard:   lb.Entries,
		History:       []HistoryEntry{},
		Today:         []TodayEntry{},
		Methods:       methods,
	}

	recent := sessions
	if len(recent) > r.opts.HistorySize {
		recent = recent[:r.opts.HistorySize]
	}
	for i := len(recent) - 1; i >= 0; i-- {
		s := recent[i]
		rep.History = append(rep.History, HistoryEntry{
			SessionID:  s.ID,
			CourseName: courseNames[s.CourseID],
			StartTime:  s.StartTime,
			Attended:   attended[s.ID],
		})
	}

	dayStart := now.UTC().Truncate(24 * time.Hour)
	dayEnd := dayStart.Add(24 * time.Hour)
	for _, rec := range records {
		if rec.Timestamp.Before(dayStart) || !rec.Timestamp.Before(dayEnd) {
			continue
		}
		name, ok := courseNames[rec.CourseID]
		if !ok {
			c, err := r.src.GetCourse(ctx, rec.CourseID)
			if err != nil && !apperr.Is(err, apperr.KindCourseNotFound) {
				return StudentReport{}, readErr(op, err)
			}
			name = c.Name
			courseNames[rec.CourseID] = name
		}
		rep.Today = append(rep.Today, TodayEntry{
			SessionID:  rec.SessionID,
			CourseName: name,
			Method:     rec.Method,
			Timestamp:  rec.Timestamp,
		})
	}
	return rep, nil
}

// CourseAttendance summarizes one course of a teacher.
type CourseAttendance struct {
	CourseID      string `json:"course_id"`
	CourseName    string `json:"course_name"`
	TotalSessions int    `json:"total_sessions"`
	PresentCount  int    `json:"present_count"`
	Enrolled      int    `json:"enrolled_students"`
}

// AtRiskStudent is an enrolled student below the attendance threshold.
type AtRiskStudent struct {
	StudentID   string  `json:"student_id"`
	StudentName string  `json:"student_name"`
	CourseID    string  `json:"course_id"`
	CourseName  string  `json:"course_name"`
	Rate        float64 `json:"attendance_rate"`
}

// TeacherReport covers every course owned by one issuer.
type TeacherReport struct {
	Courses []CourseAttendance `json:"attendance_by_course"`
	AtRisk  []AtRiskStudent    `json:"at_risk_students"`
}

// TeacherReport computes per-course totals and flags enrolled students whose
// attendance rate in a course is below the configured percentage.
func (r *Reporter) TeacherReport(ctx context.Context, issuerID string) (TeacherReport, error) {
	const op = "gamification.teacher_report"
	rep := TeacherReport{Courses: []CourseAttendance{}, AtRisk: []AtRiskStudent{}}

	courses, err := r.src.CoursesByIssuer(ctx, issuerID)
	if err != nil {
		return TeacherReport{}, readErr(op, err)
	}
	if len(courses) == 0 {
		return rep, nil
	}
	courseIDs := make([]string, len(courses))
	for i, c := range courses {
		courseIDs[i] = c.ID
	}
	sessions, err := r.src.SessionsForCourses(ctx, courseIDs)
	if err != nil {
		return TeacherReport{}, readErr(op, err)
	}
	sessionCourse := make(map[string]string, len(sessions))
	sessionsPerCourse := make(map[string]int)
	sessionIDs := make([]string, len(sessions))
	for i, s := range sessions {
		sessionIDs[i] = s.ID
		sessionCourse[s.ID] = s.CourseID
		sessionsPerCourse[s.CourseID]++
	}
	records, err := r.src.RecordsForSessions(ctx, sessionIDs)
	if err != nil {
		return TeacherReport{}, readErr(op, err)
	}

	type key struct{ course, student string }
	present := make(map[string]int)
	perStudent := make(map[key]int)
	for _, rec := range records {
		courseID := sessionCourse[rec.SessionID]
		present[courseID]++
		perStudent[key{courseID, rec.StudentID}]++
	}

	rosters := make(map[string][]string, len(courses))
	var everyone []string
	for _, c := range courses {
		roster, err := r.src.CourseStudents(ctx, c.ID)
		if err != nil {
			return TeacherReport{}, readErr(op, err)
		}
		rosters[c.ID] = roster
		everyone = append(everyone, roster...)
	}
	names, err := r.src.UserNames(ctx, everyone)
	if err != nil {
		return TeacherReport{}, readErr(op, err)
	}

	for _, c := range courses {
		total := sessionsPerCourse[c.ID]
		rep.Courses = append(rep.Courses, CourseAttendance{
			CourseID:      c.ID,
			CourseName:    c.Name,
			TotalSessions: total,
			PresentCount:  present[c.ID],
			Enrolled:      len(rosters[c.ID]),
		})
		if total == 0 {
			continue
		}
		for _, studentID := range rosters[c.ID] {
			rate := float64(perStudent[key{c.ID, studentID}]) / float64(total) * 100
			if rate >= r.opts.AtRiskPercent {
				continue
			}
			rep.AtRisk = append(rep.AtRisk, AtRiskStudent{
				StudentID:   studentID,
				StudentName: names[studentID],
				CourseID:    c.ID,
				CourseName:  c.Name,
				Rate:        round1(rate),
			})
		}
	}
	return rep, nil
}
