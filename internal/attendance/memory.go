package attendance

import (
	"context"
	"sort"
	"sync"
	"time"

	"smartattend/internal/apperr"
	"smartattend/internal/biometric"
)

type recordKey struct {
	sessionID string
	studentID string
}

// MemoryStore is a process-local Store for dev and tests. The ledger holds a
// per-(session, student) lock across the existence check and the write.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
	records  map[recordKey]Record
	courses  map[string]Course
	rosters  map[string]map[string]struct{}
	users    map[string]User

	lockMu sync.Mutex
	locks  map[recordKey]*keyLock
}

// keyLock is dropped from the map once no caller holds or waits on it.
type keyLock struct {
	mu   sync.Mutex
	refs int
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]Session),
		records:  make(map[recordKey]Record),
		courses:  make(map[string]Course),
		rosters:  make(map[string]map[string]struct{}),
		users:    make(map[string]User),
		locks:    make(map[recordKey]*keyLock),
	}
}

var _ Store = (*MemoryStore)(nil)

// lockKey blocks until the caller owns k and returns the matching unlock.
func (m *MemoryStore) lockKey(k recordKey) (unlock func()) {
	m.lockMu.Lock()
	l, ok := m.locks[k]
	if !ok {
		l = &keyLock{}
		m.locks[k] = l
	}
	l.refs++
	m.lockMu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		m.lockMu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(m.locks, k)
		}
		m.lockMu.Unlock()
	}
}

func (m *MemoryStore) pendingLocks() int {
	m.lockMu.Lock()
	defer m.lockMu.Unlock()
	return len(m.locks)
}

func (m *MemoryStore) InsertSession(ctx context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return apperr.New(apperr.KindConflict, "sessions.insert", "session id already exists")
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *MemoryStore) GetSession(ctx context.Context, id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, apperr.New(apperr.KindSessionNotFound, "sessions.get", "session not found")
	}
	return s, nil
}

func (m *MemoryStore) CloseSession(ctx context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return apperr.New(apperr.KindSessionNotFound, "sessions.close", "session not found")
	}
	if s.ClosedAt == nil {
		s.ClosedAt = &at
		m.sessions[id] = s
	}
	return nil
}

func (m *MemoryStore) SessionsForCourses(ctx context.Context, courseIDs []string) ([]Session, error) {
	want := make(map[string]struct{}, len(courseIDs))
	for _, id := range courseIDs {
		want[id] = struct{}{}
	}
	m.mu.RLock()
	var out []Session
	for _, s := range m.sessions {
		if _, ok := want[s.CourseID]; ok {
			out = append(out, s)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].StartTime.After(out[j].StartTime)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryStore) Record(ctx context.Context, r Record) (Record, error) {
	k := recordKey{r.SessionID, r.StudentID}
	defer m.lockKey(k)()

	m.mu.RLock()
	_, exists := m.records[k]
	m.mu.RUnlock()
	if exists {
		return Record{}, apperr.New(apperr.KindDuplicateAttendance, "ledger.record", "attendance already marked for this session")
	}

	m.mu.Lock()
	m.records[k] = r
	m.mu.Unlock()
	return r, nil
}

func (m *MemoryStore) ExistsFor(ctx context.Context, sessionID, studentID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.records[recordKey{sessionID, studentID}]
	return ok, nil
}

func (m *MemoryStore) filterRecords(keep func(Record) bool) []Record {
	m.mu.RLock()
	var out []Record
	for _, r := range m.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.After(out[j].Timestamp)
		}
		if out[i].SessionID != out[j].SessionID {
			return out[i].SessionID < out[j].SessionID
		}
		return out[i].StudentID < out[j].StudentID
	})
	return out
}

func (m *MemoryStore) CountForStudent(ctx context.Context, studentID string) (int, error) {
	return len(m.filterRecords(func(r Record) bool { return r.StudentID == studentID })), nil
}

func (m *MemoryStore) CountForSession(ctx context.Context, sessionID string) (int, error) {
	return len(m.filterRecords(func(r Record) bool { return r.SessionID == sessionID })), nil
}

func (m *MemoryStore) RecordsForStudent(ctx context.Context, studentID string) ([]Record, error) {
	return m.filterRecords(func(r Record) bool { return r.StudentID == studentID }), nil
}

func (m *MemoryStore) RecordsForSessions(ctx context.Context, sessionIDs []string) ([]Record, error) {
	want := make(map[string]struct{}, len(sessionIDs))
	for _, id := range sessionIDs {
		want[id] = struct{}{}
	}
	return m.filterRecords(func(r Record) bool {
		_, ok := want[r.SessionID]
		return ok
	}), nil
}

func (m *MemoryStore) AllRecords(ctx context.Context) ([]Record, error) {
	return m.filterRecords(func(Record) bool { return true }), nil
}

func (m *MemoryStore) CreateCourse(ctx context.Context, c Course) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.courses[c.ID]; ok {
		return apperr.New(apperr.KindConflict, "courses.create", "course already exists")
	}
	for _, existing := range m.courses {
		if existing.Code == c.Code {
			return apperr.New(apperr.KindConflict, "courses.create", "course code already exists")
		}
	}
	m.courses[c.ID] = c
	return nil
}

func (m *MemoryStore) GetCourse(ctx context.Context, id string) (Course, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.courses[id]
	if !ok {
		return Course{}, apperr.New(apperr.KindCourseNotFound, "courses.get", "course not found")
	}
	return c, nil
}

func (m *MemoryStore) filterCourses(keep func(Course) bool) []Course {
	m.mu.RLock()
	var out []Course
	for _, c := range m.courses {
		if keep(c) {
			out = append(out, c)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

func (m *MemoryStore) CoursesByIssuer(ctx context.Context, issuerID string) ([]Course, error) {
	return m.filterCourses(func(c Course) bool { return c.IssuerID == issuerID }), nil
}

func (m *MemoryStore) CoursesForStudent(ctx context.Context, studentID string) ([]Course, error) {
	return m.filterCourses(func(c Course) bool {
		_, ok := m.rosters[c.ID][studentID]
		return ok
	}), nil
}

func (m *MemoryStore) EnrollStudent(ctx context.Context, courseID, studentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.courses[courseID]; !ok {
		return apperr.New(apperr.KindCourseNotFound, "courses.enroll", "course not found")
	}
	if m.rosters[courseID] == nil {
		m.rosters[courseID] = make(map[string]struct{})
	}
	m.rosters[courseID][studentID] = struct{}{}
	return nil
}

func (m *MemoryStore) CourseStudents(ctx context.Context, courseID string) ([]string, error) {
	m.mu.RLock()
	out := make([]string, 0, len(m.rosters[courseID]))
	for id := range m.rosters[courseID] {
		out = append(out, id)
	}
	m.mu.RUnlock()
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) UpsertUser(ctx context.Context, u User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing := m.users[u.ID]
	existing.ID, existing.Name, existing.Role = u.ID, u.Name, u.Role
	m.users[u.ID] = existing
	return nil
}

func (m *MemoryStore) UserNames(ctx context.Context, ids []string) (map[string]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]string, len(ids))
	for _, id := range ids {
		if u, ok := m.users[id]; ok {
			out[id] = u.Name
		}
	}
	return out, nil
}

func (m *MemoryStore) SetDescriptor(ctx context.Context, userID string, d biometric.Descriptor, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		u = User{ID: userID, Role: RoleStudent}
	}
	u.Descriptor = append(biometric.Descriptor(nil), d...)
	u.EnrolledAt = &at
	m.users[userID] = u
	return nil
}

func (m *MemoryStore) Descriptor(ctx context.Context, userID string) (biometric.Descriptor, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok || len(u.Descriptor) == 0 {
		return nil, false, nil
	}
	return append(biometric.Descriptor(nil), u.Descriptor...), true, nil
}
