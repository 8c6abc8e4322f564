package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"smartattend/internal/apperr"
	"smartattend/internal/attendance"
	"smartattend/internal/auth"
	"smartattend/internal/biometric"
	"smartattend/internal/cloudinary"
	"smartattend/internal/gamification"
	"smartattend/internal/queue"
)

const (
	signingKey = "handler-test-key"
	issuer     = "smartattend-test"
)

type fakeUploader struct{ configured bool }

func (f fakeUploader) Configured() bool { return f.configured }

func (f fakeUploader) UploadBase64(ctx context.Context, data string) (*cloudinary.UploadResult, error) {
	return &cloudinary.UploadResult{SecureURL: "https://res.example/b64.jpg"}, nil
}

func (f fakeUploader) UploadBytes(ctx context.Context, data []byte, filename string) (*cloudinary.UploadResult, error) {
	return &cloudinary.UploadResult{SecureURL: "https://res.example/" + filename}, nil
}

type testServer struct {
	t      *testing.T
	router *gin.Engine
	clock  time.Time
	events *queue.InMemory
	tokens map[string]string
}

func newTestServer(t *testing.T, uploader Uploader) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	st := attendance.NewMemoryStore()
	ts := &testServer{
		t:      t,
		clock:  time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC),
		events: queue.NewInMemory(32),
		tokens: make(map[string]string),
	}
	h := New(Deps{
		Service:  attendance.NewService(st, biometric.NewMatcher(0.6), nil),
		Reports:  gamification.NewReporter(st, nil, gamification.Options{}),
		Events:   ts.events,
		Uploader: uploader,
		Health:   map[string]HealthCheck{"db": func(context.Context) bool { return true }},
		Now:      func() time.Time { return ts.clock },
	})
	ts.router = gin.New()
	h.Routes(ts.router, Middleware{Auth: auth.Authenticate(signingKey, issuer)})

	for id, role := range map[string]attendance.Role{
		"t1": attendance.RoleTeacher, "t2": attendance.RoleTeacher,
		"s1": attendance.RoleStudent, "s2": attendance.RoleStudent, "s3": attendance.RoleStudent,
	} {
		tok, err := auth.Issue(id, role, "", issuer, signingKey, time.Hour, time.Now())
		if err != nil {
			t.Fatalf("issue token: %v", err)
		}
		ts.tokens[id] = tok.AccessToken
	}
	return ts
}

// do sends a JSON request as user from the given address.
func (ts *testServer) do(method, path, user, remoteIP string, body any) *httptest.ResponseRecorder {
	ts.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			ts.t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+ts.tokens[user])
	}
	if remoteIP == "" {
		remoteIP = "198.51.100.1"
	}
	req.RemoteAddr = remoteIP + ":40000"
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), "body %q", w.Body.String())
	return out
}

func expect(t *testing.T, w *httptest.ResponseRecorder, status int, kind string) map[string]any {
	t.Helper()
	require.Equal(t, status, w.Code, w.Body.String())
	if w.Body.Len() == 0 {
		return nil
	}
	body := decode(t, w)
	if kind != "" {
		require.Equal(t, kind, body["kind"])
	}
	return body
}

// openSession creates course CS101 owned by t1 with s1..s3 enrolled and
// opens a 10 minute session from the teacher's address.
func (ts *testServer) openSession(teacherIP string) string {
	ts.t.Helper()
	course := expect(ts.t, ts.do(http.MethodPost, "/v1/courses", "t1", "", gin.H{"code": "CS101", "name": "Intro to CS"}), http.StatusCreated, "")
	courseID := course["id"].(string)
	for _, s := range []string{"s1", "s2", "s3"} {
		expect(ts.t, ts.do(http.MethodPost, "/v1/courses/"+courseID+"/students", "t1", "", gin.H{"student_id": s}), http.StatusNoContent, "")
	}
	sess := expect(ts.t, ts.do(http.MethodPost, "/v1/sessions", "t1", teacherIP, gin.H{"course_id": courseID, "duration_minutes": 10}), http.StatusCreated, "")
	key := sess["session_key"].(string)
	code := sess["code"].(map[string]any)
	if code["sessionKey"] != key {
		ts.t.Fatalf("join code = %v, want sessionKey %s", code, key)
	}
	return key
}

func TestJoinFlow(t *testing.T) {
	ts := newTestServer(t, nil)
	t0 := ts.clock
	key := ts.openSession("10.0.0.5")

	ts.clock = t0.Add(2 * time.Minute)
	body := expect(t, ts.do(http.MethodPost, "/v1/attendance/join", "s1", "10.0.0.5", gin.H{"session_key": key, "method": "proximity"}), http.StatusCreated, "")
	if body["course_name"] != "Intro to CS" || body["method"] != "proximity" {
		t.Fatalf("join body = %v", body)
	}

	ts.clock = t0.Add(3 * time.Minute)
	expect(t, ts.do(http.MethodPost, "/v1/attendance/join", "s1", "10.0.0.5", gin.H{"session_key": key, "method": "proximity"}), http.StatusConflict, "duplicate_attendance")

	expect(t, ts.do(http.MethodPost, "/v1/attendance/join", "s2", "10.0.0.99", gin.H{"session_key": key, "method": "qr-proximity"}), http.StatusForbidden, "proximity_mismatch")
	expect(t, ts.do(http.MethodPost, "/v1/attendance/join", "s2", "", gin.H{"session_key": key, "method": "biometric", "descriptors": [][]float64{make([]float64, 128)}}), http.StatusPreconditionFailed, "biometric_not_enrolled")
	expect(t, ts.do(http.MethodPost, "/v1/attendance/join", "s2", "", gin.H{"session_key": "nope", "method": "code"}), http.StatusNotFound, "session_not_found")
	expect(t, ts.do(http.MethodPost, "/v1/attendance/join", "s2", "", gin.H{"session_key": key, "method": "telepathy"}), http.StatusBadRequest, "validation")
	expect(t, ts.do(http.MethodPost, "/v1/attendance/join", "s2", "", gin.H{"method": "code"}), http.StatusBadRequest, "validation")

	info := expect(t, ts.do(http.MethodGet, "/v1/sessions/"+key, "s3", "", nil), http.StatusOK, "")
	if info["active"] != true || info["course_name"] != "Intro to CS" || info["attendees"] != float64(1) {
		t.Fatalf("session info = %v", info)
	}

	ts.clock = t0.Add(11 * time.Minute)
	expect(t, ts.do(http.MethodPost, "/v1/attendance/join", "s3", "10.0.0.5", gin.H{"session_key": key, "method": "code"}), http.StatusForbidden, "session_expired")

	events := drain(t, ts.events)
	var types []string
	for len(types) < 2 {
		select {
		case msg := <-events:
			types = append(types, msg.Type)
		case <-time.After(time.Second):
			t.Fatalf("events so far: %v", types)
		}
	}
	if types[0] != queue.TypeSessionCreated || types[1] != queue.TypeAttendanceRecorded {
		t.Fatalf("events = %v", types)
	}
}

func drain(t *testing.T, q *queue.InMemory) <-chan queue.Message {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	ch, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	return ch
}

func TestAuthorization(t *testing.T) {
	ts := newTestServer(t, nil)
	key := ts.openSession("")

	expect(t, ts.do(http.MethodPost, "/v1/sessions", "", "", gin.H{"course_id": "x", "duration_minutes": 5}), http.StatusUnauthorized, "unauthenticated")
	expect(t, ts.do(http.MethodPost, "/v1/sessions", "s1", "", gin.H{"course_id": "x", "duration_minutes": 5}), http.StatusUnauthorized, "authorization")
	expect(t, ts.do(http.MethodPost, "/v1/attendance/join", "t1", "", gin.H{"session_key": key, "method": "code"}), http.StatusForbidden, "authorization")
	expect(t, ts.do(http.MethodPost, "/v1/sessions/"+key+"/close", "t2", "", nil), http.StatusForbidden, "authorization")
	expect(t, ts.do(http.MethodPost, "/v1/sessions", "t1", "", gin.H{"course_id": "missing", "duration_minutes": 5}), http.StatusNotFound, "course_not_found")

	expect(t, ts.do(http.MethodPost, "/v1/sessions/"+key+"/close", "t1", "", nil), http.StatusNoContent, "")
	expect(t, ts.do(http.MethodPost, "/v1/attendance/join", "s1", "", gin.H{"session_key": key, "method": "code"}), http.StatusForbidden, "session_expired")
}

func TestCreateSessionValidation(t *testing.T) {
	ts := newTestServer(t, nil)
	course := expect(t, ts.do(http.MethodPost, "/v1/courses", "t1", "", gin.H{"code": "PH1", "name": "Physics"}), http.StatusCreated, "")
	expect(t, ts.do(http.MethodPost, "/v1/sessions", "t1", "", gin.H{"course_id": course["id"], "duration_minutes": 0}), http.StatusBadRequest, "validation")
	expect(t, ts.do(http.MethodPost, "/v1/sessions", "t1", "", gin.H{"course_id": course["id"], "duration_minutes": -5}), http.StatusBadRequest, "validation")
	expect(t, ts.do(http.MethodPost, "/v1/sessions", "t1", "", gin.H{"course_id": course["id"], "duration_minutes": attendance.MaxSessionMinutes + 1}), http.StatusBadRequest, "validation")
	expect(t, ts.do(http.MethodPost, "/v1/sessions", "t1", "", gin.H{"course_id": course["id"], "duration_minutes": int64(1) << 40}), http.StatusBadRequest, "validation")
	expect(t, ts.do(http.MethodPost, "/v1/courses", "t1", "", gin.H{"code": "PH1", "name": "Physics again"}), http.StatusBadRequest, "validation")
}

func TestProfileFaceAndAnalytics(t *testing.T) {
	ts := newTestServer(t, nil)
	key := ts.openSession("")

	expect(t, ts.do(http.MethodPut, "/v1/profile", "s1", "", gin.H{"name": "Ada"}), http.StatusOK, "")
	ref := make([]float64, 128)
	expect(t, ts.do(http.MethodPost, "/v1/profile/face", "s1", "", gin.H{"descriptor": ref}), http.StatusOK, "")
	expect(t, ts.do(http.MethodPost, "/v1/profile/face", "s1", "", gin.H{"descriptor": []float64{1, 2}}), http.StatusUnprocessableEntity, "biometric_enrollment")
	expect(t, ts.do(http.MethodPost, "/v1/profile/face", "s1", "", gin.H{"image_url": "https://img.example/x.jpg"}), http.StatusBadRequest, "validation")

	far := make([]float64, 128)
	far[0] = 0.8
	expect(t, ts.do(http.MethodPost, "/v1/attendance/join", "s1", "", gin.H{"session_key": key, "method": "biometric", "descriptors": [][]float64{far}}), http.StatusForbidden, "biometric_no_match")
	expect(t, ts.do(http.MethodPost, "/v1/attendance/join", "s1", "", gin.H{"session_key": key, "method": "biometric"}), http.StatusUnprocessableEntity, "biometric_no_face")

	near := make([]float64, 128)
	near[0] = 0.45
	expect(t, ts.do(http.MethodPost, "/v1/attendance/join", "s1", "", gin.H{"session_key": key, "method": "code+biometric", "descriptors": [][]float64{far, near}}), http.StatusCreated, "")

	rep := expect(t, ts.do(http.MethodGet, "/v1/analytics/student", "s1", "", nil), http.StatusOK, "")
	if rep["attendance_score"] != float64(100) || rep["streak"] != float64(1) || rep["rank"] != float64(1) {
		t.Fatalf("student report = %v", rep)
	}

	lb := expect(t, ts.do(http.MethodGet, "/v1/leaderboard", "s2", "", nil), http.StatusOK, "")
	entries := lb["leaderboard"].([]any)
	if len(entries) != 1 || entries[0].(map[string]any)["name"] != "Ada" || lb["rank"] != float64(0) {
		t.Fatalf("leaderboard = %v", lb)
	}

	teacher := expect(t, ts.do(http.MethodGet, "/v1/analytics/teacher", "t1", "", nil), http.StatusOK, "")
	atRisk := teacher["at_risk_students"].([]any)
	if len(atRisk) != 2 {
		t.Fatalf("at risk = %v", atRisk)
	}
	expect(t, ts.do(http.MethodGet, "/v1/analytics/teacher", "s1", "", nil), http.StatusForbidden, "authorization")
}

func TestUpload(t *testing.T) {
	ts := newTestServer(t, nil)
	expect(t, ts.do(http.MethodPost, "/v1/upload", "s1", "", gin.H{"data": "AAAA"}), http.StatusServiceUnavailable, "unavailable")

	ts = newTestServer(t, fakeUploader{configured: true})
	body := expect(t, ts.do(http.MethodPost, "/v1/upload", "s1", "", gin.H{"data": "data:image/png;base64,AAAA"}), http.StatusOK, "")
	if body["url"] != "https://res.example/b64.jpg" {
		t.Fatalf("upload body = %v", body)
	}
	expect(t, ts.do(http.MethodPost, "/v1/upload", "s1", "", gin.H{}), http.StatusBadRequest, "validation")
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, nil)
	w := ts.do(http.MethodGet, "/healthz", "", "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"db":true`) {
		t.Fatalf("healthz = %d %s", w.Code, w.Body.String())
	}
}

func TestStatusFor(t *testing.T) {
	tests := map[apperr.Kind]int{
		apperr.KindAuthorization:        http.StatusForbidden,
		apperr.KindValidation:           http.StatusBadRequest,
		apperr.KindCourseNotFound:       http.StatusNotFound,
		apperr.KindSessionNotFound:      http.StatusNotFound,
		apperr.KindSessionExpired:       http.StatusForbidden,
		apperr.KindProximityMismatch:    http.StatusForbidden,
		apperr.KindBiometricNotEnrolled: http.StatusPreconditionFailed,
		apperr.KindBiometricNoMatch:     http.StatusForbidden,
		apperr.KindBiometricNoFace:      http.StatusUnprocessableEntity,
		apperr.KindBiometricEnrollment:  http.StatusUnprocessableEntity,
		apperr.KindDuplicateAttendance:  http.StatusConflict,
		apperr.KindConflict:             http.StatusInternalServerError,
		apperr.KindStorage:              http.StatusInternalServerError,
		apperr.KindUnknown:              http.StatusInternalServerError,
	}
	for kind, want := range tests {
		if got := statusFor(kind); got != want {
			t.Errorf("statusFor(%v) = %d, want %d", kind, got, want)
		}
	}
}

func TestCourseListingAndSessionAttendance(t *testing.T) {
	ts := newTestServer(t, nil)
	key := ts.openSession("")

	expect(t, ts.do(http.MethodPut, "/v1/profile", "s2", "", gin.H{"name": "Grace"}), http.StatusOK, "")
	ts.clock = ts.clock.Add(time.Minute)
	expect(t, ts.do(http.MethodPost, "/v1/attendance/join", "s2", "", gin.H{"session_key": key, "method": "code"}), http.StatusCreated, "")

	taught := expect(t, ts.do(http.MethodGet, "/v1/courses", "t1", "", nil), http.StatusOK, "")
	assert.Len(t, taught["courses"], 1)
	other := expect(t, ts.do(http.MethodGet, "/v1/courses", "t2", "", nil), http.StatusOK, "")
	assert.Len(t, other["courses"], 0)
	enrolled := expect(t, ts.do(http.MethodGet, "/v1/courses", "s3", "", nil), http.StatusOK, "")
	assert.Len(t, enrolled["courses"], 1)

	expect(t, ts.do(http.MethodGet, "/v1/sessions/"+key+"/attendance", "t2", "", nil), http.StatusForbidden, "authorization")
	expect(t, ts.do(http.MethodGet, "/v1/sessions/"+key+"/attendance", "s2", "", nil), http.StatusForbidden, "authorization")
	body := expect(t, ts.do(http.MethodGet, "/v1/sessions/"+key+"/attendance", "t1", "", nil), http.StatusOK, "")
	list := body["attendance"].([]any)
	require.Len(t, list, 1)
	row := list[0].(map[string]any)
	assert.Equal(t, "s2", row["student_id"])
	assert.Equal(t, "Grace", row["name"])
	assert.Equal(t, "code", row["method"])
}

func TestCloseSessionPublishesCourse(t *testing.T) {
	ts := newTestServer(t, nil)
	key := ts.openSession("")
	info := expect(t, ts.do(http.MethodGet, "/v1/sessions/"+key, "s1", "", nil), http.StatusOK, "")

	ts.clock = ts.clock.Add(time.Minute)
	expect(t, ts.do(http.MethodPost, "/v1/sessions/"+key+"/close", "t1", "", nil), http.StatusNoContent, "")

	events := drain(t, ts.events)
	for {
		select {
		case msg := <-events:
			if msg.Type != queue.TypeSessionClosed {
				continue
			}
			var evt queue.SessionChanged
			require.NoError(t, msg.Decode(&evt))
			assert.Equal(t, key, evt.SessionID)
			assert.Equal(t, info["course_id"], evt.CourseID)
			assert.Equal(t, "t1", evt.IssuerID)
			assert.True(t, evt.At.Equal(ts.clock))
			return
		case <-time.After(time.Second):
			t.Fatal("no session.closed event")
		}
	}
}
