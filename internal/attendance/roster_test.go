package attendance

import (
	"context"
	"testing"
	"time"

	"smartattend/internal/apperr"
)

func TestListCourses(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		seed(t, st)
		svc := NewService(st, nil, nil)

		taught, err := svc.ListCourses(ctx, "t1", RoleTeacher)
		if err != nil || len(taught) != 1 || taught[0].Code != "CS101" {
			t.Fatalf("teacher courses = %v, %v", taught, err)
		}
		enrolled, err := svc.ListCourses(ctx, "s2", RoleStudent)
		if err != nil || len(enrolled) != 1 || enrolled[0].ID != "c1" {
			t.Fatalf("student courses = %v, %v", enrolled, err)
		}
		none, err := svc.ListCourses(ctx, "s9", RoleStudent)
		if err != nil || none == nil || len(none) != 0 {
			t.Fatalf("unenrolled courses = %#v, %v", none, err)
		}
	})
}

func TestSessionAttendance(t *testing.T) {
	forEachStore(t, func(t *testing.T, st Store) {
		ctx := context.Background()
		seed(t, st)
		svc := NewService(st, nil, nil)
		start := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)

		sess := Session{ID: "abcd1234", CourseID: "c1", IssuerID: "t1", StartTime: start, EndTime: start.Add(time.Hour)}
		if err := st.InsertSession(ctx, sess); err != nil {
			t.Fatal(err)
		}
		if err := st.UpsertUser(ctx, User{ID: "s2", Name: "Grace", Role: RoleStudent}); err != nil {
			t.Fatal(err)
		}
		for i, id := range []string{"s2", "s1"} {
			rec := Record{SessionID: sess.ID, StudentID: id, CourseID: "c1", Method: MethodCode, Timestamp: start.Add(time.Duration(i+1) * time.Minute)}
			if _, err := st.Record(ctx, rec); err != nil {
				t.Fatal(err)
			}
		}

		_, err := svc.SessionAttendance(ctx, sess.ID, "t2")
		wantKind(t, err, apperr.KindAuthorization)
		_, err = svc.SessionAttendance(ctx, "zzzz9999", "t1")
		wantKind(t, err, apperr.KindSessionNotFound)

		got, err := svc.SessionAttendance(ctx, sess.ID, "t1")
		if err != nil {
			t.Fatalf("SessionAttendance() error = %v", err)
		}
		if len(got) != 2 || got[0].StudentID != "s2" || got[0].Name != "Grace" || got[1].StudentID != "s1" || got[1].Name != "" {
			t.Fatalf("attendees = %+v", got)
		}
		if got[0].Method != MethodCode {
			t.Fatalf("method = %v", got[0].Method)
		}
	})
}
