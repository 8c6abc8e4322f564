package queue

import (
	"context"
	"testing"
	"time"
)

func TestEncodeDecode(t *testing.T) {
	at := time.Date(2026, 3, 2, 9, 2, 0, 0, time.UTC)
	msg, err := Encode(TypeAttendanceRecorded, AttendanceRecorded{SessionID: "s", StudentID: "u", Method: "code", Timestamp: at})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if msg.Type != TypeAttendanceRecorded {
		t.Fatalf("Type = %q", msg.Type)
	}
	var ev AttendanceRecorded
	if err := msg.Decode(&ev); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if ev.StudentID != "u" || !ev.Timestamp.Equal(at) {
		t.Fatalf("event = %+v", ev)
	}
	if err := (Message{Type: "x", Body: []byte("{")}).Decode(&ev); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestInMemoryDelivers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := NewInMemory(4)
	ch, err := q.Consume(ctx)
	if err != nil {
		t.Fatalf("Consume() error = %v", err)
	}
	for _, typ := range []string{TypeSessionCreated, TypeAttendanceRecorded, TypeSessionClosed} {
		msg, _ := Encode(typ, SessionChanged{SessionID: "s1"})
		if err := q.Publish(ctx, msg); err != nil {
			t.Fatalf("Publish() error = %v", err)
		}
	}
	for _, want := range []string{TypeSessionCreated, TypeAttendanceRecorded, TypeSessionClosed} {
		select {
		case msg := <-ch:
			if msg.Type != want {
				t.Fatalf("got %q, want %q", msg.Type, want)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}

	cancel()
	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected closed channel after cancel")
		}
	case <-time.After(time.Second):
		t.Fatal("consumer did not stop")
	}
}

func TestInMemoryPublishRespectsContext(t *testing.T) {
	q := NewInMemory(1)
	ctx, cancel := context.WithCancel(context.Background())
	if err := q.Publish(ctx, Message{Type: "a"}); err != nil {
		t.Fatalf("first publish: %v", err)
	}
	cancel()
	if err := q.Publish(ctx, Message{Type: "b"}); err == nil {
		t.Fatal("full queue with cancelled context must fail")
	}
}
