package faceclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"smartattend/internal/biometric"
)

func TestDetect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/detect" {
			http.NotFound(w, r)
			return
		}
		var in struct {
			ImageURL string `json:"image_url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.ImageURL != "https://img.example/a.jpg" {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"faces":[{"descriptor":[0.1,0.2],"box":{"x":1,"y":2,"width":30,"height":40},"score":0.9}]}`))
	}))
	defer srv.Close()

	c := New(srv.URL, false, time.Second)
	faces, err := c.Detect(context.Background(), "https://img.example/a.jpg")
	if err != nil {
		t.Fatalf("Detect() error = %v", err)
	}
	if len(faces) != 1 {
		t.Fatalf("len(faces) = %d", len(faces))
	}
	f := faces[0]
	if len(f.Descriptor) != 2 || f.Descriptor[1] != 0.2 || f.Box.Area() != 1200 || f.Score != 0.9 {
		t.Fatalf("face = %+v", f)
	}
}

func TestDetectNoFaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"faces":[]}`))
	}))
	defer srv.Close()

	faces, err := New(srv.URL, false, time.Second).Detect(context.Background(), "https://img.example/empty.jpg")
	if err != nil || len(faces) != 0 {
		t.Fatalf("Detect() = %v, %v", faces, err)
	}
}

func TestDetectServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New(srv.URL, false, time.Second).Detect(context.Background(), "https://img.example/a.jpg")
	if err == nil || !strings.Contains(err.Error(), "model not loaded") {
		t.Fatalf("Detect() error = %v", err)
	}
	if _, err := New(srv.URL, false, time.Second).Detect(context.Background(), ""); err == nil {
		t.Fatal("empty url must fail")
	}
}

func TestSkipMode(t *testing.T) {
	c := New("http://unused.invalid", true, 0)
	faces, err := c.Detect(context.Background(), "")
	if err != nil || len(faces) != 1 {
		t.Fatalf("Detect() = %v, %v", faces, err)
	}
	if err := faces[0].Descriptor.Validate(); err != nil {
		t.Fatalf("skip descriptor invalid: %v", err)
	}
	face, err := biometric.SelectForEnrollment(faces)
	if err != nil {
		t.Fatalf("SelectForEnrollment() error = %v", err)
	}
	res, err := biometric.NewMatcher(0).Match(face.Descriptor, []biometric.Descriptor{SkipDescriptor()})
	if err != nil || !res.Matched {
		t.Fatalf("skip faces must match themselves: %+v, %v", res, err)
	}
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health() in skip mode = %v", err)
	}
}

func TestHealth(t *testing.T) {
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		w.WriteHeader(status)
	}))
	defer srv.Close()

	c := New(srv.URL, false, time.Second)
	if err := c.Health(context.Background()); err != nil {
		t.Fatalf("Health() = %v", err)
	}
	status = http.StatusInternalServerError
	if err := c.Health(context.Background()); err == nil {
		t.Fatal("expected unhealthy error")
	}
}
