package cloudinary

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testClient(srvURL string) *Client {
	c := New("demo", "key", "secret", "faces")
	c.APIBase = srvURL
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	return c
}

func TestSign(t *testing.T) {
	c := testClient("")
	got := c.sign(map[string]string{"timestamp": "1700000000", "folder": "faces", "api_key": "key", "file": "ignored"})
	if got != "4703bbd559b3cfcecf24f3bcfc059353dbeb333b" {
		t.Fatalf("sign() = %s", got)
	}
}

func TestUploadBytes(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/demo/image/upload" {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("signature") != "4703bbd559b3cfcecf24f3bcfc059353dbeb333b" || r.FormValue("api_key") != "key" {
			http.Error(w, "bad signature", http.StatusUnauthorized)
			return
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if hdr.Filename != "face.jpg" || string(data) != "jpeg-bytes" {
			http.Error(w, "bad file", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"public_id":"faces/abc","secure_url":"https://res.example/faces/abc.jpg","width":640,"height":480}`))
	}))
	defer srv.Close()

	res, err := testClient(srv.URL).UploadBytes(context.Background(), []byte("jpeg-bytes"), "face.jpg")
	if err != nil {
		t.Fatalf("UploadBytes() error = %v", err)
	}
	if res.SecureURL != "https://res.example/faces/abc.jpg" || res.Width != 640 {
		t.Fatalf("result = %+v", res)
	}
}

func TestUploadBase64Failure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"Invalid image file"}}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL).UploadBase64(context.Background(), "data:image/png;base64,AAAA"); err == nil {
		t.Fatal("expected upload error")
	}
}

func TestNotConfigured(t *testing.T) {
	c := New("", "", "", "")
	if c.Configured() {
		t.Fatal("empty credentials must not be configured")
	}
	if _, err := c.UploadBase64(context.Background(), "AAAA"); err == nil {
		t.Fatal("expected not configured error")
	}
}
