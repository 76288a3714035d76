package remote

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"turboprint/pkg/format"
)

func TestWebhookPostsJSON(t *testing.T) {
	t.Parallel()
	var (
		mu   sync.Mutex
		body []byte
		auth string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		body, auth = b, r.Header.Get("Authorization")
		mu.Unlock()
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	wh, err := NewWebhook(srv.URL, map[string]string{"Authorization": "Bearer t"})
	if err != nil {
		t.Fatalf("NewWebhook: %v", err)
	}
	if err := wh.Send(context.Background(), Message{Text: "[INFO] hi", Record: rec("hi")}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if auth != "Bearer t" {
		t.Fatalf("Authorization = %q", auth)
	}
	got, err := format.ParseJSON(body)
	if err != nil {
		t.Fatalf("ParseJSON(%s): %v", body, err)
	}
	if got.Message != "hi" || got.Logger != "app" {
		t.Fatalf("record = %+v", got)
	}
	if v, _ := got.Field("text"); v != "[INFO] hi" {
		t.Fatalf("text = %v", v)
	}
}

func TestWebhookStatusClassification(t *testing.T) {
	t.Parallel()
	tests := []struct {
		status    int
		permanent bool
	}{
		{http.StatusBadRequest, true},
		{http.StatusUnauthorized, true},
		{http.StatusTooManyRequests, false},
		{http.StatusServiceUnavailable, false},
	}
	for _, tt := range tests {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(tt.status)
		}))
		wh, _ := NewWebhook(srv.URL, nil)
		err := wh.Send(context.Background(), Message{Text: "x", Record: rec("x")})
		srv.Close()
		if err == nil {
			t.Fatalf("status %d: expected error", tt.status)
		}
		if IsPermanent(err) != tt.permanent {
			t.Fatalf("status %d: permanent = %v, want %v", tt.status, IsPermanent(err), tt.permanent)
		}
	}
	if _, err := NewWebhook("ftp://example", nil); err == nil {
		t.Fatal("non-http url accepted")
	}
}
