package storage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"
)

func TestTagOverHTTPPostsExpectedForm(t *testing.T) {
	var (
		mu       sync.Mutex
		gotPath  string
		gotField string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotPath = r.URL.Path
		gotField = r.FormValue("path")
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tagOverHTTP(context.Background(), srv.URL, "servers.web1.cpu")

	mu.Lock()
	defer mu.Unlock()
	if gotPath != "/tags/tagSeries" {
		t.Errorf("path = %q, want /tags/tagSeries", gotPath)
	}
	if gotField != "servers.web1.cpu" {
		t.Errorf("form field path = %q, want %q", gotField, "servers.web1.cpu")
	}
}

func TestTagOverHTTPEmptyURLIsNoop(t *testing.T) {
	// Must not panic or block; there is nothing to POST to.
	done := make(chan struct{})
	go func() {
		tagOverHTTP(context.Background(), "", "m")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("tagOverHTTP with empty URL did not return")
	}
}

func TestTagOverHTTPServerErrorDoesNotPanic(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	tagOverHTTP(context.Background(), srv.URL, "m")
}
