package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestPendingRequests(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[{"sessionId":"r1","nickname":"ada"},{"sessionId":"r2","nickname":"grace"}]`))
	}))
	defer srv.Close()

	c := New(srv.URL, WithToken("tok-123"))
	pending, err := c.PendingRequests(context.Background())
	if err != nil {
		t.Fatalf("PendingRequests failed: %v", err)
	}

	if gotPath != "/api/admin/support/pending" {
		t.Errorf("path = %q", gotPath)
	}
	if gotAuth != "Bearer tok-123" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if len(pending) != 2 || pending[0].SessionID != "r1" || pending[1].Nickname != "grace" {
		t.Errorf("unexpected result: %+v", pending)
	}
}

func TestPendingRequests_NoToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			t.Errorf("unexpected Authorization header %q", r.Header.Get("Authorization"))
		}
		w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	pending, err := New(srv.URL).PendingRequests(context.Background())
	if err != nil {
		t.Fatalf("PendingRequests failed: %v", err)
	}
	if len(pending) != 0 {
		t.Errorf("expected empty list, got %+v", pending)
	}
}

func TestPendingRequests_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	if _, err := New(srv.URL).PendingRequests(context.Background()); err == nil {
		t.Error("expected error on non-200 status")
	}
}

func TestPendingRequests_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	if _, err := New(srv.URL).PendingRequests(ctx); err == nil {
		t.Error("expected error when the context expires")
	}
}
