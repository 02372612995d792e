package retrievalclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

type staticResolver struct {
	addr string
}

func (r *staticResolver) Resolve(_ context.Context, _ string) (string, error) {
	return r.addr, nil
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	addr := strings.TrimPrefix(srv.URL, "http://")
	return New(&staticResolver{addr: addr}, "retrieval-service", 5*time.Second)
}

func TestSearch(t *testing.T) {
	var gotReq map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/search" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&gotReq)
		_, _ = w.Write([]byte(`{"results":[
			{"id":"c1","score":0.92,"content":"reset via settings","metadata":{"source":"handbook.md"}},
			{"id":"c2","score":0.81,"content":"rotate every 90 days","metadata":{}}
		]}`))
	})

	results, err := client.Search(context.Background(), "reset password", 3, 0.5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotReq["query_text"] != "reset password" || gotReq["top_k"] != float64(3) || gotReq["min_score"] != 0.5 {
		t.Fatalf("unexpected request body %v", gotReq)
	}

	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Source() != "handbook.md" {
		t.Fatalf("expected source from metadata, got %q", results[0].Source())
	}
	if results[1].Source() != "unknown" {
		t.Fatalf("missing source should read 'unknown', got %q", results[1].Source())
	}
}

func TestSearchEmptyResults(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"results":[]}`))
	})

	results, err := client.Search(context.Background(), "q", 3, 0)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no results, got %d", len(results))
	}
}

func TestSearchNon200IsError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "index unavailable", http.StatusServiceUnavailable)
	})

	if _, err := client.Search(context.Background(), "q", 3, 0); err == nil {
		t.Fatal("expected error on 503 response")
	}
}
