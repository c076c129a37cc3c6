package search

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nevindra/concierge"
)

func serperStub(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchFormatsResults(t *testing.T) {
	var gotQuery string
	srv := serperStub(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-API-KEY") != "test-key" {
			t.Errorf("missing api key header")
		}
		var body struct {
			Q string `json:"q"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		gotQuery = body.Q
		json.NewEncoder(w).Encode(map[string]any{
			"organic": []map[string]string{
				{"title": "Go 1.25 released", "snippet": "The latest Go release.", "link": "https://go.dev/blog"},
				{"title": "Release notes", "snippet": "Details.", "link": "https://go.dev/doc"},
			},
		})
	})

	p := New("test-key", WithEndpoint(srv.URL))
	ev, err := p.Fetch(context.Background(), "latest go release", concierge.RoutingDecision{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !ev.Found {
		t.Fatal("expected evidence")
	}
	if gotQuery != "latest go release" {
		t.Errorf("query sent = %q", gotQuery)
	}
	for _, want := range []string{"1. Go 1.25 released", "Source: https://go.dev/blog", "2. Release notes"} {
		if !strings.Contains(ev.Content, want) {
			t.Errorf("missing %q in:\n%s", want, ev.Content)
		}
	}
}

func TestFetchPrefersRewrittenQuery(t *testing.T) {
	var gotQuery string
	srv := serperStub(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Q string `json:"q"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		gotQuery = body.Q
		json.NewEncoder(w).Encode(map[string]any{"organic": []map[string]string{}})
	})

	p := New("k", WithEndpoint(srv.URL))
	p.Fetch(context.Background(), "whats new in go",
		concierge.RoutingDecision{SearchQuery: "golang 1.25 release notes"})
	if gotQuery != "golang 1.25 release notes" {
		t.Errorf("query sent = %q, want the router's rewrite", gotQuery)
	}
}

func TestFetchEmptyResults(t *testing.T) {
	srv := serperStub(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"organic": []map[string]string{}})
	})

	p := New("k", WithEndpoint(srv.URL))
	ev, err := p.Fetch(context.Background(), "q", concierge.RoutingDecision{})
	if err != nil {
		t.Fatalf("empty results must not error, got %v", err)
	}
	if ev.Found {
		t.Error("expected not-found evidence")
	}
}

func TestFetchRetriesThenDegrades(t *testing.T) {
	var calls atomic.Int32
	srv := serperStub(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	p := New("k", WithEndpoint(srv.URL), WithMaxAttempts(3))
	p.baseDelay = time.Millisecond
	ev, err := p.Fetch(context.Background(), "q", concierge.RoutingDecision{})
	if ev.Found {
		t.Error("outage must yield not-found evidence")
	}
	var pe *concierge.ErrProvider
	if !errors.As(err, &pe) {
		t.Fatalf("want *ErrProvider, got %v", err)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3 (bounded retries)", got)
	}
}

func TestFetchWithoutAPIKey(t *testing.T) {
	p := New("")
	ev, err := p.Fetch(context.Background(), "q", concierge.RoutingDecision{})
	if err != nil {
		t.Fatalf("keyless fetch must not error, got %v", err)
	}
	if ev.Found {
		t.Error("keyless fetch must be not-found")
	}
}

func TestEnrichReplacesSnippets(t *testing.T) {
	page := serperStub(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><head><title>T</title></head><body><article><h1>Heading</h1><p>` +
			strings.Repeat("Readable body text for the extractor. ", 20) + `</p></article></body></html>`))
	})
	srv := serperStub(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"organic": []map[string]string{
				{"title": "T", "snippet": "short snippet", "link": page.URL},
			},
		})
	})

	p := New("k", WithEndpoint(srv.URL), WithFetchPages(1))
	ev, err := p.Fetch(context.Background(), "q", concierge.RoutingDecision{})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if !strings.Contains(ev.Content, "Readable body text") {
		t.Errorf("snippet not enriched with page text:\n%s", ev.Content)
	}
}
