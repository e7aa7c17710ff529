package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ccpanes/ccpanes/internal/detect"
	"github.com/ccpanes/ccpanes/internal/refresh"
	"github.com/ccpanes/ccpanes/internal/status"
)

type fakeSource struct {
	mu   sync.Mutex
	snap *refresh.Snapshot
}

func (f *fakeSource) Snapshot() *refresh.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeSource) set(s *refresh.Snapshot) {
	f.mu.Lock()
	f.snap = s
	f.mu.Unlock()
}

func testSnapshot(pass uint64, st status.Status) *refresh.Snapshot {
	return &refresh.Snapshot{
		Pass: pass,
		At:   time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC),
		Sessions: []refresh.Session{{
			Candidate:  detect.Candidate{PaneID: 7, PID: 70, Cwd: "/work/api", TTY: "pts/7"},
			Status:     st,
			Source:     status.SourceTranscript,
			LastPrompt: "fix the tests",
			LastOutput: "done",
		}},
	}
}

func TestHealthzEndpoint(t *testing.T) {
	srv := NewServer(Config{Source: &fakeSource{snap: testSnapshot(3, status.Idle)}})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	body := rr.Body.String()
	if !strings.Contains(body, `"ok":true`) {
		t.Fatalf("expected ok=true, got: %s", body)
	}
	if !strings.Contains(body, `"pass":3`) {
		t.Fatalf("expected pass in health response, got: %s", body)
	}
}

func TestHealthzMethodNotAllowed(t *testing.T) {
	srv := NewServer(Config{})

	req := httptest.NewRequest(http.MethodPost, "/healthz", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rr.Code)
	}
}

func TestSessionsNotReady(t *testing.T) {
	srv := NewServer(Config{Source: &fakeSource{}})

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status %d, got %d", http.StatusServiceUnavailable, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"code":"NOT_READY"`) {
		t.Fatalf("expected NOT_READY body, got: %s", rr.Body.String())
	}
}

func TestSessionsOmitsDetailByDefault(t *testing.T) {
	srv := NewServer(Config{Source: &fakeSource{snap: testSnapshot(1, status.Waiting)}})

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/sessions", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	var resp SessionsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Sessions) != 1 || resp.Sessions[0].PaneID != 7 {
		t.Fatalf("unexpected sessions: %+v", resp.Sessions)
	}
	if resp.Sessions[0].LastPrompt != "" || resp.Sessions[0].LastOutput != "" {
		t.Fatalf("detail leaked without ?detail=1: %+v", resp.Sessions[0])
	}
	if resp.Counts[status.Waiting] != 1 {
		t.Fatalf("expected waiting count 1, got %v", resp.Counts)
	}
}

func TestSessionsWithDetail(t *testing.T) {
	src := &fakeSource{snap: testSnapshot(1, status.Idle)}
	srv := NewServer(Config{Source: src})

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/sessions?detail=1", nil))

	var resp SessionsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Sessions[0].LastPrompt != "fix the tests" {
		t.Fatalf("expected last prompt, got %+v", resp.Sessions[0])
	}
	if src.snap.Sessions[0].LastPrompt != "fix the tests" {
		t.Fatal("response shaping must not modify the shared snapshot")
	}
}

func TestSessionsRequiresToken(t *testing.T) {
	srv := NewServer(Config{Token: "secret-token", Source: &fakeSource{snap: testSnapshot(1, status.Idle)}})

	cases := []struct {
		name string
		mod  func(*http.Request)
		want int
	}{
		{"missing", func(*http.Request) {}, http.StatusUnauthorized},
		{"wrong", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized},
		{"bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer secret-token") }, http.StatusOK},
		{"query", func(r *http.Request) { r.URL.RawQuery = "token=secret-token" }, http.StatusOK},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
			tc.mod(req)
			rr := httptest.NewRecorder()
			srv.Handler().ServeHTTP(rr, req)
			if rr.Code != tc.want {
				t.Fatalf("expected status %d, got %d", tc.want, rr.Code)
			}
		})
	}
}

func TestSessionsMethodNotAllowed(t *testing.T) {
	srv := NewServer(Config{Source: &fakeSource{snap: testSnapshot(1, status.Idle)}})

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodDelete, "/api/sessions", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected status %d, got %d", http.StatusMethodNotAllowed, rr.Code)
	}
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ccpanes_passes_total 1\n"))
	})
	srv := NewServer(Config{Metrics: metrics})

	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if !strings.Contains(rr.Body.String(), "ccpanes_passes_total") {
		t.Fatalf("expected metrics body, got: %s", rr.Body.String())
	}

	rr = httptest.NewRecorder()
	NewServer(Config{}).Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected 404 without a metrics handler, got %d", rr.Code)
	}
}

func TestWithRecover(t *testing.T) {
	h := withRecover(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/x", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected status %d, got %d", http.StatusInternalServerError, rr.Code)
	}
}

func TestNewSessionsResponseNil(t *testing.T) {
	resp := NewSessionsResponse(nil, false)
	if resp.Sessions == nil || len(resp.Sessions) != 0 {
		t.Fatalf("expected empty non-nil sessions, got %#v", resp.Sessions)
	}
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"sessions":[]`) {
		t.Fatalf("expected empty array, got %s", data)
	}
}
