package sink

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/opd-ai/go-procmon/internal/monitor"
)

type fakeSubmitter struct {
	accept bool
	got    []monitor.DiagnosticsRequest
}

func (f *fakeSubmitter) Submit(req monitor.DiagnosticsRequest) bool {
	f.got = append(f.got, req)
	return f.accept
}

func serve(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestServer_SnapshotBeforeFirstTick(t *testing.T) {
	s := NewServer(ServerOptions{})
	for _, path := range []string{"/snapshot", "/processes"} {
		if rec := serve(t, s, http.MethodGet, path, ""); rec.Code != http.StatusServiceUnavailable {
			t.Errorf("GET %s = %d, want 503", path, rec.Code)
		}
	}
	if rec := serve(t, s, http.MethodGet, "/processes/1", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET /processes/1 = %d, want 404", rec.Code)
	}
}

func TestServer_Snapshot(t *testing.T) {
	s := NewServer(ServerOptions{})
	if err := s.OnSnapshot(context.Background(), testSnapshot(4)); err != nil {
		t.Fatalf("OnSnapshot() error = %v", err)
	}

	rec := serve(t, s, http.MethodGet, "/snapshot", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /snapshot = %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var snap monitor.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if snap.Sequence != 4 || len(snap.Roots) != 1 {
		t.Errorf("snapshot = %+v", snap)
	}
}

func TestServer_Processes(t *testing.T) {
	s := NewServer(ServerOptions{})
	_ = s.OnSnapshot(context.Background(), testSnapshot(1))

	rec := serve(t, s, http.MethodGet, "/processes", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /processes = %d", rec.Code)
	}
	var rows []processRow
	if err := json.Unmarshal(rec.Body.Bytes(), &rows); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0].PID != 1 || rows[0].Depth != 0 || rows[0].Uptime != "" {
		t.Errorf("rows[0] = %+v", rows[0])
	}
	child := rows[1]
	if child.PID != 2 || child.Depth != 1 || child.WindowID != 3 || child.CPU != "5.5%" {
		t.Errorf("rows[1] = %+v", child)
	}
	if child.Uptime != "3 minutes ago" {
		t.Errorf("Uptime = %q, want 3 minutes ago", child.Uptime)
	}
}

func TestServer_Process(t *testing.T) {
	s := NewServer(ServerOptions{})
	_ = s.OnSnapshot(context.Background(), testSnapshot(1))

	rec := serve(t, s, http.MethodGet, "/processes/2", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("GET /processes/2 = %d", rec.Code)
	}
	var got monitor.ProcessRecord
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if got.DisplayName != "renderer" || got.UIAffinity == nil || got.UIAffinity.ContentSurfaceID != 7 {
		t.Errorf("record = %+v", got)
	}

	if rec := serve(t, s, http.MethodGet, "/processes/99", ""); rec.Code != http.StatusNotFound {
		t.Errorf("GET /processes/99 = %d, want 404", rec.Code)
	}
	if rec := serve(t, s, http.MethodGet, "/processes/abc", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("GET /processes/abc = %d, want 400", rec.Code)
	}
}

func TestServer_Health(t *testing.T) {
	s := NewServer(ServerOptions{})
	if rec := serve(t, s, http.MethodGet, "/health", ""); rec.Code != http.StatusOK {
		t.Errorf("default GET /health = %d, want 200", rec.Code)
	}

	s = NewServer(ServerOptions{Health: func() (any, bool) {
		return map[string]string{"status": "degraded"}, false
	}})
	rec := serve(t, s, http.MethodGet, "/health", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy GET /health = %d, want 503", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "degraded") {
		t.Errorf("body = %q", rec.Body.String())
	}
}

func TestServer_DebugVars(t *testing.T) {
	rec := serve(t, NewServer(ServerOptions{}), http.MethodGet, "/debug/vars", "")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "memstats") {
		t.Errorf("GET /debug/vars = %d", rec.Code)
	}
}

func TestServer_Diagnostics(t *testing.T) {
	sub := &fakeSubmitter{accept: true}
	s := NewServer(ServerOptions{Submitter: sub})

	tests := []struct {
		name string
		body string
		want int
	}{
		{"accepted", `{"target_process_id": 2}`, http.StatusAccepted},
		{"bad json", `{`, http.StatusBadRequest},
		{"missing pid", `{}`, http.StatusBadRequest},
		{"negative pid", `{"target_process_id": -5}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := serve(t, s, http.MethodPost, "/diagnostics", tt.body); rec.Code != tt.want {
				t.Errorf("POST /diagnostics %s = %d, want %d", tt.body, rec.Code, tt.want)
			}
		})
	}
	if len(sub.got) != 1 || sub.got[0].TargetProcessID != 2 {
		t.Errorf("submitted = %+v", sub.got)
	}

	sub.accept = false
	if rec := serve(t, s, http.MethodPost, "/diagnostics", `{"target_process_id": 2}`); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("full queue = %d, want 503", rec.Code)
	}

	disabled := NewServer(ServerOptions{})
	if rec := serve(t, disabled, http.MethodPost, "/diagnostics", `{"target_process_id": 2}`); rec.Code != http.StatusNotImplemented {
		t.Errorf("no submitter = %d, want 501", rec.Code)
	}
	if rec := serve(t, s, http.MethodGet, "/diagnostics", ""); rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET /diagnostics = %d, want 405", rec.Code)
	}
}

func TestServer_StartShutdown(t *testing.T) {
	s := NewServer(ServerOptions{Addr: "127.0.0.1:0"})
	if err := s.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := s.Start(); err == nil {
		t.Error("second Start() should fail")
	}
	_ = s.OnSnapshot(context.Background(), testSnapshot(1))

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Get("http://" + s.Addr() + "/snapshot")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
	if err := s.Shutdown(ctx); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}
