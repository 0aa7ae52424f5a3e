package sink

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/opd-ai/go-procmon/internal/monitor"
)

// DefaultListenAddr is used when ServerOptions.Addr is empty.
const DefaultListenAddr = "127.0.0.1:7070"

// ServerOptions configures a Server.
type ServerOptions struct {
	// Addr is the listen address. Port 0 picks a free port.
	Addr string
	// Submitter receives POST /diagnostics requests. Nil disables the
	// endpoint.
	Submitter Submitter
	// Health reports the monitor's health for GET /health. Nil always
	// reports healthy.
	Health func() (status any, healthy bool)
	Logger monitor.Logger
}

// Server serves the latest snapshot over HTTP. It is itself a sink: each
// snapshot replaces the one being served.
type Server struct {
	opts   ServerOptions
	logger monitor.Logger
	latest atomic.Pointer[monitor.Snapshot]

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	done     chan struct{}
}

// NewServer creates a server. Call Start to begin listening.
func NewServer(opts ServerOptions) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultListenAddr
	}
	logger := opts.Logger
	if logger == nil {
		logger = monitor.NopLogger()
	}
	return &Server{opts: opts, logger: logger}
}

// OnSnapshot implements monitor.Sink.
func (s *Server) OnSnapshot(_ context.Context, snap *monitor.Snapshot) error {
	s.latest.Store(snap)
	return nil
}

// Handler returns the server's routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /processes", s.handleProcesses)
	mux.HandleFunc("GET /processes/{pid}", s.handleProcess)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /debug/vars", expvar.Handler())
	mux.HandleFunc("POST /diagnostics", s.handleDiagnostics)
	return mux
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return errors.New("server already started")
	}

	l, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.opts.Addr, err)
	}
	s.listener = l
	s.srv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.done = make(chan struct{})

	go func(srv *http.Server, done chan struct{}) {
		defer close(done)
		if err := srv.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", "addr", l.Addr().String(), "error", err)
		}
	}(s.srv, s.done)

	s.logger.Info("http server listening", "addr", l.Addr().String())
	return nil
}

// Addr returns the bound address, or the configured one before Start.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.opts.Addr
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv, done := s.srv, s.done
	s.srv = nil
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	err := srv.Shutdown(ctx)
	<-done
	return err
}

func (s *Server) handleSnapshot(w http.ResponseWriter, _ *http.Request) {
	snap := s.latest.Load()
	if snap == nil {
		http.Error(w, "no snapshot yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

// processRow is one flattened record with display-ready fields.
type processRow struct {
	PID       int                 `json:"pid"`
	ParentPID *int                `json:"parent_pid,omitempty"`
	Depth     int                 `json:"depth"`
	Name      string              `json:"name"`
	Kind      monitor.ProcessKind `json:"kind"`
	CPU       string              `json:"cpu"`
	Memory    string              `json:"memory"`
	Private   string              `json:"private_memory,omitempty"`
	Started   string              `json:"started"`
	Uptime    string              `json:"uptime,omitempty"`
	Sandboxed *bool               `json:"sandboxed,omitempty"`
	WindowID  int                 `json:"window_id,omitempty"`
}

func newProcessRow(rec *monitor.ProcessRecord, depth int) processRow {
	row := processRow{
		PID:       rec.PID,
		ParentPID: rec.ParentPID,
		Depth:     depth,
		Name:      rec.DisplayName,
		Kind:      rec.Kind,
		CPU:       rec.CPUDisplay,
		Memory:    rec.MemoryDisplay,
		Private:   rec.PrivateDisplay,
		Started:   rec.StartedDisplay,
		Sandboxed: rec.Sandboxed,
	}
	if !rec.StartedAt.IsZero() {
		row.Uptime = humanize.Time(rec.StartedAt)
	}
	if rec.UIAffinity != nil {
		row.WindowID = rec.UIAffinity.WindowID
	}
	return row
}

func (s *Server) handleProcesses(w http.ResponseWriter, _ *http.Request) {
	snap := s.latest.Load()
	if snap == nil {
		http.Error(w, "no snapshot yet", http.StatusServiceUnavailable)
		return
	}
	rows := make([]processRow, 0, snap.Count)
	err := monitor.Walk(snap.Roots, func(rec *monitor.ProcessRecord, depth int) {
		rows = append(rows, newProcessRow(rec, depth))
	})
	if err != nil {
		s.logger.Warn("snapshot walk stopped", "sequence", snap.Sequence, "error", err)
	}
	writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleProcess(w http.ResponseWriter, r *http.Request) {
	pid, err := strconv.Atoi(r.PathValue("pid"))
	if err != nil || pid <= 0 {
		http.Error(w, "invalid pid", http.StatusBadRequest)
		return
	}
	rec := s.latest.Load().Find(pid)
	if rec == nil {
		http.Error(w, "process not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.opts.Health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	status, healthy := s.opts.Health()
	code := http.StatusOK
	if !healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

// handleDiagnostics queues a request. Validation happens asynchronously
// in the scheduler, so an accepted request may still be dropped.
func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	if s.opts.Submitter == nil {
		http.Error(w, "diagnostics disabled", http.StatusNotImplemented)
		return
	}
	var req monitor.DiagnosticsRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<10))
	if err := dec.Decode(&req); err != nil || req.TargetProcessID <= 0 {
		http.Error(w, "body must be {\"target_process_id\": <pid>}", http.StatusBadRequest)
		return
	}
	if !s.opts.Submitter.Submit(req) {
		http.Error(w, "diagnostics queue full", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusAccepted, req)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
