package health

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jousa-sbrt/remote-bridge/errors"
)

// Server exposes an HTTP health endpoint backed by a Monitor. The aggregate
// status is served at /healthz; individual components at /healthz/{name}.
type Server struct {
	port       int
	systemName string
	monitor    *Monitor
	server     *http.Server
	mu         sync.Mutex // protects server field
}

// NewServer creates a health server for the given monitor
func NewServer(port int, systemName string, monitor *Monitor) *Server {
	return &Server{
		port:       port,
		systemName: systemName,
		monitor:    monitor,
	}
}

// Start starts the health HTTP server in a background goroutine
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server != nil {
		return errors.WrapInvalid(
			fmt.Errorf("server already running"),
			"health.Server", "Start", "check server state")
	}
	if s.monitor == nil {
		return errors.WrapFatal(
			fmt.Errorf("nil monitor"),
			"health.Server", "Start", "check monitor")
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleAggregate)
	mux.HandleFunc("/healthz/", s.handleComponent)

	s.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health server failed", "error", err, "port", s.port)
		}
	}()

	return nil
}

// Stop gracefully shuts down the health server
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.server == nil {
		return nil
	}
	err := s.server.Shutdown(ctx)
	s.server = nil
	return err
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	status := s.monitor.AggregateHealth(s.systemName)
	writeStatus(w, status)
}

func (s *Server) handleComponent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	name := r.URL.Path[len("/healthz/"):]
	status, ok := s.monitor.Get(name)
	if !ok {
		http.Error(w, "unknown component", http.StatusNotFound)
		return
	}
	writeStatus(w, status)
}

func writeStatus(w http.ResponseWriter, status Status) {
	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(status); err != nil {
		slog.Debug("health response encode failed", "error", err)
	}
}
