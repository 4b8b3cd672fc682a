// Package web provides the HTTP status and control API for the
// cargo-climated daemon.
package web

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/sweeney/cargo-climate/internal/climate"
	"github.com/sweeney/cargo-climate/internal/status"
)

// Controller is the daemon surface the control endpoints act on.
// Implementations hand the request off to the control loop; changes
// take effect on the next cycle.
type Controller interface {
	// SetOverride enables or disables the manual override.
	SetOverride(enabled bool, targets climate.ActuatorTargets) error

	// ApplyPreset switches the active produce preset by name.
	ApplyPreset(name string) error

	// ResetEmergency clears the emergency latch and actuator lockouts.
	ResetEmergency() error
}

// Config holds the server options.
type Config struct {
	Addr string

	// AllowOverride gates the manual override endpoint. When false,
	// POST /api/override returns 403.
	AllowOverride bool

	// MetricsHandler, if set, is mounted at /metrics.
	MetricsHandler http.Handler
}

// Server serves the status page and control API.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	controller Controller
	cfg        Config
	log        *logrus.Entry
}

// New creates a Server that reads state from the given tracker and
// applies control requests through the controller.
func New(cfg Config, tracker *status.Tracker, controller Controller, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		tracker:    tracker,
		controller: controller,
		cfg:        cfg,
		log:        log.WithField("component", "web"),
	}

	r := mux.NewRouter()
	r.HandleFunc("/", s.handleIndex).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.HandleFunc("/api/status", s.handleStatus).Methods(http.MethodGet)
	r.HandleFunc("/api/override", s.handleOverride).Methods(http.MethodPost)
	r.HandleFunc("/api/preset", s.handlePreset).Methods(http.MethodPost)
	r.HandleFunc("/api/reset", s.handleReset).Methods(http.MethodPost)
	if cfg.MetricsHandler != nil {
		r.Handle("/metrics", cfg.MetricsHandler).Methods(http.MethodGet)
	}

	s.httpServer = &http.Server{
		Addr:    cfg.Addr,
		Handler: handlers.CombinedLoggingHandler(s.log.WriterLevel(logrus.DebugLevel), r),
	}
	return s
}

// ListenAndServe starts listening. It blocks until the server is shut down.
func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on the given listener. Useful for tests.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the routed handler for httptest servers.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintln(w, "ok")
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// overrideRequest is the POST /api/override body.
type overrideRequest struct {
	Enabled bool `json:"enabled"`
	Targets struct {
		Pump         bool `json:"pump"`
		Chiller      bool `json:"chiller"`
		Dehumidifier bool `json:"dehumidifier"`
	} `json:"targets"`
}

func (s *Server) handleOverride(w http.ResponseWriter, r *http.Request) {
	if !s.cfg.AllowOverride {
		writeError(w, http.StatusForbidden, "manual override disabled")
		return
	}

	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid override request")
		return
	}

	targets := climate.ActuatorTargets{
		Pump:         req.Targets.Pump,
		Chiller:      req.Targets.Chiller,
		Dehumidifier: req.Targets.Dehumidifier,
	}
	if err := s.controller.SetOverride(req.Enabled, targets); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	s.log.WithFields(logrus.Fields{"enabled": req.Enabled, "targets": targets}).Info("manual override request")
	writeOK(w)
}

// presetRequest is the POST /api/preset body.
type presetRequest struct {
	Name string `json:"name"`
}

func (s *Server) handlePreset(w http.ResponseWriter, r *http.Request) {
	var req presetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "invalid preset request")
		return
	}

	if err := s.controller.ApplyPreset(req.Name); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	s.log.WithField("preset", req.Name).Info("preset change request")
	writeOK(w)
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	if err := s.controller.ResetEmergency(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	s.log.Info("emergency reset request")
	writeOK(w)
}

func writeOK(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"ok":true}`))
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
