// Package web provides the HTTP status and control server for the flight
// computer.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/sweeney/flight-computer/internal/flight"
	"github.com/sweeney/flight-computer/internal/log"
	"github.com/sweeney/flight-computer/internal/status"
)

// Controls are the ground-side commands the server exposes.
type Controls interface {
	Arm() error
	Disarm() error
	TestFire(channel int) bool
}

// Server serves the status page and accepts arm and test-fire commands.
type Server struct {
	httpServer *http.Server
	tracker    *status.Tracker
	controls   Controls
	logger     zerolog.Logger
}

// New creates a Server that reads state from tracker and sends commands to
// controls. A nil controls serves status only.
func New(addr string, tracker *status.Tracker, controls Controls) *Server {
	s := &Server{tracker: tracker, controls: controls, logger: log.WithComponent("web")}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(s.accessLog)

	r.Get("/", s.handleIndex)
	r.Get("/index.html", s.handleIndex)
	r.Get("/index.json", s.handleJSON)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	if controls != nil {
		r.Post("/arm", s.handleArm)
		r.Post("/disarm", s.handleDisarm)
		r.Post("/pyro/{channel}/test", s.handleTestFire)
	}

	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the router, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
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

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		started := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().Str(log.FieldEvent, "http.request").
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(started)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	renderHTML(w, snap)
}

func (s *Server) handleJSON(w http.ResponseWriter, r *http.Request) {
	snap := s.tracker.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.Write(status.FormatJSON(snap))
}

// commandResult is the body of every control response.
type commandResult struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

func writeResult(w http.ResponseWriter, code int, errMsg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(commandResult{OK: errMsg == "", Error: errMsg})
}

func (s *Server) handleArm(w http.ResponseWriter, r *http.Request) {
	err := s.controls.Arm()
	var armErr *flight.ArmError
	switch {
	case err == nil:
		s.logger.Info().Str(log.FieldEvent, "http.arm").Msg("armed from ground station")
		writeResult(w, http.StatusOK, "")
	case errors.As(err, &armErr):
		writeResult(w, http.StatusConflict, armErr.Reason)
	default:
		writeResult(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) handleDisarm(w http.ResponseWriter, r *http.Request) {
	if err := s.controls.Disarm(); err != nil {
		writeResult(w, http.StatusConflict, err.Error())
		return
	}
	s.logger.Info().Str(log.FieldEvent, "http.disarm").Msg("disarm from ground station")
	writeResult(w, http.StatusOK, "")
}

func (s *Server) handleTestFire(w http.ResponseWriter, r *http.Request) {
	ch, err := strconv.Atoi(chi.URLParam(r, "channel"))
	if err != nil || ch < 0 {
		writeResult(w, http.StatusBadRequest, "channel must be a non-negative integer")
		return
	}
	if !s.controls.TestFire(ch) {
		writeResult(w, http.StatusConflict, "test fire refused (armed or no such channel)")
		return
	}
	s.logger.Info().Str(log.FieldEvent, "http.test_fire").Int(log.FieldChannel, ch).Msg("test fire")
	writeResult(w, http.StatusOK, "")
}
