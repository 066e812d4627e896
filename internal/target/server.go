// Package target implements a small demo HTTP server to run load against.
// It serves a fast index page, a slow endpoint and a handful of JSON routes.
package target

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultAddr      = ":8080"
	DefaultSlowDelay = 2 * time.Second

	shutdownTimeout = 10 * time.Second
)

// Config holds the server settings.
type Config struct {
	Addr      string
	SlowDelay time.Duration

	// StaticDir, when set, serves files for GET requests no route matches.
	StaticDir string

	Log log.FieldLogger
}

// User is the payload of the /api/users routes.
type User struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Status is the body of GET /status.
type Status struct {
	Requests      int64  `json:"requests"`
	InFlight      int64  `json:"inFlight"`
	Uptime        string `json:"uptime"`
	Goroutines    int    `json:"goroutines"`
	MemAllocBytes uint64 `json:"memAllocBytes"`
}

// Server is the demo target.
type Server struct {
	cfg     Config
	log     log.FieldLogger
	router  *httprouter.Router
	started time.Time

	requests atomic.Int64
	inFlight atomic.Int64

	registry        *prometheus.Registry
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	inFlightGauge   prometheus.Gauge
}

// NewServer creates a server with its routes registered.
func NewServer(cfg Config) *Server {
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	if cfg.SlowDelay < 0 {
		cfg.SlowDelay = 0
	}
	if cfg.Log == nil {
		cfg.Log = log.StandardLogger()
	}

	s := &Server{
		cfg:      cfg,
		log:      cfg.Log.WithField("component", "target"),
		router:   httprouter.New(),
		started:  time.Now(),
		registry: prometheus.NewRegistry(),
	}
	s.initMetrics()
	s.routes()
	return s
}

func (s *Server) initMetrics() {
	s.requestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "target",
		Name:      "requests_total",
		Help:      "Total number of requests served.",
	}, []string{"method", "route", "status"})

	s.requestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "target",
		Name:      "request_duration_seconds",
		Help:      "Request handling time in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	s.inFlightGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "target",
		Name:      "requests_in_flight",
		Help:      "Requests currently being handled.",
	})

	s.registry.MustRegister(s.requestsTotal, s.requestDuration, s.inFlightGauge)
}

func (s *Server) routes() {
	s.handle(http.MethodGet, "/", s.handleIndex)
	s.handle(http.MethodGet, "/slow", s.handleSlow)
	s.handle(http.MethodGet, "/api/users", s.handleListUsers)
	s.handle(http.MethodPost, "/api/users", s.handleCreateUser)
	s.handle(http.MethodPut, "/api/users/:id", s.handleUpdateUser)
	s.handle(http.MethodDelete, "/api/users/:id", s.handleDeleteUser)
	s.handle(http.MethodGet, "/api/404", s.handleNotFound)
	s.handle(http.MethodGet, "/status", s.handleStatus)

	s.router.Handler(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	if s.cfg.StaticDir != "" {
		static := s.instrument("static", s.serveStatic)
		s.router.NotFound = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			static(w, r, nil)
		})
	}
}

// handle registers h wrapped with request accounting.
func (s *Server) handle(method, route string, h httprouter.Handle) {
	s.router.Handle(method, route, s.instrument(route, h))
}

func (s *Server) instrument(route string, h httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		s.requests.Add(1)
		s.inFlight.Add(1)
		s.inFlightGauge.Inc()
		defer func() {
			s.inFlight.Add(-1)
			s.inFlightGauge.Dec()
		}()

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		h(rec, r, ps)
		elapsed := time.Since(start)

		s.requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		s.requestDuration.WithLabelValues(r.Method, route).Observe(elapsed.Seconds())
		s.log.WithFields(log.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": elapsed,
		}).Debug("request")
	}
}

// serveStatic serves a regular file below StaticDir. Directories and
// anything outside GET and HEAD answer 404.
func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.NotFound(w, r)
		return
	}
	f, err := http.Dir(s.cfg.StaticDir).Open(r.URL.Path)
	if err != nil {
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Requests returns how many requests have been served.
func (s *Server) Requests() int64 {
	return s.requests.Load()
}

// ListenAndServe serves on the configured address until ctx is cancelled,
// then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.WithFields(log.Fields{
			"addr":      ln.Addr().String(),
			"slowDelay": s.cfg.SlowDelay,
			"staticDir": s.cfg.StaticDir,
		}).Info("target server listening")
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.log.Info("shutting down target server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeText(w, http.StatusOK, "Welcome to the HTTP server!")
}

func (s *Server) handleSlow(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	timer := time.NewTimer(s.cfg.SlowDelay)
	defer timer.Stop()

	select {
	case <-timer.C:
		writeText(w, http.StatusOK, "Slow response")
	case <-r.Context().Done():
		s.log.Debug("slow request cancelled by client")
		w.WriteHeader(http.StatusServiceUnavailable)
	}
}

func (s *Server) handleListUsers(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, []User{
		{ID: 1, Name: "John Doe"},
		{ID: 2, Name: "Jane Doe"},
	})
}

func (s *Server) handleCreateUser(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "User created"})
}

func (s *Server) handleUpdateUser(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	if _, err := strconv.Atoi(ps.ByName("id")); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid user id"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "User updated"})
}

func (s *Server) handleDeleteUser(w http.ResponseWriter, _ *http.Request, ps httprouter.Params) {
	if _, err := strconv.Atoi(ps.ByName("id")); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "invalid user id"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "User deleted"})
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeText(w, http.StatusNotFound, "Not Found")
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	writeJSON(w, http.StatusOK, Status{
		Requests:      s.requests.Load(),
		InFlight:      s.inFlight.Load(),
		Uptime:        time.Since(s.started).Round(time.Second).String(),
		Goroutines:    runtime.NumGoroutine(),
		MemAllocBytes: mem.Alloc,
	})
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
