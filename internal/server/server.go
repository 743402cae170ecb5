package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"

	"mediaconv/internal/formats"
	"mediaconv/internal/hwaccel"
	"mediaconv/internal/metrics"
	"mediaconv/pkg/models"
)

// MaxBodyBytes bounds a job submission.
const MaxBodyBytes = 1 << 20

// Queue is the scheduler surface the API needs.
type Queue interface {
	Enqueue(job *models.JobConfig) (string, error)
	Snapshot() models.Snapshot
	StopAll()
}

// Engine reports what the local transcoder can do. *transcoder.Engine
// implements it.
type Engine interface {
	Profile() *hwaccel.Profile
	Redetect(ctx context.Context) *hwaccel.Profile
	Formats() *formats.Table
}

// JobServer exposes job submission and status over HTTP.
type JobServer struct {
	addr    string
	queue   Queue
	engine  Engine
	metrics *metrics.Metrics
	logger  hclog.Logger
	router  *mux.Router
}

// NewJobServer wires the routes. m may be nil, in which case /metrics is
// not served. engine may be nil; hardware then reads as CPU only.
func NewJobServer(addr string, q Queue, engine Engine, m *metrics.Metrics, logger hclog.Logger) *JobServer {
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	s := &JobServer{
		addr:    addr,
		queue:   q,
		engine:  engine,
		metrics: m,
		logger:  logger.Named("server"),
	}
	s.router = s.routes()
	return s
}

func (s *JobServer) routes() *mux.Router {
	r := mux.NewRouter()
	if s.metrics != nil {
		r.Use(s.instrument)
		r.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/jobs", s.handleSubmit).Methods(http.MethodPost)
	api.HandleFunc("/jobs", s.handleList).Methods(http.MethodGet)
	api.HandleFunc("/jobs/stop", s.handleStop).Methods(http.MethodPost)
	api.HandleFunc("/jobs/{id}", s.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/hardware", s.handleHardware).Methods(http.MethodGet)
	api.HandleFunc("/hardware/redetect", s.handleRedetect).Methods(http.MethodPost)
	api.HandleFunc("/formats", s.handleFormats).Methods(http.MethodGet)
	api.HandleFunc("/presets", s.handlePresets).Methods(http.MethodGet)
	return r
}

// Handler returns the router, for tests and embedding.
func (s *JobServer) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is done, then shuts the listener down gracefully.
func (s *JobServer) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening for jobs", "addr", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *JobServer) handleSubmit(w http.ResponseWriter, r *http.Request) {
	job, err := models.DecodeJobJSON(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if preset := r.URL.Query().Get("preset"); preset != "" {
		if job, err = models.ApplyPreset(job, preset); err != nil {
			writeJSONError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	id, err := s.queue.Enqueue(job)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.logger.Info("job accepted", "job", id, "input", job.InputPath)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	s.writeJSON(w, map[string]string{"id": id, "status": string(models.StateQueued)})
}

func (s *JobServer) handleList(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	s.writeJSON(w, s.queue.Snapshot())
}

func (s *JobServer) handleGet(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	for _, st := range s.queue.Snapshot().Jobs {
		if st.ID == id {
			w.Header().Set("Content-Type", "application/json")
			s.writeJSON(w, st)
			return
		}
	}
	writeJSONError(w, "job not found", http.StatusNotFound)
}

func (s *JobServer) handleStop(w http.ResponseWriter, _ *http.Request) {
	s.queue.StopAll()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	s.writeJSON(w, map[string]string{"status": "stopping"})
}

func (s *JobServer) handleHardware(w http.ResponseWriter, _ *http.Request) {
	profile := hwaccel.CPUOnly()
	if s.engine != nil {
		if p := s.engine.Profile(); p != nil {
			profile = p
		}
	}
	w.Header().Set("Content-Type", "application/json")
	s.writeJSON(w, profile.Info())
}

// handleRedetect probes the hardware again. Jobs already running keep the
// encoders they were started with.
func (s *JobServer) handleRedetect(w http.ResponseWriter, r *http.Request) {
	if s.engine == nil {
		writeJSONError(w, "hardware detection unavailable", http.StatusServiceUnavailable)
		return
	}
	profile := s.engine.Redetect(r.Context())
	if profile == nil {
		profile = hwaccel.CPUOnly()
	}
	if s.metrics != nil {
		s.metrics.SetHardware(string(profile.Best))
	}
	s.logger.Info("hardware re-detected", "acceleration", profile.Best, "gpu", profile.GPU)

	w.Header().Set("Content-Type", "application/json")
	s.writeJSON(w, profile.Info())
}

func (s *JobServer) handleFormats(w http.ResponseWriter, _ *http.Request) {
	var table *formats.Table
	if s.engine != nil {
		table = s.engine.Formats()
	}
	if table == nil {
		table = formats.New()
	}
	w.Header().Set("Content-Type", "application/json")
	s.writeJSON(w, table.Catalog())
}

func (s *JobServer) handlePresets(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	s.writeJSON(w, models.PresetNames())
}

func (s *JobServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	s.writeJSON(w, map[string]string{"status": "ok"})
}

// instrument records request counts and latency by route template.
func (s *JobServer) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				path = tpl
			}
		}

		s.metrics.HTTPRequestsInFlight.Inc()
		defer s.metrics.HTTPRequestsInFlight.Dec()

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.metrics.HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(time.Since(start).Seconds())
		s.metrics.HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(rec.status)).Inc()
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *JobServer) writeJSON(w http.ResponseWriter, v any) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
