// Package api serves the jobs panel and the bulk operation controls over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/SirClappington/valsync/internal/domain"
	"github.com/SirClappington/valsync/internal/ledger"
	"github.com/SirClappington/valsync/internal/operations"
)

// RunQueue accepts bulk runs for the scheduler.
type RunQueue interface {
	Enqueue(ctx context.Context, req domain.RunRequest) error
}

type Server struct {
	reg   *operations.Registry
	jobs  ledger.Ledger
	queue RunQueue
	log   *zap.Logger
	now   func() time.Time
}

func New(reg *operations.Registry, jobs ledger.Ledger, queue RunQueue, log *zap.Logger) *Server {
	return &Server{reg: reg, jobs: jobs, queue: queue, log: log, now: time.Now}
}

func (s *Server) Routes() http.Handler {
	rtr := chi.NewRouter()
	rtr.Use(middleware.RequestID)
	rtr.Use(middleware.Recoverer)
	rtr.Use(s.logRequests)

	rtr.Get("/v1/jobs", s.listJobs)
	rtr.Delete("/v1/jobs", s.clearJobs)
	rtr.Get("/v1/jobs/{id}", s.getJob)
	rtr.Delete("/v1/jobs/{id}", s.removeJob)

	rtr.Get("/v1/domains", s.listDomains)
	rtr.Post("/v1/schedule", s.schedule)

	rtr.Get("/v1/operations", s.listOperations)
	rtr.Route("/v1/operations/{op}", func(r chi.Router) {
		r.Post("/trigger", s.trigger)
		r.Post("/abort", s.abort)
		r.Get("/progress", s.progress)
		r.Post("/domains/{domain}", s.runOne)
		r.Get("/domains/{domain}/status", s.status)
	})
	return rtr
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("took", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

type runBody struct {
	Domains    []string `json:"domains"`
	WindowDays int      `json:"window_days"`
	Date       string   `json:"date"`
}

func (b runBody) args() domain.OperationArgs {
	return domain.OperationArgs{WindowDays: b.WindowDays, Date: b.Date}
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.List(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) removeJob(w http.ResponseWriter, r *http.Request) {
	if err := s.jobs.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) clearJobs(w http.ResponseWriter, r *http.Request) {
	n, err := s.jobs.ClearTerminal(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"cleared": n})
}

func (s *Server) listDomains(w http.ResponseWriter, r *http.Request) {
	list, err := s.reg.Domains(r.Context())
	if err != nil {
		s.fail(w, err)
		return
	}
	if list == nil {
		list = []string{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) listOperations(w http.ResponseWriter, r *http.Request) {
	type op struct {
		Name      string `json:"name"`
		JobName   string `json:"job_name"`
		IsRunning bool   `json:"is_running"`
	}
	ops := []op{}
	for _, name := range s.reg.Names() {
		spec, _ := s.reg.Spec(name)
		p, _ := s.reg.Progress(name)
		ops = append(ops, op{Name: name, JobName: spec.JobName, IsRunning: p != nil && p.IsRunning})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"operations":  ops,
		"any_running": s.reg.AnyRunning(),
	})
}

func (s *Server) trigger(w http.ResponseWriter, r *http.Request) {
	var body runBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if len(body.Domains) == 0 {
		writeError(w, http.StatusBadRequest, "domains required")
		return
	}
	op := chi.URLParam(r, "op")
	if _, err := s.reg.Trigger(op, body.Domains, body.args()); err != nil {
		s.fail(w, err)
		return
	}
	p, _ := s.reg.Progress(op)
	writeJSON(w, http.StatusAccepted, p)
}

func (s *Server) abort(w http.ResponseWriter, r *http.Request) {
	if err := s.reg.Abort(chi.URLParam(r, "op")); err != nil {
		s.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) progress(w http.ResponseWriter, r *http.Request) {
	p, err := s.reg.Progress(chi.URLParam(r, "op"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) runOne(w http.ResponseWriter, r *http.Request) {
	var body runBody
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid body")
			return
		}
	}
	out, err := s.reg.RunOne(r.Context(), chi.URLParam(r, "op"), chi.URLParam(r, "domain"), body.args())
	if err != nil {
		s.fail(w, err)
		return
	}
	job, err := s.jobs.Get(r.Context(), out.JobID)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	st, err := s.reg.Status(r.Context(), chi.URLParam(r, "op"), chi.URLParam(r, "domain"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type scheduleBody struct {
	Operation  string    `json:"operation"`
	Domains    []string  `json:"domains"`
	WindowDays int       `json:"window_days"`
	Date       string    `json:"date"`
	RunAt      time.Time `json:"run_at"`
}

func (s *Server) schedule(w http.ResponseWriter, r *http.Request) {
	var body scheduleBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if _, err := s.reg.Spec(body.Operation); err != nil {
		s.fail(w, err)
		return
	}
	if len(body.Domains) == 0 {
		writeError(w, http.StatusBadRequest, "domains required")
		return
	}
	req := domain.RunRequest{
		ID:        uuid.NewString(),
		Operation: body.Operation,
		Domains:   body.Domains,
		Args:      domain.OperationArgs{WindowDays: body.WindowDays, Date: body.Date},
		RunAt:     body.RunAt,
		CreatedAt: s.now(),
	}
	if err := s.queue.Enqueue(r.Context(), req); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, req)
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ledger.ErrJobNotFound), errors.Is(err, operations.ErrUnknownOperation):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, operations.ErrAlreadyRunning):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.log.Error("request failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
