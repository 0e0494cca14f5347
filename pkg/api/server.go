package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/seastack/bosun/pkg/events"
	"github.com/seastack/bosun/pkg/instance"
	"github.com/seastack/bosun/pkg/log"
	"github.com/seastack/bosun/pkg/metrics"
	"github.com/seastack/bosun/pkg/plan"
	"github.com/seastack/bosun/pkg/spec"
	"github.com/seastack/bosun/pkg/types"
)

// Server exposes the operator surface over HTTP/JSON: plans, pod groups,
// instances, events, health, and Prometheus metrics.
type Server struct {
	mgr    *instance.Manager
	engine *plan.Engine
	broker *events.Broker
	vars   map[string]string
	logger zerolog.Logger
	http   *http.Server
}

// NewServer creates an API server. vars are the deploy-time template
// variables, reused when an updated spec document is submitted.
func NewServer(mgr *instance.Manager, engine *plan.Engine, broker *events.Broker, vars map[string]string) *Server {
	return &Server{
		mgr:    mgr,
		engine: engine,
		broker: broker,
		vars:   vars,
		logger: log.WithComponent("api"),
	}
}

// Router builds the HTTP route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/v1/plans/deploy", s.handleDeploy).Methods(http.MethodPost)
	r.HandleFunc("/v1/plans/update", s.handleUpdate).Methods(http.MethodPost)
	r.HandleFunc("/v1/plans", s.handleListPlans).Methods(http.MethodGet)
	r.HandleFunc("/v1/plans/{id}", s.handleGetPlan).Methods(http.MethodGet)
	r.HandleFunc("/v1/plans/{id}/pause", s.handlePlanAction(s.engine.Pause)).Methods(http.MethodPost)
	r.HandleFunc("/v1/plans/{id}/resume", s.handlePlanAction(s.engine.Resume)).Methods(http.MethodPost)
	r.HandleFunc("/v1/plans/{id}/cancel", s.handlePlanAction(s.engine.Cancel)).Methods(http.MethodPost)

	r.HandleFunc("/v1/pods", s.handleListPods).Methods(http.MethodGet)
	r.HandleFunc("/v1/pods/{group}", s.handleGetPod).Methods(http.MethodGet)
	r.HandleFunc("/v1/instances/{id}/restart", s.handleRestart).Methods(http.MethodPost)
	r.HandleFunc("/v1/events", s.handleEvents).Methods(http.MethodGet)

	r.HandleFunc("/healthz", s.handleHealthz).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.Use(s.logRequests)
	return r
}

// Start serves the API until Stop is called.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("api listening")
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop drains in-flight requests and shuts the listener down.
func (s *Server) Stop(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Dur("took", time.Since(start)).
			Msg("request")
	})
}

// handleDeploy starts the deploy plan for the current spec model.
func (s *Server) handleDeploy(w http.ResponseWriter, r *http.Request) {
	p, err := s.engine.Run("deploy")
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusAccepted, planStatus(p))
}

// handleUpdate accepts a revised spec document, installs it as the next
// generation, and starts the update plan against it.
func (s *Server) handleUpdate(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	current := s.mgr.Model()
	model, err := spec.Load(body, s.vars, current.Generation()+1)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	if model.Name() != current.Name() {
		writeError(w, http.StatusUnprocessableEntity,
			errors.New("spec name does not match the deployed service"))
		return
	}
	// The model is installed by the engine only once the run is accepted;
	// a rejected update must not leave a half-applied generation behind
	// for the reconciler to converge without phase ordering.
	p, err := s.engine.RunUpdate(model)
	if err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	s.logger.Info().Uint64("generation", model.Generation()).Str("plan_id", p.ID).Msg("update accepted")
	writeJSON(w, http.StatusAccepted, planStatus(p))
}

func (s *Server) handleListPlans(w http.ResponseWriter, r *http.Request) {
	plans, err := s.engine.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	out := make([]planView, 0, len(plans))
	for _, p := range plans {
		out = append(out, planStatus(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetPlan(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	p, err := s.engine.Status(id)
	if err != nil {
		// Allow lookup by plan name as a convenience.
		if byName, nameErr := s.engine.Latest(id); nameErr == nil {
			writeJSON(w, http.StatusOK, planStatus(byName))
			return
		}
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, planStatus(p))
}

func (s *Server) handlePlanAction(action func(string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := action(id); err != nil {
			writeError(w, http.StatusConflict, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func (s *Server) handleListPods(w http.ResponseWriter, r *http.Request) {
	model := s.mgr.Model()
	out := make([]podGroupView, 0)
	for _, group := range model.PodGroups() {
		view, err := s.podGroup(group)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		out = append(out, view)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetPod(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["group"]
	group := s.mgr.Model().PodGroup(name)
	if group == nil {
		writeError(w, http.StatusNotFound, errors.New("unknown pod group"))
		return
	}
	view, err := s.podGroup(group)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// handleRestart replaces a single instance in place.
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	inst, err := s.mgr.Instance(id)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}

	group := inst.Group
	if !s.mgr.TryLockGroup(group) {
		writeError(w, http.StatusConflict, errors.New("pod group is busy with a plan"))
		return
	}
	defer s.mgr.UnlockGroup(group)

	if err := s.mgr.Replace(r.Context(), id); err != nil {
		if errors.Is(err, types.ErrPolicyViolation) {
			writeError(w, http.StatusForbidden, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.broker.Recent())
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
