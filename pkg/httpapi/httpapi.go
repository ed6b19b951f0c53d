// Package httpapi exposes the deployment trigger's two HTTP-facing
// surfaces: the build service's completion webhook and the jobsToRun
// diagnostic endpoint every production CD trigger exposes for operators
// (§2.3 of the expanded specification).
package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/cuemby/deploytrigger/pkg/changeapi"
	"github.com/cuemby/deploytrigger/pkg/log"
	"github.com/cuemby/deploytrigger/pkg/metrics"
	"github.com/cuemby/deploytrigger/pkg/reconcile"
	"github.com/cuemby/deploytrigger/pkg/types"
	"github.com/rs/zerolog"
)

// Server wires the reconciler and the external-change API behind a plain
// net/http mux.
type Server struct {
	Reconciler *reconcile.Reconciler
	API        *changeapi.API

	logger zerolog.Logger
}

// New builds a Server.
func New(r *reconcile.Reconciler, api *changeapi.API) *Server {
	return &Server{Reconciler: r, API: api, logger: log.WithComponent("httpapi")}
}

// Handler returns the http.Handler to mount, including the Prometheus
// metrics endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /jobs/completions", s.withMetrics("completions", s.handleCompletion))
	mux.HandleFunc("GET /applications/{id}/jobs", s.withMetrics("jobs_to_run", s.handleJobsToRun))
	mux.Handle("/metrics", metrics.Handler())
	return mux
}

func (s *Server) withMetrics(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		timer := metrics.NewTimer()
		h(rec, r)
		timer.ObserveDurationVec(metrics.HTTPRequestDuration, route)
		metrics.HTTPRequestsTotal.WithLabelValues(route, http.StatusText(rec.status)).Inc()
	}
}

// webhookBody is the wire shape the build service posts on job completion.
type webhookBody struct {
	ApplicationID  string          `json:"applicationId"`
	ProjectID      string          `json:"projectId"`
	JobType        string          `json:"jobType"`
	Zone           *types.Zone     `json:"zone,omitempty"`
	BuildNumber    int             `json:"buildNumber"`
	SourceRevision string          `json:"sourceRevision,omitempty"`
	Error          *types.ErrorKind `json:"error,omitempty"`
}

func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	var body webhookBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "malformed completion report", http.StatusBadRequest)
		return
	}

	jobType, err := parseJobType(body.JobType, body.Zone)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	report := types.JobReport{
		ApplicationID:  body.ApplicationID,
		ProjectID:      body.ProjectID,
		JobType:        jobType,
		BuildNumber:    body.BuildNumber,
		SourceRevision: body.SourceRevision,
		Error:          body.Error,
	}

	if err := s.Reconciler.NotifyOfCompletion(report); err != nil {
		s.logger.Error().Err(err).Str("application_id", body.ApplicationID).Msg("failed to reconcile completion")
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleJobsToRun(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	byType, err := s.API.JobsToRun(id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(byType)
}

func parseJobType(kind string, zone *types.Zone) (types.JobType, error) {
	switch kind {
	case types.KindComponent:
		return types.JobTypeComponent(), nil
	case types.KindSystemTest:
		return types.JobTypeSystemTest(), nil
	case types.KindStagingTest:
		return types.JobTypeStagingTest(), nil
	case types.KindProduction:
		if zone == nil {
			return types.JobType{}, errInvalidProductionZone
		}
		return types.JobTypeProduction(*zone), nil
	default:
		return types.JobType{}, errUnknownJobTypeKind
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

var (
	errInvalidProductionZone = errors.New("httpapi: production job completion missing zone")
	errUnknownJobTypeKind    = errors.New("httpapi: unknown job type kind")
)
