package api

import (
	"encoding/json"
	"errors"
	"math"
	"mime"
	"net/http"

	"slice_tracer/pkg/constraint"
	"slice_tracer/pkg/problem"
	"slice_tracer/pkg/region"
	"slice_tracer/pkg/store"
	"slice_tracer/pkg/tracing"
)

// maxRequestBytes bounds a trace request body.
const maxRequestBytes = 4096

// TraceDefaults fill in optional request fields.
type TraceDefaults struct {
	Priors           constraint.Priors
	MinComponentSize int
	IncludeTermini   bool
}

// Handlers holds the HTTP handlers and their dependencies.
type Handlers struct {
	tracer   tracing.Tracer
	counter  store.Counter
	stack    int64
	defaults TraceDefaults
}

// NewHandlers creates handlers for the given tracer. counter may be nil.
func NewHandlers(tracer tracing.Tracer, counter store.Counter, stack int64, defaults TraceDefaults) *Handlers {
	return &Handlers{
		tracer:   tracer,
		counter:  counter,
		stack:    stack,
		defaults: defaults,
	}
}

// statusByCode maps pipeline error codes to HTTP statuses.
var statusByCode = map[string]int{
	tracing.CodeInvalidSeed:          http.StatusUnprocessableEntity,
	tracing.CodeInvalidRequest:       http.StatusBadRequest,
	tracing.CodeEmptyRegion:          http.StatusNotFound,
	tracing.CodeInfeasible:           http.StatusConflict,
	tracing.CodeInconsistentTopology: http.StatusInternalServerError,
	tracing.CodeSolverFailure:        http.StatusBadGateway,
	tracing.CodeSolverTimeout:        http.StatusGatewayTimeout,
}

// HandleTrace handles POST /api/v1/trace.
func (h *Handlers) HandleTrace(w http.ResponseWriter, r *http.Request) {
	// Enforce Content-Type.
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_request"})
		return
	}

	// Parse request.
	var req TraceRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_request"})
		return
	}

	traceReq, field := h.toTraceRequest(req)
	if field != "" {
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: "invalid_request", Field: field})
		return
	}

	// Trace.
	resp, err := h.tracer.Trace(r.Context(), traceReq)
	if err != nil {
		body := ErrorResponse{Error: tracing.Code(err)}
		var runErr *tracing.RunError
		if errors.As(err, &runErr) {
			body.RunID = runErr.RunID
			body.State = runErr.State.String()
		}

		status, ok := statusByCode[body.Error]
		if !ok {
			if body.Error == tracing.CodeCanceled || body.Error == tracing.CodeDeadlineExceeded {
				status, body.Error = http.StatusServiceUnavailable, "request_timeout"
			} else {
				status, body.Error = http.StatusInternalServerError, "internal_error"
			}
		}
		writeError(w, status, body)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// toTraceRequest validates req and applies defaults. It returns the name of
// the offending field when req is invalid.
func (h *Handlers) toTraceRequest(req TraceRequest) (tracing.Request, string) {
	out := tracing.Request{
		Params:           constraint.Params{Priors: h.defaults.Priors},
		MinComponentSize: h.defaults.MinComponentSize,
		IncludeTermini:   h.defaults.IncludeTermini,
		AllComponents:    req.AllComponents,
	}

	if req.Mode == "" {
		return out, "mode"
	}
	sense, err := problem.ParseSense(req.Mode)
	if err != nil || (req.Mode != "force" && req.Mode != "permissive") {
		return out, "mode"
	}
	out.Params.Sense = sense

	switch {
	case req.NodeID != "":
		if req.X != nil || req.Y != nil || req.Section != nil {
			return out, "seed"
		}
		out.Seed = region.Seed{NodeID: req.NodeID, Stack: req.Stack}
	case req.X != nil && req.Y != nil && req.Section != nil:
		if !finite(*req.X) || !finite(*req.Y) {
			return out, "seed"
		}
		out.Seed = region.Seed{X: *req.X, Y: *req.Y, Section: *req.Section, Stack: req.Stack}
		if out.Seed.Stack == 0 {
			out.Seed.Stack = h.stack
		}
	default:
		return out, "seed"
	}

	if req.Priors != nil {
		p := *req.Priors
		if !finite(p.Continuation) || !finite(p.Branch) || !finite(p.End) {
			return out, "priors"
		}
		out.Params.Priors = p
	}
	if req.MinComponentSize != nil {
		if *req.MinComponentSize < 0 {
			return out, "min_component_size"
		}
		out.MinComponentSize = *req.MinComponentSize
	}
	if req.IncludeTermini != nil {
		out.IncludeTermini = *req.IncludeTermini
	}
	return out, ""
}

// HandleHealth handles GET /api/v1/health.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(HealthResponse{Status: "ok"})
}

// HandleStats handles GET /api/v1/stats.
func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	resp := StatsResponse{Stack: h.stack}
	if h.counter != nil {
		counts, err := h.counter.Counts(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, ErrorResponse{Error: "internal_error"})
			return
		}
		resp.Counts = counts
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func finite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func writeError(w http.ResponseWriter, status int, body ErrorResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
