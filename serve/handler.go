package serve

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zero-day-ai/annotator"
	"github.com/zero-day-ai/annotator/record"
)

// RequestIDHeader carries the request id in both directions.
const RequestIDHeader = "X-Request-ID"

// maxBodyBytes bounds a POSTed TRAPI message.
const maxBodyBytes = 32 << 20

// Annotator is the annotation service exposed over HTTP and gRPC.
// *annotator.Annotator implements it.
type Annotator interface {
	AnnotateCurie(ctx context.Context, id string, opts annotator.AnnotateOptions) (map[string][]record.Record, error)
	AnnotateGraph(ctx context.Context, message map[string]any, opts annotator.AnnotateOptions) (map[string]any, error)
}

type handler struct {
	annotator Annotator
	logger    *slog.Logger
	health    HealthCheck
	metrics   *metrics
	mux       *http.ServeMux
}

// NewHandler returns the HTTP API:
//
//	GET  /annotator/{curie}  annotate one CURIE
//	POST /annotator          annotate a TRAPI message
//	GET  /health             health status
//	GET  /metrics            Prometheus metrics
func NewHandler(a Annotator, opts ...Option) http.Handler {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.metrics == nil {
		o.metrics = newRegistry()
	}
	return newHandler(a, o, newMetrics(o.metrics))
}

func newHandler(a Annotator, o *options, m *metrics) *handler {
	h := &handler{
		annotator: a,
		logger:    o.logger,
		health:    o.healthCheck,
		metrics:   m,
		mux:       http.NewServeMux(),
	}

	h.handle("GET /annotator/{curie...}", "/annotator/{curie}", h.getCurie)
	h.handle("POST /annotator", "/annotator", h.postGraph)
	h.handle("POST /annotator/{$}", "/annotator", h.postGraph)
	h.handle("GET /health", "/health", h.getHealth)
	h.mux.Handle("GET /metrics", promhttp.HandlerFor(o.metrics, promhttp.HandlerOpts{}))

	return h
}

func (h *handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	w.Header().Set(RequestIDHeader, requestID)

	ctx := withRequestID(r.Context(), requestID)
	h.mux.ServeHTTP(w, r.WithContext(ctx))
}

func (h *handler) handle(pattern, route string, fn http.HandlerFunc) {
	h.mux.HandleFunc(pattern, func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		fn(rec, r)

		elapsed := time.Since(start)
		h.metrics.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(rec.status)).Inc()
		h.metrics.httpDuration.WithLabelValues(route, r.Method).Observe(elapsed.Seconds())

		h.logger.InfoContext(r.Context(), "request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", elapsed.Milliseconds(),
			"request_id", RequestID(r.Context()),
		)
	})
}

func (h *handler) getCurie(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("curie"))
	if id == "" {
		writeError(w, http.StatusNotFound, "missing required input curie id")
		return
	}

	opts, err := parseOptions(r, false)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.annotator.AnnotateCurie(r.Context(), id, opts)
	if err != nil {
		h.writeAnnotatorError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *handler) postGraph(w http.ResponseWriter, r *http.Request) {
	opts, err := parseOptions(r, true)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.UseNumber()

	var message map[string]any
	if err := dec.Decode(&message); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON body: %v", err))
		return
	}

	nodes, err := h.annotator.AnnotateGraph(r.Context(), message, opts)
	if err != nil {
		h.writeAnnotatorError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (h *handler) getHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := h.health(ctx)
	code := http.StatusOK
	if status.IsUnhealthy() {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (h *handler) writeAnnotatorError(w http.ResponseWriter, r *http.Request, err error) {
	code := httpStatus(err)
	if code >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "annotation failed",
			"error", err,
			"kind", annotator.KindOf(err),
			"request_id", RequestID(r.Context()),
		)
	}
	writeError(w, code, err.Error())
}

// httpStatus maps an annotator error kind onto an HTTP status code.
func httpStatus(err error) int {
	switch annotator.KindOf(err) {
	case annotator.KindValidation:
		return http.StatusBadRequest
	case annotator.KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// parseOptions reads raw, fields and, when allowed, append from the query string.
func parseOptions(r *http.Request, allowAppend bool) (annotator.AnnotateOptions, error) {
	q := r.URL.Query()
	var opts annotator.AnnotateOptions

	raw, err := parseBool(q.Get("raw"))
	if err != nil {
		return opts, fmt.Errorf("invalid raw parameter: %w", err)
	}
	opts.Raw = raw

	if allowAppend {
		appendMode, err := parseBool(q.Get("append"))
		if err != nil {
			return opts, fmt.Errorf("invalid append parameter: %w", err)
		}
		opts.Append = appendMode
	}

	opts.Fields = splitFields(q.Get("fields"))
	return opts, nil
}

func parseBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	return strconv.ParseBool(s)
}

func splitFields(s string) []string {
	var fields []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			fields = append(fields, f)
		}
	}
	return fields
}

type errorBody struct {
	Code    int    `json:"code"`
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorBody{Code: code, Success: false, Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
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

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

type requestIDKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestID returns the request id stored in ctx by the HTTP handler.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
