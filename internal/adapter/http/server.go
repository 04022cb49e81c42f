package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/ocean-data-etl/internal/domain"
)

// maxEventBytes bounds a trigger payload; notifications are small JSON documents.
const maxEventBytes = 1 << 20

// maxUploadBytes bounds a multipart upload request.
const maxUploadBytes = 100 << 20

// uploadField is the multipart form field carrying the file.
const uploadField = "dataFile"

// Ingester runs one object ingestion.
type Ingester interface {
	Ingest(ctx context.Context, bucket, key string) domain.IngestionResult
}

// Aggregator recomputes the metric summaries.
type Aggregator interface {
	RecomputeSummaries(ctx context.Context) (domain.AggregationResult, error)
}

// Reader serves the read-only views over the store.
type Reader interface {
	ListSummaries(ctx context.Context) ([]domain.MetricSummary, error)
	LocationSummaries(ctx context.Context) ([]domain.LocationSummary, error)
	ListObservations(ctx context.Context, location string) ([]domain.ObservationRecord, error)
}

// Datasets accepts uploads and previews file layouts.
type Datasets interface {
	Upload(ctx context.Context, filename, contentType string, content []byte) (domain.Dataset, error)
	Analyze(filename string, content []byte) ([]domain.ColumnSchema, error)
	List(ctx context.Context) ([]domain.Dataset, error)
}

// Services groups the handlers' collaborators.
type Services struct {
	Ingester   Ingester
	Aggregator Aggregator
	Reader     Reader
	Datasets   Datasets
}

// Server exposes the ingestion and aggregation triggers, summary reads, and
// health, readiness, and metrics endpoints.
type Server struct {
	httpServer *http.Server
	svc        Services
	logger     *slog.Logger
}

// NewServer creates an HTTP server with trigger, read, and operational routes.
func NewServer(addr string, svc Services, ready sharedobs.ReadinessChecker, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:         addr,
			Handler:      mux,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 2 * time.Minute,
			IdleTimeout:  60 * time.Second,
		},
		svc:    svc,
		logger: logger,
	}

	mux.HandleFunc("POST /{$}", s.handleIngest)
	mux.HandleFunc("POST /ingest", s.handleIngest)
	mux.HandleFunc("POST /summaries/recompute", s.handleRecompute)
	mux.HandleFunc("GET /summaries", s.handleSummaries)
	mux.HandleFunc("GET /summaries/locations", s.handleLocations)
	mux.HandleFunc("GET /observations", s.handleObservations)
	mux.HandleFunc("POST /datasets", s.handleUpload)
	mux.HandleFunc("POST /api/upload", s.handleUpload)
	mux.HandleFunc("POST /datasets/analyze", s.handleAnalyze)
	mux.HandleFunc("POST /api/analyze-csv", s.handleAnalyze)
	mux.HandleFunc("GET /datasets", s.handleDatasets)

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(ready))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxEventBytes))
	if err != nil {
		writeText(w, http.StatusBadRequest, "Bad request: "+err.Error())
		return
	}
	events, err := domain.ParseObjectEvents(payload)
	if err != nil {
		s.logger.Warn("rejecting ingestion trigger", "error", err)
		writeText(w, http.StatusBadRequest, "Bad request: "+err.Error())
		return
	}

	if len(events) == 1 {
		res := s.svc.Ingester.Ingest(r.Context(), events[0].Bucket, events[0].Key)
		status, body := ingestResponse(res)
		writeText(w, status, body)
		return
	}

	// One line per object; any failure fails the whole trigger.
	status := http.StatusOK
	lines := make([]string, 0, len(events))
	for _, ev := range events {
		res := s.svc.Ingester.Ingest(r.Context(), ev.Bucket, ev.Key)
		code, body := ingestResponse(res)
		if code != http.StatusOK {
			status = code
		}
		lines = append(lines, ev.Key+": "+body)
	}
	writeText(w, status, strings.Join(lines, "\n"))
}

// ingestResponse maps an ingestion outcome onto the trigger's status contract.
func ingestResponse(res domain.IngestionResult) (int, string) {
	switch res.Status {
	case domain.StatusSkipped:
		return http.StatusOK, "Skipped file"
	case domain.StatusDuplicate:
		return http.StatusOK, "Duplicate file"
	case domain.StatusSucceeded:
		return http.StatusOK, fmt.Sprintf("Successfully processed file: %d rows inserted, %d rows rejected",
			res.RowsInserted, res.RowsRejected)
	default:
		return http.StatusInternalServerError, "Error processing file: " + res.Error()
	}
}

func (s *Server) handleRecompute(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Aggregator.RecomputeSummaries(r.Context())
	if err != nil {
		writeText(w, http.StatusInternalServerError, "Error updating summaries: "+err.Error())
		return
	}
	writeText(w, http.StatusOK, fmt.Sprintf("Summaries updated: %d updated, %d skipped, %d failed",
		res.MetricsUpdated, res.MetricsSkipped, len(res.Failures)))
}

func (s *Server) handleSummaries(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Reader.ListSummaries(r.Context())
	respondList(s, w, "list summaries", list, err)
}

func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Reader.LocationSummaries(r.Context())
	respondList(s, w, "location summaries", list, err)
}

func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Reader.ListObservations(r.Context(), r.URL.Query().Get("location"))
	respondList(s, w, "list observations", list, err)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	name, contentType, content, ok := readUpload(w, r)
	if !ok {
		return
	}

	d, err := s.svc.Datasets.Upload(r.Context(), name, contentType, content)
	var (
		me *domain.MalformedInputError
		se *domain.StoreError
	)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, uploadResponse{
			Message:  "File uploaded! Processing will begin shortly.",
			Filename: d.StoragePath,
			Dataset:  &d,
		})
	case errors.Is(err, domain.ErrUploadsDisabled):
		writeJSON(w, http.StatusServiceUnavailable, uploadResponse{Message: "Uploads are disabled."})
	case errors.As(err, &me):
		writeJSON(w, http.StatusBadRequest, uploadResponse{Message: me.Error()})
	case errors.As(err, &se):
		writeJSON(w, http.StatusInternalServerError, uploadResponse{Message: "Failed to create dataset record."})
	default:
		writeJSON(w, http.StatusInternalServerError, uploadResponse{Message: "Failed to upload file."})
	}
}

type uploadResponse struct {
	Message  string          `json:"message"`
	Filename string          `json:"filename,omitempty"`
	Dataset  *domain.Dataset `json:"dataset,omitempty"`
}

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	name, _, content, ok := readUpload(w, r)
	if !ok {
		return
	}

	columns, err := s.svc.Datasets.Analyze(name, content)
	if err != nil {
		var me *domain.MalformedInputError
		if errors.As(err, &me) {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Could not parse CSV: " + me.Error()})
			return
		}
		s.logger.Error("analyze failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, columns)
}

func (s *Server) handleDatasets(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Datasets.List(r.Context())
	respondList(s, w, "list datasets", list, err)
}

// readUpload extracts the uploaded file from a multipart request, writing the
// error response itself when there is none.
func readUpload(w http.ResponseWriter, r *http.Request) (name, contentType string, content []byte, ok bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	file, header, err := r.FormFile(uploadField)
	if errors.Is(err, http.ErrMissingFile) {
		writeText(w, http.StatusBadRequest, "No file was uploaded.")
		return "", "", nil, false
	}
	if err != nil {
		writeText(w, http.StatusBadRequest, "Bad request: "+err.Error())
		return "", "", nil, false
	}
	defer file.Close() //nolint:errcheck // read-only part

	content, err = io.ReadAll(file)
	if err != nil {
		writeText(w, http.StatusBadRequest, "Bad request: "+err.Error())
		return "", "", nil, false
	}
	return header.Filename, header.Header.Get("Content-Type"), content, true
}

// respondList writes list as a JSON array, never null.
func respondList[T any](s *Server, w http.ResponseWriter, op string, list []T, err error) {
	if err != nil {
		s.logger.Error(op+" failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if list == nil {
		list = []T{}
	}
	writeJSON(w, http.StatusOK, list)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, body) //nolint:errcheck // best-effort status response
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best-effort response
}
