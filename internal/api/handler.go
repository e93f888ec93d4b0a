// Package api exposes ingestion jobs and stored mentions over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/narrativescanner/scanner/internal/ingestion"
	"github.com/narrativescanner/scanner/internal/jobs"
	"github.com/narrativescanner/scanner/internal/models"
	"github.com/narrativescanner/scanner/internal/sources"
	"github.com/narrativescanner/scanner/internal/storage"
	"github.com/sirupsen/logrus"
)

const (
	maxLimitPerPartition = 500
	defaultMentionsLimit = 100
	maxMentionsLimit     = 500
	mentionTextPreview   = 200
	version              = "1.0.0"
)

// statusSources are reported by GET /ingest/status whether or not a crawler
// exists for them.
var statusSources = []models.Source{
	models.SourceReddit,
	models.SourceHackerNews,
	models.SourceTelegram,
	models.SourceTwitter,
}

// JobService is the part of the job tracker the API drives
type JobService interface {
	Submit(ctx context.Context, source models.Source, req ingestion.CrawlRequest) (models.IngestionJob, error)
	Get(ctx context.Context, id string) (models.IngestionJob, error)
	List(ctx context.Context, limit int) ([]models.IngestionJob, error)
	ListBySource(ctx context.Context, source models.Source, limit int) ([]models.IngestionJob, error)
	Source(name models.Source) (sources.Source, bool)
}

// MetricsProvider renders ingestion metrics as JSON
type MetricsProvider interface {
	GetMetrics() string
}

// Handler serves the HTTP API
type Handler struct {
	jobs     JobService
	mentions storage.MentionStore
	metrics  MetricsProvider
	// credentials reports, per source, whether its API key is present
	credentials map[models.Source]bool
}

// NewHandler creates the API handler
func NewHandler(jobService JobService, mentions storage.MentionStore, metrics MetricsProvider, credentials map[models.Source]bool) *Handler {
	return &Handler{
		jobs:        jobService,
		mentions:    mentions,
		metrics:     metrics,
		credentials: credentials,
	}
}

// Router registers every route on a new mux router
func (h *Handler) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(loggingMiddleware)

	router.HandleFunc("/healthz", h.healthCheck).Methods(http.MethodGet)
	router.HandleFunc("/metrics", h.getMetrics).Methods(http.MethodGet)
	router.HandleFunc("/mentions", h.listMentions).Methods(http.MethodGet)

	router.HandleFunc("/ingest/status", h.ingestionStatus).Methods(http.MethodGet)
	router.HandleFunc("/ingest/jobs", h.listAllJobs).Methods(http.MethodGet)
	router.HandleFunc("/ingest/{source}", h.submitCrawl).Methods(http.MethodPost)
	router.HandleFunc("/ingest/{source}/status", h.sourceStatus).Methods(http.MethodGet)
	router.HandleFunc("/ingest/{source}/jobs", h.listSourceJobs).Methods(http.MethodGet)
	router.HandleFunc("/ingest/{source}/jobs/{id}", h.getJob).Methods(http.MethodGet)

	return router
}

// crawlRequestBody accepts both the generic and the Reddit specific names
type crawlRequestBody struct {
	Partitions        []string `json:"partitions"`
	Subreddits        []string `json:"subreddits"`
	LimitPerPartition *int     `json:"limit_per_partition"`
	LimitPerSubreddit *int     `json:"limit_per_subreddit"`
}

func (b crawlRequestBody) toRequest() (ingestion.CrawlRequest, error) {
	req := ingestion.CrawlRequest{Partitions: b.Partitions}
	if len(req.Partitions) == 0 {
		req.Partitions = b.Subreddits
	}

	limit := b.LimitPerPartition
	if limit == nil {
		limit = b.LimitPerSubreddit
	}
	if limit != nil {
		if *limit < 1 || *limit > maxLimitPerPartition {
			return req, fmt.Errorf("limit must be between 1 and %d", maxLimitPerPartition)
		}
		req.LimitPerPartition = *limit
	}

	return req, nil
}

func (h *Handler) submitCrawl(w http.ResponseWriter, r *http.Request) {
	source := models.Source(mux.Vars(r)["source"])

	var body crawlRequestBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	req, err := body.toRequest()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	job, err := h.jobs.Submit(r.Context(), source, req)
	switch {
	case errors.Is(err, jobs.ErrUnknownSource):
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown source %q", source))
		return
	case errors.Is(err, sources.ErrInvalidPartition):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, jobs.ErrSourceNotConfigured):
		writeError(w, http.StatusServiceUnavailable, fmt.Sprintf("%s API credentials are not configured", source.DisplayName()))
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to start %s ingestion: %v", source.DisplayName(), err))
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"job_id": job.ID,
		"status": job.Status,
		"message": fmt.Sprintf("%s ingestion job started. Use /ingest/%s/jobs/%s to check progress.",
			source.DisplayName(), source, job.ID),
	})
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	source := models.Source(vars["source"])

	job, err := h.jobs.Get(r.Context(), vars["id"])
	if errors.Is(err, jobs.ErrJobNotFound) || (err == nil && job.Source != source) {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) listSourceJobs(w http.ResponseWriter, r *http.Request) {
	source := models.Source(mux.Vars(r)["source"])
	if _, ok := h.jobs.Source(source); !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown source %q", source))
		return
	}

	limit, err := jobListLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := h.jobs.ListBySource(r.Context(), source, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": list, "total": len(list)})
}

func (h *Handler) listAllJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := jobListLimit(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	list, err := h.jobs.List(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": list, "total": len(list)})
}

func (h *Handler) sourceStatus(w http.ResponseWriter, r *http.Request) {
	name := models.Source(mux.Vars(r)["source"])
	src, ok := h.jobs.Source(name)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown source %q", name))
		return
	}

	status := "not_configured"
	apiStatus := "not_configured"
	if src.IsEnabled() {
		status = "configured"

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
		defer cancel()
		if err := src.CheckConnection(ctx); err != nil {
			apiStatus = fmt.Sprintf("error: %v", err)
		} else {
			apiStatus = "connected"
		}
	}

	partitions := src.DefaultPartitions()
	if partitions == nil {
		partitions = []string{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            status,
		"api_status":        apiStatus,
		"target_partitions": partitions,
		"partition_count":   len(partitions),
	})
}

type sourceAvailability struct {
	Configured    bool `json:"configured"`
	APIKeyPresent bool `json:"api_key_present"`
}

func (h *Handler) ingestionStatus(w http.ResponseWriter, r *http.Request) {
	status := make(map[models.Source]sourceAvailability, len(statusSources))
	for _, name := range statusSources {
		keyPresent := h.credentials[name]
		configured := keyPresent
		if src, ok := h.jobs.Source(name); ok {
			configured = src.IsEnabled()
		}
		status[name] = sourceAvailability{Configured: configured, APIKeyPresent: keyPresent}
	}

	writeJSON(w, http.StatusOK, status)
}

func (h *Handler) listMentions(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	filter := storage.MentionFilter{Source: models.Source(query.Get("source"))}

	if raw := query.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
			return
		}
		filter.Since = &since
	}

	limit, err := queryInt(r, "limit", defaultMentionsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if limit < 1 || limit > maxMentionsLimit {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and %d", maxMentionsLimit))
		return
	}
	filter.Limit = limit

	mentions, err := h.mentions.ListMentions(r.Context(), filter)
	if err != nil {
		logrus.Errorf("Error fetching mentions: %v", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Error fetching mentions: %v", err))
		return
	}

	for i := range mentions {
		mentions[i].Text = preview(mentions[i].Text)
	}

	var sourceFilter *string
	if filter.Source != "" {
		s := string(filter.Source)
		sourceFilter = &s
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"mentions":      mentions,
		"total_count":   len(mentions),
		"source_filter": sourceFilter,
		"limit":         limit,
	})
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	now := time.Now().UTC().Format(time.RFC3339)
	if err := h.mentions.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":    "unhealthy",
			"timestamp": now,
			"error":     err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"timestamp": now,
		"version":   version,
		"services": map[string]string{
			"database": "connected",
		},
	})
}

func (h *Handler) getMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(h.metrics.GetMetrics()))
}

// preview shortens text to mentionTextPreview characters plus an ellipsis
func preview(text *string) *string {
	if text == nil {
		return nil
	}
	runes := []rune(*text)
	if len(runes) <= mentionTextPreview {
		return text
	}
	short := string(runes[:mentionTextPreview]) + "..."
	return &short
}

// jobListLimit defaults only when the parameter is absent; an explicit
// limit must be positive.
func jobListLimit(r *http.Request) (int, error) {
	limit, err := queryInt(r, "limit", jobs.DefaultListLimit)
	if err != nil {
		return 0, err
	}
	if limit < 1 {
		return 0, errors.New("limit must be a positive integer")
	}
	return limit, nil
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return value, nil
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.Errorf("Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, map[string]string{"detail": detail})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logrus.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		}).Debug("Handled request")
	})
}
