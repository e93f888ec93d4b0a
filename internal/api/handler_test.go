package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/narrativescanner/scanner/internal/ingestion"
	"github.com/narrativescanner/scanner/internal/jobs"
	"github.com/narrativescanner/scanner/internal/models"
	"github.com/narrativescanner/scanner/internal/sources"
	"github.com/narrativescanner/scanner/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockJobService is a mock implementation of JobService
type MockJobService struct {
	mock.Mock
	sources map[models.Source]sources.Source
}

func (m *MockJobService) Submit(ctx context.Context, source models.Source, req ingestion.CrawlRequest) (models.IngestionJob, error) {
	args := m.Called(ctx, source, req)
	return args.Get(0).(models.IngestionJob), args.Error(1)
}

func (m *MockJobService) Get(ctx context.Context, id string) (models.IngestionJob, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(models.IngestionJob), args.Error(1)
}

func (m *MockJobService) List(ctx context.Context, limit int) ([]models.IngestionJob, error) {
	args := m.Called(ctx, limit)
	return args.Get(0).([]models.IngestionJob), args.Error(1)
}

func (m *MockJobService) ListBySource(ctx context.Context, source models.Source, limit int) ([]models.IngestionJob, error) {
	args := m.Called(ctx, source, limit)
	return args.Get(0).([]models.IngestionJob), args.Error(1)
}

func (m *MockJobService) Source(name models.Source) (sources.Source, bool) {
	src, ok := m.sources[name]
	return src, ok
}

// MockMentionStore is a mock implementation of storage.MentionStore
type MockMentionStore struct {
	mock.Mock
}

func (m *MockMentionStore) SaveMention(ctx context.Context, mention models.Mention) (bool, error) {
	args := m.Called(ctx, mention)
	return args.Bool(0), args.Error(1)
}

func (m *MockMentionStore) ListMentions(ctx context.Context, filter storage.MentionFilter) ([]models.StoredMention, error) {
	args := m.Called(ctx, filter)
	return args.Get(0).([]models.StoredMention), args.Error(1)
}

func (m *MockMentionStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type staticMetrics string

func (s staticMetrics) GetMetrics() string { return string(s) }

type stubSource struct {
	name       models.Source
	enabled    bool
	partitions []string
	connErr    error
}

func (s stubSource) GetName() models.Source { return s.name }

func (s stubSource) IsEnabled() bool { return s.enabled }

func (s stubSource) DefaultPartitions() []string { return s.partitions }

func (s stubSource) ValidatePartition(string) error { return nil }

func (s stubSource) CheckConnection(context.Context) error { return s.connErr }

func (s stubSource) FetchPosts(context.Context, string, int) ([]sources.Item, error) {
	return nil, nil
}

func (s stubSource) FetchReplies(context.Context, sources.Item, int) ([]sources.Item, error) {
	return nil, nil
}

func newTestHandler() (*Handler, *MockJobService, *MockMentionStore) {
	jobService := &MockJobService{
		sources: map[models.Source]sources.Source{
			models.SourceReddit: stubSource{
				name:       models.SourceReddit,
				enabled:    true,
				partitions: []string{"solana", "memecoins"},
			},
			models.SourceHackerNews: stubSource{
				name:    models.SourceHackerNews,
				enabled: true,
				connErr: errors.New("dial tcp: timeout"),
			},
		},
	}
	store := &MockMentionStore{}
	credentials := map[models.Source]bool{
		models.SourceReddit:     true,
		models.SourceHackerNews: true,
		models.SourceTwitter:    true,
	}
	return NewHandler(jobService, store, staticMetrics(`{"total_mentions":3}`), credentials), jobService, store
}

func serve(h *Handler, method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.Router().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestSubmitCrawl(t *testing.T) {
	queued := models.IngestionJob{ID: "job-1", Source: models.SourceReddit, Status: models.JobQueued}

	tests := []struct {
		name       string
		source     string
		body       string
		setup      func(m *MockJobService)
		wantStatus int
	}{
		{
			name:   "empty body uses defaults",
			source: "reddit",
			setup: func(m *MockJobService) {
				m.On("Submit", mock.Anything, models.SourceReddit, ingestion.CrawlRequest{}).Return(queued, nil)
			},
			wantStatus: http.StatusAccepted,
		},
		{
			name:   "reddit field names",
			source: "reddit",
			body:   `{"subreddits":["solana"],"limit_per_subreddit":25}`,
			setup: func(m *MockJobService) {
				m.On("Submit", mock.Anything, models.SourceReddit,
					ingestion.CrawlRequest{Partitions: []string{"solana"}, LimitPerPartition: 25}).Return(queued, nil)
			},
			wantStatus: http.StatusAccepted,
		},
		{
			name:   "generic field names",
			source: "hackernews",
			body:   `{"partitions":["top"],"limit_per_partition":500}`,
			setup: func(m *MockJobService) {
				m.On("Submit", mock.Anything, models.SourceHackerNews,
					ingestion.CrawlRequest{Partitions: []string{"top"}, LimitPerPartition: 500}).Return(queued, nil)
			},
			wantStatus: http.StatusAccepted,
		},
		{
			name:       "limit too large",
			source:     "reddit",
			body:       `{"limit_per_subreddit":501}`,
			setup:      func(m *MockJobService) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "limit zero",
			source:     "reddit",
			body:       `{"limit_per_partition":0}`,
			setup:      func(m *MockJobService) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "malformed body",
			source:     "reddit",
			body:       `{"subreddits":`,
			setup:      func(m *MockJobService) {},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:   "malformed partition",
			source: "reddit",
			body:   `{"subreddits":["../api/v1/me?"]}`,
			setup: func(m *MockJobService) {
				m.On("Submit", mock.Anything, models.SourceReddit,
					ingestion.CrawlRequest{Partitions: []string{"../api/v1/me?"}}).
					Return(models.IngestionJob{}, fmt.Errorf("%w: %q is not a subreddit name", sources.ErrInvalidPartition, "../api/v1/me?"))
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:   "unknown source",
			source: "myspace",
			setup: func(m *MockJobService) {
				m.On("Submit", mock.Anything, models.Source("myspace"), mock.Anything).
					Return(models.IngestionJob{}, fmt.Errorf("%w: myspace", jobs.ErrUnknownSource))
			},
			wantStatus: http.StatusNotFound,
		},
		{
			name:   "source not configured",
			source: "reddit",
			setup: func(m *MockJobService) {
				m.On("Submit", mock.Anything, models.SourceReddit, mock.Anything).
					Return(models.IngestionJob{}, fmt.Errorf("%w: reddit", jobs.ErrSourceNotConfigured))
			},
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:   "registry failure",
			source: "reddit",
			setup: func(m *MockJobService) {
				m.On("Submit", mock.Anything, models.SourceReddit, mock.Anything).
					Return(models.IngestionJob{}, errors.New("redis down"))
			},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, jobService, _ := newTestHandler()
			tt.setup(jobService)

			rec := serve(h, http.MethodPost, "/ingest/"+tt.source, tt.body)
			assert.Equal(t, tt.wantStatus, rec.Code)

			body := decode(t, rec)
			if tt.wantStatus == http.StatusAccepted {
				assert.Equal(t, "job-1", body["job_id"])
				assert.Equal(t, "queued", body["status"])
				assert.Contains(t, body["message"], "/ingest/"+tt.source+"/jobs/job-1")
			} else {
				assert.NotEmpty(t, body["detail"])
			}
			jobService.AssertExpectations(t)
		})
	}
}

func TestGetJob(t *testing.T) {
	completed := time.Date(2024, 1, 1, 0, 5, 0, 0, time.UTC)
	job := models.IngestionJob{
		ID:            "job-1",
		Source:        models.SourceReddit,
		Status:        models.JobCompleted,
		MentionsCount: 7,
		Message:       "Successfully ingested 7 mentions from Reddit",
		StartedAt:     completed.Add(-5 * time.Minute),
		CompletedAt:   &completed,
	}

	h, jobService, _ := newTestHandler()
	jobService.On("Get", mock.Anything, "job-1").Return(job, nil)
	jobService.On("Get", mock.Anything, "missing").Return(models.IngestionJob{}, jobs.ErrJobNotFound)

	rec := serve(h, http.MethodGet, "/ingest/reddit/jobs/job-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "job-1", body["job_id"])
	assert.Equal(t, "completed", body["status"])
	assert.Equal(t, float64(7), body["mentions_count"])
	assert.Equal(t, "2024-01-01T00:05:00Z", body["completed_at"])

	rec = serve(h, http.MethodGet, "/ingest/reddit/jobs/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// a job is only visible under its own source
	rec = serve(h, http.MethodGet, "/ingest/hackernews/jobs/job-1", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListJobs(t *testing.T) {
	h, jobService, _ := newTestHandler()
	list := []models.IngestionJob{{ID: "a", Source: models.SourceReddit}, {ID: "b", Source: models.SourceReddit}}
	jobService.On("ListBySource", mock.Anything, models.SourceReddit, 10).Return(list, nil)
	jobService.On("ListBySource", mock.Anything, models.SourceReddit, 2).Return(list, nil)
	jobService.On("List", mock.Anything, 10).Return(list, nil)

	tests := []struct {
		name       string
		target     string
		wantStatus int
		wantTotal  float64
	}{
		{name: "source default limit", target: "/ingest/reddit/jobs", wantStatus: http.StatusOK, wantTotal: 2},
		{name: "source explicit limit", target: "/ingest/reddit/jobs?limit=2", wantStatus: http.StatusOK, wantTotal: 2},
		{name: "all sources", target: "/ingest/jobs", wantStatus: http.StatusOK, wantTotal: 2},
		{name: "bad limit", target: "/ingest/reddit/jobs?limit=ten", wantStatus: http.StatusBadRequest},
		{name: "zero limit", target: "/ingest/reddit/jobs?limit=0", wantStatus: http.StatusBadRequest},
		{name: "negative limit", target: "/ingest/jobs?limit=-3", wantStatus: http.StatusBadRequest},
		{name: "all sources zero limit", target: "/ingest/jobs?limit=0", wantStatus: http.StatusBadRequest},
		{name: "unknown source", target: "/ingest/myspace/jobs", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(h, http.MethodGet, tt.target, "")
			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				body := decode(t, rec)
				assert.Equal(t, tt.wantTotal, body["total"])
				assert.Len(t, body["jobs"], int(tt.wantTotal))
			}
		})
	}
}

func TestSourceStatus(t *testing.T) {
	h, _, _ := newTestHandler()

	rec := serve(h, http.MethodGet, "/ingest/reddit/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "configured", body["status"])
	assert.Equal(t, "connected", body["api_status"])
	assert.Equal(t, float64(2), body["partition_count"])
	assert.Equal(t, []interface{}{"solana", "memecoins"}, body["target_partitions"])

	rec = serve(h, http.MethodGet, "/ingest/hackernews/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "error: dial tcp: timeout", body["api_status"])
	assert.Equal(t, []interface{}{}, body["target_partitions"])

	rec = serve(h, http.MethodGet, "/ingest/telegram/status", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSourceStatus_NotConfiguredNeverCallsAPI(t *testing.T) {
	jobService := &MockJobService{sources: map[models.Source]sources.Source{
		models.SourceReddit: stubSource{name: models.SourceReddit, connErr: errors.New("must not be called")},
	}}
	h := NewHandler(jobService, &MockMentionStore{}, staticMetrics("{}"), nil)

	rec := serve(h, http.MethodGet, "/ingest/reddit/status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "not_configured", body["status"])
	assert.Equal(t, "not_configured", body["api_status"])
}

func TestIngestionStatus(t *testing.T) {
	h, _, _ := newTestHandler()

	rec := serve(h, http.MethodGet, "/ingest/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]sourceAvailability
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))

	assert.Equal(t, sourceAvailability{Configured: true, APIKeyPresent: true}, body["reddit"])
	assert.Equal(t, sourceAvailability{Configured: true, APIKeyPresent: true}, body["hackernews"])
	assert.Equal(t, sourceAvailability{Configured: false, APIKeyPresent: false}, body["telegram"])
	assert.Equal(t, sourceAvailability{Configured: true, APIKeyPresent: true}, body["twitter"])

	// booleans only, never credential values
	assert.NotContains(t, rec.Body.String(), "secret")
}

func TestListMentions(t *testing.T) {
	long := strings.Repeat("a", 250)
	short := "Buying $SOL"
	mentions := []models.StoredMention{
		{ID: 1, Source: models.SourceReddit, SourceID: "submission_1", Text: &long, Metrics: json.RawMessage(`{}`), Entities: models.NewEntities()},
		{ID: 2, Source: models.SourceReddit, SourceID: "comment_2", Text: &short, Metrics: json.RawMessage(`{}`), Entities: models.NewEntities()},
		{ID: 3, Source: models.SourceReddit, SourceID: "comment_3", Metrics: json.RawMessage(`{}`), Entities: models.NewEntities()},
	}
	since := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	h, _, store := newTestHandler()
	store.On("ListMentions", mock.Anything, storage.MentionFilter{Source: models.SourceReddit, Since: &since, Limit: 3}).
		Return(mentions, nil)
	store.On("ListMentions", mock.Anything, storage.MentionFilter{Limit: 100}).
		Return([]models.StoredMention{}, nil)

	rec := serve(h, http.MethodGet, "/mentions?source=reddit&since=2024-01-01T00:00:00Z&limit=3", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(3), body["total_count"])
	assert.Equal(t, "reddit", body["source_filter"])
	assert.Equal(t, float64(3), body["limit"])

	items := body["mentions"].([]interface{})
	first := items[0].(map[string]interface{})
	assert.Equal(t, strings.Repeat("a", 200)+"...", first["text"])
	assert.Equal(t, short, items[1].(map[string]interface{})["text"])
	assert.Nil(t, items[2].(map[string]interface{})["text"])

	rec = serve(h, http.MethodGet, "/mentions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body = decode(t, rec)
	assert.Nil(t, body["source_filter"])
	assert.Equal(t, float64(100), body["limit"])

	for _, target := range []string{"/mentions?since=yesterday", "/mentions?limit=0", "/mentions?limit=501"} {
		rec = serve(h, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
	}
}

func TestListMentions_StoreError(t *testing.T) {
	h, _, store := newTestHandler()
	store.On("ListMentions", mock.Anything, mock.Anything).Return([]models.StoredMention(nil), errors.New("boom"))

	rec := serve(h, http.MethodGet, "/mentions", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHealthCheck(t *testing.T) {
	h, _, store := newTestHandler()
	store.On("Ping", mock.Anything).Return(nil).Once()
	store.On("Ping", mock.Anything).Return(errors.New("connection refused")).Once()

	rec := serve(h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", decode(t, rec)["status"])

	rec = serve(h, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "unhealthy", body["status"])
	assert.Equal(t, "connection refused", body["error"])
}

func TestMetricsEndpoint(t *testing.T) {
	h, _, _ := newTestHandler()

	rec := serve(h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"total_mentions":3}`, rec.Body.String())
}

func TestPreview(t *testing.T) {
	assert.Nil(t, preview(nil))

	exact := strings.Repeat("é", 200)
	assert.Equal(t, exact, *preview(&exact))

	over := strings.Repeat("é", 201)
	assert.Equal(t, strings.Repeat("é", 200)+"...", *preview(&over))
}
