package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/andresuchdata/autopo-forecast/internal/domain"
	"github.com/andresuchdata/autopo-forecast/internal/service"
)

type stubForecast struct {
	runErr     error
	triggerErr error
	reports    map[string]*domain.RunReport
	latest     *domain.RunReport
}

func (s *stubForecast) Run(ctx context.Context) (*domain.RunReport, error) {
	if s.runErr != nil && errors.Is(s.runErr, domain.ErrRunInProgress) {
		return nil, s.runErr
	}
	report := &domain.RunReport{RunID: "sync-run", Status: domain.RunStatusCompleted}
	if s.runErr != nil {
		report.Fail(s.runErr)
	}
	return report, s.runErr
}

func (s *stubForecast) Trigger(ctx context.Context) (string, error) {
	if s.triggerErr != nil {
		return "", s.triggerErr
	}
	return "bg-run", nil
}

func (s *stubForecast) Latest(ctx context.Context) (*domain.RunReport, error) {
	if s.latest == nil {
		return nil, service.ErrRunNotFound
	}
	return s.latest, nil
}

func (s *stubForecast) Get(ctx context.Context, runID string) (*domain.RunReport, error) {
	if r, ok := s.reports[runID]; ok {
		return r, nil
	}
	if runID == "broken" {
		return nil, errors.New("db down")
	}
	return nil, service.ErrRunNotFound
}

func serve(t *testing.T, svc *stubForecast, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := NewRouter(&Services{Forecast: svc}, []string{"*"})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestHealthAndMetrics(t *testing.T) {
	w := serve(t, &stubForecast{}, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())

	w = serve(t, &stubForecast{}, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "http_request_duration_seconds")
}

func TestStartRun(t *testing.T) {
	w := serve(t, &stubForecast{}, http.MethodPost, "/api/v1/forecast/runs")
	require.Equal(t, http.StatusAccepted, w.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "bg-run", body["run_id"])

	w = serve(t, &stubForecast{triggerErr: domain.ErrRunInProgress}, http.MethodPost, "/api/v1/forecast/runs")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = serve(t, &stubForecast{triggerErr: errors.New("redis down")}, http.MethodPost, "/api/v1/forecast/runs")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestStartRunWait(t *testing.T) {
	w := serve(t, &stubForecast{}, http.MethodPost, "/api/v1/forecast/runs?wait=true")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"run_id":"sync-run"`)
	assert.Contains(t, w.Body.String(), "Predictions and automations completed")

	w = serve(t, &stubForecast{runErr: domain.NewStageError(domain.StageTrain, domain.ErrTrainingFailed)}, http.MethodPost, "/api/v1/forecast/runs?wait=true")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.Contains(w.Body.String(), "Error: TrainingFailed failed at train"))

	w = serve(t, &stubForecast{runErr: domain.ErrRunInProgress}, http.MethodPost, "/api/v1/forecast/runs?wait=true")
	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestGetRuns(t *testing.T) {
	report := &domain.RunReport{RunID: "r1", Status: domain.RunStatusCompleted}
	svc := &stubForecast{reports: map[string]*domain.RunReport{"r1": report}, latest: report}

	w := serve(t, svc, http.MethodGet, "/api/v1/forecast/runs/latest")
	require.Equal(t, http.StatusOK, w.Code)
	var got domain.RunReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "r1", got.RunID)

	w = serve(t, svc, http.MethodGet, "/api/v1/forecast/runs/r1")
	assert.Equal(t, http.StatusOK, w.Code)

	w = serve(t, svc, http.MethodGet, "/api/v1/forecast/runs/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = serve(t, svc, http.MethodGet, "/api/v1/forecast/runs/broken")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	w = serve(t, &stubForecast{}, http.MethodGet, "/api/v1/forecast/runs/latest")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNormalizeAllowedOrigins(t *testing.T) {
	origins, all := normalizeAllowedOrigins([]string{"https://a.example, https://b.example", " "})
	assert.False(t, all)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, origins)

	_, all = normalizeAllowedOrigins([]string{"*"})
	assert.True(t, all)
}
